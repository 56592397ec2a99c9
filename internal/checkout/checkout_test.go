package checkout_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/gpurig/gpurig/internal/checkout"
	"github.com/gpurig/gpurig/internal/model"
	"github.com/gpurig/gpurig/internal/sandbox"
	"github.com/gpurig/gpurig/internal/sandbox/sandboxmock"
	"github.com/gpurig/gpurig/internal/secrets"
)

const testRunID = "01JC5S3HJ8F4V0WYSR0ZD4K5Q2"

func testRequest(workspace string) checkout.Request {
	return checkout.Request{
		RunID:        testRunID,
		Source:       model.SourceRef{RepoURL: "git@example.com:org/repo.git", Ref: "main"},
		Image:        model.ImageRef{Tag: "gpurig/abc123def456"},
		WorkspaceDir: workspace,
		Timeout:      time.Minute,
	}
}

func TestNewService(t *testing.T) {
	tests := map[string]struct {
		config func() checkout.ServiceConfig
		expErr bool
	}{
		"An engine is required.": {
			config: func() checkout.ServiceConfig {
				return checkout.ServiceConfig{DataDir: "/data"}
			},
			expErr: true,
		},

		"A data dir is required.": {
			config: func() checkout.ServiceConfig {
				return checkout.ServiceConfig{Engine: &sandboxmock.MockEngine{}}
			},
			expErr: true,
		},

		"A correct config should create the service.": {
			config: func() checkout.ServiceConfig {
				return checkout.ServiceConfig{Engine: &sandboxmock.MockEngine{}, DataDir: "/data"}
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			_, err := checkout.NewService(test.config())

			if test.expErr {
				assert.Error(err)
			} else {
				assert.NoError(err)
			}
		})
	}
}

func TestServiceCheckoutClassification(t *testing.T) {
	tests := map[string]struct {
		result       *model.ExecutionResult
		expReason    model.CheckoutReason
		expTransient bool
	}{
		"A rejected ssh key should be an auth failure.": {
			result: &model.ExecutionResult{
				Outcome:  model.OutcomeFailed,
				ExitCode: 128,
				Output:   []byte("git@example.com: Permission denied (publickey,password).\nfatal: Could not read from remote repository."),
			},
			expReason: model.CheckoutReasonAuth,
		},

		"A hidden or missing repository should be an auth failure.": {
			result: &model.ExecutionResult{
				Outcome:  model.OutcomeFailed,
				ExitCode: 128,
				Output:   []byte("ERROR: Repository not found.\nfatal: Could not read from remote repository."),
			},
			expReason: model.CheckoutReasonAuth,
		},

		"A missing branch should be a bad ref failure.": {
			result: &model.ExecutionResult{
				Outcome:  model.OutcomeFailed,
				ExitCode: 128,
				Output:   []byte("fatal: Remote branch gone-branch not found in upstream origin"),
			},
			expReason: model.CheckoutReasonBadRef,
		},

		"A missing commit should be a bad ref failure.": {
			result: &model.ExecutionResult{
				Outcome:  model.OutcomeFailed,
				ExitCode: 1,
				Output:   []byte("fatal: reference is not a tree: deadbeef"),
			},
			expReason: model.CheckoutReasonBadRef,
		},

		"An unresolvable host should be a transient network failure.": {
			result: &model.ExecutionResult{
				Outcome:  model.OutcomeFailed,
				ExitCode: 128,
				Output:   []byte("ssh: Could not resolve host: example.com\nfatal: Could not read from remote repository."),
			},
			expReason:    model.CheckoutReasonNetwork,
			expTransient: true,
		},

		"A dropped connection should be a transient network failure.": {
			result: &model.ExecutionResult{
				Outcome:  model.OutcomeFailed,
				ExitCode: 128,
				Output:   []byte("fetch-pack: unexpected disconnect while reading sideband packet\nfatal: early EOF"),
			},
			expReason:    model.CheckoutReasonNetwork,
			expTransient: true,
		},

		"Unrecognized git output should be a transient unknown failure.": {
			result: &model.ExecutionResult{
				Outcome:  model.OutcomeFailed,
				ExitCode: 1,
				Output:   []byte("fatal: the remote said something we have never seen"),
			},
			expReason:    model.CheckoutReasonUnknown,
			expTransient: true,
		},

		"A timed out checkout should be a transient network failure.": {
			result: &model.ExecutionResult{
				Outcome:  model.OutcomeTimedOut,
				ExitCode: 137,
			},
			expReason:    model.CheckoutReasonNetwork,
			expTransient: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			me := &sandboxmock.MockEngine{}
			me.On("Run", mock.Anything, mock.Anything).Once().Return(test.result, nil)

			svc, err := checkout.NewService(checkout.ServiceConfig{Engine: me, DataDir: t.TempDir()})
			require.NoError(err)

			err = svc.Checkout(context.TODO(), testRequest(t.TempDir()))

			var cerr *model.CheckoutError
			require.ErrorAs(err, &cerr)
			assert.Equal(test.expReason, cerr.Reason)
			assert.Equal(test.expTransient, cerr.Transient())
			me.AssertExpectations(t)
		})
	}
}

func TestServiceCheckout(t *testing.T) {
	t.Run("A successful checkout should stage a clone script, run it sandboxed and clean up after itself.", func(t *testing.T) {
		assert := assert.New(t)
		require := require.New(t)

		dataDir := t.TempDir()
		workspace := t.TempDir()
		stagingDir := filepath.Join(dataDir, "staging", testRunID, "checkout")

		expScript := fmt.Sprintf("#!/bin/sh\nset -eux\ngit clone --recurse-submodules --branch %q -- %q /workspace\ncd /workspace\ngit checkout --detach %q\ngit submodule update --init --recursive\n",
			"main", "git@example.com:org/repo.git", "f00dcafe")

		var got sandbox.RunRequest
		me := &sandboxmock.MockEngine{}
		me.On("Run", mock.Anything, mock.Anything).Once().
			Run(func(args mock.Arguments) {
				got = args.Get(1).(sandbox.RunRequest)
				// The staged script must be in place while the sandbox runs.
				script, err := os.ReadFile(filepath.Join(stagingDir, "clone.sh"))
				require.NoError(err)
				assert.Equal(expScript, string(script))
			}).
			Return(&model.ExecutionResult{Outcome: model.OutcomeSucceeded}, nil)

		svc, err := checkout.NewService(checkout.ServiceConfig{Engine: me, DataDir: dataDir})
		require.NoError(err)

		req := testRequest(workspace)
		req.Source.Commit = "f00dcafe"
		err = svc.Checkout(context.TODO(), req)
		require.NoError(err)

		assert.Equal(testRunID, got.RunID)
		assert.Equal("checkout", got.Step)
		assert.Equal([]string{"/bin/sh", "/run/checkout/clone.sh"}, got.Command)
		assert.Equal(time.Minute, got.Timeout)
		assert.Equal([]model.Mount{
			{Source: workspace, Target: "/workspace"},
			{Source: stagingDir, Target: "/run/checkout", ReadOnly: true},
		}, got.Spec.Mounts)
		assert.Equal(map[string]string{"GIT_TERMINAL_PROMPT": "0"}, got.Spec.Env)

		_, err = os.Stat(stagingDir)
		assert.True(os.IsNotExist(err))
		me.AssertExpectations(t)
	})

	t.Run("A checkout without a pinned ref should clone the default branch.", func(t *testing.T) {
		assert := assert.New(t)
		require := require.New(t)

		dataDir := t.TempDir()
		stagingDir := filepath.Join(dataDir, "staging", testRunID, "checkout")

		me := &sandboxmock.MockEngine{}
		me.On("Run", mock.Anything, mock.Anything).Once().
			Run(func(args mock.Arguments) {
				script, err := os.ReadFile(filepath.Join(stagingDir, "clone.sh"))
				require.NoError(err)
				assert.Equal("#!/bin/sh\nset -eux\ngit clone --recurse-submodules -- \"git@example.com:org/repo.git\" /workspace\ncd /workspace\n", string(script))
			}).
			Return(&model.ExecutionResult{Outcome: model.OutcomeSucceeded}, nil)

		svc, err := checkout.NewService(checkout.ServiceConfig{Engine: me, DataDir: dataDir})
		require.NoError(err)

		req := testRequest(t.TempDir())
		req.Source.Ref = ""
		err = svc.Checkout(context.TODO(), req)
		require.NoError(err)
		me.AssertExpectations(t)
	})

	t.Run("A checkout with a credential should stage the key privately and destroy it afterwards.", func(t *testing.T) {
		assert := assert.New(t)
		require := require.New(t)

		dataDir := t.TempDir()
		stagingDir := filepath.Join(dataDir, "staging", testRunID, "checkout")
		cred := secrets.NewCredential("deploy-key", []byte("private key material"))

		var got sandbox.RunRequest
		me := &sandboxmock.MockEngine{}
		me.On("Run", mock.Anything, mock.Anything).Once().
			Run(func(args mock.Arguments) {
				got = args.Get(1).(sandbox.RunRequest)
				keyPath := filepath.Join(stagingDir, "key")
				info, err := os.Stat(keyPath)
				require.NoError(err)
				assert.Equal(os.FileMode(0o600), info.Mode().Perm())
				data, err := os.ReadFile(keyPath)
				require.NoError(err)
				assert.Equal("private key material", string(data))
			}).
			Return(&model.ExecutionResult{Outcome: model.OutcomeSucceeded}, nil)

		svc, err := checkout.NewService(checkout.ServiceConfig{Engine: me, DataDir: dataDir})
		require.NoError(err)

		req := testRequest(t.TempDir())
		req.Credential = cred
		err = svc.Checkout(context.TODO(), req)
		require.NoError(err)

		assert.Equal("ssh -i /run/checkout/key -o IdentitiesOnly=yes -o StrictHostKeyChecking=accept-new", got.Spec.Env["GIT_SSH_COMMAND"])
		assert.Equal("0", got.Spec.Env["GIT_TERMINAL_PROMPT"])
		assert.True(cred.Destroyed())

		_, err = os.Stat(filepath.Join(stagingDir, "key"))
		assert.True(os.IsNotExist(err))
		me.AssertExpectations(t)
	})

	t.Run("An engine failure should surface as an infrastructure error and still destroy the credential.", func(t *testing.T) {
		assert := assert.New(t)
		require := require.New(t)

		cred := secrets.NewCredential("deploy-key", []byte("private key material"))

		me := &sandboxmock.MockEngine{}
		me.On("Run", mock.Anything, mock.Anything).Once().Return(nil, errors.New("daemon is gone"))

		svc, err := checkout.NewService(checkout.ServiceConfig{Engine: me, DataDir: t.TempDir()})
		require.NoError(err)

		req := testRequest(t.TempDir())
		req.Credential = cred
		err = svc.Checkout(context.TODO(), req)

		require.Error(err)
		var cerr *model.CheckoutError
		assert.False(errors.As(err, &cerr))
		assert.Contains(err.Error(), "could not run checkout sandbox")
		assert.True(cred.Destroyed())
		me.AssertExpectations(t)
	})

	t.Run("An invalid request should fail without touching the engine.", func(t *testing.T) {
		assert := assert.New(t)
		require := require.New(t)

		cred := secrets.NewCredential("deploy-key", []byte("private key material"))

		me := &sandboxmock.MockEngine{}

		svc, err := checkout.NewService(checkout.ServiceConfig{Engine: me, DataDir: t.TempDir()})
		require.NoError(err)

		req := testRequest(t.TempDir())
		req.Source.RepoURL = ""
		req.Credential = cred
		err = svc.Checkout(context.TODO(), req)

		assert.ErrorIs(err, model.ErrNotValid)
		assert.True(cred.Destroyed())
		me.AssertExpectations(t)
	})
}
