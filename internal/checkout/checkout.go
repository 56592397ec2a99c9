package checkout

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gpurig/gpurig/internal/conventions"
	"github.com/gpurig/gpurig/internal/log"
	"github.com/gpurig/gpurig/internal/model"
	"github.com/gpurig/gpurig/internal/sandbox"
	"github.com/gpurig/gpurig/internal/secrets"
)

const (
	keyFile    = "key"
	scriptFile = "clone.sh"

	// detailTail bounds how much checkout output lands in the error detail.
	detailTail = 2048
)

// ServiceConfig is the configuration of Service.
type ServiceConfig struct {
	Engine  sandbox.Engine
	DataDir string
	Logger  log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Engine == nil {
		return fmt.Errorf("engine is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data dir is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "checkout.Service"})

	return nil
}

// Service clones task sources into host workspaces. Each checkout runs in a
// disposable sandbox that gets the credential as a read-only mount and is
// gone before the task itself starts.
type Service struct {
	engine  sandbox.Engine
	dataDir string
	logger  log.Logger
}

// NewService creates a new checkout service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		engine:  cfg.Engine,
		dataDir: cfg.DataDir,
		logger:  cfg.Logger,
	}, nil
}

// Request is one checkout into a host workspace.
type Request struct {
	RunID  string
	Source model.SourceRef
	// Image must already be resolved, toolchain images all carry git and an
	// ssh client.
	Image model.ImageRef
	// WorkspaceDir is the host directory the repository lands in. It must
	// exist.
	WorkspaceDir string
	// Credential is consumed: it is destroyed before Checkout returns,
	// success or not. Nil for public sources.
	Credential  *secrets.Credential
	Timeout     time.Duration
	OutputLimit int64
}

// Validate validates the request.
func (r Request) Validate() error {
	if r.RunID == "" {
		return fmt.Errorf("run ID is required: %w", model.ErrNotValid)
	}
	if err := r.Source.Validate(); err != nil {
		return err
	}
	if r.Image.Tag == "" {
		return fmt.Errorf("image is required: %w", model.ErrNotValid)
	}
	if r.WorkspaceDir == "" {
		return fmt.Errorf("workspace dir is required: %w", model.ErrNotValid)
	}
	return nil
}

// Checkout clones the request's source into the workspace. Failures caused by
// the repository or credential come back as *model.CheckoutError, anything
// else is an infrastructure problem. There is no retrying here, the caller
// owns that policy.
func (s *Service) Checkout(ctx context.Context, req Request) (err error) {
	// The credential never outlives a single attempt.
	if req.Credential != nil {
		defer req.Credential.Destroy()
	}

	if err := req.Validate(); err != nil {
		return err
	}

	stagingDir := filepath.Join(conventions.StagingPath(s.dataDir, req.RunID), "checkout")
	if err := os.MkdirAll(stagingDir, 0o700); err != nil {
		return fmt.Errorf("could not create checkout staging dir: %w", err)
	}
	defer func() {
		if werr := secrets.WipeFile(filepath.Join(stagingDir, keyFile)); werr != nil {
			s.logger.Errorf("Could not wipe staged checkout key: %s", werr)
		}
		if rerr := os.RemoveAll(stagingDir); rerr != nil {
			s.logger.Warningf("Could not remove checkout staging dir: %s", rerr)
		}
	}()

	env := map[string]string{
		"GIT_TERMINAL_PROMPT": "0",
	}
	if req.Credential != nil {
		keyPath := filepath.Join(stagingDir, keyFile)
		if err := os.WriteFile(keyPath, req.Credential.Bytes(), 0o600); err != nil {
			return fmt.Errorf("could not stage checkout key: %w", err)
		}
		env["GIT_SSH_COMMAND"] = fmt.Sprintf(
			"ssh -i %s -o IdentitiesOnly=yes -o StrictHostKeyChecking=accept-new",
			path.Join(conventions.SandboxCheckoutKeyDir, keyFile),
		)
	}

	script := cloneScript(req.Source)
	if err := os.WriteFile(filepath.Join(stagingDir, scriptFile), []byte(script), 0o700); err != nil {
		return fmt.Errorf("could not stage checkout script: %w", err)
	}

	s.logger.Infof("Checking out %s (ref %q) for run %s", req.Source.RepoURL, req.Source.Ref, req.RunID)

	result, err := s.engine.Run(ctx, sandbox.RunRequest{
		RunID: req.RunID,
		Step:  "checkout",
		Spec: model.SandboxSpec{
			Image: req.Image,
			Mounts: []model.Mount{
				{Source: req.WorkspaceDir, Target: conventions.SandboxWorkspaceDir},
				{Source: stagingDir, Target: conventions.SandboxCheckoutKeyDir, ReadOnly: true},
			},
			Env: env,
		},
		Command:     []string{"/bin/sh", path.Join(conventions.SandboxCheckoutKeyDir, scriptFile)},
		Timeout:     req.Timeout,
		OutputLimit: req.OutputLimit,
	})
	if err != nil {
		return fmt.Errorf("could not run checkout sandbox: %w", err)
	}

	switch result.Outcome {
	case model.OutcomeSucceeded:
		return nil
	case model.OutcomeTimedOut:
		return &model.CheckoutError{Reason: model.CheckoutReasonNetwork, Detail: "checkout timed out"}
	default:
		cerr := classify(result.Output)
		s.logger.Warningf("Checkout failed (%s) for run %s", cerr.Reason, req.RunID)
		return cerr
	}
}

// cloneScript builds the in-sandbox clone script. The source fields are
// quoted, they come from the registry and from user files.
func cloneScript(src model.SourceRef) string {
	commands := []string{}

	clone := fmt.Sprintf("git clone --recurse-submodules -- %q %s", src.RepoURL, conventions.SandboxWorkspaceDir)
	if src.Ref != "" {
		clone = fmt.Sprintf("git clone --recurse-submodules --branch %q -- %q %s", src.Ref, src.RepoURL, conventions.SandboxWorkspaceDir)
	}
	commands = append(commands, clone)
	commands = append(commands, "cd "+conventions.SandboxWorkspaceDir)

	if src.Commit != "" {
		commands = append(commands, fmt.Sprintf("git checkout --detach %q", src.Commit))
		commands = append(commands, "git submodule update --init --recursive")
	}

	return sandbox.Script(commands, false)
}

// classify maps checkout output to a failure reason. Git talks to humans, the
// patterns below hold for the transports we support (ssh and https).
func classify(output []byte) *model.CheckoutError {
	out := string(output)

	reason := model.CheckoutReasonUnknown
	switch {
	case containsAny(out,
		"Permission denied (publickey",
		"Authentication failed",
		"could not read Username",
		"Repository not found",
		"does not exist or you do not have",
	):
		reason = model.CheckoutReasonAuth
	case containsAny(out,
		"Remote branch",
		"not found in upstream",
		"unknown revision or path not in the working tree",
		"did not match any file(s) known to git",
		"reference is not a tree",
		"pathspec",
	):
		reason = model.CheckoutReasonBadRef
	case containsAny(out,
		"Could not resolve host",
		"Connection timed out",
		"Connection refused",
		"Connection reset",
		"early EOF",
		"The remote end hung up",
		"RPC failed",
		"Network is unreachable",
	):
		reason = model.CheckoutReasonNetwork
	}

	return &model.CheckoutError{Reason: reason, Detail: tail(out, detailTail)}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
