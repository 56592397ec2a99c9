package docker

import (
	"archive/tar"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockDockerClient struct {
	mock.Mock
}

func (m *mockDockerClient) ImageBuild(ctx context.Context, buildContext io.Reader, options build.ImageBuildOptions) (build.ImageBuildResponse, error) {
	args := m.Called(ctx, buildContext, options)
	return args.Get(0).(build.ImageBuildResponse), args.Error(1)
}

func (m *mockDockerClient) ImageInspect(ctx context.Context, imageID string, _ ...client.ImageInspectOption) (image.InspectResponse, error) {
	args := m.Called(ctx, imageID)
	return args.Get(0).(image.InspectResponse), args.Error(1)
}

func (m *mockDockerClient) ImageRemove(ctx context.Context, imageID string, options image.RemoveOptions) ([]image.DeleteResponse, error) {
	args := m.Called(ctx, imageID, options)
	var r0 []image.DeleteResponse
	if v := args.Get(0); v != nil {
		r0 = v.([]image.DeleteResponse)
	}
	return r0, args.Error(1)
}

// buildStream packs JSON progress messages the way the daemon streams them.
func buildStream(lines ...string) build.ImageBuildResponse {
	return build.ImageBuildResponse{
		Body: io.NopCloser(strings.NewReader(strings.Join(lines, "\n"))),
	}
}

func newTestBuilder(t *testing.T, mClient *mockDockerClient) *Builder {
	t.Helper()

	builder, err := NewBuilder(BuilderConfig{Client: mClient})
	require.NoError(t, err)
	return builder
}

func TestBuilderBuild(t *testing.T) {
	const (
		tag        = "gpurig/abc123def456"
		dockerfile = "FROM nvidia/cuda:12.4.1-cudnn-runtime-ubuntu22.04\nRUN pip install torch\n"
	)

	tests := map[string]struct {
		mock      func(m *mockDockerClient)
		expErr    bool
		expErrMsg string
	}{
		"Successful build should consume the stream to completion": {
			mock: func(m *mockDockerClient) {
				m.On("ImageBuild", mock.Anything, mock.Anything, mock.Anything).Once().Return(buildStream(
					`{"stream":"Step 1/2 : FROM nvidia/cuda:12.4.1-cudnn-runtime-ubuntu22.04\n"}`,
					`{"stream":"Successfully built 4a5c6d7e8f90\n"}`,
				), nil)
			},
		},

		"Failing build step should surface the daemon's message": {
			mock: func(m *mockDockerClient) {
				m.On("ImageBuild", mock.Anything, mock.Anything, mock.Anything).Once().Return(buildStream(
					`{"stream":"Step 2/2 : RUN pip install torch\n"}`,
					`{"errorDetail":{"message":"The command '/bin/sh -c pip install torch' returned a non-zero code: 1"},"error":"The command '/bin/sh -c pip install torch' returned a non-zero code: 1"}`,
				), nil)
			},
			expErr:    true,
			expErrMsg: "returned a non-zero code: 1",
		},

		"Daemon refusal should fail the build": {
			mock: func(m *mockDockerClient) {
				m.On("ImageBuild", mock.Anything, mock.Anything, mock.Anything).Once().
					Return(build.ImageBuildResponse{}, errors.New("no space left on device"))
			},
			expErr: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			mClient := &mockDockerClient{}
			tc.mock(mClient)

			builder := newTestBuilder(t, mClient)
			err := builder.Build(context.Background(), tag, dockerfile)

			if tc.expErr {
				require.Error(t, err)
				if tc.expErrMsg != "" {
					assert.Contains(t, err.Error(), tc.expErrMsg)
				}
			} else {
				require.NoError(t, err)
			}

			mClient.AssertExpectations(t)
		})
	}
}

func TestBuilderBuildContext(t *testing.T) {
	const dockerfile = "FROM nvidia/cuda:12.4.1-base-ubuntu22.04\n"

	var gotCtx io.Reader
	var gotOpts build.ImageBuildOptions
	mClient := &mockDockerClient{}
	mClient.On("ImageBuild", mock.Anything, mock.Anything, mock.Anything).Once().
		Run(func(args mock.Arguments) {
			gotCtx = args.Get(1).(io.Reader)
			gotOpts = args.Get(2).(build.ImageBuildOptions)
		}).
		Return(buildStream(`{"stream":"Successfully built 4a5c6d7e8f90\n"}`), nil)

	builder := newTestBuilder(t, mClient)
	err := builder.Build(context.Background(), "gpurig/abc123def456", dockerfile)
	require.NoError(t, err)

	assert.Equal(t, []string{"gpurig/abc123def456"}, gotOpts.Tags)
	assert.True(t, gotOpts.Remove)
	assert.True(t, gotOpts.ForceRemove)

	// The context tar must carry exactly one file, the Dockerfile itself.
	tr := tar.NewReader(gotCtx)
	hdr, err := tr.Next()
	require.NoError(t, err)
	assert.Equal(t, "Dockerfile", hdr.Name)
	content, err := io.ReadAll(tr)
	require.NoError(t, err)
	assert.Equal(t, dockerfile, string(content))
	_, err = tr.Next()
	assert.Equal(t, io.EOF, err)
}

func TestBuilderExists(t *testing.T) {
	tests := map[string]struct {
		mock      func(m *mockDockerClient)
		expExists bool
		expErr    bool
	}{
		"Present tag should report true": {
			mock: func(m *mockDockerClient) {
				m.On("ImageInspect", mock.Anything, "gpurig/abc123def456").Once().
					Return(image.InspectResponse{ID: "sha256:abc123"}, nil)
			},
			expExists: true,
		},

		"Missing tag should report false without an error": {
			mock: func(m *mockDockerClient) {
				m.On("ImageInspect", mock.Anything, "gpurig/abc123def456").Once().
					Return(image.InspectResponse{}, errors.New("Error response from daemon: No such image: gpurig/abc123def456"))
			},
		},

		"Unreachable daemon should report an error": {
			mock: func(m *mockDockerClient) {
				m.On("ImageInspect", mock.Anything, "gpurig/abc123def456").Once().
					Return(image.InspectResponse{}, errors.New("cannot connect to the Docker daemon"))
			},
			expErr: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			mClient := &mockDockerClient{}
			tc.mock(mClient)

			builder := newTestBuilder(t, mClient)
			exists, err := builder.Exists(context.Background(), "gpurig/abc123def456")

			if tc.expErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tc.expExists, exists)
			}

			mClient.AssertExpectations(t)
		})
	}
}

func TestBuilderRemove(t *testing.T) {
	tests := map[string]struct {
		mock   func(m *mockDockerClient)
		expErr bool
	}{
		"Present tag should be removed with children pruned": {
			mock: func(m *mockDockerClient) {
				m.On("ImageRemove", mock.Anything, "gpurig/abc123def456", image.RemoveOptions{PruneChildren: true}).Once().
					Return([]image.DeleteResponse{{Deleted: "sha256:abc123"}}, nil)
			},
		},

		"Already removed tag should not be an error": {
			mock: func(m *mockDockerClient) {
				m.On("ImageRemove", mock.Anything, "gpurig/abc123def456", mock.Anything).Once().
					Return(nil, errors.New("Error response from daemon: No such image: gpurig/abc123def456"))
			},
		},

		"Unreachable daemon should report an error": {
			mock: func(m *mockDockerClient) {
				m.On("ImageRemove", mock.Anything, "gpurig/abc123def456", mock.Anything).Once().
					Return(nil, errors.New("cannot connect to the Docker daemon"))
			},
			expErr: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			mClient := &mockDockerClient{}
			tc.mock(mClient)

			builder := newTestBuilder(t, mClient)
			err := builder.Remove(context.Background(), "gpurig/abc123def456")

			if tc.expErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}

			mClient.AssertExpectations(t)
		})
	}
}
