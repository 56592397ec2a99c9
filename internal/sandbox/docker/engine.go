package docker

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/system"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/hashicorp/go-multierror"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/gpurig/gpurig/internal/conventions"
	"github.com/gpurig/gpurig/internal/log"
	"github.com/gpurig/gpurig/internal/model"
	"github.com/gpurig/gpurig/internal/sandbox"
)

const (
	// stopTimeoutSeconds is the graceful stop window before Docker kills the
	// container.
	stopTimeoutSeconds = 10
	// cleanupTimeout bounds stop and remove calls that run with a detached
	// context after the step finished or was cancelled.
	cleanupTimeout = 30 * time.Second

	labelRunID = "gpurig.run_id"
	labelStep  = "gpurig.step"
)

// DockerClient is the interface for Docker operations that we use.
// This allows us to mock the Docker client for testing.
type DockerClient interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	Ping(ctx context.Context) (types.Ping, error)
	Info(ctx context.Context) (system.Info, error)
}

// EngineConfig is the configuration for the Docker engine.
type EngineConfig struct {
	Client DockerClient
	Logger log.Logger
}

func (c *EngineConfig) defaults() error {
	if c.Client == nil {
		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return fmt.Errorf("could not create Docker client: %w", err)
		}
		c.Client = cli
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "engine.Docker"})
	return nil
}

// Engine is the Docker implementation of the sandbox.Engine interface. Each
// step runs in a fresh container that is force removed when the step ends,
// whatever way it ends.
type Engine struct {
	client DockerClient
	logger log.Logger
}

// NewEngine creates a new Docker engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Engine{
		client: cfg.Client,
		logger: cfg.Logger,
	}, nil
}

// Run executes a step in a fresh container and removes the container before
// returning.
func (e *Engine) Run(ctx context.Context, req sandbox.RunRequest) (_ *model.ExecutionResult, err error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	name := conventions.ContainerName(req.Step, req.RunID)
	logger := e.logger.WithValues(log.Kv{"container": name})

	resp, err := e.client.ContainerCreate(ctx, containerConfig(req), hostConfig(req), nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("could not create container: %w", err)
	}
	containerID := resp.ID

	defer func() {
		rerr := e.removeContainer(containerID)
		if rerr == nil {
			return
		}
		if err != nil {
			err = multierror.Append(err, rerr)
			return
		}
		logger.Warningf("Could not remove container: %s", rerr)
	}()

	start := time.Now()
	if err := e.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("could not start container: %w", err)
	}

	logger.Debugf("Started container with image %s", req.Spec.Image.Tag)

	waitCh, errCh := e.client.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)

	var timeoutCh <-chan time.Time
	if req.Timeout > 0 {
		timer := time.NewTimer(req.Timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	timedOut := false
	var status container.WaitResponse
	select {
	case status = <-waitCh:
	case werr := <-errCh:
		return nil, fmt.Errorf("waiting for container: %w", werr)
	case <-timeoutCh:
		timedOut = true
		logger.Warningf("Step %s timed out after %s, stopping container", req.Step, req.Timeout)
		status, err = e.stopAndWait(waitCh, errCh, containerID)
		if err != nil {
			return nil, err
		}
	case <-ctx.Done():
		// Aborted from above. Tear down and surface the cancellation so the
		// caller can tell it apart from a task timeout.
		_, _ = e.stopAndWait(waitCh, errCh, containerID)
		return nil, ctx.Err()
	}
	duration := time.Since(start)

	if status.Error != nil {
		return nil, fmt.Errorf("container wait failed: %s", status.Error.Message)
	}

	output := sandbox.NewOutputBuffer(req.OutputLimit)
	if err := e.collectLogs(ctx, containerID, output); err != nil {
		logger.Warningf("Could not collect container logs: %s", err)
	}

	result := &model.ExecutionResult{
		ExitCode:        int(status.StatusCode),
		Output:          output.Bytes(),
		OutputTruncated: output.Truncated(),
		Duration:        duration,
	}
	switch {
	case timedOut:
		result.Outcome = model.OutcomeTimedOut
	case status.StatusCode == 0:
		result.Outcome = model.OutcomeSucceeded
	default:
		result.Outcome = model.OutcomeFailed
	}

	logger.Debugf("Step %s finished: %s (exit %d, %s)", req.Step, result.Outcome, result.ExitCode, duration.Round(time.Millisecond))

	return result, nil
}

// Check performs preflight checks against the Docker daemon.
func (e *Engine) Check(ctx context.Context) []model.CheckResult {
	var results []model.CheckResult

	if _, err := e.client.Ping(ctx); err != nil {
		results = append(results, model.CheckResult{
			ID:      "docker_daemon",
			Status:  model.CheckStatusError,
			Message: fmt.Sprintf("Docker daemon not reachable: %s", err),
		})
		return results
	}
	results = append(results, model.CheckResult{
		ID:      "docker_daemon",
		Status:  model.CheckStatusOK,
		Message: "Docker daemon reachable",
	})

	info, err := e.client.Info(ctx)
	if err != nil {
		results = append(results, model.CheckResult{
			ID:      "nvidia_runtime",
			Status:  model.CheckStatusWarning,
			Message: fmt.Sprintf("Could not read daemon info: %s", err),
		})
		return results
	}

	if _, ok := info.Runtimes["nvidia"]; ok {
		results = append(results, model.CheckResult{
			ID:      "nvidia_runtime",
			Status:  model.CheckStatusOK,
			Message: "NVIDIA container runtime installed",
		})
	} else {
		results = append(results, model.CheckResult{
			ID:      "nvidia_runtime",
			Status:  model.CheckStatusWarning,
			Message: "NVIDIA container runtime not found, GPU tasks will fail",
		})
	}

	return results
}

func containerConfig(req sandbox.RunRequest) *container.Config {
	env := make([]string, 0, len(req.Spec.Env))
	for k, v := range req.Spec.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(env)

	return &container.Config{
		Image:      req.Spec.Image.Tag,
		Cmd:        req.Command,
		Env:        env,
		WorkingDir: req.Spec.WorkDir,
		Labels: map[string]string{
			labelRunID: req.RunID,
			labelStep:  req.Step,
		},
	}
}

func hostConfig(req sandbox.RunRequest) *container.HostConfig {
	mounts := make([]mount.Mount, 0, len(req.Spec.Mounts))
	for _, m := range req.Spec.Mounts {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	cfg := &container.HostConfig{Mounts: mounts}

	if len(req.Spec.GPUs) > 0 {
		ids := make([]string, 0, len(req.Spec.GPUs))
		for _, g := range req.Spec.GPUs {
			ids = append(ids, strconv.Itoa(g.Index))
		}
		cfg.Resources.DeviceRequests = []container.DeviceRequest{{
			Driver:       "nvidia",
			DeviceIDs:    ids,
			Capabilities: [][]string{{"gpu"}},
		}}
	}

	return cfg
}

// stopAndWait stops the container and waits for its final state. It runs with
// a detached context, the caller's context may already be cancelled.
func (e *Engine) stopAndWait(waitCh <-chan container.WaitResponse, errCh <-chan error, containerID string) (container.WaitResponse, error) {
	stopCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	timeout := stopTimeoutSeconds
	if err := e.client.ContainerStop(stopCtx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		if !strings.Contains(err.Error(), "is not running") && !strings.Contains(err.Error(), "No such container") {
			return container.WaitResponse{}, fmt.Errorf("could not stop container: %w", err)
		}
	}

	select {
	case status := <-waitCh:
		return status, nil
	case werr := <-errCh:
		return container.WaitResponse{}, fmt.Errorf("waiting for stopped container: %w", werr)
	case <-stopCtx.Done():
		return container.WaitResponse{}, fmt.Errorf("container did not stop in time")
	}
}

func (e *Engine) removeContainer(containerID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	err := e.client.ContainerRemove(ctx, containerID, container.RemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	})
	if err != nil && !strings.Contains(err.Error(), "No such container") {
		return fmt.Errorf("could not remove container: %w", err)
	}
	return nil
}

func (e *Engine) collectLogs(ctx context.Context, containerID string, w io.Writer) error {
	rc, err := e.client.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return fmt.Errorf("could not get container logs: %w", err)
	}
	defer rc.Close()

	// Non TTY logs arrive multiplexed, demux both streams into the buffer.
	if _, err := stdcopy.StdCopy(w, w, rc); err != nil {
		return fmt.Errorf("could not demux container logs: %w", err)
	}

	return nil
}
