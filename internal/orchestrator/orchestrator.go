// Package orchestrator drives a task through its full lifecycle: admission,
// image resolution, workspace checkout, sandboxed execution, result reporting
// and cleanup. One Runner serves the whole daemon; every task run is an
// independent call.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/gpurig/gpurig/internal/checkout"
	"github.com/gpurig/gpurig/internal/conventions"
	"github.com/gpurig/gpurig/internal/image"
	"github.com/gpurig/gpurig/internal/log"
	"github.com/gpurig/gpurig/internal/metrics"
	"github.com/gpurig/gpurig/internal/model"
	"github.com/gpurig/gpurig/internal/registry"
	"github.com/gpurig/gpurig/internal/sandbox"
	"github.com/gpurig/gpurig/internal/scheduler"
	"github.com/gpurig/gpurig/internal/secrets"
	"github.com/gpurig/gpurig/internal/storage"
)

const (
	scriptFile = "run.sh"

	defaultMaxAttempts      = 3
	defaultRetryBackoff     = 500 * time.Millisecond
	defaultReportAttempts   = 5
	defaultReportBackoff    = 500 * time.Millisecond
	defaultReportBackoffCap = 30 * time.Second
	defaultCheckoutTimeout  = 10 * time.Minute
)

// TaskRunner executes one task through its full lifecycle.
type TaskRunner interface {
	Run(ctx context.Context, task model.Task, opts RunOptions) (*model.TaskRun, error)
}

// RunnerConfig is the configuration of Runner.
type RunnerConfig struct {
	Scheduler   *scheduler.Scheduler
	Resolver    image.Resolver
	Checkout    *checkout.Service
	Engine      sandbox.Engine
	Credentials *secrets.Store
	Repository  storage.RunRepository
	// Reporter is optional. Without one results stay in local history and the
	// run is never marked reported.
	Reporter registry.Client
	Metrics  metrics.Recorder
	Logger   log.Logger

	DataDir string

	// MaxAttempts bounds how often a run is attempted when it fails on
	// infrastructure or transient checkout errors. Task code outcomes are
	// never retried.
	MaxAttempts int
	// RetryBackoff is the wait before the second attempt, doubling per retry.
	RetryBackoff time.Duration
	// ReportAttempts bounds report deliveries while the registry is
	// unavailable.
	ReportAttempts int
	// ReportBackoff is the wait before the second delivery, doubling per
	// retry up to ReportBackoffCap.
	ReportBackoff    time.Duration
	ReportBackoffCap time.Duration
	// CheckoutTimeout bounds the checkout pre-step, separate from the task's
	// own timeout.
	CheckoutTimeout time.Duration
	// OutputLimit bounds captured output per sandboxed step.
	OutputLimit int64
}

func (c *RunnerConfig) defaults() error {
	if c.Scheduler == nil {
		return fmt.Errorf("scheduler is required")
	}
	if c.Resolver == nil {
		return fmt.Errorf("image resolver is required")
	}
	if c.Checkout == nil {
		return fmt.Errorf("checkout service is required")
	}
	if c.Engine == nil {
		return fmt.Errorf("engine is required")
	}
	if c.Credentials == nil {
		return fmt.Errorf("credential store is required")
	}
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data dir is required")
	}
	if c.Metrics == nil {
		c.Metrics = metrics.Noop
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "orchestrator.Runner"})

	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = defaultRetryBackoff
	}
	if c.ReportAttempts <= 0 {
		c.ReportAttempts = defaultReportAttempts
	}
	if c.ReportBackoff <= 0 {
		c.ReportBackoff = defaultReportBackoff
	}
	if c.ReportBackoffCap <= 0 {
		c.ReportBackoffCap = defaultReportBackoffCap
	}
	if c.CheckoutTimeout <= 0 {
		c.CheckoutTimeout = defaultCheckoutTimeout
	}
	if c.OutputLimit <= 0 {
		c.OutputLimit = sandbox.DefaultOutputLimit
	}

	return nil
}

// Runner owns the task lifecycle state machine. Phases move strictly forward
// within one attempt; a retry starts a fresh attempt from the admitted phase
// while the admission slot stays held. The slot is released exactly once,
// always before result reporting starts, so an unreachable registry never
// starves capacity.
type Runner struct {
	scheduler   *scheduler.Scheduler
	resolver    image.Resolver
	checkout    *checkout.Service
	engine      sandbox.Engine
	credentials *secrets.Store
	repo        storage.RunRepository
	reporter    registry.Client
	metrics     metrics.Recorder
	logger      log.Logger

	dataDir string

	maxAttempts      int
	retryBackoff     time.Duration
	reportAttempts   int
	reportBackoff    time.Duration
	reportBackoffCap time.Duration
	checkoutTimeout  time.Duration
	outputLimit      int64
}

// NewRunner creates a new task runner.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Runner{
		scheduler:        cfg.Scheduler,
		resolver:         cfg.Resolver,
		checkout:         cfg.Checkout,
		engine:           cfg.Engine,
		credentials:      cfg.Credentials,
		repo:             cfg.Repository,
		reporter:         cfg.Reporter,
		metrics:          cfg.Metrics,
		logger:           cfg.Logger,
		dataDir:          cfg.DataDir,
		maxAttempts:      cfg.MaxAttempts,
		retryBackoff:     cfg.RetryBackoff,
		reportAttempts:   cfg.ReportAttempts,
		reportBackoff:    cfg.ReportBackoff,
		reportBackoffCap: cfg.ReportBackoffCap,
		checkoutTimeout:  cfg.CheckoutTimeout,
		outputLimit:      cfg.OutputLimit,
	}, nil
}

// RunOptions tweak a single run.
type RunOptions struct {
	// Workspace runs the task against an existing host directory instead of a
	// freshly cloned one. The checkout step is skipped and the directory is
	// left untouched after the run.
	Workspace string
	// KeepWorkspace leaves the run's own workspace on disk for inspection.
	KeepWorkspace bool
}

// verdict is what the attempt loop settles on.
type verdict struct {
	outcome model.Outcome
	// result is set when a sandbox execution produced the outcome.
	result *model.ExecutionResult
	// err carries the failure detail for non task-code outcomes.
	err error
}

// Run executes one task to a terminal outcome and returns its run record.
// Task outcomes, including failures of the task's own code, come back in the
// record; the returned error is reserved for runs the orchestrator could not
// start at all.
func (r *Runner) Run(ctx context.Context, task model.Task, opts RunOptions) (*model.TaskRun, error) {
	if err := task.Validate(); err != nil {
		return nil, err
	}

	run := &model.TaskRun{
		ID:        ulid.Make().String(),
		TaskID:    task.ID,
		TaskName:  task.Name,
		Toolchain: task.Toolchain,
		Phase:     model.PhasePending,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.repo.CreateRun(ctx, *run); err != nil {
		return nil, fmt.Errorf("could not persist run: %w", err)
	}

	logger := r.logger.WithValues(log.Kv{"run": run.ID, "task": task.ID})
	logger.Infof("Run accepted for task %q (%d gpu units)", task.Name, task.Requirement.GPUs)

	v := r.execute(ctx, logger, run, task, opts)

	// The slot is back with the scheduler here. Everything left is
	// bookkeeping, and it has to land even when the task's own context is
	// already gone (abort path).
	sealCtx := ctx
	if ctx.Err() != nil {
		sealCtx = context.Background()
	}

	finished := time.Now().UTC()
	run.FinishedAt = &finished
	run.Outcome = v.outcome
	var execDuration time.Duration
	if v.result != nil {
		run.ExitCode = v.result.ExitCode
		run.Output = v.result.Output
		run.OutputTruncated = v.result.OutputTruncated
		execDuration = v.result.Duration
	}
	if v.err != nil {
		run.Error = v.err.Error()
	}
	if err := r.repo.UpdateRun(sealCtx, *run); err != nil {
		logger.Warningf("Could not persist run outcome: %s", err)
	}

	r.metrics.ObserveTaskRun(string(run.Outcome), finished.Sub(run.CreatedAt))
	logger.Infof("Run finished: %s (attempt %d/%d)", run.Outcome, run.Attempts, r.maxAttempts)

	r.report(ctx, logger, run, execDuration)
	if run.Reported {
		run.Phase = model.PhaseReported
		if err := r.repo.UpdateRun(sealCtx, *run); err != nil {
			logger.Warningf("Could not persist reported phase: %s", err)
		}
	}

	r.cleanup(logger, run.ID, opts)

	run.Phase = model.PhaseDone
	if err := r.repo.UpdateRun(sealCtx, *run); err != nil {
		logger.Warningf("Could not persist done phase: %s", err)
	}

	return run, nil
}

// execute acquires the admission slot and drives the attempt loop. The slot
// is guaranteed released by the time it returns, on every path.
func (r *Runner) execute(ctx context.Context, logger log.Logger, run *model.TaskRun, task model.Task, opts RunOptions) verdict {
	slot, err := r.scheduler.Acquire(ctx, task.Requirement)
	if err != nil {
		if ctx.Err() != nil {
			return verdict{outcome: model.OutcomeAborted, err: fmt.Errorf("cancelled while waiting for admission: %w", err)}
		}
		return verdict{outcome: model.OutcomeInfraError, err: err}
	}
	defer slot.Release()

	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		run.Attempts = attempt

		v, retry := r.attempt(ctx, logger, run, task, slot, opts)
		if !retry {
			return v
		}
		lastErr = v.err

		if attempt == r.maxAttempts {
			break
		}
		backoff := r.retryBackoff << (attempt - 1)
		logger.Warningf("Attempt %d/%d failed, retrying in %s: %s", attempt, r.maxAttempts, backoff, v.err)
		if !sleep(ctx, backoff) {
			return verdict{outcome: model.OutcomeAborted, err: ctx.Err()}
		}
	}

	return verdict{outcome: model.OutcomeInfraError, err: fmt.Errorf("all %d attempts failed: %w", r.maxAttempts, lastErr)}
}

// attempt runs one pass from the admitted phase to a verdict. retry reports
// whether the failure is worth a fresh attempt.
func (r *Runner) attempt(ctx context.Context, logger log.Logger, run *model.TaskRun, task model.Task, slot *scheduler.Slot, opts RunOptions) (v verdict, retry bool) {
	r.transition(ctx, logger, run, model.PhaseAdmitted)

	img, err := r.resolver.Resolve(ctx, task.Toolchain)
	if err != nil {
		if ctx.Err() != nil {
			return verdict{outcome: model.OutcomeAborted, err: err}, false
		}
		if errors.Is(err, model.ErrNotFound) || errors.Is(err, model.ErrNotValid) {
			// Unknown or malformed toolchain, no retry can fix that.
			return verdict{outcome: model.OutcomeInfraError, err: err}, false
		}
		return verdict{outcome: model.OutcomeInfraError, err: err}, true
	}
	r.transition(ctx, logger, run, model.PhaseSandboxReady)

	workspace := opts.Workspace
	if workspace == "" {
		workspace = conventions.WorkspacePath(r.dataDir, run.ID)
		// Fresh attempt, fresh workspace.
		if err := os.RemoveAll(workspace); err != nil {
			return verdict{outcome: model.OutcomeInfraError, err: fmt.Errorf("could not clear workspace: %w", err)}, true
		}
		if err := os.MkdirAll(workspace, 0o755); err != nil {
			return verdict{outcome: model.OutcomeInfraError, err: fmt.Errorf("could not create workspace: %w", err)}, true
		}
	}

	if task.Source != nil && opts.Workspace == "" {
		v, retry := r.runCheckout(ctx, run, task, img, workspace)
		if v != nil {
			return *v, retry
		}
	}
	r.transition(ctx, logger, run, model.PhaseCheckedOut)

	taskDir, err := r.stageScript(run.ID, task)
	if err != nil {
		return verdict{outcome: model.OutcomeInfraError, err: err}, true
	}

	spec := model.SandboxSpec{
		Image: img,
		Mounts: []model.Mount{
			{Source: workspace, Target: conventions.SandboxWorkspaceDir},
			{Source: taskDir, Target: conventions.SandboxTaskDir, ReadOnly: true},
		},
		Env:     task.Env,
		GPUs:    slot.GPUs(),
		WorkDir: conventions.SandboxWorkspaceDir,
	}

	started := time.Now().UTC()
	run.StartedAt = &started
	r.transition(ctx, logger, run, model.PhaseRunning)

	res, err := r.engine.Run(ctx, sandbox.RunRequest{
		RunID:       run.ID,
		Step:        "task",
		Spec:        spec,
		Command:     []string{"/bin/sh", path.Join(conventions.SandboxTaskDir, scriptFile)},
		Timeout:     task.Timeout,
		OutputLimit: r.outputLimit,
	})
	if err != nil {
		if ctx.Err() != nil {
			return verdict{outcome: model.OutcomeAborted, err: err}, false
		}
		return verdict{outcome: model.OutcomeInfraError, err: fmt.Errorf("could not run task sandbox: %w", err)}, true
	}

	return verdict{outcome: res.Outcome, result: res}, false
}

// runCheckout loads the task's credential and clones its source into the
// workspace. A nil verdict means the checkout succeeded.
func (r *Runner) runCheckout(ctx context.Context, run *model.TaskRun, task model.Task, img model.ImageRef, workspace string) (*verdict, bool) {
	var cred *secrets.Credential
	if task.CredentialRef != "" {
		var err error
		cred, err = r.credentials.Load(task.CredentialRef)
		if err != nil {
			// The machine does not hold the credential the task names,
			// retrying cannot produce it.
			err = fmt.Errorf("could not load credential %q: %w", task.CredentialRef, err)
			return &verdict{outcome: model.OutcomeInfraError, err: err}, false
		}
	}

	err := r.checkout.Checkout(ctx, checkout.Request{
		RunID:        run.ID,
		Source:       *task.Source,
		Image:        img,
		WorkspaceDir: workspace,
		Credential:   cred,
		Timeout:      r.checkoutTimeout,
		OutputLimit:  r.outputLimit,
	})
	if err == nil {
		return nil, false
	}
	if ctx.Err() != nil {
		return &verdict{outcome: model.OutcomeAborted, err: err}, false
	}

	var cerr *model.CheckoutError
	if errors.As(err, &cerr) {
		if cerr.Transient() {
			return &verdict{outcome: model.OutcomeInfraError, err: err}, true
		}
		// A rejected credential or an unknown ref is the task's problem, not
		// this machine's. Reported verbatim, never retried.
		return &verdict{outcome: model.OutcomeFailed, err: err}, false
	}

	return &verdict{outcome: model.OutcomeInfraError, err: err}, true
}

// report delivers the run's result to the registry, retrying while it is
// unavailable. Aborted runs get a single detached delivery so shutdown does
// not hang on backoff.
func (r *Runner) report(ctx context.Context, logger log.Logger, run *model.TaskRun, execDuration time.Duration) {
	if r.reporter == nil {
		return
	}

	rep := model.TaskReport{
		TaskID:          run.TaskID,
		RunID:           run.ID,
		Outcome:         run.Outcome,
		ExitCode:        run.ExitCode,
		Output:          run.Output,
		OutputTruncated: run.OutputTruncated,
		Error:           run.Error,
		Attempts:        run.Attempts,
		Duration:        execDuration,
		FinishedAt:      *run.FinishedAt,
	}

	attempts := r.reportAttempts
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), r.reportBackoffCap)
		defer cancel()
		attempts = 1
	}

	backoff := r.reportBackoff
	for attempt := 1; attempt <= attempts; attempt++ {
		err := r.reporter.Report(ctx, rep)
		if err == nil {
			run.Reported = true
			logger.Debugf("Run reported")
			return
		}
		if !errors.Is(err, model.ErrUnavailable) || attempt == attempts {
			logger.Errorf("Could not report run, result kept in local history: %s", err)
			return
		}

		r.metrics.IncReportRetry()
		logger.Warningf("Registry unavailable, retrying report in %s (%d/%d): %s", backoff, attempt, attempts, err)
		if !sleep(ctx, backoff) {
			return
		}
		backoff *= 2
		if backoff > r.reportBackoffCap {
			backoff = r.reportBackoffCap
		}
	}
}

// transition advances the run's phase and persists it. Persistence trouble
// does not stop the run, only its history lags.
func (r *Runner) transition(ctx context.Context, logger log.Logger, run *model.TaskRun, phase model.TaskPhase) {
	run.Phase = phase
	if err := r.repo.UpdateRun(ctx, *run); err != nil {
		logger.Warningf("Could not persist phase %s: %s", phase, err)
	}
}

// stageScript writes the task's entry script under the run's staging dir and
// returns the host directory to mount read-only into the sandbox.
func (r *Runner) stageScript(runID string, task model.Task) (string, error) {
	dir := filepath.Join(conventions.StagingPath(r.dataDir, runID), "task")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("could not create staging dir: %w", err)
	}

	script := sandbox.Script(task.Commands, task.AllowErrors)
	if err := os.WriteFile(filepath.Join(dir, scriptFile), []byte(script), 0o700); err != nil {
		return "", fmt.Errorf("could not write run script: %w", err)
	}

	return dir, nil
}

// cleanup drops the run's staging material and, unless told otherwise, its
// workspace. Caller-provided workspaces are never touched.
func (r *Runner) cleanup(logger log.Logger, runID string, opts RunOptions) {
	if err := os.RemoveAll(conventions.StagingPath(r.dataDir, runID)); err != nil {
		logger.Warningf("Could not remove staging dir: %s", err)
	}

	if opts.Workspace != "" || opts.KeepWorkspace {
		return
	}
	if err := os.RemoveAll(conventions.WorkspacePath(r.dataDir, runID)); err != nil {
		logger.Warningf("Could not remove workspace: %s", err)
	}
}

// sleep waits for d unless ctx ends first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
