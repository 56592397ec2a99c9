package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gpurig/gpurig/internal/checkout"
	"github.com/gpurig/gpurig/internal/config"
	"github.com/gpurig/gpurig/internal/image"
	imagedocker "github.com/gpurig/gpurig/internal/image/docker"
	"github.com/gpurig/gpurig/internal/log"
	"github.com/gpurig/gpurig/internal/metrics"
	"github.com/gpurig/gpurig/internal/model"
	"github.com/gpurig/gpurig/internal/orchestrator"
	"github.com/gpurig/gpurig/internal/registry"
	sandboxdocker "github.com/gpurig/gpurig/internal/sandbox/docker"
	"github.com/gpurig/gpurig/internal/scheduler"
	"github.com/gpurig/gpurig/internal/secrets"
	"github.com/gpurig/gpurig/internal/storage/sqlite"
	"github.com/gpurig/gpurig/internal/sysinfo"
)

// loadConfig reads the daemon configuration the command will run with.
func loadConfig(ctx context.Context, rootCmd *RootCommand) (*config.Config, error) {
	path, err := filepath.Abs(rootCmd.ConfigFilePath())
	if err != nil {
		return nil, fmt.Errorf("could not resolve config path: %w", err)
	}

	loader := config.NewYAMLLoader(os.DirFS("/"))
	cfg, err := loader.Load(ctx, strings.TrimPrefix(path, "/"))
	if err != nil {
		return nil, fmt.Errorf("could not load configuration from %s: %w", path, err)
	}

	return cfg, nil
}

// newRegistryClient assembles the signed HTTP registry client.
func newRegistryClient(cfg *config.Config, logger log.Logger) (registry.Client, error) {
	if cfg.Registry.URL == "" {
		return nil, fmt.Errorf("no registry configured, set registry.url in the configuration file")
	}

	cli, err := registry.NewHTTPClient(registry.HTTPClientConfig{
		BaseURL:     cfg.Registry.URL,
		KeyID:       cfg.Registry.KeyID,
		Secret:      cfg.Registry.Secret,
		MachineName: cfg.Machine.Name,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create registry client: %w", err)
	}

	return cli, nil
}

// taskStack is everything a task run needs, shared by the daemon and the ad
// hoc run command.
type taskStack struct {
	Repository *sqlite.Repository
	Machine    *model.MachineRecord
	Runner     *orchestrator.Runner
}

// newTaskStack probes the machine and wires storage, image resolution,
// checkout, admission and the orchestrator on top of the local Docker daemon.
func newTaskStack(ctx context.Context, rootCmd *RootCommand, cfg *config.Config, reporter registry.Client, rec metrics.Recorder) (*taskStack, error) {
	logger := rootCmd.Logger

	repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
		DBPath: rootCmd.DBPath(),
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create repository: %w", err)
	}

	images, err := sqlite.NewImageRepository(sqlite.ImageRepositoryConfig{
		DB:     repo.DB(),
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create image repository: %w", err)
	}

	catalog, err := image.NewCatalog(cfg.Toolchains)
	if err != nil {
		return nil, fmt.Errorf("could not create toolchain catalog: %w", err)
	}

	prober, err := sysinfo.NewProber(sysinfo.ProberConfig{Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("could not create prober: %w", err)
	}

	machine, err := prober.Snapshot(ctx, cfg.Machine.Name, cfg.Machine.Capability(catalog.IDs()))
	if err != nil {
		return nil, fmt.Errorf("could not probe machine: %w", err)
	}

	engine, err := sandboxdocker.NewEngine(sandboxdocker.EngineConfig{Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("could not create sandbox engine: %w", err)
	}

	builder, err := imagedocker.NewBuilder(imagedocker.BuilderConfig{Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("could not create image builder: %w", err)
	}

	resolver, err := image.NewTemplateResolver(image.TemplateResolverConfig{
		Catalog:    catalog,
		Builder:    builder,
		Repository: images,
		Base: image.BaseSelection{
			CUDAVersion: cfg.Image.CUDAVersion,
			Distro:      machine.Distro,
			Override:    cfg.Image.BaseImage,
		},
		Metrics: rec,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create image resolver: %w", err)
	}

	co, err := checkout.NewService(checkout.ServiceConfig{
		Engine:  engine,
		DataDir: rootCmd.DataDir,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create checkout service: %w", err)
	}

	sched, err := scheduler.New(scheduler.Config{
		Capability: machine.Capability,
		Policy:     scheduler.Policy(cfg.Admission.Policy),
		Metrics:    rec,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create scheduler: %w", err)
	}

	runner, err := orchestrator.NewRunner(orchestrator.RunnerConfig{
		Scheduler:   sched,
		Resolver:    resolver,
		Checkout:    co,
		Engine:      engine,
		Credentials: secrets.NewStore(rootCmd.DataDir),
		Repository:  repo,
		Reporter:    reporter,
		Metrics:     rec,
		Logger:      logger,
		DataDir:     rootCmd.DataDir,
		OutputLimit: cfg.Execution.OutputLimitBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create task runner: %w", err)
	}

	return &taskStack{
		Repository: repo,
		Machine:    machine,
		Runner:     runner,
	}, nil
}
