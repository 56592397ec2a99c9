package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gpurig/gpurig/internal/app/daemon"
	metricsprometheus "github.com/gpurig/gpurig/internal/metrics/prometheus"
)

type DaemonCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	metricsListenAddr string
	pollInterval      time.Duration
	pollMaxInterval   time.Duration
}

// NewDaemonCommand returns the daemon command.
func NewDaemonCommand(rootCmd *RootCommand, app *kingpin.Application) *DaemonCommand {
	c := &DaemonCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("daemon", "Run the task execution daemon.")
	c.Cmd.Flag("metrics-listen-addr", "Listen address for the metrics and health endpoints.").Default(":9476").StringVar(&c.metricsListenAddr)
	c.Cmd.Flag("poll-interval", "Base registry poll interval.").Default("5s").DurationVar(&c.pollInterval)
	c.Cmd.Flag("poll-max-interval", "Upper bound for the idle poll interval.").Default("1m").DurationVar(&c.pollMaxInterval)

	return c
}

func (c DaemonCommand) Name() string { return c.Cmd.FullCommand() }

func (c DaemonCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	cfg, err := loadConfig(ctx, c.rootCmd)
	if err != nil {
		return err
	}

	reg, err := newRegistryClient(cfg, logger)
	if err != nil {
		return err
	}

	rec := metricsprometheus.NewRecorder(prometheus.DefaultRegisterer)

	stack, err := newTaskStack(ctx, c.rootCmd, cfg, reg, rec)
	if err != nil {
		return err
	}
	defer stack.Repository.Close()

	svc, err := daemon.NewService(daemon.ServiceConfig{
		Registry:        reg,
		Runner:          stack.Runner,
		Machine:         *stack.Machine,
		PollInterval:    c.pollInterval,
		PollMaxInterval: c.pollMaxInterval,
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	var g run.Group

	// Poll loop.
	{
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		g.Add(
			func() error {
				return svc.Run(ctx)
			},
			func(_ error) {
				cancel()
			},
		)
	}

	// Metrics and health endpoints.
	{
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("OK"))
		})
		server := &http.Server{Addr: c.metricsListenAddr, Handler: mux}

		g.Add(
			func() error {
				logger.Infof("Metrics listening on %s", c.metricsListenAddr)
				err := server.ListenAndServe()
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			},
			func(_ error) {
				_ = server.Shutdown(context.Background())
			},
		)
	}

	return g.Run()
}
