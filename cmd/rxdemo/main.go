// Command rxdemo runs a throttled interval pipeline and delivers its values on the main goroutine.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xinjiayu/rx"
)

const (
	// envPrefix is the viper env prefix, e.g. RXDEMO_INTERVAL=50ms.
	envPrefix = "RXDEMO"

	flagInterval    = "interval"
	flagThrottle    = "throttle"
	flagCount       = "count"
	flagLogLevel    = "log-level"
	flagMetricsAddr = "metrics-addr"
)

// demoConfig is resolved from flags, environment variables and defaults, in that order.
type demoConfig struct {
	Interval    time.Duration
	Throttle    time.Duration
	Count       int
	LogLevel    string
	MetricsAddr string
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rxdemo",
		Short: "Run an interval → throttle → take pipeline observed on the main goroutine",
		Long: `rxdemo emits ticks on a single-thread scheduler, throttles them,
takes the first N and delivers them on a host-driven main-thread scheduler.

Every flag can also be set through an environment variable prefixed with RXDEMO_,
e.g. RXDEMO_COUNT=10.`,
		SilenceUsage: true,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return setupViper(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			config := demoConfig{
				Interval:    viper.GetDuration("interval"),
				Throttle:    viper.GetDuration("throttle"),
				Count:       viper.GetInt("count"),
				LogLevel:    viper.GetString("log_level"),
				MetricsAddr: viper.GetString("metrics_addr"),
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, config)
		},
	}

	cmd.Flags().Duration(flagInterval, 100*time.Millisecond, "Period of the source interval")
	cmd.Flags().Duration(flagThrottle, 250*time.Millisecond, "ThrottleFirst window")
	cmd.Flags().Int(flagCount, 5, "Number of values to take before completing")
	cmd.Flags().String(flagLogLevel, "info", "Log level (trace, debug, info, warn, error)")
	cmd.Flags().String(flagMetricsAddr, "", "Serve Prometheus metrics on this address when set, e.g. :9090")

	return cmd
}

// setupViper binds every flag to its config key and to the RXDEMO_ environment.
func setupViper(cmd *cobra.Command) error {
	viper.SetEnvPrefix(envPrefix)
	viper.AutomaticEnv()

	bindings := map[string]string{
		"interval":     flagInterval,
		"throttle":     flagThrottle,
		"count":        flagCount,
		"log_level":    flagLogLevel,
		"metrics_addr": flagMetricsAddr,
	}
	for key, flagName := range bindings {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}
	return nil
}

func newLogger(level string) (zerolog.Logger, error) {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Logger{}, err
	}

	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(parsed).
		With().
		Timestamp().
		Logger(), nil
}

func run(ctx context.Context, config demoConfig) error {
	logger, err := newLogger(config.LogLevel)
	if err != nil {
		return err
	}
	rx.SetLogger(logger)

	registry := prometheus.NewRegistry()
	timers := rx.NewTimerManager()
	defer timers.Close()
	registry.MustRegister(rx.NewTimerManagerCollector("demo", timers))

	worker := rx.NewSingleThreadScheduler(rx.WithTimerManager(timers))
	defer worker.Close()

	mainThread := rx.NewMainThreadScheduler(rx.WithTimerManager(timers))
	defer mainThread.Close()

	if config.MetricsAddr != "" {
		server := &http.Server{
			Addr:              config.MetricsAddr,
			Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("metrics server stopped")
			}
		}()
		defer server.Close()
	}

	source := rx.NewMonitoredScheduler("worker", worker, registry)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var pipelineErr error
	sub := rx.Interval(config.Interval, rx.WithScheduler(source)).
		ThrottleFirst(config.Throttle).
		Take(config.Count).
		ObserveOn(mainThread).
		SubscribeWithCallbacks(
			func(value interface{}) {
				logger.Info().Interface("value", value).Msg("tick")
			},
			func(err error) {
				pipelineErr = err
				cancel()
			},
			func() {
				logger.Info().Msg("pipeline completed")
				cancel()
			},
		)
	defer sub.Dispose()

	logger.Info().
		Dur("interval", config.Interval).
		Dur("throttle", config.Throttle).
		Int("count", config.Count).
		Msg("pipeline started")

	if err := mainThread.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return pipelineErr
}
