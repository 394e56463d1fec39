package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/fleek-network/latency-measure/internal/aggregate"
	"github.com/fleek-network/latency-measure/internal/collect"
	"github.com/fleek-network/latency-measure/internal/config"
	"github.com/fleek-network/latency-measure/internal/database"
	"github.com/fleek-network/latency-measure/internal/logging"
	"github.com/fleek-network/latency-measure/internal/measure"
	"github.com/fleek-network/latency-measure/internal/probe"
	"github.com/fleek-network/latency-measure/internal/render"
	"github.com/fleek-network/latency-measure/internal/snapshot"
	"github.com/fleek-network/latency-measure/internal/worker"
)

const Version = "1.0.0"

func loadEnvironment() {
	logger := logging.GetLogger()

	load := func(envFile string) bool {
		if _, err := os.Stat(envFile); err != nil {
			return false
		}
		if err := godotenv.Load(envFile); err != nil {
			logger.WithField("file", envFile).WithError(err).Warn("Error loading .env file")
		} else {
			logger.WithField("file", envFile).Debug("Loaded environment variables")
		}
		return true
	}

	if load(".env") {
		return
	}
	// Fall back to a .env next to the binary.
	if execPath, err := os.Executable(); err == nil {
		load(filepath.Join(filepath.Dir(execPath), ".env"))
	}
}

func main() {
	logger := logging.GetLogger()

	loadEnvironment()

	var (
		logLevel string

		configFile    string
		method        string
		body          string
		headers       []string
		comparison    string
		services      []string
		average       bool
		distribution  bool
		times         int
		delayMS       int
		outputDir     string
		flood         bool
		deploymentDir string

		addr        string
		poolSize    int
		insecureTLS bool
	)

	rootCmd := &cobra.Command{
		Use:     "latency-measure",
		Short:   "HTTP latency measurement from remote workers",
		Long:    "Measures the latency of an HTTP target as observed from a set of remote measurement workers, with phase-timed probes and an optional baseline comparison",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if logLevel != "" {
				if err := logging.SetLogLevel(logLevel); err != nil {
					return fmt.Errorf("invalid log level: %w", err)
				}
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Set log level (trace, debug, info, warn, error)")

	runCmd := &cobra.Command{
		Use:   "run [target-url]",
		Short: "Run a measurement against a target",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configFile != "" {
				loaded, err := config.LoadConfig(configFile)
				if err != nil {
					return err
				}
				cfg = *loaded
			}

			// Explicit flags win over the config file.
			if len(args) == 1 {
				cfg.Target.URL = args[0]
			}
			fl := cmd.Flags()
			if fl.Changed("method") {
				cfg.Target.Method = method
			}
			if fl.Changed("body") {
				cfg.Target.Body = body
			}
			if fl.Changed("header") {
				parsed, err := parseHeaders(headers)
				if err != nil {
					return err
				}
				cfg.Target.Headers = parsed
			}
			if fl.Changed("comp") {
				cfg.Comparison = comparison
			}
			if fl.Changed("service") {
				cfg.Workers = services
			}
			if fl.Changed("average") {
				cfg.Average = average
			}
			if fl.Changed("times") {
				cfg.Times = times
			}
			if fl.Changed("delay") {
				cfg.Delay = time.Duration(delayMS) * time.Millisecond
			}
			if fl.Changed("output-dir") {
				cfg.OutputDir = outputDir
			}
			if fl.Changed("flood") {
				cfg.Flood = flood
			}
			if fl.Changed("deployment-dir") {
				cfg.DeploymentDir = deploymentDir
			}

			return runMeasurement(cfg, distribution)
		},
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a measurement worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveWorker(worker.Config{
				Addr:        addr,
				PoolSize:    poolSize,
				InsecureTLS: insecureTLS,
			})
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a run configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateConfig(configFile)
		},
	}

	runCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to a run configuration file")
	runCmd.Flags().StringVar(&method, "method", "GET", "HTTP method for the target request")
	runCmd.Flags().StringVar(&body, "body", "", "HTTP body for the target request (POST only)")
	runCmd.Flags().StringArrayVar(&headers, "header", nil, "HTTP header for the target request as key=value (repeatable)")
	runCmd.Flags().StringVar(&comparison, "comp", "", "Baseline URL measured alongside the target")
	runCmd.Flags().StringSliceVar(&services, "service", nil, "Worker addresses (defaults to the deployment artifacts)")
	runCmd.Flags().BoolVarP(&average, "average", "a", false, "Print the averaged results per worker")
	runCmd.Flags().BoolVar(&distribution, "distribution", false, "Print a latency distribution summary")
	runCmd.Flags().IntVarP(&times, "times", "t", config.DefaultTimes, "Number of measurements per worker")
	runCmd.Flags().IntVarP(&delayMS, "delay", "d", int(config.DefaultDelay/time.Millisecond), "Delay between measurements in milliseconds")
	runCmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "Directory for the JSON snapshot")
	runCmd.Flags().BoolVar(&flood, "flood", false, "Dispatch all measurements concurrently, ignoring the delay")
	runCmd.Flags().StringVar(&deploymentDir, "deployment-dir", config.DefaultDeploymentDir, "Directory holding the deployment artifacts")

	serveCmd.Flags().StringVar(&addr, "addr", worker.DefaultAddr, "Listen address")
	serveCmd.Flags().IntVar(&poolSize, "probe-workers", probe.DefaultPoolSize, "Size of the blocking probe pool")
	serveCmd.Flags().BoolVar(&insecureTLS, "insecure", false, "Skip TLS certificate verification on probes")

	validateCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to a run configuration file")
	validateCmd.MarkFlagRequired("config")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(validateCmd)

	if err := rootCmd.Execute(); err != nil {
		logger.WithError(err).Fatal("Command execution failed")
	}
}

// parseHeaders turns repeated key=value flags into a header map.
func parseHeaders(pairs []string) (map[string]string, error) {
	headers := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid header %q, expected key=value", pair)
		}
		headers[key] = value
	}
	return headers, nil
}

func runMeasurement(cfg config.RunConfig, distribution bool) error {
	logger := logging.GetLogger()

	if err := config.Resolve(&cfg, config.DeploymentArtifacts{Dir: cfg.DeploymentDir}); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	progress := render.NewProgress(os.Stdout)
	collector := collect.NewCollector(collect.NewClient(), collect.Options{
		Times:    cfg.Times,
		Delay:    cfg.Delay,
		Flood:    cfg.Flood,
		Progress: progress.Update,
	})

	logger.WithFields(logrus.Fields{
		"target":  cfg.Target.URL,
		"workers": len(cfg.Workers),
		"times":   cfg.Times,
		"flood":   cfg.Flood,
	}).Info("Starting measurement run")

	run, err := collector.Run(context.Background(), cfg.Target, cfg.Comparison, cfg.Workers)
	progress.Finish()
	if err != nil {
		return err
	}

	render.Results(os.Stdout, run)

	if cfg.Average {
		for _, res := range run.Results {
			if len(res.Target) == 0 {
				continue
			}
			fmt.Printf("Averages for worker %s\n", res.Worker)
			render.Average(os.Stdout, run.Target.URL, aggregate.Average(res.Target))
			if run.Comparison != nil && len(res.Comparison) > 0 {
				render.Average(os.Stdout, run.Comparison.URL, aggregate.Average(res.Comparison))
			}
			fmt.Println()
		}
	}

	if distribution {
		var target, comp []measure.Response
		for _, res := range run.Results {
			target = append(target, res.Target...)
			comp = append(comp, res.Comparison...)
		}
		render.Distribution(os.Stdout, run.Target.URL, aggregate.Distribution(target))
		if run.Comparison != nil {
			render.Distribution(os.Stdout, run.Comparison.URL, aggregate.Distribution(comp))
		}
	}

	if cfg.OutputDir != "" {
		path, err := snapshot.Writer{Dir: cfg.OutputDir}.Write(snapshot.Build(run), run.Finished)
		if err != nil {
			return fmt.Errorf("failed to write snapshot: %w", err)
		}
		logger.WithField("path", path).Info("Snapshot written")
	}

	exportRun(run)

	failed := 0
	for _, res := range run.Results {
		if res.Err != nil {
			failed++
		}
	}
	if failed > 0 && failed == len(run.Results) {
		return fmt.Errorf("all %d workers failed", failed)
	}
	if failed > 0 {
		logger.WithFields(logrus.Fields{
			"failed":  failed,
			"workers": len(run.Results),
		}).Warn("Some workers failed")
	}
	return nil
}

// exportRun pushes the run to InfluxDB when the environment configures
// one. Export failures are logged, not fatal: the snapshot and terminal
// output already carry the results.
func exportRun(run *collect.Run) {
	logger := logging.GetLogger()

	dbCfg := config.DatabaseFromEnv()
	if !dbCfg.Enabled() {
		return
	}
	if err := dbCfg.Validate(); err != nil {
		logger.WithError(err).Warn("Skipping database export")
		return
	}

	client, err := database.NewClient(dbCfg)
	if err != nil {
		logger.WithError(err).Warn("Skipping database export")
		return
	}
	defer client.Close()

	if err := client.WriteRun(context.Background(), run); err != nil {
		logger.WithError(err).Warn("Failed to export run")
		return
	}
	logger.WithField("run_id", run.ID).Info("Run exported to InfluxDB")
}

func serveWorker(cfg worker.Config) error {
	logger := logging.GetLogger()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv := worker.New(cfg)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down worker")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

func validateConfig(configFile string) error {
	logger := logging.GetLogger()

	if _, err := config.LoadConfig(configFile); err != nil {
		logger.WithField("config_file", configFile).WithError(err).Error("Configuration validation failed")
		return err
	}
	logger.WithField("config_file", configFile).Info("Configuration is valid")
	return nil
}
