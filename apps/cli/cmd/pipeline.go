package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/abdul-hamid-achik/snare/packages/artifact"
	"github.com/abdul-hamid-achik/snare/packages/capture"
	"github.com/abdul-hamid-achik/snare/packages/core/config"
	"github.com/abdul-hamid-achik/snare/packages/db"
	"github.com/abdul-hamid-achik/snare/packages/extension"
	"github.com/abdul-hamid-achik/snare/packages/ident"
	"github.com/abdul-hamid-achik/snare/packages/stats"
	"github.com/abdul-hamid-achik/snare/packages/telemetry"
)

var (
	contentDirFlag  string
	databaseFlag    string
	fileOnlyFlag    bool
	includeFlag     string
	idFormatFlag    string
	workersFlag     int
	rateFlag        float64
	maxExtLenFlag   int
	metricsAddrFlag string
	summaryJSONFlag bool
)

// addPipelineFlags registers the storage and pipeline flags shared by every
// command that captures responses
func addPipelineFlags(c *cobra.Command) {
	// Storage flags
	c.Flags().StringVar(&contentDirFlag, "content-dir", getEnvString("SNARE_CONTENT_DIR", config.DefaultContentDir), "Directory for response bodies (env: SNARE_CONTENT_DIR)")
	c.Flags().StringVar(&databaseFlag, "database", getEnvString("SNARE_DATABASE", config.DefaultDatabase), "SQLite metadata database (env: SNARE_DATABASE)")
	c.Flags().BoolVar(&fileOnlyFlag, "file-only", false, "Write bodies only, skip the metadata database")

	// Pipeline flags
	c.Flags().StringVarP(&includeFlag, "include", "i", "everything", "Only capture URLs matching a preset or regular expression")
	c.Flags().StringVar(&idFormatFlag, "id-format", "timestamp", "Identifier format: random, timestamp, v7")
	c.Flags().IntVarP(&workersFlag, "workers", "w", getEnvInt("SNARE_WORKERS", capture.DefaultWorkers), "Responses handled concurrently (env: SNARE_WORKERS)")
	c.Flags().Float64Var(&rateFlag, "rate", getEnvFloat("SNARE_RATE", 0), "Maximum body fetches per second, 0 for unlimited (env: SNARE_RATE)")
	c.Flags().IntVar(&maxExtLenFlag, "max-ext-len", extension.DefaultMaxLength, "Longest extension accepted from a URL")

	// Output flags
	c.Flags().StringVar(&metricsAddrFlag, "metrics-addr", getEnvString("SNARE_METRICS_ADDR", ""), "Serve Prometheus metrics on this address (env: SNARE_METRICS_ADDR)")
	c.Flags().BoolVar(&summaryJSONFlag, "json", false, "Print the session summary as JSON")

	registerPipelineCompletions(c)
}

// pipeline bundles the coordinator with its stores and session statistics
type pipeline struct {
	coordinator *capture.Coordinator
	stats       *stats.Stats
	reporter    *stats.Reporter
	close       func()
}

// newPipeline prepares the content directory, metadata store and coordinator.
// Startup failures carry the matching exit code.
func newPipeline(ctx context.Context, cmd *cobra.Command, cfg *config.Config) (*pipeline, error) {
	// Resolve pipeline settings before touching the filesystem
	generator, err := ident.New(ident.Kind(cfg.IDFormat))
	if err != nil {
		return nil, withExitCode(ExitConfigError, err)
	}
	include, err := capture.CompileInclude(cfg.Include)
	if err != nil {
		return nil, withExitCode(ExitConfigError, err)
	}

	if err := artifact.EnsureDir(cfg.ContentDir); err != nil {
		return nil, withExitCode(ExitStorageError, err)
	}
	recorder, database, closeRecorder, err := openRecorder(ctx, cfg)
	if err != nil {
		return nil, withExitCode(ExitStorageError, err)
	}

	sessionStats := stats.New()
	observers := []capture.Observer{sessionStats}
	if cfg.MetricsAddr != "" {
		metrics := telemetry.NewMetrics()
		observers = append(observers, metrics)
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, logger); err != nil {
				logger.Error("metrics endpoint failed", zap.String("addr", cfg.MetricsAddr), zap.Error(err))
			}
		}()
	}

	var coordinator *capture.Coordinator
	writer := artifact.NewWriter(cfg.ContentDir,
		artifact.WithLogger(logger),
		artifact.WithFailureHook(func(filename string, err error) {
			coordinator.WriteFailed(filename, err)
		}))
	coordinator = capture.NewCoordinator(writer,
		capture.WithRecorder(recorder),
		capture.WithResolver(extension.NewResolver(extension.WithMaxLength(cfg.MaxExtensionLength))),
		capture.WithGenerator(generator),
		capture.WithInclude(include),
		capture.WithWorkers(cfg.Workers),
		capture.WithRateLimit(cfg.Rate),
		capture.WithLogger(logger),
		capture.WithObserver(observers...))

	reporter := stats.NewReporter(
		stats.WithWriter(cmd.ErrOrStderr()),
		stats.WithNoColor(cfg.GetNoColor()),
		stats.WithVerbose(cfg.GetVerbose()))
	reporter.Header(version, cfg.ContentDir, database)

	return &pipeline{
		coordinator: coordinator,
		stats:       sessionStats,
		reporter:    reporter,
		close:       closeRecorder,
	}, nil
}

// start runs the coordinator over stream in the background
func (p *pipeline) start(ctx context.Context, stream capture.Stream) <-chan error {
	p.stats.Start()
	done := make(chan error, 1)
	go func() {
		done <- p.coordinator.Run(ctx, stream)
	}()
	return done
}

// finish prints the session summary and passes runErr through
func (p *pipeline) finish(cmd *cobra.Command, runErr error) error {
	p.stats.Stop()

	if summaryJSONFlag {
		jsonReporter := stats.NewReporter(stats.WithWriter(cmd.OutOrStdout()))
		if err := jsonReporter.JSON(p.stats.Summary()); err != nil {
			return err
		}
	} else {
		p.reporter.Summary(p.stats.Summary())
	}

	return runErr
}

// openRecorder opens the metadata store unless file-only mode is on.
// The returned close function is never nil on success.
func openRecorder(ctx context.Context, cfg *config.Config) (capture.Recorder, string, func(), error) {
	if cfg.GetFileOnly() {
		return nil, "", func() {}, nil
	}

	// Plain paths get their directory created; URLs and :memory: are left alone
	if !strings.Contains(cfg.Database, ":") {
		if err := os.MkdirAll(filepath.Dir(cfg.Database), 0755); err != nil {
			return nil, "", nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	store, err := db.Open(ctx, cfg.Database, db.WithLogger(logger))
	if err != nil {
		return nil, "", nil, err
	}
	closeStore := func() {
		if err := store.Close(); err != nil {
			logger.Warn("failed to close database", zap.Error(err))
		}
	}
	return store, store.DataSource(), closeStore, nil
}
