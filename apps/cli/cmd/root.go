package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/abdul-hamid-achik/snare/packages/core/config"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

var (
	verboseFlag bool
	logJSONFlag bool
	noColorFlag bool
	configFlag  string

	logger   = zap.NewNop()
	logLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

var rootCmd = &cobra.Command{
	Use:   "snare",
	Short: "Keep every response your browser loads.",
	Long: `snare opens a browser, watches every network response the page
receives while you navigate, and stores each body on disk next to a SQLite
record of its URL, content type and headers.`,
	SilenceUsage:      true,
	PersistentPreRunE: initLogger,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func Execute(v, bt string) {
	version = v
	buildTime = bt
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", getEnvBool("SNARE_VERBOSE", false), "Enable debug logging (env: SNARE_VERBOSE)")
	rootCmd.PersistentFlags().BoolVar(&logJSONFlag, "log-json", getEnvBool("SNARE_LOG_JSON", false), "Log as JSON instead of console text (env: SNARE_LOG_JSON)")
	rootCmd.PersistentFlags().BoolVar(&noColorFlag, "no-color", getEnvBool("SNARE_NO_COLOR", false), "Disable colored output (env: SNARE_NO_COLOR)")
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", getEnvString("SNARE_CONFIG", ""), "Path to config file (env: SNARE_CONFIG)")

	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(proxyCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
}

// initLogger builds the stderr logger shared by all commands
func initLogger(cmd *cobra.Command, args []string) error {
	l, err := loggerConfig().Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger = l
	return nil
}

// loggerConfig is the production config with sampling disabled, so repeated
// failure messages are never dropped.
func loggerConfig() zap.Config {
	zc := zap.NewProductionConfig()
	zc.Sampling = nil
	if !logJSONFlag {
		zc.Encoding = "console"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	if verboseFlag {
		logLevel.SetLevel(zapcore.DebugLevel)
	}
	zc.Level = logLevel
	return zc
}

// applyLogLevel lets a config file turn on debug logging after the logger exists
func applyLogLevel(cfg *config.Config) {
	if cfg.GetVerbose() {
		logLevel.SetLevel(zapcore.DebugLevel)
	}
}

// exitError carries a process exit code alongside the error
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

func withExitCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return ExitFailure
}
