package cmd

import (
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/abdul-hamid-achik/snare/packages/browser"
	"github.com/abdul-hamid-achik/snare/packages/core/config"
)

var captureCmd = &cobra.Command{
	Use:   "capture [url]",
	Short: "Launch a browser and store every response it receives",
	Long: `Launch a browser and store the body of every successful response the
page receives while you browse. Bodies go to the content directory as
<id>.<extension>; URL, content type and headers go to the SQLite database.

The session ends when the observed tab is closed or on Ctrl+C.

Include presets: everything, png, xhtml, image (or any regular expression).

Examples:
  snare capture
  snare capture https://example.com
  snare capture https://example.com --include image
  snare capture --headless --file-only --content-dir ./dump https://example.com
  snare capture --metrics-addr :9090 --rate 20`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) > 1 {
			return withExitCode(ExitUsageError, fmt.Errorf("accepts at most one URL, received %d arguments", len(args)))
		}
		return nil
	},
	RunE: captureCommand,
}

var (
	headlessFlag     bool
	devtoolsFlag     bool
	incognitoFlag    bool
	stealthFlag      bool
	adBlockFlag      bool
	browserBinFlag   string
	controlURLFlag   string
	browserFlagsFlag []string
	remoteFlagsFlag  bool
	flagsURLFlag     string
)

func init() {
	addPipelineFlags(captureCmd)

	// Browser flags
	captureCmd.Flags().BoolVar(&headlessFlag, "headless", false, "Run the browser without a window")
	captureCmd.Flags().BoolVar(&devtoolsFlag, "devtools", true, "Open devtools for new tabs")
	captureCmd.Flags().BoolVar(&incognitoFlag, "incognito", true, "Use an incognito profile")
	captureCmd.Flags().BoolVar(&stealthFlag, "stealth", true, "Hide the automation marker from pages")
	captureCmd.Flags().BoolVar(&adBlockFlag, "adblock", true, "Block common tracker URLs")
	captureCmd.Flags().StringVar(&browserBinFlag, "browser-bin", getEnvString("SNARE_BROWSER_BIN", ""), "Browser executable (env: SNARE_BROWSER_BIN)")
	captureCmd.Flags().StringVar(&controlURLFlag, "control-url", getEnvString("SNARE_CONTROL_URL", ""), "Attach to a running browser's DevTools URL (env: SNARE_CONTROL_URL)")
	captureCmd.Flags().StringArrayVar(&browserFlagsFlag, "browser-flag", nil, "Extra browser switch, repeatable (e.g. --browser-flag=--mute-audio)")
	captureCmd.Flags().BoolVar(&remoteFlagsFlag, "remote-flags", true, "Fetch chrome-launcher's default switches before launch")
	captureCmd.Flags().StringVar(&flagsURLFlag, "flags-url", browser.DefaultFlagsURL, "Location of the chrome-launcher flag list")
}

// loadConfig reads the config file and applies explicitly set flags on top
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(configFlag)
	if err != nil {
		return nil, withExitCode(ExitConfigError, fmt.Errorf("failed to load config: %w", err))
	}
	cfg = cfg.Merge(flagOverrides(cmd))
	applyLogLevel(cfg)
	return cfg, nil
}

// flagOverrides collects the flags the user actually set
func flagOverrides(cmd *cobra.Command) *config.Config {
	flags := cmd.Flags()
	changed := func(name string) bool {
		f := flags.Lookup(name)
		return f != nil && f.Changed
	}
	// set also honors the environment fallback baked into the flag default
	set := func(name, env string) bool {
		return changed(name) || envSet(env)
	}

	o := &config.Config{}
	if set("content-dir", "SNARE_CONTENT_DIR") {
		o.ContentDir = contentDirFlag
	}
	if set("database", "SNARE_DATABASE") {
		o.Database = databaseFlag
	}
	if changed("file-only") {
		o.FileOnly = config.BoolPtr(fileOnlyFlag)
	}
	if changed("include") {
		o.Include = includeFlag
	}
	if changed("id-format") {
		o.IDFormat = idFormatFlag
	}
	if set("workers", "SNARE_WORKERS") {
		o.Workers = workersFlag
	}
	if set("rate", "SNARE_RATE") {
		o.Rate = rateFlag
	}
	if changed("max-ext-len") {
		o.MaxExtensionLength = maxExtLenFlag
	}
	if set("metrics-addr", "SNARE_METRICS_ADDR") {
		o.MetricsAddr = metricsAddrFlag
	}
	if set("no-color", "SNARE_NO_COLOR") {
		o.NoColor = config.BoolPtr(noColorFlag)
	}
	if set("verbose", "SNARE_VERBOSE") {
		o.Verbose = config.BoolPtr(verboseFlag)
	}

	if changed("headless") {
		o.Browser.Headless = config.BoolPtr(headlessFlag)
	}
	if changed("devtools") {
		o.Browser.Devtools = config.BoolPtr(devtoolsFlag)
	}
	if changed("incognito") {
		o.Browser.Incognito = config.BoolPtr(incognitoFlag)
	}
	if changed("stealth") {
		o.Browser.Stealth = config.BoolPtr(stealthFlag)
	}
	if changed("adblock") {
		o.Browser.AdBlock = config.BoolPtr(adBlockFlag)
	}
	if changed("remote-flags") {
		o.Browser.RemoteFlags = config.BoolPtr(remoteFlagsFlag)
	}
	if set("browser-bin", "SNARE_BROWSER_BIN") {
		o.Browser.Bin = browserBinFlag
	}
	if set("control-url", "SNARE_CONTROL_URL") {
		o.Browser.ControlURL = controlURLFlag
	}
	if changed("flags-url") {
		o.Browser.FlagsURL = flagsURLFlag
	}
	if changed("browser-flag") {
		o.Browser.Flags = browserFlagsFlag
	}

	return o
}

// startURL validates the optional positional URL. Invalid input is logged
// and ignored so the browser still opens.
func startURL(args []string) string {
	if len(args) == 0 {
		return ""
	}
	raw := strings.TrimSpace(args[0])
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || (u.Host == "" && u.Opaque == "" && u.Scheme != "file") {
		logger.Warn("ignoring invalid URL passed in", zap.String("url", raw))
		return ""
	}
	return raw
}

func browserConfig(cfg *config.Config) browser.Config {
	b := browser.DefaultConfig()
	b.Bin = cfg.Browser.Bin
	b.ControlURL = cfg.Browser.ControlURL
	b.Headless = cfg.Browser.GetHeadless()
	b.Devtools = cfg.Browser.GetDevtools()
	b.Incognito = cfg.Browser.GetIncognito()
	b.Stealth = cfg.Browser.GetStealth()
	b.AdBlock = cfg.Browser.GetAdBlock()
	if cfg.Browser.WindowWidth > 0 {
		b.WindowWidth = cfg.Browser.WindowWidth
	}
	if cfg.Browser.WindowHeight > 0 {
		b.WindowHeight = cfg.Browser.WindowHeight
	}
	b.Flags = append([]string(nil), cfg.Browser.Flags...)
	return b
}

func captureCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	target := startURL(args)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := newPipeline(ctx, cmd, cfg)
	if err != nil {
		return err
	}
	defer p.close()

	browserCfg := browserConfig(cfg)
	if cfg.Browser.GetRemoteFlags() && browserCfg.ControlURL == "" {
		remote, err := browser.FetchLaunchFlags(ctx, nil, cfg.Browser.FlagsURL)
		if err != nil {
			logger.Warn("starting without chrome-launcher default flags", zap.Error(err))
		} else {
			logger.Info("adding launch flags", zap.Strings("flags", remote))
			browserCfg.Flags = append(remote, browserCfg.Flags...)
		}
	}

	session, err := browser.Launch(ctx, browserCfg, browser.WithLogger(logger))
	if err != nil {
		return withExitCode(ExitBrowserError, err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Debug("browser close", zap.Error(err))
		}
	}()

	done := p.start(ctx, session)
	if target != "" {
		if err := session.Navigate(target); err != nil {
			logger.Warn("navigation failed", zap.String("url", target), zap.Error(err))
		}
	}
	logger.Info("capturing responses; close the tab or press Ctrl+C to stop")

	return p.finish(cmd, <-done)
}
