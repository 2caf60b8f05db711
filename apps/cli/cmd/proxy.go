package cmd

import (
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/abdul-hamid-achik/snare/packages/proxy"
)

var (
	proxyAddrFlag     string
	proxyExcludeFlag  string
	proxyRedactFlag   string
	proxyNoDecodeFlag bool
)

var proxyCmd = &cobra.Command{
	Use:   "proxy <target-url>",
	Short: "Capture responses through a reverse proxy instead of a browser",
	Long: `Start a reverse proxy in front of a single origin and store every
response that passes through it, exactly as 'snare capture' does for a
browser session. Point any HTTP client at the proxy address.

The proxy:
- Forwards all requests to the target origin
- Decodes gzip, deflate and zstd bodies before storing them
- Redacts sensitive headers (Authorization, Cookie, Set-Cookie, API keys)

Examples:
  snare proxy https://api.example.com
  snare proxy https://api.example.com --addr :9000 --include '/v1/'
  snare proxy https://api.example.com --exclude "/health,/metrics"`,
	Args: cobra.ExactArgs(1),
	RunE: proxyCommand,
}

func init() {
	addPipelineFlags(proxyCmd)

	proxyCmd.Flags().StringVarP(&proxyAddrFlag, "addr", "a", getEnvString("SNARE_PROXY_ADDR", ":8080"), "Address to listen on (env: SNARE_PROXY_ADDR)")
	proxyCmd.Flags().StringVar(&proxyExcludeFlag, "exclude", "", "Paths to proxy without capturing (comma-separated)")
	proxyCmd.Flags().StringVar(&proxyRedactFlag, "redact", strings.Join(proxy.DefaultRedact, ","), "Headers whose values are not stored (comma-separated)")
	proxyCmd.Flags().BoolVar(&proxyNoDecodeFlag, "no-decode", false, "Store compressed bodies as received")
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func proxyCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	source, err := proxy.New(args[0],
		proxy.WithAddr(proxyAddrFlag),
		proxy.WithLogger(logger),
		proxy.WithExclude(splitList(proxyExcludeFlag)),
		proxy.WithRedact(splitList(proxyRedactFlag)),
		proxy.WithDecode(!proxyNoDecodeFlag))
	if err != nil {
		return withExitCode(ExitUsageError, err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := newPipeline(ctx, cmd, cfg)
	if err != nil {
		return err
	}
	defer p.close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return source.Serve(gctx)
	})
	done := p.start(ctx, source)

	// The coordinator drains the stream until the proxy closes it
	serveErr := g.Wait()
	return p.finish(cmd, firstError(serveErr, <-done))
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
