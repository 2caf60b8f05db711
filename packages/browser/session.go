// Package browser launches a controlled Chrome and exposes the network
// responses of its page as a capture stream.
package browser

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/abdul-hamid-achik/snare/packages/capture"
)

// DefaultBlockedURLs are the tracker patterns blocked when AdBlock is on
var DefaultBlockedURLs = []string{
	"*doubleclick.net*",
	"*googlesyndication.com*",
	"*google-analytics.com*",
	"*googletagmanager.com*",
	"*adservice.google.com*",
	"*facebook.net/tr*",
	"*scorecardresearch.com*",
	"*hotjar.com*",
}

// Config controls how the browser is launched
type Config struct {
	// Bin is the browser executable. Empty lets rod locate or download one.
	Bin string
	// ControlURL attaches to a running browser instead of launching one
	ControlURL string

	Headless  bool
	Devtools  bool
	Incognito bool
	Stealth   bool
	AdBlock   bool

	WindowWidth  int
	WindowHeight int

	// Flags are extra command-line switches such as "--mute-audio"
	Flags []string
	// BufferSize is the capacity of the response channel
	BufferSize int
}

// DefaultConfig returns the interactive defaults: a visible window with
// devtools open in an incognito profile.
func DefaultConfig() Config {
	return Config{
		Headless:     false,
		Devtools:     true,
		Incognito:    true,
		Stealth:      true,
		AdBlock:      true,
		WindowWidth:  1920,
		WindowHeight: 1080,
		BufferSize:   256,
	}
}

// Session is a running browser with one observed page
type Session struct {
	cfg      Config
	logger   *zap.Logger
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page

	responses chan *capture.Response
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Option configures a Session
type Option func(*Session)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// Launch starts (or attaches to) a browser and begins streaming responses
// of its first page.
func Launch(ctx context.Context, cfg Config, opts ...Option) (*Session, error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}

	s := &Session{
		cfg:       cfg,
		logger:    zap.NewNop(),
		responses: make(chan *capture.Response, cfg.BufferSize),
	}
	for _, opt := range opts {
		opt(s)
	}

	controlURL := cfg.ControlURL
	if controlURL == "" {
		s.launcher = newLauncher(cfg).Context(ctx)
		u, err := s.launcher.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
		controlURL = u
	}

	s.browser = rod.New().ControlURL(controlURL).Context(ctx)
	if err := s.browser.Connect(); err != nil {
		s.kill()
		return nil, fmt.Errorf("connect to browser: %w", err)
	}

	page, err := s.firstPage()
	if err != nil {
		s.kill()
		return nil, err
	}
	s.page = page

	if cfg.AdBlock {
		if err := (proto.NetworkSetBlockedURLs{Urls: DefaultBlockedURLs}).Call(page); err != nil {
			s.logger.Warn("failed to enable tracker blocking", zap.Error(err))
		}
	}

	streamCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	if err := s.startStream(streamCtx); err != nil {
		cancel()
		s.kill()
		return nil, err
	}

	s.logger.Debug("browser session started",
		zap.String("control_url", controlURL),
		zap.Bool("headless", cfg.Headless))

	return s, nil
}

// Responses implements capture.Stream. The channel closes when the page
// goes away or the session is closed.
func (s *Session) Responses() <-chan *capture.Response {
	return s.responses
}

// Navigate opens rawURL in the observed page
func (s *Session) Navigate(rawURL string) error {
	if err := s.page.Navigate(rawURL); err != nil {
		return fmt.Errorf("navigate to %s: %w", rawURL, err)
	}
	return nil
}

// Close stops streaming and shuts the browser down
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
		if s.browser != nil && s.launcher != nil {
			err = s.browser.Close()
		}
		s.kill()
	})
	return err
}

func (s *Session) firstPage() (*rod.Page, error) {
	pages, err := s.browser.Pages()
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	for _, p := range pages {
		info, err := p.Info()
		if err == nil && info.Type == proto.TargetTargetInfoTypePage {
			return p, nil
		}
	}

	page, err := s.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	return page, nil
}

func (s *Session) kill() {
	if s.launcher == nil {
		return
	}
	s.launcher.Kill()
	s.launcher.Cleanup()
}

func newLauncher(cfg Config) *launcher.Launcher {
	l := launcher.New().Headless(cfg.Headless).Devtools(cfg.Devtools && !cfg.Headless)
	if cfg.Bin != "" {
		l = l.Bin(cfg.Bin)
	}

	// User-supplied flags first so the explicit settings below win
	for _, raw := range cfg.Flags {
		name, value, hasValue := splitFlag(raw)
		if name == "" {
			continue
		}
		if hasValue {
			l = l.Set(flags.Flag(name), value)
		} else {
			l = l.Set(flags.Flag(name))
		}
	}

	if cfg.WindowWidth > 0 && cfg.WindowHeight > 0 {
		l = l.Set("window-size", strconv.Itoa(cfg.WindowWidth), strconv.Itoa(cfg.WindowHeight))
		l = l.Set("window-position", "0", "0")
	}
	l = l.Set("enable-logging")
	if cfg.Incognito {
		l = l.Set("incognito")
	}
	if cfg.Stealth {
		l = l.Set("disable-blink-features", "AutomationControlled")
	}

	return l
}
