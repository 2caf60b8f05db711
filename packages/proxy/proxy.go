// Package proxy provides a reverse proxy that feeds every upstream response
// into the capture pipeline. It is the browser-free alternative to the
// browser package: point any HTTP client at the proxy instead of the origin.
package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/abdul-hamid-achik/snare/packages/capture"
)

// Redacted replaces the value of sanitized headers
const Redacted = "[REDACTED]"

// DefaultRedact lists headers whose values are never stored
var DefaultRedact = []string{"Authorization", "Cookie", "Set-Cookie", "X-Api-Key", "Api-Key"}

// Proxy forwards requests to a single origin and streams the responses
type Proxy struct {
	target     *url.URL
	addr       string
	logger     *zap.Logger
	redact     []string
	exclude    []string
	decode     bool
	bufferSize int

	responses chan *capture.Response
	done      chan struct{}
	stopOnce  sync.Once
	mu        sync.Mutex
	listener  net.Listener

	// sendMu guards responses against a send after close
	sendMu sync.RWMutex
	closed bool
}

// Option is a functional option for Proxy
type Option func(*Proxy)

// WithAddr sets the listen address
func WithAddr(addr string) Option {
	return func(p *Proxy) {
		p.addr = addr
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(p *Proxy) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithRedact sets headers to redact
func WithRedact(headers []string) Option {
	return func(p *Proxy) {
		p.redact = headers
	}
}

// WithExclude sets path fragments that are proxied but not streamed
func WithExclude(paths []string) Option {
	return func(p *Proxy) {
		p.exclude = paths
	}
}

// WithDecode controls whether compressed bodies are decoded before capture
func WithDecode(enabled bool) Option {
	return func(p *Proxy) {
		p.decode = enabled
	}
}

// WithBufferSize sets the capacity of the response channel
func WithBufferSize(n int) Option {
	return func(p *Proxy) {
		if n > 0 {
			p.bufferSize = n
		}
	}
}

// New creates a proxy for targetURL
func New(targetURL string, opts ...Option) (*Proxy, error) {
	if targetURL == "" {
		return nil, fmt.Errorf("target URL is required")
	}
	target, err := url.Parse(targetURL)
	if err != nil {
		return nil, fmt.Errorf("invalid target URL: %w", err)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, fmt.Errorf("invalid target URL %q: scheme must be http or https", targetURL)
	}

	p := &Proxy{
		target:     target,
		addr:       ":8080",
		logger:     zap.NewNop(),
		redact:     DefaultRedact,
		decode:     true,
		bufferSize: 256,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.responses = make(chan *capture.Response, p.bufferSize)
	return p, nil
}

// Responses implements capture.Stream. The channel closes after Serve returns.
func (p *Proxy) Responses() <-chan *capture.Response {
	return p.responses
}

// Addr returns the bound address once Serve is listening
func (p *Proxy) Addr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listener == nil {
		return p.addr
	}
	return p.listener.Addr().String()
}

// Handler returns the proxying handler
func (p *Proxy) Handler() http.Handler {
	target := p.target
	rp := &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			r.SetURL(target)
			r.SetXForwarded()
		},
		ModifyResponse: p.record,
		ErrorHandler: func(w http.ResponseWriter, req *http.Request, err error) {
			p.logger.Warn("upstream request failed", zap.String("url", req.URL.String()), zap.Error(err))
			w.WriteHeader(http.StatusBadGateway)
		},
	}
	return rp
}

// Serve listens on the configured address until ctx is cancelled. On
// cancellation it waits for in-flight requests before closing the stream.
func (p *Proxy) Serve(ctx context.Context) error {
	defer p.closeStream()

	ln, err := net.Listen("tcp", p.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", p.addr, err)
	}
	p.mu.Lock()
	p.listener = ln
	p.mu.Unlock()

	server := &http.Server{
		Handler:           p.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	p.logger.Info("capture proxy listening",
		zap.String("addr", ln.Addr().String()),
		zap.String("target", p.target.String()))

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		p.stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			p.logger.Warn("proxy shutdown incomplete", zap.Error(err))
			_ = server.Close()
		}
		err = <-serveErr
	case err = <-serveErr:
	}

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// stop makes pending and future sends give up
func (p *Proxy) stop() {
	p.stopOnce.Do(func() { close(p.done) })
}

// closeStream ends the response stream once no send is in progress
func (p *Proxy) closeStream() {
	p.stop()
	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.responses)
	}
}

// emit hands resp to the stream unless the proxy is stopping
func (p *Proxy) emit(ctx context.Context, resp *capture.Response) {
	p.sendMu.RLock()
	defer p.sendMu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.responses <- resp:
	case <-p.done:
	case <-ctx.Done():
	}
}

func (p *Proxy) record(resp *http.Response) error {
	if p.shouldExclude(resp.Request.URL.Path) {
		p.logger.Debug("excluded", zap.String("path", resp.Request.URL.Path))
		return nil
	}

	var body []byte
	if resp.Body != nil {
		data, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return fmt.Errorf("read upstream body: %w", err)
		}
		body = data
		resp.Body = io.NopCloser(bytes.NewReader(data))
	}

	captured := body
	if p.decode {
		decoded, err := decodeContent(resp.Header.Get("Content-Encoding"), body)
		if err != nil {
			p.logger.Warn("storing body undecoded", zap.String("url", resp.Request.URL.String()), zap.Error(err))
		} else {
			captured = decoded
		}
	}

	out := capture.NewResponse(resp.Request.URL.String(), resp.StatusCode, p.sanitizeHeaders(resp.Header),
		func(context.Context) ([]byte, error) { return captured, nil })

	p.emit(resp.Request.Context(), out)
	return nil
}

func (p *Proxy) shouldExclude(path string) bool {
	for _, exclude := range p.exclude {
		if exclude != "" && strings.Contains(path, exclude) {
			return true
		}
	}
	return false
}

func (p *Proxy) sanitizeHeaders(h http.Header) map[string]string {
	result := make(map[string]string, len(h))
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		result[key] = values[0]
		for _, s := range p.redact {
			if strings.EqualFold(key, s) {
				result[key] = Redacted
				break
			}
		}
	}
	return result
}
