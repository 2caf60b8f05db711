package capture

import (
	"context"
	"fmt"
	"regexp"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/abdul-hamid-achik/snare/packages/db"
	"github.com/abdul-hamid-achik/snare/packages/extension"
	"github.com/abdul-hamid-achik/snare/packages/ident"
)

// DefaultWorkers is the number of responses handled concurrently
const DefaultWorkers = 8

const failureBanner = "==================== capture failed ===================="

// State is the terminal state of one handled response
type State int

const (
	StateRejected State = iota
	StateExcluded
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateRejected:
		return "rejected"
	case StateExcluded:
		return "excluded"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome describes what happened to a single response
type Outcome struct {
	State     State
	ID        string
	Extension string
	Filename  string
	Size      int
	Err       error
}

// ArtifactWriter stores response bodies
type ArtifactWriter interface {
	Write(filename string, body []byte)
	Wait()
}

// Recorder persists artifact descriptors
type Recorder interface {
	Record(ctx context.Context, rec *db.Record) error
}

// Resolver derives a file extension for a response
type Resolver interface {
	Resolve(rawURL, contentType string) string
}

// Observer is notified as responses move through the pipeline
type Observer interface {
	Received()
	Rejected()
	Excluded()
	Fetched(d time.Duration)
	Captured(extension string, size int)
	Failed()
	WriteFailed()
	RecordFailed()
}

// Coordinator routes each response of a stream through the capture pipeline
type Coordinator struct {
	writer    ArtifactWriter
	recorder  Recorder
	resolver  Resolver
	generator ident.Generator
	include   *regexp.Regexp
	limiter   *rate.Limiter
	workers   int
	logger    *zap.Logger
	observers []Observer
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithRecorder sets the metadata recorder. A nil recorder stores files only.
func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) {
		c.recorder = r
	}
}

// WithResolver sets the extension resolver
func WithResolver(r Resolver) Option {
	return func(c *Coordinator) {
		if r != nil {
			c.resolver = r
		}
	}
}

// WithGenerator sets the identifier generator
func WithGenerator(g ident.Generator) Option {
	return func(c *Coordinator) {
		if g != nil {
			c.generator = g
		}
	}
}

// WithInclude restricts capture to URLs matching re. Nil captures everything.
func WithInclude(re *regexp.Regexp) Option {
	return func(c *Coordinator) {
		c.include = re
	}
}

// WithWorkers sets the number of concurrent pipelines
func WithWorkers(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithRateLimit caps body retrievals per second. Zero disables the limit.
func WithRateLimit(perSecond float64) Option {
	return func(c *Coordinator) {
		if perSecond > 0 {
			burst := int(perSecond)
			if burst < 1 {
				burst = 1
			}
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithObserver adds pipeline observers
func WithObserver(obs ...Observer) Option {
	return func(c *Coordinator) {
		for _, o := range obs {
			if o != nil {
				c.observers = append(c.observers, o)
			}
		}
	}
}

// NewCoordinator creates a coordinator that stores bodies through writer
func NewCoordinator(writer ArtifactWriter, opts ...Option) *Coordinator {
	gen, _ := ident.New(ident.Timestamp)
	c := &Coordinator{
		writer:    writer,
		resolver:  extension.NewResolver(),
		generator: gen,
		workers:   DefaultWorkers,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FileOnly reports whether metadata recording is disabled
func (c *Coordinator) FileOnly() bool {
	return c.recorder == nil
}

// Run consumes the stream until it is closed or ctx is cancelled, then waits
// for pending artifact writes.
func (c *Coordinator) Run(ctx context.Context, stream Stream) error {
	responses := stream.Responses()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < c.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case resp, ok := <-responses:
					if !ok {
						return nil
					}
					c.Handle(gctx, resp)
				}
			}
		})
	}

	err := g.Wait()
	c.writer.Wait()
	return err
}

// Handle runs a single response through the pipeline. It never panics; any
// failure is logged and reported in the outcome.
func (c *Coordinator) Handle(ctx context.Context, resp *Response) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out.State = StateFailed
			out.Err = fmt.Errorf("%w: panic: %v", ErrPipeline, r)
			c.fail(resp, out.Err, zap.ByteString("stack", debug.Stack()))
		}
	}()

	c.each(func(o Observer) { o.Received() })

	if resp == nil {
		out.State = StateFailed
		out.Err = fmt.Errorf("%w: nil response", ErrPipeline)
		c.fail(resp, out.Err)
		return out
	}

	if !Accepted(resp.StatusCode) {
		c.logger.Debug("response rejected",
			zap.String("url", resp.URL),
			zap.Int("status", resp.StatusCode))
		c.each(func(o Observer) { o.Rejected() })
		out.State = StateRejected
		return out
	}

	if c.include != nil && !c.include.MatchString(resp.URL) {
		c.logger.Debug("response excluded", zap.String("url", resp.URL))
		c.each(func(o Observer) { o.Excluded() })
		out.State = StateExcluded
		return out
	}

	c.logger.Info("capturing response",
		zap.String("url", resp.URL),
		zap.Int("status", resp.StatusCode))

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			out.State = StateFailed
			out.Err = fmt.Errorf("%w: %w", ErrPipeline, err)
			c.fail(resp, out.Err)
			return out
		}
	}

	start := time.Now()
	body, err := resp.Body(ctx)
	if err != nil {
		out.State = StateFailed
		out.Err = fmt.Errorf("%w: %w", ErrFetch, err)
		c.fail(resp, out.Err)
		return out
	}
	elapsed := time.Since(start)
	c.each(func(o Observer) { o.Fetched(elapsed) })

	contentType := resp.ContentType()
	out.Extension = c.resolver.Resolve(resp.URL, contentType)
	out.ID = c.generator.Generate()
	out.Filename = out.ID + "." + out.Extension
	out.Size = len(body)

	c.writer.Write(out.Filename, body)
	c.each(func(o Observer) { o.Captured(out.Extension, out.Size) })

	if c.recorder != nil {
		rec := &db.Record{
			ID:          out.ID,
			URL:         resp.URL,
			Extension:   out.Extension,
			ContentType: contentType,
			Headers:     resp.Headers,
		}
		if err := c.recorder.Record(ctx, rec); err != nil {
			c.logger.Error("metadata persist failed",
				zap.String("id", out.ID),
				zap.String("url", resp.URL),
				zap.Error(err))
			c.each(func(o Observer) { o.RecordFailed() })
			out.State = StateFailed
			out.Err = fmt.Errorf("%w: %w", ErrRecord, err)
			return out
		}
	}

	out.State = StateDone
	return out
}

// WriteFailed forwards an asynchronous artifact write failure to observers.
// It matches the artifact writer's failure hook.
func (c *Coordinator) WriteFailed(filename string, err error) {
	c.each(func(o Observer) { o.WriteFailed() })
}

func (c *Coordinator) fail(resp *Response, err error, extra ...zap.Field) {
	fields := []zap.Field{zap.Error(err)}
	if resp != nil {
		fields = append(fields,
			zap.String("url", resp.URL),
			zap.Int("status", resp.StatusCode))
	}
	fields = append(fields, extra...)

	c.logger.Error(failureBanner, fields...)
	c.each(func(o Observer) { o.Failed() })
}

func (c *Coordinator) each(fn func(Observer)) {
	for _, o := range c.observers {
		fn(o)
	}
}
