// Package artifact persists captured response bodies to the content directory.
package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// Writer writes bodies under a single flat content root. Writes run in the
// background; failures are logged and never returned to the caller.
type Writer struct {
	root      string
	perm      os.FileMode
	logger    *zap.Logger
	onFailure func(filename string, err error)
	wg        sync.WaitGroup
}

// Option is a functional option for Writer
type Option func(*Writer)

// WithLogger sets the logger used for write failures
func WithLogger(l *zap.Logger) Option {
	return func(w *Writer) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithFileMode sets the permission bits of written files
func WithFileMode(perm os.FileMode) Option {
	return func(w *Writer) {
		w.perm = perm
	}
}

// WithFailureHook registers a callback invoked after a failed write
func WithFailureHook(fn func(filename string, err error)) Option {
	return func(w *Writer) {
		w.onFailure = fn
	}
}

// NewWriter creates a writer for root. The directory must already exist; see EnsureDir.
func NewWriter(root string, opts ...Option) *Writer {
	w := &Writer{
		root:   root,
		perm:   0644,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// EnsureDir creates the content root and its parents. It is a no-op when the
// directory already exists.
func EnsureDir(root string) error {
	if root == "" {
		return fmt.Errorf("content directory is required")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return fmt.Errorf("failed to create content directory: %w", err)
	}
	return nil
}

// Root returns the content root
func (w *Writer) Root() string {
	return w.root
}

// Path returns the on-disk location for filename
func (w *Writer) Path(filename string) string {
	return filepath.Join(w.root, filename)
}

// Write stores body as filename in the background. An existing file with the
// same name is overwritten; uniqueness comes from the identifier.
func (w *Writer) Write(filename string, body []byte) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.WriteSync(filename, body); err != nil {
			w.logger.Error("artifact write failed",
				zap.String("file", filename),
				zap.Error(err),
			)
			if w.onFailure != nil {
				w.onFailure(filename, err)
			}
		}
	}()
}

// WriteSync stores body as filename and returns any I/O error.
func (w *Writer) WriteSync(filename string, body []byte) error {
	if filename == "" || filename != filepath.Base(filename) {
		return fmt.Errorf("invalid artifact filename %q", filename)
	}
	if err := os.WriteFile(w.Path(filename), body, w.perm); err != nil {
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	return nil
}

// Wait blocks until every pending background write has finished.
func (w *Writer) Wait() {
	w.wg.Wait()
}
