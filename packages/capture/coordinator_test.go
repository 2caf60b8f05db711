package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/abdul-hamid-achik/snare/packages/artifact"
	"github.com/abdul-hamid-achik/snare/packages/db"
	"github.com/abdul-hamid-achik/snare/packages/ident"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type memWriter struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newMemWriter() *memWriter {
	return &memWriter{files: make(map[string][]byte)}
}

func (w *memWriter) Write(filename string, body []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.files[filename] = body
}

func (w *memWriter) Wait() {}

func (w *memWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.files)
}

type memRecorder struct {
	mu      sync.Mutex
	records []*db.Record
	err     error
}

func (r *memRecorder) Record(_ context.Context, rec *db.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.records = append(r.records, rec)
	return nil
}

type countingObserver struct {
	mu           sync.Mutex
	received     int
	rejected     int
	excluded     int
	fetched      int
	captured     int
	failed       int
	writeFailed  int
	recordFailed int
}

func (o *countingObserver) Received()             { o.inc(&o.received) }
func (o *countingObserver) Rejected()             { o.inc(&o.rejected) }
func (o *countingObserver) Excluded()             { o.inc(&o.excluded) }
func (o *countingObserver) Fetched(time.Duration) { o.inc(&o.fetched) }
func (o *countingObserver) Captured(string, int)  { o.inc(&o.captured) }
func (o *countingObserver) Failed()               { o.inc(&o.failed) }
func (o *countingObserver) WriteFailed()          { o.inc(&o.writeFailed) }
func (o *countingObserver) RecordFailed()         { o.inc(&o.recordFailed) }

func (o *countingObserver) inc(n *int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	*n++
}

func staticBody(b string) BodyFunc {
	return func(context.Context) ([]byte, error) {
		return []byte(b), nil
	}
}

func fixedID(id string) ident.Generator {
	return ident.GeneratorFunc(func() string { return id })
}

func TestAccepted(t *testing.T) {
	for _, code := range []int{200, 204, 299} {
		assert.True(t, Accepted(code), "status %d", code)
	}
	for _, code := range []int{300, 301, 304, 404, 500} {
		assert.False(t, Accepted(code), "status %d", code)
	}
}

func TestHandle_StatusFilter(t *testing.T) {
	tests := []struct {
		status int
		want   State
	}{
		{200, StateDone},
		{204, StateDone},
		{299, StateDone},
		{300, StateRejected},
		{301, StateRejected},
		{404, StateRejected},
		{500, StateRejected},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			w := newMemWriter()
			rec := &memRecorder{}
			c := NewCoordinator(w, WithRecorder(rec))

			resp := NewResponse("https://example.com/a.js", tt.status, nil, staticBody("x"))
			out := c.Handle(context.Background(), resp)

			assert.Equal(t, tt.want, out.State, "status %d", tt.status)
			if tt.want == StateRejected {
				assert.Zero(t, w.count())
				assert.Empty(t, rec.records)
			} else {
				assert.Equal(t, 1, w.count())
				assert.Len(t, rec.records, 1)
			}
		})
	}
}

func TestHandle_RejectedNeverFetchesBody(t *testing.T) {
	c := NewCoordinator(newMemWriter())
	fetched := false
	resp := NewResponse("https://example.com/", 302, nil, func(context.Context) ([]byte, error) {
		fetched = true
		return nil, nil
	})

	out := c.Handle(context.Background(), resp)
	assert.Equal(t, StateRejected, out.State)
	assert.NoError(t, out.Err)
	assert.False(t, fetched)
}

func TestHandle_ScenarioImageFromURL(t *testing.T) {
	w := newMemWriter()
	rec := &memRecorder{}
	c := NewCoordinator(w, WithRecorder(rec), WithGenerator(fixedID("id-a")))

	headers := map[string]string{"content-type": "image/png"}
	resp := NewResponse("https://example.com/img/logo.png", 200, headers, staticBody("PNGDATA"))

	out := c.Handle(context.Background(), resp)
	require.Equal(t, StateDone, out.State)
	require.NoError(t, out.Err)

	assert.Equal(t, "id-a.png", out.Filename)
	assert.Equal(t, []byte("PNGDATA"), w.files["id-a.png"])

	require.Len(t, rec.records, 1)
	got := rec.records[0]
	assert.Equal(t, "id-a", got.ID)
	assert.Equal(t, "png", got.Extension)
	assert.Equal(t, "https://example.com/img/logo.png", got.URL)
	assert.Equal(t, "image/png", got.ContentType)
	assert.Equal(t, headers, got.Headers)
}

func TestHandle_ScenarioExtensionFromContentType(t *testing.T) {
	w := newMemWriter()
	c := NewCoordinator(w, WithGenerator(fixedID("id-b")))

	resp := NewResponse("https://example.com/api/data", 200,
		map[string]string{"Content-Type": "application/json"}, staticBody(`{"a":1}`))

	out := c.Handle(context.Background(), resp)
	require.Equal(t, StateDone, out.State)
	assert.Equal(t, "json", out.Extension)
	assert.Contains(t, w.files, "id-b.json")
}

func TestHandle_ScenarioRedirectSkipped(t *testing.T) {
	w := newMemWriter()
	rec := &memRecorder{}
	obs := &countingObserver{}
	c := NewCoordinator(w, WithRecorder(rec), WithObserver(obs))

	resp := NewResponse("https://example.com/old", 301,
		map[string]string{"Location": "https://example.com/new"}, staticBody(""))

	out := c.Handle(context.Background(), resp)
	assert.Equal(t, StateRejected, out.State)
	assert.Zero(t, w.count())
	assert.Empty(t, rec.records)
	assert.Equal(t, 1, obs.rejected)
}

func TestHandle_ScenarioRecordFailureKeepsFile(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	w := newMemWriter()
	rec := &memRecorder{err: errors.New("database is locked")}
	obs := &countingObserver{}
	c := NewCoordinator(w,
		WithRecorder(rec),
		WithGenerator(fixedID("id-d")),
		WithLogger(zap.New(core)),
		WithObserver(obs))

	resp := NewResponse("https://example.com/app.js", 200, nil, staticBody("js"))
	out := c.Handle(context.Background(), resp)

	assert.Equal(t, StateFailed, out.State)
	assert.ErrorIs(t, out.Err, ErrRecord)
	assert.Contains(t, w.files, "id-d.js")
	assert.Equal(t, 1, obs.recordFailed)

	entries := logs.FilterMessage("metadata persist failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "id-d", entries[0].ContextMap()["id"])
}

func TestHandle_FetchFailure(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	w := newMemWriter()
	rec := &memRecorder{}
	c := NewCoordinator(w, WithRecorder(rec), WithLogger(zap.New(core)))

	resp := NewResponse("https://example.com/gone", 200, nil, func(context.Context) ([]byte, error) {
		return nil, errors.New("No resource with given identifier found")
	})

	out := c.Handle(context.Background(), resp)
	assert.Equal(t, StateFailed, out.State)
	assert.ErrorIs(t, out.Err, ErrFetch)
	assert.Zero(t, w.count())
	assert.Empty(t, rec.records)
	assert.Equal(t, 1, logs.FilterMessage(failureBanner).Len())
}

func TestHandle_RecoversPanic(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	obs := &countingObserver{}
	c := NewCoordinator(newMemWriter(), WithLogger(zap.New(core)), WithObserver(obs))

	resp := NewResponse("https://example.com/x", 200, nil, func(context.Context) ([]byte, error) {
		panic("boom")
	})

	var out Outcome
	require.NotPanics(t, func() {
		out = c.Handle(context.Background(), resp)
	})
	assert.Equal(t, StateFailed, out.State)
	assert.ErrorIs(t, out.Err, ErrPipeline)
	assert.Contains(t, out.Err.Error(), "boom")
	assert.Equal(t, 1, obs.failed)

	entries := logs.FilterMessage(failureBanner).All()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].ContextMap(), "stack")
}

func TestHandle_NilResponse(t *testing.T) {
	c := NewCoordinator(newMemWriter())
	out := c.Handle(context.Background(), nil)
	assert.Equal(t, StateFailed, out.State)
	assert.ErrorIs(t, out.Err, ErrPipeline)
}

func TestHandle_Include(t *testing.T) {
	w := newMemWriter()
	obs := &countingObserver{}
	re, err := CompileInclude("image")
	require.NoError(t, err)
	c := NewCoordinator(w, WithInclude(re), WithObserver(obs))

	out := c.Handle(context.Background(), NewResponse("https://example.com/a.css", 200, nil, staticBody("")))
	assert.Equal(t, StateExcluded, out.State)

	out = c.Handle(context.Background(), NewResponse("https://example.com/a.webp", 200, nil, staticBody("")))
	assert.Equal(t, StateDone, out.State)

	assert.Equal(t, 1, obs.excluded)
	assert.Equal(t, 1, w.count())
}

func TestHandle_EmptyBodyIsCaptured(t *testing.T) {
	w := newMemWriter()
	c := NewCoordinator(w, WithGenerator(fixedID("empty")))

	out := c.Handle(context.Background(), NewResponse("https://example.com/pixel", 204, nil, nil))
	require.Equal(t, StateDone, out.State)
	assert.Equal(t, "empty.txt", out.Filename)
	assert.Empty(t, w.files["empty.txt"])
}

func TestCoordinator_FileOnly(t *testing.T) {
	assert.True(t, NewCoordinator(newMemWriter()).FileOnly())
	assert.False(t, NewCoordinator(newMemWriter(), WithRecorder(&memRecorder{})).FileOnly())
}

func TestRun_ConsumesUntilClosed(t *testing.T) {
	w := newMemWriter()
	rec := &memRecorder{}
	obs := &countingObserver{}
	c := NewCoordinator(w, WithRecorder(rec), WithWorkers(4), WithObserver(obs))

	stream := make(ChanStream)
	go func() {
		defer close(stream)
		for i := 0; i < 50; i++ {
			status := 200
			if i%5 == 0 {
				status = 302
			}
			stream <- NewResponse("https://example.com/f.js", status, nil, staticBody("x"))
		}
	}()

	require.NoError(t, c.Run(context.Background(), stream))

	assert.Equal(t, 50, obs.received)
	assert.Equal(t, 10, obs.rejected)
	assert.Equal(t, 40, w.count())
	assert.Len(t, rec.records, 40)
}

func TestRun_ContinuesAfterFailures(t *testing.T) {
	w := newMemWriter()
	c := NewCoordinator(w, WithWorkers(2))

	stream := make(ChanStream, 3)
	stream <- NewResponse("https://example.com/1.js", 200, nil, func(context.Context) ([]byte, error) {
		panic("first")
	})
	stream <- NewResponse("https://example.com/2.js", 200, nil, func(context.Context) ([]byte, error) {
		return nil, errors.New("second")
	})
	stream <- NewResponse("https://example.com/3.js", 200, nil, staticBody("third"))
	close(stream)

	require.NoError(t, c.Run(context.Background(), stream))
	assert.Equal(t, 1, w.count())
}

func TestRun_StopsOnCancel(t *testing.T) {
	c := NewCoordinator(newMemWriter())
	stream := make(ChanStream)
	defer close(stream)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, stream) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_WithStore(t *testing.T) {
	dir := t.TempDir()
	store, err := db.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	var c *Coordinator
	obs := &countingObserver{}
	writer := artifact.NewWriter(dir, artifact.WithFailureHook(func(filename string, err error) {
		c.WriteFailed(filename, err)
	}))
	c = NewCoordinator(writer, WithRecorder(store), WithObserver(obs))

	stream := make(ChanStream, 3)
	stream <- NewResponse("https://example.com/a.png", 200,
		map[string]string{"content-type": "image/png"}, staticBody("png"))
	stream <- NewResponse("https://example.com/api", 200,
		map[string]string{"content-type": "application/json; charset=utf-8"}, staticBody("{}"))
	stream <- NewResponse("https://example.com/moved", 308, nil, staticBody(""))
	close(stream)

	require.NoError(t, c.Run(context.Background(), stream))

	records, err := store.List(context.Background(), db.ListOptions{})
	require.NoError(t, err)
	require.Len(t, records, 2)

	for _, r := range records {
		data, err := os.ReadFile(filepath.Join(dir, r.Filename()))
		require.NoError(t, err, "artifact for %s", r.URL)
		if strings.HasSuffix(r.URL, ".png") {
			assert.Equal(t, "png", string(data))
		} else {
			assert.Equal(t, "json", r.Extension)
		}
	}
	assert.Zero(t, obs.writeFailed)
}

func TestHandle_RecordFailureIsIsolated(t *testing.T) {
	dir := t.TempDir()
	store, err := db.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ids := []string{"dup", "dup", "fresh"}
	var next int
	gen := ident.GeneratorFunc(func() string {
		id := ids[next]
		next++
		return id
	})

	writer := artifact.NewWriter(dir)
	c := NewCoordinator(writer, WithRecorder(store), WithGenerator(gen))

	first := c.Handle(context.Background(), NewResponse("https://example.com/one.css", 200, nil, staticBody("a{}")))
	second := c.Handle(context.Background(), NewResponse("https://example.com/two.css", 200, nil, staticBody("b{}")))
	third := c.Handle(context.Background(), NewResponse("https://example.com/three.js", 200, nil, staticBody("c()")))
	writer.Wait()

	assert.Equal(t, StateDone, first.State)
	assert.Equal(t, StateFailed, second.State)
	assert.ErrorIs(t, second.Err, ErrRecord)
	assert.ErrorIs(t, second.Err, db.ErrDuplicateID)

	require.Equal(t, StateDone, third.State)
	assert.NoError(t, third.Err)

	records, err := store.List(context.Background(), db.ListOptions{})
	require.NoError(t, err)
	require.Len(t, records, 2)
	urls := []string{records[0].URL, records[1].URL}
	assert.ElementsMatch(t, []string{"https://example.com/one.css", "https://example.com/three.js"}, urls)

	data, err := os.ReadFile(filepath.Join(dir, "fresh.js"))
	require.NoError(t, err)
	assert.Equal(t, "c()", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestCompileInclude(t *testing.T) {
	re, err := CompileInclude("")
	require.NoError(t, err)
	assert.Nil(t, re)

	re, err = CompileInclude("PNG")
	require.NoError(t, err)
	assert.True(t, re.MatchString("https://x/a.png"))
	assert.False(t, re.MatchString("https://x/a.jpg"))

	re, err = CompileInclude(`/api/`)
	require.NoError(t, err)
	assert.True(t, re.MatchString("https://x/api/v1"))

	_, err = CompileInclude("(")
	assert.Error(t, err)

	assert.Equal(t, []string{"everything", "image", "png", "xhtml"}, PresetNames())
	assert.True(t, regexp.MustCompile(Presets["everything"]).MatchString(""))
}

func TestResponse_Header(t *testing.T) {
	resp := NewResponse("u", 200, map[string]string{"Content-Type": "text/css"}, nil)
	assert.Equal(t, "text/css", resp.ContentType())
	assert.Equal(t, "text/css", resp.Header("content-type"))
	assert.Equal(t, "", resp.Header("etag"))

	body, err := resp.Body(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, body)
}
