package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestEnsureDir(t *testing.T) {
	root := filepath.Join(t.TempDir(), "output", "responses")

	require.NoError(t, EnsureDir(root))
	info, err := os.Stat(root)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	// Idempotent
	assert.NoError(t, EnsureDir(root))
	assert.Error(t, EnsureDir(""))
}

func TestWriter_Write_BinarySafe(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(root)

	body := []byte{0x89, 'P', 'N', 'G', 0x00, 0x0d, 0x0a, 0xff, 0xfe}
	w.Write("abc.png", body)
	w.Wait()

	got, err := os.ReadFile(filepath.Join(root, "abc.png"))
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestWriter_Write_EmptyBody(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(root)

	w.Write("empty.txt", nil)
	w.Wait()

	info, err := os.Stat(filepath.Join(root, "empty.txt"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Size())
}

func TestWriter_Write_OverwritesCollision(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(root)

	require.NoError(t, w.WriteSync("same.txt", []byte("first")))
	require.NoError(t, w.WriteSync("same.txt", []byte("second")))

	got, err := os.ReadFile(filepath.Join(root, "same.txt"))
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))
}

func TestWriter_Write_FailureIsLogged(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)

	var mu sync.Mutex
	var failed []string
	w := NewWriter(filepath.Join(t.TempDir(), "missing"),
		WithLogger(zap.New(core)),
		WithFailureHook(func(filename string, err error) {
			mu.Lock()
			defer mu.Unlock()
			failed = append(failed, filename)
		}),
	)

	// Must not panic or block the caller
	w.Write("lost.bin", []byte("data"))
	w.Wait()

	assert.Equal(t, []string{"lost.bin"}, failed)
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "artifact write failed", entry.Message)
	assert.Equal(t, "lost.bin", entry.ContextMap()["file"])
}

func TestWriter_WriteSync_RejectsPaths(t *testing.T) {
	w := NewWriter(t.TempDir())

	assert.Error(t, w.WriteSync("", []byte("x")))
	assert.Error(t, w.WriteSync("../escape.txt", []byte("x")))
	assert.Error(t, w.WriteSync("nested/file.txt", []byte("x")))
}

func TestWriter_ConcurrentWrites(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(root)

	for i := 0; i < 50; i++ {
		w.Write(fmt.Sprintf("%02d.txt", i), []byte{byte(i)})
	}
	w.Wait()

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Len(t, entries, 50)
}
