package ident

import (
	"regexp"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Uniqueness(t *testing.T) {
	const n = 10000

	for _, kind := range []Kind{Random, Timestamp, V7} {
		t.Run(string(kind), func(t *testing.T) {
			gen, err := New(kind)
			require.NoError(t, err)

			seen := make(map[string]struct{}, n)
			for i := 0; i < n; i++ {
				id := gen.Generate()
				require.NotEmpty(t, id)
				seen[id] = struct{}{}
			}
			assert.Len(t, seen, n)
		})
	}
}

func TestNew_Formats(t *testing.T) {
	gen, err := New(Random)
	require.NoError(t, err)
	parsed, err := uuid.Parse(gen.Generate())
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(4), parsed.Version())

	gen, err = New(V7)
	require.NoError(t, err)
	parsed, err = uuid.Parse(gen.Generate())
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())

	gen, err = New(Timestamp)
	require.NoError(t, err)
	pattern := regexp.MustCompile(`^\d{8}_\d{6}\.\d{3}_[0-9a-f-]{36}$`)
	assert.Regexp(t, pattern, gen.Generate())
}

func TestNew_DefaultAndCase(t *testing.T) {
	gen, err := New("")
	require.NoError(t, err)
	assert.Regexp(t, `^\d{8}_`, gen.Generate())

	_, err = New("RANDOM")
	assert.NoError(t, err)
}

func TestNew_Unknown(t *testing.T) {
	_, err := New("sequential")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "sequential")
}

func TestNewTimestamped_SortsChronologically(t *testing.T) {
	base := time.Date(2024, 3, 9, 23, 59, 58, 0, time.UTC)
	var ids []string
	for i := 0; i < 5; i++ {
		at := base.Add(time.Duration(i) * 750 * time.Millisecond)
		gen := NewTimestamped(func() time.Time { return at })
		ids = append(ids, gen.Generate())
	}

	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	assert.Equal(t, ids, sorted)
	assert.Regexp(t, `^20240309_235958\.000_`, ids[0])
}
