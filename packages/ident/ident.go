// Package ident generates identifiers for captured artifacts.
package ident

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind selects an identifier format
type Kind string

const (
	// Random produces a bare UUIDv4
	Random Kind = "random"
	// Timestamp prefixes a UUIDv4 with the capture time so files sort chronologically
	Timestamp Kind = "timestamp"
	// V7 produces a time-ordered UUIDv7
	V7 Kind = "v7"
)

// TimestampLayout is the prefix layout used by the Timestamp kind.
const TimestampLayout = "20060102_150405.000"

// Generator produces one identifier per captured response.
type Generator interface {
	Generate() string
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func() string

// Generate calls f()
func (f GeneratorFunc) Generate() string {
	return f()
}

// New returns the generator for kind.
func New(kind Kind) (Generator, error) {
	switch Kind(strings.ToLower(string(kind))) {
	case Random:
		return GeneratorFunc(uuid.NewString), nil
	case Timestamp, "":
		return NewTimestamped(time.Now), nil
	case V7:
		return GeneratorFunc(newV7), nil
	default:
		return nil, fmt.Errorf("unknown id format %q (expected random, timestamp or v7)", kind)
	}
}

// NewTimestamped returns a Timestamp generator reading the time from now.
func NewTimestamped(now func() time.Time) Generator {
	return GeneratorFunc(func() string {
		return now().Format(TimestampLayout) + "_" + uuid.NewString()
	})
}

func newV7() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the random source does
		return uuid.NewString()
	}
	return id.String()
}
