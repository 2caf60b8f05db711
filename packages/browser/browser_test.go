package browser

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const flagsSource = `/**
 * @license Copyright 2017 Google Inc. All Rights Reserved.
 */
'use strict';

export const DEFAULT_FLAGS: ReadonlyArray<string> = [
  '--disable-features=' + [
    'Translate',
  ].join(','),
  '--disable-extensions',
  '--disable-component-extensions-with-background-pages',
  '--mute-audio',
  '--no-default-browser-check',
  '--no-first-run',
  '--use-mock-keychain',
  // Disable various background network services
  '--disable-background-networking',
  '--password-store=basic'
];
`

func TestParseLaunchFlags(t *testing.T) {
	got, err := ParseLaunchFlags(strings.NewReader(flagsSource))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"--disable-extensions",
		"--disable-component-extensions-with-background-pages",
		"--mute-audio",
		"--no-default-browser-check",
		"--no-first-run",
		"--use-mock-keychain",
		"--disable-background-networking",
		"--password-store=basic",
	}, got)
}

func TestParseLaunchFlags_Empty(t *testing.T) {
	got, err := ParseLaunchFlags(strings.NewReader("no flags here\n"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFetchLaunchFlags(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(flagsSource))
	}))
	defer server.Close()

	got, err := FetchLaunchFlags(context.Background(), server.Client(), server.URL)
	require.NoError(t, err)
	assert.Contains(t, got, "--mute-audio")
	assert.Len(t, got, 8)
}

func TestFetchLaunchFlags_BadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := FetchLaunchFlags(context.Background(), nil, server.URL)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestFetchLaunchFlags_Cancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := FetchLaunchFlags(ctx, server.Client(), server.URL)
	assert.Error(t, err)
}

func TestSplitFlag(t *testing.T) {
	tests := []struct {
		raw      string
		name     string
		value    string
		hasValue bool
	}{
		{"--mute-audio", "mute-audio", "", false},
		{"--password-store=basic", "password-store", "basic", true},
		{"--disable-features=A,B", "disable-features", "A,B", true},
		{"incognito", "incognito", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			name, value, hasValue := splitFlag(tt.raw)
			assert.Equal(t, tt.name, name)
			assert.Equal(t, tt.value, value)
			assert.Equal(t, tt.hasValue, hasValue)
		})
	}
}

func TestNewLauncher(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Flags = []string{"--mute-audio", "--password-store=basic"}

	l := newLauncher(cfg)

	assert.True(t, l.Has(flags.Flag("mute-audio")))
	assert.Equal(t, "basic", l.Get(flags.Flag("password-store")))

	size, ok := l.GetFlags(flags.Flag("window-size"))
	require.True(t, ok)
	assert.Equal(t, []string{"1920", "1080"}, size)
	position, ok := l.GetFlags(flags.Flag("window-position"))
	require.True(t, ok)
	assert.Equal(t, []string{"0", "0"}, position)
	assert.Contains(t, l.FormatArgs(), "--window-size=1920,1080")

	assert.True(t, l.Has(flags.Flag("enable-logging")))
	assert.True(t, l.Has(flags.Flag("incognito")))
	assert.Equal(t, "AutomationControlled", l.Get(flags.Flag("disable-blink-features")))
	assert.False(t, l.Has(flags.Headless))
}

func TestNewLauncher_Headless(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Headless = true
	cfg.Incognito = false
	cfg.Stealth = false

	l := newLauncher(cfg)

	assert.True(t, l.Has(flags.Headless))
	assert.False(t, l.Has(flags.Flag("incognito")))
	assert.False(t, l.Has(flags.Flag("disable-blink-features")))
}

func TestDecodeBody(t *testing.T) {
	got, err := decodeBody("aGVsbG8=", true)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)

	got, err = decodeBody("plain", false)
	require.NoError(t, err)
	assert.Equal(t, []byte("plain"), got)

	_, err = decodeBody("%%%", true)
	assert.Error(t, err)
}
