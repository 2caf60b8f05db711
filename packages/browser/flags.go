package browser

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultFlagsURL points at the chrome-launcher default flag list
const DefaultFlagsURL = "https://raw.githubusercontent.com/GoogleChrome/chrome-launcher/master/src/flags.ts"

const flagLinePrefix = "  '--"

// FetchLaunchFlags downloads and parses a chrome-launcher flag list.
// Callers treat failure as "no extra flags".
func FetchLaunchFlags(ctx context.Context, client *http.Client, url string) ([]string, error) {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch launch flags: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch launch flags: unexpected status %d", resp.StatusCode)
	}

	return ParseLaunchFlags(resp.Body)
}

// ParseLaunchFlags extracts flags from chrome-launcher's flags.ts source.
// Only lines of the form `  '--flag',` are considered.
func ParseLaunchFlags(r io.Reader) ([]string, error) {
	var flags []string

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if !strings.HasPrefix(line, flagLinePrefix) {
			continue
		}
		flag := strings.TrimPrefix(line, "  '")
		flag = strings.TrimSuffix(flag, ",")
		flag = strings.TrimSuffix(flag, "'")
		// Flags assembled from expressions span several lines; skip them
		if flag == "--" || strings.ContainsAny(flag, "' +[") {
			continue
		}
		flags = append(flags, flag)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read launch flags: %w", err)
	}

	return flags, nil
}

// splitFlag turns "--name=value" into its launcher name and value
func splitFlag(raw string) (name, value string, hasValue bool) {
	name, value, hasValue = strings.Cut(strings.TrimLeft(raw, "-"), "=")
	return name, value, hasValue
}
