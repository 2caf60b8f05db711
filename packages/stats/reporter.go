package stats

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
)

// Reporter prints session summaries
type Reporter struct {
	writer  io.Writer
	noColor bool
	verbose bool

	// Colors
	green  *color.Color
	red    *color.Color
	yellow *color.Color
	cyan   *color.Color
	bold   *color.Color
	dim    *color.Color
}

// ReporterOption configures the reporter
type ReporterOption func(*Reporter)

// WithWriter sets the output writer
func WithWriter(w io.Writer) ReporterOption {
	return func(r *Reporter) {
		r.writer = w
	}
}

// WithNoColor disables colored output
func WithNoColor(noColor bool) ReporterOption {
	return func(r *Reporter) {
		r.noColor = noColor
	}
}

// WithVerbose adds the per-extension breakdown
func WithVerbose(verbose bool) ReporterOption {
	return func(r *Reporter) {
		r.verbose = verbose
	}
}

// NewReporter creates a new reporter writing to stderr by default
func NewReporter(opts ...ReporterOption) *Reporter {
	r := &Reporter{
		writer: os.Stderr,
	}
	for _, opt := range opts {
		opt(r)
	}

	// Initialize colors
	if r.noColor {
		color.NoColor = true
	}
	r.green = color.New(color.FgGreen)
	r.red = color.New(color.FgRed)
	r.yellow = color.New(color.FgYellow)
	r.cyan = color.New(color.FgCyan)
	r.bold = color.New(color.Bold)
	r.dim = color.New(color.Faint)

	return r
}

// Header prints where the session writes to
func (r *Reporter) Header(version, contentDir, database string) {
	fmt.Fprintln(r.writer)
	r.bold.Fprintf(r.writer, "snare %s\n", version)
	r.cyan.Fprintf(r.writer, "Responses: %s\n", contentDir)
	if database != "" {
		r.cyan.Fprintf(r.writer, "Metadata:  %s\n", database)
	} else {
		r.dim.Fprintln(r.writer, "Metadata:  disabled (file-only mode)")
	}
	fmt.Fprintln(r.writer)
}

// Summary prints the final summary
func (r *Reporter) Summary(sum Summary) {
	fmt.Fprintln(r.writer)
	r.bold.Fprintln(r.writer, "Capture summary")
	fmt.Fprintln(r.writer, strings.Repeat("─", 40))

	r.row("Responses seen", fmt.Sprintf("%d", sum.Received), r.cyan)
	r.row("Captured", fmt.Sprintf("%d (%s)", sum.Captured, formatBytes(sum.Bytes)), r.green)
	r.row("Skipped (status)", fmt.Sprintf("%d", sum.Rejected), r.dim)
	r.row("Skipped (pattern)", fmt.Sprintf("%d", sum.Excluded), r.dim)

	failColor := r.green
	if sum.Failed+sum.WriteFailures+sum.RecordFailures > 0 {
		failColor = r.red
	}
	r.row("Failed", fmt.Sprintf("%d", sum.Failed), failColor)
	r.row("Write failures", fmt.Sprintf("%d", sum.WriteFailures), failColor)
	r.row("Record failures", fmt.Sprintf("%d", sum.RecordFailures), failColor)

	if sum.Captured > 0 {
		r.row("Fetch p50/p95/p99", fmt.Sprintf("%s / %s / %s",
			formatDuration(sum.FetchP50), formatDuration(sum.FetchP95), formatDuration(sum.FetchP99)), r.yellow)
	}
	if sum.Elapsed > 0 {
		r.row("Elapsed", sum.Elapsed.Round(time.Millisecond).String(), r.dim)
	}

	if r.verbose && len(sum.ByExtension) > 0 {
		fmt.Fprintln(r.writer)
		r.bold.Fprintln(r.writer, "By extension")
		exts := make([]string, 0, len(sum.ByExtension))
		for ext := range sum.ByExtension {
			exts = append(exts, ext)
		}
		sort.Slice(exts, func(i, j int) bool {
			if sum.ByExtension[exts[i]] != sum.ByExtension[exts[j]] {
				return sum.ByExtension[exts[i]] > sum.ByExtension[exts[j]]
			}
			return exts[i] < exts[j]
		})
		for _, ext := range exts {
			r.row("  ."+ext, fmt.Sprintf("%d", sum.ByExtension[ext]), r.cyan)
		}
	}
	fmt.Fprintln(r.writer)
}

// JSON writes the summary as indented JSON
func (r *Reporter) JSON(sum Summary) error {
	enc := json.NewEncoder(r.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(sum)
}

func (r *Reporter) row(label, value string, c *color.Color) {
	fmt.Fprintf(r.writer, "  %-20s ", label)
	c.Fprintln(r.writer, value)
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	default:
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
