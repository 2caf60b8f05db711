package extension

import (
	"mime"
	"net/url"
	"strings"
)

const (
	// Fallback is used when neither the URL nor the content type yield an extension.
	Fallback = "txt"

	// DefaultMaxLength is the longest URL-derived extension considered plausible.
	// Longer tokens are usually version strings or hashes, not extensions.
	DefaultMaxLength = 10
)

// Table maps a media type to its conventional extensions, most common first.
type Table map[string][]string

// Resolver infers extensions from a URL and content type.
type Resolver struct {
	table     Table
	maxLength int
}

// Option is a functional option for Resolver
type Option func(*Resolver)

// WithTable replaces the built-in MIME table
func WithTable(t Table) Option {
	return func(r *Resolver) {
		r.table = t
	}
}

// WithMaxLength sets the plausibility bound for URL-derived extensions
func WithMaxLength(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.maxLength = n
		}
	}
}

// NewResolver creates a resolver backed by the built-in MIME table.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		table:     DefaultTable,
		maxLength: DefaultMaxLength,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var defaultResolver = NewResolver()

// Resolve infers an extension using the built-in MIME table.
func Resolve(rawURL, contentType string) string {
	return defaultResolver.Resolve(rawURL, contentType)
}

// Resolve returns the extension for a response. The result is never empty.
func (r *Resolver) Resolve(rawURL, contentType string) string {
	if ext, ok := r.FromURL(rawURL); ok {
		return ext
	}
	if ext, ok := r.FromContentType(contentType); ok {
		return ext
	}
	return Fallback
}

// FromURL extracts a plausible extension from the final path segment of rawURL.
func (r *Resolver) FromURL(rawURL string) (string, bool) {
	segment := lastSegment(rawURL)
	idx := strings.LastIndex(segment, ".")
	if idx < 0 {
		return "", false
	}

	candidate := segment[idx+1:]
	if !r.plausible(candidate) {
		return "", false
	}
	return candidate, true
}

// plausible rejects empty, overlong and all-digit tokens. All-digit tokens are
// the tail of version strings such as "v1.2.3".
func (r *Resolver) plausible(candidate string) bool {
	if candidate == "" || len(candidate) > r.maxLength {
		return false
	}
	for _, c := range candidate {
		if c < '0' || c > '9' {
			return true
		}
	}
	return false
}

// FromContentType looks up the first extension registered for contentType.
func (r *Resolver) FromContentType(contentType string) (string, bool) {
	mediaType := normalizeMediaType(contentType)
	if mediaType == "" {
		return "", false
	}

	exts := r.table[mediaType]
	if len(exts) == 0 || exts[0] == "" {
		return "", false
	}
	return exts[0], true
}

func lastSegment(rawURL string) string {
	trimmed := strings.TrimRight(rawURL, "/")
	u, err := url.Parse(trimmed)
	if err != nil {
		return ""
	}

	path := u.EscapedPath()
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		return path[idx+1:]
	}
	return path
}

func normalizeMediaType(contentType string) string {
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		return ""
	}
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		return mediaType
	}
	// Malformed parameters still carry a usable type before the first ';'
	mediaType, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mediaType))
}
