package capture

import (
	"context"
	"strings"
)

// BodyFunc retrieves a response body. It may block until the transport has
// delivered the full payload.
type BodyFunc func(ctx context.Context) ([]byte, error)

// Response is one network response observed in the browser.
type Response struct {
	URL        string
	StatusCode int
	Headers    map[string]string
	body       BodyFunc
}

// NewResponse creates a response whose body is loaded lazily by body.
func NewResponse(url string, statusCode int, headers map[string]string, body BodyFunc) *Response {
	return &Response{
		URL:        url,
		StatusCode: statusCode,
		Headers:    headers,
		body:       body,
	}
}

// Body retrieves the full body. A response without a loader has an empty body.
func (r *Response) Body(ctx context.Context) ([]byte, error) {
	if r.body == nil {
		return nil, nil
	}
	return r.body(ctx)
}

// Header returns the first header matching key case-insensitively
func (r *Response) Header(key string) string {
	if v, ok := r.Headers[key]; ok {
		return v
	}
	for k, v := range r.Headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

// ContentType returns the declared Content-Type, if any
func (r *Response) ContentType() string {
	return r.Header("Content-Type")
}

// Accepted reports whether the status marks a terminal response worth
// capturing. Redirects and errors are not.
func Accepted(statusCode int) bool {
	return statusCode < 300
}

// Stream delivers the responses of a browsing session. The channel is closed
// when the session ends.
type Stream interface {
	Responses() <-chan *Response
}

// ChanStream adapts a channel to the Stream interface.
type ChanStream chan *Response

// Responses returns the underlying channel
func (c ChanStream) Responses() <-chan *Response {
	return c
}
