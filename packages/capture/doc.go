// Package capture turns a browser's response stream into stored artifacts.
//
// Each response moves through these stages:
//   - Filter: redirects and errors (status >= 300) are skipped
//   - Include: an optional URL pattern skips irrelevant resources
//   - Fetch: the body is retrieved from the transport
//   - Resolve: an extension and identifier are derived
//   - Persist: the body goes to the artifact writer and the descriptor to the
//     metadata recorder, independently of each other
//
// A failure while handling one response is logged and contained; the
// coordinator keeps consuming the stream.
package capture
