// Package responder is the small HTTP server that impersonates the update
// server: it answers the device's check-version and report calls and serves
// the patched image with byte-range support.
package responder

import (
	"strings"
)

// Request is a parsed HTTP request. Header keys keep the case they were
// received with; a repeated header keeps its last value.
type Request struct {
	Method  string
	Path    string
	Version string
	Headers map[string]string
	Body    string
}

// Header returns the value of key as received, or "".
func (r *Request) Header(key string) string {
	return r.Headers[key]
}

// ParseRequest parses raw request bytes. It never fails: missing parts are
// left empty and routing falls through to the not-found response. The body
// is rebuilt line by line and joined with "\n", so it is only suitable for
// text payloads.
func ParseRequest(data []byte) *Request {
	req := &Request{Headers: make(map[string]string)}
	lines := strings.Split(string(data), "\n")

	if len(lines) > 0 {
		fields := strings.Fields(lines[0])
		if len(fields) > 0 {
			req.Method = fields[0]
		}
		if len(fields) > 1 {
			req.Path = fields[1]
		}
		if len(fields) > 2 {
			req.Version = fields[2]
		}
	}

	i := 1
	for ; i < len(lines); i++ {
		line := strings.TrimSuffix(lines[i], "\r")
		if line == "" {
			i++
			break
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		req.Headers[key] = strings.TrimLeft(value, " ")
	}

	if i < len(lines) {
		body := lines[i:]
		// A trailing newline does not start another body line.
		if n := len(body); n > 0 && body[n-1] == "" {
			body = body[:n-1]
		}
		req.Body = strings.Join(body, "\n")
	}
	return req
}
