// Package matcher recognises the device's update-check request inside a
// TCP payload and extracts the product URL and JSON body from it.
package matcher

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/endorses/paper/internal/pkg/constants"
)

var (
	// ErrNoMatch means the payload is not the update-check request
	ErrNoMatch = errors.New("payload does not match update request")
	// ErrMalformedBody means the request line matched but the body is not
	// a complete JSON object
	ErrMalformedBody = errors.New("malformed update request body")
)

// Request methods accepted at the start of a payload.
var methods = [][]byte{
	[]byte("GET "),
	[]byte("POST "),
	[]byte("PUT "),
	[]byte("HEAD "),
	[]byte("PATCH "),
	[]byte("DELETE "),
	[]byte("OPTIONS "),
}

// maxRequestLine bounds the request-line search
const maxRequestLine = 8192

// CaptureResult is the matched update-check request.
type CaptureResult struct {
	ProductURL  string         `yaml:"product_url" json:"productUrl"`
	ProductID   string         `yaml:"product_id,omitempty" json:"productId,omitempty"`
	Host        string         `yaml:"host,omitempty" json:"host,omitempty"`
	Method      string         `yaml:"method" json:"method"`
	RequestBody map[string]any `yaml:"request_body" json:"requestBody"`
	Source      string         `yaml:"source,omitempty" json:"source,omitempty"`
	Destination string         `yaml:"destination,omitempty" json:"destination,omitempty"`
	CapturedAt  time.Time      `yaml:"captured_at" json:"capturedAt"`
}

// OTAURL is the product URL without its trailing check-version segment.
// The responder serves checkVersion and reportDownResult beneath it.
func (r *CaptureResult) OTAURL() string {
	return strings.TrimSuffix(r.ProductURL, constants.UpdateCheckMarker)
}

// Config selects which request is recognised.
type Config struct {
	// PathMarker must appear in the request path
	PathMarker string
	// Host, when set, must equal the Host header if the request carries one
	Host string
}

// DefaultConfig matches the update-check request to the update server.
func DefaultConfig() Config {
	return Config{
		PathMarker: constants.UpdateCheckMarker,
		Host:       constants.UpdateServerHost,
	}
}

// Matcher is safe for concurrent use.
type Matcher struct {
	config Config
	marker []byte
}

// New returns a matcher for config. An empty PathMarker falls back to the
// default marker.
func New(config Config) *Matcher {
	if config.PathMarker == "" {
		config.PathMarker = constants.UpdateCheckMarker
	}
	return &Matcher{config: config, marker: []byte(config.PathMarker)}
}

// Match inspects one TCP payload. Non-matching payloads return ErrNoMatch
// after a prefix and substring check; JSON is only parsed for payloads whose
// request line matches.
func (m *Matcher) Match(payload []byte) (*CaptureResult, error) {
	method, ok := methodOf(payload)
	if !ok {
		return nil, ErrNoMatch
	}

	lineEnd := bytes.IndexByte(payload, '\n')
	if lineEnd < 0 {
		lineEnd = len(payload)
	}
	if lineEnd > maxRequestLine {
		return nil, ErrNoMatch
	}
	requestLine := payload[:lineEnd]
	if !bytes.Contains(requestLine, m.marker) {
		return nil, ErrNoMatch
	}

	fields := strings.Fields(string(requestLine))
	if len(fields) < 2 {
		return nil, ErrNoMatch
	}
	path := fields[1]
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if !strings.Contains(path, m.config.PathMarker) {
		return nil, ErrNoMatch
	}

	head, body, found := splitHeaders(payload)
	host := headerValue(head, "Host")
	if m.config.Host != "" && host != "" && !sameHost(host, m.config.Host) {
		return nil, ErrNoMatch
	}
	if !found || len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("%w: no body in segment", ErrMalformedBody)
	}

	var requestBody map[string]any
	if err := json.Unmarshal(body, &requestBody); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	if requestBody == nil {
		return nil, fmt.Errorf("%w: body is not a JSON object", ErrMalformedBody)
	}

	return &CaptureResult{
		ProductURL:  path,
		ProductID:   productID(path),
		Host:        host,
		Method:      method,
		RequestBody: requestBody,
		CapturedAt:  time.Now(),
	}, nil
}

func methodOf(payload []byte) (string, bool) {
	for _, m := range methods {
		if bytes.HasPrefix(payload, m) {
			return string(m[:len(m)-1]), true
		}
	}
	return "", false
}

// splitHeaders splits at the first blank line, accepting CRLFCRLF or LFLF.
func splitHeaders(payload []byte) (head, body []byte, found bool) {
	crlf := bytes.Index(payload, []byte("\r\n\r\n"))
	lf := bytes.Index(payload, []byte("\n\n"))
	switch {
	case crlf >= 0 && (lf < 0 || crlf < lf):
		return payload[:crlf], payload[crlf+4:], true
	case lf >= 0:
		return payload[:lf], payload[lf+2:], true
	default:
		return payload, nil, false
	}
}

func headerValue(head []byte, name string) string {
	for _, line := range strings.Split(string(head), "\n") {
		line = strings.TrimRight(line, "\r")
		key, value, ok := strings.Cut(line, ":")
		if ok && strings.EqualFold(strings.TrimSpace(key), name) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func sameHost(header, want string) bool {
	if h, _, err := net.SplitHostPort(header); err == nil {
		header = h
	}
	return strings.EqualFold(header, want)
}

// productID returns the path segment following "/product/", if any.
func productID(path string) string {
	const prefix = "/product/"
	i := strings.Index(path, prefix)
	if i < 0 {
		return ""
	}
	rest := path[i+len(prefix):]
	if j := strings.IndexByte(rest, '/'); j >= 0 {
		rest = rest[:j]
	}
	return rest
}
