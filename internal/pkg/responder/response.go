package responder

import (
	"bytes"
	"strconv"
)

// ServerName is sent on every response.
const ServerName = "nginx"

var statusText = map[int]string{
	200: "OK",
	206: "Partial Content",
	400: "Bad Request",
	404: "Not Found",
	500: "Internal Server Error",
	503: "Service Unavailable",
}

// StatusText returns the reason phrase for code.
func StatusText(code int) string {
	if text, ok := statusText[code]; ok {
		return text
	}
	return "Unknown"
}

type header struct {
	key   string
	value string
}

// Response is an HTTP/1.1 response whose headers are written in the order
// they were first set.
type Response struct {
	StatusCode int
	Body       []byte

	headers []header
}

// NewResponse returns a response with the Server header already set.
func NewResponse(code int) *Response {
	r := &Response{StatusCode: code}
	r.SetHeader("Server", ServerName)
	return r
}

// SetHeader replaces key in place or appends it.
func (r *Response) SetHeader(key, value string) {
	for i := range r.headers {
		if r.headers[i].key == key {
			r.headers[i].value = value
			return
		}
	}
	r.headers = append(r.headers, header{key: key, value: value})
}

// Header returns the value set for key, or "".
func (r *Response) Header(key string) string {
	for _, h := range r.headers {
		if h.key == key {
			return h.value
		}
	}
	return ""
}

// SetBody stores body and sets Content-Length to its length.
func (r *Response) SetBody(body []byte) {
	r.Body = body
	r.SetHeader("Content-Length", strconv.Itoa(len(body)))
}

// HeaderBytes renders the status line and headers, including the blank
// line that ends them.
func (r *Response) HeaderBytes() []byte {
	var b bytes.Buffer
	b.WriteString("HTTP/1.1 ")
	b.WriteString(strconv.Itoa(r.StatusCode))
	b.WriteByte(' ')
	b.WriteString(StatusText(r.StatusCode))
	b.WriteString("\r\n")
	for _, h := range r.headers {
		b.WriteString(h.key)
		b.WriteString(": ")
		b.WriteString(h.value)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	return b.Bytes()
}

// Bytes renders the full response.
func (r *Response) Bytes() []byte {
	return append(r.HeaderBytes(), r.Body...)
}
