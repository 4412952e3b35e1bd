package traffic

import (
	"net/http"
	"strings"
)

// Header is a case-insensitive header map. Keys are stored lowercased.
type Header map[string]string

func (h Header) Get(key string) string {
	if h == nil {
		return ""
	}
	return h[strings.ToLower(key)]
}

func (h Header) Set(key, value string) {
	h[strings.ToLower(key)] = value
}

func (h Header) Del(key string) {
	delete(h, strings.ToLower(key))
}

// Clone returns a shallow copy, never nil.
func (h Header) Clone() Header {
	out := make(Header, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// Request is the protocol-neutral model of an outgoing request.
type Request struct {
	ID           string
	URL          string
	Method       string
	Headers      Header
	Body         []byte
	ResourceType string
}

// Response is the protocol-neutral model of a response, real or synthetic.
type Response struct {
	StatusCode int
	Headers    Header
	Body       []byte
}

func NewRequest() *Request {
	return &Request{Headers: make(Header)}
}

func NewResponse() *Response {
	return &Response{
		StatusCode: http.StatusOK,
		Headers:    make(Header),
	}
}
