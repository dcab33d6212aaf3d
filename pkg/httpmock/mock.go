// Package httpmock replaces network I/O with a queue of canned responses.
//
// A MockHandler is an http.RoundTripper: each outbound request takes the
// oldest queued entry, so responses are consumed in the order they were
// appended.
package httpmock

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/launchdarkly/go-test-helpers/v2/httphelpers"
)

// ErrQueueEmpty is returned when a request arrives and nothing is queued
var ErrQueueEmpty = errors.New("mock queue is empty")

// RoundTripFunc fulfils a single request
type RoundTripFunc func(req *http.Request) (*http.Response, error)

// MockHandler serves requests from a FIFO queue
type MockHandler struct {
	mu       sync.Mutex
	queue    []RoundTripFunc
	requests []*http.Request
}

// NewMockHandler returns a handler with an empty queue
func NewMockHandler() *MockHandler {
	return &MockHandler{}
}

func (h *MockHandler) push(fns ...RoundTripFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.queue = append(h.queue, fns...)
}

// AppendFunc queues fn to fulfil the next request
func (h *MockHandler) AppendFunc(fn RoundTripFunc) {
	h.push(fn)
}

// Append queues each response in order. It panics on a nil response.
func (h *MockHandler) Append(responses ...*http.Response) {
	for i, resp := range responses {
		if resp == nil {
			panic(fmt.Sprintf("httpmock: response %d passed to Append is nil", i))
		}
	}
	for _, resp := range responses {
		resp := resp
		h.push(func(*http.Request) (*http.Response, error) { return resp, nil })
	}
}

// AppendError queues a transport failure
func (h *MockHandler) AppendError(err error) {
	h.push(func(*http.Request) (*http.Response, error) { return nil, err })
}

// AppendHandler queues an http.Handler that serves the next request
func (h *MockHandler) AppendHandler(handler http.Handler) {
	h.push(func(req *http.Request) (*http.Response, error) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Result(), nil
	})
}

// AppendStatus queues an empty response with status
func (h *MockHandler) AppendStatus(status int) {
	h.AppendHandler(httphelpers.HandlerWithStatus(status))
}

// AppendBody queues a response with the given status, headers and body
func (h *MockHandler) AppendBody(status int, header http.Header, body []byte) {
	h.AppendHandler(httphelpers.HandlerWithResponse(status, header, body))
}

// AppendJSON queues a response whose body is v encoded as JSON. It panics if
// v cannot be encoded.
func (h *MockHandler) AppendJSON(status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("httpmock: cannot encode JSON response: %v", err))
	}
	h.AppendBody(status, http.Header{"Content-Type": {"application/json"}}, body)
}

// RoundTrip implements http.RoundTripper
func (h *MockHandler) RoundTrip(req *http.Request) (*http.Response, error) {
	h.mu.Lock()
	h.requests = append(h.requests, req)
	if len(h.queue) == 0 {
		h.mu.Unlock()
		return nil, fmt.Errorf("%w: %s %s", ErrQueueEmpty, req.Method, req.URL)
	}
	next := h.queue[0]
	h.queue = h.queue[1:]
	h.mu.Unlock()

	resp, err := next(req)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("httpmock: queued entry returned no response for %s %s", req.Method, req.URL)
	}
	if resp.Body == nil {
		resp.Body = http.NoBody
	}
	if resp.Request == nil {
		resp.Request = req
	}
	return resp, nil
}

// Count returns the number of queued entries not yet consumed
func (h *MockHandler) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.queue)
}

// Reset drops queued entries and recorded requests
func (h *MockHandler) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.queue = nil
	h.requests = nil
}

// LastRequest returns the most recent request, or nil
func (h *MockHandler) LastRequest() *http.Request {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.requests) == 0 {
		return nil
	}
	return h.requests[len(h.requests)-1]
}

// Requests returns every request seen, oldest first
func (h *MockHandler) Requests() []*http.Request {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*http.Request, len(h.requests))
	copy(out, h.requests)
	return out
}

// NewResponse builds a response with a string body, for use with Append
func NewResponse(status int, body string) *http.Response {
	return &http.Response{
		Status:     fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode: status,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}
