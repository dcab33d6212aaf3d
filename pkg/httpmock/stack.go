package httpmock

import (
	"net/http"
	"sync"
)

// Middleware decorates a RoundTripper
type Middleware func(next http.RoundTripper) http.RoundTripper

type namedMiddleware struct {
	name string
	mw   Middleware
}

// Stack wraps an innermost RoundTripper with named middleware. The first
// middleware pushed is the outermost: it sees the request first and the
// response last.
type Stack struct {
	mu          sync.RWMutex
	handler     http.RoundTripper
	middlewares []namedMiddleware
}

// NewStack returns a stack around handler with no middleware
func NewStack(handler http.RoundTripper) *Stack {
	return &Stack{handler: handler}
}

// Push appends mw under name, inside every middleware already pushed
func (s *Stack) Push(name string, mw Middleware) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.middlewares = append(s.middlewares, namedMiddleware{name: name, mw: mw})
}

// Remove drops every middleware registered under name
func (s *Stack) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.middlewares[:0]
	for _, m := range s.middlewares {
		if m.name != name {
			kept = append(kept, m)
		}
	}
	s.middlewares = kept
}

// Len returns the number of middleware in the stack
func (s *Stack) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.middlewares)
}

// RoundTrip implements http.RoundTripper
func (s *Stack) RoundTrip(req *http.Request) (*http.Response, error) {
	return s.resolve().RoundTrip(req)
}

func (s *Stack) resolve() http.RoundTripper {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rt := s.handler
	for i := len(s.middlewares) - 1; i >= 0; i-- {
		rt = s.middlewares[i].mw(rt)
	}
	return rt
}

// roundTripperFunc adapts a function to http.RoundTripper
type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// Transaction is one request seen by the History middleware
type Transaction struct {
	Request  *http.Request
	Response *http.Response
	Err      error
}

// History records every transaction that passes through into *into
func History(into *[]Transaction) Middleware {
	var mu sync.Mutex
	return func(next http.RoundTripper) http.RoundTripper {
		return roundTripperFunc(func(req *http.Request) (*http.Response, error) {
			resp, err := next.RoundTrip(req)
			mu.Lock()
			*into = append(*into, Transaction{Request: req, Response: resp, Err: err})
			mu.Unlock()
			return resp, err
		})
	}
}

// WithHeader sets a request header on every request
func WithHeader(key, value string) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return roundTripperFunc(func(req *http.Request) (*http.Response, error) {
			req = req.Clone(req.Context())
			req.Header.Set(key, value)
			return next.RoundTrip(req)
		})
	}
}

// NewClient returns an http.Client whose transport is a Stack around handler.
// No network I/O happens unless handler performs it.
func NewClient(handler http.RoundTripper) *http.Client {
	return &http.Client{Transport: NewStack(handler)}
}
