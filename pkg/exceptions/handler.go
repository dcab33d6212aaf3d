// Package exceptions decides what happens to an error that escapes an HTTP
// handler: how it is reported and how it is turned into a response.
package exceptions

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/drallgood/apptest/internal/logger"
)

// Handler reports and renders failures raised while serving a request
type Handler interface {
	// Report records the failure, typically by logging it
	Report(err error)
	// Render writes a response for err. A non-nil return means err was not
	// rendered and must propagate to the caller.
	Render(w http.ResponseWriter, r *http.Request, err error) error
}

// HTTPError is a failure that carries the status it should be rendered with
type HTTPError struct {
	Status  int
	Message string
	Err     error
}

// NewHTTPError returns an HTTPError; an empty message uses the status text
func NewHTTPError(status int, message string) *HTTPError {
	if message == "" {
		message = http.StatusText(status)
	}
	return &HTTPError{Status: status, Message: message}
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%d %s: %v", e.Status, e.Message, e.Err)
	}
	return fmt.Sprintf("%d %s", e.Status, e.Message)
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// PanicError wraps a value recovered from a panicking handler
type PanicError struct {
	Value any
	Stack []byte
}

// FromPanic converts a recovered value into an error
func FromPanic(v any) *PanicError {
	return &PanicError{Value: v, Stack: debug.Stack()}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// DefaultHandler logs failures and renders them as JSON error bodies
type DefaultHandler struct {
	log   *logger.Logger
	debug bool
}

// NewDefaultHandler returns the handler an application binds at bootstrap.
// With debug set, server error messages are exposed in responses.
func NewDefaultHandler(log *logger.Logger, debug bool) *DefaultHandler {
	return &DefaultHandler{log: log, debug: debug}
}

// Report logs err unless it is a client error
func (h *DefaultHandler) Report(err error) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.Status < http.StatusInternalServerError {
		return
	}

	fields := map[string]interface{}{"error": err.Error()}
	var panicErr *PanicError
	if errors.As(err, &panicErr) {
		fields["stack"] = string(panicErr.Stack)
	}
	h.log.Error("Unhandled error", fields)
}

type errorBody struct {
	Error string `json:"error"`
}

// Render writes {"error": "..."} with the status of a wrapped HTTPError or 500
func (h *DefaultHandler) Render(w http.ResponseWriter, r *http.Request, err error) error {
	status := http.StatusInternalServerError
	message := "Server Error"

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		status = httpErr.Status
		message = httpErr.Message
	}
	if status >= http.StatusInternalServerError && h.debug {
		message = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(errorBody{Error: message}); encErr != nil {
		h.log.Warn("Failed to write error response", map[string]interface{}{
			"error": encErr.Error(),
			"path":  r.URL.Path,
		})
	}
	return nil
}

// passThrough reports nothing and hands every failure back unrendered
type passThrough struct{}

// PassThrough returns a handler that never renders: Render returns the
// original error so it surfaces to whoever dispatched the request
func PassThrough() Handler {
	return passThrough{}
}

func (passThrough) Report(error) {}

func (passThrough) Render(_ http.ResponseWriter, _ *http.Request, err error) error {
	return err
}

// IsPassThrough reports whether h is the handler returned by PassThrough
func IsPassThrough(h Handler) bool {
	_, ok := h.(passThrough)
	return ok
}
