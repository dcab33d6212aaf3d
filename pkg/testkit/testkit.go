// Package testkit gives each test a handle on a bootstrapped application with
// helpers to build fixtures, surface handler failures directly and stub
// outbound HTTP.
//
//	tc := testkit.New(t, app.WithModels(&User{}))
//	tc.DisableExceptionHandling()
//	mock := tc.MockHTTP()
//	mock.AppendJSON(http.StatusOK, payload)
package testkit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/launchdarkly/go-test-helpers/v2/httphelpers"

	"github.com/drallgood/apptest/internal/logger"
	"github.com/drallgood/apptest/pkg/app"
	"github.com/drallgood/apptest/pkg/container"
	"github.com/drallgood/apptest/pkg/exceptions"
	"github.com/drallgood/apptest/pkg/factory"
	"github.com/drallgood/apptest/pkg/httpmock"
)

// Context is the per-test state of the helpers
type Context struct {
	t   testing.TB
	app *app.App

	// exceptionHandlingDisabled is true exactly when savedExceptionHandler is set
	exceptionHandlingDisabled bool
	savedExceptionHandler     exceptions.Handler

	mock *httpmock.MockHandler
}

// New bootstraps an application for t. Logs go to the test output unless an
// option overrides the logger. The application is closed when t finishes.
func New(t testing.TB, opts ...app.Option) *Context {
	t.Helper()
	opts = append([]app.Option{app.WithLogger(logger.NewForTest(t, "warn"))}, opts...)
	a, err := app.New(context.Background(), opts...)
	if err != nil {
		t.Fatalf("failed to bootstrap application: %v", err)
		return nil
	}
	t.Cleanup(func() {
		if err := a.Close(); err != nil {
			t.Errorf("failed to close application: %v", err)
		}
	})
	return ForApp(t, a)
}

// ForApp wraps an existing application. Exception handling is restored when
// t finishes; a is not closed.
func ForApp(t testing.TB, a *app.App) *Context {
	c := &Context{t: t, app: a}
	t.Cleanup(func() { c.WithExceptionHandling() })
	return c
}

// App returns the application under test
func (c *Context) App() *app.App {
	return c.app
}

// DisableExceptionHandling binds a handler that never renders, so failures
// escape to the test. The current handler is saved for WithExceptionHandling.
// Calling it again while disabled does nothing.
func (c *Context) DisableExceptionHandling() *Context {
	if c.exceptionHandlingDisabled {
		return c
	}

	current, err := container.Resolve[exceptions.Handler](c.app.Container())
	if err != nil {
		c.t.Fatalf("failed to resolve exception handler: %v", err)
		return c
	}

	c.savedExceptionHandler = current
	c.exceptionHandlingDisabled = true
	container.ProvideInstance(c.app.Container(), exceptions.PassThrough())
	return c
}

// WithExceptionHandling rebinds the handler saved by DisableExceptionHandling.
// Calling it while enabled does nothing.
func (c *Context) WithExceptionHandling() *Context {
	if !c.exceptionHandlingDisabled {
		return c
	}

	container.ProvideInstance(c.app.Container(), c.savedExceptionHandler)
	c.savedExceptionHandler = nil
	c.exceptionHandlingDisabled = false
	return c
}

// ExceptionHandlingDisabled reports the current toggle state
func (c *Context) ExceptionHandlingDisabled() bool {
	return c.exceptionHandlingDisabled
}

// MockHTTP installs a new mock handler behind every *http.Client resolved
// from the container from now on and returns it. Each call replaces the
// previous mock. The client keeps the configured HTTP timeout.
func (c *Context) MockHTTP() *httpmock.MockHandler {
	handler := httpmock.NewMockHandler()
	timeout := c.app.Config().HTTP.Timeout
	container.Provide(c.app.Container(), func(*container.Container) (*http.Client, error) {
		client := httpmock.NewClient(handler)
		client.Timeout = timeout
		return client, nil
	})
	c.mock = handler
	return handler
}

// Mock returns the handler installed by the latest MockHTTP call, or nil
func (c *Context) Mock() *httpmock.MockHandler {
	return c.mock
}

// Create persists count fixtures from the factory registered under name.
// Errors from the registry are returned unchanged.
func (c *Context) Create(name string, attrs factory.Attributes, count int) (any, error) {
	reg, err := container.Resolve[*factory.Registry](c.app.Container())
	if err != nil {
		return nil, err
	}
	return reg.Create(context.Background(), name, attrs, count)
}

// Make is like Create but does not persist
func (c *Context) Make(name string, attrs factory.Attributes, count int) (any, error) {
	reg, err := container.Resolve[*factory.Registry](c.app.Container())
	if err != nil {
		return nil, err
	}
	return reg.Make(context.Background(), name, attrs, count)
}

// Do dispatches req to the application server in process. A failure the
// exception handler did not render is returned as the error.
func (c *Context) Do(req *http.Request) (*httptest.ResponseRecorder, error) {
	rec := httptest.NewRecorder()
	err := c.app.Server().Serve(rec, req)
	return rec, err
}

// Client returns an *http.Client whose requests are served in process by the
// application server
func (c *Context) Client() *http.Client {
	return httphelpers.ClientFromHandler(c.app.Server())
}
