package testkit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drallgood/apptest/pkg/app"
	"github.com/drallgood/apptest/pkg/container"
	"github.com/drallgood/apptest/pkg/exceptions"
	"github.com/drallgood/apptest/pkg/factory"
	"github.com/drallgood/apptest/pkg/httpmock"
)

type Widget struct {
	ID    uint
	Name  string
	Price int
}

var errBroken = errors.New("widget service is broken")

func newContext(t *testing.T) *Context {
	t.Helper()
	tc := New(t, app.WithModels(&Widget{}))
	require.NoError(t, factory.Register[Widget](tc.App().Factories(), func(seq int) factory.Attributes {
		return factory.Attributes{"name": fmt.Sprintf("widget-%d", seq), "price": 10}
	}))
	tc.App().Server().Handle("GET /broken", func(http.ResponseWriter, *http.Request) error {
		return errBroken
	})
	return tc
}

func currentHandler(t *testing.T, tc *Context) exceptions.Handler {
	t.Helper()
	h, err := container.Resolve[exceptions.Handler](tc.App().Container())
	require.NoError(t, err)
	return h
}

func TestExceptionHandling_RoundTripRestoresSameHandler(t *testing.T) {
	tc := newContext(t)
	original := currentHandler(t, tc)

	tc.DisableExceptionHandling()
	assert.True(t, tc.ExceptionHandlingDisabled())
	assert.True(t, exceptions.IsPassThrough(currentHandler(t, tc)))

	tc.WithExceptionHandling()
	assert.False(t, tc.ExceptionHandlingDisabled())
	assert.Same(t, original, currentHandler(t, tc))
	assert.Nil(t, tc.savedExceptionHandler)
}

func TestExceptionHandling_Idempotent(t *testing.T) {
	tc := newContext(t)
	original := currentHandler(t, tc)

	tc.DisableExceptionHandling().DisableExceptionHandling()
	assert.Same(t, original, tc.savedExceptionHandler, "second disable must not save the pass-through handler")

	tc.WithExceptionHandling().WithExceptionHandling()
	assert.Same(t, original, currentHandler(t, tc))
}

func TestExceptionHandling_EnableWhenEnabledIsNoop(t *testing.T) {
	tc := newContext(t)
	original := currentHandler(t, tc)

	tc.WithExceptionHandling()
	assert.False(t, tc.ExceptionHandlingDisabled())
	assert.Same(t, original, currentHandler(t, tc))
}

func TestExceptionHandling_ChangesDispatch(t *testing.T) {
	tc := newContext(t)

	rec, err := tc.Do(httptest.NewRequest(http.MethodGet, "/broken", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	tc.DisableExceptionHandling()
	_, err = tc.Do(httptest.NewRequest(http.MethodGet, "/broken", nil))
	assert.Same(t, errBroken, err)

	assert.PanicsWithValue(t, errBroken, func() {
		_, _ = tc.Client().Get("http://app.test/broken")
	})
}

func TestExceptionHandling_RestoredWhenTestEnds(t *testing.T) {
	parent := newContext(t)
	original := currentHandler(t, parent)

	t.Run("disables", func(t *testing.T) {
		ForApp(t, parent.App()).DisableExceptionHandling()
		assert.True(t, exceptions.IsPassThrough(currentHandler(t, parent)))
	})

	assert.Same(t, original, currentHandler(t, parent))
}

type fatalRecorder struct {
	testing.TB
	fatals []string
}

func (f *fatalRecorder) Fatalf(format string, args ...any) {
	f.fatals = append(f.fatals, fmt.Sprintf(format, args...))
}

func TestDisableExceptionHandling_ResolutionFailure(t *testing.T) {
	tc := newContext(t)
	rec := &fatalRecorder{TB: t}
	tc.t = rec

	tc.App().Container().Forget(container.Key[exceptions.Handler]())
	tc.DisableExceptionHandling()

	require.Len(t, rec.fatals, 1)
	assert.Contains(t, rec.fatals[0], "failed to resolve exception handler")
	assert.False(t, tc.ExceptionHandlingDisabled())
	assert.Nil(t, tc.savedExceptionHandler)
}

func TestMockHTTP_FIFOThroughResolvedClient(t *testing.T) {
	tc := newContext(t)

	mock := tc.MockHTTP()
	mock.Append(httpmock.NewResponse(http.StatusOK, "first"), httpmock.NewResponse(http.StatusAccepted, "second"))

	client, err := tc.App().HTTPClient()
	require.NoError(t, err)

	for _, want := range []struct {
		status int
		body   string
	}{{http.StatusOK, "first"}, {http.StatusAccepted, "second"}} {
		resp, err := client.Get("https://api.example.com/widgets")
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.NoError(t, err)
		assert.Equal(t, want.status, resp.StatusCode)
		assert.Equal(t, want.body, string(body))
	}

	_, err = client.Get("https://api.example.com/widgets")
	assert.True(t, errors.Is(err, httpmock.ErrQueueEmpty))
}

func TestMockHTTP_NewHandlerEachCall(t *testing.T) {
	tc := newContext(t)

	first := tc.MockHTTP()
	first.AppendStatus(http.StatusTeapot)
	second := tc.MockHTTP()
	second.AppendStatus(http.StatusNoContent)

	assert.NotSame(t, first, second)
	assert.Same(t, second, tc.Mock())

	client, err := tc.App().HTTPClient()
	require.NoError(t, err)
	resp, err := client.Get("https://api.example.com/")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 1, first.Count(), "the replaced mock is no longer consulted")
}

func TestMockHTTP_KeepsConfiguredTimeout(t *testing.T) {
	t.Setenv("APPTEST_HTTP_TIMEOUT", "7s")
	tc := newContext(t)
	want := tc.App().Config().HTTP.Timeout
	require.Equal(t, 7*time.Second, want)

	tc.MockHTTP()
	client, err := tc.App().HTTPClient()
	require.NoError(t, err)
	assert.Equal(t, want, client.Timeout)
}

func TestMockHTTP_GraphQLClientUsesMock(t *testing.T) {
	tc := newContext(t)
	mock := tc.MockHTTP()
	mock.AppendJSON(http.StatusOK, map[string]any{
		"data": map[string]any{"widget": map[string]any{"name": "sprocket"}},
	})

	gql, err := tc.App().GraphQLClient()
	require.NoError(t, err)

	var q struct {
		Widget struct {
			Name string `graphql:"name"`
		} `graphql:"widget"`
	}
	require.NoError(t, gql.Query(context.Background(), &q, nil))
	assert.Equal(t, "sprocket", q.Widget.Name)
	assert.Zero(t, mock.Count())
}

func TestCreate_Collection(t *testing.T) {
	tc := newContext(t)

	got, err := tc.Create("Widget", factory.Attributes{"name": "x"}, 3)
	require.NoError(t, err)

	list, ok := got.([]any)
	require.True(t, ok)
	require.Len(t, list, 3)
	for _, item := range list {
		w := item.(*Widget)
		assert.Equal(t, "x", w.Name)
		assert.NotZero(t, w.ID)
	}

	var count int64
	require.NoError(t, tc.App().DB().Model(&Widget{}).Where("name = ?", "x").Count(&count).Error)
	assert.Equal(t, int64(3), count)
}

func TestCreate_Single(t *testing.T) {
	tc := newContext(t)

	got, err := tc.Create("Widget", nil, 1)
	require.NoError(t, err)
	w, ok := got.(*Widget)
	require.True(t, ok, "a count of one returns the record itself")
	assert.Equal(t, "widget-1", w.Name)
}

func TestMake_DoesNotPersist(t *testing.T) {
	tc := newContext(t)

	got, err := tc.Make("Widget", factory.Attributes{"price": 99}, 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	var count int64
	require.NoError(t, tc.App().DB().Model(&Widget{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestCreate_ErrorsPassThroughUnchanged(t *testing.T) {
	tc := newContext(t)

	_, err := tc.Create("Gadget", nil, 1)
	assert.True(t, errors.Is(err, factory.ErrUnknownFactory))

	_, err = tc.Make("Widget", nil, -2)
	assert.True(t, errors.Is(err, factory.ErrInvalidCount))
}

func TestClient_ServesInProcess(t *testing.T) {
	tc := newContext(t)

	resp, err := tc.Client().Get("http://app.test/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}
