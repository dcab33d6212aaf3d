package httpmock

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/launchdarkly/go-test-helpers/v2/httphelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestMockHandler_FIFO(t *testing.T) {
	h := NewMockHandler()
	client := NewClient(h)

	h.Append(NewResponse(http.StatusOK, "first"), NewResponse(http.StatusCreated, "second"))
	assert.Equal(t, 2, h.Count())

	resp1, err := client.Get("http://api.example.com/one")
	require.NoError(t, err)
	resp2, err := client.Get("http://api.example.com/two")
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp1.StatusCode)
	assert.Equal(t, "first", readBody(t, resp1))
	assert.Equal(t, http.StatusCreated, resp2.StatusCode)
	assert.Equal(t, "second", readBody(t, resp2))
	assert.Zero(t, h.Count())

	assert.Same(t, resp2.Request, h.LastRequest())
	reqs := h.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "/one", reqs[0].URL.Path)
	assert.Equal(t, "/two", reqs[1].URL.Path)
}

func TestMockHandler_EmptyQueue(t *testing.T) {
	h := NewMockHandler()
	client := NewClient(h)

	_, err := client.Get("http://api.example.com/nothing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrQueueEmpty))
	assert.Contains(t, err.Error(), "GET http://api.example.com/nothing")
	assert.NotNil(t, h.LastRequest(), "unmatched requests are still recorded")
}

func TestMockHandler_QueuedError(t *testing.T) {
	h := NewMockHandler()
	refused := errors.New("connection refused")
	h.AppendError(refused)
	h.AppendStatus(http.StatusNoContent)

	client := NewClient(h)
	_, err := client.Get("http://api.example.com/")
	assert.True(t, errors.Is(err, refused))

	resp, err := client.Get("http://api.example.com/")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, readBody(t, resp))
}

func TestMockHandler_CannedBodies(t *testing.T) {
	h := NewMockHandler()
	h.AppendJSON(http.StatusAccepted, map[string]any{"queued": true})
	h.AppendBody(http.StatusTeapot, http.Header{"X-Brew": {"earl grey"}}, []byte("short and stout"))

	client := NewClient(h)

	resp, err := client.Post("http://api.example.com/jobs", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"queued":true}`, readBody(t, resp))

	resp, err = client.Get("http://api.example.com/pot")
	require.NoError(t, err)
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
	assert.Equal(t, "earl grey", resp.Header.Get("X-Brew"))
	assert.Equal(t, "short and stout", readBody(t, resp))

	assert.Panics(t, func() { h.AppendJSON(http.StatusOK, make(chan int)) })
}

func TestMockHandler_AppendHandlerSeesRequest(t *testing.T) {
	h := NewMockHandler()
	recorder, requests := httphelpers.RecordingHandler(httphelpers.HandlerWithStatus(http.StatusOK))
	h.AppendHandler(recorder)

	client := NewClient(h)
	resp, err := client.Post("http://api.example.com/items", "text/plain", strings.NewReader("payload"))
	require.NoError(t, err)
	resp.Body.Close()

	info := <-requests
	assert.Equal(t, http.MethodPost, info.Request.Method)
	assert.Equal(t, "/items", info.Request.URL.Path)
	assert.Equal(t, "payload", string(info.Body))
}

func TestMockHandler_AppendFuncAndNilBody(t *testing.T) {
	h := NewMockHandler()
	h.AppendFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusOK, Header: http.Header{"X-Path": {req.URL.Path}}}, nil
	})

	resp, err := h.RoundTrip(mustRequest(t, http.MethodGet, "http://api.example.com/echo"))
	require.NoError(t, err)
	assert.Equal(t, "/echo", resp.Header.Get("X-Path"))
	assert.Equal(t, http.NoBody, resp.Body)
	assert.NotNil(t, resp.Request)
}

func TestMockHandler_Reset(t *testing.T) {
	h := NewMockHandler()
	h.AppendStatus(http.StatusOK)
	_, _ = h.RoundTrip(mustRequest(t, http.MethodGet, "http://api.example.com/"))
	h.AppendStatus(http.StatusOK)

	h.Reset()
	assert.Zero(t, h.Count())
	assert.Nil(t, h.LastRequest())
	assert.Empty(t, h.Requests())
}

func mustRequest(t *testing.T, method, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	return req
}

func TestMockHandler_NilResponse(t *testing.T) {
	h := NewMockHandler()
	h.AppendFunc(func(*http.Request) (*http.Response, error) { return nil, nil })
	h.AppendStatus(http.StatusOK)

	client := NewClient(h)
	_, err := client.Get("http://api.example.com/empty")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queued entry returned no response for GET http://api.example.com/empty")

	resp, err := client.Get("http://api.example.com/next")
	require.NoError(t, err, "the failed entry is still consumed")
	resp.Body.Close()

	assert.Panics(t, func() { h.Append(NewResponse(http.StatusOK, "ok"), nil) })
	assert.Zero(t, h.Count(), "a rejected Append queues nothing")
}
