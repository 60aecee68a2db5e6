package cloud

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/XANi/solis2mqtt/signer"
	"github.com/XANi/solis2mqtt/telemetry"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = func() time.Time { return time.Date(2024, 7, 26, 8, 30, 0, 0, time.UTC) }

func newTestClient(t *testing.T, url string, timeout time.Duration) *Client {
	t.Helper()
	c, err := New(Config{
		BaseURL:   url + "/",
		APIKey:    "1300386381676",
		APISecret: "6680182547",
		Timeout:   timeout,
		Now:       fixedNow,
	})
	require.NoError(t, err)
	return c
}

func TestFetchTelemetrySignsRequest(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, DetailPath, r.URL.Path)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.JSONEq(t, `{"deviceId":"1308675217944611083"}`, string(body))

		assert.Equal(t, "application/json;charset=UTF-8", r.Header.Get("Content-Type"))
		assert.Equal(t, "Fri, 26 Jul 2024 08:30:00 GMT", r.Header.Get("Date"))
		assert.Equal(t, signer.ContentMD5(body), r.Header.Get("Content-MD5"))
		want, err := signer.Sign(signer.Request{
			Method: "POST",
			Body:   body,
			Date:   r.Header.Get("Date"),
			Path:   DetailPath,
		}, "6680182547")
		require.NoError(t, err)
		assert.Equal(t, want.Authorization("1300386381676"), r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"success":true,"code":"0","data":{"records":[{"power":1.5}]}}`)
	}))
	defer ts.Close()

	resp, err := newTestClient(t, ts.URL, time.Second).FetchTelemetry(context.Background(), "1308675217944611083")
	require.NoError(t, err)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, "0", resp["code"])
}

func TestFetchTelemetryHTTPError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer ts.Close()

	_, err := newTestClient(t, ts.URL, time.Second).FetchTelemetry(context.Background(), "1")
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr), "expected HTTPError, got %v", err)
	assert.Equal(t, http.StatusTooManyRequests, httpErr.StatusCode)
	assert.Equal(t, "rate limited", httpErr.Body)
}

func TestFetchTelemetryTimeout(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-time.After(2 * time.Second):
		}
	}))
	defer ts.Close()
	defer close(release)

	_, err := newTestClient(t, ts.URL, 50*time.Millisecond).FetchTelemetry(context.Background(), "1")
	var tErr *TransportError
	require.True(t, errors.As(err, &tErr), "expected TransportError, got %v", err)
}

func TestFetchTelemetryConnectionRefused(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := ts.URL
	ts.Close()

	_, err := newTestClient(t, url, time.Second).FetchTelemetry(context.Background(), "1")
	var tErr *TransportError
	assert.True(t, errors.As(err, &tErr), "expected TransportError, got %v", err)
}

func TestFetchTelemetryStalledBody(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"success":true,"data":`)
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-time.After(500 * time.Millisecond):
		}
	}))
	defer ts.Close()
	defer close(release)

	_, err := newTestClient(t, ts.URL, 100*time.Millisecond).FetchTelemetry(context.Background(), "1")
	var tErr *TransportError
	require.True(t, errors.As(err, &tErr), "expected TransportError, got %v", err)
}

func TestFetchTelemetryNotAnObject(t *testing.T) {
	for _, body := range []string{`<html>maintenance</html>`, `[1,2]`, `null`, `"ok"`} {
		t.Run(body, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, body)
			}))
			defer ts.Close()

			_, err := newTestClient(t, ts.URL, time.Second).FetchTelemetry(context.Background(), "1")
			require.Error(t, err)
			assert.ErrorIs(t, err, telemetry.ErrRejected)
			var tErr *TransportError
			assert.False(t, errors.As(err, &tErr))
		})
	}
}

func TestFetchTelemetryKeepsNumbersExact(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"success":true,"data":{"records":[{"id":1308675217944611083,"power":1.5}]}}`)
	}))
	defer ts.Close()

	resp, err := newTestClient(t, ts.URL, time.Second).FetchTelemetry(context.Background(), "1")
	require.NoError(t, err)
	rec := resp["data"].(map[string]any)["records"].([]any)[0].(map[string]any)
	assert.Equal(t, json.Number("1308675217944611083"), rec["id"])
	assert.Equal(t, json.Number("1.5"), rec["power"])
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(Config{APISecret: "s"})
	assert.Error(t, err)
	_, err = New(Config{APIKey: "k"})
	assert.ErrorIs(t, err, signer.ErrEmptySecret)
}
