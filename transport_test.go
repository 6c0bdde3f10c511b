package applogger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockedTransport(t *testing.T, compress bool) (*HTTPTransport, *httpmock.MockTransport) {
	t.Helper()
	mock := httpmock.NewMockTransport()
	transport, err := NewHTTPTransport(HTTPConfig{
		BaseURL:  "http://collector.test/",
		APIToken: "secret-token",
		Compress: compress,
		Client:   &http.Client{Transport: mock},
	})
	require.NoError(t, err)
	return transport, mock
}

func TestHTTPTransport_Post(t *testing.T) {
	transport, mock := newMockedTransport(t, false)

	mock.RegisterResponder(http.MethodPost, "http://collector.test/Api/StartSession",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "Bearer secret-token", req.Header.Get("Authorization"))
			assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
			assert.Equal(t, defaultUserAgent, req.Header.Get("User-Agent"))

			var body StartSessionRequest
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			assert.Equal(t, "secret-token", body.Secret)

			return httpmock.NewStringResponse(http.StatusOK, `"`+testSessionID+`"`), nil
		})

	resp, err := transport.Post(context.Background(), PathStartSession, StartSessionRequest{Secret: "secret-token"})

	require.NoError(t, err)
	assert.True(t, resp.OK)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `"`+testSessionID+`"`, resp.Body)
	assert.Equal(t, 1, mock.GetTotalCallCount())
}

func TestHTTPTransport_Gzip(t *testing.T) {
	transport, mock := newMockedTransport(t, true)

	mock.RegisterResponder(http.MethodPost, "http://collector.test/Api/Log",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "gzip", req.Header.Get("Content-Encoding"))
			zr, err := gzip.NewReader(req.Body)
			require.NoError(t, err)
			raw, err := io.ReadAll(zr)
			require.NoError(t, err)

			var r Record
			require.NoError(t, json.Unmarshal(raw, &r))
			assert.Equal(t, "compressed", r.Message)
			return httpmock.NewStringResponse(http.StatusOK, `{"status":"ok"}`), nil
		})

	resp, err := transport.Post(context.Background(), PathLog, &Record{Message: "compressed", Level: LevelWarning})

	require.NoError(t, err)
	assert.True(t, resp.OK)
}

func TestHTTPTransport_ErrorStatuses(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
	}{
		{"bad_request", http.StatusBadRequest},
		{"unauthorized", http.StatusUnauthorized},
		{"not_found", http.StatusNotFound},
		{"internal_server_error", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport, mock := newMockedTransport(t, false)
			mock.RegisterResponder(http.MethodPost, "http://collector.test/Api/Log",
				httpmock.NewStringResponder(tt.statusCode, `{"error":"nope"}`))

			resp, err := transport.Post(context.Background(), PathLog, &Record{})

			require.NoError(t, err)
			assert.False(t, resp.OK)
			assert.Equal(t, tt.statusCode, resp.StatusCode)
		})
	}
}

func TestHTTPTransport_NetworkError(t *testing.T) {
	transport, mock := newMockedTransport(t, false)
	mock.RegisterResponder(http.MethodPost, "http://collector.test/Api/Log",
		httpmock.NewErrorResponder(errors.New("connection refused")))

	_, err := transport.Post(context.Background(), PathLog, &Record{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestHTTPTransport_UnmarshalableBody(t *testing.T) {
	transport, mock := newMockedTransport(t, false)

	_, err := transport.Post(context.Background(), PathLog, map[string]any{"ch": make(chan int)})

	require.Error(t, err)
	assert.Equal(t, 0, mock.GetTotalCallCount())
}

func TestNewHTTPTransport_RequiresBaseURL(t *testing.T) {
	_, err := NewHTTPTransport(HTTPConfig{})
	assert.Error(t, err)
}

func TestGzipBytes_RoundTrip(t *testing.T) {
	in := bytes.Repeat([]byte("applogger "), 100)
	out, err := gzipBytes(in)
	require.NoError(t, err)
	assert.Less(t, len(out), len(in))

	zr, err := gzip.NewReader(bytes.NewReader(out))
	require.NoError(t, err)
	back, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, in, back)
}
