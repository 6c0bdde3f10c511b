package applogger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
)

// Collector endpoints.
const (
	PathLog          = "/Api/Log"
	PathStartSession = "/Api/StartSession"
	PathEndSession   = "/Api/EndSession"
)

const (
	defaultTransportTimeout = 10 * time.Second
	defaultUserAgent        = "applogger-go"
	maxResponseBody         = 64 << 10
)

// Response is what the collector answered to a Post.
type Response struct {
	StatusCode int
	Body       string
	OK         bool
}

// Transport posts a JSON-serialisable body to a collector path.
// A returned error means the request never produced a response; a response
// with OK == false means the collector rejected it.
type Transport interface {
	Post(ctx context.Context, path string, body any) (Response, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, path string, body any) (Response, error)

func (f TransportFunc) Post(ctx context.Context, path string, body any) (Response, error) {
	return f(ctx, path, body)
}

// HTTPConfig configures an HTTPTransport.
type HTTPConfig struct {
	BaseURL   string        // Collector URL, e.g. "https://logs.example.com"
	APIToken  string        // Sent as a bearer token
	Timeout   time.Duration // Applied when the request context has no deadline
	UserAgent string
	Compress  bool // Gzip request bodies
	Client    *http.Client
}

// HTTPTransport is the Transport used against a real collector.
type HTTPTransport struct {
	baseURL   string
	apiToken  string
	timeout   time.Duration
	userAgent string
	compress  bool
	client    *http.Client
}

func NewHTTPTransport(config HTTPConfig) (*HTTPTransport, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("BaseURL is required")
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTransportTimeout
	}
	if config.UserAgent == "" {
		config.UserAgent = defaultUserAgent
	}
	if config.Client == nil {
		config.Client = &http.Client{}
	}

	return &HTTPTransport{
		baseURL:   strings.TrimRight(config.BaseURL, "/"),
		apiToken:  config.APIToken,
		timeout:   config.Timeout,
		userAgent: config.UserAgent,
		compress:  config.Compress,
		client:    config.Client,
	}, nil
}

func (t *HTTPTransport) Post(ctx context.Context, path string, body any) (Response, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("failed to marshal body: %w", err)
	}

	payload := jsonData
	if t.compress {
		if payload, err = gzipBytes(jsonData); err != nil {
			return Response{}, fmt.Errorf("failed to compress body: %w", err)
		}
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline && t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", t.userAgent)
	if t.compress {
		req.Header.Set("Content-Encoding", "gzip")
	}
	if t.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiToken)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("failed to post %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return Response{}, fmt.Errorf("failed to read response of %s: %w", path, err)
	}

	return Response{
		StatusCode: resp.StatusCode,
		Body:       string(respBody),
		OK:         resp.StatusCode >= 200 && resp.StatusCode < 300,
	}, nil
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
