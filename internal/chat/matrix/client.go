package matrix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// HomeserverURL is the base URL of the homeserver (e.g., "http://localhost:8008").
	HomeserverURL string
	// HTTPClient is used for all requests. If nil, http.DefaultClient is used.
	HTTPClient *http.Client
	// Logger is used for structured logging.
	Logger *zerolog.Logger
}

// Client is a thin HTTP client for the federated protocol's client-server
// API. Request URLs are built by string concatenation rather than url.URL
// to avoid double-encoding of path segments that already contain
// URL-encoded characters.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *zerolog.Logger
}

// NewClient creates a client for the given homeserver.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.HomeserverURL == "" {
		return nil, fmt.Errorf("matrix: homeserver URL is required")
	}
	if _, err := url.Parse(cfg.HomeserverURL); err != nil {
		return nil, fmt.Errorf("matrix: invalid homeserver URL %q: %w", cfg.HomeserverURL, err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.HomeserverURL, "/"),
		httpClient: httpClient,
		log:        cfg.Logger,
	}, nil
}

// CloseIdleConnections drops pooled connections so the next request dials
// fresh. Call after a network disruption to avoid reusing a poisoned
// connection.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// do performs a JSON request against the client-server API. A non-2xx
// response is returned as a *APIError. The response body is returned
// verbatim for the caller to unmarshal.
func (c *Client) do(ctx context.Context, method, path, accessToken string, body any, query ...url.Values) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("matrix: marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	return c.doRaw(ctx, method, path, accessToken, "application/json", reader, query...)
}

// doRaw performs a request with an arbitrary body, e.g. media uploads.
func (c *Client) doRaw(ctx context.Context, method, path, accessToken, contentType string, body io.Reader, query ...url.Values) ([]byte, error) {
	requestURL := c.baseURL + path
	if len(query) > 0 && len(query[0]) > 0 {
		requestURL += "?" + query[0].Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, body)
	if err != nil {
		return nil, fmt.Errorf("matrix: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("matrix: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("matrix: read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if jsonErr := json.Unmarshal(responseBody, apiErr); jsonErr != nil || apiErr.Code == "" {
			apiErr.Code = ErrCodeUnknown
			apiErr.Message = strings.TrimSpace(string(responseBody))
		}
		return responseBody, apiErr
	}

	return responseBody, nil
}
