package hosted

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// ClientConfig holds configuration for the hosted platform API client.
type ClientConfig struct {
	// AppID identifies the application on the hosted platform. Required.
	AppID string
	// BaseURL is the platform's API origin (e.g., "https://api.chat.example").
	BaseURL string
	// HTTPClient is used for all requests. If nil, http.DefaultClient is used.
	HTTPClient *http.Client
	// Logger is used for structured logging.
	Logger *zerolog.Logger
}

// Client is the REST client for the hosted chat platform. Unlike the
// federated backend the platform is a single origin: every request carries
// the application id and, once issued, the session token.
type Client struct {
	appID      string
	baseURL    string
	httpClient *http.Client
	log        *zerolog.Logger
}

// NewClient creates a client for the hosted platform.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.AppID == "" {
		return nil, fmt.Errorf("hosted: app id is required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("hosted: base URL is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		appID:      cfg.AppID,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		log:        cfg.Logger,
	}, nil
}

// CloseIdleConnections drops pooled connections ahead of a reconnect.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// apiError is a structured error response from the platform.
type apiError struct {
	CodeNum    int    `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("hosted: %d (%d): %s", e.CodeNum, e.StatusCode, e.Message)
}

// Platform error codes surfaced to the adapter.
const (
	errCodeSessionExpired = 400302
	errCodeSessionRevoked = 400310
)

// isSessionError reports whether err means the session token is no longer
// valid and must be refreshed or the user re-authenticated.
func isSessionError(err error) bool {
	var apiErr *apiError
	if !asAPIError(err, &apiErr) {
		return false
	}
	return apiErr.CodeNum == errCodeSessionExpired || apiErr.CodeNum == errCodeSessionRevoked ||
		apiErr.StatusCode == http.StatusUnauthorized
}

func asAPIError(err error, target **apiError) bool {
	for err != nil {
		if e, ok := err.(*apiError); ok {
			*target = e
			return true
		}
		type unwrapper interface{ Unwrap() error }
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// do performs a JSON request against the platform API.
func (c *Client) do(ctx context.Context, method, path, sessionToken string, body any, query ...url.Values) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("hosted: marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	requestURL := c.baseURL + path
	if len(query) > 0 && len(query[0]) > 0 {
		requestURL += "?" + query[0].Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, reader)
	if err != nil {
		return nil, fmt.Errorf("hosted: build request: %w", err)
	}
	req.Header.Set("App-Id", c.appID)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if sessionToken != "" {
		req.Header.Set("Session-Token", sessionToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hosted: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("hosted: read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &apiError{StatusCode: resp.StatusCode}
		if jsonErr := json.Unmarshal(responseBody, apiErr); jsonErr != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(responseBody))
		}
		return responseBody, apiErr
	}
	return responseBody, nil
}

// IssueSession exchanges user credentials for a session token. The token is
// a JWT whose expiry drives the refresh schedule.
func (c *Client) IssueSession(ctx context.Context, userID, accessToken string) (*SessionResponse, error) {
	body, err := c.do(ctx, http.MethodPost, "/v3/auth/session", "", map[string]string{
		"user_id":      userID,
		"access_token": accessToken,
	})
	if err != nil {
		return nil, err
	}
	var resp SessionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("hosted: decode session response: %w", err)
	}
	return &resp, nil
}

// RefreshSession trades an expiring session token for a fresh one.
func (c *Client) RefreshSession(ctx context.Context, sessionToken string) (*SessionResponse, error) {
	body, err := c.do(ctx, http.MethodPost, "/v3/auth/session/refresh", sessionToken, struct{}{})
	if err != nil {
		return nil, err
	}
	var resp SessionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("hosted: decode refresh response: %w", err)
	}
	return &resp, nil
}

// ListChannels pages through the user's group channels.
func (c *Client) ListChannels(ctx context.Context, sessionToken, pageToken string, limit int) (*ChannelListResponse, error) {
	query := url.Values{}
	if pageToken != "" {
		query.Set("token", pageToken)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	body, err := c.do(ctx, http.MethodGet, "/v3/group_channels", sessionToken, nil, query)
	if err != nil {
		return nil, err
	}
	var resp ChannelListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("hosted: decode channel list: %w", err)
	}
	return &resp, nil
}

// CreateChannel creates a group channel. Distinct channels are deduplicated
// per member set by the platform, which is how direct conversations behave.
func (c *Client) CreateChannel(ctx context.Context, sessionToken string, req CreateChannelRequest) (*WireChannel, error) {
	body, err := c.do(ctx, http.MethodPost, "/v3/group_channels", sessionToken, req)
	if err != nil {
		return nil, err
	}
	var resp WireChannel
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("hosted: decode channel: %w", err)
	}
	return &resp, nil
}

// SendMessage posts a message to a channel.
func (c *Client) SendMessage(ctx context.Context, sessionToken, channelURL string, req SendMessageRequest) (*WireMessage, error) {
	path := "/v3/group_channels/" + url.PathEscape(channelURL) + "/messages"
	body, err := c.do(ctx, http.MethodPost, path, sessionToken, req)
	if err != nil {
		return nil, err
	}
	var resp WireMessage
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("hosted: decode message: %w", err)
	}
	return &resp, nil
}

// UpdateMessage edits a message body in place.
func (c *Client) UpdateMessage(ctx context.Context, sessionToken, channelURL, messageID, newBody string) error {
	path := "/v3/group_channels/" + url.PathEscape(channelURL) + "/messages/" + url.PathEscape(messageID)
	_, err := c.do(ctx, http.MethodPut, path, sessionToken, map[string]string{"message": newBody})
	return err
}

// DeleteMessage removes a message.
func (c *Client) DeleteMessage(ctx context.Context, sessionToken, channelURL, messageID string) error {
	path := "/v3/group_channels/" + url.PathEscape(channelURL) + "/messages/" + url.PathEscape(messageID)
	_, err := c.do(ctx, http.MethodDelete, path, sessionToken, nil)
	return err
}

// ListMessages pages backwards through a channel's history.
func (c *Client) ListMessages(ctx context.Context, sessionToken, channelURL string, beforeTS int64, limit int) (*MessageListResponse, error) {
	query := url.Values{}
	if beforeTS > 0 {
		query.Set("message_ts", strconv.FormatInt(beforeTS, 10))
	}
	if limit > 0 {
		query.Set("prev_limit", strconv.Itoa(limit))
	}
	path := "/v3/group_channels/" + url.PathEscape(channelURL) + "/messages"
	body, err := c.do(ctx, http.MethodGet, path, sessionToken, nil, query)
	if err != nil {
		return nil, err
	}
	var resp MessageListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("hosted: decode message list: %w", err)
	}
	return &resp, nil
}

// InviteMembers adds users to a channel.
func (c *Client) InviteMembers(ctx context.Context, sessionToken, channelURL string, userIDs []string) error {
	path := "/v3/group_channels/" + url.PathEscape(channelURL) + "/invite"
	_, err := c.do(ctx, http.MethodPost, path, sessionToken, map[string][]string{"user_ids": userIDs})
	return err
}

// RemoveMember kicks a user from a channel.
func (c *Client) RemoveMember(ctx context.Context, sessionToken, channelURL, userID string) error {
	path := "/v3/group_channels/" + url.PathEscape(channelURL) + "/members/" + url.PathEscape(userID)
	_, err := c.do(ctx, http.MethodDelete, path, sessionToken, nil)
	return err
}

// SetOperator marks a user as a channel operator, the platform's moderator
// equivalent.
func (c *Client) SetOperator(ctx context.Context, sessionToken, channelURL, userID string) error {
	path := "/v3/group_channels/" + url.PathEscape(channelURL) + "/operators"
	_, err := c.do(ctx, http.MethodPost, path, sessionToken, map[string][]string{"operator_ids": {userID}})
	return err
}

// LeaveChannel removes the given user from a channel.
func (c *Client) LeaveChannel(ctx context.Context, sessionToken, channelURL string, userIDs []string) error {
	path := "/v3/group_channels/" + url.PathEscape(channelURL) + "/leave"
	_, err := c.do(ctx, http.MethodPut, path, sessionToken, map[string][]string{"user_ids": userIDs})
	return err
}

// MarkRead moves the user's read horizon to now.
func (c *Client) MarkRead(ctx context.Context, sessionToken, channelURL string) error {
	path := "/v3/group_channels/" + url.PathEscape(channelURL) + "/messages/mark_as_read"
	_, err := c.do(ctx, http.MethodPut, path, sessionToken, struct{}{})
	return err
}

// AddReaction toggles an emoji reaction on a message.
func (c *Client) AddReaction(ctx context.Context, sessionToken, channelURL, messageID, key string) error {
	path := "/v3/group_channels/" + url.PathEscape(channelURL) +
		"/messages/" + url.PathEscape(messageID) + "/reactions"
	_, err := c.do(ctx, http.MethodPost, path, sessionToken, map[string]string{"reaction": key})
	return err
}
