package matrix

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/google/uuid"
)

const clientPrefix = "/_matrix/client/v3"

// WhoAmI resolves the user id owning the access token. Used during the
// handshake to validate credentials before any sync traffic.
func (c *Client) WhoAmI(ctx context.Context, token string) (*WhoAmIResponse, error) {
	body, err := c.do(ctx, http.MethodGet, clientPrefix+"/account/whoami", token, nil)
	if err != nil {
		return nil, err
	}
	var resp WhoAmIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("matrix: decode whoami response: %w", err)
	}
	return &resp, nil
}

// Sync performs one long-poll against /sync.
func (c *Client) Sync(ctx context.Context, token string, opts SyncOptions) (*SyncResponse, error) {
	query := url.Values{}
	if opts.Since != "" {
		query.Set("since", opts.Since)
	}
	if opts.SetTimeout {
		query.Set("timeout", strconv.Itoa(opts.Timeout))
	}
	if opts.Filter != "" {
		query.Set("filter", opts.Filter)
	}

	body, err := c.do(ctx, http.MethodGet, clientPrefix+"/sync", token, nil, query)
	if err != nil {
		return nil, err
	}
	var resp SyncResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("matrix: decode sync response: %w", err)
	}
	return &resp, nil
}

// CreateRoom creates a room and returns its id.
func (c *Client) CreateRoom(ctx context.Context, token string, req CreateRoomRequest) (string, error) {
	body, err := c.do(ctx, http.MethodPost, clientPrefix+"/createRoom", token, req)
	if err != nil {
		return "", err
	}
	var resp CreateRoomResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("matrix: decode createRoom response: %w", err)
	}
	return resp.RoomID, nil
}

// JoinRoom accepts an invite (or joins a joinable room).
func (c *Client) JoinRoom(ctx context.Context, token, roomID string) error {
	path := clientPrefix + "/rooms/" + url.PathEscape(roomID) + "/join"
	_, err := c.do(ctx, http.MethodPost, path, token, struct{}{})
	return err
}

// LeaveRoom leaves a room.
func (c *Client) LeaveRoom(ctx context.Context, token, roomID string) error {
	path := clientPrefix + "/rooms/" + url.PathEscape(roomID) + "/leave"
	_, err := c.do(ctx, http.MethodPost, path, token, struct{}{})
	return err
}

// InviteUser invites a user to a room.
func (c *Client) InviteUser(ctx context.Context, token, roomID, userID string) error {
	path := clientPrefix + "/rooms/" + url.PathEscape(roomID) + "/invite"
	_, err := c.do(ctx, http.MethodPost, path, token, map[string]string{"user_id": userID})
	return err
}

// KickUser removes a user from a room.
func (c *Client) KickUser(ctx context.Context, token, roomID, userID string) error {
	path := clientPrefix + "/rooms/" + url.PathEscape(roomID) + "/kick"
	_, err := c.do(ctx, http.MethodPost, path, token, map[string]string{"user_id": userID})
	return err
}

// SendEvent sends a timeline event with a fresh transaction id and returns
// the event id assigned by the server.
func (c *Client) SendEvent(ctx context.Context, token, roomID, eventType string, content any) (string, error) {
	txnID := uuid.NewString()
	path := clientPrefix + "/rooms/" + url.PathEscape(roomID) +
		"/send/" + url.PathEscape(eventType) + "/" + url.PathEscape(txnID)
	body, err := c.do(ctx, http.MethodPut, path, token, content)
	if err != nil {
		return "", err
	}
	var resp SendEventResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("matrix: decode send response: %w", err)
	}
	return resp.EventID, nil
}

// SendStateEvent sets a state event and returns the resulting event id.
func (c *Client) SendStateEvent(ctx context.Context, token, roomID, eventType, stateKey string, content any) (string, error) {
	path := clientPrefix + "/rooms/" + url.PathEscape(roomID) +
		"/state/" + url.PathEscape(eventType) + "/" + url.PathEscape(stateKey)
	body, err := c.do(ctx, http.MethodPut, path, token, content)
	if err != nil {
		return "", err
	}
	var resp SendEventResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("matrix: decode state response: %w", err)
	}
	return resp.EventID, nil
}

// StateEventContent fetches the content of one state event. A missing event
// is returned as a *APIError with M_NOT_FOUND.
func (c *Client) StateEventContent(ctx context.Context, token, roomID, eventType, stateKey string, out any) error {
	path := clientPrefix + "/rooms/" + url.PathEscape(roomID) +
		"/state/" + url.PathEscape(eventType) + "/" + url.PathEscape(stateKey)
	body, err := c.do(ctx, http.MethodGet, path, token, nil)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("matrix: decode state content: %w", err)
	}
	return nil
}

// RedactEvent tombstones an event. The event stays in the timeline with its
// content stripped.
func (c *Client) RedactEvent(ctx context.Context, token, roomID, eventID, reason string) (string, error) {
	txnID := uuid.NewString()
	path := clientPrefix + "/rooms/" + url.PathEscape(roomID) +
		"/redact/" + url.PathEscape(eventID) + "/" + url.PathEscape(txnID)
	content := map[string]string{}
	if reason != "" {
		content["reason"] = reason
	}
	body, err := c.do(ctx, http.MethodPut, path, token, content)
	if err != nil {
		return "", err
	}
	var resp SendEventResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("matrix: decode redact response: %w", err)
	}
	return resp.EventID, nil
}

// typingTimeoutMS is the fixed expiry sent with every typing notification.
// The indicator self-expires server-side; stop is an explicit typing=false.
const typingTimeoutMS = 10000

// SendTyping publishes or clears the user's typing indicator.
func (c *Client) SendTyping(ctx context.Context, token, roomID, userID string, typing bool) error {
	path := clientPrefix + "/rooms/" + url.PathEscape(roomID) +
		"/typing/" + url.PathEscape(userID)
	content := map[string]any{"typing": typing}
	if typing {
		content["timeout"] = typingTimeoutMS
	}
	_, err := c.do(ctx, http.MethodPut, path, token, content)
	return err
}

// SendReceipt marks events up to eventID as read. receiptType selects
// between public and private receipts.
func (c *Client) SendReceipt(ctx context.Context, token, roomID, receiptType, eventID string) error {
	path := clientPrefix + "/rooms/" + url.PathEscape(roomID) +
		"/receipt/" + url.PathEscape(receiptType) + "/" + url.PathEscape(eventID)
	_, err := c.do(ctx, http.MethodPost, path, token, struct{}{})
	return err
}

// RoomMessages pages backwards through a room's timeline starting at the
// given token (or the live edge when empty).
func (c *Client) RoomMessages(ctx context.Context, token, roomID, from string, limit int) (*RoomMessagesResponse, error) {
	query := url.Values{}
	query.Set("dir", "b")
	if from != "" {
		query.Set("from", from)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	path := clientPrefix + "/rooms/" + url.PathEscape(roomID) + "/messages"
	body, err := c.do(ctx, http.MethodGet, path, token, nil, query)
	if err != nil {
		return nil, err
	}
	var resp RoomMessagesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("matrix: decode messages response: %w", err)
	}
	return &resp, nil
}

// AccountData fetches one account data event for the user. A missing event
// is a *APIError with M_NOT_FOUND.
func (c *Client) AccountData(ctx context.Context, token, userID, dataType string, out any) error {
	path := clientPrefix + "/user/" + url.PathEscape(userID) +
		"/account_data/" + url.PathEscape(dataType)
	body, err := c.do(ctx, http.MethodGet, path, token, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("matrix: decode account data: %w", err)
	}
	return nil
}

// SetAccountData replaces one account data event for the user.
func (c *Client) SetAccountData(ctx context.Context, token, userID, dataType string, content any) error {
	path := clientPrefix + "/user/" + url.PathEscape(userID) +
		"/account_data/" + url.PathEscape(dataType)
	_, err := c.do(ctx, http.MethodPut, path, token, content)
	return err
}

// PowerLevels fetches the room's current power-levels state.
func (c *Client) PowerLevels(ctx context.Context, token, roomID string) (*PowerLevelsContent, error) {
	var content PowerLevelsContent
	if err := c.StateEventContent(ctx, token, roomID, eventTypePowerLevels, "", &content); err != nil {
		return nil, err
	}
	return &content, nil
}
