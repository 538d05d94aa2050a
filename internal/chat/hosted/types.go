package hosted

import "encoding/json"

// channelURLPrefix is prepended by the platform to every group channel URL.
// Domain channel ids are the bare suffix; wire calls re-expand it.
const channelURLPrefix = "hosted_group_channel_"

// SessionResponse is returned by session issue and refresh.
type SessionResponse struct {
	SessionToken string `json:"session_token"`
	ExpiresAt    int64  `json:"expires_at"`
}

// WireUser is a platform user.
type WireUser struct {
	UserID     string `json:"user_id"`
	Nickname   string `json:"nickname"`
	ProfileURL string `json:"profile_url"`
	IsOnline   bool   `json:"is_online"`
	LastSeenAt int64  `json:"last_seen_at"`
}

// WireChannel is a platform group channel.
type WireChannel struct {
	ChannelURL         string       `json:"channel_url"`
	Name               string       `json:"name"`
	CoverURL           string       `json:"cover_url"`
	CreatedAt          int64        `json:"created_at"`
	IsDistinct         bool         `json:"is_distinct"`
	CustomType         string       `json:"custom_type"`
	Members            []WireUser   `json:"members"`
	OperatorIDs        []string     `json:"operator_ids"`
	UnreadMessageCount int          `json:"unread_message_count"`
	UnreadMentionCount int          `json:"unread_mention_count"`
	LastMessage        *WireMessage `json:"last_message"`
	Data               string       `json:"data"`
}

// WireMessage is a platform message.
type WireMessage struct {
	MessageID    int64           `json:"message_id"`
	ChannelURL   string          `json:"channel_url"`
	Message      string          `json:"message"`
	CreatedAt    int64           `json:"created_at"`
	UpdatedAt    int64           `json:"updated_at"`
	User         WireUser        `json:"user"`
	ParentID     int64           `json:"parent_message_id,omitempty"`
	ParentText   string          `json:"parent_message_text,omitempty"`
	Data         string          `json:"data,omitempty"`
	Reactions    []WireReaction  `json:"reactions,omitempty"`
	MentionedIDs []string        `json:"mentioned_user_ids,omitempty"`
	File         json.RawMessage `json:"file,omitempty"`
}

// WireReaction aggregates one emoji key on a message.
type WireReaction struct {
	Key     string   `json:"key"`
	UserIDs []string `json:"user_ids"`
}

// CreateChannelRequest creates a group channel.
type CreateChannelRequest struct {
	Name       string   `json:"name,omitempty"`
	UserIDs    []string `json:"user_ids"`
	IsDistinct bool     `json:"is_distinct"`
	CoverURL   string   `json:"cover_url,omitempty"`
	Data       string   `json:"data,omitempty"`
}

// SendMessageRequest posts a message. Data carries the optimistic id so
// other sessions can reconcile their placeholders.
type SendMessageRequest struct {
	Message      string   `json:"message"`
	ParentID     int64    `json:"parent_message_id,omitempty"`
	MentionedIDs []string `json:"mentioned_user_ids,omitempty"`
	Data         string   `json:"data,omitempty"`
}

// messageData is the JSON envelope stored in WireMessage.Data.
type messageData struct {
	OptimisticID string `json:"optimistic_id,omitempty"`
}

// ChannelListResponse is one page of channels.
type ChannelListResponse struct {
	Channels []WireChannel `json:"channels"`
	Next     string        `json:"next"`
}

// MessageListResponse is one page of history.
type MessageListResponse struct {
	Messages []WireMessage `json:"messages"`
}

// Socket frame types pushed by the platform.
const (
	frameMessageCreated = "MESG"
	frameMessageUpdated = "MEDI"
	frameMessageDeleted = "DELM"
	frameMemberJoined   = "SYEV_JOIN"
	frameMemberLeft     = "SYEV_LEAVE"
	frameChannelChanged = "SYEV_CHANNEL"
	frameTyping         = "TPST"
	frameReadReceipt    = "READ"
	frameReaction       = "REAC"
	frameInvitation     = "SYEV_INVITE"
	frameSessionExpired = "EXPR"
	framePresence       = "PRES"
	frameForeground     = "FGND"
)

// socketFrame is one frame on the event socket.
type socketFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// typingPayload carries the current typers of a channel.
type typingPayload struct {
	ChannelURL string   `json:"channel_url"`
	UserIDs    []string `json:"user_ids"`
}

// readReceiptPayload marks a user's read horizon.
type readReceiptPayload struct {
	ChannelURL string `json:"channel_url"`
	UserID     string `json:"user_id"`
	MessageID  int64  `json:"message_id"`
}

// reactionPayload is one reaction toggle.
type reactionPayload struct {
	ChannelURL string `json:"channel_url"`
	MessageID  int64  `json:"message_id"`
	Key        string `json:"key"`
	UserID     string `json:"user_id"`
	Count      int    `json:"count"`
}

// memberPayload is a join or leave notification.
type memberPayload struct {
	ChannelURL string   `json:"channel_url"`
	User       WireUser `json:"user"`
}

// channelPayload is a channel metadata change.
type channelPayload struct {
	Channel WireChannel `json:"channel"`
}

// presencePayload is a presence update.
type presencePayload struct {
	UserID     string `json:"user_id"`
	IsOnline   bool   `json:"is_online"`
	LastSeenAt int64  `json:"last_seen_at"`
}
