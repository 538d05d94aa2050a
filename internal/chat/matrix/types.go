package matrix

import "encoding/json"

// Event types and wire constants for the client-server API.
const (
	eventTypeMessage     = "m.room.message"
	eventTypeMember      = "m.room.member"
	eventTypeName        = "m.room.name"
	eventTypeAvatar      = "m.room.avatar"
	eventTypeCreate      = "m.room.create"
	eventTypeEncryption  = "m.room.encryption"
	eventTypeGuestAccess = "m.room.guest_access"
	eventTypePowerLevels = "m.room.power_levels"
	eventTypeRedaction   = "m.room.redaction"
	eventTypeReaction    = "m.reaction"
	eventTypeTyping      = "m.typing"
	eventTypeReceipt     = "m.receipt"
	eventTypePresence    = "m.presence"
	eventTypeDirect      = "m.direct"

	// Custom event types carried over the same transport.
	eventTypeGroupType = "murmur.group_type"
	eventTypeLabels    = "murmur.labels"
	eventTypePost      = "murmur.post"
	eventTypeBump      = "murmur.bump"

	msgTypeText  = "m.text"
	msgTypeFile  = "m.file"
	msgTypeImage = "m.image"

	relTypeReplace    = "m.replace"
	relTypeAnnotation = "m.annotation"

	membershipInvite = "invite"
	membershipJoin   = "join"
	membershipLeave  = "leave"

	presetTrustedPrivateChat = "trusted_private_chat"
	presetPrivateChat        = "private_chat"
	visibilityPrivate        = "private"

	guestAccessForbidden = "forbidden"
	megolmAlgorithm      = "m.megolm.v1.aes-sha2"
	backupAlgorithm      = "m.megolm_backup.v1.curve25519-aes-sha2"

	receiptTypeRead        = "m.read"
	receiptTypeReadPrivate = "m.read.private"
)

// Role thresholds. Invite and kick require Moderator; redact and ban
// require Owner; the default member role is Viewer.
const (
	PowerLevelViewer    = 0
	PowerLevelModerator = 50
	PowerLevelOwner     = 100
)

// StateEvent is a state event included in room creation or set explicitly.
type StateEvent struct {
	Type     string `json:"type"`
	StateKey string `json:"state_key"`
	Content  any    `json:"content"`
}

// CreateRoomRequest holds parameters for creating a room.
type CreateRoomRequest struct {
	Name                      string         `json:"name,omitempty"`
	Visibility                string         `json:"visibility,omitempty"`
	Preset                    string         `json:"preset,omitempty"`
	Invite                    []string       `json:"invite,omitempty"`
	IsDirect                  bool           `json:"is_direct,omitempty"`
	InitialState              []StateEvent   `json:"initial_state,omitempty"`
	PowerLevelContentOverride map[string]any `json:"power_level_content_override,omitempty"`
}

// CreateRoomResponse is returned by createRoom.
type CreateRoomResponse struct {
	RoomID string `json:"room_id"`
}

// RelatesTo expresses relationships between events: replies, edits
// (rel_type m.replace) and reactions (rel_type m.annotation).
type RelatesTo struct {
	RelType   string     `json:"rel_type,omitempty"`
	EventID   string     `json:"event_id,omitempty"`
	Key       string     `json:"key,omitempty"`
	InReplyTo *InReplyTo `json:"m.in_reply_to,omitempty"`
}

// InReplyTo references the event being replied to.
type InReplyTo struct {
	EventID string `json:"event_id"`
}

// MessageContent is the content body of a message event. NewContent is set
// on edits and carries the true new body; the top-level body then holds the
// conventional "* " fallback.
type MessageContent struct {
	MsgType      string          `json:"msgtype,omitempty"`
	Body         string          `json:"body"`
	URL          string          `json:"url,omitempty"`
	File         *EncryptedFile  `json:"file,omitempty"`
	NewContent   *MessageContent `json:"m.new_content,omitempty"`
	RelatesTo    *RelatesTo      `json:"m.relates_to,omitempty"`
	OptimisticID string          `json:"optimisticId,omitempty"`
}

// EncryptedFile describes an encrypted attachment: the remote ciphertext
// reference plus the key material needed to decrypt it client-side.
type EncryptedFile struct {
	URL    string            `json:"url"`
	Key    EncryptedFileKey  `json:"key"`
	IV     string            `json:"iv"`
	Hashes map[string]string `json:"hashes"`
	V      string            `json:"v"`
}

// EncryptedFileKey is the JSON Web Key carrying the AES key.
type EncryptedFileKey struct {
	Alg    string   `json:"alg"`
	Ext    bool     `json:"ext"`
	K      string   `json:"k"`
	KeyOps []string `json:"key_ops"`
	Kty    string   `json:"kty"`
}

// Event represents a single event from the server.
type Event struct {
	EventID        string          `json:"event_id"`
	Type           string          `json:"type"`
	Sender         string          `json:"sender"`
	OriginServerTS int64           `json:"origin_server_ts"`
	Content        json.RawMessage `json:"content"`
	RoomID         string          `json:"room_id,omitempty"`
	StateKey       *string         `json:"state_key,omitempty"`
	Redacts        string          `json:"redacts,omitempty"`
}

// SendEventResponse is returned by message, state and redaction sends.
type SendEventResponse struct {
	EventID string `json:"event_id"`
}

// WhoAmIResponse is returned by the whoami endpoint.
type WhoAmIResponse struct {
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id,omitempty"`
}

// SyncOptions controls the /sync endpoint.
type SyncOptions struct {
	Since      string
	Timeout    int
	SetTimeout bool
	Filter     string
}

// SyncResponse is the top-level response from /sync.
type SyncResponse struct {
	NextBatch   string        `json:"next_batch"`
	Presence    EventsSection `json:"presence,omitempty"`
	AccountData EventsSection `json:"account_data,omitempty"`
	Rooms       RoomsSection  `json:"rooms"`
}

// EventsSection wraps a plain event list.
type EventsSection struct {
	Events []Event `json:"events"`
}

// RoomsSection groups per-room sync data by membership state.
type RoomsSection struct {
	Join   map[string]JoinedRoom  `json:"join,omitempty"`
	Invite map[string]InvitedRoom `json:"invite,omitempty"`
	Leave  map[string]LeftRoom    `json:"leave,omitempty"`
}

// JoinedRoom contains sync data for a room the user has joined.
type JoinedRoom struct {
	Timeline            TimelineSection     `json:"timeline"`
	State               EventsSection       `json:"state"`
	Ephemeral           EventsSection       `json:"ephemeral,omitempty"`
	AccountData         EventsSection       `json:"account_data,omitempty"`
	UnreadNotifications UnreadNotifications `json:"unread_notifications,omitempty"`
}

// InvitedRoom contains sync data for a room the user was invited to.
type InvitedRoom struct {
	InviteState EventsSection `json:"invite_state"`
}

// LeftRoom contains sync data for a room the user has left.
type LeftRoom struct {
	Timeline TimelineSection `json:"timeline"`
	State    EventsSection   `json:"state"`
}

// TimelineSection contains timeline events from a sync response.
type TimelineSection struct {
	Events    []Event `json:"events"`
	PrevBatch string  `json:"prev_batch"`
	Limited   bool    `json:"limited"`
}

// UnreadNotifications carries the server-computed unread counters.
type UnreadNotifications struct {
	NotificationCount int `json:"notification_count"`
	HighlightCount    int `json:"highlight_count"`
}

// RoomMessagesResponse is returned by the paginated /messages endpoint.
type RoomMessagesResponse struct {
	Start string  `json:"start"`
	End   string  `json:"end"`
	Chunk []Event `json:"chunk"`
}

// UploadResponse is returned by the media upload endpoint.
type UploadResponse struct {
	ContentURI string `json:"content_uri"`
}

// BackupVersionResponse describes the current key backup, if any.
type BackupVersionResponse struct {
	Version   string          `json:"version"`
	Algorithm string          `json:"algorithm"`
	AuthData  json.RawMessage `json:"auth_data"`
	Count     int             `json:"count"`
	Etag      string          `json:"etag"`
}

// MemberContent is the content of a membership state event.
type MemberContent struct {
	Membership  string `json:"membership"`
	DisplayName string `json:"displayname,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	IsDirect    bool   `json:"is_direct,omitempty"`
}

// PowerLevelsContent is the content of a power-levels state event.
type PowerLevelsContent struct {
	UsersDefault int            `json:"users_default"`
	Invite       int            `json:"invite"`
	Kick         int            `json:"kick"`
	Redact       int            `json:"redact"`
	Ban          int            `json:"ban"`
	Users        map[string]int `json:"users,omitempty"`
}

// PresenceContent carries a user's presence state.
type PresenceContent struct {
	Presence      string `json:"presence"`
	LastActiveAgo int64  `json:"last_active_ago,omitempty"`
}
