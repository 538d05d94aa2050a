package chat

import "time"

// ConnectionState describes the lifecycle of a chat session.
type ConnectionState int

const (
	// Disconnected means no session is established and none is being attempted.
	Disconnected ConnectionState = iota
	// Connecting means a handshake is in flight; operations that need a live
	// session must await it.
	Connecting
	// Connected means the handshake and initial sync completed.
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// ConversationStatus is the lifecycle of a locally known channel.
type ConversationStatus string

const (
	// StatusCreating marks an optimistic channel awaiting the backend response.
	StatusCreating ConversationStatus = "creating"
	// StatusCreated marks a channel acknowledged by the backend.
	StatusCreated ConversationStatus = "created"
	// StatusError marks an optimistic channel whose creation failed. The
	// channel stays visible so the user can see the failure and retry.
	StatusError ConversationStatus = "error"
)

// User is a chat participant as seen by the core layer. The core never owns
// the authoritative profile; fields are enriched best-effort from the
// backend's local cache.
type User struct {
	ID          string
	DisplayName string
	AvatarURL   string
	IsOnline    bool
	LastSeenAt  time.Time
}

// ParentMessage references the message a reply points at.
type ParentMessage struct {
	MessageID string
	SenderID  string
	Body      string
}

// Message is the domain model for a chat message. Identity is the
// protocol-native event id; OptimisticID is only set while a send is
// unacknowledged.
type Message struct {
	ID           string
	OptimisticID string
	ChannelID    string
	SenderID     string
	Body         string
	CreatedAt    time.Time
	EditedAt     *time.Time
	Parent       *ParentMessage
	Reactions    map[string]int
	ReadBy       []string
	// Deleted marks a tombstoned (redacted) message. Deleted messages are
	// kept in place rather than removed.
	Deleted bool
	// System marks synthetic messages such as "conversation started".
	System bool
}

// UnreadCount carries a channel's unread counters.
type UnreadCount struct {
	Total     int
	Highlight int
}

// Channel is a persistent conversation container. Identity is the
// protocol-native room id.
type Channel struct {
	ID           string
	OptimisticID string
	Name         string
	AvatarURL    string
	CreatedAt    time.Time
	Encrypted    bool
	// IsChannel distinguishes scoped channels from direct conversations.
	IsChannel    bool
	OtherMembers []User
	AdminIDs     []string
	ModeratorIDs []string
	Unread       UnreadCount
	Labels       []string
	// BumpStamp is a monotonic ordering token used to sort the channel list
	// on incremental updates without refetching everything.
	BumpStamp   int64
	Status      ConversationStatus
	LastMessage *Message
	// Messages holds locally known messages. For an optimistic channel this
	// preserves messages received before the authoritative channel arrives.
	Messages []Message
}

// MessageResult is returned by a successful send.
type MessageResult struct {
	ID           string
	OptimisticID string
}

// Reaction describes a change to an emoji annotation on a message.
type Reaction struct {
	MessageID string
	Key       string
	SenderID  string
	Count     int
}

// SecureBackup reports the status of the encrypted key backup. A nil
// *SecureBackup from the adapter means no backup is configured, which is
// not an error.
type SecureBackup struct {
	Version   string
	IsTrusted bool
	IsUsable  bool
}

// GeneratedBackup is a freshly generated key backup awaiting persistence.
type GeneratedBackup struct {
	Version     string
	RecoveryKey string
}

// FileUpload is raw attachment data handed to an adapter. Encryption is the
// adapter's concern when the target room is encrypted.
type FileUpload struct {
	Name        string
	ContentType string
	Data        []byte
}

// FileRef is an opaque remote reference returned by the media subsystem.
type FileRef struct {
	URI string
}

// CreateConversationRequest holds arguments for creating a conversation.
type CreateConversationRequest struct {
	Users        []User
	Name         string
	Image        *FileUpload
	OptimisticID string
}

// SendMessageRequest holds arguments for sending a message.
type SendMessageRequest struct {
	ChannelID        string
	Body             string
	MentionedUserIDs []string
	Parent           *ParentMessage
	File             *FileUpload
	OptimisticID     string
}
