package chat

import "time"

// EventKind identifies one normalized event in the closed taxonomy that
// every backend must be able to produce.
type EventKind int

const (
	// EventMessageReceived notifies about a new message in a channel.
	EventMessageReceived EventKind = iota
	// EventMessageUpdated notifies that a message body was edited in place.
	EventMessageUpdated
	// EventMessageDeleted notifies that a message was tombstoned.
	EventMessageDeleted
	// EventMemberJoined notifies that another user joined a channel.
	EventMemberJoined
	// EventMemberLeft notifies that another user left a channel.
	EventMemberLeft
	// EventRoomNameChanged notifies about a channel rename.
	EventRoomNameChanged
	// EventRoomAvatarChanged notifies about a channel avatar change.
	EventRoomAvatarChanged
	// EventTypingChanged delivers the set of currently typing users.
	EventTypingChanged
	// EventReactionChanged notifies about an emoji annotation change.
	EventReactionChanged
	// EventReadReceipt notifies that a user read up to a message.
	EventReadReceipt
	// EventUnreadCountChanged delivers updated unread counters.
	EventUnreadCountChanged
	// EventInvalidSession signals the backend rejected the access token; the
	// application must force a full re-authentication.
	EventInvalidSession

	// EventInvitationReceived notifies that the current user was invited to
	// (and auto-joined) a channel.
	EventInvitationReceived
	// EventConversationListChanged delivers the flattened direct-conversation
	// id list when the account data side channel changes.
	EventConversationListChanged
	// EventGroupTypeChanged notifies that a room was flagged as a category.
	EventGroupTypeChanged
	// EventLabelsChanged delivers a channel's updated label set.
	EventLabelsChanged
	// EventPowerLevelChanged notifies that a member's role threshold changed.
	EventPowerLevelChanged
	// EventPresenceChanged delivers best-effort presence for a user.
	EventPresenceChanged
	// EventReconnectStart signals the backend began reconnecting.
	EventReconnectStart
	// EventReconnectStop signals the backend finished reconnecting.
	EventReconnectStop
	// EventConversationUpdated delivers an optimistic channel transition
	// (provisional insert, authoritative merge, or error rollback).
	EventConversationUpdated
)

func (k EventKind) String() string {
	switch k {
	case EventMessageReceived:
		return "message_received"
	case EventMessageUpdated:
		return "message_updated"
	case EventMessageDeleted:
		return "message_deleted"
	case EventMemberJoined:
		return "member_joined"
	case EventMemberLeft:
		return "member_left"
	case EventRoomNameChanged:
		return "room_name_changed"
	case EventRoomAvatarChanged:
		return "room_avatar_changed"
	case EventTypingChanged:
		return "typing_changed"
	case EventReactionChanged:
		return "reaction_changed"
	case EventReadReceipt:
		return "read_receipt"
	case EventUnreadCountChanged:
		return "unread_count_changed"
	case EventInvalidSession:
		return "invalid_session"
	case EventInvitationReceived:
		return "invitation_received"
	case EventConversationListChanged:
		return "conversation_list_changed"
	case EventGroupTypeChanged:
		return "group_type_changed"
	case EventLabelsChanged:
		return "labels_changed"
	case EventPowerLevelChanged:
		return "power_level_changed"
	case EventPresenceChanged:
		return "presence_changed"
	case EventReconnectStart:
		return "reconnect_start"
	case EventReconnectStop:
		return "reconnect_stop"
	case EventConversationUpdated:
		return "conversation_updated"
	default:
		return "unknown"
	}
}

// Event is a normalized notification emitted by an adapter. Only the fields
// relevant to the Kind are populated.
type Event struct {
	Kind      EventKind
	ChannelID string
	MessageID string
	UserID    string

	Message    *Message
	Channel    *Channel
	User       *User
	Reaction   *Reaction
	Unread     UnreadCount
	Name       string
	AvatarURL  string
	GroupType  string
	Labels     []string
	UserIDs    []string
	ChannelIDs []string
	PowerLevel int
	IsOnline   bool
	LastSeenAt time.Time
}

// Handlers is the fixed record of callbacks covering the full event
// taxonomy. The core calls exactly these callbacks and no others. The first
// twelve are required; the rest are optional enrichments and may be nil.
type Handlers struct {
	MessageReceived    func(channelID string, message Message)
	MessageUpdated     func(channelID string, message Message)
	MessageDeleted     func(channelID, messageID string)
	MemberJoined       func(channelID string, user User)
	MemberLeft         func(channelID, userID string)
	RoomNameChanged    func(channelID, name string)
	RoomAvatarChanged  func(channelID, url string)
	TypingChanged      func(channelID string, userIDs []string)
	ReactionChanged    func(channelID string, reaction Reaction)
	ReadReceipt        func(channelID, messageID, userID string)
	UnreadCountChanged func(channelID string, unread UnreadCount)
	InvalidSession     func()

	InvitationReceived      func(channelID string)
	ConversationListChanged func(conversationIDs []string)
	GroupTypeChanged        func(channelID, groupType string)
	LabelsChanged           func(channelID string, labels []string)
	PowerLevelChanged       func(channelID, userID string, level int)
	PresenceChanged         func(userID string, isOnline bool, lastSeenAt time.Time)
	ReconnectStart          func()
	ReconnectStop           func()
	ConversationUpdated     func(channel Channel)
}

// validate reports whether the required callback set is complete.
func (h Handlers) validate() error {
	if h.MessageReceived == nil || h.MessageUpdated == nil || h.MessageDeleted == nil ||
		h.MemberJoined == nil || h.MemberLeft == nil ||
		h.RoomNameChanged == nil || h.RoomAvatarChanged == nil ||
		h.TypingChanged == nil || h.ReactionChanged == nil || h.ReadReceipt == nil ||
		h.UnreadCountChanged == nil || h.InvalidSession == nil {
		return ErrMissingHandlers
	}
	return nil
}
