package chat

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Client is the contract every protocol adapter implements. The facade
// selects exactly one implementation at construction and never branches on
// backend identity anywhere else.
type Client interface {
	// Init hands the adapter the dispatcher it publishes normalized events
	// into. Must be called before Connect.
	Init(bus *Dispatcher)

	// Connect performs the backend handshake and initial sync. Credentials
	// are validated by the facade; adapters may assume they are nonempty.
	Connect(ctx context.Context, userID, accessToken string) error

	// Disconnect tears the session down and moves to Disconnected.
	Disconnect(ctx context.Context) error

	// Reconnect tears down the underlying SDK connection and repeats the
	// handshake without double-registering event listeners.
	Reconnect(ctx context.Context) error

	// State reports the connection lifecycle state.
	State() ConnectionState

	// SupportsOptimisticSend reports whether the facade should synthesize
	// provisional entities ahead of backend acknowledgement.
	SupportsOptimisticSend() bool

	Channels(ctx context.Context, scopeID string) ([]Channel, error)
	Conversations(ctx context.Context) ([]Channel, error)
	CreateConversation(ctx context.Context, req CreateConversationRequest) (*Channel, error)

	SendMessage(ctx context.Context, req SendMessageRequest) (*MessageResult, error)
	EditMessage(ctx context.Context, channelID, messageID, body string, mentionedUserIDs []string) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	Messages(ctx context.Context, channelID, before string) ([]Message, error)

	AddMembers(ctx context.Context, channelID string, users []User) error
	RemoveMember(ctx context.Context, channelID, userID string) error
	PromoteModerator(ctx context.Context, channelID, userID string) error
	LeaveChannel(ctx context.Context, channelID, userID string) error
	MarkRead(ctx context.Context, channelID string) error
	SendTyping(ctx context.Context, channelID string, typing bool) error
	SendReaction(ctx context.Context, channelID, messageID, key string) error

	SecureBackup(ctx context.Context) (*SecureBackup, error)
	GenerateSecureBackup(ctx context.Context) (*GeneratedBackup, error)
	SaveSecureBackup(ctx context.Context, recoveryKey string) error
	RestoreSecureBackup(ctx context.Context, recoveryKey, passphrase string) error
}

// Chat is the single facade the rest of the application depends on. It
// owns one adapter, the event dispatcher, and the optimistic index; beyond
// that it is a pure delegator with no protocol knowledge of its own.
//
// One Chat instance exists per user session. It is constructed explicitly
// and passed to consumers; there is no process-wide singleton.
type Chat struct {
	client     Client
	bus        *Dispatcher
	log        *zerolog.Logger
	optimistic *optimisticIndex
}

// New builds a facade around the given adapter. InitChat must be called
// before any other method.
func New(client Client, logger *zerolog.Logger) *Chat {
	return &Chat{
		client:     client,
		log:        logger,
		optimistic: newOptimisticIndex(),
	}
}

// InitChat registers the full event taxonomy callback set. No event is
// delivered before this call; calling any other method first is a
// programming error surfaced as ErrNotInitialized.
func (c *Chat) InitChat(handlers Handlers) error {
	if err := handlers.validate(); err != nil {
		return err
	}
	c.bus = NewDispatcher(handlers, c.log)
	c.client.Init(c.bus)
	return nil
}

// ActivateConnection flushes queued events and switches to live delivery.
// Call it once the application is ready to receive the event stream.
func (c *Chat) ActivateConnection() error {
	if err := c.ensureInit(); err != nil {
		return err
	}
	c.bus.Activate()
	return nil
}

// Connect establishes the chat session. An empty userID or accessToken is
// an explicit no-op: callers with no session must not trigger network
// activity or error states.
func (c *Chat) Connect(ctx context.Context, userID, accessToken string) error {
	if err := c.ensureInit(); err != nil {
		return err
	}
	if userID == "" || accessToken == "" {
		if c.log != nil {
			c.log.Debug().Msg("connect skipped: missing user id or access token")
		}
		return nil
	}
	return c.client.Connect(ctx, userID, accessToken)
}

// Disconnect tears the session down.
func (c *Chat) Disconnect(ctx context.Context) error {
	if err := c.ensureInit(); err != nil {
		return err
	}
	return c.client.Disconnect(ctx)
}

// Reconnect tears down the underlying connection and repeats the handshake.
func (c *Chat) Reconnect(ctx context.Context) error {
	if err := c.ensureInit(); err != nil {
		return err
	}
	return c.client.Reconnect(ctx)
}

// State reports the connection lifecycle state.
func (c *Chat) State() ConnectionState {
	return c.client.State()
}

// Channels returns the channels visible in the given scope.
func (c *Chat) Channels(ctx context.Context, scopeID string) ([]Channel, error) {
	if err := c.ensureInit(); err != nil {
		return nil, err
	}
	return c.client.Channels(ctx, scopeID)
}

// Conversations returns the user's direct conversations, merged with any
// optimistic channels still awaiting backend acknowledgement.
func (c *Chat) Conversations(ctx context.Context) ([]Channel, error) {
	if err := c.ensureInit(); err != nil {
		return nil, err
	}
	channels, err := c.client.Conversations(ctx)
	if err != nil {
		return nil, err
	}
	return append(channels, c.optimistic.list()...), nil
}

// CreateConversation creates a direct conversation. When the adapter
// supports optimistic sends a provisional channel is inserted and announced
// immediately, then atomically replaced by the authoritative channel on
// success or marked StatusError on failure. A failed optimistic channel
// stays visible; it is never silently deleted.
func (c *Chat) CreateConversation(ctx context.Context, req CreateConversationRequest) (*Channel, error) {
	if err := c.ensureInit(); err != nil {
		return nil, err
	}

	if !c.client.SupportsOptimisticSend() {
		return c.client.CreateConversation(ctx, req)
	}

	if req.OptimisticID == "" {
		req.OptimisticID = newOptimisticID()
	}
	provisional := c.optimistic.begin(req.OptimisticID, req.Users, req.Name)
	c.publishConversation(provisional)

	authoritative, err := c.client.CreateConversation(ctx, req)
	if err != nil {
		failed := c.optimistic.fail(req.OptimisticID)
		if failed != nil {
			c.publishConversation(failed)
		}
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	merged := c.optimistic.resolve(req.OptimisticID, authoritative)
	c.publishConversation(merged)
	return merged, nil
}

// SendMessage sends a message, attaching the optimistic id so the caller
// can correlate the acknowledgement with its placeholder.
func (c *Chat) SendMessage(ctx context.Context, req SendMessageRequest) (*MessageResult, error) {
	if err := c.ensureInit(); err != nil {
		return nil, err
	}
	result, err := c.client.SendMessage(ctx, req)
	if err != nil {
		return nil, err
	}
	// Messages sent against a provisional channel are preserved for the
	// authoritative merge.
	if ch := c.optimistic.get(req.ChannelID); ch != nil {
		c.optimistic.addMessage(req.ChannelID, Message{
			ID:           result.ID,
			OptimisticID: req.OptimisticID,
			ChannelID:    req.ChannelID,
			Body:         req.Body,
		})
	}
	return result, nil
}

// EditMessage replaces a message body in place.
func (c *Chat) EditMessage(ctx context.Context, channelID, messageID, body string, mentionedUserIDs []string) error {
	if err := c.ensureInit(); err != nil {
		return err
	}
	return c.client.EditMessage(ctx, channelID, messageID, body, mentionedUserIDs)
}

// DeleteMessage tombstones a message.
func (c *Chat) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	if err := c.ensureInit(); err != nil {
		return err
	}
	return c.client.DeleteMessage(ctx, channelID, messageID)
}

// Messages fetches a page of history for a channel.
func (c *Chat) Messages(ctx context.Context, channelID, before string) ([]Message, error) {
	if err := c.ensureInit(); err != nil {
		return nil, err
	}
	return c.client.Messages(ctx, channelID, before)
}

// AddMembers invites users to a channel.
func (c *Chat) AddMembers(ctx context.Context, channelID string, users []User) error {
	if err := c.ensureInit(); err != nil {
		return err
	}
	return c.client.AddMembers(ctx, channelID, users)
}

// RemoveMember removes a user from a channel.
func (c *Chat) RemoveMember(ctx context.Context, channelID, userID string) error {
	if err := c.ensureInit(); err != nil {
		return err
	}
	return c.client.RemoveMember(ctx, channelID, userID)
}

// PromoteModerator raises a member to the moderator role threshold.
func (c *Chat) PromoteModerator(ctx context.Context, channelID, userID string) error {
	if err := c.ensureInit(); err != nil {
		return err
	}
	return c.client.PromoteModerator(ctx, channelID, userID)
}

// LeaveRoom removes the given user (typically the current one) from a channel.
func (c *Chat) LeaveRoom(ctx context.Context, channelID, userID string) error {
	if err := c.ensureInit(); err != nil {
		return err
	}
	return c.client.LeaveChannel(ctx, channelID, userID)
}

// MarkRead marks the channel read up to its latest message.
func (c *Chat) MarkRead(ctx context.Context, channelID string) error {
	if err := c.ensureInit(); err != nil {
		return err
	}
	return c.client.MarkRead(ctx, channelID)
}

// SendTyping publishes a typing indicator with the backend's fixed expiry.
func (c *Chat) SendTyping(ctx context.Context, channelID string, typing bool) error {
	if err := c.ensureInit(); err != nil {
		return err
	}
	return c.client.SendTyping(ctx, channelID, typing)
}

// SendReaction toggles an emoji annotation on a message.
func (c *Chat) SendReaction(ctx context.Context, channelID, messageID, key string) error {
	if err := c.ensureInit(); err != nil {
		return err
	}
	return c.client.SendReaction(ctx, channelID, messageID, key)
}

// GetSecureBackup returns the key backup status, or nil when no backup is
// configured. Nil is not an error.
func (c *Chat) GetSecureBackup(ctx context.Context) (*SecureBackup, error) {
	if err := c.ensureInit(); err != nil {
		return nil, err
	}
	return c.client.SecureBackup(ctx)
}

// GenerateSecureBackup produces a new recovery key without persisting it.
func (c *Chat) GenerateSecureBackup(ctx context.Context) (*GeneratedBackup, error) {
	if err := c.ensureInit(); err != nil {
		return nil, err
	}
	return c.client.GenerateSecureBackup(ctx)
}

// SaveSecureBackup persists a generated backup and refreshes its status.
func (c *Chat) SaveSecureBackup(ctx context.Context, recoveryKey string) error {
	if err := c.ensureInit(); err != nil {
		return err
	}
	return c.client.SaveSecureBackup(ctx, recoveryKey)
}

// RestoreSecureBackup restores encryption keys from a recovery key, with an
// optional out-of-band passphrase.
func (c *Chat) RestoreSecureBackup(ctx context.Context, recoveryKey, passphrase string) error {
	if err := c.ensureInit(); err != nil {
		return err
	}
	return c.client.RestoreSecureBackup(ctx, recoveryKey, passphrase)
}

func (c *Chat) ensureInit() error {
	if c.bus == nil {
		return ErrNotInitialized
	}
	return nil
}

func (c *Chat) publishConversation(ch *Channel) {
	c.bus.Publish(Event{
		Kind:      EventConversationUpdated,
		ChannelID: ch.ID,
		Channel:   ch,
	})
}
