package matrix

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/murmurchat/murmur/internal/chat"
	"github.com/murmurchat/murmur/internal/metric"
	"github.com/murmurchat/murmur/internal/store"
)

const adapterName = "matrix"

// AdapterConfig holds dependencies for the federated adapter.
type AdapterConfig struct {
	// Client is the homeserver API client. Required.
	Client *Client
	// Store persists sync tokens, receipt preference and backup status.
	// Optional; without it every session starts from a full sync.
	Store store.Store
	// Metrics is optional instrumentation.
	Metrics *metric.Metrics
	// Logger is used for structured logging.
	Logger *zerolog.Logger
	// PrivateReadReceipts forces private receipts regardless of the stored
	// per-user preference. The preference can still opt in on top of it.
	PrivateReadReceipts bool
}

// roomState is the adapter's cache of one joined room, built from the
// initial sync and kept current by the sync loop.
type roomState struct {
	id        string
	name      string
	avatarURL string
	createdAt time.Time
	encrypted bool
	groupType string
	labels    []string
	direct    bool
	bumpStamp int64

	members   map[string]chat.User
	powers    map[string]int
	unread    chat.UnreadCount
	lastEvent *chat.Message
}

// Adapter implements the chat.Client contract on top of the federated
// client-server API. One Adapter serves one account session.
type Adapter struct {
	api           *Client
	store         store.Store
	metrics       *metric.Metrics
	log           *zerolog.Logger
	alwaysPrivate bool

	conn *chat.Connection
	bus  *chat.Dispatcher

	mu             sync.Mutex
	userID         string
	accessToken    string
	nextBatch      string
	rooms          map[string]*roomState
	directIDs      []string
	receiptPrivate bool
	autoJoined     map[string]bool

	syncCancel context.CancelFunc
	syncDone   chan struct{}
}

// NewAdapter builds a disconnected adapter.
func NewAdapter(cfg AdapterConfig) (*Adapter, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("matrix: client is required")
	}
	return &Adapter{
		api:           cfg.Client,
		store:         cfg.Store,
		metrics:       cfg.Metrics,
		log:           cfg.Logger,
		alwaysPrivate: cfg.PrivateReadReceipts,
		conn:          chat.NewConnection(),
		rooms:         make(map[string]*roomState),
		autoJoined:    make(map[string]bool),
	}, nil
}

// Init hands the adapter its event dispatcher.
func (a *Adapter) Init(bus *chat.Dispatcher) {
	a.bus = bus
}

// State reports the connection lifecycle state.
func (a *Adapter) State() chat.ConnectionState {
	return a.conn.State()
}

// SupportsOptimisticSend is false: the protocol assigns event and room ids
// server-side, so provisional entities would have no stable identity to
// reconcile against. Optimistic correlation ids are still attached to sent
// content so other devices can match their own placeholders.
func (a *Adapter) SupportsOptimisticSend() bool {
	return false
}

// Connect validates credentials, performs the initial sync, and starts the
// long-poll loop. Concurrent calls share a single in-flight handshake: the
// losers await the winner's outcome instead of duplicating work.
func (a *Adapter) Connect(ctx context.Context, userID, accessToken string) error {
	if !a.conn.BeginAttempt() {
		return a.conn.AwaitReady(ctx)
	}

	if err := a.handshake(ctx, userID, accessToken); err != nil {
		a.conn.EndAttempt(false)
		a.setStateMetric()
		return err
	}

	a.conn.EndAttempt(true)
	a.setStateMetric()
	a.startSyncLoop()
	return nil
}

// handshake validates the token, restores the sync position, and performs
// the initial sync that seeds the room cache.
func (a *Adapter) handshake(ctx context.Context, userID, accessToken string) error {
	who, err := a.api.WhoAmI(ctx, accessToken)
	if err != nil {
		if IsAPIError(err, ErrCodeUnknownToken) {
			a.publish(chat.Event{Kind: chat.EventInvalidSession})
		}
		return fmt.Errorf("validate credentials: %w", err)
	}
	if who.UserID != "" {
		userID = who.UserID
	}

	since := ""
	receiptPrivate := a.alwaysPrivate
	if a.store != nil {
		if token, err := a.store.SyncToken(ctx, userID); err == nil {
			since = token
		}
		if private, err := a.store.PrivateReadReceipts(ctx, userID); err == nil && private {
			receiptPrivate = true
		}
	}

	resp, err := a.api.Sync(ctx, accessToken, SyncOptions{Since: since})
	if err != nil {
		return fmt.Errorf("initial sync: %w", err)
	}

	a.mu.Lock()
	a.userID = userID
	a.accessToken = accessToken
	a.receiptPrivate = receiptPrivate
	a.nextBatch = resp.NextBatch
	a.mu.Unlock()

	a.applySync(ctx, resp, true)

	if a.store != nil {
		if err := a.store.SaveSyncToken(ctx, userID, resp.NextBatch); err != nil && a.log != nil {
			a.log.Warn().Err(err).Msg("persist sync token failed")
		}
	}

	if a.log != nil {
		a.log.Info().Str("user_id", userID).Int("rooms", a.roomCount()).Msg("session established")
	}
	return nil
}

// Disconnect stops the sync loop and tears the session down.
func (a *Adapter) Disconnect(ctx context.Context) error {
	a.stopSyncLoop()
	a.conn.SetDisconnected()
	a.setStateMetric()
	a.api.CloseIdleConnections()

	a.mu.Lock()
	a.accessToken = ""
	a.rooms = make(map[string]*roomState)
	a.directIDs = nil
	a.autoJoined = make(map[string]bool)
	a.mu.Unlock()
	return nil
}

// Reconnect drops pooled connections and repeats the handshake with the
// existing credentials. The sync loop is restarted, never duplicated.
func (a *Adapter) Reconnect(ctx context.Context) error {
	a.mu.Lock()
	userID, token := a.userID, a.accessToken
	a.mu.Unlock()
	if token == "" {
		return chat.NewError(chat.ErrCodeSessionInvalid, "reconnect without an established session")
	}

	a.publish(chat.Event{Kind: chat.EventReconnectStart})
	a.stopSyncLoop()
	a.api.CloseIdleConnections()
	a.conn.SetDisconnected()
	a.setStateMetric()

	err := a.Connect(ctx, userID, token)
	a.publish(chat.Event{Kind: chat.EventReconnectStop})
	return err
}

// Channels lists rooms flagged as channels. A nonempty scopeID filters to
// rooms labeled with it. When no session is established the result is an
// empty list, not an error.
func (a *Adapter) Channels(ctx context.Context, scopeID string) ([]chat.Channel, error) {
	if err := a.awaitSession(ctx); err != nil {
		return nil, err
	}
	if a.conn.State() != chat.Connected {
		return []chat.Channel{}, nil
	}

	out := a.listChannels(func(room *roomState) bool {
		if room.groupType == "" {
			return false
		}
		return scopeID == "" || containsLabel(room.labels, scopeID)
	})
	sortChannels(out)
	return out, nil
}

// Conversations lists direct conversations.
func (a *Adapter) Conversations(ctx context.Context) ([]chat.Channel, error) {
	if err := a.awaitSession(ctx); err != nil {
		return nil, err
	}
	if a.conn.State() != chat.Connected {
		return []chat.Channel{}, nil
	}

	out := a.listChannels(func(room *roomState) bool {
		return room.groupType == "" && room.direct
	})
	sortChannels(out)
	return out, nil
}

// awaitSession blocks until an in-flight handshake settles. Disconnected is
// not an error here; read paths degrade to empty results.
func (a *Adapter) awaitSession(ctx context.Context) error {
	return a.conn.AwaitReady(ctx)
}

// listChannels converts every room matching the filter into the domain
// model under one lock hold, so the sync goroutine can never mutate a
// room's maps mid-conversion.
func (a *Adapter) listChannels(match func(*roomState) bool) []chat.Channel {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []chat.Channel
	for _, room := range a.rooms {
		if match(room) {
			out = append(out, a.toChannelLocked(room))
		}
	}
	return out
}

func (a *Adapter) roomCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.rooms)
}

// ensureRoom returns the cached state for a room, creating it on first
// sight. Caller must hold a.mu.
func (a *Adapter) ensureRoomLocked(roomID string) *roomState {
	room, ok := a.rooms[roomID]
	if !ok {
		room = &roomState{
			id:      roomID,
			members: make(map[string]chat.User),
			powers:  make(map[string]int),
		}
		a.rooms[roomID] = room
	}
	return room
}

// toChannelLocked converts cached room state into the domain model.
// Membership lists exclude the current user; role lists are derived from
// the cached power levels. Caller must hold a.mu: the room's maps are
// iterated here while the sync goroutine mutates them under the same lock.
func (a *Adapter) toChannelLocked(room *roomState) chat.Channel {
	selfID := a.userID

	ch := chat.Channel{
		ID:        room.id,
		Name:      room.name,
		AvatarURL: room.avatarURL,
		CreatedAt: room.createdAt,
		Encrypted: room.encrypted,
		IsChannel: room.groupType != "",
		Labels:    append([]string(nil), room.labels...),
		BumpStamp: room.bumpStamp,
		Unread:    room.unread,
		Status:    chat.StatusCreated,
	}
	if room.lastEvent != nil {
		last := *room.lastEvent
		ch.LastMessage = &last
	}
	for id, user := range room.members {
		if id == selfID {
			continue
		}
		ch.OtherMembers = append(ch.OtherMembers, user)
	}
	sort.Slice(ch.OtherMembers, func(i, j int) bool { return ch.OtherMembers[i].ID < ch.OtherMembers[j].ID })
	for id, level := range room.powers {
		switch {
		case level >= PowerLevelOwner:
			ch.AdminIDs = append(ch.AdminIDs, id)
		case level >= PowerLevelModerator:
			ch.ModeratorIDs = append(ch.ModeratorIDs, id)
		}
	}
	sort.Strings(ch.AdminIDs)
	sort.Strings(ch.ModeratorIDs)
	return ch
}

// publish sends an event to the dispatcher, counting it.
func (a *Adapter) publish(ev chat.Event) {
	a.metrics.EventNormalized(adapterName, ev.Kind.String())
	if a.bus != nil {
		a.bus.Publish(ev)
	}
}

func (a *Adapter) setStateMetric() {
	a.metrics.SetConnectionState(adapterName, float64(a.conn.State()))
}

// session returns the current credentials or an error when none exist.
func (a *Adapter) session() (userID, token string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.accessToken == "" {
		return "", "", chat.NewError(chat.ErrCodeSessionInvalid, "no active session")
	}
	return a.userID, a.accessToken, nil
}

func containsLabel(labels []string, label string) bool {
	for _, l := range labels {
		if l == label {
			return true
		}
	}
	return false
}

// sortChannels orders newest activity first using the bump stamp, falling
// back to creation time for rooms that never received one.
func sortChannels(channels []chat.Channel) {
	sort.Slice(channels, func(i, j int) bool {
		if channels[i].BumpStamp != channels[j].BumpStamp {
			return channels[i].BumpStamp > channels[j].BumpStamp
		}
		return channels[i].CreatedAt.After(channels[j].CreatedAt)
	})
}
