package hosted

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/murmurchat/murmur/internal/chat"
	"github.com/murmurchat/murmur/internal/metric"
)

const adapterName = "hosted"

const (
	channelPageSize  = 100
	historyPageSize  = 50
	refreshLeeway    = time.Minute
	redialBackoffMin = time.Second
	redialBackoffMax = 30 * time.Second
)

// AdapterConfig holds dependencies for the hosted adapter.
type AdapterConfig struct {
	// Client is the platform API client. Required.
	Client *Client
	// Metrics is optional instrumentation.
	Metrics *metric.Metrics
	// Logger is used for structured logging.
	Logger *zerolog.Logger
	// SessionRefresh is the refresh cadence used when the session token
	// carries no parseable expiry. Zero means hourly.
	SessionRefresh time.Duration
}

// Adapter implements the chat.Client contract on top of the hosted chat
// platform. The platform owns all state server-side; the adapter holds only
// the session and the event socket.
type Adapter struct {
	api             *Client
	metrics         *metric.Metrics
	log             *zerolog.Logger
	refreshFallback time.Duration

	conn *chat.Connection
	bus  *chat.Dispatcher

	mu           sync.Mutex
	userID       string
	accessToken  string
	sessionToken string
	sock         *socket
	refreshTimer *time.Timer
	closing      bool
}

// NewAdapter builds a disconnected adapter.
func NewAdapter(cfg AdapterConfig) (*Adapter, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("hosted: client is required")
	}
	fallback := cfg.SessionRefresh
	if fallback <= 0 {
		fallback = time.Hour
	}
	return &Adapter{
		api:             cfg.Client,
		metrics:         cfg.Metrics,
		log:             cfg.Logger,
		refreshFallback: fallback,
		conn:            chat.NewConnection(),
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

// SupportsOptimisticSend is true: the platform acknowledges creations fast
// enough that provisional entities reconcile cleanly, and the facade's
// placeholder flow depends on it.
func (a *Adapter) SupportsOptimisticSend() bool {
	return true
}

// Connect issues a session token and opens the event socket. Concurrent
// calls share a single in-flight handshake.
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
	return nil
}

func (a *Adapter) handshake(ctx context.Context, userID, accessToken string) error {
	session, err := a.api.IssueSession(ctx, userID, accessToken)
	if err != nil {
		if isSessionError(err) {
			a.publish(chat.Event{Kind: chat.EventInvalidSession})
		}
		return fmt.Errorf("issue session: %w", err)
	}

	sock, err := dialSocket(ctx, a.api.baseURL, a.api.appID, session.SessionToken, a.log,
		a.handleFrame, a.handleSocketClosed)
	if err != nil {
		return fmt.Errorf("open event socket: %w", err)
	}

	a.mu.Lock()
	a.userID = userID
	a.accessToken = accessToken
	a.sessionToken = session.SessionToken
	a.sock = sock
	a.closing = false
	a.mu.Unlock()

	a.scheduleRefresh(session.SessionToken)

	if a.log != nil {
		a.log.Info().Str("user_id", userID).Msg("session established")
	}
	return nil
}

// Disconnect tears the session down.
func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	a.closing = true
	sock := a.sock
	a.sock = nil
	if a.refreshTimer != nil {
		a.refreshTimer.Stop()
		a.refreshTimer = nil
	}
	a.sessionToken = ""
	a.accessToken = ""
	a.mu.Unlock()

	if sock != nil {
		sock.Close()
	}
	a.conn.SetDisconnected()
	a.setStateMetric()
	a.api.CloseIdleConnections()
	return nil
}

// Reconnect drops the socket and repeats the handshake with the stored
// credentials. The frame handler is owned by the adapter, so redialing can
// never double-register listeners.
func (a *Adapter) Reconnect(ctx context.Context) error {
	a.mu.Lock()
	userID, accessToken := a.userID, a.accessToken
	sock := a.sock
	a.sock = nil
	a.closing = true
	a.mu.Unlock()
	if accessToken == "" {
		return chat.NewError(chat.ErrCodeSessionInvalid, "reconnect without an established session")
	}

	a.publish(chat.Event{Kind: chat.EventReconnectStart})
	if sock != nil {
		sock.Close()
	}
	a.api.CloseIdleConnections()
	a.conn.SetDisconnected()
	a.setStateMetric()

	err := a.Connect(ctx, userID, accessToken)
	a.publish(chat.Event{Kind: chat.EventReconnectStop})
	return err
}

// handleSocketClosed redials after an unexpected socket drop, backing off
// until the platform accepts the session again. An explicit Disconnect or
// Reconnect sets closing and suppresses the redial.
func (a *Adapter) handleSocketClosed(cause error) {
	a.mu.Lock()
	if a.closing {
		a.mu.Unlock()
		return
	}
	userID, accessToken := a.userID, a.accessToken
	a.sock = nil
	a.mu.Unlock()

	a.publish(chat.Event{Kind: chat.EventReconnectStart})
	go func() {
		backoff := redialBackoffMin
		for {
			a.mu.Lock()
			stop := a.closing
			a.mu.Unlock()
			if stop {
				return
			}

			a.conn.SetDisconnected()
			a.setStateMetric()
			err := a.Connect(context.Background(), userID, accessToken)
			if err == nil {
				a.publish(chat.Event{Kind: chat.EventReconnectStop})
				return
			}
			if isSessionError(err) {
				// Fatal; the invalid-session event already fired.
				return
			}
			if a.log != nil {
				a.log.Warn().Err(err).Dur("backoff", backoff).Msg("redial failed")
			}
			time.Sleep(backoff)
			if backoff *= 2; backoff > redialBackoffMax {
				backoff = redialBackoffMax
			}
		}
	}()
}

// scheduleRefresh arms a timer to refresh the session token shortly before
// its JWT expiry. Tokens without a parseable expiry are refreshed on the
// configured fallback cadence.
func (a *Adapter) scheduleRefresh(token string) {
	delay := a.refreshFallback
	if exp := tokenExpiry(token); !exp.IsZero() {
		delay = time.Until(exp) - refreshLeeway
		if delay < time.Second {
			delay = time.Second
		}
	}

	a.mu.Lock()
	if a.refreshTimer != nil {
		a.refreshTimer.Stop()
	}
	a.refreshTimer = time.AfterFunc(delay, a.refreshSession)
	a.mu.Unlock()
}

// tokenExpiry extracts the exp claim without verifying the signature. The
// token is the platform's to verify; the client only needs the schedule.
func tokenExpiry(token string) time.Time {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

func (a *Adapter) refreshSession() {
	a.mu.Lock()
	token := a.sessionToken
	a.mu.Unlock()
	if token == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	session, err := a.api.RefreshSession(ctx, token)
	if err != nil {
		if isSessionError(err) {
			if a.log != nil {
				a.log.Warn().Msg("session refresh rejected, session invalid")
			}
			a.publish(chat.Event{Kind: chat.EventInvalidSession})
			_ = a.Disconnect(context.Background())
			return
		}
		if a.log != nil {
			a.log.Warn().Err(err).Msg("session refresh failed, retrying")
		}
		a.mu.Lock()
		a.refreshTimer = time.AfterFunc(time.Minute, a.refreshSession)
		a.mu.Unlock()
		return
	}

	a.mu.Lock()
	a.sessionToken = session.SessionToken
	a.mu.Unlock()
	a.scheduleRefresh(session.SessionToken)
}

// session returns the current session token or an error when none exists.
func (a *Adapter) session() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sessionToken == "" {
		return "", chat.NewError(chat.ErrCodeSessionInvalid, "no active session")
	}
	return a.sessionToken, nil
}

func (a *Adapter) publish(ev chat.Event) {
	a.metrics.EventNormalized(adapterName, ev.Kind.String())
	if a.bus != nil {
		a.bus.Publish(ev)
	}
}

func (a *Adapter) setStateMetric() {
	a.metrics.SetConnectionState(adapterName, float64(a.conn.State()))
}

// stripChannelURL converts a platform channel URL into the domain id.
func stripChannelURL(channelURL string) string {
	return strings.TrimPrefix(channelURL, channelURLPrefix)
}

// expandChannelURL restores the platform prefix for outbound calls.
func expandChannelURL(channelID string) string {
	if strings.HasPrefix(channelID, channelURLPrefix) {
		return channelID
	}
	return channelURLPrefix + channelID
}

func formatMessageID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func parseMessageID(id string) (int64, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, chat.NewError(chat.ErrCodeBadRequest, "malformed message id: "+id)
	}
	return n, nil
}

// encodeMessageData packs the optimistic id into the message data envelope.
func encodeMessageData(optimisticID string) string {
	if optimisticID == "" {
		return ""
	}
	raw, err := json.Marshal(messageData{OptimisticID: optimisticID})
	if err != nil {
		return ""
	}
	return string(raw)
}

// decodeMessageData extracts the optimistic id, tolerating foreign data.
func decodeMessageData(data string) string {
	if data == "" {
		return ""
	}
	var envelope messageData
	if err := json.Unmarshal([]byte(data), &envelope); err != nil {
		return ""
	}
	return envelope.OptimisticID
}
