package hosted

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"
)

// foregroundInterval is how often the socket reasserts foreground state.
// The platform throttles event delivery to backgrounded connections; a
// headless client has no window focus to report, so it pins itself to
// foreground to keep real-time delivery.
const foregroundInterval = 10 * time.Second

// socket is one live event-socket session. It owns the read loop and the
// foreground ticker; both stop when the context is cancelled or the
// connection drops.
type socket struct {
	conn   *websocket.Conn
	log    *zerolog.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// dialSocket opens the event socket and starts its goroutines. Frames are
// handed to onFrame in receipt order; onClosed fires once when the read
// loop exits for any reason other than explicit Close.
func dialSocket(ctx context.Context, baseURL, appID, sessionToken string, log *zerolog.Logger,
	onFrame func(socketFrame), onClosed func(error)) (*socket, error) {

	wsURL := websocketURL(baseURL) + "/ws?" + url.Values{
		"app_id":        {appID},
		"session_token": {sessionToken},
	}.Encode()

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s := &socket{
		conn:   conn,
		log:    log,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go s.readLoop(loopCtx, onFrame, onClosed)
	go s.foregroundLoop(loopCtx)
	return s, nil
}

// websocketURL rewrites an http(s) origin into its ws(s) form.
func websocketURL(baseURL string) string {
	trimmed := strings.TrimRight(baseURL, "/")
	if rest, ok := strings.CutPrefix(trimmed, "https://"); ok {
		return "wss://" + rest
	}
	if rest, ok := strings.CutPrefix(trimmed, "http://"); ok {
		return "ws://" + rest
	}
	return trimmed
}

// readLoop pumps frames until the socket dies or the context is cancelled.
func (s *socket) readLoop(ctx context.Context, onFrame func(socketFrame), onClosed func(error)) {
	defer close(s.done)
	for {
		var frame socketFrame
		if err := wsjson.Read(ctx, s.conn, &frame); err != nil {
			if ctx.Err() != nil {
				return
			}
			if s.log != nil {
				s.log.Warn().Err(err).Msg("event socket closed")
			}
			if onClosed != nil {
				onClosed(err)
			}
			return
		}
		onFrame(frame)
	}
}

// foregroundLoop reasserts foreground state on a fixed cadence.
func (s *socket) foregroundLoop(ctx context.Context) {
	ticker := time.NewTicker(foregroundInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := wsjson.Write(ctx, s.conn, socketFrame{Type: frameForeground}); err != nil {
				if ctx.Err() == nil && s.log != nil {
					s.log.Debug().Err(err).Msg("foreground ping failed")
				}
				return
			}
		}
	}
}

// send writes one frame to the socket.
func (s *socket) send(ctx context.Context, frame socketFrame) error {
	return wsjson.Write(ctx, s.conn, frame)
}

// Close stops the goroutines and closes the connection. Safe to call more
// than once.
func (s *socket) Close() {
	s.cancel()
	_ = s.conn.Close(websocket.StatusNormalClosure, "client disconnect")
	<-s.done
}
