package chat

import (
	"sync"

	"github.com/rs/zerolog"
)

// roomQueueSize bounds each per-room delivery queue. Publish blocks when a
// room's queue is full rather than dropping, preserving receipt order.
const roomQueueSize = 64

// Dispatcher fans normalized events out to the application's handler set.
// Events for a given room are delivered in receipt order on a dedicated
// goroutine per room key; cross-room ordering is not guaranteed. Events
// published before Activate are queued and flushed in order on activation,
// so nothing is lost while the application finishes wiring itself up.
type Dispatcher struct {
	handlers Handlers
	log      *zerolog.Logger

	mu        sync.Mutex
	queues    map[string]chan Event
	pending   []Event
	activated bool
	closed    bool
	inflight  sync.WaitGroup
	wg        sync.WaitGroup
}

// NewDispatcher builds a dispatcher for the given handler set.
func NewDispatcher(handlers Handlers, logger *zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: handlers,
		log:      logger,
		queues:   make(map[string]chan Event),
	}
}

// Publish enqueues an event for delivery. Before Activate it is buffered;
// afterwards it is routed to the per-room queue keyed by ChannelID. Events
// without a channel (invalid session, conversation list) share one queue so
// they too are delivered in order relative to each other.
func (d *Dispatcher) Publish(ev Event) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	if !d.activated {
		d.pending = append(d.pending, ev)
		d.mu.Unlock()
		return
	}
	queue := d.queueLocked(ev.ChannelID)
	// Registered before the unlock so Close cannot close the queue between
	// releasing the lock and the send below.
	d.inflight.Add(1)
	d.mu.Unlock()

	queue <- ev
	d.inflight.Done()
}

// Activate flushes events queued since construction and switches the
// dispatcher to direct delivery. Safe to call once per connection.
func (d *Dispatcher) Activate() {
	d.mu.Lock()
	if d.activated || d.closed {
		d.mu.Unlock()
		return
	}
	d.activated = true
	pending := d.pending
	d.pending = nil
	queues := make([]chan Event, len(pending))
	for i, ev := range pending {
		queues[i] = d.queueLocked(ev.ChannelID)
	}
	d.inflight.Add(1)
	d.mu.Unlock()

	for i, ev := range pending {
		queues[i] <- ev
	}
	d.inflight.Done()
}

// Close stops all delivery goroutines after draining their queues.
// Published events after Close are discarded.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	// No new publish can start past the closed flag; wait for the ones that
	// already hold a queue before closing it under them.
	d.inflight.Wait()

	d.mu.Lock()
	for _, queue := range d.queues {
		close(queue)
	}
	d.mu.Unlock()

	d.wg.Wait()
}

// queueLocked returns the delivery queue for a room key, starting its
// goroutine on first use. Caller must hold d.mu.
func (d *Dispatcher) queueLocked(roomKey string) chan Event {
	if queue, ok := d.queues[roomKey]; ok {
		return queue
	}
	queue := make(chan Event, roomQueueSize)
	d.queues[roomKey] = queue
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for ev := range queue {
			d.deliver(ev)
		}
	}()
	return queue
}

// deliver invokes the handler matching the event kind. Optional handlers
// that were not registered are skipped silently.
func (d *Dispatcher) deliver(ev Event) {
	h := d.handlers
	switch ev.Kind {
	case EventMessageReceived:
		if ev.Message != nil {
			h.MessageReceived(ev.ChannelID, *ev.Message)
		}
	case EventMessageUpdated:
		if ev.Message != nil {
			h.MessageUpdated(ev.ChannelID, *ev.Message)
		}
	case EventMessageDeleted:
		h.MessageDeleted(ev.ChannelID, ev.MessageID)
	case EventMemberJoined:
		if ev.User != nil {
			h.MemberJoined(ev.ChannelID, *ev.User)
		}
	case EventMemberLeft:
		h.MemberLeft(ev.ChannelID, ev.UserID)
	case EventRoomNameChanged:
		h.RoomNameChanged(ev.ChannelID, ev.Name)
	case EventRoomAvatarChanged:
		h.RoomAvatarChanged(ev.ChannelID, ev.AvatarURL)
	case EventTypingChanged:
		h.TypingChanged(ev.ChannelID, ev.UserIDs)
	case EventReactionChanged:
		if ev.Reaction != nil {
			h.ReactionChanged(ev.ChannelID, *ev.Reaction)
		}
	case EventReadReceipt:
		h.ReadReceipt(ev.ChannelID, ev.MessageID, ev.UserID)
	case EventUnreadCountChanged:
		h.UnreadCountChanged(ev.ChannelID, ev.Unread)
	case EventInvalidSession:
		h.InvalidSession()
	case EventInvitationReceived:
		if h.InvitationReceived != nil {
			h.InvitationReceived(ev.ChannelID)
		}
	case EventConversationListChanged:
		if h.ConversationListChanged != nil {
			h.ConversationListChanged(ev.ChannelIDs)
		}
	case EventGroupTypeChanged:
		if h.GroupTypeChanged != nil {
			h.GroupTypeChanged(ev.ChannelID, ev.GroupType)
		}
	case EventLabelsChanged:
		if h.LabelsChanged != nil {
			h.LabelsChanged(ev.ChannelID, ev.Labels)
		}
	case EventPowerLevelChanged:
		if h.PowerLevelChanged != nil {
			h.PowerLevelChanged(ev.ChannelID, ev.UserID, ev.PowerLevel)
		}
	case EventPresenceChanged:
		if h.PresenceChanged != nil {
			h.PresenceChanged(ev.UserID, ev.IsOnline, ev.LastSeenAt)
		}
	case EventReconnectStart:
		if h.ReconnectStart != nil {
			h.ReconnectStart()
		}
	case EventReconnectStop:
		if h.ReconnectStop != nil {
			h.ReconnectStop()
		}
	case EventConversationUpdated:
		if h.ConversationUpdated != nil && ev.Channel != nil {
			h.ConversationUpdated(*ev.Channel)
		}
	default:
		if d.log != nil {
			d.log.Debug().Int("kind", int(ev.Kind)).Msg("dropping unknown event kind")
		}
	}
}
