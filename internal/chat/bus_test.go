package chat

import (
	"sync"
	"testing"
	"time"

	"github.com/murmurchat/murmur/internal/log"
)

// recorder collects delivered events for assertions.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) add(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		MessageReceived: func(channelID string, message Message) {
			r.add(Event{Kind: EventMessageReceived, ChannelID: channelID, Message: &message})
		},
		MessageUpdated: func(channelID string, message Message) {
			r.add(Event{Kind: EventMessageUpdated, ChannelID: channelID, Message: &message})
		},
		MessageDeleted: func(channelID, messageID string) {
			r.add(Event{Kind: EventMessageDeleted, ChannelID: channelID, MessageID: messageID})
		},
		MemberJoined: func(channelID string, user User) {
			r.add(Event{Kind: EventMemberJoined, ChannelID: channelID, User: &user})
		},
		MemberLeft: func(channelID, userID string) {
			r.add(Event{Kind: EventMemberLeft, ChannelID: channelID, UserID: userID})
		},
		RoomNameChanged: func(channelID, name string) {
			r.add(Event{Kind: EventRoomNameChanged, ChannelID: channelID, Name: name})
		},
		RoomAvatarChanged: func(channelID, url string) {
			r.add(Event{Kind: EventRoomAvatarChanged, ChannelID: channelID, AvatarURL: url})
		},
		TypingChanged: func(channelID string, userIDs []string) {
			r.add(Event{Kind: EventTypingChanged, ChannelID: channelID, UserIDs: userIDs})
		},
		ReactionChanged: func(channelID string, reaction Reaction) {
			r.add(Event{Kind: EventReactionChanged, ChannelID: channelID, Reaction: &reaction})
		},
		ReadReceipt: func(channelID, messageID, userID string) {
			r.add(Event{Kind: EventReadReceipt, ChannelID: channelID, MessageID: messageID, UserID: userID})
		},
		UnreadCountChanged: func(channelID string, unread UnreadCount) {
			r.add(Event{Kind: EventUnreadCountChanged, ChannelID: channelID, Unread: unread})
		},
		InvalidSession: func() {
			r.add(Event{Kind: EventInvalidSession})
		},
	}
}

// waitFor polls until the predicate holds or the deadline expires.
func waitFor(t *testing.T, desc string, pred func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if pred() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func TestDispatcherQueuesUntilActivate(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher(rec.handlers(), log.Nop())
	defer d.Close()

	msg := Message{ID: "$1", Body: "hello"}
	d.Publish(Event{Kind: EventMessageReceived, ChannelID: "!room", Message: &msg})
	d.Publish(Event{Kind: EventMemberLeft, ChannelID: "!room", UserID: "@bob"})

	time.Sleep(50 * time.Millisecond)
	if got := rec.snapshot(); len(got) != 0 {
		t.Fatalf("no events may be delivered before activation, got %d", len(got))
	}

	d.Activate()
	waitFor(t, "queued events", func() bool { return len(rec.snapshot()) == 2 })

	events := rec.snapshot()
	if events[0].Kind != EventMessageReceived || events[1].Kind != EventMemberLeft {
		t.Fatalf("queued events delivered out of order: %v, %v", events[0].Kind, events[1].Kind)
	}
}

func TestDispatcherPerRoomOrdering(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher(rec.handlers(), log.Nop())
	defer d.Close()
	d.Activate()

	const count = 20
	for i := 0; i < count; i++ {
		msg := Message{ID: string(rune('a' + i))}
		d.Publish(Event{Kind: EventMessageReceived, ChannelID: "!room", Message: &msg})
	}

	waitFor(t, "all events", func() bool { return len(rec.snapshot()) == count })

	events := rec.snapshot()
	for i := 1; i < count; i++ {
		if events[i].Message.ID <= events[i-1].Message.ID {
			t.Fatalf("events for one room delivered out of order at index %d", i)
		}
	}
}

func TestDispatcherSkipsMissingOptionalHandlers(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher(rec.handlers(), log.Nop())
	defer d.Close()
	d.Activate()

	// Optional kinds with no registered handler must not panic.
	d.Publish(Event{Kind: EventInvitationReceived, ChannelID: "!room"})
	d.Publish(Event{Kind: EventPresenceChanged, UserID: "@bob"})
	d.Publish(Event{Kind: EventMessageDeleted, ChannelID: "!room", MessageID: "$1"})

	waitFor(t, "required event", func() bool { return len(rec.snapshot()) == 1 })
	if got := rec.snapshot()[0]; got.Kind != EventMessageDeleted {
		t.Fatalf("expected EventMessageDeleted, got %v", got.Kind)
	}
}

func TestDispatcherCloseDuringConcurrentPublish(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher(rec.handlers(), log.Nop())
	d.Activate()

	// Publishers race Close across several rooms. Close must wait for the
	// publishes that already picked their queue instead of closing the
	// channel under them.
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(room string) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				d.Publish(Event{Kind: EventMessageDeleted, ChannelID: room, MessageID: "$1"})
			}
		}(string(rune('a' + g)))
	}

	time.Sleep(5 * time.Millisecond)
	d.Close()
	wg.Wait()
}

func TestDispatcherCloseDropsLatePublishes(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher(rec.handlers(), log.Nop())
	d.Activate()
	d.Close()

	d.Publish(Event{Kind: EventMessageDeleted, ChannelID: "!room", MessageID: "$1"})
	time.Sleep(50 * time.Millisecond)
	if got := rec.snapshot(); len(got) != 0 {
		t.Fatalf("events after Close must be dropped, got %d", len(got))
	}
}
