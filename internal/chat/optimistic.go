package chat

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// newOptimisticID synthesizes a client-generated correlation id.
func newOptimisticID() string {
	return uuid.NewString()
}

// optimisticIndex tracks provisional channels keyed by optimistic id. The
// invariant: at most one placeholder exists per optimistic id, and resolve
// removes the placeholder atomically with producing the authoritative
// channel, so application code never observes both or neither.
type optimisticIndex struct {
	mu       sync.Mutex
	channels map[string]*Channel
}

func newOptimisticIndex() *optimisticIndex {
	return &optimisticIndex{channels: make(map[string]*Channel)}
}

// begin inserts a provisional channel with StatusCreating and a synthetic
// "conversation started" system message. If a placeholder already exists
// for the id it is returned unchanged.
func (idx *optimisticIndex) begin(optimisticID string, users []User, name string) *Channel {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if existing, ok := idx.channels[optimisticID]; ok {
		return existing
	}

	now := time.Now()
	ch := &Channel{
		ID:           optimisticID,
		OptimisticID: optimisticID,
		Name:         name,
		CreatedAt:    now,
		OtherMembers: users,
		Status:       StatusCreating,
		Messages: []Message{{
			ID:        optimisticID + "-start",
			ChannelID: optimisticID,
			Body:      "Conversation was started",
			CreatedAt: now,
			System:    true,
		}},
	}
	idx.channels[optimisticID] = ch
	return ch
}

// addMessage appends a message to a provisional channel so it survives the
// authoritative merge. A no-op when the id is unknown.
func (idx *optimisticIndex) addMessage(optimisticID string, msg Message) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if ch, ok := idx.channels[optimisticID]; ok {
		ch.Messages = append(ch.Messages, msg)
	}
}

// resolve replaces the placeholder with the authoritative channel in a
// single transition. Messages accumulated against the optimistic id that
// the authoritative channel does not already carry are merged in rather
// than discarded. When no placeholder exists the authoritative channel is
// returned as-is.
func (idx *optimisticIndex) resolve(optimisticID string, authoritative *Channel) *Channel {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	provisional, ok := idx.channels[optimisticID]
	if !ok {
		return authoritative
	}
	delete(idx.channels, optimisticID)

	authoritative.OptimisticID = optimisticID
	authoritative.Status = StatusCreated

	known := make(map[string]struct{}, len(authoritative.Messages))
	for _, m := range authoritative.Messages {
		known[m.ID] = struct{}{}
	}
	for _, m := range provisional.Messages {
		if m.System {
			continue
		}
		if _, dup := known[m.ID]; dup {
			continue
		}
		m.ChannelID = authoritative.ID
		authoritative.Messages = append(authoritative.Messages, m)
	}
	return authoritative
}

// fail marks the placeholder with StatusError and keeps it visible. Returns
// nil when the id is unknown.
func (idx *optimisticIndex) fail(optimisticID string) *Channel {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	ch, ok := idx.channels[optimisticID]
	if !ok {
		return nil
	}
	ch.Status = StatusError
	return ch
}

// get returns the placeholder for an id, or nil.
func (idx *optimisticIndex) get(optimisticID string) *Channel {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.channels[optimisticID]
}

// list snapshots all outstanding placeholders.
func (idx *optimisticIndex) list() []Channel {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	out := make([]Channel, 0, len(idx.channels))
	for _, ch := range idx.channels {
		out = append(out, *ch)
	}
	return out
}
