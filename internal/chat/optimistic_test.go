package chat

import (
	"testing"
	"time"
)

func TestOptimisticBeginIsIdempotent(t *testing.T) {
	idx := newOptimisticIndex()

	first := idx.begin("opt-1", []User{{ID: "peer"}}, "")
	second := idx.begin("opt-1", nil, "other name")
	if first != second {
		t.Fatal("repeated begin must return the existing placeholder")
	}
	if first.Status != StatusCreating {
		t.Fatalf("expected StatusCreating, got %v", first.Status)
	}
	if len(first.Messages) != 1 || !first.Messages[0].System {
		t.Fatalf("placeholder must carry the synthetic start message, got %+v", first.Messages)
	}
}

func TestOptimisticResolveMergesMessages(t *testing.T) {
	idx := newOptimisticIndex()
	idx.begin("opt-1", []User{{ID: "peer"}}, "")

	// A message sent against the placeholder before the backend answered.
	idx.addMessage("opt-1", Message{ID: "$early", ChannelID: "opt-1", Body: "hi"})

	authoritative := &Channel{
		ID:        "!room:example.org",
		CreatedAt: time.Now(),
		Messages:  []Message{{ID: "$server", ChannelID: "!room:example.org"}},
	}
	merged := idx.resolve("opt-1", authoritative)

	if merged.OptimisticID != "opt-1" {
		t.Fatalf("resolved channel must keep the optimistic id, got %q", merged.OptimisticID)
	}
	if merged.Status != StatusCreated {
		t.Fatalf("expected StatusCreated, got %v", merged.Status)
	}
	if got := idx.get("opt-1"); got != nil {
		t.Fatal("placeholder must be removed atomically with resolve")
	}

	var sawEarly, sawSystem bool
	for _, msg := range merged.Messages {
		if msg.ID == "$early" {
			sawEarly = true
			if msg.ChannelID != "!room:example.org" {
				t.Fatalf("merged message must be rekeyed to the real channel, got %q", msg.ChannelID)
			}
		}
		if msg.System {
			sawSystem = true
		}
	}
	if !sawEarly {
		t.Fatal("messages sent against the placeholder must survive the merge")
	}
	if sawSystem {
		t.Fatal("the synthetic start message must not leak into the authoritative channel")
	}
}

func TestOptimisticResolveSkipsDuplicates(t *testing.T) {
	idx := newOptimisticIndex()
	idx.begin("opt-1", nil, "")
	idx.addMessage("opt-1", Message{ID: "$dup"})

	authoritative := &Channel{
		ID:       "!room:example.org",
		Messages: []Message{{ID: "$dup"}},
	}
	merged := idx.resolve("opt-1", authoritative)
	if len(merged.Messages) != 1 {
		t.Fatalf("expected deduplicated messages, got %d", len(merged.Messages))
	}
}

func TestOptimisticResolveWithoutPlaceholder(t *testing.T) {
	idx := newOptimisticIndex()
	authoritative := &Channel{ID: "!room:example.org"}
	if got := idx.resolve("unknown", authoritative); got != authoritative {
		t.Fatal("resolve without placeholder must return the authoritative channel unchanged")
	}
}

func TestOptimisticFail(t *testing.T) {
	idx := newOptimisticIndex()
	idx.begin("opt-1", nil, "")

	failed := idx.fail("opt-1")
	if failed == nil || failed.Status != StatusError {
		t.Fatalf("expected StatusError placeholder, got %+v", failed)
	}
	if got := idx.get("opt-1"); got == nil {
		t.Fatal("failed placeholder must stay visible")
	}
	if idx.fail("unknown") != nil {
		t.Fatal("failing an unknown id must return nil")
	}
}
