package matrix

import (
	"encoding/json"
	"testing"
)

func rawContent(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal content: %v", err)
	}
	return raw
}

func TestFoldTimelineAppliesEdits(t *testing.T) {
	// The chunk is newest first, as the server returns it.
	events := []Event{
		{
			EventID: "$edit", Type: eventTypeMessage, Sender: "@alice:example.org", OriginServerTS: 2000,
			Content: rawContent(t, MessageContent{
				MsgType:    msgTypeText,
				Body:       "* fixed",
				NewContent: &MessageContent{MsgType: msgTypeText, Body: "fixed"},
				RelatesTo:  &RelatesTo{RelType: relTypeReplace, EventID: "$orig"},
			}),
		},
		{
			EventID: "$orig", Type: eventTypeMessage, Sender: "@alice:example.org", OriginServerTS: 1000,
			Content: rawContent(t, MessageContent{MsgType: msgTypeText, Body: "typo"}),
		},
	}

	messages := foldTimeline("!room:example.org", events)
	if len(messages) != 1 {
		t.Fatalf("expected one folded message, got %d", len(messages))
	}
	msg := messages[0]
	if msg.ID != "$orig" {
		t.Fatalf("edits must keep the original identity, got %q", msg.ID)
	}
	if msg.Body != "fixed" {
		t.Fatalf("edit body must replace the original, got %q", msg.Body)
	}
	if msg.EditedAt == nil {
		t.Fatal("folded message must record the edit time")
	}
}

func TestFoldTimelineDropsOrphanEdits(t *testing.T) {
	events := []Event{
		{
			EventID: "$edit", Type: eventTypeMessage, Sender: "@alice:example.org", OriginServerTS: 2000,
			Content: rawContent(t, MessageContent{
				MsgType:    msgTypeText,
				Body:       "* fixed",
				NewContent: &MessageContent{MsgType: msgTypeText, Body: "fixed"},
				RelatesTo:  &RelatesTo{RelType: relTypeReplace, EventID: "$outside-page"},
			}),
		},
	}

	messages := foldTimeline("!room:example.org", events)
	if len(messages) != 0 {
		t.Fatalf("an edit without its target must not surface, got %d messages", len(messages))
	}
}

func TestFoldTimelineTombstonesRedacted(t *testing.T) {
	events := []Event{
		{EventID: "$redaction", Type: eventTypeRedaction, OriginServerTS: 2000, Redacts: "$orig"},
		{
			EventID: "$orig", Type: eventTypeMessage, Sender: "@bob:example.org", OriginServerTS: 1000,
			Content: rawContent(t, MessageContent{MsgType: msgTypeText, Body: "regret"}),
		},
	}

	messages := foldTimeline("!room:example.org", events)
	if len(messages) != 1 {
		t.Fatalf("redacted messages stay in place, got %d messages", len(messages))
	}
	if !messages[0].Deleted || messages[0].Body != "" {
		t.Fatalf("expected an empty tombstone, got %+v", messages[0])
	}
}

func TestFoldTimelineAggregatesReactions(t *testing.T) {
	reaction := func(id string) Event {
		return Event{
			EventID: id, Type: eventTypeReaction, OriginServerTS: 2000,
			Content: rawContent(t, map[string]any{
				"m.relates_to": RelatesTo{RelType: relTypeAnnotation, EventID: "$orig", Key: "👍"},
			}),
		}
	}
	events := []Event{
		reaction("$r2"),
		reaction("$r1"),
		{
			EventID: "$orig", Type: eventTypeMessage, Sender: "@bob:example.org", OriginServerTS: 1000,
			Content: rawContent(t, MessageContent{MsgType: msgTypeText, Body: "ship it"}),
		},
	}

	messages := foldTimeline("!room:example.org", events)
	if len(messages) != 1 {
		t.Fatalf("expected one message, got %d", len(messages))
	}
	if got := messages[0].Reactions["👍"]; got != 2 {
		t.Fatalf("expected aggregated count 2, got %d", got)
	}
}

func TestFoldTimelineChronologicalOrder(t *testing.T) {
	events := []Event{
		{
			EventID: "$newer", Type: eventTypeMessage, OriginServerTS: 2000,
			Content: rawContent(t, MessageContent{MsgType: msgTypeText, Body: "second"}),
		},
		{
			EventID: "$older", Type: eventTypeMessage, OriginServerTS: 1000,
			Content: rawContent(t, MessageContent{MsgType: msgTypeText, Body: "first"}),
		},
	}

	messages := foldTimeline("!room:example.org", events)
	if len(messages) != 2 {
		t.Fatalf("expected two messages, got %d", len(messages))
	}
	if messages[0].ID != "$older" || messages[1].ID != "$newer" {
		t.Fatalf("messages must come back oldest first, got %q then %q", messages[0].ID, messages[1].ID)
	}
}

func TestStripReplyFallback(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "single line quote",
			body: "> <@bob:example.org> can you review?\n\nsure thing",
			want: "sure thing",
		},
		{
			name: "multi line quote",
			body: "> <@bob:example.org> first\n> second\n\nreply",
			want: "reply",
		},
		{
			name: "no quote",
			body: "plain message",
			want: "plain message",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stripReplyFallback(tt.body); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}
