package matrix

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/murmurchat/murmur/internal/chat"
)

const historyPageSize = 50

// SendMessage sends a text or file message. Replies carry the conventional
// quoted fallback plus a structured in-reply-to reference; the optimistic
// id travels in the content so other devices can correlate placeholders.
func (a *Adapter) SendMessage(ctx context.Context, req chat.SendMessageRequest) (*chat.MessageResult, error) {
	_, token, err := a.session()
	if err != nil {
		return nil, err
	}

	content := MessageContent{
		MsgType:      msgTypeText,
		Body:         req.Body,
		OptimisticID: req.OptimisticID,
	}

	if req.Parent != nil {
		content.Body = replyFallback(req.Parent) + req.Body
		content.RelatesTo = &RelatesTo{InReplyTo: &InReplyTo{EventID: req.Parent.MessageID}}
	}

	if req.File != nil {
		a.mu.Lock()
		room := a.rooms[req.ChannelID]
		encrypted := room != nil && room.encrypted
		a.mu.Unlock()
		ref, file, err := a.uploadAttachment(ctx, token, req.File, encrypted)
		if err != nil {
			a.metrics.SendAttempt(adapterName, true)
			return nil, fmt.Errorf("upload attachment: %w", err)
		}
		content.MsgType = attachmentMsgType(req.File.ContentType)
		if content.Body == "" {
			content.Body = req.File.Name
		}
		if file != nil {
			content.File = file
		} else {
			content.URL = ref.URI
		}
	}

	eventID, err := a.api.SendEvent(ctx, token, req.ChannelID, eventTypeMessage, content)
	a.metrics.SendAttempt(adapterName, err != nil)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	return &chat.MessageResult{ID: eventID, OptimisticID: req.OptimisticID}, nil
}

// replyFallback builds the quoted plain-text prefix clients without
// relation support render.
func replyFallback(parent *chat.ParentMessage) string {
	var b strings.Builder
	lines := strings.Split(parent.Body, "\n")
	for i, line := range lines {
		if i == 0 {
			b.WriteString("> <" + parent.SenderID + "> " + line + "\n")
			continue
		}
		b.WriteString("> " + line + "\n")
	}
	b.WriteString("\n")
	return b.String()
}

func attachmentMsgType(contentType string) string {
	if strings.HasPrefix(contentType, "image/") {
		return msgTypeImage
	}
	return msgTypeFile
}

// EditMessage replaces a message body in place. The edit is a fresh message
// event whose new content rides in m.new_content; the top-level body is the
// conventional asterisk-prefixed fallback.
func (a *Adapter) EditMessage(ctx context.Context, channelID, messageID, body string, mentionedUserIDs []string) error {
	_, token, err := a.session()
	if err != nil {
		return err
	}
	content := MessageContent{
		MsgType: msgTypeText,
		Body:    "* " + body,
		NewContent: &MessageContent{
			MsgType: msgTypeText,
			Body:    body,
		},
		RelatesTo: &RelatesTo{RelType: relTypeReplace, EventID: messageID},
	}
	if _, err := a.api.SendEvent(ctx, token, channelID, eventTypeMessage, content); err != nil {
		return fmt.Errorf("edit message: %w", err)
	}
	return nil
}

// DeleteMessage tombstones a message via redaction. The event stays in the
// timeline with its content stripped rather than disappearing.
func (a *Adapter) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	_, token, err := a.session()
	if err != nil {
		return err
	}
	if _, err := a.api.RedactEvent(ctx, token, channelID, messageID, ""); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// SendReaction annotates a message with an emoji key.
func (a *Adapter) SendReaction(ctx context.Context, channelID, messageID, key string) error {
	_, token, err := a.session()
	if err != nil {
		return err
	}
	content := map[string]any{
		"m.relates_to": RelatesTo{
			RelType: relTypeAnnotation,
			EventID: messageID,
			Key:     key,
		},
	}
	if _, err := a.api.SendEvent(ctx, token, channelID, eventTypeReaction, content); err != nil {
		return fmt.Errorf("send reaction: %w", err)
	}
	return nil
}

// SendTyping publishes or clears the typing indicator for the current user.
func (a *Adapter) SendTyping(ctx context.Context, channelID string, typing bool) error {
	userID, token, err := a.session()
	if err != nil {
		return err
	}
	return a.api.SendTyping(ctx, token, channelID, userID, typing)
}

// Messages fetches one page of history ending before the given pagination
// token (the live edge when empty). Edits are folded into their targets,
// redactions tombstone in place, and reactions are aggregated onto the
// message. An edit whose target is not in the page is dropped rather than
// surfaced as a phantom message.
func (a *Adapter) Messages(ctx context.Context, channelID, before string) ([]chat.Message, error) {
	_, token, err := a.session()
	if err != nil {
		return nil, err
	}

	resp, err := a.api.RoomMessages(ctx, token, channelID, before, historyPageSize)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}

	return foldTimeline(channelID, resp.Chunk), nil
}

// foldTimeline turns a backwards page of raw events into chronological
// domain messages with relations applied.
func foldTimeline(channelID string, events []Event) []chat.Message {
	byID := make(map[string]*chat.Message)
	var order []string
	redacted := make(map[string]bool)

	// The chunk arrives newest first. Walk oldest first so edits observed
	// later in real time overwrite earlier bodies.
	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]
		switch ev.Type {
		case eventTypeRedaction:
			redacted[ev.Redacts] = true

		case eventTypeReaction:
			var content struct {
				RelatesTo RelatesTo `json:"m.relates_to"`
			}
			if err := json.Unmarshal(ev.Content, &content); err != nil {
				continue
			}
			rel := content.RelatesTo
			if rel.RelType != relTypeAnnotation || rel.EventID == "" || rel.Key == "" {
				continue
			}
			if target, ok := byID[rel.EventID]; ok {
				if target.Reactions == nil {
					target.Reactions = make(map[string]int)
				}
				target.Reactions[rel.Key]++
			}

		case eventTypeMessage:
			var content MessageContent
			if err := json.Unmarshal(ev.Content, &content); err != nil {
				continue
			}

			if content.RelatesTo != nil && content.RelatesTo.RelType == relTypeReplace {
				target, ok := byID[content.RelatesTo.EventID]
				if !ok {
					// Target is outside this page; the edit alone has
					// nothing to render.
					continue
				}
				if content.NewContent != nil {
					target.Body = content.NewContent.Body
				}
				editedAt := time.UnixMilli(ev.OriginServerTS)
				target.EditedAt = &editedAt
				continue
			}

			msg := eventToMessage(channelID, ev, content)
			byID[ev.EventID] = &msg
			order = append(order, ev.EventID)
		}
	}

	out := make([]chat.Message, 0, len(order))
	for _, id := range order {
		msg := *byID[id]
		if redacted[id] {
			msg.Body = ""
			msg.Deleted = true
		}
		out = append(out, msg)
	}
	return out
}

// eventToMessage converts one raw message event into the domain model.
func eventToMessage(channelID string, ev Event, content MessageContent) chat.Message {
	msg := chat.Message{
		ID:           ev.EventID,
		OptimisticID: content.OptimisticID,
		ChannelID:    channelID,
		SenderID:     ev.Sender,
		Body:         content.Body,
		CreatedAt:    time.UnixMilli(ev.OriginServerTS),
	}
	if content.RelatesTo != nil && content.RelatesTo.InReplyTo != nil {
		msg.Parent = &chat.ParentMessage{MessageID: content.RelatesTo.InReplyTo.EventID}
		msg.Body = stripReplyFallback(msg.Body)
	}
	return msg
}

// stripReplyFallback removes the quoted prefix from a reply body, leaving
// only the text the user typed.
func stripReplyFallback(body string) string {
	lines := strings.Split(body, "\n")
	i := 0
	for i < len(lines) && strings.HasPrefix(lines[i], "> ") {
		i++
	}
	// Skip the blank separator line between quote and reply text.
	if i > 0 && i < len(lines) && lines[i] == "" {
		i++
	}
	return strings.Join(lines[i:], "\n")
}
