package hosted

import (
	"encoding/json"
	"time"

	"github.com/murmurchat/murmur/internal/chat"
)

// handleFrame normalizes one socket frame into the event taxonomy. Unknown
// frame types are counted and dropped; the platform adds types faster than
// clients care about them.
func (a *Adapter) handleFrame(frame socketFrame) {
	switch frame.Type {
	case frameMessageCreated:
		var wire WireMessage
		if json.Unmarshal(frame.Payload, &wire) != nil {
			a.metrics.EventDropped(adapterName)
			return
		}
		msg := toMessage(wire)
		a.publish(chat.Event{
			Kind:      chat.EventMessageReceived,
			ChannelID: msg.ChannelID,
			MessageID: msg.ID,
			Message:   &msg,
		})

	case frameMessageUpdated:
		var wire WireMessage
		if json.Unmarshal(frame.Payload, &wire) != nil {
			a.metrics.EventDropped(adapterName)
			return
		}
		msg := toMessage(wire)
		a.publish(chat.Event{
			Kind:      chat.EventMessageUpdated,
			ChannelID: msg.ChannelID,
			MessageID: msg.ID,
			Message:   &msg,
		})

	case frameMessageDeleted:
		var wire WireMessage
		if json.Unmarshal(frame.Payload, &wire) != nil {
			a.metrics.EventDropped(adapterName)
			return
		}
		a.publish(chat.Event{
			Kind:      chat.EventMessageDeleted,
			ChannelID: stripChannelURL(wire.ChannelURL),
			MessageID: formatMessageID(wire.MessageID),
		})

	case frameMemberJoined:
		var payload memberPayload
		if json.Unmarshal(frame.Payload, &payload) != nil {
			a.metrics.EventDropped(adapterName)
			return
		}
		user := toUser(payload.User)
		a.publish(chat.Event{
			Kind:      chat.EventMemberJoined,
			ChannelID: stripChannelURL(payload.ChannelURL),
			User:      &user,
		})

	case frameMemberLeft:
		var payload memberPayload
		if json.Unmarshal(frame.Payload, &payload) != nil {
			a.metrics.EventDropped(adapterName)
			return
		}
		a.publish(chat.Event{
			Kind:      chat.EventMemberLeft,
			ChannelID: stripChannelURL(payload.ChannelURL),
			UserID:    payload.User.UserID,
		})

	case frameChannelChanged:
		a.handleChannelChanged(frame.Payload)

	case frameTyping:
		var payload typingPayload
		if json.Unmarshal(frame.Payload, &payload) != nil {
			a.metrics.EventDropped(adapterName)
			return
		}
		a.publish(chat.Event{
			Kind:      chat.EventTypingChanged,
			ChannelID: stripChannelURL(payload.ChannelURL),
			UserIDs:   payload.UserIDs,
		})

	case frameReadReceipt:
		var payload readReceiptPayload
		if json.Unmarshal(frame.Payload, &payload) != nil {
			a.metrics.EventDropped(adapterName)
			return
		}
		a.publish(chat.Event{
			Kind:      chat.EventReadReceipt,
			ChannelID: stripChannelURL(payload.ChannelURL),
			MessageID: formatMessageID(payload.MessageID),
			UserID:    payload.UserID,
		})

	case frameReaction:
		var payload reactionPayload
		if json.Unmarshal(frame.Payload, &payload) != nil {
			a.metrics.EventDropped(adapterName)
			return
		}
		a.publish(chat.Event{
			Kind:      chat.EventReactionChanged,
			ChannelID: stripChannelURL(payload.ChannelURL),
			MessageID: formatMessageID(payload.MessageID),
			Reaction: &chat.Reaction{
				MessageID: formatMessageID(payload.MessageID),
				Key:       payload.Key,
				SenderID:  payload.UserID,
				Count:     payload.Count,
			},
		})

	case frameInvitation:
		var payload channelPayload
		if json.Unmarshal(frame.Payload, &payload) != nil {
			a.metrics.EventDropped(adapterName)
			return
		}
		a.publish(chat.Event{
			Kind:      chat.EventInvitationReceived,
			ChannelID: stripChannelURL(payload.Channel.ChannelURL),
		})

	case framePresence:
		var payload presencePayload
		if json.Unmarshal(frame.Payload, &payload) != nil {
			a.metrics.EventDropped(adapterName)
			return
		}
		lastSeen := time.Time{}
		if payload.LastSeenAt > 0 {
			lastSeen = time.UnixMilli(payload.LastSeenAt)
		}
		a.publish(chat.Event{
			Kind:       chat.EventPresenceChanged,
			UserID:     payload.UserID,
			IsOnline:   payload.IsOnline,
			LastSeenAt: lastSeen,
		})

	case frameSessionExpired:
		// The platform expires sessions in-band; try a refresh first and
		// only surface an invalid session when that fails too.
		go a.refreshSession()

	default:
		a.metrics.EventDropped(adapterName)
	}
}

// handleChannelChanged fans a channel metadata frame out into the granular
// events the taxonomy expects.
func (a *Adapter) handleChannelChanged(payload json.RawMessage) {
	var change channelPayload
	if json.Unmarshal(payload, &change) != nil {
		a.metrics.EventDropped(adapterName)
		return
	}
	channelID := stripChannelURL(change.Channel.ChannelURL)

	a.publish(chat.Event{Kind: chat.EventRoomNameChanged, ChannelID: channelID, Name: change.Channel.Name})
	a.publish(chat.Event{Kind: chat.EventRoomAvatarChanged, ChannelID: channelID, AvatarURL: change.Channel.CoverURL})
	a.publish(chat.Event{
		Kind:      chat.EventUnreadCountChanged,
		ChannelID: channelID,
		Unread: chat.UnreadCount{
			Total:     change.Channel.UnreadMessageCount,
			Highlight: change.Channel.UnreadMentionCount,
		},
	})
	ch := a.toChannel(change.Channel)
	a.publish(chat.Event{Kind: chat.EventConversationUpdated, ChannelID: channelID, Channel: &ch})
}

// mustMarshal encodes a payload that cannot fail for the fixed frame types.
func mustMarshal(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}
