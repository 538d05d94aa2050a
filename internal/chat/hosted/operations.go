package hosted

import (
	"context"
	"fmt"
	"time"

	"github.com/murmurchat/murmur/internal/chat"
)

// customTypeChannel marks a group channel as a scoped channel rather than a
// direct conversation.
const customTypeChannel = "channel"

// Channels lists scoped channels. A nonempty scopeID narrows to channels
// whose custom type matches it. When no session is established the result
// is an empty list, not an error.
func (a *Adapter) Channels(ctx context.Context, scopeID string) ([]chat.Channel, error) {
	if err := a.conn.AwaitReady(ctx); err != nil {
		return nil, err
	}
	if a.conn.State() != chat.Connected {
		return []chat.Channel{}, nil
	}
	token, err := a.session()
	if err != nil {
		return nil, err
	}

	var out []chat.Channel
	pageToken := ""
	for {
		page, err := a.api.ListChannels(ctx, token, pageToken, channelPageSize)
		if err != nil {
			return nil, fmt.Errorf("list channels: %w", err)
		}
		for _, wire := range page.Channels {
			if wire.CustomType == "" {
				continue
			}
			if scopeID != "" && wire.CustomType != scopeID && wire.CustomType != customTypeChannel {
				continue
			}
			out = append(out, a.toChannel(wire))
		}
		if page.Next == "" {
			return out, nil
		}
		pageToken = page.Next
	}
}

// Conversations lists direct conversations, i.e. distinct channels with no
// custom type.
func (a *Adapter) Conversations(ctx context.Context) ([]chat.Channel, error) {
	if err := a.conn.AwaitReady(ctx); err != nil {
		return nil, err
	}
	if a.conn.State() != chat.Connected {
		return []chat.Channel{}, nil
	}
	token, err := a.session()
	if err != nil {
		return nil, err
	}

	var out []chat.Channel
	pageToken := ""
	for {
		page, err := a.api.ListChannels(ctx, token, pageToken, channelPageSize)
		if err != nil {
			return nil, fmt.Errorf("list conversations: %w", err)
		}
		for _, wire := range page.Channels {
			if wire.CustomType != "" {
				continue
			}
			out = append(out, a.toChannel(wire))
		}
		if page.Next == "" {
			return out, nil
		}
		pageToken = page.Next
	}
}

// CreateConversation creates a group channel. Direct conversations are
// distinct channels, which the platform deduplicates per member set; a
// repeat create returns the existing channel, which is exactly what the
// optimistic reconciliation upstream expects.
func (a *Adapter) CreateConversation(ctx context.Context, req chat.CreateConversationRequest) (*chat.Channel, error) {
	token, err := a.session()
	if err != nil {
		return nil, err
	}

	userIDs := make([]string, 0, len(req.Users))
	for _, u := range req.Users {
		userIDs = append(userIDs, u.ID)
	}

	isDirect := len(req.Users) == 1 && req.Name == ""
	create := CreateChannelRequest{
		Name:       req.Name,
		UserIDs:    userIDs,
		IsDistinct: isDirect,
	}
	if !isDirect {
		create.Data = customTypeChannel
	}

	wire, err := a.api.CreateChannel(ctx, token, create)
	if err != nil {
		return nil, fmt.Errorf("create channel: %w", err)
	}

	ch := a.toChannel(*wire)
	ch.OptimisticID = req.OptimisticID
	return &ch, nil
}

// SendMessage posts a message, carrying the optimistic id in the data
// envelope so the echo frame can reconcile placeholders on every session.
func (a *Adapter) SendMessage(ctx context.Context, req chat.SendMessageRequest) (*chat.MessageResult, error) {
	token, err := a.session()
	if err != nil {
		return nil, err
	}

	send := SendMessageRequest{
		Message:      req.Body,
		MentionedIDs: req.MentionedUserIDs,
		Data:         encodeMessageData(req.OptimisticID),
	}
	if req.Parent != nil {
		parentID, err := parseMessageID(req.Parent.MessageID)
		if err != nil {
			return nil, err
		}
		send.ParentID = parentID
	}

	wire, err := a.api.SendMessage(ctx, token, expandChannelURL(req.ChannelID), send)
	a.metrics.SendAttempt(adapterName, err != nil)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	return &chat.MessageResult{ID: formatMessageID(wire.MessageID), OptimisticID: req.OptimisticID}, nil
}

// EditMessage replaces a message body in place.
func (a *Adapter) EditMessage(ctx context.Context, channelID, messageID, body string, mentionedUserIDs []string) error {
	token, err := a.session()
	if err != nil {
		return err
	}
	return a.api.UpdateMessage(ctx, token, expandChannelURL(channelID), messageID, body)
}

// DeleteMessage removes a message.
func (a *Adapter) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	token, err := a.session()
	if err != nil {
		return err
	}
	return a.api.DeleteMessage(ctx, token, expandChannelURL(channelID), messageID)
}

// Messages fetches one page of history ending before the given message id
// (the live edge when empty).
func (a *Adapter) Messages(ctx context.Context, channelID, before string) ([]chat.Message, error) {
	token, err := a.session()
	if err != nil {
		return nil, err
	}

	var beforeTS int64
	if before != "" {
		if beforeTS, err = parseMessageID(before); err != nil {
			return nil, err
		}
	}

	page, err := a.api.ListMessages(ctx, token, expandChannelURL(channelID), beforeTS, historyPageSize)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}

	out := make([]chat.Message, 0, len(page.Messages))
	for _, wire := range page.Messages {
		out = append(out, toMessage(wire))
	}
	return out, nil
}

// AddMembers invites users to a channel.
func (a *Adapter) AddMembers(ctx context.Context, channelID string, users []chat.User) error {
	token, err := a.session()
	if err != nil {
		return err
	}
	userIDs := make([]string, 0, len(users))
	for _, u := range users {
		userIDs = append(userIDs, u.ID)
	}
	return a.api.InviteMembers(ctx, token, expandChannelURL(channelID), userIDs)
}

// RemoveMember kicks a user from a channel.
func (a *Adapter) RemoveMember(ctx context.Context, channelID, userID string) error {
	token, err := a.session()
	if err != nil {
		return err
	}
	return a.api.RemoveMember(ctx, token, expandChannelURL(channelID), userID)
}

// PromoteModerator marks a user as a channel operator.
func (a *Adapter) PromoteModerator(ctx context.Context, channelID, userID string) error {
	token, err := a.session()
	if err != nil {
		return err
	}
	return a.api.SetOperator(ctx, token, expandChannelURL(channelID), userID)
}

// LeaveChannel removes a user from a channel. An empty id means the current
// user.
func (a *Adapter) LeaveChannel(ctx context.Context, channelID, userID string) error {
	token, err := a.session()
	if err != nil {
		return err
	}
	if userID == "" {
		a.mu.Lock()
		userID = a.userID
		a.mu.Unlock()
	}
	return a.api.LeaveChannel(ctx, token, expandChannelURL(channelID), []string{userID})
}

// MarkRead moves the read horizon to the channel's latest message.
func (a *Adapter) MarkRead(ctx context.Context, channelID string) error {
	token, err := a.session()
	if err != nil {
		return err
	}
	if err := a.api.MarkRead(ctx, token, expandChannelURL(channelID)); err != nil {
		return err
	}
	a.publish(chat.Event{Kind: chat.EventUnreadCountChanged, ChannelID: channelID})
	return nil
}

// SendTyping publishes a typing indicator over the event socket.
func (a *Adapter) SendTyping(ctx context.Context, channelID string, typing bool) error {
	a.mu.Lock()
	sock := a.sock
	userID := a.userID
	a.mu.Unlock()
	if sock == nil {
		return chat.NewError(chat.ErrCodeSessionInvalid, "no active session")
	}
	return sock.send(ctx, socketFrame{
		Type: frameTyping,
		Payload: mustMarshal(typingPayload{
			ChannelURL: expandChannelURL(channelID),
			UserIDs:    typingUserIDs(userID, typing),
		}),
	})
}

func typingUserIDs(userID string, typing bool) []string {
	if typing {
		return []string{userID}
	}
	return nil
}

// SendReaction toggles an emoji reaction on a message.
func (a *Adapter) SendReaction(ctx context.Context, channelID, messageID, key string) error {
	token, err := a.session()
	if err != nil {
		return err
	}
	return a.api.AddReaction(ctx, token, expandChannelURL(channelID), messageID, key)
}

// SecureBackup always reports no backup: the platform holds message history
// server-side and never hands key material to clients.
func (a *Adapter) SecureBackup(ctx context.Context) (*chat.SecureBackup, error) {
	return nil, nil
}

// GenerateSecureBackup is unsupported on this backend.
func (a *Adapter) GenerateSecureBackup(ctx context.Context) (*chat.GeneratedBackup, error) {
	return nil, chat.NewError(chat.ErrCodeBadRequest, "secure backup is not supported on this backend")
}

// SaveSecureBackup is unsupported on this backend.
func (a *Adapter) SaveSecureBackup(ctx context.Context, recoveryKey string) error {
	return chat.NewError(chat.ErrCodeBadRequest, "secure backup is not supported on this backend")
}

// RestoreSecureBackup is unsupported on this backend.
func (a *Adapter) RestoreSecureBackup(ctx context.Context, recoveryKey, passphrase string) error {
	return chat.NewError(chat.ErrCodeBadRequest, "secure backup is not supported on this backend")
}

// toChannel converts a wire channel into the domain model, excluding the
// current user from the member list.
func (a *Adapter) toChannel(wire WireChannel) chat.Channel {
	a.mu.Lock()
	selfID := a.userID
	a.mu.Unlock()

	ch := chat.Channel{
		ID:           stripChannelURL(wire.ChannelURL),
		Name:         wire.Name,
		AvatarURL:    wire.CoverURL,
		CreatedAt:    time.UnixMilli(wire.CreatedAt),
		IsChannel:    wire.CustomType != "",
		ModeratorIDs: wire.OperatorIDs,
		Unread: chat.UnreadCount{
			Total:     wire.UnreadMessageCount,
			Highlight: wire.UnreadMentionCount,
		},
		BumpStamp: wire.CreatedAt,
		Status:    chat.StatusCreated,
	}
	for _, member := range wire.Members {
		if member.UserID == selfID {
			continue
		}
		ch.OtherMembers = append(ch.OtherMembers, toUser(member))
	}
	if wire.LastMessage != nil {
		last := toMessage(*wire.LastMessage)
		ch.LastMessage = &last
		ch.BumpStamp = wire.LastMessage.CreatedAt
	}
	return ch
}

func toUser(wire WireUser) chat.User {
	user := chat.User{
		ID:          wire.UserID,
		DisplayName: wire.Nickname,
		AvatarURL:   wire.ProfileURL,
		IsOnline:    wire.IsOnline,
	}
	if wire.LastSeenAt > 0 {
		user.LastSeenAt = time.UnixMilli(wire.LastSeenAt)
	}
	return user
}

func toMessage(wire WireMessage) chat.Message {
	msg := chat.Message{
		ID:           formatMessageID(wire.MessageID),
		OptimisticID: decodeMessageData(wire.Data),
		ChannelID:    stripChannelURL(wire.ChannelURL),
		SenderID:     wire.User.UserID,
		Body:         wire.Message,
		CreatedAt:    time.UnixMilli(wire.CreatedAt),
	}
	if wire.UpdatedAt > wire.CreatedAt {
		editedAt := time.UnixMilli(wire.UpdatedAt)
		msg.EditedAt = &editedAt
	}
	if wire.ParentID != 0 {
		msg.Parent = &chat.ParentMessage{
			MessageID: formatMessageID(wire.ParentID),
			Body:      wire.ParentText,
		}
	}
	if len(wire.Reactions) > 0 {
		msg.Reactions = make(map[string]int, len(wire.Reactions))
		for _, reaction := range wire.Reactions {
			msg.Reactions[reaction.Key] = len(reaction.UserIDs)
		}
	}
	return msg
}
