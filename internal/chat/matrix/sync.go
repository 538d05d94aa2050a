package matrix

import (
	"context"
	"encoding/json"
	"time"

	"github.com/murmurchat/murmur/internal/chat"
)

const (
	syncTimeoutMS  = 30000
	syncBackoffMin = time.Second
	syncBackoffMax = 30 * time.Second
	presenceOnline = "online"
)

// startSyncLoop launches the long-poll loop. Must only be called with no
// loop running; Connect and Reconnect guarantee that via stopSyncLoop.
func (a *Adapter) startSyncLoop() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	a.mu.Lock()
	a.syncCancel = cancel
	a.syncDone = done
	a.mu.Unlock()

	go a.runSyncLoop(ctx, done)
}

// stopSyncLoop cancels the loop and waits for it to drain.
func (a *Adapter) stopSyncLoop() {
	a.mu.Lock()
	cancel := a.syncCancel
	done := a.syncDone
	a.syncCancel = nil
	a.syncDone = nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// runSyncLoop long-polls /sync until cancelled or the token is revoked.
// Transient errors back off exponentially; a revoked token is fatal and
// surfaces as an invalid-session event.
func (a *Adapter) runSyncLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	backoff := syncBackoffMin
	for {
		a.mu.Lock()
		userID, token, since := a.userID, a.accessToken, a.nextBatch
		a.mu.Unlock()
		if token == "" {
			return
		}

		resp, err := a.api.Sync(ctx, token, SyncOptions{
			Since:      since,
			Timeout:    syncTimeoutMS,
			SetTimeout: true,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if IsAPIError(err, ErrCodeUnknownToken) {
				if a.log != nil {
					a.log.Warn().Msg("access token revoked, session invalid")
				}
				a.publish(chat.Event{Kind: chat.EventInvalidSession})
				a.conn.SetDisconnected()
				a.setStateMetric()
				return
			}
			if a.log != nil {
				a.log.Warn().Err(err).Dur("backoff", backoff).Msg("sync failed, retrying")
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff *= 2; backoff > syncBackoffMax {
				backoff = syncBackoffMax
			}
			continue
		}
		backoff = syncBackoffMin

		a.mu.Lock()
		a.nextBatch = resp.NextBatch
		a.mu.Unlock()

		a.applySync(ctx, resp, false)

		if a.store != nil {
			if err := a.store.SaveSyncToken(ctx, userID, resp.NextBatch); err != nil && a.log != nil {
				a.log.Warn().Err(err).Msg("persist sync token failed")
			}
		}
	}
}

// applySync folds one sync response into the room cache and publishes the
// normalized events it implies. During the initial sync the timeline is
// absorbed silently so a restart does not replay history at the
// application; state and membership still seed the cache.
func (a *Adapter) applySync(ctx context.Context, resp *SyncResponse, initial bool) {
	live := !initial

	for _, ev := range resp.AccountData.Events {
		a.applyAccountData(ev)
	}
	if live {
		for _, ev := range resp.Presence.Events {
			a.applyPresence(ev)
		}
	}

	for roomID, joined := range resp.Rooms.Join {
		a.applyJoinedRoom(roomID, joined, live)
	}
	for roomID := range resp.Rooms.Invite {
		a.autoJoin(ctx, roomID)
	}
	for roomID := range resp.Rooms.Leave {
		a.mu.Lock()
		delete(a.rooms, roomID)
		a.mu.Unlock()
	}
}

// applyAccountData handles account-level side channels, currently the
// direct-conversation map.
func (a *Adapter) applyAccountData(ev Event) {
	if ev.Type != eventTypeDirect {
		a.metrics.EventDropped(adapterName)
		return
	}
	var direct directContent
	if err := json.Unmarshal(ev.Content, &direct); err != nil {
		a.metrics.EventDropped(adapterName)
		return
	}

	flagged := make(map[string]bool)
	var ids []string
	for _, roomIDs := range direct {
		for _, id := range roomIDs {
			if !flagged[id] {
				flagged[id] = true
				ids = append(ids, id)
			}
		}
	}

	a.mu.Lock()
	a.directIDs = ids
	for id, room := range a.rooms {
		room.direct = flagged[id]
	}
	a.mu.Unlock()

	a.publish(chat.Event{Kind: chat.EventConversationListChanged, ChannelIDs: ids})
}

func (a *Adapter) applyPresence(ev Event) {
	if ev.Type != eventTypePresence {
		return
	}
	var content PresenceContent
	if err := json.Unmarshal(ev.Content, &content); err != nil {
		a.metrics.EventDropped(adapterName)
		return
	}
	lastSeen := time.Time{}
	if content.LastActiveAgo > 0 {
		lastSeen = time.Now().Add(-time.Duration(content.LastActiveAgo) * time.Millisecond)
	}
	a.publish(chat.Event{
		Kind:       chat.EventPresenceChanged,
		UserID:     ev.Sender,
		IsOnline:   content.Presence == presenceOnline,
		LastSeenAt: lastSeen,
	})
}

// applyJoinedRoom folds one room's sync section into the cache.
func (a *Adapter) applyJoinedRoom(roomID string, joined JoinedRoom, live bool) {
	a.mu.Lock()
	room := a.ensureRoomLocked(roomID)
	flagged := false
	for _, id := range a.directIDs {
		if id == roomID {
			flagged = true
		}
	}
	room.direct = room.direct || flagged
	a.mu.Unlock()

	for _, ev := range joined.State.Events {
		a.applyStateEvent(room, ev, live)
	}
	for _, ev := range joined.Timeline.Events {
		if ev.StateKey != nil {
			a.applyStateEvent(room, ev, live)
			continue
		}
		a.applyTimelineEvent(room, ev, live)
	}
	if live {
		for _, ev := range joined.Ephemeral.Events {
			a.applyEphemeralEvent(room, ev)
		}
	}

	unread := chat.UnreadCount{
		Total:     joined.UnreadNotifications.NotificationCount,
		Highlight: joined.UnreadNotifications.HighlightCount,
	}
	a.mu.Lock()
	changed := unread != room.unread
	room.unread = unread
	a.mu.Unlock()
	if live && changed {
		a.publish(chat.Event{Kind: chat.EventUnreadCountChanged, ChannelID: roomID, Unread: unread})
	}
}

// applyStateEvent updates the room cache from one state event and, when
// live, publishes the matching normalized event.
func (a *Adapter) applyStateEvent(room *roomState, ev Event, live bool) {
	switch ev.Type {
	case eventTypeCreate:
		a.mu.Lock()
		room.createdAt = time.UnixMilli(ev.OriginServerTS)
		a.mu.Unlock()

	case eventTypeName:
		var content struct {
			Name string `json:"name"`
		}
		if json.Unmarshal(ev.Content, &content) != nil {
			return
		}
		a.mu.Lock()
		room.name = content.Name
		a.mu.Unlock()
		if live {
			a.publish(chat.Event{Kind: chat.EventRoomNameChanged, ChannelID: room.id, Name: content.Name})
		}

	case eventTypeAvatar:
		var content struct {
			URL string `json:"url"`
		}
		if json.Unmarshal(ev.Content, &content) != nil {
			return
		}
		a.mu.Lock()
		room.avatarURL = content.URL
		a.mu.Unlock()
		if live {
			a.publish(chat.Event{Kind: chat.EventRoomAvatarChanged, ChannelID: room.id, AvatarURL: content.URL})
		}

	case eventTypeEncryption:
		a.mu.Lock()
		room.encrypted = true
		a.mu.Unlock()

	case eventTypeMember:
		a.applyMemberEvent(room, ev, live)

	case eventTypePowerLevels:
		a.applyPowerLevels(room, ev, live)

	case eventTypeGroupType:
		var content struct {
			GroupType string `json:"group_type"`
		}
		if json.Unmarshal(ev.Content, &content) != nil {
			return
		}
		a.mu.Lock()
		room.groupType = content.GroupType
		a.mu.Unlock()
		if live {
			a.publish(chat.Event{Kind: chat.EventGroupTypeChanged, ChannelID: room.id, GroupType: content.GroupType})
		}

	case eventTypeLabels:
		var content struct {
			Labels []string `json:"labels"`
		}
		if json.Unmarshal(ev.Content, &content) != nil {
			return
		}
		a.mu.Lock()
		room.labels = content.Labels
		a.mu.Unlock()
		if live {
			a.publish(chat.Event{Kind: chat.EventLabelsChanged, ChannelID: room.id, Labels: content.Labels})
		}

	case eventTypeGuestAccess:
		// Cache-irrelevant; set at creation, never rendered.

	default:
		a.metrics.EventDropped(adapterName)
	}
}

func (a *Adapter) applyMemberEvent(room *roomState, ev Event, live bool) {
	if ev.StateKey == nil {
		return
	}
	memberID := *ev.StateKey

	var content MemberContent
	if json.Unmarshal(ev.Content, &content) != nil {
		return
	}

	a.mu.Lock()
	selfID := a.userID
	a.mu.Unlock()

	switch content.Membership {
	case membershipJoin:
		user := chat.User{ID: memberID, DisplayName: content.DisplayName, AvatarURL: content.AvatarURL}
		a.mu.Lock()
		_, known := room.members[memberID]
		room.members[memberID] = user
		a.mu.Unlock()
		if live && !known && memberID != selfID {
			a.publish(chat.Event{Kind: chat.EventMemberJoined, ChannelID: room.id, User: &user})
		}
	case membershipLeave, "ban":
		a.mu.Lock()
		_, known := room.members[memberID]
		delete(room.members, memberID)
		a.mu.Unlock()
		if live && known && memberID != selfID {
			a.publish(chat.Event{Kind: chat.EventMemberLeft, ChannelID: room.id, UserID: memberID})
		}
	case membershipInvite:
		// Invited members are not listed until they join.
	}
}

func (a *Adapter) applyPowerLevels(room *roomState, ev Event, live bool) {
	var content PowerLevelsContent
	if json.Unmarshal(ev.Content, &content) != nil {
		return
	}

	a.mu.Lock()
	var changes []chat.Event
	for userID, level := range content.Users {
		if room.powers[userID] != level {
			changes = append(changes, chat.Event{
				Kind:       chat.EventPowerLevelChanged,
				ChannelID:  room.id,
				UserID:     userID,
				PowerLevel: level,
			})
		}
	}
	room.powers = content.Users
	if room.powers == nil {
		room.powers = make(map[string]int)
	}
	a.mu.Unlock()

	if live {
		for _, change := range changes {
			a.publish(change)
		}
	}
}

// applyTimelineEvent folds one timeline event into the cache and, when
// live, publishes its normalized form.
func (a *Adapter) applyTimelineEvent(room *roomState, ev Event, live bool) {
	switch ev.Type {
	case eventTypeMessage:
		var content MessageContent
		if json.Unmarshal(ev.Content, &content) != nil {
			a.metrics.EventDropped(adapterName)
			return
		}

		if content.RelatesTo != nil && content.RelatesTo.RelType == relTypeReplace {
			if content.NewContent == nil {
				a.metrics.EventDropped(adapterName)
				return
			}
			editedAt := time.UnixMilli(ev.OriginServerTS)
			msg := chat.Message{
				ID:        content.RelatesTo.EventID,
				ChannelID: room.id,
				SenderID:  ev.Sender,
				Body:      content.NewContent.Body,
				EditedAt:  &editedAt,
			}
			a.mu.Lock()
			if room.lastEvent != nil && room.lastEvent.ID == msg.ID {
				room.lastEvent.Body = msg.Body
				room.lastEvent.EditedAt = msg.EditedAt
			}
			a.mu.Unlock()
			if live {
				a.publish(chat.Event{Kind: chat.EventMessageUpdated, ChannelID: room.id, MessageID: msg.ID, Message: &msg})
			}
			return
		}

		msg := eventToMessage(room.id, ev, content)
		a.mu.Lock()
		last := msg
		room.lastEvent = &last
		room.bumpStamp = ev.OriginServerTS
		a.mu.Unlock()
		if live {
			a.publish(chat.Event{Kind: chat.EventMessageReceived, ChannelID: room.id, MessageID: msg.ID, Message: &msg})
		}

	case eventTypeRedaction:
		a.mu.Lock()
		if room.lastEvent != nil && room.lastEvent.ID == ev.Redacts {
			room.lastEvent.Body = ""
			room.lastEvent.Deleted = true
		}
		a.mu.Unlock()
		if live {
			a.publish(chat.Event{Kind: chat.EventMessageDeleted, ChannelID: room.id, MessageID: ev.Redacts})
		}

	case eventTypeReaction:
		var content struct {
			RelatesTo RelatesTo `json:"m.relates_to"`
		}
		if json.Unmarshal(ev.Content, &content) != nil {
			a.metrics.EventDropped(adapterName)
			return
		}
		rel := content.RelatesTo
		if rel.RelType != relTypeAnnotation || rel.EventID == "" {
			a.metrics.EventDropped(adapterName)
			return
		}
		if live {
			a.publish(chat.Event{
				Kind:      chat.EventReactionChanged,
				ChannelID: room.id,
				MessageID: rel.EventID,
				Reaction: &chat.Reaction{
					MessageID: rel.EventID,
					Key:       rel.Key,
					SenderID:  ev.Sender,
					Count:     1,
				},
			})
		}

	case eventTypeBump:
		a.mu.Lock()
		room.bumpStamp = ev.OriginServerTS
		ch := a.toChannelLocked(room)
		a.mu.Unlock()
		if live {
			a.publish(chat.Event{Kind: chat.EventConversationUpdated, ChannelID: room.id, Channel: &ch})
		}

	case eventTypePost:
		// Posts reuse the message shape under a custom type so they never
		// trip generic message rendering in older clients.
		var content MessageContent
		if json.Unmarshal(ev.Content, &content) != nil {
			a.metrics.EventDropped(adapterName)
			return
		}
		msg := eventToMessage(room.id, ev, content)
		a.mu.Lock()
		last := msg
		room.lastEvent = &last
		room.bumpStamp = ev.OriginServerTS
		a.mu.Unlock()
		if live {
			a.publish(chat.Event{Kind: chat.EventMessageReceived, ChannelID: room.id, MessageID: msg.ID, Message: &msg})
		}

	default:
		a.metrics.EventDropped(adapterName)
	}
}

// applyEphemeralEvent handles typing and receipt notifications.
func (a *Adapter) applyEphemeralEvent(room *roomState, ev Event) {
	switch ev.Type {
	case eventTypeTyping:
		var content struct {
			UserIDs []string `json:"user_ids"`
		}
		if json.Unmarshal(ev.Content, &content) != nil {
			a.metrics.EventDropped(adapterName)
			return
		}
		a.publish(chat.Event{Kind: chat.EventTypingChanged, ChannelID: room.id, UserIDs: content.UserIDs})

	case eventTypeReceipt:
		var content map[string]map[string]map[string]struct {
			TS int64 `json:"ts"`
		}
		if json.Unmarshal(ev.Content, &content) != nil {
			a.metrics.EventDropped(adapterName)
			return
		}
		for eventID, byType := range content {
			// Only public receipts fan out; private receipts never leave
			// their owner's session in the first place.
			for userID := range byType[receiptTypeRead] {
				a.publish(chat.Event{
					Kind:      chat.EventReadReceipt,
					ChannelID: room.id,
					MessageID: eventID,
					UserID:    userID,
				})
			}
		}

	default:
		a.metrics.EventDropped(adapterName)
	}
}

// autoJoin accepts an invite exactly once per room and announces it. The
// join happens off the sync goroutine so a slow server cannot stall the
// loop.
func (a *Adapter) autoJoin(ctx context.Context, roomID string) {
	a.mu.Lock()
	if a.autoJoined[roomID] {
		a.mu.Unlock()
		return
	}
	a.autoJoined[roomID] = true
	token := a.accessToken
	a.mu.Unlock()

	go func() {
		if err := a.api.JoinRoom(ctx, token, roomID); err != nil {
			if a.log != nil {
				a.log.Warn().Err(err).Str("room_id", roomID).Msg("auto-join invite failed")
			}
			a.mu.Lock()
			delete(a.autoJoined, roomID)
			a.mu.Unlock()
			return
		}
		a.publish(chat.Event{Kind: chat.EventInvitationReceived, ChannelID: roomID})
	}()
}
