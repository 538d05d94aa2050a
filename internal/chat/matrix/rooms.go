package matrix

import (
	"context"
	"fmt"
	"time"

	"github.com/murmurchat/murmur/internal/chat"
)

// groupTypeChannel is the group-type value marking a room as a scoped
// channel rather than a direct conversation.
const groupTypeChannel = "channel"

// directContent is the m.direct account data shape: user id to the room ids
// of direct conversations with that user.
type directContent map[string][]string

// CreateConversation creates a room for the request. A direct conversation
// (single peer, no name) becomes an end-to-end encrypted room flagged as
// direct on both the invite and the account data side channel. Anything
// else becomes an unencrypted named room carrying the channel group-type
// state so it shows up in channel listings.
func (a *Adapter) CreateConversation(ctx context.Context, req chat.CreateConversationRequest) (*chat.Channel, error) {
	userID, token, err := a.session()
	if err != nil {
		return nil, err
	}

	invite := make([]string, 0, len(req.Users))
	for _, u := range req.Users {
		invite = append(invite, u.ID)
	}

	isDirect := len(req.Users) == 1 && req.Name == ""

	// Encrypted direct rooms derive their look from the peer's profile, so
	// an explicit avatar only applies to named rooms. It is uploaded ahead
	// of the create so it can ride in the initial room state.
	avatarURI := ""
	if req.Image != nil && !isDirect {
		ref, err := a.uploadFile(ctx, token, req.Image)
		if err != nil {
			if a.log != nil {
				a.log.Warn().Err(err).Msg("room avatar upload failed")
			}
		} else {
			avatarURI = ref.URI
		}
	}

	create := CreateRoomRequest{
		Name:       req.Name,
		Visibility: visibilityPrivate,
		Invite:     invite,
		PowerLevelContentOverride: map[string]any{
			"users_default": PowerLevelViewer,
			"invite":        PowerLevelModerator,
			"kick":          PowerLevelModerator,
			"redact":        PowerLevelOwner,
			"ban":           PowerLevelOwner,
			"users":         map[string]int{userID: PowerLevelOwner},
		},
	}

	if isDirect {
		create.Preset = presetTrustedPrivateChat
		create.IsDirect = true
		create.InitialState = []StateEvent{
			{Type: eventTypeEncryption, Content: map[string]string{"algorithm": megolmAlgorithm}},
			{Type: eventTypeGuestAccess, Content: map[string]string{"guest_access": guestAccessForbidden}},
		}
	} else {
		create.Preset = presetPrivateChat
		create.InitialState = []StateEvent{
			{Type: eventTypeGuestAccess, Content: map[string]string{"guest_access": guestAccessForbidden}},
			{Type: eventTypeGroupType, Content: map[string]string{"group_type": groupTypeChannel}},
		}
		if avatarURI != "" {
			create.InitialState = append(create.InitialState,
				StateEvent{Type: eventTypeAvatar, Content: map[string]string{"url": avatarURI}})
		}
	}

	roomID, err := a.api.CreateRoom(ctx, token, create)
	if err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}

	if isDirect {
		if err := a.flagDirect(ctx, userID, token, req.Users[0].ID, roomID); err != nil && a.log != nil {
			// The room works without the flag; the conversation list is
			// corrected on the next account data write.
			a.log.Warn().Err(err).Str("room_id", roomID).Msg("flag direct conversation failed")
		}
	}

	a.mu.Lock()
	room := a.ensureRoomLocked(roomID)
	room.name = req.Name
	room.createdAt = time.Now()
	room.encrypted = isDirect
	room.direct = isDirect
	room.avatarURL = avatarURI
	if !isDirect {
		room.groupType = groupTypeChannel
	}
	room.powers[userID] = PowerLevelOwner
	for _, u := range req.Users {
		room.members[u.ID] = u
	}
	room.members[userID] = chat.User{ID: userID}
	ch := a.toChannelLocked(room)
	a.mu.Unlock()

	ch.OptimisticID = req.OptimisticID
	return &ch, nil
}

// flagDirect merges the new room into the m.direct account data map.
func (a *Adapter) flagDirect(ctx context.Context, userID, token, peerID, roomID string) error {
	var direct directContent
	if err := a.api.AccountData(ctx, token, userID, eventTypeDirect, &direct); err != nil {
		if !IsAPIError(err, ErrCodeNotFound) {
			return err
		}
		direct = directContent{}
	}
	for _, existing := range direct[peerID] {
		if existing == roomID {
			return nil
		}
	}
	direct[peerID] = append(direct[peerID], roomID)
	return a.api.SetAccountData(ctx, token, userID, eventTypeDirect, direct)
}

// AddMembers invites each user. Partial failure is reported after all
// invites are attempted so one rejection does not block the rest.
func (a *Adapter) AddMembers(ctx context.Context, channelID string, users []chat.User) error {
	_, token, err := a.session()
	if err != nil {
		return err
	}
	var firstErr error
	for _, u := range users {
		if err := a.api.InviteUser(ctx, token, channelID, u.ID); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("invite %s: %w", u.ID, err)
		}
	}
	return firstErr
}

// RemoveMember kicks a user from a channel.
func (a *Adapter) RemoveMember(ctx context.Context, channelID, userID string) error {
	_, token, err := a.session()
	if err != nil {
		return err
	}
	return a.api.KickUser(ctx, token, channelID, userID)
}

// PromoteModerator raises a member to the moderator threshold by rewriting
// the power-levels state with the member added at level 50.
func (a *Adapter) PromoteModerator(ctx context.Context, channelID, userID string) error {
	_, token, err := a.session()
	if err != nil {
		return err
	}
	levels, err := a.api.PowerLevels(ctx, token, channelID)
	if err != nil {
		return fmt.Errorf("read power levels: %w", err)
	}
	if levels.Users == nil {
		levels.Users = make(map[string]int)
	}
	if levels.Users[userID] >= PowerLevelModerator {
		return nil
	}
	levels.Users[userID] = PowerLevelModerator
	if _, err := a.api.SendStateEvent(ctx, token, channelID, eventTypePowerLevels, "", levels); err != nil {
		return fmt.Errorf("write power levels: %w", err)
	}
	return nil
}

// LeaveChannel removes a user from a channel. The current user leaves;
// anyone else is kicked, which requires the moderator threshold.
func (a *Adapter) LeaveChannel(ctx context.Context, channelID, userID string) error {
	selfID, token, err := a.session()
	if err != nil {
		return err
	}
	if userID == "" || userID == selfID {
		if err := a.api.LeaveRoom(ctx, token, channelID); err != nil {
			return err
		}
		a.mu.Lock()
		delete(a.rooms, channelID)
		a.mu.Unlock()
		return nil
	}
	return a.api.KickUser(ctx, token, channelID, userID)
}

// MarkRead sends a read receipt for the channel's latest known event. The
// receipt type honors the stored privacy preference. A channel with no
// known messages is a no-op.
func (a *Adapter) MarkRead(ctx context.Context, channelID string) error {
	_, token, err := a.session()
	if err != nil {
		return err
	}
	a.mu.Lock()
	room := a.rooms[channelID]
	if room == nil {
		a.mu.Unlock()
		return chat.ErrChannelNotFound
	}
	if room.lastEvent == nil {
		a.mu.Unlock()
		return nil
	}
	lastEventID := room.lastEvent.ID
	receiptType := receiptTypeRead
	if a.receiptPrivate {
		receiptType = receiptTypeReadPrivate
	}
	a.mu.Unlock()

	if err := a.api.SendReceipt(ctx, token, channelID, receiptType, lastEventID); err != nil {
		return err
	}

	a.mu.Lock()
	room.unread = chat.UnreadCount{}
	a.mu.Unlock()
	a.publish(chat.Event{Kind: chat.EventUnreadCountChanged, ChannelID: channelID})
	return nil
}

// SetPrivateReadReceipts switches between public and private read receipts
// and persists the preference for future sessions. When the adapter was
// configured to always use private receipts the switch can only raise
// privacy, never lower it.
func (a *Adapter) SetPrivateReadReceipts(ctx context.Context, private bool) error {
	a.mu.Lock()
	a.receiptPrivate = private || a.alwaysPrivate
	userID := a.userID
	a.mu.Unlock()

	if a.store == nil || userID == "" {
		return nil
	}
	return a.store.SetPrivateReadReceipts(ctx, userID, private)
}
