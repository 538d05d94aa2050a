package matrix

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/murmurchat/murmur/internal/chat"
	"github.com/murmurchat/murmur/internal/log"
	"github.com/murmurchat/murmur/internal/store/sqlite"
)

// fakeHomeserver is a scriptable homeserver backed by gin. Request bodies
// and call counts are recorded for assertions.
type fakeHomeserver struct {
	srv *httptest.Server

	mu             sync.Mutex
	whoamiCalls    int
	syncCalls      int
	joinCalls      map[string]int
	uploadCalls    int
	createBodies   []CreateRoomRequest
	sendBodies     []json.RawMessage
	receiptPaths   []string
	accountData    map[string]json.RawMessage
	inviteRoomID   string
	timelineEvents []Event
}

func newFakeHomeserver(t *testing.T) *fakeHomeserver {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fakeHomeserver{
		joinCalls:   make(map[string]int),
		accountData: make(map[string]json.RawMessage),
	}

	r := gin.New()
	v3 := r.Group("/_matrix/client/v3")

	v3.GET("/account/whoami", func(c *gin.Context) {
		f.mu.Lock()
		f.whoamiCalls++
		f.mu.Unlock()
		c.JSON(http.StatusOK, gin.H{"user_id": "@alice:example.org"})
	})

	v3.GET("/sync", func(c *gin.Context) {
		f.mu.Lock()
		f.syncCalls++
		initial := c.Query("since") == ""
		invite := f.inviteRoomID
		timeline := append([]Event(nil), f.timelineEvents...)
		f.mu.Unlock()

		resp := gin.H{"next_batch": "s1", "rooms": gin.H{}}
		rooms := gin.H{}
		if initial && len(timeline) > 0 {
			rooms["join"] = gin.H{
				"!room:example.org": gin.H{
					"timeline": gin.H{"events": timeline},
					"state":    gin.H{"events": []Event{}},
				},
			}
		}
		if !initial {
			// Live polls deliver the standing invite, if any, and pace
			// themselves like a long poll.
			time.Sleep(20 * time.Millisecond)
			if invite != "" {
				rooms["invite"] = gin.H{invite: gin.H{"invite_state": gin.H{"events": []Event{}}}}
			}
		}
		resp["rooms"] = rooms
		c.JSON(http.StatusOK, resp)
	})

	v3.POST("/createRoom", func(c *gin.Context) {
		var body CreateRoomRequest
		if err := c.BindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"errcode": ErrCodeInvalidParam, "error": err.Error()})
			return
		}
		f.mu.Lock()
		f.createBodies = append(f.createBodies, body)
		f.mu.Unlock()
		c.JSON(http.StatusOK, gin.H{"room_id": "!new:example.org"})
	})

	v3.PUT("/rooms/:roomID/send/:eventType/:txnID", func(c *gin.Context) {
		raw, _ := c.GetRawData()
		f.mu.Lock()
		f.sendBodies = append(f.sendBodies, json.RawMessage(raw))
		f.mu.Unlock()
		c.JSON(http.StatusOK, gin.H{"event_id": "$sent"})
	})

	v3.POST("/rooms/:roomID/receipt/:receiptType/:eventID", func(c *gin.Context) {
		f.mu.Lock()
		f.receiptPaths = append(f.receiptPaths, c.Param("receiptType"))
		f.mu.Unlock()
		c.JSON(http.StatusOK, gin.H{})
	})

	v3.POST("/rooms/:roomID/join", func(c *gin.Context) {
		f.mu.Lock()
		f.joinCalls[c.Param("roomID")]++
		f.mu.Unlock()
		c.JSON(http.StatusOK, gin.H{"room_id": c.Param("roomID")})
	})

	v3.GET("/user/:userID/account_data/:type", func(c *gin.Context) {
		f.mu.Lock()
		data, ok := f.accountData[c.Param("type")]
		f.mu.Unlock()
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"errcode": ErrCodeNotFound, "error": "not found"})
			return
		}
		c.Data(http.StatusOK, "application/json", data)
	})

	v3.PUT("/user/:userID/account_data/:type", func(c *gin.Context) {
		raw, _ := c.GetRawData()
		f.mu.Lock()
		f.accountData[c.Param("type")] = json.RawMessage(raw)
		f.mu.Unlock()
		c.JSON(http.StatusOK, gin.H{})
	})

	r.POST("/_matrix/media/v3/upload", func(c *gin.Context) {
		f.mu.Lock()
		f.uploadCalls++
		n := f.uploadCalls
		f.mu.Unlock()
		c.JSON(http.StatusOK, gin.H{"content_uri": fmt.Sprintf("mxc://example.org/media%d", n)})
	})

	f.srv = httptest.NewServer(r)
	t.Cleanup(f.srv.Close)
	return f
}

// noopHandlers returns a complete handler set that discards everything.
func noopHandlers() chat.Handlers {
	return chat.Handlers{
		MessageReceived:    func(string, chat.Message) {},
		MessageUpdated:     func(string, chat.Message) {},
		MessageDeleted:     func(string, string) {},
		MemberJoined:       func(string, chat.User) {},
		MemberLeft:         func(string, string) {},
		RoomNameChanged:    func(string, string) {},
		RoomAvatarChanged:  func(string, string) {},
		TypingChanged:      func(string, []string) {},
		ReactionChanged:    func(string, chat.Reaction) {},
		ReadReceipt:        func(string, string, string) {},
		UnreadCountChanged: func(string, chat.UnreadCount) {},
		InvalidSession:     func() {},
	}
}

func newTestAdapter(t *testing.T, f *fakeHomeserver) *Adapter {
	t.Helper()

	api, err := NewClient(ClientConfig{HomeserverURL: f.srv.URL, Logger: log.Nop()})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	adapter, err := NewAdapter(AdapterConfig{Client: api, Store: st, Logger: log.Nop()})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	bus := chat.NewDispatcher(noopHandlers(), log.Nop())
	t.Cleanup(bus.Close)
	adapter.Init(bus)
	bus.Activate()
	return adapter
}

func connect(t *testing.T, a *Adapter) {
	t.Helper()
	if err := a.Connect(context.Background(), "@alice:example.org", "token"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { a.Disconnect(context.Background()) })
}

func TestConnectHandshakeOnce(t *testing.T) {
	f := newFakeHomeserver(t)
	a := newTestAdapter(t, f)
	connect(t, a)

	if got := a.State(); got != chat.Connected {
		t.Fatalf("expected Connected, got %v", got)
	}

	// A second connect while connected must not redo the handshake.
	if err := a.Connect(context.Background(), "@alice:example.org", "token"); err != nil {
		t.Fatalf("second connect: %v", err)
	}

	f.mu.Lock()
	whoami := f.whoamiCalls
	f.mu.Unlock()
	if whoami != 1 {
		t.Fatalf("expected exactly one credential validation, got %d", whoami)
	}
}

func TestChannelsEmptyWhenDisconnected(t *testing.T) {
	f := newFakeHomeserver(t)
	a := newTestAdapter(t, f)

	channels, err := a.Channels(context.Background(), "")
	if err != nil {
		t.Fatalf("channels while disconnected: %v", err)
	}
	if len(channels) != 0 {
		t.Fatalf("expected empty channel list, got %d", len(channels))
	}
}

func TestCreateConversationDirect(t *testing.T) {
	f := newFakeHomeserver(t)
	a := newTestAdapter(t, f)
	connect(t, a)

	ch, err := a.CreateConversation(context.Background(), chat.CreateConversationRequest{
		Users: []chat.User{{ID: "@bob:example.org"}},
	})
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	if ch.ID != "!new:example.org" || !ch.Encrypted {
		t.Fatalf("unexpected channel: %+v", ch)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.createBodies) != 1 {
		t.Fatalf("expected one createRoom call, got %d", len(f.createBodies))
	}
	body := f.createBodies[0]
	if body.Preset != presetTrustedPrivateChat {
		t.Fatalf("direct rooms must use the trusted preset, got %q", body.Preset)
	}
	if !body.IsDirect {
		t.Fatal("direct rooms must carry the direct flag")
	}
	var sawEncryption, sawGuestAccess bool
	for _, state := range body.InitialState {
		switch state.Type {
		case eventTypeEncryption:
			sawEncryption = true
			content, _ := state.Content.(map[string]any)
			if content["algorithm"] != megolmAlgorithm {
				t.Fatalf("unexpected encryption algorithm: %v", content["algorithm"])
			}
		case eventTypeGuestAccess:
			sawGuestAccess = true
		}
	}
	if !sawEncryption || !sawGuestAccess {
		t.Fatalf("missing initial state, encryption=%t guest_access=%t", sawEncryption, sawGuestAccess)
	}

	override := body.PowerLevelContentOverride
	if int(override["users_default"].(float64)) != PowerLevelViewer {
		t.Fatalf("unexpected users_default: %v", override["users_default"])
	}
	if int(override["invite"].(float64)) != PowerLevelModerator ||
		int(override["kick"].(float64)) != PowerLevelModerator {
		t.Fatal("invite and kick must require the moderator level")
	}
	if int(override["redact"].(float64)) != PowerLevelOwner ||
		int(override["ban"].(float64)) != PowerLevelOwner {
		t.Fatal("redact and ban must require the owner level")
	}

	// The room must be flagged in the direct-conversation side channel.
	direct, ok := f.accountData[eventTypeDirect]
	if !ok {
		t.Fatal("direct conversation was not flagged in account data")
	}
	var directMap directContent
	if err := json.Unmarshal(direct, &directMap); err != nil {
		t.Fatalf("decode direct map: %v", err)
	}
	if got := directMap["@bob:example.org"]; len(got) != 1 || got[0] != "!new:example.org" {
		t.Fatalf("unexpected direct map: %v", directMap)
	}
}

func TestCreateConversationNamedChannel(t *testing.T) {
	f := newFakeHomeserver(t)
	a := newTestAdapter(t, f)
	connect(t, a)

	ch, err := a.CreateConversation(context.Background(), chat.CreateConversationRequest{
		Users: []chat.User{{ID: "@bob:example.org"}, {ID: "@carol:example.org"}},
		Name:  "platform team",
	})
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	if ch.Encrypted {
		t.Fatal("named channels are not encrypted")
	}
	if !ch.IsChannel {
		t.Fatal("named rooms must be flagged as channels")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	body := f.createBodies[0]
	if body.Preset != presetPrivateChat {
		t.Fatalf("named rooms must use the private preset, got %q", body.Preset)
	}
	if body.IsDirect {
		t.Fatal("named rooms must not carry the direct flag")
	}
	sawGroupType := false
	for _, state := range body.InitialState {
		if state.Type == eventTypeGroupType {
			sawGroupType = true
		}
		if state.Type == eventTypeEncryption {
			t.Fatal("named rooms must not enable encryption")
		}
	}
	if !sawGroupType {
		t.Fatal("named rooms must carry the group-type state")
	}
}

func TestCreateConversationCoverImageInInitialState(t *testing.T) {
	f := newFakeHomeserver(t)
	a := newTestAdapter(t, f)
	connect(t, a)

	ch, err := a.CreateConversation(context.Background(), chat.CreateConversationRequest{
		Users: []chat.User{{ID: "@bob:example.org"}, {ID: "@carol:example.org"}},
		Name:  "platform team",
		Image: &chat.FileUpload{Name: "cover.png", ContentType: "image/png", Data: []byte("png")},
	})
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadCalls != 1 {
		t.Fatalf("expected one media upload, got %d", f.uploadCalls)
	}
	// The avatar rides in the create request itself, so the room comes up
	// with its cover image already in place.
	body := f.createBodies[0]
	avatarURL := ""
	for _, state := range body.InitialState {
		if state.Type == eventTypeAvatar {
			content, _ := state.Content.(map[string]any)
			avatarURL, _ = content["url"].(string)
		}
	}
	if avatarURL != "mxc://example.org/media1" {
		t.Fatalf("create request must carry the uploaded avatar, got %q", avatarURL)
	}
	if ch.AvatarURL != avatarURL {
		t.Fatalf("returned channel must carry the avatar, got %q", ch.AvatarURL)
	}
}

func TestSendMessagePayload(t *testing.T) {
	f := newFakeHomeserver(t)
	a := newTestAdapter(t, f)
	connect(t, a)

	result, err := a.SendMessage(context.Background(), chat.SendMessageRequest{
		ChannelID:    "!room:example.org",
		Body:         "Hello",
		OptimisticID: "opt-1",
	})
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	if result.ID != "$sent" || result.OptimisticID != "opt-1" {
		t.Fatalf("unexpected result: %+v", result)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	var content MessageContent
	if err := json.Unmarshal(f.sendBodies[0], &content); err != nil {
		t.Fatalf("decode send body: %v", err)
	}
	if content.Body != "Hello" || content.MsgType != msgTypeText {
		t.Fatalf("unexpected content: %+v", content)
	}
	if content.OptimisticID != "opt-1" {
		t.Fatal("the optimistic id must travel in the message content")
	}
}

func TestSendReplyCarriesFallbackAndRelation(t *testing.T) {
	f := newFakeHomeserver(t)
	a := newTestAdapter(t, f)
	connect(t, a)

	_, err := a.SendMessage(context.Background(), chat.SendMessageRequest{
		ChannelID: "!room:example.org",
		Body:      "sure thing",
		Parent: &chat.ParentMessage{
			MessageID: "$parent",
			SenderID:  "@bob:example.org",
			Body:      "can you review?",
		},
	})
	if err != nil {
		t.Fatalf("send reply: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	var content MessageContent
	if err := json.Unmarshal(f.sendBodies[0], &content); err != nil {
		t.Fatalf("decode send body: %v", err)
	}
	if !strings.HasPrefix(content.Body, "> <@bob:example.org> can you review?") {
		t.Fatalf("reply body must start with the quoted fallback, got %q", content.Body)
	}
	if !strings.HasSuffix(content.Body, "sure thing") {
		t.Fatalf("reply body must end with the new text, got %q", content.Body)
	}
	if content.RelatesTo == nil || content.RelatesTo.InReplyTo == nil ||
		content.RelatesTo.InReplyTo.EventID != "$parent" {
		t.Fatalf("reply must reference its parent, got %+v", content.RelatesTo)
	}
}

func TestEditMessagePayload(t *testing.T) {
	f := newFakeHomeserver(t)
	a := newTestAdapter(t, f)
	connect(t, a)

	if err := a.EditMessage(context.Background(), "!room:example.org", "$orig", "fixed text", nil); err != nil {
		t.Fatalf("edit message: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	var content MessageContent
	if err := json.Unmarshal(f.sendBodies[0], &content); err != nil {
		t.Fatalf("decode edit body: %v", err)
	}
	if content.Body != "* fixed text" {
		t.Fatalf("edit fallback must carry the asterisk prefix, got %q", content.Body)
	}
	if content.NewContent == nil || content.NewContent.Body != "fixed text" {
		t.Fatalf("edit must carry the new body, got %+v", content.NewContent)
	}
	if content.RelatesTo == nil || content.RelatesTo.RelType != relTypeReplace ||
		content.RelatesTo.EventID != "$orig" {
		t.Fatalf("edit must reference the original event, got %+v", content.RelatesTo)
	}
}

func TestMarkReadHonorsPrivacyPreference(t *testing.T) {
	f := newFakeHomeserver(t)
	f.timelineEvents = []Event{{
		EventID:        "$last",
		Type:           eventTypeMessage,
		Sender:         "@bob:example.org",
		OriginServerTS: 1700000000000,
		Content:        json.RawMessage(`{"msgtype":"m.text","body":"hi"}`),
	}}

	a := newTestAdapter(t, f)
	connect(t, a)

	if err := a.SetPrivateReadReceipts(context.Background(), true); err != nil {
		t.Fatalf("set preference: %v", err)
	}
	if err := a.MarkRead(context.Background(), "!room:example.org"); err != nil {
		t.Fatalf("mark read: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.receiptPaths) != 1 || f.receiptPaths[0] != receiptTypeReadPrivate {
		t.Fatalf("expected one private receipt, got %v", f.receiptPaths)
	}
}

func TestRoomCacheConcurrentReadDuringSync(t *testing.T) {
	f := newFakeHomeserver(t)
	a := newTestAdapter(t, f)

	a.mu.Lock()
	room := a.ensureRoomLocked("!room:example.org")
	room.groupType = groupTypeChannel
	a.mu.Unlock()

	const members = 200
	var wg sync.WaitGroup
	wg.Add(2)
	// One goroutine churns the membership map the way the sync loop does
	// while another converts the room into the domain model. Run under the
	// race detector this fails if the conversion reads outside the lock.
	go func() {
		defer wg.Done()
		for i := 0; i < members; i++ {
			memberID := fmt.Sprintf("@user%d:example.org", i)
			a.applyMemberEvent(room, Event{
				Type:     eventTypeMember,
				StateKey: &memberID,
				Content:  json.RawMessage(`{"membership":"join","displayname":"User"}`),
			}, false)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < members; i++ {
			a.listChannels(func(*roomState) bool { return true })
		}
	}()
	wg.Wait()

	channels := a.listChannels(func(*roomState) bool { return true })
	if len(channels) != 1 {
		t.Fatalf("expected one channel, got %d", len(channels))
	}
	if got := len(channels[0].OtherMembers); got != members {
		t.Fatalf("expected %d members, got %d", members, got)
	}
}

func TestAutoJoinInviteExactlyOnce(t *testing.T) {
	f := newFakeHomeserver(t)
	f.inviteRoomID = "!invited:example.org"

	a := newTestAdapter(t, f)
	connect(t, a)

	// The standing invite shows up in every live poll; the join must still
	// happen only once.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		joins := f.joinCalls["!invited:example.org"]
		polls := f.syncCalls
		f.mu.Unlock()
		if joins > 1 {
			t.Fatalf("invite joined %d times", joins)
		}
		if joins == 1 && polls > 3 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("invite was never joined")
}
