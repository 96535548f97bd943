package handlers

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"PRealtime/mocks"
	"PRealtime/module/chat/model"
	"PRealtime/module/chat/store"
	"PRealtime/service/call"
	"PRealtime/service/chat"
	"PRealtime/service/delivery"
	"PRealtime/service/journal"
	"PRealtime/service/natsx"
	"PRealtime/service/presence"
	"PRealtime/service/push"
	"PRealtime/tools/errs"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap/zaptest"
)

var fixedNow = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

type published struct {
	kind    string
	payload any
}

type fakeBus struct {
	mu  sync.Mutex
	out []published
}

func (b *fakeBus) Publish(_ context.Context, kind string, payload any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.out = append(b.out, published{kind, payload})
	return nil
}

func (b *fakeBus) kinds() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.out))
	for _, p := range b.out {
		out = append(out, p.kind)
	}
	return out
}

type harness struct {
	hub     *chat.Hub
	reg     *presence.Registry
	st      *store.MemoryStore
	srv     *chat.Server
	sender  *mocks.MockSender
	journal *mocks.MockJournal
	bus     *fakeBus
}

func newHarness(t *testing.T) *harness {
	return newHarnessWith(t, func(m *store.MemoryStore) store.Store { return m })
}

// newHarnessWith wrap 可以替换 handler 看到的存储（注入故障）
func newHarnessWith(t *testing.T, wrap func(*store.MemoryStore) store.Store) *harness {
	log := zaptest.NewLogger(t)
	hub := chat.NewHub(chat.HubConf{SendQueue: 64}, "node-test", log)
	reg := presence.New(hub, log)

	st := store.NewMemoryStore()
	st.PutAccount(model.Account{ID: "A", Username: "alice"})
	st.PutAccount(model.Account{ID: "B", Username: "bob", FCMToken: "tok"})
	st.PutChat(model.Chat{ID: "C", Participants: []string{"A", "B"}})

	ctrl := gomock.NewController(t)
	sender := mocks.NewMockSender(ctrl)
	jr := mocks.NewMockJournal(ctrl)
	jr.EXPECT().Record(gomock.Any(), gomock.Any()).AnyTimes()

	seen := wrap(st)
	res := delivery.NewResolver(seen, reg, hub, sender, log)
	bus := &fakeBus{}
	disp := chat.NewDispatcher(log)
	Register(disp, &Deps{
		Hub:      hub,
		Presence: reg,
		Store:    seen,
		Delivery: res,
		Calls:    call.NewRouter(res, hub, log),
		Bus:      bus,
		Journal:  jr,
		Clock:    func() time.Time { return fixedNow },
		Log:      log,
	})
	return &harness{hub: hub, reg: reg, st: st, srv: chat.NewServer(hub, disp, log), sender: sender, journal: jr, bus: bus}
}

func (h *harness) emit(s *chat.Session, event string, data any) {
	b, _ := json.Marshal(map[string]any{"event": event, "data": data})
	h.srv.HandleFrame(context.Background(), s, b)
}

// login 打开连接并注册，清空注册产生的帧
func (h *harness) login(t *testing.T, userID string) *chat.Session {
	s := h.hub.Open(nil)
	h.emit(s, chat.EventRegister, userID)
	require.True(t, h.reg.IsOnline(userID))
	return s
}

type got struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

func drain(s *chat.Session) []got {
	var out []got
	for {
		select {
		case b := <-s.Outbound():
			var g got
			_ = json.Unmarshal(b, &g)
			out = append(out, g)
		default:
			return out
		}
	}
}

func byEvent(frames []got, event string) []got {
	var out []got
	for _, f := range frames {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

func TestRegister_AckAutoJoinAndOnlineBroadcast(t *testing.T) {
	req := require.New(t)

	// Given
	h := newHarness(t)
	watcher := h.hub.Open(nil)
	a := h.hub.Open(nil)

	// When
	h.emit(a, chat.EventRegisterUser, "A")

	// Then
	frames := drain(a)
	ack := byEvent(frames, chat.EventRegistrationVerified)
	req.Len(ack, 1)
	req.Equal("A", ack[0].Data["userId"])
	req.Equal(a.ID(), ack[0].Data["connectionId"])
	req.Equal([]any{"C"}, ack[0].Data["rooms"])
	req.True(a.InRoom("C"))
	req.Equal(chat.StateRegistered, a.State())

	status := byEvent(drain(watcher), chat.EventUserStatus)
	req.Len(status, 1)
	req.Equal(map[string]any{"userId": "A", "isOnline": true}, status[0].Data)

	// 同一对 (user, conn) 重复注册：只回 ack，不重复广播
	h.emit(a, chat.EventRegister, map[string]any{"userId": "A"})
	req.Len(byEvent(drain(a), chat.EventRegistrationVerified), 1)
	req.Empty(drain(watcher))
	req.Contains(h.bus.kinds(), "user.status")
}

func TestScenarioC_DuplicateLogin(t *testing.T) {
	req := require.New(t)

	// Given
	h := newHarness(t)
	watcher := h.hub.Open(nil)
	c1 := h.login(t, "u1")

	// When: 第二条物理连接以同一身份注册
	c2 := h.hub.Open(nil)
	h.emit(c2, chat.EventRegister, "u1")

	// Then
	conn, ok := h.reg.ConnectionOf("u1")
	req.True(ok)
	req.Equal(c2.ID(), conn)
	req.True(c1.IsClosed())
	req.Equal(presence.ReasonDuplicateLogin, c1.Info().Reason)
	req.Equal(1, h.reg.Len())

	status := byEvent(drain(watcher), chat.EventUserStatus)
	req.Len(status, 1, "online is broadcast once, stale close is silent")
	req.Equal(true, status[0].Data["isOnline"])
}

func TestScenarioA_OnlineRecipient(t *testing.T) {
	req := require.New(t)

	// Given: 没有任何推送期望，调用 sender 会直接失败
	h := newHarness(t)
	a := h.login(t, "A")
	b := h.login(t, "B")
	drain(a)
	drain(b)

	// When
	h.emit(a, chat.EventSendMessage, map[string]any{"chatID": "C", "senderID": "A", "text": "hi"})

	// Then
	frames := drain(b)
	recv := byEvent(frames, chat.EventReceiveMessage)
	req.Len(recv, 1)
	req.Equal("hi", recv[0].Data["text"])
	req.NotEmpty(recv[0].Data["_id"])
	upd := byEvent(frames, chat.EventChatListUpdate)
	req.Len(upd, 1)
	req.Equal("C", upd[0].Data["chatId"])

	// 发送者也在房间里
	req.Len(byEvent(drain(a), chat.EventReceiveMessage), 1)

	msgs, err := h.st.RecentMessages(context.Background(), "C", 10)
	req.NoError(err)
	req.Len(msgs, 1)
	req.Equal(recv[0].Data["_id"], msgs[0].ID)
	ch, err := h.st.GetChat(context.Background(), "C")
	req.NoError(err)
	req.Equal(msgs[0].ID, ch.LastMessageID)
	req.Contains(h.bus.kinds(), "message.sent")
}

func TestScenarioB_OfflineRecipientGetsPush(t *testing.T) {
	req := require.New(t)

	// Given
	h := newHarness(t)
	a := h.login(t, "A")
	drain(a)

	var n push.Notification
	h.sender.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, got push.Notification) error {
		n = got
		return nil
	}).Times(1)

	// When
	h.emit(a, chat.EventSendMessage, map[string]any{"chatID": "C", "senderID": "A", "text": "hi"})

	// Then
	req.Equal("tok", n.Token)
	req.Equal("B", n.UserID)
	req.Equal("New message from alice", n.Title)
	req.Equal("hi", n.Body)
	req.Equal("C", n.Data["chatId"])
	req.Equal("A", n.Data["senderId"])

	frames := drain(a)
	req.Len(byEvent(frames, chat.EventReceiveMessage), 1)
	req.Empty(byEvent(frames, chat.EventChatListUpdate))
}

func TestSendMessage_PersistedViaRESTOnlyTouchesChat(t *testing.T) {
	req := require.New(t)

	h := newHarness(t)
	a := h.login(t, "A")
	h.login(t, "B")

	h.emit(a, chat.EventSendMessage, map[string]any{
		"_id": "m-rest", "chatID": "C", "senderID": "A", "senderName": "Alice", "text": "yo",
	})

	_, err := h.st.GetMessage(context.Background(), "m-rest")
	req.Equal(errs.NotFound, errs.Code(err))
	ch, err := h.st.GetChat(context.Background(), "C")
	req.NoError(err)
	req.Equal("m-rest", ch.LastMessageID)
}

func TestSendMessage_UnknownChatFallsBackToReceiver(t *testing.T) {
	req := require.New(t)

	h := newHarness(t)
	a := h.login(t, "A")
	b := h.login(t, "B")
	drain(b)

	h.emit(a, chat.EventSendMessage, map[string]any{"chatID": "new-chat", "senderID": "A", "receiverID": "B", "text": "first"})

	upd := byEvent(drain(b), chat.EventChatListUpdate)
	req.Len(upd, 1)
	req.Equal("new-chat", upd[0].Data["chatId"])
}

func TestSendMessage_Malformed(t *testing.T) {
	req := require.New(t)

	h := newHarness(t)
	a := h.login(t, "A")
	b := h.login(t, "B")
	drain(a)
	drain(b)

	h.emit(a, chat.EventSendMessage, map[string]any{"chatID": "C", "text": "no sender"})

	errFrames := byEvent(drain(a), chat.EventError)
	req.Len(errFrames, 1)
	req.Equal(chat.EventSendMessage, errFrames[0].Data["event"])
	req.Equal(float64(errs.MalformedEvent), errFrames[0].Data["code"])
	req.Contains(errFrames[0].Data["message"], "senderID is required")
	req.Empty(drain(b))

	h.emit(a, "no-such-event", map[string]any{})
	req.Len(byEvent(drain(a), chat.EventError), 1)
}

func TestScenarioD_ReadReceiptReachesSender(t *testing.T) {
	req := require.New(t)

	// Given
	h := newHarness(t)
	req.NoError(h.st.CreateMessage(context.Background(), &model.Message{ID: "M", ChatID: "C", SenderID: "A", Text: "hi"}))
	a := h.login(t, "A")
	b := h.login(t, "B")
	drain(a)
	drain(b)

	// When
	h.emit(b, chat.EventMessageRead, map[string]any{"messageId": "M", "userId": "B", "chatId": "C"})

	// Then
	updates := byEvent(drain(a), chat.EventMessageStatusUpdate)
	req.Len(updates, 2, "room broadcast plus direct emission to the sender")
	req.Equal("read", updates[1].Data["status"])
	req.Equal("B", updates[1].Data["userId"])
	req.Equal("M", updates[1].Data["messageId"])
	req.Equal(float64(fixedNow.UnixMilli()), updates[1].Data["timestamp"])

	// 重复标记不产生输出
	h.emit(b, chat.EventMessageRead, map[string]any{"messageId": "M", "userId": "B", "chatId": "C"})
	req.Empty(drain(a))
	req.Empty(drain(b))

	m, err := h.st.GetMessage(context.Background(), "M")
	req.NoError(err)
	req.Equal([]string{"B"}, m.ReadBy)
}

func TestMarkers_DeliveredAndOwnMessageIgnored(t *testing.T) {
	req := require.New(t)

	h := newHarness(t)
	req.NoError(h.st.CreateMessage(context.Background(), &model.Message{ID: "M", ChatID: "C", SenderID: "A"}))
	a := h.login(t, "A")
	b := h.login(t, "B")
	drain(a)
	drain(b)

	// 发送者标记自己的消息：忽略
	h.emit(a, chat.EventMessageDelivered, map[string]any{"messageId": "M", "userId": "A"})
	req.Empty(drain(a))
	req.Empty(drain(b))

	h.emit(b, chat.EventMessageDelivered, map[string]any{"messageId": "M", "userId": "B"})
	updates := byEvent(drain(a), chat.EventMessageStatusUpdate)
	req.Len(updates, 1)
	req.Equal("delivered", updates[0].Data["status"])

	// 消息不存在（例如已被 REST 删除）：跳过，不回 event-error
	h.emit(b, chat.EventMessageDelivered, map[string]any{"messageId": "nope", "userId": "B"})
	h.emit(b, chat.EventMessageRead, map[string]any{"messageId": "nope", "userId": "B"})
	req.Empty(drain(b))
	req.Empty(drain(a))
}

func TestSyncMessageStatus(t *testing.T) {
	req := require.New(t)

	h := newHarness(t)
	ctx := context.Background()
	req.NoError(h.st.CreateMessage(ctx, &model.Message{ID: "M1", ChatID: "C", SenderID: "A", CreatedAt: fixedNow.Add(-2 * time.Minute)}))
	req.NoError(h.st.CreateMessage(ctx, &model.Message{ID: "M2", ChatID: "C", SenderID: "A", CreatedAt: fixedNow.Add(-time.Minute)}))
	_, err := h.st.MarkRead(ctx, "M1", "B")
	req.NoError(err)

	a := h.login(t, "A")
	drain(a)
	h.emit(a, chat.EventSyncMessageStatus, map[string]any{"chatId": "C"})

	updates := byEvent(drain(a), chat.EventMessageStatusUpdate)
	req.Len(updates, 2)
	status := map[any]any{}
	for _, u := range updates {
		status[u.Data["messageId"]] = u.Data["status"]
		req.NotContains(u.Data, "userId")
	}
	req.Equal(map[any]any{"M1": "read", "M2": "sent"}, status)
}

func TestScenarioE_CallToOfflineReceiver(t *testing.T) {
	req := require.New(t)

	h := newHarness(t)
	a := h.login(t, "A")
	drain(a)

	h.emit(a, chat.EventCallInitiate, map[string]any{"callerId": "A", "receiverId": "Z", "callType": "audio"})

	failed := byEvent(drain(a), chat.EventCallFailed)
	req.Len(failed, 1)
	req.Equal("Receiver is offline", failed[0].Data["reason"])
}

func TestCall_InitiateAndAnswer(t *testing.T) {
	req := require.New(t)

	h := newHarness(t)
	a := h.login(t, "A")
	b := h.login(t, "B")
	drain(a)
	drain(b)

	h.emit(a, chat.EventCallInitiate, map[string]any{"callId": "k1", "receiverId": "B", "callType": "video"})
	incoming := byEvent(drain(b), chat.EventIncomingCall)
	req.Len(incoming, 1)
	req.Equal("A", incoming[0].Data["callerId"])

	h.emit(b, chat.EventCallAnswer, map[string]any{"callId": "k1", "callerId": "A", "receiverId": "B"})
	req.Len(byEvent(drain(a), chat.EventCallAnswered), 1)

	h.emit(b, chat.EventCallEnd, map[string]any{"callId": "k1", "callerId": "A", "receiverId": "B"})
	req.Len(byEvent(drain(a), chat.EventCallEnded), 1)
	req.Len(byEvent(drain(b), chat.EventCallEnded), 1)
}

func TestTyping(t *testing.T) {
	req := require.New(t)

	h := newHarness(t)
	a := h.login(t, "A")
	b := h.login(t, "B")
	drain(a)
	drain(b)

	h.emit(a, chat.EventTypingStart, map[string]any{"chatId": "C", "userId": "A"})
	h.emit(a, chat.EventTypingStop, map[string]any{"chatId": "C", "userId": "A"})
	h.emit(a, chat.EventTyping, map[string]any{"chatID": "C", "sender": "A"})

	frames := drain(b)
	typing := byEvent(frames, chat.EventUserTyping)
	req.Len(typing, 2)
	req.Equal(true, typing[0].Data["isTyping"])
	req.Equal(false, typing[1].Data["isTyping"])
	// 老事件原样回给老客户端
	legacy := byEvent(frames, chat.EventTyping)
	req.Len(legacy, 1)
	req.Equal(map[string]any{"sender": "A"}, legacy[0].Data)
	req.Empty(drain(a))

	h.emit(a, chat.EventTypingStart, map[string]any{"chatId": "C"})
	req.Len(byEvent(drain(a), chat.EventError), 1)
}

func TestReaction_BroadcastUnicastAndPush(t *testing.T) {
	req := require.New(t)

	h := newHarness(t)
	a := h.login(t, "A")
	b := h.login(t, "B")
	drain(a)
	drain(b)

	payload := map[string]any{"chatId": "C", "messageId": "M", "userId": "A", "emoji": "👍"}
	h.emit(a, chat.EventReactionAdded, payload)

	got := byEvent(drain(b), chat.EventReactionAdded)
	req.Len(got, 2, "room broadcast plus direct emission")
	req.Equal("👍", got[0].Data["emoji"])
	req.Empty(drain(a))

	// B 离线：移除不推送，新增推送
	h.hub.Terminate(b.ID(), "bye")
	h.emit(a, chat.EventReactionRemoved, payload)
	h.sender.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, n push.Notification) error {
		req.Equal("tok", n.Token)
		req.Equal("reaction", n.Data["type"])
		return nil
	}).Times(1)
	h.emit(a, chat.EventReactionAdded, map[string]any{"chatId": "C", "messageId": "M", "userId": "A", "emoji": "❤️"})
}

func TestLogout_KeepsConnectionOpen(t *testing.T) {
	req := require.New(t)

	h := newHarness(t)
	watcher := h.hub.Open(nil)
	a := h.login(t, "A")
	drain(watcher)

	h.emit(a, chat.EventUserLogout, "A")

	req.False(h.reg.IsOnline("A"))
	req.False(a.IsClosed())
	req.Equal(chat.StateRegistered, a.State())
	req.Empty(a.UserID())

	status := byEvent(drain(watcher), chat.EventUserStatus)
	req.Len(status, 1)
	req.Equal(false, status[0].Data["isOnline"])
	req.NotEmpty(status[0].Data["lastOnline"])

	acc, err := h.st.GetAccount(context.Background(), "A")
	req.NoError(err)
	req.True(acc.LastOnline.Equal(fixedNow))

	// 重复登出：不再记 lastOnline，也不再广播
	later := fixedNow.Add(time.Hour)
	req.NoError(h.st.UpdateLastOnline(context.Background(), "A", later))
	h.emit(a, chat.EventUserLogout, "A")
	req.Empty(drain(watcher))
	acc, err = h.st.GetAccount(context.Background(), "A")
	req.NoError(err)
	req.True(acc.LastOnline.Equal(later))

	// 关闭已登出的连接不会再广播离线
	h.hub.Terminate(a.ID(), "bye")
	req.Empty(byEvent(drain(watcher), chat.EventUserStatus))
}

func TestDisconnect_OfflineOnce(t *testing.T) {
	req := require.New(t)

	h := newHarness(t)
	watcher := h.hub.Open(nil)
	a := h.login(t, "A")
	drain(watcher)

	h.hub.Terminate(a.ID(), "peer closed")
	h.hub.Terminate(a.ID(), "peer closed")

	req.False(h.reg.IsOnline("A"))
	status := byEvent(drain(watcher), chat.EventUserStatus)
	req.Len(status, 1)
	req.Equal("A", status[0].Data["userId"])
	req.Equal(false, status[0].Data["isOnline"])
}

func TestJournal_Lifecycle(t *testing.T) {
	req := require.New(t)

	// Given: 单独的 journal mock，按顺序断言
	h := newHarness(t)
	ctrl := gomock.NewController(t)
	jr := mocks.NewMockJournal(ctrl)
	var kinds []journal.Kind
	jr.EXPECT().Record(gomock.Any(), gomock.Any()).Do(func(_ context.Context, e journal.Entry) {
		kinds = append(kinds, e.Kind)
	}).AnyTimes()

	log := zaptest.NewLogger(t)
	hub := chat.NewHub(chat.HubConf{SendQueue: 16}, "node-test", log)
	reg := presence.New(hub, log)
	res := delivery.NewResolver(h.st, reg, hub, h.sender, log)
	disp := chat.NewDispatcher(log)
	Register(disp, &Deps{Hub: hub, Presence: reg, Store: h.st, Delivery: res, Calls: call.NewRouter(res, hub, log), Journal: jr})
	srv := chat.NewServer(hub, disp, log)

	// When
	s := hub.Open(nil)
	srv.HandleFrame(context.Background(), s, []byte(`{"event":"register","data":"A"}`))
	srv.HandleFrame(context.Background(), s, []byte(`{"event":"user-logout"}`))
	hub.Terminate(s.ID(), "bye")

	// Then
	req.Equal([]journal.Kind{journal.KindOpen, journal.KindRegister, journal.KindLogout, journal.KindClose}, kinds)
}

func TestRoomsAndPing(t *testing.T) {
	req := require.New(t)

	h := newHarness(t)
	s := h.hub.Open(nil)

	h.emit(s, chat.EventJoinRoom, "room-x")
	joined := byEvent(drain(s), chat.EventRoomJoined)
	req.Len(joined, 1)
	req.Equal("room-x", joined[0].Data["chatId"])
	req.Equal([]string{s.ID()}, h.hub.RoomMembers("room-x"))

	h.emit(s, chat.EventLeaveRoom, map[string]any{"chatId": "room-x"})
	req.Empty(h.hub.RoomMembers("room-x"))

	h.emit(s, chat.EventPing, nil)
	pong := byEvent(drain(s), chat.EventPong)
	req.Len(pong, 1)
	req.Equal(float64(fixedNow.UnixMilli()), pong[0].Data["timestamp"])

	h.emit(s, chat.EventJoinRoom, map[string]any{})
	req.Len(byEvent(drain(s), chat.EventError), 1)
}

func TestRegister_SwitchIdentityLeavesOldRooms(t *testing.T) {
	req := require.New(t)

	// Given A 登录后自动加入 C={A,B}
	h := newHarness(t)
	s := h.login(t, "A")
	b := h.login(t, "B")
	req.Equal([]string{"C"}, s.Rooms())
	drain(s)
	drain(b)

	// When 同一连接改注册为 X（不在任何会话里）
	h.emit(s, chat.EventRegister, "X")

	// Then 旧身份的房间全部退出，B 在 C 里发消息 X 收不到
	req.Empty(s.Rooms())
	req.Equal([]string{b.ID()}, h.hub.RoomMembers("C"))
	drain(s)

	h.emit(b, chat.EventSendMessage, map[string]any{"chatID": "C", "senderID": "B", "text": "hi"})
	frames := drain(s)
	req.Empty(byEvent(frames, chat.EventReceiveMessage))
	req.Empty(byEvent(frames, chat.EventChatListUpdate))
}

func TestLogout_LeavesRooms(t *testing.T) {
	req := require.New(t)

	h := newHarness(t)
	a := h.login(t, "A")
	b := h.login(t, "B")
	req.Equal([]string{"C"}, a.Rooms())

	h.emit(a, chat.EventUserLogout, "A")

	req.Empty(a.Rooms())
	req.Equal([]string{b.ID()}, h.hub.RoomMembers("C"))
}

// flakyStore 写操作一律返回外部错误，读操作走内存实现
type flakyStore struct {
	*store.MemoryStore
}

func (flakyStore) CreateMessage(context.Context, *model.Message) error {
	return errs.ErrExternal.WrapMsg("mongo down")
}

func (flakyStore) TouchChat(context.Context, string, string, time.Time) error {
	return errs.ErrExternal.WrapMsg("mongo down")
}

func (flakyStore) MarkDelivered(context.Context, string, string) (bool, error) {
	return false, errs.ErrExternal.WrapMsg("mongo down")
}

func (flakyStore) MarkRead(context.Context, string, string) (bool, error) {
	return false, errs.ErrExternal.WrapMsg("mongo down")
}

func (flakyStore) UpdateLastOnline(context.Context, string, time.Time) error {
	return errs.ErrExternal.WrapMsg("mongo down")
}

func newFlakyHarness(t *testing.T) *harness {
	return newHarnessWith(t, func(m *store.MemoryStore) store.Store { return flakyStore{MemoryStore: m} })
}

func TestStoreDown_SendMessageStillFansOut(t *testing.T) {
	req := require.New(t)

	// Given
	h := newFlakyHarness(t)
	a := h.login(t, "A")
	b := h.login(t, "B")
	drain(a)
	drain(b)

	// When
	h.emit(a, chat.EventSendMessage, map[string]any{"chatID": "C", "senderID": "A", "text": "hello"})

	// Then 广播照常送达，发送者收不到 event-error，连接保持打开
	got := byEvent(drain(b), chat.EventReceiveMessage)
	req.Len(got, 1)
	req.Equal("hello", got[0].Data["text"])
	fromA := drain(a)
	req.Len(byEvent(fromA, chat.EventReceiveMessage), 1)
	req.Empty(byEvent(fromA, chat.EventError))
	req.False(a.IsClosed())
	req.False(b.IsClosed())

	_, err := h.st.GetMessage(context.Background(), got[0].Data["_id"].(string))
	req.Equal(errs.NotFound, errs.Code(err))
}

func TestStoreDown_MarkerEmitsNothing(t *testing.T) {
	req := require.New(t)

	h := newFlakyHarness(t)
	req.NoError(h.st.CreateMessage(context.Background(), &model.Message{ID: "M", ChatID: "C", SenderID: "A"}))
	a := h.login(t, "A")
	b := h.login(t, "B")
	drain(a)
	drain(b)

	h.emit(b, chat.EventMessageRead, map[string]any{"messageId": "M", "userId": "B", "chatId": "C"})
	h.emit(b, chat.EventMessageDelivered, map[string]any{"messageId": "M", "userId": "B", "chatId": "C"})

	req.Empty(drain(a))
	req.Empty(drain(b))
	req.False(b.IsClosed())
	req.NotContains(h.bus.kinds(), natsx.KindMessageStatus)
}

func TestStoreDown_DisconnectStillBroadcastsOffline(t *testing.T) {
	req := require.New(t)

	h := newFlakyHarness(t)
	watcher := h.hub.Open(nil)
	a := h.login(t, "A")
	drain(watcher)

	h.hub.Terminate(a.ID(), "peer closed")

	req.False(h.reg.IsOnline("A"))
	status := byEvent(drain(watcher), chat.EventUserStatus)
	req.Len(status, 1)
	req.Equal(false, status[0].Data["isOnline"])

	acc, err := h.st.GetAccount(context.Background(), "A")
	req.NoError(err)
	req.Nil(acc.LastOnline)
}
