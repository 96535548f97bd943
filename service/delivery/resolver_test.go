package delivery

import (
	"context"
	"errors"
	"testing"

	"PRealtime/mocks"
	"PRealtime/module/chat/model"
	"PRealtime/module/chat/store"
	"PRealtime/service/chat"
	"PRealtime/service/presence"
	"PRealtime/service/push"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap/zaptest"
)

type fixture struct {
	hub    *chat.Hub
	reg    *presence.Registry
	st     *store.MemoryStore
	sender *mocks.MockSender
	r      *Resolver
}

func newFixture(t *testing.T) *fixture {
	log := zaptest.NewLogger(t)
	hub := chat.NewHub(chat.HubConf{SendQueue: 8}, "node-test", log)
	reg := presence.New(hub, log)
	st := store.NewMemoryStore()
	st.PutChat(model.Chat{ID: "C", Participants: []string{"A", "B", "D"}})
	st.PutAccount(model.Account{ID: "A", Username: "alice"})
	st.PutAccount(model.Account{ID: "B", Username: "bob", FCMToken: "tok"})

	sender := mocks.NewMockSender(gomock.NewController(t))
	return &fixture{hub: hub, reg: reg, st: st, sender: sender, r: NewResolver(st, reg, hub, sender, log)}
}

func TestResolve_RegistryHit(t *testing.T) {
	req := require.New(t)

	// Given
	f := newFixture(t)
	b := f.hub.Open(nil)
	_, err := f.reg.Register("B", b.ID())
	req.NoError(err)

	// When
	res, err := f.r.Resolve(context.Background(), "C", "A")

	// Then
	req.NoError(err)
	req.Equal("C", res.Chat.ID)
	req.Len(res.Targets, 2)
	req.Equal([]Target{{RecipientID: "B", ConnectionID: b.ID(), Reachable: true}}, res.Online())
	req.Equal([]Target{{RecipientID: "D"}}, res.Offline())
}

func TestResolve_ScanRepairsRegistry(t *testing.T) {
	req := require.New(t)

	// Given: 连接上绑定了 B，但 registry 里没有
	f := newFixture(t)
	b := f.hub.Open(nil)
	req.NoError(f.hub.Bind(b.ID(), "B"))
	req.False(f.reg.IsOnline("B"))

	// When
	res, err := f.r.Resolve(context.Background(), "C", "A")

	// Then
	req.NoError(err)
	online := res.Online()
	req.Len(online, 1)
	req.True(online[0].Repaired)
	req.Equal(b.ID(), online[0].ConnectionID)
	conn, ok := f.reg.ConnectionOf("B")
	req.True(ok)
	req.Equal(b.ID(), conn)
}

func TestResolve_StaleEntryHealed(t *testing.T) {
	req := require.New(t)

	f := newFixture(t)
	b := f.hub.Open(nil)
	_, err := f.reg.Register("B", b.ID())
	req.NoError(err)
	f.hub.Terminate(b.ID(), "gone")

	res, err := f.r.Resolve(context.Background(), "C", "A")
	req.NoError(err)
	req.Empty(res.Online())
	req.False(f.reg.IsOnline("B"))
}

func TestResolve_ChatNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.r.Resolve(context.Background(), "nope", "A")
	require.Error(t, err)
}

func TestNotify(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	n := Notice{Title: "New message from alice", Body: "hi", Data: map[string]string{"chatId": "C", "senderId": "A"}}

	// token 存在：推送
	f.sender.EXPECT().Send(gomock.Any(), push.Notification{
		UserID: "B", Token: "tok", Title: n.Title, Body: n.Body, Data: n.Data,
	}).Return(nil)
	req.True(f.r.Notify(context.Background(), "B", n))

	// 没有 token / 账号不存在：不调用 sender
	req.False(f.r.Notify(context.Background(), "A", n))
	req.False(f.r.Notify(context.Background(), "ghost", n))

	// 推送失败被吞掉
	f.sender.EXPECT().Send(gomock.Any(), gomock.Any()).Return(errors.New("fcm down"))
	req.False(f.r.Notify(context.Background(), "B", n))
}

func TestNotifyOffline_SkipsReachable(t *testing.T) {
	f := newFixture(t)
	f.sender.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil).Times(1)

	sent := f.r.NotifyOffline(context.Background(), []Target{
		{RecipientID: "B"},
		{RecipientID: "D"},
		{RecipientID: "A", ConnectionID: "c9", Reachable: true},
	}, Notice{Title: "t"})
	require.Equal(t, 1, sent)
}
