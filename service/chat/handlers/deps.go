package handlers

import (
	"context"
	"time"

	"PRealtime/module/chat/store"
	"PRealtime/service/call"
	"PRealtime/service/chat"
	"PRealtime/service/delivery"
	"PRealtime/service/journal"
	"PRealtime/service/metrics"
	"PRealtime/service/natsx"
	"PRealtime/service/presence"
	"PRealtime/tools/safe"

	"go.uber.org/zap"
)

// Deps 所有 handler 共享的协作者
type Deps struct {
	Hub      *chat.Hub
	Presence *presence.Registry
	Store    store.Store
	Delivery *delivery.Resolver
	Calls    *call.Router

	Bus     natsx.Publisher   // 可选
	Journal journal.Journal   // 可选
	Metrics *metrics.Recorder // 可选，nil 安全

	ExternalTimeout time.Duration
	SyncStatusLimit int
	Clock           func() time.Time
	Log             *zap.Logger
}

func (d *Deps) norm() {
	safe.MustNotNil(d.Hub, "handlers hub")
	safe.MustNotNil(d.Presence, "handlers presence")
	safe.MustNotNil(d.Store, "handlers store")
	safe.MustNotNil(d.Delivery, "handlers delivery")
	safe.MustNotNil(d.Calls, "handlers calls")
	if d.Bus == nil {
		d.Bus = natsx.NopPublisher{}
	}
	if d.Journal == nil {
		d.Journal = journal.Nop{}
	}
	if d.ExternalTimeout <= 0 {
		d.ExternalTimeout = 5 * time.Second
	}
	if d.SyncStatusLimit <= 0 {
		d.SyncStatusLimit = 50
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
}

// external 给一次外部调用加超时
func (d *Deps) external(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, d.ExternalTimeout)
}

func (d *Deps) publish(ctx context.Context, kind string, payload any) {
	if err := d.Bus.Publish(ctx, kind, payload); err != nil {
		d.Log.Warn("publish domain event failed", zap.String("kind", kind), zap.Error(err))
	}
}

func (d *Deps) record(ctx context.Context, connID, userID string, kind journal.Kind) {
	d.Journal.Record(ctx, journal.Entry{ConnID: connID, UserID: userID, Kind: kind, At: d.Clock()})
}

// userStatus 广播上下线并发到总线
func (d *Deps) userStatus(ctx context.Context, userID string, online bool, lastOnline *time.Time, except string) {
	f := chat.BuildUserStatus(userID, online, lastOnline)
	d.Hub.Broadcast(f, except)
	d.publish(ctx, natsx.KindUserStatus, f.Data)
}

// wentOffline 记录 lastOnline 并广播离线；持久化失败只记日志
func (d *Deps) wentOffline(ctx context.Context, userID, connID string) {
	now := d.Clock().UTC()
	ectx, cancel := d.external(ctx)
	if err := d.Store.UpdateLastOnline(ectx, userID, now); err != nil {
		d.Log.Error("persist lastOnline failed", zap.String("userId", userID), zap.String("conn", connID), zap.Error(err))
	}
	cancel()
	d.userStatus(ctx, userID, false, &now, connID)
}

// leaveRooms 连接换身份或登出时退出旧身份的全部房间
func (d *Deps) leaveRooms(s *chat.Session) {
	for _, room := range s.Rooms() {
		d.Hub.Leave(s.ID(), room)
	}
}
