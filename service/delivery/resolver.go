package delivery

import (
	"context"
	"time"

	"PRealtime/module/chat/model"
	"PRealtime/module/chat/store"
	"PRealtime/service/chat"
	"PRealtime/service/metrics"
	"PRealtime/service/push"
	"PRealtime/tools/errs"
	"PRealtime/tools/safe"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Presence 是 presence.Registry 用到的部分
type Presence interface {
	ConnectionOf(userID string) (string, bool)
	Repair(userID, connID string) bool
}

// Sessions 枚举本节点打开的连接（*chat.Hub）
type Sessions interface {
	OpenSessions() []chat.SessionInfo
}

// Target 单个接收者的投递结果
type Target struct {
	RecipientID  string
	ConnectionID string
	Reachable    bool
	Repaired     bool // 通过扫描连接找回，并已回写 registry
}

type Resolution struct {
	Chat    *model.Chat
	Targets []Target
}

func (r Resolution) Online() []Target {
	return lo.Filter(r.Targets, func(t Target, _ int) bool { return t.Reachable })
}

func (r Resolution) Offline() []Target {
	return lo.Filter(r.Targets, func(t Target, _ int) bool { return !t.Reachable })
}

// Notice 推送内容；Data 里至少有 chatId、senderId
type Notice struct {
	Title string
	Body  string
	Data  map[string]string
}

type Resolver struct {
	store    store.Store
	presence Presence
	sessions Sessions
	sender   push.Sender
	metrics  *metrics.Recorder
	timeout  time.Duration
	log      *zap.Logger
}

type Option func(*Resolver)

func WithMetrics(m *metrics.Recorder) Option { return func(r *Resolver) { r.metrics = m } }

// WithTimeout 单次推送/查账号的超时
func WithTimeout(d time.Duration) Option { return func(r *Resolver) { r.timeout = d } }

func NewResolver(st store.Store, p Presence, s Sessions, sender push.Sender, log *zap.Logger, opts ...Option) *Resolver {
	safe.MustNotNil(st, "delivery store")
	safe.MustNotNil(p, "delivery presence")
	safe.MustNotNil(s, "delivery sessions")
	safe.MustNotNil(sender, "push sender")
	if log == nil {
		log = zap.NewNop()
	}
	r := &Resolver{store: st, presence: p, sessions: s, sender: sender, timeout: 5 * time.Second, log: log.Named("delivery")}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve 参与者去掉发送者，逐个解析到存活连接
func (r *Resolver) Resolve(ctx context.Context, chatID, senderID string) (Resolution, error) {
	c, err := r.store.GetChat(ctx, chatID)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{Chat: c, Targets: r.ResolveRecipients(c.Recipients(senderID))}, nil
}

// ResolveRecipients registry 优先；查不到的再扫一遍打开的连接
func (r *Resolver) ResolveRecipients(recipients []string) []Target {
	out := make([]Target, 0, len(recipients))
	var missing []int
	for _, uid := range lo.Uniq(recipients) {
		if uid == "" {
			continue
		}
		t := Target{RecipientID: uid}
		if conn, ok := r.presence.ConnectionOf(uid); ok {
			t.ConnectionID, t.Reachable = conn, true
		} else {
			missing = append(missing, len(out))
		}
		out = append(out, t)
	}
	if len(missing) == 0 {
		return out
	}

	bound := make(map[string]string)
	for _, info := range r.sessions.OpenSessions() {
		if info.UserID != "" {
			bound[info.UserID] = info.ID
		}
	}
	for _, i := range missing {
		t := &out[i]
		conn, ok := bound[t.RecipientID]
		if !ok {
			continue
		}
		t.ConnectionID, t.Reachable = conn, true
		if r.presence.Repair(t.RecipientID, conn) {
			t.Repaired = true
			r.metrics.Repair()
		} else if cur, ok := r.presence.ConnectionOf(t.RecipientID); ok {
			// 扫描期间用户重新注册了
			t.ConnectionID = cur
		}
		r.log.Warn("recipient found by connection scan",
			zap.String("userId", t.RecipientID), zap.String("conn", t.ConnectionID), zap.Bool("repaired", t.Repaired))
	}
	return out
}

// Notify 给离线用户推送。账号不存在或没有 token 时跳过；失败只记日志。
func (r *Resolver) Notify(ctx context.Context, recipientID string, n Notice) bool {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	acc, err := r.store.GetAccount(ctx, recipientID)
	if err != nil {
		if errs.Code(err) == errs.NotFound {
			r.log.Debug("push skipped, account not found", zap.String("userId", recipientID))
		} else {
			r.log.Error("push skipped, account lookup failed", zap.String("userId", recipientID), zap.Error(err))
		}
		return false
	}
	if acc.FCMToken == "" {
		r.log.Debug("push skipped, no token", zap.String("userId", recipientID))
		return false
	}

	err = r.sender.Send(ctx, push.Notification{
		UserID: recipientID,
		Token:  acc.FCMToken,
		Title:  n.Title,
		Body:   n.Body,
		Data:   n.Data,
	})
	r.metrics.Push(err)
	if err != nil {
		r.log.Error("push failed", zap.String("userId", recipientID), zap.Error(err))
		return false
	}
	return true
}

// NotifyOffline 对 Offline() 中的每个接收者推送，返回成功数
func (r *Resolver) NotifyOffline(ctx context.Context, targets []Target, n Notice) int {
	sent := 0
	for _, t := range targets {
		if t.Reachable {
			continue
		}
		if r.Notify(ctx, t.RecipientID, n) {
			sent++
		}
	}
	return sent
}
