package storage

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"PRealtime/tools/errs"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// presence key: im:presence:<user>
// Value: <node>|<connId>，TTL 控制在线有效期，由心跳续期
func presenceKey(user string) string { return "im:presence:" + user }

// ===== Lua 脚本 =====

// 只删除仍指向本连接的 key（防止误删同一用户在别的节点/新连接上的在线态）
// KEYS[1] = presence key
// ARGV[1] = expected value
// 返回：1 删除；0 已被覆盖或不存在
const luaCompareAndDelete = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// 续期：值仍是本连接才续
// KEYS[1] = presence key
// ARGV[1] = expected value
// ARGV[2] = ttl ms
const luaCompareAndExpire = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`

var (
	scriptCAD    = redis.NewScript(luaCompareAndDelete)
	scriptExpire = redis.NewScript(luaCompareAndExpire)
)

// Location 用户在集群中的落点
type Location struct {
	NodeID string `json:"node"`
	ConnID string `json:"connectionId"`
}

// mirrorQueue 观察者回调排队上限
const mirrorQueue = 1024

type mirrorOp struct {
	online bool
	userID string
	connID string
}

// PresenceMirror 把本节点 Registry 的变化镜像到 Redis，供其他节点/服务查询。
// 实现 presence.Observer：回调只入队，由 Run 里的单个 worker 按 Registry 的顺序写 Redis。
type PresenceMirror struct {
	rdb     redis.UniversalClient
	nodeID  string
	ttl     time.Duration
	timeout time.Duration
	log     *zap.Logger

	ops     chan mirrorOp
	stopped chan struct{}
	stop    sync.Once
}

func NewPresenceMirror(rdb redis.UniversalClient, nodeID string, ttl time.Duration, log *zap.Logger) *PresenceMirror {
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &PresenceMirror{
		rdb:     rdb,
		nodeID:  nodeID,
		ttl:     ttl,
		timeout: 3 * time.Second,
		log:     log.Named("presence-mirror"),
		ops:     make(chan mirrorOp, mirrorQueue),
		stopped: make(chan struct{}),
	}
}

func (m *PresenceMirror) value(connID string) string { return m.nodeID + "|" + connID }

// ---- presence.Observer ----

func (m *PresenceMirror) Online(userID, connID string) {
	m.enqueue(mirrorOp{online: true, userID: userID, connID: connID})
}

func (m *PresenceMirror) Offline(userID, connID string) {
	m.enqueue(mirrorOp{userID: userID, connID: connID})
}

// enqueue 队列满时阻塞；Run 退出后丢弃（key 靠 TTL 过期）
func (m *PresenceMirror) enqueue(op mirrorOp) {
	select {
	case <-m.stopped:
		m.log.Debug("mirror stopped, change dropped", zap.String("userId", op.userID), zap.Bool("online", op.online))
		return
	default:
	}
	select {
	case m.ops <- op:
	case <-m.stopped:
		m.log.Debug("mirror stopped, change dropped", zap.String("userId", op.userID), zap.Bool("online", op.online))
	}
}

func (m *PresenceMirror) apply(op mirrorOp) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	if op.online {
		if err := m.SetOnline(ctx, op.userID, op.connID); err != nil {
			m.log.Warn("mirror online failed", zap.String("userId", op.userID), zap.Error(err))
		}
		return
	}
	if _, err := m.SetOffline(ctx, op.userID, op.connID); err != nil {
		m.log.Warn("mirror offline failed", zap.String("userId", op.userID), zap.Error(err))
	}
}

// ---- 同步 API ----

func (m *PresenceMirror) SetOnline(ctx context.Context, userID, connID string) error {
	if err := m.rdb.Set(ctx, presenceKey(userID), m.value(connID), m.ttl).Err(); err != nil {
		return errs.WrapMsg(err, "presence set", "userId", userID)
	}
	return nil
}

// SetOffline 只删除仍指向 connID 的记录
func (m *PresenceMirror) SetOffline(ctx context.Context, userID, connID string) (bool, error) {
	n, err := scriptCAD.Run(ctx, m.rdb, []string{presenceKey(userID)}, m.value(connID)).Int()
	if err != nil {
		return false, errs.WrapMsg(err, "presence compare-and-delete", "userId", userID)
	}
	return n == 1, nil
}

// Refresh 给本节点所有在线用户续期；被别处覆盖的 key 不动
func (m *PresenceMirror) Refresh(ctx context.Context, snapshot map[string]string) error {
	if len(snapshot) == 0 {
		return nil
	}
	pipe := m.rdb.Pipeline()
	ttlMS := m.ttl.Milliseconds()
	for userID, connID := range snapshot {
		scriptExpire.Eval(ctx, pipe, []string{presenceKey(userID)}, m.value(connID), ttlMS)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return errs.WrapMsg(err, "presence refresh")
	}
	return nil
}

// Run 顺序写入观察者变化并周期续期，直到 ctx 结束。
// 退出前把已入队的变化写完。
func (m *PresenceMirror) Run(ctx context.Context, snapshot func() map[string]string) {
	defer m.stop.Do(func() { close(m.stopped) })
	t := time.NewTicker(m.ttl / 3)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			m.drain()
			return
		case op := <-m.ops:
			m.apply(op)
		case <-t.C:
			rctx, cancel := context.WithTimeout(ctx, m.timeout)
			if err := m.Refresh(rctx, snapshot()); err != nil {
				m.log.Warn("presence refresh failed", zap.Error(err))
			}
			cancel()
		}
	}
}

func (m *PresenceMirror) drain() {
	for {
		select {
		case op := <-m.ops:
			m.apply(op)
		default:
			return
		}
	}
}

// Lookup 查询用户在集群中的落点
func (m *PresenceMirror) Lookup(ctx context.Context, userID string) (Location, bool, error) {
	val, err := m.rdb.Get(ctx, presenceKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return Location{}, false, nil
	}
	if err != nil {
		return Location{}, false, errs.WrapMsg(err, "presence lookup", "userId", userID)
	}
	node, conn, _ := strings.Cut(val, "|")
	return Location{NodeID: node, ConnID: conn}, true, nil
}
