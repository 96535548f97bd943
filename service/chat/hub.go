package chat

import (
	"sync"
	"time"

	"PRealtime/tools/errs"
	"PRealtime/tools/ids"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ===== 配置 =====

type HubConf struct {
	SendQueue       int              // 每连接发送队列长度
	WriteTimeout    time.Duration    // 单帧写超时
	PingInterval    time.Duration    // 服务端 ping 周期
	ReadTimeout     time.Duration    // 超过该时间无任何读（含 pong）即断开
	MaxMessageBytes int64            // 单帧上限
	Clock           func() time.Time // 可注入时钟（单测用）；nil => time.Now
}

func (c *HubConf) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.SendQueue <= 0 {
		c.SendQueue = 256
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.ReadTimeout <= c.PingInterval {
		c.ReadTimeout = 2 * c.PingInterval
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 1 << 20
	}
}

// CloseHook 每条连接关闭时恰好调用一次（在锁外）
type CloseHook func(info SessionInfo)

type OpenHook func(info SessionInfo)

// ===== Hub =====

// Hub 本节点所有连接与房间。锁顺序：presence.Registry -> Hub -> Session。
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session            // 主索引：connID -> session
	rooms    map[string]map[string]*Session // 房间索引：room -> (connID -> session)
	hooks    []CloseHook
	opened   []OpenHook

	conf   HubConf
	nodeID string
	log    *zap.Logger
}

func NewHub(conf HubConf, nodeID string, log *zap.Logger) *Hub {
	conf.norm()
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		sessions: make(map[string]*Session),
		rooms:    make(map[string]map[string]*Session),
		conf:     conf,
		nodeID:   nodeID,
		log:      log.Named("hub"),
	}
}

func (h *Hub) NodeID() string { return h.nodeID }

func (h *Hub) Conf() HubConf { return h.conf }

// OnClose 注册关闭回调；须在接收连接前调用
func (h *Hub) OnClose(fn CloseHook) {
	h.mu.Lock()
	h.hooks = append(h.hooks, fn)
	h.mu.Unlock()
}

func (h *Hub) OnOpen(fn OpenHook) {
	h.mu.Lock()
	h.opened = append(h.opened, fn)
	h.mu.Unlock()
}

// Open 登记一条新连接（未授权）。w 为 nil 时只有发送队列，没有读写协程。
func (h *Hub) Open(w Wire) *Session {
	s := newSession(ids.ConnectionID(), w, h.conf.SendQueue, h.conf.Clock(), h.log)
	h.mu.Lock()
	h.sessions[s.id] = s
	hooks := append([]OpenHook(nil), h.opened...)
	h.mu.Unlock()

	h.log.Debug("session opened", zap.String("conn", s.id), zap.String("remote", s.remote))
	info := s.Info()
	for _, fn := range hooks {
		fn(info)
	}
	return s
}

func (h *Hub) Get(connID string) (*Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[connID]
	return s, ok
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// ===== presence.Transport =====

func (h *Hub) IsOpen(connID string) bool {
	s, ok := h.Get(connID)
	return ok && !s.IsClosed()
}

func (h *Hub) Bind(connID, userID string) error {
	s, ok := h.Get(connID)
	if !ok || !s.bind(userID) {
		return errs.ErrConnectionClosed.WrapMsg("bind", "conn", connID)
	}
	return nil
}

func (h *Hub) Unbind(connID string) {
	if s, ok := h.Get(connID); ok {
		s.unbind()
	}
}

// Terminate 关闭连接；关闭回调在这里同步执行
func (h *Hub) Terminate(connID, reason string) {
	if s, ok := h.Get(connID); ok {
		h.close(s, reason)
	}
}

// ===== 房间 =====

func (h *Hub) Join(connID, room string) bool {
	if room == "" {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[connID]
	if !ok || !s.join(room) {
		return false
	}
	mm := h.rooms[room]
	if mm == nil {
		mm = make(map[string]*Session)
		h.rooms[room] = mm
	}
	mm[connID] = s
	return true
}

func (h *Hub) Leave(connID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.sessions[connID]; ok {
		s.leave(room)
	}
	h.leaveLocked(connID, room)
}

// 需要在持锁状态下调用（*Locked）
func (h *Hub) leaveLocked(connID, room string) {
	if mm := h.rooms[room]; mm != nil {
		delete(mm, connID)
		if len(mm) == 0 {
			delete(h.rooms, room)
		}
	}
}

func (h *Hub) RoomMembers(room string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.rooms[room]))
	for id := range h.rooms[room] {
		out = append(out, id)
	}
	return out
}

// ===== 发送 =====

func (h *Hub) Unicast(connID string, f Frame) bool {
	s, ok := h.Get(connID)
	if !ok {
		return false
	}
	return s.Send(f)
}

// BroadcastRoom 发给房间内所有连接（except 可为空）；返回入队数
func (h *Hub) BroadcastRoom(room string, f Frame, except string) int {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.rooms[room]))
	for id, s := range h.rooms[room] {
		if id != except {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()
	return h.fanout(targets, f)
}

// Broadcast 发给本节点所有连接
func (h *Hub) Broadcast(f Frame, except string) int {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions))
	for id, s := range h.sessions {
		if id != except {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()
	return h.fanout(targets, f)
}

func (h *Hub) fanout(targets []*Session, f Frame) int {
	if len(targets) == 0 {
		return 0
	}
	b, err := f.Encode()
	if err != nil {
		h.log.Warn("drop broadcast, encode failed", zap.String("event", f.Event), zap.Error(err))
		return 0
	}
	n := 0
	for _, s := range targets {
		if s.enqueue(b) {
			n++
		}
	}
	return n
}

// ===== 枚举 =====

// OpenSessions 当前所有未关闭连接及其绑定用户
func (h *Hub) OpenSessions() []SessionInfo {
	h.mu.RLock()
	list := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		list = append(list, s)
	}
	h.mu.RUnlock()

	out := make([]SessionInfo, 0, len(list))
	for _, s := range list {
		if s.IsClosed() {
			continue
		}
		out = append(out, s.Info())
	}
	return out
}

// FindByUser 扫描所有打开的连接，找绑定到 userID 的一条
func (h *Hub) FindByUser(userID string) (SessionInfo, bool) {
	if userID == "" {
		return SessionInfo{}, false
	}
	for _, info := range h.OpenSessions() {
		if info.UserID == userID {
			return info, true
		}
	}
	return SessionInfo{}, false
}

// ===== 关闭 =====

func (h *Hub) close(s *Session, reason string) {
	if !s.markClosed(reason) {
		return
	}

	h.mu.Lock()
	delete(h.sessions, s.id)
	for _, room := range s.Rooms() {
		h.leaveLocked(s.id, room)
	}
	hooks := append([]CloseHook(nil), h.hooks...)
	h.mu.Unlock()

	// 锁外关闭 socket
	if s.wire != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		_ = s.wire.WriteControl(websocket.CloseMessage, msg, h.conf.Clock().Add(h.conf.WriteTimeout))
		closeQuiet(s.wire)
	}

	info := s.Info()
	h.log.Debug("session closed", zap.String("conn", s.id), zap.String("userId", info.UserID), zap.String("reason", reason))
	for _, fn := range hooks {
		fn(info)
	}
}

// Close 关闭所有连接（进程退出）
func (h *Hub) Close() {
	h.mu.RLock()
	list := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		list = append(list, s)
	}
	h.mu.RUnlock()
	for _, s := range list {
		h.close(s, "server shutdown")
	}
}

func closeQuiet(w Wire) {
	defer func() { _ = recover() }()
	_ = w.Close()
}
