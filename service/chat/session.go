package chat

import (
	"net"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

type State int32

const (
	StateUnauthenticated State = iota
	StateRegistered
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateRegistered:
		return "registered"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Wire 是 *websocket.Conn 用到的那部分方法
type Wire interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	RemoteAddr() net.Addr
	Close() error
}

// Session 每条连接的临时状态。userID 只是缓存，真相在 presence.Registry。
type Session struct {
	id       string
	wire     Wire
	remote   string
	openedAt time.Time

	send   chan []byte   // 每连接独立发送队列，由写协程独占消费
	closed chan struct{} // 关闭后写协程退出；send 不关闭，避免 send on closed channel

	mu          sync.RWMutex
	userID      string
	state       State
	rooms       map[string]struct{}
	closeReason string
	heartbeat   time.Time

	log *zap.Logger
}

// SessionInfo 只读快照
type SessionInfo struct {
	ID       string    `json:"connectionId"`
	UserID   string    `json:"userId,omitempty"`
	State    string    `json:"state"`
	Rooms    []string  `json:"rooms"`
	Remote   string    `json:"remote,omitempty"`
	OpenedAt time.Time `json:"openedAt"`
	Reason   string    `json:"reason,omitempty"`
}

func newSession(id string, w Wire, queue int, now time.Time, log *zap.Logger) *Session {
	s := &Session{
		id:        id,
		wire:      w,
		openedAt:  now,
		heartbeat: now,
		send:      make(chan []byte, queue),
		closed:    make(chan struct{}),
		rooms:     make(map[string]struct{}),
		log:       log,
	}
	if w != nil {
		if ra := w.RemoteAddr(); ra != nil {
			s.remote = ra.String()
		}
	}
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) IsClosed() bool { return s.State() == StateClosed }

// Done is closed once the session is closed.
func (s *Session) Done() <-chan struct{} { return s.closed }

func (s *Session) Rooms() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roomsLocked()
}

func (s *Session) InRoom(room string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[room]
	return ok
}

func (s *Session) Info() SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SessionInfo{
		ID:       s.id,
		UserID:   s.userID,
		State:    s.state.String(),
		Rooms:    s.roomsLocked(),
		Remote:   s.remote,
		OpenedAt: s.openedAt,
		Reason:   s.closeReason,
	}
}

// Send enqueues without blocking; false when closed or the queue is full.
func (s *Session) Send(f Frame) bool {
	b, err := f.Encode()
	if err != nil {
		s.log.Warn("drop frame, encode failed", zap.String("conn", s.id), zap.Error(err))
		return false
	}
	return s.enqueue(b)
}

func (s *Session) enqueue(b []byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == StateClosed {
		return false
	}
	select {
	case s.send <- b:
		return true
	default:
		s.log.Warn("send queue full, drop frame", zap.String("conn", s.id), zap.String("userId", s.userID))
		return false
	}
}

// Outbound 发送队列（写协程和单测读取）
func (s *Session) Outbound() <-chan []byte { return s.send }

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.heartbeat = now
	s.mu.Unlock()
}

// bind 需要在 presence 锁内调用，保证 session 与 registry 同步写
func (s *Session) bind(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return false
	}
	s.userID = userID
	s.state = StateRegistered
	return true
}

// unbind 保持 Registered：状态机不回退
func (s *Session) unbind() {
	s.mu.Lock()
	s.userID = ""
	s.mu.Unlock()
}

func (s *Session) join(room string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return false
	}
	s.rooms[room] = struct{}{}
	return true
}

func (s *Session) leave(room string) {
	s.mu.Lock()
	delete(s.rooms, room)
	s.mu.Unlock()
}

// markClosed returns false when the session was already closed.
func (s *Session) markClosed(reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return false
	}
	s.state = StateClosed
	s.closeReason = reason
	close(s.closed)
	return true
}

func (s *Session) roomsLocked() []string {
	out := make([]string, 0, len(s.rooms))
	for r := range s.rooms {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}
