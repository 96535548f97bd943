package presence

import (
	"sync"

	"PRealtime/tools/errs"
	"PRealtime/tools/safe"

	"go.uber.org/zap"
)

// ReasonDuplicateLogin 挤下线时给旧连接的关闭原因
const ReasonDuplicateLogin = "duplicate login"

// Transport is the connection side the registry keeps in step with.
// Bind and Unbind run inside the registry lock and must not block on I/O;
// Terminate runs after the lock is released.
type Transport interface {
	IsOpen(connID string) bool
	Bind(connID, userID string) error
	Unbind(connID string)
	Terminate(connID, reason string)
}

// Observer is told about binding changes after the lock is released.
type Observer interface {
	Online(userID, connID string)
	Offline(userID, connID string)
}

// Registration describes what a Register call replaced.
type Registration struct {
	Previous  string // 之前绑定的连接（可能为空）
	Evicted   bool   // 之前的连接被挤下线
	WasOnline bool   // 注册前该用户已有一条存活连接
}

// Registry 用户 <-> 连接 的唯一真相：每个用户至多一条存活连接
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]string // userID -> connID
	byConn map[string]string // connID -> userID

	transport Transport
	observers []Observer
	log       *zap.Logger
}

type change struct {
	online  bool
	userID  string
	connID  string
	kill    bool
	killMsg string
}

func New(t Transport, log *zap.Logger, observers ...Observer) *Registry {
	safe.MustNotNil(t, "presence transport")
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		byUser:    make(map[string]string),
		byConn:    make(map[string]string),
		transport: t,
		observers: observers,
		log:       log.Named("presence"),
	}
}

// Register binds userID to connID. A different connection still bound to the
// user is unbound here and terminated once the lock is released. Calling it
// again with the same pair changes nothing.
func (r *Registry) Register(userID, connID string) (Registration, error) {
	if userID == "" || connID == "" {
		return Registration{}, errs.ErrMalformedEvent.WrapMsg("register needs userId and connection")
	}

	var changes []change
	reg, err := func() (Registration, error) {
		r.mu.Lock()
		defer r.mu.Unlock()

		if !r.transport.IsOpen(connID) {
			return Registration{}, errs.ErrConnectionClosed.WrapMsg("register", "userId", userID, "conn", connID)
		}

		prev, had := r.byUser[userID]
		if had && prev == connID {
			return Registration{Previous: prev, WasOnline: true}, nil
		}

		if err := r.transport.Bind(connID, userID); err != nil {
			return Registration{}, errs.WrapMsg(err, "bind session", "conn", connID)
		}

		// 同一连接换了身份：旧身份下线
		if other, ok := r.byConn[connID]; ok && other != userID {
			delete(r.byUser, other)
			changes = append(changes, change{userID: other, connID: connID})
		}

		var out Registration
		if had {
			out.Previous = prev
			out.WasOnline = r.transport.IsOpen(prev)
			out.Evicted = out.WasOnline
			delete(r.byConn, prev)
			r.transport.Unbind(prev)
			changes = append(changes, change{userID: userID, connID: prev, kill: out.Evicted, killMsg: ReasonDuplicateLogin})
		}

		r.byUser[userID] = connID
		r.byConn[connID] = userID
		changes = append(changes, change{online: true, userID: userID, connID: connID})
		return out, nil
	}()
	if err != nil {
		return Registration{}, err
	}

	r.apply(changes)
	if reg.Evicted {
		r.log.Info("duplicate login, stale connection terminated",
			zap.String("userId", userID), zap.String("stale", reg.Previous), zap.String("conn", connID))
	}
	return reg, nil
}

// Unregister drops the user's binding whichever connection holds it.
func (r *Registry) Unregister(userID string) (string, bool) {
	r.mu.Lock()
	connID, ok := r.byUser[userID]
	if ok {
		delete(r.byUser, userID)
		delete(r.byConn, connID)
		r.transport.Unbind(connID)
	}
	r.mu.Unlock()

	if ok {
		r.apply([]change{{userID: userID, connID: connID}})
	}
	return connID, ok
}

// UnregisterByConnection removes the binding only when it still points at
// exactly connID; a superseded connection is a no-op.
func (r *Registry) UnregisterByConnection(connID string) (string, bool) {
	r.mu.Lock()
	userID, ok := r.byConn[connID]
	if ok {
		delete(r.byConn, connID)
		if r.byUser[userID] == connID {
			delete(r.byUser, userID)
		} else {
			ok = false
		}
	}
	r.mu.Unlock()

	if !ok {
		return "", false
	}
	r.apply([]change{{userID: userID, connID: connID}})
	return userID, true
}

func (r *Registry) IsOnline(userID string) bool {
	_, ok := r.ConnectionOf(userID)
	return ok
}

// ConnectionOf returns the user's live connection. An entry whose connection
// the transport reports closed is removed and the user treated as offline.
func (r *Registry) ConnectionOf(userID string) (string, bool) {
	r.mu.RLock()
	connID, ok := r.byUser[userID]
	r.mu.RUnlock()
	if !ok {
		return "", false
	}
	if r.transport.IsOpen(connID) {
		return connID, true
	}

	r.mu.Lock()
	healed := false
	if cur, still := r.byUser[userID]; still && cur == connID && !r.transport.IsOpen(connID) {
		delete(r.byUser, userID)
		delete(r.byConn, connID)
		healed = true
	}
	cur, still := r.byUser[userID]
	r.mu.Unlock()

	if healed {
		r.log.Warn("stale presence entry removed", zap.String("userId", userID), zap.String("conn", connID))
		r.apply([]change{{userID: userID, connID: connID}})
		return "", false
	}
	// 期间被重新绑定到新连接
	if still && cur != connID && r.transport.IsOpen(cur) {
		return cur, true
	}
	return "", false
}

// Repair installs userID -> connID only when the user has no binding and the
// connection is open and not bound to someone else.
func (r *Registry) Repair(userID, connID string) bool {
	if userID == "" || connID == "" {
		return false
	}
	r.mu.Lock()
	ok := func() bool {
		if _, had := r.byUser[userID]; had {
			return false
		}
		if other, bound := r.byConn[connID]; bound && other != userID {
			return false
		}
		if !r.transport.IsOpen(connID) {
			return false
		}
		if err := r.transport.Bind(connID, userID); err != nil {
			return false
		}
		r.byUser[userID] = connID
		r.byConn[connID] = userID
		return true
	}()
	r.mu.Unlock()

	if ok {
		r.log.Info("presence repaired from open connection", zap.String("userId", userID), zap.String("conn", connID))
		r.apply([]change{{online: true, userID: userID, connID: connID}})
	}
	return ok
}

// Snapshot is a copy of userID -> connID for diagnostics.
func (r *Registry) Snapshot() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.byUser))
	for u, c := range r.byUser {
		out[u] = c
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

func (r *Registry) apply(changes []change) {
	for _, c := range changes {
		if c.kill {
			r.transport.Terminate(c.connID, c.killMsg)
		}
		for _, o := range r.observers {
			if c.online {
				o.Online(c.userID, c.connID)
			} else {
				o.Offline(c.userID, c.connID)
			}
		}
	}
}
