package chat

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"

	"PRealtime/tools/errs"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestHub(t *testing.T, queue int) *Hub {
	return NewHub(HubConf{SendQueue: queue}, "node-test", zaptest.NewLogger(t))
}

func drain(s *Session) []Frame {
	var out []Frame
	for {
		select {
		case b := <-s.Outbound():
			var f Frame
			_ = json.Unmarshal(b, &f)
			out = append(out, f)
		default:
			return out
		}
	}
}

func TestHub_BroadcastRoomExcept(t *testing.T) {
	req := require.New(t)

	// Given
	h := newTestHub(t, 8)
	a, b, c := h.Open(nil), h.Open(nil), h.Open(nil)
	req.True(h.Join(a.ID(), "chat-1"))
	req.True(h.Join(b.ID(), "chat-1"))
	req.True(h.Join(c.ID(), "chat-2"))

	// When
	n := h.BroadcastRoom("chat-1", Frame{Event: "x"}, a.ID())

	// Then
	req.Equal(1, n)
	req.Empty(drain(a))
	req.Len(drain(b), 1)
	req.Empty(drain(c))
	req.Equal([]string{"chat-1"}, a.Rooms())
	req.True(a.InRoom("chat-1"))

	h.Leave(b.ID(), "chat-1")
	req.Equal(0, h.BroadcastRoom("chat-1", Frame{Event: "x"}, a.ID()))
	req.Equal(3, h.Broadcast(Frame{Event: "all"}, ""))
}

func TestHub_CloseHookRunsOnce(t *testing.T) {
	req := require.New(t)

	h := newTestHub(t, 8)
	var calls atomic.Int32
	var got SessionInfo
	h.OnClose(func(info SessionInfo) {
		calls.Add(1)
		got = info
	})
	s := h.Open(nil)
	req.NoError(h.Bind(s.ID(), "u1"))
	h.Join(s.ID(), "room")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Terminate(s.ID(), "bye")
		}()
	}
	wg.Wait()

	req.Equal(int32(1), calls.Load())
	req.Equal("u1", got.UserID)
	req.Equal("bye", got.Reason)
	req.Equal(StateClosed, s.State())
	req.False(h.IsOpen(s.ID()))
	req.Equal(0, h.Count())
	req.Empty(h.RoomMembers("room"))
	req.False(s.Send(Frame{Event: "late"}))
}

func TestHub_BindLifecycle(t *testing.T) {
	req := require.New(t)

	h := newTestHub(t, 8)
	s := h.Open(nil)
	req.Equal(StateUnauthenticated, s.State())

	req.NoError(h.Bind(s.ID(), "u1"))
	req.Equal(StateRegistered, s.State())
	req.Equal("u1", s.UserID())

	info, ok := h.FindByUser("u1")
	req.True(ok)
	req.Equal(s.ID(), info.ID)

	h.Unbind(s.ID())
	req.Equal(StateRegistered, s.State())
	req.Empty(s.UserID())
	_, ok = h.FindByUser("u1")
	req.False(ok)

	h.Terminate(s.ID(), "x")
	err := h.Bind(s.ID(), "u1")
	req.ErrorIs(err, errs.ErrConnectionClosed)
	req.False(h.Join(s.ID(), "room"))
}

func TestSession_QueueFullDrops(t *testing.T) {
	req := require.New(t)

	h := newTestHub(t, 2)
	s := h.Open(nil)

	req.True(s.Send(Frame{Event: "1"}))
	req.True(s.Send(Frame{Event: "2"}))
	req.False(s.Send(Frame{Event: "3"}))

	frames := drain(s)
	req.Len(frames, 2)
	req.Equal("1", frames[0].Event)
}

func TestHub_OpenSessionsSkipsClosed(t *testing.T) {
	req := require.New(t)

	h := newTestHub(t, 2)
	var opened atomic.Int32
	h.OnOpen(func(SessionInfo) { opened.Add(1) })
	a := h.Open(nil)
	b := h.Open(nil)
	h.Terminate(a.ID(), "x")

	list := h.OpenSessions()
	req.Len(list, 1)
	req.Equal(b.ID(), list[0].ID)
	req.Equal(int32(2), opened.Load())
	req.NotEqual(a.ID(), b.ID())
}
