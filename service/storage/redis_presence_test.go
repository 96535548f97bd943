package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	rds "PRealtime/service/storage/redis"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newMirror(t *testing.T) (*PresenceMirror, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb, err := rds.Open(context.Background(), rds.Config{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	return NewPresenceMirror(rdb, "gw1", time.Minute, zaptest.NewLogger(t)), mr
}

func TestMirror_OnlineOfflineCompareAndDelete(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()

	// Given
	m, mr := newMirror(t)
	req.NoError(m.SetOnline(ctx, "u1", "c1"))

	// When 新连接覆盖后，旧连接下线
	req.NoError(m.SetOnline(ctx, "u1", "c2"))
	deleted, err := m.SetOffline(ctx, "u1", "c1")

	// Then
	req.NoError(err)
	req.False(deleted)
	loc, ok, err := m.Lookup(ctx, "u1")
	req.NoError(err)
	req.True(ok)
	req.Equal(Location{NodeID: "gw1", ConnID: "c2"}, loc)
	req.Equal(time.Minute, mr.TTL(presenceKey("u1")))

	deleted, err = m.SetOffline(ctx, "u1", "c2")
	req.NoError(err)
	req.True(deleted)
	_, ok, err = m.Lookup(ctx, "u1")
	req.NoError(err)
	req.False(ok)
}

func TestMirror_RefreshOnlyOwnKeys(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()

	m, mr := newMirror(t)
	req.NoError(m.SetOnline(ctx, "u1", "c1"))
	req.NoError(mr.Set(presenceKey("u2"), "gw9|cX"))
	mr.FastForward(50 * time.Second)

	req.NoError(m.Refresh(ctx, map[string]string{"u1": "c1", "u2": "c2"}))

	req.Equal(time.Minute, mr.TTL(presenceKey("u1")))
	req.Equal(time.Duration(0), mr.TTL(presenceKey("u2")))
	v, err := mr.Get(presenceKey("u2"))
	req.NoError(err)
	req.Equal("gw9|cX", v)
}

func runMirror(t *testing.T, m *PresenceMirror) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(ctx, func() map[string]string { return nil })
	}()
	return func() {
		cancel()
		<-done
	}
}

func TestMirror_ObserverWritesInBackground(t *testing.T) {
	req := require.New(t)

	m, mr := newMirror(t)
	stop := runMirror(t, m)
	defer stop()

	m.Online("u3", "c3")
	req.Eventually(func() bool { return mr.Exists(presenceKey("u3")) }, time.Second, 5*time.Millisecond)

	m.Offline("u3", "c3")
	req.Eventually(func() bool { return !mr.Exists(presenceKey("u3")) }, time.Second, 5*time.Millisecond)
}

func TestMirror_ObserverKeepsRegistryOrder(t *testing.T) {
	req := require.New(t)

	// Given
	m, mr := newMirror(t)
	stop := runMirror(t, m)

	// When 每个用户上线后立刻下线；u-dup 被新连接挤掉
	for i := 0; i < 3000; i++ {
		u := fmt.Sprintf("u%d", i)
		m.Online(u, "c")
		m.Offline(u, "c")
	}
	m.Online("u-dup", "old")
	m.Offline("u-dup", "old")
	m.Online("u-dup", "new")
	stop()

	// Then 队列在退出前写完，只剩 u-dup 的新连接
	req.Equal([]string{presenceKey("u-dup")}, mr.Keys())
	loc, ok, err := m.Lookup(context.Background(), "u-dup")
	req.NoError(err)
	req.True(ok)
	req.Equal("new", loc.ConnID)
}

func TestMirror_DropsAfterStop(t *testing.T) {
	m, mr := newMirror(t)
	runMirror(t, m)()

	// Run 已退出：不阻塞，也不写
	m.Online("u4", "c4")
	require.False(t, mr.Exists(presenceKey("u4")))
}

func TestOpen_Unreachable(t *testing.T) {
	_, err := rds.Open(context.Background(), rds.Config{Addr: "127.0.0.1:1"})
	require.Error(t, err)
}
