package mgo

import (
	"context"
	"errors"
	"testing"
	"time"

	"PRealtime/data/database/mgo/mongoutil"
	"PRealtime/tools/errs"

	"github.com/stretchr/testify/require"
)

func TestBackoffBounded(t *testing.T) {
	req := require.New(t)
	for i := 0; i < 10; i++ {
		d := backoff(i)
		req.Greater(d, time.Duration(0))
		req.LessOrEqual(d, 5*time.Second)
	}
}

func TestManager_NotReady(t *testing.T) {
	req := require.New(t)

	m := NewManager(&mongoutil.Config{Database: "chat"}, nil)
	_, ok := m.TryGetDB()
	req.False(ok)
	_, err := m.DB()
	req.True(errors.Is(err, errs.ErrExternal))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	req.Error(m.WaitReady(ctx))
}

func TestManager_StartAsyncStopsOnCancel(t *testing.T) {
	req := require.New(t)

	// 无地址的配置会一直失败；取消后协程退出并留下最近错误
	m := NewManager(&mongoutil.Config{Database: "chat"}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	m.StartAsync(ctx)

	req.Eventually(func() bool { return m.Err() != nil }, time.Second, 10*time.Millisecond)
	cancel()
	req.True(errors.Is(m.Err(), errs.ErrInvalidState))
}
