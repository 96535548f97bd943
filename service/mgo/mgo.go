package mgo

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"PRealtime/data/database/mgo/mongoutil"
	"PRealtime/tools/errs"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

type MongoManager struct {
	mu        sync.RWMutex
	client    *mongoutil.Client
	readyCh   chan struct{} // 首次就绪通知；只会被 close 一次
	readyOnce sync.Once

	lastErr atomic.Value // error
	cfg     *mongoutil.Config
	log     *zap.Logger
}

func NewManager(cfg *mongoutil.Config, log *zap.Logger) *MongoManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &MongoManager{cfg: cfg, readyCh: make(chan struct{}), log: log.Named("mongo")}
}

// StartAsync 一直运行到 ctx.Done()；首次连上时 close readyCh，后续掉线会自动重连
func (m *MongoManager) StartAsync(ctx context.Context) {
	go m.run(ctx)
}

func (m *MongoManager) run(ctx context.Context) {
	const (
		healthEvery = 10 * time.Second // 健康检查周期
		failThresh  = 3                // 连续失败阈值
	)

	for {
		// ===== 连接阶段（带退避重试） =====
		attempt := 0
		for {
			cli, err := mongoutil.NewMongoDB(ctx, m.cfg)
			if err == nil {
				m.mu.Lock()
				m.client = cli
				m.mu.Unlock()
				m.readyOnce.Do(func() { close(m.readyCh) })
				m.log.Info("mongo connected", zap.String("db", m.cfg.Database))
				break
			}
			m.lastErr.Store(err)
			m.log.Warn("mongo connect failed", zap.Int("attempt", attempt), zap.Error(err))

			if !sleepCtx(ctx, backoff(attempt)) {
				return
			}
			if attempt < 6 {
				attempt++
			}
		}

		// ===== 健康检查阶段（保持/掉线→重连）=====
		if !m.watch(ctx, healthEvery, failThresh) {
			return
		}
	}
}

// watch returns false when ctx is done, true when the client should be rebuilt.
func (m *MongoManager) watch(ctx context.Context, every time.Duration, failThresh int) bool {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	fail := 0
	for {
		select {
		case <-ctx.Done():
			m.drop()
			return false
		case <-ticker.C:
			m.mu.RLock()
			c := m.client
			m.mu.RUnlock()
			if c == nil {
				return true
			}
			pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := c.Ping(pctx)
			cancel()
			if err == nil {
				fail = 0
				continue
			}
			fail++
			m.lastErr.Store(err)
			if fail >= failThresh {
				m.log.Warn("mongo unhealthy, reconnecting", zap.Error(err))
				m.drop()
				return true
			}
		}
	}
}

func (m *MongoManager) drop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		_ = m.client.Disconnect(context.Background())
		m.client = nil
	}
}

// 退避 + 抖动
func backoff(attempt int) time.Duration {
	const (
		baseBackoff = 200 * time.Millisecond
		maxBackoff  = 5 * time.Second
	)
	d := baseBackoff << attempt
	if d > maxBackoff {
		d = maxBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(d / 5))) // 0~20%
	return d - jitter/2
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Ready 首次连接成功时会 close；可 select 等待
func (m *MongoManager) Ready() <-chan struct{} { return m.readyCh }

// Err 最近一次错误
func (m *MongoManager) Err() error {
	if v := m.lastErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

func (m *MongoManager) TryGetDB() (*mongo.Database, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.client == nil {
		return nil, false
	}
	return m.client.GetDB(), true
}

// DB 未就绪时返回 ErrExternal，而不是 panic
func (m *MongoManager) DB() (*mongo.Database, error) {
	db, ok := m.TryGetDB()
	if !ok {
		return nil, errs.ErrExternal.WrapMsg("mongo not ready")
	}
	return db, nil
}

func (m *MongoManager) WaitReady(ctx context.Context) error {
	select {
	case <-m.readyCh:
		return nil
	case <-ctx.Done():
		if err := m.Err(); err != nil {
			return errs.WrapMsg(err, "mongo not ready")
		}
		return ctx.Err()
	}
}
