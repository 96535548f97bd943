package global

import (
	"context"
	"time"

	"PRealtime/data/database/mgo/mongoutil"
	"PRealtime/global/config"
	mid "PRealtime/middleware"
	"PRealtime/module/chat/store"
	"PRealtime/service/journal"
	ka "PRealtime/service/kafka"
	mgoSrv "PRealtime/service/mgo"
	"PRealtime/service/natsx"
	"PRealtime/service/push"
	rds "PRealtime/service/storage/redis"
	"PRealtime/tools/errs"
	"PRealtime/tools/ids"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Closer 启动阶段创建的资源，退出时逆序关闭
type Closer func()

func nop() {}

func ConfigIds(cfg config.Config) {
	ids.SetNodeID(ids.NodeIDFromName(cfg.NodeID))
}

// ConfigRedis REDIS_ADDR 为空时返回 nil（不启用集群在线镜像）
func ConfigRedis(ctx context.Context, cfg config.Config, log *zap.Logger) (*goredis.Client, Closer, error) {
	if cfg.RedisAddr == "" {
		log.Info("redis disabled, presence mirror off")
		return nil, nop, nil
	}
	rdb, err := rds.Open(ctx, rds.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		return nil, nop, err
	}
	return rdb, func() { _ = rdb.Close() }, nil
}

// ConfigStore memory 或 mongo；mongo 在后台连接，首次就绪后建索引
func ConfigStore(ctx context.Context, cfg config.Config, log *zap.Logger) (store.Store, error) {
	if cfg.StoreDriver != config.StoreMongo {
		log.Warn("using in-memory store, data is lost on restart")
		return store.NewMemoryStore(), nil
	}
	m := mgoSrv.NewManager(&mongoutil.Config{
		Uri:         cfg.MongoURI,
		Database:    cfg.MongoDatabase,
		MaxPoolSize: cfg.MongoMaxPool,
	}, log)
	m.StartAsync(ctx)

	st := store.NewMongoStore(m)
	go func() {
		if err := m.WaitReady(ctx); err != nil {
			return
		}
		ictx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := st.EnsureIndexes(ictx); err != nil {
			log.Error("ensure mongo indexes failed", zap.Error(err))
		}
	}()
	return st, nil
}

// ConfigPush log / fcm / kafka
func ConfigPush(ctx context.Context, cfg config.Config, log *zap.Logger) (push.Sender, Closer, error) {
	switch cfg.PushDriver {
	case config.PushFCM:
		s, err := push.NewFCMSenderFromFile(ctx, cfg.FCMCredentialsFile)
		if err != nil {
			return nil, nop, err
		}
		return s, nop, nil
	case config.PushKafka:
		p, err := ka.NewSyncProducer(ka.DefaultConfig(cfg.Brokers(), cfg.KafkaPushTopic), log)
		if err != nil {
			return nil, nop, err
		}
		return push.NewKafkaSender(p.Sync, cfg.KafkaPushTopic), func() { _ = p.Close() }, nil
	default:
		return push.NewLogSender(log), nop, nil
	}
}

// ConfigBus NATS_URL 为空时不发布领域事件
func ConfigBus(cfg config.Config, log *zap.Logger) (natsx.Publisher, Closer, error) {
	if cfg.NatsURL == "" {
		return natsx.NopPublisher{}, nop, nil
	}
	nc, err := natsx.NewNatsxConn(natsx.NatsxConfig{Servers: []string{cfg.NatsURL}, Name: cfg.NodeID}, log)
	if err != nil {
		return nil, nop, err
	}
	return natsx.NewNatsxProducer(nc, cfg.NatsSubjectPrefix, cfg.NodeID, log), func() { _ = nc.Drain() }, nil
}

// ConfigJournal JOURNAL_DSN 为空时不记流水；返回的 run 需要在后台运行
func ConfigJournal(ctx context.Context, cfg config.Config, log *zap.Logger) (journal.Journal, func(context.Context), Closer, error) {
	if cfg.JournalDSN == "" {
		return journal.Nop{}, func(context.Context) {}, nop, nil
	}
	pool, err := journal.Open(ctx, cfg.JournalDSN)
	if err != nil {
		return nil, nil, nop, err
	}
	j := journal.NewPgJournal(pool, cfg.NodeID, 4096, log)
	if err := j.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, nop, errs.WrapMsg(err, "journal schema")
	}
	return j, j.Run, pool.Close, nil
}

func ConfigMiddleware(cfg config.Config, log *zap.Logger) *mid.MiddlewareManager {
	m := mid.NewManager()
	m.Add(mid.Recover(log), mid.AccessLog(log), mid.Origin(cfg.Origins()))
	return m
}
