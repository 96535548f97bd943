package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"PRealtime/global"
	"PRealtime/global/config"
	"PRealtime/logger"
	mid "PRealtime/middleware"
	midsec "PRealtime/middleware/security"
	"PRealtime/service/api"
	"PRealtime/service/call"
	"PRealtime/service/chat"
	"PRealtime/service/chat/handlers"
	"PRealtime/service/delivery"
	"PRealtime/service/metrics"
	"PRealtime/service/presence"
	"PRealtime/service/storage"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "gateway:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logger.Init(cfg.LogLevel, cfg.LogEncoding)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 关闭顺序与创建相反
	var closers []global.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	global.ConfigIds(cfg)

	rdb, closeRedis, err := global.ConfigRedis(ctx, cfg, log)
	if err != nil {
		return err
	}
	closers = append(closers, closeRedis)

	st, err := global.ConfigStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	sender, closePush, err := global.ConfigPush(ctx, cfg, log)
	if err != nil {
		return err
	}
	closers = append(closers, closePush)
	bus, closeBus, err := global.ConfigBus(cfg, log)
	if err != nil {
		return err
	}
	closers = append(closers, closeBus)
	jr, runJournal, closeJournal, err := global.ConfigJournal(ctx, cfg, log)
	if err != nil {
		return err
	}
	closers = append(closers, closeJournal)

	// ===== 核心组件 =====
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.New(reg)

	hub := chat.NewHub(chat.HubConf{
		SendQueue:       cfg.SendQueue,
		WriteTimeout:    cfg.WriteTimeout,
		PingInterval:    cfg.PingInterval,
		ReadTimeout:     cfg.ReadTimeout,
		MaxMessageBytes: cfg.MaxMessageBytes,
	}, cfg.NodeID, log)

	observers := []presence.Observer{rec}
	var mirror *storage.PresenceMirror
	if rdb != nil {
		mirror = storage.NewPresenceMirror(rdb, cfg.NodeID, cfg.PresenceTTL, log)
		observers = append(observers, mirror)
	}
	registry := presence.New(hub, log, observers...)

	resolver := delivery.NewResolver(st, registry, hub, sender, log,
		delivery.WithMetrics(rec), delivery.WithTimeout(cfg.ExternalTimeout))
	calls := call.NewRouter(resolver, hub, log)

	disp := chat.NewDispatcher(log)
	handlers.Register(disp, &handlers.Deps{
		Hub:             hub,
		Presence:        registry,
		Store:           st,
		Delivery:        resolver,
		Calls:           calls,
		Bus:             bus,
		Journal:         jr,
		Metrics:         rec,
		ExternalTimeout: cfg.ExternalTimeout,
		SyncStatusLimit: cfg.SyncStatusLimit,
		Log:             log,
	})
	srv := chat.NewServer(hub, disp, log)

	// ===== HTTP =====
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(global.ConfigMiddleware(cfg, log).Handlers()...)
	engine.GET("/ws", srv.HandleWS)
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	var cluster api.ClusterLookup
	if mirror != nil {
		cluster = mirror
	}
	api.New(registry, hub, cluster, log).Mount(mid.Routes{
		R:    engine,
		Auth: midsec.Middleware(midsec.DefaultOptions([]byte(cfg.JWTSecret))),
	})

	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: engine, ReadHeaderTimeout: 10 * time.Second}

	// ===== gRPC health =====
	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	g, gctx := errgroup.WithContext(ctx)
	// 流水和在线镜像要收下 hub.Close 时产生的记录，单独控制
	drainCtx, stopDrain := context.WithCancel(context.Background())
	defer stopDrain()
	g.Go(func() error {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.String("node", cfg.NodeID))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		log.Info("grpc health listening", zap.String("addr", cfg.GRPCAddr))
		return gs.Serve(lis)
	})
	g.Go(func() error {
		runJournal(drainCtx)
		return nil
	})
	if mirror != nil {
		g.Go(func() error {
			mirror.Run(drainCtx, registry.Snapshot)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		hs.Shutdown()

		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(sctx)
		// 先关连接，断线回调还要用到下游
		hub.Close()
		stopDrain()
		gs.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("gateway stopped")
	return nil
}
