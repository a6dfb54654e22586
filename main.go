package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"PulseIM/global"
	"PulseIM/logger"
	mw "PulseIM/middleware/security"
	chat "PulseIM/module/chat"
	chatservice "PulseIM/module/chat/service"
	user "PulseIM/module/user"
	userservice "PulseIM/module/user/service"
	"PulseIM/service/bus"
	"PulseIM/service/delivery"
	"PulseIM/service/gateway"
	"PulseIM/service/queue"
	"PulseIM/service/scheduler"
	"PulseIM/service/storage"
	"PulseIM/tools/safe"
	"PulseIM/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to the YAML config file")
	flag.Parse()

	cfg, err := global.Load(configPath)
	if err != nil {
		logger.Error("configuration load failed", zap.Error(err))
		os.Exit(1)
	}
	if cfg.GatewayID == "" {
		cfg.GatewayID = uuid.NewString()
	}
	logger.Info("starting gateway", zap.String("gateway", cfg.GatewayID), zap.String("addr", cfg.HTTPAddr))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := storage.OpenRedis(ctx, storage.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		logger.Error("redis unavailable", zap.Error(err))
		os.Exit(1)
	}
	defer rdb.Close()

	db, err := storage.OpenMongo(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
	if err != nil {
		logger.Error("mongo unavailable", zap.Error(err))
		os.Exit(1)
	}
	defer db.Client().Disconnect(context.Background())

	qc, err := queue.Connect(cfg.Nats.URL)
	if err != nil {
		logger.Error("nats unavailable", zap.Error(err))
		os.Exit(1)
	}
	defer qc.Close()

	eventBus, err := bus.New(bus.Config{
		Brokers:    cfg.Kafka.Brokers,
		TopicCount: cfg.Kafka.TopicCount,
		GatewayID:  cfg.GatewayID,
	})
	if err != nil {
		logger.Error("kafka unavailable", zap.Error(err))
		os.Exit(1)
	}
	defer eventBus.Close()

	jwtOpts := security.DefaultOptions([]byte(cfg.JWT.Secret))
	if cfg.JWT.TTL > 0 {
		jwtOpts.TTL = cfg.JWT.TTL
	}

	// Stores.
	users := userservice.NewUserStore(db, jwtOpts)
	convs := chatservice.NewConversationStore(db)
	msgs := chatservice.NewMessageStore(db)
	autos := chatservice.NewAutoMessageStore(db)
	ensureIndexes(ctx, users, convs, msgs, autos)

	// Delivery pipeline and its queue consumers.
	idem := queue.NewRedisIdem(rdb)
	pipeline := delivery.NewPipeline(qc, eventBus, convs, msgs, users)
	consumer := delivery.NewConsumer(convs, msgs, users, eventBus, idem)
	autoConsumer := delivery.NewAutoConsumer(convs, msgs, users, autos, eventBus, idem)

	// Presence and the websocket side.
	announcer := gateway.NewBusAnnouncer(eventBus)
	presence := storage.NewRegistry(storage.NewRedisPresence(rdb, cfg.Presence.TTL), announcer)
	manager := gateway.NewConnManager()
	hub := gateway.NewHub()
	recon := gateway.NewReconciler(nil)
	ws := gateway.NewHandler(jwtOpts, manager, hub, recon, presence, pipeline, convs, msgs, eventBus)

	// Scheduler.
	planner := scheduler.NewPlanner(users, autos, nil, nil)
	drainer := scheduler.NewDrainer(autos, qc, nil)
	sched := scheduler.New(planner, drainer, cfg.Scheduler.PlanHour, cfg.Scheduler.DrainInterval)
	sched.Start(ctx)

	// Background consumers.
	safe.Go("inbound-consumer", func() {
		if err := qc.Subscribe(ctx, queue.SubjectInbound, "message-consumer", consumer.HandleInbound); err != nil && ctx.Err() == nil {
			logger.Error("inbound consumer stopped", zap.Error(err))
		}
	})
	safe.Go("autosend-consumer", func() {
		if err := qc.Subscribe(ctx, queue.SubjectAutoSend, "autosend-consumer", autoConsumer.HandleAutoSend); err != nil && ctx.Err() == nil {
			logger.Error("autosend consumer stopped", zap.Error(err))
		}
	})
	safe.Go("bus-consumer", func() {
		groupID := "gateway-" + cfg.GatewayID
		if err := bus.Consume(ctx, cfg.Kafka.Brokers, groupID, eventBus.Topics(), ws.HandleBusEvent); err != nil && ctx.Err() == nil {
			logger.Error("bus consumer stopped", zap.Error(err))
		}
	})

	// HTTP surface.
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	authMW := mw.Middleware(jwtOpts)
	user.NewHandler(users, jwtOpts, manager).Register(router, authMW)
	chat.NewHandler(convs, msgs, pipeline, eventBus).Register(router, authMW)
	router.GET("/ws", ws.ServeWS)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}
	safe.Go("http-server", func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server stopped", zap.Error(err))
			stop()
		}
	})

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}
}

type indexEnsurer interface {
	EnsureIndexes(ctx context.Context) error
}

func ensureIndexes(ctx context.Context, stores ...indexEnsurer) {
	for _, s := range stores {
		if err := s.EnsureIndexes(ctx); err != nil {
			logger.Warn("index creation failed", zap.Error(err))
		}
	}
}
