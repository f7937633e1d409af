package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/davicafu/formintake/internal/config"
	"github.com/davicafu/formintake/internal/health"
	outboxApp "github.com/davicafu/formintake/internal/outbox/application"
	outboxHttp "github.com/davicafu/formintake/internal/outbox/infra/inbound/http"
	infraEvents "github.com/davicafu/formintake/internal/shared/infra/events"
	sharedBus "github.com/davicafu/formintake/internal/shared/infra/platform/bus"
	sharedCache "github.com/davicafu/formintake/internal/shared/infra/platform/cache"
	infraRelayer "github.com/davicafu/formintake/internal/shared/infra/relayer"
	submissionApp "github.com/davicafu/formintake/internal/submission/application"
	submissionHttp "github.com/davicafu/formintake/internal/submission/infra/inbound/http"
	"github.com/davicafu/formintake/pkg/logger"
	"github.com/davicafu/formintake/pkg/metrics"
	"github.com/davicafu/formintake/pkg/middleware"
)

// ---------------- Main ----------------
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		boot, _ := logger.New("info")
		boot.Fatal("invalid configuration", zap.Error(err))
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync() // flush buffers al salir

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---------------- DB ----------------
	st, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to connect to store", zap.Error(err))
	}
	defer func() {
		if err := st.close(context.Background()); err != nil {
			log.Warn("store close failed", zap.Error(err))
		}
	}()

	// ---------------- Metrics ----------------
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// ---------------- Cache ----------------
	var cacheInstance sharedCache.Cache
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("⚠️ Redis no disponible, cache en memoria", zap.Error(err))
		} else {
			defer rdb.Close()
			cacheInstance = sharedCache.NewRedisCache(rdb, cfg.CacheTTL())
			log.Info("✅ Redis conectado, cache habilitado")
		}
	}
	if cacheInstance == nil {
		cacheInstance = sharedCache.NewInMemoryCache(cfg.CacheTTL(), 3*cfg.CacheTTL())
	}

	// ---------------- Events ---------------
	var publisher sharedBus.EventBus
	if cfg.Publisher == config.PublisherKafka {
		log.Info("🚀 Usando Kafka como bus de eventos", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
		writer := infraEvents.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer writer.Close()
		publisher = infraEvents.NewKafkaPublisher(writer, log)

		// Oyente de notificaciones opcional sobre el mismo topic
		if cfg.KafkaConsumerGroup != "" {
			reader := infraEvents.NewKafkaReader(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaConsumerGroup)
			defer reader.Close()
			infraEvents.NewConsumerAdapter(reader, infraEvents.NewNotificationConsumer(log, nil), cfg.KafkaTopic, log).Start(ctx)
		}
	} else {
		log.Info("⚡️Usando bus de eventos en memoria (canales de Go)")
		bus := infraEvents.NewInMemoryEventBus(cfg.KafkaTopic)
		publisher = bus

		log.Info("🎧 Iniciando listener en memoria para notificaciones")
		infraEvents.BackgroundConsumerChan(ctx, bus.Subscribe(100), infraEvents.NewNotificationConsumer(log, nil))
	}

	// --------------- Servicios --------------
	submissionService := submissionApp.NewSubmissionService(st.submissions, cacheInstance, m, log).
		WithCacheTTL(cfg.CacheTTLSeconds)
	outboxQueue := outboxApp.NewOutboxQueue(st.outbox, publisher, outboxApp.QueueConfig{
		Lease:           cfg.OutboxLease(),
		PublishAttempts: cfg.PublishAttempts,
	}, m, log)

	// ------------ Dispatcher ------------
	dispatcher := infraRelayer.NewDispatcher(outboxQueue, cfg.DispatchInterval(), cfg.DispatchBatchSize, log)
	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		dispatcher.Start(ctx)
	}()

	// ---------------- HTTP ----------------
	gin.SetMode(gin.ReleaseMode)
	router, err := middleware.NewEngine(log, cfg.TrustedProxies)
	if err != nil {
		log.Fatal("invalid HTTP configuration", zap.Error(err))
	}

	health.RegisterRoutes(router, health.NewHandler(st.ping, log))
	submissionHttp.RegisterSubmissionRoutes(router, submissionHttp.NewSubmissionHandler(submissionService, log))
	outboxHttp.RegisterOutboxRoutes(router, outboxHttp.NewOutboxHandler(outboxQueue, log))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("🚀 Server running", zap.String("url", "http://localhost:"+cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("🛑 Apagando servidor")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
	<-dispatcherDone
}
