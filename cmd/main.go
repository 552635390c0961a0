package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/edunderwood/transcript-translate-server/internal/broadcaster"
	"github.com/edunderwood/transcript-translate-server/internal/config"
	"github.com/edunderwood/transcript-translate-server/internal/handler"
	"github.com/edunderwood/transcript-translate-server/internal/hub"
	"github.com/edunderwood/transcript-translate-server/internal/kafka"
	"github.com/edunderwood/transcript-translate-server/internal/ledger"
	"github.com/edunderwood/transcript-translate-server/internal/liveness"
	"github.com/edunderwood/transcript-translate-server/internal/mirror"
	"github.com/edunderwood/transcript-translate-server/internal/pipeline"
	"github.com/edunderwood/transcript-translate-server/internal/rawconn"
	"github.com/edunderwood/transcript-translate-server/internal/registry"
	"github.com/edunderwood/transcript-translate-server/internal/translation"
	pkglog "github.com/edunderwood/transcript-translate-server/pkg/log"
	"github.com/edunderwood/transcript-translate-server/pkg/pubsub"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Initialize structured logger
	pkglog.Init(cfg.Log)
	logger := pkglog.L()

	logger.Info().Str("host", cfg.Server.Host).Int("port", cfg.Server.Port).Msg("starting transcript-translate-server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Core state
	reg := registry.New()
	subscribers := ledger.New(reg)

	h := hub.NewHub(cfg.WebSocket)
	go h.Run()
	raw := rawconn.NewList(cfg.WebSocket)

	translator, err := translation.NewTranslator(ctx, cfg.Translation)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Translation.Driver).Msg("failed to create translator")
	}
	services := translation.NewService(translator, cfg.Translation.SourceLanguage, cfg.Translation.OrgKeys)

	b := broadcaster.New(subscribers, services, h, raw)
	subscribers.SetRoomSizer(b)
	subscribers.SetSnapshotFunc(b.EmitSubscribers)

	monitor := liveness.New(reg, b, cfg.Liveness.HeartbeatTimeout)
	p := pipeline.New(reg, b, services, pipeline.Config{
		Timeout:   cfg.Translation.Timeout,
		LaneDepth: cfg.Pipeline.LaneDepth,
	})
	reg.OnTransition(monitor.HandleTransition)
	reg.OnTransition(p.HandleTransition)

	g, gctx := errgroup.WithContext(ctx)

	// Live-state mirror (Redis hashes + liveness events on the bus)
	var (
		redisClient *redis.Client
		bus         pubsub.Bus
		m           *mirror.Mirror
	)
	if cfg.Mirror.Enabled {
		redisClient, err = pubsub.NewRedisClient(cfg.PubSub.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		if cfg.PubSub.Driver == "kafka" {
			bus, err = pubsub.NewBus(cfg.PubSub)
			if err != nil {
				logger.Fatal().Err(err).Msg("failed to create event bus")
			}
		} else {
			bus = pubsub.NewRedisBusFromClient(redisClient)
		}

		m = mirror.New(redisClient, bus, cfg.Mirror)
		if err := m.Reset(ctx); err != nil {
			logger.Warn().Err(err).Msg("failed to reset live-state mirror")
		}
		reg.OnTransition(m.Observe)
		g.Go(func() error { return m.Run(gctx) })
	}

	dispatcher := handler.NewDispatcher(b, monitor, p, subscribers)

	// Kafka consumer for presenter events
	var consumer *kafka.ConfluentConsumer
	if cfg.Kafka.Enabled {
		if kc, err := kafka.NewConfluentConsumer(cfg.Kafka, dispatcher); err != nil {
			logger.Warn().Err(err).Msg("failed to create kafka consumer, presenter events over kafka disabled")
		} else if err := kc.Start(gctx); err != nil {
			logger.Warn().Err(err).Msg("failed to start kafka consumer")
		} else {
			consumer = kc
		}
	}

	// Create handlers
	wsHandler := handler.NewWSHandler(h, raw, b, dispatcher)
	httpHandler := handler.NewHTTPHandler(reg, subscribers, h.ClientCount).
		WithOrganizations(services).
		WithRawConnections(raw)
	if m != nil {
		httpHandler.WithMirror(m)
	}
	router := handler.NewRouter(wsHandler, httpHandler)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:        addr,
		Handler:     pkglog.HTTPMiddleware(logger)(router),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	g.Go(func() error {
		logger.Info().Str("addr", addr).Msg("transcript-translate-server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down transcript-translate-server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if consumer != nil {
			if err := consumer.Close(); err != nil {
				logger.Error().Err(err).Msg("kafka consumer close error")
			}
		}

		h.Stop()
		raw.CloseAll()
		p.Stop()
		reg.Stop()

		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server error")
	}

	if bus != nil {
		bus.Close()
	}
	if redisClient != nil {
		redisClient.Close()
	}
	logger.Info().Msg("transcript-translate-server stopped")
}
