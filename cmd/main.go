package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"proximity-service/internal/api"
	"proximity-service/internal/authority"
	"proximity-service/internal/cache"
	"proximity-service/internal/config"
	"proximity-service/internal/db"
	"proximity-service/internal/geo"
	"proximity-service/internal/kafka"
	"proximity-service/internal/logging"
	"proximity-service/internal/models"
	"proximity-service/internal/notification"
	"proximity-service/internal/overlap"
	"proximity-service/internal/providers"
	"proximity-service/internal/scanner"
	"proximity-service/internal/socket"
	"proximity-service/internal/thresholds"
	"proximity-service/internal/tracking"
)

func main() {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Logging.Dir, cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to database
	dbConn, err := db.Connect(ctx, cfg.DB.DSN, logger)
	if err != nil {
		logger.Errorf("Failed to connect to database: %v", err)
		log.Fatalf("Database connection failed: %v", err)
	}
	defer dbConn.Close()
	if err := dbConn.Migrate(ctx); err != nil {
		logger.Errorf("Failed to migrate database: %v", err)
		log.Fatalf("Database migration failed: %v", err)
	}

	geoSvc := geo.NewService(dbConn,
		cache.New[models.TrackRef, []models.GeometryPoint](cfg.Cache.TTL, cache.WithMaxSize(1024)), logger)
	resolver := thresholds.NewResolver(dbConn, cfg)
	hub := socket.NewHub(logger)

	// Delivery channels; unconfigured ones stay nil
	channels := notification.Channels{Socket: hub}
	pusher, err := providers.NewPusher(ctx, cfg)
	if err != nil {
		logger.Errorf("Push disabled: %v", err)
	} else if pusher != nil {
		channels.Push = pusher
	}
	if m := providers.NewMailer(cfg); m != nil {
		channels.Email = m
	}
	tg, err := providers.NewTelegram(cfg, logger)
	if err != nil {
		logger.Errorf("Telegram disabled: %v", err)
	} else if tg != nil {
		channels.Telegram = tg
	}
	var publisher *kafka.Publisher
	if cfg.Kafka.Broker != "" && cfg.Kafka.AlertTopic != "" {
		publisher = kafka.NewPublisher([]string{cfg.Kafka.Broker}, cfg.Kafka.AlertTopic)
		channels.Stream = publisher
	}

	// Initialize notification service
	var wg sync.WaitGroup
	notifier := notification.New(dbConn, channels, logger, cfg)
	notifier.Start(&wg)

	scan := scanner.New(scanner.Deps{
		Authorities: dbConn,
		Thresholds:  resolver,
		Locator:     geoSvc,
		Dispatcher:  notifier,
		Positions:   scanner.NewPositions(),
	}, scanner.SettingsFrom(cfg), logger)
	scan.Start(&wg)

	authorities := authority.NewService(dbConn, overlap.NewDetector(dbConn), notifier, scan, logger)
	tracker := tracking.NewService(dbConn, dbConn, geoSvc, scan, scan.Positions(), scanner.SettingsFrom(cfg), logger)

	// Initialize Kafka consumer
	var consumer *kafka.Consumer
	if cfg.Kafka.Broker != "" && cfg.Kafka.GPSTopic != "" {
		consumer = kafka.NewConsumer([]string{cfg.Kafka.Broker}, cfg.Kafka.GPSTopic, cfg.Kafka.GroupID, tracker, logger)
		consumer.Start(&wg)
	} else {
		logger.Infof("Kafka GPS ingestion disabled")
	}

	// Start API server
	router := api.NewRouter(api.Deps{
		Authorities: authorities,
		Tracker:     tracker,
		Tracks:      geoSvc,
		Thresholds:  resolver,
		Store:       dbConn,
		Notifier:    notifier,
		Monitor:     scan,
		Hub:         hub,
		StatsCache:  cache.New[int, models.AlertStats](cfg.Cache.TTL, cache.WithMaxSize(256)),
	}, logger, cfg)
	srv := &http.Server{Addr: cfg.API.Port, Handler: router}
	go func() {
		logger.Infof("Starting API server on %s", cfg.API.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("API server failed: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Infof("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("API server shutdown failed: %v", err)
	}
	scan.Stop()
	if consumer != nil {
		consumer.Close()
	}
	notifier.Stop()
	wg.Wait()
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Errorf("Failed to close Kafka writer: %v", err)
		}
	}
}
