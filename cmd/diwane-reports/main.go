package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-diwane/pkg/cache"
	"github.com/illmade-knight/go-diwane/pkg/client"
	"github.com/illmade-knight/go-diwane/pkg/config"
	"github.com/illmade-knight/go-diwane/pkg/fetcher"
	"github.com/illmade-knight/go-diwane/pkg/relay"
	"github.com/illmade-knight/go-diwane/pkg/report"
	"github.com/illmade-knight/go-diwane/pkg/session"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "diwane-reports").Logger()
	if err := run(logger); err != nil {
		logger.Fatal().Err(err).Msg("Service exited with error.")
	}
}

func run(logger zerolog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	logger = logger.Level(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	transport, err := fetcher.NewHTTPTransport(cfg.APIBaseURL)
	if err != nil {
		return err
	}

	opts := []client.Option{client.WithLogger(logger)}
	// Owned by the client once it is built.
	closeCache := func() {}
	if cfg.HasRedis() {
		rc, err := cache.NewRedisCache[string, json.RawMessage](ctx, &cache.RedisConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			CacheTTL:  cfg.CacheTTL,
			KeyPrefix: cfg.Redis.KeyPrefix,
		}, logger)
		if err != nil {
			return err
		}
		opts = append(opts, client.WithCache(rc))
		closeCache = func() { _ = rc.Close() }
	}
	sessions, closeSessions, err := newSessionStore(ctx, cfg, logger)
	if err != nil {
		closeCache()
		return err
	}
	defer closeSessions()
	opts = append(opts, client.WithSessionStore(sessions))

	c, err := client.New(&client.Config{
		CacheTTL:   cfg.CacheTTL,
		BatchDelay: cfg.BatchDelay,
		PageSize:   cfg.PageSize,
	}, transport, opts...)
	if err != nil {
		closeCache()
		return err
	}

	var (
		rl       *relay.Relay
		follower *relay.Follower
	)
	if cfg.HasPubSub() {
		psClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("failed to create pubsub client: %w", err)
		}
		defer psClient.Close()
		pub, err := relay.NewGooglePublisher(ctx, psClient, cfg.PubSub.TopicID, logger)
		if err != nil {
			return err
		}
		rl, err = relay.New(pub, logger)
		if err != nil {
			return err
		}
		rl.Attach(c.Bus())

		if cfg.HasFollower() {
			follower, err = relay.NewFollower(ctx, &relay.FollowerConfig{
				SubscriptionID: cfg.PubSub.SubscriptionID,
				IgnoreOrigin:   rl.Origin(),
			}, psClient, c, logger)
			if err != nil {
				return err
			}
			follower.Start(ctx)
		}
	}

	svc, err := report.NewReportService(&report.ServiceConfig{HTTPPort: cfg.HTTPPort}, c, logger)
	if err != nil {
		return err
	}
	if err := svc.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info().Msg("Shutdown signal received.")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP shutdown failed.")
	}
	if follower != nil {
		follower.Stop()
	}
	if rl != nil {
		if err := rl.Stop(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Relay flush failed.")
		}
	}
	return c.Close(shutdownCtx)
}

// newSessionStore prefers Firestore, then Redis, then memory. The returned
// func releases clients the store does not own.
func newSessionStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (session.Store, func(), error) {
	noop := func() {}
	switch {
	case cfg.HasFirestore():
		fs, err := firestore.NewClient(ctx, cfg.Firestore.ProjectID)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to create firestore client: %w", err)
		}
		store, err := session.NewFirestoreStore(&session.FirestoreConfig{
			ProjectID:      cfg.Firestore.ProjectID,
			CollectionName: cfg.Firestore.Collection,
			SessionKey:     cfg.SessionKey,
		}, fs, logger)
		if err != nil {
			_ = fs.Close()
			return nil, noop, err
		}
		return store, func() { _ = fs.Close() }, nil
	case cfg.HasRedis():
		store, err := session.NewRedisStore(ctx, &session.RedisConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			SessionKey: cfg.SessionKey,
		}, logger)
		return store, noop, err
	}
	return session.NewInMemoryStore(), noop, nil
}
