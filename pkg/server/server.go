// Package server provides the public entry point for initializing the
// LumenGrid control plane. It composes configuration, telemetry, the store
// backend, the Stellar collaborators, the strategy engine, and the HTTP
// router into one ready-to-serve unit so alternate main packages (worker
// deployments, integration tests) can reuse the full wiring.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/lumengrid/lumengrid/internal/api"
	"github.com/lumengrid/lumengrid/internal/api/handlers"
	"github.com/lumengrid/lumengrid/internal/cache"
	"github.com/lumengrid/lumengrid/internal/config"
	"github.com/lumengrid/lumengrid/internal/engine"
	"github.com/lumengrid/lumengrid/internal/intent"
	"github.com/lumengrid/lumengrid/internal/notify"
	"github.com/lumengrid/lumengrid/internal/pricefeed"
	"github.com/lumengrid/lumengrid/internal/stellar"
	"github.com/lumengrid/lumengrid/internal/store"
	"github.com/lumengrid/lumengrid/internal/strategy"
	"github.com/lumengrid/lumengrid/internal/telemetry"
)

// Server holds the initialized control plane.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the selected agent store backend.
	Store store.Store

	// Config is the loaded configuration.
	Config *config.Config

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown to flush telemetry.
	ShutdownFunc func(context.Context) error
}

// New initializes all components from environment configuration.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the control plane with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	dataStore, kind, err := newStore(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	log.Info().Str("backend", string(kind)).Msg("agent store initialized")

	priceCache, err := newPriceCache(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("init price cache: %w", err)
	}

	horizon := stellar.NewHorizonClient(cfg.Stellar.HorizonURL)
	soroban := stellar.NewSorobanClient(cfg.Stellar.SorobanRPCURL)
	builder := stellar.NewBuilderClient(cfg.Stellar.TxBuilderURL)
	prices := pricefeed.NewCoinGecko(cfg.Price.CoinGeckoURL, priceCache, cfg.Price.CacheTTL)

	registry := strategy.NewRegistry(horizon, prices)
	eng := engine.New(dataStore, registry, builder, soroban)

	var telegram notify.Sender
	if cfg.Notify.TelegramBotToken != "" {
		telegram = notify.NewTelegram(cfg.Notify.TelegramBotToken)
	}
	notifier := notify.NewService(telegram, notify.NewDiscord())

	var parser handlers.IntentParser
	if cfg.Intent.OpenAIKey != "" {
		parser = intent.NewParser(cfg.Intent.OpenAIKey)
	}

	h := &handlers.Handlers{
		Store:     dataStore,
		StoreKind: kind,
		Engine:    eng,
		Builder:   builder,
		Submitter: soroban,
		Balances:  horizon,
		Prices:    prices,
		Intent:    parser,
		Notify:    notifier,
		Config:    cfg,
	}

	return &Server{
		Handler:      api.NewRouter(cfg, h),
		Store:        dataStore,
		Config:       cfg,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}, nil
}

// newStore selects the agent store backend once at startup.
func newStore(ctx context.Context, cfg config.StoreConfig) (store.Store, store.Kind, error) {
	switch cfg.Backend {
	case "", string(store.KindMemory):
		return store.NewMemoryStore(cfg.DataDir), store.KindMemory, nil
	case string(store.KindRedis):
		s, err := store.NewRedisStore(cfg.RedisURL, cfg.RedisPrefix)
		if err != nil {
			return nil, "", err
		}
		return s, store.KindRedis, nil
	case string(store.KindPostgres):
		s, err := store.NewPostgresStore(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, "", err
		}
		return s, store.KindPostgres, nil
	default:
		return nil, "", fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// newPriceCache shares the Redis instance with the agent store when one is
// configured; everything else falls back to the in-process cache.
func newPriceCache(cfg config.StoreConfig) (cache.Store, error) {
	if cfg.Backend != string(store.KindRedis) {
		return cache.NewMemoryStore(), nil
	}
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	return cache.NewRedisStore(opt), nil
}
