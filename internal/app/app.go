// Package app wires configuration, persistence, instrumentation and the
// selected protocol adapter into a ready chat facade.
package app

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/murmurchat/murmur/internal/chat"
	"github.com/murmurchat/murmur/internal/chat/hosted"
	"github.com/murmurchat/murmur/internal/chat/matrix"
	"github.com/murmurchat/murmur/internal/config"
	"github.com/murmurchat/murmur/internal/metric"
	"github.com/murmurchat/murmur/internal/store"
	"github.com/murmurchat/murmur/internal/store/sqlite"
)

// App owns one user session's worth of wiring. The backend is chosen once
// at construction; nothing downstream branches on it again.
type App struct {
	chat    *chat.Chat
	store   store.Store
	metrics *metric.Metrics
	log     *zerolog.Logger
}

// New constructs the application from configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	metrics := metric.New()
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		st.Close()
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	client, err := buildAdapter(cfg, st, metrics, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	return &App{
		chat:    chat.New(client, logger),
		store:   st,
		metrics: metrics,
		log:     logger,
	}, nil
}

// buildAdapter selects and constructs the protocol adapter.
func buildAdapter(cfg *config.Config, st store.Store, metrics *metric.Metrics, logger *zerolog.Logger) (chat.Client, error) {
	switch cfg.Backend {
	case config.BackendMatrix:
		api, err := matrix.NewClient(matrix.ClientConfig{
			HomeserverURL: cfg.HomeserverURL,
			Logger:        logger,
		})
		if err != nil {
			return nil, fmt.Errorf("init matrix client: %w", err)
		}
		return matrix.NewAdapter(matrix.AdapterConfig{
			Client:              api,
			Store:               st,
			Metrics:             metrics,
			Logger:              logger,
			PrivateReadReceipts: cfg.PrivateReadReceipts,
		})
	case config.BackendHosted:
		api, err := hosted.NewClient(hosted.ClientConfig{
			AppID:   cfg.HostedAppID,
			BaseURL: cfg.HostedBaseURL,
			Logger:  logger,
		})
		if err != nil {
			return nil, fmt.Errorf("init hosted client: %w", err)
		}
		return hosted.NewAdapter(hosted.AdapterConfig{
			Client:         api,
			Metrics:        metrics,
			Logger:         logger,
			SessionRefresh: cfg.SessionRefresh,
		})
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// Chat returns the facade.
func (a *App) Chat() *chat.Chat {
	return a.chat
}

// Close releases held resources.
func (a *App) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		}
	}
}
