package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	httpapp "hubbridge/internal/app/http"
	"hubbridge/internal/clients/hubspot"
	"hubbridge/internal/config"
	"hubbridge/internal/http/router"
	"hubbridge/internal/lib/state"
	"hubbridge/internal/services/connection"
	"hubbridge/internal/storage/encrypted"
	"hubbridge/internal/storage/file"
	"hubbridge/internal/storage/mongodb"
	"hubbridge/internal/storage/sqlite"
)

const storageOpenTimeout = 15 * time.Second

type App struct {
	HTTPSrv *httpapp.App

	closeStorage func(ctx context.Context) error
}

// New wires the application from cfg. It panics when the storage cannot be
// opened.
func New(logger *slog.Logger, cfg *config.Config) *App {
	ctx, cancel := context.WithTimeout(context.Background(), storageOpenTimeout)
	defer cancel()

	store, closeStorage, err := newStorage(ctx, cfg.Storage)
	if err != nil {
		panic(err)
	}

	if cfg.Storage.EncryptionKey != "" {
		store, err = encrypted.New(store, cfg.Storage.EncryptionKey)
		if err != nil {
			panic(err)
		}
	}

	client := hubspot.New(hubspot.Config{
		ClientID:     cfg.HubSpot.ClientID,
		ClientSecret: cfg.HubSpot.ClientSecret,
		RedirectURI:  cfg.HubSpot.RedirectURI,
		Scopes:       cfg.HubSpot.Scopes,
		AuthURL:      cfg.HubSpot.AuthURL,
		APIBaseURL:   cfg.HubSpot.APIBaseURL,
		Timeout:      cfg.HubSpot.Timeout,
	})

	connService := connection.New(
		logger,
		state.New(cfg.StateSecret, cfg.StateTTL),
		client,
		client,
		store,
		store,
		cfg.HubSpot.RefreshSkew,
	)

	handler := router.New(logger, connService, cfg.AppBaseURL)

	return &App{
		HTTPSrv:      httpapp.New(logger, handler, cfg.HTTP.Port, cfg.HTTP.ReadTimeout, cfg.HTTP.WriteTimeout),
		closeStorage: closeStorage,
	}
}

// Stop shuts the HTTP server down and then releases the storage.
func (a *App) Stop(ctx context.Context) error {
	const op = "app.Stop"

	if err := a.HTTPSrv.Stop(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := a.closeStorage(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func newStorage(ctx context.Context, cfg config.StorageConfig) (encrypted.Store, func(context.Context) error, error) {
	const op = "app.newStorage"

	switch cfg.Driver {
	case config.StorageFile:
		s, err := file.New(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
		return s, func(context.Context) error { return s.Close() }, nil

	case config.StorageSQLite:
		s, err := sqlite.New(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
		if err := s.Migrate(); err != nil {
			_ = s.Close()
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
		return s, func(context.Context) error { return s.Close() }, nil

	case config.StorageMongo:
		s, err := mongodb.New(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
		return s, s.Close, nil

	default:
		return nil, nil, fmt.Errorf("%s: %w: %q", op, config.ErrUnknownStorageDriver, cfg.Driver)
	}
}
