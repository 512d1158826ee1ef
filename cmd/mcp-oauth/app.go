package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/wrale/mcp-oauth/internal/auth"
)

// app holds what every command needs
type app struct {
	cfg     Config
	logger  *zap.Logger
	manager *auth.Manager
	closers []func() error
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	providers, err := loadProviders(cfg.ProvidersFile)
	if err != nil {
		return nil, err
	}
	if len(providers) == 0 {
		logger.Warn("no providers configured", zap.String("env", envPrefix+"_PROVIDERS_FILE"))
	}

	store, closeStore, err := newStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating token store: %w", err)
	}

	manager, err := auth.NewManager(auth.Config{
		Providers:          providers,
		CallbackHost:       cfg.CallbackHost,
		CallbackPort:       cfg.CallbackPort,
		CallbackPath:       cfg.CallbackPath,
		FlowTimeout:        cfg.FlowTimeout,
		DisableAutoRefresh: cfg.DisableAutoRefresh,
		Store:              store,
		Namespace:          cfg.Namespace,
		Logger:             logger,
		OnAuthRequired: func(provider string) {
			logger.Info("authentication required", zap.String("provider", provider))
		},
	})
	if err != nil {
		_ = closeStore()
		return nil, err
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		manager: manager,
		closers: []func() error{closeStore},
	}, nil
}

// close stops the callback listener and releases the store
func (a *app) close(ctx context.Context) error {
	errs := []error{a.manager.Cleanup(ctx)}
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
