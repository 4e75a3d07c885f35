package commands

import (
	"fmt"
	"os"

	"github.com/benvon/learning-stats/internal/bootstrap"
	"github.com/benvon/learning-stats/internal/cascade"
	"github.com/benvon/learning-stats/internal/config"
	"github.com/benvon/learning-stats/internal/logger"
	"go.uber.org/zap"
)

// environment is the store and coordinator a command operates on
type environment struct {
	cfg         *config.Config
	logger      *zap.Logger
	store       *bootstrap.Store
	coordinator *cascade.Coordinator
}

func openEnvironment(debug bool) (*environment, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	zapLogger, err := logger.NewDevelopmentLogger(debug)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	store, err := bootstrap.OpenStore(cfg, zapLogger)
	if err != nil {
		return nil, err
	}

	return &environment{
		cfg:         cfg,
		logger:      zapLogger,
		store:       store,
		coordinator: bootstrap.NewCoordinator(bootstrap.NewRepositories(store, cfg, zapLogger), zapLogger),
	}, nil
}

func (e *environment) close() {
	e.coordinator.Wait()
	if err := e.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close record store: %v\n", err)
	}
	_ = logger.Sync(e.logger)
}
