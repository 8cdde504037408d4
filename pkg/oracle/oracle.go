// Package oracle is the public library surface of smoke-test-oracle:
// one storage manager entry point plus thin query and checkpoint APIs
// composing store-level operations.
package oracle

import (
	"context"
	"log/slog"

	"github.com/adam-jackson-cf/smoke-test-oracle/internal/config"
	"github.com/adam-jackson-cf/smoke-test-oracle/internal/store"
	"github.com/adam-jackson-cf/smoke-test-oracle/internal/validate"
	"github.com/adam-jackson-cf/smoke-test-oracle/internal/visual"
)

// Client bundles the storage manager with the query, checkpoint, diff,
// and validation surfaces.
type Client struct {
	Manager     *store.Manager
	Query       *QueryAPI
	Checkpoints *CheckpointAPI
	Visual      *visual.Engine
	Validator   *validate.Validator
}

// Open builds and initializes a client for the configured base
// directory. custom may be nil; custom validation rules then fail as
// unsupported.
func Open(ctx context.Context, cfg *config.Config, custom validate.CustomEvaluator, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	manager, err := store.NewManager(cfg.Storage, logger)
	if err != nil {
		return nil, err
	}
	if err := manager.Initialize(ctx); err != nil {
		return nil, err
	}

	return &Client{
		Manager:     manager,
		Query:       &QueryAPI{manager: manager},
		Checkpoints: &CheckpointAPI{manager: manager},
		Visual:      visual.NewEngine(manager, logger),
		Validator:   validate.NewValidator(manager, custom, logger),
	}, nil
}
