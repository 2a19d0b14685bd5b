package app

import (
	"context"
	"errors"
	"fmt"

	"opsline/internal/config"
	"opsline/internal/repo"
)

// ResolveConfig loads the workspace config from the DB, seeding and
// persisting the defaults on first use. A config file at the workspace
// path, when present, overrides the seed.
func ResolveConfig(ctx context.Context, workspace string, r repo.Repo) (*config.Config, error) {
	cfg, err := r.GetWorkspaceConfig(ctx)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	cfg, err = config.Load(workspace)
	if err != nil {
		cfg = config.Default("workspace")
	}
	if err := r.UpsertWorkspaceConfig(ctx, cfg); err != nil {
		return nil, fmt.Errorf("seed workspace config: %w", err)
	}
	return cfg, nil
}
