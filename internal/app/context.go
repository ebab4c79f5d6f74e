package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bugtrail/internal/config"
	"bugtrail/internal/domain"
	"bugtrail/internal/repo"
)

// Bootstrap ensures the configured project and seed users exist in the
// database. It is idempotent and safe to run on every startup.
func Bootstrap(ctx context.Context, cfg *config.Config, r repo.Repo) error {
	if cfg == nil {
		return fmt.Errorf("config required")
	}
	now := time.Now().UTC().Format(time.RFC3339)
	name := cfg.Project.Name
	if name == "" {
		name = cfg.Project.ID
	}
	if err := r.EnsureProject(ctx, domain.Project{
		ID:        cfg.Project.ID,
		Name:      name,
		CreatedAt: now,
	}); err != nil {
		return fmt.Errorf("ensure project: %w", err)
	}
	for _, u := range cfg.Users {
		if err := r.EnsureUser(ctx, domain.User{
			ID:        u.ID,
			Name:      u.Name,
			Email:     u.Email,
			Role:      domain.Role(u.Role),
			CreatedAt: now,
		}); err != nil {
			return fmt.Errorf("ensure user %s: %w", u.ID, err)
		}
	}
	return nil
}

// ResolveProject picks the active project: the override when given, otherwise
// the configured default, otherwise the single project in the database.
func ResolveProject(ctx context.Context, cfg *config.Config, projectOverride string, r repo.Repo) (string, error) {
	if projectOverride != "" {
		return projectOverride, nil
	}
	if cfg != nil && cfg.Project.ID != "" {
		return cfg.Project.ID, nil
	}
	projects, err := r.ListProjects(ctx)
	if err != nil {
		return "", err
	}
	switch len(projects) {
	case 0:
		return "", errors.New("no projects exist; create one first")
	case 1:
		return projects[0].ID, nil
	default:
		return "", errors.New("multiple projects exist; specify --project")
	}
}
