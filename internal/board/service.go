package board

import (
	"context"

	"bugtrail/internal/domain"
	"bugtrail/internal/engine"
)

// EngineService adapts the in-process engine to the board Service interface,
// binding the explicit actor identity the engine requires.
type EngineService struct {
	Engine  engine.Engine
	ActorID string
	Role    domain.Role
}

func (s EngineService) GetBug(ctx context.Context, id string) (domain.Bug, error) {
	return s.Engine.Repo.GetBug(ctx, id)
}

func (s EngineService) UpdateStatus(ctx context.Context, id string, status domain.Status, expectedVersion *int64) (domain.Bug, error) {
	return s.Engine.UpdateStatus(ctx, engine.UpdateStatusOptions{
		BugID:           id,
		NewStatus:       status,
		ActorID:         s.ActorID,
		ActorRole:       s.Role,
		ExpectedVersion: expectedVersion,
	})
}

func (s EngineService) Validate(ctx context.Context, id string) (domain.Bug, error) {
	return s.Engine.Validate(ctx, engine.ValidateOptions{
		BugID:     id,
		ActorID:   s.ActorID,
		ActorRole: s.Role,
	})
}
