// Package board implements the optimistic-update contract for a kanban-style
// status board. The reconciler applies drag-and-drop moves speculatively and
// reconciles with the authoritative engine result, rolling local state back on
// any denial or transport failure.
package board

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"bugtrail/internal/domain"
	"bugtrail/internal/engine"
	"bugtrail/internal/policy"
	"bugtrail/internal/repo"
)

// Service is the authoritative lifecycle surface the board talks to: the
// in-process engine or an HTTP SDK client.
type Service interface {
	GetBug(ctx context.Context, id string) (domain.Bug, error)
	UpdateStatus(ctx context.Context, id string, status domain.Status, expectedVersion *int64) (domain.Bug, error)
	Validate(ctx context.Context, id string) (domain.Bug, error)
}

// ErrNoDrag reports a Drop or ConfirmClose without a preceding BeginDrag.
var ErrNoDrag = errors.New("no drag in progress")

// ErrValidationRequired is returned by ConfirmClose when the pending drop was
// lost (for example after a rollback).
var ErrValidationRequired = errors.New("no close pending confirmation")

// DropResult describes the outcome of a drop.
type DropResult struct {
	// NeedsValidation is set when the drop targeted Closed with an
	// unvalidated bug. No mutation was issued; the caller must prompt and
	// call ConfirmClose or CancelClose.
	NeedsValidation bool
	Bug             domain.Bug
}

type dragState struct {
	bugID  string
	before domain.Bug
	target domain.Status
}

// Reconciler owns transient, client-local speculative copies of bug state,
// never authoritative state.
type Reconciler struct {
	svc Service

	mu      sync.Mutex
	bugs    map[string]domain.Bug
	drag    *dragState
	pending *dragState
}

func NewReconciler(svc Service) *Reconciler {
	return &Reconciler{
		svc:  svc,
		bugs: make(map[string]domain.Bug),
	}
}

// SetBugs seeds or replaces the local board state with authoritative bugs.
func (r *Reconciler) SetBugs(bugs []domain.Bug) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bugs = make(map[string]domain.Bug, len(bugs))
	for _, b := range bugs {
		r.bugs[b.ID] = b
	}
}

// Bug returns the board's current (possibly speculative) copy of a bug.
func (r *Reconciler) Bug(id string) (domain.Bug, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bugs[id]
	return b, ok
}

// Columns groups the local bugs by status in board-column order.
func (r *Reconciler) Columns() map[domain.Status][]domain.Bug {
	r.mu.Lock()
	defer r.mu.Unlock()
	cols := make(map[domain.Status][]domain.Bug, len(domain.Statuses))
	for _, s := range domain.Statuses {
		cols[s] = nil
	}
	for _, b := range r.bugs {
		cols[b.Status] = append(cols[b.Status], b)
	}
	return cols
}

// BeginDrag captures the bug's pre-drag state.
func (r *Reconciler) BeginDrag(bugID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bugs[bugID]
	if !ok {
		return fmt.Errorf("bug %s not on board", bugID)
	}
	r.drag = &dragState{bugID: bugID, before: b}
	return nil
}

// Drop moves the dragged bug onto the target column. The move is applied
// speculatively, then reconciled against the engine's answer. Dropping an
// unvalidated bug onto Closed issues no mutation at all: the caller gets
// NeedsValidation and must confirm via ConfirmClose.
func (r *Reconciler) Drop(ctx context.Context, target domain.Status) (DropResult, error) {
	r.mu.Lock()
	drag := r.drag
	r.drag = nil
	if drag == nil {
		r.mu.Unlock()
		return DropResult{}, ErrNoDrag
	}
	before := drag.before
	if target == before.Status {
		r.mu.Unlock()
		return DropResult{Bug: before}, nil
	}
	if target == domain.StatusClosed && !before.Validated {
		drag.target = target
		r.pending = drag
		r.mu.Unlock()
		return DropResult{NeedsValidation: true, Bug: before}, nil
	}
	speculative := before
	speculative.Status = target
	// Dragging a bug away from Closed speculatively revokes its validation;
	// the authoritative response confirms or corrects this.
	if target != domain.StatusResolved && target != domain.StatusClosed {
		speculative.Validated = false
	}
	r.bugs[drag.bugID] = speculative
	r.mu.Unlock()

	ver := before.Version
	updated, err := r.svc.UpdateStatus(ctx, drag.bugID, target, &ver)
	if err != nil {
		r.rollback(ctx, drag.bugID, before)
		return DropResult{Bug: before}, err
	}
	r.mu.Lock()
	r.bugs[drag.bugID] = updated
	r.mu.Unlock()
	return DropResult{Bug: updated}, nil
}

// ConfirmClose performs the validate-then-close sequence for a drop that
// required validation. The two calls are deliberately sequential, not atomic:
// a failure after validate succeeds leaves the bug validated-but-Resolved,
// which is a recoverable state the board simply refetches.
func (r *Reconciler) ConfirmClose(ctx context.Context) (domain.Bug, error) {
	r.mu.Lock()
	pending := r.pending
	r.pending = nil
	r.mu.Unlock()
	if pending == nil {
		return domain.Bug{}, ErrValidationRequired
	}
	validated, err := r.svc.Validate(ctx, pending.bugID)
	if err != nil {
		r.rollback(ctx, pending.bugID, pending.before)
		return domain.Bug{}, err
	}
	r.mu.Lock()
	r.bugs[pending.bugID] = validated
	r.mu.Unlock()

	ver := validated.Version
	closed, err := r.svc.UpdateStatus(ctx, pending.bugID, domain.StatusClosed, &ver)
	if err != nil {
		// Validation already landed; refetch rather than restore the
		// pre-drag snapshot.
		r.rollback(ctx, pending.bugID, validated)
		return validated, err
	}
	r.mu.Lock()
	r.bugs[pending.bugID] = closed
	r.mu.Unlock()
	return closed, nil
}

// CancelClose abandons a pending close and restores the pre-drag state.
func (r *Reconciler) CancelClose() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending == nil {
		return
	}
	r.bugs[r.pending.bugID] = r.pending.before
	r.pending = nil
}

// rollback discards speculative state and replaces it with the authoritative
// record, falling back to the supplied snapshot when the refetch also fails.
// Mutations are never retried here.
func (r *Reconciler) rollback(ctx context.Context, bugID string, fallback domain.Bug) {
	authoritative, err := r.svc.GetBug(ctx, bugID)
	if err != nil {
		authoritative = fallback
	}
	r.mu.Lock()
	r.bugs[bugID] = authoritative
	r.mu.Unlock()
}

// UserMessage translates engine denials into text suitable for the board UI.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var fe policy.ForbiddenError
	if errors.As(err, &fe) {
		return fmt.Sprintf("Not allowed: %s", fe.Reason)
	}
	var se engine.InvalidStateError
	if errors.As(err, &se) {
		return fmt.Sprintf("Not possible right now: %s", se.Reason)
	}
	if errors.Is(err, repo.ErrConflict) {
		return "This bug changed while you were working; the board has been refreshed"
	}
	return err.Error()
}
