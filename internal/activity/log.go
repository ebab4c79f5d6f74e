// Package activity owns the append-only audit trail. Entries are written once
// inside the mutating transaction and never updated or deleted afterwards.
package activity

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"bugtrail/internal/domain"
)

// Log appends and reads activity records. It is the single source of truth
// for what happened, when and by whom; it knows nothing about other entities
// beyond their ids.
type Log struct {
	DB  *sql.DB
	Now func() time.Time
}

// Entry describes one event to append. Target payloads are explicit fields,
// decoded exactly once at write time.
type Entry struct {
	BugID      string
	Action     domain.Action
	NewStatus  *domain.Status
	AssigneeID *string
	ActorID    string
}

// Append writes one activity row with a server-assigned timestamp. Domain
// rules never fail an append; only infrastructure errors do.
func (l Log) Append(ctx context.Context, tx *sql.Tx, e Entry) (domain.Activity, error) {
	now := l.Now
	if now == nil {
		now = time.Now
	}
	a := domain.Activity{
		ID:         uuid.New().String(),
		BugID:      e.BugID,
		Action:     e.Action,
		NewStatus:  e.NewStatus,
		AssigneeID: e.AssigneeID,
		ActorID:    e.ActorID,
		TS:         now().UTC().Format(time.RFC3339),
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO activities(id,bug_id,action,new_status,assignee_id,actor_id,ts) VALUES (?,?,?,?,?,?,?)`,
		a.ID, a.BugID, string(a.Action), nullableStatus(a.NewStatus), nullableString(a.AssigneeID), a.ActorID, a.TS)
	if err != nil {
		return domain.Activity{}, fmt.Errorf("append activity: %w", err)
	}
	a.Seq, err = res.LastInsertId()
	if err != nil {
		return domain.Activity{}, fmt.Errorf("append activity: %w", err)
	}
	return a, nil
}

// ListByBug returns every activity for the bug, newest first. Ties on the
// timestamp are broken by insertion order.
func (l Log) ListByBug(ctx context.Context, bugID string) ([]domain.Activity, error) {
	return l.list(ctx, `SELECT seq,id,bug_id,action,new_status,assignee_id,actor_id,ts FROM activities WHERE bug_id=? ORDER BY ts DESC, seq DESC`, bugID)
}

// ListRecent returns the limit most recent activities across all bugs.
func (l Log) ListRecent(ctx context.Context, limit int) ([]domain.Activity, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}
	return l.list(ctx, `SELECT seq,id,bug_id,action,new_status,assignee_id,actor_id,ts FROM activities ORDER BY ts DESC, seq DESC LIMIT ?`, limit)
}

// ListAfter returns activities with sequence numbers greater than cursor in
// ascending order, for consumers that tail the log.
func (l Log) ListAfter(ctx context.Context, cursor int64, limit int) ([]domain.Activity, error) {
	if limit <= 0 {
		limit = 100
	}
	return l.list(ctx, `SELECT seq,id,bug_id,action,new_status,assignee_id,actor_id,ts FROM activities WHERE seq>? ORDER BY seq ASC LIMIT ?`, cursor, limit)
}

func (l Log) list(ctx context.Context, query string, args ...any) ([]domain.Activity, error) {
	rows, err := l.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Activity
	for rows.Next() {
		var a domain.Activity
		var action string
		var newStatus, assignee sql.NullString
		if err := rows.Scan(&a.Seq, &a.ID, &a.BugID, &action, &newStatus, &assignee, &a.ActorID, &a.TS); err != nil {
			return nil, err
		}
		a.Action = domain.Action(action)
		if newStatus.Valid {
			s := domain.Status(newStatus.String)
			a.NewStatus = &s
		}
		if assignee.Valid {
			a.AssigneeID = &assignee.String
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func nullableStatus(s *domain.Status) any {
	if s == nil {
		return nil
	}
	return string(*s)
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
