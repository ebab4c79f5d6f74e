package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"bugtrail/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// ErrConflict reports a stale write: the caller read an older version of the
// bug than the one currently stored.
var ErrConflict = errors.New("version conflict")

const bugColumns = `id,project_id,reported_by,assigned_to,sprint_id,title,description,status,priority,severity,type,tags_json,validated,version,created_at,updated_at`

func (r Repo) InsertBugTx(ctx context.Context, tx *sql.Tx, b domain.Bug) error {
	tags, err := marshalTags(b.Tags)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO bugs(`+bugColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		b.ID, b.ProjectID, b.ReportedBy, nullableStringPtr(b.AssignedTo), nullableStringPtr(b.SprintID),
		b.Title, nullable(b.Description), string(b.Status), b.Priority, b.Severity, b.Type,
		tags, boolToInt(b.Validated), b.Version, b.CreatedAt, b.UpdatedAt)
	return err
}

// UpdateBugTx writes the bug back with a compare-and-swap on its version.
// b.Version must be the version the caller read; on success the stored row
// carries b.Version+1. A stale version yields ErrConflict.
func (r Repo) UpdateBugTx(ctx context.Context, tx *sql.Tx, b domain.Bug) (domain.Bug, error) {
	tags, err := marshalTags(b.Tags)
	if err != nil {
		return b, err
	}
	res, err := tx.ExecContext(ctx, `UPDATE bugs SET assigned_to=?, sprint_id=?, title=?, description=?, status=?, priority=?, severity=?, type=?, tags_json=?, validated=?, version=version+1, updated_at=? WHERE id=? AND version=?`,
		nullableStringPtr(b.AssignedTo), nullableStringPtr(b.SprintID), b.Title, nullable(b.Description),
		string(b.Status), b.Priority, b.Severity, b.Type, tags, boolToInt(b.Validated), b.UpdatedAt, b.ID, b.Version)
	if err != nil {
		return b, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return b, err
	}
	if affected == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM bugs WHERE id=?`, b.ID).Scan(&exists)
		if err == sql.ErrNoRows {
			return b, ErrNotFound
		}
		if err != nil {
			return b, err
		}
		return b, ErrConflict
	}
	b.Version++
	return b, nil
}

func (r Repo) GetBug(ctx context.Context, id string) (domain.Bug, error) {
	return scanBug(r.DB.QueryRowContext(ctx, `SELECT `+bugColumns+` FROM bugs WHERE id=?`, id))
}

func (r Repo) GetBugTx(ctx context.Context, tx *sql.Tx, id string) (domain.Bug, error) {
	return scanBug(tx.QueryRowContext(ctx, `SELECT `+bugColumns+` FROM bugs WHERE id=?`, id))
}

type BugFilters struct {
	ProjectID  string
	Status     string
	AssigneeID string
	Limit      int
}

func (r Repo) ListBugs(ctx context.Context, f BugFilters) ([]domain.Bug, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.AssigneeID != "" {
		clauses = append(clauses, "assigned_to=?")
		args = append(args, f.AssigneeID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + bugColumns + ` FROM bugs ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Bug
	for rows.Next() {
		b, err := scanBugRow(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBug(row *sql.Row) (domain.Bug, error) {
	b, err := scanBugRow(row)
	if err == sql.ErrNoRows {
		return b, ErrNotFound
	}
	return b, err
}

func scanBugRow(row rowScanner) (domain.Bug, error) {
	var b domain.Bug
	var assignedTo, sprintID, description, tagsJSON sql.NullString
	var status string
	var validated int
	err := row.Scan(&b.ID, &b.ProjectID, &b.ReportedBy, &assignedTo, &sprintID, &b.Title, &description,
		&status, &b.Priority, &b.Severity, &b.Type, &tagsJSON, &validated, &b.Version, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return b, err
	}
	b.Status = domain.Status(status)
	b.Validated = validated != 0
	if assignedTo.Valid {
		b.AssignedTo = &assignedTo.String
	}
	if sprintID.Valid {
		b.SprintID = &sprintID.String
	}
	if description.Valid {
		b.Description = description.String
	}
	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &b.Tags); err != nil {
			return b, err
		}
	}
	return b, nil
}

func marshalTags(tags []string) (any, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
