package repo

import (
	"context"
	"database/sql"

	"bugtrail/internal/domain"
)

func (r Repo) InsertProject(ctx context.Context, p domain.Project) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO projects(id,name,description,created_at) VALUES (?,?,?,?)`,
		p.ID, p.Name, nullable(p.Description), p.CreatedAt)
	return err
}

// EnsureProject inserts the project if no row with that id exists yet.
func (r Repo) EnsureProject(ctx context.Context, p domain.Project) error {
	_, err := r.DB.ExecContext(ctx, `INSERT OR IGNORE INTO projects(id,name,description,created_at) VALUES (?,?,?,?)`,
		p.ID, p.Name, nullable(p.Description), p.CreatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	var p domain.Project
	var desc sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,description,created_at FROM projects WHERE id=?`, id).
		Scan(&p.ID, &p.Name, &desc, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if desc.Valid {
		p.Description = desc.String
	}
	return p, err
}

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,description,created_at FROM projects ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		var p domain.Project
		var desc sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &desc, &p.CreatedAt); err != nil {
			return nil, err
		}
		if desc.Valid {
			p.Description = desc.String
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) InsertSprint(ctx context.Context, s domain.Sprint) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO sprints(id,project_id,name,starts_at,ends_at,created_at) VALUES (?,?,?,?,?,?)`,
		s.ID, s.ProjectID, s.Name, nullable(s.StartsAt), nullable(s.EndsAt), s.CreatedAt)
	return err
}

func (r Repo) GetSprint(ctx context.Context, id string) (domain.Sprint, error) {
	var s domain.Sprint
	var startsAt, endsAt sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,project_id,name,starts_at,ends_at,created_at FROM sprints WHERE id=?`, id).
		Scan(&s.ID, &s.ProjectID, &s.Name, &startsAt, &endsAt, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if startsAt.Valid {
		s.StartsAt = startsAt.String
	}
	if endsAt.Valid {
		s.EndsAt = endsAt.String
	}
	return s, err
}

func (r Repo) ListSprints(ctx context.Context, projectID string) ([]domain.Sprint, error) {
	query := `SELECT id,project_id,name,starts_at,ends_at,created_at FROM sprints`
	var args []any
	if projectID != "" {
		query += ` WHERE project_id=?`
		args = append(args, projectID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Sprint
	for rows.Next() {
		var s domain.Sprint
		var startsAt, endsAt sql.NullString
		if err := rows.Scan(&s.ID, &s.ProjectID, &s.Name, &startsAt, &endsAt, &s.CreatedAt); err != nil {
			return nil, err
		}
		if startsAt.Valid {
			s.StartsAt = startsAt.String
		}
		if endsAt.Valid {
			s.EndsAt = endsAt.String
		}
		res = append(res, s)
	}
	return res, rows.Err()
}
