package repo

import (
	"context"
	"database/sql"

	"bugtrail/internal/domain"
)

func (r Repo) InsertCommentTx(ctx context.Context, tx *sql.Tx, c domain.Comment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO comments(id,bug_id,author_id,message,created_at) VALUES (?,?,?,?,?)`,
		c.ID, c.BugID, c.AuthorID, c.Message, c.CreatedAt)
	return err
}

func (r Repo) ListComments(ctx context.Context, bugID string) ([]domain.Comment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,bug_id,author_id,message,created_at FROM comments WHERE bug_id=? ORDER BY created_at DESC, id DESC`, bugID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Comment
	for rows.Next() {
		var c domain.Comment
		if err := rows.Scan(&c.ID, &c.BugID, &c.AuthorID, &c.Message, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
