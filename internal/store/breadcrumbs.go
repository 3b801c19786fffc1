package store

import (
	"context"
	"fmt"
)

// InsertBreadcrumb stores b and trims the table to the newest limit rows in
// the same transaction.
func (r *repository) InsertBreadcrumb(ctx context.Context, b *Breadcrumb, limit int) error {
	return r.InTx(ctx, func(tx Repository) error {
		txr := tx.(*repository)

		res, err := txr.q.ExecContext(ctx, `
			INSERT INTO breadcrumbs (api_key, created_at, session_id, message)
			VALUES (?, ?, ?, ?)
		`, b.APIKey, b.CreatedAt, b.SessionID, b.Message)
		if err != nil {
			return fmt.Errorf("failed to insert breadcrumb: %w", err)
		}
		if id, err := res.LastInsertId(); err == nil {
			b.ID = id
		}

		if limit <= 0 {
			return nil
		}
		if _, err := txr.exec(ctx, `
			DELETE FROM breadcrumbs
			WHERE id NOT IN (SELECT id FROM breadcrumbs ORDER BY id DESC LIMIT ?)
		`, limit); err != nil {
			return fmt.Errorf("failed to trim breadcrumbs: %w", err)
		}
		return nil
	})
}

// RecentBreadcrumbs returns up to limit breadcrumbs, newest first.
func (r *repository) RecentBreadcrumbs(ctx context.Context, limit int) ([]Breadcrumb, error) {
	query := `
		SELECT id, api_key, created_at, session_id, message
		FROM breadcrumbs
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`
	var crumbs []Breadcrumb
	if err := r.selectRows(ctx, &crumbs, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list breadcrumbs: %w", err)
	}
	return crumbs, nil
}

func (r *repository) CountBreadcrumbs(ctx context.Context) (int, error) {
	var n int
	if err := r.get(ctx, &n, `SELECT COUNT(*) FROM breadcrumbs`); err != nil {
		return 0, fmt.Errorf("failed to count breadcrumbs: %w", err)
	}
	return n, nil
}
