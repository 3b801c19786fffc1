package store

import (
	"context"
	"fmt"
)

// InsertReportingBatch writes all records or none.
func (r *repository) InsertReportingBatch(ctx context.Context, records []ReportingRecord) error {
	if len(records) == 0 {
		return nil
	}
	return r.InTx(ctx, func(tx Repository) error {
		txr := tx.(*repository)
		for i := range records {
			rec := &records[i]
			res, err := txr.q.ExecContext(ctx, `
				INSERT INTO reporting (created_at, module_id, message, session_id)
				VALUES (?, ?, ?, ?)
			`, rec.CreatedAt, rec.ModuleID, rec.Message, rec.SessionID)
			if err != nil {
				return fmt.Errorf("failed to insert reporting record %d: %w", i, err)
			}
			if id, err := res.LastInsertId(); err == nil {
				rec.ID = id
			}
		}
		return nil
	})
}

func (r *repository) ListReporting(ctx context.Context) ([]ReportingRecord, error) {
	var records []ReportingRecord
	if err := r.selectRows(ctx, &records, `
		SELECT id, created_at, module_id, message, session_id
		FROM reporting
		ORDER BY id ASC
	`); err != nil {
		return nil, fmt.Errorf("failed to list reporting records: %w", err)
	}
	return records, nil
}
