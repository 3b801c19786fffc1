package store

import (
	"context"
	"errors"
	"fmt"
)

func (r *repository) GetPreference(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.get(ctx, &value, `SELECT pref_value FROM preferences WHERE pref_key = ?`, key)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read preference %s: %w", key, err)
	}
	return value, true, nil
}

func (r *repository) SetPreference(ctx context.Context, key, value string) error {
	if _, err := r.exec(ctx, `
		INSERT INTO preferences (pref_key, pref_value) VALUES (?, ?)
		ON CONFLICT (pref_key) DO UPDATE SET pref_value = excluded.pref_value
	`, key, value); err != nil {
		return fmt.Errorf("failed to write preference %s: %w", key, err)
	}
	return nil
}
