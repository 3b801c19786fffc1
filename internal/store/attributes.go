package store

import (
	"context"
	"fmt"
	"strings"
)

// UserAttributeSingles returns the newest value of every single-valued
// attribute, keyed by the stored key.
func (r *repository) UserAttributeSingles(ctx context.Context) (map[string]string, error) {
	rows, err := r.userAttributeRows(ctx, false)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	seen := make(map[string]struct{})
	for _, row := range rows {
		folded := strings.ToLower(row.Key)
		if _, ok := seen[folded]; ok {
			continue
		}
		seen[folded] = struct{}{}
		out[row.Key] = row.Value.String
	}
	return out, nil
}

// UserAttributeLists returns every list attribute. When several generations
// of a list exist, only the newest one is returned.
func (r *repository) UserAttributeLists(ctx context.Context) (map[string][]string, error) {
	rows, err := r.userAttributeRows(ctx, true)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string)
	newest := make(map[string]int64)
	keys := make(map[string]string)
	for _, row := range rows {
		folded := strings.ToLower(row.Key)
		if ts, ok := newest[folded]; ok && ts != row.CreatedAt {
			continue
		}
		if _, ok := keys[folded]; !ok {
			keys[folded] = row.Key
			newest[folded] = row.CreatedAt
		}
		key := keys[folded]
		out[key] = append(out[key], row.Value.String)
	}
	return out, nil
}

func (r *repository) userAttributeRows(ctx context.Context, isList bool) ([]userAttributeRow, error) {
	query := `
		SELECT attribute_key, attribute_value, is_list, created_at
		FROM user_attributes
		WHERE is_list = ?
		ORDER BY attribute_key, created_at DESC, id ASC
	`
	var rows []userAttributeRow
	if err := r.selectRows(ctx, &rows, query, isList); err != nil {
		return nil, fmt.Errorf("failed to query user attributes: %w", err)
	}
	return rows, nil
}

// DeleteUserAttribute removes every row of key, compared case-insensitively.
func (r *repository) DeleteUserAttribute(ctx context.Context, key string) (int64, error) {
	n, err := r.exec(ctx, `DELETE FROM user_attributes WHERE attribute_key = ?`, key)
	if err != nil {
		return 0, fmt.Errorf("failed to delete user attribute: %w", err)
	}
	return n, nil
}

func (r *repository) InsertUserAttribute(ctx context.Context, key, value string, isList bool, createdAt int64) error {
	if _, err := r.exec(ctx, `
		INSERT INTO user_attributes (attribute_key, attribute_value, is_list, created_at)
		VALUES (?, ?, ?, ?)
	`, key, value, isList, createdAt); err != nil {
		return fmt.Errorf("failed to insert user attribute: %w", err)
	}
	return nil
}
