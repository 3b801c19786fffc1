package queue

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/Wuchinator/analytics-sdk-core/internal/store"
	"go.uber.org/zap"
)

type attributeSnapshot struct {
	singles map[string]string
	lists   map[string][]string
}

func (p *Processor) attributeSnapshot(ctx context.Context) (*attributeSnapshot, error) {
	singles, err := p.repo.UserAttributeSingles(ctx)
	if err != nil {
		return nil, err
	}
	lists, err := p.repo.UserAttributeLists(ctx)
	if err != nil {
		return nil, err
	}
	return &attributeSnapshot{singles: singles, lists: lists}, nil
}

func (s *attributeSnapshot) single(key string) (string, bool) {
	if v, ok := s.singles[key]; ok {
		return v, true
	}
	for k, v := range s.singles {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

func (s *attributeSnapshot) list(key string) ([]string, bool) {
	if v, ok := s.lists[key]; ok {
		return v, true
	}
	for k, v := range s.lists {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

// current returns the present value of key in either shape.
func (s *attributeSnapshot) current(key string) any {
	if v, ok := s.list(key); ok {
		return v
	}
	if v, ok := s.single(key); ok {
		return v
	}
	return nil
}

type attributeChange struct {
	key      string
	newValue any
	oldValue any
	isNew    bool
}

func (p *Processor) setUserAttribute(ctx context.Context, cmd SetUserAttribute) error {
	ts := cmd.Time
	if ts == 0 {
		ts = p.now().UnixMilli()
	}

	snap, err := p.attributeSnapshot(ctx)
	if err != nil {
		return err
	}

	var changes []attributeChange
	err = p.repo.InTx(ctx, func(tx store.Repository) error {
		for _, key := range sortedKeys(cmd.Lists) {
			values := cmd.Lists[key]
			if existing, ok := snap.list(key); ok && sameMembers(existing, values) {
				continue
			}
			n, err := tx.DeleteUserAttribute(ctx, key)
			if err != nil {
				return err
			}
			for _, v := range values {
				if err := tx.InsertUserAttribute(ctx, key, v, true, ts); err != nil {
					return err
				}
			}
			changes = append(changes, attributeChange{key: key, newValue: values, oldValue: snap.current(key), isNew: n == 0})
		}

		for _, key := range sortedKeys(cmd.Singles) {
			value := cmd.Singles[key]
			if existing, ok := snap.single(key); ok && strings.EqualFold(existing, value) {
				continue
			}
			n, err := tx.DeleteUserAttribute(ctx, key)
			if err != nil {
				return err
			}
			if err := tx.InsertUserAttribute(ctx, key, value, false, ts); err != nil {
				return err
			}
			changes = append(changes, attributeChange{key: key, newValue: value, oldValue: snap.current(key), isNew: n == 0})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("user attributes not changed: %w", err)
	}

	for _, c := range changes {
		p.callbacks.LogUserAttributeChange(c.key, c.newValue, c.oldValue, false, c.isNew, ts)
	}
	if len(changes) > 0 {
		p.logger.Debug("User attributes changed", zap.Int("count", len(changes)))
	}
	return nil
}

func (p *Processor) removeUserAttribute(ctx context.Context, cmd RemoveUserAttribute) error {
	ts := cmd.Time
	if ts == 0 {
		ts = p.now().UnixMilli()
	}

	snap, err := p.attributeSnapshot(ctx)
	if err != nil {
		return err
	}
	old := snap.current(cmd.Key)

	n, err := p.repo.DeleteUserAttribute(ctx, cmd.Key)
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	p.callbacks.AttributeRemoved(cmd.Key)
	p.callbacks.LogUserAttributeChange(cmd.Key, nil, old, true, false, ts)
	return nil
}

func (p *Processor) incrementUserAttribute(ctx context.Context, cmd IncrementUserAttribute) error {
	snap, err := p.attributeSnapshot(ctx)
	if err != nil {
		return err
	}
	if _, ok := snap.list(cmd.Key); ok {
		return fmt.Errorf("%w: %s", ErrListAttribute, cmd.Key)
	}

	var current int64
	if existing, ok := snap.single(cmd.Key); ok {
		current, err = strconv.ParseInt(strings.TrimSpace(existing), 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrNotNumeric, cmd.Key, existing)
		}
	}

	value := strconv.FormatInt(current+int64(cmd.Delta), 10)
	if err := p.setUserAttribute(ctx, SetUserAttribute{
		Singles: map[string]string{cmd.Key: value},
		Time:    cmd.Time,
	}); err != nil {
		return err
	}
	if p.kits != nil {
		p.kits.SetUserAttribute(cmd.Key, value)
	}
	return nil
}

// sameMembers compares two lists as sets. A new list that is a strict subset
// of the stored one is still written, so removed members do not linger.
func sameMembers(a, b []string) bool {
	return containsAll(a, b) && containsAll(b, a)
}

func containsAll(haystack, needles []string) bool {
	set := make(map[string]struct{}, len(haystack))
	for _, v := range haystack {
		set[v] = struct{}{}
	}
	for _, v := range needles {
		if _, ok := set[v]; !ok {
			return false
		}
	}
	return true
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
