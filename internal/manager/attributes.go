package manager

import (
	"context"
	"fmt"

	"github.com/Wuchinator/analytics-sdk-core/internal/queue"
)

func (m *Manager) SetUserAttribute(key, value string) error {
	if key == "" {
		return fmt.Errorf("attribute key is empty")
	}
	if !m.enabled() {
		return ErrDisabled
	}
	m.submit(queue.SetUserAttribute{Singles: map[string]string{key: value}, Time: m.now().UnixMilli()})
	if m.kits != nil {
		m.kits.SetUserAttribute(key, value)
	}
	return nil
}

func (m *Manager) SetUserAttributeList(key string, values []string) error {
	if key == "" {
		return fmt.Errorf("attribute key is empty")
	}
	if !m.enabled() {
		return ErrDisabled
	}
	cp := append([]string(nil), values...)
	m.submit(queue.SetUserAttribute{Lists: map[string][]string{key: cp}, Time: m.now().UnixMilli()})
	return nil
}

func (m *Manager) RemoveUserAttribute(key string) error {
	if !m.enabled() {
		return ErrDisabled
	}
	m.submit(queue.RemoveUserAttribute{Key: key, Time: m.now().UnixMilli()})
	return nil
}

// IncrementUserAttribute adds delta to a numeric attribute, creating it when
// missing. List attributes are rejected by the queue.
func (m *Manager) IncrementUserAttribute(key string, delta int) error {
	if !m.enabled() {
		return ErrDisabled
	}
	m.submit(queue.IncrementUserAttribute{Key: key, Delta: delta, Time: m.now().UnixMilli()})
	return nil
}

// UserAttributes reads the stored attributes. Mutations still queued are not
// visible yet.
func (m *Manager) UserAttributes(ctx context.Context) (map[string]any, error) {
	repo, err := m.open(ctx)
	if err != nil {
		return nil, err
	}
	singles, err := repo.UserAttributeSingles(ctx)
	if err != nil {
		return nil, err
	}
	lists, err := repo.UserAttributeLists(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(singles)+len(lists))
	for k, v := range singles {
		out[k] = v
	}
	for k, v := range lists {
		out[k] = v
	}
	return out, nil
}
