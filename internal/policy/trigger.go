package policy

import "github.com/Wuchinator/analytics-sdk-core/internal/message"

// ShouldTrigger decides whether a stored record warrants an immediate upload.
// Push receipts, commerce events and transitions to background always do.
// Otherwise the record must satisfy every constraint of at least one match
// rule, or its type-name hash must be listed.
func (c *Config) ShouldTrigger(m *message.Message) bool {
	if alwaysTriggers(m) {
		return true
	}
	if c == nil {
		return false
	}
	for _, rule := range c.MessageMatches {
		if matchesRule(rule, m) {
			return true
		}
	}
	if len(c.TriggerHashes) > 0 {
		hash := m.TypeNameHash()
		for _, h := range c.TriggerHashes {
			if h == hash {
				return true
			}
		}
	}
	return false
}

func alwaysTriggers(m *message.Message) bool {
	switch m.Type() {
	case message.TypePushReceived, message.TypeCommerceEvent:
		return true
	case message.TypeAppStateTransition:
		t, _ := m.GetString(message.KeyStateTransitionType)
		return t == message.StateTransitionBackground
	}
	return false
}

// matchesRule requires every key of rule to be present in m with an equal
// value. An empty rule matches nothing.
func matchesRule(rule, m *message.Message) bool {
	if rule.Len() == 0 {
		return false
	}
	for _, key := range rule.Keys() {
		want, _ := rule.Get(key)
		got, ok := m.Get(key)
		if !ok || !message.ValuesEqual(want, got) {
			return false
		}
	}
	return true
}
