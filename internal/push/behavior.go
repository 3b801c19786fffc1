package push

import "strings"

type Behavior int

const (
	BehaviorReceived Behavior = 1 << iota
	BehaviorDirectOpen
	BehaviorRead
	BehaviorInfluenceOpen
	BehaviorDisplayed
)

func (b Behavior) Has(flag Behavior) bool {
	return b&flag == flag
}

func (b Behavior) String() string {
	var parts []string
	for _, f := range []struct {
		flag Behavior
		name string
	}{
		{BehaviorReceived, "received"},
		{BehaviorDirectOpen, "direct-open"},
		{BehaviorRead, "read"},
		{BehaviorInfluenceOpen, "influence-open"},
		{BehaviorDisplayed, "displayed"},
	} {
		if b.Has(f.flag) {
			parts = append(parts, f.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ",")
}

// Resolution is the outcome of merging an incoming behavior update into the
// bitmask already stored for a content id.
type Resolution struct {
	// Incoming is the update with sticky bits removed. It replaces the
	// behavior carried by the push-received record.
	Incoming Behavior
	// Merged is what gets persisted.
	Merged  Behavior
	Changed bool
	// NewlyDisplayed is set when the displayed bit is recorded for the first
	// time, so displayed_at must be stamped.
	NewlyDisplayed bool
}

// Resolve applies the attribution rules:
//
//	incoming DO and IO        -> ErrDuplicateBehavior
//	stored DO, incoming IO    -> ErrDuplicateBehavior
//	stored IO, incoming DO    -> ErrDuplicateBehavior
//	stored has R or D         -> R or D stripped from incoming
//	stored | incoming == stored -> unchanged, nothing persisted
//
// Read is never sticky and never conflicts.
func Resolve(stored, incoming Behavior) (Resolution, error) {
	if conflicting(incoming) {
		return Resolution{Merged: stored}, ErrDuplicateBehavior
	}
	if incoming.Has(BehaviorDirectOpen) && stored.Has(BehaviorInfluenceOpen) {
		return Resolution{Merged: stored}, ErrDuplicateBehavior
	}
	if incoming.Has(BehaviorInfluenceOpen) && stored.Has(BehaviorDirectOpen) {
		return Resolution{Merged: stored}, ErrDuplicateBehavior
	}

	if stored.Has(BehaviorReceived) {
		incoming &^= BehaviorReceived
	}
	if stored.Has(BehaviorDisplayed) {
		incoming &^= BehaviorDisplayed
	}

	merged := stored | incoming
	if conflicting(merged) {
		return Resolution{Merged: stored}, ErrDuplicateBehavior
	}
	return Resolution{
		Incoming:       incoming,
		Merged:         merged,
		Changed:        merged != stored,
		NewlyDisplayed: incoming.Has(BehaviorDisplayed),
	}, nil
}

// conflicting reports a bitmask attributing the same push as both a direct
// and an influence open.
func conflicting(b Behavior) bool {
	return b.Has(BehaviorDirectOpen) && b.Has(BehaviorInfluenceOpen)
}
