package models

import (
	"encoding/json"
)

// SystemActorID marks mutations performed by the system itself
// (e.g. the SMS reconciliation matcher) rather than a human admin.
const SystemActorID int64 = 0

// CapabilitySet is a role's permissions resolved once per request from the
// stored JSON blob into a typed value, keyed domain -> action -> allowed.
type CapabilitySet map[string]map[string]bool

// Allows reports whether the set grants action within domain.
func (c CapabilitySet) Allows(domain, action string) bool {
	actions, ok := c[domain]
	if !ok {
		return false
	}
	return actions[action]
}

// ParseCapabilities decodes a role's permissions blob. A malformed blob
// yields an empty set, never an error: a broken role grants nothing.
func ParseCapabilities(blob string) CapabilitySet {
	if blob == "" {
		return CapabilitySet{}
	}
	var caps CapabilitySet
	if err := json.Unmarshal([]byte(blob), &caps); err != nil {
		return CapabilitySet{}
	}
	return caps
}

// Actor is the resolved identity performing a mutation. Super bypasses
// granular capability checks. The system actor is always super.
type Actor struct {
	ID    int64
	Name  string
	Super bool
	Caps  CapabilitySet
}

// SystemActor is used for mutations driven by automated reconciliation.
func SystemActor() Actor {
	return Actor{ID: SystemActorID, Name: "system", Super: true}
}
