package audit

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/chokdee888/backend/internal/models"
)

// ErrPermissionDenied is returned before any side effect when the actor
// lacks the required capability.
var ErrPermissionDenied = errors.New("permission denied")

// Event is the structured form of every audit log line.
type Event struct {
	Timestamp  time.Time `json:"timestamp"`
	EventType  string    `json:"event_type"`
	TargetType string    `json:"target_type"`
	TargetID   int64     `json:"target_id"`
	Field      string    `json:"field"`
	OldValue   string    `json:"old_value"`
	NewValue   string    `json:"new_value"`
	ActorID    int64     `json:"actor_id"`
	Details    any       `json:"details,omitempty"`
}

// Gate is the cross-cutting guard consulted by every mutating entry point:
// Authorize before any state change, Record after the change commits.
type Gate struct {
	db *sql.DB
}

func NewGate(db *sql.DB) *Gate {
	return &Gate{db: db}
}

// Authorize checks the actor's capability set. Super admins bypass the
// granular check. The check happens against the set already resolved for
// this request; no permission blob is re-parsed here.
func (g *Gate) Authorize(actor models.Actor, domain, action string) error {
	if actor.Super {
		return nil
	}
	if actor.Caps.Allows(domain, action) {
		return nil
	}
	return fmt.Errorf("%w: %s.%s", ErrPermissionDenied, domain, action)
}

// Record writes one field-level edit_logs row. It is best-effort logging
// layered after the authoritative state change: a failed insert is logged
// and swallowed, never failing the parent operation.
func (g *Gate) Record(targetType string, targetID int64, field, oldValue, newValue string, actorID int64) {
	event := Event{
		Timestamp:  time.Now(),
		EventType:  "EDIT",
		TargetType: targetType,
		TargetID:   targetID,
		Field:      field,
		OldValue:   oldValue,
		NewValue:   newValue,
		ActorID:    actorID,
	}
	g.emit(event)

	_, err := g.db.Exec(`
		INSERT INTO edit_logs (target_type, target_id, field, old_value, new_value, admin_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		targetType, targetID, field, oldValue, newValue, actorID, time.Now())
	if err != nil {
		log.Printf("[AUDIT] Failed to persist edit log for %s/%d.%s: %v", targetType, targetID, field, err)
	}
}

// RecordHighRisk marks operator-retained funds and similar actions that
// need to stand out in the trail.
func (g *Gate) RecordHighRisk(targetType string, targetID int64, field, detail string, actorID int64) {
	event := Event{
		Timestamp:  time.Now(),
		EventType:  "HIGH_RISK",
		TargetType: targetType,
		TargetID:   targetID,
		Field:      field,
		ActorID:    actorID,
		Details:    map[string]string{"detail": detail},
	}
	g.emit(event)

	_, err := g.db.Exec(`
		INSERT INTO edit_logs (target_type, target_id, field, old_value, new_value, admin_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		targetType, targetID, field, "", detail, actorID, time.Now())
	if err != nil {
		log.Printf("[AUDIT] Failed to persist high-risk log for %s/%d: %v", targetType, targetID, err)
	}
}

func (g *Gate) emit(event Event) {
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}
