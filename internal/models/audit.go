package models

import "time"

// AuditEntry records one scenario lifecycle action.
type AuditEntry struct {
	ID         string    `json:"id"`
	ScenarioID string    `json:"scenarioId"`
	Action     string    `json:"action"`
	Status     Status    `json:"status,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	At         time.Time `json:"at"`
}

const (
	AuditActivate   = "activate"
	AuditStop       = "stop"
	AuditReset      = "reset"
	AuditTransition = "transition"
)
