package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Audit actions.
const (
	ActionCreated   = "created"
	ActionDropped   = "dropped"
	ActionProcedure = "procedure"
)

// AuditEntry records one host-side event for a task.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At       time.Time `json:"at"`
	Task     string    `json:"task"`
	Instance string    `json:"instance,omitempty"`
	Class    string    `json:"class,omitempty"`
	Action   string    `json:"action"`
	Target   string    `json:"target,omitempty"`
	Status   string    `json:"status,omitempty"`
	Error    string    `json:"error,omitempty"`
	TookMS   int64     `json:"took_ms"`
}
