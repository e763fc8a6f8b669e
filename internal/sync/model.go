// Package sync drains the local outbox against the remote API
package sync

import (
	"time"

	"github.com/synaxhq/synax/internal/store"
)

// ErrorType classifies why one record failed to replay
type ErrorType string

const (
	// ErrorTypeNetwork is a transport failure or timeout
	ErrorTypeNetwork ErrorType = "network"
	// ErrorTypeAuth is a missing or rejected bearer token
	ErrorTypeAuth ErrorType = "auth"
	// ErrorTypeServer is a 5xx response
	ErrorTypeServer ErrorType = "server"
	// ErrorTypeClient is any other non-2xx response
	ErrorTypeClient ErrorType = "client"
	// ErrorTypeMapping is a record with no route or a payload that does not decode
	ErrorTypeMapping ErrorType = "mapping"
	// ErrorTypeUnknown is anything else
	ErrorTypeUnknown ErrorType = "unknown"
)

// SkipReason says why SyncNow did nothing
type SkipReason string

const (
	SkipOffline SkipReason = "offline"
	SkipBusy    SkipReason = "sync already in progress"
)

// SyncLog is one replay attempt of one record
type SyncLog struct {
	ID           string           `json:"id"`
	CycleID      string           `json:"cycle_id"`
	Kind         store.Kind       `json:"kind"`
	RecordID     int64            `json:"record_id"`
	EntityType   store.EntityType `json:"entity_type"`
	EntityID     string           `json:"entity_id"`
	Action       store.Action     `json:"action,omitempty"`
	Success      bool             `json:"success"`
	ErrorType    ErrorType        `json:"error_type,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
	StartedAt    time.Time        `json:"started_at"`
	CompletedAt  time.Time        `json:"completed_at"`
}

// NewSyncLog starts a log entry for one attempt
func NewSyncLog(cycleID string, kind store.Kind, recordID int64, entityType store.EntityType, entityID string, now time.Time) *SyncLog {
	return &SyncLog{
		CycleID:     cycleID,
		Kind:        kind,
		RecordID:    recordID,
		EntityType:  entityType,
		EntityID:    entityID,
		StartedAt:   now,
		CompletedAt: now,
	}
}

// MarkSuccessful marks the attempt as successful
func (l *SyncLog) MarkSuccessful(now time.Time) {
	l.Success = true
	l.CompletedAt = now
}

// MarkFailed marks the attempt as failed
func (l *SyncLog) MarkFailed(errorType ErrorType, errorMessage string, now time.Time) {
	l.Success = false
	l.ErrorType = errorType
	l.ErrorMessage = errorMessage
	l.CompletedAt = now
}

// ItemFailure describes one record that failed during a cycle
type ItemFailure struct {
	Kind       store.Kind
	RecordID   int64
	EntityType store.EntityType
	EntityID   string
	ErrorType  ErrorType
	Message    string
}

// SyncResult summarizes one call to SyncNow
type SyncResult struct {
	CycleID         string
	Skipped         bool
	SkipReason      SkipReason
	TotalItems      int
	SuccessItems    int
	FailedItems     int
	MutationsSynced int
	ImagesSynced    int
	Failures        []ItemFailure
	Duration        time.Duration
}

// Success reports whether the cycle ran and every item replayed
func (r *SyncResult) Success() bool {
	return r != nil && !r.Skipped && r.FailedItems == 0
}
