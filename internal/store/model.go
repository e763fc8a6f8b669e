// Package store is the durable local store: the mutation and image outbox
// queues plus the read-through entity cache, all in one SQLite database.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a single record lookup matches nothing
var ErrNotFound = errors.New("record not found")

// Kind selects one of the two outbox queues
type Kind string

const (
	// KindMutation is the structured mutation queue
	KindMutation Kind = "mutation"
	// KindImage is the pending photo upload queue
	KindImage Kind = "image"
)

// ParseKind validates a queue name from user input
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindMutation, KindImage:
		return Kind(s), nil
	case "mutations":
		return KindMutation, nil
	case "images":
		return KindImage, nil
	}
	return "", fmt.Errorf("unknown queue kind %q", s)
}

func (k Kind) table() (string, error) {
	switch k {
	case KindMutation:
		return "mutations", nil
	case KindImage:
		return "images", nil
	}
	return "", fmt.Errorf("unknown queue kind %q", k)
}

// Status is the lifecycle state of an outbox record
type Status string

const (
	// StatusPending records wait for the next drain cycle
	StatusPending Status = "pending"
	// StatusSyncing marks the record currently being sent
	StatusSyncing Status = "syncing"
	// StatusSynced is terminal; synced records are normally deleted instead
	StatusSynced Status = "synced"
	// StatusFailed records carry the last error and a bumped retry count
	StatusFailed Status = "failed"
)

// Valid reports whether s is one of the known statuses
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSyncing, StatusSynced, StatusFailed:
		return true
	}
	return false
}

// EntityType names a remote domain entity
type EntityType string

const (
	EntityProject       EntityType = "project"
	EntityFloor         EntityType = "floor"
	EntityRoom          EntityType = "room"
	EntityAsset         EntityType = "asset"
	EntityChecklist     EntityType = "checklist"
	EntityChecklistItem EntityType = "checklistItem"
	EntityIssue         EntityType = "issue"
)

// KnownEntityTypes lists every entity type the API knows about, in display order
var KnownEntityTypes = []EntityType{
	EntityProject, EntityFloor, EntityRoom, EntityAsset,
	EntityChecklist, EntityChecklistItem, EntityIssue,
}

// Known reports whether t is a recognized entity type. Unknown types can
// still be queued; they fail at dispatch.
func (t EntityType) Known() bool {
	for _, k := range KnownEntityTypes {
		if t == k {
			return true
		}
	}
	return false
}

// Action is the kind of change a mutation records
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Valid reports whether a is create, update or delete
func (a Action) Valid() bool {
	return a == ActionCreate || a == ActionUpdate || a == ActionDelete
}

// Mutation is one queued local change awaiting replay. Only Status,
// RetryCount and Error change after insert.
type Mutation struct {
	ID         int64           `json:"id"`
	Timestamp  time.Time       `json:"timestamp"`
	EntityType EntityType      `json:"entityType"`
	EntityID   string          `json:"entityId"`
	Action     Action          `json:"action"`
	Data       json.RawMessage `json:"data"`
	Status     Status          `json:"status"`
	RetryCount int             `json:"retryCount"`
	Error      string          `json:"error,omitempty"`
}

// PendingImage is a captured photo awaiting upload. Blob is only populated
// by LoadImageBlob; listings leave it nil.
type PendingImage struct {
	ID         int64      `json:"id"`
	Timestamp  time.Time  `json:"timestamp"`
	MutationID *int64     `json:"mutationId,omitempty"`
	EntityType EntityType `json:"entityType"`
	EntityID   string     `json:"entityId"`
	Blob       []byte     `json:"-"`
	Size       int64      `json:"size"`
	Filename   string     `json:"filename"`
	Status     Status     `json:"status"`
	RetryCount int        `json:"retryCount"`
	Error      string     `json:"error,omitempty"`
}

// CachedEntity is a read-cache copy of a remote entity. LocalEdit marks
// entries changed locally since they were last fetched.
type CachedEntity struct {
	EntityType EntityType      `json:"entityType"`
	EntityID   string          `json:"entityId"`
	Data       json.RawMessage `json:"data"`
	LocalEdit  bool            `json:"localEdit"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// Counts summarizes both queues for status badges
type Counts struct {
	PendingMutations int `json:"pendingMutations"`
	FailedMutations  int `json:"failedMutations"`
	PendingImages    int `json:"pendingImages"`
	FailedImages     int `json:"failedImages"`
}
