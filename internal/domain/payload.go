// Package domain holds the typed request bodies for every mutation the
// remote API accepts. A Payload is a closed union keyed by entity type and
// action; anything not in the union decodes to Unrecognized.
package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/synaxhq/synax/internal/store"
)

// ErrInvalidPayload is returned when data does not match the body for its
// entity type and action
var ErrInvalidPayload = errors.New("invalid payload")

// Payload is one variant of the mutation union
type Payload interface {
	Entity() store.EntityType
	Action() store.Action
	sealed()
}

type validator interface {
	validate() error
}

// ChecklistItemUpdate is the body of an inspection checklist item update
type ChecklistItemUpdate struct {
	Status      Optional[string] `json:"status,omitzero"` // pass, fail, na
	Notes       Optional[string] `json:"notes,omitzero"`
	CompletedAt Optional[string] `json:"completedAt,omitzero"`
	CompletedBy Optional[string] `json:"completedBy,omitzero"`
}

// AssetCreate registers a new asset in a room
type AssetCreate struct {
	RoomID       string           `json:"roomId"`
	Name         string           `json:"name"`
	Category     string           `json:"category,omitempty"`
	Manufacturer string           `json:"manufacturer,omitempty"`
	Model        string           `json:"model,omitempty"`
	SerialNumber string           `json:"serialNumber,omitempty"`
	InstallDate  string           `json:"installDate,omitempty"`
	Condition    string           `json:"condition,omitempty"`
	Notes        Optional[string] `json:"notes,omitzero"`
}

// AssetUpdate is a partial asset update
type AssetUpdate struct {
	RoomID       Optional[string] `json:"roomId,omitzero"`
	Name         Optional[string] `json:"name,omitzero"`
	Category     Optional[string] `json:"category,omitzero"`
	Manufacturer Optional[string] `json:"manufacturer,omitzero"`
	Model        Optional[string] `json:"model,omitzero"`
	SerialNumber Optional[string] `json:"serialNumber,omitzero"`
	InstallDate  Optional[string] `json:"installDate,omitzero"`
	Condition    Optional[string] `json:"condition,omitzero"`
	Notes        Optional[string] `json:"notes,omitzero"`
}

// IssueCreate reports a new issue against a room, asset or checklist item
type IssueCreate struct {
	ProjectID       string           `json:"projectId,omitempty"`
	RoomID          string           `json:"roomId,omitempty"`
	AssetID         string           `json:"assetId,omitempty"`
	ChecklistItemID string           `json:"checklistItemId,omitempty"`
	Title           string           `json:"title"`
	Description     string           `json:"description,omitempty"`
	Severity        string           `json:"severity,omitempty"`
	Status          string           `json:"status,omitempty"`
	AssignedTo      Optional[string] `json:"assignedTo,omitzero"`
}

// IssueUpdate is a partial issue update
type IssueUpdate struct {
	Title       Optional[string] `json:"title,omitzero"`
	Description Optional[string] `json:"description,omitzero"`
	Severity    Optional[string] `json:"severity,omitzero"`
	Status      Optional[string] `json:"status,omitzero"`
	AssignedTo  Optional[string] `json:"assignedTo,omitzero"`
	Resolution  Optional[string] `json:"resolution,omitzero"`
}

// RoomUpdate is a partial room update
type RoomUpdate struct {
	Name   Optional[string]  `json:"name,omitzero"`
	Number Optional[string]  `json:"number,omitzero"`
	Type   Optional[string]  `json:"type,omitzero"`
	Area   Optional[float64] `json:"area,omitzero"`
	Notes  Optional[string]  `json:"notes,omitzero"`
}

// Unrecognized carries an entity type and action outside the union. It can
// be stored but has no remote route.
type Unrecognized struct {
	EntityType store.EntityType
	Op         store.Action
	Data       json.RawMessage
}

func (*ChecklistItemUpdate) Entity() store.EntityType { return store.EntityChecklistItem }
func (*AssetCreate) Entity() store.EntityType         { return store.EntityAsset }
func (*AssetUpdate) Entity() store.EntityType         { return store.EntityAsset }
func (*IssueCreate) Entity() store.EntityType         { return store.EntityIssue }
func (*IssueUpdate) Entity() store.EntityType         { return store.EntityIssue }
func (*RoomUpdate) Entity() store.EntityType          { return store.EntityRoom }
func (u *Unrecognized) Entity() store.EntityType      { return u.EntityType }

func (*ChecklistItemUpdate) Action() store.Action { return store.ActionUpdate }
func (*AssetCreate) Action() store.Action         { return store.ActionCreate }
func (*AssetUpdate) Action() store.Action         { return store.ActionUpdate }
func (*IssueCreate) Action() store.Action         { return store.ActionCreate }
func (*IssueUpdate) Action() store.Action         { return store.ActionUpdate }
func (*RoomUpdate) Action() store.Action          { return store.ActionUpdate }
func (u *Unrecognized) Action() store.Action      { return u.Op }

func (*ChecklistItemUpdate) sealed() {}
func (*AssetCreate) sealed()         {}
func (*AssetUpdate) sealed()         {}
func (*IssueCreate) sealed()         {}
func (*IssueUpdate) sealed()         {}
func (*RoomUpdate) sealed()          {}
func (*Unrecognized) sealed()        {}

// MarshalJSON sends the stored data through untouched
func (u *Unrecognized) MarshalJSON() ([]byte, error) {
	if len(u.Data) == 0 {
		return []byte("{}"), nil
	}
	return u.Data, nil
}

func (p *ChecklistItemUpdate) validate() error {
	if !p.Status.Set {
		return nil
	}
	if p.Status.Null {
		return fmt.Errorf("status cannot be null")
	}
	switch p.Status.Value {
	case "pass", "fail", "na", "pending":
		return nil
	}
	return fmt.Errorf("status must be one of pass, fail, na, pending")
}

func (p *AssetCreate) validate() error {
	if p.RoomID == "" {
		return fmt.Errorf("roomId is required")
	}
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	return nil
}

func (p *IssueCreate) validate() error {
	if p.Title == "" {
		return fmt.Errorf("title is required")
	}
	return nil
}

func (p *RoomUpdate) validate() error {
	if p.Name.Set && (p.Name.Null || p.Name.Value == "") {
		return fmt.Errorf("name cannot be blank")
	}
	return nil
}

type variantKey struct {
	entity store.EntityType
	action store.Action
}

var variants = map[variantKey]func() Payload{
	{store.EntityChecklistItem, store.ActionUpdate}: func() Payload { return &ChecklistItemUpdate{} },
	{store.EntityAsset, store.ActionCreate}:         func() Payload { return &AssetCreate{} },
	{store.EntityAsset, store.ActionUpdate}:         func() Payload { return &AssetUpdate{} },
	{store.EntityIssue, store.ActionCreate}:         func() Payload { return &IssueCreate{} },
	{store.EntityIssue, store.ActionUpdate}:         func() Payload { return &IssueUpdate{} },
	{store.EntityRoom, store.ActionUpdate}:          func() Payload { return &RoomUpdate{} },
}

// Decode turns stored mutation data into its union variant. Data for a known
// variant is decoded strictly; unknown fields are an ErrInvalidPayload.
// Combinations outside the union come back as *Unrecognized.
func Decode(entityType store.EntityType, action store.Action, data json.RawMessage) (Payload, error) {
	newVariant, ok := variants[variantKey{entityType, action}]
	if !ok {
		return &Unrecognized{EntityType: entityType, Op: action, Data: data}, nil
	}

	p := newVariant()
	if len(bytes.TrimSpace(data)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(p); err != nil {
			return nil, fmt.Errorf("%w: %s %s: %v", ErrInvalidPayload, entityType, action, err)
		}
	}

	if v, ok := p.(validator); ok {
		if err := v.validate(); err != nil {
			return nil, fmt.Errorf("%w: %s %s: %v", ErrInvalidPayload, entityType, action, err)
		}
	}
	return p, nil
}

// Encode renders a payload as the JSON stored in the outbox
func Encode(p Payload) (json.RawMessage, error) {
	if v, ok := p.(validator); ok {
		if err := v.validate(); err != nil {
			return nil, fmt.Errorf("%w: %s %s: %v", ErrInvalidPayload, p.Entity(), p.Action(), err)
		}
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encoding %s %s payload: %w", p.Entity(), p.Action(), err)
	}
	return data, nil
}

// Merge overlays a payload onto a cached entity document so offline reads
// see local edits. Fields absent from the payload are left as they were;
// explicit nulls clear them.
func Merge(base json.RawMessage, p Payload) (json.RawMessage, error) {
	doc := map[string]json.RawMessage{}
	if len(bytes.TrimSpace(base)) > 0 {
		if err := json.Unmarshal(base, &doc); err != nil {
			return nil, fmt.Errorf("decoding cached entity: %w", err)
		}
	}

	patch, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(patch, &fields); err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}
	for k, v := range fields {
		doc[k] = v
	}

	return json.Marshal(doc)
}
