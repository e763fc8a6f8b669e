package remote

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/synaxhq/synax/internal/domain"
	"github.com/synaxhq/synax/internal/store"
)

// ErrUnmapped marks an entity type and action with no remote route. It
// signals a programming or configuration error, not a remote rejection.
var ErrUnmapped = errors.New("no remote route")

// Request is one JSON call against the API, relative to the base path
type Request struct {
	Method string
	Path   string
	Body   any
}

// Route translates a payload union variant into the request that replays it
func Route(entityID string, p domain.Payload) (*Request, error) {
	id := url.PathEscape(entityID)

	switch body := p.(type) {
	case *domain.ChecklistItemUpdate:
		return &Request{Method: http.MethodPut, Path: "/checklist-items/" + id, Body: body}, nil
	case *domain.AssetCreate:
		return &Request{Method: http.MethodPost, Path: "/assets", Body: body}, nil
	case *domain.AssetUpdate:
		return &Request{Method: http.MethodPut, Path: "/assets/" + id, Body: body}, nil
	case *domain.IssueCreate:
		return &Request{Method: http.MethodPost, Path: "/issues", Body: body}, nil
	case *domain.IssueUpdate:
		return &Request{Method: http.MethodPut, Path: "/issues/" + id, Body: body}, nil
	case *domain.RoomUpdate:
		return &Request{Method: http.MethodPut, Path: "/rooms/" + id, Body: body}, nil
	default:
		return nil, fmt.Errorf("%w for %s %s", ErrUnmapped, p.Action(), p.Entity())
	}
}

// MutationRequest decodes a stored mutation and routes it
func MutationRequest(m *store.Mutation) (*Request, error) {
	p, err := domain.Decode(m.EntityType, m.Action, m.Data)
	if err != nil {
		return nil, err
	}
	return Route(m.EntityID, p)
}

// ImageRoute returns the upload path for a photo attached to an entity
func ImageRoute(entityType store.EntityType, entityID string) (string, error) {
	id := url.PathEscape(entityID)

	switch entityType {
	case store.EntityChecklistItem:
		return "/checklist-items/" + id + "/photos", nil
	case store.EntityIssue:
		return "/issues/" + id + "/photos", nil
	default:
		return "", fmt.Errorf("%w for %s photo", ErrUnmapped, entityType)
	}
}
