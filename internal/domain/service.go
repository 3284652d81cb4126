package domain

import "errors"

// ErrServiceNotFound is returned by cluster lookups when the service no
// longer exists. Callers treat it as a benign race with a removal.
var ErrServiceNotFound = errors.New("service not found")

// Service is the subset of a Swarm service the reconciler cares about.
type Service struct {
	// ID is the opaque cluster-assigned identifier.
	ID string

	// Name is the service name as declared in the stack.
	// Example: monitoring_grafana
	Name string

	// Labels are the service-level labels (not container labels).
	Labels map[string]string
}

// IsManaged reports whether the service opted into reconciliation by
// carrying label=="true".
func (s Service) IsManaged(label string) bool {
	return s.Labels[label] == "true"
}

// ShortID returns the first 12 characters of the id, docker CLI style.
func ShortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// EventAction is the lifecycle action carried by a cluster event.
type EventAction string

const (
	ActionCreate EventAction = "create"
	ActionUpdate EventAction = "update"
	ActionRemove EventAction = "remove"
)

// Event is a service lifecycle notification.
type Event struct {
	Action    EventAction
	ServiceID string
}
