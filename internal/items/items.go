// Package items models the external work-item service and the subset of its
// HTTP API the notification engine consumes.
package items

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("item not found")
	ErrForbidden = errors.New("access denied")
)

// Item is one work item as returned by the item service.
type Item struct {
	GID       string `json:"gid"`
	Name      string `json:"name"`
	Notes     string `json:"notes,omitempty"`
	Completed bool   `json:"completed"`
	// DueOn is a calendar date in YYYY-MM-DD form, empty when unset.
	DueOn    string `json:"due_on,omitempty"`
	Assignee *User  `json:"assignee,omitempty"`
}

// User identifies an assignee on the item service side.
type User struct {
	GID  string `json:"gid"`
	Name string `json:"name"`
}

// DueDate parses DueOn in the given location. ok is false when the item has
// no due date or the value does not parse.
func (it Item) DueDate(loc *time.Location) (time.Time, bool) {
	if it.DueOn == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation("2006-01-02", it.DueOn, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// AssigneeGID returns the assignee id or "" when unassigned.
func (it Item) AssigneeGID() string {
	if it.Assignee == nil {
		return ""
	}
	return it.Assignee.GID
}

// Filter narrows ListItems. Zero value lists the configured default project.
type Filter struct {
	Project  string
	Assignee string
}

// EventFilter selects which change events a webhook subscription receives.
type EventFilter struct {
	ResourceType string `json:"resource_type"`
	Action       string `json:"action,omitempty"`
}

// Service is the item-service surface the engine consumes.
type Service interface {
	GetItem(ctx context.Context, gid string) (*Item, error)
	ListItems(ctx context.Context, f Filter) ([]Item, error)
	// RegisterWebhook subscribes targetURL to change events and returns the
	// subscription id.
	RegisterWebhook(ctx context.Context, targetURL string, filters []EventFilter) (string, error)
}
