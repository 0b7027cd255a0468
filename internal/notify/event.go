// Package notify is the event-notification and reminder engine: it classifies
// raw change records pushed by the item service, routes rendered notifications
// to provisioned channels, and derives deadline reminders from the live item
// set on a schedule.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"herald/internal/chat"
	"herald/internal/items"
)

// Kind discriminates the notification event union.
type Kind string

const (
	KindTaskCreated      Kind = "task_created"
	KindTaskDeleted      Kind = "task_deleted"
	KindTaskCompleted    Kind = "task_completed"
	KindTaskReassigned   Kind = "task_reassigned"
	KindTaskFieldChanged Kind = "task_field_changed"
	KindProjectCreated   Kind = "project_created"
	KindDueSoon          Kind = "due_soon_reminder"
	KindMissedDeadline   Kind = "missed_deadline_reminder"

	// KindUnhandled marks raw records the classifier recognizes as valid input
	// but has no mapping for. They are counted and dropped, never routed.
	KindUnhandled Kind = "unhandled"
)

// Event is one typed notification event. Kind determines which variant fields
// are populated; everything else stays zero.
type Event struct {
	Kind        Kind
	SubjectID   string
	SubjectName string
	OccurredAt  time.Time

	// Item carries fetched detail for task events. nil means the fetch failed
	// and rendering degrades to the id only.
	Item *items.Item

	// Field change variant (TaskFieldChanged, TaskReassigned).
	Field    string
	OldValue string
	NewValue string
	// NewAssigneeID is the item-service id of the new assignee on a
	// TaskReassigned event, "" when the task became unassigned.
	NewAssigneeID string

	// Reminder variants.
	Interval Interval     // DueSoon: which window matched
	Items    []items.Item // aggregate reminders: rendered item list
}

// ChangeRecord is one raw entry of a webhook payload, as pushed by the item
// service. Values inside Change are shape-dependent per field, so they stay
// raw until the classifier interprets them.
type ChangeRecord struct {
	Resource  Resource  `json:"resource"`
	Action    string    `json:"action"`
	Change    *Change   `json:"change,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

type Resource struct {
	ResourceType string `json:"resource_type"`
	GID          string `json:"gid"`
	Name         string `json:"name,omitempty"`
}

type Change struct {
	Field    string          `json:"field"`
	OldValue json.RawMessage `json:"old_value,omitempty"`
	NewValue json.RawMessage `json:"new_value,omitempty"`
}

// Interval is a due-date reminder window. The "disabled" value only appears
// in stored preferences, never on events.
type Interval string

const (
	IntervalDisabled Interval = "disabled"
	IntervalHour     Interval = "1_hour"
	IntervalDay      Interval = "1_day"
	IntervalWeek     Interval = "1_week"
)

// sweepIntervals is the fixed priority order the due-soon sweep checks.
var sweepIntervals = []Interval{IntervalHour, IntervalDay, IntervalWeek}

// Duration returns the window length; ok is false for disabled/unknown values.
func (i Interval) Duration() (time.Duration, bool) {
	switch i {
	case IntervalHour:
		return time.Hour, true
	case IntervalDay:
		return 24 * time.Hour, true
	case IntervalWeek:
		return 7 * 24 * time.Hour, true
	default:
		return 0, false
	}
}

func (i Interval) String() string { return string(i) }

// Preference is a user's stored notification configuration.
type Preference struct {
	Identity                int64
	DueDateReminder         Interval
	AssignmentNotifications bool
}

// DefaultPreference applies when a user never configured anything.
func DefaultPreference(identity int64) Preference {
	return Preference{Identity: identity, DueDateReminder: IntervalDay, AssignmentNotifications: true}
}

// ChannelBinding is the persisted association of a logical channel name with
// a physical destination. At most one binding per (group, logical name) is
// authoritative.
type ChannelBinding struct {
	Group    int64
	Logical  string
	Category string
	Dest     chat.Destination
}

// BindingStore persists channel bindings across restarts.
type BindingStore interface {
	PutBinding(ctx context.Context, b ChannelBinding) error
	ListBindings(ctx context.Context, group int64) ([]ChannelBinding, error)
	DeleteBindings(ctx context.Context, group int64) error
}

// IdentityStore maps item-service user ids to local chat identities.
// Duplicate mappings are permitted; lookup returns the first match.
type IdentityStore interface {
	LookupIdentity(ctx context.Context, externalID string) (int64, bool, error)
}

// PreferenceStore loads and saves notification preferences. Get returns
// ok=false when the user never configured anything.
type PreferenceStore interface {
	GetPreference(ctx context.Context, identity int64) (Preference, bool, error)
	SetPreference(ctx context.Context, p Preference) error
}
