package notify

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"herald/internal/chat"
	"herald/internal/items"
	logx "herald/pkg/logx"
)

// fieldValueMax bounds old/new values carried on field-change events so a
// pasted wall of text can't blow up the rendered notification.
const fieldValueMax = 256

// unassignedName renders a nil assignee on either side of a reassignment.
const unassignedName = "Unassigned"

// Classifier turns raw webhook change records into typed events.
//
// Classify is total: unrecognized resource types, actions, and value shapes
// yield no event and never an error. Its only side effect is fetching item
// detail for rendering.
type Classifier struct {
	items items.Service
	log   logx.Logger
}

func NewClassifier(svc items.Service, log logx.Logger) *Classifier {
	return &Classifier{items: svc, log: log}
}

// Classify maps each record independently; one unparseable record never
// affects its neighbors.
func (c *Classifier) Classify(ctx context.Context, records []ChangeRecord) []Event {
	out := make([]Event, 0, len(records))
	dropped := 0
	for _, rec := range records {
		ev := c.classifyOne(ctx, rec)
		if ev.Kind == KindUnhandled {
			dropped++
			continue
		}
		out = append(out, ev)
	}
	if dropped > 0 {
		c.log.Debug("unhandled change records dropped", logx.Int("count", dropped))
	}
	return out
}

func (c *Classifier) classifyOne(ctx context.Context, rec ChangeRecord) Event {
	occurred := rec.CreatedAt
	if occurred.IsZero() {
		occurred = time.Now()
	}
	base := Event{
		Kind:        KindUnhandled,
		SubjectID:   rec.Resource.GID,
		SubjectName: rec.Resource.Name,
		OccurredAt:  occurred,
	}

	switch rec.Resource.ResourceType {
	case "task":
		return c.classifyTask(ctx, rec, base)
	case "project":
		if rec.Action == "added" {
			base.Kind = KindProjectCreated
			return base
		}
	}
	return base
}

func (c *Classifier) classifyTask(ctx context.Context, rec ChangeRecord, base Event) Event {
	switch rec.Action {
	case "added":
		base.Kind = KindTaskCreated
		c.attachDetail(ctx, &base)
		return base
	case "removed":
		base.Kind = KindTaskDeleted
		c.attachDetail(ctx, &base)
		return base
	case "changed":
		if rec.Change == nil {
			return base
		}
		return c.classifyTaskChange(ctx, rec, base)
	}
	return base
}

func (c *Classifier) classifyTaskChange(ctx context.Context, rec ChangeRecord, base Event) Event {
	ch := rec.Change
	switch ch.Field {
	case "completed":
		if v, ok := decodeBool(ch.NewValue); ok && v {
			base.Kind = KindTaskCompleted
			c.attachDetail(ctx, &base)
		}
		return base
	case "assignee":
		base.Kind = KindTaskReassigned
		base.Field = ch.Field
		base.OldValue = decodeDisplayName(ch.OldValue)
		base.NewValue = decodeDisplayName(ch.NewValue)
		base.NewAssigneeID = decodeUserGID(ch.NewValue)
		c.attachDetail(ctx, &base)
		return base
	case "name", "notes", "due_date":
		base.Kind = KindTaskFieldChanged
		base.Field = ch.Field
		base.OldValue = chat.Truncate(decodeString(ch.OldValue), fieldValueMax)
		base.NewValue = chat.Truncate(decodeString(ch.NewValue), fieldValueMax)
		c.attachDetail(ctx, &base)
		return base
	}
	return base
}

// attachDetail fetches current item detail for rendering. A failed fetch is
// not an error: the event still goes out with only the id.
func (c *Classifier) attachDetail(ctx context.Context, ev *Event) {
	it, err := c.items.GetItem(ctx, ev.SubjectID)
	if err != nil {
		c.log.Debug("item detail fetch failed; degraded render",
			logx.String("gid", ev.SubjectID), logx.String("kind", string(ev.Kind)), logx.Err(err))
		return
	}
	ev.Item = it
	if ev.SubjectName == "" {
		ev.SubjectName = it.Name
	}
}

// ---- raw value decoding ----

func decodeBool(raw json.RawMessage) (bool, bool) {
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		return false, false
	}
	return v, true
}

func decodeString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	// Tolerate non-string scalars (numbers, dates-as-objects) by flattening.
	return strings.Trim(string(raw), `"`)
}

func decodeDisplayName(raw json.RawMessage) string {
	var u struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &u); err != nil || u.Name == "" {
		return unassignedName
	}
	return u.Name
}

func decodeUserGID(raw json.RawMessage) string {
	var u struct {
		GID string `json:"gid"`
	}
	if err := json.Unmarshal(raw, &u); err != nil {
		return ""
	}
	return u.GID
}
