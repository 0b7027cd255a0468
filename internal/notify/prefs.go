package notify

import (
	"context"

	"herald/internal/items"
	logx "herald/pkg/logx"
)

// Candidate is one potential personalized reminder, computed per scheduler
// tick (or per reassignment) and never persisted.
type Candidate struct {
	// AssigneeID is the item-service user id the reminder targets.
	AssigneeID string
	Item       items.Item
	// Interval is set for due-date candidates and empty for assignment
	// notifications.
	Interval Interval
	// Assignment marks a "task assigned to you" candidate; Event carries the
	// reassignment detail for rendering.
	Assignment bool
	Event      Event
}

// Resolver maps candidates to local identities, applies stored preferences,
// and delivers direct messages. Every failure path is a silent or logged
// skip; nothing here surfaces to the event producer.
type Resolver struct {
	identities IdentityStore
	prefs      PreferenceStore
	sink       *Sink
	log        logx.Logger
}

func NewResolver(identities IdentityStore, prefs PreferenceStore, sink *Sink, log logx.Logger) *Resolver {
	return &Resolver{identities: identities, prefs: prefs, sink: sink, log: log}
}

// ResolveAndSend applies the full gate chain for one candidate.
func (r *Resolver) ResolveAndSend(ctx context.Context, c Candidate) {
	if c.AssigneeID == "" {
		return
	}

	identity, ok, err := r.identities.LookupIdentity(ctx, c.AssigneeID)
	if err != nil {
		r.log.Warn("identity lookup failed; reminder skipped",
			logx.String("external_id", c.AssigneeID), logx.Err(err))
		return
	}
	if !ok {
		// Unmapped assignees are normal: not everyone linked their account.
		r.log.Debug("assignee has no local identity; reminder skipped",
			logx.String("external_id", c.AssigneeID))
		return
	}

	pref, found, err := r.prefs.GetPreference(ctx, identity)
	if err != nil {
		r.log.Warn("preference load failed; reminder skipped",
			logx.Int64("identity", identity), logx.Err(err))
		return
	}
	if !found {
		pref = DefaultPreference(identity)
	}

	if c.Assignment {
		if !pref.AssignmentNotifications {
			return
		}
		_ = r.sink.SendDirect(ctx, identity, renderAssignment(c.Event))
		return
	}

	// Due-date reminders fire only on an exact interval match with the stored
	// preference. A 1-hour candidate does not satisfy a 1-day preference even
	// though its window is contained in it; this mirrors the long-standing
	// behavior users have tuned around.
	if pref.DueDateReminder != c.Interval {
		return
	}
	_ = r.sink.SendDirect(ctx, identity, renderReminder(c.Item, c.Interval))
}
