package notify

import (
	"context"
	"sort"
	"time"

	"herald/internal/items"
	logx "herald/pkg/logx"
)

// Sweeper derives reminder events from the live item set.
//
// Both sweeps are stateless: candidates are re-derived from scratch every
// tick, so an item stays flagged (and re-delivered) on every due-soon tick
// until its due date passes or it completes. There is deliberately no
// "already notified" watermark; adding one would need a persisted
// (identity, item, interval) → last_sent_at record and an owner decision
// that dedup is actually wanted.
type Sweeper struct {
	items    items.Service
	router   *Router
	resolver *Resolver
	loc      *time.Location
	log      logx.Logger

	// now is swappable for tests.
	now func() time.Time
}

func NewSweeper(svc items.Service, router *Router, resolver *Resolver, loc *time.Location, log logx.Logger) *Sweeper {
	if loc == nil {
		loc = time.Local
	}
	return &Sweeper{
		items:    svc,
		router:   router,
		resolver: resolver,
		loc:      loc,
		log:      log,
		now:      time.Now,
	}
}

// DeadlineSweep runs once daily: it selects incomplete items whose due date
// was yesterday and posts one aggregate digest. A failed item listing logs
// and yields zero reminders; the next tick retries naturally.
func (s *Sweeper) DeadlineSweep(ctx context.Context) error {
	all, err := s.items.ListItems(ctx, items.Filter{})
	if err != nil {
		s.log.Warn("deadline sweep: item listing failed; skipping tick", logx.Err(err))
		return nil
	}

	now := s.now().In(s.loc)
	yesterday := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc).AddDate(0, 0, -1)

	var missed []items.Item
	for _, it := range all {
		if it.Completed {
			continue
		}
		due, ok := it.DueDate(s.loc)
		if !ok {
			continue
		}
		if due.Equal(yesterday) {
			missed = append(missed, it)
		}
	}

	if len(missed) == 0 {
		s.log.Debug("deadline sweep: nothing missed")
		return nil
	}

	sortByDue(missed)
	s.router.Route(ctx, Event{
		Kind:       KindMissedDeadline,
		OccurredAt: now,
		Items:      missed,
	})
	s.log.Info("deadline sweep complete", logx.Int("missed", len(missed)))
	return nil
}

// DueSoonSweep runs hourly: personalized reminders per assignee and interval
// window, plus one aggregate broadcast of everything due within 24 hours.
func (s *Sweeper) DueSoonSweep(ctx context.Context) error {
	all, err := s.items.ListItems(ctx, items.Filter{})
	if err != nil {
		s.log.Warn("due-soon sweep: item listing failed; skipping tick", logx.Err(err))
		return nil
	}

	now := s.now().In(s.loc)

	// Future-due incomplete items, grouped by assignee.
	type pending struct {
		item items.Item
		due  time.Time
	}
	byAssignee := map[string][]pending{}
	var soon []items.Item // aggregate 24h broadcast
	for _, it := range all {
		if it.Completed {
			continue
		}
		due, ok := it.DueDate(s.loc)
		if !ok || !due.After(now) {
			continue
		}
		if gid := it.AssigneeGID(); gid != "" {
			byAssignee[gid] = append(byAssignee[gid], pending{item: it, due: due})
		}
		if !due.After(now.Add(24 * time.Hour)) {
			soon = append(soon, it)
		}
	}

	candidates := 0
	for assignee, list := range byAssignee {
		// Each item belongs to the tightest window that contains it, checked
		// in fixed priority order.
		claimed := map[string]bool{}
		for _, interval := range sweepIntervals {
			window, _ := interval.Duration()
			cutoff := now.Add(window)
			for _, p := range list {
				if claimed[p.item.GID] || p.due.After(cutoff) {
					continue
				}
				claimed[p.item.GID] = true
				candidates++
				s.resolver.ResolveAndSend(ctx, Candidate{
					AssigneeID: assignee,
					Item:       p.item,
					Interval:   interval,
				})
			}
		}
	}

	if len(soon) > 0 {
		sortByDue(soon)
		s.router.Route(ctx, Event{
			Kind:       KindDueSoon,
			OccurredAt: now,
			Items:      soon,
		})
	}

	s.log.Info("due-soon sweep complete",
		logx.Int("candidates", candidates), logx.Int("broadcast", len(soon)))
	return nil
}

func sortByDue(list []items.Item) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].DueOn != list[j].DueOn {
			return list[i].DueOn < list[j].DueOn
		}
		return list[i].Name < list[j].Name
	})
}

// SetNow overrides the sweeper clock. Test hook.
func (s *Sweeper) SetNow(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	s.now = now
}
