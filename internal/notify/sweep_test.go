package notify

import (
	"context"
	"strings"
	"testing"
	"time"

	"herald/internal/chat"
	"herald/internal/items"
	logx "herald/pkg/logx"
)

// sweepEnv wires a sweeper against fakes with all channels bound.
type sweepEnv struct {
	fc      *fakeChat
	stores  *memStores
	sweeper *Sweeper
}

func newSweepEnv(t *testing.T, svc items.Service, now time.Time) *sweepEnv {
	t.Helper()

	fc := newFakeChat()
	stores := newMemStores()
	reg := NewRegistry(fc, stores, testGroup, "task-events", logx.Nop())
	if _, err := reg.EnsureCategory(context.Background(), RequiredChannels); err != nil {
		t.Fatalf("EnsureCategory: %v", err)
	}
	// Provisioning itself sends nothing; start channel history clean.
	fc.channel = nil

	sink := NewSink(SinkConfig{RatePerSec: 100}, fc, logx.Nop(), nil)
	router := NewRouter(reg, sink, logx.Nop())
	resolver := NewResolver(stores, stores, sink, logx.Nop())
	sw := NewSweeper(svc, router, resolver, time.UTC, logx.Nop())
	sw.SetNow(func() time.Time { return now })

	return &sweepEnv{fc: fc, stores: stores, sweeper: sw}
}

func TestDeadlineSweepDigest(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	var list []items.Item
	for i := 0; i < 12; i++ {
		list = append(list, items.Item{GID: "f" + string(rune('a'+i)), Name: "Future", DueOn: "2026-04-01"})
	}
	list = append(list,
		items.Item{GID: "m1", Name: "Write report", DueOn: "2026-03-09"},
		items.Item{GID: "m2", Name: "File taxes", DueOn: "2026-03-09"},
		items.Item{GID: "m3", Name: "Already done", DueOn: "2026-03-09", Completed: true},
	)

	env := newSweepEnv(t, newFakeItems(list...), now)
	if err := env.sweeper.DeadlineSweep(context.Background()); err != nil {
		t.Fatalf("DeadlineSweep: %v", err)
	}

	sends := env.fc.channelSends()
	if len(sends) != 1 {
		t.Fatalf("got %d channel sends, want 1 digest", len(sends))
	}
	body := sends[0].msg.Render()
	if !strings.Contains(body, "Missed Deadlines (2)") {
		t.Errorf("digest title missing count: %q", body)
	}
	for _, name := range []string{"Write report", "File taxes"} {
		if !strings.Contains(body, name) {
			t.Errorf("digest missing %q: %q", name, body)
		}
	}
	if strings.Contains(body, "Already done") {
		t.Errorf("digest lists completed item: %q", body)
	}
}

func TestDeadlineSweepListFailureIsQuiet(t *testing.T) {
	t.Parallel()

	svc := newFakeItems()
	svc.listErr = errBoom
	env := newSweepEnv(t, svc, time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))

	if err := env.sweeper.DeadlineSweep(context.Background()); err != nil {
		t.Fatalf("DeadlineSweep returned %v, want nil on listing failure", err)
	}
	if got := len(env.fc.channelSends()); got != 0 {
		t.Fatalf("got %d sends after listing failure, want 0", got)
	}
}

func TestDueSoonSweepPersonalizedReminder(t *testing.T) {
	t.Parallel()

	// 12:00 on the 10th; an item due the 11th is ~12h out, inside the 1_day
	// window but not the 1_hour one.
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	amy := &items.User{GID: "u-amy", Name: "Amy"}
	svc := newFakeItems(
		items.Item{GID: "t1", Name: "Prepare deck", DueOn: "2026-03-11", Assignee: amy},
		items.Item{GID: "t2", Name: "Done already", DueOn: "2026-03-11", Assignee: amy, Completed: true},
		items.Item{GID: "t3", Name: "Far off", DueOn: "2026-05-01", Assignee: amy},
	)

	env := newSweepEnv(t, svc, now)
	env.stores.ids["u-amy"] = 11 // no stored preference, defaults apply

	if err := env.sweeper.DueSoonSweep(context.Background()); err != nil {
		t.Fatalf("DueSoonSweep: %v", err)
	}

	direct := env.fc.directSends()
	if len(direct) != 1 {
		t.Fatalf("got %d direct sends, want 1: %+v", len(direct), direct)
	}
	if direct[0].recipient != 11 {
		t.Errorf("recipient = %d, want 11", direct[0].recipient)
	}
	if body := direct[0].msg.Render(); !strings.Contains(body, "Prepare deck") {
		t.Errorf("reminder missing task name: %q", body)
	}

	// The broadcast digest covers only the 24h horizon.
	chans := env.fc.channelSends()
	if len(chans) != 1 {
		t.Fatalf("got %d channel sends, want 1 digest", len(chans))
	}
	if body := chans[0].msg.Render(); !strings.Contains(body, "Due within 24 hours (1)") {
		t.Errorf("digest = %q, want 24h count of 1", body)
	}
}

func TestDueSoonSweepDisabledPreference(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	bo := &items.User{GID: "u-bo", Name: "Bo"}
	svc := newFakeItems(items.Item{GID: "t1", Name: "Prepare deck", DueOn: "2026-03-11", Assignee: bo})

	env := newSweepEnv(t, svc, now)
	env.stores.ids["u-bo"] = 22
	env.stores.prefs[22] = Preference{Identity: 22, DueDateReminder: IntervalDisabled, AssignmentNotifications: true}

	if err := env.sweeper.DueSoonSweep(context.Background()); err != nil {
		t.Fatalf("DueSoonSweep: %v", err)
	}
	if got := len(env.fc.directSends()); got != 0 {
		t.Fatalf("got %d direct sends with reminders disabled, want 0", got)
	}
}

func TestDueSoonSweepWindowClaiming(t *testing.T) {
	t.Parallel()

	// 23:30 on the 10th; an item due the 11th is 30 minutes out, so the
	// 1_hour window claims it first. A user whose preference is 1_day gets
	// nothing: preference matching is exact, not at-least.
	now := time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC)
	amy := &items.User{GID: "u-amy", Name: "Amy"}
	svc := newFakeItems(items.Item{GID: "t1", Name: "Prepare deck", DueOn: "2026-03-11", Assignee: amy})

	env := newSweepEnv(t, svc, now)
	env.stores.ids["u-amy"] = 11
	env.stores.prefs[11] = Preference{Identity: 11, DueDateReminder: IntervalDay, AssignmentNotifications: true}

	if err := env.sweeper.DueSoonSweep(context.Background()); err != nil {
		t.Fatalf("DueSoonSweep: %v", err)
	}
	if got := len(env.fc.directSends()); got != 0 {
		t.Fatalf("got %d direct sends, want 0 (hour window claimed the item)", got)
	}

	// The same setup with a 1_hour preference delivers.
	env2 := newSweepEnv(t, svc, now)
	env2.stores.ids["u-amy"] = 11
	env2.stores.prefs[11] = Preference{Identity: 11, DueDateReminder: IntervalHour, AssignmentNotifications: true}
	if err := env2.sweeper.DueSoonSweep(context.Background()); err != nil {
		t.Fatalf("DueSoonSweep: %v", err)
	}
	if got := len(env2.fc.directSends()); got != 1 {
		t.Fatalf("got %d direct sends, want 1", got)
	}
}

func TestDueSoonSweepUnmappedAssignee(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	svc := newFakeItems(items.Item{
		GID: "t1", Name: "Prepare deck", DueOn: "2026-03-11",
		Assignee: &items.User{GID: "u-nobody", Name: "Nobody"},
	})

	env := newSweepEnv(t, svc, now) // no identity mapping at all
	if err := env.sweeper.DueSoonSweep(context.Background()); err != nil {
		t.Fatalf("DueSoonSweep: %v", err)
	}
	if got := len(env.fc.directSends()); got != 0 {
		t.Fatalf("got %d direct sends for unmapped assignee, want 0", got)
	}
}

func TestRouteUnprovisionedChannelDrops(t *testing.T) {
	t.Parallel()

	fc := newFakeChat()
	reg := NewRegistry(fc, newMemStores(), testGroup, "task-events", logx.Nop())
	sink := NewSink(SinkConfig{RatePerSec: 100}, fc, logx.Nop(), nil)
	router := NewRouter(reg, sink, logx.Nop())

	// Nothing provisioned; routing must drop quietly, never panic.
	router.Route(context.Background(), Event{Kind: KindTaskCreated, SubjectID: "t1"})
	if got := len(fc.channelSends()); got != 0 {
		t.Fatalf("got %d sends to unprovisioned channel, want 0", got)
	}
}

func TestSinkSwallowsRecipientRefusal(t *testing.T) {
	t.Parallel()

	fc := newFakeChat()
	fc.directErr = chat.ErrRecipientRefused
	sink := NewSink(SinkConfig{RatePerSec: 100}, fc, logx.Nop(), nil)

	if err := sink.SendDirect(context.Background(), 11, chat.Message{Title: "hi"}); err != nil {
		t.Fatalf("SendDirect returned %v, want nil on refusal", err)
	}
	hist := sink.History()
	if len(hist) != 1 || !hist[0].Refused {
		t.Fatalf("history = %+v, want one refused record", hist)
	}
}
