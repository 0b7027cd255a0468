package notify

import (
	"context"
	"fmt"
	"sync"

	"herald/internal/chat"
	logx "herald/pkg/logx"
)

// RequiredChannels is the full set of logical channels the engine routes to,
// with provisioning descriptions.
var RequiredChannels = map[string]string{
	ChannelCreationLog:    "New and deleted tasks",
	ChannelCompleted:      "Completed tasks",
	ChannelUpdates:        "Task field changes and reassignments",
	ChannelNewProjects:    "Newly created projects",
	ChannelMissedDeadline: "Daily missed-deadline digest",
	ChannelDueSoon:        "Tasks due within 24 hours",
}

// ChannelStatus reports the provisioning outcome for one logical channel.
type ChannelStatus struct {
	Logical string           `json:"logical"`
	Dest    chat.Destination `json:"dest,omitempty"`
	Created bool             `json:"created,omitempty"` // newly created this run
	Adopted bool             `json:"adopted,omitempty"` // matched by name scan this run
	Error   string           `json:"error,omitempty"`
}

func (c ChannelStatus) Working() bool { return c.Error == "" && !c.Dest.IsZero() }

// CategoryStatus aggregates one provisioning run.
type CategoryStatus struct {
	Category string                   `json:"category"`
	Channels map[string]ChannelStatus `json:"channels"`
	Working  int                      `json:"working"`
	Total    int                      `json:"total"`
}

// Registry provisions and resolves the logical channels of one workspace
// group. Persisted bindings are authoritative; scanning live channels by name
// is only the adoption path for pre-existing setups, and creation is the last
// resort.
//
// Lookup is safe for concurrent readers while EnsureCategory/Repair mutate;
// provisioning itself is an infrequent administrative operation and is not
// expected to run concurrently with itself.
type Registry struct {
	client   chat.Client
	store    BindingStore
	log      logx.Logger
	group    int64
	category string

	mu     sync.RWMutex
	cache  map[string]chat.Destination
	loaded bool
	status CategoryStatus
}

func NewRegistry(client chat.Client, store BindingStore, group int64, category string, log logx.Logger) *Registry {
	if category == "" {
		category = "task-events"
	}
	return &Registry{
		client:   client,
		store:    store,
		log:      log,
		group:    group,
		category: category,
		cache:    map[string]chat.Destination{},
	}
}

// Load primes the cache from persisted bindings. Called once at startup;
// EnsureCategory also loads lazily.
func (r *Registry) Load(ctx context.Context) error {
	bindings, err := r.store.ListBindings(ctx, r.group)
	if err != nil {
		return fmt.Errorf("load channel bindings: %w", err)
	}
	r.mu.Lock()
	for _, b := range bindings {
		if _, ok := r.cache[b.Logical]; !ok {
			// First discovered binding wins.
			r.cache[b.Logical] = b.Dest
		}
	}
	r.loaded = true
	r.mu.Unlock()
	r.log.Debug("channel bindings loaded", logx.Int("count", len(bindings)))
	return nil
}

// Lookup resolves a logical channel to its destination. ok=false means the
// channel was never provisioned or provisioning failed; callers must treat
// that as "silently skip", never as a hard error.
func (r *Registry) Lookup(logical string) (chat.Destination, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.cache[logical]
	return d, ok
}

// EnsureCategory provisions every required channel under the group,
// idempotently: cache, then persisted binding, then a name scan over live
// channels, and only then creation. Each channel is attempted independently;
// a permission failure on one never aborts the rest.
func (r *Registry) EnsureCategory(ctx context.Context, required map[string]string) (CategoryStatus, error) {
	r.mu.RLock()
	loaded := r.loaded
	r.mu.RUnlock()
	if !loaded {
		if err := r.Load(ctx); err != nil {
			return CategoryStatus{}, err
		}
	}

	status := CategoryStatus{
		Category: r.category,
		Channels: make(map[string]ChannelStatus, len(required)),
		Total:    len(required),
	}

	// One live scan per run; a scan failure only disables adoption.
	var live []chat.ChannelInfo
	if l, err := r.client.ListChannels(ctx, r.group); err != nil {
		r.log.Warn("channel scan failed; adoption disabled for this run", logx.Err(err))
	} else {
		live = l
	}

	for logical, description := range required {
		st := r.ensureOne(ctx, logical, description, live)
		status.Channels[logical] = st
		if st.Working() {
			status.Working++
		}
	}

	r.mu.Lock()
	r.status = status
	r.mu.Unlock()

	r.log.Info("category provisioned",
		logx.String("category", r.category),
		logx.Int("working", status.Working), logx.Int("total", status.Total))
	return status, nil
}

func (r *Registry) ensureOne(ctx context.Context, logical, description string, live []chat.ChannelInfo) ChannelStatus {
	st := ChannelStatus{Logical: logical}

	// 1. Cache (persisted bindings land here via Load).
	if d, ok := r.Lookup(logical); ok {
		st.Dest = d
		return st
	}

	// 2. Adopt an existing channel by name. Migration path only: once
	// adopted, the persisted binding is authoritative and name matching
	// never runs again for this channel.
	for _, ch := range live {
		if ch.Name != logical {
			continue
		}
		st.Dest = ch.Dest
		st.Adopted = true
		r.commit(ctx, logical, ch.Dest, &st)
		return st
	}

	// 3. Create.
	dest, err := r.client.CreateChannel(ctx, r.group, logical, description)
	if err != nil {
		st.Error = err.Error()
		r.log.Warn("channel creation failed", logx.String("logical", logical), logx.Err(err))
		return st
	}
	st.Dest = dest
	st.Created = true
	r.commit(ctx, logical, dest, &st)
	return st
}

// commit caches and persists a resolved binding. A persistence failure is
// recorded but the in-memory binding still works for this process lifetime.
func (r *Registry) commit(ctx context.Context, logical string, dest chat.Destination, st *ChannelStatus) {
	r.mu.Lock()
	r.cache[logical] = dest
	r.mu.Unlock()

	err := r.store.PutBinding(ctx, ChannelBinding{
		Group:    r.group,
		Logical:  logical,
		Category: r.category,
		Dest:     dest,
	})
	if err != nil {
		st.Error = fmt.Sprintf("binding not persisted: %v", err)
		r.log.Warn("channel binding not persisted", logx.String("logical", logical), logx.Err(err))
	}
}

// Repair drops the cache and persisted bindings, then re-runs discovery and
// creation. Recovers from out-of-band channel deletion.
func (r *Registry) Repair(ctx context.Context, required map[string]string) (CategoryStatus, error) {
	if err := r.store.DeleteBindings(ctx, r.group); err != nil {
		return CategoryStatus{}, fmt.Errorf("clear channel bindings: %w", err)
	}
	r.mu.Lock()
	r.cache = map[string]chat.Destination{}
	r.loaded = true // bindings just cleared; nothing to load
	r.mu.Unlock()

	r.log.Info("registry repair: bindings cleared, re-provisioning")
	return r.EnsureCategory(ctx, required)
}

// Status returns the result of the last provisioning run.
func (r *Registry) Status() CategoryStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st := r.status
	// shallow copy of the map so callers can't mutate our state
	channels := make(map[string]ChannelStatus, len(st.Channels))
	for k, v := range st.Channels {
		channels[k] = v
	}
	st.Channels = channels
	return st
}
