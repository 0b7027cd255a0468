package notify

import (
	"context"

	logx "herald/pkg/logx"
)

// Logical channel names. Each maps to exactly one physical destination at a
// time (see Registry).
const (
	ChannelCreationLog    = "creation-log"
	ChannelCompleted      = "completed"
	ChannelUpdates        = "updates"
	ChannelNewProjects    = "new-projects"
	ChannelMissedDeadline = "missed-deadline"
	ChannelDueSoon        = "due-soon"
)

// channelFor is the static routing table.
func channelFor(k Kind) (string, bool) {
	switch k {
	case KindTaskCreated, KindTaskDeleted:
		return ChannelCreationLog, true
	case KindTaskCompleted:
		return ChannelCompleted, true
	case KindTaskReassigned, KindTaskFieldChanged:
		return ChannelUpdates, true
	case KindProjectCreated:
		return ChannelNewProjects, true
	case KindMissedDeadline:
		return ChannelMissedDeadline, true
	case KindDueSoon:
		return ChannelDueSoon, true
	default:
		return "", false
	}
}

// Router maps typed events to destinations and hands rendered messages to
// the sink.
type Router struct {
	registry *Registry
	sink     *Sink
	log      logx.Logger
}

func NewRouter(registry *Registry, sink *Sink, log logx.Logger) *Router {
	return &Router{registry: registry, sink: sink, log: log}
}

// Route delivers one event. It never fails the caller: an event with no
// table entry or an unprovisioned destination is dropped with a warning, and
// delivery errors are the sink's to log. The webhook response must succeed
// regardless of what happens here.
func (r *Router) Route(ctx context.Context, ev Event) {
	logical, ok := channelFor(ev.Kind)
	if !ok {
		r.log.Debug("no route for event kind", logx.String("kind", string(ev.Kind)))
		return
	}

	dest, ok := r.registry.Lookup(logical)
	if !ok {
		r.log.Warn("channel not provisioned; notification dropped",
			logx.String("channel", logical), logx.String("kind", string(ev.Kind)))
		return
	}

	_ = r.sink.SendToChannel(ctx, dest, Render(ev))
}
