package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"herald/internal/chat"
	"herald/internal/items"
	"herald/internal/scheduler"
	logx "herald/pkg/logx"
)

// EngineConfig is the static wiring for one Engine. Zero durations fall back
// to the listed defaults.
type EngineConfig struct {
	// BatchTimeout bounds the processing of one webhook batch job.
	BatchTimeout time.Duration // default 30s
	// SweepTimeout bounds one reminder sweep job.
	SweepTimeout time.Duration // default 2m

	RemindersEnabled bool
	DeadlineAt       string        // HH:MM, default "09:00"
	DueSoonEvery     time.Duration // default 1h

	// PublicURL is the externally reachable webhook endpoint used when
	// registering with the item service.
	PublicURL string
}

func (c *EngineConfig) defaults() {
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 30 * time.Second
	}
	if c.SweepTimeout <= 0 {
		c.SweepTimeout = 2 * time.Minute
	}
	if c.DeadlineAt == "" {
		c.DeadlineAt = "09:00"
	}
	if c.DueSoonEvery <= 0 {
		c.DueSoonEvery = time.Hour
	}
}

// Engine ties the pipeline together: webhook batches and reminder sweeps are
// submitted to the shared job queue, processed through the classifier, and
// fanned out via the router and resolver. It also carries the administrative
// operations (provision, repair, status, self-test, webhook registration).
type Engine struct {
	cfg EngineConfig
	log logx.Logger

	classifier *Classifier
	router     *Router
	resolver   *Resolver
	registry   *Registry
	sink       *Sink
	sweeper    *Sweeper
	sched      *scheduler.Service
	items      items.Service
}

func NewEngine(cfg EngineConfig, deps EngineDeps, log logx.Logger) *Engine {
	cfg.defaults()
	return &Engine{
		cfg:        cfg,
		log:        log,
		classifier: deps.Classifier,
		router:     deps.Router,
		resolver:   deps.Resolver,
		registry:   deps.Registry,
		sink:       deps.Sink,
		sweeper:    deps.Sweeper,
		sched:      deps.Scheduler,
		items:      deps.Items,
	}
}

// EngineDeps collects the constructed pipeline stages.
type EngineDeps struct {
	Classifier *Classifier
	Router     *Router
	Resolver   *Resolver
	Registry   *Registry
	Sink       *Sink
	Sweeper    *Sweeper
	Scheduler  *scheduler.Service
	Items      items.Service
}

// RegisterJobs installs the two reminder sweeps on the scheduler. Call once
// before scheduler.Start.
func (e *Engine) RegisterJobs() error {
	if !e.cfg.RemindersEnabled {
		e.log.Info("reminder sweeps disabled by config")
		return nil
	}
	if _, err := e.sched.AddDaily("missed-deadline-sweep", e.cfg.DeadlineAt, e.cfg.SweepTimeout, e.sweeper.DeadlineSweep); err != nil {
		return fmt.Errorf("register deadline sweep: %w", err)
	}
	if _, err := e.sched.AddInterval("due-soon-sweep", e.cfg.DueSoonEvery, e.cfg.SweepTimeout, e.sweeper.DueSoonSweep); err != nil {
		return fmt.Errorf("register due-soon sweep: %w", err)
	}
	return nil
}

// HandleWebhook queues one parsed webhook batch for asynchronous processing.
// It never blocks on delivery; the HTTP handler has already acknowledged the
// push by the time the batch runs.
func (e *Engine) HandleWebhook(records []ChangeRecord) {
	if len(records) == 0 {
		return
	}
	batch := records
	e.sched.Submit("webhook-batch", e.cfg.BatchTimeout, func(ctx context.Context) error {
		e.ProcessBatch(ctx, batch)
		return nil
	})
}

// ProcessBatch classifies and dispatches one batch of change records.
// Dispatch failures are contained per event; the batch always runs to the end.
func (e *Engine) ProcessBatch(ctx context.Context, records []ChangeRecord) {
	events := e.classifier.Classify(ctx, records)
	for _, ev := range events {
		e.router.Route(ctx, ev)
		if ev.Kind == KindTaskReassigned && ev.NewAssigneeID != "" {
			cand := Candidate{
				AssigneeID: ev.NewAssigneeID,
				Assignment: true,
				Event:      ev,
			}
			if ev.Item != nil {
				cand.Item = *ev.Item
			}
			e.resolver.ResolveAndSend(ctx, cand)
		}
	}
	e.log.Info("webhook batch processed",
		logx.Int("records", len(records)), logx.Int("events", len(events)))
}

// Provision ensures every required channel exists in the workspace group.
func (e *Engine) Provision(ctx context.Context) (CategoryStatus, error) {
	return e.registry.EnsureCategory(ctx, RequiredChannels)
}

// Repair drops all persisted bindings and provisions from scratch.
func (e *Engine) Repair(ctx context.Context) (CategoryStatus, error) {
	return e.registry.Repair(ctx, RequiredChannels)
}

// ProvisionStatus returns the outcome of the most recent provisioning run.
func (e *Engine) ProvisionStatus() CategoryStatus {
	return e.registry.Status()
}

// SelfTestResult is the delivery outcome for one channel during a self test.
type SelfTestResult struct {
	Logical string `json:"logical"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
}

// SelfTest sends a uniquely tagged test message to every provisioned channel
// and reports per-channel outcomes. Channels without a binding are reported
// as failed, not skipped.
func (e *Engine) SelfTest(ctx context.Context) []SelfTestResult {
	tag := uuid.NewString()[:8]
	out := make([]SelfTestResult, 0, len(RequiredChannels))
	for logical := range RequiredChannels {
		res := SelfTestResult{Logical: logical}
		dest, ok := e.registry.Lookup(logical)
		if !ok {
			res.Error = "no binding"
			out = append(out, res)
			continue
		}
		msg := chat.Message{
			Title: "Self test",
			Body:  fmt.Sprintf("Delivery check %s for #%s.", tag, logical),
		}
		if err := e.sink.SendToChannel(ctx, dest, msg); err != nil {
			res.Error = err.Error()
		} else {
			res.OK = true
		}
		out = append(out, res)
	}
	e.log.Info("self test complete", logx.String("tag", tag), logx.Int("channels", len(out)))
	return out
}

// RegisterWebhook subscribes the configured public endpoint to task and
// project changes at the item service. Returns the webhook id.
func (e *Engine) RegisterWebhook(ctx context.Context) (string, error) {
	if e.cfg.PublicURL == "" {
		return "", fmt.Errorf("no public webhook URL configured")
	}
	filters := []items.EventFilter{
		{ResourceType: "task"},
		{ResourceType: "project", Action: "added"},
	}
	id, err := e.items.RegisterWebhook(ctx, e.cfg.PublicURL, filters)
	if err != nil {
		return "", fmt.Errorf("register webhook: %w", err)
	}
	e.log.Info("webhook registered", logx.String("webhook_id", id))
	return id, nil
}

// Deliveries exposes recent delivery history for the admin surface.
func (e *Engine) Deliveries() []DeliveryRecord {
	return e.sink.History()
}
