package notify

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"herald/internal/chat"
	"herald/internal/eventbus"
	logx "herald/pkg/logx"
)

const sinkHistoryMax = 300

// SinkConfig bounds outbound delivery.
type SinkConfig struct {
	RatePerSec  int           // default 3
	SendTimeout time.Duration // per platform call, default 10s
}

// DeliveryRecord is one entry of the sink's bounded history ring.
type DeliveryRecord struct {
	At       time.Time
	Target   string // "channel:<chat>/<topic>" or "direct:<identity>"
	Title    string
	Error    string
	Refused  bool
	Duration time.Duration
}

// Sink performs best-effort message delivery: rate limited, per-call timeout,
// failures logged and counted but never retried here. Any retry belongs to
// the caller's next tick.
type Sink struct {
	cfg     SinkConfig
	client  chat.Client
	log     logx.Logger
	bus     eventbus.Bus
	limiter *rate.Limiter

	hmu     sync.Mutex
	history []DeliveryRecord
}

func NewSink(cfg SinkConfig, client chat.Client, log logx.Logger, bus eventbus.Bus) *Sink {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	return &Sink{
		cfg:    cfg,
		client: client,
		log:    log,
		bus:    bus,
		// burst = rate so short spikes don't stall the queue too hard
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
}

// SendToChannel delivers to a provisioned destination. The returned error is
// informational; callers are expected to log-and-continue.
func (s *Sink) SendToChannel(ctx context.Context, dest chat.Destination, msg chat.Message) error {
	target := destLabel(dest)
	return s.send(ctx, target, msg, func(callCtx context.Context) error {
		return s.client.SendToChannel(callCtx, dest, msg)
	})
}

// SendDirect delivers a personal message. A platform refusal (recipient
// blocks direct messages) is swallowed: logged, recorded, nil returned.
func (s *Sink) SendDirect(ctx context.Context, identity int64, msg chat.Message) error {
	target := directLabel(identity)
	err := s.send(ctx, target, msg, func(callCtx context.Context) error {
		return s.client.SendDirect(callCtx, identity, msg)
	})
	if errors.Is(err, chat.ErrRecipientRefused) {
		return nil
	}
	return err
}

func (s *Sink) send(ctx context.Context, target string, msg chat.Message, do func(context.Context) error) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	start := time.Now()
	err := do(callCtx)
	cancel()

	rec := DeliveryRecord{At: start, Target: target, Title: msg.Title, Duration: time.Since(start)}
	switch {
	case err == nil:
		s.publish("notify.sent", target, msg.Title, "")
		s.log.Debug("notification sent", logx.String("target", target), logx.String("title", msg.Title))
	case errors.Is(err, chat.ErrRecipientRefused):
		rec.Refused = true
		rec.Error = err.Error()
		s.publish("notify.refused", target, msg.Title, err.Error())
		s.log.Debug("recipient refuses direct messages; skipped", logx.String("target", target))
	default:
		rec.Error = err.Error()
		s.publish("notify.failed", target, msg.Title, err.Error())
		s.log.Warn("notification send failed", logx.String("target", target), logx.String("title", msg.Title), logx.Err(err))
	}
	s.appendHistory(rec)
	return err
}

func (s *Sink) publish(typ, target, title, errText string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: map[string]string{
		"target": target,
		"title":  title,
		"error":  errText,
	}})
}

func (s *Sink) appendHistory(rec DeliveryRecord) {
	s.hmu.Lock()
	s.history = append(s.history, rec)
	if len(s.history) > sinkHistoryMax {
		s.history = s.history[len(s.history)-sinkHistoryMax:]
	}
	s.hmu.Unlock()
}

// History returns a copy of recent delivery attempts, newest last.
func (s *Sink) History() []DeliveryRecord {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]DeliveryRecord(nil), s.history...)
}

func destLabel(d chat.Destination) string {
	return "channel:" + strconv.FormatInt(d.ChatID, 10) + "/" + strconv.Itoa(d.TopicID)
}

func directLabel(identity int64) string {
	return "direct:" + strconv.FormatInt(identity, 10)
}
