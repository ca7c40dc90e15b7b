// Package monitor runs the periodic live-detection sweep. For every subscription it looks up the
// channel's current stream and moves the subscription between two states:
//
//	Idle (LastStreamID == nil)   - the channel is believed offline and is eligible for an announcement.
//	Announced(id)                - the session id was announced and must not be announced again.
//
// The new state is persisted before the announcement is sent, so a failed delivery can cause a
// missed announcement but never a duplicate one.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/live-notifier/store"
	"github.com/onnwee/live-notifier/telemetry"
	"github.com/onnwee/live-notifier/twitchapi"
)

const (
	DefaultInterval      = 60 * time.Second
	DefaultLookupTimeout = 10 * time.Second
)

// StreamLookup returns the channel's live stream, or nil when it is offline.
type StreamLookup interface {
	GetLiveStream(ctx context.Context, login string) (*twitchapi.Stream, error)
}

// Announcer delivers a go-live notification for one subscription.
type Announcer interface {
	Announce(ctx context.Context, tenant string, sub store.Subscription, s twitchapi.Stream) error
}

// Config tunes the loop. Zero values fall back to the defaults above and the real clock.
type Config struct {
	Interval       time.Duration
	LookupTimeout  time.Duration
	RunImmediately bool
	Clock          clockwork.Clock
}

// SweepResult summarizes one pass over every subscription.
type SweepResult struct {
	Checked   int `json:"checked"`
	Live      int `json:"live"`
	Announced int `json:"announced"`
	Reset     int `json:"reset"`
	Failed    int `json:"failed"`
}

// Monitor owns the sweep loop.
type Monitor struct {
	store     store.Store
	lookup    StreamLookup
	announcer Announcer
	cfg       Config

	// sweeps are serialized so a manual trigger and a tick never race on the same marker
	sweepMu sync.Mutex
}

// New wires a Monitor.
func New(st store.Store, lookup StreamLookup, announcer Announcer, cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = DefaultLookupTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Monitor{store: st, lookup: lookup, announcer: announcer, cfg: cfg}
}

// Run sweeps on every tick until ctx is canceled. Ticks that arrive while a sweep is still running
// are dropped by the ticker; there is no catch-up.
func (m *Monitor) Run(ctx context.Context) {
	slog.Info("live monitor started",
		slog.Duration("interval", m.cfg.Interval),
		slog.Bool("run_immediately", m.cfg.RunImmediately),
		slog.String("component", "monitor"))

	if m.cfg.RunImmediately {
		m.runOnce(ctx)
	}

	ticker := m.cfg.Clock.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("live monitor stopped", slog.String("component", "monitor"))
			return
		case <-ticker.Chan():
			m.runOnce(ctx)
		}
	}
}

func (m *Monitor) runOnce(ctx context.Context) {
	if _, err := m.Sweep(ctx); err != nil && ctx.Err() == nil {
		slog.Error("sweep failed", slog.Any("err", err), slog.String("component", "monitor"))
	}
}

// Sweep checks every subscription once, tenants in id order and subscriptions in insertion order.
// Per-subscription failures are logged and counted in the result; only a failure to read the
// registry is returned as an error.
func (m *Monitor) Sweep(ctx context.Context) (SweepResult, error) {
	m.sweepMu.Lock()
	defer m.sweepMu.Unlock()

	var res SweepResult
	ctx = telemetry.WithCorrelation(ctx, uuid.NewString())
	ctx, span := telemetry.StartSpan(ctx, "monitor", "monitor.sweep")
	defer span.End()
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "monitor"))

	start := m.cfg.Clock.Now()
	snapshot, err := m.store.Snapshot(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return res, fmt.Errorf("load subscriptions: %w", err)
	}

	for _, tenant := range snapshot {
		for _, sub := range tenant.Subscriptions {
			if ctx.Err() != nil {
				log.Info("sweep interrupted", slog.Int("checked", res.Checked))
				span.SetAttributes(attribute.Bool("sweep.interrupted", true))
				return res, ctx.Err()
			}
			res.Checked++
			m.check(ctx, log, tenant.TenantID, sub, &res)
		}
	}

	elapsed := m.cfg.Clock.Since(start)
	if telemetry.SweepDuration != nil {
		telemetry.SweepDuration.Observe(elapsed.Seconds())
	}
	telemetry.RecordSweep(res.Checked, m.cfg.Clock.Now())
	span.SetAttributes(
		attribute.Int("sweep.checked", res.Checked),
		attribute.Int("sweep.announced", res.Announced),
		attribute.Int("sweep.failed", res.Failed),
	)
	telemetry.SetSpanSuccess(span)
	log.Debug("sweep complete",
		slog.Int("checked", res.Checked),
		slog.Int("live", res.Live),
		slog.Int("announced", res.Announced),
		slog.Int("reset", res.Reset),
		slog.Int("failed", res.Failed),
		slog.Duration("elapsed", elapsed))
	return res, nil
}

// check runs the state machine for one subscription. Nothing here may abort the sweep.
func (m *Monitor) check(ctx context.Context, log *slog.Logger, tenant string, sub store.Subscription, res *SweepResult) {
	log = log.With(
		slog.String("tenant", tenant),
		slog.String("channel", sub.TwitchName),
		slog.String("destination", sub.ChannelID))

	stream, err := m.lookupStream(ctx, sub.TwitchName)
	if err != nil {
		class := twitchapi.Classify(err)
		telemetry.RecordLookupFailure(class.String())
		log.Warn("stream lookup failed", slog.Any("err", err), slog.String("class", class.String()))
		res.Failed++
		return
	}
	if stream != nil {
		res.Live++
	}

	// Re-read the marker: the subscription may have been removed or re-created since the snapshot.
	current, err := m.store.Find(ctx, tenant, sub.TwitchName, sub.ChannelID)
	if errors.Is(err, store.ErrNotFound) {
		log.Debug("subscription removed during sweep")
		return
	}
	if err != nil {
		log.Warn("reload subscription failed", slog.Any("err", err))
		res.Failed++
		return
	}

	switch decide(current.LastStreamID, stream) {
	case actionNone:
		return

	case actionReset:
		if err := m.persist(ctx, tenant, *current, nil); err != nil {
			m.persistFailed(log, err, res)
			return
		}
		telemetry.RecordTransition("offline")
		res.Reset++
		log.Info("channel went offline")

	case actionAnnounce:
		id := stream.ID
		if err := m.persist(ctx, tenant, *current, &id); err != nil {
			m.persistFailed(log, err, res)
			return
		}
		telemetry.RecordTransition("live")
		current.LastStreamID = &id
		if err := m.announcer.Announce(ctx, tenant, *current, *stream); err != nil {
			telemetry.RecordAnnouncement(false)
			log.Warn("announcement failed", slog.Any("err", err), slog.String("stream_id", id))
			res.Failed++
			return
		}
		telemetry.RecordAnnouncement(true)
		res.Announced++
		log.Info("announced go-live", slog.String("stream_id", id), slog.String("title", stream.Title))
	}
}

func (m *Monitor) lookupStream(ctx context.Context, login string) (*twitchapi.Stream, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.LookupTimeout)
	defer cancel()
	ctx, span := telemetry.StartSpan(ctx, "monitor", "monitor.lookup", attribute.String("twitch.login", login))
	defer span.End()

	var (
		s   *twitchapi.Stream
		err error
	)
	telemetry.TimeFunc(telemetry.LookupDuration, func() {
		s, err = m.lookup.GetLiveStream(ctx, login)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Bool("twitch.live", s != nil))
	return s, nil
}

// persist writes the marker without inheriting cancellation so shutdown never interrupts it.
func (m *Monitor) persist(ctx context.Context, tenant string, sub store.Subscription, id *string) error {
	return m.store.SetLastStreamID(context.WithoutCancel(ctx), tenant, sub.TwitchName, sub.ChannelID, id)
}

func (m *Monitor) persistFailed(log *slog.Logger, err error, res *SweepResult) {
	if errors.Is(err, store.ErrNotFound) {
		log.Debug("subscription removed before state could be saved")
		return
	}
	telemetry.RecordPersistFailure()
	log.Warn("persist stream state failed", slog.Any("err", err))
	res.Failed++
}
