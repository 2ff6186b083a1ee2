package simulator

import (
	"container/list"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

var devices = []string{"TV", "Mobile", "Desktop", "Tablet"}

// ConversionSink receives every completed conversion path.
// *attribution.Engine satisfies it.
type ConversionSink interface {
	RecordConversion(path []string, value float64) error
}

// Weights are the relative probabilities of each event type.
type Weights struct {
	Impression float64
	Click      float64
	Conversion float64
}

// Config holds simulator parameters. Zero counts, rates and ranges take the
// defaults in withDefaults, except ReturnRate: zero is a valid setting that
// starts a new session for every impression, so callers wanting session reuse
// must set it.
type Config struct {
	Channels        []string
	EventsPerSecond int
	Campaigns       int
	FillRate        float64
	ReturnRate      float64
	MaxSessions     int
	MinValue        float64
	MaxValue        float64
	Weights         Weights
	// Seed fixes the random source; 0 seeds from the clock.
	Seed int64
}

func (c Config) withDefaults() Config {
	if c.EventsPerSecond <= 0 {
		c.EventsPerSecond = 1000
	}
	if c.Campaigns <= 0 {
		c.Campaigns = 5
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = 10000
	}
	if c.FillRate == 0 {
		c.FillRate = 0.95
	}
	if c.MaxValue == 0 {
		c.MinValue, c.MaxValue = 10, 500
	}
	if c.Weights == (Weights{}) {
		c.Weights = Weights{Impression: 0.90, Click: 0.08, Conversion: 0.02}
	}
	return c
}

type touchpoint struct {
	channel string
	at      time.Time
}

type session struct {
	userID      string
	sessionID   string
	started     time.Time
	touchpoints []touchpoint
	pos         int           // index in Simulator.active
	elem        *list.Element // entry in Simulator.order
}

// Simulator produces synthetic events. All methods are safe for concurrent use.
type Simulator struct {
	cfg     Config
	limiter *rate.Limiter
	now     func() time.Time

	mu       sync.Mutex
	rng      *rand.Rand
	active   []*session // random access
	order    *list.List // oldest first
	counters Counters
}

// New creates a Simulator over cfg.Channels.
func New(cfg Config) (*Simulator, error) {
	if len(cfg.Channels) == 0 {
		return nil, errors.New("simulator: at least one channel is required")
	}
	cfg = cfg.withDefaults()
	if cfg.MinValue < 0 || cfg.MaxValue < cfg.MinValue {
		return nil, fmt.Errorf("simulator: invalid value range [%v, %v]", cfg.MinValue, cfg.MaxValue)
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Simulator{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.EventsPerSecond), burstFor(cfg.EventsPerSecond)),
		now:     time.Now,
		rng:     rand.New(rand.NewSource(seed)),
		order:   list.New(),
	}, nil
}

// burstFor sizes the limiter bucket to roughly 100ms of events.
func burstFor(eps int) int {
	if b := eps / 10; b > 1 {
		return b
	}
	return 1
}

// SetRate changes the target event rate. Non-positive values are ignored.
func (s *Simulator) SetRate(eps int) {
	if eps <= 0 {
		return
	}
	s.limiter.SetBurst(burstFor(eps))
	s.limiter.SetLimit(rate.Limit(eps))
	slog.Info("simulator: rate changed", "events_per_second", eps)
}

// Rate returns the current target event rate.
func (s *Simulator) Rate() int {
	return int(s.limiter.Limit())
}

// Counters returns a copy of the cumulative counters.
func (s *Simulator) Counters() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.counters
	c.ActiveSessions = len(s.active)
	return c
}

// Step draws one event. ok is false when the draw produced nothing: an
// unfilled ad request, or a click or conversion with no active session.
func (s *Simulator) Step() (ev Event, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.cfg.Weights
	r := s.rng.Float64() * (w.Impression + w.Click + w.Conversion)
	switch {
	case r < w.Impression:
		ev, ok = s.impression()
	case r < w.Impression+w.Click:
		ev, ok = s.click()
	default:
		ev, ok = s.conversion()
	}
	if ok {
		ev.EventID = fmt.Sprintf("evt_%012d", s.counters.Events)
		s.counters.Events++
	}
	return ev, ok
}

func (s *Simulator) impression() (Event, bool) {
	s.counters.Requests++
	if s.rng.Float64() >= s.cfg.FillRate {
		return Event{}, false
	}
	s.counters.Fills++
	s.counters.Impressions++

	now := s.now()
	var sess *session
	if len(s.active) > 0 && s.rng.Float64() < s.cfg.ReturnRate {
		sess = s.active[s.rng.Intn(len(s.active))]
	} else {
		sess = s.startSession(now)
	}

	channel := s.cfg.Channels[s.rng.Intn(len(s.cfg.Channels))]
	sess.touchpoints = append(sess.touchpoints, touchpoint{channel: channel, at: now})

	return Event{
		EventType:  EventImpression,
		UserID:     sess.userID,
		CampaignID: fmt.Sprintf("campaign_%03d", s.rng.Intn(s.cfg.Campaigns)),
		Channel:    channel,
		Timestamp:  now,
		SessionID:  sess.sessionID,
		DeviceType: devices[s.rng.Intn(len(devices))],
		ContentID:  fmt.Sprintf("content_%d", 1+s.rng.Intn(1000)),
		Metadata: &Metadata{
			HourOfDay: now.Hour(),
			DayOfWeek: (int(now.Weekday()) + 6) % 7,
		},
	}, true
}

func (s *Simulator) click() (Event, bool) {
	if len(s.active) == 0 {
		return Event{}, false
	}
	sess := s.active[s.rng.Intn(len(s.active))]
	last := sess.touchpoints[len(sess.touchpoints)-1]
	now := s.now()
	s.counters.Clicks++
	return Event{
		EventType:    EventClick,
		UserID:       sess.userID,
		Channel:      last.channel,
		Timestamp:    now,
		SessionID:    sess.sessionID,
		ClickDelayMs: now.Sub(last.at).Milliseconds(),
	}, true
}

func (s *Simulator) conversion() (Event, bool) {
	if len(s.active) == 0 {
		return Event{}, false
	}
	sess := s.active[s.rng.Intn(len(s.active))]
	s.endSession(sess)

	path := make([]string, len(sess.touchpoints))
	for i, tp := range sess.touchpoints {
		path[i] = tp.channel
	}
	now := s.now()
	s.counters.Conversions++
	return Event{
		EventType:              EventConversion,
		UserID:                 sess.userID,
		Timestamp:              now,
		SessionID:              sess.sessionID,
		ConversionValue:        s.cfg.MinValue + s.rng.Float64()*(s.cfg.MaxValue-s.cfg.MinValue),
		AttributionTouchpoints: path,
		SessionDurationSec:     now.Sub(sess.started).Seconds(),
	}, true
}

// startSession opens a new user session, abandoning the oldest when full.
func (s *Simulator) startSession(now time.Time) *session {
	if len(s.active) >= s.cfg.MaxSessions {
		oldest := s.order.Front().Value.(*session)
		s.endSession(oldest)
	}
	sess := &session{
		userID:  "user_" + uuid.NewString(),
		started: now,
		pos:     len(s.active),
	}
	sess.sessionID = fmt.Sprintf("session_%s_%d", sess.userID, now.Unix())
	sess.elem = s.order.PushBack(sess)
	s.active = append(s.active, sess)
	s.counters.SessionsStarted++
	return sess
}

func (s *Simulator) endSession(sess *session) {
	last := len(s.active) - 1
	moved := s.active[last]
	s.active[sess.pos] = moved
	moved.pos = sess.pos
	s.active[last] = nil
	s.active = s.active[:last]
	s.order.Remove(sess.elem)
}

// Run generates events at the configured rate until ctx is cancelled,
// forwarding each conversion to sink. Sink errors are counted and logged,
// never fatal.
func (s *Simulator) Run(ctx context.Context, sink ConversionSink) error {
	slog.Info("simulator: starting",
		"events_per_second", s.Rate(),
		"channels", s.cfg.Channels,
		"campaigns", s.cfg.Campaigns,
	)
	return s.loop(ctx, func(ev Event) error {
		if ev.EventType != EventConversion {
			return nil
		}
		if err := sink.RecordConversion(ev.AttributionTouchpoints, ev.ConversionValue); err != nil {
			s.mu.Lock()
			s.counters.Rejected++
			s.mu.Unlock()
			slog.Debug("simulator: conversion rejected", "event_id", ev.EventID, "err", err)
		}
		return nil
	})
}

// Stream writes events to w as JSON lines until duration elapses or ctx is
// cancelled. It returns the number of events written.
func (s *Simulator) Stream(ctx context.Context, w io.Writer, duration time.Duration) (int, error) {
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}
	enc := json.NewEncoder(w)
	written := 0
	err := s.loop(ctx, func(ev Event) error {
		if err := enc.Encode(ev); err != nil {
			return fmt.Errorf("simulator: write event: %w", err)
		}
		written++
		return nil
	})
	return written, err
}

// loop paces Step by the limiter in bursts and hands produced events to emit.
// It returns nil once ctx is done and the first error emit returns otherwise.
func (s *Simulator) loop(ctx context.Context, emit func(Event) error) error {
	for {
		n := s.limiter.Burst()
		if err := s.limiter.WaitN(ctx, n); err != nil {
			// Either ctx ends before the tokens arrive or the burst shrank
			// under a concurrent SetRate.
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(10 * time.Millisecond):
				continue
			}
		}
		for i := 0; i < n; i++ {
			ev, ok := s.Step()
			if !ok {
				continue
			}
			if err := emit(ev); err != nil {
				return err
			}
		}
	}
}
