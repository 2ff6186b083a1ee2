package attribution

import (
	"math"
	"sync"
	"time"
)

// Engine aggregates conversion paths into transition counts and per-channel
// credit. All exported methods are safe for concurrent use.
//
// A single mutex covers every aggregate. Both operations are bounded
// in-memory work (path length and channel count), so readers queue behind
// writers and every Snapshot is linearizable.
type Engine struct {
	reg  *Registry
	rule CreditRule
	now  func() time.Time

	mu               sync.Mutex
	transitions      *transitions
	credit           *accumulator
	totalConversions int64
	totalValue       float64
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithCreditRule replaces the default LastTouch rule.
func WithCreditRule(rule CreditRule) Option {
	return func(e *Engine) {
		if rule != nil {
			e.rule = rule
		}
	}
}

// WithClock sets the clock used to timestamp snapshots.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New creates an Engine over channels with all aggregates zeroed.
func New(channels []string, opts ...Option) (*Engine, error) {
	reg, err := NewRegistry(channels)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		reg:         reg,
		rule:        LastTouch{},
		now:         time.Now,
		transitions: newTransitions(reg.Len()),
		credit:      newAccumulator(reg.Len()),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Channels returns the registered channel names in order.
func (e *Engine) Channels() []string { return e.reg.Names() }

// Model returns the name of the active credit rule.
func (e *Engine) Model() string { return e.rule.Name() }

// RecordConversion folds one conversion path into the aggregates.
//
// path must be non-empty and contain only registered channels; value must be
// finite and non-negative. Any violation returns an error matching
// ErrInvalidPath and leaves the engine untouched.
func (e *Engine) RecordConversion(path []string, value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return &InvalidPathError{Reason: ReasonInvalidValue, Position: -1, Value: value}
	}
	if value < 0 {
		return &InvalidPathError{Reason: ReasonNegativeValue, Position: -1, Value: value}
	}
	// The registry is immutable, so resolution needs no lock.
	idx, err := e.reg.resolve(path)
	if err != nil {
		return err
	}
	credits := e.rule.Assign(idx, value)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.transitions.recordPath(idx)
	e.credit.apply(credits)
	e.totalConversions++
	e.totalValue += value
	return nil
}

// Snapshot returns an independent, point-in-time copy of the engine state.
func (e *Engine) Snapshot() ScoreSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := e.reg.Len()
	snap := ScoreSnapshot{
		Channels:           e.reg.Names(),
		TotalConversions:   e.totalConversions,
		TotalValue:         e.totalValue,
		ChannelValue:       make(map[string]float64, n),
		ChannelConversions: make(map[string]float64, n),
		Shares:             make(map[string]float64, n),
		Transitions:        e.transitions.export(e.reg),
		Model:              e.rule.Name(),
		Timestamp:          e.now(),
	}
	for i := 0; i < n; i++ {
		name := e.reg.Name(i)
		v := e.credit.value[i]
		snap.ChannelValue[name] = v
		snap.ChannelConversions[name] = e.credit.conversions[i]
		if e.totalValue > 0 {
			snap.Shares[name] = v / e.totalValue
		} else {
			snap.Shares[name] = 0
		}
	}
	return snap
}
