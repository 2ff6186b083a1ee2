package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/attribstream/attribstream/pkg/types"
	"github.com/attribstream/attribstream/server/internal/config"
)

const (
	defaultCooldown   = 15 * time.Minute
	maxHistoryLen     = 200
	recentWindowHours = 1
)

// Severity values.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

// Alert lifecycle states.
const (
	StateFiring   = "firing"
	StateResolved = "resolved"
)

// Alert represents a single alert event produced by the rule engine.
type Alert struct {
	ID         string     `json:"id"`
	RuleName   string     `json:"rule_name"`
	SourceID   string     `json:"source_id"`
	Severity   string     `json:"severity"`
	Category   string     `json:"category,omitempty"`
	Condition  string     `json:"condition"`
	Message    string     `json:"message"`
	Value      float64    `json:"value"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	State      string     `json:"state"`
}

type rule struct {
	config.AlertRule
	cond condition
}

// Engine evaluates alert rules against incoming records and delivers
// webhook notifications when rules fire or resolve.
//
// Engine is safe for concurrent use.
type Engine struct {
	rules    []rule
	webhooks []config.WebhookConfig
	now      func() time.Time

	mu       sync.Mutex
	active   map[string]*Alert    // key: "ruleName:sourceID"
	lastFire map[string]time.Time // last fire time per key (for cooldown)
	history  []*Alert             // recently resolved alerts
	client   *http.Client

	// ctx scopes webhook deliveries; Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an Engine from the server alert configuration. A nil rule list
// selects DefaultRules; an empty one disables evaluation.
func New(cfg config.AlertsConfig) (*Engine, error) {
	src := cfg.Rules
	if src == nil {
		src = DefaultRules()
	}
	rules := make([]rule, 0, len(src))
	for _, r := range src {
		c, err := parseCondition(r.Condition)
		if err != nil {
			return nil, fmt.Errorf("alerts: rule %q: %w", r.Name, err)
		}
		if r.Severity == "" {
			r.Severity = SeverityWarning
		}
		if r.Cooldown <= 0 {
			r.Cooldown = defaultCooldown
		}
		rules = append(rules, rule{AlertRule: r, cond: c})
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		rules:    rules,
		webhooks: cfg.Webhooks,
		now:      time.Now,
		active:   make(map[string]*Alert),
		lastFire: make(map[string]time.Time),
		client:   &http.Client{},
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Rules returns the effective rule set.
func (e *Engine) Rules() []config.AlertRule {
	out := make([]config.AlertRule, len(e.rules))
	for i, r := range e.rules {
		out[i] = r.AlertRule
	}
	return out
}

// Evaluate tests all rules against rec and returns copies of the alerts that
// changed state: newly fired and newly resolved. Webhook delivery for each
// change runs in the background.
//
// A rule whose field has no value in rec (health metrics while the health
// state is unknown) neither fires nor resolves.
func (e *Engine) Evaluate(rec *types.MetricsRecord) []Alert {
	if len(e.rules) == 0 {
		return nil
	}

	now := e.now()
	var changed []Alert
	for _, r := range e.rules {
		fires, value, ok := r.cond.eval(rec)
		if !ok {
			continue
		}
		key := r.Name + ":" + rec.SourceID

		e.mu.Lock()
		var a *Alert
		if fires {
			a = e.fire(r, key, rec.SourceID, value, now)
		} else {
			a = e.resolve(key, now)
		}
		var cp Alert
		if a != nil {
			cp = *a
		}
		e.mu.Unlock()

		if a == nil {
			continue
		}
		if cp.State == StateFiring {
			slog.Warn("alerts: fired",
				"rule", cp.RuleName,
				"source", cp.SourceID,
				"value", cp.Value,
				"severity", cp.Severity,
			)
		} else {
			slog.Info("alerts: resolved", "rule", cp.RuleName, "source", cp.SourceID)
		}
		changed = append(changed, cp)
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.deliver(e.ctx, &cp)
		}()
	}
	return changed
}

// fire records a firing alert unless one is already active or the rule is
// cooling down. Callers hold e.mu.
func (e *Engine) fire(r rule, key, sourceID string, value float64, now time.Time) *Alert {
	if _, firing := e.active[key]; firing {
		return nil
	}
	if last, ok := e.lastFire[key]; ok && now.Sub(last) < r.Cooldown {
		return nil
	}
	a := &Alert{
		ID:        uuid.NewString(),
		RuleName:  r.Name,
		SourceID:  sourceID,
		Severity:  r.Severity,
		Category:  r.Category,
		Condition: r.Condition,
		Message:   describe(r.AlertRule, r.cond, sourceID, value),
		Value:     value,
		FiredAt:   now,
		State:     StateFiring,
	}
	e.active[key] = a
	e.lastFire[key] = now
	return a
}

// resolve moves an active alert to history. Callers hold e.mu.
func (e *Engine) resolve(key string, now time.Time) *Alert {
	a, ok := e.active[key]
	if !ok {
		return nil
	}
	resolved := now
	a.State = StateResolved
	a.ResolvedAt = &resolved
	delete(e.active, key)

	e.history = append(e.history, a)
	if len(e.history) > maxHistoryLen {
		e.history = e.history[len(e.history)-maxHistoryLen:]
	}
	return a
}

// Active returns copies of all currently firing alerts plus any alerts
// resolved within the past hour, newest first.
func (e *Engine) Active() []*Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-recentWindowHours * time.Hour)
	out := make([]*Alert, 0, len(e.active))

	for _, a := range e.active {
		cp := *a
		out = append(out, &cp)
	}
	for _, a := range e.history {
		if a.ResolvedAt != nil && a.ResolvedAt.After(cutoff) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].FiredAt.After(out[j].FiredAt)
	})
	return out
}

// Firing returns the number of alerts currently firing.
func (e *Engine) Firing() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

// Wait blocks until in-flight webhook deliveries finish.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Close aborts in-flight webhook deliveries and waits for them to return.
// Alerts that change state after Close are not delivered.
func (e *Engine) Close() {
	e.cancel()
	e.wg.Wait()
}
