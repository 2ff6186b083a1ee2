package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// webhookTimeout bounds a single delivery attempt.
const webhookTimeout = 10 * time.Second

// notifier renders an alert into a target-specific request body.
type notifier func(a *Alert) ([]byte, error)

var notifiers = map[string]notifier{
	"slack": slackPayload,
	"teams": teamsPayload,
	"http":  httpPayload,
}

// deliver posts a to every configured webhook. Failures are logged per
// target; one failing target does not stop the others.
func (e *Engine) deliver(ctx context.Context, a *Alert) {
	for _, wh := range e.webhooks {
		url := wh.URL()
		if url == "" {
			continue
		}
		render, ok := notifiers[wh.Type]
		if !ok {
			slog.Warn("alerts: unknown webhook type, skipping", "type", wh.Type)
			continue
		}
		body, err := render(a)
		if err == nil {
			err = e.post(ctx, url, body)
		}
		logger := slog.With("type", wh.Type, "rule", a.RuleName, "source", a.SourceID, "state", a.State)
		if err != nil {
			logger.Error("alerts: webhook delivery failed", "err", err)
			continue
		}
		logger.Debug("alerts: webhook delivered")
	}
}

// post sends body as JSON. The attempt is cut short when ctx ends or after
// webhookTimeout, whichever comes first.
func (e *Engine) post(ctx context.Context, url string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, webhookTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// --- payloads ---

// slackPayload renders one mrkdwn line plus a context line, e.g.
//
//	*[CRITICAL]* Fill rate dropped to 50.0% on edge-1 (target: >90%)
//	source `edge-1` | Campaign Health | fill_rate < 0.90 | value 0.5
func slackPayload(a *Alert) ([]byte, error) {
	headline := fmt.Sprintf("*%s* %s", severityLabel(a.Severity), a.Message)
	if a.State == StateResolved {
		headline = fmt.Sprintf("*%s* RESOLVED: %s", severityLabel(a.Severity), a.Message)
	}
	details := []string{"source `" + a.SourceID + "`"}
	if a.Category != "" {
		details = append(details, a.Category)
	}
	details = append(details, a.Condition, "value "+formatValue(a.Value))
	if a.ResolvedAt != nil {
		details = append(details, "resolved "+a.ResolvedAt.UTC().Format(time.RFC3339))
	}
	return json.Marshal(map[string]string{
		"text": headline + "\n" + strings.Join(details, " | "),
	})
}

type teamsFact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type teamsSection struct {
	ActivityTitle string      `json:"activityTitle"`
	Facts         []teamsFact `json:"facts"`
}

type teamsCard struct {
	Type       string         `json:"@type"`
	Context    string         `json:"@context"`
	ThemeColor string         `json:"themeColor"`
	Summary    string         `json:"summary"`
	Title      string         `json:"title"`
	Sections   []teamsSection `json:"sections"`
}

// teamsPayload renders an Office 365 connector card with the alert details
// as facts.
func teamsPayload(a *Alert) ([]byte, error) {
	facts := []teamsFact{
		{Name: "Source", Value: a.SourceID},
		{Name: "Severity", Value: a.Severity},
		{Name: "Category", Value: a.Category},
		{Name: "Condition", Value: a.Condition},
		{Name: "Value", Value: formatValue(a.Value)},
		{Name: "State", Value: a.State},
		{Name: "Fired", Value: a.FiredAt.UTC().Format(time.RFC3339)},
	}
	if a.ResolvedAt != nil {
		facts = append(facts, teamsFact{Name: "Resolved", Value: a.ResolvedAt.UTC().Format(time.RFC3339)})
	}
	return json.Marshal(teamsCard{
		Type:       "MessageCard",
		Context:    "http://schema.org/extensions",
		ThemeColor: severityColor(a.Severity),
		Summary:    a.RuleName,
		Title:      fmt.Sprintf("attribstream %s: %s", a.State, a.RuleName),
		Sections:   []teamsSection{{ActivityTitle: a.Message, Facts: facts}},
	})
}

// httpPayload posts the alert as-is under an "alert" key.
func httpPayload(a *Alert) ([]byte, error) {
	return json.Marshal(struct {
		Alert *Alert `json:"alert"`
	}{a})
}

func formatValue(v float64) string {
	return fmt.Sprintf("%.4g", v)
}

func severityLabel(s string) string {
	switch s {
	case SeverityCritical:
		return "[CRITICAL]"
	case SeverityWarning:
		return "[WARNING]"
	default:
		return "[INFO]"
	}
}

func severityColor(s string) string {
	switch s {
	case SeverityCritical:
		return "FF4F6A"
	case SeverityWarning:
		return "FFAB40"
	default:
		return "00D4FF"
	}
}
