package receiver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/attribstream/attribstream/pkg/types"
	"github.com/attribstream/attribstream/server/internal/alerts"
	"github.com/attribstream/attribstream/server/internal/store"
)

// UpdatePath is the ingestion route agents POST records to.
const UpdatePath = "/api/v1/update"

// MaxBodyBytes bounds a single record body.
const MaxBodyBytes = 1 << 20

// Error codes returned in JSON error bodies.
const (
	CodeBadRequest    = "bad_request"
	CodeInvalidRecord = "invalid_record"
	CodeTooLarge      = "too_large"
)

// Evaluator checks a record against alert rules. *alerts.Engine satisfies it.
type Evaluator interface {
	Evaluate(rec *types.MetricsRecord) []alerts.Alert
}

// Recorder persists accepted records. *history.Store satisfies it.
type Recorder interface {
	Record(ctx context.Context, rec *types.MetricsRecord) error
}

// Publisher pushes events to live clients. *ws.Hub satisfies it.
type Publisher interface {
	Publish(event string, data any)
}

// Option configures optional Receiver collaborators.
type Option func(*Receiver)

// WithAlerts evaluates every accepted record against ev.
func WithAlerts(ev Evaluator) Option { return func(r *Receiver) { r.alerts = ev } }

// WithHistory appends every accepted record to rec.
func WithHistory(rec Recorder) Option { return func(r *Receiver) { r.history = rec } }

// WithPublisher announces accepted records and alert changes on pub.
func WithPublisher(pub Publisher) Option { return func(r *Receiver) { r.pub = pub } }

// Receiver accepts MetricsRecords from attribstream-agent instances.
// It validates each record and stores it in the state store, then fans it
// out to the optional alert engine, history and live clients.
type Receiver struct {
	store   *store.Store
	alerts  Evaluator
	history Recorder
	pub     Publisher
}

// New creates a Receiver that writes accepted records to st.
func New(st *store.Store, opts ...Option) *Receiver {
	r := &Receiver{store: st}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register mounts the ingestion routes on rg behind the given middleware.
// The bare /update path is kept for agents that predate the versioned API.
func (r *Receiver) Register(rg gin.IRoutes, middleware ...gin.HandlerFunc) {
	handlers := append(append([]gin.HandlerFunc{}, middleware...), r.Update)
	rg.POST(UpdatePath, handlers...)
	rg.POST("/update", handlers...)
}

// Update is the handler agents call with one record per request.
// Authentication is enforced by middleware before this is called.
func (r *Receiver) Update(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodyBytes)

	var rec types.MetricsRecord
	if err := c.ShouldBindJSON(&rec); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			abort(c, http.StatusRequestEntityTooLarge, CodeTooLarge, "record exceeds 1 MiB")
			return
		}
		var invalid validator.ValidationErrors
		if errors.As(err, &invalid) {
			abort(c, http.StatusBadRequest, CodeInvalidRecord, describeInvalid(invalid))
			return
		}
		abort(c, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	if err := rec.Validate(); err != nil {
		abort(c, http.StatusBadRequest, CodeInvalidRecord, err.Error())
		return
	}

	r.store.Put(&rec)

	slog.Debug("receiver: record stored",
		"source_id", rec.SourceID,
		"conversions", rec.TotalConversions,
		"state", rec.Health.State,
		"score", rec.Health.Score,
	)

	var changed []alerts.Alert
	if r.alerts != nil {
		changed = r.alerts.Evaluate(&rec)
	}
	if r.history != nil {
		if err := r.history.Record(c.Request.Context(), &rec); err != nil {
			slog.Warn("receiver: history write failed", "source_id", rec.SourceID, "err", err)
		}
	}
	if r.pub != nil {
		r.pub.Publish("update", &rec)
		for i := range changed {
			r.pub.Publish("alert", &changed[i])
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// describeInvalid names the offending fields, e.g.
// "ChannelValue[Search] failed gte=0".
func describeInvalid(errs validator.ValidationErrors) string {
	parts := make([]string, 0, len(errs))
	for _, fe := range errs {
		tag := fe.Tag()
		if fe.Param() != "" {
			tag += "=" + fe.Param()
		}
		parts = append(parts, fmt.Sprintf("%s failed %s", fieldPath(fe.Namespace()), tag))
	}
	return strings.Join(parts, "; ")
}

// fieldPath drops the struct name from a validator namespace
// ("MetricsRecord.ChannelValue[Search]" becomes "ChannelValue[Search]").
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func abort(c *gin.Context, status int, code, msg string) {
	slog.Debug("receiver: record rejected", "status", status, "code", code, "err", msg)
	c.AbortWithStatusJSON(status, gin.H{"error": msg, "code": code})
}
