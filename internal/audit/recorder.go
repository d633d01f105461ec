// Package audit writes one durable record per dispatched peer call and
// serves the recent-exchanges query. Writes are best effort: a failed insert
// is logged and counted but never changes what the caller receives.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/tjfontaine/mme-broker/internal/core/domain"
	"github.com/tjfontaine/mme-broker/internal/core/ports"
	"github.com/tjfontaine/mme-broker/internal/metrics"
)

// DefaultWriteTimeout bounds a single insert.
const DefaultWriteTimeout = 2 * time.Second

// DefaultRecent is the page size of Recent when n is not positive.
const DefaultRecent = 10

// Recorder appends audit records to an AuditStore.
type Recorder struct {
	store        ports.AuditStore
	publisher    ports.EventPublisher
	metrics      *metrics.Collector
	logger       *slog.Logger
	writeTimeout time.Duration
	recent       int
	newID        func() string
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithPublisher emits a lifecycle event after every write attempt.
func WithPublisher(p ports.EventPublisher) Option {
	return func(r *Recorder) { r.publisher = p }
}

// WithMetrics counts write and publish outcomes.
func WithMetrics(m *metrics.Collector) Option {
	return func(r *Recorder) { r.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithWriteTimeout bounds each insert. Non-positive values keep the default.
func WithWriteTimeout(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.writeTimeout = d
		}
	}
}

// WithRecentDefault sets the page size used when Recent gets n <= 0.
func WithRecentDefault(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.recent = n
		}
	}
}

// NewRecorder creates a Recorder over store.
func NewRecorder(store ports.AuditStore, opts ...Option) *Recorder {
	r := &Recorder{
		store:        store,
		logger:       slog.Default(),
		writeTimeout: DefaultWriteTimeout,
		recent:       DefaultRecent,
		newID:        uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// BuildRecord derives the audit record for one exchange. The query patient
// and test flag come from the canonical request; response patient ids come
// from the caller-facing response in order.
func BuildRecord(id string, ex domain.NormalizedExchange, senderID string, receivedAt time.Time) *domain.AuditRecord {
	req := ex.Request.Bytes()
	return &domain.AuditRecord{
		ID:                 id,
		SenderID:           senderID,
		ReceiverID:         ex.Peer.ID,
		QueryPatientID:     gjson.GetBytes(req, "patient.id").String(),
		IsTest:             gjson.GetBytes(req, "test").Bool() || gjson.GetBytes(req, "patient.test").Bool(),
		ResponsePatientIDs: responsePatientIDs(ex.Response),
		RequestBlob:        domain.EncodeBlob(req),
		ResponseBlob:       domain.EncodeBlob(ex.Response),
		CreatedAt:          receivedAt.UTC(),
		Status:             ex.Status,
		ElapsedSeconds:     ex.Elapsed.Seconds(),
	}
}

func responsePatientIDs(response json.RawMessage) []string {
	ids := []string{}
	gjson.GetBytes(response, "results").ForEach(func(_, result gjson.Result) bool {
		if id := result.Get("patient.id"); id.Exists() {
			ids = append(ids, id.String())
		}
		return true
	})
	return ids
}

// Record writes the audit record for ex and reports whether it was stored.
// It never returns an error; failures are logged at warning level.
func (r *Recorder) Record(ctx context.Context, ex domain.NormalizedExchange, inbound *domain.InboundRequest) (*domain.AuditRecord, bool) {
	rec := BuildRecord(r.newID(), ex, inbound.SenderID, inbound.ReceivedAt)

	// The caller's deadline must not cut the write short.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.writeTimeout)
	defer cancel()

	err := r.store.InsertExchange(writeCtx, rec)
	r.metrics.RecordAuditWrite(err)
	if err != nil {
		r.logger.WarnContext(ctx, "audit write failed",
			slog.String("exchange_id", rec.ID),
			slog.String("sender", rec.SenderID),
			slog.String("receiver", rec.ReceiverID),
			slog.Int("status", rec.Status),
			slog.String("error", err.Error()))
	}

	r.publish(ctx, rec, err == nil)
	return rec, err == nil
}

func (r *Recorder) publish(ctx context.Context, rec *domain.AuditRecord, audited bool) {
	if r.publisher == nil {
		return
	}

	eventType := domain.LifecycleExchangeCompleted
	if rec.Status == 0 {
		eventType = domain.LifecycleExchangeFailed
	}
	event := &domain.LifecycleEvent{
		Type:       eventType,
		ExchangeID: rec.ID,
		SenderID:   rec.SenderID,
		ReceiverID: rec.ReceiverID,
		Timestamp:  time.Now().UTC(),
		Data: domain.LifecycleCompletedData{
			Status:             rec.Status,
			ElapsedSeconds:     rec.ElapsedSeconds,
			ResponsePatientIDs: rec.ResponsePatientIDs,
			IsTest:             rec.IsTest,
			Audited:            audited,
		},
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.writeTimeout)
	defer cancel()

	err := r.publisher.Publish(pubCtx, event)
	r.metrics.RecordEventPublish(err)
	if err != nil {
		r.logger.WarnContext(ctx, "lifecycle event publish failed",
			slog.String("exchange_id", rec.ID),
			slog.String("error", err.Error()))
	}
}

// Recent returns the n most recent non-test records, newest first.
func (r *Recorder) Recent(ctx context.Context, n int) ([]*domain.AuditRecord, error) {
	if n <= 0 {
		n = r.recent
	}
	return r.store.SearchExchanges(ctx, ports.ExchangeQuery{ExcludeTests: true, Limit: n})
}
