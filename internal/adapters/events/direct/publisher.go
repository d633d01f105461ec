// Package direct provides an event publisher that writes lifecycle events
// straight to the structured log.
package direct

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tjfontaine/mme-broker/internal/core/domain"
	"github.com/tjfontaine/mme-broker/internal/core/ports"
)

// Publisher implements ports.EventPublisher by logging each event.
// This is the default implementation for single-instance deployments.
type Publisher struct {
	logger *slog.Logger
}

var _ ports.EventPublisher = (*Publisher)(nil)

// NewPublisher creates a new direct event publisher.
func NewPublisher(logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Publisher{logger: logger.With(slog.String("component", "events"))}, nil
}

// Publish writes a lifecycle event as one log record.
func (p *Publisher) Publish(ctx context.Context, event *domain.LifecycleEvent) error {
	if event == nil {
		return fmt.Errorf("event required")
	}

	attrs := []any{
		slog.String("type", string(event.Type)),
		slog.String("exchange_id", event.ExchangeID),
		slog.String("sender_id", event.SenderID),
		slog.String("receiver_id", event.ReceiverID),
		slog.Time("timestamp", event.Timestamp),
	}
	if data, ok := event.Data.(domain.LifecycleCompletedData); ok {
		attrs = append(attrs,
			slog.Int("status", data.Status),
			slog.Float64("elapsed_seconds", data.ElapsedSeconds),
			slog.Bool("is_test", data.IsTest),
			slog.Bool("audited", data.Audited),
			slog.Int("response_patients", len(data.ResponsePatientIDs)))
	}

	level := slog.LevelInfo
	if event.Type == domain.LifecycleExchangeFailed {
		level = slog.LevelWarn
	}
	p.logger.Log(ctx, level, "exchange lifecycle event", attrs...)
	return nil
}

// Close is a no-op for direct publisher.
func (p *Publisher) Close() error {
	return nil
}
