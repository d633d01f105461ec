package domain

import (
	"time"
)

// LifecycleEvent represents a high-level lifecycle event for an exchange.
// These events are published to event buses for decoupled consumers (QA
// dashboards, analytics) and are distinct from the durable audit record.
type LifecycleEvent struct {
	Type       LifecycleEventType `json:"type"`
	ExchangeID string             `json:"exchange_id"`
	SenderID   string             `json:"sender_id"`
	ReceiverID string             `json:"receiver_id"`
	Timestamp  time.Time          `json:"timestamp"`
	Data       interface{}        `json:"data"`
}

// LifecycleEventType identifies the type of lifecycle event.
type LifecycleEventType string

const (
	LifecycleExchangeCompleted LifecycleEventType = "exchange.completed"
	LifecycleExchangeFailed    LifecycleEventType = "exchange.failed"
)

// LifecycleCompletedData contains data for exchange.completed and
// exchange.failed events.
type LifecycleCompletedData struct {
	Status             int      `json:"status"`
	ElapsedSeconds     float64  `json:"elapsed_seconds"`
	ResponsePatientIDs []string `json:"response_patient_ids"`
	IsTest             bool     `json:"is_test"`
	Audited            bool     `json:"audited"`
}
