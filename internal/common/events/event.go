package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// Event represents a domain event envelope
type Event struct {
	ID            string          `json:"event_id"`
	Type          string          `json:"type"`
	Version       int             `json:"version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Reference     string          `json:"reference"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event keyed by the transaction reference
func NewEvent(eventType, reference string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:         ulid.Make().String(),
		Type:       eventType,
		Version:    1,
		OccurredAt: time.Now().UTC(),
		Reference:  reference,
		Data:       dataBytes,
	}, nil
}

// WithCorrelation adds a correlation ID
func (e *Event) WithCorrelation(correlationID string) *Event {
	e.CorrelationID = correlationID
	return e
}

// DecodeData decodes the event data into a struct
func (e *Event) DecodeData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// EventPublisher publishes events to a message broker
type EventPublisher interface {
	Publish(ctx context.Context, event *Event) error
}

// Terminal transition event types. Exactly one of these is emitted per
// transaction; pending transitions emit nothing.
const (
	EventPaymentSucceeded = "payment.succeeded"
	EventPaymentFailed    = "payment.failed"
)

// PaymentSucceededData is the data for payment.succeeded events
type PaymentSucceededData struct {
	Reference   string         `json:"reference"`
	Driver      string         `json:"driver"`
	AmountMinor int64          `json:"amount_minor"`
	Currency    string         `json:"currency"`
	PaidAt      *time.Time     `json:"paid_at,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// PaymentFailedData is the data for payment.failed events
type PaymentFailedData struct {
	Reference   string `json:"reference"`
	Driver      string `json:"driver"`
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"`
	Reason      string `json:"reason,omitempty"`
}
