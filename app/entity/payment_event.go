package entity

import "time"

// PaymentEvent is one entry of the append-only lifecycle log. EventType
// matches the webhook event names; OldStatus is nil for payment.created.
type PaymentEvent struct {
	ID          uint64
	PaymentID   string
	EventType   string
	OldStatus   *PaymentStatus
	NewStatus   PaymentStatus
	PayloadJSON *string
	CreatedAt   time.Time
}
