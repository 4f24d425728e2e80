package entity

import "time"

type WebhookStatus string

const (
	WebhookStatusPending WebhookStatus = "pending"
	WebhookStatusSent    WebhookStatus = "sent"
	WebhookStatusFailed  WebhookStatus = "failed"
)

const (
	EventPaymentCreated    = "payment.created"
	EventPaymentProcessing = "payment.processing"
	EventOnrampCompleted   = "onramp.completed"
	EventOfframpProcessing = "offramp.processing"
	EventPaymentCompleted  = "payment.completed"
	EventPaymentFailed     = "payment.failed"
	EventPaymentCancelled  = "payment.cancelled"
)

type WebhookDelivery struct {
	ID string

	PaymentID string
	EventType string
	URL       string
	Status    WebhookStatus
	Payload   string

	ResponseStatus *int
	ResponseBody   *string
	LastError      *string

	RetryCount    int
	NextAttemptAt *time.Time
	SentAt        *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}
