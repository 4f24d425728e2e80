package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "pending"
	PaymentStatusProcessing        PaymentStatus = "processing"
	PaymentStatusOnrampComplete    PaymentStatus = "onramp_complete"
	PaymentStatusOfframpProcessing PaymentStatus = "offramp_processing"
	PaymentStatusCompleted         PaymentStatus = "completed"
	PaymentStatusFailed            PaymentStatus = "failed"
	PaymentStatusCancelled         PaymentStatus = "cancelled"
)

const (
	FailureCodeOnrampFailed  = "onramp_failed"
	FailureCodeOfframpFailed = "offramp_failed"
	FailureCodeTimeout       = "timeout"
	FailureCodeNoProvider    = "no_provider_available"
	FailureCodeExpired       = "expired"
	FailureCodeInternal      = "internal_error"
)

func (s PaymentStatus) Terminal() bool {
	switch s {
	case PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled:
		return true
	default:
		return false
	}
}

type Payment struct {
	ID string

	UserID         string
	IdempotencyKey string

	SourceAmount        decimal.Decimal
	SourceCurrency      string
	DestinationAmount   decimal.Decimal
	DestinationCurrency string
	ExchangeRate        decimal.Decimal
	FeeAmount           decimal.Decimal
	FeeCurrency         string
	TotalAmount         decimal.Decimal

	Status        PaymentStatus
	PaymentMethod string
	Recipient     map[string]string

	OnrampTransactionID  *string
	OfframpTransactionID *string

	WebhookURL *string

	FailureCode  *string
	ErrorMessage *string

	EstimatedCompletion *time.Time

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}
