package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

type Direction string

const (
	DirectionOnramp  Direction = "onramp"
	DirectionOfframp Direction = "offramp"
)

type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "pending"
	TransactionStatusProcessing TransactionStatus = "processing"
	TransactionStatusCompleted  TransactionStatus = "completed"
	TransactionStatusFailed     TransactionStatus = "failed"
	TransactionStatusCancelled  TransactionStatus = "cancelled"
)

func (s TransactionStatus) Terminal() bool {
	switch s {
	case TransactionStatusCompleted, TransactionStatusFailed, TransactionStatusCancelled:
		return true
	default:
		return false
	}
}

type SettlementTransaction struct {
	ID string

	PaymentID *string

	Direction Direction
	Amount    decimal.Decimal
	Currency  string
	Status    TransactionStatus

	ProviderID        string
	ExternalReference string
	ProviderFee       decimal.Decimal
	Metadata          map[string]string
	FailureReason     *string

	ResolveAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}
