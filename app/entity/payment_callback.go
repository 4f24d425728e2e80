package entity

import "time"

const (
	ProviderCallbackProcessed = "processed"
	ProviderCallbackRejected  = "rejected"
)

// ProviderCallback is an inbound completion signal sent by a settlement provider.
type ProviderCallback struct {
	ID uint64

	TransactionID *string

	Provider    string
	Signature   string
	PayloadJSON string
	Status      string
	Error       *string

	CreatedAt time.Time
}
