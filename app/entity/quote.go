package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is a priced transfer, computed from a single rate snapshot.
type Quote struct {
	SourceAmount        decimal.Decimal
	SourceCurrency      string
	DestinationAmount   decimal.Decimal
	DestinationCurrency string

	ExchangeRate decimal.Decimal
	RateProvider string
	RateFetched  time.Time

	FeeAmount           decimal.Decimal
	FeeCurrency         string
	FeeInSourceCurrency decimal.Decimal
	TotalAmount         decimal.Decimal

	BaseFee       decimal.Decimal
	PercentageFee decimal.Decimal
	MinFee        decimal.Decimal
	MaxFee        decimal.Decimal
}
