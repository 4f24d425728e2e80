package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

type ExchangeRate struct {
	FromCurrency string
	ToCurrency   string
	Provider     string
	Rate         decimal.Decimal
	FetchedAt    time.Time
	ExpiresAt    time.Time
}

func (r *ExchangeRate) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}
