package provider

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/vibast-solutions/ms-go-remittance/app/entity"
	"github.com/vibast-solutions/ms-go-remittance/config"
)

type FeeType string

const (
	FeeTypeFixed      FeeType = "fixed"
	FeeTypePercentage FeeType = "percentage"
)

type ProcessingTime string

const (
	ProcessingInstant ProcessingTime = "instant"
	ProcessingMinutes ProcessingTime = "minutes"
	ProcessingHours   ProcessingTime = "hours"
	ProcessingDays    ProcessingTime = "days"
)

func (p ProcessingTime) rank() int {
	switch p {
	case ProcessingInstant:
		return 0
	case ProcessingMinutes:
		return 1
	case ProcessingHours:
		return 2
	case ProcessingDays:
		return 3
	default:
		return 4
	}
}

// Expected is the nominal settlement time advertised for the class.
func (p ProcessingTime) Expected() time.Duration {
	switch p {
	case ProcessingInstant:
		return time.Minute
	case ProcessingMinutes:
		return 15 * time.Minute
	case ProcessingHours:
		return 4 * time.Hour
	case ProcessingDays:
		return 48 * time.Hour
	default:
		return 24 * time.Hour
	}
}

type Definition struct {
	ID              string
	Name            string
	Direction       entity.Direction
	Currencies      []string
	PaymentMethods  []string
	MinAmount       decimal.Decimal
	MaxAmount       decimal.Decimal
	FeeType         FeeType
	FeeValue        decimal.Decimal
	SuccessRate     float64
	ProcessingTime  ProcessingTime
	ResolutionDelay time.Duration
	ReferencePrefix string
	ReferenceFormat string
}

func DefinitionsFromConfig(items []config.ProviderDefinition) []Definition {
	defs := make([]Definition, 0, len(items))
	for _, item := range items {
		defs = append(defs, Definition{
			ID:              item.ID,
			Name:            item.Name,
			Direction:       entity.Direction(item.Direction),
			Currencies:      append([]string(nil), item.Currencies...),
			PaymentMethods:  append([]string(nil), item.PaymentMethods...),
			MinAmount:       decimal.NewFromFloat(item.MinAmount),
			MaxAmount:       decimal.NewFromFloat(item.MaxAmount),
			FeeType:         FeeType(item.FeeType),
			FeeValue:        decimal.NewFromFloat(item.FeeValue),
			SuccessRate:     item.SuccessRate,
			ProcessingTime:  ProcessingTime(item.ProcessingTime),
			ResolutionDelay: item.Delay(),
			ReferencePrefix: item.ReferencePrefix,
			ReferenceFormat: item.ReferenceFormat,
		})
	}
	return defs
}

func (d *Definition) SupportsCurrency(currency string) bool {
	return contains(d.Currencies, currency)
}

func (d *Definition) SupportsMethod(method string) bool {
	return contains(d.PaymentMethods, method)
}

// WithinLimits reports whether amount falls in [min, max]; a zero max is unbounded.
func (d *Definition) WithinLimits(amount decimal.Decimal) bool {
	if amount.LessThan(d.MinAmount) {
		return false
	}
	if d.MaxAmount.IsPositive() && amount.GreaterThan(d.MaxAmount) {
		return false
	}
	return true
}

func (d *Definition) Fee(amount decimal.Decimal) decimal.Decimal {
	if d.FeeType == FeeTypePercentage {
		return amount.Mul(d.FeeValue).Round(2)
	}
	return d.FeeValue.Round(2)
}

func contains(items []string, value string) bool {
	for _, item := range items {
		if item == value {
			return true
		}
	}
	return false
}
