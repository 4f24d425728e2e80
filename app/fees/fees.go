package fees

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/vibast-solutions/ms-go-remittance/config"
)

var ErrUnsupportedCurrency = errors.New("unsupported currency")

type Schedule struct {
	BaseFee       decimal.Decimal
	PercentageFee decimal.Decimal
	MinFee        decimal.Decimal
	// MaxFee of zero means the fee is not capped.
	MaxFee decimal.Decimal
}

type Breakdown struct {
	Currency      string
	Amount        decimal.Decimal
	BaseFee       decimal.Decimal
	PercentageFee decimal.Decimal
	Fee           decimal.Decimal
	Schedule      Schedule
}

type Calculator struct {
	schedules map[string]Schedule
}

func NewCalculator(schedules map[string]Schedule) *Calculator {
	items := make(map[string]Schedule, len(schedules))
	for currency, schedule := range schedules {
		items[strings.ToUpper(strings.TrimSpace(currency))] = schedule
	}
	return &Calculator{schedules: items}
}

func SchedulesFromConfig(items map[string]config.FeeSchedule) map[string]Schedule {
	schedules := make(map[string]Schedule, len(items))
	for currency, item := range items {
		schedules[currency] = Schedule{
			BaseFee:       decimal.NewFromFloat(item.BaseFee),
			PercentageFee: decimal.NewFromFloat(item.PercentageFee),
			MinFee:        decimal.NewFromFloat(item.MinFee),
			MaxFee:        decimal.NewFromFloat(item.MaxFee),
		}
	}
	return schedules
}

func (c *Calculator) Supports(currency string) bool {
	_, ok := c.schedules[strings.ToUpper(strings.TrimSpace(currency))]
	return ok
}

func (c *Calculator) Schedule(currency string) (Schedule, error) {
	schedule, ok := c.schedules[strings.ToUpper(strings.TrimSpace(currency))]
	if !ok {
		return Schedule{}, fmt.Errorf("%w: no fee schedule for %s", ErrUnsupportedCurrency, currency)
	}
	return schedule, nil
}

// Calculate returns clamp(base + amount*percentage, min, max) rounded to cents.
func (c *Calculator) Calculate(currency string, amount decimal.Decimal) (*Breakdown, error) {
	schedule, err := c.Schedule(currency)
	if err != nil {
		return nil, err
	}

	percentagePart := amount.Mul(schedule.PercentageFee)
	fee := schedule.BaseFee.Add(percentagePart)
	if fee.LessThan(schedule.MinFee) {
		fee = schedule.MinFee
	}
	if schedule.MaxFee.IsPositive() && fee.GreaterThan(schedule.MaxFee) {
		fee = schedule.MaxFee
	}

	return &Breakdown{
		Currency:      strings.ToUpper(strings.TrimSpace(currency)),
		Amount:        amount,
		BaseFee:       schedule.BaseFee,
		PercentageFee: percentagePart.Round(2),
		Fee:           fee.Round(2),
		Schedule:      schedule,
	}, nil
}
