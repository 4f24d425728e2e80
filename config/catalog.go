package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Catalog holds the static reference data the service runs with: fee
// schedules per destination currency, the base rate table and the
// settlement provider registry.
type Catalog struct {
	AnchorCurrency string                 `yaml:"anchor_currency"`
	BaseRates      []BaseRate             `yaml:"base_rates"`
	FeeSchedules   map[string]FeeSchedule `yaml:"fee_schedules"`
	Providers      []ProviderDefinition   `yaml:"providers"`
}

type BaseRate struct {
	From string  `yaml:"from"`
	To   string  `yaml:"to"`
	Rate float64 `yaml:"rate"`
}

type FeeSchedule struct {
	BaseFee       float64 `yaml:"base_fee"`
	PercentageFee float64 `yaml:"percentage_fee"`
	MinFee        float64 `yaml:"min_fee"`
	MaxFee        float64 `yaml:"max_fee"`
}

type ProviderDefinition struct {
	ID              string   `yaml:"id"`
	Name            string   `yaml:"name"`
	Direction       string   `yaml:"direction"`
	Currencies      []string `yaml:"currencies"`
	PaymentMethods  []string `yaml:"payment_methods"`
	MinAmount       float64  `yaml:"min_amount"`
	MaxAmount       float64  `yaml:"max_amount"`
	FeeType         string   `yaml:"fee_type"`
	FeeValue        float64  `yaml:"fee_value"`
	SuccessRate     float64  `yaml:"success_rate"`
	ProcessingTime  string   `yaml:"processing_time"`
	ResolutionDelay string   `yaml:"resolution_delay"`
	ReferencePrefix string   `yaml:"reference_prefix"`
	ReferenceFormat string   `yaml:"reference_format"`
}

func (d ProviderDefinition) Delay() time.Duration {
	delay, err := time.ParseDuration(strings.TrimSpace(d.ResolutionDelay))
	if err != nil {
		return 0
	}
	return delay
}

// LoadCatalog reads the catalog from path, or the embedded default when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	raw := defaultCatalog
	if path = strings.TrimSpace(path); path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read catalog: %w", err)
		}
		raw = content
	}
	return ParseCatalog(raw)
}

func ParseCatalog(raw []byte) (*Catalog, error) {
	var catalog Catalog
	if err := yaml.Unmarshal(raw, &catalog); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	catalog.normalize()
	if err := catalog.Validate(); err != nil {
		return nil, err
	}
	return &catalog, nil
}

func (c *Catalog) normalize() {
	c.AnchorCurrency = strings.ToUpper(strings.TrimSpace(c.AnchorCurrency))
	for i := range c.BaseRates {
		c.BaseRates[i].From = strings.ToUpper(strings.TrimSpace(c.BaseRates[i].From))
		c.BaseRates[i].To = strings.ToUpper(strings.TrimSpace(c.BaseRates[i].To))
	}
	schedules := make(map[string]FeeSchedule, len(c.FeeSchedules))
	for currency, schedule := range c.FeeSchedules {
		schedules[strings.ToUpper(strings.TrimSpace(currency))] = schedule
	}
	c.FeeSchedules = schedules
	for i := range c.Providers {
		p := &c.Providers[i]
		p.ID = strings.TrimSpace(p.ID)
		p.Direction = strings.ToLower(strings.TrimSpace(p.Direction))
		p.FeeType = strings.ToLower(strings.TrimSpace(p.FeeType))
		p.ProcessingTime = strings.ToLower(strings.TrimSpace(p.ProcessingTime))
		for j := range p.Currencies {
			p.Currencies[j] = strings.ToUpper(strings.TrimSpace(p.Currencies[j]))
		}
		for j := range p.PaymentMethods {
			p.PaymentMethods[j] = strings.ToLower(strings.TrimSpace(p.PaymentMethods[j]))
		}
	}
}

func (c *Catalog) Validate() error {
	if len(c.AnchorCurrency) != 3 {
		return errors.New("catalog anchor_currency must be a 3-letter code")
	}
	for _, rate := range c.BaseRates {
		if len(rate.From) != 3 || len(rate.To) != 3 || rate.From == rate.To {
			return fmt.Errorf("catalog base rate %s/%s is invalid", rate.From, rate.To)
		}
		if rate.Rate <= 0 {
			return fmt.Errorf("catalog base rate %s/%s must be > 0", rate.From, rate.To)
		}
	}
	for currency, schedule := range c.FeeSchedules {
		if schedule.BaseFee < 0 || schedule.PercentageFee < 0 || schedule.MinFee < 0 {
			return fmt.Errorf("catalog fee schedule %s has negative values", currency)
		}
		if schedule.MaxFee > 0 && schedule.MaxFee < schedule.MinFee {
			return fmt.Errorf("catalog fee schedule %s has max_fee < min_fee", currency)
		}
	}

	seen := make(map[string]struct{}, len(c.Providers))
	for _, p := range c.Providers {
		if p.ID == "" {
			return errors.New("catalog provider id is required")
		}
		if _, ok := seen[p.ID]; ok {
			return fmt.Errorf("catalog provider %s is duplicated", p.ID)
		}
		seen[p.ID] = struct{}{}

		if p.Direction != "onramp" && p.Direction != "offramp" {
			return fmt.Errorf("catalog provider %s has invalid direction %q", p.ID, p.Direction)
		}
		if len(p.Currencies) == 0 {
			return fmt.Errorf("catalog provider %s has no currencies", p.ID)
		}
		if p.Direction == "onramp" && len(p.PaymentMethods) == 0 {
			return fmt.Errorf("catalog provider %s has no payment methods", p.ID)
		}
		if p.MinAmount < 0 || (p.MaxAmount > 0 && p.MaxAmount < p.MinAmount) {
			return fmt.Errorf("catalog provider %s has invalid limits", p.ID)
		}
		if p.FeeType != "fixed" && p.FeeType != "percentage" {
			return fmt.Errorf("catalog provider %s has invalid fee_type %q", p.ID, p.FeeType)
		}
		if p.SuccessRate < 0 || p.SuccessRate > 1 {
			return fmt.Errorf("catalog provider %s success_rate must be within [0,1]", p.ID)
		}
		switch p.ProcessingTime {
		case "instant", "minutes", "hours", "days":
		default:
			return fmt.Errorf("catalog provider %s has invalid processing_time %q", p.ID, p.ProcessingTime)
		}
		if _, err := time.ParseDuration(strings.TrimSpace(p.ResolutionDelay)); err != nil {
			return fmt.Errorf("catalog provider %s has invalid resolution_delay: %w", p.ID, err)
		}
	}

	return nil
}
