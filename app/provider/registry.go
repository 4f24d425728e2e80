package provider

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/vibast-solutions/ms-go-remittance/app/entity"
)

var (
	ErrProviderNotSupported = errors.New("provider is not supported")
	ErrNoProviderAvailable  = errors.New("no provider available")
)

type SelectRequest struct {
	Direction     entity.Direction
	Currency      string
	PaymentMethod string
	Amount        decimal.Decimal
}

type Registry struct {
	providers map[string]Definition
	ordered   []Definition
}

func NewRegistry(definitions ...Definition) *Registry {
	items := make(map[string]Definition, len(definitions))
	ordered := make([]Definition, 0, len(definitions))
	for _, d := range definitions {
		if _, ok := items[d.ID]; ok {
			continue
		}
		items[d.ID] = d
		ordered = append(ordered, d)
	}
	return &Registry{providers: items, ordered: ordered}
}

func (r *Registry) Get(id string) (Definition, error) {
	d, ok := r.providers[strings.TrimSpace(id)]
	if !ok {
		return Definition{}, ErrProviderNotSupported
	}
	return d, nil
}

func (r *Registry) All() []Definition {
	return append([]Definition(nil), r.ordered...)
}

// Select filters by coverage, then by limits, and ranks the remainder by
// success rate, processing time and id.
func (r *Registry) Select(req SelectRequest) (Definition, error) {
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	method := strings.ToLower(strings.TrimSpace(req.PaymentMethod))

	covered := make([]Definition, 0)
	for _, d := range r.ordered {
		if d.Direction != req.Direction || !d.SupportsCurrency(currency) {
			continue
		}
		if req.Direction == entity.DirectionOnramp && !d.SupportsMethod(method) {
			continue
		}
		covered = append(covered, d)
	}
	if len(covered) == 0 {
		if req.Direction == entity.DirectionOnramp {
			return Definition{}, fmt.Errorf("%w: no %s provider supports %s via %s", ErrNoProviderAvailable, req.Direction, currency, method)
		}
		return Definition{}, fmt.Errorf("%w: no %s provider supports %s", ErrNoProviderAvailable, req.Direction, currency)
	}

	eligible := make([]Definition, 0, len(covered))
	for _, d := range covered {
		if d.WithinLimits(req.Amount) {
			eligible = append(eligible, d)
		}
	}
	if len(eligible) == 0 {
		return Definition{}, fmt.Errorf("%w: amount %s %s is outside every %s provider's limits", ErrNoProviderAvailable, req.Amount.StringFixed(2), currency, req.Direction)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.SuccessRate != b.SuccessRate {
			return a.SuccessRate > b.SuccessRate
		}
		if a.ProcessingTime.rank() != b.ProcessingTime.rank() {
			return a.ProcessingTime.rank() < b.ProcessingTime.rank()
		}
		return a.ID < b.ID
	})

	return eligible[0], nil
}
