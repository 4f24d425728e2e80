package rates

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-remittance/app/entity"
	"github.com/vibast-solutions/ms-go-remittance/app/factory"
	"github.com/vibast-solutions/ms-go-remittance/config"
	"golang.org/x/sync/singleflight"
)

const (
	identityProvider = "identity"
	ratePlaces       = 5
)

var ErrRateUnavailable = errors.New("exchange rate unavailable")

type Cache interface {
	Get(ctx context.Context, from, to, provider string, now time.Time) (*entity.ExchangeRate, error)
	Put(ctx context.Context, item *entity.ExchangeRate) error
}

type Random interface {
	Float64() float64
}

type pair struct {
	from string
	to   string
}

type Options struct {
	Provider string
	Anchor   string
	TTL      time.Duration
	Jitter   float64
	Random   Random
	Now      func() time.Time
}

type Oracle struct {
	cache    Cache
	table    map[pair]decimal.Decimal
	provider string
	anchor   string
	ttl      time.Duration
	jitter   decimal.Decimal
	random   Random
	now      func() time.Time
	group    singleflight.Group
	logger   logrus.FieldLogger
}

func NewOracle(cache Cache, baseRates []config.BaseRate, opts Options) *Oracle {
	table := make(map[pair]decimal.Decimal, len(baseRates))
	for _, item := range baseRates {
		table[pair{from: normalize(item.From), to: normalize(item.To)}] = decimal.NewFromFloat(item.Rate)
	}

	if opts.Provider == "" {
		opts.Provider = "reference-table"
	}
	if opts.TTL <= 0 {
		opts.TTL = 15 * time.Minute
	}
	if opts.Jitter < 0 {
		opts.Jitter = 0
	}
	if opts.Jitter > config.MaxRateJitter {
		opts.Jitter = config.MaxRateJitter
	}
	if opts.Random == nil {
		opts.Random = factory.NewRandom(0)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Oracle{
		cache:    cache,
		table:    table,
		provider: opts.Provider,
		anchor:   normalize(opts.Anchor),
		ttl:      opts.TTL,
		jitter:   decimal.NewFromFloat(opts.Jitter),
		random:   opts.Random,
		now:      opts.Now,
		logger:   factory.NewModuleLogger("rate-oracle"),
	}
}

// GetRate returns units of to per one unit of from.
func (o *Oracle) GetRate(ctx context.Context, from, to string) (*entity.ExchangeRate, error) {
	from, to = normalize(from), normalize(to)
	if from == "" || to == "" {
		return nil, fmt.Errorf("%w: currency codes are required", ErrRateUnavailable)
	}

	now := o.now().UTC()
	if from == to {
		return &entity.ExchangeRate{
			FromCurrency: from,
			ToCurrency:   to,
			Provider:     identityProvider,
			Rate:         decimal.NewFromInt(1),
			FetchedAt:    now,
			ExpiresAt:    now.Add(o.ttl),
		}, nil
	}

	if cached := o.lookup(ctx, from, to, now); cached != nil {
		return cached, nil
	}

	result, err, _ := o.group.Do(from+"/"+to, func() (interface{}, error) {
		now := o.now().UTC()
		if cached := o.lookup(ctx, from, to, now); cached != nil {
			return cached, nil
		}

		base, err := o.BaseRate(from, to)
		if err != nil {
			return nil, err
		}

		item := &entity.ExchangeRate{
			FromCurrency: from,
			ToCurrency:   to,
			Provider:     o.provider,
			Rate:         o.applyJitter(base),
			FetchedAt:    now,
			ExpiresAt:    now.Add(o.ttl),
		}
		if o.cache != nil {
			if err := o.cache.Put(ctx, item); err != nil {
				o.logger.WithError(err).WithField("pair", from+"/"+to).Warn("rate_cache_store_failed")
			}
		}
		return item, nil
	})
	if err != nil {
		return nil, err
	}

	item := *result.(*entity.ExchangeRate)
	return &item, nil
}

// BaseRate derives the unjittered rate from the table: direct, inverse, or
// crossed through the anchor currency.
func (o *Oracle) BaseRate(from, to string) (decimal.Decimal, error) {
	from, to = normalize(from), normalize(to)
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	if rate, ok := o.leg(from, to); ok {
		return rate, nil
	}
	if o.anchor != "" && from != o.anchor && to != o.anchor {
		toAnchor, okFrom := o.leg(from, o.anchor)
		fromAnchor, okTo := o.leg(o.anchor, to)
		if okFrom && okTo {
			return toAnchor.Mul(fromAnchor), nil
		}
	}
	return decimal.Zero, fmt.Errorf("%w: no route for %s/%s", ErrRateUnavailable, from, to)
}

func (o *Oracle) leg(from, to string) (decimal.Decimal, bool) {
	if from == to {
		return decimal.NewFromInt(1), true
	}
	if rate, ok := o.table[pair{from: from, to: to}]; ok {
		return rate, true
	}
	if rate, ok := o.table[pair{from: to, to: from}]; ok && rate.IsPositive() {
		return decimal.NewFromInt(1).Div(rate), true
	}
	return decimal.Zero, false
}

func (o *Oracle) applyJitter(base decimal.Decimal) decimal.Decimal {
	// factor is uniform in [1-jitter, 1+jitter]
	spread := decimal.NewFromFloat(o.random.Float64()*2 - 1).Mul(o.jitter)
	rate := base.Mul(decimal.NewFromInt(1).Add(spread)).Round(ratePlaces)
	if !rate.IsPositive() {
		return base.Round(ratePlaces)
	}
	return rate
}

func (o *Oracle) lookup(ctx context.Context, from, to string, now time.Time) *entity.ExchangeRate {
	if o.cache == nil {
		return nil
	}
	item, err := o.cache.Get(ctx, from, to, o.provider, now)
	if err != nil {
		o.logger.WithError(err).WithField("pair", from+"/"+to).Warn("rate_cache_lookup_failed")
		return nil
	}
	if item == nil || item.Expired(now) {
		return nil
	}
	return item
}

func normalize(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}
