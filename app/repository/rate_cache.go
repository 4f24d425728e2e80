package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/vibast-solutions/ms-go-remittance/app/entity"
)

type RateCacheRepository struct {
	db DBTX
}

func NewRateCacheRepository(db DBTX) *RateCacheRepository {
	return &RateCacheRepository{db: db}
}

// Get returns the cached entry for the pair, or nil when absent or expired at now.
func (r *RateCacheRepository) Get(ctx context.Context, from, to, provider string, now time.Time) (*entity.ExchangeRate, error) {
	query := `
		SELECT from_currency, to_currency, provider, rate, fetched_at, expires_at
		FROM exchange_rate_cache
		WHERE from_currency = ? AND to_currency = ? AND provider = ? AND expires_at > ?
	`

	var fetchedAt, expiresAt nullTime
	item := &entity.ExchangeRate{}
	err := r.db.QueryRowContext(ctx, query, from, to, provider, timeValue(now)).Scan(
		&item.FromCurrency,
		&item.ToCurrency,
		&item.Provider,
		&item.Rate,
		&fetchedAt,
		&expiresAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	item.FetchedAt = fetchedAt.Time
	item.ExpiresAt = expiresAt.Time
	return item, nil
}

func (r *RateCacheRepository) Put(ctx context.Context, item *entity.ExchangeRate) error {
	query := `
		REPLACE INTO exchange_rate_cache (from_currency, to_currency, provider, rate, fetched_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		item.FromCurrency,
		item.ToCurrency,
		item.Provider,
		item.Rate,
		timeValue(item.FetchedAt),
		timeValue(item.ExpiresAt),
	)
	return err
}

func (r *RateCacheRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM exchange_rate_cache WHERE expires_at <= ?`, timeValue(now))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
