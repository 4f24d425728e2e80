package repository

import (
	"context"

	"github.com/vibast-solutions/ms-go-remittance/app/entity"
)

type ProviderCallbackRepository struct {
	db DBTX
}

func NewProviderCallbackRepository(db DBTX) *ProviderCallbackRepository {
	return &ProviderCallbackRepository{db: db}
}

func (r *ProviderCallbackRepository) Create(ctx context.Context, callback *entity.ProviderCallback) error {
	query := `
		INSERT INTO provider_callbacks (
			transaction_id, provider, signature, payload_json, status, error, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		nullableStringValue(callback.TransactionID),
		callback.Provider,
		callback.Signature,
		callback.PayloadJSON,
		callback.Status,
		nullableStringValue(callback.Error),
		timeValue(callback.CreatedAt),
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	callback.ID = uint64(id)

	return nil
}
