package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vibast-solutions/ms-go-remittance/app/entity"
)

var ErrTransactionStaleStatus = errors.New("settlement transaction status changed concurrently")

const settlementTransactionColumns = `
	id, payment_id, direction, amount, currency, status,
	provider_id, external_reference, provider_fee, metadata_json, failure_reason,
	resolve_at, created_at, updated_at, completed_at
`

type SettlementTransactionRepository struct {
	db DBTX
}

func NewSettlementTransactionRepository(db DBTX) *SettlementTransactionRepository {
	return &SettlementTransactionRepository{db: db}
}

func (r *SettlementTransactionRepository) Create(ctx context.Context, tx *entity.SettlementTransaction) error {
	metadataJSON, err := serializeMetadata(tx.Metadata)
	if err != nil {
		return err
	}

	query := `INSERT INTO settlement_transactions (` + settlementTransactionColumns + `) VALUES (` + placeholders(15) + `)`

	_, err = r.db.ExecContext(ctx, query,
		tx.ID,
		nullableStringValue(tx.PaymentID),
		string(tx.Direction),
		tx.Amount,
		tx.Currency,
		string(tx.Status),
		tx.ProviderID,
		tx.ExternalReference,
		tx.ProviderFee,
		metadataJSON,
		nullableStringValue(tx.FailureReason),
		nullableTimeValue(tx.ResolveAt),
		timeValue(tx.CreatedAt),
		timeValue(tx.UpdatedAt),
		nullableTimeValue(tx.CompletedAt),
	)
	return err
}

// Transition moves the transaction from -> to in a single conditional update.
func (r *SettlementTransactionRepository) Transition(
	ctx context.Context,
	id string,
	from entity.TransactionStatus,
	to entity.TransactionStatus,
	failureReason *string,
	now time.Time,
) error {
	var completedAt *time.Time
	if to.Terminal() {
		completedAt = &now
	}

	query := `
		UPDATE settlement_transactions SET
			status = ?,
			failure_reason = COALESCE(?, failure_reason),
			completed_at = COALESCE(?, completed_at),
			updated_at = ?
		WHERE id = ? AND status = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		string(to),
		nullableStringValue(failureReason),
		nullableTimeValue(completedAt),
		timeValue(now),
		id,
		string(from),
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrTransactionStaleStatus
	}
	return nil
}

func (r *SettlementTransactionRepository) FindByID(ctx context.Context, id string) (*entity.SettlementTransaction, error) {
	query := `SELECT ` + settlementTransactionColumns + ` FROM settlement_transactions WHERE id = ?`

	tx := &entity.SettlementTransaction{}
	if err := scanSettlementTransaction(r.db.QueryRowContext(ctx, query, id), tx); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return tx, nil
}

func (r *SettlementTransactionRepository) ListByPayment(ctx context.Context, paymentID string) ([]*entity.SettlementTransaction, error) {
	query := `SELECT ` + settlementTransactionColumns + ` FROM settlement_transactions
		WHERE payment_id = ?
		ORDER BY created_at ASC`

	return r.list(ctx, query, paymentID)
}

func (r *SettlementTransactionRepository) ListByStatus(ctx context.Context, status entity.TransactionStatus, limit int32) ([]*entity.SettlementTransaction, error) {
	query := `SELECT ` + settlementTransactionColumns + ` FROM settlement_transactions
		WHERE status = ?
		ORDER BY created_at ASC
		LIMIT ?`

	return r.list(ctx, query, string(status), limit)
}

func (r *SettlementTransactionRepository) list(ctx context.Context, query string, args ...interface{}) ([]*entity.SettlementTransaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]*entity.SettlementTransaction, 0)
	for rows.Next() {
		item := &entity.SettlementTransaction{}
		if err := scanSettlementTransaction(rows, item); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func scanSettlementTransaction(scan rowScanner, tx *entity.SettlementTransaction) error {
	var paymentID, failureReason sql.NullString
	var direction, status, metadataJSON string
	var resolveAt, createdAt, updatedAt, completedAt nullTime

	err := scan.Scan(
		&tx.ID,
		&paymentID,
		&direction,
		&tx.Amount,
		&tx.Currency,
		&status,
		&tx.ProviderID,
		&tx.ExternalReference,
		&tx.ProviderFee,
		&metadataJSON,
		&failureReason,
		&resolveAt,
		&createdAt,
		&updatedAt,
		&completedAt,
	)
	if err != nil {
		return err
	}

	tx.PaymentID = stringPtrFromNull(paymentID)
	tx.Direction = entity.Direction(direction)
	tx.Status = entity.TransactionStatus(status)
	tx.FailureReason = stringPtrFromNull(failureReason)
	tx.ResolveAt = resolveAt.Ptr()
	tx.CreatedAt = createdAt.Time
	tx.UpdatedAt = updatedAt.Time
	tx.CompletedAt = completedAt.Ptr()

	metadata, err := parseMetadata(metadataJSON)
	if err != nil {
		return err
	}
	tx.Metadata = metadata
	return nil
}
