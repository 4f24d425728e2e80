package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vibast-solutions/ms-go-remittance/app/entity"
)

var (
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrPaymentAlreadyExists = errors.New("payment already exists")
	ErrStaleTransition      = errors.New("payment status changed concurrently")
)

const paymentColumns = `
	id, user_id, idempotency_key,
	source_amount, source_currency, destination_amount, destination_currency,
	exchange_rate, fee_amount, fee_currency, total_amount,
	status, payment_method, recipient_json,
	onramp_transaction_id, offramp_transaction_id, webhook_url,
	failure_code, error_message, estimated_completion,
	created_at, updated_at, completed_at
`

// PaymentTransition moves a payment to To only while its status is one of From.
// Nil pointer fields keep the stored value.
type PaymentTransition struct {
	From []entity.PaymentStatus
	To   entity.PaymentStatus

	OnrampTransactionID  *string
	OfframpTransactionID *string
	FailureCode          *string
	ErrorMessage         *string
	CompletedAt          *time.Time

	UpdatedAt time.Time
}

type PaymentRepository struct {
	db DBTX
}

func NewPaymentRepository(db DBTX) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, payment *entity.Payment) error {
	recipientJSON, err := serializeMetadata(payment.Recipient)
	if err != nil {
		return err
	}

	query := `INSERT INTO payments (` + paymentColumns + `) VALUES (` + placeholders(23) + `)`

	_, err = r.db.ExecContext(ctx, query,
		payment.ID,
		payment.UserID,
		payment.IdempotencyKey,
		payment.SourceAmount,
		payment.SourceCurrency,
		payment.DestinationAmount,
		payment.DestinationCurrency,
		payment.ExchangeRate,
		payment.FeeAmount,
		payment.FeeCurrency,
		payment.TotalAmount,
		string(payment.Status),
		payment.PaymentMethod,
		recipientJSON,
		nullableStringValue(payment.OnrampTransactionID),
		nullableStringValue(payment.OfframpTransactionID),
		nullableStringValue(payment.WebhookURL),
		nullableStringValue(payment.FailureCode),
		nullableStringValue(payment.ErrorMessage),
		nullableTimeValue(payment.EstimatedCompletion),
		timeValue(payment.CreatedAt),
		timeValue(payment.UpdatedAt),
		nullableTimeValue(payment.CompletedAt),
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrPaymentAlreadyExists
		}
		return err
	}

	return nil
}

func (r *PaymentRepository) Transition(ctx context.Context, id string, t PaymentTransition) error {
	if len(t.From) == 0 {
		return errors.New("transition requires at least one source status")
	}

	query := `
		UPDATE payments SET
			status = ?,
			onramp_transaction_id = COALESCE(?, onramp_transaction_id),
			offramp_transaction_id = COALESCE(?, offramp_transaction_id),
			failure_code = COALESCE(?, failure_code),
			error_message = COALESCE(?, error_message),
			completed_at = COALESCE(?, completed_at),
			updated_at = ?
		WHERE id = ? AND status IN (` + placeholders(len(t.From)) + `)
	`

	args := []interface{}{
		string(t.To),
		nullableStringValue(t.OnrampTransactionID),
		nullableStringValue(t.OfframpTransactionID),
		nullableStringValue(t.FailureCode),
		nullableStringValue(t.ErrorMessage),
		nullableTimeValue(t.CompletedAt),
		timeValue(t.UpdatedAt),
		id,
	}
	for _, from := range t.From {
		args = append(args, string(from))
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrStaleTransition
	}

	return nil
}

func (r *PaymentRepository) FindByID(ctx context.Context, id string) (*entity.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = ?`

	payment := &entity.Payment{}
	if err := scanPayment(r.db.QueryRowContext(ctx, query, id), payment); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return payment, nil
}

func (r *PaymentRepository) FindByIdempotencyKey(ctx context.Context, key string) (*entity.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE idempotency_key = ? LIMIT 1`

	payment := &entity.Payment{}
	if err := scanPayment(r.db.QueryRowContext(ctx, query, key), payment); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return payment, nil
}

func (r *PaymentRepository) ListByUser(ctx context.Context, userID string, limit, offset int32) ([]*entity.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`

	return r.list(ctx, query, userID, limit, offset)
}

func (r *PaymentRepository) ListByStatuses(ctx context.Context, statuses []entity.PaymentStatus, limit int32) ([]*entity.Payment, error) {
	if len(statuses) == 0 {
		return []*entity.Payment{}, nil
	}

	query := `SELECT ` + paymentColumns + ` FROM payments
		WHERE status IN (` + placeholders(len(statuses)) + `)
		ORDER BY created_at ASC
		LIMIT ?`

	args := make([]interface{}, 0, len(statuses)+1)
	for _, status := range statuses {
		args = append(args, string(status))
	}
	args = append(args, limit)

	return r.list(ctx, query, args...)
}

func (r *PaymentRepository) ListStalePending(ctx context.Context, cutoff time.Time, limit int32) ([]*entity.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments
		WHERE status = ?
		  AND onramp_transaction_id IS NULL
		  AND created_at <= ?
		ORDER BY created_at ASC
		LIMIT ?`

	return r.list(ctx, query, string(entity.PaymentStatusPending), timeValue(cutoff), limit)
}

func (r *PaymentRepository) list(ctx context.Context, query string, args ...interface{}) ([]*entity.Payment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]*entity.Payment, 0)
	for rows.Next() {
		item := &entity.Payment{}
		if err := scanPayment(rows, item); err != nil {
			return nil, err
		}
		payments = append(payments, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return payments, nil
}

func scanPayment(scan rowScanner, payment *entity.Payment) error {
	var status string
	var recipientJSON string
	var onrampTxID, offrampTxID, webhookURL sql.NullString
	var failureCode, errorMessage sql.NullString
	var estimatedCompletion, createdAt, updatedAt, completedAt nullTime

	err := scan.Scan(
		&payment.ID,
		&payment.UserID,
		&payment.IdempotencyKey,
		&payment.SourceAmount,
		&payment.SourceCurrency,
		&payment.DestinationAmount,
		&payment.DestinationCurrency,
		&payment.ExchangeRate,
		&payment.FeeAmount,
		&payment.FeeCurrency,
		&payment.TotalAmount,
		&status,
		&payment.PaymentMethod,
		&recipientJSON,
		&onrampTxID,
		&offrampTxID,
		&webhookURL,
		&failureCode,
		&errorMessage,
		&estimatedCompletion,
		&createdAt,
		&updatedAt,
		&completedAt,
	)
	if err != nil {
		return err
	}

	payment.Status = entity.PaymentStatus(status)
	payment.OnrampTransactionID = stringPtrFromNull(onrampTxID)
	payment.OfframpTransactionID = stringPtrFromNull(offrampTxID)
	payment.WebhookURL = stringPtrFromNull(webhookURL)
	payment.FailureCode = stringPtrFromNull(failureCode)
	payment.ErrorMessage = stringPtrFromNull(errorMessage)
	payment.EstimatedCompletion = estimatedCompletion.Ptr()
	payment.CreatedAt = createdAt.Time
	payment.UpdatedAt = updatedAt.Time
	payment.CompletedAt = completedAt.Ptr()

	recipient, err := parseMetadata(recipientJSON)
	if err != nil {
		return err
	}
	payment.Recipient = recipient

	return nil
}
