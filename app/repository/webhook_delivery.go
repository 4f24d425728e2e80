package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vibast-solutions/ms-go-remittance/app/entity"
)

var ErrStaleWebhookDelivery = errors.New("webhook delivery was finalised or attempted concurrently")

const webhookDeliveryColumns = `
	id, payment_id, event_type, url, status, payload,
	response_status, response_body, last_error,
	retry_count, next_attempt_at, sent_at, created_at, updated_at
`

type WebhookDeliveryRepository struct {
	db DBTX
}

func NewWebhookDeliveryRepository(db DBTX) *WebhookDeliveryRepository {
	return &WebhookDeliveryRepository{db: db}
}

func (r *WebhookDeliveryRepository) Create(ctx context.Context, delivery *entity.WebhookDelivery) error {
	query := `INSERT INTO webhook_deliveries (` + webhookDeliveryColumns + `) VALUES (` + placeholders(14) + `)`

	_, err := r.db.ExecContext(ctx, query,
		delivery.ID,
		delivery.PaymentID,
		delivery.EventType,
		delivery.URL,
		string(delivery.Status),
		delivery.Payload,
		nullableIntValue(delivery.ResponseStatus),
		nullableStringValue(delivery.ResponseBody),
		nullableStringValue(delivery.LastError),
		delivery.RetryCount,
		nullableTimeValue(delivery.NextAttemptAt),
		nullableTimeValue(delivery.SentAt),
		timeValue(delivery.CreatedAt),
		timeValue(delivery.UpdatedAt),
	)
	return err
}

// Update persists the outcome of a delivery attempt. The row must still be
// pending with the retry count the attempt started from; otherwise another
// worker already recorded an outcome and ErrStaleWebhookDelivery is returned.
func (r *WebhookDeliveryRepository) Update(ctx context.Context, delivery *entity.WebhookDelivery, expectedRetryCount int) error {
	query := `
		UPDATE webhook_deliveries SET
			status = ?,
			response_status = ?,
			response_body = ?,
			last_error = ?,
			retry_count = ?,
			next_attempt_at = ?,
			sent_at = ?,
			updated_at = ?
		WHERE id = ? AND status = ? AND retry_count = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		string(delivery.Status),
		nullableIntValue(delivery.ResponseStatus),
		nullableStringValue(delivery.ResponseBody),
		nullableStringValue(delivery.LastError),
		delivery.RetryCount,
		nullableTimeValue(delivery.NextAttemptAt),
		nullableTimeValue(delivery.SentAt),
		timeValue(delivery.UpdatedAt),
		delivery.ID,
		string(entity.WebhookStatusPending),
		expectedRetryCount,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrStaleWebhookDelivery
	}
	return nil
}

func (r *WebhookDeliveryRepository) FindByID(ctx context.Context, id string) (*entity.WebhookDelivery, error) {
	query := `SELECT ` + webhookDeliveryColumns + ` FROM webhook_deliveries WHERE id = ?`

	delivery := &entity.WebhookDelivery{}
	if err := scanWebhookDelivery(r.db.QueryRowContext(ctx, query, id), delivery); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return delivery, nil
}

func (r *WebhookDeliveryRepository) ListByPayment(ctx context.Context, paymentID string) ([]*entity.WebhookDelivery, error) {
	query := `SELECT ` + webhookDeliveryColumns + ` FROM webhook_deliveries
		WHERE payment_id = ?
		ORDER BY created_at ASC, id ASC`

	return r.list(ctx, query, paymentID)
}

func (r *WebhookDeliveryRepository) ListPending(ctx context.Context, limit int32) ([]*entity.WebhookDelivery, error) {
	query := `SELECT ` + webhookDeliveryColumns + ` FROM webhook_deliveries
		WHERE status = ?
		ORDER BY created_at ASC, id ASC
		LIMIT ?`

	return r.list(ctx, query, string(entity.WebhookStatusPending), limit)
}

func (r *WebhookDeliveryRepository) ListDue(ctx context.Context, now time.Time, limit int32) ([]*entity.WebhookDelivery, error) {
	query := `SELECT ` + webhookDeliveryColumns + ` FROM webhook_deliveries
		WHERE status = ?
		  AND next_attempt_at IS NOT NULL
		  AND next_attempt_at <= ?
		ORDER BY created_at ASC, id ASC
		LIMIT ?`

	return r.list(ctx, query, string(entity.WebhookStatusPending), timeValue(now), limit)
}

func (r *WebhookDeliveryRepository) list(ctx context.Context, query string, args ...interface{}) ([]*entity.WebhookDelivery, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]*entity.WebhookDelivery, 0)
	for rows.Next() {
		item := &entity.WebhookDelivery{}
		if err := scanWebhookDelivery(rows, item); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func scanWebhookDelivery(scan rowScanner, delivery *entity.WebhookDelivery) error {
	var status string
	var responseStatus sql.NullInt64
	var responseBody, lastError sql.NullString
	var nextAttemptAt, sentAt, createdAt, updatedAt nullTime

	err := scan.Scan(
		&delivery.ID,
		&delivery.PaymentID,
		&delivery.EventType,
		&delivery.URL,
		&status,
		&delivery.Payload,
		&responseStatus,
		&responseBody,
		&lastError,
		&delivery.RetryCount,
		&nextAttemptAt,
		&sentAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return err
	}

	delivery.Status = entity.WebhookStatus(status)
	delivery.ResponseStatus = intPtrFromNull(responseStatus)
	delivery.ResponseBody = stringPtrFromNull(responseBody)
	delivery.LastError = stringPtrFromNull(lastError)
	delivery.NextAttemptAt = nextAttemptAt.Ptr()
	delivery.SentAt = sentAt.Ptr()
	delivery.CreatedAt = createdAt.Time
	delivery.UpdatedAt = updatedAt.Time
	return nil
}
