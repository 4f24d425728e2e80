package repository

import (
	"context"
	"database/sql"

	"github.com/vibast-solutions/ms-go-remittance/app/entity"
)

type PaymentEventRepository struct {
	db DBTX
}

func NewPaymentEventRepository(db DBTX) *PaymentEventRepository {
	return &PaymentEventRepository{db: db}
}

func (r *PaymentEventRepository) Create(ctx context.Context, event *entity.PaymentEvent) error {
	query := `
		INSERT INTO payment_events (
			payment_id, event_type, old_status, new_status, payload_json, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	var oldStatus interface{}
	if event.OldStatus != nil {
		oldStatus = string(*event.OldStatus)
	}

	result, err := r.db.ExecContext(ctx, query,
		event.PaymentID,
		event.EventType,
		oldStatus,
		string(event.NewStatus),
		nullableStringValue(event.PayloadJSON),
		timeValue(event.CreatedAt),
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	event.ID = uint64(id)

	return nil
}

func (r *PaymentEventRepository) ListByPayment(ctx context.Context, paymentID string) ([]*entity.PaymentEvent, error) {
	query := `
		SELECT id, payment_id, event_type, old_status, new_status, payload_json, created_at
		FROM payment_events
		WHERE payment_id = ?
		ORDER BY id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]*entity.PaymentEvent, 0)
	for rows.Next() {
		var oldStatus, payloadJSON sql.NullString
		var newStatus string
		var createdAt nullTime
		item := &entity.PaymentEvent{}
		if err := rows.Scan(&item.ID, &item.PaymentID, &item.EventType, &oldStatus, &newStatus, &payloadJSON, &createdAt); err != nil {
			return nil, err
		}
		if oldStatus.Valid {
			s := entity.PaymentStatus(oldStatus.String)
			item.OldStatus = &s
		}
		item.NewStatus = entity.PaymentStatus(newStatus)
		item.PayloadJSON = stringPtrFromNull(payloadJSON)
		item.CreatedAt = createdAt.Time
		events = append(events, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return events, nil
}
