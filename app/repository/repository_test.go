package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vibast-solutions/ms-go-remittance/app/entity"
	_ "modernc.org/sqlite"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, Migrate(context.Background(), db, "sqlite"))
	return db
}

func newTestPayment(key string, createdAt time.Time) *entity.Payment {
	webhookURL := "https://merchant.example.com/hooks"
	return &entity.Payment{
		ID:                  uuid.NewString(),
		UserID:              "user-1",
		IdempotencyKey:      key,
		SourceAmount:        decimal.RequireFromString("100"),
		SourceCurrency:      "USD",
		DestinationAmount:   decimal.RequireFromString("85.00"),
		DestinationCurrency: "EUR",
		ExchangeRate:        decimal.RequireFromString("0.85"),
		FeeAmount:           decimal.RequireFromString("5.04"),
		FeeCurrency:         "EUR",
		TotalAmount:         decimal.RequireFromString("105.93"),
		Status:              entity.PaymentStatusPending,
		PaymentMethod:       "bank_transfer",
		Recipient:           map[string]string{"iban": "DE89370400440532013000"},
		WebhookURL:          &webhookURL,
		CreatedAt:           createdAt,
		UpdatedAt:           createdAt,
	}
}

func TestPaymentRepositoryCreateAndFind(t *testing.T) {
	ctx := context.Background()
	repo := NewPaymentRepository(newTestDB(t))
	now := time.Now().UTC().Truncate(time.Microsecond)

	payment := newTestPayment("key-1", now)
	require.NoError(t, repo.Create(ctx, payment))

	found, err := repo.FindByID(ctx, payment.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "key-1", found.IdempotencyKey)
	assert.True(t, found.TotalAmount.Equal(decimal.RequireFromString("105.93")))
	assert.True(t, found.ExchangeRate.Equal(decimal.RequireFromString("0.85")))
	assert.Equal(t, entity.PaymentStatusPending, found.Status)
	assert.Equal(t, "DE89370400440532013000", found.Recipient["iban"])
	assert.True(t, found.CreatedAt.Equal(now))
	assert.Nil(t, found.OnrampTransactionID)

	byKey, err := repo.FindByIdempotencyKey(ctx, "key-1")
	require.NoError(t, err)
	require.NotNil(t, byKey)
	assert.Equal(t, payment.ID, byKey.ID)

	missing, err := repo.FindByID(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestPaymentRepositoryDuplicateIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	repo := NewPaymentRepository(newTestDB(t))
	now := time.Now().UTC()

	require.NoError(t, repo.Create(ctx, newTestPayment("dup-key", now)))
	err := repo.Create(ctx, newTestPayment("dup-key", now))
	assert.ErrorIs(t, err, ErrPaymentAlreadyExists)
}

func TestPaymentRepositoryTransitionIsConditional(t *testing.T) {
	ctx := context.Background()
	repo := NewPaymentRepository(newTestDB(t))
	now := time.Now().UTC()

	payment := newTestPayment("key-transition", now)
	require.NoError(t, repo.Create(ctx, payment))

	txID := uuid.NewString()
	require.NoError(t, repo.Transition(ctx, payment.ID, PaymentTransition{
		From:                []entity.PaymentStatus{entity.PaymentStatusPending},
		To:                  entity.PaymentStatusProcessing,
		OnrampTransactionID: &txID,
		UpdatedAt:           now.Add(time.Second),
	}))

	err := repo.Transition(ctx, payment.ID, PaymentTransition{
		From:      []entity.PaymentStatus{entity.PaymentStatusPending},
		To:        entity.PaymentStatusProcessing,
		UpdatedAt: now.Add(2 * time.Second),
	})
	assert.ErrorIs(t, err, ErrStaleTransition)

	message := "provider declined"
	code := entity.FailureCodeOnrampFailed
	require.NoError(t, repo.Transition(ctx, payment.ID, PaymentTransition{
		From:         []entity.PaymentStatus{entity.PaymentStatusProcessing},
		To:           entity.PaymentStatusFailed,
		FailureCode:  &code,
		ErrorMessage: &message,
		UpdatedAt:    now.Add(3 * time.Second),
	}))

	found, err := repo.FindByID(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.PaymentStatusFailed, found.Status)
	require.NotNil(t, found.OnrampTransactionID)
	assert.Equal(t, txID, *found.OnrampTransactionID)
	require.NotNil(t, found.ErrorMessage)
	assert.Equal(t, message, *found.ErrorMessage)
}

func TestPaymentRepositoryListByUserNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewPaymentRepository(newTestDB(t))
	base := time.Now().UTC()

	for i, key := range []string{"a", "b", "c"} {
		require.NoError(t, repo.Create(ctx, newTestPayment(key, base.Add(time.Duration(i)*time.Minute))))
	}
	other := newTestPayment("other", base)
	other.UserID = "user-2"
	require.NoError(t, repo.Create(ctx, other))

	items, err := repo.ListByUser(ctx, "user-1", 2, 0)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "c", items[0].IdempotencyKey)
	assert.Equal(t, "b", items[1].IdempotencyKey)

	items, err = repo.ListByUser(ctx, "user-1", 2, 2)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "a", items[0].IdempotencyKey)
}

func TestPaymentRepositoryListStalePending(t *testing.T) {
	ctx := context.Background()
	repo := NewPaymentRepository(newTestDB(t))
	now := time.Now().UTC()

	old := newTestPayment("old", now.Add(-2*time.Hour))
	fresh := newTestPayment("fresh", now)
	require.NoError(t, repo.Create(ctx, old))
	require.NoError(t, repo.Create(ctx, fresh))

	items, err := repo.ListStalePending(ctx, now.Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, old.ID, items[0].ID)

	active, err := repo.ListByStatuses(ctx, []entity.PaymentStatus{entity.PaymentStatusPending, entity.PaymentStatusProcessing}, 10)
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestSettlementTransactionRepositoryTransition(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	payments := NewPaymentRepository(db)
	repo := NewSettlementTransactionRepository(db)
	now := time.Now().UTC()

	payment := newTestPayment("tx-key", now)
	require.NoError(t, payments.Create(ctx, payment))

	resolveAt := now.Add(5 * time.Second)
	tx := &entity.SettlementTransaction{
		ID:                uuid.NewString(),
		PaymentID:         &payment.ID,
		Direction:         entity.DirectionOnramp,
		Amount:            decimal.RequireFromString("105.93"),
		Currency:          "USD",
		Status:            entity.TransactionStatusProcessing,
		ProviderID:        "ach-direct",
		ExternalReference: "ACH123456",
		ProviderFee:       decimal.RequireFromString("1.50"),
		Metadata:          map[string]string{"payment_method": "bank_transfer"},
		ResolveAt:         &resolveAt,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	require.NoError(t, repo.Create(ctx, tx))

	processing, err := repo.ListByStatus(ctx, entity.TransactionStatusProcessing, 10)
	require.NoError(t, err)
	require.Len(t, processing, 1)

	require.NoError(t, repo.Transition(ctx, tx.ID, entity.TransactionStatusProcessing, entity.TransactionStatusCompleted, nil, now.Add(time.Second)))
	err = repo.Transition(ctx, tx.ID, entity.TransactionStatusProcessing, entity.TransactionStatusFailed, nil, now.Add(2*time.Second))
	assert.ErrorIs(t, err, ErrTransactionStaleStatus)

	found, err := repo.FindByID(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.TransactionStatusCompleted, found.Status)
	assert.NotNil(t, found.CompletedAt)
	assert.Equal(t, "bank_transfer", found.Metadata["payment_method"])

	byPayment, err := repo.ListByPayment(ctx, payment.ID)
	require.NoError(t, err)
	assert.Len(t, byPayment, 1)
}

func TestWebhookDeliveryRepositoryDueAndFinal(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	payments := NewPaymentRepository(db)
	repo := NewWebhookDeliveryRepository(db)
	now := time.Now().UTC()

	payment := newTestPayment("wh-key", now)
	require.NoError(t, payments.Create(ctx, payment))

	next := now.Add(-time.Second)
	delivery := &entity.WebhookDelivery{
		ID:            uuid.NewString(),
		PaymentID:     payment.ID,
		EventType:     entity.EventPaymentCreated,
		URL:           "https://merchant.example.com/hooks",
		Status:        entity.WebhookStatusPending,
		Payload:       `{"id":"x"}`,
		NextAttemptAt: &next,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, repo.Create(ctx, delivery))

	due, err := repo.ListDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	status := 200
	delivery.Status = entity.WebhookStatusSent
	delivery.ResponseStatus = &status
	delivery.NextAttemptAt = nil
	delivery.SentAt = &now
	delivery.UpdatedAt = now
	require.NoError(t, repo.Update(ctx, delivery, 0))

	delivery.Status = entity.WebhookStatusFailed
	assert.ErrorIs(t, repo.Update(ctx, delivery, 0), ErrStaleWebhookDelivery)

	found, err := repo.FindByID(ctx, delivery.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.WebhookStatusSent, found.Status)
	require.NotNil(t, found.ResponseStatus)
	assert.Equal(t, 200, *found.ResponseStatus)

	due, err = repo.ListDue(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestWebhookDeliveryRepositoryRejectsConcurrentAttempt(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	payments := NewPaymentRepository(db)
	repo := NewWebhookDeliveryRepository(db)
	now := time.Now().UTC()

	payment := newTestPayment("wh-race", now)
	require.NoError(t, payments.Create(ctx, payment))

	delivery := &entity.WebhookDelivery{
		ID:        uuid.NewString(),
		PaymentID: payment.ID,
		EventType: entity.EventPaymentCreated,
		URL:       "https://merchant.example.com/hooks",
		Status:    entity.WebhookStatusPending,
		Payload:   `{"id":"x"}`,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, repo.Create(ctx, delivery))

	// Two workers both start from retry_count 0; only the first outcome lands.
	next := now.Add(time.Minute)
	first := *delivery
	first.RetryCount = 1
	first.NextAttemptAt = &next
	require.NoError(t, repo.Update(ctx, &first, 0))

	second := *delivery
	second.RetryCount = 1
	second.NextAttemptAt = &now
	assert.ErrorIs(t, repo.Update(ctx, &second, 0), ErrStaleWebhookDelivery)

	found, err := repo.FindByID(ctx, delivery.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.WebhookStatusPending, found.Status)
	assert.Equal(t, 1, found.RetryCount)
	require.NotNil(t, found.NextAttemptAt)
	assert.WithinDuration(t, next, *found.NextAttemptAt, time.Second)

	// The next attempt must start from the recorded count.
	first.RetryCount = 2
	require.NoError(t, repo.Update(ctx, &first, 1))
}

func TestRateCacheRepositoryHonoursExpiry(t *testing.T) {
	ctx := context.Background()
	repo := NewRateCacheRepository(newTestDB(t))
	now := time.Now().UTC()

	require.NoError(t, repo.Put(ctx, &entity.ExchangeRate{
		FromCurrency: "USD",
		ToCurrency:   "EUR",
		Provider:     "reference-table",
		Rate:         decimal.RequireFromString("0.85123"),
		FetchedAt:    now,
		ExpiresAt:    now.Add(15 * time.Minute),
	}))

	hit, err := repo.Get(ctx, "USD", "EUR", "reference-table", now.Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.True(t, hit.Rate.Equal(decimal.RequireFromString("0.85123")))

	miss, err := repo.Get(ctx, "USD", "EUR", "reference-table", now.Add(16*time.Minute))
	require.NoError(t, err)
	assert.Nil(t, miss)

	require.NoError(t, repo.Put(ctx, &entity.ExchangeRate{
		FromCurrency: "USD",
		ToCurrency:   "EUR",
		Provider:     "reference-table",
		Rate:         decimal.RequireFromString("0.86"),
		FetchedAt:    now.Add(16 * time.Minute),
		ExpiresAt:    now.Add(31 * time.Minute),
	}))
	hit, err = repo.Get(ctx, "USD", "EUR", "reference-table", now.Add(17*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.True(t, hit.Rate.Equal(decimal.RequireFromString("0.86")))

	removed, err := repo.DeleteExpired(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

func TestPaymentEventRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewPaymentEventRepository(newTestDB(t))
	old := entity.PaymentStatusPending

	require.NoError(t, repo.Create(ctx, &entity.PaymentEvent{PaymentID: "p1", EventType: entity.EventPaymentCreated, NewStatus: entity.PaymentStatusPending, CreatedAt: time.Now().UTC()}))
	require.NoError(t, repo.Create(ctx, &entity.PaymentEvent{PaymentID: "p1", EventType: entity.EventPaymentProcessing, OldStatus: &old, NewStatus: entity.PaymentStatusProcessing, CreatedAt: time.Now().UTC()}))

	events, err := repo.ListByPayment(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Nil(t, events[0].OldStatus)
	require.NotNil(t, events[1].OldStatus)
	assert.Equal(t, entity.PaymentStatusPending, *events[1].OldStatus)
}

func TestPaymentRepositoryMapsMySQLDuplicate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO payments")).
		WillReturnError(&mysqlDriver.MySQLError{Number: 1062, Message: "Duplicate entry"})

	repo := NewPaymentRepository(db)
	err = repo.Create(context.Background(), newTestPayment("k", time.Now()))
	assert.ErrorIs(t, err, ErrPaymentAlreadyExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepositoryTransitionStaleWithMock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE payments SET")).
		WithArgs("cancelled", nil, nil, nil, nil, nil, sqlmock.AnyArg(), "p1", "pending", "processing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewPaymentRepository(db)
	err = repo.Transition(context.Background(), "p1", PaymentTransition{
		From:      []entity.PaymentStatus{entity.PaymentStatusPending, entity.PaymentStatusProcessing},
		To:        entity.PaymentStatusCancelled,
		UpdatedAt: time.Now(),
	})
	assert.ErrorIs(t, err, ErrStaleTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNullTimeScanAcceptsDriverRepresentations(t *testing.T) {
	ref := time.Date(2026, 3, 4, 5, 6, 7, 123000000, time.UTC)
	for _, src := range []interface{}{ref, ref.Format(dbTimeLayout), []byte(ref.Format(time.RFC3339Nano))} {
		var v nullTime
		require.NoError(t, v.Scan(src))
		assert.True(t, v.Valid)
		assert.True(t, v.Time.Equal(ref), "source %T", src)
	}

	var empty nullTime
	require.NoError(t, empty.Scan(nil))
	assert.False(t, empty.Valid)
	assert.Nil(t, empty.Ptr())
}
