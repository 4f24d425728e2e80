package settlement

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vibast-solutions/ms-go-remittance/app/entity"
	"github.com/vibast-solutions/ms-go-remittance/app/provider"
	"github.com/vibast-solutions/ms-go-remittance/app/repository"
)

type fixedRandom struct {
	mu    sync.Mutex
	value float64
}

func (r *fixedRandom) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.value
}

func (r *fixedRandom) Intn(int) int { return 0 }

func newTestRepo(t *testing.T) *repository.SettlementTransactionRepository {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, repository.Migrate(context.Background(), db, "sqlite"))
	return repository.NewSettlementTransactionRepository(db)
}

func testRegistry(delay time.Duration) *provider.Registry {
	return provider.NewRegistry(
		provider.Definition{
			ID:              "collect",
			Name:            "Collect",
			Direction:       entity.DirectionOnramp,
			Currencies:      []string{"USD"},
			PaymentMethods:  []string{"bank_transfer"},
			MinAmount:       decimal.NewFromInt(1),
			MaxAmount:       decimal.NewFromInt(10000),
			FeeType:         provider.FeeTypePercentage,
			FeeValue:        decimal.RequireFromString("0.01"),
			SuccessRate:     0.9,
			ProcessingTime:  provider.ProcessingMinutes,
			ResolutionDelay: delay,
			ReferencePrefix: "COL-",
			ReferenceFormat: "numeric",
		},
		provider.Definition{
			ID:              "payout",
			Name:            "Payout",
			Direction:       entity.DirectionOfframp,
			Currencies:      []string{"EUR"},
			MinAmount:       decimal.NewFromInt(1),
			FeeType:         provider.FeeTypeFixed,
			FeeValue:        decimal.RequireFromString("0.50"),
			SuccessRate:     0.9,
			ProcessingTime:  provider.ProcessingHours,
			ResolutionDelay: delay,
			ReferencePrefix: "PAY-",
		},
	)
}

func waitForStatus(t *testing.T, adapter *Adapter, id string, want entity.TransactionStatus) *entity.SettlementTransaction {
	t.Helper()
	var tx *entity.SettlementTransaction
	require.Eventually(t, func() bool {
		var err error
		tx, err = adapter.GetTransactionStatus(context.Background(), id)
		return err == nil && tx.Status == want
	}, 2*time.Second, 5*time.Millisecond)
	return tx
}

func onrampRequest() CreateRequest {
	return CreateRequest{
		Direction:     entity.DirectionOnramp,
		Amount:        decimal.RequireFromString("105.93"),
		Currency:      "usd",
		PaymentMethod: "bank_transfer",
		Metadata:      map[string]string{"source": "test"},
	}
}

func TestCreateTransactionResolvesCompleted(t *testing.T) {
	adapter := NewAdapter(newTestRepo(t), testRegistry(10*time.Millisecond), Options{Random: &fixedRandom{value: 0.1}})
	defer adapter.Close()

	tx, err := adapter.CreateTransaction(context.Background(), onrampRequest())
	require.NoError(t, err)
	assert.Equal(t, entity.TransactionStatusProcessing, tx.Status)
	assert.Equal(t, "collect", tx.ProviderID)
	assert.Equal(t, "COL-000000000000", tx.ExternalReference)
	assert.Equal(t, "1.06", tx.ProviderFee.StringFixed(2))
	assert.Equal(t, "USD", tx.Currency)
	assert.Equal(t, "test", tx.Metadata["source"])
	assert.Equal(t, "bank_transfer", tx.Metadata["payment_method"])

	resolved := waitForStatus(t, adapter, tx.ID, entity.TransactionStatusCompleted)
	require.NotNil(t, resolved.CompletedAt)
	assert.Nil(t, resolved.FailureReason)
}

func TestCreateTransactionResolvesFailed(t *testing.T) {
	adapter := NewAdapter(newTestRepo(t), testRegistry(10*time.Millisecond), Options{Random: &fixedRandom{value: 0.95}})
	defer adapter.Close()

	tx, err := adapter.CreateTransaction(context.Background(), CreateRequest{
		Direction: entity.DirectionOfframp,
		Amount:    decimal.RequireFromString("85.00"),
		Currency:  "EUR",
	})
	require.NoError(t, err)

	resolved := waitForStatus(t, adapter, tx.ID, entity.TransactionStatusFailed)
	require.NotNil(t, resolved.FailureReason)
	assert.Equal(t, declinedReason, *resolved.FailureReason)
}

func TestCreateTransactionNoProvider(t *testing.T) {
	adapter := NewAdapter(newTestRepo(t), testRegistry(time.Hour), Options{Random: &fixedRandom{}})
	defer adapter.Close()

	req := onrampRequest()
	req.Currency = "GBP"
	_, err := adapter.CreateTransaction(context.Background(), req)
	assert.ErrorIs(t, err, provider.ErrNoProviderAvailable)

	req = onrampRequest()
	req.Amount = decimal.NewFromInt(20000)
	_, err = adapter.CreateTransaction(context.Background(), req)
	assert.ErrorIs(t, err, provider.ErrNoProviderAvailable)
}

func TestCancelTransactionOnlyFromProcessing(t *testing.T) {
	adapter := NewAdapter(newTestRepo(t), testRegistry(time.Hour), Options{Random: &fixedRandom{value: 0.1}})
	defer adapter.Close()
	ctx := context.Background()

	tx, err := adapter.CreateTransaction(ctx, onrampRequest())
	require.NoError(t, err)

	cancelled, err := adapter.CancelTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.True(t, cancelled)

	again, err := adapter.CancelTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.False(t, again)

	current, err := adapter.GetTransactionStatus(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.TransactionStatusCancelled, current.Status)

	_, err = adapter.CancelTransaction(ctx, "missing")
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestResolutionIsNoOpAfterCancel(t *testing.T) {
	repo := newTestRepo(t)
	adapter := NewAdapter(repo, testRegistry(20*time.Millisecond), Options{Random: &fixedRandom{value: 0.1}})
	defer adapter.Close()
	ctx := context.Background()

	tx, err := adapter.CreateTransaction(ctx, onrampRequest())
	require.NoError(t, err)

	// Cancel behind the adapter's back so the timer still fires.
	reason := "cancelled"
	require.NoError(t, repo.Transition(ctx, tx.ID, entity.TransactionStatusProcessing, entity.TransactionStatusCancelled, &reason, time.Now().UTC()))

	time.Sleep(60 * time.Millisecond)
	current, err := adapter.GetTransactionStatus(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.TransactionStatusCancelled, current.Status)
}

func TestApplyProviderSignal(t *testing.T) {
	adapter := NewAdapter(newTestRepo(t), testRegistry(time.Hour), Options{Random: &fixedRandom{value: 0.1}})
	defer adapter.Close()
	ctx := context.Background()

	tx, err := adapter.CreateTransaction(ctx, onrampRequest())
	require.NoError(t, err)

	_, err = adapter.ApplyProviderSignal(ctx, tx.ID, entity.TransactionStatusCancelled, "")
	assert.ErrorIs(t, err, ErrInvalidSignal)

	applied, err := adapter.ApplyProviderSignal(ctx, tx.ID, entity.TransactionStatusFailed, "insufficient funds")
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = adapter.ApplyProviderSignal(ctx, tx.ID, entity.TransactionStatusCompleted, "")
	require.NoError(t, err)
	assert.False(t, applied)

	current, err := adapter.GetTransactionStatus(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.TransactionStatusFailed, current.Status)
	assert.Equal(t, "insufficient funds", *current.FailureReason)
}

func TestRescheduleProcessingResolvesOverdueRows(t *testing.T) {
	repo := newTestRepo(t)
	first := NewAdapter(repo, testRegistry(time.Hour), Options{Random: &fixedRandom{value: 0.1}})
	tx, err := first.CreateTransaction(context.Background(), onrampRequest())
	require.NoError(t, err)
	first.Close()

	later := func() time.Time { return time.Now().Add(2 * time.Hour) }
	restarted := NewAdapter(repo, testRegistry(time.Hour), Options{Random: &fixedRandom{value: 0.1}, Now: later})
	defer restarted.Close()

	count, err := restarted.RescheduleProcessing(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	waitForStatus(t, restarted, tx.ID, entity.TransactionStatusCompleted)
}

