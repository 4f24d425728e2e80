package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-remittance/app/entity"
	"github.com/vibast-solutions/ms-go-remittance/app/factory"
	"github.com/vibast-solutions/ms-go-remittance/app/provider"
	"github.com/vibast-solutions/ms-go-remittance/app/repository"
)

var (
	ErrTransactionNotFound = errors.New("settlement transaction not found")
	ErrAmountOutOfLimits   = errors.New("amount is outside provider limits")
	ErrInvalidSignal       = errors.New("invalid provider signal")
)

const declinedReason = "provider declined the transaction"

type TransactionRepository interface {
	Create(ctx context.Context, tx *entity.SettlementTransaction) error
	Transition(ctx context.Context, id string, from, to entity.TransactionStatus, failureReason *string, now time.Time) error
	FindByID(ctx context.Context, id string) (*entity.SettlementTransaction, error)
	ListByStatus(ctx context.Context, status entity.TransactionStatus, limit int32) ([]*entity.SettlementTransaction, error)
}

// Random decides resolution outcomes and reference characters.
type Random interface {
	Float64() float64
	Intn(n int) int
}

type Options struct {
	Random Random
	Now    func() time.Time
}

type CreateRequest struct {
	PaymentID     string
	Direction     entity.Direction
	Amount        decimal.Decimal
	Currency      string
	PaymentMethod string
	Metadata      map[string]string
}

// Adapter persists settlement transactions and resolves them asynchronously
// after the selected provider's delay.
type Adapter struct {
	repo     TransactionRepository
	registry *provider.Registry
	random   Random
	now      func() time.Time
	logger   logrus.FieldLogger

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
	wg     sync.WaitGroup
}

func NewAdapter(repo TransactionRepository, registry *provider.Registry, opts Options) *Adapter {
	if opts.Random == nil {
		opts.Random = factory.NewRandom(0)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Adapter{
		repo:     repo,
		registry: registry,
		random:   opts.Random,
		now:      opts.Now,
		logger:   factory.NewModuleLogger("settlement"),
		timers:   make(map[string]*time.Timer),
	}
}

func (a *Adapter) Select(req provider.SelectRequest) (provider.Definition, error) {
	return a.registry.Select(req)
}

func (a *Adapter) CreateTransaction(ctx context.Context, req CreateRequest) (*entity.SettlementTransaction, error) {
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	definition, err := a.registry.Select(provider.SelectRequest{
		Direction:     req.Direction,
		Currency:      currency,
		PaymentMethod: req.PaymentMethod,
		Amount:        req.Amount,
	})
	if err != nil {
		return nil, err
	}
	if !definition.WithinLimits(req.Amount) {
		return nil, fmt.Errorf("%w: %s %s for %s", ErrAmountOutOfLimits, req.Amount.StringFixed(2), currency, definition.ID)
	}

	metadata := make(map[string]string, len(req.Metadata)+3)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	metadata["provider_name"] = definition.Name
	metadata["processing_time"] = string(definition.ProcessingTime)
	if req.Direction == entity.DirectionOnramp && req.PaymentMethod != "" {
		metadata["payment_method"] = strings.ToLower(req.PaymentMethod)
	}

	now := a.now().UTC()
	resolveAt := now.Add(definition.ResolutionDelay)
	tx := &entity.SettlementTransaction{
		ID:                uuid.NewString(),
		Direction:         req.Direction,
		Amount:            req.Amount,
		Currency:          currency,
		Status:            entity.TransactionStatusProcessing,
		ProviderID:        definition.ID,
		ExternalReference: definition.ExternalReference(a.random),
		ProviderFee:       definition.Fee(req.Amount),
		Metadata:          metadata,
		ResolveAt:         &resolveAt,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if req.PaymentID != "" {
		paymentID := req.PaymentID
		tx.PaymentID = &paymentID
	}

	if err := a.repo.Create(ctx, tx); err != nil {
		return nil, err
	}

	a.schedule(tx.ID, definition.ResolutionDelay)
	a.logger.WithFields(logrus.Fields{
		"transaction_id": tx.ID,
		"provider":       definition.ID,
		"direction":      tx.Direction,
	}).Info("settlement transaction created")

	return tx, nil
}

func (a *Adapter) GetTransactionStatus(ctx context.Context, id string) (*entity.SettlementTransaction, error) {
	tx, err := a.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, ErrTransactionNotFound
	}
	return tx, nil
}

// CancelTransaction reports true only when the transaction was still processing.
func (a *Adapter) CancelTransaction(ctx context.Context, id string) (bool, error) {
	tx, err := a.GetTransactionStatus(ctx, id)
	if err != nil {
		return false, err
	}
	if tx.Status != entity.TransactionStatusProcessing {
		return false, nil
	}

	reason := "cancelled"
	if err := a.repo.Transition(ctx, id, entity.TransactionStatusProcessing, entity.TransactionStatusCancelled, &reason, a.now().UTC()); err != nil {
		if errors.Is(err, repository.ErrTransactionStaleStatus) {
			return false, nil
		}
		return false, err
	}
	a.Release(id)
	return true, nil
}

// ApplyProviderSignal resolves a processing transaction ahead of its timer.
func (a *Adapter) ApplyProviderSignal(ctx context.Context, id string, status entity.TransactionStatus, reason string) (bool, error) {
	if status != entity.TransactionStatusCompleted && status != entity.TransactionStatusFailed {
		return false, fmt.Errorf("%w: status %q", ErrInvalidSignal, status)
	}
	if _, err := a.GetTransactionStatus(ctx, id); err != nil {
		return false, err
	}

	var failureReason *string
	if status == entity.TransactionStatusFailed {
		if strings.TrimSpace(reason) == "" {
			reason = declinedReason
		}
		failureReason = &reason
	}

	if err := a.repo.Transition(ctx, id, entity.TransactionStatusProcessing, status, failureReason, a.now().UTC()); err != nil {
		if errors.Is(err, repository.ErrTransactionStaleStatus) {
			return false, nil
		}
		return false, err
	}
	a.Release(id)
	return true, nil
}

// RescheduleProcessing re-arms resolution timers for processing rows, for
// use after a restart. Overdue rows resolve immediately.
func (a *Adapter) RescheduleProcessing(ctx context.Context, limit int32) (int, error) {
	items, err := a.repo.ListByStatus(ctx, entity.TransactionStatusProcessing, limit)
	if err != nil {
		return 0, err
	}

	now := a.now().UTC()
	scheduled := 0
	for _, tx := range items {
		delay := time.Duration(0)
		if tx.ResolveAt != nil && tx.ResolveAt.After(now) {
			delay = tx.ResolveAt.Sub(now)
		}
		if a.schedule(tx.ID, delay) {
			scheduled++
		}
	}
	return scheduled, nil
}

// Release stops the pending resolution timer of a transaction, if any.
func (a *Adapter) Release(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if timer, ok := a.timers[id]; ok {
		timer.Stop()
		delete(a.timers, id)
	}
}

// Close stops every timer and waits for in-flight resolutions.
func (a *Adapter) Close() {
	a.mu.Lock()
	a.closed = true
	for id, timer := range a.timers {
		timer.Stop()
		delete(a.timers, id)
	}
	a.mu.Unlock()
	a.wg.Wait()
}

func (a *Adapter) schedule(id string, delay time.Duration) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return false
	}
	if _, ok := a.timers[id]; ok {
		return false
	}
	a.timers[id] = time.AfterFunc(delay, func() { a.fire(id) })
	return true
}

func (a *Adapter) fire(id string) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	delete(a.timers, id)
	a.wg.Add(1)
	a.mu.Unlock()
	defer a.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.resolve(ctx, id); err != nil {
		a.logger.WithError(err).WithField("transaction_id", id).Error("settlement resolution failed")
	}
}

func (a *Adapter) resolve(ctx context.Context, id string) error {
	tx, err := a.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if tx == nil || tx.Status != entity.TransactionStatusProcessing {
		return nil
	}

	to := entity.TransactionStatusFailed
	reason := declinedReason
	definition, err := a.registry.Get(tx.ProviderID)
	if err != nil {
		reason = "unknown provider " + tx.ProviderID
	} else if a.random.Float64() < definition.SuccessRate {
		to = entity.TransactionStatusCompleted
	}

	var failureReason *string
	if to == entity.TransactionStatusFailed {
		failureReason = &reason
	}

	err = a.repo.Transition(ctx, id, entity.TransactionStatusProcessing, to, failureReason, a.now().UTC())
	if errors.Is(err, repository.ErrTransactionStaleStatus) {
		return nil
	}
	if err != nil {
		return err
	}

	a.logger.WithFields(logrus.Fields{
		"transaction_id": id,
		"provider":       tx.ProviderID,
		"status":         to,
	}).Info("settlement transaction resolved")
	return nil
}
