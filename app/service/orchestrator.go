package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-remittance/app/entity"
	"github.com/vibast-solutions/ms-go-remittance/app/mapper"
	"github.com/vibast-solutions/ms-go-remittance/app/provider"
	"github.com/vibast-solutions/ms-go-remittance/app/repository"
	"github.com/vibast-solutions/ms-go-remittance/app/settlement"
)

const cleanupTimeout = 10 * time.Second

type paymentTask struct {
	cancel context.CancelFunc
}

// launch starts the background flow of a payment unless one is already running.
func (s *PaymentService) launch(paymentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	if _, ok := s.tasks[paymentID]; ok {
		return false
	}

	ctx, cancel := context.WithCancel(s.baseCtx)
	task := &paymentTask{cancel: cancel}
	s.tasks[paymentID] = task
	s.wg.Add(1)
	go s.run(ctx, paymentID, task)
	return true
}

func (s *PaymentService) hasTask(paymentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[paymentID]
	return ok
}

func (s *PaymentService) stopTask(paymentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if task, ok := s.tasks[paymentID]; ok {
		task.cancel()
	}
}

// Close stops every running flow and waits for them. Stopped payments keep
// their status and are picked up again by RunResumeBatch.
func (s *PaymentService) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.stopAll()
	s.wg.Wait()
}

// Wait blocks until no flow is running or ctx is done.
func (s *PaymentService) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *PaymentService) run(ctx context.Context, paymentID string, task *paymentTask) {
	defer s.finalize(paymentID, task)
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithField("payment_id", paymentID).Errorf("payment flow panicked: %v", r)
			s.failPayment(paymentID, entity.FailureCodeInternal, fmt.Sprintf("internal error: %v", r))
		}
	}()

	err := s.advance(ctx, paymentID)
	if err == nil || ctx.Err() != nil || errors.Is(err, errFlowStopped) || errors.Is(err, repository.ErrStaleTransition) {
		return
	}

	code := entity.FailureCodeInternal
	var stepErr *stepError
	if errors.As(err, &stepErr) {
		code = stepErr.code
	}

	s.logger.WithError(err).WithFields(logrus.Fields{
		"payment_id":   paymentID,
		"failure_code": code,
	}).Warn("payment flow failed")
	s.failPayment(paymentID, code, err.Error())
}

// finalize releases the task handle. For payments that ended, any settlement
// transaction still processing is cancelled so its timer goes away too.
func (s *PaymentService) finalize(paymentID string, task *paymentTask) {
	defer s.wg.Done()

	s.mu.Lock()
	if current, ok := s.tasks[paymentID]; ok && current == task {
		delete(s.tasks, paymentID)
	}
	s.mu.Unlock()
	task.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	payment, err := s.paymentRepo.FindByID(ctx, paymentID)
	if err != nil {
		s.logger.WithError(err).WithField("payment_id", paymentID).Warn("payment flow finalize failed")
		return
	}
	if payment != nil && payment.Status.Terminal() {
		s.cancelOpenTransactions(ctx, paymentID)
	}
}

// advance runs the step implied by the current status until the payment is
// terminal, so a resumed flow continues where the previous one stopped.
func (s *PaymentService) advance(ctx context.Context, paymentID string) error {
	payment, err := s.paymentRepo.FindByID(ctx, paymentID)
	if err != nil {
		return err
	}
	if payment == nil {
		return errFlowStopped
	}

	for !payment.Status.Terminal() {
		if ctx.Err() != nil {
			return errFlowStopped
		}

		switch payment.Status {
		case entity.PaymentStatusPending:
			payment, err = s.collect(ctx, payment)
		case entity.PaymentStatusProcessing:
			payment, err = s.awaitOnramp(ctx, payment)
		case entity.PaymentStatusOnrampComplete:
			payment, err = s.payout(ctx, payment)
		case entity.PaymentStatusOfframpProcessing:
			payment, err = s.awaitOfframp(ctx, payment)
		default:
			return fmt.Errorf("unknown payment status %q", payment.Status)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *PaymentService) collect(ctx context.Context, payment *entity.Payment) (*entity.Payment, error) {
	tx, err := s.openLeg(ctx, settlement.CreateRequest{
		PaymentID:     payment.ID,
		Direction:     entity.DirectionOnramp,
		Amount:        payment.TotalAmount,
		Currency:      payment.SourceCurrency,
		PaymentMethod: payment.PaymentMethod,
		Metadata:      map[string]string{"user_id": payment.UserID},
	}, entity.FailureCodeOnrampFailed)
	if err != nil {
		return nil, err
	}

	updated, err := s.transition(ctx, payment, repository.PaymentTransition{
		From:                []entity.PaymentStatus{entity.PaymentStatusPending},
		To:                  entity.PaymentStatusProcessing,
		OnrampTransactionID: &tx.ID,
	}, entity.EventPaymentProcessing, map[string]string{
		"transaction_id": tx.ID,
		"provider":       tx.ProviderID,
	})
	if err != nil {
		s.abandonTransaction(tx.ID)
		return nil, err
	}
	return updated, nil
}

func (s *PaymentService) awaitOnramp(ctx context.Context, payment *entity.Payment) (*entity.Payment, error) {
	if payment.OnrampTransactionID == nil {
		return nil, failStep(entity.FailureCodeInternal, errors.New("payment has no onramp transaction"))
	}
	txID := *payment.OnrampTransactionID

	tx, err := s.awaitLeg(ctx, payment, txID, s.cfg.OnrampTimeout, entity.FailureCodeOnrampFailed)
	if err != nil {
		return nil, err
	}
	if tx.Status != entity.TransactionStatusCompleted {
		return nil, failStep(entity.FailureCodeOnrampFailed, legFailure(tx))
	}

	return s.transition(ctx, payment, repository.PaymentTransition{
		From: []entity.PaymentStatus{entity.PaymentStatusProcessing},
		To:   entity.PaymentStatusOnrampComplete,
	}, entity.EventOnrampCompleted, map[string]string{"transaction_id": txID})
}

func (s *PaymentService) payout(ctx context.Context, payment *entity.Payment) (*entity.Payment, error) {
	metadata := map[string]string{"user_id": payment.UserID}
	for k, v := range payment.Recipient {
		metadata["recipient_"+k] = v
	}

	tx, err := s.openLeg(ctx, settlement.CreateRequest{
		PaymentID: payment.ID,
		Direction: entity.DirectionOfframp,
		Amount:    payment.DestinationAmount,
		Currency:  payment.DestinationCurrency,
		Metadata:  metadata,
	}, entity.FailureCodeOfframpFailed)
	if err != nil {
		return nil, err
	}

	updated, err := s.transition(ctx, payment, repository.PaymentTransition{
		From:                 []entity.PaymentStatus{entity.PaymentStatusOnrampComplete},
		To:                   entity.PaymentStatusOfframpProcessing,
		OfframpTransactionID: &tx.ID,
	}, entity.EventOfframpProcessing, map[string]string{
		"transaction_id": tx.ID,
		"provider":       tx.ProviderID,
	})
	if err != nil {
		s.abandonTransaction(tx.ID)
		return nil, err
	}
	return updated, nil
}

func (s *PaymentService) awaitOfframp(ctx context.Context, payment *entity.Payment) (*entity.Payment, error) {
	if payment.OfframpTransactionID == nil {
		return nil, failStep(entity.FailureCodeInternal, errors.New("payment has no offramp transaction"))
	}
	txID := *payment.OfframpTransactionID

	tx, err := s.awaitLeg(ctx, payment, txID, s.cfg.OfframpTimeout, entity.FailureCodeOfframpFailed)
	if err != nil {
		return nil, err
	}
	if tx.Status != entity.TransactionStatusCompleted {
		return nil, failStep(entity.FailureCodeOfframpFailed, legFailure(tx))
	}

	completedAt := s.now().UTC()
	return s.transition(ctx, payment, repository.PaymentTransition{
		From:        []entity.PaymentStatus{entity.PaymentStatusOfframpProcessing},
		To:          entity.PaymentStatusCompleted,
		CompletedAt: &completedAt,
	}, entity.EventPaymentCompleted, map[string]string{"transaction_id": txID})
}

// openLeg creates a settlement transaction, retrying transient errors.
func (s *PaymentService) openLeg(ctx context.Context, req settlement.CreateRequest, code string) (*entity.SettlementTransaction, error) {
	var tx *entity.SettlementTransaction
	err := s.retry(ctx, func() error {
		created, err := s.settlement.CreateTransaction(ctx, req)
		if err != nil {
			if errors.Is(err, provider.ErrNoProviderAvailable) || errors.Is(err, settlement.ErrAmountOutOfLimits) {
				return backoff.Permanent(err)
			}
			return err
		}
		tx = created
		return nil
	})

	switch {
	case err == nil:
		return tx, nil
	case ctx.Err() != nil:
		return nil, errFlowStopped
	case errors.Is(err, provider.ErrNoProviderAvailable):
		return nil, failStep(entity.FailureCodeNoProvider, fmt.Errorf("%w: %v", ErrNoProviderAvailable, err))
	case errors.Is(err, settlement.ErrAmountOutOfLimits):
		return nil, failStep(code, err)
	default:
		return nil, failStep(code, fmt.Errorf("%w: %v", ErrTransientProvider, err))
	}
}

// awaitLeg polls a settlement transaction until it is terminal. Every tick
// re-reads the payment and stops quietly once its status moved elsewhere.
// The deadline is measured from the transaction's creation.
func (s *PaymentService) awaitLeg(ctx context.Context, payment *entity.Payment, txID string, timeout time.Duration, code string) (*entity.SettlementTransaction, error) {
	tx, err := s.settlement.GetTransactionStatus(ctx, txID)
	if err != nil {
		if errors.Is(err, settlement.ErrTransactionNotFound) {
			return nil, failStep(code, err)
		}
		return nil, err
	}

	deadline := tx.CreatedAt.Add(timeout)
	for !tx.Status.Terminal() {
		remaining := deadline.Sub(s.now())
		if remaining <= 0 {
			return s.expireLeg(ctx, tx, timeout)
		}

		wait := s.cfg.PollInterval
		if remaining < wait {
			wait = remaining
		}
		if !sleepContext(ctx, wait) {
			return nil, errFlowStopped
		}

		current, err := s.paymentRepo.FindByID(ctx, payment.ID)
		if err != nil {
			return nil, err
		}
		if current == nil || current.Status != payment.Status {
			return nil, errFlowStopped
		}

		tx, err = s.settlement.GetTransactionStatus(ctx, txID)
		if err != nil {
			return nil, err
		}
	}
	return tx, nil
}

// expireLeg cancels a transaction that ran past its cap. If the provider
// settled it in the meantime the settled transaction wins.
func (s *PaymentService) expireLeg(ctx context.Context, tx *entity.SettlementTransaction, timeout time.Duration) (*entity.SettlementTransaction, error) {
	cancelled, err := s.settlement.CancelTransaction(ctx, tx.ID)
	if err == nil && !cancelled {
		current, getErr := s.settlement.GetTransactionStatus(ctx, tx.ID)
		if getErr == nil && current.Status.Terminal() && current.Status != entity.TransactionStatusCancelled {
			return current, nil
		}
	}
	return nil, failStep(entity.FailureCodeTimeout, fmt.Errorf("%w: %s transaction %s did not settle within %s", ErrTimeoutExceeded, tx.Direction, tx.ID, timeout))
}

// transition applies a conditional status change and records its side
// effects. Transitions of one payment are serialised so events and webhooks
// follow commit order.
func (s *PaymentService) transition(
	ctx context.Context,
	payment *entity.Payment,
	t repository.PaymentTransition,
	eventType string,
	payload map[string]string,
) (*entity.Payment, error) {
	lock := s.lockFor(payment.ID)
	lock.Lock()
	defer lock.Unlock()

	t.UpdatedAt = s.now().UTC()
	if err := s.paymentRepo.Transition(ctx, payment.ID, t); err != nil {
		return nil, err
	}

	updated, err := s.paymentRepo.FindByID(ctx, payment.ID)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, ErrPaymentNotFound
	}

	oldStatus := payment.Status
	s.afterTransition(ctx, updated, &oldStatus, eventType, payload)

	s.logger.WithFields(logrus.Fields{
		"payment_id": updated.ID,
		"old_status": oldStatus,
		"status":     updated.Status,
	}).Info("payment status changed")

	return updated, nil
}

// afterTransition writes the lifecycle event, publishes it and schedules the
// merchant webhook. Failures are logged; the transition already committed.
func (s *PaymentService) afterTransition(ctx context.Context, payment *entity.Payment, oldStatus *entity.PaymentStatus, eventType string, payload map[string]string) {
	ctx = context.WithoutCancel(ctx)
	logger := s.logger.WithFields(logrus.Fields{"payment_id": payment.ID, "event_type": eventType})

	event := &entity.PaymentEvent{
		PaymentID:   payment.ID,
		EventType:   eventType,
		OldStatus:   oldStatus,
		NewStatus:   payment.Status,
		PayloadJSON: encodePayload(payload),
		CreatedAt:   s.now().UTC(),
	}
	if err := s.eventRepo.Create(ctx, event); err != nil {
		logger.WithError(err).Warn("payment event write failed")
	}
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, event); err != nil {
			logger.WithError(err).Warn("payment event publish failed")
		}
	}

	if payment.WebhookURL != nil && s.notifier != nil {
		if _, err := s.notifier.Schedule(ctx, payment.ID, eventType, mapper.PaymentToResponse(payment), *payment.WebhookURL); err != nil {
			logger.WithError(err).Error("webhook schedule failed")
		}
	}
}

func (s *PaymentService) failPayment(paymentID, code, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	payment, err := s.paymentRepo.FindByID(ctx, paymentID)
	if err != nil || payment == nil || payment.Status.Terminal() {
		if err != nil {
			s.logger.WithError(err).WithField("payment_id", paymentID).Error("payment fail lookup failed")
		}
		return
	}

	message = truncate(message, 1024)
	_, err = s.transition(ctx, payment, repository.PaymentTransition{
		From:         nonTerminalStatuses(),
		To:           entity.PaymentStatusFailed,
		FailureCode:  &code,
		ErrorMessage: &message,
	}, entity.EventPaymentFailed, map[string]string{"failure_code": code})
	if err != nil && !errors.Is(err, repository.ErrStaleTransition) {
		s.logger.WithError(err).WithField("payment_id", paymentID).Error("payment fail transition failed")
	}
}

func (s *PaymentService) cancelOpenTransactions(ctx context.Context, paymentID string) {
	items, err := s.transactionRepo.ListByPayment(ctx, paymentID)
	if err != nil {
		s.logger.WithError(err).WithField("payment_id", paymentID).Warn("settlement transaction lookup failed")
		return
	}
	for _, tx := range items {
		if tx.Status != entity.TransactionStatusProcessing {
			continue
		}
		if _, err := s.settlement.CancelTransaction(ctx, tx.ID); err != nil {
			s.logger.WithError(err).WithField("transaction_id", tx.ID).Warn("settlement transaction cancel failed")
		}
	}
}

func (s *PaymentService) abandonTransaction(txID string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if _, err := s.settlement.CancelTransaction(ctx, txID); err != nil {
		s.logger.WithError(err).WithField("transaction_id", txID).Warn("settlement transaction cancel failed")
	}
}

func (s *PaymentService) lockFor(paymentID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(paymentID))
	return &s.locks[h.Sum32()%uint32(len(s.locks))]
}

func legFailure(tx *entity.SettlementTransaction) error {
	reason := string(tx.Status)
	if tx.FailureReason != nil && *tx.FailureReason != "" {
		reason = *tx.FailureReason
	}
	return fmt.Errorf("%s transaction %s %s: %s", tx.Direction, tx.ID, tx.Status, reason)
}

func encodePayload(payload map[string]string) *string {
	if len(payload) == 0 {
		return nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	encoded := string(raw)
	return &encoded
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit]
}
