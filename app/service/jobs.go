package service

import (
	"context"
	"errors"

	"github.com/vibast-solutions/ms-go-remittance/app/entity"
	"github.com/vibast-solutions/ms-go-remittance/app/repository"
)

// RunResumeBatch starts a flow for every non-terminal payment that has none
// running in this process and returns how many were started.
func (s *PaymentService) RunResumeBatch(ctx context.Context) (int, error) {
	items, err := s.paymentRepo.ListByStatuses(ctx, nonTerminalStatuses(), s.batchSize())
	if err != nil {
		return 0, err
	}

	started := 0
	for _, payment := range items {
		if payment == nil {
			continue
		}
		if s.launch(payment.ID) {
			started++
		}
	}
	return started, nil
}

// RunExpireStaleBatch fails pending payments whose collection never started
// within the pending timeout.
func (s *PaymentService) RunExpireStaleBatch(ctx context.Context) (int, error) {
	cutoff := s.now().UTC().Add(-s.cfg.PendingTimeout)
	items, err := s.paymentRepo.ListStalePending(ctx, cutoff, s.batchSize())
	if err != nil {
		return 0, err
	}

	code := entity.FailureCodeExpired
	message := "payment expired before collection started"

	expired := 0
	var firstErr error
	for _, payment := range items {
		if payment == nil || payment.OnrampTransactionID != nil || s.hasTask(payment.ID) {
			continue
		}

		_, err := s.transition(ctx, payment, repository.PaymentTransition{
			From:         []entity.PaymentStatus{entity.PaymentStatusPending},
			To:           entity.PaymentStatusFailed,
			FailureCode:  &code,
			ErrorMessage: &message,
		}, entity.EventPaymentFailed, map[string]string{"failure_code": code})
		if errors.Is(err, repository.ErrStaleTransition) {
			continue
		}
		if err != nil {
			firstErr = keepFirstErr(firstErr, err)
			continue
		}
		expired++
	}

	return expired, firstErr
}

// RunDispatchWebhooksBatch attempts webhook deliveries whose retry is due.
func (s *PaymentService) RunDispatchWebhooksBatch(ctx context.Context) (int, error) {
	if s.notifier == nil {
		return 0, nil
	}
	return s.notifier.RunDispatchBatch(ctx, s.batchSize())
}

func keepFirstErr(current error, candidate error) error {
	if current != nil {
		return current
	}
	return candidate
}
