package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vibast-solutions/ms-go-remittance/app/entity"
	"github.com/vibast-solutions/ms-go-remittance/app/settlement"
	"github.com/vibast-solutions/ms-go-remittance/app/signing"
)

type handleProviderCallbackRequest interface {
	GetProvider() string
	GetTransactionId() string
	GetSignature() string
	GetPayload() string
}

// providerSignal is the signed callback body. TransactionID and Timestamp
// bind the signature to one transaction and a bounded time window.
type providerSignal struct {
	TransactionID string `json:"transaction_id"`
	Timestamp     int64  `json:"timestamp"`
	Status        string `json:"status"`
	Reason        string `json:"reason"`
}

// HandleProviderCallback applies a signed completion signal to a processing
// settlement transaction. The bool reports whether the signal changed the
// transaction; a signal for an already resolved transaction is accepted but
// not applied.
func (s *PaymentService) HandleProviderCallback(ctx context.Context, req handleProviderCallbackRequest) (*entity.SettlementTransaction, bool, error) {
	providerID := strings.ToLower(strings.TrimSpace(req.GetProvider()))
	txID := strings.TrimSpace(req.GetTransactionId())
	if providerID == "" || txID == "" {
		return nil, false, ErrInvalidRequest
	}

	payload := []byte(req.GetPayload())
	if !signing.VerifySignature(payload, strings.TrimSpace(req.GetSignature()), s.cfg.ProviderSecret) {
		s.persistRejectedCallback(ctx, req, "signature verification failed")
		return nil, false, ErrCallbackRejected
	}

	var signal providerSignal
	if err := json.Unmarshal(payload, &signal); err != nil {
		s.persistRejectedCallback(ctx, req, fmt.Sprintf("callback payload could not be parsed: %v", err))
		return nil, false, ErrCallbackRejected
	}
	if reason := s.checkSignalBinding(signal, txID); reason != "" {
		s.persistRejectedCallback(ctx, req, reason)
		return nil, false, ErrCallbackRejected
	}

	tx, err := s.settlement.GetTransactionStatus(ctx, txID)
	if err != nil {
		if errors.Is(err, settlement.ErrTransactionNotFound) {
			s.persistRejectedCallback(ctx, req, "settlement transaction not found")
			return nil, false, ErrTransactionNotFound
		}
		return nil, false, err
	}
	if tx.ProviderID != providerID {
		s.persistRejectedCallback(ctx, req, "callback provider does not own the transaction")
		return nil, false, ErrInvalidProvider
	}

	status := entity.TransactionStatus(strings.ToLower(strings.TrimSpace(signal.Status)))
	applied, err := s.settlement.ApplyProviderSignal(ctx, txID, status, strings.TrimSpace(signal.Reason))
	if err != nil {
		if errors.Is(err, settlement.ErrInvalidSignal) {
			s.persistRejectedCallback(ctx, req, fmt.Sprintf("unsupported callback status %q", signal.Status))
			return nil, false, ErrCallbackRejected
		}
		return nil, false, err
	}

	if err := s.callbackRepo.Create(ctx, &entity.ProviderCallback{
		TransactionID: &txID,
		Provider:      providerID,
		Signature:     strings.TrimSpace(req.GetSignature()),
		PayloadJSON:   req.GetPayload(),
		Status:        entity.ProviderCallbackProcessed,
		CreatedAt:     s.now().UTC(),
	}); err != nil {
		return nil, false, err
	}

	current, err := s.settlement.GetTransactionStatus(ctx, txID)
	if err != nil {
		return nil, false, err
	}

	s.logger.WithField("transaction_id", txID).WithField("applied", applied).Info("provider callback handled")
	return current, applied, nil
}

// checkSignalBinding returns a rejection reason, or "" when the signed body
// names txID and was issued within the callback tolerance.
func (s *PaymentService) checkSignalBinding(signal providerSignal, txID string) string {
	signedTx := strings.TrimSpace(signal.TransactionID)
	if signedTx == "" {
		return "callback payload does not name a transaction"
	}
	if signedTx != txID {
		return fmt.Sprintf("callback payload names transaction %q", signedTx)
	}
	if signal.Timestamp <= 0 {
		return "callback payload has no timestamp"
	}

	skew := s.now().Sub(time.Unix(signal.Timestamp, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > s.cfg.CallbackTolerance {
		return fmt.Sprintf("callback timestamp is %s outside the accepted window", skew.Truncate(time.Second))
	}
	return ""
}

func (s *PaymentService) persistRejectedCallback(ctx context.Context, req handleProviderCallbackRequest, reason string) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "callback rejected"
	}
	trimmedErr := truncate(reason, 1024)

	var txID *string
	if id := strings.TrimSpace(req.GetTransactionId()); id != "" {
		txID = &id
	}

	err := s.callbackRepo.Create(ctx, &entity.ProviderCallback{
		TransactionID: txID,
		Provider:      strings.ToLower(strings.TrimSpace(req.GetProvider())),
		Signature:     strings.TrimSpace(req.GetSignature()),
		PayloadJSON:   req.GetPayload(),
		Status:        entity.ProviderCallbackRejected,
		Error:         &trimmedErr,
		CreatedAt:     s.now().UTC(),
	})
	if err != nil {
		s.logger.WithError(err).Warn("rejected callback write failed")
	}
}
