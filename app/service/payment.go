package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-remittance/app/entity"
	"github.com/vibast-solutions/ms-go-remittance/app/factory"
	"github.com/vibast-solutions/ms-go-remittance/app/fees"
	"github.com/vibast-solutions/ms-go-remittance/app/provider"
	"github.com/vibast-solutions/ms-go-remittance/app/rates"
	"github.com/vibast-solutions/ms-go-remittance/app/repository"
	"github.com/vibast-solutions/ms-go-remittance/app/settlement"
	"github.com/vibast-solutions/ms-go-remittance/config"
)

const (
	defaultBatchSize = int32(100)
	maxPageLimit     = int32(100)
)

type createPaymentRequest interface {
	GetIdempotencyKey() string
	GetUserId() string
	GetSourceAmount() decimal.Decimal
	GetSourceCurrency() string
	GetDestinationCurrency() string
	GetWebhookUrl() string
	GetPaymentMethod() string
	GetRecipient() map[string]string
}

type estimateFeesRequest interface {
	GetSourceAmount() decimal.Decimal
	GetSourceCurrency() string
	GetDestinationCurrency() string
}

type listPaymentsRequest interface {
	GetUserId() string
	GetPage() int32
	GetLimit() int32
}

type cancelPaymentRequest interface {
	GetId() string
	GetReason() string
}

type paymentRepository interface {
	Create(ctx context.Context, payment *entity.Payment) error
	Transition(ctx context.Context, id string, t repository.PaymentTransition) error
	FindByID(ctx context.Context, id string) (*entity.Payment, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*entity.Payment, error)
	ListByUser(ctx context.Context, userID string, limit, offset int32) ([]*entity.Payment, error)
	ListByStatuses(ctx context.Context, statuses []entity.PaymentStatus, limit int32) ([]*entity.Payment, error)
	ListStalePending(ctx context.Context, cutoff time.Time, limit int32) ([]*entity.Payment, error)
}

type transactionRepository interface {
	ListByPayment(ctx context.Context, paymentID string) ([]*entity.SettlementTransaction, error)
}

type webhookRepository interface {
	ListByPayment(ctx context.Context, paymentID string) ([]*entity.WebhookDelivery, error)
}

type paymentEventRepository interface {
	Create(ctx context.Context, event *entity.PaymentEvent) error
	ListByPayment(ctx context.Context, paymentID string) ([]*entity.PaymentEvent, error)
}

type providerCallbackRepository interface {
	Create(ctx context.Context, callback *entity.ProviderCallback) error
}

type rateOracle interface {
	GetRate(ctx context.Context, from, to string) (*entity.ExchangeRate, error)
}

type feeCalculator interface {
	Supports(currency string) bool
	Calculate(currency string, amount decimal.Decimal) (*fees.Breakdown, error)
}

type settlementAdapter interface {
	Select(req provider.SelectRequest) (provider.Definition, error)
	CreateTransaction(ctx context.Context, req settlement.CreateRequest) (*entity.SettlementTransaction, error)
	GetTransactionStatus(ctx context.Context, id string) (*entity.SettlementTransaction, error)
	CancelTransaction(ctx context.Context, id string) (bool, error)
	ApplyProviderSignal(ctx context.Context, id string, status entity.TransactionStatus, reason string) (bool, error)
}

type webhookNotifier interface {
	Schedule(ctx context.Context, paymentID, eventType string, data interface{}, url string) (*entity.WebhookDelivery, error)
	RunDispatchBatch(ctx context.Context, limit int32) (int, error)
}

type eventPublisher interface {
	Publish(ctx context.Context, event *entity.PaymentEvent) error
}

// Dependencies groups the collaborators of PaymentService.
type Dependencies struct {
	Payments     paymentRepository
	Transactions transactionRepository
	Webhooks     webhookRepository
	Events       paymentEventRepository
	Callbacks    providerCallbackRepository
	Rates        rateOracle
	Fees         feeCalculator
	Settlement   settlementAdapter
	Notifier     webhookNotifier
	Publisher    eventPublisher
}

type PaymentService struct {
	paymentRepo     paymentRepository
	transactionRepo transactionRepository
	webhookRepo     webhookRepository
	eventRepo       paymentEventRepository
	callbackRepo    providerCallbackRepository
	rates           rateOracle
	fees            feeCalculator
	settlement      settlementAdapter
	notifier        webhookNotifier
	publisher       eventPublisher
	cfg             config.OrchestrationConfig
	now             func() time.Time
	logger          logrus.FieldLogger

	baseCtx context.Context
	stopAll context.CancelFunc

	mu     sync.Mutex
	tasks  map[string]*paymentTask
	closed bool
	wg     sync.WaitGroup

	locks [64]sync.Mutex
}

func NewPaymentService(deps Dependencies, cfg config.OrchestrationConfig) *PaymentService {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.OnrampTimeout <= 0 {
		cfg.OnrampTimeout = 30 * time.Minute
	}
	if cfg.OfframpTimeout <= 0 {
		cfg.OfframpTimeout = 120 * time.Minute
	}
	if cfg.StepMaxRetries <= 0 {
		cfg.StepMaxRetries = 3
	}
	if cfg.StepRetryInterval <= 0 {
		cfg.StepRetryInterval = time.Second
	}
	if cfg.PendingTimeout <= 0 {
		cfg.PendingTimeout = time.Hour
	}
	if cfg.CallbackTolerance <= 0 {
		cfg.CallbackTolerance = 5 * time.Minute
	}
	if strings.TrimSpace(cfg.DefaultPaymentMethod) == "" {
		cfg.DefaultPaymentMethod = "bank_transfer"
	}

	baseCtx, stopAll := context.WithCancel(context.Background())
	return &PaymentService{
		paymentRepo:     deps.Payments,
		transactionRepo: deps.Transactions,
		webhookRepo:     deps.Webhooks,
		eventRepo:       deps.Events,
		callbackRepo:    deps.Callbacks,
		rates:           deps.Rates,
		fees:            deps.Fees,
		settlement:      deps.Settlement,
		notifier:        deps.Notifier,
		publisher:       deps.Publisher,
		cfg:             cfg,
		now:             time.Now,
		logger:          factory.NewModuleLogger("payment-service"),
		baseCtx:         baseCtx,
		stopAll:         stopAll,
		tasks:           make(map[string]*paymentTask),
	}
}

// CreatePayment validates and quotes synchronously, persists the payment in
// pending and starts its settlement flow in the background. The bool is true
// when the idempotency key matched an existing payment, which is returned
// unchanged.
func (s *PaymentService) CreatePayment(ctx context.Context, req createPaymentRequest) (*entity.Payment, bool, error) {
	key := strings.TrimSpace(req.GetIdempotencyKey())
	userID := strings.TrimSpace(req.GetUserId())
	if key == "" || userID == "" {
		return nil, false, ErrInvalidRequest
	}

	existing, err := s.paymentRepo.FindByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, true, nil
	}

	amount := req.GetSourceAmount()
	source := normalizeCurrency(req.GetSourceCurrency())
	destination := normalizeCurrency(req.GetDestinationCurrency())
	if err := s.validateTransfer(amount, source, destination); err != nil {
		return nil, false, err
	}

	method := strings.ToLower(strings.TrimSpace(req.GetPaymentMethod()))
	if method == "" {
		method = s.cfg.DefaultPaymentMethod
	}

	quote, err := s.quoteWithRetry(ctx, amount, source, destination)
	if err != nil {
		return nil, false, err
	}

	now := s.now().UTC()
	payment := &entity.Payment{
		ID:                  uuid.NewString(),
		UserID:              userID,
		IdempotencyKey:      key,
		SourceAmount:        quote.SourceAmount,
		SourceCurrency:      source,
		DestinationAmount:   quote.DestinationAmount,
		DestinationCurrency: destination,
		ExchangeRate:        quote.ExchangeRate,
		FeeAmount:           quote.FeeAmount,
		FeeCurrency:         quote.FeeCurrency,
		TotalAmount:         quote.TotalAmount,
		Status:              entity.PaymentStatusPending,
		PaymentMethod:       method,
		Recipient:           cloneMetadata(req.GetRecipient()),
		WebhookURL:          normalizeOptionalString(req.GetWebhookUrl()),
		EstimatedCompletion: s.estimateCompletion(quote, method, now),
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	if err := s.paymentRepo.Create(ctx, payment); err != nil {
		if errors.Is(err, repository.ErrPaymentAlreadyExists) {
			winner, findErr := s.paymentRepo.FindByIdempotencyKey(ctx, key)
			if findErr != nil {
				return nil, false, findErr
			}
			if winner != nil {
				return winner, true, nil
			}
		}
		return nil, false, err
	}

	lock := s.lockFor(payment.ID)
	lock.Lock()
	s.afterTransition(ctx, payment, nil, entity.EventPaymentCreated, map[string]string{
		"exchange_rate": quote.ExchangeRate.String(),
		"rate_provider": quote.RateProvider,
	})
	lock.Unlock()
	s.launch(payment.ID)

	return payment, false, nil
}

// EstimateFees quotes a transfer without persisting anything.
func (s *PaymentService) EstimateFees(ctx context.Context, req estimateFeesRequest) (*entity.Quote, error) {
	amount := req.GetSourceAmount()
	source := normalizeCurrency(req.GetSourceCurrency())
	destination := normalizeCurrency(req.GetDestinationCurrency())
	if err := s.validateTransfer(amount, source, destination); err != nil {
		return nil, err
	}
	return s.quoteWithRetry(ctx, amount, source, destination)
}

func (s *PaymentService) GetRate(ctx context.Context, from, to string) (*entity.ExchangeRate, error) {
	from = normalizeCurrency(from)
	to = normalizeCurrency(to)
	if len(from) != 3 || len(to) != 3 {
		return nil, ErrInvalidRequest
	}

	rate, err := s.rates.GetRate(ctx, from, to)
	if err != nil {
		if errors.Is(err, rates.ErrRateUnavailable) {
			return nil, fmt.Errorf("%w: %s/%s", ErrRateUnavailable, from, to)
		}
		return nil, err
	}
	return rate, nil
}

func (s *PaymentService) GetPayment(ctx context.Context, id string) (*entity.Payment, error) {
	payment, err := s.paymentRepo.FindByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, ErrPaymentNotFound
	}
	return payment, nil
}

func (s *PaymentService) GetPaymentByIdempotencyKey(ctx context.Context, key string) (*entity.Payment, error) {
	payment, err := s.paymentRepo.FindByIdempotencyKey(ctx, strings.TrimSpace(key))
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, ErrPaymentNotFound
	}
	return payment, nil
}

// ListUserPayments returns one page of a user's payments, newest first.
func (s *PaymentService) ListUserPayments(ctx context.Context, req listPaymentsRequest) ([]*entity.Payment, bool, error) {
	userID := strings.TrimSpace(req.GetUserId())
	if userID == "" {
		return nil, false, ErrInvalidRequest
	}

	page := req.GetPage()
	if page <= 0 {
		page = 1
	}
	limit := req.GetLimit()
	if limit <= 0 || limit > maxPageLimit {
		limit = maxPageLimit
	}

	items, err := s.paymentRepo.ListByUser(ctx, userID, limit+1, (page-1)*limit)
	if err != nil {
		return nil, false, err
	}

	hasMore := int32(len(items)) > limit
	if hasMore {
		items = items[:limit]
	}
	return items, hasMore, nil
}

func (s *PaymentService) ListPaymentWebhooks(ctx context.Context, paymentID string) ([]*entity.WebhookDelivery, error) {
	if _, err := s.GetPayment(ctx, paymentID); err != nil {
		return nil, err
	}
	return s.webhookRepo.ListByPayment(ctx, paymentID)
}

func (s *PaymentService) ListPaymentTransactions(ctx context.Context, paymentID string) ([]*entity.SettlementTransaction, error) {
	if _, err := s.GetPayment(ctx, paymentID); err != nil {
		return nil, err
	}
	return s.transactionRepo.ListByPayment(ctx, paymentID)
}

func (s *PaymentService) ListPaymentEvents(ctx context.Context, paymentID string) ([]*entity.PaymentEvent, error) {
	if _, err := s.GetPayment(ctx, paymentID); err != nil {
		return nil, err
	}
	return s.eventRepo.ListByPayment(ctx, paymentID)
}

// CancelPayment moves a non-terminal payment to cancelled. Cancelling an
// already cancelled payment returns it unchanged.
func (s *PaymentService) CancelPayment(ctx context.Context, req cancelPaymentRequest) (*entity.Payment, error) {
	payment, err := s.GetPayment(ctx, req.GetId())
	if err != nil {
		return nil, err
	}

	switch payment.Status {
	case entity.PaymentStatusCancelled:
		return payment, nil
	case entity.PaymentStatusCompleted, entity.PaymentStatusFailed:
		return nil, fmt.Errorf("%w: payment is %s", ErrInvalidStatus, payment.Status)
	}

	transition := repository.PaymentTransition{
		From: nonTerminalStatuses(),
		To:   entity.PaymentStatusCancelled,
	}
	if reason := strings.TrimSpace(req.GetReason()); reason != "" {
		transition.ErrorMessage = &reason
	}

	updated, err := s.transition(ctx, payment, transition, entity.EventPaymentCancelled, nil)
	if errors.Is(err, repository.ErrStaleTransition) {
		current, findErr := s.GetPayment(ctx, payment.ID)
		if findErr != nil {
			return nil, findErr
		}
		if current.Status == entity.PaymentStatusCancelled {
			return current, nil
		}
		return nil, fmt.Errorf("%w: payment is %s", ErrInvalidStatus, current.Status)
	}
	if err != nil {
		return nil, err
	}

	s.stopTask(updated.ID)
	s.cancelOpenTransactions(ctx, updated.ID)

	return updated, nil
}

func (s *PaymentService) validateTransfer(amount decimal.Decimal, source, destination string) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if len(source) != 3 || len(destination) != 3 {
		return ErrInvalidRequest
	}
	if source == destination {
		return ErrSameCurrency
	}
	if !s.fees.Supports(destination) {
		return fmt.Errorf("%w: %s", ErrUnsupportedCurrency, destination)
	}
	return nil
}

// quoteWithRetry takes one rate snapshot and prices the transfer with it.
// Only errors other than an unknown pair are retried.
func (s *PaymentService) quoteWithRetry(ctx context.Context, amount decimal.Decimal, source, destination string) (*entity.Quote, error) {
	var quote *entity.Quote
	err := s.retry(ctx, func() error {
		q, err := s.quote(ctx, amount, source, destination)
		if err != nil {
			if errors.Is(err, ErrRateUnavailable) || errors.Is(err, ErrUnsupportedCurrency) {
				return backoff.Permanent(err)
			}
			return err
		}
		quote = q
		return nil
	})
	if err != nil {
		return nil, err
	}
	return quote, nil
}

func (s *PaymentService) quote(ctx context.Context, amount decimal.Decimal, source, destination string) (*entity.Quote, error) {
	rate, err := s.rates.GetRate(ctx, source, destination)
	if err != nil {
		if errors.Is(err, rates.ErrRateUnavailable) {
			return nil, fmt.Errorf("%w: %s/%s", ErrRateUnavailable, source, destination)
		}
		return nil, err
	}
	if !rate.Rate.IsPositive() {
		return nil, fmt.Errorf("%w: non-positive rate for %s/%s", ErrRateUnavailable, source, destination)
	}

	destinationAmount := amount.Mul(rate.Rate).Round(2)
	breakdown, err := s.fees.Calculate(destination, destinationAmount)
	if err != nil {
		if errors.Is(err, fees.ErrUnsupportedCurrency) {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, destination)
		}
		return nil, err
	}

	feeInSource := breakdown.Fee.DivRound(rate.Rate, 8)
	return &entity.Quote{
		SourceAmount:        amount,
		SourceCurrency:      source,
		DestinationAmount:   destinationAmount,
		DestinationCurrency: destination,
		ExchangeRate:        rate.Rate,
		RateProvider:        rate.Provider,
		RateFetched:         rate.FetchedAt,
		FeeAmount:           breakdown.Fee,
		FeeCurrency:         destination,
		FeeInSourceCurrency: feeInSource.Round(2),
		TotalAmount:         amount.Add(feeInSource).Round(2),
		BaseFee:             breakdown.Schedule.BaseFee,
		PercentageFee:       breakdown.Schedule.PercentageFee,
		MinFee:              breakdown.Schedule.MinFee,
		MaxFee:              breakdown.Schedule.MaxFee,
	}, nil
}

// estimateCompletion adds the nominal processing time of the providers that
// would be selected today. It is nil when either leg has no provider.
func (s *PaymentService) estimateCompletion(quote *entity.Quote, method string, now time.Time) *time.Time {
	onramp, err := s.settlement.Select(provider.SelectRequest{
		Direction:     entity.DirectionOnramp,
		Currency:      quote.SourceCurrency,
		PaymentMethod: method,
		Amount:        quote.TotalAmount,
	})
	if err != nil {
		return nil
	}
	offramp, err := s.settlement.Select(provider.SelectRequest{
		Direction: entity.DirectionOfframp,
		Currency:  quote.DestinationCurrency,
		Amount:    quote.DestinationAmount,
	})
	if err != nil {
		return nil
	}

	eta := now.Add(onramp.ProcessingTime.Expected() + offramp.ProcessingTime.Expected())
	return &eta
}

func (s *PaymentService) retry(ctx context.Context, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.cfg.StepRetryInterval
	policy.MaxInterval = 10 * s.cfg.StepRetryInterval
	policy.MaxElapsedTime = 0

	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(s.cfg.StepMaxRetries-1)), ctx))
}

func (s *PaymentService) batchSize() int32 {
	if s.cfg.JobBatchSize <= 0 {
		return defaultBatchSize
	}
	return s.cfg.JobBatchSize
}

func nonTerminalStatuses() []entity.PaymentStatus {
	return []entity.PaymentStatus{
		entity.PaymentStatusPending,
		entity.PaymentStatusProcessing,
		entity.PaymentStatusOnrampComplete,
		entity.PaymentStatusOfframpProcessing,
	}
}

func normalizeCurrency(v string) string {
	return strings.ToUpper(strings.TrimSpace(v))
}

func normalizeOptionalString(v string) *string {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func cloneMetadata(src map[string]string) map[string]string {
	if len(src) == 0 {
		return map[string]string{}
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
