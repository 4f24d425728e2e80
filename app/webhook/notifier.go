package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-remittance/app/entity"
	"github.com/vibast-solutions/ms-go-remittance/app/factory"
	"github.com/vibast-solutions/ms-go-remittance/app/repository"
	"github.com/vibast-solutions/ms-go-remittance/app/signing"
)

const (
	headerSignature = "X-Webhook-Signature"
	headerEvent     = "X-Webhook-Event"
	headerDelivery  = "X-Webhook-Delivery"

	maxResponseBody = 1024
)

// defaultBackoff holds the waits before retries 1..n. A delivery gets
// MaxRetries attempts, so only the first MaxRetries-1 entries are used; with
// the default MaxRetries of 3 the 60s entry is never reached.
var defaultBackoff = []time.Duration{5 * time.Second, 15 * time.Second, 60 * time.Second}

type DeliveryRepository interface {
	Create(ctx context.Context, delivery *entity.WebhookDelivery) error
	Update(ctx context.Context, delivery *entity.WebhookDelivery, expectedRetryCount int) error
	ListPending(ctx context.Context, limit int32) ([]*entity.WebhookDelivery, error)
	ListDue(ctx context.Context, now time.Time, limit int32) ([]*entity.WebhookDelivery, error)
}

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Options struct {
	Secret     string
	MaxRetries int
	Backoff    []time.Duration
	Timeout    time.Duration
	Client     HTTPDoer
	Now        func() time.Time
}

// Envelope is the JSON body posted to the merchant endpoint.
type Envelope struct {
	ID        string      `json:"id"`
	PaymentID string      `json:"payment_id"`
	EventType string      `json:"event_type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

type queue struct {
	items []*entity.WebhookDelivery
}

// Notifier delivers webhooks in scheduling order per payment. Each payment
// with queued deliveries has one worker goroutine; a failing head delivery
// blocks the ones behind it until it is sent or exhausted.
type Notifier struct {
	repo       DeliveryRepository
	client     HTTPDoer
	secret     string
	maxRetries int
	backoff    []time.Duration
	timeout    time.Duration
	now        func() time.Time
	logger     logrus.FieldLogger

	mu     sync.Mutex
	queues map[string]*queue
	queued map[string]struct{}
	closed bool
	stop   chan struct{}
	wg     sync.WaitGroup
}

func NewNotifier(repo DeliveryRepository, opts Options) *Notifier {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if len(opts.Backoff) == 0 {
		opts.Backoff = defaultBackoff
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Notifier{
		repo:       repo,
		client:     opts.Client,
		secret:     opts.Secret,
		maxRetries: opts.MaxRetries,
		backoff:    opts.Backoff,
		timeout:    opts.Timeout,
		now:        opts.Now,
		logger:     factory.NewModuleLogger("webhook"),
		queues:     make(map[string]*queue),
		queued:     make(map[string]struct{}),
		stop:       make(chan struct{}),
	}
}

// Schedule persists a pending delivery and queues it for asynchronous sending.
func (n *Notifier) Schedule(ctx context.Context, paymentID, eventType string, data interface{}, url string) (*entity.WebhookDelivery, error) {
	now := n.now().UTC()
	id := uuid.NewString()

	payload, err := json.Marshal(Envelope{
		ID:        id,
		PaymentID: paymentID,
		EventType: eventType,
		Timestamp: now,
		Data:      data,
	})
	if err != nil {
		return nil, fmt.Errorf("encode webhook payload: %w", err)
	}

	delivery := &entity.WebhookDelivery{
		ID:            id,
		PaymentID:     paymentID,
		EventType:     eventType,
		URL:           url,
		Status:        entity.WebhookStatusPending,
		Payload:       string(payload),
		NextAttemptAt: &now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := n.repo.Create(ctx, delivery); err != nil {
		return nil, err
	}

	queued := *delivery
	n.enqueue(&queued)
	return delivery, nil
}

// ResumePending queues every pending delivery not already in flight.
func (n *Notifier) ResumePending(ctx context.Context, limit int32) (int, error) {
	items, err := n.repo.ListPending(ctx, limit)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, item := range items {
		if n.enqueue(item) {
			count++
		}
	}
	return count, nil
}

// RunDispatchBatch attempts every due delivery once, synchronously. A payment
// whose earlier delivery is still pending is skipped for the rest of the batch.
func (n *Notifier) RunDispatchBatch(ctx context.Context, limit int32) (int, error) {
	items, err := n.repo.ListDue(ctx, n.now().UTC(), limit)
	if err != nil {
		return 0, err
	}

	blocked := make(map[string]bool)
	attempted := 0
	var firstErr error
	for _, item := range items {
		if blocked[item.PaymentID] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return attempted, err
		}

		attempted++
		done, err := n.attempt(ctx, item)
		if err != nil {
			firstErr = keepFirstErr(firstErr, err)
		}
		if !done {
			blocked[item.PaymentID] = true
		}
	}
	return attempted, firstErr
}

// Close stops the workers. Undelivered rows stay pending for the dispatch job.
func (n *Notifier) Close() {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.stop)
	}
	n.mu.Unlock()
	n.wg.Wait()
}

func (n *Notifier) enqueue(delivery *entity.WebhookDelivery) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return false
	}
	if _, ok := n.queued[delivery.ID]; ok {
		return false
	}
	n.queued[delivery.ID] = struct{}{}

	q, ok := n.queues[delivery.PaymentID]
	if ok {
		q.items = append(q.items, delivery)
		return true
	}

	q = &queue{items: []*entity.WebhookDelivery{delivery}}
	n.queues[delivery.PaymentID] = q
	n.wg.Add(1)
	go n.run(delivery.PaymentID, q)
	return true
}

func (n *Notifier) run(paymentID string, q *queue) {
	defer n.wg.Done()

	for {
		n.mu.Lock()
		if len(q.items) == 0 {
			delete(n.queues, paymentID)
			n.mu.Unlock()
			return
		}
		head := q.items[0]
		n.mu.Unlock()

		if head.NextAttemptAt != nil {
			if wait := head.NextAttemptAt.Sub(n.now()); wait > 0 && !n.sleep(wait) {
				n.drop(paymentID)
				return
			}
		}

		select {
		case <-n.stop:
			n.drop(paymentID)
			return
		default:
		}

		done, err := n.attempt(context.Background(), head)
		if err != nil {
			n.logger.WithError(err).WithField("delivery_id", head.ID).Error("webhook delivery update failed")
		}
		if !done {
			continue
		}

		n.mu.Lock()
		q.items = q.items[1:]
		delete(n.queued, head.ID)
		n.mu.Unlock()
	}
}

func (n *Notifier) drop(paymentID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if q, ok := n.queues[paymentID]; ok {
		for _, item := range q.items {
			delete(n.queued, item.ID)
		}
		delete(n.queues, paymentID)
	}
}

func (n *Notifier) sleep(wait time.Duration) bool {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-n.stop:
		return false
	}
}

// attempt posts the delivery once and records the outcome on the row. done is
// false only while another attempt is scheduled. A row that was already
// finalised elsewhere counts as done.
func (n *Notifier) attempt(ctx context.Context, delivery *entity.WebhookDelivery) (bool, error) {
	status, body, sendErr := n.send(ctx, delivery)

	now := n.now().UTC()
	updated := *delivery
	updated.UpdatedAt = now
	if status > 0 {
		updated.ResponseStatus = &status
		updated.ResponseBody = &body
	}

	logger := n.logger.WithFields(logrus.Fields{
		"delivery_id": delivery.ID,
		"payment_id":  delivery.PaymentID,
		"event_type":  delivery.EventType,
	})

	if sendErr == nil {
		updated.Status = entity.WebhookStatusSent
		updated.SentAt = &now
		updated.NextAttemptAt = nil
		updated.LastError = nil
	} else {
		message := truncate(sendErr.Error(), maxResponseBody)
		updated.LastError = &message
		updated.RetryCount++
		if updated.RetryCount >= n.maxRetries {
			updated.Status = entity.WebhookStatusFailed
			updated.NextAttemptAt = nil
		} else {
			next := now.Add(n.backoffFor(updated.RetryCount))
			updated.NextAttemptAt = &next
		}
	}

	if err := n.repo.Update(ctx, &updated, delivery.RetryCount); err != nil {
		if errors.Is(err, repository.ErrStaleWebhookDelivery) {
			logger.Debug("webhook delivery outcome already recorded by another worker")
			return true, nil
		}
		return true, err
	}
	*delivery = updated

	switch updated.Status {
	case entity.WebhookStatusSent:
		logger.Info("webhook delivered")
	case entity.WebhookStatusFailed:
		logger.WithError(sendErr).Warn("webhook delivery failed permanently")
	default:
		logger.WithError(sendErr).WithField("retry_count", updated.RetryCount).Warn("webhook delivery failed, retry scheduled")
		return false, nil
	}
	return true, nil
}

func (n *Notifier) backoffFor(retryCount int) time.Duration {
	index := retryCount - 1
	if index >= len(n.backoff) {
		index = len(n.backoff) - 1
	}
	if index < 0 {
		index = 0
	}
	return n.backoff[index]
}

func (n *Notifier) send(ctx context.Context, delivery *entity.WebhookDelivery) (int, string, error) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	payload := []byte(delivery.Payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, delivery.URL, bytes.NewReader(payload))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "ms-go-remittance-webhooks/1.0")
	req.Header.Set(headerSignature, signing.Sign(payload, n.secret))
	req.Header.Set(headerEvent, delivery.EventType)
	req.Header.Set(headerDelivery, delivery.ID)

	resp, err := n.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	body := string(raw)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, body, fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return resp.StatusCode, body, nil
}

func keepFirstErr(current, next error) error {
	if current != nil {
		return current
	}
	return next
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit]
}
