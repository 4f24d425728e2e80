package types

import "github.com/shopspring/decimal"

type CreatePaymentRequest struct {
	IdempotencyKey      string            `json:"-"`
	UserId              string            `json:"user_id"`
	SourceAmount        decimal.Decimal   `json:"source_amount"`
	SourceCurrency      string            `json:"source_currency"`
	DestinationCurrency string            `json:"destination_currency"`
	WebhookUrl          string            `json:"webhook_url,omitempty"`
	PaymentMethod       string            `json:"payment_method,omitempty"`
	Recipient           map[string]string `json:"recipient,omitempty"`
}

func (r *CreatePaymentRequest) GetIdempotencyKey() string        { return r.IdempotencyKey }
func (r *CreatePaymentRequest) GetUserId() string                { return r.UserId }
func (r *CreatePaymentRequest) GetSourceAmount() decimal.Decimal { return r.SourceAmount }
func (r *CreatePaymentRequest) GetSourceCurrency() string        { return r.SourceCurrency }
func (r *CreatePaymentRequest) GetDestinationCurrency() string   { return r.DestinationCurrency }
func (r *CreatePaymentRequest) GetWebhookUrl() string            { return r.WebhookUrl }
func (r *CreatePaymentRequest) GetPaymentMethod() string         { return r.PaymentMethod }
func (r *CreatePaymentRequest) GetRecipient() map[string]string  { return r.Recipient }

type EstimateFeesRequest struct {
	SourceAmount        decimal.Decimal `json:"source_amount"`
	SourceCurrency      string          `json:"source_currency"`
	DestinationCurrency string          `json:"destination_currency"`
}

func (r *EstimateFeesRequest) GetSourceAmount() decimal.Decimal { return r.SourceAmount }
func (r *EstimateFeesRequest) GetSourceCurrency() string        { return r.SourceCurrency }
func (r *EstimateFeesRequest) GetDestinationCurrency() string   { return r.DestinationCurrency }

type GetPaymentRequest struct {
	Id string `json:"id"`
}

func (r *GetPaymentRequest) GetId() string { return r.Id }

type GetPaymentByIdempotencyKeyRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
}

func (r *GetPaymentByIdempotencyKeyRequest) GetIdempotencyKey() string { return r.IdempotencyKey }

type ListPaymentsRequest struct {
	UserId string `json:"user_id"`
	Page   int32  `json:"page"`
	Limit  int32  `json:"limit"`
}

func (r *ListPaymentsRequest) GetUserId() string { return r.UserId }
func (r *ListPaymentsRequest) GetPage() int32    { return r.Page }
func (r *ListPaymentsRequest) GetLimit() int32   { return r.Limit }

type CancelPaymentRequest struct {
	Id     string `json:"-"`
	Reason string `json:"reason,omitempty"`
}

func (r *CancelPaymentRequest) GetId() string     { return r.Id }
func (r *CancelPaymentRequest) GetReason() string { return r.Reason }

type GetRateRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (r *GetRateRequest) GetFrom() string { return r.From }
func (r *GetRateRequest) GetTo() string   { return r.To }

type HandleProviderCallbackRequest struct {
	Provider      string `json:"provider"`
	TransactionId string `json:"transaction_id"`
	Signature     string `json:"signature"`
	Payload       string `json:"payload"`
}

func (r *HandleProviderCallbackRequest) GetProvider() string      { return r.Provider }
func (r *HandleProviderCallbackRequest) GetTransactionId() string { return r.TransactionId }
func (r *HandleProviderCallbackRequest) GetSignature() string     { return r.Signature }
func (r *HandleProviderCallbackRequest) GetPayload() string       { return r.Payload }

type Payment struct {
	Id                   string            `json:"id"`
	UserId               string            `json:"user_id"`
	Status               string            `json:"status"`
	SourceAmount         string            `json:"source_amount"`
	SourceCurrency       string            `json:"source_currency"`
	DestinationAmount    string            `json:"destination_amount"`
	DestinationCurrency  string            `json:"destination_currency"`
	ExchangeRate         string            `json:"exchange_rate"`
	FeeAmount            string            `json:"fee_amount"`
	FeeCurrency          string            `json:"fee_currency"`
	TotalAmount          string            `json:"total_amount"`
	PaymentMethod        string            `json:"payment_method"`
	Recipient            map[string]string `json:"recipient,omitempty"`
	OnrampTransactionId  string            `json:"onramp_transaction_id,omitempty"`
	OfframpTransactionId string            `json:"offramp_transaction_id,omitempty"`
	WebhookUrl           string            `json:"webhook_url,omitempty"`
	FailureCode          string            `json:"failure_code,omitempty"`
	ErrorMessage         string            `json:"error_message,omitempty"`
	EstimatedCompletion  string            `json:"estimated_completion,omitempty"`
	CreatedAt            string            `json:"created_at"`
	UpdatedAt            string            `json:"updated_at"`
	CompletedAt          string            `json:"completed_at,omitempty"`
}

type PaymentEnvelopeResponse struct {
	Payment *Payment `json:"payment"`
}

type ListPaymentsResponse struct {
	Payments []*Payment `json:"payments"`
	Page     int32      `json:"page"`
	Limit    int32      `json:"limit"`
	HasMore  bool       `json:"has_more"`
}

type FeeSchedule struct {
	BaseFee       string `json:"base_fee"`
	PercentageFee string `json:"percentage_fee"`
	MinFee        string `json:"min_fee"`
	MaxFee        string `json:"max_fee,omitempty"`
}

type FeeEstimateResponse struct {
	SourceAmount        string      `json:"source_amount"`
	SourceCurrency      string      `json:"source_currency"`
	DestinationAmount   string      `json:"destination_amount"`
	DestinationCurrency string      `json:"destination_currency"`
	ExchangeRate        string      `json:"exchange_rate"`
	FeeAmount           string      `json:"fee_amount"`
	FeeCurrency         string      `json:"fee_currency"`
	FeeInSourceCurrency string      `json:"fee_in_source_currency"`
	TotalAmount         string      `json:"total_amount"`
	FeeSchedule         FeeSchedule `json:"fee_schedule"`
}

type RateResponse struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Rate      string `json:"rate"`
	Provider  string `json:"provider"`
	FetchedAt string `json:"fetched_at"`
	ExpiresAt string `json:"expires_at"`
}

type SettlementTransaction struct {
	Id                string            `json:"id"`
	PaymentId         string            `json:"payment_id,omitempty"`
	Direction         string            `json:"direction"`
	Amount            string            `json:"amount"`
	Currency          string            `json:"currency"`
	Status            string            `json:"status"`
	ProviderId        string            `json:"provider_id"`
	ExternalReference string            `json:"external_reference"`
	ProviderFee       string            `json:"provider_fee"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	FailureReason     string            `json:"failure_reason,omitempty"`
	CreatedAt         string            `json:"created_at"`
	UpdatedAt         string            `json:"updated_at"`
	CompletedAt       string            `json:"completed_at,omitempty"`
}

type ListTransactionsResponse struct {
	Transactions []*SettlementTransaction `json:"transactions"`
}

type WebhookDelivery struct {
	Id             string `json:"id"`
	PaymentId      string `json:"payment_id"`
	EventType      string `json:"event_type"`
	Url            string `json:"url"`
	Status         string `json:"status"`
	RetryCount     int    `json:"retry_count"`
	ResponseStatus int    `json:"response_status,omitempty"`
	LastError      string `json:"last_error,omitempty"`
	NextAttemptAt  string `json:"next_attempt_at,omitempty"`
	SentAt         string `json:"sent_at,omitempty"`
	CreatedAt      string `json:"created_at"`
}

type ListWebhooksResponse struct {
	Webhooks []*WebhookDelivery `json:"webhooks"`
}

type PaymentEvent struct {
	Id        uint64 `json:"id"`
	EventType string `json:"event_type"`
	OldStatus string `json:"old_status,omitempty"`
	NewStatus string `json:"new_status"`
	Payload   string `json:"payload,omitempty"`
	CreatedAt string `json:"created_at"`
}

type ListEventsResponse struct {
	Events []*PaymentEvent `json:"events"`
}

type ProviderCallbackResponse struct {
	TransactionId string `json:"transaction_id"`
	Status        string `json:"status"`
	Applied       bool   `json:"applied"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
