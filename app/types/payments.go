package types

import (
	"errors"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	HeaderIdempotencyKey    = "Idempotency-Key"
	HeaderIdempotentReplay  = "Idempotent-Replayed"
	HeaderProviderSignature = "X-Provider-Signature"

	defaultPageLimit = int32(20)
	maxPageLimit     = int32(100)
)

func NewCreatePaymentRequestFromContext(ctx echo.Context) (*CreatePaymentRequest, error) {
	var body CreatePaymentRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}

	body.IdempotencyKey = ctx.Request().Header.Get(HeaderIdempotencyKey)
	body.Normalize()

	return &body, nil
}

// Normalize trims the request and upper-cases currency codes.
func (r *CreatePaymentRequest) Normalize() {
	r.IdempotencyKey = strings.TrimSpace(r.IdempotencyKey)
	r.UserId = strings.TrimSpace(r.UserId)
	r.SourceCurrency = strings.ToUpper(strings.TrimSpace(r.SourceCurrency))
	r.DestinationCurrency = strings.ToUpper(strings.TrimSpace(r.DestinationCurrency))
	r.WebhookUrl = strings.TrimSpace(r.WebhookUrl)
	r.PaymentMethod = strings.ToLower(strings.TrimSpace(r.PaymentMethod))
}

func (r *CreatePaymentRequest) Validate() error {
	if r.GetIdempotencyKey() == "" {
		return errors.New("Idempotency-Key header is required")
	}
	if len(r.GetIdempotencyKey()) > 255 {
		return errors.New("Idempotency-Key must be at most 255 characters")
	}
	if r.GetUserId() == "" {
		return errors.New("user_id is required")
	}
	if !r.GetSourceAmount().IsPositive() {
		return errors.New("source_amount must be > 0")
	}
	if r.GetSourceAmount().Exponent() < -2 {
		return errors.New("source_amount must have at most 2 decimals")
	}
	if err := validateCurrency("source_currency", r.GetSourceCurrency()); err != nil {
		return err
	}
	if err := validateCurrency("destination_currency", r.GetDestinationCurrency()); err != nil {
		return err
	}
	if r.GetWebhookUrl() != "" && !isHTTPURL(r.GetWebhookUrl()) {
		return errors.New("webhook_url must be an absolute http(s) url")
	}
	return nil
}

func NewEstimateFeesRequestFromContext(ctx echo.Context) (*EstimateFeesRequest, error) {
	var body EstimateFeesRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}
	body.Normalize()
	return &body, nil
}

func (r *EstimateFeesRequest) Normalize() {
	r.SourceCurrency = strings.ToUpper(strings.TrimSpace(r.SourceCurrency))
	r.DestinationCurrency = strings.ToUpper(strings.TrimSpace(r.DestinationCurrency))
}

func (r *EstimateFeesRequest) Validate() error {
	if !r.GetSourceAmount().IsPositive() {
		return errors.New("source_amount must be > 0")
	}
	if err := validateCurrency("source_currency", r.GetSourceCurrency()); err != nil {
		return err
	}
	return validateCurrency("destination_currency", r.GetDestinationCurrency())
}

func NewGetPaymentRequestFromContext(ctx echo.Context) (*GetPaymentRequest, error) {
	return &GetPaymentRequest{Id: strings.TrimSpace(ctx.Param("id"))}, nil
}

func (r *GetPaymentRequest) Validate() error {
	if r.GetId() == "" {
		return errors.New("invalid payment id")
	}
	return nil
}

func NewGetPaymentByIdempotencyKeyRequestFromContext(ctx echo.Context) (*GetPaymentByIdempotencyKeyRequest, error) {
	key, err := url.PathUnescape(ctx.Param("key"))
	if err != nil {
		return nil, err
	}
	return &GetPaymentByIdempotencyKeyRequest{IdempotencyKey: strings.TrimSpace(key)}, nil
}

func (r *GetPaymentByIdempotencyKeyRequest) Validate() error {
	if r.GetIdempotencyKey() == "" {
		return errors.New("idempotency key is required")
	}
	return nil
}

func NewListPaymentsRequestFromContext(ctx echo.Context) (*ListPaymentsRequest, error) {
	req := &ListPaymentsRequest{
		UserId: strings.TrimSpace(ctx.QueryParam("user_id")),
		Page:   1,
		Limit:  defaultPageLimit,
	}

	if pageRaw := strings.TrimSpace(ctx.QueryParam("page")); pageRaw != "" {
		page, err := strconv.ParseInt(pageRaw, 10, 32)
		if err != nil {
			return nil, err
		}
		req.Page = int32(page)
	}

	if limitRaw := strings.TrimSpace(ctx.QueryParam("limit")); limitRaw != "" {
		limit, err := strconv.ParseInt(limitRaw, 10, 32)
		if err != nil {
			return nil, err
		}
		req.Limit = int32(limit)
	}

	return req, nil
}

func (r *ListPaymentsRequest) Validate() error {
	if r.GetUserId() == "" {
		return errors.New("user_id is required")
	}
	if r.Page == 0 {
		r.Page = 1
	}
	if r.Limit == 0 {
		r.Limit = defaultPageLimit
	}
	if r.GetPage() < 1 {
		return errors.New("page must be >= 1")
	}
	if r.GetLimit() < 1 || r.GetLimit() > maxPageLimit {
		return errors.New("limit must be between 1 and 100")
	}
	return nil
}

func NewCancelPaymentRequestFromContext(ctx echo.Context) (*CancelPaymentRequest, error) {
	var body CancelPaymentRequest
	if err := ctx.Bind(&body); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	body.Id = strings.TrimSpace(ctx.Param("id"))
	body.Reason = strings.TrimSpace(body.Reason)

	return &body, nil
}

func (r *CancelPaymentRequest) Validate() error {
	if r.GetId() == "" {
		return errors.New("invalid payment id")
	}
	if len(r.GetReason()) > 1024 {
		return errors.New("reason must be at most 1024 characters")
	}
	return nil
}

func NewGetRateRequestFromContext(ctx echo.Context) (*GetRateRequest, error) {
	return &GetRateRequest{
		From: strings.ToUpper(strings.TrimSpace(ctx.QueryParam("from"))),
		To:   strings.ToUpper(strings.TrimSpace(ctx.QueryParam("to"))),
	}, nil
}

func (r *GetRateRequest) Validate() error {
	if err := validateCurrency("from", r.GetFrom()); err != nil {
		return err
	}
	return validateCurrency("to", r.GetTo())
}

func NewHandleProviderCallbackRequestFromContext(ctx echo.Context) (*HandleProviderCallbackRequest, error) {
	rawBody, err := io.ReadAll(ctx.Request().Body)
	if err != nil {
		return nil, err
	}

	return &HandleProviderCallbackRequest{
		Provider:      strings.TrimSpace(strings.ToLower(ctx.Param("provider"))),
		TransactionId: strings.TrimSpace(ctx.Param("transaction_id")),
		Signature:     strings.TrimSpace(ctx.Request().Header.Get(HeaderProviderSignature)),
		Payload:       string(rawBody),
	}, nil
}

func (r *HandleProviderCallbackRequest) Validate() error {
	if r.GetProvider() == "" {
		return errors.New("provider is required")
	}
	if r.GetTransactionId() == "" {
		return errors.New("transaction id is required")
	}
	if r.GetSignature() == "" {
		return errors.New("provider signature is required")
	}
	if strings.TrimSpace(r.GetPayload()) == "" {
		return errors.New("payload is required")
	}
	return nil
}

func validateCurrency(field, value string) error {
	if len(value) != 3 {
		return errors.New(field + " must be 3 letters")
	}
	for _, c := range value {
		if c < 'A' || c > 'Z' {
			return errors.New(field + " must be 3 letters")
		}
	}
	return nil
}

func isHTTPURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}
