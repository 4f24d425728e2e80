package types

import (
	"bytes"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

func TestNewCreatePaymentRequestFromContextNormalizes(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest("POST", "/payments", bytes.NewBufferString(`{"user_id":" user-1 ","source_amount":100,"source_currency":"usd","destination_currency":" eur ","payment_method":"BANK_TRANSFER","recipient":{"iban":"DE89370400440532013000"}}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(HeaderIdempotencyKey, " key-1 ")
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	parsed, err := NewCreatePaymentRequestFromContext(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if parsed.GetIdempotencyKey() != "key-1" {
		t.Fatalf("expected header idempotency key, got %q", parsed.GetIdempotencyKey())
	}
	if parsed.GetUserId() != "user-1" {
		t.Fatalf("expected trimmed user id, got %q", parsed.GetUserId())
	}
	if parsed.GetSourceCurrency() != "USD" || parsed.GetDestinationCurrency() != "EUR" {
		t.Fatalf("expected upper-cased currencies, got %q/%q", parsed.GetSourceCurrency(), parsed.GetDestinationCurrency())
	}
	if parsed.GetPaymentMethod() != "bank_transfer" {
		t.Fatalf("expected lower-cased method, got %q", parsed.GetPaymentMethod())
	}
	if !parsed.GetSourceAmount().Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected amount 100, got %s", parsed.GetSourceAmount())
	}
	if parsed.GetRecipient()["iban"] == "" {
		t.Fatal("expected recipient to be bound")
	}
	if err := parsed.Validate(); err != nil {
		t.Fatalf("expected valid request, got %v", err)
	}
}

func TestNewCreatePaymentRequestFromContextAcceptsStringAmount(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest("POST", "/payments", bytes.NewBufferString(`{"user_id":"u","source_amount":"12.50","source_currency":"USD","destination_currency":"EUR"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	ctx := e.NewContext(req, httptest.NewRecorder())

	parsed, err := NewCreatePaymentRequestFromContext(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if parsed.GetSourceAmount().String() != "12.5" {
		t.Fatalf("expected 12.5, got %s", parsed.GetSourceAmount())
	}
	if err := parsed.Validate(); err == nil {
		t.Fatal("expected missing idempotency key error")
	}
}

func TestCreatePaymentValidate(t *testing.T) {
	valid := func() *CreatePaymentRequest {
		return &CreatePaymentRequest{
			IdempotencyKey:      "key-1",
			UserId:              "user-1",
			SourceAmount:        decimal.NewFromInt(100),
			SourceCurrency:      "USD",
			DestinationCurrency: "EUR",
		}
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("expected valid request, got %v", err)
	}

	cases := map[string]func(r *CreatePaymentRequest){
		"missing user":       func(r *CreatePaymentRequest) { r.UserId = "" },
		"zero amount":        func(r *CreatePaymentRequest) { r.SourceAmount = decimal.Zero },
		"negative amount":    func(r *CreatePaymentRequest) { r.SourceAmount = decimal.NewFromInt(-5) },
		"sub-cent amount":    func(r *CreatePaymentRequest) { r.SourceAmount = decimal.RequireFromString("1.005") },
		"bad source":         func(r *CreatePaymentRequest) { r.SourceCurrency = "US" },
		"bad destination":    func(r *CreatePaymentRequest) { r.DestinationCurrency = "eu1" },
		"relative webhook":   func(r *CreatePaymentRequest) { r.WebhookUrl = "/hooks" },
		"non-http webhook":   func(r *CreatePaymentRequest) { r.WebhookUrl = "ftp://example.com/hooks" },
		"missing idempotent": func(r *CreatePaymentRequest) { r.IdempotencyKey = "" },
	}
	for name, mutate := range cases {
		req := valid()
		mutate(req)
		if err := req.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}

	req := valid()
	req.WebhookUrl = "https://merchant.example.com/hooks"
	if err := req.Validate(); err != nil {
		t.Fatalf("expected valid webhook url, got %v", err)
	}
}

func TestNewListPaymentsRequestFromContextAndValidate(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest("GET", "/payments?user_id=user-1&page=2&limit=50", nil)
	ctx := e.NewContext(req, httptest.NewRecorder())

	parsed, err := NewListPaymentsRequestFromContext(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if parsed.GetPage() != 2 || parsed.GetLimit() != 50 {
		t.Fatalf("unexpected paging: page=%d limit=%d", parsed.GetPage(), parsed.GetLimit())
	}
	if err := parsed.Validate(); err != nil {
		t.Fatalf("expected valid request, got %v", err)
	}

	parsed.Limit = 500
	if err := parsed.Validate(); err == nil {
		t.Fatal("expected limit validation error")
	}

	defaults := &ListPaymentsRequest{UserId: "user-1"}
	if err := defaults.Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
	if defaults.GetPage() != 1 || defaults.GetLimit() != 20 {
		t.Fatalf("unexpected defaults: page=%d limit=%d", defaults.GetPage(), defaults.GetLimit())
	}

	bad := httptest.NewRequest("GET", "/payments?user_id=u&page=abc", nil)
	if _, err := NewListPaymentsRequestFromContext(e.NewContext(bad, httptest.NewRecorder())); err == nil {
		t.Fatal("expected page parse error")
	}
}

func TestNewCancelPaymentRequestFromContextAllowsEmptyBody(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest("POST", "/payments/pay-1/cancel", nil)
	ctx := e.NewContext(req, httptest.NewRecorder())
	ctx.SetParamNames("id")
	ctx.SetParamValues("pay-1")

	parsed, err := NewCancelPaymentRequestFromContext(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if parsed.GetId() != "pay-1" || parsed.GetReason() != "" {
		t.Fatalf("unexpected request: %+v", parsed)
	}
	if err := parsed.Validate(); err != nil {
		t.Fatalf("expected valid request, got %v", err)
	}
}

func TestNewHandleProviderCallbackRequestFromContext(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest("POST", "/webhooks/providers/SEPA-COLLECT/tx-1", bytes.NewBufferString(`{"status":"completed"}`))
	req.Header.Set(HeaderProviderSignature, "sha256=abc")
	ctx := e.NewContext(req, httptest.NewRecorder())
	ctx.SetParamNames("provider", "transaction_id")
	ctx.SetParamValues("SEPA-COLLECT", "tx-1")

	parsed, err := NewHandleProviderCallbackRequestFromContext(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if parsed.GetProvider() != "sepa-collect" {
		t.Fatalf("expected lower-cased provider, got %q", parsed.GetProvider())
	}
	if parsed.GetPayload() != `{"status":"completed"}` {
		t.Fatalf("expected raw payload, got %q", parsed.GetPayload())
	}
	if err := parsed.Validate(); err != nil {
		t.Fatalf("expected valid request, got %v", err)
	}

	parsed.Signature = ""
	if err := parsed.Validate(); err == nil {
		t.Fatal("expected signature validation error")
	}
}

func TestGetRateRequestValidate(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest("GET", "/rates?from=usd&to=eur", nil)
	parsed, _ := NewGetRateRequestFromContext(e.NewContext(req, httptest.NewRecorder()))
	if parsed.GetFrom() != "USD" || parsed.GetTo() != "EUR" {
		t.Fatalf("unexpected pair %s/%s", parsed.GetFrom(), parsed.GetTo())
	}
	if err := parsed.Validate(); err != nil {
		t.Fatalf("expected valid request, got %v", err)
	}

	if err := (&GetRateRequest{From: "USD"}).Validate(); err == nil {
		t.Fatal("expected missing to currency error")
	}
}
