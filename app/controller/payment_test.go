package controller

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/vibast-solutions/ms-go-remittance/app/entity"
	"github.com/vibast-solutions/ms-go-remittance/app/fees"
	"github.com/vibast-solutions/ms-go-remittance/app/provider"
	"github.com/vibast-solutions/ms-go-remittance/app/rates"
	"github.com/vibast-solutions/ms-go-remittance/app/repository"
	"github.com/vibast-solutions/ms-go-remittance/app/service"
	"github.com/vibast-solutions/ms-go-remittance/app/settlement"
	"github.com/vibast-solutions/ms-go-remittance/app/signing"
	"github.com/vibast-solutions/ms-go-remittance/app/types"
	"github.com/vibast-solutions/ms-go-remittance/config"
)

const testProviderSecret = "provsec"

type controllerFixture struct {
	ctrl    *PaymentController
	service *service.PaymentService
	repo    *repository.PaymentRepository
}

func newControllerForTest(t *testing.T) *controllerFixture {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	if err := repository.Migrate(context.Background(), db, "sqlite"); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	registry := provider.NewRegistry(
		provider.Definition{
			ID:              "collect",
			Direction:       entity.DirectionOnramp,
			Currencies:      []string{"USD"},
			PaymentMethods:  []string{"bank_transfer"},
			MinAmount:       decimal.NewFromInt(1),
			FeeType:         provider.FeeTypeFixed,
			SuccessRate:     1,
			ProcessingTime:  provider.ProcessingMinutes,
			ResolutionDelay: time.Hour,
		},
		provider.Definition{
			ID:              "payout",
			Direction:       entity.DirectionOfframp,
			Currencies:      []string{"EUR"},
			MinAmount:       decimal.NewFromInt(1),
			FeeType:         provider.FeeTypeFixed,
			SuccessRate:     1,
			ProcessingTime:  provider.ProcessingHours,
			ResolutionDelay: time.Hour,
		},
	)

	payments := repository.NewPaymentRepository(db)
	transactions := repository.NewSettlementTransactionRepository(db)
	adapter := settlement.NewAdapter(transactions, registry, settlement.Options{})

	paymentService := service.NewPaymentService(service.Dependencies{
		Payments:     payments,
		Transactions: transactions,
		Webhooks:     repository.NewWebhookDeliveryRepository(db),
		Events:       repository.NewPaymentEventRepository(db),
		Callbacks:    repository.NewProviderCallbackRepository(db),
		Rates:        rates.NewOracle(rates.NewMemoryCache(), []config.BaseRate{{From: "USD", To: "EUR", Rate: 0.85}}, rates.Options{Anchor: "USD"}),
		Fees: fees.NewCalculator(map[string]fees.Schedule{
			"EUR": {
				BaseFee:       decimal.RequireFromString("2.50"),
				PercentageFee: decimal.RequireFromString("0.0299"),
				MinFee:        decimal.RequireFromString("1.00"),
				MaxFee:        decimal.RequireFromString("50.00"),
			},
			"CHF": {BaseFee: decimal.NewFromInt(1)},
		}),
		Settlement: adapter,
	}, config.OrchestrationConfig{
		PollInterval:      5 * time.Millisecond,
		StepRetryInterval: time.Millisecond,
		ProviderSecret:    testProviderSecret,
	})

	t.Cleanup(func() {
		paymentService.Close()
		adapter.Close()
	})

	return &controllerFixture{
		ctrl:    NewPaymentController(paymentService),
		service: paymentService,
		repo:    payments,
	}
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

const createBody = `{"user_id":"user-1","source_amount":"100","source_currency":"usd","destination_currency":"EUR","recipient":{"iban":"DE89"}}`

func createPayment(t *testing.T, f *controllerFixture, key string) *types.Payment {
	t.Helper()
	e := echo.New()
	req := jsonRequest(http.MethodPost, "/payments", createBody)
	req.Header.Set(types.HeaderIdempotencyKey, key)
	rec := httptest.NewRecorder()

	if err := f.ctrl.CreatePayment(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated && rec.Code != http.StatusOK {
		t.Fatalf("expected 201 or 200, got %d body=%s", rec.Code, rec.Body.String())
	}

	var payload types.PaymentEnvelopeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	return payload.Payment
}

func TestCreatePaymentBadBody(t *testing.T) {
	f := newControllerForTest(t)
	e := echo.New()
	req := jsonRequest(http.MethodPost, "/payments", "{bad")
	req.Header.Set(types.HeaderIdempotencyKey, "k-1")
	rec := httptest.NewRecorder()

	if err := f.ctrl.CreatePayment(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCreatePaymentRequiresIdempotencyKey(t *testing.T) {
	f := newControllerForTest(t)
	e := echo.New()
	rec := httptest.NewRecorder()

	_ = f.ctrl.CreatePayment(e.NewContext(jsonRequest(http.MethodPost, "/payments", createBody), rec))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCreatePaymentSuccessAndReplay(t *testing.T) {
	f := newControllerForTest(t)
	e := echo.New()

	first := createPayment(t, f, "key-1")
	if first.Status != string(entity.PaymentStatusPending) {
		t.Fatalf("expected pending, got %s", first.Status)
	}
	if first.DestinationAmount != "85.00" || first.FeeAmount != "5.04" || first.TotalAmount != "105.93" {
		t.Fatalf("unexpected quote: %+v", first)
	}

	req := jsonRequest(http.MethodPost, "/payments", `{"user_id":"user-1","source_amount":"999","source_currency":"USD","destination_currency":"EUR"}`)
	req.Header.Set(types.HeaderIdempotencyKey, "key-1")
	rec := httptest.NewRecorder()
	_ = f.ctrl.CreatePayment(e.NewContext(req, rec))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on replay, got %d body=%s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get(types.HeaderIdempotentReplay) != "true" {
		t.Fatalf("expected replay header")
	}

	var payload types.PaymentEnvelopeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if payload.Payment.Id != first.Id || payload.Payment.SourceAmount != "100.00" {
		t.Fatalf("replay returned a different payment: %+v", payload.Payment)
	}
}

func TestCreatePaymentUnsupportedCurrency(t *testing.T) {
	f := newControllerForTest(t)
	e := echo.New()
	req := jsonRequest(http.MethodPost, "/payments", `{"user_id":"user-1","source_amount":"10","source_currency":"USD","destination_currency":"JPY"}`)
	req.Header.Set(types.HeaderIdempotencyKey, "key-jpy")
	rec := httptest.NewRecorder()

	_ = f.ctrl.CreatePayment(e.NewContext(req, rec))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetPaymentNotFound(t *testing.T) {
	f := newControllerForTest(t)
	e := echo.New()
	rec := httptest.NewRecorder()
	ctx := e.NewContext(httptest.NewRequest(http.MethodGet, "/payments/missing", nil), rec)
	ctx.SetParamNames("id")
	ctx.SetParamValues("missing")

	_ = f.ctrl.GetPayment(ctx)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetPaymentByIdempotencyKey(t *testing.T) {
	f := newControllerForTest(t)
	created := createPayment(t, f, "order/42")

	e := echo.New()
	rec := httptest.NewRecorder()
	ctx := e.NewContext(httptest.NewRequest(http.MethodGet, "/payments/idempotency/order%2F42", nil), rec)
	ctx.SetParamNames("key")
	ctx.SetParamValues("order%2F42")

	_ = f.ctrl.GetPaymentByIdempotencyKey(ctx)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}

	var payload types.PaymentEnvelopeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if payload.Payment.Id != created.Id {
		t.Fatalf("expected %s, got %s", created.Id, payload.Payment.Id)
	}
}

func TestListPaymentsPagination(t *testing.T) {
	f := newControllerForTest(t)
	createPayment(t, f, "list-1")
	createPayment(t, f, "list-2")

	e := echo.New()
	rec := httptest.NewRecorder()
	_ = f.ctrl.ListPayments(e.NewContext(httptest.NewRequest(http.MethodGet, "/payments?user_id=user-1&page=1&limit=1", nil), rec))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}

	var payload types.ListPaymentsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if len(payload.Payments) != 1 || !payload.HasMore || payload.Page != 1 || payload.Limit != 1 {
		t.Fatalf("unexpected page: %+v", payload)
	}
}

func TestListPaymentsRequiresUser(t *testing.T) {
	f := newControllerForTest(t)
	e := echo.New()
	rec := httptest.NewRecorder()

	_ = f.ctrl.ListPayments(e.NewContext(httptest.NewRequest(http.MethodGet, "/payments", nil), rec))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCancelPaymentNotFound(t *testing.T) {
	f := newControllerForTest(t)
	e := echo.New()
	rec := httptest.NewRecorder()
	ctx := e.NewContext(jsonRequest(http.MethodPost, "/payments/3/cancel", `{"reason":"duplicate"}`), rec)
	ctx.SetParamNames("id")
	ctx.SetParamValues("3")

	_ = f.ctrl.CancelPayment(ctx)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestCancelPaymentSuccess(t *testing.T) {
	f := newControllerForTest(t)
	created := createPayment(t, f, "cancel-1")

	e := echo.New()
	rec := httptest.NewRecorder()
	ctx := e.NewContext(httptest.NewRequest(http.MethodPost, "/payments/"+created.Id+"/cancel", nil), rec)
	ctx.SetParamNames("id")
	ctx.SetParamValues(created.Id)

	_ = f.ctrl.CancelPayment(ctx)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}

	var payload types.PaymentEnvelopeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if payload.Payment.Status != string(entity.PaymentStatusCancelled) {
		t.Fatalf("expected cancelled, got %s", payload.Payment.Status)
	}
}

func TestEstimateFees(t *testing.T) {
	f := newControllerForTest(t)
	e := echo.New()
	rec := httptest.NewRecorder()

	_ = f.ctrl.EstimateFees(e.NewContext(jsonRequest(http.MethodPost, "/payments/estimate-fees", `{"source_amount":"100","source_currency":"USD","destination_currency":"EUR"}`), rec))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}

	var payload types.FeeEstimateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if payload.FeeAmount != "5.04" || payload.FeeSchedule.BaseFee != "2.50" {
		t.Fatalf("unexpected estimate: %+v", payload)
	}
}

func TestEstimateFeesErrorStatuses(t *testing.T) {
	f := newControllerForTest(t)
	e := echo.New()

	// JPY has no fee schedule; CHF has one but no USD/CHF rate.
	cases := []struct {
		destination string
		want        int
	}{
		{"JPY", http.StatusBadRequest},
		{"CHF", http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		body := `{"source_amount":"100","source_currency":"USD","destination_currency":"` + tc.destination + `"}`
		_ = f.ctrl.EstimateFees(e.NewContext(jsonRequest(http.MethodPost, "/payments/estimate-fees", body), rec))
		if rec.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d body=%s", tc.destination, tc.want, rec.Code, rec.Body.String())
		}
	}
}

func TestGetRate(t *testing.T) {
	f := newControllerForTest(t)
	e := echo.New()

	rec := httptest.NewRecorder()
	_ = f.ctrl.GetRate(e.NewContext(httptest.NewRequest(http.MethodGet, "/rates?from=usd&to=eur", nil), rec))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	_ = f.ctrl.GetRate(e.NewContext(httptest.NewRequest(http.MethodGet, "/rates?from=usd&to=jpy", nil), rec))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleProviderCallbackRejected(t *testing.T) {
	f := newControllerForTest(t)
	e := echo.New()
	req := jsonRequest(http.MethodPost, "/webhooks/providers/collect/tx-1", `{"status":"completed"}`)
	req.Header.Set(types.HeaderProviderSignature, "sha256=00")
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("provider", "transaction_id")
	ctx.SetParamValues("collect", "tx-1")

	_ = f.ctrl.HandleProviderCallback(ctx)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleProviderCallbackApplied(t *testing.T) {
	f := newControllerForTest(t)
	created := createPayment(t, f, "callback-1")

	var txID string
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		payment, err := f.repo.FindByID(context.Background(), created.Id)
		if err != nil {
			t.Fatalf("find payment: %v", err)
		}
		if payment.OnrampTransactionID != nil {
			txID = *payment.OnrampTransactionID
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if txID == "" {
		t.Fatalf("onramp transaction never attached")
	}

	raw, err := json.Marshal(map[string]interface{}{
		"transaction_id": txID,
		"timestamp":      time.Now().Unix(),
		"status":         "completed",
	})
	if err != nil {
		t.Fatalf("marshal callback body: %v", err)
	}
	body := string(raw)
	signature := signing.Sign(raw, testProviderSecret)
	e := echo.New()
	req := jsonRequest(http.MethodPost, "/webhooks/providers/collect/"+txID, body)
	req.Header.Set(types.HeaderProviderSignature, signature)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("provider", "transaction_id")
	ctx.SetParamValues("collect", txID)

	_ = f.ctrl.HandleProviderCallback(ctx)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}

	var payload types.ProviderCallbackResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if !payload.Applied || payload.Status != string(entity.TransactionStatusCompleted) {
		t.Fatalf("unexpected callback response: %+v", payload)
	}

	// The signed body names txID, so it is refused on any other path.
	req = jsonRequest(http.MethodPost, "/webhooks/providers/collect/tx-other", body)
	req.Header.Set(types.HeaderProviderSignature, signature)
	rec = httptest.NewRecorder()
	ctx = e.NewContext(req, rec)
	ctx.SetParamNames("provider", "transaction_id")
	ctx.SetParamValues("collect", "tx-other")

	_ = f.ctrl.HandleProviderCallback(ctx)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a body signed for another transaction, got %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	f := newControllerForTest(t)
	e := echo.New()
	rec := httptest.NewRecorder()

	_ = f.ctrl.Health(e.NewContext(httptest.NewRequest(http.MethodGet, "/health", nil), rec))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
