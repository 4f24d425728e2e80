package controller

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-remittance/app/factory"
	"github.com/vibast-solutions/ms-go-remittance/app/mapper"
	"github.com/vibast-solutions/ms-go-remittance/app/service"
	"github.com/vibast-solutions/ms-go-remittance/app/types"
)

type PaymentController struct {
	paymentService *service.PaymentService
	logger         logrus.FieldLogger
}

func NewPaymentController(paymentService *service.PaymentService) *PaymentController {
	return &PaymentController{
		paymentService: paymentService,
		logger:         factory.NewModuleLogger("payments-controller"),
	}
}

func (c *PaymentController) Health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, &types.HealthResponse{Status: "ok"})
}

// CreatePayment answers 201 for a new payment and 200 with the
// Idempotent-Replayed header when the key was already used.
func (c *PaymentController) CreatePayment(ctx echo.Context) error {
	req, err := types.NewCreatePaymentRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, replayed, err := c.paymentService.CreatePayment(ctx.Request().Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRequest), errors.Is(err, service.ErrInvalidAmount),
			errors.Is(err, service.ErrSameCurrency), errors.Is(err, service.ErrUnsupportedCurrency):
			return c.writeError(ctx, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrRateUnavailable):
			return c.writeError(ctx, http.StatusUnprocessableEntity, err.Error())
		default:
			factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Create payment failed")
			return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	status := http.StatusCreated
	if replayed {
		ctx.Response().Header().Set(types.HeaderIdempotentReplay, "true")
		status = http.StatusOK
	}
	return ctx.JSON(status, &types.PaymentEnvelopeResponse{Payment: mapper.PaymentToResponse(item)})
}

func (c *PaymentController) EstimateFees(ctx echo.Context) error {
	req, err := types.NewEstimateFeesRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	quote, err := c.paymentService.EstimateFees(ctx.Request().Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRequest), errors.Is(err, service.ErrInvalidAmount),
			errors.Is(err, service.ErrSameCurrency), errors.Is(err, service.ErrUnsupportedCurrency):
			return c.writeError(ctx, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrRateUnavailable):
			return c.writeError(ctx, http.StatusUnprocessableEntity, err.Error())
		default:
			factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Estimate fees failed")
			return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	return ctx.JSON(http.StatusOK, mapper.QuoteToResponse(quote))
}

func (c *PaymentController) GetRate(ctx echo.Context) error {
	req, err := types.NewGetRateRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	rate, err := c.paymentService.GetRate(ctx.Request().Context(), req.GetFrom(), req.GetTo())
	if err != nil {
		if errors.Is(err, service.ErrRateUnavailable) {
			return c.writeError(ctx, http.StatusNotFound, err.Error())
		}
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Get rate failed")
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.JSON(http.StatusOK, mapper.RateToResponse(rate))
}

func (c *PaymentController) GetPayment(ctx echo.Context) error {
	req, err := types.NewGetPaymentRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.paymentService.GetPayment(ctx.Request().Context(), req.GetId())
	if err != nil {
		return c.writeLookupError(ctx, err, "Get payment failed")
	}

	return ctx.JSON(http.StatusOK, &types.PaymentEnvelopeResponse{Payment: mapper.PaymentToResponse(item)})
}

func (c *PaymentController) GetPaymentByIdempotencyKey(ctx echo.Context) error {
	req, err := types.NewGetPaymentByIdempotencyKeyRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.paymentService.GetPaymentByIdempotencyKey(ctx.Request().Context(), req.GetIdempotencyKey())
	if err != nil {
		return c.writeLookupError(ctx, err, "Get payment by idempotency key failed")
	}

	return ctx.JSON(http.StatusOK, &types.PaymentEnvelopeResponse{Payment: mapper.PaymentToResponse(item)})
}

func (c *PaymentController) ListPayments(ctx echo.Context) error {
	req, err := types.NewListPaymentsRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	items, hasMore, err := c.paymentService.ListUserPayments(ctx.Request().Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidRequest) {
			return c.writeError(ctx, http.StatusBadRequest, err.Error())
		}
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("List payments failed")
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.JSON(http.StatusOK, &types.ListPaymentsResponse{
		Payments: mapper.PaymentsToResponse(items),
		Page:     req.GetPage(),
		Limit:    req.GetLimit(),
		HasMore:  hasMore,
	})
}

func (c *PaymentController) ListPaymentTransactions(ctx echo.Context) error {
	req, err := types.NewGetPaymentRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	items, err := c.paymentService.ListPaymentTransactions(ctx.Request().Context(), req.GetId())
	if err != nil {
		return c.writeLookupError(ctx, err, "List payment transactions failed")
	}

	return ctx.JSON(http.StatusOK, &types.ListTransactionsResponse{Transactions: mapper.TransactionsToResponse(items)})
}

func (c *PaymentController) ListPaymentWebhooks(ctx echo.Context) error {
	req, err := types.NewGetPaymentRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	items, err := c.paymentService.ListPaymentWebhooks(ctx.Request().Context(), req.GetId())
	if err != nil {
		return c.writeLookupError(ctx, err, "List payment webhooks failed")
	}

	return ctx.JSON(http.StatusOK, &types.ListWebhooksResponse{Webhooks: mapper.WebhooksToResponse(items)})
}

func (c *PaymentController) ListPaymentEvents(ctx echo.Context) error {
	req, err := types.NewGetPaymentRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	items, err := c.paymentService.ListPaymentEvents(ctx.Request().Context(), req.GetId())
	if err != nil {
		return c.writeLookupError(ctx, err, "List payment events failed")
	}

	return ctx.JSON(http.StatusOK, &types.ListEventsResponse{Events: mapper.EventsToResponse(items)})
}

func (c *PaymentController) CancelPayment(ctx echo.Context) error {
	req, err := types.NewCancelPaymentRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.paymentService.CancelPayment(ctx.Request().Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrPaymentNotFound):
			return c.writeError(ctx, http.StatusNotFound, "payment not found")
		case errors.Is(err, service.ErrInvalidStatus):
			return c.writeError(ctx, http.StatusBadRequest, err.Error())
		default:
			factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Cancel payment failed")
			return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	return ctx.JSON(http.StatusOK, &types.PaymentEnvelopeResponse{Payment: mapper.PaymentToResponse(item)})
}

func (c *PaymentController) HandleProviderCallback(ctx echo.Context) error {
	req, err := types.NewHandleProviderCallbackRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	tx, applied, err := c.paymentService.HandleProviderCallback(ctx.Request().Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrCallbackRejected), errors.Is(err, service.ErrInvalidProvider), errors.Is(err, service.ErrInvalidRequest):
			return c.writeError(ctx, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrTransactionNotFound):
			return c.writeError(ctx, http.StatusNotFound, "settlement transaction not found")
		default:
			factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Handle provider callback failed")
			return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	return ctx.JSON(http.StatusOK, &types.ProviderCallbackResponse{
		TransactionId: tx.ID,
		Status:        string(tx.Status),
		Applied:       applied,
	})
}

func (c *PaymentController) writeLookupError(ctx echo.Context, err error, message string) error {
	if errors.Is(err, service.ErrPaymentNotFound) {
		return c.writeError(ctx, http.StatusNotFound, "payment not found")
	}
	factory.LoggerWithContext(c.logger, ctx).WithError(err).Error(message)
	return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
}

func (c *PaymentController) writeError(ctx echo.Context, statusCode int, message string) error {
	return ctx.JSON(statusCode, &types.ErrorResponse{Error: message})
}
