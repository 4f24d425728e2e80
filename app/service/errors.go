package service

import "errors"

var (
	ErrInvalidRequest      = errors.New("invalid request")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrSameCurrency        = errors.New("source and destination currency must differ")
	ErrUnsupportedCurrency = errors.New("unsupported currency")
	ErrRateUnavailable     = errors.New("exchange rate unavailable")
	ErrNoProviderAvailable = errors.New("no provider available")
	ErrTransientProvider   = errors.New("transient provider error")
	ErrTimeoutExceeded     = errors.New("settlement timeout exceeded")
	ErrPaymentNotFound     = errors.New("payment not found")
	ErrInvalidStatus       = errors.New("invalid status")
	ErrTransactionNotFound = errors.New("settlement transaction not found")
	ErrInvalidProvider     = errors.New("invalid provider")
	ErrCallbackRejected    = errors.New("callback rejected")
)

// stepError carries the failure code a step wants recorded on the payment.
type stepError struct {
	code string
	err  error
}

func (e *stepError) Error() string { return e.err.Error() }

func (e *stepError) Unwrap() error { return e.err }

func failStep(code string, err error) error {
	return &stepError{code: code, err: err}
}

// errFlowStopped ends a flow without touching the payment: it was cancelled,
// finalised elsewhere, or the process is shutting down.
var errFlowStopped = errors.New("payment flow stopped")
