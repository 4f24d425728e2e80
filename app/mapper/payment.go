package mapper

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/vibast-solutions/ms-go-remittance/app/entity"
	"github.com/vibast-solutions/ms-go-remittance/app/types"
)

func PaymentToResponse(item *entity.Payment) *types.Payment {
	if item == nil {
		return nil
	}

	return &types.Payment{
		Id:                   item.ID,
		UserId:               item.UserID,
		Status:               string(item.Status),
		SourceAmount:         money(item.SourceAmount),
		SourceCurrency:       item.SourceCurrency,
		DestinationAmount:    money(item.DestinationAmount),
		DestinationCurrency:  item.DestinationCurrency,
		ExchangeRate:         item.ExchangeRate.String(),
		FeeAmount:            money(item.FeeAmount),
		FeeCurrency:          item.FeeCurrency,
		TotalAmount:          money(item.TotalAmount),
		PaymentMethod:        item.PaymentMethod,
		Recipient:            cloneMap(item.Recipient),
		OnrampTransactionId:  derefString(item.OnrampTransactionID),
		OfframpTransactionId: derefString(item.OfframpTransactionID),
		WebhookUrl:           derefString(item.WebhookURL),
		FailureCode:          derefString(item.FailureCode),
		ErrorMessage:         derefString(item.ErrorMessage),
		EstimatedCompletion:  formatTimePtr(item.EstimatedCompletion),
		CreatedAt:            formatTime(item.CreatedAt),
		UpdatedAt:            formatTime(item.UpdatedAt),
		CompletedAt:          formatTimePtr(item.CompletedAt),
	}
}

func PaymentsToResponse(items []*entity.Payment) []*types.Payment {
	result := make([]*types.Payment, 0, len(items))
	for _, item := range items {
		result = append(result, PaymentToResponse(item))
	}
	return result
}

func QuoteToResponse(item *entity.Quote) *types.FeeEstimateResponse {
	if item == nil {
		return nil
	}

	schedule := types.FeeSchedule{
		BaseFee:       money(item.BaseFee),
		PercentageFee: item.PercentageFee.String(),
		MinFee:        money(item.MinFee),
	}
	if item.MaxFee.IsPositive() {
		schedule.MaxFee = money(item.MaxFee)
	}

	return &types.FeeEstimateResponse{
		SourceAmount:        money(item.SourceAmount),
		SourceCurrency:      item.SourceCurrency,
		DestinationAmount:   money(item.DestinationAmount),
		DestinationCurrency: item.DestinationCurrency,
		ExchangeRate:        item.ExchangeRate.String(),
		FeeAmount:           money(item.FeeAmount),
		FeeCurrency:         item.FeeCurrency,
		FeeInSourceCurrency: money(item.FeeInSourceCurrency),
		TotalAmount:         money(item.TotalAmount),
		FeeSchedule:         schedule,
	}
}

func RateToResponse(item *entity.ExchangeRate) *types.RateResponse {
	if item == nil {
		return nil
	}
	return &types.RateResponse{
		From:      item.FromCurrency,
		To:        item.ToCurrency,
		Rate:      item.Rate.String(),
		Provider:  item.Provider,
		FetchedAt: formatTime(item.FetchedAt),
		ExpiresAt: formatTime(item.ExpiresAt),
	}
}

func TransactionsToResponse(items []*entity.SettlementTransaction) []*types.SettlementTransaction {
	result := make([]*types.SettlementTransaction, 0, len(items))
	for _, item := range items {
		result = append(result, &types.SettlementTransaction{
			Id:                item.ID,
			PaymentId:         derefString(item.PaymentID),
			Direction:         string(item.Direction),
			Amount:            money(item.Amount),
			Currency:          item.Currency,
			Status:            string(item.Status),
			ProviderId:        item.ProviderID,
			ExternalReference: item.ExternalReference,
			ProviderFee:       money(item.ProviderFee),
			Metadata:          cloneMap(item.Metadata),
			FailureReason:     derefString(item.FailureReason),
			CreatedAt:         formatTime(item.CreatedAt),
			UpdatedAt:         formatTime(item.UpdatedAt),
			CompletedAt:       formatTimePtr(item.CompletedAt),
		})
	}
	return result
}

func WebhooksToResponse(items []*entity.WebhookDelivery) []*types.WebhookDelivery {
	result := make([]*types.WebhookDelivery, 0, len(items))
	for _, item := range items {
		out := &types.WebhookDelivery{
			Id:            item.ID,
			PaymentId:     item.PaymentID,
			EventType:     item.EventType,
			Url:           item.URL,
			Status:        string(item.Status),
			RetryCount:    item.RetryCount,
			LastError:     derefString(item.LastError),
			NextAttemptAt: formatTimePtr(item.NextAttemptAt),
			SentAt:        formatTimePtr(item.SentAt),
			CreatedAt:     formatTime(item.CreatedAt),
		}
		if item.ResponseStatus != nil {
			out.ResponseStatus = *item.ResponseStatus
		}
		result = append(result, out)
	}
	return result
}

func EventsToResponse(items []*entity.PaymentEvent) []*types.PaymentEvent {
	result := make([]*types.PaymentEvent, 0, len(items))
	for _, item := range items {
		out := &types.PaymentEvent{
			Id:        item.ID,
			EventType: item.EventType,
			NewStatus: string(item.NewStatus),
			Payload:   derefString(item.PayloadJSON),
			CreatedAt: formatTime(item.CreatedAt),
		}
		if item.OldStatus != nil {
			out.OldStatus = string(*item.OldStatus)
		}
		result = append(result, out)
	}
	return result
}

func money(v decimal.Decimal) string {
	return v.StringFixed(2)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func cloneMap(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
