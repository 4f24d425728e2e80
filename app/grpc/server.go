package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/vibast-solutions/ms-go-remittance/app/mapper"
	"github.com/vibast-solutions/ms-go-remittance/app/service"
	"github.com/vibast-solutions/ms-go-remittance/app/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	idempotencyKeyHeader   = "idempotency-key"
	idempotentReplayHeader = "idempotent-replayed"
)

type Server struct {
	paymentService *service.PaymentService
}

func NewServer(paymentService *service.PaymentService) *Server {
	return &Server{paymentService: paymentService}
}

func (s *Server) Health(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return encode(&types.HealthResponse{Status: "ok"})
}

// CreatePayment reads the idempotency key from the idempotency-key metadata
// entry, falling back to an idempotency_key field in the message.
func (s *Server) CreatePayment(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	l := loggerWithContext(ctx)

	var req types.CreatePaymentRequest
	if err := decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid request body")
	}
	req.IdempotencyKey = firstMetadataValue(ctx, idempotencyKeyHeader)
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = in.GetFields()["idempotency_key"].GetStringValue()
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		l.WithError(err).Debug("Create payment validation failed")
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	item, replayed, err := s.paymentService.CreatePayment(ctx, &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRequest), errors.Is(err, service.ErrInvalidAmount),
			errors.Is(err, service.ErrSameCurrency), errors.Is(err, service.ErrUnsupportedCurrency):
			return nil, status.Error(codes.InvalidArgument, err.Error())
		case errors.Is(err, service.ErrRateUnavailable):
			return nil, status.Error(codes.FailedPrecondition, err.Error())
		default:
			l.WithError(err).Error("Create payment failed")
			return nil, status.Error(codes.Internal, "internal server error")
		}
	}

	if replayed {
		_ = grpc.SetHeader(ctx, metadata.Pairs(idempotentReplayHeader, "true"))
	}
	return encode(&types.PaymentEnvelopeResponse{Payment: mapper.PaymentToResponse(item)})
}

func (s *Server) GetPayment(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req := &types.GetPaymentRequest{Id: strings.TrimSpace(in.GetFields()["id"].GetStringValue())}
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	item, err := s.paymentService.GetPayment(ctx, req.GetId())
	if err != nil {
		if errors.Is(err, service.ErrPaymentNotFound) {
			return nil, status.Error(codes.NotFound, "payment not found")
		}
		loggerWithContext(ctx).WithError(err).Error("Get payment failed")
		return nil, status.Error(codes.Internal, "internal server error")
	}

	return encode(&types.PaymentEnvelopeResponse{Payment: mapper.PaymentToResponse(item)})
}

func (s *Server) CancelPayment(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req := &types.CancelPaymentRequest{
		Id:     strings.TrimSpace(in.GetFields()["id"].GetStringValue()),
		Reason: strings.TrimSpace(in.GetFields()["reason"].GetStringValue()),
	}
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	item, err := s.paymentService.CancelPayment(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrPaymentNotFound):
			return nil, status.Error(codes.NotFound, "payment not found")
		case errors.Is(err, service.ErrInvalidStatus):
			return nil, status.Error(codes.FailedPrecondition, err.Error())
		default:
			loggerWithContext(ctx).WithError(err).Error("Cancel payment failed")
			return nil, status.Error(codes.Internal, "internal server error")
		}
	}

	return encode(&types.PaymentEnvelopeResponse{Payment: mapper.PaymentToResponse(item)})
}

func (s *Server) EstimateFees(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req types.EstimateFeesRequest
	if err := decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid request body")
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	quote, err := s.paymentService.EstimateFees(ctx, &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRequest), errors.Is(err, service.ErrInvalidAmount),
			errors.Is(err, service.ErrSameCurrency), errors.Is(err, service.ErrUnsupportedCurrency):
			return nil, status.Error(codes.InvalidArgument, err.Error())
		case errors.Is(err, service.ErrRateUnavailable):
			return nil, status.Error(codes.FailedPrecondition, err.Error())
		default:
			loggerWithContext(ctx).WithError(err).Error("Estimate fees failed")
			return nil, status.Error(codes.Internal, "internal server error")
		}
	}

	return encode(mapper.QuoteToResponse(quote))
}

func decode(in *structpb.Struct, out interface{}) error {
	raw, err := protojson.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func encode(v interface{}) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "internal server error")
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, status.Error(codes.Internal, "internal server error")
	}
	return out, nil
}
