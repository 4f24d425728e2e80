package cmd

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vibast-solutions/ms-go-remittance/app/controller"
	paymentgrpc "github.com/vibast-solutions/ms-go-remittance/app/grpc"
	"github.com/vibast-solutions/ms-go-remittance/app/types"
	"github.com/vibast-solutions/ms-go-remittance/config"
	"google.golang.org/grpc"
)

const headerAPIKey = "X-API-Key"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and gRPC servers",
	Long:  "Start both HTTP (Echo) and gRPC servers for the remittance service and resume interrupted payments.",
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) {
	rt := mustCreateRuntime()
	defer rt.Close()
	cfg := rt.cfg

	paymentController := controller.NewPaymentController(rt.paymentService)
	grpcPaymentServer := paymentgrpc.NewServer(rt.paymentService)

	e := setupHTTPServer(paymentController, cfg.App.APIKey)
	grpcSrv, lis := setupGRPCServer(cfg, grpcPaymentServer)

	rt.resumeWork(context.Background())

	go func() {
		httpAddr := net.JoinHostPort(cfg.HTTP.Host, cfg.HTTP.Port)
		logrus.WithField("addr", httpAddr).Info("Starting HTTP server")
		if err := e.Start(httpAddr); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("HTTP server error")
		}
	}()

	go func() {
		logrus.WithField("addr", lis.Addr().String()).Info("Starting gRPC server")
		if err := grpcSrv.Serve(lis); err != nil {
			logrus.WithError(err).Fatal("gRPC server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("HTTP shutdown error")
	}
	grpcSrv.GracefulStop()

	logrus.Info("Server stopped")
}

func setupHTTPServer(paymentController *controller.PaymentController, apiKey string) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogRemoteIP:  true,
		LogLatency:   true,
		LogUserAgent: true,
		LogError:     true,
		HandleError:  true,
		LogRequestID: true,
		LogValuesFunc: func(_ echo.Context, v echomiddleware.RequestLoggerValues) error {
			fields := logrus.Fields{
				"remote_ip":  v.RemoteIP,
				"host":       v.Host,
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency":    v.Latency.String(),
				"latency_ns": v.Latency.Nanoseconds(),
				"user_agent": v.UserAgent,
				"request_id": v.RequestID,
			}
			entry := logrus.WithFields(fields)
			if v.Error != nil {
				entry = entry.WithError(v.Error)
			}
			entry.Info("http_request")
			return nil
		},
	}))
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	e.Use(ensureRequestID())

	e.GET("/health", paymentController.Health)

	// Providers authenticate callbacks with their own signature.
	webhooks := e.Group("/webhooks/providers")
	webhooks.POST("/:provider/:transaction_id", paymentController.HandleProviderCallback)

	payments := e.Group("/payments", requireAPIKey(apiKey))
	payments.POST("", paymentController.CreatePayment)
	payments.GET("", paymentController.ListPayments)
	payments.POST("/estimate-fees", paymentController.EstimateFees)
	payments.GET("/idempotency/:key", paymentController.GetPaymentByIdempotencyKey)
	payments.GET("/:id", paymentController.GetPayment)
	payments.POST("/:id/cancel", paymentController.CancelPayment)
	payments.GET("/:id/transactions", paymentController.ListPaymentTransactions)
	payments.GET("/:id/webhooks", paymentController.ListPaymentWebhooks)
	payments.GET("/:id/events", paymentController.ListPaymentEvents)

	e.GET("/rates", paymentController.GetRate, requireAPIKey(apiKey))

	return e
}

// ensureRequestID echoes the caller's X-Request-ID or generates one.
func ensureRequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			requestID := strings.TrimSpace(ctx.Request().Header.Get(echo.HeaderXRequestID))
			if requestID == "" {
				requestID = uuid.NewString()
				ctx.Request().Header.Set(echo.HeaderXRequestID, requestID)
			}
			ctx.Response().Header().Set(echo.HeaderXRequestID, requestID)
			return next(ctx)
		}
	}
}

func requireAPIKey(apiKey string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if apiKey == "" {
				return next(ctx)
			}
			if strings.TrimSpace(ctx.Request().Header.Get(headerAPIKey)) != apiKey {
				return ctx.JSON(http.StatusUnauthorized, &types.ErrorResponse{Error: "invalid api key"})
			}
			return next(ctx)
		}
	}
}

func setupGRPCServer(cfg *config.Config, paymentServer *paymentgrpc.Server) (*grpc.Server, net.Listener) {
	grpcAddr := net.JoinHostPort(cfg.GRPC.Host, cfg.GRPC.Port)
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to listen on gRPC port")
	}

	grpcSrv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			paymentgrpc.RecoveryInterceptor(),
			paymentgrpc.RequestIDInterceptor(),
			paymentgrpc.LoggingInterceptor(),
			paymentgrpc.APIKeyInterceptor(cfg.App.APIKey),
		),
	)
	paymentgrpc.RegisterPaymentsServiceServer(grpcSrv, paymentServer)

	return grpcSrv, lis
}
