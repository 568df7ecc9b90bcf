package service

import (
	"context"
	"fmt"
	"time"

	"storefront-orders/internal/backend"
	"storefront-orders/internal/models"
	"storefront-orders/internal/util"

	"go.uber.org/zap"
)

// paymentGateway opens payments on the commerce backend
type paymentGateway interface {
	InitializePayment(ctx context.Context, req backend.PaymentRequest) (*backend.PaymentSession, error)
}

// PaymentService opens gateway payments for new orders. Capture happens
// outside this service and comes back as PAYMENT_CONFIRMED or PAYMENT_FAILED.
type PaymentService struct {
	gateway paymentGateway
	logger  *zap.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(gateway paymentGateway) *PaymentService {
	return &PaymentService{
		gateway: gateway,
		logger:  util.GetLogger(),
	}
}

// Initialize opens a payment for the order's total
func (ps *PaymentService) Initialize(ctx context.Context, order *models.Order, details map[string]interface{}) (*backend.PaymentSession, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.Initialize")
	defer span.End()

	start := time.Now()
	defer func() {
		util.PaymentInitLatency.Observe(time.Since(start).Seconds())
	}()

	ps.logger.Info("Initializing payment",
		zap.String("order_id", order.ID),
		zap.String("method", order.PaymentMethod),
		zap.Int64("amount", order.Total))

	session, err := ps.gateway.InitializePayment(ctx, backend.PaymentRequest{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Amount:      order.Total,
		Currency:    order.Currency,
		Method:      order.PaymentMethod,
		Email:       order.Email,
		Details:     details,
	})
	if err != nil {
		util.RecordError(span, err)
		util.PaymentInitializationsTotal.WithLabelValues(order.PaymentMethod, "error").Inc()
		return nil, fmt.Errorf("failed to initialize payment: %w", err)
	}

	util.PaymentInitializationsTotal.WithLabelValues(order.PaymentMethod, "ok").Inc()
	ps.logger.Info("Payment initialized",
		zap.String("order_id", order.ID),
		zap.String("payment_id", session.PaymentID))
	return session, nil
}
