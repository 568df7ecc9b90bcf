package service

import (
	"context"
	"errors"
	"fmt"

	"storefront-orders/internal/apperror"
	"storefront-orders/internal/models"
	"storefront-orders/internal/policy"
	"storefront-orders/internal/store"
	"storefront-orders/internal/util"
	"storefront-orders/internal/validation"

	"go.uber.org/zap"
)

// RefundSummary breaks the refund down into its parts
type RefundSummary struct {
	Merchandise     int64  `json:"merchandise"`
	Discount        int64  `json:"discount"`
	Tax             int64  `json:"tax"`
	CancellationFee int64  `json:"cancellationFee"`
	RestockingFee   int64  `json:"restockingFee"`
	TotalRefund     int64  `json:"totalRefund"`
	Currency        string `json:"currency"`
}

// CancelOrderResult is returned by CancelOrder
type CancelOrderResult struct {
	Order          *models.Order            `json:"order"`
	CancelType     string                   `json:"cancelType"`
	CancelledItems models.ItemScope         `json:"cancelledItems,omitempty"`
	Refund         *models.RefundDescriptor `json:"refund"`
	RefundSummary  RefundSummary            `json:"refundSummary"`
}

// CancellationPolicy evaluates the policy for an order at this instant
func (s *OrderService) CancellationPolicy(ctx context.Context, orderID string, caller Caller) (*models.CancellationPolicy, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CancellationPolicy")
	defer span.End()

	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := authorize(order, caller); err != nil {
		return nil, err
	}

	p := policy.Evaluate(order, s.now(), s.opts.Rules)
	return &p, nil
}

// CancelOrder applies a full or partial cancellation. The policy is evaluated
// again at commit time and the write only succeeds against the version that
// was read, so of two concurrent cancellations exactly one wins.
func (s *OrderService) CancelOrder(ctx context.Context, req *validation.CancelOrderRequest, caller Caller) (*CancelOrderResult, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CancelOrder")
	defer span.End()

	order, err := s.loadOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if err := authorize(order, caller); err != nil {
		return nil, err
	}

	lines := make([]models.ItemQuantity, 0, len(req.Items))
	for _, item := range req.Items {
		lines = append(lines, models.ItemQuantity{ItemID: item.ItemID, Quantity: item.Quantity})
	}

	outcome, err := policy.Execute(order, policy.Request{
		CancelType:    req.CancelType,
		Items:         lines,
		Reason:        req.Reason,
		Description:   req.Description,
		RequestRefund: req.WantsRefund(),
		RefundMethod:  req.RefundMethod,
	}, s.now(), s.opts.Rules)
	if err != nil {
		if appErr := apperror.As(err); appErr.Kind != apperror.KindValidation {
			util.CancellationsDeniedTotal.WithLabelValues(string(appErr.Kind)).Inc()
		}
		return nil, err
	}

	err = s.repo.ApplyTransition(ctx, store.Transition{
		Order:           outcome.Order,
		ExpectedVersion: order.Version,
		Entry:           outcome.Entry,
	})
	if errors.Is(err, store.ErrConflict) {
		util.CancellationsDeniedTotal.WithLabelValues("conflict").Inc()
		s.logger.Info("Concurrent modification while cancelling",
			zap.String("order_id", order.ID))
		return nil, apperror.New(apperror.KindCancellationDenied, "the order changed while it was being cancelled")
	}
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("failed to cancel order: %w", err))
	}

	s.releaseCancelled(ctx, order, outcome.Order)

	util.OrdersCancelledTotal.WithLabelValues(outcome.CancelType, outcome.Policy.ReasonCode).Inc()
	util.RefundAmountTotal.Add(float64(outcome.TotalRefund))
	util.LoggerFrom(ctx).Info("Order cancelled",
		zap.String("order_id", order.ID),
		zap.String("cancel_type", outcome.CancelType),
		zap.String("policy", outcome.Policy.ReasonCode),
		zap.Int64("refund", outcome.TotalRefund))

	s.publishCancelled(ctx, outcome, req)

	return &CancelOrderResult{
		Order:          outcome.Order,
		CancelType:     outcome.CancelType,
		CancelledItems: outcome.Items,
		Refund:         outcome.Refund,
		RefundSummary: RefundSummary{
			Merchandise:     outcome.MerchandiseBase,
			Discount:        outcome.DiscountShare,
			Tax:             outcome.TaxRefunded,
			CancellationFee: outcome.CancellationFee,
			RestockingFee:   outcome.RestockingFee,
			TotalRefund:     outcome.TotalRefund,
			Currency:        order.Currency,
		},
	}, nil
}

// releaseCancelled returns the units cancelled between before and after to stock
func (s *OrderService) releaseCancelled(ctx context.Context, before, after *models.Order) {
	for _, item := range after.Items {
		prev, ok := before.ItemByID(item.ID)
		if !ok {
			continue
		}
		if released := item.CancelledQuantity - prev.CancelledQuantity; released > 0 {
			if err := s.inventory.Release(ctx, item.ProductID, released); err != nil {
				s.logger.Error("Failed to release cancelled stock",
					zap.String("order_id", after.ID),
					zap.Int64("product_id", item.ProductID),
					zap.Error(err))
			}
		}
	}
}

func (s *OrderService) publishCancelled(ctx context.Context, outcome *policy.Outcome, req *validation.CancelOrderRequest) {
	event := &models.OrderCancelledEvent{
		BaseEvent:   newBaseEvent(models.EventTypeOrderCancelled, s.now()),
		OrderID:     outcome.Order.ID,
		OrderNumber: outcome.Order.OrderNumber,
		CancelType:  outcome.CancelType,
		Reason:      req.Reason,
		Description: req.Description,
		Items:       outcome.Items,
		Refund:      outcome.Refund,
	}
	if err := s.publisher.PublishOrderCancelled(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCancelled event", zap.Error(err))
	}
}
