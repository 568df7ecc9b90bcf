package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storefront-orders/internal/apperror"
	"storefront-orders/internal/models"
	"storefront-orders/internal/store"
	"storefront-orders/internal/util"

	"go.uber.org/zap"
)

const maxTransitionAttempts = 3

// ExternalTransition is a status change reported by the payment gateway or the carrier
type ExternalTransition struct {
	EventID        string
	EventType      string
	OrderNumber    string
	Status         models.OrderStatus
	PaymentStatus  models.PaymentStatus
	Carrier        string
	TrackingNumber string
	Note           string
	OccurredAt     time.Time
}

// ApplyExternalTransition moves an order along the state machine on behalf of an
// external system. Each event is applied at most once. A status the order has
// already moved past is ignored; a transition the state machine forbids is a
// VALIDATION_ERROR.
func (s *OrderService) ApplyExternalTransition(ctx context.Context, t ExternalTransition) error {
	ctx, span := util.StartSpan(ctx, "OrderService.ApplyExternalTransition")
	defer span.End()

	processed, err := s.repo.IsEventProcessed(ctx, t.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		s.logger.Info("Event already processed", zap.String("event_id", t.EventID))
		util.ExternalTransitionsTotal.WithLabelValues(t.EventType, "duplicate").Inc()
		return nil
	}

	for attempt := 1; attempt <= maxTransitionAttempts; attempt++ {
		order, err := s.repo.GetOrderByNumber(ctx, t.OrderNumber)
		if errors.Is(err, store.ErrNotFound) {
			util.ExternalTransitionsTotal.WithLabelValues(t.EventType, "unknown_order").Inc()
			return apperror.New(apperror.KindOrderNotFound, "order "+t.OrderNumber+" not found")
		}
		if err != nil {
			return fmt.Errorf("failed to get order: %w", err)
		}

		next, changed, err := projectTransition(order, t, s.now())
		if err != nil {
			util.ExternalTransitionsTotal.WithLabelValues(t.EventType, "rejected").Inc()
			s.logger.Warn("Rejected external transition",
				zap.String("event_id", t.EventID),
				zap.String("order_number", t.OrderNumber),
				zap.String("from", string(order.Status)),
				zap.String("to", string(t.Status)),
				zap.Error(err))
			return err
		}
		if !changed {
			if err := s.repo.MarkEventProcessed(ctx, t.EventID, t.EventType); err != nil {
				s.logger.Error("Failed to mark event processed", zap.Error(err))
			}
			util.ExternalTransitionsTotal.WithLabelValues(t.EventType, "noop").Inc()
			return nil
		}

		err = s.repo.ApplyTransition(ctx, store.Transition{
			Order:           next,
			ExpectedVersion: order.Version,
			Entry:           next.StatusHistory[len(next.StatusHistory)-1],
			EventID:         t.EventID,
			EventType:       t.EventType,
		})
		switch {
		case errors.Is(err, store.ErrDuplicateEvent):
			util.ExternalTransitionsTotal.WithLabelValues(t.EventType, "duplicate").Inc()
			return nil
		case errors.Is(err, store.ErrConflict):
			s.logger.Info("Order changed concurrently, retrying transition",
				zap.String("order_number", t.OrderNumber),
				zap.Int("attempt", attempt))
			continue
		case err != nil:
			return fmt.Errorf("failed to apply transition: %w", err)
		}

		s.settleStock(ctx, order, next)
		util.ExternalTransitionsTotal.WithLabelValues(t.EventType, "applied").Inc()
		s.logger.Info("Applied external transition",
			zap.String("order_id", order.ID),
			zap.String("from", string(order.Status)),
			zap.String("to", string(next.Status)),
			zap.String("payment_status", string(next.PaymentStatus)))

		if next.Status != order.Status {
			s.publishStatusChanged(ctx, order.Status, next)
		}
		return nil
	}

	util.ExternalTransitionsTotal.WithLabelValues(t.EventType, "conflict").Inc()
	return fmt.Errorf("order %s: %w", t.OrderNumber, store.ErrConflict)
}

// projectTransition returns the order after t, and whether anything changed
func projectTransition(order *models.Order, t ExternalTransition, now time.Time) (*models.Order, bool, error) {
	next := order.Clone()

	if t.Status != "" && t.Status != order.Status {
		switch {
		case order.Status.CanTransitionTo(t.Status):
			next.Status = t.Status
		case isStale(order.Status, t.Status):
			// late event for a step the order already passed
		default:
			return nil, false, apperror.Validation(
				fmt.Sprintf("cannot move order from %s to %s", order.Status, t.Status))
		}
	}
	if t.PaymentStatus != "" {
		next.PaymentStatus = t.PaymentStatus
	}
	if t.Carrier != "" {
		carrier := t.Carrier
		next.Carrier = &carrier
	}
	if t.TrackingNumber != "" {
		number := t.TrackingNumber
		next.TrackingNumber = &number
	}

	if !models.ValidateStatusPair(next.Status, next.PaymentStatus) {
		return nil, false, apperror.Validation(
			fmt.Sprintf("order status %s is inconsistent with payment status %s", next.Status, next.PaymentStatus))
	}

	changed := next.Status != order.Status ||
		next.PaymentStatus != order.PaymentStatus ||
		!sameString(next.Carrier, order.Carrier) ||
		!sameString(next.TrackingNumber, order.TrackingNumber)
	if !changed {
		return next, false, nil
	}

	at := t.OccurredAt
	if at.IsZero() {
		at = now
	}
	note := t.Note
	if note == "" {
		note = fmt.Sprintf("%s via %s", next.Status, t.EventType)
	}
	next.UpdatedAt = now
	next.AppendHistory(models.StatusHistoryEntry{
		Status:        next.Status,
		PaymentStatus: next.PaymentStatus,
		Note:          note,
		CreatedAt:     at.UTC(),
	})
	return next, true, nil
}

// isStale reports whether target lies behind current on the canonical sequence
func isStale(current, target models.OrderStatus) bool {
	from, to := current.SequenceIndex(), target.SequenceIndex()
	return from >= 0 && to >= 0 && to < from
}

// settleStock commits reserved units on shipment and returns them on failure
func (s *OrderService) settleStock(ctx context.Context, before, after *models.Order) {
	shippedNow := after.Status.SequenceIndex() >= models.OrderStatusShipped.SequenceIndex() &&
		before.Status.SequenceIndex() < models.OrderStatusShipped.SequenceIndex() &&
		before.Status.SequenceIndex() >= 0
	failedNow := after.Status == models.OrderStatusFailed && before.Status != models.OrderStatusFailed

	if !shippedNow && !failedNow {
		return
	}
	for _, item := range after.Items {
		qty := item.RemainingQuantity()
		if qty <= 0 {
			continue
		}
		var err error
		if shippedNow {
			err = s.inventory.Commit(ctx, item.ProductID, qty)
		} else {
			err = s.inventory.Release(ctx, item.ProductID, qty)
		}
		if err != nil {
			s.logger.Error("Failed to settle stock",
				zap.String("order_id", after.ID),
				zap.Int64("product_id", item.ProductID),
				zap.Bool("shipped", shippedNow),
				zap.Error(err))
		}
	}
}

func (s *OrderService) publishStatusChanged(ctx context.Context, from models.OrderStatus, order *models.Order) {
	event := &models.OrderStatusChangedEvent{
		BaseEvent:     newBaseEvent(models.EventTypeOrderStatusChanged, s.now()),
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		From:          from,
		To:            order.Status,
		PaymentStatus: order.PaymentStatus,
	}
	if err := s.publisher.PublishOrderStatusChanged(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderStatusChanged event", zap.Error(err))
	}
}

func sameString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// EventHandlers adapts consumed Kafka events to external transitions
type EventHandlers struct {
	orders *OrderService
}

// NewEventHandlers creates handlers bound to the order service
func NewEventHandlers(orders *OrderService) *EventHandlers {
	return &EventHandlers{orders: orders}
}

// HandlePaymentConfirmed marks the payment captured and starts processing a pending order
func (h *EventHandlers) HandlePaymentConfirmed(ctx context.Context, event *models.PaymentConfirmedEvent) error {
	return h.orders.ApplyExternalTransition(ctx, ExternalTransition{
		EventID:       event.EventID,
		EventType:     event.EventType,
		OrderNumber:   event.OrderNumber,
		Status:        models.OrderStatusProcessing,
		PaymentStatus: models.PaymentStatusPaid,
		Note:          "payment captured (" + event.TransactionID + ")",
		OccurredAt:    event.Timestamp,
	})
}

// HandlePaymentFailed fails the order and returns its stock
func (h *EventHandlers) HandlePaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error {
	note := "payment failed"
	if event.Reason != "" {
		note += ": " + event.Reason
	}
	return h.orders.ApplyExternalTransition(ctx, ExternalTransition{
		EventID:       event.EventID,
		EventType:     event.EventType,
		OrderNumber:   event.OrderNumber,
		Status:        models.OrderStatusFailed,
		PaymentStatus: models.PaymentStatusFailed,
		Note:          note,
		OccurredAt:    event.Timestamp,
	})
}

// HandleCarrierStatus records carrier progress
func (h *EventHandlers) HandleCarrierStatus(ctx context.Context, event *models.CarrierStatusEvent) error {
	occurred := event.OccurredAt
	if occurred.IsZero() {
		occurred = event.Timestamp
	}
	return h.orders.ApplyExternalTransition(ctx, ExternalTransition{
		EventID:        event.EventID,
		EventType:      event.EventType,
		OrderNumber:    event.OrderNumber,
		Status:         event.Status,
		Carrier:        event.Carrier,
		TrackingNumber: event.TrackingNumber,
		OccurredAt:     occurred,
	})
}
