package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"storefront-orders/internal/apperror"
	"storefront-orders/internal/models"
	"storefront-orders/internal/store"
	"storefront-orders/internal/tracking"
	"storefront-orders/internal/util"
	"storefront-orders/internal/validation"

	"go.uber.org/zap"
)

var errTrackingNotFound = apperror.New(apperror.KindOrderNotFound, "no order matches this order number and e-mail")

// TrackOrder resolves an order by its (orderNumber, email) pair. A wrong
// e-mail is indistinguishable from an unknown order number.
func (s *OrderService) TrackOrder(ctx context.Context, req *validation.TrackOrderRequest) (*models.TrackingData, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.TrackOrder")
	defer span.End()

	order, err := s.repo.GetOrderByNumber(ctx, req.OrderNumber)
	if errors.Is(err, store.ErrNotFound) {
		util.TrackingLookupsTotal.WithLabelValues("not_found").Inc()
		return nil, errTrackingNotFound
	}
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("failed to get order: %w", err))
	}
	if !strings.EqualFold(order.Email, req.Email) {
		util.TrackingLookupsTotal.WithLabelValues("not_found").Inc()
		return nil, errTrackingNotFound
	}

	if req.Phone != "" && !phoneMatches(order, req.Phone) {
		util.TrackingLookupsTotal.WithLabelValues("verification_failed").Inc()
		return nil, apperror.New(apperror.KindVerificationFailed, "the phone number does not match this order")
	}

	util.TrackingLookupsTotal.WithLabelValues("ok").Inc()
	return s.trackingData(ctx, order), nil
}

// TrackByCredential serves the order a guest tracking credential was issued for
func (s *OrderService) TrackByCredential(ctx context.Context, token string) (*models.TrackingData, error) {
	claims, err := s.VerifyCredential(token)
	if err != nil {
		util.TrackingLookupsTotal.WithLabelValues("bad_credential").Inc()
		return nil, err
	}
	return s.TrackOrder(ctx, &validation.TrackOrderRequest{
		OrderNumber: claims.OrderNumber,
		Email:       claims.Email,
	})
}

// VerifyCredential checks a guest tracking credential
func (s *OrderService) VerifyCredential(token string) (*tracking.Claims, error) {
	if s.signer == nil {
		return nil, apperror.New(apperror.KindUnauthorized, "tracking credentials are not enabled")
	}
	claims, err := s.signer.Verify(token, s.now())
	if errors.Is(err, tracking.ErrExpiredCredential) {
		return nil, apperror.Wrap(apperror.KindUnauthorized, "tracking credential has expired", err)
	}
	if err != nil {
		return nil, apperror.Wrap(apperror.KindUnauthorized, "tracking credential is not valid", err)
	}
	return claims, nil
}

func (s *OrderService) trackingData(ctx context.Context, order *models.Order) *models.TrackingData {
	var feed *models.ShipmentTracking
	if order.Status.SequenceIndex() >= models.OrderStatusShipped.SequenceIndex() || order.TrackingNumber != nil {
		var err error
		feed, err = s.commerce.GetShipmentTracking(ctx, order.OrderNumber)
		if err != nil {
			s.logger.Warn("Carrier feed unavailable, serving order history only",
				zap.String("order_number", order.OrderNumber),
				zap.Error(err))
			feed = nil
		}
	}

	var carrierEvents []models.CarrierEvent
	if feed != nil {
		carrierEvents = feed.Events
	}
	steps, timeline := tracking.BuildTimeline(order, carrierEvents)

	data := &models.TrackingData{
		OrderNumber:    order.OrderNumber,
		Status:         order.Status,
		PaymentStatus:  order.PaymentStatus,
		PlacedAt:       order.CreatedAt,
		Total:          order.Total,
		Currency:       order.Currency,
		ShippingMethod: order.ShippingMethod,
		ShipTo:         shipTo(order.ShippingAddress),
		Items:          make([]models.TrackingItem, 0, len(order.Items)),
		Steps:          steps,
		Timeline:       timeline,
	}
	for _, item := range order.Items {
		data.Items = append(data.Items, models.TrackingItem{
			Name:     item.Name,
			SKU:      item.SKU,
			Quantity: item.RemainingQuantity(),
		})
	}
	if order.Carrier != nil {
		data.Carrier = *order.Carrier
	}
	if order.TrackingNumber != nil {
		data.TrackingNumber = *order.TrackingNumber
	}
	if feed != nil {
		data.Carrier = feed.Carrier
		data.TrackingNumber = feed.TrackingNumber
		data.TrackingURL = feed.TrackingURL
		data.EstimatedDelivery = feed.EstimatedDelivery
	}
	return data
}

// shipTo is the coarse destination shown on public tracking pages
func shipTo(a models.Address) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{a.City, a.State, a.Country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// phoneMatches compares digits only, against the shipping or billing phone
func phoneMatches(order *models.Order, phone string) bool {
	given := digits(phone)
	if given == "" {
		return false
	}
	for _, candidate := range []string{order.ShippingAddress.Phone, order.BillingAddress.Phone} {
		if d := digits(candidate); d != "" && d == given {
			return true
		}
	}
	return false
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
