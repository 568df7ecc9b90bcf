package service

import (
	"context"
	"testing"
	"time"

	"storefront-orders/internal/apperror"
	"storefront-orders/internal/models"
	"storefront-orders/internal/ratelimit"
	"storefront-orders/internal/validation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) placeGuestOrder(t *testing.T) *CreateOrderResult {
	t.Helper()
	res, err := f.svc.CreateOrder(context.Background(), createRequest(), RequestMeta{}, nil)
	require.NoError(t, err)
	return res
}

func carrierEvent(id, orderNumber string, status models.OrderStatus, at time.Time) *models.CarrierStatusEvent {
	return &models.CarrierStatusEvent{
		BaseEvent:      models.BaseEvent{EventID: id, EventType: models.EventTypeCarrierStatusUpdated, Timestamp: at},
		OrderNumber:    orderNumber,
		Status:         status,
		Carrier:        "UPS",
		TrackingNumber: "1Z999",
		OccurredAt:     at,
	}
}

func TestTrackOrderByIdentityPair(t *testing.T) {
	f := newFixture(t)
	order := f.placeGuestOrder(t).Order
	ctx := context.Background()

	data, err := f.svc.TrackOrder(ctx, &validation.TrackOrderRequest{OrderNumber: order.OrderNumber, Email: "ADA@Example.com"})
	require.NoError(t, err)
	assert.Equal(t, order.OrderNumber, data.OrderNumber)
	assert.Equal(t, "Springfield, IL, US", data.ShipTo)
	assert.Equal(t, models.StepCurrent, data.Steps[0].State)
	require.Len(t, data.Items, 2)

	_, err = f.svc.TrackOrder(ctx, &validation.TrackOrderRequest{OrderNumber: order.OrderNumber, Email: "eve@example.com"})
	requireKind(t, err, apperror.KindOrderNotFound)

	_, err = f.svc.TrackOrder(ctx, &validation.TrackOrderRequest{OrderNumber: "ORD-NOPE", Email: "ada@example.com"})
	requireKind(t, err, apperror.KindOrderNotFound)
}

func TestTrackOrderPhoneFactor(t *testing.T) {
	f := newFixture(t)
	order := f.placeGuestOrder(t).Order
	ctx := context.Background()

	_, err := f.svc.TrackOrder(ctx, &validation.TrackOrderRequest{
		OrderNumber: order.OrderNumber, Email: "ada@example.com", Phone: "555.123.4567",
	})
	require.NoError(t, err)

	_, err = f.svc.TrackOrder(ctx, &validation.TrackOrderRequest{
		OrderNumber: order.OrderNumber, Email: "ada@example.com", Phone: "555-999-0000",
	})
	requireKind(t, err, apperror.KindVerificationFailed)
}

func TestTrackOrderMergesCarrierFeed(t *testing.T) {
	f := newFixture(t)
	order := f.placeGuestOrder(t).Order
	ctx := context.Background()
	handlers := NewEventHandlers(f.svc)
	require.NoError(t, handlers.HandleCarrierStatus(ctx, carrierEvent("c-1", order.OrderNumber, models.OrderStatusShipped, t0.Add(2*time.Hour))))

	f.commerce.tracking = &models.ShipmentTracking{
		Carrier:        "UPS",
		TrackingNumber: "1Z999",
		Events: []models.CarrierEvent{
			{Status: "in_transit", Location: "Memphis, TN", OccurredAt: t0.Add(5 * time.Hour)},
		},
	}
	data, err := f.svc.TrackOrder(ctx, &validation.TrackOrderRequest{OrderNumber: order.OrderNumber, Email: "ada@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "1Z999", data.TrackingNumber)
	require.Len(t, data.Timeline, 3)
	assert.Equal(t, models.SourceCarrier, data.Timeline[2].Source)

	f.commerce.trackingErr = errBoom
	data, err = f.svc.TrackOrder(ctx, &validation.TrackOrderRequest{OrderNumber: order.OrderNumber, Email: "ada@example.com"})
	require.NoError(t, err)
	assert.Len(t, data.Timeline, 2)
	assert.Equal(t, "UPS", data.Carrier)
}

func TestTrackByCredential(t *testing.T) {
	f := newFixture(t)
	res := f.placeGuestOrder(t)
	ctx := context.Background()

	data, err := f.svc.TrackByCredential(ctx, res.TrackingToken)
	require.NoError(t, err)
	assert.Equal(t, res.Order.OrderNumber, data.OrderNumber)

	_, err = f.svc.TrackByCredential(ctx, "garbage")
	requireKind(t, err, apperror.KindUnauthorized)

	f.now = t0.Add(100 * 24 * time.Hour)
	_, err = f.svc.TrackByCredential(ctx, res.TrackingToken)
	requireKind(t, err, apperror.KindUnauthorized)
}

func seedListOrders(f *fixture) {
	add := func(id, customerID string, status models.OrderStatus, payment models.PaymentStatus, total int64) {
		cid := customerID
		f.repo.put(&models.Order{
			ID: id, OrderNumber: "ORD-" + id, CustomerID: &cid, Status: status, PaymentStatus: payment,
			Subtotal: total, Total: total, Currency: "USD", CreatedAt: t0,
		})
	}
	add("A", "cust-1", models.OrderStatusDelivered, models.PaymentStatusPaid, 900)
	add("B", "cust-1", models.OrderStatusDelivered, models.PaymentStatusPaid, 600)
	add("C", "cust-1", models.OrderStatusDelivered, models.PaymentStatusPaid, 300)
	add("D", "cust-1", models.OrderStatusPending, models.PaymentStatusPending, 800)
	add("E", "cust-2", models.OrderStatusDelivered, models.PaymentStatusPaid, 5000)
}

func TestListOrdersStatisticsCoverWholeFilteredSet(t *testing.T) {
	f := newFixture(t)
	seedListOrders(f)
	min := int64(500)

	res, err := f.svc.ListOrders(context.Background(), models.OrderFilter{
		Statuses:  []models.OrderStatus{models.OrderStatusDelivered},
		MinAmount: &min,
		Limit:     1,
	}, customer)
	require.NoError(t, err)

	require.Len(t, res.Orders, 1)
	assert.Equal(t, models.OrderStatusDelivered, res.Orders[0].Status)
	assert.Equal(t, 2, res.Pagination.Total)
	assert.Equal(t, 2, res.Pagination.TotalPages)
	assert.True(t, res.Pagination.HasNext)
	assert.False(t, res.Pagination.HasPrev)
	assert.Equal(t, int64(1500), res.Statistics.TotalRevenue)
	assert.Equal(t, int64(750), res.Statistics.AverageOrderValue)
	assert.True(t, res.Filters.CustomerScoped)
	assert.Equal(t, "createdAt", res.Filters.Applied.SortBy)
}

func TestListOrdersScoping(t *testing.T) {
	f := newFixture(t)
	seedListOrders(f)
	ctx := context.Background()

	_, err := f.svc.ListOrders(ctx, models.OrderFilter{}, nil)
	requireKind(t, err, apperror.KindUnauthorized)

	admin := &models.Identity{CustomerID: "staff", Email: "ops@example.com", Role: models.RoleAdmin}
	res, err := f.svc.ListOrders(ctx, models.OrderFilter{}, admin)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Pagination.Total)
	assert.Equal(t, DefaultPageSize, res.Pagination.Limit)

	_, err = f.svc.ListOrders(ctx, models.OrderFilter{Limit: MaxPageSize + 1}, admin)
	requireKind(t, err, apperror.KindValidation)

	_, err = f.svc.ListOrders(ctx, models.OrderFilter{SortBy: "password"}, admin)
	requireKind(t, err, apperror.KindValidation)
}

func TestExternalTransitions(t *testing.T) {
	f := newFixture(t)
	order := f.placeGuestOrder(t).Order
	ctx := context.Background()
	handlers := NewEventHandlers(f.svc)

	confirmed := &models.PaymentConfirmedEvent{
		BaseEvent:     models.BaseEvent{EventID: "p-1", EventType: models.EventTypePaymentConfirmed, Timestamp: t0.Add(time.Minute)},
		OrderNumber:   order.OrderNumber,
		TransactionID: "tx-1",
	}
	require.NoError(t, handlers.HandlePaymentConfirmed(ctx, confirmed))
	require.NoError(t, handlers.HandlePaymentConfirmed(ctx, confirmed))

	stored, err := f.repo.GetOrderByNumber(ctx, order.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusProcessing, stored.Status)
	assert.Equal(t, models.PaymentStatusPaid, stored.PaymentStatus)
	assert.Len(t, stored.StatusHistory, 2)
	require.Len(t, f.pub.changed, 1)

	require.NoError(t, handlers.HandleCarrierStatus(ctx, carrierEvent("c-1", order.OrderNumber, models.OrderStatusShipped, t0.Add(3*time.Hour))))
	assert.ElementsMatch(t, []stockCall{{"commit", 1, 2}, {"commit", 2, 1}}, f.stock.ops("commit"))

	// a late scan for an earlier step is ignored
	require.NoError(t, handlers.HandleCarrierStatus(ctx, carrierEvent("c-0", order.OrderNumber, models.OrderStatusConfirmed, t0.Add(4*time.Hour))))
	stored, err = f.repo.GetOrderByNumber(ctx, order.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusShipped, stored.Status)
	require.NotNil(t, stored.TrackingNumber)
	assert.Equal(t, "1Z999", *stored.TrackingNumber)
	assert.Len(t, f.stock.ops("commit"), 2)
}

func TestExternalTransitionRejectsForbiddenMoves(t *testing.T) {
	f := newFixture(t)
	order := f.placeCustomerOrder(t)
	ctx := context.Background()

	_, err := f.svc.CancelOrder(ctx, &validation.CancelOrderRequest{
		OrderID: order.ID, Reason: "changed_mind", CancelType: models.CancelTypeFull,
	}, Caller{Identity: customer})
	require.NoError(t, err)

	err = NewEventHandlers(f.svc).HandleCarrierStatus(ctx, carrierEvent("c-9", order.OrderNumber, models.OrderStatusShipped, t0.Add(time.Hour)))
	requireKind(t, err, apperror.KindValidation)

	err = f.svc.ApplyExternalTransition(ctx, ExternalTransition{EventID: "x", EventType: "TEST", OrderNumber: "ORD-NOPE"})
	requireKind(t, err, apperror.KindOrderNotFound)
}

func TestPaymentFailureReleasesStock(t *testing.T) {
	f := newFixture(t)
	order := f.placeGuestOrder(t).Order
	ctx := context.Background()

	require.NoError(t, NewEventHandlers(f.svc).HandlePaymentFailed(ctx, &models.PaymentFailedEvent{
		BaseEvent:   models.BaseEvent{EventID: "pf-1", EventType: models.EventTypePaymentFailed, Timestamp: t0.Add(time.Minute)},
		OrderNumber: order.OrderNumber,
		Reason:      "card_declined",
	}))

	stored, err := f.repo.GetOrderByNumber(ctx, order.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFailed, stored.Status)
	assert.Equal(t, "payment failed: card_declined", stored.StatusHistory[1].Note)
	assert.Equal(t, 10, f.stock.available[1])
	assert.Equal(t, 1, f.stock.available[2])
}

type memoryMarkers map[string]time.Time

func (m memoryMarkers) Get(_ context.Context, key string) (*time.Time, error) {
	if t, ok := m[key]; ok {
		return &t, nil
	}
	return nil, nil
}

func (m memoryMarkers) Set(_ context.Context, key string, t time.Time, _ time.Duration) error {
	m[key] = t
	return nil
}

func TestRequestPasswordReset(t *testing.T) {
	commerce := &fakeCommerce{}
	accounts := NewAccountService(commerce, ratelimit.NewLimiter(5*time.Minute))
	now := t0
	accounts.now = func() time.Time { return now }
	markers := memoryMarkers{}
	ctx := context.Background()

	require.NoError(t, accounts.RequestPasswordReset(ctx, "ada@example.com", markers))

	now = now.Add(time.Minute)
	err := accounts.RequestPasswordReset(ctx, "Ada@Example.com", markers)
	appErr := requireKind(t, err, apperror.KindRateLimited)
	assert.Equal(t, 240, appErr.RetryAfterSeconds)

	commerce.resetErr = errBoom
	require.NoError(t, accounts.RequestPasswordReset(ctx, "bob@example.com", markers))
	assert.Equal(t, []string{"ada@example.com", "bob@example.com"}, commerce.resets)
}
