package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"storefront-orders/internal/apperror"
	"storefront-orders/internal/models"
	"storefront-orders/internal/policy"
	"storefront-orders/internal/tracking"
	"storefront-orders/internal/validation"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

var customer = &models.Identity{CustomerID: "cust-1", Email: "ada@example.com", Role: models.RoleCustomer}

type fixture struct {
	svc      *OrderService
	repo     *fakeRepo
	stock    *fakeStock
	commerce *fakeCommerce
	pub      *fakePublisher
	signer   *tracking.Signer
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo: newFakeRepo(
			models.Product{ID: 1, SKU: "TEE-1", Name: "Tee", Price: 2500},
			models.Product{ID: 2, SKU: "MUG-1", Name: "Mug", Price: 1200},
		),
		stock: newFakeStock(map[int64]int{1: 10, 2: 1}),
		commerce: &fakeCommerce{
			coupons:   map[string]int64{"SAVE5": 500},
			giftCards: map[string]int64{"GIFT10": 1000},
		},
		pub:    &fakePublisher{},
		signer: tracking.NewSigner([]byte("tracking-key"), 0),
		now:    t0,
	}
	f.svc = NewOrderService(f.repo, f.stock, f.commerce, NewPaymentService(f.commerce), f.pub, f.signer, Options{
		Rules:           policy.DefaultRules(),
		Currency:        "USD",
		TaxRate:         decimal.RequireFromString("0.08"),
		ShippingMethods: map[string]int64{"standard": 599, "pickup": 0},
		Locker:          &fakeLocker{},
		Now:             func() time.Time { return f.now },
	})
	return f
}

func createRequest() *validation.CreateOrderRequest {
	addr := &validation.AddressInput{
		FirstName:    "Ada",
		LastName:     "Lovelace",
		AddressLine1: "1 Main St",
		City:         "Springfield",
		State:        "IL",
		PostalCode:   "62701",
		Country:      "US",
		Phone:        "(555) 123-4567",
	}
	return &validation.CreateOrderRequest{
		Items: []validation.CreateOrderItem{
			{ProductID: 1, Quantity: 2},
			{ProductID: 2, Quantity: 1},
		},
		ShippingAddress: addr,
		BillingAddress:  addr,
		UseSameAddress:  true,
		ShippingMethod:  "standard",
		PaymentMethod:   validation.PaymentCreditCard,
		IsGuestOrder:    true,
		GuestEmail:      "ada@example.com",
		AgreeToTerms:    true,
	}
}

func requireKind(t *testing.T, err error, kind apperror.Kind) *apperror.Error {
	t.Helper()
	require.Error(t, err)
	appErr := apperror.As(err)
	require.Equal(t, kind, appErr.Kind, "got %v", err)
	return appErr
}

func (f *fixture) placeCustomerOrder(t *testing.T) *models.Order {
	t.Helper()
	req := createRequest()
	req.IsGuestOrder = false
	req.GuestEmail = ""
	res, err := f.svc.CreateOrder(context.Background(), req, RequestMeta{}, customer)
	require.NoError(t, err)
	return res.Order
}

func TestCreateGuestOrder(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.CreateOrder(context.Background(), createRequest(), RequestMeta{ClientIP: "10.0.0.1"}, nil)
	require.NoError(t, err)

	order := res.Order
	assert.Equal(t, int64(6200), order.Subtotal)
	assert.Equal(t, int64(496), order.Tax)
	assert.Equal(t, int64(599), order.ShippingCost)
	assert.Equal(t, int64(7295), order.Total)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, models.PaymentStatusPending, order.PaymentStatus)
	assert.True(t, order.IsGuest())
	assert.Regexp(t, `^ORD-20240501-[0-9A-F]{8}$`, order.OrderNumber)
	require.Len(t, order.StatusHistory, 1)
	assert.Equal(t, "10.0.0.1", order.Metadata["clientIp"])

	assert.True(t, res.PaymentRequired)
	require.NotNil(t, res.PaymentGatewayData)
	assert.Equal(t, "pay_1", res.PaymentGatewayData.PaymentID)
	require.Len(t, f.commerce.payments, 1)
	assert.Equal(t, int64(7295), f.commerce.payments[0].Amount)

	claims, err := f.signer.Verify(res.TrackingToken, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, claims.Matches(order.OrderNumber, "ADA@example.com"))

	assert.Equal(t, 1, f.repo.creates)
	assert.Len(t, f.stock.ops("reserve"), 2)
	require.Len(t, f.pub.created, 1)
	assert.Equal(t, order.ID, f.pub.created[0].OrderID)
}

func TestCreateCustomerOrderWithCoupon(t *testing.T) {
	f := newFixture(t)
	req := createRequest()
	req.IsGuestOrder = false
	coupon := "SAVE5"
	req.CouponCode = &coupon
	req.PaymentMethod = validation.PaymentCashOnDelivery

	res, err := f.svc.CreateOrder(context.Background(), req, RequestMeta{}, customer)
	require.NoError(t, err)

	order := res.Order
	require.NotNil(t, order.CustomerID)
	assert.Equal(t, "cust-1", *order.CustomerID)
	assert.Equal(t, int64(500), order.Discount)
	assert.Equal(t, int64(456), order.Tax)
	assert.Equal(t, int64(6755), order.Total)
	assert.False(t, res.PaymentRequired)
	assert.Nil(t, res.PaymentGatewayData)
	assert.Empty(t, res.TrackingToken)
	assert.Empty(t, f.commerce.payments)
}

func TestCreateAppliesGiftCardAfterTax(t *testing.T) {
	f := newFixture(t)
	req := createRequest()
	card := "GIFT10"
	req.GiftCardCode = &card

	res, err := f.svc.CreateOrder(context.Background(), req, RequestMeta{}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(496), res.Order.Tax)
	assert.Equal(t, int64(1000), res.Order.Discount)
	assert.Equal(t, int64(6295), res.Order.Total)
}

func TestCreateInsufficientStockPersistsNothing(t *testing.T) {
	f := newFixture(t)
	req := createRequest()
	req.Items[1].Quantity = 2

	_, err := f.svc.CreateOrder(context.Background(), req, RequestMeta{}, nil)
	appErr := requireKind(t, err, apperror.KindInventory)
	assert.Equal(t, "items[1].quantity", appErr.Violations[0].Field)

	assert.Equal(t, 0, f.repo.creates)
	assert.Equal(t, []stockCall{{"release", 1, 2}}, f.stock.ops("release"))
	assert.Equal(t, 10, f.stock.available[1])
	assert.Empty(t, f.pub.created)
	assert.Empty(t, f.commerce.payments)
}

func TestCreateRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bad := "NOPE"
	req := createRequest()
	req.CouponCode = &bad
	_, err := f.svc.CreateOrder(ctx, req, RequestMeta{}, nil)
	requireKind(t, err, apperror.KindCouponInvalid)

	req = createRequest()
	req.ShippingMethod = "teleport"
	_, err = f.svc.CreateOrder(ctx, req, RequestMeta{}, nil)
	requireKind(t, err, apperror.KindValidation)

	req = createRequest()
	req.Items[0].ProductID = 99
	_, err = f.svc.CreateOrder(ctx, req, RequestMeta{}, nil)
	appErr := requireKind(t, err, apperror.KindValidation)
	assert.Equal(t, "items[0].productId", appErr.Violations[0].Field)

	req = createRequest()
	req.GuestEmail = ""
	_, err = f.svc.CreateOrder(ctx, req, RequestMeta{}, nil)
	requireKind(t, err, apperror.KindValidation)

	assert.Empty(t, f.stock.ops("reserve"))
	assert.Equal(t, 0, f.repo.creates)
}

func TestCreateReplaysIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	meta := RequestMeta{IdempotencyKey: "idem-1"}

	first, err := f.svc.CreateOrder(ctx, createRequest(), meta, nil)
	require.NoError(t, err)
	second, err := f.svc.CreateOrder(ctx, createRequest(), meta, nil)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.NotEmpty(t, second.TrackingToken)
	assert.Equal(t, 1, f.repo.creates)
	assert.Len(t, f.stock.ops("reserve"), 2)
}

func TestCreateRejectsIdempotencyKeyOfAnotherCaller(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	meta := RequestMeta{IdempotencyKey: "k-1"}

	req := createRequest()
	req.IsGuestOrder = false
	req.GuestEmail = ""
	first, err := f.svc.CreateOrder(ctx, req, meta, customer)
	require.NoError(t, err)
	assert.Empty(t, first.TrackingToken)

	res, err := f.svc.CreateOrder(ctx, createRequest(), meta, nil)
	appErr := requireKind(t, err, apperror.KindValidation)
	assert.Nil(t, res)
	require.Len(t, appErr.Violations, 1)
	assert.Equal(t, "idempotencyKey", appErr.Violations[0].Field)

	other := &models.Identity{CustomerID: "cust-2", Email: "bob@example.com", Role: models.RoleCustomer}
	_, err = f.svc.CreateOrder(ctx, req, meta, other)
	requireKind(t, err, apperror.KindValidation)

	replayed, err := f.svc.CreateOrder(ctx, req, meta, customer)
	require.NoError(t, err)
	assert.True(t, replayed.Replayed)
	assert.Equal(t, first.Order.ID, replayed.Order.ID)
	assert.Empty(t, replayed.TrackingToken)

	assert.Equal(t, 1, f.repo.creates)
}

func TestCreateRejectsIdempotencyKeyOfAnotherGuest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	meta := RequestMeta{IdempotencyKey: "k-2"}

	_, err := f.svc.CreateOrder(ctx, createRequest(), meta, nil)
	require.NoError(t, err)

	req := createRequest()
	req.GuestEmail = "mallory@example.com"
	res, err := f.svc.CreateOrder(ctx, req, meta, nil)
	requireKind(t, err, apperror.KindValidation)
	assert.Nil(t, res)
	assert.Equal(t, 1, f.repo.creates)
}

func TestCreateSurvivesPaymentInitFailure(t *testing.T) {
	f := newFixture(t)
	f.commerce.paymentErr = apperror.Backend(503, "gateway down")

	res, err := f.svc.CreateOrder(context.Background(), createRequest(), RequestMeta{}, nil)
	require.NoError(t, err)
	assert.True(t, res.PaymentRequired)
	assert.Nil(t, res.PaymentGatewayData)
	assert.Equal(t, 1, f.repo.creates)
}

func TestCancelWithinFreeWindow(t *testing.T) {
	f := newFixture(t)
	order := f.placeCustomerOrder(t)
	f.now = t0.Add(30 * time.Minute)

	p, err := f.svc.CancellationPolicy(context.Background(), order.ID, Caller{Identity: customer})
	require.NoError(t, err)
	assert.True(t, p.Allowed)
	assert.Equal(t, order.Subtotal+order.Tax, p.RefundAmount)

	res, err := f.svc.CancelOrder(context.Background(), &validation.CancelOrderRequest{
		OrderID: order.ID, Reason: "changed_mind", CancelType: models.CancelTypeFull,
	}, Caller{Identity: customer})
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusCancelled, res.Order.Status)
	assert.Equal(t, models.PaymentStatusPending, res.Order.PaymentStatus)
	assert.Nil(t, res.Refund)
	assert.Equal(t, int64(0), res.RefundSummary.CancellationFee)

	stored, err := f.repo.GetOrderByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, stored.Status)
	assert.Equal(t, 2, stored.Version)
	assert.Len(t, stored.StatusHistory, 2)

	assert.ElementsMatch(t, []stockCall{{"release", 1, 2}, {"release", 2, 1}}, f.stock.ops("release"))
	require.Len(t, f.pub.cancelled, 1)
	assert.Equal(t, models.CancelTypeFull, f.pub.cancelled[0].CancelType)
}

func TestCancelCapturedOrderRefunds(t *testing.T) {
	f := newFixture(t)
	order := f.placeCustomerOrder(t)
	handlers := NewEventHandlers(f.svc)
	require.NoError(t, handlers.HandlePaymentConfirmed(context.Background(), &models.PaymentConfirmedEvent{
		BaseEvent:   models.BaseEvent{EventID: "pay-evt-1", EventType: models.EventTypePaymentConfirmed, Timestamp: t0.Add(time.Minute)},
		OrderNumber: order.OrderNumber,
		Amount:      order.Total,
	}))
	f.now = t0.Add(20 * time.Minute)

	res, err := f.svc.CancelOrder(context.Background(), &validation.CancelOrderRequest{
		OrderID: order.ID, Reason: "ordered_by_mistake", CancelType: models.CancelTypeFull,
	}, Caller{Identity: customer})
	require.NoError(t, err)

	require.NotNil(t, res.Refund)
	assert.Equal(t, int64(6696), res.Refund.Amount)
	assert.Equal(t, models.RefundMethodOriginalPayment, res.Refund.Method)
	assert.Equal(t, models.PaymentStatusRefunded, res.Order.PaymentStatus)
	assert.Equal(t, int64(6696), res.RefundSummary.TotalRefund)
}

func TestConcurrentCancellationsOnlyOneWins(t *testing.T) {
	f := newFixture(t)
	order := f.placeCustomerOrder(t)
	f.now = t0.Add(10 * time.Minute)

	const attempts = 2
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.CancelOrder(context.Background(), &validation.CancelOrderRequest{
				OrderID: order.ID, Reason: "changed_mind", CancelType: models.CancelTypeFull,
			}, Caller{Identity: customer})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, apperror.IsKind(err, apperror.KindCancellationDenied), "got %v", err)
	}
	assert.Equal(t, 1, succeeded)
	assert.Len(t, f.pub.cancelled, 1)
}

func TestCancelOwnershipIsCheckedFirst(t *testing.T) {
	f := newFixture(t)
	order := f.placeCustomerOrder(t)
	req := &validation.CancelOrderRequest{OrderID: order.ID, Reason: "changed_mind", CancelType: models.CancelTypeFull}
	ctx := context.Background()

	_, err := f.svc.CancelOrder(ctx, req, Caller{})
	requireKind(t, err, apperror.KindUnauthorized)

	other := &models.Identity{CustomerID: "cust-2", Email: "bob@example.com"}
	_, err = f.svc.CancelOrder(ctx, req, Caller{Identity: other})
	requireKind(t, err, apperror.KindForbidden)

	_, err = f.svc.CancelOrder(ctx, &validation.CancelOrderRequest{OrderID: "missing", Reason: "other"}, Caller{Identity: customer})
	requireKind(t, err, apperror.KindOrderNotFound)

	assert.Empty(t, f.pub.cancelled)
}

func TestGuestCancelsWithCredential(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.CreateOrder(context.Background(), createRequest(), RequestMeta{}, nil)
	require.NoError(t, err)

	claims, err := f.svc.VerifyCredential(res.TrackingToken)
	require.NoError(t, err)

	_, err = f.svc.CancelOrder(context.Background(), &validation.CancelOrderRequest{
		OrderID: res.Order.ID, Reason: "duplicate_order", CancelType: models.CancelTypeFull,
	}, Caller{Guest: claims})
	require.NoError(t, err)
}

func TestCancelAfterWindowExpired(t *testing.T) {
	f := newFixture(t)
	order := f.placeCustomerOrder(t)
	f.now = t0.Add(25 * time.Hour)

	_, err := f.svc.CancelOrder(context.Background(), &validation.CancelOrderRequest{
		OrderID: order.ID, Reason: "changed_mind", CancelType: models.CancelTypeFull,
	}, Caller{Identity: customer})
	requireKind(t, err, apperror.KindCancellationExpired)
}

func TestPartialCancelUnknownItemChangesNothing(t *testing.T) {
	f := newFixture(t)
	order := f.placeCustomerOrder(t)

	_, err := f.svc.CancelOrder(context.Background(), &validation.CancelOrderRequest{
		OrderID:    order.ID,
		Reason:     "item_not_needed",
		CancelType: models.CancelTypePartial,
		Items:      []validation.CancelItem{{ItemID: "nope", Quantity: 1}},
	}, Caller{Identity: customer})
	requireKind(t, err, apperror.KindValidation)

	stored, err := f.repo.GetOrderByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Version)
	assert.Empty(t, f.stock.ops("release"))
}

func TestPartialCancelReleasesOnlyCancelledUnits(t *testing.T) {
	f := newFixture(t)
	order := f.placeCustomerOrder(t)
	tee := order.Items[0]
	require.Equal(t, int64(1), tee.ProductID)

	res, err := f.svc.CancelOrder(context.Background(), &validation.CancelOrderRequest{
		OrderID:    order.ID,
		Reason:     "item_not_needed",
		CancelType: models.CancelTypePartial,
		Items:      []validation.CancelItem{{ItemID: tee.ID, Quantity: 1}},
	}, Caller{Identity: customer})
	require.NoError(t, err)

	assert.Equal(t, models.CancelTypePartial, res.CancelType)
	assert.Equal(t, models.OrderStatusPending, res.Order.Status)
	assert.Equal(t, []stockCall{{"release", 1, 1}}, f.stock.ops("release"))
}
