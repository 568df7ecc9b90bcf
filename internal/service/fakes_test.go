package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"storefront-orders/internal/apperror"
	"storefront-orders/internal/backend"
	"storefront-orders/internal/models"
	"storefront-orders/internal/store"
)

type fakeRepo struct {
	mu        sync.Mutex
	orders    map[string]*models.Order
	products  map[int64]models.Product
	processed map[string]bool
	creates   int
}

func newFakeRepo(products ...models.Product) *fakeRepo {
	r := &fakeRepo{
		orders:    map[string]*models.Order{},
		products:  map[int64]models.Product{},
		processed: map[string]bool{},
	}
	for _, p := range products {
		r.products[p.ID] = p
	}
	return r
}

func (r *fakeRepo) put(order *models.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if order.Version == 0 {
		order.Version = 1
	}
	r.orders[order.ID] = order.Clone()
}

func (r *fakeRepo) CreateOrder(_ context.Context, order *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if order.IdempotencyKey != nil {
		for _, o := range r.orders {
			if o.IdempotencyKey != nil && *o.IdempotencyKey == *order.IdempotencyKey {
				return store.ErrDuplicateIdempotencyKey
			}
		}
	}
	order.Version = 1
	r.orders[order.ID] = order.Clone()
	r.creates++
	return nil
}

func (r *fakeRepo) find(match func(*models.Order) bool) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if match(o) {
			return o.Clone(), nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *fakeRepo) GetOrderByID(_ context.Context, id string) (*models.Order, error) {
	return r.find(func(o *models.Order) bool { return o.ID == id })
}

func (r *fakeRepo) GetOrderByNumber(_ context.Context, n string) (*models.Order, error) {
	return r.find(func(o *models.Order) bool { return o.OrderNumber == n })
}

func (r *fakeRepo) GetOrderByIdempotencyKey(_ context.Context, key string) (*models.Order, error) {
	return r.find(func(o *models.Order) bool { return o.IdempotencyKey != nil && *o.IdempotencyKey == key })
}

func (r *fakeRepo) GetProductsByIDs(_ context.Context, ids []int64) ([]models.Product, error) {
	var out []models.Product
	for _, id := range ids {
		if p, ok := r.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *fakeRepo) ApplyTransition(_ context.Context, t store.Transition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.EventID != "" {
		if r.processed[t.EventID] {
			return store.ErrDuplicateEvent
		}
	}
	current, ok := r.orders[t.Order.ID]
	if !ok || current.Version != t.ExpectedVersion {
		return store.ErrConflict
	}
	if t.EventID != "" {
		r.processed[t.EventID] = true
	}
	t.Order.Version = t.ExpectedVersion + 1
	r.orders[t.Order.ID] = t.Order.Clone()
	return nil
}

func (r *fakeRepo) IsEventProcessed(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.processed[id], nil
}

func (r *fakeRepo) MarkEventProcessed(_ context.Context, id, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processed[id] = true
	return nil
}

func (r *fakeRepo) filtered(f models.OrderFilter) []models.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Order
	for _, o := range r.orders {
		if f.CustomerID != nil && (o.CustomerID == nil || *o.CustomerID != *f.CustomerID) {
			continue
		}
		if len(f.Statuses) > 0 {
			match := false
			for _, s := range f.Statuses {
				match = match || s == o.Status
			}
			if !match {
				continue
			}
		}
		if f.MinAmount != nil && o.Total < *f.MinAmount {
			continue
		}
		out = append(out, *o.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderNumber < out[j].OrderNumber })
	return out
}

func (r *fakeRepo) ListOrders(_ context.Context, f models.OrderFilter) ([]models.Order, int, error) {
	all := r.filtered(f)
	start := f.Offset()
	if start > len(all) {
		start = len(all)
	}
	end := start + f.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], len(all), nil
}

func (r *fakeRepo) OrderStatistics(_ context.Context, f models.OrderFilter) (*models.OrderStatistics, error) {
	stats := &models.OrderStatistics{CountByStatus: map[models.OrderStatus]int{}}
	revenueOrders := 0
	for _, o := range r.filtered(f) {
		stats.TotalOrders++
		stats.CountByStatus[o.Status]++
		if o.Status != models.OrderStatusCancelled && o.Status != models.OrderStatusFailed && o.Status != models.OrderStatusRefunded {
			stats.TotalRevenue += o.Total
			revenueOrders++
		}
	}
	if revenueOrders > 0 {
		stats.AverageOrderValue = stats.TotalRevenue / int64(revenueOrders)
	}
	return stats, nil
}

type stockCall struct {
	op        string
	productID int64
	quantity  int
}

type fakeStock struct {
	mu        sync.Mutex
	available map[int64]int
	calls     []stockCall
}

func newFakeStock(available map[int64]int) *fakeStock {
	return &fakeStock{available: available}
}

func (f *fakeStock) Reserve(_ context.Context, productID int64, qty int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.available[productID] < qty {
		return false, nil
	}
	f.available[productID] -= qty
	f.calls = append(f.calls, stockCall{"reserve", productID, qty})
	return true, nil
}

func (f *fakeStock) Release(_ context.Context, productID int64, qty int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.available[productID] += qty
	f.calls = append(f.calls, stockCall{"release", productID, qty})
	return nil
}

func (f *fakeStock) Commit(_ context.Context, productID int64, qty int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, stockCall{"commit", productID, qty})
	return nil
}

func (f *fakeStock) ops(op string) []stockCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []stockCall
	for _, c := range f.calls {
		if c.op == op {
			out = append(out, c)
		}
	}
	return out
}

type fakeCommerce struct {
	coupons     map[string]int64
	giftCards   map[string]int64
	tracking    *models.ShipmentTracking
	trackingErr error
	payments    []backend.PaymentRequest
	paymentErr  error
	resets      []string
	resetErr    error
}

func (f *fakeCommerce) ValidateCoupon(_ context.Context, code string, _ int64) (*backend.CouponResult, error) {
	discount, ok := f.coupons[code]
	if !ok {
		return nil, apperror.New(apperror.KindCouponInvalid, "coupon code is not valid")
	}
	return &backend.CouponResult{Code: code, Valid: true, Discount: discount}, nil
}

func (f *fakeCommerce) ValidateGiftCard(_ context.Context, code string) (*backend.GiftCardResult, error) {
	balance, ok := f.giftCards[code]
	if !ok {
		return nil, apperror.New(apperror.KindCouponInvalid, "gift card is not valid")
	}
	return &backend.GiftCardResult{Code: code, Valid: true, Balance: balance}, nil
}

func (f *fakeCommerce) GetShipmentTracking(context.Context, string) (*models.ShipmentTracking, error) {
	return f.tracking, f.trackingErr
}

func (f *fakeCommerce) InitializePayment(_ context.Context, req backend.PaymentRequest) (*backend.PaymentSession, error) {
	if f.paymentErr != nil {
		return nil, f.paymentErr
	}
	f.payments = append(f.payments, req)
	return &backend.PaymentSession{PaymentID: "pay_1", Status: "requires_action"}, nil
}

func (f *fakeCommerce) RequestPasswordReset(_ context.Context, email string) error {
	f.resets = append(f.resets, email)
	return f.resetErr
}

type fakePublisher struct {
	mu        sync.Mutex
	created   []*models.OrderCreatedEvent
	cancelled []*models.OrderCancelledEvent
	changed   []*models.OrderStatusChangedEvent
}

func (p *fakePublisher) PublishOrderCreated(_ context.Context, e *models.OrderCreatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, e)
	return nil
}

func (p *fakePublisher) PublishOrderCancelled(_ context.Context, e *models.OrderCancelledEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = append(p.cancelled, e)
	return nil
}

func (p *fakePublisher) PublishOrderStatusChanged(_ context.Context, e *models.OrderStatusChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changed = append(p.changed, e)
	return nil
}

type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *fakeLocker) AcquireLock(_ context.Context, key string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = map[string]bool{}
	}
	if l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func (l *fakeLocker) ReleaseLock(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}

var errBoom = errors.New("boom")
