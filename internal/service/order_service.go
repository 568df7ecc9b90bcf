package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"storefront-orders/internal/apperror"
	"storefront-orders/internal/backend"
	"storefront-orders/internal/models"
	"storefront-orders/internal/policy"
	"storefront-orders/internal/store"
	"storefront-orders/internal/tracking"
	"storefront-orders/internal/util"
	"storefront-orders/internal/validation"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderRepository is the order store
type OrderRepository interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error)
	ApplyTransition(ctx context.Context, t store.Transition) error
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
	ListOrders(ctx context.Context, f models.OrderFilter) ([]models.Order, int, error)
	OrderStatistics(ctx context.Context, f models.OrderFilter) (*models.OrderStatistics, error)
}

// StockReserver holds and returns inventory
type StockReserver interface {
	Reserve(ctx context.Context, productID int64, quantity int) (bool, error)
	Release(ctx context.Context, productID int64, quantity int) error
	Commit(ctx context.Context, productID int64, quantity int) error
}

// CommerceBackend is the part of the commerce backend the order flows call
type CommerceBackend interface {
	ValidateCoupon(ctx context.Context, code string, subtotal int64) (*backend.CouponResult, error)
	ValidateGiftCard(ctx context.Context, code string) (*backend.GiftCardResult, error)
	GetShipmentTracking(ctx context.Context, orderNumber string) (*models.ShipmentTracking, error)
}

// EventPublisher emits lifecycle events
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
}

// Locker serializes requests sharing an idempotency key
type Locker interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey string) error
}

// Options carries pricing and policy settings
type Options struct {
	Rules           policy.Rules
	Currency        string
	TaxRate         decimal.Decimal
	ShippingMethods map[string]int64
	Locker          Locker
	Now             func() time.Time
}

const idempotencyLockTTL = 30 * time.Second

// OrderService handles order business logic
type OrderService struct {
	repo      OrderRepository
	inventory StockReserver
	commerce  CommerceBackend
	payments  *PaymentService
	publisher EventPublisher
	signer    *tracking.Signer
	opts      Options
	logger    *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(
	repo OrderRepository,
	inventory StockReserver,
	commerce CommerceBackend,
	payments *PaymentService,
	publisher EventPublisher,
	signer *tracking.Signer,
	opts Options,
) *OrderService {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Currency == "" {
		opts.Currency = "USD"
	}
	return &OrderService{
		repo:      repo,
		inventory: inventory,
		commerce:  commerce,
		payments:  payments,
		publisher: publisher,
		signer:    signer,
		opts:      opts,
		logger:    util.GetLogger(),
	}
}

func (s *OrderService) now() time.Time {
	return s.opts.Now().UTC()
}

// Caller is whoever is asking: a signed-in customer, a guest holding a
// tracking credential, or nobody.
type Caller struct {
	Identity *models.Identity
	Guest    *tracking.Claims
}

// RequestMeta is request-derived context stored with a new order
type RequestMeta struct {
	ClientIP       string
	UserAgent      string
	SessionID      string
	IdempotencyKey string
}

// CreateOrderResult is returned by CreateOrder
type CreateOrderResult struct {
	Order                  *models.Order           `json:"order"`
	PaymentRequired        bool                    `json:"paymentRequired"`
	PaymentGatewayData     *backend.PaymentSession `json:"paymentGatewayData"`
	TrackingToken          string                  `json:"trackingToken,omitempty"`
	TrackingTokenExpiresAt *time.Time              `json:"trackingTokenExpiresAt,omitempty"`
	Replayed               bool                    `json:"-"`
}

type pricedLine struct {
	product  models.Product
	item     validation.CreateOrderItem
	subtotal int64
}

// CreateOrder prices, reserves and persists a new order
func (s *OrderService) CreateOrder(ctx context.Context, req *validation.CreateOrderRequest, meta RequestMeta, identity *models.Identity) (*CreateOrderResult, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	guest := req.IsGuestOrder || identity == nil
	if guest && req.GuestEmail == "" {
		return nil, apperror.Validation("invalid request",
			apperror.FieldViolation{Field: "guestEmail", Message: "is required for guest orders"})
	}

	if meta.IdempotencyKey != "" {
		if existing, err := s.replay(ctx, meta.IdempotencyKey, req, identity, guest); existing != nil || err != nil {
			return existing, err
		}

		if s.opts.Locker != nil {
			lockKey := "order-create:" + meta.IdempotencyKey
			acquired, err := s.opts.Locker.AcquireLock(ctx, lockKey, idempotencyLockTTL)
			if err != nil {
				s.logger.Warn("Failed to acquire idempotency lock", zap.Error(err))
			} else if !acquired {
				e := apperror.New(apperror.KindRateLimited, "an order with this idempotency key is being created")
				e.RetryAfterSeconds = 1
				return nil, e
			} else {
				defer func() {
					if err := s.opts.Locker.ReleaseLock(context.Background(), lockKey); err != nil {
						s.logger.Warn("Failed to release idempotency lock", zap.Error(err))
					}
				}()
			}
		}
	}

	lines, err := s.priceLines(ctx, req.Items)
	if err != nil {
		util.OrdersRejectedTotal.WithLabelValues("invalid_items").Inc()
		return nil, err
	}

	order, err := s.buildOrder(ctx, req, meta, identity, guest, lines)
	if err != nil {
		return nil, err
	}

	if err := s.reserveLines(ctx, order); err != nil {
		util.OrdersRejectedTotal.WithLabelValues("inventory").Inc()
		return nil, err
	}

	if err := s.repo.CreateOrder(ctx, order); err != nil {
		s.releaseLines(ctx, order.Items)
		if errors.Is(err, store.ErrDuplicateIdempotencyKey) {
			if existing, rerr := s.replay(ctx, meta.IdempotencyKey, req, identity, guest); existing != nil || rerr != nil {
				return existing, rerr
			}
		}
		util.OrdersRejectedTotal.WithLabelValues("db_error").Inc()
		return nil, apperror.Internal(fmt.Errorf("failed to create order: %w", err))
	}

	util.OrdersCreatedTotal.WithLabelValues(order.PaymentMethod, fmt.Sprint(guest)).Inc()
	util.LoggerFrom(ctx).Info("Order created",
		zap.String("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.Int64("total", order.Total))

	result := &CreateOrderResult{Order: order, PaymentRequired: req.RequiresPayment()}
	if result.PaymentRequired && s.payments != nil {
		session, err := s.payments.Initialize(ctx, order, req.PaymentDetails)
		if err != nil {
			s.logger.Error("Payment initialization failed, order stays pending",
				zap.String("order_id", order.ID),
				zap.Error(err))
		}
		result.PaymentGatewayData = session
	}

	if guest {
		if err := s.attachCredential(result); err != nil {
			return nil, apperror.Internal(err)
		}
	}

	s.publishCreated(ctx, order, req.Subscribe)
	return result, nil
}

// replay returns the order created earlier under key, or nil when there is none.
// A key is bound to the caller that first used it; anyone else is rejected.
func (s *OrderService) replay(ctx context.Context, key string, req *validation.CreateOrderRequest, identity *models.Identity, guest bool) (*CreateOrderResult, error) {
	existing, err := s.repo.GetOrderByIdempotencyKey(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("failed to check idempotency: %w", err))
	}

	if !placedBy(existing, req, identity, guest) {
		util.LoggerFrom(ctx).Warn("Idempotency key reused by a different caller",
			zap.String("idempotency_key", key),
			zap.String("order_id", existing.ID))
		return nil, apperror.Validation("invalid request",
			apperror.FieldViolation{Field: "idempotencyKey", Message: "is already used by another order"})
	}

	util.OrdersIdempotentReplaysTotal.Inc()
	s.logger.Info("Duplicate order request detected",
		zap.String("idempotency_key", key),
		zap.String("order_id", existing.ID))

	result := &CreateOrderResult{
		Order:           existing,
		PaymentRequired: existing.PaymentMethod != validation.PaymentCashOnDelivery && existing.PaymentStatus == models.PaymentStatusPending,
		Replayed:        true,
	}
	if existing.IsGuest() {
		if err := s.attachCredential(result); err != nil {
			return nil, apperror.Internal(err)
		}
	}
	return result, nil
}

// placedBy reports whether the caller of req is the one who placed order:
// the same customer account, or for guest orders a guest with the same email
func placedBy(order *models.Order, req *validation.CreateOrderRequest, identity *models.Identity, guest bool) bool {
	if order.IsGuest() {
		return guest && strings.EqualFold(strings.TrimSpace(order.Email), strings.TrimSpace(req.GuestEmail))
	}
	return !guest && identity != nil && *order.CustomerID == identity.CustomerID
}

func (s *OrderService) attachCredential(result *CreateOrderResult) error {
	if s.signer == nil {
		return nil
	}
	token, expires, err := s.signer.Issue(result.Order.OrderNumber, result.Order.Email, s.now())
	if err != nil {
		return fmt.Errorf("failed to issue tracking credential: %w", err)
	}
	result.TrackingToken = token
	result.TrackingTokenExpiresAt = &expires
	return nil
}

// priceLines looks up catalogue prices; client-supplied prices are never used
func (s *OrderService) priceLines(ctx context.Context, items []validation.CreateOrderItem) ([]pricedLine, error) {
	ids := make([]int64, 0, len(items))
	seen := make(map[int64]bool, len(items))
	for _, item := range items {
		if !seen[item.ProductID] {
			seen[item.ProductID] = true
			ids = append(ids, item.ProductID)
		}
	}

	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("failed to get products: %w", err))
	}
	byID := make(map[int64]models.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	lines := make([]pricedLine, 0, len(items))
	var violations []apperror.FieldViolation
	for i, item := range items {
		product, ok := byID[item.ProductID]
		if !ok {
			violations = append(violations, apperror.FieldViolation{
				Field:   fmt.Sprintf("items[%d].productId", i),
				Message: "unknown product",
			})
			continue
		}
		lines = append(lines, pricedLine{
			product:  product,
			item:     item,
			subtotal: product.Price * int64(item.Quantity),
		})
	}
	if len(violations) > 0 {
		return nil, apperror.Validation("invalid request", violations...)
	}
	return lines, nil
}

func (s *OrderService) buildOrder(
	ctx context.Context,
	req *validation.CreateOrderRequest,
	meta RequestMeta,
	identity *models.Identity,
	guest bool,
	lines []pricedLine,
) (*models.Order, error) {
	shippingCost, ok := s.opts.ShippingMethods[req.ShippingMethod]
	if !ok {
		util.OrdersRejectedTotal.WithLabelValues("shipping_method").Inc()
		return nil, apperror.Validation("invalid request",
			apperror.FieldViolation{Field: "shippingMethod", Message: "is not a supported shipping method"})
	}

	now := s.now()
	order := &models.Order{
		ID:              uuid.New().String(),
		OrderNumber:     newOrderNumber(now),
		Status:          models.OrderStatusPending,
		PaymentStatus:   models.PaymentStatusPending,
		PaymentMethod:   req.PaymentMethod,
		ShippingMethod:  req.ShippingMethod,
		ShippingAddress: req.ShippingAddress.ToModel(),
		CouponCode:      req.CouponCode,
		GiftCardCode:    req.GiftCardCode,
		ShippingCost:    shippingCost,
		Currency:        s.opts.Currency,
		CustomerNotes:   req.CustomerNotes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if req.BillingAddress != nil {
		order.BillingAddress = req.BillingAddress.ToModel()
	} else {
		order.BillingAddress = order.ShippingAddress
	}
	order.CustomerName = order.ShippingAddress.FullName()

	if guest {
		order.Email = req.GuestEmail
	} else {
		customerID := identity.CustomerID
		order.CustomerID = &customerID
		order.Email = strings.ToLower(identity.Email)
	}
	if meta.IdempotencyKey != "" {
		key := meta.IdempotencyKey
		order.IdempotencyKey = &key
	}

	for _, line := range lines {
		order.Items = append(order.Items, models.OrderItem{
			ID:        uuid.New().String(),
			OrderID:   order.ID,
			ProductID: line.product.ID,
			VariantID: line.item.VariantID,
			SKU:       line.product.SKU,
			Name:      line.product.Name,
			Quantity:  line.item.Quantity,
			UnitPrice: line.product.Price,
			Subtotal:  line.subtotal,
		})
		order.Subtotal += line.subtotal
	}

	if req.CouponCode != nil {
		coupon, err := s.commerce.ValidateCoupon(ctx, *req.CouponCode, order.Subtotal)
		if err != nil {
			util.OrdersRejectedTotal.WithLabelValues("coupon").Inc()
			return nil, err
		}
		order.Discount = minInt64(coupon.Discount, order.Subtotal)
	}

	taxable := order.Subtotal - order.Discount
	order.Tax = decimal.NewFromInt(taxable).Mul(s.opts.TaxRate).Round(0).IntPart()

	var giftCardApplied int64
	if req.GiftCardCode != nil {
		card, err := s.commerce.ValidateGiftCard(ctx, *req.GiftCardCode)
		if err != nil {
			util.OrdersRejectedTotal.WithLabelValues("gift_card").Inc()
			return nil, err
		}
		giftCardApplied = minInt64(card.Balance, taxable+order.Tax+order.ShippingCost)
		order.Discount += giftCardApplied
	}
	order.RecomputeTotal()

	order.Metadata = models.Metadata{
		"clientIp":        meta.ClientIP,
		"userAgent":       meta.UserAgent,
		"sessionId":       meta.SessionID,
		"subscribe":       req.Subscribe,
		"giftCardApplied": giftCardApplied,
	}
	if len(req.Metadata) > 0 {
		order.Metadata["client"] = req.Metadata
	}

	order.AppendHistory(models.StatusHistoryEntry{
		Status:        order.Status,
		PaymentStatus: order.PaymentStatus,
		Note:          "order placed",
		CreatedAt:     now,
	})

	if err := order.Validate(); err != nil {
		return nil, apperror.Internal(err)
	}
	return order, nil
}

// reserveLines reserves every line or none
func (s *OrderService) reserveLines(ctx context.Context, order *models.Order) error {
	for i, item := range order.Items {
		ok, err := s.inventory.Reserve(ctx, item.ProductID, item.Quantity)
		if err != nil {
			s.releaseLines(ctx, order.Items[:i])
			return apperror.Internal(fmt.Errorf("inventory reservation failed: %w", err))
		}
		if !ok {
			s.releaseLines(ctx, order.Items[:i])
			e := apperror.New(apperror.KindInventory, fmt.Sprintf("insufficient stock for %s", item.Name))
			e.Violations = []apperror.FieldViolation{{
				Field:   fmt.Sprintf("items[%d].quantity", i),
				Message: "exceeds available stock",
			}}
			return e
		}
	}
	return nil
}

func (s *OrderService) releaseLines(ctx context.Context, items []models.OrderItem) {
	for _, item := range items {
		if err := s.inventory.Release(ctx, item.ProductID, item.Quantity); err != nil {
			s.logger.Error("Failed to release stock during compensation",
				zap.Int64("product_id", item.ProductID),
				zap.Error(err))
		}
	}
}

func (s *OrderService) publishCreated(ctx context.Context, order *models.Order, subscribe bool) {
	items := make([]models.OrderItemData, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, models.OrderItemData{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	event := &models.OrderCreatedEvent{
		BaseEvent:     newBaseEvent(models.EventTypeOrderCreated, s.now()),
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		CustomerID:    order.CustomerID,
		Email:         order.Email,
		Total:         order.Total,
		Currency:      order.Currency,
		PaymentMethod: order.PaymentMethod,
		Items:         items,
		Subscribe:     subscribe,
	}
	if err := s.publisher.PublishOrderCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCreated event", zap.Error(err))
	}
}

// authorize enforces ownership: the owning customer, an admin, or the matching guest credential
func authorize(order *models.Order, caller Caller) error {
	if caller.Identity == nil && caller.Guest == nil {
		return apperror.New(apperror.KindUnauthorized, "sign in or provide the order's tracking credential")
	}
	if caller.Identity != nil {
		if caller.Identity.IsAdmin() {
			return nil
		}
		if order.CustomerID != nil && *order.CustomerID == caller.Identity.CustomerID {
			return nil
		}
	}
	if caller.Guest != nil && caller.Guest.Matches(order.OrderNumber, order.Email) {
		return nil
	}
	return apperror.New(apperror.KindForbidden, "this order belongs to another customer")
}

func (s *OrderService) loadOrder(ctx context.Context, id string) (*models.Order, error) {
	order, err := s.repo.GetOrderByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperror.New(apperror.KindOrderNotFound, "order not found")
	}
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("failed to get order: %w", err))
	}
	return order, nil
}

func newOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
	return "ORD-" + now.Format("20060102") + "-" + suffix
}

func newBaseEvent(eventType string, now time.Time) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: now,
	}
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
