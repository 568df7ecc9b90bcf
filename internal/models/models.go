package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Product represents a product in the catalog
type Product struct {
	ID        int64     `db:"id" json:"id"`
	SKU       string    `db:"sku" json:"sku"`
	Name      string    `db:"name" json:"name"`
	Price     int64     `db:"price" json:"price"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// Inventory represents product stock
type Inventory struct {
	ProductID int64     `db:"product_id" json:"productId"`
	Available int       `db:"available" json:"available"`
	Reserved  int       `db:"reserved" json:"reserved"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// Address is a shipping or billing address, stored as JSONB
type Address struct {
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	AddressLine1 string `json:"addressLine1"`
	AddressLine2 string `json:"addressLine2,omitempty"`
	City         string `json:"city"`
	State        string `json:"state"`
	PostalCode   string `json:"postalCode"`
	Country      string `json:"country"`
	Phone        string `json:"phone"`
}

// FullName joins first and last name
func (a Address) FullName() string {
	return strings.TrimSpace(a.FirstName + " " + a.LastName)
}

// Value implements driver.Valuer
func (a Address) Value() (driver.Value, error) {
	return json.Marshal(a)
}

// Scan implements sql.Scanner
func (a *Address) Scan(src interface{}) error {
	return scanJSON(src, a)
}

// Metadata carries request-derived context persisted with the order
type Metadata map[string]interface{}

// Value implements driver.Valuer
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner
func (m *Metadata) Scan(src interface{}) error {
	return scanJSON(src, m)
}

func scanJSON(src interface{}, dst interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported JSON column type %T", src)
	}
}

// Order represents a customer order
type Order struct {
	ID              string        `db:"id" json:"id"`
	OrderNumber     string        `db:"order_number" json:"orderNumber"`
	CustomerID      *string       `db:"customer_id" json:"customerId"`
	Email           string        `db:"email" json:"email"`
	CustomerName    string        `db:"customer_name" json:"customerName"`
	Status          OrderStatus   `db:"status" json:"status"`
	PaymentStatus   PaymentStatus `db:"payment_status" json:"paymentStatus"`
	PaymentMethod   string        `db:"payment_method" json:"paymentMethod"`
	ShippingMethod  string        `db:"shipping_method" json:"shippingMethod"`
	ShippingAddress Address       `db:"shipping_address" json:"shippingAddress"`
	BillingAddress  Address       `db:"billing_address" json:"billingAddress"`
	CouponCode      *string       `db:"coupon_code" json:"couponCode,omitempty"`
	GiftCardCode    *string       `db:"gift_card_code" json:"giftCardCode,omitempty"`
	Subtotal        int64         `db:"subtotal" json:"subtotal"`
	Discount        int64         `db:"discount" json:"discount"`
	Tax             int64         `db:"tax" json:"tax"`
	ShippingCost    int64         `db:"shipping_cost" json:"shippingCost"`
	Total           int64         `db:"total" json:"total"`
	RefundedAmount  int64         `db:"refunded_amount" json:"refundedAmount"`
	Currency        string        `db:"currency" json:"currency"`
	Carrier         *string       `db:"carrier" json:"carrier,omitempty"`
	TrackingNumber  *string       `db:"tracking_number" json:"trackingNumber,omitempty"`
	CustomerNotes   string        `db:"customer_notes" json:"customerNotes,omitempty"`
	IdempotencyKey  *string       `db:"idempotency_key" json:"-"`
	Metadata        Metadata      `db:"metadata" json:"-"`
	Version         int           `db:"version" json:"-"`
	CreatedAt       time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time     `db:"updated_at" json:"updatedAt"`

	Items         []OrderItem          `db:"-" json:"items"`
	StatusHistory []StatusHistoryEntry `db:"-" json:"statusHistory"`
}

// OrderItem represents a line item of an order
type OrderItem struct {
	ID                string `db:"id" json:"id"`
	OrderID           string `db:"order_id" json:"-"`
	ProductID         int64  `db:"product_id" json:"productId"`
	VariantID         *int64 `db:"variant_id" json:"variantId,omitempty"`
	SKU               string `db:"sku" json:"sku"`
	Name              string `db:"name" json:"name"`
	Quantity          int    `db:"quantity" json:"quantity"`
	CancelledQuantity int    `db:"cancelled_quantity" json:"cancelledQuantity"`
	UnitPrice         int64  `db:"unit_price" json:"unitPrice"`
	Subtotal          int64  `db:"subtotal" json:"subtotal"`
}

// RemainingQuantity is the quantity not yet cancelled
func (i OrderItem) RemainingQuantity() int {
	return i.Quantity - i.CancelledQuantity
}

// ItemScope records which units of which line a history entry touched
type ItemScope []ItemQuantity

// ItemQuantity is an (item, quantity) pair
type ItemQuantity struct {
	ItemID   string `json:"itemId"`
	Quantity int    `json:"quantity"`
}

// Value implements driver.Valuer
func (s ItemScope) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(s)
}

// Scan implements sql.Scanner
func (s *ItemScope) Scan(src interface{}) error {
	return scanJSON(src, s)
}

// StatusHistoryEntry is one append-only record of the order's status log
type StatusHistoryEntry struct {
	ID            int64         `db:"id" json:"-"`
	OrderID       string        `db:"order_id" json:"-"`
	Status        OrderStatus   `db:"status" json:"status"`
	PaymentStatus PaymentStatus `db:"payment_status" json:"paymentStatus"`
	Note          string        `db:"note" json:"note,omitempty"`
	Items         ItemScope     `db:"items" json:"items,omitempty"`
	CreatedAt     time.Time     `db:"created_at" json:"timestamp"`
}

// IsGuest reports whether the order has no owning customer account
func (o *Order) IsGuest() bool {
	return o.CustomerID == nil || *o.CustomerID == ""
}

// RecomputeTotal applies total = subtotal - discount + tax + shippingCost, floored at zero
func (o *Order) RecomputeTotal() {
	total := o.Subtotal - o.Discount + o.Tax + o.ShippingCost
	if total < 0 {
		total = 0
	}
	o.Total = total
}

// RefundableAmount is what was charged and not yet given back
func (o *Order) RefundableAmount() int64 {
	if o.RefundedAmount >= o.Total {
		return 0
	}
	return o.Total - o.RefundedAmount
}

// Validate checks the monetary and status invariants
func (o *Order) Validate() error {
	if o.Total < 0 {
		return fmt.Errorf("order %s has negative total", o.OrderNumber)
	}
	expected := o.Subtotal - o.Discount + o.Tax + o.ShippingCost
	if expected < 0 {
		expected = 0
	}
	if o.Total != expected {
		return fmt.Errorf("order %s total %d does not match components %d", o.OrderNumber, o.Total, expected)
	}
	if o.RefundedAmount < 0 || o.RefundedAmount > o.Total {
		return fmt.Errorf("order %s refunded %d of a total of %d", o.OrderNumber, o.RefundedAmount, o.Total)
	}
	if !o.Status.IsValid() || !ValidateStatusPair(o.Status, o.PaymentStatus) {
		return fmt.Errorf("order %s has inconsistent status %s/%s", o.OrderNumber, o.Status, o.PaymentStatus)
	}
	return nil
}

// AppendHistory records a transition; history is never rewritten
func (o *Order) AppendHistory(entry StatusHistoryEntry) {
	entry.OrderID = o.ID
	o.StatusHistory = append(o.StatusHistory, entry)
}

// ItemByID finds a line item
func (o *Order) ItemByID(id string) (*OrderItem, bool) {
	for i := range o.Items {
		if o.Items[i].ID == id {
			return &o.Items[i], true
		}
	}
	return nil, false
}

// Clone returns a deep copy so projections never alias the source order
func (o *Order) Clone() *Order {
	c := *o
	c.Items = append([]OrderItem(nil), o.Items...)
	c.StatusHistory = append([]StatusHistoryEntry(nil), o.StatusHistory...)
	return &c
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}

// Identity is the caller resolved from an opaque bearer credential
type Identity struct {
	CustomerID string `json:"customerId" validate:"required"`
	Email      string `json:"email" validate:"required,email"`
	Name       string `json:"name"`
	Role       string `json:"role"`
}

// Roles
const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// IsAdmin reports whether the identity can see every order
func (i *Identity) IsAdmin() bool {
	return i != nil && i.Role == RoleAdmin
}
