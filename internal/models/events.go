package models

import "time"

// Event types
const (
	EventTypeOrderCreated         = "ORDER_CREATED"
	EventTypeOrderCancelled       = "ORDER_CANCELLED"
	EventTypeOrderStatusChanged   = "ORDER_STATUS_CHANGED"
	EventTypePaymentConfirmed     = "PAYMENT_CONFIRMED"
	EventTypePaymentFailed        = "PAYMENT_FAILED"
	EventTypeCarrierStatusUpdated = "CARRIER_STATUS_UPDATED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published when an order is persisted
type OrderCreatedEvent struct {
	BaseEvent
	OrderID       string          `json:"order_id"`
	OrderNumber   string          `json:"order_number"`
	CustomerID    *string         `json:"customer_id,omitempty"`
	Email         string          `json:"email"`
	Total         int64           `json:"total"`
	Currency      string          `json:"currency"`
	PaymentMethod string          `json:"payment_method"`
	Items         []OrderItemData `json:"items"`
	Subscribe     bool            `json:"subscribe"`
}

// OrderCancelledEvent published when an order is cancelled fully or partially
type OrderCancelledEvent struct {
	BaseEvent
	OrderID     string            `json:"order_id"`
	OrderNumber string            `json:"order_number"`
	CancelType  string            `json:"cancel_type"`
	Reason      string            `json:"reason"`
	Description string            `json:"description,omitempty"`
	Items       []ItemQuantity    `json:"items,omitempty"`
	Refund      *RefundDescriptor `json:"refund,omitempty"`
}

// OrderStatusChangedEvent published after an external transition is applied
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID       string        `json:"order_id"`
	OrderNumber   string        `json:"order_number"`
	From          OrderStatus   `json:"from"`
	To            OrderStatus   `json:"to"`
	PaymentStatus PaymentStatus `json:"payment_status"`
}

// PaymentConfirmedEvent consumed from the payment gateway integration
type PaymentConfirmedEvent struct {
	BaseEvent
	OrderNumber   string `json:"order_number"`
	TransactionID string `json:"transaction_id"`
	Amount        int64  `json:"amount"`
}

// PaymentFailedEvent consumed from the payment gateway integration
type PaymentFailedEvent struct {
	BaseEvent
	OrderNumber string `json:"order_number"`
	Reason      string `json:"reason"`
}

// CarrierStatusEvent consumed from the carrier webhook relay
type CarrierStatusEvent struct {
	BaseEvent
	OrderNumber    string      `json:"order_number"`
	Status         OrderStatus `json:"status"`
	Carrier        string      `json:"carrier"`
	TrackingNumber string      `json:"tracking_number"`
	OccurredAt     time.Time   `json:"occurred_at"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
	UnitPrice int64 `json:"unit_price"`
}
