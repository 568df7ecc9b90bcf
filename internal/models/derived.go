package models

import "time"

// Cancellation policy reason codes
const (
	PolicyFreeCancellation     = "free_cancellation"
	PolicyRestockingFee        = "restocking_fee"
	PolicyWindowExpired        = "window_expired"
	PolicyStatusNotCancellable = "status_not_cancellable"
)

// CancellationPolicy is derived from order state and elapsed time; never stored
type CancellationPolicy struct {
	OrderID              string  `json:"orderId"`
	Allowed              bool    `json:"allowed"`
	ReasonCode           string  `json:"reasonCode"`
	Reason               string  `json:"reason"`
	TimeRemaining        *string `json:"timeRemaining"`
	TimeRemainingSeconds *int64  `json:"timeRemainingSeconds"`
	RefundAmount         int64   `json:"refundAmount"`
	RefundPercentage     float64 `json:"refundPercentage"`
	CancellationFee      int64   `json:"cancellationFee"`
	RestockingFee        int64   `json:"restockingFee"`
	Currency             string  `json:"currency"`
}

// Refund methods
const (
	RefundMethodOriginalPayment = "original_payment"
	RefundMethodStoreCredit     = "store_credit"
	RefundMethodBankTransfer    = "bank_transfer"
)

// RefundDescriptor describes the refund that downstream payment processing will settle
type RefundDescriptor struct {
	Status              string    `json:"status"`
	Amount              int64     `json:"amount"`
	Currency            string    `json:"currency"`
	Method              string    `json:"method"`
	PaymentMethod       string    `json:"paymentMethod"`
	EstimatedProcessing string    `json:"estimatedProcessing"`
	EstimatedBy         time.Time `json:"estimatedBy"`
}

// Cancel types
const (
	CancelTypeFull    = "full"
	CancelTypePartial = "partial"
)

// Timeline step markers
const (
	StepCompleted = "completed"
	StepCurrent   = "current"
	StepUpcoming  = "upcoming"
)

// TimelineStep is one status of the canonical sequence with its progress marker
type TimelineStep struct {
	Status    OrderStatus `json:"status"`
	State     string      `json:"state"`
	Timestamp *time.Time  `json:"timestamp,omitempty"`
}

// Timeline event sources
const (
	SourceOrder   = "order"
	SourceCarrier = "carrier"
)

// TimelineEvent is one entry of the merged order/carrier event log
type TimelineEvent struct {
	Source      string    `json:"source"`
	Status      string    `json:"status"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// CarrierEvent is a scan event reported by the shipping carrier feed
type CarrierEvent struct {
	Status      string    `json:"status" validate:"required"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	OccurredAt  time.Time `json:"occurredAt" validate:"required"`
}

// ShipmentTracking is the carrier feed for one order
type ShipmentTracking struct {
	Carrier           string         `json:"carrier" validate:"required"`
	TrackingNumber    string         `json:"trackingNumber" validate:"required"`
	TrackingURL       string         `json:"trackingUrl"`
	EstimatedDelivery *time.Time     `json:"estimatedDelivery"`
	Events            []CarrierEvent `json:"events" validate:"dive"`
}

// TrackingItem is the public projection of a line item
type TrackingItem struct {
	Name     string `json:"name"`
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

// TrackingData is the read-only projection served to the tracking flow
type TrackingData struct {
	OrderNumber       string          `json:"orderNumber"`
	Status            OrderStatus     `json:"status"`
	PaymentStatus     PaymentStatus   `json:"paymentStatus"`
	PlacedAt          time.Time       `json:"placedAt"`
	Total             int64           `json:"total"`
	Currency          string          `json:"currency"`
	ShippingMethod    string          `json:"shippingMethod"`
	ShipTo            string          `json:"shipTo"`
	Carrier           string          `json:"carrier,omitempty"`
	TrackingNumber    string          `json:"trackingNumber,omitempty"`
	TrackingURL       string          `json:"trackingUrl,omitempty"`
	EstimatedDelivery *time.Time      `json:"estimatedDelivery,omitempty"`
	Items             []TrackingItem  `json:"items"`
	Steps             []TimelineStep  `json:"steps"`
	Timeline          []TimelineEvent `json:"timeline"`
}

// OrderFilter narrows the list-orders query
type OrderFilter struct {
	CustomerID    *string
	Statuses      []OrderStatus
	PaymentStatus *PaymentStatus
	From          *time.Time
	To            *time.Time
	MinAmount     *int64
	MaxAmount     *int64
	Search        string
	SortBy        string
	SortOrder     string
	Page          int
	Limit         int
}

// Offset is the row offset of the requested page
func (f OrderFilter) Offset() int {
	if f.Page < 1 {
		return 0
	}
	return (f.Page - 1) * f.Limit
}

// OrderStatistics aggregates the whole filtered set, not just one page
type OrderStatistics struct {
	TotalOrders       int                 `json:"totalOrders"`
	CountByStatus     map[OrderStatus]int `json:"countByStatus"`
	TotalRevenue      int64               `json:"totalRevenue"`
	AverageOrderValue int64               `json:"averageOrderValue"`
}

// Pagination describes the returned page
type Pagination struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"totalPages"`
	HasNext    bool `json:"hasNext"`
	HasPrev    bool `json:"hasPrev"`
}
