package models

// OrderStatus is the fulfilment state of an order
type OrderStatus string

// Order statuses
const (
	OrderStatusPending        OrderStatus = "pending"
	OrderStatusProcessing     OrderStatus = "processing"
	OrderStatusConfirmed      OrderStatus = "confirmed"
	OrderStatusShipped        OrderStatus = "shipped"
	OrderStatusOutForDelivery OrderStatus = "out-for-delivery"
	OrderStatusDelivered      OrderStatus = "delivered"
	OrderStatusCancelled      OrderStatus = "cancelled"
	OrderStatusFailed         OrderStatus = "failed"
	OrderStatusRefunded       OrderStatus = "refunded"
)

// CanonicalSequence is the happy-path order of fulfilment statuses
var CanonicalSequence = []OrderStatus{
	OrderStatusPending,
	OrderStatusProcessing,
	OrderStatusConfirmed,
	OrderStatusShipped,
	OrderStatusOutForDelivery,
	OrderStatusDelivered,
}

// AllOrderStatuses lists every known status, canonical sequence first
func AllOrderStatuses() []OrderStatus {
	all := make([]OrderStatus, 0, len(CanonicalSequence)+3)
	all = append(all, CanonicalSequence...)
	return append(all, OrderStatusCancelled, OrderStatusFailed, OrderStatusRefunded)
}

// IsValid checks if the order status is known
func (s OrderStatus) IsValid() bool {
	for _, known := range AllOrderStatuses() {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition except refunded is possible
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusDelivered, OrderStatusCancelled, OrderStatusFailed, OrderStatusRefunded:
		return true
	default:
		return false
	}
}

// SequenceIndex returns the position in the canonical sequence, or -1 for side branches
func (s OrderStatus) SequenceIndex() int {
	for i, step := range CanonicalSequence {
		if s == step {
			return i
		}
	}
	return -1
}

// CanTransitionTo checks if a status transition is valid.
// Forward moves along the canonical sequence may skip steps; cancelled and failed
// are reachable from any pre-terminal state; refunded only from delivered or cancelled.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s == next {
		return false
	}
	switch next {
	case OrderStatusRefunded:
		return s == OrderStatusDelivered || s == OrderStatusCancelled
	case OrderStatusCancelled, OrderStatusFailed:
		return !s.IsTerminal()
	}
	if s.IsTerminal() {
		return false
	}
	from, to := s.SequenceIndex(), next.SequenceIndex()
	return from >= 0 && to > from
}

// PaymentStatus is the capture state of the order's payment
type PaymentStatus string

// Payment statuses
const (
	PaymentStatusPending           PaymentStatus = "pending"
	PaymentStatusPaid              PaymentStatus = "paid"
	PaymentStatusFailed            PaymentStatus = "failed"
	PaymentStatusRefunded          PaymentStatus = "refunded"
	PaymentStatusPartiallyRefunded PaymentStatus = "partially-refunded"
)

// IsValid checks if the payment status is known
func (p PaymentStatus) IsValid() bool {
	switch p {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed,
		PaymentStatusRefunded, PaymentStatusPartiallyRefunded:
		return true
	default:
		return false
	}
}

// IsCaptured reports whether money was taken from the customer
func (p PaymentStatus) IsCaptured() bool {
	return p == PaymentStatusPaid || p == PaymentStatusPartiallyRefunded
}

// ValidateStatusPair checks the cross constraints between order and payment status
func ValidateStatusPair(status OrderStatus, payment PaymentStatus) bool {
	switch status {
	case OrderStatusCancelled:
		return payment == PaymentStatusRefunded ||
			payment == PaymentStatusPartiallyRefunded ||
			payment == PaymentStatusPending
	case OrderStatusRefunded:
		return payment == PaymentStatusRefunded || payment == PaymentStatusPartiallyRefunded
	default:
		return payment.IsValid()
	}
}
