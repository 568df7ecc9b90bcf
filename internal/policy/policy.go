package policy

import (
	"fmt"
	"time"

	"storefront-orders/internal/models"

	"github.com/shopspring/decimal"
)

// Rules are the configurable cancellation windows and fees.
// Only their shape is fixed: a later lifecycle stage is never more permissive.
type Rules struct {
	// FreeCancellationWindow applies to pending and processing orders, measured from placement
	FreeCancellationWindow time.Duration
	// ConfirmedCancellationWindow bounds any cancellation, measured from placement
	ConfirmedCancellationWindow time.Duration
	// RestockingFeeRate is the share of cancelled merchandise kept outside the free window
	RestockingFeeRate decimal.Decimal
	// CancellationFee is a flat amount charged outside the free window
	CancellationFee         int64
	RefundProcessingMinDays int
	RefundProcessingMaxDays int
}

// DefaultRules returns the out-of-the-box policy
func DefaultRules() Rules {
	return Rules{
		FreeCancellationWindow:      60 * time.Minute,
		ConfirmedCancellationWindow: 24 * time.Hour,
		RestockingFeeRate:           decimal.NewFromFloat(0.10),
		CancellationFee:             0,
		RefundProcessingMinDays:     5,
		RefundProcessingMaxDays:     7,
	}
}

// Validate rejects rule sets that would make a later stage more permissive
func (r Rules) Validate() error {
	if r.FreeCancellationWindow < 0 || r.ConfirmedCancellationWindow < 0 {
		return fmt.Errorf("cancellation windows must not be negative")
	}
	if r.ConfirmedCancellationWindow < r.FreeCancellationWindow {
		return fmt.Errorf("confirmed window %s is shorter than free window %s",
			r.ConfirmedCancellationWindow, r.FreeCancellationWindow)
	}
	if r.RestockingFeeRate.IsNegative() || r.RestockingFeeRate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("restocking fee rate must be within [0, 1]")
	}
	if r.CancellationFee < 0 {
		return fmt.Errorf("cancellation fee must not be negative")
	}
	if r.RefundProcessingMinDays > r.RefundProcessingMaxDays {
		return fmt.Errorf("refund processing range is inverted")
	}
	return nil
}

// Evaluate computes the cancellation policy of order at instant now. It is pure:
// the same order and instant always yield the same policy.
func Evaluate(order *models.Order, now time.Time, rules Rules) models.CancellationPolicy {
	p := models.CancellationPolicy{
		OrderID:  order.ID,
		Currency: order.Currency,
	}

	elapsed := now.Sub(order.CreatedAt)
	if elapsed < 0 {
		elapsed = 0
	}

	switch order.Status {
	case models.OrderStatusPending, models.OrderStatusProcessing:
		if elapsed < rules.FreeCancellationWindow {
			merch, tax := refundBase(order)
			p.Allowed = true
			p.ReasonCode = models.PolicyFreeCancellation
			p.Reason = "Order can be cancelled free of charge"
			p.RefundAmount = merch + tax
			setRemaining(&p, rules.FreeCancellationWindow-elapsed)
			break
		}
		restockingWindow(&p, order, elapsed, rules)
	case models.OrderStatusConfirmed:
		restockingWindow(&p, order, elapsed, rules)
	default:
		p.ReasonCode = models.PolicyStatusNotCancellable
		p.Reason = fmt.Sprintf("Orders that are %s can no longer be cancelled", order.Status)
	}

	p.RefundPercentage = Percentage(p.RefundAmount, order.Total)
	return p
}

func restockingWindow(p *models.CancellationPolicy, order *models.Order, elapsed time.Duration, rules Rules) {
	if elapsed >= rules.ConfirmedCancellationWindow {
		p.ReasonCode = models.PolicyWindowExpired
		p.Reason = "The cancellation window for this order has expired"
		return
	}
	merch, tax := refundBase(order)
	p.Allowed = true
	p.ReasonCode = models.PolicyRestockingFee
	p.Reason = "Order can be cancelled; a restocking fee applies because fulfilment has started"
	p.RefundAmount = merch + tax
	p.RestockingFee = RestockingFee(merch, rules.RestockingFeeRate)
	if !partiallyCancelled(order) {
		p.CancellationFee = rules.CancellationFee
	}
	setRemaining(p, rules.ConfirmedCancellationWindow-elapsed)
}

// refundBase is the refundable merchandise and tax still on the order.
// Orders without prior partial cancellations refund subtotal + tax exactly.
func refundBase(order *models.Order) (merch, tax int64) {
	if !partiallyCancelled(order) {
		return order.Subtotal, order.Tax
	}

	for _, item := range order.Items {
		merch += item.UnitPrice * int64(item.RemainingQuantity())
	}
	return merch, ProportionalTax(order.Tax, merch, order.Subtotal)
}

// partiallyCancelled reports whether an earlier partial cancellation already
// took units off the order. The flat cancellation fee is charged only once.
func partiallyCancelled(order *models.Order) bool {
	for _, item := range order.Items {
		if item.CancelledQuantity > 0 {
			return true
		}
	}
	return false
}

func setRemaining(p *models.CancellationPolicy, remaining time.Duration) {
	if remaining <= 0 {
		return
	}
	seconds := int64(remaining / time.Second)
	text := FormatRemaining(remaining)
	p.TimeRemaining = &text
	p.TimeRemainingSeconds = &seconds
}

// FormatRemaining renders a duration in the coarser of hours or minutes
func FormatRemaining(d time.Duration) string {
	if d >= time.Hour {
		return plural(int64(d/time.Hour), "hour")
	}
	minutes := int64(d / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	return plural(minutes, "minute")
}

func plural(n int64, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// Percentage returns part/whole*100 rounded to 2 decimal places, 0 for an empty whole
func Percentage(part, whole int64) float64 {
	if whole <= 0 {
		return 0
	}
	pct := decimal.NewFromInt(part).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(whole)).
		Round(2)
	f, _ := pct.Float64()
	return f
}

// RestockingFee is rate × amount rounded half away from zero to minor units
func RestockingFee(amount int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(amount).Mul(rate).Round(0).IntPart()
}

// ProportionalTax is the share of tax attributable to part of subtotal
func ProportionalTax(tax, part, subtotal int64) int64 {
	return ProRate(tax, part, subtotal)
}

// ProRate is the share of amount attributable to part of whole, rounded to minor units
func ProRate(amount, part, whole int64) int64 {
	if whole <= 0 || part <= 0 {
		return 0
	}
	if part >= whole {
		return amount
	}
	return decimal.NewFromInt(amount).
		Mul(decimal.NewFromInt(part)).
		Div(decimal.NewFromInt(whole)).
		Round(0).
		IntPart()
}
