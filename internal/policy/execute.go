package policy

import (
	"fmt"
	"time"

	"storefront-orders/internal/apperror"
	"storefront-orders/internal/models"
)

// Request is a cancellation already validated at the boundary
type Request struct {
	CancelType    string
	Items         []models.ItemQuantity
	Reason        string
	Description   string
	RequestRefund bool
	RefundMethod  string
}

// Outcome is the result of applying a cancellation to an order. Order is a
// fresh projection; the input order is never mutated.
type Outcome struct {
	Policy          models.CancellationPolicy
	Order           *models.Order
	PreviousStatus  models.OrderStatus
	CancelType      string
	Entry           models.StatusHistoryEntry
	Items           models.ItemScope
	MerchandiseBase int64
	// DiscountShare is the part of the order discount attributable to the cancelled merchandise
	DiscountShare   int64
	TaxRefunded     int64
	CancellationFee int64
	RestockingFee   int64
	TotalRefund     int64
	Refund          *models.RefundDescriptor
}

// FullyCancelled reports whether the order ended up in the cancelled state
func (o *Outcome) FullyCancelled() bool {
	return o.CancelType == models.CancelTypeFull
}

// Execute applies req to order at instant now under rules
func Execute(order *models.Order, req Request, now time.Time, rules Rules) (*Outcome, error) {
	policy := Evaluate(order, now, rules)
	if !policy.Allowed {
		kind := apperror.KindCancellationDenied
		if policy.ReasonCode == models.PolicyWindowExpired {
			kind = apperror.KindCancellationExpired
		}
		return nil, apperror.New(kind, policy.Reason)
	}

	updated := order.Clone()
	out := &Outcome{
		Policy:         policy,
		Order:          updated,
		PreviousStatus: order.Status,
		CancelType:     models.CancelTypeFull,
	}

	if req.CancelType == models.CancelTypePartial {
		scope, err := applyPartial(updated, req.Items)
		if err != nil {
			return nil, err
		}
		out.Items = scope

		var merch int64
		for _, line := range scope {
			item, _ := updated.ItemByID(line.ItemID)
			merch += item.UnitPrice * int64(line.Quantity)
		}
		out.MerchandiseBase = merch
		out.DiscountShare = ProRate(order.Discount, merch, order.Subtotal)
		out.TaxRefunded = ProportionalTax(order.Tax, merch, order.Subtotal)
		if policy.RestockingFee > 0 {
			out.RestockingFee = RestockingFee(merch, rules.RestockingFeeRate)
		}
		out.CancellationFee = policy.CancellationFee

		if !hasRemaining(updated) {
			out.CancelType = models.CancelTypeFull
		} else {
			out.CancelType = models.CancelTypePartial
		}
	} else {
		merch, tax := refundBase(order)
		out.MerchandiseBase = merch
		out.DiscountShare = ProRate(order.Discount, merch, order.Subtotal)
		out.TaxRefunded = tax
		out.RestockingFee = policy.RestockingFee
		out.CancellationFee = policy.CancellationFee
		for i := range updated.Items {
			updated.Items[i].CancelledQuantity = updated.Items[i].Quantity
		}
	}

	total := out.MerchandiseBase - out.DiscountShare + out.TaxRefunded - out.CancellationFee - out.RestockingFee
	if refundable := order.RefundableAmount(); total > refundable {
		total = refundable
	}
	if total < 0 {
		total = 0
	}
	out.TotalRefund = total

	nextPayment := settlePayment(order, out)
	if out.FullyCancelled() {
		updated.Status = models.OrderStatusCancelled
	}
	updated.PaymentStatus = nextPayment
	if order.PaymentStatus.IsCaptured() {
		updated.RefundedAmount = order.RefundedAmount + out.TotalRefund
	}
	updated.UpdatedAt = now

	note := fmt.Sprintf("cancelled by customer: %s", req.Reason)
	if !out.FullyCancelled() {
		note = fmt.Sprintf("partially cancelled by customer: %s", req.Reason)
	}
	if req.Description != "" {
		note += " (" + req.Description + ")"
	}
	out.Entry = models.StatusHistoryEntry{
		Status:        updated.Status,
		PaymentStatus: nextPayment,
		Note:          note,
		Items:         out.Items,
		CreatedAt:     now,
	}
	updated.AppendHistory(out.Entry)

	if order.PaymentStatus.IsCaptured() {
		out.Refund = refundDescriptor(order, req, out.TotalRefund, now, rules)
	}
	return out, nil
}

// applyPartial validates every requested line before applying any of them
func applyPartial(order *models.Order, lines []models.ItemQuantity) (models.ItemScope, error) {
	var violations []apperror.FieldViolation
	for i, line := range lines {
		item, ok := order.ItemByID(line.ItemID)
		switch {
		case !ok:
			violations = append(violations, apperror.FieldViolation{
				Field:   fmt.Sprintf("items[%d].itemId", i),
				Message: "does not belong to this order",
			})
		case line.Quantity <= 0:
			violations = append(violations, apperror.FieldViolation{
				Field:   fmt.Sprintf("items[%d].quantity", i),
				Message: "must be greater than 0",
			})
		case line.Quantity > item.RemainingQuantity():
			violations = append(violations, apperror.FieldViolation{
				Field:   fmt.Sprintf("items[%d].quantity", i),
				Message: fmt.Sprintf("exceeds the remaining quantity of %d", item.RemainingQuantity()),
			})
		}
	}
	if len(violations) > 0 {
		return nil, apperror.Validation("invalid cancellation items", violations...)
	}

	scope := make(models.ItemScope, 0, len(lines))
	for _, line := range lines {
		item, _ := order.ItemByID(line.ItemID)
		item.CancelledQuantity += line.Quantity
		scope = append(scope, line)
	}
	return scope, nil
}

func hasRemaining(order *models.Order) bool {
	for _, item := range order.Items {
		if item.RemainingQuantity() > 0 {
			return true
		}
	}
	return false
}

// settlePayment derives the payment status after cancellation. Nothing captured
// leaves the payment pending; a full cancellation without deductions is a full
// refund, as is the last partial cancellation once everything charged is given back.
func settlePayment(order *models.Order, out *Outcome) models.PaymentStatus {
	if !order.PaymentStatus.IsCaptured() {
		return models.PaymentStatusPending
	}
	everythingBack := order.RefundedAmount+out.TotalRefund >= order.Total
	if out.FullyCancelled() && out.CancellationFee == 0 && out.RestockingFee == 0 &&
		(order.PaymentStatus == models.PaymentStatusPaid || everythingBack) {
		return models.PaymentStatusRefunded
	}
	return models.PaymentStatusPartiallyRefunded
}

func refundDescriptor(order *models.Order, req Request, amount int64, now time.Time, rules Rules) *models.RefundDescriptor {
	method := req.RefundMethod
	if method == "" {
		method = models.RefundMethodOriginalPayment
	}
	if !req.RequestRefund {
		method = models.RefundMethodStoreCredit
	}
	return &models.RefundDescriptor{
		Status:              "pending",
		Amount:              amount,
		Currency:            order.Currency,
		Method:              method,
		PaymentMethod:       order.PaymentMethod,
		EstimatedProcessing: fmt.Sprintf("%d-%d business days", rules.RefundProcessingMinDays, rules.RefundProcessingMaxDays),
		EstimatedBy:         AddBusinessDays(now, rules.RefundProcessingMaxDays),
	}
}

// AddBusinessDays moves t forward by n weekdays
func AddBusinessDays(t time.Time, n int) time.Time {
	for n > 0 {
		t = t.AddDate(0, 0, 1)
		if t.Weekday() != time.Saturday && t.Weekday() != time.Sunday {
			n--
		}
	}
	return t
}
