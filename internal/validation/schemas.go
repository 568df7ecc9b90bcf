package validation

import (
	"strings"

	"storefront-orders/internal/models"
)

// Payment methods accepted at checkout
const (
	PaymentCreditCard     = "credit_card"
	PaymentDebitCard      = "debit_card"
	PaymentPayPal         = "paypal"
	PaymentApplePay       = "apple_pay"
	PaymentGooglePay      = "google_pay"
	PaymentCashOnDelivery = "cash_on_delivery"
)

// CancelReasons are the accepted cancellation reasons
var CancelReasons = []string{
	"changed_mind",
	"found_better_price",
	"ordered_by_mistake",
	"shipping_too_slow",
	"payment_issue",
	"duplicate_order",
	"item_not_needed",
	"other",
}

// AddressInput is a postal address as submitted by the client
type AddressInput struct {
	FirstName    string `json:"firstName" validate:"required,min=1,max=200"`
	LastName     string `json:"lastName" validate:"required,min=1,max=200"`
	AddressLine1 string `json:"addressLine1" validate:"required,min=1,max=200"`
	AddressLine2 string `json:"addressLine2" validate:"max=200"`
	City         string `json:"city" validate:"required,min=1,max=200"`
	State        string `json:"state" validate:"required,min=1,max=200"`
	PostalCode   string `json:"postalCode" validate:"required,min=1,max=200"`
	Country      string `json:"country" validate:"required,min=1,max=200"`
	Phone        string `json:"phone" validate:"required,min=10,max=200"`
}

func (a *AddressInput) normalize() {
	a.FirstName = strings.TrimSpace(a.FirstName)
	a.LastName = strings.TrimSpace(a.LastName)
	a.AddressLine1 = strings.TrimSpace(a.AddressLine1)
	a.AddressLine2 = strings.TrimSpace(a.AddressLine2)
	a.City = strings.TrimSpace(a.City)
	a.State = strings.TrimSpace(a.State)
	a.PostalCode = strings.TrimSpace(a.PostalCode)
	a.Country = strings.TrimSpace(a.Country)
	a.Phone = strings.TrimSpace(a.Phone)
}

// ToModel converts the input into the stored address
func (a AddressInput) ToModel() models.Address {
	return models.Address{
		FirstName:    a.FirstName,
		LastName:     a.LastName,
		AddressLine1: a.AddressLine1,
		AddressLine2: a.AddressLine2,
		City:         a.City,
		State:        a.State,
		PostalCode:   a.PostalCode,
		Country:      a.Country,
		Phone:        a.Phone,
	}
}

// CreateOrderItem is one requested line
type CreateOrderItem struct {
	ProductID int64  `json:"productId" validate:"required,gt=0"`
	VariantID *int64 `json:"variantId" validate:"omitempty,gt=0"`
	Quantity  int    `json:"quantity" validate:"gt=0,lte=999"`
}

// CreateOrderRequest is the create-order payload
type CreateOrderRequest struct {
	Items           []CreateOrderItem      `json:"items" validate:"required,min=1,dive"`
	ShippingAddress *AddressInput          `json:"shippingAddress" validate:"required"`
	BillingAddress  *AddressInput          `json:"billingAddress" validate:"omitempty"`
	UseSameAddress  bool                   `json:"useSameAddress"`
	ShippingMethod  string                 `json:"shippingMethod" validate:"required"`
	PaymentMethod   string                 `json:"paymentMethod" validate:"required,oneof=credit_card debit_card paypal apple_pay google_pay cash_on_delivery"`
	PaymentDetails  map[string]interface{} `json:"paymentDetails"`
	CouponCode      *string                `json:"couponCode" validate:"omitempty,max=64"`
	GiftCardCode    *string                `json:"giftCardCode" validate:"omitempty,max=64"`
	CustomerNotes   string                 `json:"customerNotes" validate:"max=1000"`
	IsGuestOrder    bool                   `json:"isGuestOrder"`
	GuestEmail      string                 `json:"guestEmail" validate:"omitempty,email"`
	AgreeToTerms    bool                   `json:"agreeToTerms" validate:"required"`
	Subscribe       bool                   `json:"subscribe"`
	Metadata        map[string]interface{} `json:"metadata"`
}

// Normalize trims text and applies the billing-address default
func (r *CreateOrderRequest) Normalize() {
	if r.ShippingAddress != nil {
		r.ShippingAddress.normalize()
	}
	if r.BillingAddress != nil {
		r.BillingAddress.normalize()
	}
	if r.UseSameAddress && r.ShippingAddress != nil {
		billing := *r.ShippingAddress
		r.BillingAddress = &billing
	}
	r.ShippingMethod = strings.TrimSpace(r.ShippingMethod)
	r.PaymentMethod = strings.TrimSpace(r.PaymentMethod)
	r.CouponCode = trimOptional(r.CouponCode)
	r.GiftCardCode = trimOptional(r.GiftCardCode)
	r.CustomerNotes = strings.TrimSpace(r.CustomerNotes)
	r.GuestEmail = strings.ToLower(strings.TrimSpace(r.GuestEmail))
}

// Rules are the create-order cross-field constraints
func (r *CreateOrderRequest) Rules() []Rule {
	return []Rule{
		{
			Path:     "guestEmail",
			Message:  "is required for guest orders",
			Violated: func() bool { return r.IsGuestOrder && r.GuestEmail == "" },
		},
		{
			Path:     "billingAddress",
			Message:  "is required unless useSameAddress is set",
			Violated: func() bool { return !r.UseSameAddress && r.BillingAddress == nil },
		},
	}
}

// RequiresPayment reports whether the method needs gateway capture
func (r *CreateOrderRequest) RequiresPayment() bool {
	return r.PaymentMethod != PaymentCashOnDelivery
}

// CancelItem is one line of a partial cancellation
type CancelItem struct {
	ItemID   string `json:"itemId" validate:"required"`
	Quantity int    `json:"quantity" validate:"gt=0"`
}

// CancelOrderRequest is the cancel-order payload
type CancelOrderRequest struct {
	OrderID       string       `json:"orderId" validate:"required"`
	Reason        string       `json:"reason" validate:"required,oneof=changed_mind found_better_price ordered_by_mistake shipping_too_slow payment_issue duplicate_order item_not_needed other"`
	Description   string       `json:"description" validate:"max=500"`
	CancelType    string       `json:"cancelType" validate:"oneof=full partial"`
	Items         []CancelItem `json:"items" validate:"omitempty,dive"`
	RequestRefund *bool        `json:"requestRefund"`
	RefundMethod  string       `json:"refundMethod" validate:"omitempty,oneof=original_payment store_credit bank_transfer"`
}

// Normalize applies defaults: full cancellation with a refund
func (r *CancelOrderRequest) Normalize() {
	r.OrderID = strings.TrimSpace(r.OrderID)
	r.Description = strings.TrimSpace(r.Description)
	r.CancelType = strings.TrimSpace(r.CancelType)
	if r.CancelType == "" {
		r.CancelType = models.CancelTypeFull
	}
	if r.RequestRefund == nil {
		refund := true
		r.RequestRefund = &refund
	}
	for i := range r.Items {
		r.Items[i].ItemID = strings.TrimSpace(r.Items[i].ItemID)
	}
}

// Rules are the cancel-order cross-field constraints
func (r *CancelOrderRequest) Rules() []Rule {
	return []Rule{
		{
			Path:     "items",
			Message:  "must list at least one item for a partial cancellation",
			Violated: func() bool { return r.CancelType == models.CancelTypePartial && len(r.Items) == 0 },
		},
		{
			Path:    "items",
			Message: "must not list the same item twice",
			Violated: func() bool {
				seen := make(map[string]bool, len(r.Items))
				for _, item := range r.Items {
					if seen[item.ItemID] {
						return true
					}
					seen[item.ItemID] = true
				}
				return false
			},
		},
	}
}

// WantsRefund reports the normalized requestRefund flag
func (r *CancelOrderRequest) WantsRefund() bool {
	return r.RequestRefund == nil || *r.RequestRefund
}

// TrackOrderRequest is the tracking identity pair plus the optional phone factor
type TrackOrderRequest struct {
	OrderNumber string `json:"orderNumber" form:"orderNumber" validate:"required"`
	Email       string `json:"email" form:"email" validate:"required,email"`
	Phone       string `json:"phone" form:"phone" validate:"omitempty,min=10,max=32"`
}

// Normalize trims the identity pair
func (r *TrackOrderRequest) Normalize() {
	r.OrderNumber = strings.ToUpper(strings.TrimSpace(r.OrderNumber))
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.Phone = strings.TrimSpace(r.Phone)
}

// Rules has no cross-field constraints for tracking
func (r *TrackOrderRequest) Rules() []Rule {
	return nil
}

// ForgotPasswordRequest starts the password recovery flow
type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// Normalize trims and lower-cases the address
func (r *ForgotPasswordRequest) Normalize() {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
}

// Rules has no cross-field constraints
func (r *ForgotPasswordRequest) Rules() []Rule {
	return nil
}

func trimOptional(s *string) *string {
	if s == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*s)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
