package backend

import (
	"context"
	"net/http"
	"net/url"

	"storefront-orders/internal/apperror"
	"storefront-orders/internal/models"
)

// CouponResult is the backend's verdict on a coupon code
type CouponResult struct {
	Code     string `json:"code"`
	Valid    bool   `json:"valid"`
	Discount int64  `json:"discount" validate:"gte=0"`
	Message  string `json:"message"`
}

// GiftCardResult is the backend's verdict on a gift card
type GiftCardResult struct {
	Code    string `json:"code"`
	Valid   bool   `json:"valid"`
	Balance int64  `json:"balance" validate:"gte=0"`
	Message string `json:"message"`
}

// PaymentRequest asks the gateway integration to open a payment
type PaymentRequest struct {
	OrderID     string                 `json:"orderId"`
	OrderNumber string                 `json:"orderNumber"`
	Amount      int64                  `json:"amount"`
	Currency    string                 `json:"currency"`
	Method      string                 `json:"method"`
	Email       string                 `json:"email"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// PaymentSession is an opened payment awaiting capture
type PaymentSession struct {
	PaymentID    string `json:"paymentId" validate:"required"`
	Status       string `json:"status" validate:"required"`
	RedirectURL  string `json:"redirectUrl,omitempty" validate:"omitempty,url"`
	ClientSecret string `json:"clientSecret,omitempty"`
}

// ValidateCoupon checks code against the order subtotal; unknown or invalid codes are COUPON_INVALID
func (c *Client) ValidateCoupon(ctx context.Context, code string, subtotal int64) (*CouponResult, error) {
	var result CouponResult
	err := c.call(ctx, "ValidateCoupon", http.MethodPost, "/api/coupons/validate", "",
		map[string]interface{}{"code": code, "subtotal": subtotal}, &result)
	if err != nil {
		if status := statusOf(err); status == http.StatusNotFound || status == http.StatusUnprocessableEntity {
			return nil, apperror.New(apperror.KindCouponInvalid, "coupon code is not valid")
		}
		return nil, classify(err)
	}
	if !result.Valid {
		msg := result.Message
		if msg == "" {
			msg = "coupon code is not valid"
		}
		return nil, apperror.New(apperror.KindCouponInvalid, msg)
	}
	return &result, nil
}

// ValidateGiftCard checks a gift card; unknown, empty or invalid cards are COUPON_INVALID
func (c *Client) ValidateGiftCard(ctx context.Context, code string) (*GiftCardResult, error) {
	var result GiftCardResult
	err := c.call(ctx, "ValidateGiftCard", http.MethodPost, "/api/gift-cards/validate", "",
		map[string]string{"code": code}, &result)
	if err != nil {
		if status := statusOf(err); status == http.StatusNotFound || status == http.StatusUnprocessableEntity {
			return nil, apperror.New(apperror.KindCouponInvalid, "gift card is not valid")
		}
		return nil, classify(err)
	}
	if !result.Valid || result.Balance == 0 {
		return nil, apperror.New(apperror.KindCouponInvalid, "gift card is not valid")
	}
	return &result, nil
}

// InitializePayment opens a payment for a persisted order
func (c *Client) InitializePayment(ctx context.Context, req PaymentRequest) (*PaymentSession, error) {
	var session PaymentSession
	if err := c.call(ctx, "InitializePayment", http.MethodPost, "/api/payments", "", req, &session); err != nil {
		return nil, classify(err)
	}
	return &session, nil
}

// GetShipmentTracking returns the carrier feed for an order, nil when nothing has shipped
func (c *Client) GetShipmentTracking(ctx context.Context, orderNumber string) (*models.ShipmentTracking, error) {
	var tracking models.ShipmentTracking
	err := c.call(ctx, "GetShipmentTracking", http.MethodGet,
		"/api/shipments/"+url.PathEscape(orderNumber)+"/tracking", "", nil, &tracking)
	if err != nil {
		if statusOf(err) == http.StatusNotFound {
			return nil, nil
		}
		return nil, classify(err)
	}
	return &tracking, nil
}

// ResolveSession maps an opaque bearer token to the caller's identity
func (c *Client) ResolveSession(ctx context.Context, token string) (*models.Identity, error) {
	var identity models.Identity
	err := c.call(ctx, "ResolveSession", http.MethodGet, "/api/auth/session", token, nil, &identity)
	if err != nil {
		switch statusOf(err) {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return nil, apperror.New(apperror.KindUnauthorized, "session is invalid or expired")
		}
		return nil, classify(err)
	}
	if identity.Role == "" {
		identity.Role = models.RoleCustomer
	}
	return &identity, nil
}

// RequestPasswordReset asks the backend to send a recovery e-mail.
// An unknown address is not an error.
func (c *Client) RequestPasswordReset(ctx context.Context, email string) error {
	err := c.call(ctx, "RequestPasswordReset", http.MethodPost, "/api/auth/forgot-password", "",
		map[string]string{"email": email}, nil)
	if err != nil {
		if statusOf(err) == http.StatusNotFound {
			return nil
		}
		return classify(err)
	}
	return nil
}
