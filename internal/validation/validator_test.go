package validation

import (
	"strings"
	"testing"

	"storefront-orders/internal/apperror"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validAddress = `{
	"firstName": "Ada", "lastName": "Lovelace", "addressLine1": "12 Analytical Way",
	"city": "London", "state": "LDN", "postalCode": "N1 9GU", "country": "GB",
	"phone": "+44 20 7946 0000"
}`

func violationFields(t *testing.T, err error) []string {
	t.Helper()
	require.Error(t, err)
	appErr := apperror.As(err)
	require.Equal(t, apperror.KindValidation, appErr.Kind, appErr.Error())
	fields := make([]string, 0, len(appErr.Violations))
	for _, v := range appErr.Violations {
		fields = append(fields, v.Field)
	}
	return fields
}

func TestBindCreateOrder(t *testing.T) {
	body := `{
		"items": [{"productId": 1, "quantity": 2}],
		"shippingAddress": ` + validAddress + `,
		"useSameAddress": true,
		"shippingMethod": "standard",
		"paymentMethod": "credit_card",
		"couponCode": "  ",
		"agreeToTerms": true
	}`

	var req CreateOrderRequest
	require.NoError(t, New().Bind([]byte(body), &req))

	require.NotNil(t, req.BillingAddress)
	assert.Equal(t, req.ShippingAddress.City, req.BillingAddress.City)
	assert.Nil(t, req.CouponCode)
	assert.True(t, req.RequiresPayment())
}

func TestBindRejectsGuestWithoutEmail(t *testing.T) {
	body := `{
		"items": [{"productId": 1, "quantity": 1}],
		"shippingAddress": ` + validAddress + `,
		"useSameAddress": true,
		"shippingMethod": "standard",
		"paymentMethod": "cash_on_delivery",
		"isGuestOrder": true,
		"agreeToTerms": true
	}`

	var req CreateOrderRequest
	err := New().Bind([]byte(body), &req)
	assert.Equal(t, []string{"guestEmail"}, violationFields(t, err))
}

func TestBindReportsNestedFieldPaths(t *testing.T) {
	body := `{
		"items": [{"productId": 1, "quantity": 0}],
		"shippingAddress": ` + validAddress + `,
		"useSameAddress": true,
		"shippingMethod": "standard",
		"paymentMethod": "bitcoin",
		"agreeToTerms": false
	}`

	var req CreateOrderRequest
	fields := violationFields(t, New().Bind([]byte(body), &req))
	assert.ElementsMatch(t, []string{"items[0].quantity", "paymentMethod", "agreeToTerms"}, fields)
}

func TestBindSkipsRefinementsUntilFieldsPass(t *testing.T) {
	// isGuestOrder without guestEmail is not reported while a field rule fails
	body := `{"items": [], "isGuestOrder": true, "agreeToTerms": true}`

	var req CreateOrderRequest
	fields := violationFields(t, New().Bind([]byte(body), &req))
	assert.NotContains(t, fields, "guestEmail")
	assert.Contains(t, fields, "items")
	assert.Contains(t, fields, "shippingAddress")
}

func TestBindMalformedJSON(t *testing.T) {
	var req CancelOrderRequest

	err := New().Bind([]byte(`{"orderId": `), &req)
	assert.True(t, apperror.IsKind(err, apperror.KindInvalidJSON))

	err = New().Bind(nil, &req)
	assert.True(t, apperror.IsKind(err, apperror.KindInvalidJSON))
}

func TestBindWrongTypeIsValidationError(t *testing.T) {
	var req CancelOrderRequest
	err := New().Bind([]byte(`{"orderId": 42, "reason": "other"}`), &req)
	assert.Equal(t, []string{"orderId"}, violationFields(t, err))
}

func TestBindWrongTypeReportsArrayIndex(t *testing.T) {
	body := `{
		"items": [{"productId": 1, "quantity": 2}, {"productId": 2, "quantity": "3"}],
		"shippingAddress": ` + validAddress + `,
		"useSameAddress": true,
		"shippingMethod": "standard",
		"paymentMethod": "credit_card",
		"agreeToTerms": true
	}`

	var req CreateOrderRequest
	assert.Equal(t, []string{"items[1].quantity"}, violationFields(t, New().Bind([]byte(body), &req)))

	fractional := strings.Replace(body, `"quantity": "3"`, `"quantity": 1.5`, 1)
	req = CreateOrderRequest{}
	assert.Equal(t, []string{"items[1].quantity"}, violationFields(t, New().Bind([]byte(fractional), &req)))
}

func TestBindWrongTypeOfWholeBody(t *testing.T) {
	var req CancelOrderRequest
	assert.Equal(t, []string{"body"}, violationFields(t, New().Bind([]byte(`["ord-1"]`), &req)))
}

func TestCancelOrderDefaults(t *testing.T) {
	var req CancelOrderRequest
	require.NoError(t, New().Bind([]byte(`{"orderId": "ord-1", "reason": "changed_mind"}`), &req))

	assert.Equal(t, "full", req.CancelType)
	assert.True(t, req.WantsRefund())
	assert.Empty(t, req.RefundMethod)
}

func TestPartialCancellationRequiresItems(t *testing.T) {
	var req CancelOrderRequest
	err := New().Bind([]byte(`{"orderId": "ord-1", "reason": "other", "cancelType": "partial"}`), &req)
	assert.Equal(t, []string{"items"}, violationFields(t, err))
}

func TestPartialCancellationRejectsDuplicates(t *testing.T) {
	body := `{"orderId": "ord-1", "reason": "other", "cancelType": "partial",
		"items": [{"itemId": "a", "quantity": 1}, {"itemId": "a", "quantity": 1}]}`

	var req CancelOrderRequest
	assert.Equal(t, []string{"items"}, violationFields(t, New().Bind([]byte(body), &req)))
}

func TestTrackOrderNormalizes(t *testing.T) {
	req := TrackOrderRequest{OrderNumber: " ord-20240304-0001 ", Email: "Ada@Example.COM "}
	require.NoError(t, New().Check(&req))

	assert.Equal(t, "ORD-20240304-0001", req.OrderNumber)
	assert.Equal(t, "ada@example.com", req.Email)
}

func TestForgotPasswordRequiresEmail(t *testing.T) {
	var req ForgotPasswordRequest
	err := New().Bind([]byte(`{"email": "not-an-email"}`), &req)
	assert.Equal(t, []string{"email"}, violationFields(t, err))
}
