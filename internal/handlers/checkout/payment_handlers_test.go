package checkout

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/vkuznetsov/digishop/internal/models"
)

func seedOrder(t *testing.T, h *CheckoutHandler, userID uint) models.Order {
	order := models.Order{
		OrderID:        "DS-20250101-TESTORD1",
		UserID:         userID,
		TotalAmount:    236,
		DiscountAmount: 0,
		PaymentMethod:  "card",
		BillingName:    "Ivan Petrov",
		BillingEmail:   "ivan@example.com",
		BillingAddress: "Main st. 1",
		BillingCity:    "Berlin",
		BillingCountry: "DE",
		PaymentStatus:  models.PaymentPending,
		OrderStatus:    "new",
		CreatedAt:      time.Now(),
	}
	require.NoError(t, h.DB.Create(&order).Error)
	return order
}

func TestPaymentCallbackCompletesOrder(t *testing.T) {
	h := newHandler(t)
	order := seedOrder(t, h, 1)

	load := map[string]string{"order_id": order.OrderID, "status": "completed", "transaction_id": "tx-42"}
	rec, c := doJSONRequest(t, http.MethodPost, "/api/v1/payments/result", load, 0)
	require.NoError(t, h.PaymentCallback(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var got models.Order
	require.NoError(t, h.DB.Where("order_id = ?", order.OrderID).First(&got).Error)
	require.Equal(t, models.PaymentCompleted, got.PaymentStatus)
	require.Equal(t, "tx-42", got.TransactionID)
	require.Equal(t, "paid", got.OrderStatus)
}

func TestPaymentCallbackFailsOrder(t *testing.T) {
	h := newHandler(t)
	order := seedOrder(t, h, 1)

	load := map[string]string{"order_id": order.OrderID, "status": "failed"}
	rec, c := doJSONRequest(t, http.MethodPost, "/api/v1/payments/result", load, 0)
	require.NoError(t, h.PaymentCallback(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var got models.Order
	require.NoError(t, h.DB.Where("order_id = ?", order.OrderID).First(&got).Error)
	require.Equal(t, models.PaymentFailed, got.PaymentStatus)
}

func TestPaymentCallbackIdempotentOnRepeat(t *testing.T) {
	h := newHandler(t)
	order := seedOrder(t, h, 1)

	load := map[string]string{"order_id": order.OrderID, "status": "completed", "transaction_id": "tx-42"}
	for i := 0; i < 2; i++ {
		rec, c := doJSONRequest(t, http.MethodPost, "/api/v1/payments/result", load, 0)
		require.NoError(t, h.PaymentCallback(c))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	var got models.Order
	require.NoError(t, h.DB.Where("order_id = ?", order.OrderID).First(&got).Error)
	require.Equal(t, models.PaymentCompleted, got.PaymentStatus)
}

func TestPaymentCallbackRejectsTerminalFlip(t *testing.T) {
	h := newHandler(t)
	order := seedOrder(t, h, 1)

	load := map[string]string{"order_id": order.OrderID, "status": "completed", "transaction_id": "tx-42"}
	_, c := doJSONRequest(t, http.MethodPost, "/api/v1/payments/result", load, 0)
	require.NoError(t, h.PaymentCallback(c))

	load["status"] = "failed"
	_, c = doJSONRequest(t, http.MethodPost, "/api/v1/payments/result", load, 0)
	err := h.PaymentCallback(c)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok, "expected HTTPError")
	require.Equal(t, http.StatusConflict, he.Code)

	var got models.Order
	require.NoError(t, h.DB.Where("order_id = ?", order.OrderID).First(&got).Error)
	require.Equal(t, models.PaymentCompleted, got.PaymentStatus)
}

func TestPaymentCallbackUnknownOrder(t *testing.T) {
	h := newHandler(t)

	load := map[string]string{"order_id": "DS-NOPE", "status": "completed"}
	_, c := doJSONRequest(t, http.MethodPost, "/api/v1/payments/result", load, 0)
	err := h.PaymentCallback(c)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok, "expected HTTPError")
	require.Equal(t, http.StatusNotFound, he.Code)
}

func TestPaymentCallbackUnknownStatus(t *testing.T) {
	h := newHandler(t)
	order := seedOrder(t, h, 1)

	load := map[string]string{"order_id": order.OrderID, "status": "maybe"}
	_, c := doJSONRequest(t, http.MethodPost, "/api/v1/payments/result", load, 0)
	err := h.PaymentCallback(c)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok, "expected HTTPError")
	require.Equal(t, http.StatusBadRequest, he.Code)
}

func TestInvoiceMatchesCheckoutNumbers(t *testing.T) {
	h := newHandler(t)
	seedCart(t, h.DB, 1)
	require.NoError(t, h.DB.Create(&models.Coupon{
		Code: "SAVE10", DiscountType: models.CouponPercentage, DiscountValue: 10,
		Status: models.CouponActive,
	}).Error)

	load := map[string]any{"billing": validBilling(), "payment_method": "card", "coupon_code": "SAVE10"}
	rec, c := doJSONRequest(t, http.MethodPost, "/api/v1/checkout", load, 1)
	require.NoError(t, h.Checkout(c))

	var created struct {
		OrderID     string  `json:"order_id"`
		TotalAmount float64 `json:"total_amount"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec, c = doJSONRequest(t, http.MethodGet, "/api/v1/invoice/"+created.OrderID, nil, 1)
	c.SetParamNames("orderID")
	c.SetParamValues(created.OrderID)
	require.NoError(t, h.Invoice(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var inv struct {
		Subtotal float64 `json:"subtotal"`
		Discount float64 `json:"discount"`
		Tax      float64 `json:"tax"`
		Total    float64 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &inv))
	require.Equal(t, float64(200), inv.Subtotal)
	require.Equal(t, float64(20), inv.Discount)
	require.Equal(t, float64(36), inv.Tax)
	require.Equal(t, created.TotalAmount, inv.Total)
}

func TestInvoiceForeignOrderForbidden(t *testing.T) {
	h := newHandler(t)
	order := seedOrder(t, h, 1)

	_, c := doJSONRequest(t, http.MethodGet, "/api/v1/invoice/"+order.OrderID, nil, 2)
	c.SetParamNames("orderID")
	c.SetParamValues(order.OrderID)
	err := h.Invoice(c)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok, "expected HTTPError")
	require.Equal(t, http.StatusForbidden, he.Code)
}
