package checkout

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/vkuznetsov/digishop/internal/config"
	"github.com/vkuznetsov/digishop/internal/coupon"
	"github.com/vkuznetsov/digishop/internal/models"
	"github.com/vkuznetsov/digishop/internal/mykafka"
)

var testSecret = []byte("test_secret")

func initTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to connect to in-memory db: %v", err)
	}
	if err := config.Migrate(db); err != nil {
		t.Fatalf("failed to migrate tables: %v", err)
	}
	return db
}

func newHandler(t *testing.T) *CheckoutHandler {
	return &CheckoutHandler{
		DB:        initTestDB(t),
		Producer:  &mykafka.Producer{},
		JWTSecret: testSecret,
		Cfg:       &config.Config{TaxRate: 18, TaxEnabled: true, MaxDownloads: 5, AccessWindowH: 24},
		Slot:      &coupon.Slot{},
	}
}

func signToken(t *testing.T, userID uint) string {
	claims := jwt.MapClaims{
		"sub":  float64(userID),
		"role": "user",
		"exp":  time.Now().Add(time.Hour).Unix(),
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)
	return s
}

func doJSONRequest(t *testing.T, method, path string, body interface{}, userID uint) (*httptest.ResponseRecorder, echo.Context) {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if userID != 0 {
		req.AddCookie(&http.Cookie{Name: "accessToken", Value: signToken(t, userID), Path: "/"})
	}
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)
	return rec, c
}

func validBilling() map[string]any {
	return map[string]any{
		"name":    "Ivan Petrov",
		"email":   "ivan@example.com",
		"address": "Main st. 1",
		"city":    "Berlin",
		"country": "DE",
	}
}

func seedCart(t *testing.T, db *gorm.DB, userID uint) models.Product {
	p := models.Product{Name: "ebook", Price: 100, Status: models.ProductActive, FilePath: "ebook.pdf", FileName: "ebook.pdf"}
	require.NoError(t, db.Create(&p).Error)
	require.NoError(t, db.Create(&models.CartItem{UserID: userID, ProductID: p.ID, Quantity: 2}).Error)
	return p
}

func TestCheckoutHappyPath(t *testing.T) {
	h := newHandler(t)
	seedCart(t, h.DB, 1)

	load := map[string]any{"billing": validBilling(), "payment_method": "card"}
	rec, c := doJSONRequest(t, http.MethodPost, "/api/v1/checkout", load, 1)
	require.NoError(t, h.Checkout(c))
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		OrderID       string             `json:"order_id"`
		TotalAmount   float64            `json:"total_amount"`
		PaymentStatus string             `json:"payment_status"`
		Items         []models.OrderItem `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.OrderID)
	require.Equal(t, float64(236), resp.TotalAmount)
	require.Equal(t, models.PaymentPending, resp.PaymentStatus)
	require.Len(t, resp.Items, 1)
	require.Equal(t, "ebook", resp.Items[0].ProductTitle)
	require.Equal(t, float64(100), resp.Items[0].ProductPrice)
	require.Equal(t, uint(2), resp.Items[0].Quantity)

	// Cart is cleared only on success.
	var cartCount int64
	h.DB.Model(&models.CartItem{}).Where("user_id = ?", 1).Count(&cartCount)
	require.Equal(t, int64(0), cartCount)

	// Entitlement ready with default quota and window.
	var dl models.Download
	require.NoError(t, h.DB.Where("order_item_id = ?", resp.Items[0].ID).First(&dl).Error)
	require.Equal(t, uint(0), dl.DownloadCount)
	require.Equal(t, uint(5), dl.MaxDownloads)
	require.WithinDuration(t, time.Now().Add(24*time.Hour), dl.ExpiresAt, time.Minute)
}

func TestCheckoutUsesProductEntitlementOverrides(t *testing.T) {
	h := newHandler(t)
	p := models.Product{
		Name: "video", Price: 50, Status: models.ProductActive,
		DownloadLimit: 3, AccessHours: 48,
	}
	require.NoError(t, h.DB.Create(&p).Error)
	require.NoError(t, h.DB.Create(&models.CartItem{UserID: 1, ProductID: p.ID, Quantity: 1}).Error)

	load := map[string]any{"billing": validBilling(), "payment_method": "card"}
	rec, c := doJSONRequest(t, http.MethodPost, "/api/v1/checkout", load, 1)
	require.NoError(t, h.Checkout(c))
	require.Equal(t, http.StatusCreated, rec.Code)

	var dl models.Download
	require.NoError(t, h.DB.First(&dl).Error)
	require.Equal(t, uint(3), dl.MaxDownloads)
	require.WithinDuration(t, time.Now().Add(48*time.Hour), dl.ExpiresAt, time.Minute)
}

func TestCheckoutWithCoupon(t *testing.T) {
	h := newHandler(t)
	seedCart(t, h.DB, 1)
	cpn := models.Coupon{
		Code: "SAVE10", DiscountType: models.CouponPercentage, DiscountValue: 10,
		MinimumAmount: 150, Status: models.CouponActive,
	}
	require.NoError(t, h.DB.Create(&cpn).Error)

	load := map[string]any{"billing": validBilling(), "payment_method": "card", "coupon_code": "SAVE10"}
	rec, c := doJSONRequest(t, http.MethodPost, "/api/v1/checkout", load, 1)
	require.NoError(t, h.Checkout(c))
	require.Equal(t, http.StatusCreated, rec.Code)

	var order models.Order
	require.NoError(t, h.DB.First(&order).Error)
	// 200 + 36 tax - 20 discount
	require.Equal(t, float64(216), order.TotalAmount)
	require.Equal(t, float64(20), order.DiscountAmount)
	require.Equal(t, "SAVE10", order.CouponCode)

	var got models.Coupon
	require.NoError(t, h.DB.First(&got, cpn.ID).Error)
	require.Equal(t, uint(1), got.UsedCount)
}

func TestCheckoutCouponBelowMinimum(t *testing.T) {
	h := newHandler(t)
	seedCart(t, h.DB, 1)
	require.NoError(t, h.DB.Create(&models.Coupon{
		Code: "BIG", DiscountType: models.CouponPercentage, DiscountValue: 10,
		MinimumAmount: 300, Status: models.CouponActive,
	}).Error)

	load := map[string]any{"billing": validBilling(), "payment_method": "card", "coupon_code": "BIG"}
	_, c := doJSONRequest(t, http.MethodPost, "/api/v1/checkout", load, 1)
	err := h.Checkout(c)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok, "expected HTTPError")
	require.Equal(t, http.StatusBadRequest, he.Code)

	var orders int64
	h.DB.Model(&models.Order{}).Count(&orders)
	require.Equal(t, int64(0), orders)

	var cartCount int64
	h.DB.Model(&models.CartItem{}).Where("user_id = ?", 1).Count(&cartCount)
	require.Equal(t, int64(1), cartCount)
}

func TestCheckoutEmptyCart(t *testing.T) {
	h := newHandler(t)

	load := map[string]any{"billing": validBilling(), "payment_method": "card"}
	_, c := doJSONRequest(t, http.MethodPost, "/api/v1/checkout", load, 1)
	err := h.Checkout(c)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok, "expected HTTPError")
	require.Equal(t, http.StatusBadRequest, he.Code)
}

func TestCheckoutOnlyInactiveLines(t *testing.T) {
	h := newHandler(t)
	p := models.Product{Name: "retired", Price: 10, Status: models.ProductInactive}
	require.NoError(t, h.DB.Create(&p).Error)
	require.NoError(t, h.DB.Create(&models.CartItem{UserID: 1, ProductID: p.ID, Quantity: 1}).Error)

	load := map[string]any{"billing": validBilling(), "payment_method": "card"}
	_, c := doJSONRequest(t, http.MethodPost, "/api/v1/checkout", load, 1)
	err := h.Checkout(c)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok, "expected HTTPError")
	require.Equal(t, http.StatusBadRequest, he.Code)
}

func TestCheckoutMissingBillingField(t *testing.T) {
	h := newHandler(t)
	seedCart(t, h.DB, 1)

	billing := validBilling()
	billing["email"] = "  "
	load := map[string]any{"billing": billing, "payment_method": "card"}
	_, c := doJSONRequest(t, http.MethodPost, "/api/v1/checkout", load, 1)
	err := h.Checkout(c)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok, "expected HTTPError")
	require.Equal(t, http.StatusBadRequest, he.Code)
	require.Equal(t, "missing billing field: email", he.Message)
}

func TestCheckoutRollsBackOnFailure(t *testing.T) {
	h := newHandler(t)
	seedCart(t, h.DB, 1)
	cpn := models.Coupon{
		Code: "SAVE10", DiscountType: models.CouponPercentage, DiscountValue: 10,
		Status: models.CouponActive,
	}
	require.NoError(t, h.DB.Create(&cpn).Error)

	// The first order item in a fresh DB gets id 1; a conflicting
	// entitlement row makes the entitlement insert fail mid-transaction.
	require.NoError(t, h.DB.Create(&models.Download{
		OrderItemID: 1, UserID: 9, MaxDownloads: 1, ExpiresAt: time.Now(),
	}).Error)

	load := map[string]any{"billing": validBilling(), "payment_method": "card", "coupon_code": "SAVE10"}
	_, c := doJSONRequest(t, http.MethodPost, "/api/v1/checkout", load, 1)
	err := h.Checkout(c)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok, "expected HTTPError")
	require.Equal(t, http.StatusServiceUnavailable, he.Code)

	// Nothing from the attempt survives.
	var orders, items int64
	h.DB.Model(&models.Order{}).Count(&orders)
	h.DB.Model(&models.OrderItem{}).Count(&items)
	require.Equal(t, int64(0), orders)
	require.Equal(t, int64(0), items)

	var cartCount int64
	h.DB.Model(&models.CartItem{}).Where("user_id = ?", 1).Count(&cartCount)
	require.Equal(t, int64(1), cartCount)

	var got models.Coupon
	require.NoError(t, h.DB.First(&got, cpn.ID).Error)
	require.Equal(t, uint(0), got.UsedCount)
}

func TestCheckoutCouponUsageLimitAcrossOrders(t *testing.T) {
	h := newHandler(t)
	limit := uint(2)
	cpn := models.Coupon{
		Code: "LIM2", DiscountType: models.CouponFixed, DiscountValue: 5,
		Status: models.CouponActive, UsageLimit: &limit,
	}
	require.NoError(t, h.DB.Create(&cpn).Error)

	p := models.Product{Name: "ebook", Price: 100, Status: models.ProductActive}
	require.NoError(t, h.DB.Create(&p).Error)

	load := map[string]any{"billing": validBilling(), "payment_method": "card", "coupon_code": "LIM2"}
	for i := 0; i < 2; i++ {
		require.NoError(t, h.DB.Create(&models.CartItem{UserID: 1, ProductID: p.ID, Quantity: 1}).Error)
		rec, c := doJSONRequest(t, http.MethodPost, "/api/v1/checkout", load, 1)
		require.NoError(t, h.Checkout(c))
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	require.NoError(t, h.DB.Create(&models.CartItem{UserID: 1, ProductID: p.ID, Quantity: 1}).Error)
	_, c := doJSONRequest(t, http.MethodPost, "/api/v1/checkout", load, 1)
	err := h.Checkout(c)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok, "expected HTTPError")
	require.Equal(t, http.StatusConflict, he.Code)

	var got models.Coupon
	require.NoError(t, h.DB.First(&got, cpn.ID).Error)
	require.Equal(t, uint(2), got.UsedCount)
}

func TestApplyCouponPreview(t *testing.T) {
	h := newHandler(t)
	seedCart(t, h.DB, 1)
	require.NoError(t, h.DB.Create(&models.Coupon{
		Code: "SAVE10", DiscountType: models.CouponPercentage, DiscountValue: 10,
		MinimumAmount: 150, Status: models.CouponActive,
	}).Error)

	rec, c := doJSONRequest(t, http.MethodPost, "/api/v1/coupon/apply", map[string]string{"code": "SAVE10"}, 1)
	require.NoError(t, h.ApplyCoupon(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, float64(20), resp["discount"])
	require.Equal(t, float64(216), resp["total"])

	// Preview must not consume the coupon.
	var got models.Coupon
	require.NoError(t, h.DB.Where("code = ?", "SAVE10").First(&got).Error)
	require.Equal(t, uint(0), got.UsedCount)
}

func TestApplyCouponUnknownCode(t *testing.T) {
	h := newHandler(t)
	seedCart(t, h.DB, 1)

	_, c := doJSONRequest(t, http.MethodPost, "/api/v1/coupon/apply", map[string]string{"code": "NOPE"}, 1)
	err := h.ApplyCoupon(c)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok, "expected HTTPError")
	require.Equal(t, http.StatusNotFound, he.Code)
}
