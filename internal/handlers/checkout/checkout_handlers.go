package checkout

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/vkuznetsov/digishop/internal/auth"
	"github.com/vkuznetsov/digishop/internal/config"
	"github.com/vkuznetsov/digishop/internal/coupon"
	"github.com/vkuznetsov/digishop/internal/models"
	"github.com/vkuznetsov/digishop/internal/mykafka"
	"github.com/vkuznetsov/digishop/internal/pricing"
)

type CheckoutHandler struct {
	DB        *gorm.DB
	Producer  *mykafka.Producer
	JWTSecret []byte
	Cfg       *config.Config
	Slot      *coupon.Slot
}

type billingInfo struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Address string `json:"address"`
	City    string `json:"city"`
	Country string `json:"country"`
}

type checkoutRequest struct {
	Billing       billingInfo `json:"billing"`
	PaymentMethod string      `json:"payment_method"`
	CouponCode    string      `json:"coupon_code"`
}

func (b *billingInfo) validate() error {
	fields := map[string]string{
		"name":    b.Name,
		"email":   b.Email,
		"address": b.Address,
		"city":    b.City,
		"country": b.Country,
	}
	for name, v := range fields {
		if strings.TrimSpace(v) == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "missing billing field: "+name)
		}
	}
	return nil
}

func newOrderID() string {
	return fmt.Sprintf("DS-%s-%s",
		time.Now().Format("20060102"),
		strings.ToUpper(uuid.NewString()[:8]))
}

func couponHTTPError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, coupon.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, coupon.ErrUsageExceeded):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, coupon.ErrInactive),
		errors.Is(err, coupon.ErrExpired),
		errors.Is(err, coupon.ErrMinimumAmount):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// ApplyCoupon validates a code against the current cart and remembers it in
// the per-user session slot. The slot is display-state only; Checkout
// revalidates and redeems inside its own transaction.
func (h *CheckoutHandler) ApplyCoupon(c echo.Context) error {
	userID, err := auth.GetID(c, h.JWTSecret)
	if err != nil {
		return err
	}

	var req struct {
		Code string `json:"code"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Code == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing coupon code")
	}

	cart, err := pricing.Snapshot(h.DB, userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	cpn, err := coupon.Validate(h.DB, req.Code)
	if err != nil {
		if he := couponHTTPError(err); he != nil {
			return he
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	discount, err := coupon.Discount(cpn, cart.Subtotal)
	if err != nil {
		if he := couponHTTPError(err); he != nil {
			return he
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if err := h.Slot.Apply(c.Request().Context(), userID, cpn.Code); err != nil {
		c.Logger().Errorf("coupon slot error: %v", err)
	}

	tax, total := pricing.Quote(cart.Subtotal, h.Cfg.TaxRate, h.Cfg.TaxEnabled, discount)
	return c.JSON(http.StatusOK, map[string]any{
		"code":     cpn.Code,
		"discount": discount,
		"subtotal": cart.Subtotal,
		"tax":      tax,
		"total":    total,
	})
}

func (h *CheckoutHandler) RemoveCoupon(c echo.Context) error {
	userID, err := auth.GetID(c, h.JWTSecret)
	if err != nil {
		return err
	}
	if err := h.Slot.Clear(c.Request().Context(), userID); err != nil {
		c.Logger().Errorf("coupon slot error: %v", err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Checkout materializes the cart into an order in one transaction: order row,
// item snapshots, download entitlements, coupon redemption, cart clear.
// Totals are recomputed here; the client never supplies them.
func (h *CheckoutHandler) Checkout(c echo.Context) error {
	userID, err := auth.GetID(c, h.JWTSecret)
	if err != nil {
		return err
	}

	var req checkoutRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := req.Billing.validate(); err != nil {
		return err
	}
	if req.PaymentMethod == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing payment method")
	}

	couponCode := req.CouponCode
	if couponCode == "" {
		if code, err := h.Slot.Peek(c.Request().Context(), userID); err == nil {
			couponCode = code
		}
	}

	var (
		order models.Order
		items []models.OrderItem
	)

	txErr := h.DB.Transaction(func(tx *gorm.DB) error {
		cart, err := pricing.Snapshot(tx, userID)
		if err != nil {
			return err
		}
		active := cart.ActiveLines()
		if len(active) == 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "no items in cart")
		}

		var (
			discount float64
			cpn      *models.Coupon
		)
		if couponCode != "" {
			cpn, err = coupon.Validate(tx, couponCode)
			if err != nil {
				if he := couponHTTPError(err); he != nil {
					return he
				}
				return err
			}
			discount, err = coupon.Discount(cpn, cart.Subtotal)
			if err != nil {
				if he := couponHTTPError(err); he != nil {
					return he
				}
				return err
			}
		}

		_, total := pricing.Quote(cart.Subtotal, h.Cfg.TaxRate, h.Cfg.TaxEnabled, discount)

		order = models.Order{
			OrderID:        newOrderID(),
			UserID:         userID,
			TotalAmount:    total,
			DiscountAmount: discount,
			PaymentMethod:  req.PaymentMethod,
			BillingName:    req.Billing.Name,
			BillingEmail:   req.Billing.Email,
			BillingAddress: req.Billing.Address,
			BillingCity:    req.Billing.City,
			BillingCountry: req.Billing.Country,
			PaymentStatus:  models.PaymentPending,
			OrderStatus:    "new",
			CreatedAt:      time.Now(),
		}
		if cpn != nil {
			order.CouponCode = cpn.Code
		}
		if err := tx.Create(&order).Error; err != nil {
			return err
		}

		items = make([]models.OrderItem, 0, len(active))
		for _, line := range active {
			var p models.Product
			if err := tx.First(&p, line.ProductID).Error; err != nil {
				return err
			}

			oi := models.OrderItem{
				OrderID:      order.ID,
				UserID:       userID,
				ProductID:    line.ProductID,
				ProductTitle: line.Title,
				ProductPrice: line.UnitPrice,
				Quantity:     line.Quantity,
			}
			if err := tx.Create(&oi).Error; err != nil {
				return err
			}
			items = append(items, oi)

			dl := models.Download{
				OrderItemID:  oi.ID,
				UserID:       userID,
				MaxDownloads: maxDownloads(&p, h.Cfg),
				ExpiresAt:    time.Now().Add(accessWindow(&p, h.Cfg)),
			}
			if err := tx.Create(&dl).Error; err != nil {
				return err
			}
		}

		if cpn != nil {
			if err := coupon.Redeem(tx, cpn.ID); err != nil {
				if he := couponHTTPError(err); he != nil {
					return he
				}
				return err
			}
		}

		if err := tx.Where("user_id = ?", userID).Delete(&models.CartItem{}).Error; err != nil {
			return err
		}
		return nil
	})

	// The applied-coupon slot is display state only; drop it after any
	// checkout attempt so a stale code cannot be applied twice by accident.
	if err := h.Slot.Clear(c.Request().Context(), userID); err != nil {
		c.Logger().Errorf("coupon slot error: %v", err)
	}

	if txErr != nil {
		var he *echo.HTTPError
		if errors.As(txErr, &he) {
			return he
		}
		c.Logger().Errorf("checkout transaction failed: %v", txErr)
		return echo.NewHTTPError(http.StatusServiceUnavailable, "order creation failed, please retry")
	}

	h.publish(c, "order_events", map[string]any{
		"type":     "order_created",
		"userID":   userID,
		"orderID":  order.OrderID,
		"total":    order.TotalAmount,
		"discount": order.DiscountAmount,
	})
	h.notify(c, userID, "order_received", map[string]any{
		"order_id": order.OrderID,
		"total":    order.TotalAmount,
	})

	return c.JSON(http.StatusCreated, map[string]any{
		"order_id":       order.OrderID,
		"total_amount":   order.TotalAmount,
		"payment_status": order.PaymentStatus,
		"items":          items,
	})
}

func maxDownloads(p *models.Product, cfg *config.Config) uint {
	if p.DownloadLimit > 0 {
		return p.DownloadLimit
	}
	return cfg.MaxDownloads
}

func accessWindow(p *models.Product, cfg *config.Config) time.Duration {
	hours := cfg.AccessWindowH
	if p.AccessHours > 0 {
		hours = p.AccessHours
	}
	return time.Duration(hours) * time.Hour
}
