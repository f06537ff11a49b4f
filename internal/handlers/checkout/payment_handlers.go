package checkout

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/vkuznetsov/digishop/internal/auth"
	"github.com/vkuznetsov/digishop/internal/models"
	"github.com/vkuznetsov/digishop/internal/pricing"
)

type paymentResult struct {
	OrderID       string `json:"order_id"`
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
}

// PaymentCallback is the gateway's return path. An order only ever moves
// from pending to a terminal state; repeating a terminal result is a no-op.
func (h *CheckoutHandler) PaymentCallback(c echo.Context) error {
	var req paymentResult
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Status != models.PaymentCompleted && req.Status != models.PaymentFailed {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown payment status")
	}

	var order models.Order
	if err := h.DB.Where("order_id = ?", req.OrderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "order not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	updates := map[string]any{"payment_status": req.Status}
	if req.Status == models.PaymentCompleted {
		updates["transaction_id"] = req.TransactionID
		updates["order_status"] = "paid"
	} else {
		updates["order_status"] = "cancelled"
	}

	// Guarded on the current status so a late or duplicate callback cannot
	// rewrite a terminal state.
	res := h.DB.Model(&models.Order{}).
		Where("order_id = ? AND payment_status = ?", req.OrderID, models.PaymentPending).
		Updates(updates)
	if res.Error != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, res.Error.Error())
	}

	if res.RowsAffected == 0 {
		if order.PaymentStatus == req.Status {
			return c.JSON(http.StatusOK, map[string]any{
				"order_id":       order.OrderID,
				"payment_status": order.PaymentStatus,
			})
		}
		return echo.NewHTTPError(http.StatusConflict, "order is not pending")
	}

	if req.Status == models.PaymentCompleted {
		h.publish(c, "order_events", map[string]any{
			"type":          "order_paid",
			"userID":        order.UserID,
			"orderID":       order.OrderID,
			"transactionID": req.TransactionID,
		})
		h.notify(c, order.UserID, "order_confirmation", map[string]any{
			"order_id": order.OrderID,
			"total":    order.TotalAmount,
		})
	} else {
		h.publish(c, "order_events", map[string]any{
			"type":    "order_payment_failed",
			"userID":  order.UserID,
			"orderID": order.OrderID,
		})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"order_id":       order.OrderID,
		"payment_status": req.Status,
	})
}

// Invoice re-derives the order summary through the same pricing path the
// cart and checkout use.
func (h *CheckoutHandler) Invoice(c echo.Context) error {
	userID, err := auth.GetID(c, h.JWTSecret)
	if err != nil {
		return err
	}

	var order models.Order
	if err := h.DB.Where("order_id = ?", c.Param("orderID")).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "order not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if order.UserID != userID {
		return echo.NewHTTPError(http.StatusForbidden, "not your order")
	}

	var items []models.OrderItem
	if err := h.DB.Where("order_id = ?", order.ID).Order("id ASC").Find(&items).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	var subtotal float64
	for _, it := range items {
		subtotal += it.ProductPrice * float64(it.Quantity)
	}
	tax, total := pricing.Quote(subtotal, h.Cfg.TaxRate, h.Cfg.TaxEnabled, order.DiscountAmount)

	return c.JSON(http.StatusOK, map[string]any{
		"order":    order,
		"items":    items,
		"subtotal": subtotal,
		"discount": order.DiscountAmount,
		"tax":      tax,
		"total":    total,
	})
}
