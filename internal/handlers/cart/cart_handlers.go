package cart

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/vkuznetsov/digishop/internal/auth"
	"github.com/vkuznetsov/digishop/internal/config"
	"github.com/vkuznetsov/digishop/internal/coupon"
	"github.com/vkuznetsov/digishop/internal/models"
	"github.com/vkuznetsov/digishop/internal/mykafka"
	"github.com/vkuznetsov/digishop/internal/pricing"
)

type CartHandler struct {
	DB        *gorm.DB
	Producer  *mykafka.Producer
	JWTSecret []byte
	Cfg       *config.Config
	Slot      *coupon.Slot
}

type cartResponse struct {
	Lines      []pricing.Line `json:"lines"`
	Subtotal   float64        `json:"subtotal"`
	CouponCode string         `json:"coupon_code,omitempty"`
	Discount   float64        `json:"discount"`
	Tax        float64        `json:"tax"`
	Total      float64        `json:"total"`
}

func (h *CartHandler) GetCart(c echo.Context) error {
	userID, err := auth.GetID(c, h.JWTSecret)
	if err != nil {
		return err
	}

	cart, err := pricing.Snapshot(h.DB, userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	resp := cartResponse{Lines: cart.Lines, Subtotal: cart.Subtotal}

	// Coupon preview from the session slot; a code that stopped being valid
	// since it was applied is simply not shown.
	if code, err := h.Slot.Peek(c.Request().Context(), userID); err == nil && code != "" {
		if cpn, err := coupon.Validate(h.DB, code); err == nil {
			if d, err := coupon.Discount(cpn, cart.Subtotal); err == nil {
				resp.CouponCode = code
				resp.Discount = d
			}
		}
	}

	resp.Tax, resp.Total = pricing.Quote(cart.Subtotal, h.Cfg.TaxRate, h.Cfg.TaxEnabled, resp.Discount)

	h.publish(c, map[string]any{
		"type":   "get_cart",
		"userID": userID,
	})

	return c.JSON(http.StatusOK, resp)
}

func (h *CartHandler) AddToCart(c echo.Context) error {
	userID, err := auth.GetID(c, h.JWTSecret)
	if err != nil {
		return err
	}

	var req struct {
		ProductID uint `json:"product_id"`
		Quantity  int  `json:"quantity"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Quantity < 1 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid quantity")
	}

	var p models.Product
	if err := h.DB.First(&p, req.ProductID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusBadRequest, "product unavailable")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if p.Status != models.ProductActive {
		return echo.NewHTTPError(http.StatusBadRequest, "product unavailable")
	}

	var item models.CartItem
	tx := h.DB.Where("user_id = ? AND product_id = ?", userID, req.ProductID).First(&item)
	if tx.Error == nil {
		item.Quantity += uint(req.Quantity)
		if err := h.DB.Save(&item).Error; err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		h.publish(c, map[string]any{
			"type":      "add_cart_items",
			"userID":    userID,
			"productID": req.ProductID,
			"quantity":  item.Quantity,
		})
		return c.JSON(http.StatusOK, item)
	}
	if !errors.Is(tx.Error, gorm.ErrRecordNotFound) {
		return echo.NewHTTPError(http.StatusInternalServerError, tx.Error.Error())
	}

	newItem := models.CartItem{
		UserID:    userID,
		ProductID: req.ProductID,
		Quantity:  uint(req.Quantity),
	}
	if err := h.DB.Create(&newItem).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	h.publish(c, map[string]any{
		"type":      "add_cart_items",
		"userID":    userID,
		"productID": req.ProductID,
		"quantity":  newItem.Quantity,
	})
	return c.JSON(http.StatusOK, newItem)
}

// UpdateCart sets an absolute quantity; zero or negative removes the line.
func (h *CartHandler) UpdateCart(c echo.Context) error {
	userID, err := auth.GetID(c, h.JWTSecret)
	if err != nil {
		return err
	}

	var req struct {
		ProductID uint `json:"product_id"`
		Quantity  int  `json:"quantity"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	var item models.CartItem
	if err := h.DB.Where("user_id = ? AND product_id = ?", userID, req.ProductID).First(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "item not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if req.Quantity <= 0 {
		if err := h.DB.Delete(&item).Error; err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		h.publish(c, map[string]any{
			"type":         "cart_item_deleted",
			"userID":       userID,
			"deleted_item": item.ID,
		})
		return c.JSON(http.StatusOK, map[string]any{"deleted_item": item.ID})
	}

	item.Quantity = uint(req.Quantity)
	if err := h.DB.Save(&item).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	h.publish(c, map[string]any{
		"type":         "cart_item_updated",
		"userID":       userID,
		"id":           item.ID,
		"new_quantity": item.Quantity,
	})
	return c.JSON(http.StatusOK, item)
}

func (h *CartHandler) RemoveFromCart(c echo.Context) error {
	userID, err := auth.GetID(c, h.JWTSecret)
	if err != nil {
		return err
	}

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	if err := h.DB.
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&models.CartItem{}).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	var remaining []models.CartItem
	if err := h.DB.Where("user_id = ?", userID).Find(&remaining).Error; err != nil {
		c.Logger().Errorf("DB read after delete error: %v", err)
	}

	h.publish(c, map[string]any{
		"type":         "cart_item_deleted",
		"userID":       userID,
		"deleted_item": id,
		"remaining":    remaining,
	})

	return c.JSON(http.StatusOK, remaining)
}
