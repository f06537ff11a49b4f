package download

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/vkuznetsov/digishop/internal/auth"
	"github.com/vkuznetsov/digishop/internal/config"
	"github.com/vkuznetsov/digishop/internal/models"
	"github.com/vkuznetsov/digishop/internal/mykafka"
)

type DownloadHandler struct {
	DB        *gorm.DB
	Producer  *mykafka.Producer
	JWTSecret []byte
	Cfg       *config.Config
}

// GetFile delivers a purchased file while the entitlement is still live.
// The quota check and the count bump are a single guarded UPDATE, and the
// file's presence is verified before the bump so a failed delivery is never
// charged as an attempt.
func (h *DownloadHandler) GetFile(c echo.Context) error {
	userID, err := auth.GetID(c, h.JWTSecret)
	if err != nil {
		return err
	}

	itemID, err := strconv.Atoi(c.Param("orderItemID"))
	if err != nil || itemID <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid order item id")
	}

	var item models.OrderItem
	if err := h.DB.First(&item, itemID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "order item not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	var order models.Order
	if err := h.DB.First(&order, item.OrderID).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if order.UserID != userID {
		return echo.NewHTTPError(http.StatusForbidden, "not your order")
	}
	if order.PaymentStatus != models.PaymentCompleted {
		return echo.NewHTTPError(http.StatusPaymentRequired, "order is not paid")
	}

	dl, err := h.loadOrCreate(&item, userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if !time.Now().Before(dl.ExpiresAt) {
		return echo.NewHTTPError(http.StatusGone, "download window expired")
	}

	var product models.Product
	if err := h.DB.First(&product, item.ProductID).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "file record missing")
	}
	path := filepath.Join(h.Cfg.FILES_DIR, product.FilePath)
	if _, err := os.Stat(path); err != nil {
		// Storage inconsistency, not a quota denial; support needs to see
		// the difference.
		c.Logger().Errorf("missing file for product %d: %v", product.ID, err)
		return echo.NewHTTPError(http.StatusInternalServerError, "file missing")
	}

	now := time.Now()
	res := h.DB.Model(&models.Download{}).
		Where("id = ? AND download_count < max_downloads", dl.ID).
		Updates(map[string]any{
			"download_count":  gorm.Expr("download_count + 1"),
			"last_downloaded": now,
		})
	if res.Error != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, res.Error.Error())
	}
	if res.RowsAffected == 0 {
		return echo.NewHTTPError(http.StatusForbidden, "download limit reached")
	}

	h.audit(c, dl, userID)

	return c.Attachment(path, product.FileName)
}

// Entitlements are created at checkout; creating one here is a fallback for
// orders that predate entitlement rows.
func (h *DownloadHandler) loadOrCreate(item *models.OrderItem, userID uint) (*models.Download, error) {
	var dl models.Download
	err := h.DB.Where("order_item_id = ?", item.ID).First(&dl).Error
	if err == nil {
		return &dl, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	maxDownloads := h.Cfg.MaxDownloads
	hours := h.Cfg.AccessWindowH
	var p models.Product
	if err := h.DB.First(&p, item.ProductID).Error; err == nil {
		if p.DownloadLimit > 0 {
			maxDownloads = p.DownloadLimit
		}
		if p.AccessHours > 0 {
			hours = p.AccessHours
		}
	}

	dl = models.Download{
		OrderItemID:  item.ID,
		UserID:       userID,
		MaxDownloads: maxDownloads,
		ExpiresAt:    time.Now().Add(time.Duration(hours) * time.Hour),
	}
	if err := h.DB.Create(&dl).Error; err != nil {
		return nil, err
	}
	return &dl, nil
}

func (h *DownloadHandler) audit(c echo.Context, dl *models.Download, userID uint) {
	entry := models.DownloadLog{
		DownloadID: dl.ID,
		UserID:     userID,
		RequestID:  requestID(c),
		CreatedAt:  time.Now(),
	}
	if err := h.DB.Create(&entry).Error; err != nil {
		c.Logger().Errorf("download audit error: %v", err)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	event := map[string]any{
		"type":        "file_downloaded",
		"userID":      userID,
		"downloadID":  dl.ID,
		"orderItemID": dl.OrderItemID,
	}
	if err := h.Producer.PublishEvent(ctx, "download_events", fmt.Sprint(userID), event); err != nil {
		c.Logger().Errorf("Kafka publish error: %v", err)
	}
}

func requestID(c echo.Context) string {
	if id := c.Response().Header().Get(echo.HeaderXRequestID); id != "" {
		return id
	}
	return uuid.NewString()
}
