package coupon

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/vkuznetsov/digishop/internal/models"
)

var (
	ErrNotFound      = errors.New("coupon not found")
	ErrInactive      = errors.New("coupon is not active")
	ErrExpired       = errors.New("coupon has expired")
	ErrUsageExceeded = errors.New("coupon usage limit reached")
	ErrMinimumAmount = errors.New("cart total below coupon minimum amount")
)

// Validate looks up a code (case-sensitive) and checks it is currently
// usable: active status, not expired, usage limit not yet reached.
func Validate(db *gorm.DB, code string) (*models.Coupon, error) {
	var c models.Coupon
	if err := db.Where("code = ?", code).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if c.Status != models.CouponActive {
		return nil, ErrInactive
	}
	if c.ExpiresAt != nil && !c.ExpiresAt.After(time.Now()) {
		return nil, ErrExpired
	}
	if c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit {
		return nil, ErrUsageExceeded
	}
	return &c, nil
}

// Discount returns the discount AMOUNT for the given pre-tax cart total,
// never a post-discount total. A fixed discount is capped at the total.
// Returns ErrMinimumAmount when the cart is too small for the coupon.
func Discount(c *models.Coupon, cartTotal float64) (float64, error) {
	if cartTotal < c.MinimumAmount {
		return 0, ErrMinimumAmount
	}
	switch c.DiscountType {
	case models.CouponPercentage:
		return cartTotal * c.DiscountValue / 100, nil
	case models.CouponFixed:
		if c.DiscountValue > cartTotal {
			return cartTotal, nil
		}
		return c.DiscountValue, nil
	}
	return 0, fmt.Errorf("unknown discount type %q", c.DiscountType)
}

// Redeem bumps used_count inside the caller's transaction. The usage-limit
// check and the increment are one guarded UPDATE so two concurrent checkouts
// cannot jointly overrun the limit.
func Redeem(tx *gorm.DB, couponID uint) error {
	res := tx.Model(&models.Coupon{}).
		Where("id = ? AND (usage_limit IS NULL OR used_count < usage_limit)", couponID).
		UpdateColumn("used_count", gorm.Expr("used_count + 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUsageExceeded
	}
	return nil
}
