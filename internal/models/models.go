package models

import (
	"time"
)

const (
	ProductActive   = "active"
	ProductInactive = "inactive"
)

type Product struct {
	ID          uint    `gorm:"primaryKey;autoIncrement"  json:"id"`
	Name        string  `gorm:"not null"                  json:"name"`
	Description string  `gorm:"not null"                  json:"description"`
	Price       float64 `gorm:"not null"                  json:"price"`
	Status      string  `gorm:"not null;default:active"   json:"status"`
	FilePath    string  `json:"-"`
	FileName    string  `json:"file_name"`
	// 0 means "use the configured default".
	DownloadLimit uint `json:"download_limit"`
	AccessHours   uint `json:"access_hours"`
}

type CartItem struct {
	ID        uint `gorm:"primaryKey"                                  json:"id"`
	UserID    uint `gorm:"not null;uniqueIndex:idx_cart_user_product"  json:"user_id"`
	ProductID uint `gorm:"not null;uniqueIndex:idx_cart_user_product"  json:"product_id"`
	Quantity  uint `gorm:"default:1;check:quantity>0"                  json:"quantity"`
}

const (
	CouponPercentage = "percentage"
	CouponFixed      = "fixed"

	CouponActive   = "active"
	CouponInactive = "inactive"
)

type Coupon struct {
	ID            uint       `gorm:"primaryKey"              json:"id"`
	Code          string     `gorm:"unique;not null"         json:"code"`
	DiscountType  string     `gorm:"not null"                json:"discount_type"`
	DiscountValue float64    `gorm:"not null"                json:"discount_value"`
	MinimumAmount float64    `json:"minimum_amount"`
	UsageLimit    *uint      `json:"usage_limit"`
	UsedCount     uint       `gorm:"default:0"               json:"used_count"`
	ExpiresAt     *time.Time `json:"expires_at"`
	Status        string     `gorm:"not null;default:active" json:"status"`
}

const (
	PaymentPending   = "pending"
	PaymentCompleted = "completed"
	PaymentFailed    = "failed"
)

type Order struct {
	ID             uint      `gorm:"primaryKey"               json:"id"`
	OrderID        string    `gorm:"unique;not null"          json:"order_id"`
	UserID         uint      `gorm:"index;not null"           json:"user_id"`
	TotalAmount    float64   `gorm:"not null"                 json:"total_amount"`
	DiscountAmount float64   `json:"discount_amount"`
	CouponCode     string    `json:"coupon_code,omitempty"`
	PaymentMethod  string    `gorm:"not null"                 json:"payment_method"`
	BillingName    string    `gorm:"not null"                 json:"billing_name"`
	BillingEmail   string    `gorm:"not null"                 json:"billing_email"`
	BillingAddress string    `gorm:"not null"                 json:"billing_address"`
	BillingCity    string    `gorm:"not null"                 json:"billing_city"`
	BillingCountry string    `gorm:"not null"                 json:"billing_country"`
	PaymentStatus  string    `gorm:"not null;default:pending" json:"payment_status"`
	OrderStatus    string    `gorm:"not null;default:new"     json:"order_status"`
	TransactionID  string    `json:"transaction_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// OrderItem freezes title and price at purchase time; later catalog edits
// must not change what the buyer paid for.
type OrderItem struct {
	ID           uint    `gorm:"primaryKey"      json:"id"`
	OrderID      uint    `gorm:"index;not null"  json:"order_id"`
	UserID       uint    `gorm:"index;not null"  json:"user_id"`
	ProductID    uint    `gorm:"not null"        json:"product_id"`
	ProductTitle string  `gorm:"not null"        json:"product_title"`
	ProductPrice float64 `gorm:"not null"        json:"product_price"`
	Quantity     uint    `gorm:"not null"        json:"quantity"`
}

type Download struct {
	ID             uint       `gorm:"primaryKey"            json:"id"`
	OrderItemID    uint       `gorm:"uniqueIndex;not null"  json:"order_item_id"`
	UserID         uint       `gorm:"index;not null"        json:"user_id"`
	DownloadCount  uint       `gorm:"default:0"             json:"download_count"`
	MaxDownloads   uint       `gorm:"not null"              json:"max_downloads"`
	ExpiresAt      time.Time  `gorm:"not null"              json:"expires_at"`
	LastDownloaded *time.Time `json:"last_downloaded,omitempty"`
}

type DownloadLog struct {
	ID         uint      `gorm:"primaryKey"      json:"id"`
	DownloadID uint      `gorm:"index;not null"  json:"download_id"`
	UserID     uint      `gorm:"index;not null"  json:"user_id"`
	RequestID  string    `json:"request_id"`
	CreatedAt  time.Time `json:"created_at"`
}
