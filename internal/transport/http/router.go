package httpserver

import (
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/vkuznetsov/digishop/internal/auth"
	"github.com/vkuznetsov/digishop/internal/handlers"
	"github.com/vkuznetsov/digishop/internal/handlers/cart"
	"github.com/vkuznetsov/digishop/internal/handlers/checkout"
	"github.com/vkuznetsov/digishop/internal/handlers/download"
)

type Deps struct {
	DB              *gorm.DB
	JWTSecret       []byte
	ProductHandler  *handlers.ProductHandler
	SearchHandler   *handlers.SearchHandler
	CartHandler     *cart.CartHandler
	CheckoutHandler *checkout.CheckoutHandler
	DownloadHandler *download.DownloadHandler
}

func Register(e *echo.Echo, d *Deps) {
	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(200) })
	e.GET("/health/ready", func(c echo.Context) error { return c.NoContent(200) })

	v1 := e.Group("/api/v1")

	v1.GET("/search", d.SearchHandler.Search)

	products := v1.Group("/products")
	products.GET("", d.ProductHandler.GetProducts)
	products.GET("/:id", d.ProductHandler.GetProduct)

	admin := v1.Group("/admin", auth.AdminOnly(d.JWTSecret))
	admin.POST("/products", d.ProductHandler.CreateProduct)
	admin.PATCH("/products/:id", d.ProductHandler.PatchProduct)
	admin.DELETE("/products/:id", d.ProductHandler.DeleteProduct)

	cartGroup := v1.Group("/cart")
	cartGroup.GET("", d.CartHandler.GetCart)
	cartGroup.POST("", d.CartHandler.AddToCart)
	cartGroup.POST("/update", d.CartHandler.UpdateCart)
	cartGroup.DELETE("/:id", d.CartHandler.RemoveFromCart)

	v1.POST("/coupon/apply", d.CheckoutHandler.ApplyCoupon)
	v1.DELETE("/coupon", d.CheckoutHandler.RemoveCoupon)

	v1.POST("/checkout", d.CheckoutHandler.Checkout)
	v1.GET("/invoice/:orderID", d.CheckoutHandler.Invoice)

	// Return path for the external payment gateway.
	v1.POST("/payments/result", d.CheckoutHandler.PaymentCallback)

	v1.GET("/download/:orderItemID", d.DownloadHandler.GetFile)
}
