package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/vkuznetsov/digishop/internal/config"
	"github.com/vkuznetsov/digishop/internal/coupon"
	"github.com/vkuznetsov/digishop/internal/es"
	"github.com/vkuznetsov/digishop/internal/handlers"
	"github.com/vkuznetsov/digishop/internal/handlers/cart"
	"github.com/vkuznetsov/digishop/internal/handlers/checkout"
	"github.com/vkuznetsov/digishop/internal/handlers/download"
	"github.com/vkuznetsov/digishop/internal/logging"
	"github.com/vkuznetsov/digishop/internal/mykafka"
	"github.com/vkuznetsov/digishop/internal/redisx"
	httpserver "github.com/vkuznetsov/digishop/internal/transport/http"
)

func main() {
	configuration, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger := logging.New(configuration.LOG_LEVEL)

	db, err := config.InitDB()
	if err != nil {
		log.Fatalf("DB init error: %v", err)
	}

	jwtSecret := []byte(configuration.JWT_SECRET)

	prod, err := mykafka.NewProducer([]string{configuration.KAFKA_ADDRESS})
	if err != nil {
		log.Fatal(err)
	}

	esClient, err := es.NewClient(configuration)
	if err != nil {
		log.Fatal(err)
	}

	rdb := redisx.New(configuration.REDIS_ADDRESS)
	if err := redisx.Ping(context.Background(), rdb); err != nil {
		logger.Warn("redis unreachable, coupon slot disabled", "error", err)
	}
	slot := &coupon.Slot{RDB: rdb}

	e := echo.New()
	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover(), middleware.RequestID())

	deps := httpserver.Deps{
		DB:              db,
		JWTSecret:       jwtSecret,
		ProductHandler:  &handlers.ProductHandler{DB: db, Producer: prod, JWTSecret: jwtSecret},
		SearchHandler:   handlers.NewSearchHandler(esClient, "products"),
		CartHandler:     &cart.CartHandler{DB: db, Producer: prod, JWTSecret: jwtSecret, Cfg: configuration, Slot: slot},
		CheckoutHandler: &checkout.CheckoutHandler{DB: db, Producer: prod, JWTSecret: jwtSecret, Cfg: configuration, Slot: slot},
		DownloadHandler: &download.DownloadHandler{DB: db, Producer: prod, JWTSecret: jwtSecret, Cfg: configuration},
	}

	httpserver.Register(e, &deps)

	srv := &http.Server{
		Addr:         ":8080",
		Handler:      e,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	<-quit

	logger.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	if sqlDB, err := db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			logger.Error("db close error", "error", err)
		}
	} else {
		logger.Error("db() error", "error", err)
	}

	if err := rdb.Close(); err != nil {
		logger.Error("redis close error", "error", err)
	}

	if err := prod.Close(); err != nil {
		logger.Error("kafka close error", "error", err)
	}

	logger.Info("shutdown complete")
}
