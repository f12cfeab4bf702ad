package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/joao-fontenele/deliveryflow/internal/config"
	"github.com/joao-fontenele/deliveryflow/internal/gateway"
	"github.com/joao-fontenele/deliveryflow/internal/telemetry"
)

var ordersRoutes = []string{
	"POST /orders",
	"GET /orders",
	"GET /orders/{id}",
	"GET /orders/{id}/events",
	"POST /orders/{id}/transition",
	"POST /orders/{id}/offer",
	"POST /orders/{id}/accept",
	"POST /orders/{id}/decline",
	"POST /orders/{id}/start-delivery",
	"POST /orders/{id}/complete",
	"POST /payments/webhook",
	"POST /coupons/validate",
	"POST /coupons",
	"GET /coupons/{code}",
	"PATCH /coupons/{code}",
	"POST /couriers",
	"GET /couriers",
	"PATCH /couriers/{id}",
}

var locationRoutes = []string{
	"POST /couriers/{id}/location",
	"GET /couriers/{id}/location",
}

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load("8080")
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "gateway", "0.1.0", cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	if cfg.Services.OrdersURL == "" {
		logger.Error("ORDERS_SERVICE_URL is required")
		os.Exit(1)
	}
	if cfg.Services.LocationURL == "" {
		logger.Error("LOCATION_SERVICE_URL is required")
		os.Exit(1)
	}

	httpClient := &http.Client{
		Timeout:   10 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	ordersProxy := gateway.NewServiceProxy(cfg.Services.OrdersURL, httpClient)
	locationProxy := gateway.NewServiceProxy(cfg.Services.LocationURL, httpClient)
	handler := gateway.NewHandler(ordersProxy, locationProxy, logger)

	mux := http.NewServeMux()
	for _, pattern := range ordersRoutes {
		mux.HandleFunc(pattern, telemetry.WithHTTPRoute(handler.HandleOrders))
	}
	for _, pattern := range locationRoutes {
		mux.HandleFunc(pattern, telemetry.WithHTTPRoute(handler.HandleLocation))
	}

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      telemetry.InstrumentHandler(mux, "gateway"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting gateway service", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
