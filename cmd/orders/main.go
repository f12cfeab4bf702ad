package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/joao-fontenele/deliveryflow/internal/auth"
	"github.com/joao-fontenele/deliveryflow/internal/catalog"
	"github.com/joao-fontenele/deliveryflow/internal/config"
	"github.com/joao-fontenele/deliveryflow/internal/coupons"
	"github.com/joao-fontenele/deliveryflow/internal/dispatch"
	"github.com/joao-fontenele/deliveryflow/internal/messaging"
	"github.com/joao-fontenele/deliveryflow/internal/notify"
	"github.com/joao-fontenele/deliveryflow/internal/orders"
	"github.com/joao-fontenele/deliveryflow/internal/push"
	"github.com/joao-fontenele/deliveryflow/internal/store"
	"github.com/joao-fontenele/deliveryflow/internal/telemetry"
)

const serviceVersion = "0.1.0"

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load("8081")
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Auth.JWTSecret == "" {
		logger.Error("JWT_SECRET is required")
		os.Exit(1)
	}

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "orders", serviceVersion, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider("orders", serviceVersion)
	if err != nil {
		logger.Error("failed to initialize metrics", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	st, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		logger.Error("failed to open store", "error", err, "driver", cfg.Store.Driver)
		os.Exit(1)
	}
	defer closeStore()

	if cfg.Catalog.File != "" {
		products, err := catalog.LoadFile(cfg.Catalog.File)
		if err != nil {
			logger.Error("failed to load catalog", "error", err)
			os.Exit(1)
		}
		if err := catalog.Sync(ctx, st, products); err != nil {
			logger.Error("failed to sync catalog", "error", err)
			os.Exit(1)
		}
		logger.Info("catalog synced", "products", len(products))
	}

	var sinks []notify.Sink
	if len(cfg.Kafka.Brokers) > 0 {
		producer := messaging.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic)
		defer func() { _ = producer.Close() }()
		sinks = append(sinks, notify.NewKafkaSink(producer))
	} else {
		transport, closeTransport, err := push.Dial(cfg.Push, &http.Client{Timeout: 5 * time.Second})
		if err != nil {
			logger.Error("failed to connect push transport", "error", err)
			os.Exit(1)
		}
		defer closeTransport()
		if transport != nil {
			sinks = append(sinks, notify.NewPushSink(transport, logger))
		}
	}

	hub := notify.NewHub(logger)
	fanout := notify.NewFanout(hub, logger, sinks...)

	couponService := coupons.NewService(st)
	orderService := orders.NewService(st, couponService, fanout, logger)
	coordinator := dispatch.NewCoordinator(st, orderService, fanout, logger)
	reconciler := dispatch.NewReconciler(coordinator, st, cfg.Dispatch.OfferTimeout, cfg.Dispatch.ReconcileInterval, logger)

	runCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	go hub.Run(runCtx)
	go fanout.Run(runCtx)
	go reconciler.Run(runCtx)

	verifier := auth.NewVerifier(cfg.Auth.JWTSecret)
	orderHandler := orders.NewHandler(orderService, cfg.Auth.PaymentWebhookSecret, logger)
	dispatchHandler := dispatch.NewHandler(coordinator, logger)
	couponHandler := coupons.NewHandler(couponService, logger)
	streamHandler := notify.NewStreamHandler(hub, st, logger)

	mux := http.NewServeMux()
	route := func(pattern string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, telemetry.WithHTTPRoute(verifier.Require(h)))
	}

	route("POST /orders", orderHandler.HandleCreate)
	route("GET /orders", orderHandler.HandleList)
	route("GET /orders/{id}", orderHandler.HandleGet)
	route("GET /orders/{id}/events", orderHandler.HandleEvents)
	route("POST /orders/{id}/transition", orderHandler.HandleTransition)
	route("POST /orders/{id}/offer", dispatchHandler.HandleOffer)
	route("POST /orders/{id}/accept", dispatchHandler.HandleAccept)
	route("POST /orders/{id}/decline", dispatchHandler.HandleDecline)
	route("POST /orders/{id}/start-delivery", dispatchHandler.HandleStartDelivery)
	route("POST /orders/{id}/complete", dispatchHandler.HandleComplete)
	route("POST /coupons/validate", couponHandler.HandleValidate)
	route("POST /coupons", couponHandler.HandleCreate)
	route("GET /coupons/{code}", couponHandler.HandleGet)
	route("PATCH /coupons/{code}", couponHandler.HandleSetActive)
	route("POST /couriers", dispatchHandler.HandleCreateCourier)
	route("GET /couriers", dispatchHandler.HandleListCouriers)
	route("PATCH /couriers/{id}", dispatchHandler.HandleUpdateCourier)
	route("GET /streams/{kind}/{id}", streamHandler.HandleStream)
	mux.HandleFunc("POST /payments/webhook", telemetry.WithHTTPRoute(orderHandler.HandlePaymentWebhook))
	mux.Handle("GET /metrics", metricsHandler)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      telemetry.InstrumentHandler(mux, "orders"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting orders service", "port", cfg.Port, "store", cfg.Store.Driver, "sinks", len(sinks))
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

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, func(), error) {
	if cfg.Driver == "memory" {
		return store.NewMemoryStore(), func() {}, nil
	}

	db, err := telemetry.OpenDB(ctx, "postgres", cfg.PostgresURL)
	if err != nil {
		return nil, nil, err
	}
	return store.NewPostgresStore(db), func() { _ = db.Close() }, nil
}
