package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	otelruntime "go.opentelemetry.io/contrib/instrumentation/runtime"

	"github.com/bikastore/backend/internal/conversation"
	"github.com/bikastore/backend/internal/handoff"
	"github.com/bikastore/backend/internal/messaging"
	"github.com/bikastore/backend/internal/notify"
	"github.com/bikastore/backend/internal/orders"
	"github.com/bikastore/backend/internal/retention"
	"github.com/bikastore/backend/internal/reviews"
	"github.com/bikastore/backend/internal/telegram"
	"github.com/bikastore/backend/internal/telemetry"
	"github.com/bikastore/backend/internal/webhook"
)

const serviceVersion = "0.1.0"

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "bikastore-server", serviceVersion)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider("bikastore-server", serviceVersion)
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	if err := otelruntime.Start(); err != nil {
		logger.Warn("failed to start runtime instrumentation", "error", err)
	}

	botToken := os.Getenv("BOT_TOKEN")
	if botToken == "" {
		logger.Error("BOT_TOKEN environment variable is required")
		os.Exit(1)
	}

	operatorChatID, err := strconv.ParseInt(os.Getenv("OPERATOR_CHAT_ID"), 10, 64)
	if err != nil {
		logger.Error("OPERATOR_CHAT_ID environment variable must be a chat id")
		os.Exit(1)
	}

	storeURL := os.Getenv("STORE_URL")
	if storeURL == "" {
		storeURL = "https://bikastore.example"
	}

	var repo orders.Repository
	var reviewsRepo reviews.Repository

	postgresURL := os.Getenv("POSTGRES_URL")
	if postgresURL != "" {
		db, err := telemetry.OpenDB("postgres", postgresURL)
		if err != nil {
			logger.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()

		if err := db.PingContext(ctx); err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}

		repo = orders.NewPostgresRepository(db)
		reviewsRepo = reviews.NewPostgresRepository(db)
	} else {
		logger.Warn("POSTGRES_URL not set, orders and reviews are held in memory")
		repo = orders.NewMemoryRepository()
		reviewsRepo = reviews.NewMemoryRepository()
	}

	var publisher orders.EventPublisher
	if kafkaBrokers := os.Getenv("KAFKA_BROKERS"); kafkaBrokers != "" {
		producer := messaging.NewProducer(strings.Split(kafkaBrokers, ","), messaging.TopicOrderStatus)
		defer func() { _ = producer.Close() }()
		publisher = producer
	}

	client := telegram.NewClient(botToken, os.Getenv("TELEGRAM_API_URL"))
	cleanup := retention.NewTracker(client, logger)
	notifier := notify.NewNotifier(client, cleanup,
		orders.ChatMessageLog{Repo: repo, Logger: logger},
		operatorChatID, storeURL, logger)
	service := orders.NewService(repo, notifier, cleanup, publisher, logger)

	broker := handoff.NewBroker(handoff.DefaultTTL, nil, logger)
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go broker.Run(sweepCtx)

	tracker := conversation.NewTracker()

	ordersHandler := orders.NewHandler(service, broker, logger)
	webhookHandler := webhook.NewHandler(service, broker, tracker, notifier, client,
		operatorChatID, os.Getenv("WEBHOOK_SECRET"), logger)
	reviewsHandler := reviews.NewHandler(reviewsRepo, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /orders/web", telemetry.WithHTTPRoute(ordersHandler.HandleCreateWebOrder))
	mux.HandleFunc("POST /orders/web/claim", telemetry.WithHTTPRoute(ordersHandler.HandleClaimWebOrder))
	mux.HandleFunc("GET /orders/{id}", telemetry.WithHTTPRoute(ordersHandler.HandleGet))
	mux.HandleFunc("POST /orders/{id}/status", telemetry.WithHTTPRoute(ordersHandler.HandleUpdateStatus))
	mux.HandleFunc("POST /webhook/telegram", telemetry.WithHTTPRoute(webhookHandler.HandleUpdate))
	mux.HandleFunc("POST /reviews", telemetry.WithHTTPRoute(reviewsHandler.HandleCreate))
	mux.HandleFunc("GET /reviews/latest", telemetry.WithHTTPRoute(reviewsHandler.HandleLatest))
	mux.Handle("GET /metrics", metricsHandler)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr: ":" + port,
		Handler: otelhttp.NewHandler(mux, "server",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				if r.Pattern != "" {
					return r.Pattern
				}
				return r.Method + " " + r.URL.Path
			}),
		),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
