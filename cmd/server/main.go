package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"

	"github.com/chokdee888/backend/internal/audit"
	"github.com/chokdee888/backend/internal/config"
	"github.com/chokdee888/backend/internal/database"
	"github.com/chokdee888/backend/internal/handlers"
	mW "github.com/chokdee888/backend/internal/middleware"
	"github.com/chokdee888/backend/internal/services"
	"github.com/chokdee888/backend/internal/wallet"
)

func main() {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()
	viper.ReadInConfig()

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")

	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	walletClient := wallet.NewClient(config.LoadWalletConfig())
	matcherCfg := config.LoadMatcherConfig()
	outboxCfg := config.LoadOutboxConfig()

	gate := audit.NewGate(db)
	outbox := services.NewOutboxStore(db)
	ledgerService := services.NewLedgerService(db, redisClient, walletClient, outbox, gate)
	settlementService := services.NewSettlementService(db, config.LoadSettlementConfig())
	approvalService := services.NewApprovalService(ledgerService, gate, settlementService)
	reconcileService := services.NewReconcileService(db, redisClient, ledgerService, gate, matcherCfg)
	qrService := services.NewQRService(db, redisClient, matcherCfg.ClaimWindow)

	walletHandler := handlers.NewWalletHandler(ledgerService, qrService, walletClient)
	manualHandler := handlers.NewManualHandler(approvalService, ledgerService, reconcileService)
	webhookHandler := handlers.NewWebhookHandler(reconcileService, settlementService, ledgerService)

	// Background reconciler for open transfer intents.
	reconcilerCtx, stopReconciler := context.WithCancel(context.Background())
	defer stopReconciler()
	reconciler := services.NewReconciler(ledgerService, outbox, outboxCfg)
	go reconciler.Run(reconcilerCtx)

	r := chi.NewRouter()

	r.Use(mW.SecurityHeaders)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]string{"status": "healthy"}
		if up, latency, err := walletClient.Status(r.Context()); err != nil || !up {
			status["wallet"] = "degraded"
		} else {
			status["wallet_latency"] = latency.String()
		}
		json.NewEncoder(w).Encode(status)
	})

	// Bank logos for deposit instructions.
	r.Handle("/static/bank-logos/*", http.StripPrefix("/static/bank-logos/",
		mW.StaticFileServer("./static/bank-logos")))

	r.Route("/api/v1", func(r chi.Router) {
		// SMS forwarder webhook: unauthenticated by necessity, guarded by
		// dedup and the 3-level match.
		r.Route("/notify", func(r chi.Router) {
			r.Post("/webhook", webhookHandler.Receive)
			r.Get("/webhook", webhookHandler.ReceiveGet)
			r.Get("/webhook/test", webhookHandler.Test)

			// Payout gateway delivery callbacks.
			r.Post("/payout/{messageID}", webhookHandler.PayoutStatus)
		})

		// Player endpoints.
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/wallet/balance", walletHandler.GetBalance)
			r.Post("/wallet/provision", walletHandler.Provision)
			r.Post("/wallet/deposit", walletHandler.RequestDeposit)
			r.Post("/wallet/deposit/resolve", walletHandler.ResolveDepositQR)
			r.Post("/wallet/withdraw", walletHandler.RequestWithdrawal)
			r.Get("/wallet/transactions", walletHandler.GetTransactions)
		})

		// Admin endpoints.
		r.Group(func(r chi.Router) {
			r.Use(mW.AdminAuthMiddleware(db))

			r.Post("/admin/manual/add", manualHandler.AddBalance)
			r.Post("/admin/manual/deduct", manualHandler.DeductBalance)
			r.Get("/admin/transactions/pending", manualHandler.ListPending)
			r.Post("/admin/transactions/{entryID}/approve", manualHandler.Approve)
			r.Post("/admin/transactions/{entryID}/reject", manualHandler.Reject)
			r.Get("/admin/sms/logs", webhookHandler.Logs)
			r.Post("/admin/sms/{logID}/resolve", manualHandler.ResolveSMS)
			r.Post("/admin/sms/{logID}/reject", manualHandler.RejectSMS)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	stopReconciler()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
