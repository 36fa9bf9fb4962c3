package main

import (
	"encoding/json"
	stdlog "log"
	"net/http"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/username/clearledger/backend/src/config"
	"github.com/username/clearledger/backend/src/database"
	"github.com/username/clearledger/backend/src/handlers"
	"github.com/username/clearledger/backend/src/ingestion"
	"github.com/username/clearledger/backend/src/logger"
	"github.com/username/clearledger/backend/src/views"
	"golang.org/x/time/rate"
)

var limiter = rate.NewLimiter(rate.Every(100*time.Millisecond), 30)

func rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			logger.L.Warn("Rate limit exceeded",
				"method", r.Method,
				"path", r.URL.Path,
				"remoteAddr", r.RemoteAddr)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowedOrigins := map[string]bool{
			"http://localhost:3000": true,
		}

		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, If-None-Match")
			w.Header().Set("Access-Control-Expose-Headers", "ETag")
		} else if origin == "" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}

		if r.Method == "OPTIONS" {
			logger.L.Debug("Handling OPTIONS preflight request", "path", r.URL.Path, "origin", origin)
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func main() {
	config.LoadConfig()
	logger.InitLogger(config.Cfg.LogLevel)
	logger.L.Info("Clearledger backend server starting...")

	logger.L.Info("Initializing database...", "path", config.Cfg.DatabasePath)
	database.InitDB(config.Cfg.DatabasePath)
	logger.L.Info("Database initialized successfully.")

	logger.L.Info("Initializing view cache...")
	viewCache := cache.New(15*time.Minute, 30*time.Minute)

	logger.L.Info("Initializing services and handlers...")
	ingestionService := ingestion.NewService(database.DB, viewCache)
	reconciler := ingestion.NewReconciler(database.DB, viewCache)
	chargeViewer := views.NewChargeViewer(database.DB, viewCache)
	transactionViewer := views.NewTransactionViewer(database.DB, viewCache, config.Cfg.CardDebitWindowDays)

	ingestHandler := handlers.NewIngestHandler(ingestionService, config.Cfg.MaxIngestBodyBytes)
	reconcileHandler := handlers.NewReconcileHandler(reconciler)
	chargeHandler := handlers.NewChargeHandler(chargeViewer, transactionViewer)
	accountHandler := handlers.NewAccountHandler()

	// Background sweep heals conversion legs that raced into separate
	// charges and promotes salary-tagged charges.
	go func() {
		ticker := time.NewTicker(config.Cfg.SweepInterval)
		defer ticker.Stop()
		for range ticker.C {
			if result, err := reconciler.Run(); err != nil {
				logger.L.Error("Reconciliation sweep failed", "error", err)
			} else if result.MergedCharges > 0 || result.RetypedPayroll > 0 {
				logger.L.Info("Reconciliation sweep completed",
					"mergedCharges", result.MergedCharges,
					"retypedPayroll", result.RetypedPayroll)
			}
		}
	}()

	logger.L.Info("Configuring routes...")
	rootMux := http.NewServeMux()
	apiRouter := http.NewServeMux()

	apiRouter.HandleFunc("POST /api/ingest/{source}", ingestHandler.HandleIngest)
	apiRouter.HandleFunc("POST /api/reconcile/sweep", reconcileHandler.HandleSweep)
	apiRouter.HandleFunc("GET /api/charges/extended", chargeHandler.HandleGetExtendedCharges)
	apiRouter.HandleFunc("GET /api/charges/{id}/extended", chargeHandler.HandleGetExtendedCharge)
	apiRouter.HandleFunc("GET /api/transactions/extended", chargeHandler.HandleGetExtendedTransactions)
	apiRouter.HandleFunc("GET /api/accounts", accountHandler.HandleGetAccounts)

	rootMux.Handle("/api/", apiRouter)

	rootMux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" && r.Method == http.MethodGet {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"message": "Clearledger backend is running"})
		} else {
			if !strings.HasPrefix(r.URL.Path, "/api/") {
				logger.L.Warn("Root level path not found", "method", r.Method, "path", r.URL.Path)
				http.NotFound(w, r)
			}
		}
	})

	logger.L.Info("Applying global middleware...")
	finalHandler := enableCORS(rateLimitMiddleware(rootMux))

	serverAddr := ":" + config.Cfg.Port
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      finalHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.L.Info("Server starting", "address", serverAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.L.Error("Failed to start server", "error", err)
		stdlog.Fatalf("Failed to start server: %v", err)
	} else if err == http.ErrServerClosed {
		logger.L.Info("Server stopped gracefully.")
	}
}
