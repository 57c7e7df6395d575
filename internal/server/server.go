package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/aryan-thawkar/minipr2/internal/config"
	"github.com/aryan-thawkar/minipr2/internal/device"
	"github.com/aryan-thawkar/minipr2/internal/domain"
	"github.com/aryan-thawkar/minipr2/internal/handler"
	"github.com/aryan-thawkar/minipr2/internal/identity"
	"github.com/aryan-thawkar/minipr2/internal/repository"
	"github.com/aryan-thawkar/minipr2/internal/repository/filestore"
	"github.com/aryan-thawkar/minipr2/internal/service"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server represents the HTTP server
type Server struct {
	router *mux.Router
	server *http.Server
	db     *sql.DB
	logger *slog.Logger
	port   string
}

// Option customises a Server.
type Option func(*options)

type options struct {
	dial identity.Dialer
}

// WithDialer replaces the serial sensor dialer.
func WithDialer(dial identity.Dialer) Option {
	return func(o *options) {
		o.dial = dial
	}
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Server, error) {
	o := options{
		dial: identity.DeviceDialer(cfg.Device(), device.SerialOpener, logger),
	}
	for _, opt := range opts {
		opt(&o)
	}

	ctx := context.Background()

	store, db, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	// Sensor owns the device; every command gets a fresh link.
	verifier := identity.NewVerifier(cfg.Protocol(logger), cfg.Timeouts(), logger)
	sensor := identity.NewSensor(o.dial, verifier, logger)

	// Initialize services
	ledgerService := service.NewLedgerService(store, logger)
	if _, err := ledgerService.EnsureAdmin(ctx, cfg.AdminName); err != nil {
		if db != nil {
			db.Close()
		}
		return nil, err
	}
	accountService := service.NewAccountService(ledgerService, sensor, logger)
	paymentService := service.NewPaymentService(ledgerService, sensor, logger)

	// Initialize handlers
	accountHandler := handler.NewAccountHandler(accountService, paymentService)
	paymentHandler := handler.NewPaymentHandler(paymentService)

	// Setup router
	router := mux.NewRouter()

	// Add middleware for logging
	router.Use(loggingMiddleware(logger))

	router.HandleFunc("/authenticate", accountHandler.Authenticate).Methods("POST")

	// Account routes
	router.HandleFunc("/accounts", accountHandler.CreateAccount).Methods("POST")
	router.HandleFunc("/accounts/{phone}/balance", accountHandler.GetBalance).Methods("GET")

	// Payment routes
	router.HandleFunc("/payments", paymentHandler.Pay).Methods("POST")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Health check
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		// Check database connectivity in health check
		if db != nil {
			if err := db.PingContext(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy", "error": "database unavailable"})
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"status":    "healthy",
			"ledger":    cfg.LedgerBackend,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}).Methods("GET")

	return &Server{
		router: router,
		db:     db,
		logger: logger,
	}, nil
}

// openStore opens the configured ledger backend. db is nil for the file
// backend.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (domain.Store, *sql.DB, error) {
	switch cfg.LedgerBackend {
	case config.BackendPostgres:
		db, err := repository.OpenDB(ctx, cfg.GetDBConnectionString())
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Successfully connected to database")
		return repository.NewStore(db, logger), db, nil
	default:
		store, err := filestore.Open(cfg.LedgerPath, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Ledger loaded", "path", cfg.LedgerPath)
		return store, nil, nil
	}
}

// loggingMiddleware adds request logging
func loggingMiddleware(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Create response wrapper to capture status code
			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.statusCode,
				"duration", time.Since(start),
				"user_agent", r.UserAgent(),
			)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server on the specified port
func (s *Server) Start(port string) (string, error) {
	// Create listener first to get actual port
	listener, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return "", err
	}

	// Get the actual port being used
	addr := listener.Addr().(*net.TCPAddr)
	s.port = strconv.Itoa(addr.Port)

	// Enrollment holds a request open for the whole sensor exchange.
	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if s.logger != nil {
		s.logger.Info("Starting server", "port", s.port)
	}

	// Start server in background
	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			if s.logger != nil {
				s.logger.Error("Server failed to start", "error", err)
			}
		}
	}()

	return s.port, nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop(ctx context.Context) error {
	if s.logger != nil {
		s.logger.Info("Shutting down server")
	}

	var err error
	// Shutdown HTTP server before the store so in-flight payments finish.
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}

	// Close database connection
	if s.db != nil {
		s.db.Close()
	}
	return err
}

// GetPort returns the port the server is listening on
func (s *Server) GetPort() string {
	return s.port
}

// GetBaseURL returns the base URL for the server
func (s *Server) GetBaseURL() string {
	return "http://localhost:" + s.port
}

// GetRouter returns the router for testing purposes
func (s *Server) GetRouter() *mux.Router {
	return s.router
}

// StartServer starts the server with the given configuration
func StartServer(cfg *config.Config, opts ...Option) (*Server, string, error) {
	// Initialize logger - use io.Discard for tests to avoid panic
	var logger *slog.Logger
	if cfg.ServerPort == "0" {
		// Test environment - use discard logger
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	} else {
		// Production environment - use stdout
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	}

	server, err := NewServer(cfg, logger, opts...)
	if err != nil {
		return nil, "", err
	}

	// Start the server and get the actual port
	port, err := server.Start(cfg.ServerPort)
	if err != nil {
		return nil, "", err
	}

	return server, port, nil
}
