// Package api exposes trailing-stop orders and portfolio batches over JSON REST.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ayonpaul8906/swapsmith-orders/internal/apperr"
	"github.com/ayonpaul8906/swapsmith-orders/internal/batch"
	"github.com/ayonpaul8906/swapsmith-orders/internal/models"
	"github.com/ayonpaul8906/swapsmith-orders/internal/orders"
)

const (
	maxQueryLimit = 1000
	maxBodyBytes  = 1 << 20
	ownerHeader   = "X-Owner-ID"
)

type OrderService interface {
	CreateOrder(ctx context.Context, in orders.CreateOrderInput) (*models.TrailingStopOrder, error)
	GetOrder(ctx context.Context, id, ownerID string) (*models.TrailingStopOrder, error)
	ListOrders(ctx context.Context, ownerID string, f models.OrderFilter) ([]*models.TrailingStopOrder, error)
	CancelOrder(ctx context.Context, id, ownerID string) (*models.TrailingStopOrder, error)
}

type BatchService interface {
	Run(ctx context.Context, in batch.RunInput) (*models.Batch, error)
	Retry(ctx context.Context, batchID, ownerID string, legIDs []string) (*models.Batch, error)
	Get(ctx context.Context, batchID, ownerID string) (*models.Batch, error)
}

// Pinger reports whether the order store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	Port       int
	APIKey     string
	CORSOrigin string
	// WriteTimeout must cover a full batch run, which makes one provider call per leg.
	WriteTimeout time.Duration
}

type Server struct {
	orders     OrderService
	batches    BatchService
	db         Pinger
	apiKey     string
	logger     *zap.Logger
	handler    http.Handler
	httpServer *http.Server
}

func NewServer(ordersSvc OrderService, batches BatchService, db Pinger, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 2 * time.Minute
	}
	s := &Server{
		orders:  ordersSvc,
		batches: batches,
		db:      db,
		apiKey:  opts.APIKey,
		logger:  logger.Named("api"),
	}

	mux := http.NewServeMux()

	// Order routes
	mux.HandleFunc("POST /v1/orders", s.handleCreateOrder)
	mux.HandleFunc("GET /v1/orders", s.handleListOrders)
	mux.HandleFunc("GET /v1/orders/{id}", s.handleGetOrder)
	mux.HandleFunc("POST /v1/orders/{id}/cancel", s.handleCancelOrder)

	// Batch routes
	mux.HandleFunc("POST /v1/batches", s.handleRunBatch)
	mux.HandleFunc("GET /v1/batches/{id}", s.handleGetBatch)
	mux.HandleFunc("POST /v1/batches/{id}/retry", s.handleRetryBatch)

	// Health check (no auth required)
	mux.HandleFunc("GET /health", s.handleHealth)

	s.handler = s.authMiddleware(corsMiddleware(mux, opts.CORSOrigin))
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", opts.Port),
		Handler:      s.handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: opts.WriteTimeout,
	}
	return s
}

// Handler returns the fully wrapped router.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) Start() error {
	s.logger.Info("REST API server started",
		zap.String("addr", s.httpServer.Addr),
		zap.Bool("auth", s.apiKey != ""))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// --- middleware ---

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" || r.URL.Path == "/health" || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		auth := r.Header.Get("Authorization")
		if auth == "" {
			writeError(w, http.StatusUnauthorized, "missing Authorization header")
			return
		}

		token := strings.TrimPrefix(auth, "Bearer ")
		if token == auth || token != s.apiKey {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler, allowOrigin string) http.Handler {
	if allowOrigin == "" {
		allowOrigin = "*"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+ownerHeader)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- request helpers ---

func ownerID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(ownerHeader))
}

// requireOwner writes a 400 and returns false when the owner header is missing.
func requireOwner(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner := ownerID(r)
	if owner == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{
			Error:  "missing " + ownerHeader + " header",
			Fields: []apperr.FieldError{{Field: "ownerId", Reason: "is required"}},
		})
		return "", false
	}
	return owner, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func parseLimit(r *http.Request, defaultLimit int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultLimit
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return defaultLimit
	}
	if n > maxQueryLimit {
		return maxQueryLimit
	}
	return n
}

// --- response helpers ---

type errorBody struct {
	Error  string              `json:"error"`
	Fields []apperr.FieldError `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeAppError maps err through the apperr taxonomy. Internal errors are
// logged and answered with a generic message.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	body := errorBody{Error: err.Error()}

	var ve *apperr.ValidationError
	if errors.As(err, &ve) {
		body.Error = "validation failed"
		body.Fields = ve.Fields
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
		if status == http.StatusInternalServerError {
			body.Error = "internal error"
		}
	}
	writeJSON(w, status, body)
}
