package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/ayonpaul8906/swapsmith-orders/internal/apperr"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware(t *testing.T) {
	cases := []struct {
		name   string
		apiKey string
		method string
		path   string
		auth   string
		want   int
	}{
		{"no key configured", "", http.MethodPost, "/v1/orders", "", http.StatusOK},
		{"health bypass", "secret123", http.MethodGet, "/health", "", http.StatusOK},
		{"missing header", "secret123", http.MethodGet, "/v1/batches/b1", "", http.StatusUnauthorized},
		{"wrong key", "secret123", http.MethodPost, "/v1/orders", "Bearer wrong_key", http.StatusUnauthorized},
		{"correct key", "secret123", http.MethodPost, "/v1/batches", "Bearer secret123", http.StatusOK},
		{"non-bearer scheme", "secret123", http.MethodGet, "/v1/orders", "Basic secret123", http.StatusUnauthorized},
		{"preflight without credentials", "secret123", http.MethodOptions, "/v1/orders", "", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &Server{apiKey: tc.apiKey}
			req := httptest.NewRequest(tc.method, tc.path, nil)
			if tc.auth != "" {
				req.Header.Set("Authorization", tc.auth)
			}
			rr := httptest.NewRecorder()
			s.authMiddleware(okHandler()).ServeHTTP(rr, req)
			if rr.Code != tc.want {
				t.Fatalf("%s %s: expected %d, got %d", tc.method, tc.path, tc.want, rr.Code)
			}
		})
	}
}

func TestRequireOwner_Missing(t *testing.T) {
	for _, header := range []string{"", "   "} {
		req := httptest.NewRequest(http.MethodGet, "/v1/orders", nil)
		if header != "" {
			req.Header.Set(ownerHeader, header)
		}
		rr := httptest.NewRecorder()

		if _, ok := requireOwner(rr, req); ok {
			t.Fatalf("owner %q should be rejected", header)
		}
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rr.Code)
		}
		var body errorBody
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(body.Fields) != 1 || body.Fields[0].Field != "ownerId" {
			t.Fatalf("expected an ownerId field error, got %+v", body.Fields)
		}
	}
}

func TestRequireOwner_Trimmed(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/orders", nil)
	req.Header.Set(ownerHeader, "  alice ")
	rr := httptest.NewRecorder()

	owner, ok := requireOwner(rr, req)
	if !ok || owner != "alice" {
		t.Fatalf("expected alice, got %q (ok=%v)", owner, ok)
	}
}

func TestDecodeBody_RejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/v1/batches/b1/retry", strings.NewReader(`{"legIds":["a"],"force":true}`))
	rr := httptest.NewRecorder()

	var in retryRequest
	if decodeBody(rr, req, &in) {
		t.Fatal("unknown field should be rejected")
	}
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestWriteAppError(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		status  int
		message string
		fields  int
	}{
		{"validation", apperr.Validation(apperr.Field("fromAmount", "must be greater than 0")), http.StatusBadRequest, "validation failed", 1},
		{"not found", apperr.NotFound("order", "o1"), http.StatusNotFound, `order "o1": not found`, 0},
		{"conflict", fmt.Errorf("order not cancellable: %w", apperr.Conflict("status is completed")), http.StatusConflict, "order not cancellable", 0},
		{"provider", &apperr.ProviderError{Op: "quote", Err: errors.New("no route")}, http.StatusBadGateway, "no route", 0},
		{"internal", errors.New("pq: connection reset"), http.StatusInternalServerError, "internal error", 0},
	}
	s := &Server{logger: zaptest.NewLogger(t)}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			s.writeAppError(rr, httptest.NewRequest(http.MethodGet, "/v1/orders", nil), tc.err)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			var body errorBody
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !strings.Contains(body.Error, tc.message) {
				t.Fatalf("error %q missing %q", body.Error, tc.message)
			}
			if len(body.Fields) != tc.fields {
				t.Fatalf("expected %d fields, got %+v", tc.fields, body.Fields)
			}
		})
	}
}

func TestParseLimit(t *testing.T) {
	cases := []struct {
		query    string
		deflt    int
		expected int
	}{
		{"", 100, 100},
		{"?limit=50", 100, 50},
		{"?limit=0", 100, 100},
		{"?limit=-5", 100, 100},
		{"?limit=abc", 100, 100},
		{"?limit=2000", 100, maxQueryLimit},
		{"?status=pending&limit=1", 50, 1},
	}

	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/v1/orders"+tc.query, nil)
		got := parseLimit(req, tc.deflt)
		if got != tc.expected {
			t.Fatalf("parseLimit(%q, %d) = %d, want %d", tc.query, tc.deflt, got, tc.expected)
		}
	}
}

func TestCorsMiddleware_Headers(t *testing.T) {
	rr := httptest.NewRecorder()
	corsMiddleware(okHandler(), "https://app.swapsmith.example").
		ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/orders", nil))

	if origin := rr.Header().Get("Access-Control-Allow-Origin"); origin != "https://app.swapsmith.example" {
		t.Fatalf("expected custom origin, got %q", origin)
	}
	allow := rr.Header().Get("Access-Control-Allow-Headers")
	if !strings.Contains(allow, "Authorization") || !strings.Contains(allow, ownerHeader) {
		t.Fatalf("expected Allow-Headers to include Authorization and %s, got %q", ownerHeader, allow)
	}
	if methods := rr.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(methods, "POST") {
		t.Fatalf("expected POST in Allow-Methods, got %q", methods)
	}
}

func TestPreflightThroughFullHandler(t *testing.T) {
	s := NewServer(nil, nil, nil, Options{APIKey: "secret123"}, zaptest.NewLogger(t))
	req := httptest.NewRequest(http.MethodOptions, "/v1/batches", nil)
	req.Header.Set("Access-Control-Request-Headers", "authorization, x-owner-id")
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for preflight, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected default origin, got %q", rr.Header().Get("Access-Control-Allow-Origin"))
	}
}
