package kiwoom

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/kfin-labs/lotledger/errs"
	"github.com/kfin-labs/lotledger/internal/infra/config"
)

func testConfig(baseURL string) config.BrokerConfig {
	return config.BrokerConfig{
		BaseURL:     baseURL,
		AppKey:      "test-app-key",
		SecretKey:   "test-secret-key",
		Timeout:     2 * time.Second,
		RatePerSec:  1000,
		RateBurst:   100,
		MaxRetries:  2,
		MaxWaitTime: 20 * time.Millisecond,
	}
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Fatalf("encode response: %v", err)
	}
}

func TestTokenIsCachedAcrossRequests(t *testing.T) {
	var tokenCalls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case tokenPath:
			tokenCalls.Add(1)
			var req tokenRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Fatalf("decode token request: %v", err)
			}
			if req.GrantType != "client_credentials" || req.AppKey != "test-app-key" {
				t.Fatalf("unexpected token request: %+v", req)
			}
			writeJSON(t, w, tokenResponse{Token: "tok-1"})
		case accountPath:
			if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
				t.Fatalf("unexpected authorization header %q", got)
			}
			writeJSON(t, w, map[string]any{"return_code": 0})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL), time.UTC, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := client.AccountBalance(ctx); err != nil {
			t.Fatalf("AccountBalance: %v", err)
		}
	}
	if got := tokenCalls.Load(); got != 1 {
		t.Fatalf("expected one token fetch, got %d", got)
	}
}

func TestTradeHistoryFollowsContinuation(t *testing.T) {
	day := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	pages := []tradeHistoryResponse{
		{Trades: []tradeHistoryRow{
			{OrderDate: "20240315", OrderTime: "093001", StockCode: "005930", StockName: "삼성전자", IOTypeName: "매수", ExecutedQty: "10", ExecutedPrice: "70000", OrderNo: "1001"},
		}},
		{Trades: []tradeHistoryRow{
			{OrderDate: "20240315", OrderTime: "141500", StockCode: "005930", StockName: "삼성전자", IOTypeName: "매도", ExecutedQty: "4", ExecutedPrice: "71500", OrderNo: "1002"},
		}},
	}

	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case tokenPath:
			writeJSON(t, w, tokenResponse{Token: "tok"})
		case accountPath:
			if got := r.Header.Get(headerAPIID); got != tradeHistoryAPIID {
				t.Fatalf("unexpected api-id %q", got)
			}
			if calls == 1 {
				if got := r.Header.Get(headerNextKey); got != "key-2" {
					t.Fatalf("expected next-key propagation, got %q", got)
				}
			}
			if calls == 0 {
				w.Header().Set(headerContinuation, "Y")
				w.Header().Set(headerNextKey, "key-2")
			} else {
				w.Header().Set(headerContinuation, "N")
			}
			writeJSON(t, w, pages[calls])
			calls++
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL), time.UTC, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	execs, err := client.TradeHistory(context.Background(), day)
	if err != nil {
		t.Fatalf("TradeHistory: %v", err)
	}
	if len(execs) != 2 {
		t.Fatalf("expected 2 executions across pages, got %d", len(execs))
	}
	if execs[0].SideDescriptor != "매수" || execs[1].SideDescriptor != "매도" {
		t.Fatalf("page order not preserved: %+v", execs)
	}
	if execs[0].OrderTime != "09:30:01" {
		t.Fatalf("expected normalized order time, got %q", execs[0].OrderTime)
	}
	if !execs[1].TradeDate.Equal(day) {
		t.Fatalf("unexpected trade date %v", execs[1].TradeDate)
	}
}

func TestRequestRetriesTransientFailures(t *testing.T) {
	var accountCalls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case tokenPath:
			writeJSON(t, w, tokenResponse{Token: "tok"})
		case accountPath:
			if accountCalls.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			writeJSON(t, w, map[string]any{"return_code": 0, "entry": "ok"})
		}
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL), time.UTC, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	payload, err := client.AccountBalance(context.Background())
	if err != nil {
		t.Fatalf("AccountBalance after retry: %v", err)
	}
	if payload["entry"] != "ok" {
		t.Fatalf("unexpected payload %v", payload)
	}
	if got := accountCalls.Load(); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
}

func TestRequestRefreshesTokenOnAuthFailure(t *testing.T) {
	var tokenCalls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case tokenPath:
			n := tokenCalls.Add(1)
			writeJSON(t, w, tokenResponse{Token: map[int64]string{1: "stale", 2: "fresh"}[n]})
		case accountPath:
			if r.Header.Get("Authorization") == "Bearer stale" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			writeJSON(t, w, map[string]any{"return_code": 0})
		}
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL), time.UTC, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := client.AccountBalance(context.Background()); err != nil {
		t.Fatalf("AccountBalance: %v", err)
	}
	if got := tokenCalls.Load(); got != 2 {
		t.Fatalf("expected token refresh, got %d fetches", got)
	}
}

func TestBrokerReturnCodeSurfacesAsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case tokenPath:
			writeJSON(t, w, tokenResponse{Token: "tok"})
		case accountPath:
			writeJSON(t, w, map[string]any{"return_code": 3, "return_msg": "조회 불가"})
		}
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL), time.UTC, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = client.AccountBalance(context.Background())
	if !errs.IsCode(err, errs.CodeBroker) {
		t.Fatalf("expected broker error, got %v", err)
	}
}

func TestNewClientRequiresCredentials(t *testing.T) {
	cfg := testConfig("https://example.invalid")
	cfg.SecretKey = ""
	if _, err := NewClient(cfg, time.UTC, nil); err == nil {
		t.Fatal("expected credential validation error")
	}
}
