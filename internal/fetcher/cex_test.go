package fetcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestCEXFetchMissingBaseURL(t *testing.T) {
	c := NewCEX(CEXOptions{}, noopLogger())
	if _, err := c.FetchCEX(context.Background(), "AAA/USDT"); err == nil {
		t.Fatal("缺少 base url 时应返回错误")
	}
}

func TestCEXFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewCEX(CEXOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	if _, err := c.FetchCEX(context.Background(), "AAA/USDT"); err == nil {
		t.Fatal("HTTP 502 应返回错误")
	}
}

func TestCEXFetchSuccess(t *testing.T) {
	ts := time.Now().UTC().Truncate(time.Second)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"symbol":        "AAA/USDT",
			"bid":           "0.998",
			"ask":           "1.002",
			"timestamp_utc": ts.Format(time.RFC3339),
			"source":        "binance",
		})
	}))
	defer srv.Close()

	c := NewCEX(CEXOptions{BaseURL: srv.URL, Timeout: time.Second, UserAgent: "test"}, noopLogger())
	quote, err := c.FetchCEX(context.Background(), "AAA/USDT")
	if err != nil {
		t.Fatalf("成功响应不应报错: %v", err)
	}
	if !quote.Mid().Equal(decimal.NewFromFloat(1.0)) {
		t.Fatalf("期望中间价 1.0, 实际 %s", quote.Mid())
	}
	if quote.Source != "binance" {
		t.Fatalf("source 应透传, 实际 %q", quote.Source)
	}
	if !quote.Timestamp.Equal(ts) {
		t.Fatalf("timestamp mismatch: %s vs %s", quote.Timestamp, ts)
	}
}

func TestCEXFetchRejectsZeroQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"symbol":        "AAA/USDT",
			"bid":           "0",
			"ask":           "0",
			"timestamp_utc": time.Now().UTC().Format(time.RFC3339),
			"source":        "binance",
		})
	}))
	defer srv.Close()

	c := NewCEX(CEXOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	if _, err := c.FetchCEX(context.Background(), "AAA/USDT"); err == nil {
		t.Fatal("零报价应被拒绝")
	}
}
