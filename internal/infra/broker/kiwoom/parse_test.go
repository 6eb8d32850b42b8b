package kiwoom

import (
	"testing"
	"time"
)

func TestParseInt64Lenient(t *testing.T) {
	cases := map[string]int64{
		"":        0,
		"  ":      0,
		"10":      10,
		" 42 ":    42,
		"1,250":   1250,
		"-3":      -3,
		"garbage": 0,
		"12.00":   12,
	}
	for raw, want := range cases {
		if got := parseInt64(raw); got != want {
			t.Errorf("parseInt64(%q) = %d, want %d", raw, got, want)
		}
	}
}

func TestParseDecimalLenient(t *testing.T) {
	if !parseDecimal("").IsZero() {
		t.Error("empty string should parse to zero")
	}
	if !parseDecimal("abc").IsZero() {
		t.Error("garbage should parse to zero")
	}
	if got := parseDecimal("70,500.25"); got.String() != "70500.25" {
		t.Errorf("unexpected decimal %s", got)
	}
}

func TestNormalizeOrderTime(t *testing.T) {
	cases := map[string]string{
		"093001":   "09:30:01",
		"09:30:01": "09:30:01",
		"  141500": "14:15:00",
		"9301":     "",
		"":         "",
		"25xx99":   "",
	}
	for raw, want := range cases {
		if got := normalizeOrderTime(raw); got != want {
			t.Errorf("normalizeOrderTime(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestExecutionFromRowFallbackDay(t *testing.T) {
	fallback := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	row := tradeHistoryRow{
		OrderTime:     "100000",
		StockCode:     " 005930 ",
		StockName:     "삼성전자",
		IOTypeName:    "매수",
		ExecutedQty:   "5",
		ExecutedPrice: "70000",
	}
	exec, err := executionFromRow(row, fallback, time.UTC)
	if err != nil {
		t.Fatalf("executionFromRow: %v", err)
	}
	if !exec.TradeDate.Equal(fallback) {
		t.Fatalf("expected fallback day, got %v", exec.TradeDate)
	}
	if exec.InstrumentCode != "005930" {
		t.Fatalf("expected trimmed instrument code, got %q", exec.InstrumentCode)
	}

	if _, err := executionFromRow(row, time.Time{}, time.UTC); err == nil {
		t.Fatal("expected error without fallback day")
	}
}

func TestExecutionFromRealtime(t *testing.T) {
	values := map[string]string{
		fidStockCode:    "A005930",
		fidStockName:    "삼성전자",
		fidTradeKind:    "+매수",
		fidExecutedQty:  "3",
		fidExecutedPrc:  "70100",
		fidExecutedTime: "101530",
		fidOrderNo:      "12345",
	}
	exec, ok := executionFromRealtime(values, time.UTC)
	if !ok {
		t.Fatal("expected execution frame")
	}
	if exec.InstrumentCode != "005930" {
		t.Fatalf("expected A prefix stripped, got %q", exec.InstrumentCode)
	}
	if exec.OrderTime != "10:15:30" || exec.Quantity != 3 {
		t.Fatalf("unexpected execution %+v", exec)
	}

	// Acceptance frames carry no filled quantity and are dropped.
	values[fidExecutedQty] = ""
	if _, ok := executionFromRealtime(values, time.UTC); ok {
		t.Fatal("expected frame without filled quantity to be dropped")
	}
}
