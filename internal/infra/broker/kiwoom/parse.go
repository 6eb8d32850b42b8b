package kiwoom

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kfin-labs/lotledger/internal/domain/tradestore"
)

const tradeDateLayout = "20060102"

// parseInt64 interprets brokerage string numerics leniently: blank values and
// values that fail to parse count as zero. Thousands separators appear in some
// balance fields.
func parseInt64(raw string) int64 {
	cleaned := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if cleaned == "" {
		return 0
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return 0
	}
	return d.IntPart()
}

// parseDecimal follows the same lenient contract as parseInt64.
func parseDecimal(raw string) decimal.Decimal {
	cleaned := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if cleaned == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseTradeDate(raw string, loc *time.Location) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("empty trade date")
	}
	day, err := time.ParseInLocation(tradeDateLayout, trimmed, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse trade date %q: %w", trimmed, err)
	}
	return day, nil
}

// normalizeOrderTime converts the brokerage HHMMSS time-of-day into the
// canonical HH:MM:SS form the ledger stores. Values already containing colons
// pass through; anything else comes back empty so downstream code falls back
// to midnight.
func normalizeOrderTime(raw string) string {
	trimmed := strings.TrimSpace(raw)
	switch {
	case len(trimmed) == 8 && strings.Count(trimmed, ":") == 2:
		return trimmed
	case len(trimmed) == 6:
		if _, err := time.Parse("150405", trimmed); err != nil {
			return ""
		}
		return trimmed[0:2] + ":" + trimmed[2:4] + ":" + trimmed[4:6]
	default:
		return ""
	}
}

// executionFromRow maps one trade history row to a ledger execution. The fall
// back day covers rows missing ord_dt, which the daily endpoint omits when
// the query date is implied.
func executionFromRow(row tradeHistoryRow, fallbackDay time.Time, loc *time.Location) (tradestore.NewExecution, error) {
	day, err := parseTradeDate(row.OrderDate, loc)
	if err != nil {
		if fallbackDay.IsZero() {
			return tradestore.NewExecution{}, err
		}
		day = fallbackDay
	}
	return tradestore.NewExecution{
		TradeDate:      day,
		OrderTime:      normalizeOrderTime(row.OrderTime),
		InstrumentCode: strings.TrimSpace(row.StockCode),
		InstrumentName: strings.TrimSpace(row.StockName),
		CreditClass:    strings.TrimSpace(row.CreditClass),
		SideDescriptor: strings.TrimSpace(row.IOTypeName),
		Quantity:       parseInt64(row.ExecutedQty),
		Price:          parseDecimal(row.ExecutedPrice),
		SourceOrderNo:  strings.TrimSpace(row.OrderNo),
	}, nil
}
