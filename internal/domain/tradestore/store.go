// Package tradestore defines persistence contracts for the trade ledger and its
// derived analytical tables.
package tradestore

import (
	"time"

	"github.com/shopspring/decimal"
)

// orderTimeLayout is the brokerage char(8) time-of-day format.
const orderTimeLayout = "15:04:05"

// ExecutionRecord is a single persisted trade execution as reported by the
// brokerage. Records are immutable once ingested.
type ExecutionRecord struct {
	// ID is the row sequence assigned at ingestion; it is the final tiebreak
	// for chronological ordering.
	ID             int64
	TradeDate      time.Time
	OrderTime      string
	InstrumentCode string
	InstrumentName string
	CreditClass    string
	SideDescriptor string
	Quantity       int64
	Price          decimal.Decimal
}

// EffectiveTime combines the trade date with the intra-day order time. An
// empty or malformed order time (anything but an 8-character HH:MM:SS value)
// resolves to midnight of the trade date.
func (r ExecutionRecord) EffectiveTime() time.Time {
	day := time.Date(r.TradeDate.Year(), r.TradeDate.Month(), r.TradeDate.Day(), 0, 0, 0, 0, r.TradeDate.Location())
	if len(r.OrderTime) != len(orderTimeLayout) {
		return day
	}
	tod, err := time.Parse(orderTimeLayout, r.OrderTime)
	if err != nil {
		return day
	}
	return day.Add(time.Duration(tod.Hour())*time.Hour +
		time.Duration(tod.Minute())*time.Minute +
		time.Duration(tod.Second())*time.Second)
}

// NewExecution is an execution reported by the brokerage that has not been
// assigned a row sequence yet.
type NewExecution struct {
	TradeDate      time.Time
	OrderTime      string
	InstrumentCode string
	InstrumentName string
	CreditClass    string
	SideDescriptor string
	Quantity       int64
	Price          decimal.Decimal
	SourceOrderNo  string
}

// MatchedLot pairs a slice of a sell execution with the buy execution it
// closes under LIFO matching.
type MatchedLot struct {
	InstrumentCode string
	InstrumentName string
	CreditClass    string
	BuySourceID    int64
	SellSourceID   int64
	BuyTime        time.Time
	SellTime       time.Time
	BuyPrice       decimal.Decimal
	SellPrice      decimal.Decimal
	MatchedQty     int64
	RealizedPnL    decimal.Decimal
	HoldingSeconds int64
	HoldingDays    int64
}

// PositionEpisode is one open->close interval of a (instrument, credit class)
// position. EndTime is nil while the position is still open at the end of the
// processed history.
type PositionEpisode struct {
	InstrumentCode string
	InstrumentName string
	CreditClass    string
	EpisodeSeq     int
	StartTime      time.Time
	EndTime        *time.Time
	StartQty       int64
	EndQty         int64
}

// Window is an optional inclusive [Start, End] date range. The zero value
// selects the full history.
type Window struct {
	Start time.Time
	End   time.Time
}

// IsZero reports whether the window selects the full history.
func (w Window) IsZero() bool {
	return w.Start.IsZero() && w.End.IsZero()
}
