package ledger

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kfin-labs/lotledger/internal/domain/tradestore"
)

const secondsPerDay = 86400

// positionKey scopes matching state. Lots are not fungible across credit
// classes, so the class is part of the key alongside the instrument.
type positionKey struct {
	instrument  string
	creditClass string
}

// openLot is a buy execution still (partially) unmatched on a key's stack.
type openLot struct {
	sourceID  int64
	boughtAt  time.Time
	price     decimal.Decimal
	remaining int64
}

// MatcherStats counts per-pass diagnostics. OversoldQty is the total sell
// quantity that could not be matched against any recorded buy lot.
type MatcherStats struct {
	Buys        int
	Sells       int
	Unknown     int
	OversoldQty int64
}

// LotMatcher consumes executions in chronological order and pairs each sell
// against the most recently opened buy lots of its (instrument, credit class)
// key. For a fixed input ordering the matcher is fully deterministic: it holds
// no clocks and no randomness.
type LotMatcher struct {
	stacks  map[positionKey][]*openLot
	matches []tradestore.MatchedLot
	stats   MatcherStats
}

// NewLotMatcher returns a matcher with empty per-key stacks.
func NewLotMatcher() *LotMatcher {
	return &LotMatcher{stacks: make(map[positionKey][]*openLot)}
}

// Apply feeds one execution into the matcher. Records with unknown side or
// non-positive quantity are ignored. Callers must apply records in
// (trade date, order time, id) order; the stacks assume it.
func (m *LotMatcher) Apply(rec tradestore.ExecutionRecord) {
	side := ClassifySide(rec.SideDescriptor)
	if side == SideUnknown {
		m.stats.Unknown++
		return
	}
	if rec.Quantity <= 0 {
		return
	}

	code := strings.TrimSpace(rec.InstrumentCode)
	name := strings.TrimSpace(rec.InstrumentName)
	class := strings.TrimSpace(rec.CreditClass)
	key := positionKey{instrument: code, creditClass: class}
	ts := rec.EffectiveTime()

	if side == SideBuy {
		m.stats.Buys++
		m.stacks[key] = append(m.stacks[key], &openLot{
			sourceID:  rec.ID,
			boughtAt:  ts,
			price:     rec.Price,
			remaining: rec.Quantity,
		})
		return
	}

	m.stats.Sells++
	toClose := rec.Quantity
	stack := m.stacks[key]
	for toClose > 0 && len(stack) > 0 {
		lot := stack[len(stack)-1]
		matched := lot.remaining
		if toClose < matched {
			matched = toClose
		}

		holdingSeconds := int64(ts.Sub(lot.boughtAt) / time.Second)
		m.matches = append(m.matches, tradestore.MatchedLot{
			InstrumentCode: code,
			InstrumentName: name,
			CreditClass:    class,
			BuySourceID:    lot.sourceID,
			SellSourceID:   rec.ID,
			BuyTime:        lot.boughtAt,
			SellTime:       ts,
			BuyPrice:       lot.price,
			SellPrice:      rec.Price,
			MatchedQty:     matched,
			RealizedPnL:    rec.Price.Sub(lot.price).Mul(decimal.NewFromInt(matched)),
			HoldingSeconds: holdingSeconds,
			HoldingDays:    holdingSeconds / secondsPerDay,
		})

		lot.remaining -= matched
		toClose -= matched
		if lot.remaining == 0 {
			stack = stack[:len(stack)-1]
		}
	}
	m.stacks[key] = stack

	// A sell can outrun the recorded buy history (collection gap, short
	// position, window truncation). The excess is dropped without error;
	// only the diagnostic counter sees it.
	if toClose > 0 {
		m.stats.OversoldQty += toClose
	}
}

// Matches returns every matched lot emitted so far, in emission order.
func (m *LotMatcher) Matches() []tradestore.MatchedLot {
	return m.matches
}

// Stats returns the per-pass diagnostic counters.
func (m *LotMatcher) Stats() MatcherStats {
	return m.stats
}

// MatchLots runs a complete LIFO pass over records, which must already be in
// chronological order.
func MatchLots(records []tradestore.ExecutionRecord) []tradestore.MatchedLot {
	m := NewLotMatcher()
	for _, rec := range records {
		m.Apply(rec)
	}
	return m.Matches()
}
