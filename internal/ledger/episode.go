package ledger

import (
	"strings"

	"github.com/kfin-labs/lotledger/internal/domain/tradestore"
)

// EpisodeBuilder accumulates a running signed quantity per (instrument,
// credit class) key and segments it into episodes: a zero->positive transition
// opens one, a positive->zero transition closes it. Negative excursions carry
// no episode semantics; short positions are outside the model.
type EpisodeBuilder struct {
	positions map[positionKey]int64
	seq       map[positionKey]int
	inFlight  map[positionKey]*tradestore.PositionEpisode
	openOrder []positionKey
	closed    []tradestore.PositionEpisode
	unknown   int
}

// NewEpisodeBuilder returns a builder with all positions flat.
func NewEpisodeBuilder() *EpisodeBuilder {
	return &EpisodeBuilder{
		positions: make(map[positionKey]int64),
		seq:       make(map[positionKey]int),
		inFlight:  make(map[positionKey]*tradestore.PositionEpisode),
	}
}

// Apply feeds one execution into the builder. Records must arrive in
// (trade date, order time, id) order.
func (b *EpisodeBuilder) Apply(rec tradestore.ExecutionRecord) {
	side := ClassifySide(rec.SideDescriptor)
	if side == SideUnknown {
		b.unknown++
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

	delta := rec.Quantity
	if side == SideSell {
		delta = -delta
	}
	before := b.positions[key]
	after := before + delta
	b.positions[key] = after

	if before == 0 && after > 0 {
		b.seq[key]++
		b.inFlight[key] = &tradestore.PositionEpisode{
			InstrumentCode: code,
			InstrumentName: name,
			CreditClass:    class,
			EpisodeSeq:     b.seq[key],
			StartTime:      ts,
			StartQty:       after,
		}
		b.openOrder = append(b.openOrder, key)
	}

	if before > 0 && after == 0 {
		if ep := b.inFlight[key]; ep != nil {
			end := ts
			ep.EndTime = &end
			ep.EndQty = 0
			b.closed = append(b.closed, *ep)
			delete(b.inFlight, key)
			b.dropOpenOrder(key)
		}
	}
}

func (b *EpisodeBuilder) dropOpenOrder(key positionKey) {
	for i, k := range b.openOrder {
		if k == key {
			b.openOrder = append(b.openOrder[:i], b.openOrder[i+1:]...)
			return
		}
	}
}

// Finish returns every episode: closed episodes in close order followed by
// still-open episodes in the order they were opened, with a nil end time and
// the current running quantity.
func (b *EpisodeBuilder) Finish() []tradestore.PositionEpisode {
	out := make([]tradestore.PositionEpisode, 0, len(b.closed)+len(b.openOrder))
	out = append(out, b.closed...)
	for _, key := range b.openOrder {
		ep := b.inFlight[key]
		if ep == nil {
			continue
		}
		still := *ep
		still.EndTime = nil
		still.EndQty = b.positions[key]
		out = append(out, still)
	}
	return out
}

// UnknownRecords reports how many records were excluded by side
// classification.
func (b *EpisodeBuilder) UnknownRecords() int {
	return b.unknown
}

// BuildEpisodes runs a complete episode pass over records, which must already
// be in chronological order.
func BuildEpisodes(records []tradestore.ExecutionRecord) []tradestore.PositionEpisode {
	b := NewEpisodeBuilder()
	for _, rec := range records {
		b.Apply(rec)
	}
	return b.Finish()
}
