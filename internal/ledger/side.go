package ledger

import "strings"

// Brokerage transaction-type labels are free text with qualifiers appended
// ("현금매도", "융자매도상환", "시간외신용매수", ...). Intent is derived by
// marker containment rather than exact match.
const (
	sellMarker = "매도"
	buyMarker  = "매수"
)

// Side is the trade intent derived from a transaction-type label.
type Side int

const (
	// SideUnknown marks records excluded from matching and position state:
	// corporate actions, cancellations and informational rows must not
	// contribute to P&L or position math.
	SideUnknown Side = iota
	// SideBuy opens or extends a position.
	SideBuy
	// SideSell closes against open lots.
	SideSell
)

// String returns the canonical side label.
func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// ClassifySide derives trade intent from the raw transaction-type label.
// A label containing the sell marker without the buy marker is a sell; any
// remaining label containing the buy marker is a buy.
func ClassifySide(descriptor string) Side {
	label := strings.TrimSpace(descriptor)
	if label == "" {
		return SideUnknown
	}
	if strings.Contains(label, sellMarker) && !strings.Contains(label, buyMarker) {
		return SideSell
	}
	if strings.Contains(label, buyMarker) {
		return SideBuy
	}
	return SideUnknown
}
