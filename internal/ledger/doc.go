// Package ledger derives analytical views from a chronological trade history:
// LIFO matched lots with realized P&L and holding time, and position episodes
// segmenting each (instrument, credit class) position into open->close
// intervals. Both passes are pure, single-threaded and deterministic for a
// fixed input ordering; persistence stays outside this package.
package ledger
