// Package action defines the typed device actions a model can request and
// the strict decoder that turns raw model text into them.
//
// The decoder accepts the do()/finish()/fail() call grammar and a JSON
// object fallback. It never evaluates model output as code: parsing is a
// bounded scan with quote-aware splitting, and anything outside the
// grammar becomes a DecodeError that retains the offending text.
// Coordinates use a 0-999 grid relative to the screen and are mapped to
// pixels at execution time.
package action
