// Package attribution is the streaming attribution engine.
//
// An Engine is built over a fixed, ordered set of channels (the Registry) and
// maintains two independent aggregates for every conversion path it receives:
//
//   - a transition count matrix over START, the channels and CONVERSION, and
//   - per-channel credited value and credited conversions, driven by a
//     CreditRule (LastTouch by default).
//
// RecordConversion and Snapshot are serialized by a single mutex. A path is
// validated before the lock is taken, so a rejected call never touches state,
// and a Snapshot always reflects one point in time.
//
// The transition matrix is exported in every ScoreSnapshot but is not used
// for scoring: shares are computed from the credit accumulator only.
package attribution
