// Package merge compacts several segments into one.
//
// Inputs are ordered by commit ordinal; for equal keys the newest segment
// wins. Documents are renumbered through a [Remap] built while the ID stores
// are merged. Numeric, dictionary and link stores are then merged by
// destination doc number with the per-segment cursors [IxNum] and [IxSeg].
//
// A deleted winner stays in the output as a tombstone so that older segments
// outside the merge remain shadowed, unless [Options.PurgeDeleted] is set.
// Stub documents, which only exist as link targets, never win over a real
// version of the same key.
package merge
