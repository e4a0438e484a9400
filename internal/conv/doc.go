// Package conv provides checked integer conversions for counts that are
// persisted in fixed-width fields: manifest lengths, table row counts and
// document numbers.
//
// Values read back from segment metadata are untrusted, so widening them
// into the manifest goes through these helpers instead of a bare cast.
package conv
