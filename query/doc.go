// Package query implements the sorted-ID algebra used to evaluate boolean
// retrieval over segments.
//
// Every Set yields strictly ascending, duplicate-free object keys. Sets are
// restartable: each call to Iterator starts a fresh pass from the smallest
// key. Iterators are not resumable and are not safe for concurrent use.
//
//	s := query.Intersect(
//	    db.TermIDs("users", "City", "Berlin"),
//	    query.Not(db.AllIDs("users"), db.TermIDs("users", "Role", "admin")),
//	)
//	keys, err := query.Collect(ctx, s)
//
// Feeding an operator with unsorted or duplicated input is undefined behavior.
package query
