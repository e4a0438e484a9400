// Package segdb provides the storage core of a multi-tenant document
// database: immutable columnar segments, a versioned manifest and background
// merging.
//
// Objects are ingested in batches. Every batch becomes one segment holding a
// sorted ID store per table plus one column store per field. Segments are
// never modified; newer segments shadow older ones key by key, and merges
// fold adjacent segments into one while dropping superseded rows.
//
// # Quick Start
//
// Local mode:
//
//	ctx := context.Background()
//	s, _ := schema.Load(schemaFile)
//	db, _ := segdb.Open(ctx, blobstore.NewLocalStore("./data"), s)
//	defer db.Close()
//
// Cloud mode:
//
//	store, _ := s3.New(ctx, "my-bucket", s3.WithPrefix("tenants/acme/"))
//	db, _ := segdb.Open(ctx, store, s, segdb.WithBlockCache(256<<20, 0))
//
// # Ingest
//
//	info, _ := db.Ingest(ctx, []model.Object{
//	    {Table: "User", Key: model.Key("u1"), Fields: map[string][]string{"Name": {"Alice"}}},
//	    {Table: "User", Key: model.Key("u2"), Deleted: true},
//	})
//
// Within a batch the last write of a key wins. A deleted object is a
// tombstone that hides older versions of its key until a merge covering the
// oldest segment purges it. Link values name target keys; targets that are
// not part of the batch are recorded as link-only stubs.
//
// # Query
//
// Queries are sets of keys in ascending order, combined with the operators
// of package query:
//
//	admins := query.Intersect(db.TermIDs("User", "Role", "admin"), db.AllIDs("User"))
//	keys, _ := query.Collect(ctx, query.Difference(admins, db.TermIDs("User", "Name", "bob")))
//
// Point reads return the values of the newest version of a key:
//
//	ages, _ := db.Values(ctx, "User", "Age", model.Key("u1"))
//
// # Merge and Rewrite
//
// Merge folds segments that are adjacent in commit order into one:
//
//	stats, _ := db.Merge(ctx)                // everything
//	stats, _ = db.Merge(ctx, ids[1], ids[2]) // a run
//
// Rewrite re-encodes a single segment, for example after changing the
// compression. Rewrites keep document numbers, so a merge reading the old
// version of a segment resumes on the new one.
package segdb
