// Package s3 stores segment blobs in Amazon S3.
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("tenants/acme/"),
//	    s3.WithRegion("eu-central-1"),
//	)
//	db, err := segdb.Open(ctx, store, schema)
//
// Reads are ranged GETs, writes stream through the multipart upload manager
// and listings are paginated. A blob deleted after it was opened fails the
// next read with blobstore.ErrNotFound.
//
// S3 has no compare-and-swap on overwrite, so a prefix shared by several
// writer processes needs NewCommit, which moves the CURRENT pointer into a
// DynamoDB table and turns every manifest commit into a conditional write.
package s3
