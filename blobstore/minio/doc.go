// Package minio stores segment blobs in MinIO or any S3-compatible server
// through the MinIO client.
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	    Secure: false,
//	})
//	store := minioblob.NewStore(client, "segments", "tenants/acme/")
//
// Unlike the s3 package it has no AWS SDK dependency.
package minio
