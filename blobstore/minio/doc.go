// Package minio provides a BlobStore implementation using the MinIO client.
//
// MinIO is an S3-compatible object store. The official MinIO Go client also
// talks to Ceph, SeaweedFS, Garage and similar services, which makes this
// backend the air-gap friendly choice for a home server holding enrollment
// images.
//
// # Basic Usage
//
//	store, err := minio.Dial(minio.Config{
//	    Endpoint:  "nas.local:9000",
//	    AccessKey: "minioadmin",
//	    SecretKey: "minioadmin",
//	    Bucket:    "cats",
//	})
//
// or, with an existing client:
//
//	store := minio.NewStore(client, "cats", "catid/")
package minio
