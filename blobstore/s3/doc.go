// Package s3 provides Amazon S3 implementations of blobstore.BlobStore.
//
// # Usage
//
//	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion("eu-central-1"))
//	if err != nil {
//	    return err
//	}
//	store := s3.NewStore(awss3.NewFromConfig(cfg), "my-bucket", "catid/")
//
// Store serves both roles: the remote image source listed by sync
// (cats/{user}/{cat}/{file}) and a shared enrollment store.
//
// # Multi-writer enrollments
//
// S3 has no compare-and-swap on overwrite. DDBCommitStore wraps a Store and
// versions every metadata document: content goes to an immutable
// "metadata.json.vNNNNNN-<uuid>" object and a DynamoDB conditional write publishes
// the version. Two writers racing on the same document cannot both win; the
// loser gets ErrConcurrentModification.
package s3
