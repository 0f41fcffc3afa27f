package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/hupe1980/catid"
	"github.com/hupe1980/catid/blobstore"
	"github.com/hupe1980/catid/blobstore/minio"
	"github.com/hupe1980/catid/blobstore/s3"
)

// openBlobStore builds the store described by rc. An empty kind opens the
// local directory dir.
func openBlobStore(ctx context.Context, rc catid.RemoteConfig, dir string) (blobstore.BlobStore, error) {
	switch rc.Kind {
	case "":
		return blobstore.NewLocalStore(dir), nil
	case "local":
		if rc.Path == "" {
			return nil, fmt.Errorf("%w: local store needs a path", catid.ErrInvalidConfig)
		}
		return blobstore.NewLocalStore(rc.Path), nil
	case "minio":
		return minio.Dial(minio.Config{
			Endpoint:  rc.Endpoint,
			AccessKey: rc.AccessKey,
			SecretKey: rc.SecretKey,
			Secure:    rc.Secure,
			Region:    rc.Region,
			Bucket:    rc.Bucket,
			Prefix:    rc.Prefix,
		})
	case "s3":
		return openS3(ctx, rc)
	default:
		return nil, fmt.Errorf("%w: unknown store kind %q", catid.ErrInvalidConfig, rc.Kind)
	}
}

func openS3(ctx context.Context, rc catid.RemoteConfig) (blobstore.BlobStore, error) {
	var loadOpts []func(*config.LoadOptions) error
	if rc.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(rc.Region))
	}
	if rc.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(rc.AccessKey, rc.SecretKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if rc.Endpoint != "" {
			o.BaseEndpoint = aws.String(rc.Endpoint)
			o.UsePathStyle = true
		}
	})
	store := s3.NewStore(client, rc.Bucket, rc.Prefix)
	if rc.DDBTable == "" {
		return store, nil
	}

	baseURI := "s3://" + rc.Bucket
	if p := strings.Trim(rc.Prefix, "/"); p != "" {
		baseURI += "/" + p
	}
	return s3.NewDDBCommitStore(store, dynamodb.NewFromConfig(awsCfg), rc.DDBTable, baseURI), nil
}
