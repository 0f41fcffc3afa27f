package s3

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/hupe1980/catid/blobstore"
)

// DDBCommitStore implements blobstore.BlobStore backed by S3 with DynamoDB
// for atomic metadata commits. This enables safe concurrent writers.
//
// Committed names (by default every "metadata.json") are never overwritten in
// place. Each Put writes an immutable "<name>.vNNNNNN-<uuid>" object and then
// publishes that version with a conditional PutItem. Everything else passes
// through to the wrapped Store.
//
// Table schema:
//   - Partition key: base_uri (string) - baseURI + "/" + name
//   - Sort key: version (number) - monotonically increasing version
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name catid-commits \
//	  --attribute-definitions AttributeName=base_uri,AttributeType=S AttributeName=version,AttributeType=N \
//	  --key-schema AttributeName=base_uri,KeyType=HASH AttributeName=version,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type DDBCommitStore struct {
	s3Store   *Store
	ddbClient DDBClient
	tableName string
	baseURI   string
	committed func(name string) bool
}

// DDBClient is the interface for DynamoDB operations.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

var _ DDBClient = (*dynamodb.Client)(nil)

// ErrConcurrentModification is returned when a concurrent write is detected.
var ErrConcurrentModification = errors.New("concurrent modification detected")

// MetadataName is the document name committed through DynamoDB by default.
const MetadataName = "metadata.json"

var versionedRe = regexp.MustCompile(`^(.*)\.v\d{6,}-[0-9a-f-]{36}$`)

// DDBOption configures a DDBCommitStore.
type DDBOption func(*DDBCommitStore)

// WithCommitted selects which names are versioned through DynamoDB.
func WithCommitted(fn func(name string) bool) DDBOption {
	return func(s *DDBCommitStore) {
		s.committed = fn
	}
}

// NewDDBCommitStore creates a new S3+DynamoDB commit store.
// The baseURI should be "s3://bucket/prefix"; it namespaces the partition keys.
func NewDDBCommitStore(s3Store *Store, ddbClient DDBClient, tableName, baseURI string, opts ...DDBOption) *DDBCommitStore {
	s := &DDBCommitStore{
		s3Store:   s3Store,
		ddbClient: ddbClient,
		tableName: tableName,
		baseURI:   baseURI,
		committed: func(name string) bool { return path.Base(name) == MetadataName },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *DDBCommitStore) partitionKey(name string) string {
	return s.baseURI + "/" + name
}

// versionedName is unique per writer, so a writer losing the commit race
// never removes the winner's object.
func versionedName(name string, version uint64) string {
	return fmt.Sprintf("%s.v%06d-%s", name, version, uuid.NewString())
}

// Open opens a blob for reading. Committed names resolve to their latest
// published version.
func (s *DDBCommitStore) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	if !s.committed(name) {
		return s.s3Store.Open(ctx, name)
	}
	version, object, err := s.latestVersion(ctx, name)
	if err != nil {
		return nil, err
	}
	if version == 0 {
		return nil, blobstore.ErrNotFound
	}
	return s.s3Store.Open(ctx, object)
}

// Put writes a blob. Committed names get a new version published with a
// DynamoDB conditional write.
func (s *DDBCommitStore) Put(ctx context.Context, name string, data []byte) error {
	if !s.committed(name) {
		return s.s3Store.Put(ctx, name, data)
	}

	current, _, err := s.latestVersion(ctx, name)
	if err != nil {
		return err
	}
	next := current + 1
	object := versionedName(name, next)

	if err := s.s3Store.Put(ctx, object, data); err != nil {
		return err
	}
	if err := s.commitVersion(ctx, name, next, object); err != nil {
		// The object is unreachable without a commit row.
		_ = s.s3Store.Delete(ctx, object)
		return err
	}
	return nil
}

// Delete deletes a blob. Committed documents are append-only.
func (s *DDBCommitStore) Delete(ctx context.Context, name string) error {
	if s.committed(name) {
		return fmt.Errorf("delete %s: %w", name, errors.ErrUnsupported)
	}
	return s.s3Store.Delete(ctx, name)
}

// List lists blobs with prefix. Versioned objects are reported under their
// logical name.
func (s *DDBCommitStore) List(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s.s3Store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(keys))
	out := keys[:0]
	for _, k := range keys {
		if m := versionedRe.FindStringSubmatch(k); m != nil && s.committed(m[1]) {
			k = m[1]
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

// latestVersion queries DynamoDB for the latest committed version of name.
func (s *DDBCommitStore) latestVersion(ctx context.Context, name string) (uint64, string, error) {
	resp, err := s.ddbClient.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("base_uri = :uri"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uri": &types.AttributeValueMemberS{Value: s.partitionKey(name)},
		},
		ScanIndexForward: aws.Bool(false), // Descending order
		Limit:            aws.Int32(1),
		ConsistentRead:   aws.Bool(true),
	})
	if err != nil {
		return 0, "", fmt.Errorf("failed to query DynamoDB: %w", err)
	}
	if len(resp.Items) == 0 {
		return 0, "", nil
	}

	item := resp.Items[0]
	versionAttr, ok := item["version"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, "", errors.New("invalid version attribute in DynamoDB")
	}
	objectAttr, ok := item["object"].(*types.AttributeValueMemberS)
	if !ok {
		return 0, "", errors.New("invalid object attribute in DynamoDB")
	}

	version, err := strconv.ParseUint(versionAttr.Value, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("failed to parse version: %w", err)
	}
	return version, objectAttr.Value, nil
}

// commitVersion publishes version with a conditional write that fails if a
// concurrent writer already took it.
func (s *DDBCommitStore) commitVersion(ctx context.Context, name string, version uint64, object string) error {
	_, err := s.ddbClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"base_uri": &types.AttributeValueMemberS{Value: s.partitionKey(name)},
			"version":  &types.AttributeValueMemberN{Value: strconv.FormatUint(version, 10)},
			"object":   &types.AttributeValueMemberS{Value: object},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrConcurrentModification
		}
		return fmt.Errorf("failed to commit version to DynamoDB: %w", err)
	}
	return nil
}
