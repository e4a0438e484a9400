package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/hupe1980/segdb/blobstore"
)

// ErrCommitConflict is returned when another writer committed the same
// manifest version first. Reload the manifest and retry.
var ErrCommitConflict = errors.New("s3: concurrent manifest commit")

const (
	currentName    = "CURRENT"
	manifestPrefix = "MANIFEST-"
)

// DynamoDBClient is the subset of the DynamoDB API the commit store uses.
type DynamoDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// CommitStore is a Store that keeps the CURRENT manifest pointer in
// DynamoDB, so several processes can share one prefix without losing
// commits.
//
// Manifest blobs are written with If-None-Match, and CURRENT becomes a
// conditional put of one item per manifest version. The loser of a race
// gets ErrCommitConflict and has overwritten nothing.
//
// Table layout:
//
//	partition key: prefix  (S)  s3://bucket/prefix
//	sort key:      version (N)  manifest version
//	attribute:     path    (S)  manifest blob name
//
//	aws dynamodb create-table --table-name segdb-commits \
//	  --attribute-definitions AttributeName=prefix,AttributeType=S AttributeName=version,AttributeType=N \
//	  --key-schema AttributeName=prefix,KeyType=HASH AttributeName=version,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type CommitStore struct {
	*Store
	ddb       DynamoDBClient
	table     string
	partition string
}

// NewCommitStore wraps store with commits coordinated through table.
func NewCommitStore(store *Store, client DynamoDBClient, table string) *CommitStore {
	return &CommitStore{
		Store:     store,
		ddb:       client,
		table:     table,
		partition: "s3://" + path.Join(store.bucket, store.prefix),
	}
}

func (s *CommitStore) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	if name != currentName {
		return s.Store.Open(ctx, name)
	}
	_, manifest, err := s.latest(ctx)
	if err != nil {
		return nil, err
	}
	if manifest == "" {
		return nil, fmt.Errorf("s3: %s: %w", currentName, blobstore.ErrNotFound)
	}
	return &currentBlob{r: bytes.NewReader([]byte(manifest))}, nil
}

func (s *CommitStore) Put(ctx context.Context, name string, data []byte) error {
	switch {
	case name == currentName:
		return s.commit(ctx, strings.TrimSpace(string(data)))
	case strings.HasPrefix(name, manifestPrefix):
		return s.putIfAbsent(ctx, name, data)
	default:
		return s.Store.Put(ctx, name, data)
	}
}

// Version returns the latest committed manifest version, 0 if none.
func (s *CommitStore) Version(ctx context.Context) (uint64, error) {
	v, _, err := s.latest(ctx)
	return v, err
}

func (s *CommitStore) latest(ctx context.Context) (uint64, string, error) {
	out, err := s.ddb.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("#p = :p"),
		ExpressionAttributeNames: map[string]string{
			"#p": "prefix",
		},
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":p": &ddbtypes.AttributeValueMemberS{Value: s.partition},
		},
		ScanIndexForward: aws.Bool(false),
		ConsistentRead:   aws.Bool(true),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, "", fmt.Errorf("s3: query commits: %w", err)
	}
	if len(out.Items) == 0 {
		return 0, "", nil
	}

	item := out.Items[0]
	v, ok := item["version"].(*ddbtypes.AttributeValueMemberN)
	if !ok {
		return 0, "", errors.New("s3: commit item without version")
	}
	p, ok := item["path"].(*ddbtypes.AttributeValueMemberS)
	if !ok {
		return 0, "", errors.New("s3: commit item without path")
	}
	version, err := strconv.ParseUint(v.Value, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("s3: commit version: %w", err)
	}
	return version, p.Value, nil
}

func (s *CommitStore) commit(ctx context.Context, manifest string) error {
	version, err := manifestVersion(manifest)
	if err != nil {
		return err
	}
	_, err = s.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item: map[string]ddbtypes.AttributeValue{
			"prefix":  &ddbtypes.AttributeValueMemberS{Value: s.partition},
			"version": &ddbtypes.AttributeValueMemberN{Value: strconv.FormatUint(version, 10)},
			"path":    &ddbtypes.AttributeValueMemberS{Value: manifest},
		},
		ConditionExpression:      aws.String("attribute_not_exists(#v)"),
		ExpressionAttributeNames: map[string]string{"#v": "version"},
	})
	if err != nil {
		var cond *ddbtypes.ConditionalCheckFailedException
		if errors.As(err, &cond) {
			return fmt.Errorf("%w: version %d", ErrCommitConflict, version)
		}
		return fmt.Errorf("s3: commit version %d: %w", version, err)
	}
	return nil
}

func (s *Store) putIfAbsent(ctx context.Context, name string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(name)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		IfNoneMatch:   aws.String("*"),
	})
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "PreconditionFailed" {
		return fmt.Errorf("%w: %s exists", ErrCommitConflict, name)
	}
	return err
}

// manifestVersion extracts 12 from "MANIFEST-000012.bin".
func manifestVersion(name string) (uint64, error) {
	base := strings.TrimSuffix(name, path.Ext(name))
	v, err := strconv.ParseUint(strings.TrimPrefix(base, manifestPrefix), 10, 64)
	if !strings.HasPrefix(base, manifestPrefix) || err != nil || v == 0 {
		return 0, fmt.Errorf("s3: %q is not a manifest name", name)
	}
	return v, nil
}

type currentBlob struct {
	r *bytes.Reader
}

func (b *currentBlob) ReadAt(_ context.Context, p []byte, off int64) (int, error) {
	return b.r.ReadAt(p, off)
}

func (b *currentBlob) ReadRange(_ context.Context, off, length int64) (io.ReadCloser, error) {
	return io.NopCloser(io.NewSectionReader(b.r, off, length)), nil
}

func (b *currentBlob) Size() int64  { return b.r.Size() }
func (b *currentBlob) Close() error { return nil }
