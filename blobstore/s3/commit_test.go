package s3

import (
	"context"
	"slices"
	"strconv"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/hupe1980/segdb/blobstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fakeDynamo keeps commit items in memory and honors the
// attribute_not_exists condition.
type fakeDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]ddbtypes.AttributeValue
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]ddbtypes.AttributeValue)}
}

func itemKey(item map[string]ddbtypes.AttributeValue) string {
	return item["prefix"].(*ddbtypes.AttributeValueMemberS).Value + "#" + item["version"].(*ddbtypes.AttributeValueMemberN).Value
}

func itemVersion(item map[string]ddbtypes.AttributeValue) uint64 {
	v, _ := strconv.ParseUint(item["version"].(*ddbtypes.AttributeValueMemberN).Value, 10, 64)
	return v
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	k := itemKey(in.Item)
	if _, ok := f.items[k]; ok && in.ConditionExpression != nil {
		return nil, &ddbtypes.ConditionalCheckFailedException{Message: aws.String("conditional request failed")}
	}
	f.items[k] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p := in.ExpressionAttributeValues[":p"].(*ddbtypes.AttributeValueMemberS).Value
	var items []map[string]ddbtypes.AttributeValue
	for _, item := range f.items {
		if item["prefix"].(*ddbtypes.AttributeValueMemberS).Value == p {
			items = append(items, item)
		}
	}
	slices.SortFunc(items, func(a, b map[string]ddbtypes.AttributeValue) int {
		va, vb := itemVersion(a), itemVersion(b)
		if !aws.ToBool(in.ScanIndexForward) {
			va, vb = vb, va
		}
		switch {
		case va < vb:
			return -1
		case va > vb:
			return 1
		}
		return 0
	})
	if in.Limit != nil && int(*in.Limit) < len(items) {
		items = items[:*in.Limit]
	}
	return &dynamodb.QueryOutput{Items: items}, nil
}

func TestCommitStoreCurrent(t *testing.T) {
	ctx := context.Background()
	ddb := newFakeDynamo()
	cs := NewCommitStore(NewStore(new(mockClient), "bucket", "tenant/"), ddb, "commits")

	_, err := cs.Open(ctx, "CURRENT")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
	v, err := cs.Version(ctx)
	require.NoError(t, err)
	assert.Zero(t, v)

	require.NoError(t, cs.Put(ctx, "CURRENT", []byte("MANIFEST-000001.bin")))
	assert.ErrorIs(t, cs.Put(ctx, "CURRENT", []byte("MANIFEST-000001.bin")), ErrCommitConflict)
	require.NoError(t, cs.Put(ctx, "CURRENT", []byte("MANIFEST-000002.bin\n")))

	v, err = cs.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v)

	data, err := blobstore.ReadAll(ctx, cs, "CURRENT")
	require.NoError(t, err)
	assert.Equal(t, "MANIFEST-000002.bin", string(data))

	assert.Contains(t, ddb.items, "s3://bucket/tenant#1")

	err = cs.Put(ctx, "CURRENT", []byte("seg-000001"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCommitConflict)
}

func TestCommitStoreManifestBlobs(t *testing.T) {
	ctx := context.Background()
	client := new(mockClient)
	cs := NewCommitStore(NewStore(client, "bucket", ""), newFakeDynamo(), "commits")

	guarded := mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return *in.Key == "MANIFEST-000003.bin" && aws.ToString(in.IfNoneMatch) == "*"
	})
	client.On("PutObject", mock.Anything, guarded).Return(&s3.PutObjectOutput{}, nil).Once()
	client.On("PutObject", mock.Anything, guarded).Return(nil, &smithy.GenericAPIError{Code: "PreconditionFailed"}).Once()
	client.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return *in.Key == "seg-000001/meta.json" && in.IfNoneMatch == nil
	})).Return(&s3.PutObjectOutput{}, nil).Once()

	require.NoError(t, cs.Put(ctx, "MANIFEST-000003.bin", []byte("a")))
	assert.ErrorIs(t, cs.Put(ctx, "MANIFEST-000003.bin", []byte("b")), ErrCommitConflict)
	require.NoError(t, cs.Put(ctx, "seg-000001/meta.json", []byte("{}")))
	client.AssertExpectations(t)
}

func TestManifestVersion(t *testing.T) {
	for name, want := range map[string]uint64{
		"MANIFEST-000001.bin": 1,
		"MANIFEST-123456.bin": 123456,
		"MANIFEST-7":          7,
	} {
		got, err := manifestVersion(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got)
	}
	for _, bad := range []string{"", "CURRENT", "MANIFEST-.bin", "MANIFEST-000000.bin", "seg-000001"} {
		_, err := manifestVersion(bad)
		assert.Error(t, err, bad)
	}
}
