package storage

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/smallbiznis/memberhub/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	input *s3.PutObjectInput
	body  []byte
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = params
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.body = body
	return &s3.PutObjectOutput{}, nil
}

func TestS3UploadUsesPrefixAndPublicURL(t *testing.T) {
	client := &fakeS3{}
	store := NewS3(client, config.StorageConfig{
		Bucket:        "files",
		Region:        "eu-west-1",
		KeyPrefix:     "invoices",
		PublicBaseURL: "https://files.memberhub.app",
	})

	obj, err := store.Upload(context.Background(), "factuur-42.pdf", "application/pdf", []byte("%PDF-1.4"))
	require.NoError(t, err)

	assert.Equal(t, "files", aws.ToString(client.input.Bucket))
	assert.True(t, strings.HasPrefix(obj.Key, "invoices/"+obj.ID+"/"))
	assert.Equal(t, "https://files.memberhub.app/"+obj.Key, obj.URL)
	assert.Equal(t, int64(8), obj.Size)
	assert.Equal(t, "%PDF-1.4", string(client.body))
	assert.Len(t, obj.ID, 26)
}

func TestMemoryUpload(t *testing.T) {
	store := NewMemory("memory://")
	obj, err := store.Upload(context.Background(), "a.pdf", "application/pdf", []byte("x"))
	require.NoError(t, err)

	data, err := store.Get(obj.Key)
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), data)
	assert.Equal(t, 1, store.Len())

	_, err = store.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
