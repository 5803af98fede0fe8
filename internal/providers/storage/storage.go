package storage

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/memberhub/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrNotFound = errors.New("object_not_found")

// Object is a stored, publicly retrievable file.
type Object struct {
	ID   string
	Key  string
	URL  string
	Size int64
}

type Uploader interface {
	Upload(ctx context.Context, filename, contentType string, data []byte) (Object, error)
}

var Module = fx.Module("providers.storage",
	fx.Provide(NewFromConfig),
)

// NewFromConfig uses S3 when a bucket is configured and memory otherwise.
func NewFromConfig(cfg config.Config, log *zap.Logger) (Uploader, error) {
	log = log.Named("storage")
	if cfg.Storage.Bucket == "" {
		log.Warn("storage.memory_fallback")
		return NewMemory("memory://"), nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.Storage.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewS3(s3.NewFromConfig(awsCfg), cfg.Storage), nil
}

func newID(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()
}

type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3 struct {
	client    putObjectAPI
	bucket    string
	keyPrefix string
	baseURL   string
}

func NewS3(client putObjectAPI, cfg config.StorageConfig) *S3 {
	baseURL := cfg.PublicBaseURL
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
	}
	return &S3{
		client:    client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
		baseURL:   baseURL,
	}
}

func (s *S3) Upload(ctx context.Context, filename, contentType string, data []byte) (Object, error) {
	id := newID(time.Now())
	key := path.Join(s.keyPrefix, id, filename)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
		ACL:           types.ObjectCannedACLPublicRead,
		CacheControl:  aws.String("public, max-age=31536000, immutable"),
	})
	if err != nil {
		return Object{}, fmt.Errorf("put %s: %w", key, err)
	}
	return Object{
		ID:   id,
		Key:  key,
		URL:  s.baseURL + "/" + key,
		Size: int64(len(data)),
	}, nil
}

// Memory keeps uploads in process. Used when no bucket is configured and in tests.
type Memory struct {
	mu      sync.Mutex
	baseURL string
	objects map[string][]byte
}

func NewMemory(baseURL string) *Memory {
	return &Memory{baseURL: baseURL, objects: make(map[string][]byte)}
}

func (m *Memory) Upload(ctx context.Context, filename, contentType string, data []byte) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	id := newID(time.Now())
	key := path.Join(id, filename)

	m.mu.Lock()
	m.objects[key] = append([]byte(nil), data...)
	m.mu.Unlock()

	return Object{ID: id, Key: key, URL: m.baseURL + key, Size: int64(len(data))}, nil
}

func (m *Memory) Get(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}
