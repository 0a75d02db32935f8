// Package s3cache stores hierarchy cache entries as JSON objects in an
// S3-compatible bucket (AWS S3, MinIO).
package s3cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/fruitsalade/drivecms/internal/cache"
	"github.com/fruitsalade/drivecms/internal/logging"
	"github.com/fruitsalade/drivecms/internal/metrics"
	"github.com/fruitsalade/drivecms/pkg/models"
)

const treeObject = "_tree.json"

// Config holds S3 connection settings.
type Config struct {
	Endpoint  string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// API is the subset of the S3 client the store uses.
type API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, opts ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// Store implements cache.Store on S3. One object per route:
// <prefix>/<route segments>/_tree.json.
type Store struct {
	client API
	bucket string
	prefix string
}

// New connects to the bucket described by cfg, creating it when missing.
func New(ctx context.Context, cfg Config) (*Store, error) {
	endpoint := cfg.Endpoint
	if endpoint != "" && !strings.Contains(endpoint, "://") {
		scheme := "http://"
		if cfg.UseSSL {
			scheme = "https://"
		}
		endpoint = scheme + endpoint
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	store := NewWithClient(client, cfg.Bucket, cfg.Prefix)
	if err := store.ensureBucket(ctx); err != nil {
		logging.Error("bucket check failed", zap.Error(err))
	}
	return store, nil
}

// NewWithClient builds a store on an existing client.
func NewWithClient(client API, bucket, prefix string) *Store {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &Store{client: client, bucket: bucket, prefix: prefix}
}

func (s *Store) ensureBucket(ctx context.Context) error {
	start := time.Now()
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}
	if _, createErr := s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)}); createErr != nil {
		metrics.RecordStoreOperation("s3", "create_bucket", time.Since(start), false)
		return fmt.Errorf("bucket %s does not exist and cannot create: %w", s.bucket, createErr)
	}
	metrics.RecordStoreOperation("s3", "create_bucket", time.Since(start), true)
	logging.Info("created S3 bucket", zap.String("bucket", s.bucket))
	return nil
}

// objectKey maps a route key to its object key.
func (s *Store) objectKey(key string) string {
	trimmed := strings.Trim(key, "/")
	if trimmed == "" {
		return s.prefix + treeObject
	}
	return s.prefix + trimmed + "/" + treeObject
}

// routeKey maps an object key back to a route key. ok is false for foreign
// objects.
func (s *Store) routeKey(objectKey string) (string, bool) {
	rest, found := strings.CutPrefix(objectKey, s.prefix)
	if !found {
		return "", false
	}
	rest, found = strings.CutSuffix(rest, treeObject)
	if !found || (rest != "" && !strings.HasSuffix(rest, "/")) {
		return "", false
	}
	return "/" + strings.TrimSuffix(rest, "/"), true
}

// Get implements cache.Store.
func (s *Store) Get(ctx context.Context, key string) (*models.CacheEntry, error) {
	start := time.Now()
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			metrics.RecordStoreOperation("s3", "get", time.Since(start), true)
			return nil, nil
		}
		metrics.RecordStoreOperation("s3", "get", time.Since(start), false)
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		metrics.RecordStoreOperation("s3", "get", time.Since(start), false)
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	var entry models.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		metrics.RecordStoreOperation("s3", "get", time.Since(start), false)
		return nil, fmt.Errorf("decode cache entry %s: %w", key, err)
	}
	metrics.RecordStoreOperation("s3", "get", time.Since(start), true)
	return &entry, nil
}

// Put implements cache.Store. A single PutObject replaces the entry
// atomically.
func (s *Store) Put(ctx context.Context, entry *models.CacheEntry) error {
	if entry == nil || entry.Tree == nil {
		return cache.WriteError("", errors.New("cache entry without tree"))
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return cache.WriteError(entry.Key, err)
	}
	start := time.Now()
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.objectKey(entry.Key)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/json"),
		Metadata:      map[string]string{"built-at": entry.BuiltAt.UTC().Format(time.RFC3339Nano)},
	})
	if err != nil {
		metrics.RecordStoreOperation("s3", "put", time.Since(start), false)
		return cache.WriteError(entry.Key, err)
	}
	metrics.RecordStoreOperation("s3", "put", time.Since(start), true)
	logging.Debug("S3 cache put", zap.String("route", entry.Key), zap.Int("size", len(data)))
	return nil
}

// Delete implements cache.Store.
func (s *Store) Delete(ctx context.Context, key string) (int, error) {
	objects, err := s.list(ctx, s.objectKey(key))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, obj := range objects {
		if obj.key != key {
			continue
		}
		if err := s.deleteObject(ctx, obj.objectKey); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// DeleteByPrefix implements cache.Store.
func (s *Store) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	listPrefix := s.prefix + strings.TrimPrefix(prefix, "/")
	return s.deleteMatching(ctx, listPrefix, func(o object) bool {
		return strings.HasPrefix(o.key, prefix)
	})
}

// DeleteAll implements cache.Store.
func (s *Store) DeleteAll(ctx context.Context) (int, error) {
	return s.deleteMatching(ctx, s.prefix, func(object) bool { return true })
}

// DeleteOlderThan implements cache.Store. Object modification time is the
// build time since entries are written once per rebuild.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	return s.deleteMatching(ctx, s.prefix, func(o object) bool {
		return o.modified.Before(cutoff)
	})
}

// List implements cache.Store. Meta is not loaded; BuiltAt is the object
// modification time.
func (s *Store) List(ctx context.Context) ([]cache.EntryInfo, error) {
	objects, err := s.list(ctx, s.prefix)
	if err != nil {
		return nil, err
	}
	out := make([]cache.EntryInfo, 0, len(objects))
	for _, o := range objects {
		out = append(out, cache.EntryInfo{Key: o.key, BuiltAt: o.modified})
	}
	return out, nil
}

type object struct {
	key       string
	objectKey string
	modified  time.Time
}

func (s *Store) list(ctx context.Context, prefix string) ([]object, error) {
	start := time.Now()
	var out []object
	var token *string
	for {
		page, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			metrics.RecordStoreOperation("s3", "list", time.Since(start), false)
			return nil, fmt.Errorf("list objects %s: %w", prefix, err)
		}
		for _, c := range page.Contents {
			objKey := aws.ToString(c.Key)
			key, ok := s.routeKey(objKey)
			if !ok {
				continue
			}
			out = append(out, object{key: key, objectKey: objKey, modified: aws.ToTime(c.LastModified)})
		}
		if !aws.ToBool(page.IsTruncated) {
			break
		}
		token = page.NextContinuationToken
	}
	metrics.RecordStoreOperation("s3", "list", time.Since(start), true)
	return out, nil
}

func (s *Store) deleteMatching(ctx context.Context, prefix string, match func(object) bool) (int, error) {
	objects, err := s.list(ctx, prefix)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, o := range objects {
		if !match(o) {
			continue
		}
		if err := s.deleteObject(ctx, o.objectKey); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (s *Store) deleteObject(ctx context.Context, objectKey string) error {
	start := time.Now()
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		metrics.RecordStoreOperation("s3", "delete", time.Since(start), false)
		return fmt.Errorf("delete object %s: %w", objectKey, err)
	}
	metrics.RecordStoreOperation("s3", "delete", time.Since(start), true)
	logging.Debug("S3 cache delete", zap.String("key", objectKey))
	return nil
}
