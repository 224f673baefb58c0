package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/resumesite/oidc-gatekeeper/pkg/types"
)

// s3Cache implements the Cache interface on an S3 bucket so that
// concurrent Lambda instances share fetched key sets. A small local
// memory cache fronts the bucket to avoid a round trip per request.
type s3Cache struct {
	client       *s3.Client
	bucketName   string
	prefix       string
	memCache     map[string]*s3CacheEntry
	memCacheMu   sync.RWMutex
	maxLocalSize int
	defaultTTL   time.Duration
}

// s3CacheEntry is an item in the local memory front
type s3CacheEntry struct {
	value      *types.JWKS
	expiration time.Time
	lastAccess time.Time
}

// s3CacheItem is the JSON document persisted to the bucket
type s3CacheItem struct {
	Value      *types.JWKS `json:"value"`
	Expiration time.Time   `json:"expiration"`
	CreatedAt  time.Time   `json:"created_at"`
}

type s3CacheOptions struct {
	maxLocalSize int
	defaultTTL   time.Duration
	awsConfig    aws.Config
}

// S3CacheOption is a function that configures the S3 cache
type S3CacheOption func(*s3CacheOptions)

// WithMaxLocalSize sets the maximum size of the local memory cache
func WithMaxLocalSize(size int) S3CacheOption {
	return func(o *s3CacheOptions) {
		o.maxLocalSize = size
	}
}

// WithDefaultTTL sets the default TTL for cache items
func WithDefaultTTL(ttl time.Duration) S3CacheOption {
	return func(o *s3CacheOptions) {
		o.defaultTTL = ttl
	}
}

// WithAWSConfig sets a custom AWS configuration
func WithAWSConfig(cfg aws.Config) S3CacheOption {
	return func(o *s3CacheOptions) {
		o.awsConfig = cfg
	}
}

// NewS3Cache creates a new S3 cache on the given bucket and prefix
func NewS3Cache(bucketName, prefix string, opts ...S3CacheOption) (Cache, error) {
	options := &s3CacheOptions{
		maxLocalSize: Defaults.MaxLocalSize,
		defaultTTL:   Defaults.TTL,
	}
	for _, opt := range opts {
		opt(options)
	}

	var cfg aws.Config
	var err error

	if options.awsConfig.Credentials != nil {
		cfg = options.awsConfig
	} else {
		cfg, err = awsconfig.LoadDefaultConfig(context.TODO(),
			awsconfig.WithRetryMaxAttempts(Defaults.MaxRetries),
		)
		if err != nil {
			slog.Error("Failed to load AWS config for S3 cache", "error", err.Error())
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
	}

	return &s3Cache{
		client:       s3.NewFromConfig(cfg),
		bucketName:   bucketName,
		prefix:       prefix,
		memCache:     make(map[string]*s3CacheEntry),
		maxLocalSize: options.maxLocalSize,
		defaultTTL:   options.defaultTTL,
	}, nil
}

// Get retrieves a key set from the local front or the bucket
func (c *s3Cache) Get(key string) (*types.JWKS, bool) {
	if jwks, found := c.getFromLocalCache(key); found {
		slog.Debug("Local memory cache hit", "key", key)
		return jwks, true
	}

	jwks, expiration, found := c.getFromS3(key)
	if found {
		c.storeInLocalCache(key, jwks, expiration)
		return jwks, true
	}

	return nil, false
}

func (c *s3Cache) getFromLocalCache(key string) (*types.JWKS, bool) {
	c.memCacheMu.RLock()
	entry, found := c.memCache[key]
	c.memCacheMu.RUnlock()

	if !found {
		return nil, false
	}

	if time.Now().After(entry.expiration) {
		c.memCacheMu.Lock()
		delete(c.memCache, key)
		c.memCacheMu.Unlock()
		return nil, false
	}

	c.memCacheMu.Lock()
	entry.lastAccess = time.Now()
	c.memCacheMu.Unlock()

	return entry.value, true
}

func (c *s3Cache) getFromS3(key string) (*types.JWKS, time.Time, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), Defaults.Timeout)
	defer cancel()

	resp, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucketName),
		Key:    aws.String(c.formatKey(key)),
	})
	if err != nil {
		var noSuchKey *s3types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			slog.Debug("Cache miss in S3", "key", key)
			return nil, time.Time{}, false
		}

		slog.Error("Failed to get object from S3", "key", key, "error", err)
		return nil, time.Time{}, false
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Error("Error closing S3 response body", "error", err)
		}
	}()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, Defaults.MaxItemSize))
	if err != nil {
		slog.Error("Failed to read S3 object body", "key", key, "error", err)
		return nil, time.Time{}, false
	}

	var item s3CacheItem
	if err := json.Unmarshal(bodyBytes, &item); err != nil {
		slog.Error("Failed to decode S3 cache item", "key", key, "error", err)
		return nil, time.Time{}, false
	}

	if time.Now().After(item.Expiration) {
		slog.Debug("S3 cache entry expired", "key", key)
		go c.deleteObject(c.formatKey(key))
		return nil, time.Time{}, false
	}

	slog.Debug("S3 cache hit", "key", key)
	return item.Value, item.Expiration, true
}

// Set replaces the cached key set in the local front immediately and
// persists it to the bucket asynchronously.
func (c *s3Cache) Set(key string, value *types.JWKS, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.storeInLocalCache(key, value, time.Now().Add(ttl))
	go c.storeInS3(key, value, ttl)
}

func (c *s3Cache) storeInLocalCache(key string, value *types.JWKS, expiration time.Time) {
	c.memCacheMu.Lock()
	defer c.memCacheMu.Unlock()

	if expiration.IsZero() {
		expiration = time.Now().Add(c.defaultTTL)
	}

	if _, exists := c.memCache[key]; !exists && len(c.memCache) >= c.maxLocalSize {
		c.evictLRU()
	}

	c.memCache[key] = &s3CacheEntry{
		value:      value,
		expiration: expiration,
		lastAccess: time.Now(),
	}
}

// evictLRU removes the least recently used entry. Callers must hold the lock.
func (c *s3Cache) evictLRU() {
	var oldestKey string
	var oldestTime time.Time

	for k, entry := range c.memCache {
		if oldestTime.IsZero() || entry.lastAccess.Before(oldestTime) {
			oldestKey = k
			oldestTime = entry.lastAccess
		}
	}

	if oldestKey != "" {
		delete(c.memCache, oldestKey)
	}
}

func (c *s3Cache) storeInS3(key string, value *types.JWKS, ttl time.Duration) {
	item := s3CacheItem{
		Value:      value,
		Expiration: time.Now().Add(ttl),
		CreatedAt:  time.Now(),
	}

	data, err := json.Marshal(item)
	if err != nil {
		slog.Error("Failed to marshal cache item", "key", key, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), Defaults.Timeout)
	defer cancel()

	_, err = c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucketName),
		Key:         aws.String(c.formatKey(key)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"Expiration": item.Expiration.Format(time.RFC3339),
			"CreatedAt":  item.CreatedAt.Format(time.RFC3339),
		},
	})
	if err != nil {
		slog.Error("Failed to put object in S3", "key", key, "error", err)
		return
	}

	slog.Debug("Cached JWKS in S3", "key", key, "ttl", ttl, "size", len(data))
}

// formatKey creates a consistent S3 object key from the cache key
func (c *s3Cache) formatKey(key string) string {
	if c.prefix == "" {
		return key
	}
	return fmt.Sprintf("%s/%s", c.prefix, key)
}

// deleteObject removes an expired object from the bucket
func (c *s3Cache) deleteObject(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), Defaults.Timeout)
	defer cancel()

	_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		slog.Error("Failed to delete expired object from S3", "key", key, "error", err)
	}
}
