package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/resumesite/oidc-gatekeeper/pkg/types"
)

// dynamoDBCache implements the Cache interface on a DynamoDB table,
// with a local memory front identical in behavior to the S3 cache.
// DynamoDB native TTL (the "TTL" attribute) handles background expiry;
// reads additionally check the Expiration attribute so a stale item is
// never served between TTL sweeps.
type dynamoDBCache struct {
	client       *dynamodb.Client
	tableName    string
	memCache     map[string]*dynamoCacheEntry
	memCacheMu   sync.RWMutex
	maxLocalSize int
	defaultTTL   time.Duration
}

type dynamoCacheEntry struct {
	value      *types.JWKS
	expiration time.Time
	lastAccess time.Time
}

type dynamoDBCacheOptions struct {
	maxLocalSize int
	defaultTTL   time.Duration
	awsConfig    aws.Config
}

// DynamoDBCacheOption is a function that configures the DynamoDB cache
type DynamoDBCacheOption func(*dynamoDBCacheOptions)

// WithDynamoDBMaxLocalSize sets the maximum size of the local memory cache
func WithDynamoDBMaxLocalSize(size int) DynamoDBCacheOption {
	return func(o *dynamoDBCacheOptions) {
		o.maxLocalSize = size
	}
}

// WithDynamoDBDefaultTTL sets the default TTL for cache items
func WithDynamoDBDefaultTTL(ttl time.Duration) DynamoDBCacheOption {
	return func(o *dynamoDBCacheOptions) {
		o.defaultTTL = ttl
	}
}

// WithDynamoDBAWSConfig sets a custom AWS configuration
func WithDynamoDBAWSConfig(cfg aws.Config) DynamoDBCacheOption {
	return func(o *dynamoDBCacheOptions) {
		o.awsConfig = cfg
	}
}

// NewDynamoDBCache creates a new DynamoDB cache with the given table name
func NewDynamoDBCache(tableName string, opts ...DynamoDBCacheOption) (Cache, error) {
	options := &dynamoDBCacheOptions{
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
			slog.Error("Failed to load AWS config for DynamoDB cache", "error", err.Error())
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
	}

	return &dynamoDBCache{
		client:       dynamodb.NewFromConfig(cfg),
		tableName:    tableName,
		memCache:     make(map[string]*dynamoCacheEntry),
		maxLocalSize: options.maxLocalSize,
		defaultTTL:   options.defaultTTL,
	}, nil
}

// Get retrieves a key set from the local front or the table
func (c *dynamoDBCache) Get(key string) (*types.JWKS, bool) {
	if jwks, found := c.getFromLocalCache(key); found {
		slog.Debug("Local memory cache hit", "key", key)
		return jwks, true
	}

	jwks, expiration, found := c.getFromDynamoDB(key)
	if found {
		c.storeInLocalCache(key, jwks, expiration)
		return jwks, true
	}

	return nil, false
}

func (c *dynamoDBCache) getFromLocalCache(key string) (*types.JWKS, bool) {
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

func (c *dynamoDBCache) getFromDynamoDB(key string) (*types.JWKS, time.Time, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), Defaults.Timeout)
	defer cancel()

	result, err := c.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]ddbtypes.AttributeValue{
			"Key": &ddbtypes.AttributeValueMemberS{Value: key},
		},
	})
	if err != nil {
		slog.Error("Failed to get item from DynamoDB",
			"key", key,
			"error", err.Error(),
			"table", c.tableName)
		return nil, time.Time{}, false
	}

	if result.Item == nil {
		slog.Debug("Cache miss in DynamoDB", "key", key)
		return nil, time.Time{}, false
	}

	valueAttr, ok := result.Item["Value"].(*ddbtypes.AttributeValueMemberS)
	if !ok {
		slog.Error("Invalid item format in DynamoDB - missing Value attribute", "key", key)
		return nil, time.Time{}, false
	}

	if int64(len(valueAttr.Value)) > Defaults.MaxItemSize {
		slog.Warn("DynamoDB cache item exceeds maximum allowed size",
			"key", key,
			"size", len(valueAttr.Value),
			"maxAllowed", Defaults.MaxItemSize)
		return nil, time.Time{}, false
	}

	var expiration time.Time
	if expirationAttr, ok := result.Item["Expiration"].(*ddbtypes.AttributeValueMemberS); ok {
		if parsed, err := time.Parse(time.RFC3339, expirationAttr.Value); err == nil {
			expiration = parsed
			if time.Now().After(parsed) {
				slog.Debug("DynamoDB cache entry expired", "key", key)
				return nil, time.Time{}, false
			}
		}
	}

	var jwks types.JWKS
	if err := json.Unmarshal([]byte(valueAttr.Value), &jwks); err != nil {
		slog.Error("Failed to unmarshal JWKS from DynamoDB",
			"key", key,
			"error", err.Error())
		return nil, time.Time{}, false
	}

	slog.Debug("DynamoDB cache hit", "key", key)
	return &jwks, expiration, true
}

// Set replaces the cached key set in the local front immediately and
// persists it to the table asynchronously.
func (c *dynamoDBCache) Set(key string, value *types.JWKS, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.storeInLocalCache(key, value, time.Now().Add(ttl))
	go c.storeInDynamoDB(key, value, ttl)
}

func (c *dynamoDBCache) storeInLocalCache(key string, value *types.JWKS, expiration time.Time) {
	c.memCacheMu.Lock()
	defer c.memCacheMu.Unlock()

	if expiration.IsZero() {
		expiration = time.Now().Add(c.defaultTTL)
	}

	if _, exists := c.memCache[key]; !exists && len(c.memCache) >= c.maxLocalSize {
		c.evictLRU()
	}

	c.memCache[key] = &dynamoCacheEntry{
		value:      value,
		expiration: expiration,
		lastAccess: time.Now(),
	}
}

// evictLRU removes the least recently used entry. Callers must hold the lock.
func (c *dynamoDBCache) evictLRU() {
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

func (c *dynamoDBCache) storeInDynamoDB(key string, value *types.JWKS, ttl time.Duration) {
	valueJSON, err := json.Marshal(value)
	if err != nil {
		slog.Error("Failed to marshal JWKS", "key", key, "error", err.Error())
		return
	}

	expiration := time.Now().Add(ttl)

	ctx, cancel := context.WithTimeout(context.Background(), Defaults.Timeout)
	defer cancel()

	_, err = c.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]ddbtypes.AttributeValue{
			"Key":        &ddbtypes.AttributeValueMemberS{Value: key},
			"Value":      &ddbtypes.AttributeValueMemberS{Value: string(valueJSON)},
			"Expiration": &ddbtypes.AttributeValueMemberS{Value: expiration.Format(time.RFC3339)},
			"TTL":        &ddbtypes.AttributeValueMemberN{Value: fmt.Sprintf("%d", expiration.Unix())},
			"CreatedAt":  &ddbtypes.AttributeValueMemberS{Value: time.Now().Format(time.RFC3339)},
		},
	})
	if err != nil {
		slog.Error("Failed to set item in DynamoDB",
			"key", key,
			"error", err.Error(),
			"table", c.tableName)
		return
	}

	slog.Debug("Cached JWKS in DynamoDB", "key", key, "ttl", ttl, "size", len(valueJSON))
}
