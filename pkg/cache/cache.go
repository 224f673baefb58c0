package cache

import (
	"fmt"
	"time"

	"github.com/resumesite/oidc-gatekeeper/pkg/config"
	"github.com/resumesite/oidc-gatekeeper/pkg/types"
)

// CacheDefaults holds the default configuration values shared by all
// cache implementations.
type CacheDefaults struct {
	MaxRetries   int
	Timeout      time.Duration
	TTL          time.Duration
	MaxLocalSize int
	MaxItemSize  int64 // Maximum serialized size of a cached key set
}

// Defaults provides the default configuration values for all cache implementations
var Defaults = CacheDefaults{
	MaxRetries:   3,                // Default number of retries for cache backend operations
	Timeout:      10 * time.Second, // Default timeout for cache backend operations
	TTL:          time.Hour,        // Default TTL for cached key sets
	MaxLocalSize: 10,               // Default max entries for in-memory caches
	MaxItemSize:  512 * 1024,       // 512KB, well above any realistic JWKS
}

// Cache stores fetched JWKS documents keyed by their JWKS URL. Set
// always replaces the whole entry; implementations must never merge
// keys into an existing set.
type Cache interface {
	Get(key string) (*types.JWKS, bool)
	Set(key string, value *types.JWKS, ttl time.Duration)
}

// GetConfiguredTTL returns the TTL from config or the default if not specified
func GetConfiguredTTL(cfg *config.Config) time.Duration {
	if cfg != nil && cfg.Cache != nil && cfg.Cache.TTL > 0 {
		return cfg.Cache.TTL
	}
	return Defaults.TTL
}

// GetConfiguredMaxLocalSize returns the max local size from config or the default if not specified
func GetConfiguredMaxLocalSize(cfg *config.Config) int {
	if cfg != nil && cfg.Cache != nil && cfg.Cache.MaxLocalSize > 0 {
		return cfg.Cache.MaxLocalSize
	}
	return Defaults.MaxLocalSize
}

// NewCache creates a new cache implementation based on the configuration
func NewCache(cfg *config.Config) (Cache, error) {
	if cfg == nil || cfg.Cache == nil {
		return NewMemoryCache(), nil
	}

	cacheType := cfg.Cache.Type
	if cacheType == "" {
		cacheType = "memory"
	}

	switch cacheType {
	case "memory":
		return NewMemoryCache(), nil

	case "dynamodb":
		if cfg.Cache.DynamoDBTable == "" {
			return nil, fmt.Errorf("DynamoDB table name is required for DynamoDB cache")
		}

		return NewDynamoDBCache(
			cfg.Cache.DynamoDBTable,
			WithDynamoDBDefaultTTL(GetConfiguredTTL(cfg)),
			WithDynamoDBMaxLocalSize(GetConfiguredMaxLocalSize(cfg)),
		)

	case "s3":
		if cfg.Cache.S3Bucket == "" {
			return nil, fmt.Errorf("S3 bucket name is required for S3 cache")
		}
		if cfg.Cache.S3Prefix == "" {
			return nil, fmt.Errorf("S3 prefix is required for S3 cache")
		}

		return NewS3Cache(
			cfg.Cache.S3Bucket,
			cfg.Cache.S3Prefix,
			WithDefaultTTL(GetConfiguredTTL(cfg)),
			WithMaxLocalSize(GetConfiguredMaxLocalSize(cfg)),
		)

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cacheType)
	}
}
