package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/resumesite/oidc-gatekeeper/pkg/utils"
	"github.com/spf13/viper"
)

var (
	once     sync.Once
	instance *Config

	defaultCacheType         = "memory"
	defaultCacheTTL          = "1h"
	defaultCacheMaxLocalSize = 10
	defaultGroupsClaim       = "groups"
	defaultTokenUseClaim     = "token_use"
	defaultAcceptedTokenUses = []string{"access", "id"}
	defaultJwksPath          = "/.well-known/jwks.json"
	defaultFallbackTokenTTL  = "1h"
	defaultMaxUploadSize     = int64(10 * 1024 * 1024) // 10MB
)

// Provider holds the discovery parameters for one identity provider.
// Provider differences (claim names, endpoint paths, accepted token
// uses) are data here, not code forks.
type Provider struct {
	Name              string   `mapstructure:"name"`                // Short name, e.g. "cognito", "okta", "keycloak"
	Issuer            string   `mapstructure:"issuer"`              // Expected iss value, exact match
	JwksURL           string   `mapstructure:"jwks_url"`            // JWKS endpoint; derived from issuer when empty
	Audience          string   `mapstructure:"audience"`            // Expected audience (deprecated - use Audiences)
	Audiences         []string `mapstructure:"audiences"`           // Expected audiences of the token
	GroupsClaim       string   `mapstructure:"groups_claim"`        // Claim holding group/role memberships; supports dotted paths (e.g. "realm_access.roles")
	TokenUseClaim     string   `mapstructure:"token_use_claim"`     // Claim holding the token use/type
	AcceptedTokenUses []string `mapstructure:"accepted_token_uses"` // Accepted token uses; defaults to access+id, "*" disables the check (for providers whose tokens carry no such claim)
}

// Cache configures the shared JWKS cache backend
type Cache struct {
	Type          string        `mapstructure:"type"`           // Cache type ("memory", "dynamodb", "s3")
	TTL           time.Duration `mapstructure:"ttl"`            // TTL for a cached key set (ex: "5m", "1h", "24h")
	MaxLocalSize  int           `mapstructure:"max_local_size"` // Maximum entries in local memory caches
	DynamoDBTable string        `mapstructure:"dynamodb_table"` // DynamoDB table name (if using DynamoDB cache)
	S3Bucket      string        `mapstructure:"s3_bucket"`      // S3 bucket name (if using S3 cache)
	S3Prefix      string        `mapstructure:"s3_prefix"`      // S3 prefix (if using S3 cache)
}

// Fallback configures the shared-secret HMAC token mode used when no
// managed identity provider is deployed.
type Fallback struct {
	Enabled  bool          `mapstructure:"enabled"`
	Secret   string        `mapstructure:"secret"`    // Shared HMAC secret
	Issuer   string        `mapstructure:"issuer"`    // Issuer written into and expected from fallback tokens
	Audience string        `mapstructure:"audience"`  // Audience written into and expected from fallback tokens
	TokenTTL time.Duration `mapstructure:"token_ttl"` // Lifetime of issued fallback tokens
}

// Assets configures the document/photo upload endpoint
type Assets struct {
	Bucket        string `mapstructure:"bucket"`          // S3 bucket receiving uploads
	Prefix        string `mapstructure:"prefix"`          // Key prefix for uploaded objects
	MaxUploadSize int64  `mapstructure:"max_upload_size"` // Maximum upload size in bytes
}

type Config struct {
	Providers   []Provider `mapstructure:"providers"`    // Identity providers whose tokens are accepted
	AdminGroups []string   `mapstructure:"admin_groups"` // Groups granted access to upload endpoints
	Cache       *Cache     `mapstructure:"cache"`        // JWKS cache configuration
	Fallback    *Fallback  `mapstructure:"fallback"`     // HMAC fallback token configuration
	Assets      *Assets    `mapstructure:"assets"`       // Upload endpoint configuration

	// Logging configuration
	LogLevel string `mapstructure:"log_level"` // slog level name
	// Audit trail of verification decisions written to S3
	AuditToS3   bool   `mapstructure:"audit_to_s3"`
	AuditBucket string `mapstructure:"audit_bucket"`
	AuditPrefix string `mapstructure:"audit_prefix"`
}

// NewConfig initializes and returns the configuration. It ensures that the config is loaded only once.
func NewConfig() (*Config, error) {
	var err error
	once.Do(func() {
		instance = &Config{}
		err = instance.LoadConfig()
	})
	return instance, err
}

// LoadConfig attempts to load configuration from a file or uses default values if not found.
func (c *Config) LoadConfig() error {
	configName := utils.GetEnv("CONFIG_NAME", "config") // Configuration file name without extension
	configPath := utils.GetEnv("CONFIG_PATH", ".")      // Configuration file path, default to current directory

	viper.SetEnvPrefix("ogk") // Environment variable prefix, ex: "OGK_"
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	viper.AddConfigPath("/etc/oidc-gatekeeper/")
	viper.AddConfigPath(configPath)
	viper.SetConfigName(configName)

	viper.SetDefault("log_level", "info")
	viper.SetDefault("cache.type", defaultCacheType)
	viper.SetDefault("cache.ttl", defaultCacheTTL)
	viper.SetDefault("cache.max_local_size", defaultCacheMaxLocalSize)
	viper.SetDefault("fallback.token_ttl", defaultFallbackTokenTTL)
	viper.SetDefault("assets.max_upload_size", defaultMaxUploadSize)

	// Explicitly bind config keys to environment variables
	_ = viper.BindEnv("log_level")    // OGK_LOG_LEVEL
	_ = viper.BindEnv("admin_groups") // OGK_ADMIN_GROUPS
	_ = viper.BindEnv("audit_to_s3")  // OGK_AUDIT_TO_S3
	_ = viper.BindEnv("audit_bucket") // OGK_AUDIT_BUCKET
	_ = viper.BindEnv("audit_prefix") // OGK_AUDIT_PREFIX

	// Cache settings
	_ = viper.BindEnv("cache.type")           // OGK_CACHE_TYPE
	_ = viper.BindEnv("cache.ttl")            // OGK_CACHE_TTL
	_ = viper.BindEnv("cache.max_local_size") // OGK_CACHE_MAX_LOCAL_SIZE
	_ = viper.BindEnv("cache.dynamodb_table") // OGK_CACHE_DYNAMODB_TABLE
	_ = viper.BindEnv("cache.s3_bucket")      // OGK_CACHE_S3_BUCKET
	_ = viper.BindEnv("cache.s3_prefix")      // OGK_CACHE_S3_PREFIX

	// Fallback settings
	_ = viper.BindEnv("fallback.enabled")   // OGK_FALLBACK_ENABLED
	_ = viper.BindEnv("fallback.secret")    // OGK_FALLBACK_SECRET
	_ = viper.BindEnv("fallback.issuer")    // OGK_FALLBACK_ISSUER
	_ = viper.BindEnv("fallback.audience")  // OGK_FALLBACK_AUDIENCE
	_ = viper.BindEnv("fallback.token_ttl") // OGK_FALLBACK_TOKEN_TTL

	// Assets settings
	_ = viper.BindEnv("assets.bucket")          // OGK_ASSETS_BUCKET
	_ = viper.BindEnv("assets.prefix")          // OGK_ASSETS_PREFIX
	_ = viper.BindEnv("assets.max_upload_size") // OGK_ASSETS_MAX_UPLOAD_SIZE

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; rely on defaults and env
		} else {
			return fmt.Errorf("problem reading config file: %w", err)
		}
	}

	if err := viper.Unmarshal(c); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return c.Validate()
}

// Validate checks the configuration and fills in derivable provider fields.
func (c *Config) Validate() error {
	fallbackEnabled := c.Fallback != nil && c.Fallback.Enabled

	if len(c.Providers) == 0 && !fallbackEnabled {
		return errors.New("at least one provider or the fallback mode is required")
	}

	seen := make(map[string]bool, len(c.Providers))
	for i := range c.Providers {
		p := &c.Providers[i]

		if p.Name == "" {
			return fmt.Errorf("provider %d: name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("provider %q: duplicate name", p.Name)
		}
		seen[p.Name] = true

		if p.Issuer == "" {
			return fmt.Errorf("provider %q: issuer is required", p.Name)
		}

		// Handle backward compatibility between audience and audiences
		if len(p.Audiences) == 0 && p.Audience == "" {
			return fmt.Errorf("provider %q: either audience or audiences is required", p.Name)
		}
		if len(p.Audiences) == 0 && p.Audience != "" {
			p.Audiences = []string{p.Audience}
		}
		if p.Audience == "" && len(p.Audiences) > 0 {
			p.Audience = p.Audiences[0]
		}

		// The well-known path is only a convention; providers like Okta
		// (/v1/keys) and Keycloak (/protocol/openid-connect/certs) set
		// jwks_url explicitly.
		if p.JwksURL == "" {
			p.JwksURL = strings.TrimSuffix(p.Issuer, "/") + defaultJwksPath
		}

		if p.GroupsClaim == "" {
			p.GroupsClaim = defaultGroupsClaim
		}
		if p.TokenUseClaim == "" {
			p.TokenUseClaim = defaultTokenUseClaim
		}
		if len(p.AcceptedTokenUses) == 0 {
			p.AcceptedTokenUses = defaultAcceptedTokenUses
		}
	}

	if fallbackEnabled {
		if c.Fallback.Secret == "" {
			return errors.New("fallback secret is required when fallback mode is enabled")
		}
		if c.Fallback.Issuer == "" {
			return errors.New("fallback issuer is required when fallback mode is enabled")
		}
		if c.Fallback.Audience == "" {
			return errors.New("fallback audience is required when fallback mode is enabled")
		}
		if c.Fallback.TokenTTL <= 0 {
			ttl, _ := time.ParseDuration(defaultFallbackTokenTTL)
			c.Fallback.TokenTTL = ttl
		}
	}

	if c.AuditToS3 && c.AuditBucket == "" {
		return errors.New("audit bucket is required when audit_to_s3 is enabled")
	}

	return nil
}

// ProviderByIssuer returns the provider configured for the given
// issuer, or nil when no provider matches.
func (c *Config) ProviderByIssuer(issuer string) *Provider {
	for i := range c.Providers {
		if c.Providers[i].Issuer == issuer {
			return &c.Providers[i]
		}
	}
	return nil
}
