package handler

import (
	"fmt"
	"log/slog"

	"github.com/resumesite/oidc-gatekeeper/pkg/audit"
	"github.com/resumesite/oidc-gatekeeper/pkg/cache"
	"github.com/resumesite/oidc-gatekeeper/pkg/config"
	"github.com/resumesite/oidc-gatekeeper/pkg/fallback"
	"github.com/resumesite/oidc-gatekeeper/pkg/storage"
	"github.com/resumesite/oidc-gatekeeper/pkg/verifier"
)

// Bootstrap holds the initialized components shared by the Lambda and
// local entry points.
type Bootstrap struct {
	Config     *config.Config
	Cache      cache.Cache
	Registry   *verifier.Registry
	Trail      *audit.Trail
	AssetStore storage.Store
}

// NewBootstrap loads configuration and wires the cache, one verifier
// per configured provider, the optional fallback signer, and the
// optional S3-backed pieces.
func NewBootstrap() (*Bootstrap, error) {
	cfg, err := config.NewConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	jwksCache, err := cache.NewCache(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}

	ttl := cache.GetConfiguredTTL(cfg)
	registry := verifier.NewRegistry()
	for _, provider := range cfg.Providers {
		registry.Add(verifier.New(provider, jwksCache, verifier.WithCacheTTL(ttl)))
		slog.Info("Registered provider",
			slog.String("provider", provider.Name),
			slog.String("issuer", provider.Issuer))
	}

	if cfg.Fallback != nil && cfg.Fallback.Enabled {
		registry.Add(fallback.NewSigner(cfg.Fallback))
		slog.Info("Registered HMAC fallback issuer", slog.String("issuer", cfg.Fallback.Issuer))
	}

	b := &Bootstrap{
		Config:   cfg,
		Cache:    jwksCache,
		Registry: registry,
	}

	if cfg.AuditToS3 {
		auditStore, err := storage.NewS3Store(cfg.AuditBucket)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize audit store: %w", err)
		}
		b.Trail = audit.NewTrail(auditStore, cfg.AuditPrefix)
	}

	if cfg.Assets != nil && cfg.Assets.Bucket != "" {
		assetStore, err := storage.NewS3Store(cfg.Assets.Bucket)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize asset store: %w", err)
		}
		b.AssetStore = assetStore
	}

	return b, nil
}
