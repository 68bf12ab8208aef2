// Package cache stores rendered reports keyed by everything that determines
// their content.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"almcli/internal/config"
)

// KeyPrefix namespaces every key written by this package.
const KeyPrefix = "alm:report:"

// Cache stores opaque values with a time to live.
type Cache interface {
	// Get reports whether key is present. A miss is not an error.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Flush drops every entry under KeyPrefix.
	Flush(ctx context.Context) error
	Close() error
}

// Key builds the cache key of one rendered report. Parameter hash and store
// fingerprint make stale entries unreachable after an update or reload.
func Key(report, maturity, variant, paramsHash, storeFingerprint string) string {
	sum := sha256.Sum256([]byte(paramsHash + "|" + storeFingerprint))
	parts := []string{report, maturity}
	if variant != "" {
		parts = append(parts, variant)
	}
	return KeyPrefix + strings.Join(parts, ":") + ":" + hex.EncodeToString(sum[:8])
}

// New returns the backend selected by cfg.
func New(ctx context.Context, cfg config.CacheConfig, logger *slog.Logger) (Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch strings.ToLower(cfg.Backend) {
	case "", "memory":
		return NewMemory(cfg.TTL), nil
	case "redis":
		c, err := NewRedis(ctx, cfg.RedisURL, cfg.TTL, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "none":
		return Noop{}, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// Noop never stores anything.
type Noop struct{}

func (Noop) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }

func (Noop) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (Noop) Flush(context.Context) error { return nil }

func (Noop) Close() error { return nil }
