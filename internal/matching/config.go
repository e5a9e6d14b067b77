package matching

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/brightbooks/brightbooks/internal/shared"
)

// Thresholds collects the tunables of the matching pipeline. Tenants may
// override the defaults; amounts are minor units.
type Thresholds struct {
	MinCandidateScore      int     `json:"min_candidate_score"`
	AutoApplyScore         int     `json:"auto_apply_score"`
	HighConfidence         int     `json:"high_confidence"`
	MediumConfidence       int     `json:"medium_confidence"`
	MaxReviewCandidates    int     `json:"max_review_candidates"`
	RoundingToleranceCents int64   `json:"rounding_tolerance_cents"`
	BankFeeToleranceCents  int64   `json:"bank_fee_tolerance_cents"`
	AmountPercent          float64 `json:"amount_percent"`
}

// DefaultThresholds returns the platform defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinCandidateScore:      20,
		AutoApplyScore:         80,
		HighConfidence:         85,
		MediumConfidence:       60,
		MaxReviewCandidates:    5,
		RoundingToleranceCents: 1,
		BankFeeToleranceCents:  500,
		AmountPercent:          1.0,
	}
}

// ThresholdProvider resolves the thresholds to apply for a tenant. The cache
// is owned by whichever lifecycle constructs the provider; ClearCache forces
// the next read through to the store.
type ThresholdProvider interface {
	Thresholds(ctx context.Context, tenantID uuid.UUID) (Thresholds, error)
	ClearCache(ctx context.Context, tenantID uuid.UUID) error
}

// StaticThresholds is a ThresholdProvider that always returns the same value.
type StaticThresholds struct {
	T Thresholds
}

func (s StaticThresholds) Thresholds(context.Context, uuid.UUID) (Thresholds, error) {
	return s.T, nil
}

func (s StaticThresholds) ClearCache(context.Context, uuid.UUID) error { return nil }

// ThresholdStore loads tenant overrides from durable storage.
// It returns shared.ErrNotFound when a tenant has no override row.
type ThresholdStore interface {
	LoadThresholds(ctx context.Context, tenantID uuid.UUID) (*Thresholds, error)
}

// CachedThresholdProvider caches per-tenant thresholds in Redis with a TTL.
// Concurrent cache misses for one tenant collapse into a single store read.
type CachedThresholdProvider struct {
	store  ThresholdStore
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

// NewCachedThresholdProvider constructs the provider.
func NewCachedThresholdProvider(store ThresholdStore, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedThresholdProvider {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedThresholdProvider{store: store, client: client, ttl: ttl, logger: logger}
}

func thresholdCacheKey(tenantID uuid.UUID) string {
	return "recon:thresholds:" + tenantID.String()
}

// Thresholds returns the tenant's thresholds, reading through the cache.
func (p *CachedThresholdProvider) Thresholds(ctx context.Context, tenantID uuid.UUID) (Thresholds, error) {
	key := thresholdCacheKey(tenantID)

	if p.client != nil {
		raw, err := p.client.Get(ctx, key).Bytes()
		if err == nil {
			var t Thresholds
			if jsonErr := json.Unmarshal(raw, &t); jsonErr == nil {
				return t, nil
			}
		} else if !errors.Is(err, redis.Nil) && p.logger != nil {
			p.logger.Warn("threshold cache read", slog.Any("error", err))
		}
	}

	v, err, _ := p.group.Do(key, func() (any, error) {
		t, err := p.load(ctx, tenantID)
		if err != nil {
			return Thresholds{}, err
		}
		if p.client != nil {
			raw, _ := json.Marshal(t)
			if err := p.client.Set(ctx, key, raw, p.ttl).Err(); err != nil && p.logger != nil {
				p.logger.Warn("threshold cache write", slog.Any("error", err))
			}
		}
		return t, nil
	})
	if err != nil {
		return Thresholds{}, err
	}
	return v.(Thresholds), nil
}

// ClearCache drops the cached entry for a tenant.
func (p *CachedThresholdProvider) ClearCache(ctx context.Context, tenantID uuid.UUID) error {
	if p.client == nil {
		return nil
	}
	return p.client.Del(ctx, thresholdCacheKey(tenantID)).Err()
}

func (p *CachedThresholdProvider) load(ctx context.Context, tenantID uuid.UUID) (Thresholds, error) {
	if p.store == nil {
		return DefaultThresholds(), nil
	}
	t, err := p.store.LoadThresholds(ctx, tenantID)
	if errors.Is(err, shared.ErrNotFound) {
		return DefaultThresholds(), nil
	}
	if err != nil {
		return Thresholds{}, err
	}
	return *t, nil
}
