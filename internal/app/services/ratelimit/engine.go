// Package ratelimit implements the multi-axis token/window limiter from
// spec.md §4.6: independent enforcement and accounting paths, a settings
// cache, and rollup aggregation by interval.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/sjafferali/claudelens-archive/domain"
	"github.com/sjafferali/claudelens-archive/infrastructure/cache"
	"github.com/sjafferali/claudelens-archive/infrastructure/errors"
	"github.com/sjafferali/claudelens-archive/infrastructure/logging"
	"github.com/sjafferali/claudelens-archive/infrastructure/metrics"
)

// RecordStore persists one row per accepted attempt, holding the user id
// and the attempt's timestamp, in a physical collection named
// "<axis>_rate_tracking" per SPEC_FULL §6's supplement.
type RecordStore interface {
	CountSince(ctx context.Context, userID string, axis domain.RateLimitAxis, since time.Time) (int64, error)
	OldestSince(ctx context.Context, userID string, axis domain.RateLimitAxis, since time.Time) (time.Time, bool, error)
	Append(ctx context.Context, rec domain.RateLimitRecord) error
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// SettingsStore persists the single cross-axis settings document.
type SettingsStore interface {
	Get(ctx context.Context) (domain.RateLimitSettings, error)
}

// RollupStore persists flushed usage rollups for later aggregation.
type RollupStore interface {
	Flush(ctx context.Context, rollups []domain.UsageRollup) error
}

// Engine enforces axis limits and, independently, accumulates usage
// rollups. Enforcement failing to write an accounting record never fails
// the caller's request (spec.md §4.6 "Independence").
type Engine struct {
	records  RecordStore
	settings SettingsStore
	rollups  RollupStore
	log      *logging.Logger
	metrics  *metrics.Metrics
	service  string

	// settingsCache holds the single cross-axis settings document for
	// settingsCacheTTL at a time, so Enforce doesn't round-trip to the
	// settings store on every call.
	settingsCache *cache.TTLCache

	// shards partitions in-memory rollups by a principal hash to reduce
	// contention (spec.md §5 "Shared mutable state" (c)), here modeled
	// as one mutex-guarded map per shard.
	shards [numShards]shard
}

const numShards = 16
const settingsCacheKey = "rate_limit_settings"
const settingsCacheTTL = 60 * time.Second

type shard struct {
	mu   sync.Mutex
	data map[string]*domain.UsageRollup
}

func New(records RecordStore, settings SettingsStore, rollups RollupStore, log *logging.Logger, m *metrics.Metrics, service string) *Engine {
	e := &Engine{
		records: records, settings: settings, rollups: rollups, log: log, metrics: m, service: service,
		settingsCache: cache.NewTTLCache(settingsCacheTTL),
	}
	for i := range e.shards {
		e.shards[i].data = make(map[string]*domain.UsageRollup)
	}
	return e
}

func (e *Engine) settingsSnapshot(ctx context.Context) (domain.RateLimitSettings, error) {
	if v, ok := e.settingsCache.Get(ctx, settingsCacheKey); ok {
		return v.(domain.RateLimitSettings), nil
	}

	fetched, err := e.settings.Get(ctx)
	if err != nil {
		return domain.RateLimitSettings{}, errors.UpstreamFailure("rate-limit-settings", err)
	}
	e.settingsCache.Set(ctx, settingsCacheKey, fetched)
	return fetched, nil
}

// Enforce implements the four-step algorithm in spec.md §4.6.
func (e *Engine) Enforce(ctx context.Context, principal domain.Principal, axis domain.RateLimitAxis) (domain.Decision, error) {
	settings, err := e.settingsSnapshot(ctx)
	if err != nil {
		return domain.Decision{}, err
	}

	desc, ok := settings.Axes[axis]
	if !settings.GloballyEnabled || !ok || !desc.Enabled || desc.Limit == 0 {
		e.account(principal.UserID, axis, true, 0)
		return domain.Decision{Allowed: true, Limit: desc.Limit}, nil
	}

	now := time.Now().UTC()
	windowStart := now.Add(-desc.Window)

	count, err := e.records.CountSince(ctx, principal.UserID, axis, windowStart)
	if err != nil {
		return domain.Decision{}, errors.UpstreamFailure("rate-limit-records", err)
	}

	if count >= int64(desc.Limit) {
		retryAfter := desc.Window
		if oldest, found, err := e.records.OldestSince(ctx, principal.UserID, axis, windowStart); err == nil && found {
			retryAfter = oldest.Add(desc.Window).Sub(now)
			if retryAfter < 0 {
				retryAfter = 0
			}
		}
		e.account(principal.UserID, axis, false, 0)
		e.log.LogRateLimitDecision(ctx, string(axis), false, 0)
		if e.metrics != nil {
			e.metrics.RecordRateLimitDecision(e.service, string(axis), false)
		}
		return domain.Decision{Allowed: false, RetryAfter: retryAfter, Limit: desc.Limit}, nil
	}

	// Best-effort: a failure writing the accounting record must never
	// fail the request it is tracking.
	if err := e.records.Append(ctx, domain.RateLimitRecord{UserID: principal.UserID, Axis: axis, Timestamp: now}); err != nil {
		e.log.WithError(err).WithFields(map[string]interface{}{"axis": axis}).Warn("rate limit accounting append failed")
	}

	remaining := int(int64(desc.Limit) - count - 1)
	e.account(principal.UserID, axis, true, 0)
	e.log.LogRateLimitDecision(ctx, string(axis), true, remaining)
	if e.metrics != nil {
		e.metrics.RecordRateLimitDecision(e.service, string(axis), true)
	}
	return domain.Decision{Allowed: true, Limit: desc.Limit, Remaining: remaining}, nil
}

func (e *Engine) account(userID string, axis domain.RateLimitAxis, allowed bool, latencyMS float64) {
	bucket := time.Now().UTC().Truncate(time.Minute)
	key := userID + "|" + string(axis) + "|" + bucket.Format(time.RFC3339)

	sh := &e.shards[shardFor(userID)]
	sh.mu.Lock()
	defer sh.mu.Unlock()

	r, ok := sh.data[key]
	if !ok {
		r = &domain.UsageRollup{UserID: userID, Axis: axis, BucketStart: bucket, Interval: "minute"}
		sh.data[key] = r
	}
	r.RequestsMade++
	if allowed {
		r.RequestsAllowed++
	} else {
		r.RequestsBlocked++
	}
	if r.RequestsMade > 0 {
		r.AvgLatencyMS = (r.AvgLatencyMS*float64(r.RequestsMade-1) + latencyMS) / float64(r.RequestsMade)
	}
}

func shardFor(userID string) int {
	var h uint32
	for i := 0; i < len(userID); i++ {
		h = h*31 + uint32(userID[i])
	}
	return int(h % numShards)
}

// FlushRollups moves every accumulated in-memory rollup into durable
// storage and clears the in-memory state, the background scheduler's
// usage-flush task (spec.md §4.10).
func (e *Engine) FlushRollups(ctx context.Context) error {
	var all []domain.UsageRollup
	for i := range e.shards {
		sh := &e.shards[i]
		sh.mu.Lock()
		for _, r := range sh.data {
			all = append(all, *r)
		}
		sh.data = make(map[string]*domain.UsageRollup)
		sh.mu.Unlock()
	}
	if len(all) == 0 {
		return nil
	}
	return e.rollups.Flush(ctx, all)
}

// Prune deletes rate-limit usage records older than retention, the
// background scheduler's daily prune task.
func (e *Engine) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	return e.records.PruneOlderThan(ctx, time.Now().UTC().Add(-retention))
}
