package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/sjafferali/claudelens-archive/domain"
	"github.com/sjafferali/claudelens-archive/infrastructure/logging"
)

func testSettings(limit int, window time.Duration) domain.RateLimitSettings {
	return domain.RateLimitSettings{
		GloballyEnabled: true,
		Axes: map[domain.RateLimitAxis]domain.LimitDescriptor{
			domain.AxisHTTP: {Limit: limit, Window: window, Enabled: true},
		},
	}
}

func TestEnforce_BoundaryAllowsUpToLimitThenDenies(t *testing.T) {
	records := NewMemoryRecordStore()
	settings := StaticSettingsStore{Settings: testSettings(3, 60*time.Second)}
	log := logging.New("test", "error", "text")
	engine := New(records, settings, NewMemoryRollupStore(), log, nil, "test")

	principal := domain.Principal{UserID: "user-1"}
	for i := 0; i < 3; i++ {
		d, err := engine.Enforce(context.Background(), principal, domain.AxisHTTP)
		if err != nil {
			t.Fatalf("enforce %d: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("expected call %d to be allowed", i)
		}
	}

	d, err := engine.Enforce(context.Background(), principal, domain.AxisHTTP)
	if err != nil {
		t.Fatalf("enforce 4th: %v", err)
	}
	if d.Allowed {
		t.Fatal("expected 4th call within window to be denied")
	}
	if d.RetryAfter < 58*time.Second || d.RetryAfter > 60*time.Second {
		t.Fatalf("expected retry-after in [58s,60s], got %v", d.RetryAfter)
	}
}

func TestEnforce_UnlimitedAxisAlwaysAllows(t *testing.T) {
	records := NewMemoryRecordStore()
	settings := StaticSettingsStore{Settings: domain.RateLimitSettings{
		GloballyEnabled: true,
		Axes:            map[domain.RateLimitAxis]domain.LimitDescriptor{domain.AxisHTTP: {Limit: 0, Enabled: true}},
	}}
	log := logging.New("test", "error", "text")
	engine := New(records, settings, NewMemoryRollupStore(), log, nil, "test")

	for i := 0; i < 10; i++ {
		d, err := engine.Enforce(context.Background(), domain.Principal{UserID: "user-1"}, domain.AxisHTTP)
		if err != nil {
			t.Fatalf("enforce: %v", err)
		}
		if !d.Allowed {
			t.Fatal("unlimited axis should always allow")
		}
	}
}

func TestFlushRollups_MovesInMemoryCountersToDurableStorage(t *testing.T) {
	records := NewMemoryRecordStore()
	settings := StaticSettingsStore{Settings: testSettings(100, time.Minute)}
	rollups := NewMemoryRollupStore()
	log := logging.New("test", "error", "text")
	engine := New(records, settings, rollups, log, nil, "test")

	principal := domain.Principal{UserID: "user-1"}
	if _, err := engine.Enforce(context.Background(), principal, domain.AxisHTTP); err != nil {
		t.Fatalf("enforce: %v", err)
	}

	if err := engine.FlushRollups(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(rollups.Flushed) != 1 {
		t.Fatalf("expected 1 flushed rollup, got %d", len(rollups.Flushed))
	}
	if rollups.Flushed[0].RequestsAllowed != 1 {
		t.Fatalf("expected 1 allowed request in rollup, got %d", rollups.Flushed[0].RequestsAllowed)
	}
}

func TestPrune_RemovesRecordsOlderThanRetention(t *testing.T) {
	records := NewMemoryRecordStore()
	old := domain.RateLimitRecord{UserID: "user-1", Axis: domain.AxisHTTP, Timestamp: time.Now().Add(-48 * time.Hour)}
	fresh := domain.RateLimitRecord{UserID: "user-1", Axis: domain.AxisHTTP, Timestamp: time.Now()}
	if err := records.Append(context.Background(), old); err != nil {
		t.Fatalf("append old: %v", err)
	}
	if err := records.Append(context.Background(), fresh); err != nil {
		t.Fatalf("append fresh: %v", err)
	}

	settings := StaticSettingsStore{Settings: testSettings(100, time.Minute)}
	engine := New(records, settings, NewMemoryRollupStore(), logging.New("test", "error", "text"), nil, "test")

	pruned, err := engine.Prune(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("expected 1 pruned record, got %d", pruned)
	}
}
