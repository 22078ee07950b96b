package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"mercator-hq/turnstile/pkg/config"
	"mercator-hq/turnstile/pkg/limits"
	"mercator-hq/turnstile/pkg/limits/directory"
	"mercator-hq/turnstile/pkg/limits/enforcement"
	"mercator-hq/turnstile/pkg/limits/storage"
	"mercator-hq/turnstile/pkg/usage"
	"mercator-hq/turnstile/pkg/usage/recorder"
	"mercator-hq/turnstile/pkg/usage/retention"
	usagestorage "mercator-hq/turnstile/pkg/usage/storage"
)

// BuildPolicies merges the configured tier rows into the built-in tier table.
// A configured row overrides the built-in one field by field: listed
// resource limits replace theirs, a non-empty overage policy replaces the
// built-in one and non-zero rate ceilings replace theirs.
func BuildPolicies(cfg config.LimitsConfig) map[limits.Tier]limits.TierPolicy {
	tiers := limits.DefaultTierPolicies()

	for name, row := range cfg.Tiers {
		tier := limits.Tier(name)
		p := tiers[tier]

		merged := make(map[limits.ResourceType]int64, len(p.Limits)+len(row.Limits))
		for r, v := range p.Limits {
			merged[r] = v
		}
		for r, v := range row.Limits {
			merged[limits.ResourceType(r)] = v
		}
		p.Limits = merged

		if row.Overage != "" {
			p.Overage = limits.OveragePolicy(row.Overage)
		}
		if p.Overage == "" {
			p.Overage = limits.OverageDeny
		}
		if v := row.RateLimits.PerMinute; v != nil {
			p.RateCeilings.PerMinute = *v
		}
		if v := row.RateLimits.PerHour; v != nil {
			p.RateCeilings.PerHour = *v
		}
		if v := row.RateLimits.PerDay; v != nil {
			p.RateCeilings.PerDay = *v
		}

		tiers[tier] = p
	}

	return tiers
}

// BuildDirectory converts configured tenants and API keys into directory
// entries. Keys inherit unset rate ceilings from their tenant's tier.
func BuildDirectory(cfg config.LimitsConfig, tiers map[limits.Tier]limits.TierPolicy) ([]*limits.Tenant, []*limits.APIKey, error) {
	tenants := make([]*limits.Tenant, 0, len(cfg.Tenants))
	byID := make(map[string]*limits.Tenant, len(cfg.Tenants))
	for _, tc := range cfg.Tenants {
		t := &limits.Tenant{
			ID:   tc.ID,
			Name: tc.Name,
			Tier: limits.Tier(tc.Tier),
		}
		if len(tc.Limits) > 0 {
			t.Limits = make(map[limits.ResourceType]int64, len(tc.Limits))
			for r, v := range tc.Limits {
				t.Limits[limits.ResourceType(r)] = v
			}
		}
		tenants = append(tenants, t)
		byID[t.ID] = t
	}

	keys := make([]*limits.APIKey, 0, len(cfg.APIKeys))
	for _, kc := range cfg.APIKeys {
		tenant, ok := byID[kc.TenantID]
		if !ok {
			return nil, nil, fmt.Errorf("api key %q: unknown tenant %q", kc.ID, kc.TenantID)
		}
		policy, ok := tiers[tenant.Tier]
		if !ok {
			return nil, nil, fmt.Errorf("api key %q: %w: %q", kc.ID, limits.ErrUnknownTier, tenant.Tier)
		}

		key := limits.APIKey{
			ID:       kc.ID,
			TenantID: kc.TenantID,
			Type:     limits.KeyType(kc.Type),
			Active:   kc.IsActive(),
		}
		if kc.ExpiresAt != "" {
			exp, err := time.Parse(time.RFC3339, kc.ExpiresAt)
			if err != nil {
				return nil, nil, fmt.Errorf("api key %q: invalid expires_at: %w", kc.ID, err)
			}
			key.ExpiresAt = exp
		}

		key = directory.InheritCeilings(key, kc.PerMinute, kc.PerHour, kc.PerDay, policy.RateCeilings)
		keys = append(keys, &key)
	}

	return tenants, keys, nil
}

// CounterTTLs converts the configured counter TTLs.
func CounterTTLs(cfg config.CounterTTLConfig) storage.TTLs {
	return storage.TTLs{
		limits.WindowMinute: cfg.Minute,
		limits.WindowHour:   cfg.Hour,
		limits.WindowDay:    cfg.Day,
		limits.WindowMonth:  cfg.Month,
	}
}

// FailurePolicy converts the configured per-stage failure actions.
func FailurePolicy(cfg config.FailurePolicyConfig) (enforcement.Config, error) {
	rate, err := enforcement.ParseAction(cfg.RateLimit)
	if err != nil {
		return enforcement.Config{}, fmt.Errorf("rate limit failure policy: %w", err)
	}
	quota, err := enforcement.ParseAction(cfg.Quota)
	if err != nil {
		return enforcement.Config{}, fmt.Errorf("quota failure policy: %w", err)
	}
	return enforcement.Config{RateLimit: rate, Quota: quota}, nil
}

// NewCounterStore opens the configured counter store backend.
// longestTTL is attached to new Redis counters at creation.
func NewCounterStore(cfg config.LimitsStorageConfig, longestTTL time.Duration, now func() time.Time) (storage.Store, error) {
	switch cfg.Backend {
	case "memory":
		return storage.NewMemoryStoreWithConfig(storage.MemoryStoreConfig{
			SweepInterval: cfg.Memory.SweepInterval,
			Now:           now,
		}), nil

	case "sqlite":
		if err := ensureDir(cfg.SQLite.Path); err != nil {
			return nil, err
		}
		s, err := storage.NewSQLiteStoreWithConfig(storage.SQLiteStoreConfig{
			DBPath:             cfg.SQLite.Path,
			CheckpointInterval: cfg.SQLite.CheckpointInterval,
			BusyTimeout:        cfg.SQLite.BusyTimeout,
			Now:                now,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite counter store: %w", err)
		}
		return s, nil

	case "redis":
		s, err := storage.NewRedisStore(storage.RedisStoreConfig{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			KeyPrefix:    cfg.Redis.KeyPrefix,
			PoolSize:     cfg.Redis.PoolSize,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
			DefaultTTL:   longestTTL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis counter store: %w", err)
		}
		return s, nil
	}

	return nil, fmt.Errorf("unsupported counter store backend %q", cfg.Backend)
}

// NewEventStorage opens the configured usage event storage.
func NewEventStorage(cfg config.UsageStorageConfig) (usage.Storage, error) {
	switch cfg.Backend {
	case "memory":
		return usagestorage.NewMemoryStorage(), nil

	case "sqlite":
		if err := ensureDir(cfg.SQLite.Path); err != nil {
			return nil, err
		}
		s, err := usagestorage.NewSQLiteStorage(&usagestorage.SQLiteConfig{
			Path:         cfg.SQLite.Path,
			MaxOpenConns: cfg.SQLite.MaxOpenConns,
			MaxIdleConns: cfg.SQLite.MaxIdleConns,
			WALMode:      cfg.SQLite.WALMode,
			BusyTimeout:  cfg.SQLite.BusyTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite event storage: %w", err)
		}
		return s, nil
	}

	return nil, fmt.Errorf("unsupported event storage backend %q", cfg.Backend)
}

// RecorderConfig converts the configured recorder settings.
func RecorderConfig(cfg config.RecorderConfig) (*recorder.Config, error) {
	overflow, err := recorder.ParseOverflowPolicy(cfg.Overflow)
	if err != nil {
		return nil, err
	}
	return &recorder.Config{
		QueueSize:     cfg.QueueSize,
		Overflow:      overflow,
		WriteTimeout:  cfg.WriteTimeout,
		MaxRetries:    cfg.MaxRetries,
		RetryBuffer:   cfg.RetryBuffer,
		FlushInterval: cfg.FlushInterval,
	}, nil
}

// RetentionConfig converts the configured retention settings.
func RetentionConfig(cfg config.RetentionConfig, now func() time.Time) *retention.Config {
	return &retention.Config{
		RetentionDays:        cfg.Days,
		PruneSchedule:        cfg.PruneSchedule,
		CounterSweepSchedule: cfg.CounterSweepSchedule,
		ArchiveBeforeDelete:  cfg.ArchiveBeforeDelete,
		ArchivePath:          cfg.ArchivePath,
		MaxEvents:            cfg.MaxEvents,
		Now:                  now,
	}
}

// ensureDir creates the parent directory of a database file.
func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %q: %w", dir, err)
	}
	return nil
}
