package retention

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mercator-hq/turnstile/pkg/limits"
	"mercator-hq/turnstile/pkg/usage"
	"mercator-hq/turnstile/pkg/usage/storage"
)

var testNow = time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

func eventAt(id string, at time.Time) *usage.Event {
	return &usage.Event{
		ID:        id,
		TenantID:  "org-1",
		APIKeyID:  "key-1",
		Resource:  limits.ResourceAPICall,
		Amount:    1,
		Timestamp: at,
		Outcome:   usage.OutcomeAdmitted,
	}
}

func seed(t testing.TB, s usage.Storage, events ...*usage.Event) {
	t.Helper()
	for _, e := range events {
		if err := s.Store(context.Background(), e); err != nil {
			t.Fatalf("Store() failed: %v", err)
		}
	}
}

type sweeperFunc func(ctx context.Context, now time.Time) (int, error)

func (f sweeperFunc) Sweep(ctx context.Context, now time.Time) (int, error) { return f(ctx, now) }

func TestPruner_PruneByAge(t *testing.T) {
	store := storage.NewMemoryStorage()
	seed(t, store,
		eventAt("old-1", testNow.AddDate(0, 0, -100)),
		eventAt("old-2", testNow.AddDate(0, 0, -31)),
		eventAt("recent", testNow.AddDate(0, 0, -29)),
		eventAt("new", testNow),
	)

	pruner := NewPruner(store, nil, &Config{RetentionDays: 30, Now: fixedNow})
	deleted, err := pruner.Prune(context.Background())
	if err != nil {
		t.Fatalf("Prune() failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("Expected 2 deleted, got %d", deleted)
	}
	if store.GetByID("recent") == nil || store.GetByID("new") == nil {
		t.Error("Expected events inside the retention window to survive")
	}
}

func TestPruner_RetentionDisabled(t *testing.T) {
	store := storage.NewMemoryStorage()
	seed(t, store, eventAt("ancient", testNow.AddDate(-5, 0, 0)))

	pruner := NewPruner(store, nil, &Config{RetentionDays: 0, Now: fixedNow})
	deleted, err := pruner.Prune(context.Background())
	if err != nil {
		t.Fatalf("Prune() failed: %v", err)
	}
	if deleted != 0 || store.Size() != 1 {
		t.Errorf("Expected nothing pruned, deleted %d, size %d", deleted, store.Size())
	}
	if !pruner.Cutoff().IsZero() {
		t.Errorf("Expected zero cutoff when disabled, got %v", pruner.Cutoff())
	}
}

func TestPruner_PruneByCount(t *testing.T) {
	store := storage.NewMemoryStorage()
	for i := 0; i < 10; i++ {
		seed(t, store, eventAt(fmt.Sprintf("evt-%d", i), testNow.Add(time.Duration(i)*time.Minute)))
	}

	pruner := NewPruner(store, nil, &Config{MaxEvents: 4, Now: fixedNow})
	deleted, err := pruner.Prune(context.Background())
	if err != nil {
		t.Fatalf("Prune() failed: %v", err)
	}
	if deleted != 6 {
		t.Errorf("Expected 6 deleted, got %d", deleted)
	}
	for i := 6; i < 10; i++ {
		if store.GetByID(fmt.Sprintf("evt-%d", i)) == nil {
			t.Errorf("Expected newest event evt-%d to survive", i)
		}
	}
}

func TestPruner_BothAgeAndCount(t *testing.T) {
	store := storage.NewMemoryStorage()
	seed(t, store, eventAt("old", testNow.AddDate(0, 0, -60)))
	for i := 0; i < 5; i++ {
		seed(t, store, eventAt(fmt.Sprintf("evt-%d", i), testNow.Add(-time.Duration(5-i)*time.Hour)))
	}

	pruner := NewPruner(store, nil, &Config{RetentionDays: 30, MaxEvents: 3, Now: fixedNow})
	deleted, err := pruner.Prune(context.Background())
	if err != nil {
		t.Fatalf("Prune() failed: %v", err)
	}
	if deleted != 3 {
		t.Errorf("Expected 3 deleted (1 by age, 2 by count), got %d", deleted)
	}
	if store.Size() != 3 {
		t.Errorf("Expected 3 remaining, got %d", store.Size())
	}
}

func TestPruner_ArchiveBeforeDelete(t *testing.T) {
	store := storage.NewMemoryStorage()
	seed(t, store,
		eventAt("old-1", testNow.AddDate(0, 0, -40)),
		eventAt("old-2", testNow.AddDate(0, 0, -35)),
		eventAt("new", testNow),
	)

	archiveDir := filepath.Join(t.TempDir(), "archives", "nested")
	pruner := NewPruner(store, nil, &Config{
		RetentionDays:       30,
		ArchiveBeforeDelete: true,
		ArchivePath:         archiveDir,
		Now:                 fixedNow,
	})
	if _, err := pruner.Prune(context.Background()); err != nil {
		t.Fatalf("Prune() failed: %v", err)
	}

	files, err := os.ReadDir(archiveDir)
	if err != nil {
		t.Fatalf("Archive directory not created: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("Expected 1 archive file, got %d", len(files))
	}

	data, err := os.ReadFile(filepath.Join(archiveDir, files[0].Name()))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	var archived []*usage.Event
	if err := json.Unmarshal(data, &archived); err != nil {
		t.Fatalf("Archive is not a JSON array: %v", err)
	}
	if len(archived) != 2 || archived[0].ID != "old-1" {
		t.Errorf("Expected old-1 and old-2 archived oldest first, got %d events", len(archived))
	}
}

func TestPruner_NoArchiveWhenNothingToDelete(t *testing.T) {
	store := storage.NewMemoryStorage()
	seed(t, store, eventAt("new", testNow))

	archiveDir := filepath.Join(t.TempDir(), "archives")
	pruner := NewPruner(store, nil, &Config{
		RetentionDays:       30,
		ArchiveBeforeDelete: true,
		ArchivePath:         archiveDir,
		Now:                 fixedNow,
	})
	if _, err := pruner.Prune(context.Background()); err != nil {
		t.Fatalf("Prune() failed: %v", err)
	}
	if _, err := os.Stat(archiveDir); !os.IsNotExist(err) {
		t.Error("Expected no archive directory when nothing was pruned")
	}
}

func TestPruner_SweepCounters(t *testing.T) {
	var gotNow time.Time
	sweeper := sweeperFunc(func(ctx context.Context, now time.Time) (int, error) {
		gotNow = now
		return 7, nil
	})

	pruner := NewPruner(storage.NewMemoryStorage(), sweeper, &Config{Now: fixedNow})
	swept, err := pruner.SweepCounters(context.Background())
	if err != nil {
		t.Fatalf("SweepCounters() failed: %v", err)
	}
	if swept != 7 || !gotNow.Equal(testNow) {
		t.Errorf("Expected 7 swept at %v, got %d at %v", testNow, swept, gotNow)
	}

	failing := sweeperFunc(func(ctx context.Context, now time.Time) (int, error) {
		return 0, errors.New("store down")
	})
	if _, err := NewPruner(storage.NewMemoryStorage(), failing, nil).SweepCounters(context.Background()); err == nil {
		t.Error("Expected sweep error to propagate")
	}

	if swept, err := NewPruner(storage.NewMemoryStorage(), nil, nil).SweepCounters(context.Background()); err != nil || swept != 0 {
		t.Errorf("Expected no-op without a sweeper, got %d, %v", swept, err)
	}
}

func BenchmarkPruner_Prune(b *testing.B) {
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		store := storage.NewMemoryStorage()
		for j := 0; j < 1000; j++ {
			seed(b, store, eventAt(fmt.Sprintf("evt-%d", j), testNow.AddDate(0, 0, -j%60)))
		}
		pruner := NewPruner(store, nil, &Config{RetentionDays: 30, Now: fixedNow})
		b.StartTimer()

		_, _ = pruner.Prune(context.Background())
	}
}
