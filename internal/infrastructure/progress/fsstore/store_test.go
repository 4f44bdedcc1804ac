package fsstore

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/avasilyev/contract-intel/internal/core/domain"
)

type sinkFake struct {
	mu     sync.Mutex
	events []domain.ProgressEvent
}

func (f *sinkFake) Publish(event domain.ProgressEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *sinkFake) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func newTestStore(t *testing.T, sink *sinkFake) *Store {
	t.Helper()
	var store *Store
	var err error
	if sink != nil {
		store, err = New(t.TempDir(), sink, nil)
	} else {
		store, err = New(t.TempDir(), nil, nil)
	}
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return store
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t, nil)

	states := map[string]*domain.DocumentJob{
		"doc-1": {DocID: "doc-1", CompanyID: "ACME", FileName: "a.pdf", Status: domain.StatusProcessing},
	}
	if err := store.Save("ACME", states); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.Load("ACME")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got["doc-1"] == nil || got["doc-1"].Status != domain.StatusProcessing {
		t.Fatalf("unexpected loaded states: %+v", got)
	}
}

func TestLoadMissingScopeIsEmpty(t *testing.T) {
	store := newTestStore(t, nil)
	got, err := store.Load("NOBODY")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty map, got %+v", got)
	}
}

func TestSaveFiresNotification(t *testing.T) {
	sink := &sinkFake{}
	store := newTestStore(t, sink)

	if err := store.Save("ACME", map[string]*domain.DocumentJob{}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if sink.count() != 1 {
		t.Fatalf("expected 1 notification, got %d", sink.count())
	}
	if sink.events[0].Type != domain.EventStatesUpdated || sink.events[0].CompanyID != "ACME" {
		t.Fatalf("unexpected notification: %+v", sink.events[0])
	}
}

func TestUpdateSerializesConcurrentMutations(t *testing.T) {
	store := newTestStore(t, nil)

	if err := store.Save("ACME", map[string]*domain.DocumentJob{
		"doc-1": {DocID: "doc-1", CompanyID: "ACME", Progress: 0},
	}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	const workers = 20
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_ = store.Update("ACME", func(states map[string]*domain.DocumentJob) {
				states["doc-1"].Progress++
			})
		}()
	}
	wg.Wait()

	got, err := store.Load("ACME")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got["doc-1"].Progress != workers {
		t.Fatalf("lost updates: progress = %d, want %d", got["doc-1"].Progress, workers)
	}
}

func TestLoadAllAggregatesScopes(t *testing.T) {
	store := newTestStore(t, nil)

	if err := store.Save("ACME", map[string]*domain.DocumentJob{
		"doc-1": {DocID: "doc-1", CompanyID: "ACME"},
	}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Save("GLOBEX", map[string]*domain.DocumentJob{
		"doc-2": {DocID: "doc-2", CompanyID: "GLOBEX"},
	}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	all, err := store.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if len(all) != 2 || all["doc-1"] == nil || all["doc-2"] == nil {
		t.Fatalf("unexpected aggregate: %+v", all)
	}
}

func TestSweepRemovesOnlyStaleScopes(t *testing.T) {
	store := newTestStore(t, nil)

	if err := store.Save("OLD", map[string]*domain.DocumentJob{"d": {DocID: "d"}}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Save("FRESH", map[string]*domain.DocumentJob{"e": {DocID: "e"}}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	oldPath := store.scopePath("OLD")
	stale := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(oldPath, stale, stale); err != nil {
		t.Fatalf("Chtimes() error = %v", err)
	}

	removed, err := store.Sweep(time.Hour)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, err := os.Stat(oldPath); !os.IsNotExist(err) {
		t.Fatalf("stale scope file must be deleted")
	}
	if _, err := os.Stat(store.scopePath("FRESH")); err != nil {
		t.Fatalf("recent scope file must be retained: %v", err)
	}
}

func TestScopePathSanitizesCompany(t *testing.T) {
	store := newTestStore(t, nil)
	got := store.scopePath(`a/b`)
	if filepath.Base(got) != "a_b_processing.json" {
		t.Fatalf("unexpected scope path: %s", got)
	}
}
