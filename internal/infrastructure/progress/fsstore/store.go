package fsstore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/avasilyev/contract-intel/internal/core/domain"
	"github.com/avasilyev/contract-intel/internal/core/ports"
	"github.com/avasilyev/contract-intel/internal/infrastructure/cache/fscache"
)

const scopeFileSuffix = "_processing.json"

// Store persists job states as one JSON snapshot per company scope.
// Snapshots survive restarts; stale ones are removed by Sweep at startup.
// All load-mutate-save sequences for a scope run under one per-scope
// lock so concurrent stage executors never lose updates.
type Store struct {
	root   string
	sink   ports.EventSink
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(root string, sink ports.EventSink, logger *slog.Logger) (*Store, error) {
	if root == "" {
		root = "./data/processing_logs"
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create progress log dir: %w", err)
	}
	return &Store{
		root:   root,
		sink:   sink,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

// Load reads the snapshot for one scope. A missing file is an empty map.
func (s *Store) Load(scope string) (map[string]*domain.DocumentJob, error) {
	lock := s.scopeLock(scope)
	lock.Lock()
	defer lock.Unlock()
	return s.loadLocked(scope)
}

// Save atomically replaces the snapshot for one scope and fires a
// states_updated notification.
func (s *Store) Save(scope string, states map[string]*domain.DocumentJob) error {
	lock := s.scopeLock(scope)
	lock.Lock()
	err := s.saveLocked(scope, states)
	lock.Unlock()
	if err != nil {
		return err
	}
	s.notify(scope)
	return nil
}

// Update runs one serialized load-mutate-save sequence for a scope.
func (s *Store) Update(scope string, mutate func(states map[string]*domain.DocumentJob)) error {
	lock := s.scopeLock(scope)
	lock.Lock()
	states, err := s.loadLocked(scope)
	if err != nil {
		lock.Unlock()
		return err
	}
	mutate(states)
	err = s.saveLocked(scope, states)
	lock.Unlock()
	if err != nil {
		return err
	}
	s.notify(scope)
	return nil
}

// LoadAll aggregates every scope file into one global view.
func (s *Store) LoadAll() (map[string]*domain.DocumentJob, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list progress log dir: %w", err)
	}

	all := make(map[string]*domain.DocumentJob)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), scopeFileSuffix) {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(s.root, entry.Name()))
		if err != nil {
			s.logger.Warn("skipping unreadable progress log", "file", entry.Name(), "error", err)
			continue
		}
		states := make(map[string]*domain.DocumentJob)
		if err := json.Unmarshal(raw, &states); err != nil {
			s.logger.Warn("skipping corrupt progress log", "file", entry.Name(), "error", err)
			continue
		}
		for docID, job := range states {
			all[docID] = job
		}
	}
	return all, nil
}

// Sweep deletes scope files untouched for longer than maxAge. It runs at
// startup to clear state orphaned by a crash mid-batch.
func (s *Store) Sweep(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return 0, fmt.Errorf("list progress log dir: %w", err)
	}

	removed := 0
	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), scopeFileSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(s.root, entry.Name())
		if err := os.Remove(path); err != nil {
			s.logger.Warn("failed to remove orphaned progress log", "file", entry.Name(), "error", err)
			continue
		}
		s.logger.Info("removed orphaned progress log", "file", entry.Name())
		removed++
	}
	return removed, nil
}

func (s *Store) loadLocked(scope string) (map[string]*domain.DocumentJob, error) {
	raw, err := os.ReadFile(s.scopePath(scope))
	if os.IsNotExist(err) {
		return make(map[string]*domain.DocumentJob), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read progress log: %w", err)
	}

	states := make(map[string]*domain.DocumentJob)
	if err := json.Unmarshal(raw, &states); err != nil {
		// A corrupt snapshot must not wedge the scope forever.
		s.logger.Warn("resetting corrupt progress log", "scope", scope, "error", err)
		return make(map[string]*domain.DocumentJob), nil
	}
	return states, nil
}

func (s *Store) saveLocked(scope string, states map[string]*domain.DocumentJob) error {
	raw, err := json.MarshalIndent(states, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal progress log: %w", err)
	}

	path := s.scopePath(scope)
	tmp, err := os.CreateTemp(s.root, ".progress-*")
	if err != nil {
		return fmt.Errorf("create temp progress log: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp progress log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp progress log: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace progress log: %w", err)
	}
	return nil
}

func (s *Store) notify(scope string) {
	if s.sink == nil {
		return
	}
	s.sink.Publish(domain.ProgressEvent{
		Type:      domain.EventStatesUpdated,
		CompanyID: scope,
	})
}

func (s *Store) scopePath(scope string) string {
	return filepath.Join(s.root, fscache.SanitizeCompanyID(scope)+scopeFileSuffix)
}

func (s *Store) scopeLock(scope string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[scope]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[scope] = lock
	}
	return lock
}
