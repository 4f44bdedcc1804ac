package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/avasilyev/contract-intel/internal/core/domain"
	"github.com/avasilyev/contract-intel/internal/core/ports"
	"github.com/avasilyev/contract-intel/internal/infrastructure/resilience"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []domain.ProgressEvent
}

func (r *eventRecorder) Publish(event domain.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) all() []domain.ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ProgressEvent(nil), r.events...)
}

func (r *eventRecorder) types() []string {
	out := make([]string, 0)
	for _, e := range r.all() {
		out = append(out, e.Type)
	}
	return out
}

type memProgressStore struct {
	mu     sync.Mutex
	scopes map[string]map[string]*domain.DocumentJob
}

func newMemProgressStore() *memProgressStore {
	return &memProgressStore{scopes: make(map[string]map[string]*domain.DocumentJob)}
}

func (s *memProgressStore) Load(scope string) (map[string]*domain.DocumentJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*domain.DocumentJob)
	for id, job := range s.scopes[scope] {
		out[id] = job.Clone()
	}
	return out, nil
}

func (s *memProgressStore) Save(scope string, states map[string]*domain.DocumentJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scopes[scope] = states
	return nil
}

func (s *memProgressStore) Update(scope string, mutate func(states map[string]*domain.DocumentJob)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	states, ok := s.scopes[scope]
	if !ok {
		states = make(map[string]*domain.DocumentJob)
		s.scopes[scope] = states
	}
	mutate(states)
	return nil
}

func (s *memProgressStore) LoadAll() (map[string]*domain.DocumentJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*domain.DocumentJob)
	for _, states := range s.scopes {
		for id, job := range states {
			out[id] = job.Clone()
		}
	}
	return out, nil
}

func (s *memProgressStore) Sweep(time.Duration) (int, error) { return 0, nil }

func (s *memProgressStore) job(scope, docID string) *domain.DocumentJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	if states, ok := s.scopes[scope]; ok {
		return states[docID]
	}
	return nil
}

type rasterFake struct {
	pages        int
	pageCountErr error
	renderErr    error
	block        chan struct{}
}

func (f *rasterFake) PageCount(ctx context.Context, _ string) (int, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if f.pageCountErr != nil {
		return 0, f.pageCountErr
	}
	return f.pages, nil
}

func (f *rasterFake) RenderPage(_ context.Context, _ string, page int) ([]byte, error) {
	if f.renderErr != nil {
		return nil, f.renderErr
	}
	return fmt.Appendf(nil, "img-%d", page), nil
}

type ocrFake struct {
	mu        sync.Mutex
	texts     map[int]string
	failures  map[int]int
	alwaysErr map[int]error
	calls     int
}

func (f *ocrFake) ExtractPage(_ context.Context, _ []byte, page int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err, ok := f.alwaysErr[page]; ok {
		return "", err
	}
	if f.failures[page] > 0 {
		f.failures[page]--
		return "", fmt.Errorf("transient ocr failure on page %d", page)
	}
	if text, ok := f.texts[page]; ok {
		return text, nil
	}
	return fmt.Sprintf("text of page %d", page), nil
}

type cacheFake struct {
	mu     sync.Mutex
	store  map[string][]domain.PageResult
	putErr error
}

func newCacheFake() *cacheFake {
	return &cacheFake{store: make(map[string][]domain.PageResult)}
}

func cacheKey(companyID, fileName string) string { return companyID + "/" + fileName }

func (f *cacheFake) Get(companyID, fileName string) ([]domain.PageResult, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pages, ok := f.store[cacheKey(companyID, fileName)]
	return pages, ok
}

func (f *cacheFake) Put(companyID, fileName string, pages []domain.PageResult) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.store[cacheKey(companyID, fileName)] = pages
	return nil
}

func (f *cacheFake) PurgeCompany(companyID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key := range f.store {
		if len(key) > len(companyID) && key[:len(companyID)+1] == companyID+"/" {
			delete(f.store, key)
		}
	}
	return nil
}

type embedderFake struct {
	mu        sync.Mutex
	dim       int
	failBatch int
	queryErr  error
	batches   [][]string
}

func (f *embedderFake) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, texts)
	if f.failBatch > 0 && len(f.batches) == f.failBatch {
		return nil, fmt.Errorf("embedding backend unavailable")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dim)
	}
	return out, nil
}

func (f *embedderFake) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return make([]float32, f.dim), nil
}

type vectorStoreFake struct {
	mu        sync.Mutex
	exists    bool
	existsErr error
	created   []string
	upserts   [][]domain.EmbeddingPoint
	failCall  int
}

func (f *vectorStoreFake) CollectionExists(context.Context, string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.existsErr != nil {
		return false, f.existsErr
	}
	return f.exists, nil
}

func (f *vectorStoreFake) CreateCollection(_ context.Context, collection string, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, collection)
	f.exists = true
	return nil
}

func (f *vectorStoreFake) UpsertPoints(_ context.Context, _ string, points []domain.EmbeddingPoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCall > 0 && len(f.upserts)+1 == f.failCall {
		return fmt.Errorf("upsert rejected")
	}
	f.upserts = append(f.upserts, points)
	return nil
}

func (f *vectorStoreFake) ListCompanies(context.Context, string) ([]string, error) { return nil, nil }
func (f *vectorStoreFake) ListDocuments(context.Context, string, string) ([]string, error) {
	return nil, nil
}
func (f *vectorStoreFake) DeleteCompany(context.Context, string, string) error { return nil }

type fieldStoreFake struct {
	mu      sync.Mutex
	names   []string
	listErr error
	rows    []ports.ExtractedField
}

func (f *fieldStoreFake) UpsertExtractedField(_ context.Context, field ports.ExtractedField) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, field)
	return nil
}

func (f *fieldStoreFake) ListFieldNames(context.Context) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.names, nil
}

func (f *fieldStoreFake) ListExtractedFields(context.Context, string) ([]ports.ExtractedField, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ports.ExtractedField(nil), f.rows...), nil
}

type fieldExtractorFake struct {
	mu     sync.Mutex
	values map[string]map[string]string
	errOn  map[string]error
	calls  []string
}

func (f *fieldExtractorFake) ExtractField(_ context.Context, pageText, fieldName string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fieldName+"@"+pageText)
	if err, ok := f.errOn[fieldName]; ok {
		return "", err
	}
	if byText, ok := f.values[fieldName]; ok {
		return byText[pageText], nil
	}
	return "", nil
}

func newTestExecutor() *resilience.Executor {
	return resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     4 * time.Millisecond,
		RetryMultiplier:     2,
		SleepFn:             func(context.Context, time.Duration) error { return nil },
	})
}

func testClassifier(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if err == context.Canceled {
		return resilience.ErrorClassification{}
	}
	return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
}
