package index

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/finsight-labs/filingrag/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLocator struct {
	mu    sync.Mutex
	ref   domain.FilingReference
	err   error
	calls int
}

func (l *stubLocator) Resolve(ctx context.Context, key domain.DocumentKey) (domain.FilingReference, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.err != nil {
		return domain.FilingReference{}, l.err
	}
	ref := l.ref
	ref.Key = key
	return ref, nil
}

func (l *stubLocator) setHash(hash string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ref.ContentHash = hash
}

type stubFetcher struct {
	mu    sync.Mutex
	text  string
	err   error
	calls int

	startedOnce sync.Once
	started     chan struct{} // closed when the first Fetch begins
	release     chan struct{} // Fetch blocks until closed, when non-nil
}

func (f *stubFetcher) Fetch(ctx context.Context, ref domain.FilingReference) (string, error) {
	f.mu.Lock()
	f.calls++
	text, err, release := f.text, f.err, f.release
	f.mu.Unlock()

	if f.started != nil {
		f.startedOnce.Do(func() { close(f.started) })
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return text, nil
}

func (f *stubFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *stubFetcher) set(text string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.text = text
	f.err = err
}

// stubSplitter splits on blank lines, close enough to the real chunker
// for pipeline tests.
type stubSplitter struct{}

func (stubSplitter) Split(text string) []string {
	var chunks []string
	for _, part := range strings.Split(text, "\n\n") {
		if part = strings.TrimSpace(part); part != "" {
			chunks = append(chunks, part)
		}
	}
	return chunks
}

func (stubSplitter) TokenCount(text string) int {
	return len(strings.Fields(text))
}

// stubEmbedder returns canned vectors from a text lookup table so tests
// control the ranking, and counts calls to verify build deduplication.
type stubEmbedder struct {
	mu         sync.Mutex
	vectors    map[string][]float32
	batchCalls int
	oneCalls   int
}

func newStubEmbedder() *stubEmbedder {
	return &stubEmbedder{vectors: make(map[string][]float32)}
}

func (e *stubEmbedder) Dimensions() int { return 3 }

func (e *stubEmbedder) vectorFor(text string) []float32 {
	if v, ok := e.vectors[text]; ok {
		return v
	}
	return []float32{1, 1, 1}
}

func (e *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.batchCalls++
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vectorFor(t)
	}
	return out, nil
}

func (e *stubEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.oneCalls++
	return e.vectorFor(text), nil
}

func (e *stubEmbedder) batchCallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.batchCalls
}

const (
	chunkCompetition = "Competition could pressure margins across all product lines."
	chunkSupply      = "Supply chain disruption remains a material operational risk."
	chunkRegulation  = "New regulation may increase the cost of compliance."
	testQuestion     = "What does the company say about competition?"
)

const sectionText = chunkCompetition + "\n\n" + chunkSupply + "\n\n" + chunkRegulation

type managerFixture struct {
	manager  *Manager
	locator  *stubLocator
	fetcher  *stubFetcher
	embedder *stubEmbedder
	store    *DiskStore
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()

	store, err := NewDiskStore(t.TempDir())
	require.NoError(t, err)

	locator := &stubLocator{ref: domain.FilingReference{
		AccessionNumber: "0000320193-24-000123",
		FilingDate:      time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC),
		SourceURL:       "https://www.sec.gov/Archives/edgar/data/320193/aapl-10k.htm",
		ContentHash:     "hash-1",
	}}
	fetcher := &stubFetcher{text: sectionText}
	embedder := newStubEmbedder()
	embedder.vectors[chunkCompetition] = []float32{1, 0, 0}
	embedder.vectors[chunkSupply] = []float32{0, 1, 0}
	embedder.vectors[chunkRegulation] = []float32{0, 0, 1}
	embedder.vectors[testQuestion] = []float32{1, 0, 0}

	return &managerFixture{
		manager:  NewManager(locator, fetcher, stubSplitter{}, embedder, store),
		locator:  locator,
		fetcher:  fetcher,
		embedder: embedder,
		store:    store,
	}
}

func TestManager_QueryBuildsOnFirstCall(t *testing.T) {
	f := newManagerFixture(t)

	result, err := f.manager.Query(context.Background(), "aapl", domain.SectionRiskFactors, testQuestion, 3)
	require.NoError(t, err)

	require.Len(t, result.Passages, 3)
	assert.Equal(t, chunkCompetition, result.Passages[0].Passage.Text)
	assert.False(t, result.Stale)
	assert.Equal(t, "hash-1", result.Reference.ContentHash)
	assert.Equal(t, "AAPL", result.Reference.Key.Ticker)

	assert.Equal(t, 1, f.fetcher.callCount())
	assert.Equal(t, 1, f.embedder.batchCallCount())
}

func TestManager_QueryReusesFreshIndex(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	_, err := f.manager.Query(ctx, "AAPL", domain.SectionRiskFactors, testQuestion, 3)
	require.NoError(t, err)

	result, err := f.manager.Query(ctx, "AAPL", domain.SectionRiskFactors, testQuestion, 3)
	require.NoError(t, err)

	assert.False(t, result.Stale)
	assert.Equal(t, 1, f.fetcher.callCount(), "hash-equal re-query must not refetch")
	assert.Equal(t, 1, f.embedder.batchCallCount(), "hash-equal re-query must not re-embed the corpus")
}

func TestManager_QueryRebuildsOnHashChange(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	_, err := f.manager.Query(ctx, "AAPL", domain.SectionRiskFactors, testQuestion, 3)
	require.NoError(t, err)

	// Amended filing: new hash, new content.
	amended := "The amended filing discusses intense competition in new markets."
	f.embedder.vectors[amended] = []float32{1, 0, 0}
	f.locator.setHash("hash-2")
	f.fetcher.set(amended, nil)

	result, err := f.manager.Query(ctx, "AAPL", domain.SectionRiskFactors, testQuestion, 4)
	require.NoError(t, err)

	assert.False(t, result.Stale)
	assert.Equal(t, "hash-2", result.Reference.ContentHash)
	require.Len(t, result.Passages, 1, "no passage from the old snapshot may survive")
	assert.Equal(t, amended, result.Passages[0].Passage.Text)
	assert.Equal(t, 2, f.fetcher.callCount())
	assert.Equal(t, 2, f.embedder.batchCallCount())
}

func TestManager_ConcurrentQueriesShareOneBuild(t *testing.T) {
	f := newManagerFixture(t)
	f.fetcher.started = make(chan struct{})
	f.fetcher.release = make(chan struct{})

	const queriers = 8
	var wg sync.WaitGroup
	errs := make([]error, queriers)
	for i := 0; i < queriers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.manager.Query(context.Background(), "AAPL", domain.SectionRiskFactors, testQuestion, 3)
		}(i)
	}

	// Let every querier pile up behind the in-flight build, then let the
	// fetch complete.
	<-f.fetcher.started
	time.Sleep(50 * time.Millisecond)
	close(f.fetcher.release)
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "querier %d", i)
	}
	assert.Equal(t, 1, f.fetcher.callCount(), "concurrent queriers must share one fetch")
	assert.Equal(t, 1, f.embedder.batchCallCount(), "concurrent queriers must share one batch embed")
}

func TestManager_CancelledWaiterDoesNotAbortBuild(t *testing.T) {
	f := newManagerFixture(t)
	f.fetcher.started = make(chan struct{})
	f.fetcher.release = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	queryErr := make(chan error, 1)
	go func() {
		_, err := f.manager.Query(ctx, "AAPL", domain.SectionRiskFactors, testQuestion, 3)
		queryErr <- err
	}()

	<-f.fetcher.started
	cancel()
	require.ErrorIs(t, <-queryErr, context.Canceled)

	// The build keeps running on its detached context and persists.
	close(f.fetcher.release)
	require.Eventually(t, func() bool {
		ref, err := f.store.GetReference(context.Background(), testKey(t, "AAPL", domain.SectionRiskFactors))
		return err == nil && ref != nil
	}, 2*time.Second, 10*time.Millisecond)

	result, err := f.manager.Query(context.Background(), "AAPL", domain.SectionRiskFactors, testQuestion, 3)
	require.NoError(t, err)
	assert.False(t, result.Stale)
	assert.Equal(t, 1, f.fetcher.callCount(), "completed detached build must be reused")
}

func TestManager_ServesStaleSnapshotWhenRebuildFails(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	_, err := f.manager.Query(ctx, "AAPL", domain.SectionRiskFactors, testQuestion, 3)
	require.NoError(t, err)

	// New filing appears upstream but fetching it fails.
	f.locator.setHash("hash-2")
	f.fetcher.set("", domain.ErrFetchFailed)

	result, err := f.manager.Query(ctx, "AAPL", domain.SectionRiskFactors, testQuestion, 3)
	require.NoError(t, err)

	assert.True(t, result.Stale, "fallback result must disclose staleness")
	assert.Equal(t, "hash-1", result.Reference.ContentHash, "served snapshot is the prior one")
	require.Len(t, result.Passages, 3)
	assert.Equal(t, chunkCompetition, result.Passages[0].Passage.Text)
}

func TestManager_FailsWhenBuildFailsWithNoFallback(t *testing.T) {
	f := newManagerFixture(t)
	f.fetcher.set("", domain.ErrFetchFailed)

	_, err := f.manager.Query(context.Background(), "AAPL", domain.SectionRiskFactors, testQuestion, 3)

	require.Error(t, err)
	var domainErr *domain.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, domain.ErrCodeUnavailable, domainErr.Code)
}

func TestManager_ForceRebuildBypassesFreshnessCheck(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	_, err := f.manager.Query(ctx, "AAPL", domain.SectionRiskFactors, testQuestion, 3)
	require.NoError(t, err)

	// Same hash: Query would not rebuild, ForceRebuild must.
	ref, err := f.manager.ForceRebuild(ctx, "AAPL", domain.SectionRiskFactors)
	require.NoError(t, err)

	assert.Equal(t, "hash-1", ref.ContentHash)
	assert.Equal(t, 2, f.fetcher.callCount())
}

func TestManager_RefreshKey(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()
	key := testKey(t, "AAPL", domain.SectionRiskFactors)

	_, err := f.manager.Query(ctx, "AAPL", domain.SectionRiskFactors, testQuestion, 3)
	require.NoError(t, err)

	rebuilt, err := f.manager.RefreshKey(ctx, key)
	require.NoError(t, err)
	assert.False(t, rebuilt, "unchanged hash must not rebuild")
	assert.Equal(t, 1, f.fetcher.callCount())

	f.locator.setHash("hash-2")
	rebuilt, err = f.manager.RefreshKey(ctx, key)
	require.NoError(t, err)
	assert.True(t, rebuilt)
	assert.Equal(t, 2, f.fetcher.callCount())
}

func TestManager_ClearEvictsAndNextQueryRebuilds(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	_, err := f.manager.Query(ctx, "AAPL", domain.SectionRiskFactors, testQuestion, 3)
	require.NoError(t, err)

	require.NoError(t, f.manager.Clear(ctx, "AAPL", domain.SectionRiskFactors))

	keys, err := f.manager.TrackedKeys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)

	_, err = f.manager.Query(ctx, "AAPL", domain.SectionRiskFactors, testQuestion, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, f.fetcher.callCount())
}

func TestManager_QueryValidation(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	_, err := f.manager.Query(ctx, "AAPL", domain.SectionRiskFactors, "", 3)
	assert.ErrorIs(t, err, domain.ErrEmptyQuestion)

	_, err = f.manager.Query(ctx, "AAPL", domain.SectionKind("item_42"), testQuestion, 3)
	assert.ErrorIs(t, err, domain.ErrInvalidSectionKind)

	_, err = f.manager.Query(ctx, "   ", domain.SectionRiskFactors, testQuestion, 3)
	assert.ErrorIs(t, err, domain.ErrMissingTicker)

	assert.Equal(t, 0, f.fetcher.callCount(), "validation failures must not touch upstream")
}

func TestManager_QueryDefaultsTopK(t *testing.T) {
	f := newManagerFixture(t)

	result, err := f.manager.Query(context.Background(), "AAPL", domain.SectionRiskFactors, testQuestion, 0)
	require.NoError(t, err)

	// Only three passages exist; the default cap of four is not exceeded.
	assert.Len(t, result.Passages, 3)
}
