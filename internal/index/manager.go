package index

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/finsight-labs/filingrag/internal/domain"
)

// DefaultTopK is the number of passages returned when a caller does not
// ask for a specific k.
const DefaultTopK = 4

const defaultBuildTimeout = 5 * time.Minute

// Locator resolves a document key to the current latest filing reference.
type Locator interface {
	Resolve(ctx context.Context, key domain.DocumentKey) (domain.FilingReference, error)
}

// Fetcher returns the normalized section text for a resolved reference.
type Fetcher interface {
	Fetch(ctx context.Context, ref domain.FilingReference) (string, error)
}

// Splitter divides section text into passage texts, deterministically.
type Splitter interface {
	Split(text string) []string
	TokenCount(text string) int
}

// Embedder maps texts to fixed-dimension vectors.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	EmbedOne(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// QueryResult is the manager's answer to one retrieval query: ranked
// passages plus the provenance of the filing snapshot that served them.
// Stale is set when a rebuild failed and the prior snapshot was served
// instead, so upstream layers can choose to disclose the vintage.
type QueryResult struct {
	Passages  []ScoredPassage
	Reference domain.FilingReference
	Stale     bool
}

// Manager owns the lifecycle of one vector index per document key: it
// decides when to build, reuse, or rebuild, enforces at most one in-flight
// build per key, and is the only retrieval entry point for callers.
//
// Queries for different keys proceed fully in parallel. Concurrent
// queries that find the same key stale converge on a single build: the
// first caller starts it and every later caller waits on the same result
// instead of duplicating embedding-service calls. A caller cancelling its
// own context abandons its wait only; the build runs to completion for
// the other waiters.
type Manager struct {
	locator      Locator
	fetcher      Fetcher
	splitter     Splitter
	embedder     Embedder
	store        Store
	buildTimeout time.Duration

	mu     sync.Mutex
	builds map[domain.DocumentKey]*inflightBuild
}

// inflightBuild is the shared result of one build: waiters block on done
// and then read err.
type inflightBuild struct {
	done chan struct{}
	err  error
}

// NewManager creates a manager over its collaborators. Managers are
// independent instances; two managers sharing a store would violate the
// one-build-per-key invariant.
func NewManager(locator Locator, fetcher Fetcher, splitter Splitter, embedder Embedder, store Store) *Manager {
	return &Manager{
		locator:      locator,
		fetcher:      fetcher,
		splitter:     splitter,
		embedder:     embedder,
		store:        store,
		buildTimeout: defaultBuildTimeout,
		builds:       make(map[domain.DocumentKey]*inflightBuild),
	}
}

// WithBuildTimeout overrides the per-build deadline.
func (m *Manager) WithBuildTimeout(d time.Duration) *Manager {
	if d > 0 {
		m.buildTimeout = d
	}
	return m
}

// Query answers a retrieval query for (ticker, section): it resolves the
// latest filing, rebuilds the index if the cached one is stale or absent,
// and returns the top-k passages for the question.
func (m *Manager) Query(ctx context.Context, ticker string, section domain.SectionKind, question string, k int) (*QueryResult, error) {
	key, err := domain.NewDocumentKey(ticker, section)
	if err != nil {
		return nil, err
	}
	if question == "" {
		return nil, domain.ErrEmptyQuestion
	}
	if k <= 0 {
		k = DefaultTopK
	}

	currentRef, err := m.locator.Resolve(ctx, key)
	if err != nil {
		return nil, err
	}

	cachedRef, err := m.store.GetReference(ctx, key)
	if err != nil {
		return nil, err
	}

	if cachedRef == nil || !cachedRef.Same(currentRef) {
		buildErr := m.ensureBuild(ctx, key, currentRef)
		if buildErr != nil {
			if errors.Is(buildErr, context.Canceled) || errors.Is(buildErr, context.DeadlineExceeded) {
				return nil, buildErr
			}
			if cachedRef == nil {
				return nil, domain.NewDomainErrorWithCause(domain.ErrCodeUnavailable,
					"index build failed with no cached index to fall back to", buildErr)
			}
			// Availability over strict freshness: serve the prior
			// snapshot and mark the result stale.
			log.Printf("index: build for %s failed, serving stale snapshot %s: %v",
				key, cachedRef.ContentHash, buildErr)
		}
	}

	return m.search(ctx, key, currentRef, question, k)
}

// ForceRebuild bypasses the freshness check and rebuilds the key's index
// from the latest filing. Operator tooling only; query traffic relies on
// content-hash staleness detection.
func (m *Manager) ForceRebuild(ctx context.Context, ticker string, section domain.SectionKind) (domain.FilingReference, error) {
	key, err := domain.NewDocumentKey(ticker, section)
	if err != nil {
		return domain.FilingReference{}, err
	}

	ref, err := m.locator.Resolve(ctx, key)
	if err != nil {
		return domain.FilingReference{}, err
	}

	if err := m.ensureBuild(ctx, key, ref); err != nil {
		return domain.FilingReference{}, err
	}
	return ref, nil
}

// Clear evicts the key's index. The next query rebuilds from scratch.
func (m *Manager) Clear(ctx context.Context, ticker string, section domain.SectionKind) error {
	key, err := domain.NewDocumentKey(ticker, section)
	if err != nil {
		return err
	}
	return m.store.Clear(ctx, key)
}

// TrackedKeys lists every document key with a persisted index.
func (m *Manager) TrackedKeys(ctx context.Context) ([]domain.DocumentKey, error) {
	return m.store.ListKeys(ctx)
}

// RefreshKey re-resolves one key and rebuilds its index if the upstream
// filing content changed. It reports whether a rebuild ran. Used by the
// background freshness worker to keep indexes warm off the query path.
func (m *Manager) RefreshKey(ctx context.Context, key domain.DocumentKey) (bool, error) {
	currentRef, err := m.locator.Resolve(ctx, key)
	if err != nil {
		return false, err
	}

	cachedRef, err := m.store.GetReference(ctx, key)
	if err != nil {
		return false, err
	}
	if cachedRef != nil && cachedRef.Same(currentRef) {
		return false, nil
	}

	if err := m.ensureBuild(ctx, key, currentRef); err != nil {
		return false, err
	}
	return true, nil
}

// ensureBuild guarantees that a build for (key, ref) has run to
// completion, joining an in-flight build for the same key when one
// exists. The build itself runs on a context detached from the caller so
// cancelling one waiter never strands the others.
func (m *Manager) ensureBuild(ctx context.Context, key domain.DocumentKey, ref domain.FilingReference) error {
	m.mu.Lock()
	if b, ok := m.builds[key]; ok {
		m.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.done:
			return b.err
		}
	}

	b := &inflightBuild{done: make(chan struct{})}
	m.builds[key] = b
	m.mu.Unlock()

	go func() {
		buildCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.buildTimeout)
		defer cancel()

		b.err = m.build(buildCtx, key, ref)

		m.mu.Lock()
		delete(m.builds, key)
		m.mu.Unlock()
		close(b.done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return b.err
	}
}

// build fetches, chunks, embeds, and persists one snapshot. Any failure
// leaves the prior entry untouched; no partial index is ever written.
func (m *Manager) build(ctx context.Context, key domain.DocumentKey, ref domain.FilingReference) error {
	started := time.Now()

	text, err := m.fetcher.Fetch(ctx, ref)
	if err != nil {
		return err
	}

	chunks := m.splitter.Split(text)
	if len(chunks) == 0 {
		return domain.ErrSectionEmpty
	}

	vectors, err := m.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		return err
	}

	passages := make([]domain.Passage, len(chunks))
	for i, chunk := range chunks {
		passages[i] = domain.Passage{
			Key:        key,
			Ordinal:    i,
			Text:       chunk,
			TokenCount: m.splitter.TokenCount(chunk),
			Embedding:  vectors[i],
		}
	}

	entry := &domain.IndexEntry{
		Key:        key,
		Reference:  ref,
		Passages:   passages,
		Dimensions: m.embedder.Dimensions(),
		BuiltAt:    time.Now().UTC(),
	}
	if err := domain.ValidateIndexEntry(entry); err != nil {
		return err
	}

	if err := m.store.Put(ctx, entry); err != nil {
		return err
	}

	log.Printf("index: built %s: %d passages from filing %s in %s",
		key, len(passages), ref.AccessionNumber, time.Since(started).Round(time.Millisecond))
	return nil
}

// search embeds the question and ranks passages from whatever snapshot is
// persisted for the key, deriving the stale flag from its content hash.
func (m *Manager) search(ctx context.Context, key domain.DocumentKey, currentRef domain.FilingReference, question string, k int) (*QueryResult, error) {
	queryVec, err := m.embedder.EmbedOne(ctx, question)
	if err != nil {
		return nil, err
	}

	results, err := m.store.Search(ctx, key, queryVec, k)
	if err != nil {
		if errors.Is(err, domain.ErrIndexNotBuilt) {
			// The build path above guarantees an entry before we get
			// here; this leaking out would be a manager bug.
			return nil, domain.NewDomainErrorWithCause(domain.ErrCodeInternalError,
				"index missing after successful build path", err)
		}
		return nil, err
	}

	servedRef, err := m.store.GetReference(ctx, key)
	if err != nil {
		return nil, err
	}
	if servedRef == nil {
		return nil, domain.NewDomainError(domain.ErrCodeInternalError, "index entry vanished during query")
	}

	return &QueryResult{
		Passages:  results,
		Reference: *servedRef,
		Stale:     !servedRef.Same(currentRef),
	}, nil
}
