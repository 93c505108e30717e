package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/finsight-labs/filingrag/internal/domain"
)

// Archive is optional object storage behind a disk store. Snapshots are
// uploaded after each successful build and restored on cold start when the
// local file is missing. Archive failures never fail a build.
type Archive interface {
	Store(ctx context.Context, name string, data []byte) error
	Fetch(ctx context.Context, name string) ([]byte, error)
	Delete(ctx context.Context, name string) error
}

// ErrArchiveMiss is returned by Archive.Fetch when no snapshot exists.
var ErrArchiveMiss = errors.New("snapshot not found in archive")

// DiskStore persists one JSON snapshot file per document key. Writes go
// to a temp file followed by an atomic rename, so a reader holding the
// previous snapshot is never exposed to a half-written index. A sidecar
// metadata file serves reference reads without loading passage vectors.
type DiskStore struct {
	dir     string
	archive Archive

	mu    sync.RWMutex
	cache map[domain.DocumentKey]*domain.IndexEntry
}

// persistedEntry is the on-disk snapshot format.
type persistedEntry struct {
	Ticker     string             `json:"ticker"`
	Section    string             `json:"section"`
	Reference  persistedReference `json:"reference"`
	Dimensions int                `json:"dimensions"`
	BuiltAt    time.Time          `json:"built_at"`
	Passages   []persistedPassage `json:"passages"`
}

type persistedReference struct {
	AccessionNumber string    `json:"accession_number"`
	FilingDate      time.Time `json:"filing_date"`
	SourceURL       string    `json:"source_url"`
	ContentHash     string    `json:"content_hash"`
}

type persistedPassage struct {
	Ordinal    int       `json:"ordinal"`
	Text       string    `json:"text"`
	TokenCount int       `json:"token_count"`
	Embedding  []float32 `json:"embedding"`
}

// sidecarMeta is the cheap-read metadata file next to each snapshot.
type sidecarMeta struct {
	Ticker     string             `json:"ticker"`
	Section    string             `json:"section"`
	Reference  persistedReference `json:"reference"`
	Dimensions int                `json:"dimensions"`
	BuiltAt    time.Time          `json:"built_at"`
}

// NewDiskStore creates a store rooted at dir, creating it if needed.
func NewDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	return &DiskStore{
		dir:   dir,
		cache: make(map[domain.DocumentKey]*domain.IndexEntry),
	}, nil
}

// NewDiskStoreWithArchive creates a disk store that mirrors snapshots to
// object storage.
func NewDiskStoreWithArchive(dir string, archive Archive) (*DiskStore, error) {
	s, err := NewDiskStore(dir)
	if err != nil {
		return nil, err
	}
	s.archive = archive
	return s, nil
}

func snapshotName(key domain.DocumentKey) string {
	ticker := strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' {
			return r
		}
		return '_'
	}, key.Ticker)
	return ticker + "__" + string(key.Section)
}

func (s *DiskStore) dataPath(key domain.DocumentKey) string {
	return filepath.Join(s.dir, snapshotName(key)+".json")
}

func (s *DiskStore) metaPath(key domain.DocumentKey) string {
	return filepath.Join(s.dir, snapshotName(key)+".meta.json")
}

// Put persists the entry, replacing any prior snapshot for its key.
func (s *DiskStore) Put(ctx context.Context, entry *domain.IndexEntry) error {
	if err := domain.ValidateIndexEntry(entry); err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid index entry", err)
	}

	data, err := json.Marshal(toPersisted(entry))
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	meta, err := json.Marshal(toSidecar(entry))
	if err != nil {
		return fmt.Errorf("failed to encode snapshot metadata: %w", err)
	}

	if err := s.writeAtomic(s.dataPath(entry.Key), data); err != nil {
		return err
	}
	// The data file is authoritative; a crash between the two renames
	// leaves stale metadata, which only causes an extra freshness rebuild.
	if err := s.writeAtomic(s.metaPath(entry.Key), meta); err != nil {
		return err
	}

	s.mu.Lock()
	s.cache[entry.Key] = entry
	s.mu.Unlock()

	if s.archive != nil {
		if err := s.archive.Store(ctx, snapshotName(entry.Key)+".json", data); err != nil {
			log.Printf("index: archive upload failed for %s: %v", entry.Key, err)
		}
	}
	return nil
}

func (s *DiskStore) writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, ".snapshot-*")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to swap snapshot into place: %w", err)
	}
	return nil
}

// Search ranks the key's passages against the query vector.
func (s *DiskStore) Search(ctx context.Context, key domain.DocumentKey, queryVec []float32, k int) ([]ScoredPassage, error) {
	entry, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(queryVec) != entry.Dimensions {
		return nil, domain.ErrDimensionMismatch
	}
	return rankPassages(entry.Passages, queryVec, k), nil
}

// GetReference reads the sidecar metadata without loading vectors. It
// returns nil when no entry exists for the key.
func (s *DiskStore) GetReference(ctx context.Context, key domain.DocumentKey) (*domain.FilingReference, error) {
	s.mu.RLock()
	if entry, ok := s.cache[key]; ok {
		s.mu.RUnlock()
		ref := entry.Reference
		return &ref, nil
	}
	s.mu.RUnlock()

	data, err := os.ReadFile(s.metaPath(key))
	if errors.Is(err, os.ErrNotExist) {
		// Fall through to the full snapshot: it may exist without a
		// sidecar after a partial write, or only in the archive.
		entry, loadErr := s.load(ctx, key)
		if errors.Is(loadErr, domain.ErrIndexNotBuilt) {
			return nil, nil
		}
		if loadErr != nil {
			return nil, loadErr
		}
		ref := entry.Reference
		return &ref, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot metadata: %w", err)
	}

	var meta sidecarMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot metadata: %w", err)
	}
	ref := fromPersistedReference(key, meta.Reference)
	return &ref, nil
}

// ListKeys returns every key with a persisted snapshot.
func (s *DiskStore) ListKeys(ctx context.Context) ([]domain.DocumentKey, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list index directory: %w", err)
	}

	var keys []domain.DocumentKey
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".meta.json") {
			continue
		}
		base := strings.TrimSuffix(name, ".json")
		ticker, section, ok := strings.Cut(base, "__")
		if !ok {
			continue
		}
		key, err := domain.NewDocumentKey(ticker, domain.SectionKind(section))
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// Clear evicts the key's snapshot from archive, disk, and cache. The
// archive copy goes first: if it survived a local delete, the next cold
// load would restore the snapshot the caller just evicted.
func (s *DiskStore) Clear(ctx context.Context, key domain.DocumentKey) error {
	if s.archive != nil {
		err := s.archive.Delete(ctx, snapshotName(key)+".json")
		if err != nil && !errors.Is(err, ErrArchiveMiss) {
			return fmt.Errorf("failed to delete archived snapshot: %w", err)
		}
	}

	s.mu.Lock()
	delete(s.cache, key)
	s.mu.Unlock()

	for _, path := range []string{s.dataPath(key), s.metaPath(key)} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove snapshot: %w", err)
		}
	}
	return nil
}

// load returns the cached entry or reads it from disk, trying the archive
// on a cold start.
func (s *DiskStore) load(ctx context.Context, key domain.DocumentKey) (*domain.IndexEntry, error) {
	s.mu.RLock()
	if entry, ok := s.cache[key]; ok {
		s.mu.RUnlock()
		return entry, nil
	}
	s.mu.RUnlock()

	data, err := os.ReadFile(s.dataPath(key))
	if errors.Is(err, os.ErrNotExist) && s.archive != nil {
		data, err = s.restoreFromArchive(ctx, key)
	}
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, ErrArchiveMiss) {
		return nil, domain.ErrIndexNotBuilt
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var p persistedEntry
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	entry := fromPersisted(key, p)
	if err := domain.ValidateIndexEntry(entry); err != nil {
		return nil, fmt.Errorf("snapshot for %s is corrupt: %w", key, err)
	}

	s.mu.Lock()
	s.cache[key] = entry
	s.mu.Unlock()
	return entry, nil
}

func (s *DiskStore) restoreFromArchive(ctx context.Context, key domain.DocumentKey) ([]byte, error) {
	data, err := s.archive.Fetch(ctx, snapshotName(key)+".json")
	if err != nil {
		return nil, err
	}
	log.Printf("index: restored snapshot for %s from archive", key)
	if err := s.writeAtomic(s.dataPath(key), data); err != nil {
		log.Printf("index: failed to persist restored snapshot for %s: %v", key, err)
	}
	return data, nil
}

func toPersisted(entry *domain.IndexEntry) persistedEntry {
	p := persistedEntry{
		Ticker:     entry.Key.Ticker,
		Section:    string(entry.Key.Section),
		Reference:  toPersistedReference(entry.Reference),
		Dimensions: entry.Dimensions,
		BuiltAt:    entry.BuiltAt,
		Passages:   make([]persistedPassage, 0, len(entry.Passages)),
	}
	for _, passage := range entry.Passages {
		p.Passages = append(p.Passages, persistedPassage{
			Ordinal:    passage.Ordinal,
			Text:       passage.Text,
			TokenCount: passage.TokenCount,
			Embedding:  passage.Embedding,
		})
	}
	return p
}

func toSidecar(entry *domain.IndexEntry) sidecarMeta {
	return sidecarMeta{
		Ticker:     entry.Key.Ticker,
		Section:    string(entry.Key.Section),
		Reference:  toPersistedReference(entry.Reference),
		Dimensions: entry.Dimensions,
		BuiltAt:    entry.BuiltAt,
	}
}

func toPersistedReference(ref domain.FilingReference) persistedReference {
	return persistedReference{
		AccessionNumber: ref.AccessionNumber,
		FilingDate:      ref.FilingDate,
		SourceURL:       ref.SourceURL,
		ContentHash:     ref.ContentHash,
	}
}

func fromPersisted(key domain.DocumentKey, p persistedEntry) *domain.IndexEntry {
	entry := &domain.IndexEntry{
		Key:        key,
		Reference:  fromPersistedReference(key, p.Reference),
		Dimensions: p.Dimensions,
		BuiltAt:    p.BuiltAt,
		Passages:   make([]domain.Passage, 0, len(p.Passages)),
	}
	for _, passage := range p.Passages {
		entry.Passages = append(entry.Passages, domain.Passage{
			Key:        key,
			Ordinal:    passage.Ordinal,
			Text:       passage.Text,
			TokenCount: passage.TokenCount,
			Embedding:  passage.Embedding,
		})
	}
	return entry
}

func fromPersistedReference(key domain.DocumentKey, p persistedReference) domain.FilingReference {
	return domain.FilingReference{
		Key:             key,
		AccessionNumber: p.AccessionNumber,
		FilingDate:      p.FilingDate,
		SourceURL:       p.SourceURL,
		ContentHash:     p.ContentHash,
	}
}
