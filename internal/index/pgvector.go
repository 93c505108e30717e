package index

import (
	"context"
	"errors"
	"fmt"

	"github.com/finsight-labs/filingrag/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PgStore persists index entries in Postgres with pgvector. The atomic
// snapshot swap is a transaction that deletes the prior entry and inserts
// the new one; readers outside the transaction see old or new, never a
// mix. Search runs in the database via the cosine distance operator.
type PgStore struct {
	pool       *pgxpool.Pool
	dimensions int
}

// NewPgStore creates a store over the given pool. dimensions must match
// the vector column width declared in the schema.
func NewPgStore(pool *pgxpool.Pool, dimensions int) *PgStore {
	return &PgStore{pool: pool, dimensions: dimensions}
}

// Put replaces the key's snapshot in one transaction.
func (s *PgStore) Put(ctx context.Context, entry *domain.IndexEntry) error {
	if err := domain.ValidateIndexEntry(entry); err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid index entry", err)
	}
	if entry.Dimensions != s.dimensions {
		return domain.NewDomainError(domain.ErrCodeValidation,
			fmt.Sprintf("entry has %d dimensions, store schema expects %d", entry.Dimensions, s.dimensions))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin snapshot transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// filing_passages rows cascade from this delete.
	_, err = tx.Exec(ctx,
		`DELETE FROM filing_indexes WHERE ticker = $1 AND section = $2`,
		entry.Key.Ticker, entry.Key.Section,
	)
	if err != nil {
		return fmt.Errorf("failed to evict prior snapshot: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO filing_indexes
			(ticker, section, accession_number, filing_date, source_url, content_hash, dimensions, built_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.Key.Ticker,
		entry.Key.Section,
		entry.Reference.AccessionNumber,
		entry.Reference.FilingDate,
		entry.Reference.SourceURL,
		entry.Reference.ContentHash,
		entry.Dimensions,
		entry.BuiltAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot reference: %w", err)
	}

	for _, p := range entry.Passages {
		_, err = tx.Exec(ctx,
			`INSERT INTO filing_passages (ticker, section, ordinal, content, token_count, embedding)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			entry.Key.Ticker,
			entry.Key.Section,
			p.Ordinal,
			p.Text,
			p.TokenCount,
			pgvector.NewVector(p.Embedding),
		)
		if err != nil {
			return fmt.Errorf("failed to insert passage %d: %w", p.Ordinal, err)
		}
	}

	return tx.Commit(ctx)
}

// Search runs cosine nearest-neighbor search over the key's passages.
func (s *PgStore) Search(ctx context.Context, key domain.DocumentKey, queryVec []float32, k int) ([]ScoredPassage, error) {
	if len(queryVec) != s.dimensions {
		return nil, domain.ErrDimensionMismatch
	}
	if k <= 0 {
		k = 4
	}

	ref, err := s.GetReference(ctx, key)
	if err != nil {
		return nil, err
	}
	if ref == nil {
		return nil, domain.ErrIndexNotBuilt
	}

	rows, err := s.pool.Query(ctx,
		`SELECT ordinal, content, token_count, 1.0 - (embedding <=> $1) AS score
		 FROM filing_passages
		 WHERE ticker = $2 AND section = $3
		 ORDER BY embedding <=> $1 ASC, ordinal ASC
		 LIMIT $4`,
		pgvector.NewVector(queryVec), key.Ticker, key.Section, k,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search passages: %w", err)
	}
	defer rows.Close()

	var results []ScoredPassage
	for rows.Next() {
		var sp ScoredPassage
		sp.Passage.Key = key
		if err := rows.Scan(&sp.Passage.Ordinal, &sp.Passage.Text, &sp.Passage.TokenCount, &sp.Score); err != nil {
			return nil, err
		}
		results = append(results, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, domain.ErrIndexNotBuilt
	}
	return results, nil
}

// GetReference reads the snapshot reference row; nil when absent.
func (s *PgStore) GetReference(ctx context.Context, key domain.DocumentKey) (*domain.FilingReference, error) {
	ref := domain.FilingReference{Key: key}
	err := s.pool.QueryRow(ctx,
		`SELECT accession_number, filing_date, source_url, content_hash
		 FROM filing_indexes WHERE ticker = $1 AND section = $2`,
		key.Ticker, key.Section,
	).Scan(&ref.AccessionNumber, &ref.FilingDate, &ref.SourceURL, &ref.ContentHash)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

// ListKeys returns every key with a persisted snapshot.
func (s *PgStore) ListKeys(ctx context.Context) ([]domain.DocumentKey, error) {
	rows, err := s.pool.Query(ctx, `SELECT ticker, section FROM filing_indexes ORDER BY ticker, section`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []domain.DocumentKey
	for rows.Next() {
		var ticker, section string
		if err := rows.Scan(&ticker, &section); err != nil {
			return nil, err
		}
		key, err := domain.NewDocumentKey(ticker, domain.SectionKind(section))
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Clear evicts the key's snapshot.
func (s *PgStore) Clear(ctx context.Context, key domain.DocumentKey) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM filing_indexes WHERE ticker = $1 AND section = $2`,
		key.Ticker, key.Section,
	)
	return err
}
