package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/finsight-labs/filingrag/internal/domain"
)

// RefreshManager is the slice of the index manager the freshness worker
// needs: enumerate tracked keys and refresh one of them.
type RefreshManager interface {
	TrackedKeys(ctx context.Context) ([]domain.DocumentKey, error)
	RefreshKey(ctx context.Context, key domain.DocumentKey) (bool, error)
}

// RefreshWorker walks every tracked index each cycle and rebuilds the
// ones whose upstream filing content changed. It keeps indexes warm so
// query traffic rarely pays the build cost after an amendment lands.
type RefreshWorker struct {
	manager RefreshManager
}

// NewRefreshWorker creates a freshness worker over the index manager.
func NewRefreshWorker(manager RefreshManager) *RefreshWorker {
	return &RefreshWorker{manager: manager}
}

// RunCycle implements CycleProcessor: one full sweep over tracked keys.
func (w *RefreshWorker) RunCycle(ctx context.Context) error {
	keys, err := w.manager.TrackedKeys(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tracked keys: %w", err)
	}

	if len(keys) == 0 {
		return nil
	}

	refreshed := 0
	for _, key := range keys {
		rebuilt, err := w.manager.RefreshKey(ctx, key)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			// One key failing must not starve the rest of the cycle.
			log.Printf("refresh: %s failed: %v", key, err)
			continue
		}
		if rebuilt {
			refreshed++
		}
	}

	if refreshed > 0 {
		log.Printf("refresh: rebuilt %d of %d tracked indexes", refreshed, len(keys))
	}
	return nil
}
