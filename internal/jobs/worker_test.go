package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/finsight-labs/filingrag/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockCycleProcessor is a mock implementation of CycleProcessor
type MockCycleProcessor struct {
	mock.Mock
}

func (m *MockCycleProcessor) RunCycle(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// countingProcessor counts cycles without mock bookkeeping, safe to poll
// while the worker goroutine is still running.
type countingProcessor struct {
	calls atomic.Int64
	err   error
}

func (p *countingProcessor) RunCycle(ctx context.Context) error {
	p.calls.Add(1)
	return p.err
}

// MockRefreshManager is a mock implementation of RefreshManager
type MockRefreshManager struct {
	mock.Mock
}

func (m *MockRefreshManager) TrackedKeys(ctx context.Context) ([]domain.DocumentKey, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.DocumentKey), args.Error(1)
}

func (m *MockRefreshManager) RefreshKey(ctx context.Context, key domain.DocumentKey) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func mustKey(t *testing.T, ticker string, section domain.SectionKind) domain.DocumentKey {
	t.Helper()
	key, err := domain.NewDocumentKey(ticker, section)
	require.NoError(t, err)
	return key
}

func startWorker(t *testing.T, worker *Worker, ctx context.Context) *sync.WaitGroup {
	t.Helper()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Start(ctx)
	}()
	return &wg
}

// TestWorker_RunsFirstCycleImmediately tests the boot-time sweep: the
// first cycle must not wait out an interval.
func TestWorker_RunsFirstCycleImmediately(t *testing.T) {
	processor := &countingProcessor{}
	worker := NewWorker(processor, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wg := startWorker(t, worker, ctx)

	assert.Eventually(t, func() bool {
		return processor.calls.Load() >= 1
	}, time.Second, 5*time.Millisecond)

	worker.Stop()
	wg.Wait()
}

// TestWorker_StartStop tests the worker start and stop functionality
func TestWorker_StartStop(t *testing.T) {
	processor := &countingProcessor{}
	worker := NewWorker(processor, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wg := startWorker(t, worker, ctx)

	time.Sleep(150 * time.Millisecond)

	worker.Stop()
	wg.Wait()

	// One immediate cycle plus at least one ticked cycle.
	assert.GreaterOrEqual(t, processor.calls.Load(), int64(2))
}

// TestWorker_ContextCancellation tests worker stops on context cancellation
func TestWorker_ContextCancellation(t *testing.T) {
	mockProcessor := new(MockCycleProcessor)
	mockProcessor.On("RunCycle", mock.Anything).Return(nil)

	worker := NewWorker(mockProcessor, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	wg := startWorker(t, worker, ctx)

	time.Sleep(75 * time.Millisecond)

	cancel()
	wg.Wait()

	mockProcessor.AssertCalled(t, "RunCycle", mock.Anything)
}

// TestWorker_CycleErrorDoesNotStopWorker tests that a failed cycle is
// logged and the next one still runs.
func TestWorker_CycleErrorDoesNotStopWorker(t *testing.T) {
	processor := &countingProcessor{err: errors.New("sweep failed")}
	worker := NewWorker(processor, 25*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wg := startWorker(t, worker, ctx)

	assert.Eventually(t, func() bool {
		return processor.calls.Load() >= 2
	}, time.Second, 5*time.Millisecond)

	worker.Stop()
	wg.Wait()
}

// TestRefreshWorker_NoTrackedKeys tests a cycle with nothing to refresh
func TestRefreshWorker_NoTrackedKeys(t *testing.T) {
	mockManager := new(MockRefreshManager)
	mockManager.On("TrackedKeys", mock.Anything).Return([]domain.DocumentKey{}, nil)

	worker := NewRefreshWorker(mockManager)
	err := worker.RunCycle(context.Background())

	assert.NoError(t, err)
	mockManager.AssertExpectations(t)
	mockManager.AssertNotCalled(t, "RefreshKey", mock.Anything, mock.Anything)
}

// TestRefreshWorker_RefreshesEveryKey tests that each tracked key is checked
func TestRefreshWorker_RefreshesEveryKey(t *testing.T) {
	mockManager := new(MockRefreshManager)

	aapl := mustKey(t, "AAPL", domain.SectionRiskFactors)
	msft := mustKey(t, "MSFT", domain.SectionMDA)

	mockManager.On("TrackedKeys", mock.Anything).Return([]domain.DocumentKey{aapl, msft}, nil)
	mockManager.On("RefreshKey", mock.Anything, aapl).Return(true, nil)
	mockManager.On("RefreshKey", mock.Anything, msft).Return(false, nil)

	worker := NewRefreshWorker(mockManager)
	err := worker.RunCycle(context.Background())

	assert.NoError(t, err)
	mockManager.AssertExpectations(t)
}

// TestRefreshWorker_KeyFailureDoesNotStopCycle tests per-key error isolation
func TestRefreshWorker_KeyFailureDoesNotStopCycle(t *testing.T) {
	mockManager := new(MockRefreshManager)

	aapl := mustKey(t, "AAPL", domain.SectionRiskFactors)
	msft := mustKey(t, "MSFT", domain.SectionMDA)

	mockManager.On("TrackedKeys", mock.Anything).Return([]domain.DocumentKey{aapl, msft}, nil)
	mockManager.On("RefreshKey", mock.Anything, aapl).Return(false, errors.New("upstream fetch failed"))
	mockManager.On("RefreshKey", mock.Anything, msft).Return(true, nil)

	worker := NewRefreshWorker(mockManager)
	err := worker.RunCycle(context.Background())

	assert.NoError(t, err)
	mockManager.AssertExpectations(t)
}

// TestRefreshWorker_StopsOnContextCancellation tests that cancellation aborts the cycle
func TestRefreshWorker_StopsOnContextCancellation(t *testing.T) {
	mockManager := new(MockRefreshManager)

	aapl := mustKey(t, "AAPL", domain.SectionRiskFactors)
	msft := mustKey(t, "MSFT", domain.SectionMDA)

	mockManager.On("TrackedKeys", mock.Anything).Return([]domain.DocumentKey{aapl, msft}, nil)
	mockManager.On("RefreshKey", mock.Anything, aapl).Return(false, context.Canceled)

	worker := NewRefreshWorker(mockManager)
	err := worker.RunCycle(context.Background())

	assert.ErrorIs(t, err, context.Canceled)
	mockManager.AssertNotCalled(t, "RefreshKey", mock.Anything, msft)
}

// TestRefreshWorker_ListError tests list failure propagation
func TestRefreshWorker_ListError(t *testing.T) {
	mockManager := new(MockRefreshManager)
	mockManager.On("TrackedKeys", mock.Anything).Return(nil, errors.New("store unavailable"))

	worker := NewRefreshWorker(mockManager)
	err := worker.RunCycle(context.Background())

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list tracked keys")
	mockManager.AssertExpectations(t)
}
