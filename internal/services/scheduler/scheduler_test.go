package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/crypto-subscriptions/internal/config"
)

type fakeChecker struct {
	calls atomic.Int64
	err   error
}

func (f *fakeChecker) CheckPending(_ context.Context) error {
	f.calls.Add(1)
	return f.err
}

type MockPostRepository struct {
	mock.Mock
}

func (m *MockPostRepository) ArchiveOldPosts(ctx context.Context, cutoff time.Time) (int, error) {
	args := m.Called(ctx, cutoff)
	return args.Int(0), args.Error(1)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSchedulerSettings() config.SchedulerSettings {
	return config.SchedulerSettings{
		PaymentSweepInterval: 20 * time.Millisecond,
		PostArchivalInterval: 20 * time.Millisecond,
		PostRetention:        720 * time.Hour,
	}
}

func TestRunPaymentSweep_TicksUntilCancelled(t *testing.T) {
	checker := &fakeChecker{}
	svc := New(checker, new(MockPostRepository), testSchedulerSettings(), newNoopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.RunPaymentSweep(ctx)
		close(done)
	}()

	// Немедленный проход плюс минимум один по таймеру.
	assert.Eventually(t, func() bool {
		return checker.calls.Load() >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("payment sweep did not stop after context cancellation")
	}
}

func TestRunPaymentSweep_SurvivesCheckerError(t *testing.T) {
	checker := &fakeChecker{err: errors.New("chain unavailable")}
	svc := New(checker, new(MockPostRepository), testSchedulerSettings(), newNoopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go svc.RunPaymentSweep(ctx)

	assert.Eventually(t, func() bool {
		return checker.calls.Load() >= 2
	}, time.Second, 5*time.Millisecond)
	cancel()
}

func TestRunPostArchival_UsesRetentionCutoff(t *testing.T) {
	posts := new(MockPostRepository)
	posts.On("ArchiveOldPosts", mock.Anything, mock.MatchedBy(func(cutoff time.Time) bool {
		want := time.Now().UTC().Add(-720 * time.Hour)
		diff := cutoff.Sub(want)
		return diff > -5*time.Second && diff < 5*time.Second
	})).Return(3, nil)

	svc := New(&fakeChecker{}, posts, testSchedulerSettings(), newNoopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.RunPostArchival(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return len(posts.Calls) >= 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("post archival did not stop after context cancellation")
	}
	posts.AssertExpectations(t)
}
