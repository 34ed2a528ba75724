package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"SageLink/internal/modules/pipeline/domain/job"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cannedFetch 按顺序吐出给定状态，记录调用次数
func cannedFetch(t *testing.T, statuses []string, calls *int) FetchStatusFunc {
	return func(ctx context.Context, runID string) (*job.RunStatus, error) {
		idx := *calls
		*calls++
		require.Less(t, idx, len(statuses), "poller fetched past the canned sequence")
		return &job.RunStatus{Status: statuses[idx]}, nil
	}
}

func TestPollerStopsAtTerminalStatus(t *testing.T) {
	poller := NewPoller(time.Millisecond)

	calls := 0
	var seen []string
	terminalCalls := 0

	poller.Poll(context.Background(), "r1", cannedFetch(t, []string{
		job.StatusStarting, job.StatusRunning, job.StatusRunning, job.StatusCompleted,
	}, &calls), PollHooks{
		OnStatus: func(status string) { seen = append(seen, status) },
		OnTerminal: func(rs *job.RunStatus, finishedAt time.Time) {
			terminalCalls++
			assert.Equal(t, job.StatusCompleted, rs.Status)
			assert.False(t, finishedAt.IsZero())
		},
		OnError: func(err error) { t.Errorf("unexpected OnError: %v", err) },
	})

	// 恰好 4 次轮询，终态只回调一次，且在第 4 次之后
	assert.Equal(t, 4, calls)
	assert.Equal(t, []string{"starting", "running", "running", "completed"}, seen)
	assert.Equal(t, 1, terminalCalls)
}

func TestPollerAbortsOnFetchError(t *testing.T) {
	poller := NewPoller(time.Millisecond)

	calls := 0
	fetchErr := errors.New("status endpoint unreachable")
	fetch := func(ctx context.Context, runID string) (*job.RunStatus, error) {
		calls++
		if calls == 2 {
			return nil, fetchErr
		}
		return &job.RunStatus{Status: job.StatusRunning}, nil
	}

	var gotErr error
	poller.Poll(context.Background(), "r1", fetch, PollHooks{
		OnError:    func(err error) { gotErr = err },
		OnTerminal: func(rs *job.RunStatus, finishedAt time.Time) { t.Error("OnTerminal must not fire after a fetch error") },
	})

	// 第 2 次失败即中止，不重试
	assert.Equal(t, 2, calls)
	assert.Equal(t, fetchErr, gotErr)
}

func TestPollerPrefersBackendFinishTimestamp(t *testing.T) {
	poller := NewPoller(time.Millisecond)

	started := time.Date(2025, 8, 30, 10, 0, 0, 0, time.UTC)
	finished := started.Add(5 * time.Minute)
	fetch := func(ctx context.Context, runID string) (*job.RunStatus, error) {
		return &job.RunStatus{Status: job.StatusCancelled, StartedAt: &started, FinishedAt: &finished}, nil
	}

	var got time.Time
	poller.Poll(context.Background(), "r1", fetch, PollHooks{
		OnTerminal: func(rs *job.RunStatus, finishedAt time.Time) { got = finishedAt },
	})
	assert.True(t, got.Equal(finished))
}

func TestPollerFallsBackToStartedAtThenNow(t *testing.T) {
	started := time.Date(2025, 8, 30, 10, 0, 0, 0, time.UTC)
	rs := &job.RunStatus{Status: job.StatusFailed, StartedAt: &started}
	assert.True(t, rs.FinishTime(time.Now()).Equal(started))

	now := time.Now()
	bare := &job.RunStatus{Status: job.StatusFailed}
	assert.True(t, bare.FinishTime(now).Equal(now))
}

func TestPollerStopsWhenContextCancelled(t *testing.T) {
	poller := NewPoller(50 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	fetch := func(ctx context.Context, runID string) (*job.RunStatus, error) {
		calls++
		cancel()
		return &job.RunStatus{Status: job.StatusRunning}, nil
	}

	done := make(chan struct{})
	go func() {
		poller.Poll(ctx, "r1", fetch, PollHooks{})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop after context cancellation")
	}
	assert.Equal(t, 1, calls)
}
