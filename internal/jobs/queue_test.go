package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MimeLyc/vibetracker/internal/errs"
	"github.com/MimeLyc/vibetracker/internal/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captures(n int) []frame.Capture {
	ret := make([]frame.Capture, n)
	for i := range ret {
		ret[i] = frame.NewCapture("data:image/png;base64,AAAA")
	}
	return ret
}

func waitForStatus(t *testing.T, q *Queue, id string, want Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		got, ok := q.Get(id)
		return ok && got.Status == want
	}, time.Second, 5*time.Millisecond)
}

func TestQueue_Enqueue_AssignsSequentialIDs(t *testing.T) {
	q := NewQueue(1, nil)

	first := q.Enqueue(captures(2))
	second := q.Enqueue(captures(3))

	assert.Equal(t, "batch-1", first.ID)
	assert.Equal(t, "batch-2", second.ID)
	assert.Equal(t, 3, second.Captures)
	assert.Equal(t, StatusPending, first.Status)

	list := q.List()
	require.Len(t, list, 2)
	assert.Equal(t, "batch-1", list[0].ID)
}

func TestQueue_Worker_HandsCapturesToExecutorOnce(t *testing.T) {
	q := NewQueue(2, nil)

	var mu sync.Mutex
	seen := map[string]int{}
	q.Start(func(_ context.Context, job *BatchJob, got []frame.Capture) error {
		mu.Lock()
		seen[job.ID] += len(got)
		mu.Unlock()
		return nil
	})
	defer q.Stop()

	job := q.Enqueue(captures(4))
	waitForStatus(t, q, job.ID, StatusSucceeded)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[string]int{job.ID: 4}, seen)
}

func TestQueue_TerminalStatusFollowsErrorType(t *testing.T) {
	q := NewQueue(1, nil)
	q.Start(func(_ context.Context, job *BatchJob, _ []frame.Capture) error {
		switch job.Captures {
		case 1:
			return errs.New(errs.PollTimeout, "gave up")
		case 2:
			return errs.New(errs.JobFailed, "remote failure")
		case 3:
			return errs.New(errs.Submission, "rejected")
		}
		return nil
	})
	defer q.Stop()

	timedOut := q.Enqueue(captures(1))
	failed := q.Enqueue(captures(2))
	rejected := q.Enqueue(captures(3))
	ok := q.Enqueue(captures(4))

	waitForStatus(t, q, timedOut.ID, StatusTimedOut)
	waitForStatus(t, q, failed.ID, StatusFailed)
	waitForStatus(t, q, rejected.ID, StatusFailed)
	waitForStatus(t, q, ok.ID, StatusSucceeded)

	got, _ := q.Get(rejected.ID)
	assert.Contains(t, got.Error, "rejected")
}

func TestQueue_Update_TracksTransitions(t *testing.T) {
	q := NewQueue(1, nil)
	release := make(chan struct{})
	q.Start(func(_ context.Context, job *BatchJob, _ []frame.Capture) error {
		q.Update(job.ID, func(j *BatchJob) {
			j.Status = StatusSubmitted
			j.RemoteJobID = "remote-1"
		})
		<-release
		return nil
	})
	defer q.Stop()

	job := q.Enqueue(captures(1))
	waitForStatus(t, q, job.ID, StatusSubmitted)

	got, _ := q.Get(job.ID)
	assert.Equal(t, "remote-1", got.RemoteJobID)

	close(release)
	waitForStatus(t, q, job.ID, StatusSucceeded)
}

func TestQueue_Stop_CancelsRunningExecutor(t *testing.T) {
	q := NewQueue(1, nil)
	started := make(chan struct{})
	q.Start(func(ctx context.Context, job *BatchJob, _ []frame.Capture) error {
		q.Update(job.ID, func(j *BatchJob) {
			j.Status = StatusPolling
			j.RemoteJobID = "remote-1"
		})
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	job := q.Enqueue(captures(1))
	<-started

	done := make(chan struct{})
	go func() {
		q.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}

	got, _ := q.Get(job.ID)
	assert.Equal(t, StatusPolling, got.Status)
	assert.True(t, got.Resumable())
}
