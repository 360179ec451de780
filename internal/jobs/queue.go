package jobs

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MimeLyc/vibetracker/internal/errs"
	"github.com/MimeLyc/vibetracker/internal/frame"
	"github.com/MimeLyc/vibetracker/pkg/log"
)

// Executor runs one batch. captures is nil when a persisted job resumes polling.
type Executor func(ctx context.Context, job *BatchJob, captures []frame.Capture) error

const lostOnRestart = "captures lost on restart before submission"

type Queue struct {
	workerCount int
	maxJobs     int
	store       Store

	mu         sync.RWMutex
	jobs       map[string]*BatchJob
	captures   map[string][]frame.Capture
	running    map[string]struct{}
	idCounter  uint64
	started    bool
	pendingIDs chan string
	ctx        context.Context
	cancel     context.CancelFunc
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

func NewQueue(workerCount int, store Store) *Queue {
	if workerCount <= 0 {
		workerCount = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		workerCount: workerCount,
		maxJobs:     1000,
		store:       store,
		jobs:        make(map[string]*BatchJob),
		captures:    make(map[string][]frame.Capture),
		running:     make(map[string]struct{}),
		pendingIDs:  make(chan string, 1024),
		ctx:         ctx,
		cancel:      cancel,
	}
	q.hydrateFromStore(context.Background())
	return q
}

// Enqueue takes ownership of captures as one batch. It never blocks on running work.
func (q *Queue) Enqueue(captures []frame.Capture) *BatchJob {
	now := time.Now()
	id := fmt.Sprintf("batch-%d", atomic.AddUint64(&q.idCounter, 1))
	job := &BatchJob{
		ID:        id,
		Captures:  len(captures),
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	q.mu.Lock()
	q.jobs[id] = job
	q.captures[id] = captures
	started := q.started
	snapshot := cloneJob(job)
	q.mu.Unlock()

	q.persistJob(snapshot)
	if started {
		q.enqueuePendingID(id)
	}
	return snapshot
}

func (q *Queue) Get(id string) (*BatchJob, bool) {
	q.mu.RLock()
	job, ok := q.jobs[id]
	q.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return cloneJob(job), true
}

// List returns snapshots ordered by creation time.
func (q *Queue) List() []*BatchJob {
	q.mu.RLock()
	ret := make([]*BatchJob, 0, len(q.jobs))
	for _, job := range q.jobs {
		ret = append(ret, cloneJob(job))
	}
	q.mu.RUnlock()

	sort.Slice(ret, func(i, j int) bool {
		if ret[i].CreatedAt.Equal(ret[j].CreatedAt) {
			return jobNumber(ret[i].ID) < jobNumber(ret[j].ID)
		}
		return ret[i].CreatedAt.Before(ret[j].CreatedAt)
	})
	return ret
}

// Update applies fn to the job under lock and persists the result.
func (q *Queue) Update(id string, fn func(job *BatchJob)) (*BatchJob, bool) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return nil, false
	}
	fn(job)
	job.UpdatedAt = time.Now()
	snapshot := cloneJob(job)
	q.mu.Unlock()

	q.persistJob(snapshot)
	return snapshot, true
}

func (q *Queue) Start(exec Executor) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true

	runnable := make([]*BatchJob, 0)
	for _, job := range q.jobs {
		if job.Status == StatusPending || job.Resumable() {
			runnable = append(runnable, job)
		}
	}
	sort.Slice(runnable, func(i, j int) bool {
		return jobNumber(runnable[i].ID) < jobNumber(runnable[j].ID)
	})
	q.mu.Unlock()

	for _, job := range runnable {
		q.enqueuePendingID(job.ID)
	}

	for range q.workerCount {
		q.wg.Add(1)
		go q.worker(exec)
	}
}

// Stop cancels running executors and waits for workers to exit. Jobs
// interrupted while submitted or polling stay resumable.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		q.cancel()
		q.wg.Wait()
	})
}

func (q *Queue) worker(exec Executor) {
	defer q.wg.Done()

	for {
		select {
		case <-q.ctx.Done():
			return
		case id := <-q.pendingIDs:
			job, captures, ok := q.claim(id)
			if !ok {
				continue
			}

			err := exec(q.ctx, job, captures)
			if err != nil && q.ctx.Err() != nil {
				log.Info("Batch %s interrupted by shutdown in status %s", id, q.currentStatus(id))
				q.release(id)
				continue
			}
			q.finish(id, err)
		}
	}
}

func (q *Queue) enqueuePendingID(id string) {
	select {
	case q.pendingIDs <- id:
	default:
		go func() {
			select {
			case q.pendingIDs <- id:
			case <-q.ctx.Done():
			}
		}()
	}
}

// claim hands the job and its captures to a worker exactly once.
func (q *Queue) claim(id string) (*BatchJob, []frame.Capture, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok || !(job.Status == StatusPending || job.Resumable()) {
		return nil, nil, false
	}
	if _, busy := q.running[id]; busy {
		return nil, nil, false
	}
	q.running[id] = struct{}{}
	captures := q.captures[id]
	delete(q.captures, id)
	return cloneJob(job), captures, true
}

func (q *Queue) release(id string) {
	q.mu.Lock()
	delete(q.running, id)
	q.mu.Unlock()
}

func (q *Queue) currentStatus(id string) Status {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if job, ok := q.jobs[id]; ok {
		return job.Status
	}
	return ""
}

func (q *Queue) finish(id string, err error) {
	q.mu.Lock()
	delete(q.running, id)
	job, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return
	}
	job.Status = terminalStatus(err)
	job.Error = ""
	if err != nil {
		job.Error = err.Error()
	}
	job.UpdatedAt = time.Now()
	pruned := q.pruneTerminalJobsLocked()
	snapshot := cloneJob(job)
	q.mu.Unlock()

	q.persistJob(snapshot)
	q.deleteJobsFromStore(pruned)
}

func terminalStatus(err error) Status {
	if err == nil {
		return StatusSucceeded
	}
	switch errs.TypeOf(err) {
	case errs.PollTimeout:
		return StatusTimedOut
	default:
		return StatusFailed
	}
}

func (q *Queue) pruneTerminalJobsLocked() []string {
	if q.maxJobs <= 0 || len(q.jobs) <= q.maxJobs {
		return nil
	}

	type candidate struct {
		id        string
		updatedAt time.Time
	}
	terminal := make([]candidate, 0, len(q.jobs))
	for id, job := range q.jobs {
		if job == nil || !job.Status.Terminal() {
			continue
		}
		terminal = append(terminal, candidate{id: id, updatedAt: job.UpdatedAt})
	}
	if len(terminal) == 0 {
		return nil
	}

	sort.Slice(terminal, func(i, j int) bool {
		return terminal[i].updatedAt.Before(terminal[j].updatedAt)
	})

	toRemove := min(len(q.jobs)-q.maxJobs, len(terminal))
	pruned := make([]string, 0, toRemove)
	for i := 0; i < toRemove; i++ {
		id := terminal[i].id
		delete(q.jobs, id)
		delete(q.captures, id)
		pruned = append(pruned, id)
	}
	return pruned
}

func (q *Queue) deleteJobsFromStore(ids []string) {
	if q.store == nil || len(ids) == 0 {
		return
	}
	for _, id := range ids {
		if err := q.store.DeleteJob(context.Background(), id); err != nil {
			log.Error("Failed to delete pruned job %s from store: %v", id, err)
		}
	}
}

func (q *Queue) hydrateFromStore(ctx context.Context) {
	if q.store == nil {
		return
	}
	loaded, err := q.store.LoadJobs(ctx)
	if err != nil {
		log.Error("Failed to load jobs from store: %v", err)
		return
	}

	now := time.Now()
	toPersist := make([]*BatchJob, 0)
	q.mu.Lock()
	for _, raw := range loaded {
		if raw == nil || raw.ID == "" {
			continue
		}
		job := cloneJob(raw)
		switch {
		case job.Resumable():
			log.Info("Resuming remote job %s of batch %s", job.RemoteJobID, job.ID)
		case !job.Status.Terminal():
			// frames were only ever held in memory
			job.Status = StatusFailed
			job.Error = lostOnRestart
			job.UpdatedAt = now
			toPersist = append(toPersist, cloneJob(job))
		}
		q.jobs[job.ID] = job
		q.updateIDCounterLocked(job.ID)
	}
	q.mu.Unlock()

	for _, job := range toPersist {
		q.persistJob(job)
	}
}

func (q *Queue) updateIDCounterLocked(jobID string) {
	if n := jobNumber(jobID); n > q.idCounter {
		q.idCounter = n
	}
}

func jobNumber(jobID string) uint64 {
	if !strings.HasPrefix(jobID, "batch-") {
		return 0
	}
	n, err := strconv.ParseUint(strings.TrimPrefix(jobID, "batch-"), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func (q *Queue) persistJob(job *BatchJob) {
	if q.store == nil || job == nil {
		return
	}
	if err := q.store.UpsertJob(context.Background(), job); err != nil {
		log.Error("Failed to persist job %s: %v", job.ID, err)
	}
}

func cloneJob(job *BatchJob) *BatchJob {
	if job == nil {
		return nil
	}
	tmp := *job
	return &tmp
}
