// Package tracker batches captures, runs them through the analysis service and
// stores the resulting emotion scores per foreground application.
package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MimeLyc/vibetracker/internal/emotion"
	"github.com/MimeLyc/vibetracker/internal/errs"
	"github.com/MimeLyc/vibetracker/internal/foreground"
	"github.com/MimeLyc/vibetracker/internal/frame"
	"github.com/MimeLyc/vibetracker/internal/hume"
	"github.com/MimeLyc/vibetracker/internal/jobs"
	"github.com/MimeLyc/vibetracker/pkg/log"
	"golang.org/x/sync/errgroup"
)

type Coordinator struct {
	opts     Options
	client   JobClient
	ledger   Ledger
	resolver foreground.Resolver
	store    *emotion.Store
	handler  errs.Handler

	// handoff orders batches in the ledger the way their captures arrived.
	// mu alone guards the buffer so Pending never waits on a hand-off.
	handoff sync.Mutex
	mu      sync.Mutex
	buffer  []frame.Capture

	summaryMu sync.Mutex
}

func NewCoordinator(
	opts Options,
	client JobClient,
	ledger Ledger,
	resolver foreground.Resolver,
	store *emotion.Store,
) *Coordinator {
	opts = opts.withDefaults()
	return &Coordinator{
		opts:     opts,
		client:   client,
		ledger:   ledger,
		resolver: resolver,
		store:    store,
		handler:  errs.NewLogHandler(),
		buffer:   make([]frame.Capture, 0, opts.Threshold),
	}
}

// AddCapture buffers one capture. When the buffer reaches the threshold its
// contents are handed to the ledger as one batch and a fresh buffer starts.
// The returned job is nil while the batch is still filling.
func (c *Coordinator) AddCapture(capture frame.Capture) *jobs.BatchJob {
	c.handoff.Lock()
	defer c.handoff.Unlock()

	c.mu.Lock()
	c.buffer = append(c.buffer, capture)
	if len(c.buffer) < c.opts.Threshold {
		c.mu.Unlock()
		return nil
	}
	batch := c.takeLocked()
	c.mu.Unlock()

	job := c.ledger.Enqueue(batch)
	log.Info("Handed off %s with %d captures", job.ID, len(batch))
	return job
}

// Flush hands off a partially filled buffer. Returns nil if the buffer is empty.
func (c *Coordinator) Flush() *jobs.BatchJob {
	c.handoff.Lock()
	defer c.handoff.Unlock()

	c.mu.Lock()
	if len(c.buffer) == 0 {
		c.mu.Unlock()
		return nil
	}
	batch := c.takeLocked()
	c.mu.Unlock()

	return c.ledger.Enqueue(batch)
}

func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffer)
}

func (c *Coordinator) Threshold() int {
	return c.opts.Threshold
}

func (c *Coordinator) takeLocked() []frame.Capture {
	batch := c.buffer
	c.buffer = make([]frame.Capture, 0, c.opts.Threshold)
	return batch
}

// Execute is the jobs.Executor for handed-off batches. Failures are logged
// and the batch is dropped unless requeueing on timeout is enabled.
func (c *Coordinator) Execute(ctx context.Context, job *jobs.BatchJob, captures []frame.Capture) error {
	n, err := c.process(ctx, job, captures)
	if err != nil {
		if ctx.Err() == nil {
			c.handler.Handle(fmt.Errorf("batch %s: %w", job.ID, err))
			c.requeueIfTimedOut(err, captures)
		}
		return err
	}
	log.Info("Batch %s stored %d emotion records", job.ID, n)
	c.writeSummary()
	return nil
}

// ProcessBatch encodes, submits and polls captures as one job, then stores one
// record per detected face emotion. It returns the number of stored records.
func (c *Coordinator) ProcessBatch(ctx context.Context, captures []frame.Capture) (int, error) {
	return c.process(ctx, nil, captures)
}

func (c *Coordinator) process(ctx context.Context, job *jobs.BatchJob, captures []frame.Capture) (int, error) {
	var (
		remote      hume.Job
		capturedAt  map[string]time.Time
		resumeCount int
	)

	if job != nil && job.Resumable() {
		remote = hume.Job{ID: job.RemoteJobID}
		resumeCount = job.Attempts
		log.Info("Resuming poll of remote job %s for %s", remote.ID, job.ID)
	} else {
		frames, times, err := c.encode(ctx, captures)
		if err != nil {
			return 0, err
		}
		capturedAt = times

		remote, err = c.submit(ctx, frames)
		if err != nil {
			return 0, err
		}
		c.update(job, func(j *jobs.BatchJob) {
			j.Status = jobs.StatusSubmitted
			j.RemoteJobID = remote.ID
		})
	}

	pollOpts := c.opts.Poll
	pollOpts.OnState = func(state hume.PollState, attempt int) {
		if state != hume.StatePolling {
			return
		}
		c.update(job, func(j *jobs.BatchJob) {
			j.Status = jobs.StatusPolling
			j.Attempts = resumeCount + attempt
		})
	}
	predictions, err := c.client.Poll(ctx, remote, c.opts.Credentials, pollOpts)
	if err != nil {
		return 0, err
	}

	n := c.fanOut(ctx, predictions, capturedAt)
	c.update(job, func(j *jobs.BatchJob) { j.Records = n })
	return n, nil
}

// encode decodes captures concurrently. Undecodable captures are skipped.
func (c *Coordinator) encode(ctx context.Context, captures []frame.Capture) ([]hume.Frame, map[string]time.Time, error) {
	results := make([]*hume.Frame, len(captures))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(encodeConcurrency)
	for i, capture := range captures {
		g.Go(func() error {
			payload, err := frame.Encode(capture.DataURI)
			if err != nil {
				c.handler.Handle(errs.Wrap(err, errs.Decode, "skipping capture "+capture.ID))
				return nil
			}
			results[i] = &hume.Frame{
				Name:      capture.FileName(payload),
				MediaType: payload.MediaType,
				Data:      payload.Data,
			}
			return nil
		})
	}
	_ = g.Wait()

	frames := make([]hume.Frame, 0, len(captures))
	capturedAt := make(map[string]time.Time, len(captures))
	for i, f := range results {
		if f == nil {
			continue
		}
		frames = append(frames, *f)
		capturedAt[f.Name] = captures[i].CapturedAt
	}
	if len(frames) == 0 {
		return nil, nil, errs.Newf(errs.Decode, "none of %d captures could be decoded", len(captures))
	}
	return frames, capturedAt, nil
}

// submit retries rejected batches up to SubmitRetries times with exponential backoff.
func (c *Coordinator) submit(ctx context.Context, frames []hume.Frame) (hume.Job, error) {
	backoff := c.opts.SubmitBackoff
	for attempt := 0; ; attempt++ {
		remote, err := c.client.Submit(ctx, frames, c.opts.Credentials)
		if err == nil {
			return remote, nil
		}
		if attempt >= c.opts.SubmitRetries || !errs.IsType(err, errs.Submission) {
			return hume.Job{}, err
		}

		log.Warn("Submission failed (attempt %d/%d), retrying in %s: %v", attempt+1, c.opts.SubmitRetries+1, backoff, err)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return hume.Job{}, ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
}

// fanOut stores one record per (prediction, face, emotion). The application is
// resolved once per prediction, when its results arrive.
func (c *Coordinator) fanOut(ctx context.Context, predictions []hume.Prediction, capturedAt map[string]time.Time) int {
	n := 0
	for _, p := range predictions {
		if len(p.Faces) == 0 {
			continue
		}
		app := foreground.Resolve(ctx, c.resolver)
		ts, ok := capturedAt[p.Source]
		if !ok {
			ts = time.Now()
		}
		for _, face := range p.Faces {
			for _, e := range face.Emotions {
				c.store.Store(emotion.Record{
					AppID:     app,
					Timestamp: ts,
					Emotion:   e.Name,
					Score:     e.Score,
				})
				n++
			}
		}
	}
	return n
}

func (c *Coordinator) requeueIfTimedOut(err error, captures []frame.Capture) {
	if !c.opts.RequeueOnTimeout || len(captures) == 0 || !errs.IsType(err, errs.PollTimeout) {
		return
	}
	log.Info("Requeueing %d captures of a timed out batch", len(captures))
	for _, capture := range captures {
		c.AddCapture(capture)
	}
}

func (c *Coordinator) update(job *jobs.BatchJob, fn func(j *jobs.BatchJob)) {
	if job == nil || c.ledger == nil {
		return
	}
	if _, ok := c.ledger.Update(job.ID, fn); !ok {
		log.Warn("Batch %s vanished from the ledger", job.ID)
	}
}

func (c *Coordinator) writeSummary() {
	if c.opts.SummaryPath == "" {
		return
	}
	c.summaryMu.Lock()
	defer c.summaryMu.Unlock()

	summary := emotion.Summarize(c.store.All(), c.opts.SummaryTopN)
	if err := emotion.WriteSummaryFile(c.opts.SummaryPath, summary); err != nil {
		log.Warn("Failed to write emotion summary %s: %v", c.opts.SummaryPath, err)
	}
}
