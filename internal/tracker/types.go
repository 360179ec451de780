package tracker

import (
	"context"
	"time"

	"github.com/MimeLyc/vibetracker/internal/frame"
	"github.com/MimeLyc/vibetracker/internal/hume"
	"github.com/MimeLyc/vibetracker/internal/jobs"
)

const (
	DefaultThreshold     = 10
	DefaultSubmitBackoff = 2 * time.Second
	encodeConcurrency    = 4
)

// JobClient submits batches to the analysis service and polls their results.
type JobClient interface {
	Submit(ctx context.Context, frames []hume.Frame, creds hume.Credentials) (hume.Job, error)
	Poll(ctx context.Context, job hume.Job, creds hume.Credentials, opts hume.PollOptions) ([]hume.Prediction, error)
}

// Ledger receives handed-off batches and records their progress.
// *jobs.Queue satisfies it.
type Ledger interface {
	Enqueue(captures []frame.Capture) *jobs.BatchJob
	Update(id string, fn func(job *jobs.BatchJob)) (*jobs.BatchJob, bool)
}

type Options struct {
	// Threshold is the number of captures per batch.
	Threshold   int
	Credentials hume.Credentials
	Poll        hume.PollOptions

	// SubmitRetries caps resubmission of a rejected batch. Zero drops it on the first rejection.
	SubmitRetries int
	SubmitBackoff time.Duration
	// RequeueOnTimeout puts the captures of a timed-out batch back into the buffer.
	RequeueOnTimeout bool

	// SummaryPath, when set, receives a JSON summary after every completed batch.
	SummaryPath string
	SummaryTopN int
}

func (o Options) withDefaults() Options {
	if o.Threshold <= 0 {
		o.Threshold = DefaultThreshold
	}
	if o.SubmitRetries < 0 {
		o.SubmitRetries = 0
	}
	if o.SubmitBackoff <= 0 {
		o.SubmitBackoff = DefaultSubmitBackoff
	}
	return o
}
