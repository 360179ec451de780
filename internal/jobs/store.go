package jobs

import "context"

// Store persists ledger entries so submitted jobs can resume polling after restart.
type Store interface {
	LoadJobs(ctx context.Context) ([]*BatchJob, error)
	UpsertJob(ctx context.Context, job *BatchJob) error
	DeleteJob(ctx context.Context, jobID string) error
}
