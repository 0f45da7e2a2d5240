package domain

import (
	"context"
	"time"

	computeddomain "github.com/smallbiznis/bigdeal/internal/computed/domain"
)

type Service interface {
	// Enqueue records a recompute request and returns without running it.
	Enqueue(ctx context.Context, req EnqueueRequest) (computeddomain.RecomputeJob, error)
	Status(ctx context.Context, scenarioID string) (Status, error)
	// Progress is nil unless a job for the scenario is running.
	Progress(ctx context.Context, scenarioID string) (*float64, error)
	GetJob(ctx context.Context, scenarioID, jobID string) (computeddomain.RecomputeJob, error)
	ListJobs(ctx context.Context, req ListJobsRequest) (ListJobsResponse, error)
	CopyScenario(ctx context.Context, req CopyRequest) (CopyResult, error)

	// ProcessNext claims and runs the oldest queued job. It reports whether a
	// job was claimed.
	ProcessNext(ctx context.Context) (bool, error)
	Run(ctx context.Context, job computeddomain.RecomputeJob) (RunResult, error)
	// RecoverStale requeues jobs left running longer than olderThan.
	RecoverStale(ctx context.Context, olderThan time.Duration) (int64, error)
}
