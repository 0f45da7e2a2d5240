package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// ReadRecords returns the scenario's current generation ordered by
	// (issn_l, member_package_id).
	ReadRecords(ctx context.Context, db *gorm.DB, scenarioID string) ([]JournalMetricRecord, error)
	// ReplaceRecords swaps the scenario's generation in one transaction. Rows
	// of members listed in keepMembers survive from the prior generation.
	ReplaceRecords(ctx context.Context, db *gorm.DB, scenarioID string, records []JournalMetricRecord, keepMembers []string, batchSize int) error
	CopyRecords(ctx context.Context, db *gorm.DB, srcScenarioID, dstScenarioID string, updated time.Time) (int64, error)
	ReadJournalRecords(ctx context.Context, db *gorm.DB, scenarioID, issnL string) ([]JournalMetricRecord, error)

	InsertJob(ctx context.Context, db *gorm.DB, job *RecomputeJob) error
	FindJob(ctx context.Context, db *gorm.DB, id snowflake.ID) (*RecomputeJob, error)
	FindPendingJob(ctx context.Context, db *gorm.DB, scenarioID string) (*RecomputeJob, error)
	ListJobs(ctx context.Context, db *gorm.DB, scenarioID string, before *snowflake.ID, limit int) ([]RecomputeJob, error)
	ClaimNextJob(ctx context.Context, db *gorm.DB, now time.Time) (*RecomputeJob, error)
	SetMembersTotal(ctx context.Context, db *gorm.DB, id snowflake.ID, total int) error
	MarkMemberDone(ctx context.Context, db *gorm.DB, id snowflake.ID, failed bool) error
	FinishJob(ctx context.Context, db *gorm.DB, id snowflake.ID, status JobStatus, failures []byte, errSummary string, now time.Time) error
	RequeueJob(ctx context.Context, db *gorm.DB, id snowflake.ID, errSummary string) error
	ReleaseClaim(ctx context.Context, db *gorm.DB, id snowflake.ID) error
	RequeueStaleJobs(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error)
}
