package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/bigdeal/internal/computed/domain"
	"gorm.io/gorm"
)

const defaultBatchSize = 1000

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) ReadRecords(ctx context.Context, db *gorm.DB, scenarioID string) ([]domain.JournalMetricRecord, error) {
	var records []domain.JournalMetricRecord
	err := db.WithContext(ctx).
		Where("scenario_id = ?", scenarioID).
		Order("issn_l ASC, member_package_id ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repo) ReadJournalRecords(ctx context.Context, db *gorm.DB, scenarioID, issnL string) ([]domain.JournalMetricRecord, error) {
	var records []domain.JournalMetricRecord
	err := db.WithContext(ctx).
		Where("scenario_id = ? AND issn_l = ?", scenarioID, issnL).
		Order("usage DESC, member_package_id ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repo) ReplaceRecords(ctx context.Context, db *gorm.DB, scenarioID string, records []domain.JournalMetricRecord, keepMembers []string, batchSize int) error {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		del := tx.Where("scenario_id = ?", scenarioID)
		if len(keepMembers) > 0 {
			del = del.Where("member_package_id NOT IN ?", keepMembers)
		}
		if err := del.Delete(&domain.JournalMetricRecord{}).Error; err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		return tx.CreateInBatches(records, batchSize).Error
	})
}

func (r *repo) CopyRecords(ctx context.Context, db *gorm.DB, srcScenarioID, dstScenarioID string, updated time.Time) (int64, error) {
	var copied int64
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var records []domain.JournalMetricRecord
		if err := tx.Where("scenario_id = ?", srcScenarioID).
			Order("issn_l ASC, member_package_id ASC").
			Find(&records).Error; err != nil {
			return err
		}
		if err := tx.Where("scenario_id = ?", dstScenarioID).Delete(&domain.JournalMetricRecord{}).Error; err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		for i := range records {
			records[i].ScenarioID = dstScenarioID
			records[i].Updated = updated
		}
		if err := tx.CreateInBatches(records, defaultBatchSize).Error; err != nil {
			return err
		}
		copied = int64(len(records))
		return nil
	})
	return copied, err
}

const jobColumns = `id, scenario_id, pending_key, consortium_name, package_id, email, status,
	members_total, members_done, members_failed, attempts, failures, error,
	created_at, started_at, completed_at`

func (r *repo) InsertJob(ctx context.Context, db *gorm.DB, job *domain.RecomputeJob) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO recompute_jobs (id, scenario_id, pending_key, consortium_name, package_id, email, status,
		 members_total, members_done, members_failed, attempts, failures, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, 0, 0, '[]', ?)`,
		job.ID,
		job.ScenarioID,
		job.PendingKey,
		job.ConsortiumName,
		job.PackageID,
		job.Email,
		job.Status,
		job.MembersTotal,
		job.CreatedAt,
	).Error
}

func (r *repo) FindJob(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.RecomputeJob, error) {
	var job domain.RecomputeJob
	err := db.WithContext(ctx).Raw(
		`SELECT `+jobColumns+` FROM recompute_jobs WHERE id = ?`,
		id,
	).Scan(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == 0 {
		return nil, nil
	}
	return &job, nil
}

func (r *repo) FindPendingJob(ctx context.Context, db *gorm.DB, scenarioID string) (*domain.RecomputeJob, error) {
	var job domain.RecomputeJob
	err := db.WithContext(ctx).Raw(
		`SELECT `+jobColumns+`
		 FROM recompute_jobs
		 WHERE scenario_id = ? AND completed_at IS NULL
		 ORDER BY created_at ASC
		 LIMIT 1`,
		scenarioID,
	).Scan(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == 0 {
		return nil, nil
	}
	return &job, nil
}

func (r *repo) ListJobs(ctx context.Context, db *gorm.DB, scenarioID string, before *snowflake.ID, limit int) ([]domain.RecomputeJob, error) {
	if limit <= 0 {
		limit = 20
	}
	stmt := db.WithContext(ctx).
		Model(&domain.RecomputeJob{}).
		Where("scenario_id = ?", scenarioID)
	if before != nil && *before != 0 {
		stmt = stmt.Where("id < ?", *before)
	}
	var jobs []domain.RecomputeJob
	if err := stmt.Order("id DESC").Limit(limit).Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *repo) ClaimNextJob(ctx context.Context, db *gorm.DB, now time.Time) (*domain.RecomputeJob, error) {
	var candidate struct {
		ID snowflake.ID `gorm:"column:id"`
	}
	if err := db.WithContext(ctx).Raw(
		`SELECT id FROM recompute_jobs
		 WHERE status = ?
		 ORDER BY created_at ASC, id ASC
		 LIMIT 1`,
		domain.JobStatusQueued,
	).Scan(&candidate).Error; err != nil {
		return nil, err
	}
	if candidate.ID == 0 {
		return nil, nil
	}

	result := db.WithContext(ctx).Exec(
		`UPDATE recompute_jobs
		 SET status = ?, started_at = ?, attempts = attempts + 1, members_done = 0, members_failed = 0
		 WHERE id = ? AND status = ?`,
		domain.JobStatusRunning,
		now,
		candidate.ID,
		domain.JobStatusQueued,
	)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return r.FindJob(ctx, db, candidate.ID)
}

func (r *repo) SetMembersTotal(ctx context.Context, db *gorm.DB, id snowflake.ID, total int) error {
	return db.WithContext(ctx).Exec(
		`UPDATE recompute_jobs SET members_total = ? WHERE id = ?`,
		total,
		id,
	).Error
}

func (r *repo) MarkMemberDone(ctx context.Context, db *gorm.DB, id snowflake.ID, failed bool) error {
	if failed {
		return db.WithContext(ctx).Exec(
			`UPDATE recompute_jobs
			 SET members_done = members_done + 1, members_failed = members_failed + 1
			 WHERE id = ? AND status = ?`,
			id,
			domain.JobStatusRunning,
		).Error
	}
	return db.WithContext(ctx).Exec(
		`UPDATE recompute_jobs SET members_done = members_done + 1 WHERE id = ? AND status = ?`,
		id,
		domain.JobStatusRunning,
	).Error
}

func (r *repo) FinishJob(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.JobStatus, failures []byte, errSummary string, now time.Time) error {
	failuresValue := "[]"
	if len(failures) > 0 {
		failuresValue = string(failures)
	}
	return db.WithContext(ctx).Exec(
		`UPDATE recompute_jobs
		 SET status = ?, failures = ?, error = ?, completed_at = ?, pending_key = NULL
		 WHERE id = ?`,
		status,
		failuresValue,
		errSummary,
		now,
		id,
	).Error
}

func (r *repo) RequeueJob(ctx context.Context, db *gorm.DB, id snowflake.ID, errSummary string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE recompute_jobs
		 SET status = ?, error = ?, started_at = NULL, members_done = 0, members_failed = 0
		 WHERE id = ? AND status = ?`,
		domain.JobStatusQueued,
		errSummary,
		id,
		domain.JobStatusRunning,
	).Error
}

// ReleaseClaim hands a claimed job back without counting the attempt.
func (r *repo) ReleaseClaim(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE recompute_jobs
		 SET status = ?, started_at = NULL, attempts = attempts - 1
		 WHERE id = ? AND status = ?`,
		domain.JobStatusQueued,
		id,
		domain.JobStatusRunning,
	).Error
}

// RequeueStaleJobs returns running jobs started at or before cutoff to the
// queue. A worker that died mid-run leaves such jobs behind.
func (r *repo) RequeueStaleJobs(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE recompute_jobs
		 SET status = ?, started_at = NULL, members_done = 0, members_failed = 0, error = ?
		 WHERE status = ? AND started_at <= ?`,
		domain.JobStatusQueued,
		"worker_lost",
		domain.JobStatusRunning,
		cutoff,
	)
	return result.RowsAffected, result.Error
}
