package domain

import (
	computeddomain "github.com/smallbiznis/bigdeal/internal/computed/domain"
	"github.com/smallbiznis/bigdeal/pkg/db/pagination"
)

type EnqueueRequest struct {
	ScenarioID string `json:"-"`
	Email      string `json:"email" validate:"omitempty,email,max=320"`
}

// Status is what a dashboard shows while a recompute is pending. Readers keep
// seeing the previous generation until the job finishes.
type Status struct {
	Locked          bool     `json:"is_locked_pending_update"`
	PercentComplete *float64 `json:"update_percent_complete"`
	NotifyEmail     *string  `json:"update_notification_email"`
}

type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomePartial   Outcome = "partial"
	OutcomeFailed    Outcome = "failed"
	OutcomeRequeued  Outcome = "requeued"
)

// RunResult reports one recompute run. Failures name every member whose
// prior records were kept.
type RunResult struct {
	ScenarioID     string                         `json:"scenario_id"`
	Outcome        Outcome                        `json:"outcome"`
	MembersTotal   int                            `json:"members_total"`
	MembersFailed  int                            `json:"members_failed"`
	RecordsWritten int                            `json:"records_written"`
	RowsSkipped    int                            `json:"rows_skipped"`
	Failures       []computeddomain.MemberFailure `json:"failures"`
}

type ListJobsRequest struct {
	ScenarioID string
	pagination.Pagination
}

type ListJobsResponse struct {
	Jobs     []computeddomain.RecomputeJob `json:"jobs"`
	PageInfo pagination.PageInfo           `json:"page_info"`
}

type CopyRequest struct {
	SourceScenarioID string `json:"source_scenario_id"`
	TargetScenarioID string `json:"target_scenario_id"`
}

type CopyResult struct {
	ScenarioID string `json:"scenario_id"`
	Records    int64  `json:"records"`
}
