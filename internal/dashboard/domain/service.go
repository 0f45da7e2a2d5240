package domain

import (
	"context"

	recomputedomain "github.com/smallbiznis/bigdeal/internal/recompute/domain"
)

// Service builds the read-only views of a consortium scenario. Views never
// wait for a pending recompute; they show the current generation together
// with the lock state.
type Service interface {
	// RankedJournals ranks the scenario over included, or over the saved
	// inclusion set when included is nil.
	RankedJournals(ctx context.Context, scenarioID string, included []string) (RankedJournals, error)
	Summary(ctx context.Context, scenarioID string) (Summary, error)
	ApcRollup(ctx context.Context, scenarioID string) (ApcRollup, error)
	Institutions(ctx context.Context, scenarioID string) ([]Institution, error)
	JournalZoom(ctx context.Context, scenarioID, issnL string) (JournalZoom, error)
	// JournalsByInstitution exports the records of memberIDs, or of every
	// included member when memberIDs is empty.
	JournalsByInstitution(ctx context.Context, scenarioID string, memberIDs []string) ([]InstitutionJournal, error)
	RecomputeStatus(ctx context.Context, scenarioID string) (recomputedomain.Status, error)
}
