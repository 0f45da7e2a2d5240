package seed

import (
	"context"
	"testing"

	consortiumdomain "github.com/smallbiznis/bigdeal/internal/consortium/domain"
	"github.com/smallbiznis/bigdeal/internal/journalmeta"
	"github.com/smallbiznis/bigdeal/pkg/db"
	"github.com/stretchr/testify/require"
)

func TestEnsureDemoConsortiumIsIdempotent(t *testing.T) {
	conn := db.NewTest(t,
		&consortiumdomain.Institution{},
		&consortiumdomain.AccountPackage{},
		&consortiumdomain.ConsortiumMember{},
		&consortiumdomain.InstitutionTag{},
		&consortiumdomain.PackageScenario{},
		&journalmeta.Metadata{},
	)
	ctx := context.Background()
	require.NoError(t, EnsureDemoConsortium(ctx, conn))
	require.NoError(t, EnsureDemoConsortium(ctx, conn))

	var members int64
	require.NoError(t, conn.Model(&consortiumdomain.ConsortiumMember{}).
		Where("consortium_package_id = ?", demoConsortiumPackageID).
		Count(&members).Error)
	require.EqualValues(t, len(demoMembers), members)

	var scenario consortiumdomain.PackageScenario
	require.NoError(t, conn.First(&scenario, "scenario_id = ?", DemoScenarioID).Error)
	require.Equal(t, demoConsortiumPackageID, scenario.PackageID)

	var journals int64
	require.NoError(t, conn.Model(&journalmeta.Metadata{}).Count(&journals).Error)
	require.EqualValues(t, len(demoJournals), journals)
}

func TestEnsureDemoConsortiumRequiresHandles(t *testing.T) {
	require.Error(t, EnsureDemoConsortium(context.Background(), nil))
}
