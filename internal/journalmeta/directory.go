package journalmeta

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/smallbiznis/bigdeal/internal/cache"
	computeddomain "github.com/smallbiznis/bigdeal/internal/computed/domain"
	"github.com/smallbiznis/bigdeal/internal/config"
	"github.com/smallbiznis/bigdeal/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("journalmeta",
	fx.Provide(provideReporter),
	fx.Provide(New),
	fx.Invoke(startReporter),
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Cache    *cache.Store     `optional:"true"`
	Reporter *Reporter        `optional:"true"`
	Metrics  *metrics.Metrics `optional:"true"`
}

// Directory looks journals up in the catalog loaded from journal_metadata.
type Directory struct {
	db       *gorm.DB
	log      *zap.Logger
	cache    *cache.Store
	reporter *Reporter
	metrics  *metrics.Metrics
}

func New(p Params) *Directory {
	return &Directory{
		db:       p.DB,
		log:      p.Log.Named("journalmeta.directory"),
		cache:    p.Cache,
		reporter: p.Reporter,
		metrics:  p.Metrics,
	}
}

// Catalog loads the whole catalog once per process generation.
func (d *Directory) Catalog(ctx context.Context, scope *cache.Scope) (Catalog, error) {
	return cache.Load(ctx, scope, cache.GlobalKey(cache.EntityJournalMetadata), func(ctx context.Context) (Catalog, error) {
		var rows []Metadata
		if err := d.db.WithContext(ctx).Order("issn_l ASC").Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("%w: %w", computeddomain.ErrStorageUnavailable, err)
		}
		d.log.Info("journal catalog loaded", zap.Int("journals", len(rows)))
		return buildCatalog(rows), nil
	})
}

// Lookup resolves issn. An unknown identifier yields the placeholder and is
// reported to the registry; it is never an error.
func (d *Directory) Lookup(ctx context.Context, scope *cache.Scope, issn string) (Journal, error) {
	catalog, err := d.Catalog(ctx, scope)
	if err != nil {
		return Journal{}, err
	}
	return d.resolve(ctx, catalog, issn), nil
}

// LookupMany resolves a batch against one catalog load.
func (d *Directory) LookupMany(ctx context.Context, scope *cache.Scope, issns []string) (map[string]Journal, error) {
	catalog, err := d.Catalog(ctx, scope)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Journal, len(issns))
	for _, issn := range issns {
		out[issn] = d.resolve(ctx, catalog, issn)
	}
	return out, nil
}

// Reload drops the cached catalog in every process.
func (d *Directory) Reload(ctx context.Context) {
	d.cache.InvalidateGlobal(ctx, cache.TriggerMetadataReloaded)
}

func (d *Directory) resolve(ctx context.Context, catalog Catalog, issn string) Journal {
	if j, ok := catalog[strings.ToUpper(strings.TrimSpace(issn))]; ok {
		return j
	}
	d.metrics.RecordUnknownJournal(ctx)
	d.reporter.Report(issn)
	return Placeholder(issn)
}

func provideReporter(cfg config.Config, m *metrics.Metrics, log *zap.Logger) *Reporter {
	return NewReporter(cfg.JournalRegistryURL, cfg.RegistryReportRate, &http.Client{}, m, log)
}

func startReporter(lc fx.Lifecycle, r *Reporter) {
	if r == nil {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())
			go r.Run(ctx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})
			return nil
		},
	})
}
