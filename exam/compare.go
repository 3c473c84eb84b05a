package exam

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"exambuilder-server/models"
)

// DefaultCompareWorkers bounds concurrent selections in CompareSeeds.
const DefaultCompareWorkers = 4

// CompareSeeds runs one selection per seed on the same pool and reports how the
// outcomes differ. Outcomes are in seed order. Nothing is stored.
func CompareSeeds(ctx context.Context, pool []*models.Question, base SelectionConfig, seeds []int64, workers int, opts ...Option) (models.CompareResponse, error) {
	if workers <= 0 {
		workers = DefaultCompareWorkers
	}
	outcomes := make([]models.SeedOutcome, len(seeds))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, seed := range seeds {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			cfg := base
			cfg.Seed = seed
			result, err := Select(pool, cfg, opts...)
			if err != nil {
				return fmt.Errorf("seed %d: %w", seed, err)
			}
			outcomes[i] = models.SeedOutcome{
				Seed:            seed,
				TotalMarks:      result.TotalMarks(),
				Deviation:       result.Deviation(),
				WithinTolerance: result.WithinTolerance(),
				QuestionCount:   result.QuestionCount(),
				CoveredTopics:   result.CoveredTopics(),
				Fingerprint:     Fingerprint(result),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return models.CompareResponse{}, err
	}

	resp := models.CompareResponse{Outcomes: outcomes}
	distinct := make(map[string]bool, len(outcomes))
	for _, o := range outcomes {
		distinct[o.Fingerprint] = true
		if o.WithinTolerance {
			resp.WithinTolerance++
		}
	}
	resp.DistinctSelections = len(distinct)
	return resp, nil
}

// ComparePaperSeeds is CompareSeeds for an API request.
func ComparePaperSeeds(ctx context.Context, store PaperStore, req models.CompareRequest, workers int, o BuildOptions) (models.CompareResponse, error) {
	pool, cfg, err := loadAndConfigure(ctx, store, req.PaperRequest, DefaultSeed, o)
	if err != nil {
		return models.CompareResponse{}, err
	}
	return CompareSeeds(ctx, pool, cfg, req.Seeds, workers, o.engineOptions()...)
}
