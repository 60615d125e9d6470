package signals

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/astrokiran/guiderank/internal/ranking"
)

// overlayFetcher is satisfied by PostgresSource.
type overlayFetcher interface {
	fetchOverlay(ctx context.Context, req Request) (map[int64]relationalOverlay, error)
}

// HybridSource reads aggregates from the graph and overlays repeat-funnel
// counts, activity days and account age from the relational store.
// Guides missing from the relational side are dropped.
type HybridSource struct {
	graph      Source
	relational overlayFetcher
	logger     *slog.Logger
}

// NewHybridSource creates a new HybridSource.
func NewHybridSource(graph *GraphSource, relational *PostgresSource, logger *slog.Logger) *HybridSource {
	return newHybridSource(graph, relational, logger)
}

func newHybridSource(graph Source, relational overlayFetcher, logger *slog.Logger) *HybridSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &HybridSource{graph: graph, relational: relational, logger: logger}
}

// Name returns "hybrid".
func (s *HybridSource) Name() string { return "hybrid" }

// FetchAggregates queries both stores concurrently and merges the results.
func (s *HybridSource) FetchAggregates(ctx context.Context, req Request) ([]ranking.GuideAggregate, error) {
	var (
		graphAggs []ranking.GuideAggregate
		overlay   map[int64]relationalOverlay
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		graphAggs, err = s.graph.FetchAggregates(gctx, req)
		return err
	})
	g.Go(func() error {
		var err error
		overlay, err = s.relational.fetchOverlay(gctx, req)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make([]ranking.GuideAggregate, 0, len(graphAggs))
	dropped := 0
	for _, a := range graphAggs {
		o, ok := overlay[a.GuideID]
		if !ok {
			dropped++
			continue
		}
		a.RepeatCustomers = o.RepeatCustomers
		a.TotalCustomers = o.TotalCustomers
		a.DaysActive30d = o.DaysActive30d
		a.MonthsOnPlatform = o.MonthsOnPlatform
		merged = append(merged, a)
	}
	if dropped > 0 {
		s.logger.Warn("guides missing from relational store dropped",
			"dropped", dropped,
			"kept", len(merged))
	}
	return merged, nil
}
