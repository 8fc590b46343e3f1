package matching

import (
	"context"
	"fmt"
	"sync"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

type strategyFunc func(ctx context.Context, candidate *models.EntityCandidate, tenantID, cellID string) ([]models.EntityMatch, error)

// Engine dispatches a candidate to the requested match strategy and returns
// the aggregated matches, highest confidence first.
type Engine struct {
	generator *Generator
	logger    ectologger.Logger
	cfg       Config
}

// NewEngine creates a new Engine
func NewEngine(generator *Generator, logger ectologger.Logger, cfg Config) *Engine {
	return &Engine{
		generator: generator,
		logger:    logger,
		cfg:       cfg,
	}
}

// FindMatches runs the strategy named by method. Hybrid fans out to exact,
// fuzzy and semantic concurrently, each under its own deadline; a strategy
// that errors contributes nothing, and the call fails only when every
// strategy does. Single-strategy calls surface their failure directly.
func (e *Engine) FindMatches(ctx context.Context, candidate *models.EntityCandidate, tenantID, cellID string, method models.MatchMethod) ([]models.EntityMatch, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Engine.FindMatches")
	defer span.End()

	switch method {
	case models.MatchMethodExact:
		return e.runSingle(ctx, candidate, tenantID, cellID, e.generator.Exact)
	case models.MatchMethodFuzzy:
		return e.runSingle(ctx, candidate, tenantID, cellID, e.generator.Fuzzy)
	case models.MatchMethodSemantic:
		return e.runSingle(ctx, candidate, tenantID, cellID, e.generator.Semantic)
	case models.MatchMethodClustering:
		return e.runSingle(ctx, candidate, tenantID, cellID, e.generator.Clustering)
	case models.MatchMethodHybrid:
		return e.runHybrid(ctx, candidate, tenantID, cellID)
	default:
		return nil, fmt.Errorf("%w: unrecognized match method %q", models.ErrInvalidObservation, method)
	}
}

func (e *Engine) runSingle(ctx context.Context, candidate *models.EntityCandidate, tenantID, cellID string, strategy strategyFunc) ([]models.EntityMatch, error) {
	matches, err := strategy(ctx, candidate, tenantID, cellID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrDependencyUnavailable, err)
	}
	return Aggregate(matches), nil
}

func (e *Engine) runHybrid(ctx context.Context, candidate *models.EntityCandidate, tenantID, cellID string) ([]models.EntityMatch, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Engine.runHybrid")
	defer span.End()

	strategies := []struct {
		method models.MatchMethod
		run    strategyFunc
	}{
		{models.MatchMethodExact, e.generator.Exact},
		{models.MatchMethodFuzzy, e.generator.Fuzzy},
		{models.MatchMethodSemantic, e.generator.Semantic},
	}

	type result struct {
		method  models.MatchMethod
		matches []models.EntityMatch
		err     error
	}

	results := make(chan result, len(strategies))
	var wg sync.WaitGroup

	for _, s := range strategies {
		wg.Add(1)
		go func(method models.MatchMethod, run strategyFunc) {
			defer wg.Done()

			strategyCtx := ctx
			var cancel context.CancelFunc
			if e.cfg.StrategyTimeout > 0 {
				strategyCtx, cancel = context.WithTimeout(ctx, e.cfg.StrategyTimeout)
				defer cancel()
			}

			// semantic mutates the candidate embedding; give each
			// strategy its own copy so the fan-out stays race free
			c := *candidate
			matches, err := run(strategyCtx, &c, tenantID, cellID)
			results <- result{method: method, matches: matches, err: err}
		}(s.method, s.run)
	}

	wg.Wait()
	close(results)

	var all []models.EntityMatch
	failures := 0
	for r := range results {
		if r.err != nil {
			failures++
			e.logger.WithContext(ctx).WithError(r.err).WithFields(map[string]any{
				"method":    r.method,
				"tenant_id": tenantID,
				"cell_id":   cellID,
			}).Warn("match strategy failed")
			continue
		}
		all = append(all, r.matches...)
	}

	if failures == len(strategies) {
		return nil, fmt.Errorf("%w: all match strategies failed", models.ErrDependencyUnavailable)
	}

	return Aggregate(all), nil
}
