package resolution

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/embeddings"
	"github.com/Ramsey-B/fern/pkg/features"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	// alternatives returned beside a matched outcome; the winner is not
	// repeated so one fewer slot than the miss case
	maxAlternativesOnMatch = 4
	// alternatives returned when nothing cleared the threshold
	maxAlternativesOnMiss = 5
)

// EntityStore is the persistence surface the decision engine needs
type EntityStore interface {
	FindExact(ctx context.Context, name string, entityType models.EntityType, tenantID, cellID string, limit int) ([]models.PersistedEntity, error)
	Get(ctx context.Context, id, tenantID, cellID string) (*models.PersistedEntity, error)
	Create(ctx context.Context, name string, entityType models.EntityType, attributes map[string]any, tenantID, cellID string) (*models.PersistedEntity, error)
	UpdateAttributes(ctx context.Context, id string, attributes map[string]any, tenantID, cellID string) (*models.PersistedEntity, error)
}

// Matcher runs the match strategies for one candidate
type Matcher interface {
	FindMatches(ctx context.Context, candidate *models.EntityCandidate, tenantID, cellID string, method models.MatchMethod) ([]models.EntityMatch, error)
}

// EventEmitter publishes entity lifecycle events. Emission is best effort;
// failures are logged and never affect the resolution outcome.
type EventEmitter interface {
	EntityCreated(ctx context.Context, entity *models.PersistedEntity) error
	EntityMatched(ctx context.Context, entity *models.PersistedEntity, match models.EntityMatch) error
}

// Config tunes the decision engine
type Config struct {
	// MatchThreshold is the minimum best-match confidence required to merge
	// into an existing entity instead of creating a new one
	MatchThreshold float64
	// BatchConcurrency bounds how many batch items resolve at once
	BatchConcurrency int
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		MatchThreshold:   0.85,
		BatchConcurrency: 4,
	}
}

// Options control a single resolution request
type Options struct {
	// Method selects the match strategy. Defaults to hybrid when empty.
	Method models.MatchMethod
	// CreateIfNotFound creates a new entity when no match clears the
	// threshold. When false the engine reports no_match instead.
	CreateIfNotFound bool
}

// Service is the resolution facade: it validates an observation, runs the
// match strategies, and decides between merging into an existing entity,
// creating a new one, or reporting no match.
//
// Expected conditions never surface as errors. The error return is reserved
// for invalid input; infrastructure failures are folded into an outcome with
// the error action so batch callers can keep going.
type Service struct {
	entities  EntityStore
	matcher   Matcher
	encoder   embeddings.Encoder
	extractor *features.Extractor
	emitter   EventEmitter
	logger    ectologger.Logger
	cfg       Config
}

// NewService creates a new Service. The emitter may be nil when lifecycle
// events are not wired.
func NewService(entities EntityStore, matcher Matcher, encoder embeddings.Encoder, extractor *features.Extractor, emitter EventEmitter, logger ectologger.Logger, cfg Config) *Service {
	if cfg.MatchThreshold <= 0 {
		cfg.MatchThreshold = 0.85
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = 4
	}
	return &Service{
		entities:  entities,
		matcher:   matcher,
		encoder:   encoder,
		extractor: extractor,
		emitter:   emitter,
		logger:    logger,
		cfg:       cfg,
	}
}

// Resolve runs one observation through the full pipeline within the given
// tenant/cell scope.
func (s *Service) Resolve(ctx context.Context, obs *models.EntityObservation, tenantID, cellID string, opts Options) (*models.ResolutionOutcome, error) {
	ctx, span := tracing.StartSpan(ctx, "resolution.Service.Resolve")
	defer span.End()

	method := opts.Method
	if method == "" {
		method = models.MatchMethodHybrid
	}
	if !method.IsValid() {
		return nil, fmt.Errorf("%w: unrecognized match method %q", models.ErrInvalidObservation, method)
	}

	fs, err := s.extractor.Extract(obs)
	if err != nil {
		return nil, err
	}

	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"name":        obs.Name,
		"entity_type": obs.EntityType,
		"method":      method,
		"tenant_id":   tenantID,
		"cell_id":     cellID,
	})
	log.Info("resolving entity")

	candidate := s.buildCandidate(ctx, obs, fs, method, log)

	matches, err := s.matcher.FindMatches(ctx, candidate, tenantID, cellID, method)
	if err != nil {
		if errors.Is(err, models.ErrInvalidObservation) {
			return nil, err
		}
		log.WithError(err).Error("match strategies failed")
		return errorOutcome(err), nil
	}

	if len(matches) > 0 && matches[0].ConfidenceScore >= s.cfg.MatchThreshold {
		return s.resolveMatched(ctx, obs, matches, tenantID, cellID, log)
	}

	if opts.CreateIfNotFound {
		return s.resolveCreate(ctx, obs, matches, tenantID, cellID, log)
	}

	log.Info("no match above threshold")
	return &models.ResolutionOutcome{
		Action:       models.ResolutionActionNoMatch,
		Alternatives: capAlternatives(matches, maxAlternativesOnMiss),
	}, nil
}

// ResolveBatch resolves a batch of observations with bounded concurrency and
// returns one outcome per observation, in input order. A failing item never
// stops its siblings; invalid observations yield an error outcome.
func (s *Service) ResolveBatch(ctx context.Context, observations []models.EntityObservation, tenantID, cellID string, opts Options) []*models.ResolutionOutcome {
	ctx, span := tracing.StartSpan(ctx, "resolution.Service.ResolveBatch")
	defer span.End()

	outcomes := make([]*models.ResolutionOutcome, len(observations))
	sem := make(chan struct{}, s.cfg.BatchConcurrency)
	var wg sync.WaitGroup

	for i := range observations {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			outcome, err := s.Resolve(ctx, &observations[i], tenantID, cellID, opts)
			if err != nil {
				outcome = errorOutcome(err)
			}
			outcomes[i] = outcome
		}(i)
	}

	wg.Wait()
	return outcomes
}

// buildCandidate wraps the observation with a request-scoped id and, for the
// semantic and hybrid strategies, its embedding. Embedding failure is not
// fatal here: the semantic strategy retries on demand and the other
// strategies do not need a vector.
func (s *Service) buildCandidate(ctx context.Context, obs *models.EntityObservation, fs *features.FeatureSet, method models.MatchMethod, log ectologger.Logger) *models.EntityCandidate {
	confidence := obs.SourceConfidence
	if confidence == 0 {
		confidence = 1.0
	}

	candidate := &models.EntityCandidate{
		ID:               uuid.NewString(),
		Name:             obs.Name,
		NormalizedName:   fs.NormalizedName,
		EntityType:       obs.EntityType,
		Attributes:       obs.Attributes,
		SourceConfidence: confidence,
	}

	if method == models.MatchMethodSemantic || method == models.MatchMethodHybrid {
		text := s.extractor.EmbeddingText(obs.Name, obs.Attributes)
		vectors, err := s.encoder.Encode(ctx, []string{text})
		if err != nil || len(vectors) == 0 {
			log.WithError(err).Warn("failed to embed candidate up front")
		} else {
			candidate.Embedding = vectors[0]
		}
	}

	return candidate
}

func (s *Service) resolveMatched(ctx context.Context, obs *models.EntityObservation, matches []models.EntityMatch, tenantID, cellID string, log ectologger.Logger) (*models.ResolutionOutcome, error) {
	best := matches[0]

	entity, err := s.mergeInto(ctx, best.MatchedEntityID, obs, tenantID, cellID)
	if err != nil {
		log.WithError(err).Error("failed to merge observation into matched entity")
		return errorOutcome(err), nil
	}

	log.WithFields(map[string]any{
		"entity_id":        entity.ID,
		"match_confidence": best.ConfidenceScore,
		"match_method":     best.Method,
	}).Info("observation matched existing entity")

	s.emitMatched(ctx, entity, best, log)

	return &models.ResolutionOutcome{
		Action:          models.ResolutionActionMatched,
		Entity:          entity,
		MatchConfidence: best.ConfidenceScore,
		MatchMethod:     best.Method,
		Alternatives:    capAlternatives(matches[1:], maxAlternativesOnMatch),
	}, nil
}

func (s *Service) resolveCreate(ctx context.Context, obs *models.EntityObservation, matches []models.EntityMatch, tenantID, cellID string, log ectologger.Logger) (*models.ResolutionOutcome, error) {
	entity, err := s.entities.Create(ctx, obs.Name, obs.EntityType, obs.Attributes, tenantID, cellID)
	if err == nil {
		log.WithField("entity_id", entity.ID).Info("created new entity")
		s.emitCreated(ctx, entity, log)

		return &models.ResolutionOutcome{
			Action:          models.ResolutionActionCreated,
			Entity:          entity,
			MatchConfidence: 1.0,
			Alternatives:    capAlternatives(matches, maxAlternativesOnMiss),
		}, nil
	}

	if !errors.Is(err, models.ErrEntityConflict) {
		log.WithError(err).Error("failed to create entity")
		return errorOutcome(err), nil
	}

	// lost a create race: another request persisted the same identity
	// between our match pass and the write. Adopt the winner.
	log.Info("create conflicted with concurrent insert, adopting existing entity")

	existing, lookupErr := s.entities.FindExact(ctx, obs.Name, obs.EntityType, tenantID, cellID, 1)
	if lookupErr != nil || len(existing) == 0 {
		if lookupErr == nil {
			lookupErr = fmt.Errorf("conflicting entity not found after create conflict")
		}
		log.WithError(lookupErr).Error("failed to recover from create conflict")
		return errorOutcome(lookupErr), nil
	}

	winner := existing[0]
	entity, err = s.mergeInto(ctx, winner.ID, obs, tenantID, cellID)
	if err != nil {
		log.WithError(err).Error("failed to merge into conflicting entity")
		return errorOutcome(err), nil
	}

	match := models.EntityMatch{
		MatchedEntityID: entity.ID,
		ConfidenceScore: 1.0,
		Method:          models.MatchMethodExact,
		Details:         map[string]any{"matched_name": entity.Name},
	}
	s.emitMatched(ctx, entity, match, log)

	return &models.ResolutionOutcome{
		Action:          models.ResolutionActionMatched,
		Entity:          entity,
		MatchConfidence: 1.0,
		MatchMethod:     models.MatchMethodExact,
		Alternatives:    capAlternatives(matches, maxAlternativesOnMatch),
	}, nil
}

// mergeInto applies the attribute merge policy to the target entity and
// persists the result when it changed anything.
func (s *Service) mergeInto(ctx context.Context, entityID string, obs *models.EntityObservation, tenantID, cellID string) (*models.PersistedEntity, error) {
	ctx, span := tracing.StartSpan(ctx, "resolution.Service.mergeInto")
	defer span.End()

	entity, err := s.entities.Get(ctx, entityID, tenantID, cellID)
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, fmt.Errorf("%w: entity %s", models.ErrEntityNotFound, entityID)
	}

	merged, changed := MergeAttributes(entity.Attributes, obs.Attributes)
	if !changed {
		return entity, nil
	}

	return s.entities.UpdateAttributes(ctx, entityID, merged, tenantID, cellID)
}

func (s *Service) emitCreated(ctx context.Context, entity *models.PersistedEntity, log ectologger.Logger) {
	if s.emitter == nil {
		return
	}
	if err := s.emitter.EntityCreated(ctx, entity); err != nil {
		log.WithError(err).Warn("failed to publish entity created event")
	}
}

func (s *Service) emitMatched(ctx context.Context, entity *models.PersistedEntity, match models.EntityMatch, log ectologger.Logger) {
	if s.emitter == nil {
		return
	}
	if err := s.emitter.EntityMatched(ctx, entity, match); err != nil {
		log.WithError(err).Warn("failed to publish entity matched event")
	}
}

func errorOutcome(err error) *models.ResolutionOutcome {
	return &models.ResolutionOutcome{
		Action: models.ResolutionActionError,
		Error:  err.Error(),
	}
}

func capAlternatives(matches []models.EntityMatch, limit int) []models.EntityMatch {
	if len(matches) == 0 {
		return nil
	}
	if len(matches) > limit {
		matches = matches[:limit]
	}
	out := make([]models.EntityMatch, len(matches))
	copy(out, matches)
	return out
}
