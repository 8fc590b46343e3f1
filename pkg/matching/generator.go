package matching

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/embeddings"
	"github.com/Ramsey-B/fern/pkg/features"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Config tunes the matching strategies
type Config struct {
	SimilarityThreshold float64       // minimum cosine similarity for a semantic match
	FuzzyThreshold      float64       // minimum fuzzy score (0-100) for a fuzzy match
	ExactLimit          int           // result cap for exact lookups
	FuzzyLimit          int           // candidate pool cap for fuzzy comparison
	ClusteringLimit     int           // candidate pool cap for clustering
	ClusteringEps       float64       // DBSCAN neighborhood radius (cosine distance)
	ClusteringMinPoints int           // DBSCAN core point threshold
	StrategyTimeout     time.Duration // per-strategy deadline in hybrid mode
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		SimilarityThreshold: 0.85,
		FuzzyThreshold:      80,
		ExactLimit:          10,
		FuzzyLimit:          100,
		ClusteringLimit:     500,
		ClusteringEps:       0.3,
		ClusteringMinPoints: 2,
		StrategyTimeout:     5 * time.Second,
	}
}

// EntityStore is the entity lookup surface the strategies need
type EntityStore interface {
	FindExact(ctx context.Context, name string, entityType models.EntityType, tenantID, cellID string, limit int) ([]models.PersistedEntity, error)
	FindByType(ctx context.Context, entityType models.EntityType, tenantID, cellID string, limit int) ([]models.PersistedEntity, error)
}

// EmbeddingCache supplies the scoped entity embeddings for semantic matching
type EmbeddingCache interface {
	GetOrBuild(ctx context.Context, entityType models.EntityType, tenantID, cellID string) (*embeddings.CachedEmbeddings, error)
}

// Generator runs the individual match strategies for one candidate against the
// stored entities in a tenant/cell scope. Each strategy returns zero or more
// EntityMatch values; deduplication across strategies happens in the
// aggregator, not here.
type Generator struct {
	entities  EntityStore
	cache     EmbeddingCache
	encoder   embeddings.Encoder
	extractor *features.Extractor
	scorer    *Scorer
	logger    ectologger.Logger
	cfg       Config
}

// NewGenerator creates a new Generator
func NewGenerator(entities EntityStore, cache EmbeddingCache, encoder embeddings.Encoder, extractor *features.Extractor, logger ectologger.Logger, cfg Config) *Generator {
	return &Generator{
		entities:  entities,
		cache:     cache,
		encoder:   encoder,
		extractor: extractor,
		scorer:    NewScorer(),
		logger:    logger,
		cfg:       cfg,
	}
}

// Exact returns full-confidence matches for entities whose stored name, type,
// tenant and cell all equal the candidate's.
func (g *Generator) Exact(ctx context.Context, candidate *models.EntityCandidate, tenantID, cellID string) ([]models.EntityMatch, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Generator.Exact")
	defer span.End()

	entities, err := g.entities.FindExact(ctx, candidate.Name, candidate.EntityType, tenantID, cellID, g.cfg.ExactLimit)
	if err != nil {
		return nil, fmt.Errorf("exact match lookup failed: %w", err)
	}

	matches := make([]models.EntityMatch, 0, len(entities))
	for _, entity := range entities {
		matches = append(matches, models.EntityMatch{
			CandidateID:     candidate.ID,
			MatchedEntityID: entity.ID,
			ConfidenceScore: 1.0,
			Method:          models.MatchMethodExact,
			Details: map[string]any{
				"matched_name": entity.Name,
				"attributes":   entity.Attributes,
			},
		})
	}

	return matches, nil
}

// Fuzzy compares the candidate name against stored entities of the same type
// and returns matches whose fuzzy score clears the threshold. Scores are on a
// 0-100 scale; confidence is the score divided by 100.
func (g *Generator) Fuzzy(ctx context.Context, candidate *models.EntityCandidate, tenantID, cellID string) ([]models.EntityMatch, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Generator.Fuzzy")
	defer span.End()

	entities, err := g.entities.FindByType(ctx, candidate.EntityType, tenantID, cellID, g.cfg.FuzzyLimit)
	if err != nil {
		return nil, fmt.Errorf("fuzzy match lookup failed: %w", err)
	}

	candidateName := candidate.NormalizedName
	if candidateName == "" {
		candidateName = g.extractor.NormalizeName(candidate.Name)
	}

	var matches []models.EntityMatch
	for _, entity := range entities {
		entityName := g.extractor.NormalizeName(entity.Name)
		score := 100.0
		if g.scorer.ExactMatch(candidateName, entityName, true) == 0 {
			score = g.scorer.Ratio(candidateName, entityName)
		}
		if score < g.cfg.FuzzyThreshold {
			continue
		}

		matches = append(matches, models.EntityMatch{
			CandidateID:     candidate.ID,
			MatchedEntityID: entity.ID,
			ConfidenceScore: score / 100.0,
			Method:          models.MatchMethodFuzzy,
			Details: map[string]any{
				"matched_name": entity.Name,
				"fuzzy_score":  score,
				"jaro_winkler": g.scorer.JaroWinkler(candidateName, entityName),
				"attributes":   entity.Attributes,
			},
		})
	}

	return matches, nil
}

// Semantic matches the candidate's embedding against the cached embeddings of
// stored entities in scope. The candidate is embedded on demand when it does
// not already carry a vector.
func (g *Generator) Semantic(ctx context.Context, candidate *models.EntityCandidate, tenantID, cellID string) ([]models.EntityMatch, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Generator.Semantic")
	defer span.End()

	if len(candidate.Embedding) == 0 {
		vector, err := g.embedCandidate(ctx, candidate)
		if err != nil {
			return nil, err
		}
		candidate.Embedding = vector
	}

	cached, err := g.cache.GetOrBuild(ctx, candidate.EntityType, tenantID, cellID)
	if err != nil {
		return nil, fmt.Errorf("failed to load scoped embeddings: %w", err)
	}

	var matches []models.EntityMatch
	for i, entity := range cached.Entities {
		if i >= len(cached.Embeddings) {
			break
		}
		similarity := CosineSimilarity(candidate.Embedding, cached.Embeddings[i])
		if similarity < g.cfg.SimilarityThreshold {
			continue
		}

		matches = append(matches, models.EntityMatch{
			CandidateID:     candidate.ID,
			MatchedEntityID: entity.ID,
			ConfidenceScore: similarity,
			Method:          models.MatchMethodSemantic,
			Details: map[string]any{
				"matched_name":        entity.Name,
				"semantic_similarity": similarity,
				"attributes":          entity.Attributes,
			},
		})
	}

	return matches, nil
}

// Clustering runs a density pass over the feature vectors of stored entities
// plus the candidate, and matches the candidate to every stored entity that
// lands in its cluster. Confidence grows with cluster size, capped at 0.9 so
// clustering alone never outranks a direct match.
func (g *Generator) Clustering(ctx context.Context, candidate *models.EntityCandidate, tenantID, cellID string) ([]models.EntityMatch, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Generator.Clustering")
	defer span.End()

	entities, err := g.entities.FindByType(ctx, candidate.EntityType, tenantID, cellID, g.cfg.ClusteringLimit)
	if err != nil {
		return nil, fmt.Errorf("clustering lookup failed: %w", err)
	}

	// too sparse to form meaningful density clusters
	if len(entities) < 3 {
		return nil, nil
	}

	points := make([][]float64, 0, len(entities)+1)
	for _, entity := range entities {
		points = append(points, g.extractor.Vector(entity.Name, entity.Attributes))
	}
	// candidate goes last so its label is the final one
	points = append(points, g.extractor.Vector(candidate.Name, candidate.Attributes))

	labels := dbscan(points, g.cfg.ClusteringEps, g.cfg.ClusteringMinPoints)

	candidateCluster := labels[len(labels)-1]
	if candidateCluster == noiseLabel {
		return nil, nil
	}

	clusterSize := 0
	for _, label := range labels {
		if label == candidateCluster {
			clusterSize++
		}
	}
	confidence := 0.5 + float64(clusterSize-2)*0.1
	if confidence > 0.9 {
		confidence = 0.9
	}

	var matches []models.EntityMatch
	for i, entity := range entities {
		if labels[i] != candidateCluster {
			continue
		}
		matches = append(matches, models.EntityMatch{
			CandidateID:     candidate.ID,
			MatchedEntityID: entity.ID,
			ConfidenceScore: confidence,
			Method:          models.MatchMethodClustering,
			Details: map[string]any{
				"matched_name": entity.Name,
				"cluster_id":   candidateCluster,
				"cluster_size": clusterSize,
				"attributes":   entity.Attributes,
			},
		})
	}

	return matches, nil
}

func (g *Generator) embedCandidate(ctx context.Context, candidate *models.EntityCandidate) ([]float32, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Generator.embedCandidate")
	defer span.End()

	text := g.extractor.EmbeddingText(candidate.Name, candidate.Attributes)
	vectors, err := g.encoder.Encode(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("failed to embed candidate: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embedding provider returned no vector for candidate")
	}
	return vectors[0], nil
}
