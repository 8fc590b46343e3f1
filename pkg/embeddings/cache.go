package embeddings

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/features"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// CacheStore is the best-effort external cache contract. Get returns nil on a
// missing key. The engine tolerates unavailability in both directions.
type CacheStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, expiration time.Duration) error
}

// EntitySource supplies the entities that get embedded on a cache miss
type EntitySource interface {
	FindByType(ctx context.Context, entityType models.EntityType, tenantID, cellID string, limit int) ([]models.PersistedEntity, error)
}

// EntityRef is the slim entity view stored beside each cached vector
type EntityRef struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// CachedEmbeddings pairs entities with their vectors, index-aligned
type CachedEmbeddings struct {
	Entities   []EntityRef `json:"entities"`
	Embeddings [][]float32 `json:"embeddings"`
}

// CacheConfig bounds the cache build
type CacheConfig struct {
	TTL         time.Duration // expiry for cached vectors (default 1h)
	MaxEntities int           // entity cap per build, bounds memory and provider load (default 1000)
}

// DefaultCacheConfig returns the defaults used in production
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL:         time.Hour,
		MaxEntities: 1000,
	}
}

// Cache retrieves or builds per-tenant, per-type embedding vectors for stored
// entities. Entries are keyed by (entity_type, tenant_id, cell_id) and expire
// on TTL only; entity writes do not invalidate them. Staleness up to the TTL
// is an accepted tradeoff for provider call volume.
//
// The get-or-build path is deliberately unsynchronized across callers:
// concurrent misses on one key recompute the same vectors, which costs
// provider calls but never correctness.
type Cache struct {
	store     CacheStore
	encoder   Encoder
	entities  EntitySource
	extractor *features.Extractor
	logger    ectologger.Logger
	cfg       CacheConfig
}

// NewCache creates a new embedding cache
func NewCache(store CacheStore, encoder Encoder, entities EntitySource, logger ectologger.Logger, cfg CacheConfig) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if cfg.MaxEntities <= 0 {
		cfg.MaxEntities = 1000
	}
	return &Cache{
		store:     store,
		encoder:   encoder,
		entities:  entities,
		extractor: features.New(),
		logger:    logger,
		cfg:       cfg,
	}
}

// GetOrBuild returns the cached vectors for the scope, building and storing
// them on a miss. Cache store failures are non-fatal: a failed read falls
// through to a build, and a failed write still returns the built result.
func (c *Cache) GetOrBuild(ctx context.Context, entityType models.EntityType, tenantID, cellID string) (*CachedEmbeddings, error) {
	ctx, span := tracing.StartSpan(ctx, "embeddings.Cache.GetOrBuild")
	defer span.End()

	key := cacheKey(entityType, tenantID, cellID)
	log := c.logger.WithContext(ctx).WithFields(map[string]any{
		"entity_type": entityType,
		"tenant_id":   tenantID,
		"cell_id":     cellID,
	})

	data, err := c.store.Get(ctx, key)
	if err != nil {
		log.WithError(err).Warn("Failed to read cached embeddings; rebuilding")
	} else if data != nil {
		var cached CachedEmbeddings
		if err := json.Unmarshal(data, &cached); err != nil {
			log.WithError(err).Warn("Cached embeddings record is malformed; rebuilding")
		} else {
			return &cached, nil
		}
	}

	return c.build(ctx, key, entityType, tenantID, cellID, log)
}

func (c *Cache) build(ctx context.Context, key string, entityType models.EntityType, tenantID, cellID string, log ectologger.Logger) (*CachedEmbeddings, error) {
	ctx, span := tracing.StartSpan(ctx, "embeddings.Cache.build")
	defer span.End()

	entities, err := c.entities.FindByType(ctx, entityType, tenantID, cellID, c.cfg.MaxEntities)
	if err != nil {
		return nil, fmt.Errorf("failed to load entities for embedding: %w", err)
	}

	result := &CachedEmbeddings{
		Entities:   make([]EntityRef, 0, len(entities)),
		Embeddings: make([][]float32, 0, len(entities)),
	}
	if len(entities) == 0 {
		return result, nil
	}

	texts := make([]string, len(entities))
	for i, entity := range entities {
		result.Entities = append(result.Entities, EntityRef{
			ID:         entity.ID,
			Name:       entity.Name,
			Attributes: entity.Attributes,
		})
		texts[i] = c.extractor.EmbeddingText(entity.Name, entity.Attributes)
	}

	vectors, err := c.encoder.Encode(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to encode entity texts: %w", err)
	}
	result.Embeddings = vectors

	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embeddings cache record: %w", err)
	}
	if err := c.store.Set(ctx, key, data, c.cfg.TTL); err != nil {
		log.WithError(err).Warn("Failed to write embeddings cache; continuing uncached")
	}

	log.WithFields(map[string]any{"entity_count": len(entities)}).Debug("Built embeddings for scope")
	return result, nil
}

func cacheKey(entityType models.EntityType, tenantID, cellID string) string {
	return fmt.Sprintf("embeddings:%s:%s:%s", entityType, tenantID, cellID)
}
