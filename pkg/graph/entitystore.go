package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/db"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// constraintViolationCode is the Neo4j error code raised when a write hits a
// uniqueness constraint.
const constraintViolationCode = "Neo.ClientError.Schema.ConstraintValidationFailed"

// EntityStore persists entities as :Entity nodes. Every query and write is
// scoped to exactly one (tenant_id, cell_id) pair; matches never cross tenant
// boundaries.
type EntityStore struct {
	client *Client
	logger ectologger.Logger
}

// NewEntityStore creates a new entity store
func NewEntityStore(client *Client, logger ectologger.Logger) *EntityStore {
	return &EntityStore{
		client: client,
		logger: logger,
	}
}

// EnsureConstraints installs the uniqueness guard on
// (name, entity_type, tenant_id, cell_id). Concurrent creates of the same
// entity surface as ErrEntityConflict instead of duplicate records.
func (s *EntityStore) EnsureConstraints(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "graph.EntityStore.EnsureConstraints")
	defer span.End()

	cypher := `
		CREATE CONSTRAINT entity_identity IF NOT EXISTS
		FOR (e:Entity)
		REQUIRE (e.name, e.entity_type, e.tenant_id, e.cell_id) IS UNIQUE
	`

	_, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, nil)
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to ensure entity constraints: %w", err)
	}
	return nil
}

// FindExact returns entities with exactly the given name and type within the
// tenant/cell scope, capped at limit.
func (s *EntityStore) FindExact(ctx context.Context, name string, entityType models.EntityType, tenantID, cellID string, limit int) ([]models.PersistedEntity, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.EntityStore.FindExact")
	defer span.End()

	cypher := `
		MATCH (e:Entity {name: $name, entity_type: $entity_type, tenant_id: $tenant_id, cell_id: $cell_id})
		RETURN e
		LIMIT $limit
	`

	return s.queryEntities(ctx, cypher, map[string]any{
		"name":        name,
		"entity_type": string(entityType),
		"tenant_id":   tenantID,
		"cell_id":     cellID,
		"limit":       limit,
	})
}

// FindByType returns up to limit entities of the given type within the
// tenant/cell scope.
func (s *EntityStore) FindByType(ctx context.Context, entityType models.EntityType, tenantID, cellID string, limit int) ([]models.PersistedEntity, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.EntityStore.FindByType")
	defer span.End()

	cypher := `
		MATCH (e:Entity {entity_type: $entity_type, tenant_id: $tenant_id, cell_id: $cell_id})
		RETURN e
		LIMIT $limit
	`

	return s.queryEntities(ctx, cypher, map[string]any{
		"entity_type": string(entityType),
		"tenant_id":   tenantID,
		"cell_id":     cellID,
		"limit":       limit,
	})
}

// Get returns the entity with the given id within the tenant/cell scope, or
// nil when it does not exist.
func (s *EntityStore) Get(ctx context.Context, id, tenantID, cellID string) (*models.PersistedEntity, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.EntityStore.Get")
	defer span.End()

	cypher := `
		MATCH (e:Entity {id: $id, tenant_id: $tenant_id, cell_id: $cell_id})
		RETURN e
	`

	entities, err := s.queryEntities(ctx, cypher, map[string]any{
		"id":        id,
		"tenant_id": tenantID,
		"cell_id":   cellID,
	})
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, nil
	}
	return &entities[0], nil
}

// Create persists a new entity. A concurrent create of the same
// (name, entity_type, tenant, cell) loses against the uniqueness constraint
// and returns models.ErrEntityConflict.
func (s *EntityStore) Create(ctx context.Context, name string, entityType models.EntityType, attributes map[string]any, tenantID, cellID string) (*models.PersistedEntity, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.EntityStore.Create")
	defer span.End()

	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id":   tenantID,
		"cell_id":     cellID,
		"entity_type": entityType,
	})

	if attributes == nil {
		attributes = map[string]any{}
	}
	attributesJSON, err := json.Marshal(attributes)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal attributes: %w", err)
	}

	now := time.Now().UTC()
	entity := &models.PersistedEntity{
		ID:         uuid.New().String(),
		Name:       name,
		EntityType: entityType,
		Attributes: attributes,
		TenantID:   tenantID,
		CellID:     cellID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	cypher := `
		CREATE (e:Entity {
			id: $id,
			name: $name,
			entity_type: $entity_type,
			attributes: $attributes,
			tenant_id: $tenant_id,
			cell_id: $cell_id,
			created_at: $created_at,
			updated_at: $updated_at
		})
	`

	_, err = s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{
			"id":          entity.ID,
			"name":        name,
			"entity_type": string(entityType),
			"attributes":  string(attributesJSON),
			"tenant_id":   tenantID,
			"cell_id":     cellID,
			"created_at":  now.Format(time.RFC3339),
			"updated_at":  now.Format(time.RFC3339),
		})
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})

	if err != nil {
		if isConstraintViolation(err) {
			log.Debug("Entity create lost uniqueness race")
			return nil, models.ErrEntityConflict
		}
		log.WithError(err).Error("Failed to create entity")
		return nil, fmt.Errorf("failed to create entity: %w", err)
	}

	log.WithFields(map[string]any{"entity_id": entity.ID}).Info("Created entity")
	return entity, nil
}

// UpdateAttributes replaces the entity's attribute set in one write and
// refreshes updated_at. The write is all-or-nothing at the store level; id
// and created_at never change.
func (s *EntityStore) UpdateAttributes(ctx context.Context, id string, attributes map[string]any, tenantID, cellID string) (*models.PersistedEntity, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.EntityStore.UpdateAttributes")
	defer span.End()

	attributesJSON, err := json.Marshal(attributes)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal attributes: %w", err)
	}

	cypher := `
		MATCH (e:Entity {id: $id, tenant_id: $tenant_id, cell_id: $cell_id})
		SET e.attributes = $attributes,
			e.updated_at = $updated_at
		RETURN e
	`

	entities, err := s.queryEntitiesWrite(ctx, cypher, map[string]any{
		"id":         id,
		"tenant_id":  tenantID,
		"cell_id":    cellID,
		"attributes": string(attributesJSON),
		"updated_at": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, models.ErrEntityNotFound
	}
	return &entities[0], nil
}

func (s *EntityStore) queryEntities(ctx context.Context, cypher string, params map[string]any) ([]models.PersistedEntity, error) {
	result, err := s.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return collectEntities(ctx, tx, cypher, params)
	})
	if err != nil {
		return nil, fmt.Errorf("entity store query failed: %w", err)
	}
	return result.([]models.PersistedEntity), nil
}

func (s *EntityStore) queryEntitiesWrite(ctx context.Context, cypher string, params map[string]any) ([]models.PersistedEntity, error) {
	result, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return collectEntities(ctx, tx, cypher, params)
	})
	if err != nil {
		return nil, fmt.Errorf("entity store write failed: %w", err)
	}
	return result.([]models.PersistedEntity), nil
}

func collectEntities(ctx context.Context, tx neo4j.ManagedTransaction, cypher string, params map[string]any) ([]models.PersistedEntity, error) {
	result, err := tx.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}

	entities := make([]models.PersistedEntity, 0)
	for result.Next(ctx) {
		record := result.Record()
		value, ok := record.Get("e")
		if !ok {
			continue
		}
		node, ok := value.(neo4j.Node)
		if !ok {
			continue
		}
		entities = append(entities, entityFromProps(node.Props))
	}
	return entities, result.Err()
}

func entityFromProps(props map[string]any) models.PersistedEntity {
	entity := models.PersistedEntity{
		ID:         stringProp(props, "id"),
		Name:       stringProp(props, "name"),
		EntityType: models.EntityType(stringProp(props, "entity_type")),
		TenantID:   stringProp(props, "tenant_id"),
		CellID:     stringProp(props, "cell_id"),
		Attributes: map[string]any{},
	}

	if raw := stringProp(props, "attributes"); raw != "" {
		_ = json.Unmarshal([]byte(raw), &entity.Attributes)
	}
	if ts := stringProp(props, "created_at"); ts != "" {
		entity.CreatedAt, _ = time.Parse(time.RFC3339, ts)
	}
	if ts := stringProp(props, "updated_at"); ts != "" {
		entity.UpdatedAt, _ = time.Parse(time.RFC3339, ts)
	}

	return entity
}

func stringProp(props map[string]any, key string) string {
	value, ok := props[key].(string)
	if !ok {
		return ""
	}
	return value
}

func isConstraintViolation(err error) bool {
	var neoErr *db.Neo4jError
	if errors.As(err, &neoErr) {
		return neoErr.Code == constraintViolationCode
	}
	return false
}
