// Package events handles event emission for entity lifecycle changes
package events

import (
	"context"
	"encoding/json"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// SchemaVersion is the current event schema version
const SchemaVersion = "1.0"

const (
	EventTypeEntityCreated = "entity.created"
	EventTypeEntityMatched = "entity.matched"
)

// EntityPublisher publishes entity events to the broker
type EntityPublisher interface {
	PublishEntityEvent(ctx context.Context, event *kafka.EntityEvent) error
}

// Emitter publishes resolution lifecycle events
type Emitter struct {
	producer EntityPublisher
	logger   ectologger.Logger
}

// NewEmitter creates a new event emitter
func NewEmitter(producer EntityPublisher, logger ectologger.Logger) *Emitter {
	return &Emitter{
		producer: producer,
		logger:   logger,
	}
}

// EntityCreated emits an entity.created event for a newly persisted entity
func (e *Emitter) EntityCreated(ctx context.Context, entity *models.PersistedEntity) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EntityCreated")
	defer span.End()

	data, err := json.Marshal(map[string]any{
		"schema_version": SchemaVersion,
		"name":           entity.Name,
		"attributes":     entity.Attributes,
	})
	if err != nil {
		return err
	}

	event := &kafka.EntityEvent{
		EventType:  EventTypeEntityCreated,
		TenantID:   entity.TenantID,
		CellID:     entity.CellID,
		EntityID:   entity.ID,
		EntityType: string(entity.EntityType),
		Data:       data,
	}

	if err := e.producer.PublishEntityEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit entity.created event")
		return err
	}

	return nil
}

// EntityMatched emits an entity.matched event when an observation merges into
// an existing entity
func (e *Emitter) EntityMatched(ctx context.Context, entity *models.PersistedEntity, match models.EntityMatch) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EntityMatched")
	defer span.End()

	data, err := json.Marshal(map[string]any{
		"schema_version":   SchemaVersion,
		"name":             entity.Name,
		"match_confidence": match.ConfidenceScore,
		"match_method":     match.Method,
	})
	if err != nil {
		return err
	}

	event := &kafka.EntityEvent{
		EventType:  EventTypeEntityMatched,
		TenantID:   entity.TenantID,
		CellID:     entity.CellID,
		EntityID:   entity.ID,
		EntityType: string(entity.EntityType),
		Data:       data,
	}

	if err := e.producer.PublishEntityEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit entity.matched event")
		return err
	}

	return nil
}
