// Package models contains the core types shared across the resolution pipeline
package models

import (
	"time"
)

// EntityType identifies the kind of real-world entity an observation describes
type EntityType string

const (
	EntityTypePerson       EntityType = "person"
	EntityTypeOrganization EntityType = "organization"
	EntityTypeAccount      EntityType = "account"
	EntityTypeAddress      EntityType = "address"
	EntityTypeTransaction  EntityType = "transaction"
)

// IsValid reports whether the entity type is one of the recognized values
func (t EntityType) IsValid() bool {
	switch t {
	case EntityTypePerson, EntityTypeOrganization, EntityTypeAccount, EntityTypeAddress, EntityTypeTransaction:
		return true
	}
	return false
}

// EntityObservation is a caller-supplied description of an entity. It is
// transient: built per resolution request and discarded afterwards.
type EntityObservation struct {
	Name             string         `json:"name" validate:"required"`
	EntityType       EntityType     `json:"entity_type" validate:"required"`
	Attributes       map[string]any `json:"attributes"`
	SourceConfidence float64        `json:"source_confidence"`
}

// EntityCandidate is an observation enriched with a request-scoped identifier
// and, when semantic matching runs, an embedding vector. Owned by exactly one
// resolution request.
type EntityCandidate struct {
	ID               string
	Name             string
	NormalizedName   string
	EntityType       EntityType
	Attributes       map[string]any
	Embedding        []float32
	SourceConfidence float64
}

// PersistedEntity is an entity as stored by the entity store. The store owns
// the record; the engine only reads and writes through the store contract.
type PersistedEntity struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	EntityType EntityType     `json:"entity_type"`
	Attributes map[string]any `json:"attributes"`
	TenantID   string         `json:"tenant_id"`
	CellID     string         `json:"cell_id"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}
