// Package features turns raw entity observations into normalized comparison units
package features

import (
	"fmt"
	"strings"

	"github.com/Ramsey-B/fern/pkg/models"
)

// importantAttributes are the attribute keys folded into the embedding text,
// in this exact order. The order is fixed so the blob, and therefore the
// embedding, is reproducible and cache-stable.
var importantAttributes = []string{"address", "email", "phone", "business_name", "registration_number"}

// FeatureSet is the normalized comparison unit for one observation or one
// stored entity.
type FeatureSet struct {
	NormalizedName string
	Vector         []float64
}

// Extractor builds feature sets and embedding text from entity data
type Extractor struct{}

// New creates a new Extractor
func New() *Extractor {
	return &Extractor{}
}

// Extract validates an observation and produces its feature set. The name
// must be non-empty and the entity type must be recognized.
func (e *Extractor) Extract(obs *models.EntityObservation) (*FeatureSet, error) {
	if strings.TrimSpace(obs.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", models.ErrInvalidObservation)
	}
	if !obs.EntityType.IsValid() {
		return nil, fmt.Errorf("%w: unrecognized entity type %q", models.ErrInvalidObservation, obs.EntityType)
	}

	return &FeatureSet{
		NormalizedName: e.NormalizeName(obs.Name),
		Vector:         e.Vector(obs.Name, obs.Attributes),
	}, nil
}

// NormalizeName produces the case-folded form of a name used for comparison.
// Every name comparison in the matching strategies goes through this so the
// candidate and the stored entity are folded the same way.
func (e *Extractor) NormalizeName(name string) string {
	return strings.ToLower(name)
}

// Vector produces the fixed-length numeric feature vector used by the
// clustering strategy: name length, word count, has-email, has-phone,
// has-address flags, and attribute count.
func (e *Extractor) Vector(name string, attributes map[string]any) []float64 {
	return []float64{
		float64(len(name)),
		float64(len(strings.Fields(name))),
		boolFeature(attributes, "email"),
		boolFeature(attributes, "phone"),
		boolFeature(attributes, "address"),
		float64(len(attributes)),
	}
}

// EmbeddingText builds the deterministic text blob handed to the embedding
// provider: the name followed by "key: value" fragments for each important
// attribute that is present and non-empty, in the fixed key order, joined by
// single spaces.
func (e *Extractor) EmbeddingText(name string, attributes map[string]any) string {
	var sb strings.Builder
	sb.WriteString(name)

	for _, key := range importantAttributes {
		value, ok := attributes[key]
		if !ok || isEmptyValue(value) {
			continue
		}
		sb.WriteString(" ")
		sb.WriteString(key)
		sb.WriteString(": ")
		sb.WriteString(fmt.Sprintf("%v", value))
	}

	return sb.String()
}

func boolFeature(attributes map[string]any, key string) float64 {
	if value, ok := attributes[key]; ok && !isEmptyValue(value) {
		return 1
	}
	return 0
}

func isEmptyValue(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []any:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	case bool:
		return !v
	case float64:
		return v == 0
	case int:
		return v == 0
	}
	return false
}
