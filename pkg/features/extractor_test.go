package features

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

func TestExtract(t *testing.T) {
	e := New()

	obs := &models.EntityObservation{
		Name:       "Acme Corp",
		EntityType: models.EntityTypeOrganization,
		Attributes: map[string]any{
			"email":   "info@acme.example",
			"address": "1 Main St",
			"website": "acme.example",
		},
	}

	fs, err := e.Extract(obs)
	require.NoError(t, err)

	assert.Equal(t, "acme corp", fs.NormalizedName)
	assert.Equal(t, []float64{9, 2, 1, 0, 1, 3}, fs.Vector)
}

func TestExtract_InvalidObservation(t *testing.T) {
	tests := []struct {
		name string
		obs  *models.EntityObservation
	}{
		{
			name: "empty name",
			obs:  &models.EntityObservation{Name: "", EntityType: models.EntityTypePerson},
		},
		{
			name: "whitespace name",
			obs:  &models.EntityObservation{Name: "   ", EntityType: models.EntityTypePerson},
		},
		{
			name: "unknown entity type",
			obs:  &models.EntityObservation{Name: "Acme", EntityType: models.EntityType("starship")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New().Extract(tt.obs)
			assert.True(t, errors.Is(err, models.ErrInvalidObservation))
		})
	}
}

func TestEmbeddingText(t *testing.T) {
	e := New()

	tests := []struct {
		name       string
		entityName string
		attributes map[string]any
		expected   string
	}{
		{
			name:       "no attributes",
			entityName: "Acme Corp",
			attributes: nil,
			expected:   "Acme Corp",
		},
		{
			name:       "important attributes in fixed order",
			entityName: "Acme Corp",
			attributes: map[string]any{
				"phone":   "555-0100",
				"address": "1 Main St",
				"email":   "info@acme.example",
			},
			expected: "Acme Corp address: 1 Main St email: info@acme.example phone: 555-0100",
		},
		{
			name:       "unimportant attributes skipped",
			entityName: "Acme Corp",
			attributes: map[string]any{
				"website": "acme.example",
				"email":   "info@acme.example",
			},
			expected: "Acme Corp email: info@acme.example",
		},
		{
			name:       "empty values skipped",
			entityName: "Acme Corp",
			attributes: map[string]any{
				"address": "",
				"phone":   "555-0100",
			},
			expected: "Acme Corp phone: 555-0100",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.EmbeddingText(tt.entityName, tt.attributes)
			assert.Equal(t, tt.expected, got)
		})
	}
}

// The blob must be byte-identical across calls so cached embeddings stay valid.
func TestEmbeddingText_Deterministic(t *testing.T) {
	e := New()
	attrs := map[string]any{
		"registration_number": "R-123",
		"business_name":       "Acme Corporation",
		"email":               "info@acme.example",
	}

	first := e.EmbeddingText("Acme Corp", attrs)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, e.EmbeddingText("Acme Corp", attrs))
	}
}

func TestVector_AttributePresence(t *testing.T) {
	e := New()

	vec := e.Vector("Jane Doe", map[string]any{"phone": "555-0100"})
	assert.Equal(t, []float64{8, 2, 0, 1, 0, 1}, vec)

	// empty string does not count as present
	vec = e.Vector("Jane Doe", map[string]any{"phone": ""})
	assert.Equal(t, []float64{8, 2, 0, 0, 0, 1}, vec)
}
