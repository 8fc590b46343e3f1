// Package resolve exposes the entity resolution endpoints
package resolve

import (
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/appcontext"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/resolution"
)

// maxBatchSize bounds how many observations one batch request may carry
const maxBatchSize = 100

var validate = validator.New()

// Register registers resolution routes
func Register(g *echo.Group) {
	g.POST("", ResolveEntity)
	g.POST("/batch", ResolveBatch)
}

// ResolveRequest is the request body for resolving a single observation
type ResolveRequest struct {
	Name             string            `json:"name" validate:"required"`
	EntityType       models.EntityType `json:"entity_type" validate:"required"`
	Attributes       map[string]any    `json:"attributes"`
	SourceConfidence float64           `json:"source_confidence"`
	// MatchMethod selects the strategy; hybrid when omitted
	MatchMethod models.MatchMethod `json:"match_method"`
	// CreateIfNotFound defaults to true when omitted
	CreateIfNotFound *bool `json:"create_if_not_found"`
}

func (r *ResolveRequest) observation() models.EntityObservation {
	return models.EntityObservation{
		Name:             r.Name,
		EntityType:       r.EntityType,
		Attributes:       r.Attributes,
		SourceConfidence: r.SourceConfidence,
	}
}

func (r *ResolveRequest) options() resolution.Options {
	create := true
	if r.CreateIfNotFound != nil {
		create = *r.CreateIfNotFound
	}
	return resolution.Options{
		Method:           r.MatchMethod,
		CreateIfNotFound: create,
	}
}

// ResolveEntity resolves one observation against the tenant's entities
func ResolveEntity(c echo.Context) error {
	ctx := c.Request().Context()

	tenantID := appcontext.GetTenantID(ctx)
	cellID := appcontext.GetCellID(ctx)
	if tenantID == "" || cellID == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "tenant and cell headers are required")
	}

	var req ResolveRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx, service, err := ectoinject.GetContext[*resolution.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	obs := req.observation()
	outcome, err := service.Resolve(ctx, &obs, tenantID, cellID, req.options())
	if err != nil {
		if errors.Is(err, models.ErrInvalidObservation) {
			return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return err
	}

	return c.JSON(http.StatusOK, outcome)
}

// BatchResolveRequest is the request body for resolving multiple observations
type BatchResolveRequest struct {
	Observations []ResolveRequest `json:"observations" validate:"required,min=1"`
	// MatchMethod and CreateIfNotFound apply to the whole batch
	MatchMethod      models.MatchMethod `json:"match_method"`
	CreateIfNotFound *bool              `json:"create_if_not_found"`
}

// BatchResolveResponse pairs each observation with its outcome, in order
type BatchResolveResponse struct {
	Outcomes []*models.ResolutionOutcome `json:"outcomes"`
}

// ResolveBatch resolves a batch of observations. Individual failures are
// reported per item; the batch itself only fails on invalid input.
func ResolveBatch(c echo.Context) error {
	ctx := c.Request().Context()

	tenantID := appcontext.GetTenantID(ctx)
	cellID := appcontext.GetCellID(ctx)
	if tenantID == "" || cellID == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "tenant and cell headers are required")
	}

	var req BatchResolveRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.Observations) == 0 {
		return httperror.NewHTTPError(http.StatusBadRequest, "at least one observation is required")
	}
	if len(req.Observations) > maxBatchSize {
		return httperror.NewHTTPError(http.StatusBadRequest, "batch size exceeds limit")
	}

	ctx, service, err := ectoinject.GetContext[*resolution.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	observations := make([]models.EntityObservation, len(req.Observations))
	for i, item := range req.Observations {
		observations[i] = item.observation()
	}

	create := true
	if req.CreateIfNotFound != nil {
		create = *req.CreateIfNotFound
	}
	opts := resolution.Options{
		Method:           req.MatchMethod,
		CreateIfNotFound: create,
	}

	outcomes := service.ResolveBatch(ctx, observations, tenantID, cellID, opts)

	return c.JSON(http.StatusOK, &BatchResolveResponse{Outcomes: outcomes})
}
