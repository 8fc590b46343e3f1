// Package entity exposes read endpoints for persisted entities
package entity

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/appcontext"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/models"
)

// Register registers entity routes
func Register(g *echo.Group) {
	g.GET("/:entityType/:id", GetEntity)
	g.GET("/:entityType", ListEntities)
}

// GetEntity gets a persisted entity by id within the tenant/cell scope
func GetEntity(c echo.Context) error {
	ctx := c.Request().Context()

	tenantID := appcontext.GetTenantID(ctx)
	cellID := appcontext.GetCellID(ctx)
	if tenantID == "" || cellID == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "tenant and cell headers are required")
	}

	entityType := models.EntityType(c.Param("entityType"))
	if !entityType.IsValid() {
		return httperror.NewHTTPError(http.StatusBadRequest, "unrecognized entity type")
	}
	id := c.Param("id")

	ctx, store, err := ectoinject.GetContext[*graph.EntityStore](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	entity, err := store.Get(ctx, id, tenantID, cellID)
	if err != nil {
		return err
	}
	if entity == nil || entity.EntityType != entityType {
		return httperror.NewHTTPError(http.StatusNotFound, "entity not found")
	}

	return c.JSON(http.StatusOK, entity)
}

// listLimit caps list responses
const listLimit = 100

// ListEntities lists entities of a type within the tenant/cell scope
func ListEntities(c echo.Context) error {
	ctx := c.Request().Context()

	tenantID := appcontext.GetTenantID(ctx)
	cellID := appcontext.GetCellID(ctx)
	if tenantID == "" || cellID == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "tenant and cell headers are required")
	}

	entityType := models.EntityType(c.Param("entityType"))
	if !entityType.IsValid() {
		return httperror.NewHTTPError(http.StatusBadRequest, "unrecognized entity type")
	}

	ctx, store, err := ectoinject.GetContext[*graph.EntityStore](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	entities, err := store.FindByType(ctx, entityType, tenantID, cellID, listLimit)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, entities)
}
