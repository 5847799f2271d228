package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/paidflow/orchestrator/common/bootstrap"
	"github.com/paidflow/orchestrator/common/models"
	"github.com/paidflow/orchestrator/common/registry"
	"github.com/paidflow/orchestrator/common/security"
)

// AgentHandler serves the agent registry API.
type AgentHandler struct {
	components *bootstrap.Components
	endpoints  *security.EndpointValidator
}

// NewAgentHandler creates an agent handler. Private endpoint hosts are
// only accepted outside production.
func NewAgentHandler(components *bootstrap.Components) *AgentHandler {
	allowPrivate := components.Config.Service.Environment != "production"
	return &AgentHandler{
		components: components,
		endpoints:  security.NewEndpointValidator(allowPrivate),
	}
}

// Create registers a new agent in draft status.
// POST /api/v1/agents
func (h *AgentHandler) Create(c echo.Context) error {
	var desc models.AgentDescriptor
	if err := c.Bind(&desc); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.endpoints.Validate(desc.Endpoint); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	created, err := h.components.Registry.Create(&desc)
	if err != nil {
		if errors.Is(err, registry.ErrDuplicateRef) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, created)
}

// Get returns one agent descriptor.
// GET /api/v1/agents/:ref
func (h *AgentHandler) Get(c echo.Context) error {
	desc, err := h.components.Registry.Get(c.Param("ref"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, desc)
}

// List returns agents matching the query filters.
// GET /api/v1/agents?category=&status=&chain=&token=&owner_id=
func (h *AgentHandler) List(c echo.Context) error {
	filters := models.AgentFilters{
		Category: models.AgentCategory(c.QueryParam("category")),
		Status:   models.AgentStatus(c.QueryParam("status")),
		Chain:    c.QueryParam("chain"),
		Token:    c.QueryParam("token"),
		OwnerID:  c.QueryParam("owner_id"),
	}
	if tags, ok := c.QueryParams()["tag"]; ok {
		filters.Tags = tags
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"agents": h.components.Registry.List(filters),
	})
}

// Update applies a JSON merge patch to a descriptor.
// PATCH /api/v1/agents/:ref
func (h *AgentHandler) Update(c echo.Context) error {
	var patch map[string]interface{}
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if endpoint, ok := patch["endpoint"].(string); ok {
		if err := h.endpoints.Validate(endpoint); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}

	updated, err := h.components.Registry.Update(c.Param("ref"), patch)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, updated)
}

// Publish transitions an agent to published.
// POST /api/v1/agents/:ref/publish
func (h *AgentHandler) Publish(c echo.Context) error {
	return h.transition(c, h.components.Registry.Publish)
}

// Deprecate transitions an agent to deprecated.
// POST /api/v1/agents/:ref/deprecate
func (h *AgentHandler) Deprecate(c echo.Context) error {
	return h.transition(c, h.components.Registry.Deprecate)
}

// Suspend transitions an agent to suspended.
// POST /api/v1/agents/:ref/suspend
func (h *AgentHandler) Suspend(c echo.Context) error {
	return h.transition(c, h.components.Registry.Suspend)
}

// Delete removes a draft agent.
// DELETE /api/v1/agents/:ref
func (h *AgentHandler) Delete(c echo.Context) error {
	if err := h.components.Registry.Delete(c.Param("ref")); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *AgentHandler) transition(c echo.Context, op func(string) (*models.AgentDescriptor, error)) error {
	desc, err := op(c.Param("ref"))
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.JSON(http.StatusOK, desc)
}
