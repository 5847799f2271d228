package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/paidflow/orchestrator/common/bootstrap"
	"github.com/paidflow/orchestrator/common/models"
	"github.com/paidflow/orchestrator/common/validation"
)

// WorkflowHandler validates and stores workflow definitions.
type WorkflowHandler struct {
	components *bootstrap.Components
}

// NewWorkflowHandler creates a workflow handler.
func NewWorkflowHandler(components *bootstrap.Components) *WorkflowHandler {
	return &WorkflowHandler{components: components}
}

// Validate checks a workflow definition without scheduling it. YAML
// bodies are parsed by the loader; JSON bodies bind directly.
// POST /api/v1/workflows/validate
func (h *WorkflowHandler) Validate(c echo.Context) error {
	spec, err := h.decodeSpec(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := h.components.Validator.Validate(spec); err != nil {
		var verr *validation.Error
		if errors.As(err, &verr) {
			return c.JSON(http.StatusUnprocessableEntity, map[string]interface{}{
				"valid":  false,
				"errors": verr.Reasons,
			})
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"valid": true})
}

// decodeSpec parses the request body as YAML or JSON by content type.
func (h *WorkflowHandler) decodeSpec(c echo.Context) (*models.WorkflowSpec, error) {
	contentType := c.Request().Header.Get(echo.HeaderContentType)
	if strings.Contains(contentType, "yaml") || strings.Contains(contentType, "yml") {
		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return nil, err
		}
		return h.components.Loader.Load(body)
	}
	var spec models.WorkflowSpec
	if err := c.Bind(&spec); err != nil {
		return nil, err
	}
	return &spec, nil
}
