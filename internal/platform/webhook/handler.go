package webhook

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/healthmate/healthmate/internal/platform/apperr"
	"github.com/healthmate/healthmate/internal/platform/auth"
	"github.com/healthmate/healthmate/pkg/pagination"
)

// Handler exposes endpoint management over HTTP.
type Handler struct {
	manager *Manager
}

func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

// RegisterRoutes mounts the handler under /webhooks on api.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/webhooks", auth.RequireRole(auth.RolePatient, auth.RoleClinician))
	g.POST("", h.Register)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.PUT("/:id", h.Update)
	g.DELETE("/:id", h.Delete)
	g.POST("/:id/test", h.Test)
	g.GET("/:id/deliveries", h.Deliveries)
	g.POST("/:id/pause", h.Pause)
	g.POST("/:id/resume", h.Resume)
	g.POST("/deliveries/:id/retry", h.RetryDelivery)
}

type registerRequest struct {
	URL         string   `json:"url"`
	Secret      string   `json:"secret"`
	Events      []string `json:"events"`
	Description string   `json:"description"`
	Global      bool     `json:"global"`
}

func isAdmin(ctx context.Context) bool {
	return auth.HasRole(auth.RolesFromContext(ctx), auth.RoleAdmin)
}

// owned loads an endpoint the caller may manage. Endpoints of other users
// are reported as missing.
func (h *Handler) owned(c echo.Context, id string) (*Endpoint, error) {
	ctx := c.Request().Context()
	ep, err := h.manager.Store().GetEndpoint(ctx, id)
	if err != nil {
		return nil, err
	}
	if !isAdmin(ctx) && ep.OwnerID != auth.UserIDFromContext(ctx) {
		return nil, apperr.NotFound("webhook endpoint", id)
	}
	return ep, nil
}

func (h *Handler) Register(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	owner := auth.UserIDFromContext(ctx)
	if req.Global {
		if !isAdmin(ctx) {
			return apperr.Forbidden("only admins may register global webhooks")
		}
		owner = GlobalOwner
	}
	ep, err := h.manager.RegisterEndpoint(ctx, RegisterRequest{
		OwnerID:     owner,
		URL:         req.URL,
		Secret:      req.Secret,
		Events:      req.Events,
		Description: req.Description,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, ep)
}

func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	owner := auth.UserIDFromContext(ctx)
	if isAdmin(ctx) {
		owner = c.QueryParam("owner_id")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.manager.Store().ListEndpoints(ctx, owner, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	for _, ep := range items {
		ep.Secret = ""
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	ep, err := h.owned(c, c.Param("id"))
	if err != nil {
		return err
	}
	ep.Secret = ""
	return c.JSON(http.StatusOK, ep)
}

type updateRequest struct {
	URL         string   `json:"url"`
	Events      []string `json:"events"`
	Description *string  `json:"description"`
	Active      *bool    `json:"active"`
}

func (h *Handler) Update(c echo.Context) error {
	ep, err := h.owned(c, c.Param("id"))
	if err != nil {
		return err
	}
	var req updateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.URL != "" {
		if err := ValidateURL(req.URL); err != nil {
			return err
		}
		ep.URL = req.URL
	}
	if len(req.Events) > 0 {
		ep.Events = req.Events
	}
	if req.Description != nil {
		ep.Description = *req.Description
	}
	if req.Active != nil {
		ep.Active = *req.Active
	}
	ep.UpdatedAt = h.manager.now().UTC()
	if err := h.manager.Store().UpdateEndpoint(c.Request().Context(), ep); err != nil {
		return err
	}
	ep.Secret = ""
	return c.JSON(http.StatusOK, ep)
}

func (h *Handler) Delete(c echo.Context) error {
	ep, err := h.owned(c, c.Param("id"))
	if err != nil {
		return err
	}
	if err := h.manager.Store().DeleteEndpoint(c.Request().Context(), ep.ID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Test(c echo.Context) error {
	ep, err := h.owned(c, c.Param("id"))
	if err != nil {
		return err
	}
	d, err := h.manager.TestEndpoint(c.Request().Context(), ep.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) Deliveries(c echo.Context) error {
	ep, err := h.owned(c, c.Param("id"))
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.manager.Store().ListDeliveries(c.Request().Context(), ep.ID, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Pause(c echo.Context) error  { return h.setActive(c, false) }
func (h *Handler) Resume(c echo.Context) error { return h.setActive(c, true) }

func (h *Handler) setActive(c echo.Context, active bool) error {
	ep, err := h.owned(c, c.Param("id"))
	if err != nil {
		return err
	}
	ep, err = h.manager.SetActive(c.Request().Context(), ep.ID, active)
	if err != nil {
		return err
	}
	ep.Secret = ""
	return c.JSON(http.StatusOK, ep)
}

func (h *Handler) RetryDelivery(c echo.Context) error {
	ctx := c.Request().Context()
	d, err := h.manager.Store().GetDelivery(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	if _, err := h.owned(c, d.EndpointID); err != nil {
		return err
	}
	retried, err := h.manager.RetryDelivery(ctx, d.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, retried)
}
