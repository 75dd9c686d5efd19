package profile

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/healthmate/healthmate/internal/platform/apperr"
	"github.com/healthmate/healthmate/internal/platform/auth"
	"github.com/healthmate/healthmate/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/profiles", auth.RequireRole(auth.RolePatient, auth.RoleClinician))
	g.GET("/me", h.GetMine)
	g.PUT("/me", h.UpdateMine)
	g.POST("", h.Create)
	g.GET("/:id", h.Get)
	g.PUT("/:id", h.Update)
	g.DELETE("/:id", h.Delete)
	g.GET("", h.List, auth.RequireRole(auth.RoleClinician))
}

func (h *Handler) Create(c echo.Context) error {
	var p UserHealthProfile
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	uid, err := auth.ActingUserID(c)
	if err != nil {
		return err
	}
	p.UserID = uid
	if err := h.svc.Create(c.Request().Context(), &p); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetMine(c echo.Context) error {
	uid, err := auth.ActingUserID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetByUser(c.Request().Context(), uid)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) UpdateMine(c echo.Context) error {
	uid, err := auth.ActingUserID(c)
	if err != nil {
		return err
	}
	existing, err := h.svc.GetByUser(c.Request().Context(), uid)
	if err != nil {
		return err
	}
	return h.update(c, existing)
}

// load fetches the profile in :id and checks the caller may access it.
func (h *Handler) load(c echo.Context) (*UserHealthProfile, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return nil, err
	}
	if !auth.CanAccess(c.Request().Context(), p.UserID) {
		return nil, apperr.NotFound("profile", id)
	}
	return p, nil
}

func (h *Handler) Get(c echo.Context) error {
	p, err := h.load(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Update(c echo.Context) error {
	existing, err := h.load(c)
	if err != nil {
		return err
	}
	return h.update(c, existing)
}

// update binds the body over existing so omitted fields keep their values.
func (h *Handler) update(c echo.Context, existing *UserHealthProfile) error {
	id, userID, created := existing.ID, existing.UserID, existing.CreatedAt
	if err := c.Bind(existing); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	existing.ID, existing.UserID, existing.CreatedAt = id, userID, created
	if err := h.svc.Update(c.Request().Context(), existing); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, existing)
}

func (h *Handler) Delete(c echo.Context) error {
	p, err := h.load(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), p.ID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL.Path))
}
