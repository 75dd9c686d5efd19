package conversation

import (
	"net/http"

	"github.com/labstack/echo/v4"

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
	g := api.Group("/conversations", auth.RequireRole(auth.RolePatient, auth.RoleClinician))
	g.POST("", h.Record)
	g.GET("/sessions", h.Sessions)
	g.GET("/sessions/:session_id", h.History)
	g.DELETE("/sessions/:session_id", h.DeleteSession)
}

func (h *Handler) Record(c echo.Context) error {
	var turn ConversationHistory
	if err := c.Bind(&turn); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	uid, err := auth.ActingUserID(c)
	if err != nil {
		return err
	}
	turn.UserID = uid
	if err := h.svc.Record(c.Request().Context(), &turn); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, turn)
}

func (h *Handler) Sessions(c echo.Context) error {
	uid, err := auth.ActingUserID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.Sessions(c.Request().Context(), uid, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL.Path))
}

func (h *Handler) History(c echo.Context) error {
	uid, err := auth.ActingUserID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.History(c.Request().Context(), uid, c.Param("session_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"session_id": c.Param("session_id"),
		"messages":   items,
	})
}

func (h *Handler) DeleteSession(c echo.Context) error {
	uid, err := auth.ActingUserID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteSession(c.Request().Context(), uid, c.Param("session_id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
