package compliance

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/healthmate/healthmate/internal/platform/apperr"
	"github.com/healthmate/healthmate/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/compliance", auth.RequireRole(auth.RolePatient, auth.RoleClinician))
	g.GET("/report", h.Report)
	g.GET("/medications/:id", h.Medication)
	g.POST("/check-missed", h.CheckMissed)
}

func days(c echo.Context) (int, error) {
	v := c.QueryParam("days")
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "days must be an integer")
	}
	return n, nil
}

func (h *Handler) Report(c echo.Context) error {
	userID, err := auth.ActingUserID(c)
	if err != nil {
		return err
	}
	d, err := days(c)
	if err != nil {
		return err
	}
	rep, err := h.svc.Report(c.Request().Context(), userID, d)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rep)
}

func (h *Handler) Medication(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	d, err := days(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	m, err := h.svc.Get(ctx, id)
	if err != nil {
		return err
	}
	if !auth.CanAccess(ctx, m.UserID) {
		return apperr.NotFound("medication", id)
	}
	mc, err := h.svc.ForMedication(ctx, m, d)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, mc)
}

// CheckMissed sweeps the acting user's medications; admins without
// ?user_id sweep everyone.
func (h *Handler) CheckMissed(c echo.Context) error {
	ctx := c.Request().Context()
	userID := ""
	if !auth.HasRole(auth.RolesFromContext(ctx), auth.RoleAdmin) || c.QueryParam("user_id") != "" {
		uid, err := auth.ActingUserID(c)
		if err != nil {
			return err
		}
		userID = uid
	}
	res, err := h.svc.CheckMissed(ctx, userID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}
