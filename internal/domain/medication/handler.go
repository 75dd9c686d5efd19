package medication

import (
	"net/http"
	"strconv"
	"time"

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
	role := auth.RequireRole(auth.RolePatient, auth.RoleClinician)

	g := api.Group("/medications", role)
	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.PUT("/:id", h.Update)
	g.DELETE("/:id", h.Discontinue)
	g.GET("/:id/adherence", h.Adherence)
	g.POST("/:id/doses", h.LogDose)
	g.GET("/:id/doses", h.ListDoses)

	d := api.Group("/dose-logs", role)
	d.GET("", h.ListUserDoses)
	d.GET("/:id", h.GetDose)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// load fetches the medication in :id and checks the caller may access it.
func (h *Handler) load(c echo.Context) (*EnhancedMedication, error) {
	id, err := parseID(c)
	if err != nil {
		return nil, err
	}
	m, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return nil, err
	}
	if !auth.CanAccess(c.Request().Context(), m.UserID) {
		return nil, apperr.NotFound("medication", id)
	}
	return m, nil
}

func (h *Handler) Create(c echo.Context) error {
	var m EnhancedMedication
	if err := c.Bind(&m); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	uid, err := auth.ActingUserID(c)
	if err != nil {
		return err
	}
	m.UserID = uid
	if err := h.svc.Create(c.Request().Context(), &m); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) List(c echo.Context) error {
	uid, err := auth.ActingUserID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByUser(c.Request().Context(), uid, c.QueryParam("status"), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL.Path))
}

func (h *Handler) Get(c echo.Context) error {
	m, err := h.load(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) Update(c echo.Context) error {
	m, err := h.load(c)
	if err != nil {
		return err
	}
	id, userID, profileID, created := m.ID, m.UserID, m.ProfileID, m.CreatedAt
	if err := c.Bind(m); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	m.ID, m.UserID, m.ProfileID, m.CreatedAt = id, userID, profileID, created
	if err := h.svc.Update(c.Request().Context(), m); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) Discontinue(c echo.Context) error {
	m, err := h.load(c)
	if err != nil {
		return err
	}
	m, err = h.svc.Discontinue(c.Request().Context(), m.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) Adherence(c echo.Context) error {
	m, err := h.load(c)
	if err != nil {
		return err
	}
	days := 30
	if v := c.QueryParam("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 365 {
			return apperr.ValidationField("days", "days must be between 1 and 365")
		}
		days = n
	}
	a, err := h.svc.Adherence(c.Request().Context(), m.ID, days)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) LogDose(c echo.Context) error {
	m, err := h.load(c)
	if err != nil {
		return err
	}
	var l DoseLog
	if err := c.Bind(&l); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.LogDose(c.Request().Context(), m, &l); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, l)
}

func parseTimeParam(c echo.Context, name string, def time.Time) (time.Time, error) {
	v := c.QueryParam(name)
	if v == "" {
		return def, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, apperr.ValidationField(name, "must be an RFC 3339 timestamp")
	}
	return t, nil
}

func (h *Handler) ListDoses(c echo.Context) error {
	m, err := h.load(c)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	from, err := parseTimeParam(c, "from", now.AddDate(0, 0, -30))
	if err != nil {
		return err
	}
	to, err := parseTimeParam(c, "to", now.Add(time.Minute))
	if err != nil {
		return err
	}
	if !from.Before(to) {
		return apperr.ValidationField("from", "from must be before to")
	}
	logs, err := h.svc.ListDoses(c.Request().Context(), m.ID, from, to)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": logs, "total": len(logs)})
}

func (h *Handler) ListUserDoses(c echo.Context) error {
	uid, err := auth.ActingUserID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListDosesByUser(c.Request().Context(), uid, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL.Path))
}

func (h *Handler) GetDose(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	l, err := h.svc.GetDose(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if !auth.CanAccess(c.Request().Context(), l.UserID) {
		return apperr.NotFound("dose log", id)
	}
	return c.JSON(http.StatusOK, l)
}
