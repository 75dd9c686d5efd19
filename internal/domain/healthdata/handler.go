package healthdata

import (
	"net/http"
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

	g := api.Group("/health-data", role)
	g.GET("/metrics", h.Metrics)
	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.PUT("/:id", h.Update)
	g.DELETE("/:id", h.Delete)

	s := api.Group("/symptoms", role)
	s.POST("", h.LogSymptom)
	s.GET("", h.ListSymptoms)
	s.GET("/:id", h.GetSymptom)
	s.DELETE("/:id", h.DeleteSymptom)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// timeRange reads optional RFC 3339 from/to query parameters.
func timeRange(c echo.Context) (from, to time.Time, err error) {
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"from", &from}, {"to", &to}} {
		v := c.QueryParam(p.name)
		if v == "" {
			continue
		}
		t, perr := time.Parse(time.RFC3339, v)
		if perr != nil {
			return from, to, apperr.ValidationField(p.name, "must be an RFC 3339 timestamp")
		}
		*p.dst = t
	}
	return from, to, nil
}

func (h *Handler) Metrics(c echo.Context) error {
	out := make([]map[string]string, 0, len(metrics))
	for _, m := range MetricTypes() {
		out = append(out, map[string]string{"metric_type": m, "unit": CanonicalUnit(m)})
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Create(c echo.Context) error {
	var d HealthData
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	uid, err := auth.ActingUserID(c)
	if err != nil {
		return err
	}
	d.UserID = uid
	if err := h.svc.Create(c.Request().Context(), &d); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) List(c echo.Context) error {
	uid, err := auth.ActingUserID(c)
	if err != nil {
		return err
	}
	from, to, err := timeRange(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), uid, Filter{
		MetricType: c.QueryParam("metric_type"),
		From:       from,
		To:         to,
		Limit:      pg.Limit,
		Offset:     pg.Offset,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL.Path))
}

func (h *Handler) load(c echo.Context) (*HealthData, error) {
	id, err := parseID(c)
	if err != nil {
		return nil, err
	}
	d, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return nil, err
	}
	if !auth.CanAccess(c.Request().Context(), d.UserID) {
		return nil, apperr.NotFound("health data", id)
	}
	return d, nil
}

func (h *Handler) Get(c echo.Context) error {
	d, err := h.load(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) Update(c echo.Context) error {
	d, err := h.load(c)
	if err != nil {
		return err
	}
	id, userID, created := d.ID, d.UserID, d.CreatedAt
	if err := c.Bind(d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	d.ID, d.UserID, d.CreatedAt = id, userID, created
	if err := h.svc.Update(c.Request().Context(), d); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) Delete(c echo.Context) error {
	d, err := h.load(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), d.ID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) LogSymptom(c echo.Context) error {
	var l SymptomLog
	if err := c.Bind(&l); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	uid, err := auth.ActingUserID(c)
	if err != nil {
		return err
	}
	l.UserID = uid
	if err := h.svc.LogSymptom(c.Request().Context(), &l); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, l)
}

func (h *Handler) ListSymptoms(c echo.Context) error {
	uid, err := auth.ActingUserID(c)
	if err != nil {
		return err
	}
	from, to, err := timeRange(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListSymptoms(c.Request().Context(), uid, from, to, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL.Path))
}

func (h *Handler) loadSymptom(c echo.Context) (*SymptomLog, error) {
	id, err := parseID(c)
	if err != nil {
		return nil, err
	}
	l, err := h.svc.GetSymptom(c.Request().Context(), id)
	if err != nil {
		return nil, err
	}
	if !auth.CanAccess(c.Request().Context(), l.UserID) {
		return nil, apperr.NotFound("symptom", id)
	}
	return l, nil
}

func (h *Handler) GetSymptom(c echo.Context) error {
	l, err := h.loadSymptom(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, l)
}

func (h *Handler) DeleteSymptom(c echo.Context) error {
	l, err := h.loadSymptom(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteSymptom(c.Request().Context(), l.ID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
