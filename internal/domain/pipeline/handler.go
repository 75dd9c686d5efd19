package pipeline

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
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
	g := api.Group("/data-pipeline", auth.RequireRole(auth.RolePatient, auth.RoleClinician))
	g.POST("/validate", h.Validate)
	g.POST("/transform", h.Transform)
	g.GET("/quality/:user_id", h.Quality)

	admin := auth.RequireRole(auth.RoleAdmin)
	g.GET("/jobs", h.ListJobs, admin)
	g.POST("/jobs", h.CreateJob, admin)
	g.GET("/jobs/:id", h.GetJob, admin)
	g.PUT("/jobs/:id", h.UpdateJob, admin)
	g.DELETE("/jobs/:id", h.DeleteJob, admin)
	g.POST("/jobs/:id/run", h.RunJob, admin)
	g.GET("/jobs/:id/runs", h.ListRuns, admin)
}

type validateRequest struct {
	Records []Record `json:"records"`
	Schema  *Schema  `json:"schema,omitempty"`
}

func (h *Handler) Validate(c echo.Context) error {
	var req validateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	rep, err := h.svc.Validate(req.Records, req.Schema)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rep)
}

type transformRequest struct {
	Records     []Record `json:"records"`
	Rules       []Rule   `json:"rules"`
	DropOnError bool     `json:"drop_on_error"`
}

func (h *Handler) Transform(c echo.Context) error {
	var req transformRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res, err := h.svc.Transform(req.Records, req.Rules, req.DropOnError)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Quality(c echo.Context) error {
	userID := c.Param("user_id")
	if !auth.CanAccess(c.Request().Context(), userID) {
		return echo.NewHTTPError(http.StatusForbidden, "cannot access another user's records")
	}
	days := 30
	if v := c.QueryParam("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 365 {
			return echo.NewHTTPError(http.StatusBadRequest, "days must be between 1 and 365")
		}
		days = n
	}
	rep, err := h.svc.UserQuality(c.Request().Context(), userID, days)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rep)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) CreateJob(c echo.Context) error {
	var j ETLJobConfig
	if err := c.Bind(&j); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.CreateJob(c.Request().Context(), &j); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, j)
}

func (h *Handler) GetJob(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	j, err := h.svc.GetJob(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, j)
}

func (h *Handler) UpdateJob(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	existing, err := h.svc.GetJob(c.Request().Context(), id)
	if err != nil {
		return err
	}
	var j ETLJobConfig
	if err := c.Bind(&j); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	j.ID = id
	j.Watermark, j.WatermarkID = existing.Watermark, existing.WatermarkID
	j.CreatedAt = existing.CreatedAt
	if err := h.svc.UpdateJob(c.Request().Context(), &j); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, j)
}

func (h *Handler) DeleteJob(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteJob(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListJobs(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListJobs(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL.Path))
}

// RunJob runs the job synchronously. A run that started but failed is
// reported with status 200 and the failed run record.
func (h *Handler) RunJob(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	run, err := h.svc.RunJob(c.Request().Context(), id)
	if run == nil && err != nil {
		return err
	}
	return c.JSON(http.StatusOK, run)
}

func (h *Handler) ListRuns(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListRuns(c.Request().Context(), id, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL.Path))
}
