package notification

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
	staff := auth.RequireRole(auth.RoleClinician)

	g := api.Group("/notifications", auth.RequireRole(auth.RolePatient, auth.RoleClinician))
	g.GET("", h.List)
	g.GET("/stats", h.Stats)
	g.POST("/check-metric", h.CheckMetric)
	g.POST("/classify", h.Classify)
	g.POST("", h.Send, staff)
	g.POST("/dispatch", h.Dispatch, auth.RequireRole(auth.RoleAdmin))
	g.GET("/:id", h.Get)
	g.POST("/:id/delivered", h.MarkDelivered)
	g.POST("/:id/retry", h.Retry, staff)
	g.DELETE("/:id", h.Cancel)
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

func (h *Handler) Stats(c echo.Context) error {
	uid, err := auth.ActingUserID(c)
	if err != nil {
		return err
	}
	stats, err := h.svc.Stats(c.Request().Context(), uid)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

// Send lets staff notify a user, chosen with ?user_id= or the body.
func (h *Handler) Send(c echo.Context) error {
	var req Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.UserID == "" {
		uid, err := auth.ActingUserID(c)
		if err != nil {
			return err
		}
		req.UserID = uid
	}
	items, err := h.svc.Notify(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{"notifications": items, "count": len(items)})
}

func (h *Handler) Dispatch(c echo.Context) error {
	n, err := h.svc.DispatchDue(c.Request().Context(), h.svc.now().UTC())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int{"dispatched": n})
}

type checkMetricRequest struct {
	MetricType string  `json:"metric_type"`
	Value      float64 `json:"value"`
}

func (h *Handler) CheckMetric(c echo.Context) error {
	var req checkMetricRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.MetricType == "" {
		return apperr.ValidationField("metric_type", "metric_type is required")
	}
	return c.JSON(http.StatusOK, CheckHealthMetric(req.MetricType, req.Value))
}

type classifyRequest struct {
	Type    string         `json:"type"`
	Context UrgencyContext `json:"context"`
}

func (h *Handler) Classify(c echo.Context) error {
	var req classifyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	u := ClassifyUrgency(req.Type, req.Context)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"type":                 req.Type,
		"urgency":              u,
		"bypasses_quiet_hours": u.BypassesQuietHours(),
	})
}

func (h *Handler) load(c echo.Context) (*Notification, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	n, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return nil, err
	}
	if !auth.CanAccess(c.Request().Context(), n.UserID) {
		return nil, apperr.NotFound("notification", id)
	}
	return n, nil
}

func (h *Handler) Get(c echo.Context) error {
	n, err := h.load(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, n)
}

func (h *Handler) MarkDelivered(c echo.Context) error {
	n, err := h.load(c)
	if err != nil {
		return err
	}
	n, err = h.svc.MarkDelivered(c.Request().Context(), n.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, n)
}

func (h *Handler) Retry(c echo.Context) error {
	n, err := h.load(c)
	if err != nil {
		return err
	}
	n, err = h.svc.Retry(c.Request().Context(), n.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, n)
}

func (h *Handler) Cancel(c echo.Context) error {
	n, err := h.load(c)
	if err != nil {
		return err
	}
	n, err = h.svc.Cancel(c.Request().Context(), n.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, n)
}
