package analytics

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/healthmate/healthmate/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/advanced-analytics", auth.RequireRole(auth.RolePatient, auth.RoleClinician))
	g.GET("/summary", h.Summary)
	g.GET("/trends/:metric", h.Trend)
	g.GET("/correlation", h.Correlation)
	g.GET("/symptoms", h.Symptoms)
	g.GET("/adherence", h.Adherence)
	g.GET("/report.xlsx", h.Report)
	g.GET("/dashboard", h.Dashboard)
}

func intParam(c echo.Context, name string) (int, error) {
	v := c.QueryParam(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("%s must be a positive integer", name))
	}
	return n, nil
}

func (h *Handler) Summary(c echo.Context) error {
	userID, err := auth.ActingUserID(c)
	if err != nil {
		return err
	}
	days, err := intParam(c, "days")
	if err != nil {
		return err
	}
	metric := c.QueryParam("metric_type")
	if metric == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "metric_type is required")
	}
	out, err := h.svc.Summary(c.Request().Context(), userID, metric, days)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Trend(c echo.Context) error {
	userID, err := auth.ActingUserID(c)
	if err != nil {
		return err
	}
	days, err := intParam(c, "days")
	if err != nil {
		return err
	}
	window, err := intParam(c, "window")
	if err != nil {
		return err
	}
	out, err := h.svc.Trend(c.Request().Context(), userID, c.Param("metric"), days, window)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Correlation(c echo.Context) error {
	userID, err := auth.ActingUserID(c)
	if err != nil {
		return err
	}
	days, err := intParam(c, "days")
	if err != nil {
		return err
	}
	a, b := c.QueryParam("metric_a"), c.QueryParam("metric_b")
	if a == "" || b == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "metric_a and metric_b are required")
	}
	out, err := h.svc.Correlation(c.Request().Context(), userID, a, b, days)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Symptoms(c echo.Context) error {
	userID, err := auth.ActingUserID(c)
	if err != nil {
		return err
	}
	days, err := intParam(c, "days")
	if err != nil {
		return err
	}
	out, err := h.svc.Symptoms(c.Request().Context(), userID, days)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"symptoms": out})
}

func (h *Handler) Adherence(c echo.Context) error {
	userID, err := auth.ActingUserID(c)
	if err != nil {
		return err
	}
	weeks, err := intParam(c, "weeks")
	if err != nil {
		return err
	}
	out, err := h.svc.AdherenceTrend(c.Request().Context(), userID, weeks)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"weeks": out})
}

func (h *Handler) Report(c echo.Context) error {
	userID, err := auth.ActingUserID(c)
	if err != nil {
		return err
	}
	days, err := intParam(c, "days")
	if err != nil {
		return err
	}
	raw, err := h.svc.Report(c.Request().Context(), userID, days)
	if err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="healthmate-%s.xlsx"`, userID))
	return c.Blob(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", raw)
}

func (h *Handler) Dashboard(c echo.Context) error {
	userID, err := auth.ActingUserID(c)
	if err != nil {
		return err
	}
	days, err := intParam(c, "days")
	if err != nil {
		return err
	}
	out, err := h.svc.Dashboard(c.Request().Context(), userID, days)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}
