package backup

import (
	"io"
	"net/http"
	"path"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/healthmate/healthmate/internal/platform/auth"
	"github.com/healthmate/healthmate/pkg/pagination"
)

type Handler struct {
	backup *Backup
}

func NewHandler(b *Backup) *Handler {
	return &Handler{backup: b}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/backups", auth.RequireRole(auth.RoleAdmin))
	g.GET("", h.List)
	g.POST("/run", h.Run)
	g.GET("/:id", h.Get)
	g.GET("/:id/object", h.Download)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.backup.Runs(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL.Path))
}

// Run performs a backup synchronously. A failed run is returned with 200.
func (h *Handler) Run(c echo.Context) error {
	run, err := h.backup.Run(c.Request().Context())
	if run == nil && err != nil {
		return err
	}
	return c.JSON(http.StatusOK, run)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	run, err := h.backup.GetRun(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, run)
}

// Download streams one object of a run, selected by ?key.
func (h *Handler) Download(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	key := c.QueryParam("key")
	if key == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "key is required")
	}
	rc, _, err := h.backup.Open(c.Request().Context(), id, key)
	if err != nil {
		return err
	}
	defer rc.Close()
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+path.Base(key)+`"`)
	c.Response().Header().Set(echo.HeaderContentType, "application/gzip")
	c.Response().WriteHeader(http.StatusOK)
	_, err = io.Copy(c.Response(), rc)
	return err
}
