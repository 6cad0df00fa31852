package normalization

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/psyclinic/psyclinic/internal/platform/auth"
	"github.com/psyclinic/psyclinic/pkg/pagination"
	"github.com/psyclinic/psyclinic/pkg/scoreerr"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("/normative-tables", auth.ReadRoles())
	read.GET("", h.ListTables)
	read.GET("/:id", h.GetTable)

	write := api.Group("/normative-tables", auth.WriteRoles())
	write.POST("", h.CreateTable)
	write.DELETE("/:id", h.DeleteTable)
	write.POST("/bands/build", h.BuildBand)
	write.POST("/bands/from-moments", h.BandFromMoments)
}

func httpError(err error) *echo.HTTPError {
	if errors.Is(err, ErrTableNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return scoreerr.HTTPError(err, http.StatusBadRequest)
}

func (h *Handler) CreateTable(c echo.Context) error {
	var t NormativeTable
	if err := c.Bind(&t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateTable(c.Request().Context(), &t); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) GetTable(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	t, err := h.svc.GetTable(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) ListTables(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListTables(c.Request().Context(), c.QueryParam("instrument_code"), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) DeleteTable(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteTable(c.Request().Context(), id); err != nil {
		if errors.Is(err, ErrTableNotFound) {
			return httpError(err)
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

type buildBandRequest struct {
	Scope   NormativeBand `json:"scope"`
	Samples []float64     `json:"samples"`
}

// BuildBand derives a band from a reference sample without storing it.
func (h *Handler) BuildBand(c echo.Context) error {
	var req buildBandRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	band, err := BuildBand(req.Scope, req.Samples)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, band)
}

type momentsRequest struct {
	Scope  NormativeBand `json:"scope"`
	Mean   float64       `json:"mean"`
	StdDev float64       `json:"std_dev"`
}

func (h *Handler) BandFromMoments(c echo.Context) error {
	var req momentsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	band, err := BandFromMoments(req.Scope, req.Mean, req.StdDev)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, band)
}
