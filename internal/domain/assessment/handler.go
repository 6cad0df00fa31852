package assessment

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/psyclinic/psyclinic/internal/domain/calculation"
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
	instRead := api.Group("/instruments", auth.ReadRoles())
	instRead.GET("", h.ListInstruments)
	instRead.GET("/:id", h.GetInstrument)

	instWrite := api.Group("/instruments", auth.WriteRoles())
	instWrite.POST("", h.CreateInstrument)

	admRead := api.Group("/administrations", auth.ReadRoles())
	admRead.GET("", h.ListAdministrations)
	admRead.GET("/:id", h.GetAdministration)

	admCollect := api.Group("/administrations", auth.AdministerRoles())
	admCollect.POST("", h.StartAdministration)
	admCollect.PUT("/:id/answers", h.SubmitAnswers)
	admCollect.POST("/:id/validate", h.Validate)

	admScore := api.Group("/administrations", auth.WriteRoles())
	admScore.POST("/:id/finalize", h.Finalize)
	admScore.POST("/:id/recalculate", h.Recalculate)
	admScore.POST("/batch/finalize", h.ScoreBatch)
}

func httpError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, ErrInstrumentNotFound), errors.Is(err, ErrAdministrationNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrDuplicateCode):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return scoreerr.HTTPError(err, http.StatusBadRequest)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// -- Instruments --

func (h *Handler) CreateInstrument(c echo.Context) error {
	var inst Instrument
	if err := c.Bind(&inst); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateInstrument(c.Request().Context(), &inst); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, inst)
}

func (h *Handler) GetInstrument(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	inst, err := h.svc.GetInstrument(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, inst)
}

func (h *Handler) ListInstruments(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListInstruments(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// -- Administrations --

func (h *Handler) StartAdministration(c echo.Context) error {
	var a Administration
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if a.AdministeredBy == nil {
		if user := auth.UserIDFromContext(c.Request().Context()); user != "" {
			a.AdministeredBy = &user
		}
	}
	if err := h.svc.StartAdministration(c.Request().Context(), &a); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAdministration(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.GetAdministration(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ListAdministrations(c echo.Context) error {
	patientID, err := uuid.Parse(c.QueryParam("patient_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id query parameter is required")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByPatient(c.Request().Context(), patientID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

type answersRequest struct {
	Answers calculation.AnswerSet `json:"answers"`
}

func (h *Handler) SubmitAnswers(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req answersRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.Answers) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "answers are required")
	}
	a, err := h.svc.SubmitAnswers(c.Request().Context(), id, req.Answers)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Validate(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Validate(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"valid": true})
}

func (h *Handler) Finalize(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.Finalize(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Recalculate(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.Recalculate(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

type batchRequest struct {
	IDs         []uuid.UUID `json:"ids"`
	Concurrency int         `json:"concurrency"`
}

func (h *Handler) ScoreBatch(c echo.Context) error {
	var req batchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.IDs) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "ids are required")
	}
	results, err := h.svc.ScoreBatch(c.Request().Context(), req.IDs, req.Concurrency)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"results": results})
}
