package assessment

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/psyclinic/psyclinic/internal/domain/calculation"
	"github.com/psyclinic/psyclinic/internal/domain/interpretation"
	"github.com/psyclinic/psyclinic/internal/domain/multiscale"
	"github.com/psyclinic/psyclinic/internal/domain/normalization"
	"github.com/psyclinic/psyclinic/internal/platform/auth"
	"github.com/psyclinic/psyclinic/pkg/scoreerr"
)

// ScoringHandler exposes the scoring engines without persistence. Every
// request carries its own rule, table or definition.
type ScoringHandler struct {
	calc   *calculation.Engine
	norms  *normalization.Engine
	logger zerolog.Logger
}

func NewScoringHandler(calc *calculation.Engine, norms *normalization.Engine, logger zerolog.Logger) *ScoringHandler {
	return &ScoringHandler{calc: calc, norms: norms, logger: logger}
}

func (h *ScoringHandler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/scoring", auth.ReadRoles())
	g.POST("/calculate", h.Calculate)
	g.POST("/validate", h.Validate)
	g.POST("/normalize", h.Normalize)
	g.POST("/interpret", h.Interpret)
	g.POST("/multiscale", h.Multiscale)
}

type calculateRequest struct {
	ScoringRule json.RawMessage        `json:"scoring_rule"`
	Questions   []calculation.Question `json:"questions"`
	Answers     calculation.AnswerSet  `json:"answers"`
}

func (r calculateRequest) rule() (calculation.Rule, error) {
	return calculation.DecodeRule(r.ScoringRule)
}

func (h *ScoringHandler) Calculate(c echo.Context) error {
	var req calculateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rule, err := req.rule()
	if err != nil {
		return scoreerr.HTTPError(err, http.StatusBadRequest)
	}
	raw, err := h.calc.Calculate(rule, req.Answers, req.Questions)
	if err != nil {
		return scoreerr.HTTPError(err, http.StatusBadRequest)
	}
	return c.JSON(http.StatusOK, raw)
}

func (h *ScoringHandler) Validate(c echo.Context) error {
	var req calculateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rule, err := req.rule()
	if err != nil {
		return scoreerr.HTTPError(err, http.StatusBadRequest)
	}
	if err := h.calc.Validate(rule, req.Answers, req.Questions); err != nil {
		return scoreerr.HTTPError(err, http.StatusBadRequest)
	}
	return c.JSON(http.StatusOK, map[string]bool{"valid": true})
}

type normalizeRequest struct {
	RawScore calculation.RawScore         `json:"raw_score"`
	Table    *normalization.NormativeTable `json:"table"`
	Patient  normalization.Patient        `json:"patient"`
}

func (h *ScoringHandler) Normalize(c echo.Context) error {
	var req normalizeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Table != nil {
		if err := normalization.ValidateTable(req.Table); err != nil {
			return scoreerr.HTTPError(err, http.StatusBadRequest)
		}
	}
	res, err := h.norms.Normalize(req.RawScore, req.Table, req.Patient)
	if err != nil {
		return scoreerr.HTTPError(err, http.StatusBadRequest)
	}
	return c.JSON(http.StatusOK, res)
}

type interpretRequest struct {
	Rules    []interpretation.Rule           `json:"rules"`
	Result   *normalization.NormalizedResult `json:"result,omitempty"`
	RawScore *calculation.RawScore           `json:"raw_score,omitempty"`
}

type interpretResponse struct {
	Interpretation string            `json:"interpretation"`
	Sections       map[string]string `json:"sections,omitempty"`
}

func (h *ScoringHandler) Interpret(c echo.Context) error {
	var req interpretRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := interpretation.ValidateRules(req.Rules); err != nil {
		return scoreerr.HTTPError(err, http.StatusBadRequest)
	}
	if req.Result == nil && req.RawScore == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "result or raw_score is required")
	}
	resp := interpretResponse{Interpretation: interpretation.Interpret(req.Rules, req.Result, req.RawScore)}
	if req.RawScore != nil && len(req.RawScore.Sections) > 0 {
		resp.Sections = interpretation.InterpretSections(req.Rules, req.Result, *req.RawScore)
	}
	return c.JSON(http.StatusOK, resp)
}

type multiscaleRequest struct {
	Definition multiscale.Definition `json:"definition"`
	Answers    json.RawMessage       `json:"answers"`
}

func (h *ScoringHandler) Multiscale(c echo.Context) error {
	var req multiscaleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	scorer, err := multiscale.NewScorer(req.Definition, h.logger)
	if err != nil {
		return scoreerr.HTTPError(err, http.StatusBadRequest)
	}
	// answers may be an array in item order or an object keyed by item
	answers, err := multiscale.DecodeAnswers(req.Answers, scorer.Definition().ItemCount)
	if err != nil {
		return scoreerr.HTTPError(err, http.StatusBadRequest)
	}
	return c.JSON(http.StatusOK, scorer.Score(answers))
}
