package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psyclinic/psyclinic/internal/config"
	"github.com/psyclinic/psyclinic/internal/domain/assessment"
	"github.com/psyclinic/psyclinic/internal/domain/calculation"
	"github.com/psyclinic/psyclinic/internal/domain/multiscale"
	"github.com/psyclinic/psyclinic/internal/domain/normalization"
	"github.com/psyclinic/psyclinic/internal/platform/auth"
	"github.com/psyclinic/psyclinic/internal/platform/middleware"
)

const sampleDefinition = "../../internal/domain/multiscale/testdata/sample.yaml"

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestScoreMultiscale_ArrayAnswers(t *testing.T) {
	answers := writeFile(t, "answers.json", `[true, true, true, false, false, false, false, false, true, false, false, true]`)

	out, err := runCLI(t, "score", "multiscale", "--instrument", sampleDefinition, "--answers", answers)
	require.NoError(t, err)

	var p multiscale.Profile
	require.NoError(t, json.Unmarshal([]byte(out), &p))
	assert.Equal(t, "MSI-SAMPLE", p.Instrument)
	assert.NotEmpty(t, p.PersonalityPatterns)
}

func TestScoreMultiscale_InvalidAnswer(t *testing.T) {
	answers := writeFile(t, "answers.json", `{"1": "maybe"}`)

	_, err := runCLI(t, "score", "multiscale", "--instrument", sampleDefinition, "--answers", answers)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_ANSWER")
}

func TestScoreMultiscale_RequiresFlags(t *testing.T) {
	_, err := runCLI(t, "score", "multiscale")
	require.Error(t, err)
}

func TestReadAnswers_ObjectForm(t *testing.T) {
	path := writeFile(t, "answers.json", `{"1": true, "q2": "false", "3": "true"}`)

	answers, err := readAnswers(path, 12)
	require.NoError(t, err)
	assert.Equal(t, multiscale.Answers{1: true, 2: false, 3: true}, answers)
}

func TestReadAnswers_ArrayForm(t *testing.T) {
	path := writeFile(t, "answers.json", " [true, false, true]\n")

	answers, err := readAnswers(path, 12)
	require.NoError(t, err)
	assert.Equal(t, multiscale.Answers{1: true, 2: false, 3: true}, answers)
}

func testRoutes() routes {
	nop := zerolog.Nop()
	calc := calculation.NewEngine()
	engine := normalization.NewEngine()
	normSvc := normalization.NewService(nil, engine, nop)
	svc := assessment.NewService(nil, nil, calc, normSvc, multiscale.NewRegistry(nop), nop)
	return routes{
		assessment:    assessment.NewHandler(svc),
		scoring:       assessment.NewScoringHandler(calc, engine, nop),
		normalization: normalization.NewHandler(normSvc),
	}
}

const calculateBody = `{"scoring_rule":{"type":"simple_sum","questions":[1,2],"max_scale_value":3},
	"questions":[{"number":1},{"number":2}],"answers":{"1":2,"2":3}}`

func serve(e *echo.Echo, method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestNewEcho_DevelopmentMode(t *testing.T) {
	cfg := &config.Config{Env: "development", BodyLimit: "1M"}
	e := newEcho(cfg, zerolog.Nop(), testRoutes())

	rec := serve(e, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))

	rec = serve(e, http.MethodPost, "/api/v1/scoring/calculate", calculateBody, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var raw calculation.RawScore
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.Equal(t, 5.0, raw.Total)
}

func TestNewEcho_TokenRequiredOutsideDevelopment(t *testing.T) {
	cfg := &config.Config{Env: "staging", BodyLimit: "1M", AuthSigningKey: "test-secret"}
	e := newEcho(cfg, zerolog.Nop(), testRoutes())

	rec := serve(e, http.MethodPost, "/api/v1/scoring/calculate", calculateBody, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	sign := func(roles ...string) string {
		claims := auth.Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "user-1",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
			Roles: roles,
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
		require.NoError(t, err)
		return token
	}

	rec = serve(e, http.MethodPost, "/api/v1/scoring/calculate", calculateBody, sign(auth.RoleClinician))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = serve(e, http.MethodPost, "/api/v1/scoring/calculate", calculateBody, sign("receptionist"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
