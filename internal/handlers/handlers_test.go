package handlers_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/clinicbridge/intake/internal/ai/aitest"
	"github.com/clinicbridge/intake/internal/api"
	iauth "github.com/clinicbridge/intake/internal/auth"
	"github.com/clinicbridge/intake/internal/database/testutil"
	"github.com/clinicbridge/intake/internal/models"
	"github.com/clinicbridge/intake/internal/services"
	"github.com/clinicbridge/intake/pkg/crypto"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	db     *gorm.DB
	router *gin.Engine
	ai     *aitest.Client
	links  *services.LinkService
	token  string // provider access token
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	jwtService, err := iauth.NewJWTService(iauth.JWTConfig{Secret: "test-secret", Issuer: "test"})
	require.NoError(t, err)

	auditSvc, err := services.NewAuditService(db)
	require.NoError(t, err)
	providerSvc, err := services.NewProviderService(db, jwtService, auditSvc)
	require.NoError(t, err)
	patientSvc, err := services.NewPatientService(db, auditSvc)
	require.NoError(t, err)
	linkSvc, err := services.NewLinkService(db, auditSvc)
	require.NoError(t, err)
	intakeSvc, err := services.NewIntakeService(db, linkSvc, nil, auditSvc)
	require.NoError(t, err)

	aiClient := &aitest.Client{Chunks: []string{"## Summary\nGenerated text.\n"}}
	summarySvc, err := services.NewSummaryService(db, aiClient, auditSvc)
	require.NoError(t, err)

	router, err := api.NewRouter(api.Deps{
		JWT:       jwtService,
		Providers: providerSvc,
		Patients:  patientSvc,
		Links:     linkSvc,
		Intakes:   intakeSvc,
		Summaries: summarySvc,
		Audit:     auditSvc,
	})
	require.NoError(t, err)

	hashed, err := crypto.HashPassword("provider password")
	require.NoError(t, err)
	require.NoError(t, db.Create(&models.ProviderUser{
		Username:     "drsmith",
		PasswordHash: hashed,
		IsActive:     true,
	}).Error)

	env := &testEnv{db: db, router: router, ai: aiClient, links: linkSvc}
	env.token = env.login(t)
	return env
}

func (e *testEnv) login(t *testing.T) string {
	t.Helper()

	w := e.request(t, http.MethodPost, "/api/auth/login", map[string]any{
		"username": "drsmith",
		"password": "provider password",
	}, "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data struct {
			AccessToken string `json:"access_token"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotEmpty(t, body.Data.AccessToken)
	return body.Data.AccessToken
}

func (e *testEnv) request(t *testing.T, method, path string, payload any, token string) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(encoded)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) createPatient(t *testing.T) string {
	t.Helper()

	w := e.request(t, http.MethodPost, "/api/patients", map[string]any{
		"first_name":    "Alice",
		"last_name":     "Nguyen",
		"date_of_birth": "1987-03-14",
	}, e.token)
	require.Equal(t, http.StatusCreated, w.Code)

	var body struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Data.ID
}

func (e *testEnv) issueLink(t *testing.T, patientID string, requiresVerification bool) string {
	t.Helper()

	w := e.request(t, http.MethodPost, "/api/links", map[string]any{
		"patient_id":            patientID,
		"ttl_hours":             48,
		"requires_verification": requiresVerification,
	}, e.token)
	require.Equal(t, http.StatusCreated, w.Code)

	var body struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotEmpty(t, body.Data.Token)
	return body.Data.Token
}

func (e *testEnv) submitIntake(t *testing.T, linkToken string) string {
	t.Helper()

	w := e.request(t, http.MethodPost, "/intake/"+linkToken+"/submit", map[string]any{
		"responses": map[string]any{
			"chief_complaint": "Severe chest pain since this morning",
			"medications":     []string{"warfarin"},
		},
		"consent": true,
	}, "")
	require.Equal(t, http.StatusCreated, w.Code)

	var body struct {
		Data struct {
			IntakeID string `json:"intake_id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Data.IntakeID
}

func TestProviderRoutesRequireAuth(t *testing.T) {
	env := newTestEnv(t)

	for _, route := range []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/patients"},
		{http.MethodPost, "/api/links"},
		{http.MethodGet, "/api/intakes/some-id"},
		{http.MethodGet, "/api/audit"},
	} {
		w := env.request(t, route.method, route.path, nil, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code, "%s %s", route.method, route.path)
	}
}

func TestPublicIntakeFlow(t *testing.T) {
	env := newTestEnv(t)
	patientID := env.createPatient(t)
	linkToken := env.issueLink(t, patientID, true)

	// Info shows the patient name and the verification requirement.
	w := env.request(t, http.MethodGet, "/intake/"+linkToken+"/info", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Alice Nguyen")
	assert.Contains(t, w.Body.String(), `"requires_verification":true`)

	// Submitting before verification is refused.
	w = env.request(t, http.MethodPost, "/intake/"+linkToken+"/submit", map[string]any{
		"responses": map[string]any{"chief_complaint": "headache"},
		"consent":   true,
	}, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Wrong date of birth consumes an attempt.
	w = env.request(t, http.MethodPost, "/intake/"+linkToken+"/verify", map[string]any{
		"date_of_birth": "1990-01-01",
	}, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"accepted":false`)

	// Correct date of birth verifies.
	w = env.request(t, http.MethodPost, "/intake/"+linkToken+"/verify", map[string]any{
		"date_of_birth": "1987-03-14",
	}, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"accepted":true`)

	intakeID := env.submitIntake(t, linkToken)
	assert.NotEmpty(t, intakeID)

	// The link is spent now.
	w = env.request(t, http.MethodGet, "/intake/"+linkToken+"/info", nil, "")
	assert.Equal(t, http.StatusGone, w.Code)
	assert.Contains(t, w.Body.String(), "ALREADY_COMPLETED")
}

func TestUnknownLinkTokenIs404(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, http.MethodGet, "/intake/doesnotexist/info", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestProviderIntakeReviewShowsRedFlags(t *testing.T) {
	env := newTestEnv(t)
	patientID := env.createPatient(t)
	linkToken := env.issueLink(t, patientID, false)
	intakeID := env.submitIntake(t, linkToken)

	w := env.request(t, http.MethodGet, "/api/intakes/"+intakeID, nil, env.token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "red_flags")
	assert.Contains(t, w.Body.String(), "chest pain")
}

func TestSummaryGenerateAndEdit(t *testing.T) {
	env := newTestEnv(t)
	patientID := env.createPatient(t)
	linkToken := env.issueLink(t, patientID, false)
	intakeID := env.submitIntake(t, linkToken)

	w := env.request(t, http.MethodPost, fmt.Sprintf("/api/intakes/%s/summary", intakeID), nil, env.token)
	require.Equal(t, http.StatusOK, w.Code)

	var generated struct {
		Data struct {
			ID      string `json:"id"`
			RawText string `json:"raw_text"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &generated))
	assert.Contains(t, generated.Data.RawText, "Generated text")

	w = env.request(t, http.MethodPatch, "/api/summaries/"+generated.Data.ID, map[string]any{
		"edits": map[string]string{"chief_complaint": "Corrected complaint"},
	}, env.token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Corrected complaint")

	// Editing a non-editable field fails.
	w = env.request(t, http.MethodPatch, "/api/summaries/"+generated.Data.ID, map[string]any{
		"edits": map[string]string{"model": "other"},
	}, env.token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSummaryStreamEmitsSSEFrames(t *testing.T) {
	env := newTestEnv(t)
	patientID := env.createPatient(t)
	linkToken := env.issueLink(t, patientID, false)
	intakeID := env.submitIntake(t, linkToken)

	env.ai.Chunks = []string{"first ", "second"}

	w := env.request(t, http.MethodGet, fmt.Sprintf("/api/intakes/%s/summary/stream", intakeID), nil, env.token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	frames := strings.Split(strings.TrimSpace(w.Body.String()), "\n\n")
	require.GreaterOrEqual(t, len(frames), 3)
	assert.Contains(t, frames[0], `"chunk":"first "`)
	assert.Contains(t, frames[1], `"chunk":"second"`)
	assert.Contains(t, frames[len(frames)-1], `"done":true`)

	// The streamed summary was persisted.
	w = env.request(t, http.MethodGet, fmt.Sprintf("/api/intakes/%s/summary", intakeID), nil, env.token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "first second")
}

func TestLinkListShowsLifecycle(t *testing.T) {
	env := newTestEnv(t)
	patientID := env.createPatient(t)

	first := env.issueLink(t, patientID, false)
	_ = env.issueLink(t, patientID, false)

	// The first link was superseded by the second.
	w := env.request(t, http.MethodGet, "/intake/"+first+"/info", nil, "")
	assert.Equal(t, http.StatusGone, w.Code)

	w = env.request(t, http.MethodGet, fmt.Sprintf("/api/patients/%s/links", patientID), nil, env.token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"expired"`)
	assert.Contains(t, w.Body.String(), `"state":"active"`)
}

func TestAuditTrailRecordsFlow(t *testing.T) {
	env := newTestEnv(t)
	patientID := env.createPatient(t)
	linkToken := env.issueLink(t, patientID, false)
	_ = env.submitIntake(t, linkToken)

	w := env.request(t, http.MethodGet, "/api/audit", nil, env.token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "link.issued")
	assert.Contains(t, w.Body.String(), "intake.submitted")

	// The audit trail carries digests, never raw tokens.
	assert.NotContains(t, w.Body.String(), linkToken)
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.request(t, http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
}
