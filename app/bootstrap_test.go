package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatekeeper-api/internal/account"
)

func buildTestRuntime(t *testing.T) *Runtime {
	t.Helper()

	t.Setenv("DATABASE_URL", "")
	t.Setenv("ADMIN_USERNAME", "")
	t.Setenv("ADMIN_PASSWORD", "")
	t.Setenv("JWT_SECRET", "integration-test-secret")
	t.Setenv("SENTRY_DSN", "")
	t.Setenv("API_RATE_LIMIT_MAX", "1000")

	runtime, err := Build(Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = runtime.Close() })
	return runtime
}

func do(t *testing.T, handler http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

func TestBuild_LoginAndProtectedFlow(t *testing.T) {
	runtime := buildTestRuntime(t)

	login := httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"username":"`+account.DemoUsername+`","password":"`+account.DemoPassword+`"}`))
	recorder := do(t, runtime.Handler, login)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.NotEmpty(t, recorder.Header().Get("X-Request-ID"))

	var body struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	require.NotEmpty(t, body.Token)

	// Protected endpoint without a token.
	recorder = do(t, runtime.Handler, httptest.NewRequest(http.MethodGet, "/api/protected/profile", nil))
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)

	// With the issued token.
	profile := httptest.NewRequest(http.MethodGet, "/api/protected/profile", nil)
	profile.Header.Set("Authorization", "Bearer "+body.Token)
	recorder = do(t, runtime.Handler, profile)
	require.Equal(t, http.StatusOK, recorder.Code)

	var profileBody map[string]string
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &profileBody))
	assert.Equal(t, account.DemoUsername, profileBody["username"])
	assert.Equal(t, "full", profileBody["access_level"])

	// Admin can list and open the seeded records.
	list := httptest.NewRequest(http.MethodGet, "/api/protected/records", nil)
	list.Header.Set("Authorization", "Bearer "+body.Token)
	recorder = do(t, runtime.Handler, list)
	require.Equal(t, http.StatusOK, recorder.Code)

	var records []struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &records))
	require.NotEmpty(t, records)

	get := httptest.NewRequest(http.MethodGet, "/api/protected/records/"+records[0].ID, nil)
	get.Header.Set("Authorization", "Bearer "+body.Token)
	recorder = do(t, runtime.Handler, get)
	assert.Equal(t, http.StatusOK, recorder.Code)
}

func TestBuild_RootAndFallbackRoutes(t *testing.T) {
	runtime := buildTestRuntime(t)

	recorder := do(t, runtime.Handler, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusForbidden, recorder.Code)

	recorder = do(t, runtime.Handler, httptest.NewRequest(http.MethodGet, "/nonexistent", nil))
	assert.Equal(t, http.StatusNotFound, recorder.Code)

	recorder = do(t, runtime.Handler, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, recorder.Code)
}

func TestBuild_SecurityHeadersOnResponses(t *testing.T) {
	runtime := buildTestRuntime(t)

	recorder := do(t, runtime.Handler, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, "nosniff", recorder.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", recorder.Header().Get("X-Frame-Options"))
}

func TestBuild_LoginLockoutOverHTTP(t *testing.T) {
	runtime := buildTestRuntime(t)

	var recorder *httptest.ResponseRecorder
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
			strings.NewReader(`{"username":"`+account.DemoUsername+`","password":"wrong"}`))
		recorder = do(t, runtime.Handler, req)
	}
	require.Equal(t, http.StatusTooManyRequests, recorder.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"username":"`+account.DemoUsername+`","password":"`+account.DemoPassword+`"}`))
	recorder = do(t, runtime.Handler, req)
	assert.Equal(t, http.StatusTooManyRequests, recorder.Code,
		"correct credentials stay locked out until the block expires")
}
