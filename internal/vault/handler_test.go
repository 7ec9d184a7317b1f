package vault

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatekeeper-api/internal/admission"
)

func requestAs(t *testing.T, method, target, body, role string) *http.Request {
	t.Helper()

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if role != "" {
		claims := admission.Claims{
			Identity: admission.Identity{ID: "u1", Username: "tester", Role: role},
		}
		req = req.WithContext(admission.WithClaims(req.Context(), claims))
	}
	return req
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	return body
}

func TestHandler_Profile(t *testing.T) {
	handler := NewHandler(newTestStore(t))

	recorder := httptest.NewRecorder()
	handler.Profile(recorder, requestAs(t, http.MethodGet, "/api/protected/profile", "", "admin"))
	require.Equal(t, http.StatusOK, recorder.Code)
	body := decodeBody(t, recorder)
	assert.Equal(t, "tester", body["username"])
	assert.Equal(t, "full", body["access_level"])

	recorder = httptest.NewRecorder()
	handler.Profile(recorder, requestAs(t, http.MethodGet, "/api/protected/profile", "", "member"))
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "restricted", decodeBody(t, recorder)["access_level"])

	recorder = httptest.NewRecorder()
	handler.Profile(recorder, requestAs(t, http.MethodGet, "/api/protected/profile", "", ""))
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestHandler_ListRecordsRequiresAdmin(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, SeedDemo(store))
	handler := NewHandler(store)

	recorder := httptest.NewRecorder()
	handler.ListRecords(recorder, requestAs(t, http.MethodGet, "/api/protected/records", "", "member"))
	assert.Equal(t, http.StatusForbidden, recorder.Code)

	recorder = httptest.NewRecorder()
	handler.ListRecords(recorder, requestAs(t, http.MethodGet, "/api/protected/records", "", "admin"))
	require.Equal(t, http.StatusOK, recorder.Code)

	var records []map[string]any
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &records))
	require.Len(t, records, 2)
	for _, record := range records {
		assert.NotContains(t, record, "ciphertext")
		assert.NotContains(t, record, "details")
	}
}

func TestHandler_GetRecord(t *testing.T) {
	store := newTestStore(t)
	added, err := store.Add("perimeter sweep", Details{Summary: "stuffing", Severity: "high"})
	require.NoError(t, err)
	handler := NewHandler(store)

	req := requestAs(t, http.MethodGet, "/api/protected/records/"+added.ID, "", "admin")
	req.SetPathValue("id", added.ID)
	recorder := httptest.NewRecorder()
	handler.GetRecord(recorder, req)
	require.Equal(t, http.StatusOK, recorder.Code)

	body := decodeBody(t, recorder)
	assert.Equal(t, added.ID, body["id"])
	details, ok := body["details"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "stuffing", details["summary"])

	req = requestAs(t, http.MethodGet, "/api/protected/records/missing", "", "admin")
	req.SetPathValue("id", "missing")
	recorder = httptest.NewRecorder()
	handler.GetRecord(recorder, req)
	assert.Equal(t, http.StatusNotFound, recorder.Code)

	req = requestAs(t, http.MethodGet, "/api/protected/records/"+added.ID, "", "member")
	req.SetPathValue("id", added.ID)
	recorder = httptest.NewRecorder()
	handler.GetRecord(recorder, req)
	assert.Equal(t, http.StatusForbidden, recorder.Code)
}

func TestHandler_RunOperation(t *testing.T) {
	handler := NewHandler(newTestStore(t))

	for _, operation := range []string{"scan", "analyze", "track"} {
		recorder := httptest.NewRecorder()
		handler.RunOperation(recorder,
			requestAs(t, http.MethodPost, "/api/protected/operations", `{"operation":"`+operation+`"}`, "admin"))
		require.Equal(t, http.StatusOK, recorder.Code, "operation %q", operation)

		body := decodeBody(t, recorder)
		assert.Equal(t, "initiated", body["status"])
		id, _ := body["operation_id"].(string)
		assert.True(t, strings.HasPrefix(id, operation+"-"))
	}

	recorder := httptest.NewRecorder()
	handler.RunOperation(recorder,
		requestAs(t, http.MethodPost, "/api/protected/operations", `{"operation":"demolish"}`, "admin"))
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	recorder = httptest.NewRecorder()
	handler.RunOperation(recorder,
		requestAs(t, http.MethodPost, "/api/protected/operations", `not json`, "admin"))
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	recorder = httptest.NewRecorder()
	handler.RunOperation(recorder,
		requestAs(t, http.MethodPost, "/api/protected/operations", `{"operation":"scan"}`, "member"))
	assert.Equal(t, http.StatusForbidden, recorder.Code)
}
