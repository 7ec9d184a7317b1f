package vault

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"gatekeeper-api/internal/admission"
)

const maxJSONBodyBytes = 1 << 20

var allowedOperations = map[string]string{
	"scan":    "network scan initiated",
	"analyze": "data analysis initiated",
	"track":   "rate-limit tracking initiated",
}

type Handler struct {
	store *Store
}

func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

// Profile answers for any authenticated caller; the remaining endpoints
// require the admin role.
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	claims, ok := admission.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	accessLevel := "restricted"
	if claims.Role == "admin" {
		accessLevel = "full"
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"id":           claims.ID,
		"username":     claims.Username,
		"role":         claims.Role,
		"access_level": accessLevel,
	})
}

func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}

	writeJSON(w, http.StatusOK, h.store.List())
}

func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}

	record, ok := h.store.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "record not found")
		return
	}

	details, err := h.store.Open(record)
	if err != nil {
		var integrity *DataIntegrityError
		if errors.As(err, &integrity) {
			sentry.CaptureException(err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error":     "failed to decrypt record",
				"reference": integrity.CorrelationID,
			})
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to read record")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":         record.ID,
		"label":      record.Label,
		"created_at": record.CreatedAt,
		"details":    details,
	})
}

type operationRequest struct {
	Operation string `json:"operation"`
}

func (h *Handler) RunOperation(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body operationRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	body.Operation = strings.TrimSpace(strings.ToLower(body.Operation))
	message, ok := allowedOperations[body.Operation]
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid operation type")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"operation_id": body.Operation + "-" + uuid.NewString(),
		"status":       "initiated",
		"message":      message,
		"requested_at": time.Now().UTC().Format(time.RFC3339),
	})
}

func requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	claims, ok := admission.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return false
	}
	if claims.Role != "admin" {
		writeError(w, http.StatusForbidden, "admin privileges required")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
