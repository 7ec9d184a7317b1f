package admission

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/getsentry/sentry-go"

	"gatekeeper-api/internal/account"
)

const maxJSONBodyBytes = 1 << 20

type Handler struct {
	policy *Policy
}

func NewHandler(policy *Policy) *Handler {
	return &Handler{policy: policy}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string    `json:"token"`
	User  *Identity `json:"user"`
}

type refreshRequest struct {
	Token string `json:"token"`
}

type changePasswordRequest struct {
	Username        string `json:"username"`
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	clientID := clientIP(r)

	// A body that does not decode is evaluated as empty credentials so the
	// attempt still counts against the client's budget.
	var body loginRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	_ = decoder.Decode(&body)

	verdict, err := h.policy.EvaluateLogin(r.Context(), clientID, strings.TrimSpace(body.Username), body.Password)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to login")
		return
	}

	if !verdict.Allow {
		switch verdict.Reason {
		case ReasonBlocked:
			w.Header().Set("Retry-After", strconv.Itoa(int(verdict.RetryAfter.Seconds())))
			writeError(w, http.StatusTooManyRequests, "too many login attempts, try again later")
		case ReasonBadRequest:
			writeError(w, http.StatusBadRequest, "username and password are required")
		default:
			writeError(w, http.StatusUnauthorized, "invalid credentials")
		}
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{Token: verdict.Token, User: verdict.User})
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body refreshRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	body.Token = strings.TrimSpace(body.Token)
	if body.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	token, err := h.policy.Refresh(body.Token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body changePasswordRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	body.Username = strings.TrimSpace(body.Username)
	if body.Username == "" || body.CurrentPassword == "" || body.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "all fields are required")
		return
	}

	err := h.policy.ChangePassword(r.Context(), body.Username, body.CurrentPassword, body.NewPassword)
	if err != nil {
		switch {
		case errors.Is(err, account.ErrNotFound):
			writeError(w, http.StatusNotFound, "user not found")
		case errors.Is(err, ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "current password is incorrect")
		default:
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "failed to update password")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func clientIP(r *http.Request) string {
	xForwardedFor := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if xForwardedFor != "" {
		parts := strings.Split(xForwardedFor, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}

	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}

	return "unknown"
}
