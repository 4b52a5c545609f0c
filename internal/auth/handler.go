package auth

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"incident-api/internal/observability"
)

const maxJSONBodyBytes = 1 << 20

type Handler struct {
	service *Service
	logger  *observability.Logger
}

func NewHandler(service *Service, logger *observability.Logger) *Handler {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Handler{service: service, logger: logger}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type revokeRequest struct {
	Reason string `json:"reason"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var body RegisterInput
	if !decodeJSON(w, r, &body, false) {
		return
	}

	result, err := h.service.Register(r.Context(), body)
	if err != nil {
		h.writeServiceError(w, r, err, "failed to register")
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if !decodeJSON(w, r, &body, false) {
		return
	}

	result, err := h.service.Login(r.Context(), body.Username, body.Password)
	if err != nil {
		h.writeServiceError(w, r, err, "failed to login")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var body refreshRequest
	if !decodeJSON(w, r, &body, false) {
		return
	}

	result, err := h.service.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		h.writeServiceError(w, r, err, "failed to refresh token")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ForgotPassword answers 202 for known and unknown addresses alike.
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var body forgotPasswordRequest
	if !decodeJSON(w, r, &body, false) {
		return
	}

	if err := h.service.RequestPasswordReset(r.Context(), body.Email); err != nil && !errors.Is(err, ErrValidation) {
		h.logger.Error("password_reset_request_failed", map[string]any{"error": err.Error()})
		observability.CaptureRequestError(r, err)
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"message": "if the address is registered, a reset link has been sent",
	})
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var body ResetPasswordInput
	if !decodeJSON(w, r, &body, false) {
		return
	}

	if err := h.service.ResetPassword(r.Context(), body); err != nil {
		h.writeServiceError(w, r, err, "failed to reset password")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var body logoutRequest
	if !decodeJSON(w, r, &body, true) {
		return
	}

	if err := h.service.Logout(r.Context(), principal.UserID, principal.Token, body.RefreshToken); err != nil {
		h.writeServiceError(w, r, err, "failed to logout")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	if err := h.service.RevokeAllTokens(r.Context(), principal.UserID, principal.Token); err != nil {
		h.writeServiceError(w, r, err, "failed to logout")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var body revokeRequest
	if !decodeJSON(w, r, &body, true) {
		return
	}

	if err := h.service.RevokeToken(r.Context(), principal.UserID, principal.Token, body.Reason); err != nil {
		h.writeServiceError(w, r, err, "failed to revoke token")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var body ChangePasswordInput
	if !decodeJSON(w, r, &body, false) {
		return
	}

	if err := h.service.ChangePassword(r.Context(), principal.UserID, principal.Token, body); err != nil {
		h.writeServiceError(w, r, err, "failed to change password")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	profile, err := h.service.GetProfile(r.Context(), principal.UserID)
	if err != nil {
		h.writeServiceError(w, r, err, "failed to load profile")
		return
	}

	writeJSON(w, http.StatusOK, profile)
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var body UpdateProfileInput
	if !decodeJSON(w, r, &body, false) {
		return
	}

	profile, err := h.service.UpdateProfile(r.Context(), principal.UserID, body)
	if err != nil {
		h.writeServiceError(w, r, err, "failed to update profile")
		return
	}

	writeJSON(w, http.StatusOK, profile)
}

func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	if err := h.service.DeleteUser(r.Context(), principal.UserID, principal.Token); err != nil {
		h.writeServiceError(w, r, err, "failed to delete account")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	sessions, err := h.service.ListSessions(r.Context(), principal.UserID)
	if err != nil {
		h.writeServiceError(w, r, err, "failed to list sessions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (h *Handler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	if err := h.service.RevokeSession(r.Context(), principal.UserID, chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, r, err, "failed to revoke session")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var locked *LockedError
	var invalidField *ValidationError

	switch {
	case errors.As(err, &locked):
		retryAfter := int(locked.Until.Sub(h.service.now()).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeJSON(w, http.StatusLocked, map[string]any{
			"error":       "account is temporarily locked",
			"lockedUntil": locked.Until.UTC().Format(time.RFC3339),
		})
	case errors.Is(err, ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, "invalid or expired token")
	case errors.As(err, &invalidField):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": invalidField.Error(),
			"field": invalidField.Field,
		})
	case errors.Is(err, ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		h.logger.Error("auth_request_failed", map[string]any{
			"path":  r.URL.Path,
			"error": err.Error(),
		})
		observability.CaptureRequestError(r, err)
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

// decodeJSON reads a bounded JSON body. With optional set an empty body is
// accepted and leaves dst untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return true
		}
		writeError(w, http.StatusBadRequest, "invalid json body")
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
