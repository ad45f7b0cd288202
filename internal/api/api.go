// Package api exposes the account flows over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"boardauth/internal/auth"
	"boardauth/internal/logging"
	"boardauth/internal/models"
	"boardauth/internal/session"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const (
	sessionCookie   = "session"
	requestIDHeader = "X-Request-ID"
	maxBodyBytes    = 1 << 20

	msgBadPayload = "Invalid request payload"
	msgLoggedIn   = "Signed in"
	msgLoggedOut  = "Signed out"
)

type accountIDKey struct{}

// Handler serves the auth and user endpoints.
type Handler struct {
	accounts     *auth.Service
	sessions     *session.Issuer
	logger       *zap.Logger
	secureCookie bool
}

// NewHandler returns a Handler. secureCookie marks the session cookie Secure.
func NewHandler(accounts *auth.Service, sessions *session.Issuer, logger *zap.Logger, secureCookie bool) *Handler {
	return &Handler{
		accounts:     accounts,
		sessions:     sessions,
		logger:       logger,
		secureCookie: secureCookie,
	}
}

// Router builds the routed handler wrapped with recovery, CORS and access logging.
func (h *Handler) Router(accessLog io.Writer, allowedOrigins []string) http.Handler {
	router := mux.NewRouter()
	router.Use(h.withRequestID)

	a := router.PathPrefix("/auth").Subrouter()
	a.HandleFunc("/signup", h.signup).Methods(http.MethodPost)
	a.HandleFunc("/verify-email", h.verifyEmail).Methods(http.MethodPost)
	a.HandleFunc("/login", h.login).Methods(http.MethodPost)
	a.HandleFunc("/logout", h.logout).Methods(http.MethodPost)
	a.HandleFunc("/forgot-password", h.forgotPassword).Methods(http.MethodPost)
	a.HandleFunc("/reset-password", h.resetPassword).Methods(http.MethodPost)

	u := router.PathPrefix("/user").Subrouter()
	u.Use(h.requireSession)
	u.HandleFunc("/profile", h.profile).Methods(http.MethodGet)
	u.HandleFunc("/profile", h.updateProfile).Methods(http.MethodPut)
	u.HandleFunc("/change-password", h.changePassword).Methods(http.MethodPut)

	var handler http.Handler = router
	handler = handlers.CORS(
		handlers.AllowedOrigins(allowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		handlers.AllowCredentials(),
	)(handler)
	handler = handlers.RecoveryHandler(
		handlers.RecoveryLogger(zap.NewStdLog(h.logger)),
		handlers.PrintRecoveryStack(true),
	)(handler)
	return handlers.LoggingHandler(accessLog, handler)
}

func (h *Handler) signup(w http.ResponseWriter, r *http.Request) {
	var req auth.SignupInput
	if !decode(w, r, &req) {
		return
	}
	res, err := h.accounts.Signup(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": res.Message,
		"userId":  res.UserID,
	})
}

func (h *Handler) verifyEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if !decode(w, r, &req) {
		return
	}
	msg, err := h.accounts.VerifyEmail(r.Context(), req.Token)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeMessage(w, msg)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decode(w, r, &req) {
		return
	}
	tok, id, err := h.sessions.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    tok,
		Path:     "/",
		MaxAge:   int(h.sessions.TTL().Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, struct {
		Message string          `json:"message"`
		Token   string          `json:"token"`
		User    models.Identity `json:"user"`
	}{msgLoggedIn, tok, *id})
}

func (h *Handler) logout(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	writeMessage(w, msgLoggedOut)
}

func (h *Handler) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !decode(w, r, &req) {
		return
	}
	msg, err := h.accounts.ForgotPassword(r.Context(), req.Email)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeMessage(w, msg)
}

func (h *Handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req auth.ResetPasswordInput
	if !decode(w, r, &req) {
		return
	}
	msg, err := h.accounts.ResetPassword(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeMessage(w, msg)
}

func (h *Handler) profile(w http.ResponseWriter, r *http.Request) {
	id, err := h.accounts.Identity(r.Context(), accountID(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": id})
}

func (h *Handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	var req auth.ProfileInput
	if !decode(w, r, &req) {
		return
	}
	id, err := h.accounts.UpdateProfile(r.Context(), accountID(r.Context()), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": auth.MsgProfileUpdated,
		"user":    id,
	})
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	var req auth.ChangePasswordInput
	if !decode(w, r, &req) {
		return
	}
	msg, err := h.accounts.ChangePassword(r.Context(), accountID(r.Context()), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeMessage(w, msg)
}

func (h *Handler) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), id)))
	})
}

// requireSession rejects requests without a valid session before any flow runs.
func (h *Handler) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := h.sessions.Resolve(sessionToken(r))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), accountIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// sessionToken prefers a Bearer header and falls back to the session cookie.
func sessionToken(r *http.Request) string {
	if tok, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(tok)
	}
	if c, err := r.Cookie(sessionCookie); err == nil {
		return c.Value
	}
	return ""
}

func accountID(ctx context.Context) string {
	id, _ := ctx.Value(accountIDKey{}).(string)
	return id
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, msgBadPayload)
		return false
	}
	return true
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrInvalidInput),
		errors.Is(err, auth.ErrDuplicateEmail),
		errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrEmailNotVerified),
		errors.Is(err, auth.ErrTokenInvalid),
		errors.Is(err, auth.ErrPasswordTooShort):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		if !errors.Is(err, auth.ErrInternal) {
			logging.FromContext(r.Context(), h.logger).Error("unexpected error",
				zap.String("path", r.URL.Path), zap.Error(err))
		}
		msg = auth.ErrInternal.Error()
	}
	writeJSONError(w, status, msg)
}

func writeMessage(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusOK, map[string]string{"message": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes an error response in JSON.
func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
