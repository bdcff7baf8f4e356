package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	apperrors "github.com/Guillaume29200/esport-cms/internal/errors"
	"github.com/Guillaume29200/esport-cms/internal/hook"
	"github.com/Guillaume29200/esport-cms/internal/httputil"
	"github.com/Guillaume29200/esport-cms/internal/identity"
)

type handlers struct {
	svc *Service
}

func (h *handlers) register(w http.ResponseWriter, r *http.Request) {
	var in RegisterInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	user, err := h.svc.Register(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	profile, err := h.svc.Profile(r.Context(), user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]interface{}{"user": profile})
}

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	var in loginRequest
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if in.Login == "" || in.Password == "" {
		httputil.WriteError(w, r, apperrors.BadRequest("login and password are required"))
		return
	}

	res, err := h.svc.Login(r.Context(), in.Login, in.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	profile, err := h.svc.Profile(r.Context(), res.User)
	if err != nil {
		writeError(w, r, err)
		return
	}

	body := map[string]interface{}{
		"token":      res.Token,
		"token_type": "Bearer",
		"expires_at": res.ExpiresAt.UTC().Format(time.RFC3339),
		"user":       profile,
	}
	body, err = hook.ApplyAs(r.Context(), h.svc.hooks, hook.AuthLoginResponse, body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, body)
}

func (h *handlers) logout(w http.ResponseWriter, r *http.Request) {
	id, _ := identity.From(r.Context())
	if err := h.svc.Logout(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) me(w http.ResponseWriter, r *http.Request) {
	id, _ := identity.From(r.Context())
	user, err := h.svc.User(r.Context(), id.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	profile, err := h.svc.Profile(r.Context(), user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, profile)
}

func (h *handlers) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.svc.Users(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"users": users})
}

type roleRequest struct {
	Role string `json:"role"`
}

func (h *handlers) setRole(w http.ResponseWriter, r *http.Request) {
	var in roleRequest
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	target := mux.Vars(r)["id"]
	if caller, _ := identity.From(r.Context()); caller.UserID == target {
		httputil.WriteError(w, r, apperrors.BadRequest("You cannot change your own role"))
		return
	}
	user, err := h.svc.SetRole(r.Context(), target, in.Role)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, user)
}

// writeError maps domain errors to service errors.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		err = apperrors.Unauthorized("Invalid credentials")
	case errors.Is(err, ErrUserExists):
		err = apperrors.Conflict("Username or email already taken", err)
	case errors.Is(err, ErrUserNotFound):
		err = apperrors.NotFound("user", mux.Vars(r)["id"])
	}
	httputil.WriteError(w, r, err)
}
