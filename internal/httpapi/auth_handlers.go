package httpapi

import (
	"net/http"

	"karuna.org/internal/audit"
	"karuna.org/internal/identity"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type passwordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var in identity.RegisterInput
	if err := decodeJSON(r, &in); err != nil {
		a.fail(w, r, err)
		return
	}
	profile, err := a.identity.Register(r.Context(), in)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, "registration successful", profile)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	session, err := a.identity.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "login successful", session)
}

// handleLogout is an audit marker; tokens are stateless and simply expire.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.logout", nil)
	writeOK(w, http.StatusOK, "logged out", nil)
}

func (a *API) handleProfile(w http.ResponseWriter, r *http.Request) {
	id := principal(r).Subject
	switch r.Method {
	case http.MethodGet:
		profile, err := a.identity.Profile(r.Context(), id)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeOK(w, http.StatusOK, "", profile)
	case http.MethodPut:
		var upd identity.ProfileUpdate
		if err := decodeJSON(r, &upd); err != nil {
			a.fail(w, r, err)
			return
		}
		profile, err := a.identity.UpdateProfile(r.Context(), id, upd)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeOK(w, http.StatusOK, "profile updated", profile)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
	}
}

func (a *API) handlePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	var req passwordRequest
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.identity.ChangePassword(r.Context(), principal(r).Subject, req.CurrentPassword, req.NewPassword); err != nil {
		a.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "password changed", nil)
}
