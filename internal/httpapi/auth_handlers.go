package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"vakt.org/internal/auth"
)

type callbackRequest struct {
	Code  string `json:"code"`
	State string `json:"state"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type loginResponse struct {
	User   auth.Principal `json:"user"`
	Tokens auth.TokenPair `json:"tokens"`
}

func (a *API) handleProviders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"providers": a.svc.Providers(),
	})
}

func providerFromPath(path, prefix string) string {
	return strings.Trim(strings.TrimPrefix(path, prefix), "/")
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	provider := providerFromPath(r.URL.Path, "/v1/auth/login/")
	if provider == "" {
		writeError(w, r, http.StatusNotFound, "provider is required")
		return
	}

	url, err := a.svc.LoginURL(r.Context(), provider, r.URL.Query().Get("state"))
	if err != nil {
		if errors.Is(err, auth.ErrProviderNotFound) {
			writeError(w, r, http.StatusNotFound, "provider not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "login url failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": url})
}

func (a *API) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	provider := providerFromPath(r.URL.Path, "/v1/auth/callback/")
	if provider == "" {
		writeError(w, r, http.StatusNotFound, "provider is required")
		return
	}

	var req callbackRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		writeError(w, r, http.StatusBadRequest, "code is required")
		return
	}

	principal, pair, err := a.svc.HandleCallback(r.Context(), provider, req.Code, req.State, requestMeta(r))
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrProviderNotFound):
			writeError(w, r, http.StatusNotFound, "provider not found")
		case errors.Is(err, auth.ErrInvalidCredentials):
			writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		default:
			writeError(w, r, http.StatusBadGateway, "authentication failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{User: principal, Tokens: pair})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, r, http.StatusBadRequest, "refreshToken is required")
		return
	}

	pair, err := a.svc.Refresh(r.Context(), req.RefreshToken, requestMeta(r))
	if err != nil {
		if errors.Is(err, auth.ErrInvalidRefreshToken) {
			writeError(w, r, http.StatusUnauthorized, "invalid refresh token")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "refresh failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tokens": pair})
}

func (a *API) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "not authenticated")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": principal})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "not authenticated")
		return
	}
	if err := a.svc.Logout(r.Context(), principal.ID, requestMeta(r)); err != nil {
		writeError(w, r, http.StatusInternalServerError, "logout failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
