// Package httpapi exposes the auth core over HTTP: login and callback per
// provider, token refresh and verification, compliance export/erasure and a
// server-sent event stream of auth activity.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"vakt.org/internal/auth"
	"vakt.org/internal/obs"
	"vakt.org/internal/stream"
)

// ReadyProbe checks external readiness, typically a database ping.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the auth service.
type API struct {
	mux        *http.ServeMux
	svc        *auth.Service
	events     *stream.Stream
	readyProbe ReadyProbe
	version    string
}

// New wires the routes. The event stream is optional; without it the events
// endpoint reports the feature as disabled.
func New(svc *auth.Service, events *stream.Stream, rp ReadyProbe, version string) *API {
	a := &API{
		mux:        http.NewServeMux(),
		svc:        svc,
		events:     events,
		readyProbe: rp,
		version:    version,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/providers", a.handleProviders)
	a.mux.HandleFunc("/v1/auth/login/", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/callback/", a.handleCallback)
	a.mux.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/v1/auth/verify", a.handleVerify)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)

	a.mux.HandleFunc("/v1/compliance/export/", a.handleExport)
	a.mux.HandleFunc("/v1/compliance/user/", a.handleErase)
	a.mux.HandleFunc("/v1/compliance/report", a.handleReport)

	a.mux.HandleFunc("/v1/events", a.Stream)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped handler: request ids, access logging,
// security headers, bearer authentication and metrics. Logging sits inside
// RequestID so every log line carries the request id. Rate limiting is left
// to the caller so tests and internal deployments can skip it.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "vakt-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "vakt-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
