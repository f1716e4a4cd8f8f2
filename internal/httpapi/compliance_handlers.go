package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"vakt.org/internal/audit"
	"vakt.org/internal/auth"
)

const (
	permComplianceExport = "compliance:export"
	permComplianceDelete = "compliance:delete"
	permComplianceReport = "compliance:report"
)

// allowSubjectAccess lets a user operate on their own audit trail; anything
// else needs the named compliance permission. Every decision lands on the
// audit trail either way.
func (a *API) allowSubjectAccess(w http.ResponseWriter, r *http.Request, userID, perm string) (auth.Principal, bool) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "not authenticated")
		return auth.Principal{}, false
	}
	if principal.ID == userID {
		return principal, true
	}
	if err := a.svc.RequirePermission(r.Context(), principal, perm, nil); err != nil {
		writeError(w, r, http.StatusForbidden, "permission denied")
		return auth.Principal{}, false
	}
	return principal, true
}

func (a *API) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	userID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/compliance/export/"), "/")
	if userID == "" {
		writeError(w, r, http.StatusNotFound, "user id is required")
		return
	}
	if _, ok := a.allowSubjectAccess(w, r, userID, permComplianceExport); !ok {
		return
	}

	events, err := a.svc.ExportUserData(r.Context(), userID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "export failed")
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"userId": userID,
		"events": events,
	})
}

func (a *API) handleErase(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	userID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/compliance/user/"), "/")
	if userID == "" {
		writeError(w, r, http.StatusNotFound, "user id is required")
		return
	}
	if _, ok := a.allowSubjectAccess(w, r, userID, permComplianceDelete); !ok {
		return
	}

	if err := a.svc.DeleteUserData(r.Context(), userID, requestMeta(r)); err != nil {
		writeError(w, r, http.StatusInternalServerError, "erasure failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "not authenticated")
		return
	}
	if err := a.svc.RequirePermission(r.Context(), principal, permComplianceReport, nil); err != nil {
		writeError(w, r, http.StatusForbidden, "permission denied")
		return
	}

	to := time.Now().UTC()
	from := to.AddDate(0, 0, -30)
	var err error
	if v := r.URL.Query().Get("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid from timestamp")
			return
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid to timestamp")
			return
		}
	}
	if to.Before(from) {
		writeError(w, r, http.StatusBadRequest, "period end precedes start")
		return
	}

	report, err := a.svc.ComplianceReport(r.Context(), from, to)
	if err != nil {
		if errors.Is(err, audit.ErrReportingUnsupported) {
			writeError(w, r, http.StatusNotImplemented, "reporting unsupported by audit store")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "report failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}
