package httpapi

import (
	"net/http"
	"strings"

	"karuna.org/internal/donation"
	"karuna.org/internal/identity"
	"karuna.org/internal/validate"
)

type ngoPage struct {
	Items  []identity.Profile `json:"items"`
	Total  int                `json:"total"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

func (a *API) handleNGOList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	q := r.URL.Query()
	limit, err := parseIntParam(q.Get("limit"), "limit", 20, 1, 100)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	offset, err := parseIntParam(q.Get("offset"), "offset", 0, 0, 1_000_000)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	items, total, err := a.identity.ListNGOs(r.Context(), identity.NGOFilter{
		FocusArea: strings.TrimSpace(q.Get("focus_area")),
		District:  strings.TrimSpace(q.Get("district")),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if items == nil {
		items = []identity.Profile{}
	}
	writeOK(w, http.StatusOK, "", ngoPage{Items: items, Total: total, Limit: limit, Offset: offset})
}

// handleNGO serves GET /api/ngo/:id.
func (a *API) handleNGO(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	parts, ok := pathParams(r.URL.Path, "/api/ngo/", 1)
	if !ok {
		writeError(w, r, http.StatusNotFound, "resource not found", nil)
		return
	}
	profile, err := a.identity.NGO(r.Context(), parts[0])
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "", profile)
}

// handleDashboardStats summarises donations to the calling recipient.
func (a *API) handleDashboardStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	stats, err := a.donations.Stats(r.Context(), principal(r).Subject)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "", stats)
}

// handleDashboardDonations lists donations addressed to the caller, newest
// first, optionally narrowed by status.
func (a *API) handleDashboardDonations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	q := r.URL.Query()
	limit, err := parseIntParam(q.Get("limit"), "limit", 50, 1, 200)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	status := donation.Status(strings.TrimSpace(q.Get("status")))
	if status != "" && !status.Valid() {
		a.fail(w, r, validate.Field("status", "is not a donation status"))
		return
	}
	recs, err := a.donations.ListForRecipient(r.Context(), principal(r).Subject, donation.ListFilter{Status: status, Limit: limit})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if recs == nil {
		recs = []donation.Record{}
	}
	writeOK(w, http.StatusOK, "", recs)
}
