package httpapi

import (
	"net/http"
	"strings"

	"karuna.org/internal/kyc"
)

type kycLoginRequest struct {
	Identifier string `json:"identifier"`
	Phone      string `json:"phone"`
	Email      string `json:"email"`
	Password   string `json:"password"`
}

func (req kycLoginRequest) id() string {
	for _, v := range []string{req.Identifier, req.Phone, req.Email} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func statusOf(app kyc.Application) kyc.StatusView {
	return kyc.StatusView{
		ID:              app.ID,
		Kind:            app.Kind,
		Status:          app.Status,
		SubmittedAt:     app.Verification.SubmittedAt,
		ReviewedAt:      app.Verification.ReviewedAt,
		RejectionReason: app.Verification.RejectionReason,
	}
}

func (a *API) handleKYCFarmer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var in kyc.FarmerSubmission
	files, err := decodeSubmission(r, &in)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	mergeDocuments(&in.Documents, files)
	app, err := a.kyc.SubmitFarmer(r.Context(), in)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, "farmer KYC submitted", statusOf(app))
}

func (a *API) handleKYCNGO(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var in kyc.NGOSubmission
	files, err := decodeSubmission(r, &in)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	mergeDocuments(&in.Documents, files)
	app, err := a.kyc.SubmitNGO(r.Context(), in)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, "NGO KYC submitted", statusOf(app))
}

func (a *API) handleKYCLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req kycLoginRequest
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	session, err := a.kyc.Login(r.Context(), req.id(), req.Password)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "login successful", session)
}

// handleKYCStatus serves GET /api/kyc/status/:type/:id.
func (a *API) handleKYCStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	kind, id, ok := a.kycTarget(w, r, "/api/kyc/status/")
	if !ok {
		return
	}
	view, err := a.kyc.Status(r.Context(), kind, id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "", view)
}

func (a *API) handleKYCMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	app, err := a.kyc.Me(r.Context(), principal(r).Subject)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "", app)
}

// handleKYCReview serves POST /api/kyc/review/:type/:id.
func (a *API) handleKYCReview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	kind, id, ok := a.kycTarget(w, r, "/api/kyc/review/")
	if !ok {
		return
	}
	var in kyc.ReviewInput
	if err := decodeJSON(r, &in); err != nil {
		a.fail(w, r, err)
		return
	}
	app, err := a.kyc.Review(r.Context(), kind, id, principal(r).Subject, in)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "KYC application "+string(app.Status), app)
}

func (a *API) kycTarget(w http.ResponseWriter, r *http.Request, prefix string) (kyc.Kind, string, bool) {
	parts, ok := pathParams(r.URL.Path, prefix, 2)
	if !ok {
		writeError(w, r, http.StatusNotFound, "resource not found", nil)
		return "", "", false
	}
	kind, err := kyc.ParseKind(parts[0])
	if err != nil {
		a.fail(w, r, err)
		return "", "", false
	}
	return kind, parts[1], true
}
