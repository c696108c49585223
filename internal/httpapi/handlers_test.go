package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"karuna.org/internal/auth"
	"karuna.org/internal/donation"
	"karuna.org/internal/identity"
	"karuna.org/internal/kyc"
	"karuna.org/internal/payment"
	"karuna.org/internal/stream"
)

type apiClient struct {
	baseURL  string
	client   *http.Client
	t        *testing.T
	identity *identity.Service
}

type body struct {
	Success   bool            `json:"success"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
	Errors    json.RawMessage `json:"errors"`
	RequestID string          `json:"request_id"`
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	tokens, err := auth.NewTokens("test-secret")
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	builder, err := payment.NewBuilder(payment.Config{
		UPIID:     "karuna.relief@sbi",
		PayeeName: "Karuna Relief Fund",
		Bank: payment.BankAccount{
			AccountName:   "Karuna Relief Fund",
			AccountNumber: "00112233445566",
			IFSC:          "SBIN0070123",
			BankName:      "State Bank of India",
		},
	})
	if err != nil {
		t.Fatalf("builder: %v", err)
	}
	accounts := identity.NewInMemory()
	idSvc := identity.NewService(accounts, tokens)
	events := stream.New()

	api := New(ReadyProbe{}, Services{
		Identity:  idSvc,
		KYC:       kyc.NewService(kyc.NewInMemory(), tokens),
		Donations: donation.NewService(donation.NewInMemory(), accounts, builder, donation.WithPublisher(events)),
		Payments:  builder,
		Tokens:    tokens,
		Stream:    events,
	}, Options{Version: "test", Environment: "test", RateBurst: 1000, RatePerSec: 1000})

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL:  srv.URL,
		client:   srv.Client(),
		t:        t,
		identity: idSvc,
	}
}

func (c *apiClient) do(method, path string, payload any, token string) *http.Response {
	c.t.Helper()
	var buf []byte
	if payload != nil {
		var err error
		buf, err = json.Marshal(payload)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, payload any, token string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodPost, path, payload, token)
}

func (c *apiClient) get(path string, params url.Values, token string) *http.Response {
	c.t.Helper()
	if params != nil {
		path += "?" + params.Encode()
	}
	return c.do(http.MethodGet, path, nil, token)
}

// expect asserts the status and returns the decoded envelope.
func (c *apiClient) expect(resp *http.Response, code int) body {
	c.t.Helper()
	b := decode[body](c.t, resp)
	if resp.StatusCode != code {
		c.t.Fatalf("%s %s: expected %d, got %d (%s)", resp.Request.Method, resp.Request.URL.Path, code, resp.StatusCode, b.Message)
	}
	return b
}

func (c *apiClient) adminToken() string {
	c.t.Helper()
	ctx := context.Background()
	if _, err := c.identity.CreateAdmin(ctx, "Ops Desk", "ops@karuna.org", "operator-pass-1"); err != nil {
		c.t.Fatalf("create admin: %v", err)
	}
	session, err := c.identity.Login(ctx, "ops@karuna.org", "operator-pass-1")
	if err != nil {
		c.t.Fatalf("admin login: %v", err)
	}
	return session.Token
}

func (c *apiClient) registerNGO(email, phone string) identity.Profile {
	c.t.Helper()
	b := c.expect(c.post("/api/auth/register", ngoRegistration(email, phone), ""), http.StatusCreated)
	return data[identity.Profile](c.t, b)
}

func (c *apiClient) login(email, password string) string {
	c.t.Helper()
	b := c.expect(c.post("/api/auth/login", map[string]string{"email": email, "password": password}, ""), http.StatusOK)
	return data[identity.Session](c.t, b).Token
}

func ngoRegistration(email, phone string) map[string]any {
	return map[string]any{
		"type":            "ngo",
		"name":            "Harvest Hands",
		"email":           email,
		"phone":           phone,
		"password":        "green-fields-9",
		"registration_id": "KL/TR/2019/0042",
		"district":        "Wayanad",
		"focus_areas":     []string{"agriculture", "flood relief"},
	}
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func data[T any](t *testing.T, b body) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(b.Data, &v); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	return v
}

func upiRequest(recipientID string, amount any) map[string]any {
	return map[string]any{
		"amount":       amount,
		"recipient_id": recipientID,
		"donor": map[string]any{
			"name":    "Asha Menon",
			"email":   "asha@example.com",
			"message": "For the monsoon crop",
		},
	}
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	api := newTestAPI(t)
	api.registerNGO("ngo@example.org", "9876543210")

	b := api.expect(api.post("/api/auth/register", ngoRegistration("NGO@example.org", "9876543211"), ""), http.StatusBadRequest)
	if b.Success || !strings.Contains(b.Message, "already exists") {
		t.Fatalf("unexpected envelope: %+v", b)
	}
	if b.RequestID == "" {
		t.Fatal("expected request_id on error envelope")
	}
}

func TestRegisterValidationListsFields(t *testing.T) {
	api := newTestAPI(t)
	req := ngoRegistration("not-an-email", "9876543210")
	delete(req, "registration_id")

	b := api.expect(api.post("/api/auth/register", req, ""), http.StatusBadRequest)
	var fields []fieldError
	if err := json.Unmarshal(b.Errors, &fields); err != nil {
		t.Fatalf("decode errors: %v", err)
	}
	got := map[string]bool{}
	for _, f := range fields {
		got[f.Field] = true
	}
	if !got["email"] || !got["registration_id"] {
		t.Fatalf("expected email and registration_id errors, got %+v", fields)
	}
}

func TestRegisterRejectsUnknownFields(t *testing.T) {
	api := newTestAPI(t)
	req := ngoRegistration("ngo@example.org", "9876543210")
	req["role"] = "admin"
	api.expect(api.post("/api/auth/register", req, ""), http.StatusBadRequest)
}

func TestLoginDoesNotRevealWhichPartFailed(t *testing.T) {
	api := newTestAPI(t)
	api.registerNGO("ngo@example.org", "9876543210")

	wrongPassword := api.expect(api.post("/api/auth/login", map[string]string{
		"email": "ngo@example.org", "password": "not-the-password",
	}, ""), http.StatusUnauthorized)
	unknownEmail := api.expect(api.post("/api/auth/login", map[string]string{
		"email": "nobody@example.org", "password": "not-the-password",
	}, ""), http.StatusUnauthorized)
	if wrongPassword.Message != unknownEmail.Message {
		t.Fatalf("messages differ: %q vs %q", wrongPassword.Message, unknownEmail.Message)
	}
}

func TestLockedAccountLooksLikeUnknownAccount(t *testing.T) {
	api := newTestAPI(t)
	api.registerNGO("ngo@example.org", "9876543210")

	for i := 0; i < 7; i++ {
		known := api.expect(api.post("/api/auth/login", map[string]string{
			"email": "ngo@example.org", "password": "not-the-password",
		}, ""), http.StatusUnauthorized)
		unknown := api.expect(api.post("/api/auth/login", map[string]string{
			"email": "ghost@nowhere.org", "password": "not-the-password",
		}, ""), http.StatusUnauthorized)
		if known.Message != unknown.Message {
			t.Fatalf("attempt %d: messages differ: %q vs %q", i, known.Message, unknown.Message)
		}
	}
	api.expect(api.post("/api/auth/login", map[string]string{
		"email": "ngo@example.org", "password": "green-fields-9",
	}, ""), http.StatusUnauthorized)
}

func TestProfileRequiresToken(t *testing.T) {
	api := newTestAPI(t)
	resp := api.get("/api/auth/profile", nil, "")
	if resp.Header.Get("WWW-Authenticate") == "" {
		t.Fatal("expected WWW-Authenticate header")
	}
	api.expect(resp, http.StatusUnauthorized)

	api.expect(api.get("/api/auth/profile", nil, "garbage"), http.StatusUnauthorized)
}

func TestProfileAndPasswordFlow(t *testing.T) {
	api := newTestAPI(t)
	api.registerNGO("ngo@example.org", "9876543210")
	token := api.login("ngo@example.org", "green-fields-9")

	b := api.expect(api.get("/api/auth/profile", nil, token), http.StatusOK)
	if p := data[identity.Profile](t, b); p.Email != "ngo@example.org" {
		t.Fatalf("unexpected profile: %+v", p)
	}

	b = api.expect(api.do(http.MethodPut, "/api/auth/profile", map[string]any{"district": "Idukki"}, token), http.StatusOK)
	if p := data[identity.Profile](t, b); p.District != "Idukki" {
		t.Fatalf("district not updated: %+v", p)
	}

	api.expect(api.do(http.MethodPut, "/api/auth/password", map[string]string{
		"current_password": "wrong-one-123", "new_password": "terraced-hills-4",
	}, token), http.StatusUnauthorized)
	api.expect(api.do(http.MethodPut, "/api/auth/password", map[string]string{
		"current_password": "green-fields-9", "new_password": "terraced-hills-4",
	}, token), http.StatusOK)
	api.login("ngo@example.org", "terraced-hills-4")
}

func farmerKYC(phone string) map[string]any {
	return map[string]any{
		"personal_info": map[string]any{
			"full_name":     "Ravi Kumar",
			"date_of_birth": "1980-04-12",
			"gender":        "male",
			"phone":         phone,
			"address": map[string]any{
				"line1":    "Near Panchayat Office",
				"district": "Palakkad",
				"state":    "Kerala",
				"pincode":  "678001",
			},
		},
		"farm_info": map[string]any{
			"size_acres":       2.5,
			"land_ownership":   "owned",
			"crops":            []string{"paddy", "banana"},
			"experience_years": 20,
		},
		"password": "paddy-season-7",
	}
}

func TestKYCFarmerSubmissionAndDuplicate(t *testing.T) {
	api := newTestAPI(t)

	b := api.expect(api.post("/api/kyc/farmer/register", farmerKYC("9447000001"), ""), http.StatusCreated)
	view := data[kyc.StatusView](t, b)
	if view.Status != kyc.StatusPending || view.ID == "" {
		t.Fatalf("unexpected status view: %+v", view)
	}

	b = api.expect(api.get("/api/kyc/status/farmer/"+view.ID, nil, ""), http.StatusOK)
	if got := data[kyc.StatusView](t, b); got.Status != kyc.StatusPending {
		t.Fatalf("unexpected status: %+v", got)
	}

	b = api.expect(api.post("/api/kyc/farmer/register", farmerKYC("9447000001"), ""), http.StatusBadRequest)
	if !strings.Contains(b.Message, "already exists") {
		t.Fatalf("unexpected message: %q", b.Message)
	}

	api.expect(api.get("/api/kyc/status/tractor/"+view.ID, nil, ""), http.StatusBadRequest)
	api.expect(api.get("/api/kyc/status/ngo/"+view.ID, nil, ""), http.StatusNotFound)
}

func (c *apiClient) postMultipart(path string, payload any, files map[string][]byte) *http.Response {
	c.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	raw, err := json.Marshal(payload)
	if err != nil {
		c.t.Fatalf("marshal payload: %v", err)
	}
	if err := mw.WriteField("data", string(raw)); err != nil {
		c.t.Fatalf("write field: %v", err)
	}
	for name, content := range files {
		fw, err := mw.CreateFormFile(name, name+".pdf")
		if err != nil {
			c.t.Fatalf("create file: %v", err)
		}
		_, _ = fw.Write(content)
	}
	if err := mw.Close(); err != nil {
		c.t.Fatalf("close multipart: %v", err)
	}
	resp, err := c.client.Post(c.baseURL+path, mw.FormDataContentType(), &buf)
	if err != nil {
		c.t.Fatalf("post multipart: %v", err)
	}
	return resp
}

func TestKYCFarmerMultipartDocuments(t *testing.T) {
	api := newTestAPI(t)
	pdf := []byte("%PDF-1.4\n% land record\n")

	api.expect(api.postMultipart("/api/kyc/farmer/register", farmerKYC("9447000003"),
		map[string][]byte{"passport": pdf}), http.StatusBadRequest)

	b := api.expect(api.postMultipart("/api/kyc/farmer/register", farmerKYC("9447000003"),
		map[string][]byte{"land_record": pdf}), http.StatusCreated)
	if view := data[kyc.StatusView](t, b); view.Status != kyc.StatusPending {
		t.Fatalf("unexpected status view: %+v", view)
	}
}

func TestKYCApprovalUnlocksLogin(t *testing.T) {
	api := newTestAPI(t)
	admin := api.adminToken()

	b := api.expect(api.post("/api/kyc/farmer/register", farmerKYC("9447000002"), ""), http.StatusCreated)
	id := data[kyc.StatusView](t, b).ID

	login := map[string]string{"identifier": "9447000002", "password": "paddy-season-7"}
	api.expect(api.post("/api/kyc/login", login, ""), http.StatusUnauthorized)

	api.expect(api.post("/api/kyc/review/farmer/"+id, map[string]string{"status": "approved"}, ""), http.StatusUnauthorized)
	api.expect(api.post("/api/kyc/review/farmer/"+id, map[string]string{"status": "rejected"}, admin), http.StatusBadRequest)
	api.expect(api.post("/api/kyc/review/farmer/"+id, map[string]string{"status": "approved"}, admin), http.StatusOK)

	b = api.expect(api.post("/api/kyc/login", login, ""), http.StatusOK)
	session := data[kyc.Session](t, b)
	if session.ID != id || session.Kind != kyc.KindFarmer {
		t.Fatalf("unexpected session: %+v", session)
	}

	b = api.expect(api.get("/api/kyc/me", nil, session.Token), http.StatusOK)
	app := data[kyc.Application](t, b)
	if app.Status != kyc.StatusApproved || app.Personal == nil || app.Personal.FullName != "Ravi Kumar" {
		t.Fatalf("unexpected application: %+v", app)
	}

	// KYC tokens do not open account routes.
	api.expect(api.get("/api/auth/profile", nil, session.Token), http.StatusForbidden)
}

func TestUPIPaymentCreateAndStatus(t *testing.T) {
	api := newTestAPI(t)
	ngo := api.registerNGO("ngo@example.org", "9876543210")

	resp := api.post("/api/direct-payment/upi/create", upiRequest(ngo.ID, 500), "")
	b := api.expect(resp, http.StatusCreated)
	view := data[paymentView](t, b)
	if !strings.HasPrefix(view.TransactionID, "TXN-UPI-") {
		t.Fatalf("unexpected transaction id %q", view.TransactionID)
	}
	if view.Status != donation.StatusPending {
		t.Fatalf("expected pending, got %s", view.Status)
	}
	if !strings.HasPrefix(view.QRCode, "data:image/png;base64,") {
		t.Fatalf("expected QR data URI, got %.40q", view.QRCode)
	}
	if view.Instructions.UPI == nil || !strings.Contains(view.Instructions.UPI.URL, "am=500.00") {
		t.Fatalf("unexpected UPI instructions: %+v", view.Instructions.UPI)
	}

	b = api.expect(api.get("/api/direct-payment/status/"+view.TransactionID, nil, ""), http.StatusOK)
	if strings.Contains(string(b.Data), "asha@example.com") {
		t.Fatal("public status leaked donor email")
	}
	if got := data[statusView](t, b); got.Status != donation.StatusPending || !got.Amount.Equal(view.Amount) {
		t.Fatalf("unexpected status view: %+v", got)
	}
}

func TestPaymentCreateRejectsBadInput(t *testing.T) {
	api := newTestAPI(t)
	ngo := api.registerNGO("ngo@example.org", "9876543210")

	b := api.expect(api.post("/api/direct-payment/upi/create", upiRequest(ngo.ID, 0.5), ""), http.StatusBadRequest)
	if !strings.Contains(string(b.Errors), "amount") {
		t.Fatalf("expected amount error, got %s", b.Errors)
	}
	api.expect(api.post("/api/direct-payment/upi/create", upiRequest("01J0000000000000000000ZZZZ", 500), ""), http.StatusNotFound)
	api.expect(api.post("/api/direct-payment/crypto/create", upiRequest(ngo.ID, 500), ""), http.StatusBadRequest)
	api.expect(api.get("/api/direct-payment/upi/create", nil, ""), http.StatusMethodNotAllowed)
}

func TestBankPaymentAwaitsVerification(t *testing.T) {
	api := newTestAPI(t)
	ngo := api.registerNGO("ngo@example.org", "9876543210")

	b := api.expect(api.post("/api/direct-payment/bank/create", upiRequest(ngo.ID, "2500.50"), ""), http.StatusCreated)
	view := data[paymentView](t, b)
	if view.Status != donation.StatusPendingVerification {
		t.Fatalf("expected pending_verification, got %s", view.Status)
	}
	if view.Instructions.Bank == nil || view.Instructions.Bank.Reference != view.TransactionID {
		t.Fatalf("unexpected bank instructions: %+v", view.Instructions.Bank)
	}
	if view.QRCode != "" {
		t.Fatal("bank transfer should not carry a QR code")
	}
}

func TestVerifyLifecycle(t *testing.T) {
	api := newTestAPI(t)
	ngo := api.registerNGO("ngo@example.org", "9876543210")
	ngoToken := api.login("ngo@example.org", "green-fields-9")
	admin := api.adminToken()

	b := api.expect(api.post("/api/direct-payment/upi/create", upiRequest(ngo.ID, 500), ""), http.StatusCreated)
	txn := data[paymentView](t, b).TransactionID
	proof := map[string]any{"proof": "UTR 412345678901"}

	api.expect(api.post("/api/direct-payment/verify/"+txn, proof, ""), http.StatusUnauthorized)
	api.expect(api.post("/api/direct-payment/verify/"+txn, proof, ngoToken), http.StatusForbidden)
	api.expect(api.post("/api/direct-payment/verify/TXN-UPI-1-000000", proof, admin), http.StatusNotFound)
	api.expect(api.post("/api/direct-payment/verify/TXN-UPI-1-000000", map[string]any{}, admin), http.StatusNotFound)
	api.expect(api.post("/api/direct-payment/refund/"+txn, map[string]any{"reason": "duplicate"}, admin), http.StatusBadRequest)
	api.expect(api.post("/api/direct-payment/verify/"+txn, map[string]any{
		"proof": "UTR 412345678901", "verified_amount": 499,
	}, admin), http.StatusBadRequest)

	b = api.expect(api.post("/api/direct-payment/verify/"+txn, proof, admin), http.StatusOK)
	first := data[donation.Record](t, b)
	if first.Status != donation.StatusCompleted || first.CompletedAt == nil || first.VerifiedBy == "" {
		t.Fatalf("unexpected verified record: %+v", first)
	}

	b = api.expect(api.post("/api/direct-payment/verify/"+txn, proof, admin), http.StatusOK)
	second := data[donation.Record](t, b)
	if !second.CompletedAt.Equal(*first.CompletedAt) {
		t.Fatalf("completed_at moved: %v -> %v", first.CompletedAt, second.CompletedAt)
	}

	b = api.expect(api.get("/api/ngo/dashboard/stats", nil, ngoToken), http.StatusOK)
	stats := data[donation.Stats](t, b)
	if !stats.TotalRaised.Equal(first.Amount) || stats.UniqueDonors != 1 || len(stats.Recent) != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.Recent[0].Donor != "Asha Menon" {
		t.Fatalf("unexpected recent donor: %q", stats.Recent[0].Donor)
	}

	b = api.expect(api.get("/api/ngo/dashboard/donations?status=completed", nil, ngoToken), http.StatusOK)
	if recs := data[[]donation.Record](t, b); len(recs) != 1 || recs[0].TransactionID != txn {
		t.Fatalf("unexpected dashboard donations: %+v", recs)
	}
	b = api.expect(api.get("/api/ngo/dashboard/donations?status=failed", nil, ngoToken), http.StatusOK)
	if recs := data[[]donation.Record](t, b); len(recs) != 0 {
		t.Fatalf("expected no failed donations, got %d", len(recs))
	}
	api.expect(api.get("/api/ngo/dashboard/donations?status=lost", nil, ngoToken), http.StatusBadRequest)

	b = api.expect(api.post("/api/direct-payment/refund/"+txn, map[string]any{"reason": "donor request"}, admin), http.StatusOK)
	if rec := data[donation.Record](t, b); rec.Status != donation.StatusRefunded || rec.RefundAmount == nil {
		t.Fatalf("unexpected refunded record: %+v", rec)
	}
	api.expect(api.post("/api/direct-payment/verify/"+txn, proof, admin), http.StatusBadRequest)
}

func TestFailLeavesPendingOnlyOnce(t *testing.T) {
	api := newTestAPI(t)
	ngo := api.registerNGO("ngo@example.org", "9876543210")
	admin := api.adminToken()

	b := api.expect(api.post("/api/direct-payment/upi/create", upiRequest(ngo.ID, 100), ""), http.StatusCreated)
	txn := data[paymentView](t, b).TransactionID

	api.expect(api.post("/api/direct-payment/fail/"+txn, map[string]string{"reason": "payment abandoned"}, admin), http.StatusOK)
	api.expect(api.post("/api/direct-payment/fail/"+txn, map[string]string{"reason": "again"}, admin), http.StatusBadRequest)

	b = api.expect(api.get("/api/direct-payment/status/"+txn, nil, ""), http.StatusOK)
	if got := data[statusView](t, b); got.Status != donation.StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
}

func TestNGODirectory(t *testing.T) {
	api := newTestAPI(t)
	first := api.registerNGO("one@example.org", "9876543210")
	second := ngoRegistration("two@example.org", "9876543211")
	second["registration_id"] = "KL/TR/2020/0100"
	second["district"] = "Kannur"
	second["focus_areas"] = []string{"education"}
	api.expect(api.post("/api/auth/register", second, ""), http.StatusCreated)

	b := api.expect(api.get("/api/ngo/all", url.Values{"focus_area": {"agriculture"}}, ""), http.StatusOK)
	page := data[ngoPage](t, b)
	if page.Total != 1 || len(page.Items) != 1 || page.Items[0].ID != first.ID {
		t.Fatalf("unexpected page: %+v", page)
	}

	b = api.expect(api.get("/api/ngo/all", url.Values{"limit": {"1"}}, ""), http.StatusOK)
	if page = data[ngoPage](t, b); page.Total != 2 || len(page.Items) != 1 {
		t.Fatalf("unexpected page: %+v", page)
	}
	api.expect(api.get("/api/ngo/all", url.Values{"limit": {"0"}}, ""), http.StatusBadRequest)

	b = api.expect(api.get("/api/ngo/"+first.ID, nil, ""), http.StatusOK)
	if got := data[identity.Profile](t, b); got.Name != "Harvest Hands" {
		t.Fatalf("unexpected ngo: %+v", got)
	}
	api.expect(api.get("/api/ngo/01J0000000000000000000ZZZZ", nil, ""), http.StatusNotFound)
}

func TestPaymentMethods(t *testing.T) {
	api := newTestAPI(t)
	b := api.expect(api.get("/api/direct-payment/methods", nil, ""), http.StatusOK)
	var payload struct {
		Currency string               `json:"currency"`
		Methods  []payment.MethodInfo `json:"methods"`
	}
	if err := json.Unmarshal(b.Data, &payload); err != nil {
		t.Fatalf("decode methods: %v", err)
	}
	if payload.Currency != "INR" || len(payload.Methods) == 0 {
		t.Fatalf("unexpected methods payload: %+v", payload)
	}
}

func TestUnknownRouteUsesEnvelope(t *testing.T) {
	api := newTestAPI(t)
	b := api.expect(api.get("/api/nothing-here", nil, ""), http.StatusNotFound)
	if b.Success || b.Message == "" {
		t.Fatalf("unexpected envelope: %+v", b)
	}
}

func TestDonationStreamAnonymisesEvents(t *testing.T) {
	api := newTestAPI(t)
	ngo := api.registerNGO("ngo@example.org", "9876543210")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, api.baseURL+"/api/donations/stream", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := api.client.Do(req)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	lines := bufio.NewReader(resp.Body)
	if first, _ := lines.ReadString('\n'); !strings.HasPrefix(first, ": stream started") {
		t.Fatalf("unexpected preamble %q", first)
	}

	req2 := upiRequest(ngo.ID, 250)
	req2["donor"].(map[string]any)["anonymous"] = true
	api.expect(api.post("/api/direct-payment/upi/create", req2, ""), http.StatusCreated)

	for {
		line, err := lines.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		payload, ok := strings.CutPrefix(strings.TrimSpace(line), "data: ")
		if !ok {
			continue
		}
		if strings.Contains(payload, "asha@example.com") || strings.Contains(payload, "Asha") {
			t.Fatalf("event leaked donor details: %s", payload)
		}
		var evt stream.Event
		if err := json.Unmarshal([]byte(payload), &evt); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if evt.Type != stream.EventCreated || evt.Donor != "Anonymous" || evt.RecipientID != ngo.ID {
			t.Fatalf("unexpected event: %+v", evt)
		}
		return
	}
}
