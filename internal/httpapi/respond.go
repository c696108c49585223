package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"karuna.org/internal/audit"
	"karuna.org/internal/auth"
	"karuna.org/internal/donation"
	"karuna.org/internal/identity"
	"karuna.org/internal/kyc"
	"karuna.org/internal/obs"
	"karuna.org/internal/payment"
	"karuna.org/internal/validate"
)

// envelope is the body of every /api response.
type envelope struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	Data      any    `json:"data,omitempty"`
	Errors    any    `json:"errors,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type fieldError = validate.FieldError

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, code int, msg string, data any) {
	writeJSON(w, code, envelope{Success: true, Message: msg, Data: data})
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string, errs any) {
	writeJSON(w, code, envelope{
		Success:   false,
		Message:   msg,
		Errors:    errs,
		RequestID: audit.RequestIDFromContext(r.Context()),
	})
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed", nil)
}

// fail maps a service error onto a status code and envelope.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	var verr *validate.Error
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &verr):
		writeError(w, r, http.StatusBadRequest, "validation failed", verr.Fields)
	case errors.As(err, &tooLarge):
		writeError(w, r, http.StatusRequestEntityTooLarge, "request body too large", nil)
	case errors.Is(err, identity.ErrDuplicate),
		errors.Is(err, kyc.ErrDuplicate),
		errors.Is(err, donation.ErrDuplicateTransaction):
		writeError(w, r, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, donation.ErrInvalidState),
		errors.Is(err, kyc.ErrInvalidState),
		errors.Is(err, kyc.ErrInvalidKind),
		errors.Is(err, payment.ErrUnsupportedCurrency):
		writeError(w, r, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, identity.ErrInvalidCredentials),
		errors.Is(err, kyc.ErrInvalidCredentials),
		errors.Is(err, identity.ErrAccountInactive):
		writeError(w, r, http.StatusUnauthorized, err.Error(), nil)
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrUnauthorized):
		w.Header().Set("WWW-Authenticate", `Bearer realm="karuna"`)
		writeError(w, r, http.StatusUnauthorized, "authentication required", nil)
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "insufficient permissions", nil)
	case errors.Is(err, identity.ErrNotFound),
		errors.Is(err, kyc.ErrNotFound),
		errors.Is(err, donation.ErrNotFound),
		errors.Is(err, donation.ErrRecipientNotFound):
		writeError(w, r, http.StatusNotFound, err.Error(), nil)
	default:
		obs.LogError("httpapi", r.Method+" "+obs.CanonicalPath(r.URL.Path), err, logrus.Fields{
			"request_id": audit.RequestIDFromContext(r.Context()),
		})
		var detail any
		if !a.production {
			detail = []fieldError{{Field: "error", Message: err.Error()}}
		}
		writeError(w, r, http.StatusInternalServerError, "internal server error", detail)
	}
}

// decodeJSON reads exactly one JSON document; unknown fields are rejected.
// Decoding problems come back as validation errors.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return decodeError(err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return validate.Field("body", "unexpected data after JSON body")
		}
		return decodeError(err)
	}
	return nil
}

func decodeError(err error) error {
	var (
		tooLarge  *http.MaxBytesError
		typeErr   *json.UnmarshalTypeError
		syntaxErr *json.SyntaxError
	)
	switch {
	case errors.As(err, &tooLarge):
		return err
	case errors.Is(err, io.EOF):
		return validate.Field("body", "request body is required")
	case errors.As(err, &typeErr):
		return validate.Field(typeErr.Field, "has the wrong type")
	case errors.As(err, &syntaxErr), errors.Is(err, io.ErrUnexpectedEOF):
		return validate.Field("body", "is not valid JSON")
	case strings.HasPrefix(err.Error(), "json: unknown field "):
		name := strings.Trim(strings.TrimPrefix(err.Error(), "json: unknown field "), `"`)
		return validate.Field(name, "is not a recognised field")
	}
	return validate.Field("body", err.Error())
}

func parseIntParam(raw, name string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, validate.Field(name, "must be an integer")
	}
	if val < min || val > max {
		return 0, validate.Field(name, fmt.Sprintf("must be between %d and %d", min, max))
	}
	return val, nil
}

// pathParams splits what follows prefix into exactly n non-empty segments.
func pathParams(path, prefix string, n int) ([]string, bool) {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return nil, false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != n {
		return nil, false
	}
	for _, p := range parts {
		if p == "" {
			return nil, false
		}
	}
	return parts, true
}
