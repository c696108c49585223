package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"karuna.org/internal/kyc"
	"karuna.org/internal/validate"
)

// multipartMemory is how much of a multipart body is buffered in memory
// before spilling to temporary files.
const multipartMemory = 4 << 20

func isMultipart(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "multipart/form-data"
}

// decodeSubmission reads a KYC submission either as a JSON body or as
// multipart form data with the JSON document in the "data" field and one
// file part per document type. File parts are returned inline-encoded so
// both paths reach the service in the same shape.
func decodeSubmission(r *http.Request, dst any) (map[string]kyc.DocumentUpload, error) {
	if !isMultipart(r) {
		return nil, decodeJSON(r, dst)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, err
		}
		return nil, validate.Field("body", "is not valid multipart form data")
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	raw := r.FormValue("data")
	if strings.TrimSpace(raw) == "" {
		return nil, validate.Field("data", "is required")
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return nil, decodeError(err)
	}

	docs := make(map[string]kyc.DocumentUpload)
	for field, headers := range r.MultipartForm.File {
		if len(headers) == 0 {
			continue
		}
		fh := headers[0]
		f, err := fh.Open()
		if err != nil {
			return nil, validate.Field(field, "could not be read")
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			return nil, validate.Field(field, "could not be read")
		}
		docs[field] = kyc.DocumentUpload{
			Filename: fh.Filename,
			Data:     base64.StdEncoding.EncodeToString(data),
		}
	}
	return docs, nil
}

func mergeDocuments(dst *map[string]kyc.DocumentUpload, files map[string]kyc.DocumentUpload) {
	if len(files) == 0 {
		return
	}
	if *dst == nil {
		*dst = make(map[string]kyc.DocumentUpload, len(files))
	}
	for k, v := range files {
		(*dst)[k] = v
	}
}
