package objstore

import (
	"bytes"
	"context"
	"encoding/base64"
	"net/http"
	"path"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

// MaxPhotoSide is the longest edge of a stored profile photo.
const MaxPhotoSide = 800

var extensions = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"application/pdf": ".pdf",
}

// DecodeInline accepts raw base64 or a data URI and returns the bytes with
// their sniffed content type.
func DecodeInline(payload string) ([]byte, string, error) {
	payload = strings.TrimSpace(payload)
	if i := strings.Index(payload, ";base64,"); strings.HasPrefix(payload, "data:") && i > 0 {
		payload = payload[i+len(";base64,"):]
	}
	if payload == "" {
		return nil, "", ErrInvalidData
	}
	if base64.StdEncoding.DecodedLen(len(payload)) > MaxObjectBytes+3 {
		return nil, "", ErrTooLarge
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", ErrInvalidData
	}
	if len(data) > MaxObjectBytes {
		return nil, "", ErrTooLarge
	}
	ct := http.DetectContentType(data)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return data, ct, nil
}

// NormalizePhoto decodes an image, bounds it to MaxPhotoSide and re-encodes
// it as JPEG, dropping any embedded metadata.
func NormalizePhoto(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, ErrInvalidData
	}
	b := img.Bounds()
	if b.Dx() > MaxPhotoSide || b.Dy() > MaxPhotoSide {
		img = imaging.Fit(img, MaxPhotoSide, MaxPhotoSide, imaging.Lanczos)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Stored describes an uploaded inline payload.
type Stored struct {
	Key         string
	URL         string
	ContentType string
}

// PutPhoto normalises and stores an inline image under prefix.
func PutPhoto(ctx context.Context, s Store, prefix, payload string) (Stored, error) {
	data, _, err := DecodeInline(payload)
	if err != nil {
		return Stored{}, err
	}
	jpeg, err := NormalizePhoto(data)
	if err != nil {
		return Stored{}, err
	}
	key := path.Join(prefix, uuid.NewString()+".jpg")
	url, err := s.Put(ctx, key, "image/jpeg", jpeg)
	if err != nil {
		return Stored{}, err
	}
	return Stored{Key: key, URL: url, ContentType: "image/jpeg"}, nil
}

// PutDocument stores an inline JPEG, PNG or PDF under prefix unchanged.
func PutDocument(ctx context.Context, s Store, prefix, payload string) (Stored, error) {
	data, ct, err := DecodeInline(payload)
	if err != nil {
		return Stored{}, err
	}
	ext, ok := extensions[ct]
	if !ok {
		return Stored{}, ErrInvalidData
	}
	key := path.Join(prefix, uuid.NewString()+ext)
	url, err := s.Put(ctx, key, ct, data)
	if err != nil {
		return Stored{}, err
	}
	return Stored{Key: key, URL: url, ContentType: ct}, nil
}
