// Command smoke exercises a running karuna-api: it registers an NGO, creates
// a UPI donation to it and reads the donation back.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"karuna.org/internal/obs"
)

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type client struct {
	base string
	http *http.Client
}

func main() {
	base := strings.TrimRight(os.Getenv("KARUNA_API_URL"), "/")
	if base == "" {
		base = "http://localhost:8080"
	}
	log := obs.Logger().WithField("api", base)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	c := &client{base: base, http: &http.Client{Timeout: 5 * time.Second}}
	txn, err := c.run(ctx)
	if err != nil {
		log.WithError(err).Fatal("smoke test failed")
	}
	log.WithFields(logrus.Fields{"transaction_id": txn}).Info("smoke test passed")
}

func (c *client) run(ctx context.Context) (string, error) {
	suffix := rand.IntN(1_000_000)
	var ngo struct {
		ID string `json:"id"`
	}
	if err := c.call(ctx, http.MethodPost, "/api/auth/register", map[string]any{
		"type":            "ngo",
		"name":            "Smoke Test Trust",
		"email":           fmt.Sprintf("smoke-%06d@example.org", suffix),
		"phone":           fmt.Sprintf("9%09d", suffix),
		"password":        "smoke-test-pass",
		"registration_id": fmt.Sprintf("SMOKE-%06d", suffix),
		"focus_areas":     []string{"agriculture"},
	}, http.StatusCreated, &ngo); err != nil {
		return "", fmt.Errorf("register: %w", err)
	}

	var created struct {
		TransactionID string `json:"transaction_id"`
		Status        string `json:"status"`
		QRCode        string `json:"qr_code"`
	}
	if err := c.call(ctx, http.MethodPost, "/api/direct-payment/upi/create", map[string]any{
		"amount":       "101.00",
		"recipient_id": ngo.ID,
		"donor":        map[string]any{"name": "Smoke Donor", "email": "donor@example.org"},
	}, http.StatusCreated, &created); err != nil {
		return "", fmt.Errorf("create payment: %w", err)
	}
	if !strings.HasPrefix(created.QRCode, "data:image/png;base64,") {
		return "", fmt.Errorf("create payment: missing QR code")
	}

	var status struct {
		Status string `json:"status"`
		Amount string `json:"amount"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/direct-payment/status/"+created.TransactionID, nil, http.StatusOK, &status); err != nil {
		return "", fmt.Errorf("status: %w", err)
	}
	if status.Status != created.Status || status.Amount != "101" {
		return "", fmt.Errorf("status mismatch: %+v", status)
	}
	return created.TransactionID, nil
}

func (c *client) call(ctx context.Context, method, path string, body any, want int, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	if resp.StatusCode != want {
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, env.Message)
	}
	return json.Unmarshal(env.Data, out)
}
