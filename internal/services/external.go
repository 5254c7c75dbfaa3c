package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/OS2borgerPC/os2borgerpc-admin-site-sub000/internal/models"
)

// HTTPCredentialValidator validates citizen credentials against an external
// loan system over HTTP. The backend answers with the citizen's stable
// patron id, or an empty id when the credentials are rejected.
type HTTPCredentialValidator struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPCredentialValidator creates a validator with the given timeout.
func NewHTTPCredentialValidator(baseURL string, timeout time.Duration) *HTTPCredentialValidator {
	return &HTTPCredentialValidator{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: timeout},
	}
}

func (v *HTTPCredentialValidator) Validate(ctx context.Context, username, password string, site *models.Site) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"username": username,
		"password": password,
		"site_uid": site.UID,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.BaseURL+"/validate", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.Client.Do(req)
	if err != nil {
		return "", &models.TransientExternalError{Op: "credential validation", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &models.TransientExternalError{
			Op:  "credential validation",
			Err: fmt.Errorf("backend returned %d", resp.StatusCode),
		}
	}

	var body struct {
		PatronID string `json:"patron_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", &models.TransientExternalError{Op: "credential validation", Err: err}
	}
	return body.PatronID, nil
}

// HTTPBookingClient asks an external booking system how long a citizen may
// stay logged in. Zero minutes denies the login.
type HTTPBookingClient struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPBookingClient creates a booking client with the given timeout.
func NewHTTPBookingClient(baseURL string, timeout time.Duration) *HTTPBookingClient {
	return &HTTPBookingClient{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: timeout},
	}
}

func (b *HTTPBookingClient) CheckBooking(ctx context.Context, identity string, site *models.Site, quarantinedFrom time.Time, allowIdle bool) (int, string, error) {
	payload, err := json.Marshal(map[string]any{
		"identity":         identity,
		"site_uid":         site.UID,
		"quarantined_from": quarantinedFrom.Format(time.RFC3339),
		"allow_idle":       allowIdle,
	})
	if err != nil {
		return 0, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.BaseURL+"/booking", bytes.NewReader(payload))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.Client.Do(req)
	if err != nil {
		return 0, "", &models.TransientExternalError{Op: "booking lookup", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, "", &models.TransientExternalError{
			Op:  "booking lookup",
			Err: fmt.Errorf("backend returned %d", resp.StatusCode),
		}
	}

	var body struct {
		Minutes int    `json:"minutes"`
		Note    string `json:"note"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, "", &models.TransientExternalError{Op: "booking lookup", Err: err}
	}
	return body.Minutes, body.Note, nil
}
