// Package mailtrap sends transactional mail through the Mailtrap HTTP API.
package mailtrap

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type Config struct {
	APIKey    string
	APIURL    string
	FromEmail string
	FromName  string
}

type Service struct {
	cfg        Config
	httpClient *http.Client
}

// NewService creates a new email service instance.
func NewService(cfg Config) *Service {
	return &Service{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SendPasswordResetOTP delivers the 6-digit reset code. The caller decides
// what a failure means; this just reports it.
func (m *Service) SendPasswordResetOTP(to, otp string) error {
	subject := "Password Reset OTP"
	text := fmt.Sprintf("Your password reset OTP is: %s. This OTP will expire in 10 minutes.", otp)
	html := fmt.Sprintf(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h2>Password Reset Request</h2>
  <p>You requested to reset your password. Use the OTP below to verify your identity:</p>
  <div style="background-color: #f4f4f4; padding: 20px; text-align: center; margin: 20px 0;">
    <h1 style="color: #333; letter-spacing: 5px; margin: 0;">%s</h1>
  </div>
  <p>This OTP will expire in 10 minutes.</p>
  <p>If you didn't request this, please ignore this email.</p>
</div>`, otp)

	reqBody := map[string]any{
		"from": map[string]string{
			"email": m.cfg.FromEmail,
			"name":  m.cfg.FromName,
		},
		"to": []map[string]string{
			{"email": to},
		},
		"subject": subject,
		"text":    text,
		"html":    html,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshaling email request: %w", err)
	}

	httpReq, err := http.NewRequest(http.MethodPost, m.cfg.APIURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("creating HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+m.cfg.APIKey)

	resp, err := m.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("sending email request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errBody bytes.Buffer
		if _, readErr := errBody.ReadFrom(resp.Body); readErr == nil && errBody.Len() > 0 {
			return fmt.Errorf("mailtrap API returned status %d: %s", resp.StatusCode, errBody.String())
		}
		return fmt.Errorf("mailtrap API returned status %d", resp.StatusCode)
	}

	return nil
}
