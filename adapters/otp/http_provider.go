package otp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/layer-3/garuda/core"
	"github.com/layer-3/garuda/ports"
)

// Provider is an HTTP client for the one-time-passcode service. Garuda
// neither generates nor stores codes; the provider owns the whole code
// lifecycle and garuda only holds the session token between send and
// verify.
type Provider struct {
	baseURL string
	http    *http.Client
	apiKey  string
}

// NewProvider creates an OTP provider client
func NewProvider(baseURL, apiKey string, timeout time.Duration) ports.OTPProvider {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Provider{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

type sendCodeRequest struct {
	Channel     string `json:"channel"`
	Destination string `json:"destination"`
}

type sendCodeResponse struct {
	SessionToken string `json:"session_token"`
}

// SendCode asks the provider to deliver a passcode and returns the session
// token the verify step must present
func (p *Provider) SendCode(ctx context.Context, channel, destination string) (string, error) {
	var resp sendCodeResponse
	err := p.post(ctx, "/otp/send", sendCodeRequest{Channel: channel, Destination: destination}, &resp)
	if err != nil {
		return "", fmt.Errorf("send code: %w", core.ClassifyProviderError(err))
	}
	if resp.SessionToken == "" {
		return "", fmt.Errorf("provider returned no session token")
	}
	return resp.SessionToken, nil
}

type verifyCodeRequest struct {
	SessionToken string `json:"session_token"`
	UserID       string `json:"user_id"`
	Code         string `json:"code"`
}

type verifyCodeResponse struct {
	UserID string `json:"user_id"`
}

// VerifyCode checks a code against the provider session
func (p *Provider) VerifyCode(ctx context.Context, sessionToken, userID, code string) (string, error) {
	var resp verifyCodeResponse
	req := verifyCodeRequest{SessionToken: sessionToken, UserID: userID, Code: code}
	if err := p.post(ctx, "/otp/verify", req, &resp); err != nil {
		return "", fmt.Errorf("verify code: %w", core.ClassifyProviderError(err))
	}
	return resp.UserID, nil
}

func (p *Provider) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrNetworkFailure, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrNetworkFailure, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", core.ErrProviderRateLimited, providerError(raw))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", core.ErrInvalidCredential, providerError(raw))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("otp provider returned %d: %s", resp.StatusCode, providerError(raw))
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("failed to decode provider response: %w", err)
		}
	}
	return nil
}

func providerError(raw []byte) string {
	var parsed struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error != "" {
		return parsed.Error
	}
	return string(raw)
}
