package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"freight-chat/pkg/credential"
)

// NewRefreshFunc exchanges a refresh token at /auth/refresh for a new access
// token. The backend rotates refresh tokens, so the latest one is kept for
// the next exchange.
func NewRefreshFunc(baseURL, refreshToken string, hc *http.Client) credential.RefreshFunc {
	if hc == nil {
		hc = http.DefaultClient
	}
	var mu sync.Mutex
	current := refreshToken
	endpoint := strings.TrimRight(baseURL, "/") + "/auth/refresh"

	return func(ctx context.Context) (string, error) {
		mu.Lock()
		defer mu.Unlock()

		body, _ := json.Marshal(map[string]string{"refresh_token": current, "mode": "json"})
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return "", fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := hc.Do(req)
		if err != nil {
			return "", fmt.Errorf("refresh request failed: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", fmt.Errorf("failed to read response body: %w", err)
		}
		if resp.StatusCode >= 400 {
			return "", &APIError{Status: resp.StatusCode, Method: http.MethodPost, Path: "/auth/refresh", Body: string(respBody)}
		}

		var out struct {
			Data struct {
				AccessToken  string `json:"access_token"`
				RefreshToken string `json:"refresh_token"`
			} `json:"data"`
		}
		if err := json.Unmarshal(respBody, &out); err != nil {
			return "", fmt.Errorf("failed to decode refresh response: %w", err)
		}
		if out.Data.RefreshToken != "" {
			current = out.Data.RefreshToken
		}
		return out.Data.AccessToken, nil
	}
}

// Tokens is the token pair issued by /auth/login and /auth/refresh.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Expires      int64  `json:"expires"`
}

// Login exchanges email and password at /auth/login for a token pair.
func Login(ctx context.Context, baseURL, email, password string, hc *http.Client) (*Tokens, error) {
	if hc == nil {
		hc = http.DefaultClient
	}
	body, _ := json.Marshal(map[string]string{"email": email, "password": password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/auth/login", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("login request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, &APIError{Status: resp.StatusCode, Method: http.MethodPost, Path: "/auth/login", Body: string(respBody)}
	}

	var out struct {
		Data Tokens `json:"data"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("failed to decode login response: %w", err)
	}
	return &out.Data, nil
}
