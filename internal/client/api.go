package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const authRequestTimeout = 10 * time.Second

type authRequest struct {
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password"`
}

type authResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
	UserID    uint   `json:"user_id"`
	Username  string `json:"username"`
	Error     string `json:"error"`
}

// apiBaseURL maps the board WebSocket URL onto the HTTP API root of the same server.
func apiBaseURL(wsURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(wsURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(parsed.Scheme) {
	case "ws", "http":
		parsed.Scheme = "http"
	case "wss", "https":
		parsed.Scheme = "https"
	default:
		return "", fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("missing host in %q", wsURL)
	}
	parsed.Path = "/api"
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return parsed.String(), nil
}

// authenticate posts credentials to /api/signup or /api/login.
func authenticate(ctx context.Context, client *http.Client, base, action string, req authRequest) (authResponse, error) {
	var resp authResponse
	body, err := json.Marshal(req)
	if err != nil {
		return resp, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/"+action, bytes.NewReader(body))
	if err != nil {
		return resp, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return resp, err
	}
	defer httpResp.Body.Close()

	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return resp, fmt.Errorf("decode %s response: %w", action, err)
	}
	if httpResp.StatusCode >= http.StatusBadRequest {
		reason := strings.TrimSpace(resp.Error)
		if reason == "" {
			reason = httpResp.Status
		}
		return resp, fmt.Errorf("%s", reason)
	}
	return resp, nil
}
