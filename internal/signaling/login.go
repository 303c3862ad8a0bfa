package signaling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
}

// LoginResponse is the relay's answer to a login.
type LoginResponse struct {
	Token string `json:"token"`
}

// Login obtains a bearer token from the relay at server. client may be nil.
func Login(ctx context.Context, server string, req LoginRequest, client *http.Client) (Identity, error) {
	if req.Email == "" {
		return Identity{}, fmt.Errorf("login: %w", ErrNoCredentials)
	}
	if client == nil {
		client = http.DefaultClient
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Identity{}, err
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(server, "/")+"/auth/login", bytes.NewReader(body))
	if err != nil {
		return Identity{}, err
	}
	hreq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(hreq)
	if err != nil {
		return Identity{}, fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Identity{}, fmt.Errorf("login: status %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	var out LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Identity{}, fmt.Errorf("login: decode response: %w", err)
	}
	if out.Token == "" {
		return Identity{}, fmt.Errorf("login: relay returned no token")
	}
	log.Infof("logged in as %s", req.Email)
	return Identity{Email: req.Email, Token: out.Token}, nil
}

// Logout ends the identity's session on the relay.
func Logout(ctx context.Context, server string, id Identity, client *http.Client) error {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, strings.TrimRight(server, "/")+"/sse/logout", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+id.Token)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("logout: status %s", resp.Status)
	}
	return nil
}
