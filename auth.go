package gardenchat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ============================================================================
// Account API
// ============================================================================

const (
	DefaultAPIURL  = "http://localhost:8088/api"
	DefaultTimeout = 30 * time.Second
)

// APIError is a non-2xx response from the account API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("api: HTTP %d: %s", e.StatusCode, e.Message)
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	Username string
	Token    string `json:"token"`
	Message  string `json:"message"`
	// ExpiresAt is zero when the token carries no readable exp claim.
	ExpiresAt time.Time
}

// AuthClient talks to the account endpoints of the chat backend.
type AuthClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewAuthClient creates an account API client. An empty baseURL selects
// DefaultAPIURL.
func NewAuthClient(baseURL string, httpClient *http.Client) *AuthClient {
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &AuthClient{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

type credentialsBody struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Register creates an account.
func (a *AuthClient) Register(ctx context.Context, username, password string) error {
	_, err := a.doRequest(ctx, http.MethodPost, "/users/register", credentialsBody{username, password})
	return err
}

// Login exchanges credentials for a bearer token.
func (a *AuthClient) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	data, err := a.doRequest(ctx, http.MethodPost, "/users/login", credentialsBody{username, password})
	if err != nil {
		return nil, err
	}
	var result LoginResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if result.Token == "" {
		return nil, errors.New("login response carries no token")
	}
	result.Username = username
	if exp, err := TokenExpiry(result.Token); err == nil {
		result.ExpiresAt = exp
	}
	return &result, nil
}

// Users lists the registered usernames.
func (a *AuthClient) Users(ctx context.Context) ([]string, error) {
	data, err := a.doRequest(ctx, http.MethodGet, "/users", nil)
	if err != nil {
		return nil, err
	}
	var users []struct {
		Username string `json:"username"`
	}
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	out := make([]string, 0, len(users))
	for _, u := range users {
		out = append(out, u.Username)
	}
	return out, nil
}

func (a *AuthClient) doRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}
	return data, nil
}

// TokenExpiry reads the exp claim of a JWT without verifying its signature.
// The broker remains the authority on whether the token is accepted.
func TokenExpiry(token string) (time.Time, error) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, fmt.Errorf("parse token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, errors.New("token has no exp claim")
	}
	return claims.ExpiresAt.Time, nil
}
