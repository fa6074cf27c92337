// Package authapi talks to the login service.
package authapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/emart/emart-cart/storefront/internal/apiclient"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "http://localhost:8080/api/v1"
	DefaultTimeout = 10 * time.Second
)

type SignupRequest struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Phone           string `json:"phone,omitempty"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword,omitempty"`
	City            string `json:"city,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Token     string   `json:"token"`
	TokenType string   `json:"tokenType"`
	ExpiresIn int64    `json:"expiresIn"`
	UserID    string   `json:"userId"`
	Name      string   `json:"name"`
	Email     string   `json:"email"`
	Roles     []string `json:"roles"`
	Message   string   `json:"message"`
	Success   bool     `json:"success"`
}

type Config struct {
	BaseURL        string
	Timeout        time.Duration
	OnUnauthorized func()
	Transport      http.RoundTripper
}

type Client struct {
	api *apiclient.Client
}

func New(cfg Config, log *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{api: apiclient.New(apiclient.Config{
		Name:           "auth-api",
		BaseURL:        cfg.BaseURL,
		Timeout:        cfg.Timeout,
		OnUnauthorized: cfg.OnUnauthorized,
		Transport:      cfg.Transport,
	}, log)}
}

func (c *Client) Signup(ctx context.Context, req SignupRequest) (*AuthResponse, error) {
	return c.authenticate(ctx, "/auth/signup", req)
}

func (c *Client) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	return c.authenticate(ctx, "/auth/login", req)
}

// Logout tells the login service to end the session behind token.
func (c *Client) Logout(ctx context.Context, token string) error {
	_, err := c.api.Do(ctx, http.MethodPost, "/auth/logout", token, nil)
	return err
}

func (c *Client) authenticate(ctx context.Context, path string, in interface{}) (*AuthResponse, error) {
	raw, err := c.api.Do(ctx, http.MethodPost, path, "", in)
	if err != nil {
		return nil, err
	}
	var resp AuthResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if !resp.Success || resp.Token == "" {
		return nil, &apiclient.APIError{Status: http.StatusOK, Message: resp.Message}
	}
	return &resp, nil
}
