// Package cartapi is the storefront client of the cart service. Every call
// takes the caller's bearer credential explicitly.
package cartapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/emart/emart-cart/storefront/internal/apiclient"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "http://localhost:8081/api/v1"
	DefaultTimeout = 8 * time.Second
)

var ErrUnauthorized = apiclient.ErrUnauthorized

type APIError = apiclient.APIError

type Item struct {
	ItemID      string    `json:"item_id"`
	ProductID   string    `json:"product_id"`
	ProductName string    `json:"product_name"`
	Category    string    `json:"category"`
	Price       float64   `json:"price"`
	Quantity    int       `json:"quantity"`
	ImageURL    string    `json:"image_url,omitempty"`
	AddedAt     time.Time `json:"added_at"`
}

type Cart struct {
	UserID     string    `json:"user_id"`
	Items      []Item    `json:"items"`
	TotalItems int       `json:"total_items"`
	TotalPrice float64   `json:"total_price"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Summary struct {
	TotalItems int     `json:"total_items"`
	TotalPrice float64 `json:"total_price"`
	Currency   string  `json:"currency"`
}

// NewItem describes a product to put in the cart.
type NewItem struct {
	ProductID   string  `json:"product_id"`
	ProductName string  `json:"product_name"`
	Category    string  `json:"category"`
	Price       float64 `json:"price"`
	Quantity    int     `json:"quantity"`
	ImageURL    string  `json:"image_url,omitempty"`
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Code    string          `json:"code"`
	Data    json.RawMessage `json:"data"`
}

type Config struct {
	BaseURL string
	Timeout time.Duration
	// OnUnauthorized runs whenever the cart service rejects the credential.
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
		Name:           "cart-api",
		BaseURL:        cfg.BaseURL,
		Timeout:        cfg.Timeout,
		OnUnauthorized: cfg.OnUnauthorized,
		Transport:      cfg.Transport,
	}, log)}
}

func (c *Client) GetCart(ctx context.Context, token string) (*Cart, error) {
	var cart Cart
	if err := c.call(ctx, http.MethodGet, "/cart", token, nil, &cart); err != nil {
		return nil, err
	}
	return &cart, nil
}

func (c *Client) GetSummary(ctx context.Context, token string) (Summary, error) {
	var s Summary
	err := c.call(ctx, http.MethodGet, "/cart/summary", token, nil, &s)
	return s, err
}

func (c *Client) AddItem(ctx context.Context, token string, item NewItem) (*Cart, error) {
	var cart Cart
	if err := c.call(ctx, http.MethodPost, "/cart/items", token, item, &cart); err != nil {
		return nil, err
	}
	return &cart, nil
}

func (c *Client) UpdateItem(ctx context.Context, token, itemID string, quantity int) (*Cart, error) {
	var cart Cart
	body := struct {
		Quantity int `json:"quantity"`
	}{quantity}
	if err := c.call(ctx, http.MethodPut, itemPath(itemID), token, body, &cart); err != nil {
		return nil, err
	}
	return &cart, nil
}

func (c *Client) RemoveItem(ctx context.Context, token, itemID string) (*Cart, error) {
	var cart Cart
	if err := c.call(ctx, http.MethodDelete, itemPath(itemID), token, nil, &cart); err != nil {
		return nil, err
	}
	return &cart, nil
}

func (c *Client) ClearCart(ctx context.Context, token string) error {
	return c.call(ctx, http.MethodDelete, "/cart", token, nil, nil)
}

func itemPath(itemID string) string {
	return "/cart/items/" + url.PathEscape(itemID)
}

// call unwraps the response envelope into out. A 2xx envelope with
// success=false is reported as an APIError.
func (c *Client) call(ctx context.Context, method, path, token string, in, out interface{}) error {
	raw, err := c.api.Do(ctx, method, path, token, in)
	if err != nil {
		return err
	}

	// 204 and other bodiless successes carry no envelope
	if len(bytes.TrimSpace(raw)) == 0 {
		if out == nil {
			return nil
		}
		return fmt.Errorf("decode %s %s: empty response body", method, path)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	if !env.Success {
		return &APIError{Status: http.StatusOK, Code: env.Code, Message: env.Message}
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode %s %s data: %w", method, path, err)
	}
	return nil
}
