// Package apiclient is the JSON-over-HTTP transport shared by the storefront's
// service clients: bearer credentials, tracing, a circuit breaker and a
// uniform error model.
package apiclient

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

	"github.com/emart/emart-cart/pkg/circuitbreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// ErrUnauthorized matches any 401 answer. The credential is no longer
// accepted and the user has to sign in again.
var ErrUnauthorized = errors.New("unauthorized")

// APIError is a non-2xx answer, or a 2xx answer whose body reports failure.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == http.StatusUnauthorized
}

type Config struct {
	Name    string
	BaseURL string
	Timeout time.Duration
	// OnUnauthorized runs after every 401, before the error is returned.
	OnUnauthorized func()
	// Transport defaults to http.DefaultTransport. It is always wrapped
	// with otelhttp.
	Transport http.RoundTripper
	Breaker   *circuitbreaker.Settings
}

type Client struct {
	base           string
	http           *http.Client
	breaker        *circuitbreaker.Breaker[reply]
	onUnauthorized func()
	log            *zap.Logger
}

type reply struct {
	status int
	body   []byte
}

func New(cfg Config, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	bs := circuitbreaker.DefaultSettings(cfg.Name)
	if cfg.Breaker != nil {
		bs = *cfg.Breaker
	}
	return &Client{
		base: strings.TrimRight(cfg.BaseURL, "/"),
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(transport),
		},
		breaker:        circuitbreaker.New[reply](bs, log),
		onUnauthorized: cfg.OnUnauthorized,
		log:            log,
	}
}

// Do sends in as JSON (when non-nil) and returns the raw 2xx body. An empty
// token sends no Authorization header.
func (c *Client) Do(ctx context.Context, method, path, token string, in interface{}) ([]byte, error) {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
	}

	// Only transport failures and 5xx answers count against the breaker.
	rep, err := c.breaker.Execute(func() (reply, error) {
		rep, err := c.send(ctx, method, path, token, payload)
		if err != nil {
			return reply{}, err
		}
		if rep.status >= http.StatusInternalServerError {
			return rep, decodeError(rep)
		}
		return rep, nil
	})
	if err != nil {
		c.log.Debug("request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err))
		return nil, err
	}

	if rep.status == http.StatusUnauthorized && c.onUnauthorized != nil {
		c.onUnauthorized()
	}
	if rep.status < 200 || rep.status > 299 {
		return nil, decodeError(rep)
	}
	return rep.body, nil
}

func (c *Client) send(ctx context.Context, method, path, token string, payload []byte) (reply, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return reply{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return reply{}, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return reply{}, fmt.Errorf("read response: %w", err)
	}
	return reply{status: resp.StatusCode, body: data}, nil
}

// decodeError reads the message and code out of an error body. Both the
// cart service envelope and the login service answer carry a message.
func decodeError(rep reply) error {
	var body struct {
		Message string `json:"message"`
		Code    string `json:"code"`
		Error   string `json:"error"`
	}
	_ = json.Unmarshal(rep.body, &body)

	msg := body.Message
	if msg == "" {
		msg = body.Error
	}
	if msg == "" {
		msg = http.StatusText(rep.status)
	}
	return &APIError{Status: rep.status, Code: body.Code, Message: msg}
}
