// Package clinic is the narrow client for the external scheduling
// system. Only the calls the concierge needs are exposed; the rest of
// that API does not exist for us.
package clinic

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/vitacare/concierge/internal/config"
)

// tokenLifetime is slightly under the server-side expiry so a refresh
// always lands before a 401.
const tokenLifetime = 50 * time.Minute

// Client talks to the scheduling system with a cached bearer token.
type Client struct {
	http   *resty.Client
	logger *slog.Logger

	appToken string

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

func New(cfg config.ClinicConfig, logger *slog.Logger) *Client {
	http := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(30 * time.Second).
		SetHeader("Accept", "application/json")

	return &Client{
		http:     http,
		logger:   logger,
		appToken: cfg.AppToken,
	}
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	Token       string `json:"token"`
}

func (c *Client) ensureAuth(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExp) {
		return c.token, nil
	}

	var out loginResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"app_token": c.appToken}).
		SetResult(&out).
		Post("/api/login")
	if err != nil {
		return "", fmt.Errorf("clinic login: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("clinic login: http %d", resp.StatusCode())
	}

	token := out.AccessToken
	if token == "" {
		token = out.Token
	}
	if token == "" {
		return "", fmt.Errorf("clinic login: no token returned")
	}

	c.token = token
	c.tokenExp = time.Now().Add(tokenLifetime)
	c.logger.Debug("clinic token refreshed")
	return c.token, nil
}

// req builds an authenticated request.
func (c *Client) req(ctx context.Context) (*resty.Request, error) {
	token, err := c.ensureAuth(ctx)
	if err != nil {
		return nil, err
	}
	return c.http.R().SetContext(ctx).SetAuthToken(token), nil
}

func checkStatus(resp *resty.Response, op string) error {
	if resp.IsError() {
		return fmt.Errorf("clinic %s: http %d: %s", op, resp.StatusCode(), resp.String())
	}
	return nil
}
