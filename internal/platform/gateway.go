package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/casalink/casalink/internal/infrastructure/config"
	"github.com/casalink/casalink/internal/infrastructure/logging"
)

// Attribute scopes on the platform's telemetry API.
const (
	ScopeClient = "CLIENT_SCOPE"
	ScopeServer = "SERVER_SCOPE"
	ScopeShared = "SHARED_SCOPE"
)

// defaultTokenTTL is assumed when a session token carries no parseable expiry.
const defaultTokenTTL = 15 * time.Minute

// Gateway is the call contract to the device-management platform.
type Gateway interface {
	// SendRPC delivers a named RPC method and parameter set to a
	// controller unit. An error means the command may or may not have
	// been applied; callers must not retry automatically.
	SendRPC(ctx context.Context, controllerID, method string, params any) error

	// LatestTelemetry returns the most recent value for each requested
	// telemetry key. Keys with no recorded value are absent from the map.
	LatestTelemetry(ctx context.Context, controllerID string, keys []string) (map[string]string, error)

	// Attributes returns the controller's attributes in the given scope.
	Attributes(ctx context.Context, controllerID, scope string) (map[string]any, error)
}

// Client implements Gateway over the platform's REST API.
type Client struct {
	baseURL  string
	username string
	password string

	httpClient *http.Client
	tokens     *TokenCache
	logger     *logging.Logger
}

// NewClient creates a platform gateway client from configuration.
// The RPC timeout bounds every outbound call, login included.
func NewClient(cfg config.Platform, logger *logging.Logger) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.RPCTimeout) * time.Millisecond,
		},
		logger: logger,
	}
	c.tokens = NewTokenCache(c.login)
	return c
}

// login authenticates with tenant credentials and returns a session token
// with its expiry. Fed to the token cache, never called directly.
func (c *Client) login(ctx context.Context) (string, time.Time, error) {
	body, err := json.Marshal(map[string]string{
		"username": c.username,
		"password": c.password,
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("marshalling login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/auth/login", bytes.NewReader(body))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("building login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", time.Time{}, ErrAuthFailed
	}
	if resp.StatusCode != http.StatusOK {
		return "", time.Time{}, fmt.Errorf("%w: login returned %d", ErrUnavailable, resp.StatusCode)
	}

	var loginResp struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		return "", time.Time{}, fmt.Errorf("decoding login response: %w", err)
	}
	if loginResp.Token == "" {
		return "", time.Time{}, fmt.Errorf("%w: empty session token", ErrAuthFailed)
	}

	return loginResp.Token, tokenExpiry(loginResp.Token), nil
}

// tokenExpiry reads the exp claim from the session token without verifying
// the signature (the platform signs with its own key). Falls back to a
// fixed TTL when the token is opaque.
func tokenExpiry(token string) time.Time {
	claims := jwt.RegisteredClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, &claims); err == nil && claims.ExpiresAt != nil {
		return claims.ExpiresAt.Time
	}
	return time.Now().Add(defaultTokenTTL)
}

// SendRPC delivers a named RPC method and parameter set to a controller unit.
func (c *Client) SendRPC(ctx context.Context, controllerID, method string, params any) error {
	body, err := json.Marshal(map[string]any{
		"method": method,
		"params": params,
	})
	if err != nil {
		return fmt.Errorf("marshalling rpc request: %w", err)
	}

	endpoint := c.baseURL + "/api/plugins/rpc/oneway/" + url.PathEscape(controllerID)
	resp, err := c.do(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: controller %s", ErrNotFound, controllerID)
	case resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices:
		return fmt.Errorf("%w: rpc %s returned %d", ErrUnavailable, method, resp.StatusCode)
	}

	return nil
}

// LatestTelemetry returns the most recent value for each requested key.
func (c *Client) LatestTelemetry(ctx context.Context, controllerID string, keys []string) (map[string]string, error) {
	endpoint := fmt.Sprintf("%s/api/plugins/telemetry/DEVICE/%s/values/timeseries?keys=%s",
		c.baseURL, url.PathEscape(controllerID), url.QueryEscape(strings.Join(keys, ",")))

	resp, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: controller %s", ErrNotFound, controllerID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: telemetry returned %d", ErrUnavailable, resp.StatusCode)
	}

	// Each key maps to a series ordered newest first.
	var series map[string][]struct {
		TS    int64  `json:"ts"`
		Value string `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&series); err != nil {
		return nil, fmt.Errorf("decoding telemetry response: %w", err)
	}

	values := make(map[string]string, len(series))
	for key, points := range series {
		if len(points) > 0 {
			values[key] = points[0].Value
		}
	}
	return values, nil
}

// Attributes returns the controller's attributes in the given scope.
func (c *Client) Attributes(ctx context.Context, controllerID, scope string) (map[string]any, error) {
	endpoint := fmt.Sprintf("%s/api/plugins/telemetry/DEVICE/%s/values/attributes/%s",
		c.baseURL, url.PathEscape(controllerID), url.PathEscape(scope))

	resp, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: controller %s", ErrNotFound, controllerID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: attributes returned %d", ErrUnavailable, resp.StatusCode)
	}

	var attrs []struct {
		Key   string `json:"key"`
		Value any    `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&attrs); err != nil {
		return nil, fmt.Errorf("decoding attributes response: %w", err)
	}

	values := make(map[string]any, len(attrs))
	for _, a := range attrs {
		values[a.Key] = a.Value
	}
	return values, nil
}

// do executes an authenticated request. A 401 response invalidates the
// cached token and the request is retried once with a fresh one.
func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, err
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return nil, fmt.Errorf("building request: %w", err)
		}
		req.Header.Set("X-Authorization", "Bearer "+token)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}

		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			resp.Body.Close()
			c.logger.Warn("platform session token rejected, refreshing")
			c.tokens.Invalidate()
			continue
		}

		return resp, nil
	}
}
