// Package transport issues authenticated JSON requests against the tracker
// backend. It attaches the bearer token, refreshes it once on 401, and tears
// the session down when the refresh cannot succeed.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/kalambet/missionlog/internal/credentials"
)

const (
	defaultTimeout  = 30 * time.Second
	maxErrorBody    = 1 << 20
	refreshPath     = "/auth/refresh/"
	loginPath       = "/auth/login/"
	logoutPath      = "/auth/logout/"
	requestIDHeader = "X-Request-ID"
)

// Invalidator is told when the session can no longer be recovered.
// Implemented by session.Context.
type Invalidator interface {
	Invalidate(reason error)
}

// Request describes one logical API call. Path is relative to the base URL.
// Anonymous requests never carry a token and are never refreshed.
type Request struct {
	Method    string
	Path      string
	Query     url.Values
	Body      any
	Anonymous bool
}

// Client is the authenticated transport.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     credentials.Store
	session    Invalidator
	logger     *slog.Logger

	// refreshes collapses concurrent refreshes of the same refresh token
	// into one call whose result every waiter shares.
	refreshes singleflight.Group
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithInvalidator registers the session controller that is notified when a
// refresh fails.
func WithInvalidator(inv Invalidator) Option {
	return func(c *Client) { c.session = inv }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client for baseURL that reads and writes tokens in tokens.
func New(baseURL string, tokens credentials.Store, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		tokens:     tokens,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do performs req and decodes a successful JSON response into out (which may
// be nil). On a 401 it refreshes the access token and retries exactly once.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	body, err := encodeBody(req.Body)
	if err != nil {
		return err
	}
	reqID := uuid.NewString()

	var token string
	if !req.Anonymous {
		token, _, err = c.tokens.Get(credentials.AccessTokenKey)
		if err != nil {
			return fmt.Errorf("reading access token: %w", err)
		}
	}

	resp, err := c.send(ctx, req, body, token, reqID)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized && !req.Anonymous {
		drainAndClose(resp)

		token, err = c.renewToken(ctx, token)
		if err != nil {
			return err
		}
		c.logger.Debug("retrying after token refresh", "method", req.Method, "path", req.Path, "request_id", reqID)

		resp, err = c.send(ctx, req, body, token, reqID)
		if err != nil {
			return err
		}
	}

	return decodeResponse(resp, out)
}

// renewToken returns the token to retry with. If another request already
// replaced the token that was sent, the stored one is reused; otherwise a
// refresh is performed.
func (c *Client) renewToken(ctx context.Context, sent string) (string, error) {
	current, _, err := c.tokens.Get(credentials.AccessTokenKey)
	if err != nil {
		return "", c.expire(err)
	}
	if current != "" && current != sent {
		return current, nil
	}

	refresh, ok, err := c.tokens.Get(credentials.RefreshTokenKey)
	if err != nil {
		return "", c.expire(err)
	}
	if !ok || refresh == "" {
		return "", c.expire(errNoRefreshToken)
	}

	v, err, shared := c.refreshes.Do(refresh, func() (any, error) {
		// Waiters share this call, so it must not die with the first caller's ctx.
		return c.refresh(context.WithoutCancel(ctx), refresh)
	})
	if err != nil {
		return "", c.expire(err)
	}
	if shared {
		c.logger.Debug("joined in-flight token refresh")
	}
	return v.(string), nil
}

type refreshResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}

func (c *Client) refresh(ctx context.Context, refreshToken string) (string, error) {
	var res refreshResponse
	err := c.Do(ctx, Request{
		Method:    http.MethodPost,
		Path:      refreshPath,
		Body:      map[string]string{"refresh": refreshToken},
		Anonymous: true,
	}, &res)
	if err != nil {
		return "", fmt.Errorf("refreshing token: %w", err)
	}
	if res.Access == "" {
		return "", errors.New("refreshing token: empty access token in response")
	}

	if err := c.tokens.Set(credentials.AccessTokenKey, res.Access); err != nil {
		return "", err
	}
	if res.Refresh != "" {
		if err := c.tokens.Set(credentials.RefreshTokenKey, res.Refresh); err != nil {
			return "", err
		}
	}
	c.logger.Info("access token refreshed")
	return res.Access, nil
}

// expire clears both tokens, tells the session controller, and returns an
// error matching ErrSessionExpired.
func (c *Client) expire(cause error) error {
	if err := credentials.ClearTokens(c.tokens); err != nil {
		c.logger.Error("clearing credentials after failed refresh", "error", err)
	}
	err := fmt.Errorf("%w: %w", ErrSessionExpired, cause)
	if c.session != nil {
		c.session.Invalidate(err)
	}
	return err
}

func (c *Client) send(ctx context.Context, req Request, body []byte, token, reqID string) (*http.Response, error) {
	u := c.baseURL + req.Path
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set(requestIDHeader, reqID)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &NetworkError{Method: req.Method, URL: u, Err: err}
	}
	c.logger.Debug("api request", "method", req.Method, "path", req.Path, "status", resp.StatusCode, "request_id", reqID)
	return resp, nil
}

func encodeBody(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshalling request: %w", err)
	}
	return data, nil
}

func decodeResponse(resp *http.Response, out any) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if err != nil {
			return &HTTPError{Status: resp.StatusCode}
		}
		return &HTTPError{Status: resp.StatusCode, Body: body}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func drainAndClose(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
}
