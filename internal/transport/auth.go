package transport

import (
	"context"
	"errors"
	"net/http"

	"github.com/kalambet/missionlog/internal/credentials"
)

// Tokens is the pair issued by the login endpoint.
type Tokens struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Login exchanges credentials for a token pair. It does not store the
// tokens; hand them to the session controller.
func (c *Client) Login(ctx context.Context, username, password string) (Tokens, error) {
	var t Tokens
	err := c.Do(ctx, Request{
		Method:    http.MethodPost,
		Path:      loginPath,
		Body:      map[string]string{"username": username, "password": password},
		Anonymous: true,
	}, &t)
	if err != nil {
		return Tokens{}, err
	}
	if t.Access == "" || t.Refresh == "" {
		return Tokens{}, errors.New("login response is missing tokens")
	}
	return t, nil
}

// Logout asks the server to blacklist the refresh token, then clears local
// credentials whether or not the server call succeeded.
func (c *Client) Logout(ctx context.Context) error {
	refresh, ok, err := c.tokens.Get(credentials.RefreshTokenKey)
	if err == nil && ok && refresh != "" {
		err := c.Do(ctx, Request{
			Method:    http.MethodPost,
			Path:      logoutPath,
			Body:      map[string]string{"refresh": refresh},
			Anonymous: true,
		}, nil)
		if err != nil {
			c.logger.Warn("server-side logout failed", "error", err)
		}
	}

	err = credentials.ClearTokens(c.tokens)
	if c.session != nil {
		c.session.Invalidate(nil)
	}
	return err
}
