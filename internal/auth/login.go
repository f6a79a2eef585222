package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/projuktisheba/vpanelctl/internal/session"
)

type signinRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type signoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// LoginResult is a successful sign-in: the new pair plus the user profile.
type LoginResult struct {
	Credentials *session.Credentials
	User        *User
}

// Login signs in with username and password. The result is not stored;
// the caller decides where the new session lives.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	c.logger.Info("signing in", slog.String("username", username))

	status, body, err := c.post(ctx, signinPath, signinRequest{Username: username, Password: password})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}

	if !isSuccess(status) {
		return nil, fmt.Errorf("%w: %s", ErrLoginFailed, messageOf(status, body))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %w", ErrLoginFailed, err)
	}

	cred, err := c.credentialsFrom(&tr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}

	c.logger.Info("signed in",
		slog.String("username", username),
		slog.Time("expires_at", cred.ExpiresAt),
	)

	return &LoginResult{Credentials: cred, User: tr.User}, nil
}

// Logout revokes the stored refresh token on the server (best effort) and
// always clears the store. Only a failure to clear the store is returned.
func (c *Client) Logout(ctx context.Context) error {
	cur, err := c.store.Get()
	if err != nil {
		c.logger.Warn("reading session before logout",
			slog.String("error", err.Error()),
		)
	}

	if cur != nil && cur.RefreshToken != "" {
		status, body, postErr := c.post(ctx, signoutPath, signoutRequest{RefreshToken: cur.RefreshToken})

		switch {
		case postErr != nil:
			c.logger.Warn("sign-out request failed, clearing local session anyway",
				slog.String("error", postErr.Error()),
			)
		case !isSuccess(status):
			c.logger.Warn("sign-out rejected, clearing local session anyway",
				slog.Int("status", status),
				slog.String("message", messageOf(status, body)),
			)
		}
	}

	if err := c.store.Clear(); err != nil {
		return fmt.Errorf("auth: clearing session: %w", err)
	}

	c.logger.Info("logged out")

	return nil
}
