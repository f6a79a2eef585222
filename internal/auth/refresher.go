package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/projuktisheba/vpanelctl/internal/session"
)

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Refresh exchanges the stored refresh token for a new pair. It performs
// exactly one network exchange and does not write to the store; the caller
// owns persisting the result or clearing the session on failure.
//
// Every failure wraps ErrRefreshFailed.
func (c *Client) Refresh(ctx context.Context) (*session.Credentials, error) {
	cur, err := c.store.Get()
	if err != nil {
		return nil, fmt.Errorf("%w: reading session: %w", ErrRefreshFailed, err)
	}

	if cur == nil || cur.RefreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token stored", ErrRefreshFailed)
	}

	c.logger.Debug("refreshing credentials")

	status, body, err := c.post(ctx, refreshPath, refreshRequest{RefreshToken: cur.RefreshToken})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	if !isSuccess(status) {
		c.logger.Warn("refresh rejected by server",
			slog.Int("status", status),
		)

		return nil, fmt.Errorf("%w: %s", ErrRefreshFailed, messageOf(status, body))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %w", ErrRefreshFailed, err)
	}

	cred, err := c.credentialsFrom(&tr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	// Servers that do not rotate refresh tokens omit the field.
	if cred.RefreshToken == "" {
		cred.RefreshToken = cur.RefreshToken
	}

	return cred, nil
}
