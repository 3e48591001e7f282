package lmsapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/trezcool/masomo-client/core/session"
	"github.com/trezcool/masomo-client/core/user"
)

var _ session.Backend = (*Client)(nil)

func (c *Client) ObtainToken(ctx context.Context, form user.LoginForm) (session.Credentials, error) {
	var creds session.Credentials
	err := c.do(ctx, http.MethodPost, "/accounts/token/", nil, form, &creds)
	return creds, err
}

func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (session.Credentials, error) {
	var creds session.Credentials
	body := map[string]string{"refresh": refreshToken}
	err := c.do(ctx, http.MethodPost, "/accounts/token/refresh/", nil, body, &creds)
	return creds, err
}

func (c *Client) Register(ctx context.Context, nu user.NewUser) error {
	return c.do(ctx, http.MethodPost, "/accounts/register/", nil, nu, nil)
}

func (c *Client) UserInfo(ctx context.Context, userID int) (user.Profile, error) {
	var p user.Profile
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/accounts/check_user_info/%d/", userID), nil, nil, &p)
	return p, err
}

// VerifyEmail confirms the e-mail address of a new account with the code it was sent.
func (c *Client) VerifyEmail(ctx context.Context, email, code string) error {
	q := url.Values{"email": {email}, "code": {code}}
	return c.do(session.WithoutAuth(ctx), http.MethodGet, "/accounts/validate/", q, nil, nil)
}
