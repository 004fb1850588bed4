package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	lmsauth "github.com/MrEthical07/lmsauth"
)

// Login exchanges credentials for a token. The account's role must match
// role; the backend's USER and the client's MEMBER are the same role.
func (c *Client) Login(ctx context.Context, username, password string, role lmsauth.Role) (LoginResult, error) {
	if !role.Valid() {
		return LoginResult{}, fmt.Errorf("%w: %q", lmsauth.ErrInvalidRole, role)
	}
	if !c.logins.Allow() {
		return LoginResult{}, ErrLoginRateLimited
	}

	var resp loginResponse
	err := c.sendJSON(ctx, http.MethodPost, "/api/auth/login", false, loginRequest{
		Username: username,
		Password: password,
		Role:     role.Wire(),
	}, &resp)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return LoginResult{}, fmt.Errorf("%w: %w", ErrInvalidCredentials, apiErr)
		}
		return LoginResult{}, err
	}

	got, err := lmsauth.ParseRole(resp.Role)
	if err != nil || got != role {
		return LoginResult{}, fmt.Errorf("%w: signed in as %s, account is %q", ErrRoleMismatch, role, resp.Role)
	}
	if resp.JWT == "" {
		return LoginResult{}, fmt.Errorf("%w: empty token in login response", ErrInvalidCredentials)
	}
	return LoginResult{Token: resp.JWT, Role: got}, nil
}

func (c *Client) ResetPassword(ctx context.Context, req ResetPasswordRequest) error {
	return c.sendJSON(ctx, http.MethodPost, "/api/auth/reset-password", false, req, nil)
}

func (c *Client) RegisterLibrarian(ctx context.Context, req RegisterLibrarianRequest) error {
	return c.sendJSON(ctx, http.MethodPost, "/api/auth/register/librarian", false, req, nil)
}

// Profile returns the signed-in account.
func (c *Client) Profile(ctx context.Context) (Profile, error) {
	var p Profile
	err := c.getJSON(ctx, "/api/auth/my-profile", true, nil, &p)
	return p, err
}

func (c *Client) LibrarianContact(ctx context.Context) (Contact, error) {
	var out Contact
	err := c.getJSON(ctx, "/api/public/librarian-contact", false, nil, &out)
	return out, err
}
