package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/desertthunder/jobtrack/internal/models"
	"github.com/desertthunder/jobtrack/internal/shared"
)

// MinPasswordLength is the shortest password the service accepts.
const MinPasswordLength = 6

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse is returned by login and refresh. Refresh only fills AccessToken and ExpiresAt.
type AuthResponse struct {
	AccessToken     string `json:"accessToken"`
	UserID          string `json:"userId,omitempty"`
	Username        string `json:"username,omitempty"`
	Email           string `json:"email,omitempty"`
	CompanyName     string `json:"companyName,omitempty"`
	CompanyDocument string `json:"companyDocument,omitempty"`
	ExpiresAt       string `json:"expiresAt,omitempty"`
	Message         string `json:"message,omitempty"`
}

// Session converts the response into a [models.Session]. Identity is nil when the response carries no user.
func (r AuthResponse) Session() *models.Session {
	s := &models.Session{Credential: r.AccessToken}
	if r.UserID != "" {
		s.Identity = &models.Identity{
			ID:          r.UserID,
			DisplayName: r.Username,
			Email:       r.Email,
			OrgName:     r.CompanyName,
			OrgID:       r.CompanyDocument,
		}
	}
	if t, err := time.Parse(time.RFC3339, r.ExpiresAt); err == nil {
		s.ExpiresAt = t.Unix()
	}
	return s
}

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	Email           string `json:"email"`
	Username        string `json:"username"`
	CompanyName     string `json:"companyName"`
	CompanyDocument string `json:"companyDocument"`
	Password        string `json:"password"`
}

// Validate checks that every field is filled and the password is long enough.
func (r RegisterRequest) Validate() error {
	fields := []struct{ name, value string }{
		{"email", r.Email},
		{"username", r.Username},
		{"company name", r.CompanyName},
		{"company document", r.CompanyDocument},
		{"password", r.Password},
	}

	var missing []string
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", shared.ErrMissingArgument, strings.Join(missing, ", "))
	}
	if len(r.Password) < MinPasswordLength {
		return fmt.Errorf("%w: password must have at least %d characters", shared.ErrInvalidInput, MinPasswordLength)
	}
	return nil
}

// ChangePasswordRequest is the body of POST /auth/change-password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// Validate rejects short passwords and passwords equal to the current one.
func (r ChangePasswordRequest) Validate() error {
	if strings.TrimSpace(r.CurrentPassword) == "" || strings.TrimSpace(r.NewPassword) == "" {
		return fmt.Errorf("%w: current and new password", shared.ErrMissingArgument)
	}
	if len(r.NewPassword) < MinPasswordLength {
		return fmt.Errorf("%w: new password must have at least %d characters", shared.ErrInvalidInput, MinPasswordLength)
	}
	if r.CurrentPassword == r.NewPassword {
		return fmt.Errorf("%w: new password must differ from the current one", shared.ErrInvalidInput)
	}
	return nil
}

// AuthAPI wraps the /auth endpoints. It implements session.Authenticator.
type AuthAPI struct {
	client *Client
}

// NewAuthAPI creates an AuthAPI on top of client. Authorized account calls use
// the client's credentials; login, refresh and logout pass the token explicitly.
func NewAuthAPI(client *Client) *AuthAPI {
	return &AuthAPI{client: client}
}

// Login exchanges an email and password for a session.
func (a *AuthAPI) Login(ctx context.Context, identifier, secret string) (*models.Session, error) {
	resp, err := a.client.send(ctx, request{
		method: http.MethodPost,
		path:   "/auth/login",
		body:   jsonBody(LoginRequest{Email: identifier, Password: secret}),
	}, "")
	if err != nil {
		return nil, err
	}

	var out AuthResponse
	if err := decode(resp, &out); err != nil {
		return nil, err
	}
	return out.Session(), nil
}

// Refresh renews credential. It is authorized by the credential being renewed and never reauthorizes itself.
func (a *AuthAPI) Refresh(ctx context.Context, credential string) (*models.Session, error) {
	resp, err := a.client.send(ctx, request{method: http.MethodPost, path: "/auth/refresh"}, credential)
	if err != nil {
		return nil, err
	}

	var out AuthResponse
	if err := decode(resp, &out); err != nil {
		return nil, err
	}
	return out.Session(), nil
}

// Logout revokes credential on the server.
func (a *AuthAPI) Logout(ctx context.Context, credential string) error {
	_, err := a.client.send(ctx, request{method: http.MethodPost, path: "/auth/logout"}, credential)
	return err
}

// Register creates an account. It does not log in.
func (a *AuthAPI) Register(ctx context.Context, req RegisterRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	resp, err := a.client.send(ctx, request{method: http.MethodPost, path: "/auth/register", body: jsonBody(req)}, "")
	if err != nil {
		return "", err
	}

	var out AuthResponse
	if err := decode(resp, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

// ChangePassword changes the signed-in user's password.
func (a *AuthAPI) ChangePassword(ctx context.Context, req ChangePasswordRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	_, err := a.client.call(ctx, request{method: http.MethodPost, path: "/auth/change-password", body: jsonBody(req)})
	return err
}

// Validate asks the server whether the current credential is still accepted.
// A rejection is reported as false; only transport and server failures are errors.
func (a *AuthAPI) Validate(ctx context.Context) (bool, error) {
	if a.client.creds == nil || a.client.creds.AccessToken() == "" {
		return false, nil
	}

	_, err := a.client.send(ctx, request{method: http.MethodPost, path: "/auth/validate"}, a.client.creds.AccessToken())
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, shared.ErrNotAuthenticated):
		return false, nil
	default:
		return false, err
	}
}
