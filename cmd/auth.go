package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/jobtrack/internal/services"
	"github.com/desertthunder/jobtrack/internal/shared"
)

// AuthLogin exchanges email and password for a session and persists it.
func (r *Runner) AuthLogin(ctx context.Context, cmd *cli.Command) error {
	email := cmd.String("email")
	password := cmd.String("password")
	if password == "" {
		return fmt.Errorf("%w: --password or JOBTRACK_PASSWORD is required", shared.ErrMissingArgument)
	}

	if err := r.connect(); err != nil {
		return err
	}

	r.logger.Info("logging in", "email", email)
	session, err := r.sessions.Login(ctx, email, password)
	if err != nil {
		return err
	}

	r.writePlain("✓ Logged in as %s (%s)\n", session.Identity.DisplayName, session.Identity.Email)
	if exp := session.Expiry(); !exp.IsZero() {
		r.writePlain("Session expires %s\n", exp.Local().Format(time.RFC1123))
	}
	return nil
}

// AuthLogout revokes the session on the server and clears it locally.
func (r *Runner) AuthLogout(ctx context.Context, cmd *cli.Command) error {
	if err := r.connect(); err != nil {
		return err
	}
	if !r.sessions.IsAuthenticated() {
		return r.writePlain("Not logged in\n")
	}

	if err := r.sessions.Logout(ctx); err != nil {
		return err
	}
	return r.writePlain("✓ Logged out\n")
}

// AuthStatus prints the stored identity and expiry. With --remote it also validates the credential.
func (r *Runner) AuthStatus(ctx context.Context, cmd *cli.Command) error {
	if err := r.connect(); err != nil {
		return err
	}

	if !r.sessions.IsAuthenticated() {
		return r.writePlain("Not logged in\nRun 'jobtrack auth login' to start a session\n")
	}

	identity := r.sessions.CurrentIdentity()
	r.writePlainHeader("Session")
	r.writePlain("User:         %s <%s>\n", identity.DisplayName, identity.Email)
	r.writePlain("Organization: %s\n", identity.OrgName)
	if exp := r.sessions.Expiry(); !exp.IsZero() {
		r.writePlain("Expires:      %s (in %s)\n", exp.Local().Format(time.RFC1123), time.Until(exp).Round(time.Second))
	}
	r.writePlain("Store:        %s\n", r.config.Session.Store)

	if !cmd.Bool("remote") {
		return nil
	}

	valid, err := services.NewAuthAPI(r.api).Validate(ctx)
	if err != nil {
		return err
	}
	if valid {
		return r.writePlain("Server:       ✓ credential accepted\n")
	}
	return r.writePlain("Server:       ✗ credential rejected, log in again\n")
}

// AuthRegister creates an account without logging in.
func (r *Runner) AuthRegister(ctx context.Context, cmd *cli.Command) error {
	req := services.RegisterRequest{
		Email:           cmd.String("email"),
		Username:        cmd.String("username"),
		CompanyName:     cmd.String("company"),
		CompanyDocument: cmd.String("document"),
		Password:        cmd.String("password"),
	}
	if err := req.Validate(); err != nil {
		return err
	}
	if err := r.connect(); err != nil {
		return err
	}

	message, err := r.auth.Register(ctx, req)
	if err != nil {
		return err
	}
	if message == "" {
		message = "account created"
	}
	return r.writePlain("✓ %s\nRun 'jobtrack auth login --email %s' to continue\n", message, req.Email)
}

// AuthPassword changes the password of the logged-in user.
func (r *Runner) AuthPassword(ctx context.Context, cmd *cli.Command) error {
	req := services.ChangePasswordRequest{
		CurrentPassword: cmd.String("current"),
		NewPassword:     cmd.String("new"),
	}
	if err := req.Validate(); err != nil {
		return err
	}
	if err := r.requireLogin(); err != nil {
		return err
	}

	if err := services.NewAuthAPI(r.api).ChangePassword(ctx, req); err != nil {
		return err
	}
	return r.writePlain("✓ Password changed\n")
}
