package main

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/jobtrack/internal/server"
	"github.com/desertthunder/jobtrack/internal/shared"
)

// DevServer runs the local job service until the command is interrupted.
func (r *Runner) DevServer(ctx context.Context, cmd *cli.Command) error {
	host := cmd.String("host")
	if host == "" {
		host = r.config.Server.Host
	}
	port := int(cmd.Int("port"))
	if port == 0 {
		port = r.config.Server.Port
	}

	srv, err := server.New(server.Options{
		Rows:   int(cmd.Int("rows")),
		Step:   int(cmd.Int("step")),
		Tick:   cmd.Duration("tick"),
		Logger: shared.WithLogger(r.logger, "component", "dev-server"),
	})
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	r.writePlainHeader("jobtrack dev server")
	r.writePlain("Base URL: http://%s/v1\n", addr)
	r.writePlain("Login:    %s / %s\n", server.DemoEmail, server.DemoPassword)
	r.writePlain("Point the client at it with api.base_url or %s\n\n", envBaseURL)

	if err := srv.ListenAndServe(ctx, addr); err != nil {
		return fmt.Errorf("dev server: %w", err)
	}
	return nil
}
