// submodule cmd contains command definitions
package main

import (
	"time"

	"github.com/urfave/cli/v3"
)

// setupCommand handles setup operations for the config file and database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:  "config",
				Usage: "Write the config file named by --config from the built-in template",
				Action: r.SetupConfig,
			},
			{
				Name:  "database",
				Usage: "Initialize database and run migrations",
				Action: r.SetupDatabase,
			},
		},
	}
}

// authCommand handles authentication operations
func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Manage the job service session",
		Commands: []*cli.Command{
			{
				Name:  "login",
				Usage: "Log in with email and password",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "email",
						Aliases:  []string{"e"},
						Usage:    "Account email",
						Required: true,
					},
					&cli.StringFlag{
						Name:    "password",
						Aliases: []string{"p"},
						Usage:   "Account password",
						Sources: cli.EnvVars("JOBTRACK_PASSWORD"),
					},
				},
				Action: r.AuthLogin,
			},
			{
				Name:   "logout",
				Usage:  "Revoke the session and forget it locally",
				Action: r.AuthLogout,
			},
			{
				Name:  "status",
				Usage: "Show who is logged in and when the session expires",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "remote",
						Usage: "Also ask the server whether the credential is still accepted",
					},
				},
				Action: r.AuthStatus,
			},
			{
				Name:  "register",
				Usage: "Create an account",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "email", Usage: "Account email", Required: true},
					&cli.StringFlag{Name: "username", Usage: "Display name", Required: true},
					&cli.StringFlag{Name: "company", Usage: "Company name", Required: true},
					&cli.StringFlag{Name: "document", Usage: "Company registration number", Required: true},
					&cli.StringFlag{
						Name:    "password",
						Usage:   "Account password",
						Sources: cli.EnvVars("JOBTRACK_PASSWORD"),
					},
				},
				Action: r.AuthRegister,
			},
			{
				Name:  "password",
				Usage: "Change the password of the logged-in user",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "current", Usage: "Current password", Required: true},
					&cli.StringFlag{Name: "new", Usage: "New password", Required: true},
				},
				Action: r.AuthPassword,
			},
		},
	}
}

// jobsCommand handles job submission and tracking
func jobsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "jobs",
		Aliases: []string{"job"},
		Usage:   "Submit and follow batch import jobs",
		Commands: []*cli.Command{
			{
				Name:  "submit",
				Usage: "Upload a CSV or XLSX file as a new job",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "path"},
				},
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "file-type",
						Usage: "csv or xlsx, inferred from the extension when empty",
					},
					&cli.StringFlag{
						Name:  "delimiter",
						Usage: "Column delimiter for CSV files",
						Value: ",",
					},
					&cli.StringFlag{
						Name:  "date-format",
						Usage: "Date format used in the file",
						Value: "YYYY-MM-DD",
					},
					&cli.StringFlag{
						Name:  "webhook-url",
						Usage: "URL notified when the job finishes",
					},
					&cli.StringFlag{
						Name:  "idempotency-key",
						Usage: "Key that makes resubmission return the same job",
					},
					&cli.BoolFlag{
						Name:  "watch",
						Usage: "Follow the job until it finishes",
					},
					&cli.BoolFlag{
						Name:  "tui",
						Usage: "Follow the job in the interactive view",
					},
				},
				Action: r.JobsSubmit,
			},
			{
				Name:  "status",
				Usage: "Print the current snapshot of a job",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
					&cli.BoolFlag{
						Name:  "pretty",
						Usage: "Pretty-print output",
						Value: true,
					},
				},
				Action: r.JobsStatus,
			},
			{
				Name:  "watch",
				Usage: "Follow a job until it finishes",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "tui",
						Usage: "Use the interactive view",
					},
					&cli.StringFlag{
						Name:  "metrics-addr",
						Usage: "Serve tracking metrics on this address while watching (e.g. :9090)",
					},
				},
				Action: r.JobsWatch,
			},
			{
				Name:  "cancel",
				Usage: "Cancel a running job",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Action: r.JobsCancel,
			},
			{
				Name:  "download",
				Usage: "Download the results or errors report of a finished job",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "kind",
						Usage: "results or errors",
						Value: "results",
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output file path",
					},
					&cli.StringFlag{
						Name:  "dir",
						Usage: "Directory for the default file name",
						Value: ".",
					},
				},
				Action: r.JobsDownload,
			},
			{
				Name:  "history",
				Usage: "List jobs submitted from this machine",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of jobs to list",
						Value: 20,
					},
					&cli.StringFlag{
						Name:  "status",
						Usage: "Only list jobs in this status",
					},
					&cli.BoolFlag{
						Name:  "export",
						Usage: "Write the list to a file instead of printing it",
					},
					&cli.StringFlag{
						Name:  "format",
						Usage: "Export format (csv or md)",
						Value: "csv",
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Export file path",
					},
					&cli.BoolFlag{
						Name:  "tui",
						Usage: "Browse the list interactively",
					},
				},
				Action: r.JobsHistory,
			},
		},
	}
}

// apiCommand handles direct API calls
func apiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "Direct authorized calls to the job service",
		Commands: []*cli.Command{
			{
				Name:  "get",
				Usage: "Direct GET, prints raw JSON",
				Arguments: []cli.Argument{
					&cli.StringArg{
						Name: "path",
					},
				},
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output compact JSON",
					},
				},
				Action: r.APIGet,
			},
			{
				Name:  "post",
				Usage: "Direct POST with JSON body",
				Arguments: []cli.Argument{
					&cli.StringArg{
						Name: "path",
					},
				},
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "data",
						Aliases:  []string{"d"},
						Usage:    "JSON body to send",
						Required: true,
					},
				},
				Action: r.APIPost,
			},
		},
	}
}

// devServerCommand runs the local job service.
func devServerCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "dev-server",
		Aliases: []string{"serve"},
		Usage:   "Run a local job service for development",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Listen host, defaults to server.host",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Listen port, defaults to server.port",
			},
			&cli.IntFlag{
				Name:  "rows",
				Usage: "Rows in every simulated job",
				Value: 100,
			},
			&cli.IntFlag{
				Name:  "step",
				Usage: "Rows processed per tick",
				Value: 5,
			},
			&cli.DurationFlag{
				Name:  "tick",
				Usage: "Interval between progress steps",
				Value: time.Second,
			},
		},
		Action: r.DevServer,
	}
}
