// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/adiadia/approval-workflow/internal/logging"
	"github.com/adiadia/approval-workflow/internal/templates"
	cli "github.com/urfave/cli/v3"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logging.ParseLevel(os.Getenv("LOG_LEVEL")),
	}))

	cmd := &cli.Command{
		Name:  "approvalctl",
		Usage: "Developer tooling for the approval workflow service",
		Commands: []*cli.Command{
			newValidateCommand(logger),
			newLintTemplatesCommand(logger),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func newValidateCommand(logger *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "Run gofmt, go vet, unit tests and, with a database, integration tests",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Postgres URL for integration tests; empty skips them",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.BoolFlag{
				Name:  "skip-tests",
				Usage: "Only run formatting and vet checks",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			steps := validationSteps(".", command.String("database-url"), command.Bool("skip-tests"))
			return runValidation(ctx, logger, steps)
		},
	}
}

func newLintTemplatesCommand(logger *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:      "lint-templates",
		Usage:     "Check a YAML template catalog for schema and structural errors",
		ArgsUsage: "<file>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "file",
				Usage:   "Catalog path used when no argument is given",
				Value:   "configs/templates.yaml",
				Sources: cli.EnvVars("TEMPLATES_FILE"),
			},
		},
		Action: func(_ context.Context, command *cli.Command) error {
			path := strings.TrimSpace(command.Args().First())
			if path == "" {
				path = command.String("file")
			}
			return lintTemplates(path, logger)
		},
	}
}

func lintTemplates(path string, logger *slog.Logger) error {
	tmpls, err := templates.Load(path)
	if err != nil {
		return err
	}

	for _, tmpl := range tmpls {
		logger.Info("template ok",
			"name", tmpl.Name,
			"category", tmpl.Category,
			"steps", len(tmpl.Steps),
			"active", tmpl.Active,
		)
	}
	logger.Info("catalog ok", "path", path, "templates", len(tmpls))
	return nil
}
