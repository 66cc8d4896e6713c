// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

var integrationPackages = []string{
	"./internal/repository",
	"./internal/persistence/postgres",
}

type validationStep struct {
	name string
	run  func(ctx context.Context) error
}

func validationSteps(root, databaseURL string, skipTests bool) []validationStep {
	steps := []validationStep{
		{name: "gofmt", run: func(ctx context.Context) error { return checkFormatting(ctx, root) }},
		{name: "go vet", run: goCommand("vet", "./...")},
	}
	if skipTests {
		return steps
	}

	steps = append(steps, validationStep{name: "unit tests", run: goCommand("test", "./...")})
	if strings.TrimSpace(databaseURL) != "" {
		args := append([]string{"test", "-count=1", "-tags=integration"}, integrationPackages...)
		steps = append(steps, validationStep{name: "integration tests", run: goCommand(args...)})
	}
	return steps
}

func runValidation(ctx context.Context, logger *slog.Logger, steps []validationStep) error {
	started := time.Now()

	for _, step := range steps {
		logger.Info("running step", "step", step.name)
		stepStarted := time.Now()

		if err := step.run(ctx); err != nil {
			attrs := []any{"step", step.name, "duration_ms", time.Since(stepStarted).Milliseconds()}
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				attrs = append(attrs, "exit_code", exitErr.ExitCode())
			}
			logger.Error("step failed", attrs...)
			return fmt.Errorf("%s: %w", step.name, err)
		}

		logger.Info("step completed", "step", step.name, "duration_ms", time.Since(stepStarted).Milliseconds())
	}

	logger.Info("validation passed", "steps", len(steps), "duration_ms", time.Since(started).Milliseconds())
	return nil
}

func goCommand(args ...string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		cmd := exec.CommandContext(ctx, "go", args...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		cmd.Env = os.Environ()
		return cmd.Run()
	}
}

func checkFormatting(ctx context.Context, root string) error {
	files, err := listGoFiles(root)
	if err != nil {
		return fmt.Errorf("list go files: %w", err)
	}
	if len(files) == 0 {
		return nil
	}

	cmd := exec.CommandContext(ctx, "gofmt", append([]string{"-l"}, files...)...)
	cmd.Stderr = os.Stderr

	out, err := cmd.Output()
	if err != nil {
		return err
	}
	if unformatted := strings.TrimSpace(string(out)); unformatted != "" {
		return fmt.Errorf("gofmt would change files:\n%s", unformatted)
	}
	return nil
}

// listGoFiles walks root the way the go tool does: directories starting with
// "." or "_" and vendor/testdata trees are skipped.
func listGoFiles(root string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			name := d.Name()
			if path != root && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || name == "vendor" || name == "testdata") {
				return filepath.SkipDir
			}
			return nil
		}

		if strings.HasSuffix(path, ".go") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.Sort(files)
	return files, nil
}
