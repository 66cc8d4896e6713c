// SPDX-License-Identifier: Apache-2.0

// Package templates loads workflow templates from a YAML catalog and seeds
// them into the template store.
package templates

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/adiadia/approval-workflow/internal/domain"
	"github.com/adiadia/approval-workflow/internal/workflow"
	"gopkg.in/yaml.v3"
)

type catalogFile struct {
	Templates []catalogTemplate `yaml:"templates"`
}

type catalogTemplate struct {
	domain.WorkflowTemplate `yaml:",inline"`
	// Active defaults to true when omitted.
	Active *bool `yaml:"active"`
}

// Seeder is the subset of the engine used to seed templates.
type Seeder interface {
	FindTemplateByName(ctx context.Context, name string) (domain.WorkflowTemplate, error)
	CreateTemplate(ctx context.Context, tmpl domain.WorkflowTemplate) (domain.WorkflowTemplate, error)
}

// Load reads and validates the catalog at path.
func Load(path string) ([]domain.WorkflowTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template catalog: %w", err)
	}

	tmpls, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tmpls, nil
}

// Parse decodes a catalog document. Unknown keys are rejected.
func Parse(data []byte) ([]domain.WorkflowTemplate, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var file catalogFile
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode template catalog: %w", err)
	}

	out := make([]domain.WorkflowTemplate, 0, len(file.Templates))
	names := make(map[string]int, len(file.Templates))
	for i, entry := range file.Templates {
		tmpl := entry.WorkflowTemplate
		tmpl.Active = entry.Active == nil || *entry.Active

		if err := workflow.ValidateTemplate(tmpl); err != nil {
			return nil, fmt.Errorf("template %d (%q): %w", i, tmpl.Name, err)
		}

		key := strings.ToLower(strings.TrimSpace(tmpl.Name))
		if prev, dup := names[key]; dup {
			return nil, fmt.Errorf("%w: template %d duplicates name of template %d (%q)",
				domain.ErrInvalidTemplate, i, prev, tmpl.Name)
		}
		names[key] = i

		out = append(out, tmpl)
	}

	return out, nil
}

// Seed creates every template whose name is not yet present and returns the
// number created. Existing templates are left untouched.
func Seed(ctx context.Context, seeder Seeder, tmpls []domain.WorkflowTemplate, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}

	created := 0
	for _, tmpl := range tmpls {
		existing, err := seeder.FindTemplateByName(ctx, tmpl.Name)
		switch {
		case err == nil:
			logger.Debug("template already present",
				"name", tmpl.Name,
				"template_id", existing.ID,
				"version", existing.Version,
			)
			continue
		case !errors.Is(err, domain.ErrTemplateNotFound):
			return created, fmt.Errorf("lookup template %q: %w", tmpl.Name, err)
		}

		saved, err := seeder.CreateTemplate(ctx, tmpl)
		if err != nil {
			return created, fmt.Errorf("seed template %q: %w", tmpl.Name, err)
		}
		created++

		logger.Info("template seeded",
			"name", saved.Name,
			"template_id", saved.ID,
			"steps", len(saved.Steps),
		)
	}

	return created, nil
}
