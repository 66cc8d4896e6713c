// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/adiadia/approval-workflow/internal/domain"
	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidateTemplate checks struct constraints and step key uniqueness. The
// returned error wraps domain.ErrInvalidTemplate.
func ValidateTemplate(tmpl domain.WorkflowTemplate) error {
	if err := validatorInstance().Struct(tmpl); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", domain.ErrInvalidTemplate, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", domain.ErrInvalidTemplate, err)
	}

	seen := make(map[string]struct{}, len(tmpl.Steps))
	for i, step := range tmpl.Steps {
		key := strings.TrimSpace(step.Key)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: duplicate step key %q at position %d", domain.ErrInvalidTemplate, key, i)
		}
		seen[key] = struct{}{}
	}

	return nil
}
