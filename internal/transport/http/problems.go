// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/adiadia/approval-workflow/internal/domain"
	"github.com/adiadia/approval-workflow/internal/transport/problem"
)

type errorMapping struct {
	target error
	status int
	typ    string
}

// Order matters: the first matching sentinel wins.
var errorMappings = []errorMapping{
	{domain.ErrTemplateNotFound, http.StatusNotFound, "template_not_found"},
	{domain.ErrInstanceNotFound, http.StatusNotFound, "instance_not_found"},
	{domain.ErrEventNotFound, http.StatusNotFound, "event_not_found"},
	{domain.ErrTemplateNameTaken, http.StatusConflict, "template_name_taken"},
	{domain.ErrTemplateInactive, http.StatusConflict, "template_inactive"},
	{domain.ErrInstanceNotActive, http.StatusConflict, "instance_not_active"},
	{domain.ErrStepOutOfTurn, http.StatusConflict, "step_out_of_turn"},
	{domain.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{domain.ErrMissingRequiredFields, http.StatusUnprocessableEntity, "missing_required_fields"},
	{domain.ErrInvalidTemplate, http.StatusUnprocessableEntity, "invalid_template"},
	{domain.ErrTemplateHasNoSteps, http.StatusUnprocessableEntity, "template_has_no_steps"},
	{domain.ErrInvalidAction, http.StatusBadRequest, "invalid_action"},
}

func badRequest(w http.ResponseWriter, r *http.Request, detail string) {
	problem.Write(w, r, http.StatusBadRequest, "bad_request", detail)
}

// writeError maps engine errors to problem responses. Unknown errors are
// logged and reported as 500 without leaking their text.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, msg string, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			problem.Write(w, r, m.status, m.typ, err.Error())
			return
		}
	}

	logger.Error(msg, "path", r.URL.Path, "error", err)
	problem.Write(w, r, http.StatusInternalServerError, "internal_error", msg)
}
