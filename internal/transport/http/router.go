// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adiadia/approval-workflow/internal/domain"
	"github.com/adiadia/approval-workflow/internal/metrics"
	"github.com/adiadia/approval-workflow/internal/transport/middleware"
	"github.com/adiadia/approval-workflow/internal/transport/problem"
	"github.com/adiadia/approval-workflow/internal/workflow"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const (
	headerLastEventID = "Last-Event-ID"
	maxListLimit      = 500
	ssePollInterval   = 500 * time.Millisecond
)

type templateStepRequest struct {
	Key            string             `json:"key" validate:"required"`
	Name           string             `json:"name" validate:"required"`
	Description    string             `json:"description"`
	Assignee       string             `json:"assignee" validate:"required"`
	DueInHours     int                `json:"due_in_hours" validate:"gte=0"`
	RequiredFields []string           `json:"required_fields"`
	Conditions     []domain.Condition `json:"conditions"`
}

type templateRequest struct {
	Name        string                `json:"name" validate:"required"`
	Description string                `json:"description"`
	Category    string                `json:"category" validate:"required"`
	Active      *bool                 `json:"active"`
	Steps       []templateStepRequest `json:"steps" validate:"required,min=1,dive"`
}

type startRequest struct {
	TemplateID  string            `json:"template_id" validate:"required,uuid"`
	EntityID    string            `json:"entity_id" validate:"required"`
	EntityType  string            `json:"entity_type"`
	InitiatedBy string            `json:"initiated_by"`
	Attributes  map[string]string `json:"attributes"`
}

type actionRequest struct {
	Comment string            `json:"comment"`
	Actor   string            `json:"actor"`
	Fields  map[string]string `json:"fields"`
}

type Deps struct {
	Templates  TemplateService
	Instances  InstanceService
	Events     EventStreamer
	Readiness  HealthChecker
	Logger     *slog.Logger
	AdminToken string
	Version    string
	Commit     string
	BuildDate  string
}

func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics.Init()
	version := valueOrDefault(deps.Version, "dev")
	commit := valueOrDefault(deps.Commit, "none")
	buildDate := valueOrDefault(deps.BuildDate, "unknown")
	validate := validator.New(validator.WithRequiredStructEnabled())

	r := chi.NewRouter()
	r.Use(requestIDMiddleware())
	r.Use(requestLoggingMiddleware(logger))
	r.Use(chimw.Recoverer)

	// ---------------- HEALTH ----------------

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("health check hit")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := deps.Readiness.Check(ctx); err != nil {
				logger.Warn("readiness check failed", "error", err)
				problem.Write(w, r, http.StatusServiceUnavailable, "not_ready", "schema not ready")
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// ---------------- METRICS ----------------

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.Handler().ServeHTTP(w, r)
	})

	// ---------------- VERSION ----------------

	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version":    version,
			"commit":     commit,
			"build_date": buildDate,
		})
	})

	// ---------------- TEMPLATES ----------------

	if deps.Templates != nil {
		r.Route("/templates", func(tr chi.Router) {
			tr.Get("/", func(w http.ResponseWriter, r *http.Request) {
				activeOnly, err := parseBoolQuery(r, "active")
				if err != nil {
					badRequest(w, r, "invalid active filter")
					return
				}

				tmpls, err := deps.Templates.ListTemplates(r.Context(), activeOnly)
				if err != nil {
					writeError(w, r, logger, "failed to list templates", err)
					return
				}

				writeJSON(w, http.StatusOK, map[string]any{
					"templates": tmpls,
				})
			})

			tr.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
				id, ok := parseUUIDParam(w, r, "id", "invalid template ID")
				if !ok {
					return
				}

				tmpl, err := deps.Templates.GetTemplate(r.Context(), id)
				if err != nil {
					writeError(w, r, logger, "failed to get template", err)
					return
				}

				writeJSON(w, http.StatusOK, tmpl)
			})

			tr.Group(func(admin chi.Router) {
				admin.Use(middleware.AdminTokenAuth(deps.AdminToken, logger))

				admin.Post("/", func(w http.ResponseWriter, r *http.Request) {
					req, ok := decodeTemplateRequest(w, r, validate)
					if !ok {
						return
					}

					created, err := deps.Templates.CreateTemplate(r.Context(), req.toDomain())
					if err != nil {
						writeError(w, r, logger, "failed to create template", err)
						return
					}

					logger.Info("template created via API", "template_id", created.ID, "name", created.Name)
					writeJSON(w, http.StatusCreated, created)
				})

				admin.Put("/{id}", func(w http.ResponseWriter, r *http.Request) {
					id, ok := parseUUIDParam(w, r, "id", "invalid template ID")
					if !ok {
						return
					}

					req, ok := decodeTemplateRequest(w, r, validate)
					if !ok {
						return
					}

					updated, err := deps.Templates.UpdateTemplate(r.Context(), id, req.toDomain())
					if err != nil {
						writeError(w, r, logger, "failed to update template", err)
						return
					}

					logger.Info("template updated via API", "template_id", updated.ID, "version", updated.Version)
					writeJSON(w, http.StatusOK, updated)
				})
			})
		})
	}

	// ---------------- INSTANCES ----------------

	if deps.Instances != nil {
		r.Route("/instances", func(ir chi.Router) {
			ir.Post("/", func(w http.ResponseWriter, r *http.Request) {
				var req startRequest
				if err := decodeJSON(r, &req); err != nil {
					badRequest(w, r, "invalid request body")
					return
				}
				if err := validate.Struct(req); err != nil {
					problem.Write(w, r, http.StatusUnprocessableEntity, "validation_error", validationDetail(err))
					return
				}

				templateID, err := uuid.Parse(req.TemplateID)
				if err != nil {
					badRequest(w, r, "invalid template_id")
					return
				}

				inst, err := deps.Instances.StartWorkflow(r.Context(), workflow.StartParams{
					TemplateID:  templateID,
					EntityID:    strings.TrimSpace(req.EntityID),
					EntityType:  strings.TrimSpace(req.EntityType),
					InitiatedBy: strings.TrimSpace(req.InitiatedBy),
					Attributes:  req.Attributes,
				})
				if err != nil {
					writeError(w, r, logger, "failed to start workflow", err)
					return
				}

				logger.Info("workflow started via API",
					"instance_id", inst.ID,
					"template_id", inst.TemplateID,
					"entity_id", inst.EntityID,
				)
				w.Header().Set("Location", "/instances/"+inst.ID.String())
				writeJSON(w, http.StatusCreated, inst)
			})

			ir.Get("/", func(w http.ResponseWriter, r *http.Request) {
				filter, err := parseInstanceFilter(r)
				if err != nil {
					badRequest(w, r, err.Error())
					return
				}

				list, err := deps.Instances.ListInstances(r.Context(), filter)
				if err != nil {
					writeError(w, r, logger, "failed to list instances", err)
					return
				}

				writeJSON(w, http.StatusOK, map[string]any{
					"instances": list,
				})
			})

			ir.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
				id, ok := parseUUIDParam(w, r, "id", "invalid instance ID")
				if !ok {
					return
				}

				inst, err := deps.Instances.GetInstance(r.Context(), id)
				if err != nil {
					writeError(w, r, logger, "failed to get instance", err)
					return
				}

				writeJSON(w, http.StatusOK, inst)
			})

			ir.Get("/{id}/steps", func(w http.ResponseWriter, r *http.Request) {
				id, ok := parseUUIDParam(w, r, "id", "invalid instance ID")
				if !ok {
					return
				}

				inst, err := deps.Instances.GetInstance(r.Context(), id)
				if err != nil {
					writeError(w, r, logger, "failed to list steps", err)
					return
				}

				writeJSON(w, http.StatusOK, struct {
					InstanceID  string                `json:"instance_id"`
					Status      domain.InstanceStatus `json:"status"`
					CurrentStep int                   `json:"current_step"`
					Steps       []domain.WorkflowStep `json:"steps"`
				}{
					InstanceID:  inst.ID.String(),
					Status:      inst.Status,
					CurrentStep: inst.CurrentStep,
					Steps:       inst.Steps,
				})
			})

			ir.Post("/{id}/steps/{index}/approve", actionHandler(deps.Instances, logger, domain.ActionApprove))
			ir.Post("/{id}/steps/{index}/reject", actionHandler(deps.Instances, logger, domain.ActionReject))

			// ---------------- STREAM EVENTS (SSE) ----------------

			ir.Get("/{id}/events", func(w http.ResponseWriter, r *http.Request) {
				id, ok := parseUUIDParam(w, r, "id", "invalid instance ID")
				if !ok {
					return
				}

				if _, err := deps.Instances.GetInstance(r.Context(), id); err != nil {
					writeError(w, r, logger, "failed to stream events", err)
					return
				}

				if deps.Events == nil {
					logger.Error("sse events store is not configured")
					problem.Write(w, r, http.StatusInternalServerError, "internal_error", "failed to stream events")
					return
				}

				since := strings.TrimSpace(r.URL.Query().Get("since_id"))
				if since == "" {
					since = strings.TrimSpace(r.Header.Get(headerLastEventID))
				}
				cursor, err := resolveEventsCursor(r.Context(), deps.Events, id, since)
				if err != nil {
					if errors.Is(err, errInvalidSinceID) {
						badRequest(w, r, "invalid since_id")
						return
					}
					logger.Error("resolve events cursor failed",
						"instance_id", id,
						"since_id", since,
						"error", err,
					)
					problem.Write(w, r, http.StatusInternalServerError, "internal_error", "failed to stream events")
					return
				}

				flusher, ok := w.(http.Flusher)
				if !ok {
					problem.Write(w, r, http.StatusInternalServerError, "internal_error", "streaming unsupported")
					return
				}

				w.Header().Set("Content-Type", "text/event-stream")
				w.Header().Set("Cache-Control", "no-cache")
				w.Header().Set("Connection", "keep-alive")
				w.Header().Set("X-Accel-Buffering", "no")
				w.WriteHeader(http.StatusOK)
				flusher.Flush()

				writeEvents := func() error {
					events, err := deps.Events.ListEventsAfter(r.Context(), id, cursor)
					if err != nil {
						return err
					}

					for _, ev := range events {
						payload, err := json.Marshal(ev)
						if err != nil {
							return err
						}
						if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, strings.ToLower(string(ev.Type)), payload); err != nil {
							return err
						}
						flusher.Flush()
						cursor = ev.Seq
					}

					return nil
				}

				if err := writeEvents(); err != nil {
					logger.Error("sse initial write failed", "instance_id", id, "error", err)
					return
				}

				ticker := time.NewTicker(ssePollInterval)
				defer ticker.Stop()

				for {
					select {
					case <-r.Context().Done():
						return
					case <-ticker.C:
						if err := writeEvents(); err != nil {
							if r.Context().Err() == nil {
								logger.Error("sse write failed", "instance_id", id, "error", err)
							}
							return
						}
					}
				}
			})
		})
	}

	return r
}

func actionHandler(svc InstanceService, logger *slog.Logger, action domain.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUIDParam(w, r, "id", "invalid instance ID")
		if !ok {
			return
		}

		index, err := strconv.Atoi(chi.URLParam(r, "index"))
		if err != nil || index < 0 {
			badRequest(w, r, "invalid step index")
			return
		}

		var req actionRequest
		if err := decodeJSON(r, &req); err != nil {
			badRequest(w, r, "invalid request body")
			return
		}

		inst, err := svc.ActOnStep(r.Context(), workflow.ActParams{
			InstanceID: id,
			StepIndex:  index,
			Action:     action,
			Comment:    req.Comment,
			Fields:     req.Fields,
			Actor:      strings.TrimSpace(req.Actor),
		})
		if err != nil {
			writeError(w, r, logger, "failed to act on step", err)
			return
		}

		logger.Info("step action via API",
			"instance_id", id,
			"step_index", index,
			"action", action,
			"status", inst.Status,
		)
		writeJSON(w, http.StatusOK, inst)
	}
}

func (req templateRequest) toDomain() domain.WorkflowTemplate {
	tmpl := domain.WorkflowTemplate{
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		Active:      req.Active == nil || *req.Active,
		Steps:       make([]domain.StepBlueprint, 0, len(req.Steps)),
	}
	for _, s := range req.Steps {
		tmpl.Steps = append(tmpl.Steps, domain.StepBlueprint{
			Key:            s.Key,
			Name:           s.Name,
			Description:    s.Description,
			Assignee:       s.Assignee,
			DueInHours:     s.DueInHours,
			RequiredFields: s.RequiredFields,
			Conditions:     s.Conditions,
		})
	}
	return tmpl
}

func decodeTemplateRequest(w http.ResponseWriter, r *http.Request, validate *validator.Validate) (templateRequest, bool) {
	var req templateRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, "invalid request body")
		return templateRequest{}, false
	}
	if err := validate.Struct(req); err != nil {
		problem.Write(w, r, http.StatusUnprocessableEntity, "validation_error", validationDetail(err))
		return templateRequest{}, false
	}
	return req, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON decodes exactly one JSON object. An empty body leaves v
// untouched.
func decodeJSON(r *http.Request, v any) error {
	if r == nil || r.Body == nil || r.Body == http.NoBody {
		return nil
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain exactly one JSON object")
	}

	return nil
}

func validationDetail(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}

func parseUUIDParam(w http.ResponseWriter, r *http.Request, name, detail string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		badRequest(w, r, detail)
		return uuid.Nil, false
	}
	return id, true
}

func parseBoolQuery(r *http.Request, name string) (bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return false, nil
	}
	return strconv.ParseBool(raw)
}

func parseInstanceFilter(r *http.Request) (domain.InstanceFilter, error) {
	q := r.URL.Query()
	filter := domain.InstanceFilter{
		EntityID:   strings.TrimSpace(q.Get("entity_id")),
		EntityType: strings.TrimSpace(q.Get("entity_type")),
		Status:     domain.InstanceStatus(strings.TrimSpace(q.Get("status"))),
	}

	if filter.Status != "" && !filter.Status.Valid() {
		return domain.InstanceFilter{}, fmt.Errorf("invalid status %q", filter.Status)
	}

	if raw := strings.TrimSpace(q.Get("template_id")); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return domain.InstanceFilter{}, errors.New("invalid template_id")
		}
		filter.TemplateID = id
	}

	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return domain.InstanceFilter{}, errors.New("invalid limit")
		}
		filter.Limit = min(limit, maxListLimit)
	}

	return filter, nil
}

var errInvalidSinceID = errors.New("invalid since_id")

func resolveEventsCursor(
	ctx context.Context,
	events EventStreamer,
	instanceID uuid.UUID,
	since string,
) (int64, error) {
	if since == "" {
		return 0, nil
	}

	if seq, err := strconv.ParseInt(since, 10, 64); err == nil {
		if seq < 0 {
			return 0, errInvalidSinceID
		}
		return seq, nil
	}

	eventID, err := uuid.Parse(since)
	if err != nil {
		return 0, errInvalidSinceID
	}

	seq, err := events.ResolveCursorByEventID(ctx, instanceID, eventID)
	if err != nil {
		if errors.Is(err, domain.ErrEventNotFound) {
			return 0, errInvalidSinceID
		}
		return 0, err
	}

	return seq, nil
}

func valueOrDefault(value, defaultValue string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return defaultValue
	}
	return trimmed
}
