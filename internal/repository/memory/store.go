// SPDX-License-Identifier: Apache-2.0

// Package memory keeps templates, instances and their event log in process
// memory. Values are copied on the way in and out so callers never share
// state with the store.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/adiadia/approval-workflow/internal/domain"
	"github.com/google/uuid"
)

type Store struct {
	mu        sync.RWMutex
	templates map[uuid.UUID]domain.WorkflowTemplate
	instances map[uuid.UUID]domain.WorkflowInstance
	order     []uuid.UUID
	events    []domain.EventRecord
	seq       int64
}

func NewStore() *Store {
	return &Store{
		templates: make(map[uuid.UUID]domain.WorkflowTemplate),
		instances: make(map[uuid.UUID]domain.WorkflowInstance),
	}
}

// ---------------- TEMPLATES ----------------

func (s *Store) CreateTemplate(_ context.Context, tmpl domain.WorkflowTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.nameTakenLocked(tmpl.Name, tmpl.ID) {
		return domain.ErrTemplateNameTaken
	}
	s.templates[tmpl.ID] = tmpl.Clone()
	return nil
}

func (s *Store) UpdateTemplate(_ context.Context, tmpl domain.WorkflowTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.templates[tmpl.ID]; !ok {
		return domain.ErrTemplateNotFound
	}
	if s.nameTakenLocked(tmpl.Name, tmpl.ID) {
		return domain.ErrTemplateNameTaken
	}
	s.templates[tmpl.ID] = tmpl.Clone()
	return nil
}

// nameTakenLocked mirrors the case-insensitive unique name index of the
// Postgres schema.
func (s *Store) nameTakenLocked(name string, self uuid.UUID) bool {
	name = strings.TrimSpace(name)
	for id, existing := range s.templates {
		if id != self && strings.EqualFold(strings.TrimSpace(existing.Name), name) {
			return true
		}
	}
	return false
}

func (s *Store) GetTemplate(_ context.Context, id uuid.UUID) (domain.WorkflowTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tmpl, ok := s.templates[id]
	if !ok {
		return domain.WorkflowTemplate{}, domain.ErrTemplateNotFound
	}
	return tmpl.Clone(), nil
}

func (s *Store) FindTemplateByName(_ context.Context, name string) (domain.WorkflowTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, tmpl := range s.templates {
		if strings.EqualFold(tmpl.Name, strings.TrimSpace(name)) {
			return tmpl.Clone(), nil
		}
	}
	return domain.WorkflowTemplate{}, domain.ErrTemplateNotFound
}

func (s *Store) ListTemplates(_ context.Context, activeOnly bool) ([]domain.WorkflowTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.WorkflowTemplate, 0, len(s.templates))
	for _, tmpl := range s.templates {
		if activeOnly && !tmpl.Active {
			continue
		}
		out = append(out, tmpl.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// ---------------- INSTANCES ----------------

func (s *Store) CreateInstance(_ context.Context, inst domain.WorkflowInstance, events []domain.EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.instances[inst.ID] = inst.Clone()
	s.order = append(s.order, inst.ID)
	s.appendEventsLocked(events)
	return nil
}

func (s *Store) GetInstance(_ context.Context, id uuid.UUID) (domain.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.instances[id]
	if !ok {
		return domain.WorkflowInstance{}, domain.ErrInstanceNotFound
	}
	return inst.Clone(), nil
}

func (s *Store) ListInstances(_ context.Context, filter domain.InstanceFilter) ([]domain.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.WorkflowInstance, 0, len(s.order))
	for _, id := range s.order {
		inst := s.instances[id]
		if filter.EntityID != "" && inst.EntityID != filter.EntityID {
			continue
		}
		if filter.EntityType != "" && inst.EntityType != filter.EntityType {
			continue
		}
		if filter.TemplateID != uuid.Nil && inst.TemplateID != filter.TemplateID {
			continue
		}
		if filter.Status != "" && inst.Status != filter.Status {
			continue
		}
		out = append(out, inst.Clone())
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// MutateInstance applies fn to a copy of the instance under the store lock
// and commits the copy and its events only when fn succeeds.
func (s *Store) MutateInstance(
	_ context.Context,
	id uuid.UUID,
	fn func(inst *domain.WorkflowInstance) ([]domain.EventRecord, error),
) (domain.WorkflowInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.instances[id]
	if !ok {
		return domain.WorkflowInstance{}, domain.ErrInstanceNotFound
	}

	working := current.Clone()
	events, err := fn(&working)
	if err != nil {
		return domain.WorkflowInstance{}, err
	}

	s.instances[id] = working.Clone()
	s.appendEventsLocked(events)
	return working, nil
}

func (s *Store) ListOverdue(_ context.Context, now time.Time, limit int) ([]domain.OverdueStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.OverdueStep, 0)
	for _, id := range s.order {
		inst := s.instances[id]
		if inst.Status != domain.InstanceActive || inst.CurrentStep >= len(inst.Steps) {
			continue
		}
		step := inst.Steps[inst.CurrentStep]
		if step.Status != domain.StepInProgress || step.DueDate == nil || step.OverdueNotified != nil {
			continue
		}
		if !step.DueDate.Before(now) {
			continue
		}
		out = append(out, domain.OverdueStep{
			InstanceID: inst.ID,
			StepIndex:  inst.CurrentStep,
			DueDate:    *step.DueDate,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---------------- EVENTS ----------------

func (s *Store) ListEventsAfter(_ context.Context, instanceID uuid.UUID, afterSeq int64) ([]domain.EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.instances[instanceID]; !ok {
		return nil, domain.ErrInstanceNotFound
	}

	out := make([]domain.EventRecord, 0, 8)
	for _, ev := range s.events {
		if ev.InstanceID == instanceID && ev.Seq > afterSeq {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *Store) ResolveCursorByEventID(_ context.Context, instanceID uuid.UUID, eventID uuid.UUID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ev := range s.events {
		if ev.ID == eventID && ev.InstanceID == instanceID {
			return ev.Seq, nil
		}
	}
	return 0, domain.ErrEventNotFound
}

func (s *Store) appendEventsLocked(events []domain.EventRecord) {
	for _, ev := range events {
		s.seq++
		ev.Seq = s.seq
		ev.Payload = append([]byte(nil), ev.Payload...)
		s.events = append(s.events, ev)
	}
}
