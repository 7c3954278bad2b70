package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/crestline/be-tax-approvals/internal/condition"
	"github.com/crestline/be-tax-approvals/internal/repository"
)

// employeeRefPrefix marks a context value that is an employee-directory
// reference rather than a direct user identity. Such values are mapped to a
// user ID through the identity resolver at creation time.
const employeeRefPrefix = "emp:"

// buildSteps expands a route's templates into concrete approval steps for one
// approval instance. Templates whose condition evaluates false (or fails to
// evaluate) are never materialized; remaining steps keep their configured
// relative order.
func (s *ApprovalService) buildSteps(ctx context.Context, route *repository.Route, facts map[string]any) []*repository.ApprovalStep {
	templates := make([]repository.StepTemplate, len(route.Steps))
	copy(templates, route.Steps)
	sort.Slice(templates, func(i, j int) bool { return templates[i].StepOrder < templates[j].StepOrder })

	steps := make([]*repository.ApprovalStep, 0, len(templates))
	for _, tmpl := range templates {
		if tmpl.Condition != nil {
			applies, err := condition.Evaluate(tmpl.Condition, facts)
			if err != nil {
				// A malformed predicate must never break approval creation;
				// the step is skipped and the route needs fixing.
				s.log.Warn().Err(err).
					Str("route_id", route.ID).
					Int("step_order", tmpl.StepOrder).
					Msg("Step condition failed to evaluate; skipping step")
				continue
			}
			if !applies {
				continue
			}
		}

		step := &repository.ApprovalStep{
			StepOrder:  tmpl.StepOrder,
			StepType:   tmpl.StepType,
			IsRequired: tmpl.Required(),
			Status:     repository.StepStatusPending,
		}

		switch tmpl.StepType {
		case repository.StepTypeRole:
			// Role steps are resolved at action time: any holder of the
			// role may act, so no assignee is fixed here.
			step.AssignedToRole = tmpl.AssignedToRole

		default: // USER and CONDITIONAL_USER
			step.AssignedToUserID = s.resolveAssignee(ctx, route, tmpl, facts)
		}

		steps = append(steps, step)
	}
	return steps
}

// resolveAssignee looks up the template's user path in the approval context
// and, when the value is an employee reference, maps it through the identity
// resolver. A nil result leaves the step unassigned — a degraded state that
// stays actionable only after manual reassignment.
func (s *ApprovalService) resolveAssignee(ctx context.Context, route *repository.Route, tmpl repository.StepTemplate, facts map[string]any) *string {
	if tmpl.AssignedToUserPath == nil || *tmpl.AssignedToUserPath == "" {
		s.log.Warn().
			Str("route_id", route.ID).
			Int("step_order", tmpl.StepOrder).
			Msg("User step template has no assignee path; step will be unassigned")
		return nil
	}

	raw, ok := lookupPath(facts, *tmpl.AssignedToUserPath)
	if !ok {
		s.log.Warn().
			Str("route_id", route.ID).
			Int("step_order", tmpl.StepOrder).
			Str("path", *tmpl.AssignedToUserPath).
			Msg("Assignee path not present in approval context; step will be unassigned")
		return nil
	}

	ref := fmt.Sprintf("%v", raw)
	if ref == "" {
		return nil
	}

	if strings.HasPrefix(ref, employeeRefPrefix) {
		userID, err := s.identity.ResolveUser(ctx, ref)
		if err != nil {
			s.log.Warn().Err(err).
				Str("reference", ref).
				Int("step_order", tmpl.StepOrder).
				Msg("Identity resolution failed; step will be unassigned")
			return nil
		}
		if userID == "" {
			s.log.Warn().
				Str("reference", ref).
				Int("step_order", tmpl.StepOrder).
				Msg("Identity reference resolved to no user; step will be unassigned")
			return nil
		}
		return &userID
	}

	return &ref
}

// lookupPath resolves a dotted path through nested map[string]any values.
func lookupPath(facts map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var current any = facts
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	if current == nil {
		return nil, false
	}
	return current, true
}
