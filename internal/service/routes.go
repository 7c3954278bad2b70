package service

import (
	"context"
	"fmt"

	"github.com/crestline/be-tax-approvals/internal/errors"
	"github.com/crestline/be-tax-approvals/internal/repository"
)

// CreateRoute validates and persists a new routing configuration.
func (s *ApprovalService) CreateRoute(ctx context.Context, route *repository.Route) error {
	if err := validateRoute(route); err != nil {
		return err
	}
	route.IsActive = true
	if err := s.store.CreateRoute(ctx, route); err != nil {
		return err
	}

	s.log.Info().
		Str("route_id", route.ID).
		Str("workflow_type", route.WorkflowType).
		Str("name", route.Name).
		Bool("is_default", route.IsDefault).
		Int("templates", len(route.Steps)).
		Msg("Route created")
	return nil
}

// UpdateRoute validates and persists changes to a route, bumping its version.
// In-flight approvals are unaffected; routes are read at creation time only.
func (s *ApprovalService) UpdateRoute(ctx context.Context, route *repository.Route) error {
	if route.ID == "" {
		return errors.InvalidInput("id", "route id is required")
	}
	if err := validateRoute(route); err != nil {
		return err
	}
	return s.store.UpdateRoute(ctx, route)
}

// GetRoute returns one route by ID.
func (s *ApprovalService) GetRoute(ctx context.Context, id string) (*repository.Route, error) {
	return s.store.GetRoute(ctx, id)
}

// ListRoutes returns routes, optionally filtered by workflow type.
func (s *ApprovalService) ListRoutes(ctx context.Context, workflowType *string, activeOnly bool) ([]*repository.Route, error) {
	return s.store.ListRoutes(ctx, workflowType, activeOnly)
}

// DeactivateRoute retires a route.
func (s *ApprovalService) DeactivateRoute(ctx context.Context, id string) error {
	return s.store.DeactivateRoute(ctx, id)
}

// validateRoute enforces structural coherence of a routing configuration:
// unique step orders and type/field consistency per template.
func validateRoute(route *repository.Route) error {
	if route.WorkflowType == "" {
		return errors.InvalidInput("workflow_type", "workflow type is required")
	}
	if route.Name == "" {
		return errors.InvalidInput("name", "route name is required")
	}
	if len(route.Steps) == 0 {
		return errors.InvalidInput("steps", "route must declare at least one step template")
	}

	orders := make(map[int]struct{}, len(route.Steps))
	for _, tmpl := range route.Steps {
		if _, dup := orders[tmpl.StepOrder]; dup {
			return errors.InvalidInput("steps", fmt.Sprintf("duplicate step order %d", tmpl.StepOrder))
		}
		orders[tmpl.StepOrder] = struct{}{}

		switch tmpl.StepType {
		case repository.StepTypeUser:
			if tmpl.AssignedToUserPath == nil || *tmpl.AssignedToUserPath == "" {
				return errors.InvalidInput("steps",
					fmt.Sprintf("step %d: USER steps need an assignee path", tmpl.StepOrder))
			}
		case repository.StepTypeConditionalUser:
			if tmpl.AssignedToUserPath == nil || *tmpl.AssignedToUserPath == "" {
				return errors.InvalidInput("steps",
					fmt.Sprintf("step %d: CONDITIONAL_USER steps need an assignee path", tmpl.StepOrder))
			}
			if tmpl.Condition == nil {
				return errors.InvalidInput("steps",
					fmt.Sprintf("step %d: CONDITIONAL_USER steps need a condition", tmpl.StepOrder))
			}
		case repository.StepTypeRole:
			if tmpl.AssignedToRole == nil || *tmpl.AssignedToRole == "" {
				return errors.InvalidInput("steps",
					fmt.Sprintf("step %d: ROLE steps need a role", tmpl.StepOrder))
			}
		default:
			return errors.InvalidInput("steps",
				fmt.Sprintf("step %d: unknown step type %q", tmpl.StepOrder, tmpl.StepType))
		}
	}
	return nil
}
