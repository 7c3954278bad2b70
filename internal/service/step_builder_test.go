package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crestline/be-tax-approvals/internal/condition"
	"github.com/crestline/be-tax-approvals/internal/repository"
)

func buildRoute(templates ...repository.StepTemplate) *repository.Route {
	return &repository.Route{
		ID:           "route-1",
		WorkflowType: "TAX_RETURN",
		Name:         "standard",
		IsActive:     true,
		Steps:        templates,
	}
}

func TestBuildSteps_OrdersTemplates(t *testing.T) {
	svc := newTestService(newFakeStore(), newFakeIdentity(), nil)

	steps := svc.buildSteps(context.Background(), buildRoute(
		userTemplate(30, "c"),
		userTemplate(10, "a"),
		userTemplate(20, "b"),
	), map[string]any{"a": "u-a", "b": "u-b", "c": "u-c"})

	require.Len(t, steps, 3)
	assert.Equal(t, []int{10, 20, 30}, []int{steps[0].StepOrder, steps[1].StepOrder, steps[2].StepOrder})
	assert.Equal(t, "u-a", *steps[0].AssignedToUserID)
	assert.Equal(t, repository.StepStatusPending, steps[0].Status)
}

func TestBuildSteps_NestedContextPath(t *testing.T) {
	svc := newTestService(newFakeStore(), newFakeIdentity(), nil)

	steps := svc.buildSteps(context.Background(), buildRoute(
		userTemplate(10, "engagement.partner.id"),
	), map[string]any{
		"engagement": map[string]any{
			"partner": map[string]any{"id": "user-par"},
		},
	})

	require.Len(t, steps, 1)
	assert.Equal(t, "user-par", *steps[0].AssignedToUserID)
}

func TestBuildSteps_EmployeeReferenceResolution(t *testing.T) {
	identity := newFakeIdentity()
	identity.users["emp:4410"] = "user-4410"
	svc := newTestService(newFakeStore(), identity, nil)

	route := buildRoute(userTemplate(10, "preparer"))

	steps := svc.buildSteps(context.Background(), route, map[string]any{"preparer": "emp:4410"})
	require.Len(t, steps, 1)
	assert.Equal(t, "user-4410", *steps[0].AssignedToUserID)

	// Reference resolving to nobody leaves the step unassigned.
	steps = svc.buildSteps(context.Background(), route, map[string]any{"preparer": "emp:9999"})
	require.Len(t, steps, 1)
	assert.Nil(t, steps[0].AssignedToUserID)

	// Directory outage degrades the same way instead of failing creation.
	identity.resolveErr = assert.AnError
	steps = svc.buildSteps(context.Background(), route, map[string]any{"preparer": "emp:4410"})
	require.Len(t, steps, 1)
	assert.Nil(t, steps[0].AssignedToUserID)
}

func TestBuildSteps_MissingPathLeavesStepUnassigned(t *testing.T) {
	svc := newTestService(newFakeStore(), newFakeIdentity(), nil)

	steps := svc.buildSteps(context.Background(), buildRoute(
		userTemplate(10, "reviewer"),
	), map[string]any{"unrelated": "x"})

	require.Len(t, steps, 1)
	assert.Nil(t, steps[0].AssignedToUserID)
}

func TestBuildSteps_RoleTemplateCarriesRoleOnly(t *testing.T) {
	svc := newTestService(newFakeStore(), newFakeIdentity(), nil)

	steps := svc.buildSteps(context.Background(), buildRoute(repository.StepTemplate{
		StepOrder:      10,
		StepType:       repository.StepTypeRole,
		AssignedToRole: strPtr("tax_partner"),
	}), nil)

	require.Len(t, steps, 1)
	assert.Nil(t, steps[0].AssignedToUserID)
	assert.Equal(t, "tax_partner", *steps[0].AssignedToRole)
}

func TestBuildSteps_ConditionGatesMaterialization(t *testing.T) {
	svc := newTestService(newFakeStore(), newFakeIdentity(), nil)

	gated := repository.StepTemplate{
		StepOrder:          20,
		StepType:           repository.StepTypeConditionalUser,
		AssignedToUserPath: strPtr("partner"),
		Condition: &condition.Predicate{
			Op: condition.OpAnd,
			Args: []*condition.Predicate{
				{Op: condition.OpGte, Field: "amount", Value: 10000},
				{Op: condition.OpEq, Field: "entity.type", Value: "corporation"},
			},
		},
	}
	route := buildRoute(userTemplate(10, "reviewer"), gated)

	facts := map[string]any{
		"reviewer": "user-rev",
		"partner":  "user-par",
		"amount":   25000,
		"entity":   map[string]any{"type": "corporation"},
	}
	steps := svc.buildSteps(context.Background(), route, facts)
	require.Len(t, steps, 2)
	assert.Equal(t, 20, steps[1].StepOrder)

	facts["amount"] = 500
	steps = svc.buildSteps(context.Background(), route, facts)
	require.Len(t, steps, 1)
	assert.Equal(t, 10, steps[0].StepOrder)
}

func TestBuildSteps_OptionalFlag(t *testing.T) {
	svc := newTestService(newFakeStore(), newFakeIdentity(), nil)

	optional := userTemplate(20, "observer")
	optional.IsRequired = boolPtr(false)
	steps := svc.buildSteps(context.Background(), buildRoute(
		userTemplate(10, "reviewer"),
		optional,
	), map[string]any{"reviewer": "u-r", "observer": "u-o"})

	require.Len(t, steps, 2)
	assert.True(t, steps[0].IsRequired)
	assert.False(t, steps[1].IsRequired)
}
