package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/crestline/be-tax-approvals/internal/database"
	"github.com/crestline/be-tax-approvals/internal/errors"
)

// RouteRepository handles CRUD and resolution for approval_routes.
type RouteRepository struct {
	db *database.DB
}

// NewRouteRepository creates a new RouteRepository.
func NewRouteRepository(db *database.DB) *RouteRepository {
	return &RouteRepository{db: db}
}

// Create inserts a new route. When the route is flagged default it atomically
// clears the default flag on every other route of the same workflow type, so
// at most one default exists per type.
func (r *RouteRepository) Create(ctx context.Context, route *Route) error {
	stepsJSON, err := json.Marshal(route.Steps)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal route steps")
	}

	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		if route.IsDefault {
			_, err := tx.Exec(ctx,
				`UPDATE approval_routes SET is_default = FALSE, updated_at = NOW()
				 WHERE workflow_type = $1 AND is_default`, route.WorkflowType)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to clear previous default route")
			}
		}

		query := `
			INSERT INTO approval_routes
			    (workflow_type, name, version, is_default, is_active,
			     requires_all_steps, steps)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id, created_at, updated_at
		`
		if route.Version == 0 {
			route.Version = 1
		}
		err := tx.QueryRow(ctx, query,
			route.WorkflowType,
			route.Name,
			route.Version,
			route.IsDefault,
			route.IsActive,
			route.RequiresAllSteps,
			stepsJSON,
		).Scan(&route.ID, &route.CreatedAt, &route.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create route")
		}
		return nil
	})
}

// GetByID retrieves a route by primary key.
func (r *RouteRepository) GetByID(ctx context.Context, id string) (*Route, error) {
	query := routeSelect + ` WHERE id = $1`

	route, err := r.scanRoute(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_route", id)
	}
	return route, err
}

// ResolveActive returns the active route to use for a new approval: the named
// route when routeName is given, the default route otherwise. Missing routes
// are a hard NotFound; approval creation must not fall back silently.
func (r *RouteRepository) ResolveActive(ctx context.Context, workflowType string, routeName *string) (*Route, error) {
	var (
		query string
		args  []any
	)
	if routeName != nil && *routeName != "" {
		query = routeSelect + `
			WHERE workflow_type = $1 AND name = $2 AND is_active
			ORDER BY version DESC
			LIMIT 1`
		args = []any{workflowType, *routeName}
	} else {
		query = routeSelect + `
			WHERE workflow_type = $1 AND is_default AND is_active
			ORDER BY version DESC
			LIMIT 1`
		args = []any{workflowType}
	}

	route, err := r.scanRoute(r.db.QueryRow(ctx, query, args...))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_route", workflowType)
	}
	return route, err
}

// List returns routes, optionally filtered by workflow type and active flag.
func (r *RouteRepository) List(ctx context.Context, workflowType *string, activeOnly bool) ([]*Route, error) {
	query := routeSelect + ` WHERE TRUE`
	var args []any
	if workflowType != nil && *workflowType != "" {
		args = append(args, *workflowType)
		query += ` AND workflow_type = $1`
	}
	if activeOnly {
		query += ` AND is_active`
	}
	query += ` ORDER BY workflow_type ASC, name ASC, version DESC`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list routes")
	}
	defer rows.Close()

	var routes []*Route
	for rows.Next() {
		route, err := r.scanRoute(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan route")
		}
		routes = append(routes, route)
	}
	return routes, nil
}

// Update persists changes to a route and bumps its version. In-flight
// approvals are unaffected: they copied the completion policy at creation.
func (r *RouteRepository) Update(ctx context.Context, route *Route) error {
	stepsJSON, err := json.Marshal(route.Steps)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal route steps")
	}

	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		if route.IsDefault {
			_, err := tx.Exec(ctx,
				`UPDATE approval_routes SET is_default = FALSE, updated_at = NOW()
				 WHERE workflow_type = $1 AND is_default AND id <> $2`,
				route.WorkflowType, route.ID)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to clear previous default route")
			}
		}

		query := `
			UPDATE approval_routes
			SET name               = $2,
			    version            = version + 1,
			    is_default         = $3,
			    is_active          = $4,
			    requires_all_steps = $5,
			    steps              = $6,
			    updated_at         = NOW()
			WHERE id = $1
			RETURNING version, updated_at
		`
		err := tx.QueryRow(ctx, query,
			route.ID,
			route.Name,
			route.IsDefault,
			route.IsActive,
			route.RequiresAllSteps,
			stepsJSON,
		).Scan(&route.Version, &route.UpdatedAt)
		if err == pgx.ErrNoRows {
			return errors.NotFound("approval_route", route.ID)
		}
		return err
	})
}

// Deactivate retires a route without deleting it; historical approvals keep
// referencing it.
func (r *RouteRepository) Deactivate(ctx context.Context, id string) error {
	query := `
		UPDATE approval_routes
		SET is_active  = FALSE,
		    is_default = FALSE,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("approval_route", id)
	}
	return err
}

// ── scan helpers ─────────────────────────────────────────────────────────────

const routeSelect = `
	SELECT id, workflow_type, name, version, is_default, is_active,
	       requires_all_steps, steps, created_at, updated_at
	FROM approval_routes`

type routeScanner interface {
	Scan(dest ...any) error
}

func (r *RouteRepository) scanRoute(row routeScanner) (*Route, error) {
	route := &Route{}
	var stepsJSON []byte

	err := row.Scan(
		&route.ID,
		&route.WorkflowType,
		&route.Name,
		&route.Version,
		&route.IsDefault,
		&route.IsActive,
		&route.RequiresAllSteps,
		&stepsJSON,
		&route.CreatedAt,
		&route.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(stepsJSON, &route.Steps); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal route steps")
	}
	return route, nil
}
