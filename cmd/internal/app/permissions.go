package app

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresPermissionSource reads the permission snapshot embedded into access
// credentials at issuance.
type PostgresPermissionSource struct {
	pool *pgxpool.Pool
}

// NewPostgresPermissionSource constructs a PostgresPermissionSource.
func NewPostgresPermissionSource(pool *pgxpool.Pool) (*PostgresPermissionSource, error) {
	if pool == nil {
		return nil, errors.New("app: nil db pool")
	}
	return &PostgresPermissionSource{pool: pool}, nil
}

// Permissions implements session.PermissionSource.
func (p *PostgresPermissionSource) Permissions(ctx context.Context, userID string) ([]string, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT permission
		FROM keygate.user_permissions
		WHERE user_id = $1
		ORDER BY permission
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var perm string
		if err := rows.Scan(&perm); err != nil {
			return nil, err
		}
		out = append(out, perm)
	}
	return out, rows.Err()
}
