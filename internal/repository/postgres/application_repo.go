package postgres

import (
	"context"
	"fmt"

	"github.com/atlasgate/portal/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ApplicationRepo only answers existence checks; the application records
// themselves are managed elsewhere.
type ApplicationRepo struct {
	pool *pgxpool.Pool
}

func NewApplicationRepo(pool *pgxpool.Pool) *ApplicationRepo {
	return &ApplicationRepo{pool: pool}
}

func (r *ApplicationRepo) Exists(ctx context.Context, app domain.ApplicationContext) (bool, error) {
	table, ok := applicationTables[app.Type]
	if !ok {
		return false, fmt.Errorf("unknown application type %q", app.Type)
	}

	var exists bool
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, table)
	err := r.pool.QueryRow(ctx, query, app.ID).Scan(&exists)
	return exists, err
}
