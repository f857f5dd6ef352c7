package units

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ventas-erp/ventas-erp/internal/masterdata/shared"
	"github.com/ventas-erp/ventas-erp/internal/platform/db"
)

type Repository interface {
	List(ctx context.Context, filters shared.ListFilters) ([]Unit, int, error)
	Get(ctx context.Context, id int64) (Unit, error)
	Create(ctx context.Context, unit Unit) (Unit, error)
	Update(ctx context.Context, id int64, unit Unit) (Unit, error)
	Delete(ctx context.Context, id int64) error
}

type repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const unitColumns = `id, name, abbreviation, created_at, updated_at`

func scanUnit(row pgx.Row) (Unit, error) {
	var u Unit
	err := row.Scan(&u.ID, &u.Name, &u.Abbreviation, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func (r *repository) List(ctx context.Context, filters shared.ListFilters) ([]Unit, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		where += ` AND (name ILIKE $1 OR abbreviation ILIKE $1)`
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM units`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + unitColumns + ` FROM units` + where + ` ORDER BY ` + sortOrder(filters.SortBy, filters.SortDir)
	if filters.Limit > 0 {
		query += ` LIMIT $` + strconv.Itoa(len(args)+1) + ` OFFSET $` + strconv.Itoa(len(args)+2)
		args = append(args, filters.Limit, filters.Offset())
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var units []Unit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, 0, err
		}
		units = append(units, u)
	}
	return units, total, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Unit, error) {
	u, err := scanUnit(r.pool.QueryRow(ctx, `SELECT `+unitColumns+` FROM units WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Unit{}, fmt.Errorf("unit %d: %w", id, shared.ErrNotFound)
	}
	return u, err
}

func (r *repository) Create(ctx context.Context, unit Unit) (Unit, error) {
	u, err := scanUnit(r.pool.QueryRow(ctx, `INSERT INTO units (name, abbreviation, name_key, abbreviation_key, created_at, updated_at)
VALUES ($1, $2, $3, $4, NOW(), NOW())
RETURNING `+unitColumns, unit.Name, unit.Abbreviation, Key(unit.Name), Key(unit.Abbreviation)))
	if db.IsUniqueViolation(err) {
		return Unit{}, fmt.Errorf("unit %q: %w", unit.Name, shared.ErrDuplicate)
	}
	return u, err
}

func (r *repository) Update(ctx context.Context, id int64, unit Unit) (Unit, error) {
	u, err := scanUnit(r.pool.QueryRow(ctx, `UPDATE units
SET name=$2, abbreviation=$3, name_key=$4, abbreviation_key=$5, updated_at=NOW()
WHERE id=$1
RETURNING `+unitColumns, id, unit.Name, unit.Abbreviation, Key(unit.Name), Key(unit.Abbreviation)))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return Unit{}, fmt.Errorf("unit %d: %w", id, shared.ErrNotFound)
	case db.IsUniqueViolation(err):
		return Unit{}, fmt.Errorf("unit %q: %w", unit.Name, shared.ErrDuplicate)
	}
	return u, err
}

// Delete relies on the product_units foreign key to refuse removing a unit
// that is still configured for a product.
func (r *repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM units WHERE id=$1`, id)
	if db.IsForeignKeyViolation(err) {
		return fmt.Errorf("unit %d: %w", id, shared.ErrInUse)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("unit %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

func sortOrder(sortBy, sortDir string) string {
	dir := "ASC"
	if sortDir == shared.SortDesc {
		dir = "DESC"
	}
	switch sortBy {
	case "abbreviation":
		return "abbreviation " + dir + ", id"
	case "id":
		return "id " + dir
	default:
		return "name " + dir + ", id"
	}
}
