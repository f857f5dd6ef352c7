package stock

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ventas-erp/ventas-erp/internal/platform/db"
	"github.com/ventas-erp/ventas-erp/internal/shared"
)

// Repository persists products, the product-unit ledger, sales and returns in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	GetProduct(ctx context.Context, id ProductID) (Product, error)
	InsertProduct(ctx context.Context, p Product) (Product, error)
	SetStockTotal(ctx context.Context, id ProductID, total int64) error

	GetUnit(ctx context.Context, id UnitID) (UnitRef, error)

	ListEntries(ctx context.Context, productID ProductID) ([]Entry, error)
	GetEntry(ctx context.Context, id EntryID) (Entry, error)
	PrincipalEntry(ctx context.Context, productID ProductID) (Entry, error)
	AddStock(ctx context.Context, id EntryID, delta int64) (int64, error)
	InsertEntry(ctx context.Context, e Entry) (Entry, error)
	UpdateEntry(ctx context.Context, e Entry) error
	ClearPrincipal(ctx context.Context, productID ProductID, keep EntryID) error

	InsertSale(ctx context.Context, sale Sale, actorID int64) (Sale, error)
	InsertSaleLine(ctx context.Context, line SaleLine) (SaleLine, error)
	GetSale(ctx context.Context, id SaleID) (Sale, error)
	SaleLinesForUpdate(ctx context.Context, saleID SaleID, productID ProductID) ([]SaleLine, error)
	ReturnLines(ctx context.Context, saleID SaleID, productID ProductID) ([]ReturnLine, error)
	InsertReturn(ctx context.Context, ret Return, actorID int64) (Return, error)
	InsertReturnLine(ctx context.Context, line ReturnLine) (ReturnLine, error)
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// ListProductIDs returns every product id in ascending order.
func (r *Repository) ListProductIDs(ctx context.Context) ([]ProductID, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM products ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[ProductID])
}

const productColumns = `id, name, code, base_price, stock_total, updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Name, &p.Code, &p.BasePrice, &p.StockTotal, &p.UpdatedAt)
	return p, err
}

func (r *txRepo) GetProduct(ctx context.Context, id ProductID) (Product, error) {
	p, err := scanProduct(r.tx.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, fmt.Errorf("%w %d", ErrProductNotFound, id)
	}
	return p, err
}

func (r *txRepo) InsertProduct(ctx context.Context, p Product) (Product, error) {
	out, err := scanProduct(r.tx.QueryRow(ctx, `INSERT INTO products (name, code, base_price, stock_total, updated_at)
VALUES ($1, $2, $3, 0, NOW())
RETURNING `+productColumns, p.Name, p.Code, p.BasePrice))
	if db.IsUniqueViolation(err) {
		return Product{}, fmt.Errorf("%w: %s", ErrDuplicateProduct, p.Code)
	}
	return out, err
}

func (r *txRepo) SetStockTotal(ctx context.Context, id ProductID, total int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE products SET stock_total=$2, updated_at=NOW() WHERE id=$1`, id, total)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w %d", ErrProductNotFound, id)
	}
	return nil
}

func (r *txRepo) GetUnit(ctx context.Context, id UnitID) (UnitRef, error) {
	var u UnitRef
	err := r.tx.QueryRow(ctx, `SELECT id, name, abbreviation FROM units WHERE id=$1`, id).Scan(&u.ID, &u.Name, &u.Abbreviation)
	if errors.Is(err, pgx.ErrNoRows) {
		return UnitRef{}, fmt.Errorf("%w %d", ErrUnitNotFound, id)
	}
	return u, err
}

const entryColumns = `pu.id, pu.product_id, pu.unit_id, u.name, pu.conversion_factor, pu.is_principal, pu.stock, pu.unit_price, pu.active`

const entryFrom = ` FROM product_units pu JOIN units u ON u.id = pu.unit_id`

// scanEntry reads nullable stock and factor columns so legacy rows surface as
// ErrInconsistent instead of silently reading as zero.
func scanEntry(row pgx.Row) (Entry, error) {
	var (
		e      Entry
		factor decimal.NullDecimal
		stock  pgtype.Int8
	)
	if err := row.Scan(&e.ID, &e.ProductID, &e.UnitID, &e.UnitName, &factor, &e.IsPrincipal, &stock, &e.UnitPrice, &e.Active); err != nil {
		return Entry{}, err
	}
	if !factor.Valid || !stock.Valid {
		return Entry{}, fmt.Errorf("%w: entry %d has no stock or conversion factor", ErrInconsistent, e.ID)
	}
	e.Factor = factor.Decimal
	e.Stock = stock.Int64
	return e, nil
}

func (r *txRepo) ListEntries(ctx context.Context, productID ProductID) ([]Entry, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+entryColumns+entryFrom+`
WHERE pu.product_id=$1
ORDER BY pu.is_principal DESC, pu.conversion_factor ASC, pu.id ASC`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *txRepo) GetEntry(ctx context.Context, id EntryID) (Entry, error) {
	e, err := scanEntry(r.tx.QueryRow(ctx, `SELECT `+entryColumns+entryFrom+` WHERE pu.id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w %d", ErrUnitEntryNotFound, id)
	}
	return e, err
}

func (r *txRepo) PrincipalEntry(ctx context.Context, productID ProductID) (Entry, error) {
	e, err := scanEntry(r.tx.QueryRow(ctx, `SELECT `+entryColumns+entryFrom+`
WHERE pu.product_id=$1 AND pu.active
ORDER BY pu.is_principal DESC, pu.conversion_factor ASC, pu.id ASC
LIMIT 1`, productID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w: product %d", ErrNoUnitsConfigured, productID)
	}
	return e, err
}

func (r *txRepo) AddStock(ctx context.Context, id EntryID, delta int64) (int64, error) {
	var stock int64
	err := r.tx.QueryRow(ctx, `UPDATE product_units SET stock = stock + $2, updated_at = NOW() WHERE id=$1 RETURNING stock`, id, delta).Scan(&stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w %d", ErrUnitEntryNotFound, id)
	}
	return stock, err
}

func (r *txRepo) InsertEntry(ctx context.Context, e Entry) (Entry, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO product_units (product_id, unit_id, conversion_factor, is_principal, stock, unit_price, active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, TRUE, NOW(), NOW())
RETURNING id`, e.ProductID, e.UnitID, e.Factor, e.IsPrincipal, e.Stock, e.UnitPrice).Scan(&e.ID)
	if db.IsUniqueViolation(err) {
		return Entry{}, fmt.Errorf("%w: product %d unit %d", ErrDuplicateEntry, e.ProductID, e.UnitID)
	}
	if err != nil {
		return Entry{}, err
	}
	e.Active = true
	return e, nil
}

func (r *txRepo) UpdateEntry(ctx context.Context, e Entry) error {
	tag, err := r.tx.Exec(ctx, `UPDATE product_units
SET conversion_factor=$2, unit_price=$3, is_principal=$4, active=$5, updated_at=NOW()
WHERE id=$1`, e.ID, e.Factor, e.UnitPrice, e.IsPrincipal, e.Active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w %d", ErrUnitEntryNotFound, e.ID)
	}
	return nil
}

func (r *txRepo) ClearPrincipal(ctx context.Context, productID ProductID, keep EntryID) error {
	_, err := r.tx.Exec(ctx, `UPDATE product_units SET is_principal=FALSE, updated_at=NOW()
WHERE product_id=$1 AND id<>$2 AND is_principal`, productID, keep)
	return err
}

func (r *txRepo) InsertSale(ctx context.Context, sale Sale, actorID int64) (Sale, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO sales (ref, note, created_by, created_at)
VALUES ($1, $2, $3, NOW())
RETURNING id, created_at`, sale.Ref, sale.Note, pgtype.Int8{Int64: actorID, Valid: actorID != 0}).Scan(&sale.ID, &sale.CreatedAt)
	if db.IsUniqueViolation(err) {
		return Sale{}, shared.ErrIdempotencyConflict
	}
	return sale, err
}

func (r *txRepo) InsertSaleLine(ctx context.Context, line SaleLine) (SaleLine, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO sale_lines (sale_id, product_id, quantity, unit_price, subtotal, product_unit_id, unit_name, conversion_factor, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
RETURNING id, created_at`,
		line.SaleID, line.ProductID, line.Quantity, line.UnitPrice, line.Subtotal,
		line.EntryID, line.UnitNameSnapshot, line.FactorSnapshot,
	).Scan(&line.ID, &line.CreatedAt)
	return line, err
}

func (r *txRepo) GetSale(ctx context.Context, id SaleID) (Sale, error) {
	var s Sale
	err := r.tx.QueryRow(ctx, `SELECT id, ref, note, created_at FROM sales WHERE id=$1`, id).Scan(&s.ID, &s.Ref, &s.Note, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Sale{}, fmt.Errorf("%w %d", ErrSaleNotFound, id)
	}
	return s, err
}

// SaleLinesForUpdate locks the lines of one product within a sale, most recent
// first. Lines written before units existed carry no entry, name or factor;
// those come back as zero values.
func (r *txRepo) SaleLinesForUpdate(ctx context.Context, saleID SaleID, productID ProductID) ([]SaleLine, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, sale_id, product_id, quantity, unit_price, subtotal, product_unit_id, unit_name, conversion_factor, created_at
FROM sale_lines
WHERE sale_id=$1 AND product_id=$2
ORDER BY created_at DESC, id DESC
FOR UPDATE`, saleID, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []SaleLine
	for rows.Next() {
		var (
			l      SaleLine
			entry  pgtype.Int8
			name   pgtype.Text
			factor decimal.NullDecimal
		)
		if err := rows.Scan(&l.ID, &l.SaleID, &l.ProductID, &l.Quantity, &l.UnitPrice, &l.Subtotal, &entry, &name, &factor, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.EntryID = EntryID(entry.Int64)
		l.UnitNameSnapshot = name.String
		if factor.Valid {
			l.FactorSnapshot = factor.Decimal
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (r *txRepo) ReturnLines(ctx context.Context, saleID SaleID, productID ProductID) ([]ReturnLine, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, return_id, sale_id, product_id, quantity, unit_price, subtotal, product_unit_id, unit_name, conversion_factor, created_at
FROM return_lines
WHERE sale_id=$1 AND product_id=$2
ORDER BY id`, saleID, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []ReturnLine
	for rows.Next() {
		var l ReturnLine
		if err := rows.Scan(&l.ID, &l.ReturnID, &l.SaleID, &l.ProductID, &l.Quantity, &l.UnitPrice, &l.Subtotal, &l.EntryID, &l.UnitNameSnapshot, &l.FactorSnapshot, &l.CreatedAt); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (r *txRepo) InsertReturn(ctx context.Context, ret Return, actorID int64) (Return, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO returns (ref, sale_id, reason, created_by, created_at)
VALUES ($1, $2, $3, $4, NOW())
RETURNING id, created_at`, ret.Ref, ret.SaleID, ret.Reason, pgtype.Int8{Int64: actorID, Valid: actorID != 0}).Scan(&ret.ID, &ret.CreatedAt)
	if db.IsUniqueViolation(err) {
		return Return{}, shared.ErrIdempotencyConflict
	}
	return ret, err
}

func (r *txRepo) InsertReturnLine(ctx context.Context, line ReturnLine) (ReturnLine, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO return_lines (return_id, sale_id, product_id, quantity, unit_price, subtotal, product_unit_id, unit_name, conversion_factor, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
RETURNING id, created_at`,
		line.ReturnID, line.SaleID, line.ProductID, line.Quantity, line.UnitPrice, line.Subtotal,
		line.EntryID, line.UnitNameSnapshot, line.FactorSnapshot,
	).Scan(&line.ID, &line.CreatedAt)
	return line, err
}
