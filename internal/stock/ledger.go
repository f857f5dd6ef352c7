package stock

import (
	"context"
	"fmt"
)

// ledger applies the stock rules on top of a transactional repository. All
// stock mutations go through it so the negative-stock policy and the derived
// product total stay in one place.
type ledger struct {
	tx       TxRepository
	allowNeg bool
	rounding Rounding
	notes    *notes
}

// Entries returns every entry of the product, principal first, then by factor and id.
func (l *ledger) Entries(ctx context.Context, productID ProductID) ([]Entry, error) {
	entries, err := l.tx.ListEntries(ctx, productID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: product %d", ErrNoUnitsConfigured, productID)
	}
	return entries, nil
}

// Entry loads one entry.
func (l *ledger) Entry(ctx context.Context, id EntryID) (Entry, error) {
	return l.tx.GetEntry(ctx, id)
}

// SellableEntry loads an entry and checks that it is active and belongs to productID.
func (l *ledger) SellableEntry(ctx context.Context, productID ProductID, id EntryID) (Entry, error) {
	e, err := l.tx.GetEntry(ctx, id)
	if err != nil {
		return Entry{}, err
	}
	if e.ProductID != productID || !e.Active {
		return Entry{}, fmt.Errorf("%w %d for product %d", ErrUnitEntryNotFound, id, productID)
	}
	return e, nil
}

// ResolvePrincipal returns the principal active entry, falling back to the
// active entry with the smallest conversion factor.
func (l *ledger) ResolvePrincipal(ctx context.Context, productID ProductID) (Entry, error) {
	return l.tx.PrincipalEntry(ctx, productID)
}

// AdjustStock applies delta to one entry and returns the new stock.
func (l *ledger) AdjustStock(ctx context.Context, id EntryID, delta int64) (int64, error) {
	if delta == 0 {
		return 0, invalidf("zero stock adjustment for entry %d", id)
	}
	stock, err := l.tx.AddStock(ctx, id, delta)
	if err != nil {
		return 0, err
	}
	if stock < 0 {
		if !l.allowNeg {
			return 0, fmt.Errorf("%w: entry %d would hold %d", ErrInsufficientStock, id, stock)
		}
		l.notes.add(note{
			action:   ActionNegativeStock,
			entity:   "product_unit",
			entityID: fmt.Sprint(id),
			meta:     map[string]any{"entry_id": int64(id), "stock": stock, "delta": delta},
		})
	}
	return stock, nil
}

// RecomputeTotal rewrites products.stock_total from the ledger and returns
// the previous and new totals. Disabled entries still hold stock and count.
func (l *ledger) RecomputeTotal(ctx context.Context, productID ProductID) (RepairResult, error) {
	product, err := l.tx.GetProduct(ctx, productID)
	if err != nil {
		return RepairResult{}, err
	}
	entries, err := l.Entries(ctx, productID)
	if err != nil {
		return RepairResult{}, err
	}
	total, err := Aggregate(entries, l.rounding)
	if err != nil {
		return RepairResult{}, fmt.Errorf("product %d: %w", productID, err)
	}
	if err := l.tx.SetStockTotal(ctx, productID, total); err != nil {
		return RepairResult{}, err
	}
	return RepairResult{ProductID: productID, Previous: product.StockTotal, Current: total}, nil
}
