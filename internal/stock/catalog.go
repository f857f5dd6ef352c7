package stock

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// factorScale matches numeric(18,6) in product_units.conversion_factor.
const factorScale = 6

// CreateProduct registers a product with no units; it cannot be sold until an
// entry is added.
func (s *Service) CreateProduct(ctx context.Context, input ProductInput) (Product, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Code = strings.TrimSpace(input.Code)
	if input.Name == "" || input.Code == "" {
		return Product{}, invalidf("product name and code required")
	}
	if input.BasePrice.IsNegative() {
		return Product{}, invalidf("base price must not be negative")
	}
	var product Product
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		product, err = tx.InsertProduct(ctx, Product{Name: input.Name, Code: input.Code, BasePrice: input.BasePrice})
		return err
	})
	if err != nil {
		return Product{}, err
	}
	s.record(ctx, input.ActorID, note{
		action:   ActionProductCreated,
		entity:   "product",
		entityID: fmt.Sprint(product.ID),
		meta:     map[string]any{"code": product.Code},
	})
	return product, nil
}

// AddEntry configures a new selling unit for a product and refreshes its total.
func (s *Service) AddEntry(ctx context.Context, input EntryInput) (Entry, error) {
	if err := validateFactor(input.Factor); err != nil {
		return Entry{}, err
	}
	if input.UnitPrice.IsNegative() {
		return Entry{}, invalidf("unit price must not be negative")
	}
	if input.InitialStock < 0 {
		return Entry{}, invalidf("initial stock must not be negative")
	}
	var entry Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetProduct(ctx, input.ProductID); err != nil {
			return err
		}
		unit, err := tx.GetUnit(ctx, input.UnitID)
		if err != nil {
			return err
		}
		if input.Principal {
			if err := tx.ClearPrincipal(ctx, input.ProductID, 0); err != nil {
				return err
			}
		}
		entry, err = tx.InsertEntry(ctx, Entry{
			ProductID:   input.ProductID,
			UnitID:      unit.ID,
			UnitName:    unit.Name,
			Factor:      input.Factor,
			IsPrincipal: input.Principal,
			Stock:       input.InitialStock,
			UnitPrice:   input.UnitPrice,
		})
		if err != nil {
			return err
		}
		_, err = s.ledger(tx, nil).RecomputeTotal(ctx, input.ProductID)
		return err
	})
	if err != nil {
		return Entry{}, err
	}
	s.entryChanged(ctx, input.ActorID, entry, "added")
	return entry, nil
}

// UpdateEntry changes the factor and/or unit price of an entry. Recorded sale
// and return lines keep their frozen snapshots.
func (s *Service) UpdateEntry(ctx context.Context, id EntryID, update EntryUpdate) (Entry, error) {
	if update.Factor == nil && update.UnitPrice == nil {
		return Entry{}, invalidf("nothing to update")
	}
	if update.Factor != nil {
		if err := validateFactor(*update.Factor); err != nil {
			return Entry{}, err
		}
	}
	if update.UnitPrice != nil && update.UnitPrice.IsNegative() {
		return Entry{}, invalidf("unit price must not be negative")
	}
	return s.mutateEntry(ctx, id, update.ActorID, "updated", func(ctx context.Context, tx TxRepository, e *Entry) error {
		if update.Factor != nil {
			e.Factor = *update.Factor
		}
		if update.UnitPrice != nil {
			e.UnitPrice = *update.UnitPrice
		}
		return nil
	})
}

// SetPrincipal marks the entry as the product's default selling unit.
func (s *Service) SetPrincipal(ctx context.Context, id EntryID, actorID int64) (Entry, error) {
	return s.mutateEntry(ctx, id, actorID, "principal", func(ctx context.Context, tx TxRepository, e *Entry) error {
		if !e.Active {
			return invalidf("entry %d is disabled", e.ID)
		}
		if err := tx.ClearPrincipal(ctx, e.ProductID, e.ID); err != nil {
			return err
		}
		e.IsPrincipal = true
		return nil
	})
}

// DisableEntry stops an entry from being sold. Its stock keeps counting
// towards the product total and history keeps referencing it.
func (s *Service) DisableEntry(ctx context.Context, id EntryID, actorID int64) (Entry, error) {
	return s.mutateEntry(ctx, id, actorID, "disabled", func(_ context.Context, _ TxRepository, e *Entry) error {
		e.Active = false
		e.IsPrincipal = false
		return nil
	})
}

func (s *Service) mutateEntry(ctx context.Context, id EntryID, actorID int64, change string, fn func(context.Context, TxRepository, *Entry) error) (Entry, error) {
	var entry Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		e, err := tx.GetEntry(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(ctx, tx, &e); err != nil {
			return err
		}
		if err := tx.UpdateEntry(ctx, e); err != nil {
			return err
		}
		if _, err := s.ledger(tx, nil).RecomputeTotal(ctx, e.ProductID); err != nil {
			return err
		}
		entry = e
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	s.entryChanged(ctx, actorID, entry, change)
	return entry, nil
}

func (s *Service) entryChanged(ctx context.Context, actorID int64, e Entry, change string) {
	s.invalidate(ctx, e.ProductID)
	s.record(ctx, actorID, note{
		action:   ActionEntryChanged,
		entity:   "product_unit",
		entityID: fmt.Sprint(e.ID),
		meta: map[string]any{
			"change":     change,
			"product_id": int64(e.ProductID),
			"factor":     e.Factor.String(),
			"principal":  e.IsPrincipal,
			"active":     e.Active,
		},
	})
}

// GetStock returns the product with its ledger entries, served from cache when available.
func (s *Service) GetStock(ctx context.Context, id ProductID) (StockView, error) {
	return s.cache.Load(ctx, id, func(ctx context.Context) (StockView, error) {
		return s.loadStock(ctx, id)
	})
}

func (s *Service) loadStock(ctx context.Context, id ProductID) (StockView, error) {
	var view StockView
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		product, err := tx.GetProduct(ctx, id)
		if err != nil {
			return err
		}
		entries, err := tx.ListEntries(ctx, id)
		if err != nil {
			return err
		}
		if entries == nil {
			entries = []Entry{}
		}
		view = StockView{Product: product, Entries: entries}
		return nil
	})
	return view, err
}

func validateFactor(f decimal.Decimal) error {
	if !f.IsPositive() {
		return invalidf("conversion factor must be positive, got %s", f)
	}
	if !f.Equal(f.Round(factorScale)) {
		return invalidf("conversion factor %s has more than %d decimal places", f, factorScale)
	}
	return nil
}
