package stock

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const moduleSale = "stock.sale"

// RecordSale records a sale header with all of its lines in one transaction.
// Each line decrements exactly one ledger entry: the requested one, or the
// product's principal entry when none is given.
func (s *Service) RecordSale(ctx context.Context, input SaleInput) (Sale, error) {
	if err := validateSale(input); err != nil {
		return Sale{}, err
	}
	ref, err := requestRef(input.IdempotencyKey)
	if err != nil {
		return Sale{}, err
	}
	claimed, err := s.claimKey(ctx, input.IdempotencyKey, moduleSale)
	if err != nil {
		return Sale{}, err
	}

	var (
		sale    Sale
		touched []ProductID
		n       notes
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		n.reset()
		touched = touched[:0]
		l := s.ledger(tx, &n)

		header, err := tx.InsertSale(ctx, Sale{Ref: ref, Note: input.Note}, input.ActorID)
		if err != nil {
			return fmt.Errorf("insert sale: %w", err)
		}
		header.Lines = make([]SaleLine, 0, len(input.Lines))
		for i, in := range input.Lines {
			line, err := s.sellLine(ctx, l, header.ID, in)
			if err != nil {
				return fmt.Errorf("line %d: %w", i+1, err)
			}
			header.Lines = append(header.Lines, line)
			touched = appendUnique(touched, in.ProductID)
		}
		sale = header
		return nil
	})
	s.emit(ctx, input.ActorID, &n, err == nil)
	s.metrics.ObserveOperation("sale", Code(err))
	if err != nil {
		if claimed {
			s.releaseKey(ctx, input.IdempotencyKey, moduleSale)
		}
		return Sale{}, err
	}

	s.invalidate(ctx, touched...)
	s.record(ctx, input.ActorID, note{
		action:   ActionSale,
		entity:   "sale",
		entityID: fmt.Sprint(sale.ID),
		meta:     map[string]any{"ref": sale.Ref.String(), "lines": len(sale.Lines)},
	})
	return sale, nil
}

func (s *Service) sellLine(ctx context.Context, l *ledger, saleID SaleID, in SaleLineInput) (SaleLine, error) {
	if _, err := l.tx.GetProduct(ctx, in.ProductID); err != nil {
		return SaleLine{}, err
	}
	var (
		entry Entry
		err   error
	)
	if in.EntryID == nil {
		entry, err = l.ResolvePrincipal(ctx, in.ProductID)
	} else {
		entry, err = l.SellableEntry(ctx, in.ProductID, *in.EntryID)
	}
	if err != nil {
		return SaleLine{}, err
	}
	if _, err := l.AdjustStock(ctx, entry.ID, -in.Quantity); err != nil {
		return SaleLine{}, err
	}
	line, err := l.tx.InsertSaleLine(ctx, SaleLine{
		SaleID:           saleID,
		ProductID:        in.ProductID,
		Quantity:         in.Quantity,
		UnitPrice:        in.UnitPrice,
		Subtotal:         subtotal(in.Quantity, in.UnitPrice),
		EntryID:          entry.ID,
		UnitNameSnapshot: entry.UnitName,
		FactorSnapshot:   entry.Factor,
	})
	if err != nil {
		return SaleLine{}, fmt.Errorf("insert sale line: %w", err)
	}
	if _, err := l.RecomputeTotal(ctx, in.ProductID); err != nil {
		return SaleLine{}, err
	}
	return line, nil
}

func validateSale(input SaleInput) error {
	if len(input.Lines) == 0 {
		return invalidf("sale requires at least one line")
	}
	for i, line := range input.Lines {
		if err := validateLine(line.ProductID, line.Quantity, line.UnitPrice); err != nil {
			return fmt.Errorf("line %d: %w", i+1, err)
		}
	}
	return nil
}

func validateLine(productID ProductID, qty int64, price decimal.Decimal) error {
	if productID <= 0 {
		return invalidf("product id required")
	}
	if qty <= 0 {
		return invalidf("quantity must be positive, got %d", qty)
	}
	if price.IsNegative() {
		return invalidf("unit price must not be negative, got %s", price)
	}
	return nil
}

// requestRef derives the stored reference from the idempotency key so a
// retried request maps onto the same record.
func requestRef(key string) (uuid.UUID, error) {
	if key == "" {
		return uuid.New(), nil
	}
	ref, err := uuid.Parse(key)
	if err != nil {
		return uuid.Nil, invalidf("idempotency key must be a UUID")
	}
	return ref, nil
}

func subtotal(qty int64, price decimal.Decimal) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(qty))
}

func appendUnique(ids []ProductID, id ProductID) []ProductID {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}
