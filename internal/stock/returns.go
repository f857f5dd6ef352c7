package stock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
)

const moduleReturn = "stock.return"

// RecordReturn records a return against one sale. Stock always goes back to
// the ledger entry frozen on the most recent sale line for the product; the
// entry suggested by the client is only trusted for lines recorded before
// units existed.
func (s *Service) RecordReturn(ctx context.Context, input ReturnInput) (Return, error) {
	if err := validateReturn(input); err != nil {
		return Return{}, err
	}
	ref, err := requestRef(input.IdempotencyKey)
	if err != nil {
		return Return{}, err
	}
	claimed, err := s.claimKey(ctx, input.IdempotencyKey, moduleReturn)
	if err != nil {
		return Return{}, err
	}

	var (
		ret     Return
		touched []ProductID
		n       notes
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		n.reset()
		touched = touched[:0]
		l := s.ledger(tx, &n)

		if _, err := tx.GetSale(ctx, input.SaleID); err != nil {
			return err
		}
		header, err := tx.InsertReturn(ctx, Return{Ref: ref, SaleID: input.SaleID, Reason: input.Reason}, input.ActorID)
		if err != nil {
			return fmt.Errorf("insert return: %w", err)
		}
		header.Lines = make([]ReturnLine, 0, len(input.Items))
		for i, item := range input.Items {
			line, err := s.returnItem(ctx, l, header, item)
			if err != nil {
				return fmt.Errorf("item %d: %w", i+1, err)
			}
			header.Lines = append(header.Lines, line)
			touched = appendUnique(touched, item.ProductID)
		}
		ret = header
		return nil
	})
	s.emit(ctx, input.ActorID, &n, err == nil)
	s.metrics.ObserveOperation("return", Code(err))
	if err != nil {
		if claimed {
			s.releaseKey(ctx, input.IdempotencyKey, moduleReturn)
		}
		return Return{}, err
	}

	s.invalidate(ctx, touched...)
	s.record(ctx, input.ActorID, note{
		action:   ActionReturn,
		entity:   "return",
		entityID: fmt.Sprint(ret.ID),
		meta:     map[string]any{"ref": ret.Ref.String(), "sale_id": int64(ret.SaleID), "lines": len(ret.Lines)},
	})
	return ret, nil
}

func (s *Service) returnItem(ctx context.Context, l *ledger, header Return, item ReturnItemInput) (ReturnLine, error) {
	sold, err := l.tx.SaleLinesForUpdate(ctx, header.SaleID, item.ProductID)
	if err != nil {
		return ReturnLine{}, err
	}
	if len(sold) == 0 {
		return ReturnLine{}, fmt.Errorf("%w: sale %d has no product %d", ErrSaleLineNotFound, header.SaleID, item.ProductID)
	}
	entry, err := s.restockTarget(ctx, l, sold[0], item)
	if err != nil {
		return ReturnLine{}, err
	}
	factor := returnFactor(sold[0], entry)
	if err := s.checkReturnable(ctx, l, header.SaleID, item, sold, entry, factor); err != nil {
		return ReturnLine{}, err
	}
	if _, err := l.AdjustStock(ctx, entry.ID, item.Quantity); err != nil {
		return ReturnLine{}, err
	}
	line, err := l.tx.InsertReturnLine(ctx, ReturnLine{
		ReturnID:         header.ID,
		SaleID:           header.SaleID,
		ProductID:        item.ProductID,
		Quantity:         item.Quantity,
		UnitPrice:        item.UnitPrice,
		Subtotal:         subtotal(item.Quantity, item.UnitPrice),
		EntryID:          entry.ID,
		UnitNameSnapshot: entry.UnitName,
		FactorSnapshot:   factor,
	})
	if err != nil {
		return ReturnLine{}, fmt.Errorf("insert return line: %w", err)
	}
	if _, err := l.RecomputeTotal(ctx, item.ProductID); err != nil {
		return ReturnLine{}, err
	}
	return line, nil
}

// restockTarget picks the entry that receives returned stock from the most
// recent sale line. A client hint that disagrees is recorded and ignored.
func (s *Service) restockTarget(ctx context.Context, l *ledger, latest SaleLine, item ReturnItemInput) (Entry, error) {
	if latest.EntryID == 0 {
		if item.ClientEntryID == nil {
			return Entry{}, fmt.Errorf("%w: sale line %d has no unit and no entry was supplied", ErrInconsistent, latest.ID)
		}
		entry, err := l.Entry(ctx, *item.ClientEntryID)
		if errors.Is(err, ErrNotFound) || (err == nil && entry.ProductID != item.ProductID) {
			return Entry{}, fmt.Errorf("%w: sale line %d has no unit and entry %d is not a unit of product %d",
				ErrInconsistent, latest.ID, *item.ClientEntryID, item.ProductID)
		}
		if err != nil {
			return Entry{}, err
		}
		s.logger.Info("stock: legacy sale line resolved from client entry",
			slog.Int64("sale_line_id", int64(latest.ID)), slog.Int64("entry_id", int64(entry.ID)))
		return entry, nil
	}

	entry, err := l.Entry(ctx, latest.EntryID)
	if errors.Is(err, ErrNotFound) {
		return Entry{}, fmt.Errorf("%w: sale line %d references missing entry %d", ErrInconsistent, latest.ID, latest.EntryID)
	}
	if err != nil {
		return Entry{}, err
	}
	if entry.ProductID != item.ProductID {
		return Entry{}, fmt.Errorf("%w: sale line %d entry %d belongs to product %d", ErrInconsistent, latest.ID, entry.ID, entry.ProductID)
	}
	if item.ClientEntryID != nil && *item.ClientEntryID != entry.ID {
		l.notes.add(note{
			action:   ActionUnitDiscrepancy,
			entity:   "sale_line",
			entityID: fmt.Sprint(latest.ID),
			meta: map[string]any{
				"sale_id":         int64(latest.SaleID),
				"product_id":      int64(item.ProductID),
				"client_entry_id": int64(*item.ClientEntryID),
				"server_entry_id": int64(entry.ID),
			},
		})
	}
	return entry, nil
}

// returnFactor is the conversion factor a return is measured and frozen with:
// the factor frozen on the latest sale line when it sold from target. Legacy
// lines without a snapshot fall back to the entry's current factor.
func returnFactor(latest SaleLine, target Entry) decimal.Decimal {
	if latest.EntryID == target.ID && latest.FactorSnapshot.IsPositive() {
		return latest.FactorSnapshot
	}
	return target.Factor
}

// checkReturnable compares base quantities at sale-time factors so returns in
// a different unit than the sale are still bounded by what was sold.
func (s *Service) checkReturnable(ctx context.Context, l *ledger, saleID SaleID, item ReturnItemInput, sold []SaleLine, target Entry, factor decimal.Decimal) error {
	factors := map[EntryID]decimal.Decimal{target.ID: factor}
	factorOf := func(id EntryID, snapshot decimal.Decimal) (decimal.Decimal, error) {
		if snapshot.IsPositive() {
			return snapshot, nil
		}
		if id == 0 {
			return factor, nil
		}
		if f, ok := factors[id]; ok {
			return f, nil
		}
		e, err := l.Entry(ctx, id)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: entry %d: %v", ErrInconsistent, id, err)
		}
		factors[id] = e.Factor
		return e.Factor, nil
	}

	soldBase := decimal.Zero
	for _, line := range sold {
		f, err := factorOf(line.EntryID, line.FactorSnapshot)
		if err != nil {
			return err
		}
		soldBase = soldBase.Add(decimal.NewFromInt(line.Quantity).Mul(f))
	}
	returned, err := l.tx.ReturnLines(ctx, saleID, item.ProductID)
	if err != nil {
		return err
	}
	returnedBase := decimal.NewFromInt(item.Quantity).Mul(factor)
	for _, line := range returned {
		f, err := factorOf(line.EntryID, line.FactorSnapshot)
		if err != nil {
			return err
		}
		returnedBase = returnedBase.Add(decimal.NewFromInt(line.Quantity).Mul(f))
	}
	if returnedBase.GreaterThan(soldBase) {
		return fmt.Errorf("%w: sale %d product %d returns %s of %s base units",
			ErrOverReturn, saleID, item.ProductID, returnedBase, soldBase)
	}
	return nil
}

func validateReturn(input ReturnInput) error {
	if input.SaleID <= 0 {
		return invalidf("sale id required")
	}
	if len(input.Items) == 0 {
		return invalidf("return requires at least one item")
	}
	for i, item := range input.Items {
		if err := validateLine(item.ProductID, item.Quantity, item.UnitPrice); err != nil {
			return fmt.Errorf("item %d: %w", i+1, err)
		}
	}
	return nil
}
