package stock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// RepairLockKey guards the full repair sweep across processes.
const RepairLockKey = "stock:repair:lock"

// RepairProduct recomputes one product total from its ledger in its own
// transaction. It is safe to run at any time and changes nothing when the
// total already matches.
func (s *Service) RepairProduct(ctx context.Context, id ProductID, actorID int64) (RepairResult, error) {
	var result RepairResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		result, err = s.ledger(tx, nil).RecomputeTotal(ctx, id)
		return err
	})
	if err != nil {
		return RepairResult{}, err
	}
	if result.Changed() {
		s.invalidate(ctx, id)
		s.logger.Warn("stock: corrected drifted total",
			slog.Int64("product_id", int64(id)),
			slog.Int64("previous", result.Previous),
			slog.Int64("current", result.Current))
		s.record(ctx, actorID, note{
			action:   ActionRepair,
			entity:   "product",
			entityID: fmt.Sprint(id),
			meta:     map[string]any{"previous": result.Previous, "current": result.Current},
		})
	}
	return result, nil
}

// RepairAll repairs every product with bounded concurrency. Products without
// units are skipped. A product that fails is listed in Failed and the sweep
// carries on; the failures come back joined once every product was visited.
func (s *Service) RepairAll(ctx context.Context, actorID int64) (RepairSummary, error) {
	if s.lock != nil {
		release, acquired, err := s.lock.Acquire(ctx, RepairLockKey, s.cfg.RepairLockTTL)
		if err != nil {
			return RepairSummary{}, err
		}
		if !acquired {
			return RepairSummary{}, ErrRepairRunning
		}
		defer release()
	}

	ids, err := s.repo.ListProductIDs(ctx)
	if err != nil {
		return RepairSummary{}, err
	}

	var (
		mu        sync.Mutex
		corrected []RepairResult
		failed    []ProductID
		errs      []error
	)
	var g errgroup.Group
	g.SetLimit(s.cfg.RepairConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := s.RepairProduct(ctx, id, actorID)
			if errors.Is(err, ErrNoUnitsConfigured) {
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.logger.Error("stock: repair product failed", slog.Int64("product_id", int64(id)), slog.Any("error", err))
				failed = append(failed, id)
				errs = append(errs, fmt.Errorf("repair product %d: %w", id, err))
				return nil
			}
			if res.Changed() {
				corrected = append(corrected, res)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	}
	sort.Slice(corrected, func(i, j int) bool { return corrected[i].ProductID < corrected[j].ProductID })
	sort.Slice(failed, func(i, j int) bool { return failed[i] < failed[j] })
	s.metrics.ObserveRepair(len(ids), len(corrected))

	summary := RepairSummary{Products: len(ids), Corrected: corrected, Failed: failed}
	s.logger.Info("stock: repair sweep finished",
		slog.Int("products", len(ids)),
		slog.Int("corrected", len(corrected)),
		slog.Int("failed", len(failed)))
	return summary, errors.Join(errs...)
}
