package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ventas-erp/ventas-erp/internal/stock"
)

// Repairer runs repairs in-process.
type Repairer interface {
	RepairProduct(ctx context.Context, id stock.ProductID, actorID int64) (stock.RepairResult, error)
	RepairAll(ctx context.Context, actorID int64) (stock.RepairSummary, error)
}

// Enqueuer hands repairs to the worker.
type Enqueuer interface {
	EnqueueStockRepair(ctx context.Context, productID int64) (string, error)
}

// RepairOptions configures the repair command.
type RepairOptions struct {
	ProductID  int64
	Queue      bool
	ActorID    int64
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// Exit codes returned by RepairCommand.
const (
	ExitOK        = 0
	ExitFailed    = 1
	ExitCorrected = 3
)

// RepairCommand repairs one product or all of them, either in-process through
// svc or by queueing a task through queue. It exits with ExitCorrected when any
// stored total was rewritten so scripts can alert on drift.
func RepairCommand(ctx context.Context, svc Repairer, queue Enqueuer, opts RepairOptions) int {
	stdout, stderr := opts.Stdout, opts.Stderr
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	if opts.ProductID < 0 {
		fmt.Fprintln(stderr, "repair: product id must be positive")
		return ExitFailed
	}

	if opts.Queue {
		if queue == nil {
			fmt.Fprintln(stderr, "repair: job queue not configured")
			return ExitFailed
		}
		id, err := queue.EnqueueStockRepair(ctx, opts.ProductID)
		if errors.Is(err, stock.ErrRepairRunning) {
			fmt.Fprintln(stderr, "repair: a sweep is already queued")
			return ExitOK
		}
		if err != nil {
			fmt.Fprintf(stderr, "repair: enqueue: %v\n", err)
			return ExitFailed
		}
		return emit(stdout, opts.JSONOutput, map[string]string{"task_id": id}, "queued task "+id)
	}

	if svc == nil {
		fmt.Fprintln(stderr, "repair: stock service not configured")
		return ExitFailed
	}

	var (
		summary  stock.RepairSummary
		sweepErr error
	)
	if opts.ProductID > 0 {
		res, err := svc.RepairProduct(ctx, stock.ProductID(opts.ProductID), opts.ActorID)
		if err != nil {
			fmt.Fprintf(stderr, "repair product %d: %v\n", opts.ProductID, err)
			return ExitFailed
		}
		summary.Products = 1
		if res.Changed() {
			summary.Corrected = []stock.RepairResult{res}
		}
	} else {
		var err error
		summary, err = svc.RepairAll(ctx, opts.ActorID)
		if errors.Is(err, stock.ErrRepairRunning) {
			fmt.Fprintln(stderr, "repair: another sweep holds the lock")
			return ExitFailed
		}
		if err != nil && summary.Products == 0 {
			fmt.Fprintf(stderr, "repair: %v\n", err)
			return ExitFailed
		}
		sweepErr = err
	}
	if summary.Corrected == nil {
		summary.Corrected = []stock.RepairResult{}
	}

	text := fmt.Sprintf("checked %d products, corrected %d", summary.Products, len(summary.Corrected))
	for _, c := range summary.Corrected {
		text += fmt.Sprintf("\n  product %d: %d -> %d", c.ProductID, c.Previous, c.Current)
	}
	for _, id := range summary.Failed {
		text += fmt.Sprintf("\n  product %d: failed", id)
	}
	code := emit(stdout, opts.JSONOutput, summary, text)
	if sweepErr != nil {
		fmt.Fprintf(stderr, "repair: %v\n", sweepErr)
		return ExitFailed
	}
	if code == ExitOK && len(summary.Corrected) > 0 {
		return ExitCorrected
	}
	return code
}

func emit(w io.Writer, asJSON bool, v any, text string) int {
	if !asJSON {
		fmt.Fprintln(w, text)
		return ExitOK
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return ExitFailed
	}
	return ExitOK
}
