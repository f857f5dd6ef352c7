package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskStockRepair recomputes stored product totals from the unit ledger.
	TaskStockRepair = "stock:repair"
)

// StockRepairPayload selects a single product, or every product when
// ProductID is zero.
type StockRepairPayload struct {
	ProductID   int64     `json:"product_id,omitempty"`
	RequestedBy int64     `json:"requested_by,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewStockRepairTask constructs an Asynq task for the repair sweep.
func NewStockRepairTask(payload StockRepairPayload) (*asynq.Task, error) {
	if payload.RequestedAt.IsZero() {
		payload.RequestedAt = time.Now().UTC()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockRepair, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}
