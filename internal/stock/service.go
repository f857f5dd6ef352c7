package stock

import (
	"context"
	"log/slog"
	"time"

	"github.com/ventas-erp/ventas-erp/internal/shared"
)

// Audit actions written by the stock service.
const (
	ActionSale            = "stock.sale"
	ActionReturn          = "stock.return"
	ActionNegativeStock   = "stock.negative"
	ActionUnitDiscrepancy = "stock.unit_discrepancy"
	ActionRepair          = "stock.repair"
	ActionProductCreated  = "stock.product_created"
	ActionEntryChanged    = "stock.entry_changed"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListProductIDs(ctx context.Context) ([]ProductID, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards retried requests.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Recorder receives stock operation metrics.
type Recorder interface {
	ObserveOperation(op, outcome string)
	ObserveUnitDiscrepancy()
	ObserveNegativeStock()
	ObserveRepair(checked, corrected int)
}

// Locker provides a cross-process mutex. acquired is false when another
// holder owns key.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), acquired bool, err error)
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	AllowNegativeStock bool
	Rounding           Rounding
	RepairConcurrency  int
	RepairLockTTL      time.Duration
}

// Service coordinates sales, returns and ledger maintenance.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency IdempotencyPort
	cfg         ServiceConfig
	cache       *Cache
	metrics     Recorder
	lock        Locker
	logger      *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, idem IdempotencyPort, cfg ServiceConfig) *Service {
	if cfg.Rounding == "" {
		cfg.Rounding = RoundHalfUp
	}
	if cfg.RepairConcurrency <= 0 {
		cfg.RepairConcurrency = 4
	}
	if cfg.RepairLockTTL <= 0 {
		cfg.RepairLockTTL = 10 * time.Minute
	}
	return &Service{
		repo:        repo,
		audit:       audit,
		idempotency: idem,
		cfg:         cfg,
		metrics:     nopRecorder{},
		logger:      slog.Default(),
	}
}

// SetCache attaches the stock view cache.
func (s *Service) SetCache(cache *Cache) {
	s.cache = cache
}

// SetRecorder attaches a metrics recorder.
func (s *Service) SetRecorder(r Recorder) {
	if r == nil {
		r = nopRecorder{}
	}
	s.metrics = r
}

// SetRepairLock guards RepairAll with a distributed lock.
func (s *Service) SetRepairLock(l Locker) {
	s.lock = l
}

// SetLogger overrides the default logger.
func (s *Service) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

func (s *Service) ledger(tx TxRepository, n *notes) *ledger {
	return &ledger{tx: tx, allowNeg: s.cfg.AllowNegativeStock, rounding: s.cfg.Rounding, notes: n}
}

// note is a side effect collected inside a transaction and emitted once it ends.
type note struct {
	action   string
	entity   string
	entityID string
	meta     map[string]any
}

type notes struct {
	items []note
}

func (n *notes) add(item note) {
	if n == nil {
		return
	}
	n.items = append(n.items, item)
}

func (n *notes) reset() {
	if n != nil {
		n.items = n.items[:0]
	}
}

// emit writes the collected notes to the audit log and metrics. Discrepancies
// are reported even when the transaction failed; a rolled back negative
// balance never happened and is skipped.
func (s *Service) emit(ctx context.Context, actorID int64, n *notes, committed bool) {
	for _, item := range n.items {
		switch item.action {
		case ActionUnitDiscrepancy:
			s.metrics.ObserveUnitDiscrepancy()
			s.logger.Warn("stock: unit discrepancy", slog.String("entity_id", item.entityID), slog.Any("meta", item.meta))
		case ActionNegativeStock:
			if !committed {
				continue
			}
			s.metrics.ObserveNegativeStock()
			s.logger.Warn("stock: negative balance", slog.String("entity_id", item.entityID), slog.Any("meta", item.meta))
		}
		s.record(ctx, actorID, item)
	}
}

func (s *Service) record(ctx context.Context, actorID int64, item note) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   item.action,
		Entity:   item.entity,
		EntityID: item.entityID,
		Meta:     item.meta,
	})
	if err != nil {
		s.logger.Error("stock: audit record failed", slog.String("action", item.action), slog.Any("error", err))
	}
}

func (s *Service) invalidate(ctx context.Context, ids ...ProductID) {
	if err := s.cache.Invalidate(ctx, ids...); err != nil {
		s.logger.Warn("stock: cache invalidation failed", slog.Any("error", err))
	}
}

func (s *Service) claimKey(ctx context.Context, key, module string) (bool, error) {
	if s.idempotency == nil || key == "" {
		return false, nil
	}
	if err := s.idempotency.CheckAndInsert(ctx, module+":"+key, module); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) releaseKey(ctx context.Context, key, module string) {
	if err := s.idempotency.Delete(ctx, module+":"+key); err != nil {
		s.logger.Error("stock: release idempotency key", slog.String("module", module), slog.Any("error", err))
	}
}

type nopRecorder struct{}

func (nopRecorder) ObserveOperation(string, string) {}
func (nopRecorder) ObserveUnitDiscrepancy()         {}
func (nopRecorder) ObserveNegativeStock()           {}
func (nopRecorder) ObserveRepair(int, int)          {}
