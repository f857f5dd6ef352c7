package stock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/ventas-erp/ventas-erp/internal/platform/httpx"
	"github.com/ventas-erp/ventas-erp/internal/shared"
)

// HeaderIdempotencyKey carries the client retry key on POST /sales and POST /returns.
const HeaderIdempotencyKey = "Idempotency-Key"

// HeaderActorID identifies the operator recorded in the audit log.
const HeaderActorID = "X-Actor-ID"

// RepairEnqueuer schedules an asynchronous repair sweep.
type RepairEnqueuer interface {
	EnqueueStockRepair(ctx context.Context, actorID int64) (string, error)
}

// AuditReader lists recorded audit entries for one entity.
type AuditReader interface {
	List(ctx context.Context, entity, entityID string, limit int) ([]shared.AuditLog, error)
}

// auditEntities are the entity names the stock service writes.
var auditEntities = map[string]bool{
	"product":      true,
	"product_unit": true,
	"sale":         true,
	"sale_line":    true,
	"return":       true,
}

// Handler wires HTTP endpoints for the stock core.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	jobs      RepairEnqueuer
	audit     AuditReader
	validator *validator.Validate
}

// NewHandler constructs stock handler. jobs may be nil when no queue is configured.
func NewHandler(logger *slog.Logger, service *Service, jobs RepairEnqueuer) *Handler {
	return &Handler{logger: logger, service: service, jobs: jobs, validator: validator.New()}
}

// SetAuditReader enables GET /audit/{entity}/{entityID}.
func (h *Handler) SetAuditReader(reader AuditReader) {
	h.audit = reader
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/sales", h.handleSale)
	r.Post("/returns", h.handleReturn)

	r.Post("/products", h.handleCreateProduct)
	r.Get("/products/{productID}/stock", h.handleGetStock)
	r.Post("/products/{productID}/units", h.handleAddEntry)

	r.Route("/product-units/{entryID}", func(r chi.Router) {
		r.Patch("/", h.handleUpdateEntry)
		r.Post("/principal", h.handleSetPrincipal)
		r.Post("/disable", h.handleDisableEntry)
	})

	r.Get("/audit/{entity}/{entityID}", h.handleAudit)

	r.Route("/admin/stock/repair", func(r chi.Router) {
		r.Post("/", h.handleRepairAll)
		r.Post("/{productID}", h.handleRepairProduct)
	})
}

type saleLineRequest struct {
	ProductID   int64           `json:"product_id" validate:"required,gt=0"`
	Quantity    int64           `json:"quantity" validate:"required,gt=0"`
	UnitEntryID *int64          `json:"unit_entry_id" validate:"omitempty,gt=0"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

type saleRequest struct {
	Note  string            `json:"note" validate:"max=500"`
	Lines []saleLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type returnItemRequest struct {
	ProductID   int64           `json:"product_id" validate:"required,gt=0"`
	Quantity    int64           `json:"quantity" validate:"required,gt=0"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	UnitEntryID *int64          `json:"unit_entry_id" validate:"omitempty,gt=0"`
}

type returnRequest struct {
	SaleID int64               `json:"sale_id" validate:"required,gt=0"`
	Reason string              `json:"reason" validate:"max=500"`
	Items  []returnItemRequest `json:"items" validate:"required,min=1,dive"`
}

type productRequest struct {
	Name      string          `json:"name" validate:"required,max=200"`
	Code      string          `json:"code" validate:"required,max=64"`
	BasePrice decimal.Decimal `json:"base_price"`
}

type entryRequest struct {
	UnitID       int64           `json:"unit_id" validate:"required,gt=0"`
	Factor       decimal.Decimal `json:"conversion_factor"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	InitialStock int64           `json:"initial_stock" validate:"gte=0"`
	Principal    bool            `json:"principal"`
}

type entryUpdateRequest struct {
	Factor    *decimal.Decimal `json:"conversion_factor"`
	UnitPrice *decimal.Decimal `json:"unit_price"`
}

func (h *Handler) handleSale(w http.ResponseWriter, r *http.Request) {
	var req saleRequest
	if !h.decode(w, r, &req) {
		return
	}
	input := SaleInput{
		IdempotencyKey: strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey)),
		Note:           req.Note,
		ActorID:        actorID(r),
		Lines:          make([]SaleLineInput, 0, len(req.Lines)),
	}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, SaleLineInput{
			ProductID: ProductID(line.ProductID),
			Quantity:  line.Quantity,
			EntryID:   entryRef(line.UnitEntryID),
			UnitPrice: line.UnitPrice,
		})
	}
	sale, err := h.service.RecordSale(r.Context(), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, sale)
}

func (h *Handler) handleReturn(w http.ResponseWriter, r *http.Request) {
	var req returnRequest
	if !h.decode(w, r, &req) {
		return
	}
	input := ReturnInput{
		IdempotencyKey: strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey)),
		SaleID:         SaleID(req.SaleID),
		Reason:         req.Reason,
		ActorID:        actorID(r),
		Items:          make([]ReturnItemInput, 0, len(req.Items)),
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, ReturnItemInput{
			ProductID:     ProductID(item.ProductID),
			Quantity:      item.Quantity,
			UnitPrice:     item.UnitPrice,
			ClientEntryID: entryRef(item.UnitEntryID),
		})
	}
	ret, err := h.service.RecordReturn(r.Context(), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, ret)
}

func (h *Handler) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if !h.decode(w, r, &req) {
		return
	}
	product, err := h.service.CreateProduct(r.Context(), ProductInput{
		Name:      req.Name,
		Code:      req.Code,
		BasePrice: req.BasePrice,
		ActorID:   actorID(r),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, product)
}

func (h *Handler) handleGetStock(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "productID")
	if !ok {
		return
	}
	view, err := h.service.GetStock(r.Context(), ProductID(id))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) handleAddEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "productID")
	if !ok {
		return
	}
	var req entryRequest
	if !h.decode(w, r, &req) {
		return
	}
	entry, err := h.service.AddEntry(r.Context(), EntryInput{
		ProductID:    ProductID(id),
		UnitID:       UnitID(req.UnitID),
		Factor:       req.Factor,
		UnitPrice:    req.UnitPrice,
		InitialStock: req.InitialStock,
		Principal:    req.Principal,
		ActorID:      actorID(r),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) handleUpdateEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "entryID")
	if !ok {
		return
	}
	var req entryUpdateRequest
	if !h.decode(w, r, &req) {
		return
	}
	entry, err := h.service.UpdateEntry(r.Context(), EntryID(id), EntryUpdate{
		Factor:    req.Factor,
		UnitPrice: req.UnitPrice,
		ActorID:   actorID(r),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) handleSetPrincipal(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "entryID")
	if !ok {
		return
	}
	entry, err := h.service.SetPrincipal(r.Context(), EntryID(id), actorID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) handleDisableEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "entryID")
	if !ok {
		return
	}
	entry, err := h.service.DisableEntry(r.Context(), EntryID(id), actorID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) handleRepairProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "productID")
	if !ok {
		return
	}
	result, err := h.service.RepairProduct(r.Context(), ProductID(id), actorID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleRepairAll(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		httpx.TypedProblem(w, http.StatusServiceUnavailable, "queue_unavailable", "Queue Unavailable", "job queue not configured")
		return
	}
	taskID, err := h.jobs.EnqueueStockRepair(r.Context(), actorID(r))
	if errors.Is(err, ErrRepairRunning) {
		h.fail(w, r, err)
		return
	}
	if err != nil {
		h.logger.Error("enqueue stock repair", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}

func (h *Handler) handleAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		httpx.TypedProblem(w, http.StatusServiceUnavailable, "audit_unavailable", "Audit Unavailable", "")
		return
	}
	entity := chi.URLParam(r, "entity")
	if !auditEntities[entity] {
		httpx.TypedProblem(w, http.StatusNotFound, "not_found", "Not Found", "unknown audit entity "+strconv.Quote(entity))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	logs, err := h.audit.List(r.Context(), entity, chi.URLParam(r, "entityID"), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if logs == nil {
		logs = []shared.AuditLog{}
	}
	httpx.JSON(w, http.StatusOK, logs)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		httpx.TypedProblem(w, http.StatusBadRequest, "malformed_request", "Malformed Request", err.Error())
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			httpx.TypedProblem(w, http.StatusUnprocessableEntity, "invalid_input", "Invalid Input", strings.Join(fields, "; "))
			return false
		}
		httpx.TypedProblem(w, http.StatusBadRequest, "malformed_request", "Malformed Request", err.Error())
		return false
	}
	return true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		httpx.TypedProblem(w, http.StatusBadRequest, "malformed_request", "Malformed Request", "invalid "+param)
		return 0, false
	}
	return id, true
}

type problemSpec struct {
	status int
	title  string
}

var problems = map[string]problemSpec{
	"not_found":            {http.StatusNotFound, "Not Found"},
	"invalid_input":        {http.StatusUnprocessableEntity, "Invalid Input"},
	"insufficient_stock":   {http.StatusConflict, "Insufficient Stock"},
	"over_return":          {http.StatusConflict, "Return Exceeds Sale"},
	"no_units_configured":  {http.StatusConflict, "No Units Configured"},
	"duplicate":            {http.StatusConflict, "Duplicate"},
	"repair_running":       {http.StatusConflict, "Repair Running"},
	"idempotency_conflict": {http.StatusConflict, "Request Already Processed"},
	"inconsistent":         {http.StatusInternalServerError, "Inconsistent Ledger"},
}

// fail maps service errors to problem responses. Internal failures are logged
// and returned without detail.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := Code(err)
	spec, ok := problems[code]
	if !ok {
		h.logger.Error("stock request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	if spec.status >= http.StatusInternalServerError {
		h.logger.Error("stock ledger inconsistent", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.TypedProblem(w, spec.status, code, spec.title, err.Error())
}

func actorID(r *http.Request) int64 {
	id, err := strconv.ParseInt(r.Header.Get(HeaderActorID), 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}

func entryRef(id *int64) *EntryID {
	if id == nil {
		return nil
	}
	e := EntryID(*id)
	return &e
}
