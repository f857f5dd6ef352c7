package stock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ventas-erp/ventas-erp/internal/shared"
)

type memoryState struct {
	products    map[ProductID]Product
	units       map[UnitID]UnitRef
	entries     map[EntryID]Entry
	sales       map[SaleID]Sale
	saleLines   []SaleLine
	returns     map[ReturnID]Return
	returnLines []ReturnLine
	refs        map[string]bool
	nextID      int64
}

func (s *memoryState) clone() *memoryState {
	out := &memoryState{
		products:    make(map[ProductID]Product, len(s.products)),
		units:       make(map[UnitID]UnitRef, len(s.units)),
		entries:     make(map[EntryID]Entry, len(s.entries)),
		sales:       make(map[SaleID]Sale, len(s.sales)),
		saleLines:   append([]SaleLine(nil), s.saleLines...),
		returns:     make(map[ReturnID]Return, len(s.returns)),
		returnLines: append([]ReturnLine(nil), s.returnLines...),
		refs:        make(map[string]bool, len(s.refs)),
		nextID:      s.nextID,
	}
	for k, v := range s.products {
		out.products[k] = v
	}
	for k, v := range s.units {
		out.units[k] = v
	}
	for k, v := range s.entries {
		out.entries[k] = v
	}
	for k, v := range s.sales {
		out.sales[k] = v
	}
	for k, v := range s.returns {
		out.returns[k] = v
	}
	for k, v := range s.refs {
		out.refs[k] = v
	}
	return out
}

// memoryRepo keeps committed state and works on a copy inside WithTx, so a
// failing callback leaves nothing behind.
type memoryRepo struct {
	mu     sync.Mutex
	state  *memoryState
	failOn map[string]error
	txs    int
}

type memoryTx struct {
	repo  *memoryRepo
	state *memoryState
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		state: &memoryState{
			products: map[ProductID]Product{},
			units:    map[UnitID]UnitRef{},
			entries:  map[EntryID]Entry{},
			sales:    map[SaleID]Sale{},
			returns:  map[ReturnID]Return{},
			refs:     map[string]bool{},
			nextID:   100,
		},
		failOn: map[string]error{},
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txs++
	tx := &memoryTx{repo: r, state: r.state.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	r.state = tx.state
	return nil
}

func (r *memoryRepo) ListProductIDs(ctx context.Context) ([]ProductID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]ProductID, 0, len(r.state.products))
	for id := range r.state.products {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r *memoryRepo) fail(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failOn[op] = err
}

// seed helpers write committed state directly.

func (r *memoryRepo) seedUnit(id UnitID, name string) {
	r.state.units[id] = UnitRef{ID: id, Name: name, Abbreviation: name}
}

func (r *memoryRepo) seedProduct(id ProductID, name string, total int64) {
	r.state.products[id] = Product{ID: id, Name: name, Code: fmt.Sprintf("P-%d", id), BasePrice: decimal.NewFromInt(10), StockTotal: total}
}

func (r *memoryRepo) seedEntry(e Entry) {
	if u, ok := r.state.units[e.UnitID]; ok && e.UnitName == "" {
		e.UnitName = u.Name
	}
	e.Active = true
	r.state.entries[e.ID] = e
}

func (r *memoryRepo) seedSaleLine(l SaleLine) {
	if _, ok := r.state.sales[l.SaleID]; !ok {
		r.state.sales[l.SaleID] = Sale{ID: l.SaleID, CreatedAt: time.Now()}
	}
	r.state.saleLines = append(r.state.saleLines, l)
}

func (r *memoryRepo) entry(id EntryID) Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.entries[id]
}

func (r *memoryRepo) product(id ProductID) Product {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.products[id]
}

func (r *memoryRepo) saleLineCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.state.saleLines)
}

func (r *memoryRepo) returnLineCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.state.returnLines)
}

func (tx *memoryTx) check(op string) error {
	return tx.repo.failOn[op]
}

func (tx *memoryTx) id() int64 {
	tx.state.nextID++
	return tx.state.nextID
}

func (tx *memoryTx) GetProduct(ctx context.Context, id ProductID) (Product, error) {
	p, ok := tx.state.products[id]
	if !ok {
		return Product{}, fmt.Errorf("%w %d", ErrProductNotFound, id)
	}
	return p, nil
}

func (tx *memoryTx) InsertProduct(ctx context.Context, p Product) (Product, error) {
	for _, existing := range tx.state.products {
		if existing.Code == p.Code {
			return Product{}, fmt.Errorf("%w: %s", ErrDuplicateProduct, p.Code)
		}
	}
	p.ID = ProductID(tx.id())
	p.UpdatedAt = time.Now()
	tx.state.products[p.ID] = p
	return p, nil
}

func (tx *memoryTx) SetStockTotal(ctx context.Context, id ProductID, total int64) error {
	if err := tx.check("SetStockTotal"); err != nil {
		return err
	}
	p, ok := tx.state.products[id]
	if !ok {
		return fmt.Errorf("%w %d", ErrProductNotFound, id)
	}
	p.StockTotal = total
	tx.state.products[id] = p
	return nil
}

func (tx *memoryTx) GetUnit(ctx context.Context, id UnitID) (UnitRef, error) {
	u, ok := tx.state.units[id]
	if !ok {
		return UnitRef{}, fmt.Errorf("%w %d", ErrUnitNotFound, id)
	}
	return u, nil
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.IsPrincipal != b.IsPrincipal {
			return a.IsPrincipal
		}
		if !a.Factor.Equal(b.Factor) {
			return a.Factor.LessThan(b.Factor)
		}
		return a.ID < b.ID
	})
}

func (tx *memoryTx) ListEntries(ctx context.Context, productID ProductID) ([]Entry, error) {
	var out []Entry
	for _, e := range tx.state.entries {
		if e.ProductID == productID {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out, nil
}

func (tx *memoryTx) GetEntry(ctx context.Context, id EntryID) (Entry, error) {
	e, ok := tx.state.entries[id]
	if !ok {
		return Entry{}, fmt.Errorf("%w %d", ErrUnitEntryNotFound, id)
	}
	return e, nil
}

func (tx *memoryTx) PrincipalEntry(ctx context.Context, productID ProductID) (Entry, error) {
	var active []Entry
	for _, e := range tx.state.entries {
		if e.ProductID == productID && e.Active {
			active = append(active, e)
		}
	}
	if len(active) == 0 {
		return Entry{}, fmt.Errorf("%w: product %d", ErrNoUnitsConfigured, productID)
	}
	sortEntries(active)
	return active[0], nil
}

func (tx *memoryTx) AddStock(ctx context.Context, id EntryID, delta int64) (int64, error) {
	e, ok := tx.state.entries[id]
	if !ok {
		return 0, fmt.Errorf("%w %d", ErrUnitEntryNotFound, id)
	}
	e.Stock += delta
	tx.state.entries[id] = e
	return e.Stock, nil
}

func (tx *memoryTx) InsertEntry(ctx context.Context, e Entry) (Entry, error) {
	for _, existing := range tx.state.entries {
		if existing.ProductID == e.ProductID && existing.UnitID == e.UnitID {
			return Entry{}, fmt.Errorf("%w: product %d unit %d", ErrDuplicateEntry, e.ProductID, e.UnitID)
		}
	}
	e.ID = EntryID(tx.id())
	e.Active = true
	tx.state.entries[e.ID] = e
	return e, nil
}

func (tx *memoryTx) UpdateEntry(ctx context.Context, e Entry) error {
	if _, ok := tx.state.entries[e.ID]; !ok {
		return fmt.Errorf("%w %d", ErrUnitEntryNotFound, e.ID)
	}
	tx.state.entries[e.ID] = e
	return nil
}

func (tx *memoryTx) ClearPrincipal(ctx context.Context, productID ProductID, keep EntryID) error {
	for id, e := range tx.state.entries {
		if e.ProductID == productID && id != keep && e.IsPrincipal {
			e.IsPrincipal = false
			tx.state.entries[id] = e
		}
	}
	return nil
}

func (tx *memoryTx) InsertSale(ctx context.Context, sale Sale, actorID int64) (Sale, error) {
	if tx.state.refs[sale.Ref.String()] {
		return Sale{}, shared.ErrIdempotencyConflict
	}
	tx.state.refs[sale.Ref.String()] = true
	sale.ID = SaleID(tx.id())
	sale.CreatedAt = time.Now()
	tx.state.sales[sale.ID] = sale
	return sale, nil
}

func (tx *memoryTx) InsertSaleLine(ctx context.Context, line SaleLine) (SaleLine, error) {
	if err := tx.check("InsertSaleLine"); err != nil {
		return SaleLine{}, err
	}
	line.ID = SaleLineID(tx.id())
	line.CreatedAt = time.Now()
	tx.state.saleLines = append(tx.state.saleLines, line)
	return line, nil
}

func (tx *memoryTx) GetSale(ctx context.Context, id SaleID) (Sale, error) {
	s, ok := tx.state.sales[id]
	if !ok {
		return Sale{}, fmt.Errorf("%w %d", ErrSaleNotFound, id)
	}
	return s, nil
}

func (tx *memoryTx) SaleLinesForUpdate(ctx context.Context, saleID SaleID, productID ProductID) ([]SaleLine, error) {
	var out []SaleLine
	for _, l := range tx.state.saleLines {
		if l.SaleID == saleID && l.ProductID == productID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (tx *memoryTx) ReturnLines(ctx context.Context, saleID SaleID, productID ProductID) ([]ReturnLine, error) {
	var out []ReturnLine
	for _, l := range tx.state.returnLines {
		if l.SaleID == saleID && l.ProductID == productID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (tx *memoryTx) InsertReturn(ctx context.Context, ret Return, actorID int64) (Return, error) {
	if tx.state.refs[ret.Ref.String()] {
		return Return{}, shared.ErrIdempotencyConflict
	}
	tx.state.refs[ret.Ref.String()] = true
	ret.ID = ReturnID(tx.id())
	ret.CreatedAt = time.Now()
	tx.state.returns[ret.ID] = ret
	return ret, nil
}

func (tx *memoryTx) InsertReturnLine(ctx context.Context, line ReturnLine) (ReturnLine, error) {
	if err := tx.check("InsertReturnLine"); err != nil {
		return ReturnLine{}, err
	}
	line.ID = tx.id()
	line.CreatedAt = time.Now()
	tx.state.returnLines = append(tx.state.returnLines, line)
	return line, nil
}

type auditSpy struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *auditSpy) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func (a *auditSpy) actions(action string) []shared.AuditLog {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []shared.AuditLog
	for _, l := range a.logs {
		if l.Action == action {
			out = append(out, l)
		}
	}
	return out
}

type idempotencySpy struct {
	mu   sync.Mutex
	keys map[string]bool
}

func newIdempotencySpy() *idempotencySpy {
	return &idempotencySpy{keys: map[string]bool{}}
}

func (s *idempotencySpy) CheckAndInsert(ctx context.Context, key, module string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	s.keys[key] = true
	return nil
}

func (s *idempotencySpy) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, key)
	return nil
}

type recorderSpy struct {
	mu            sync.Mutex
	ops           map[string]int
	discrepancies int
	negatives     int
	repaired      int
}

func newRecorderSpy() *recorderSpy {
	return &recorderSpy{ops: map[string]int{}}
}

func (r *recorderSpy) ObserveOperation(op, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops[op+":"+outcome]++
}

func (r *recorderSpy) ObserveUnitDiscrepancy() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discrepancies++
}

func (r *recorderSpy) ObserveNegativeStock() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.negatives++
}

func (r *recorderSpy) ObserveRepair(checked, corrected int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.repaired += corrected
}

const (
	colaID   ProductID = 1
	unidadID UnitID    = 10
	cajaID   UnitID    = 11
	singleID EntryID   = 15
	boxID    EntryID   = 16
)

// newColaRepo seeds a product sold by the unit (factor 1, 141 in stock,
// principal) and by the box of 12 (1 in stock): 153 base units in total.
func newColaRepo() *memoryRepo {
	repo := newMemoryRepo()
	repo.seedUnit(unidadID, "Unidad")
	repo.seedUnit(cajaID, "Caja")
	repo.seedProduct(colaID, "Cola", 153)
	repo.seedEntry(Entry{ID: singleID, ProductID: colaID, UnitID: unidadID, Factor: decimal.NewFromInt(1), IsPrincipal: true, Stock: 141, UnitPrice: decimal.NewFromInt(10)})
	repo.seedEntry(Entry{ID: boxID, ProductID: colaID, UnitID: cajaID, Factor: decimal.NewFromInt(12), Stock: 1, UnitPrice: decimal.NewFromInt(100)})
	return repo
}

func entryPtr(id EntryID) *EntryID {
	return &id
}
