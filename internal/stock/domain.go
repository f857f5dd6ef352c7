package stock

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ProductID identifies a product.
type ProductID int64

// UnitID identifies a unit of measure in the shared registry. It is display
// metadata only and never addresses stock.
type UnitID int64

// EntryID identifies a product-unit ledger entry, the row that carries stock.
type EntryID int64

// SaleID identifies a sale header.
type SaleID int64

// SaleLineID identifies a sale line.
type SaleLineID int64

// ReturnID identifies a return header.
type ReturnID int64

// Product is a sellable item. StockTotal is derived from the ledger and is
// written only by the aggregator.
type Product struct {
	ID         ProductID       `json:"id"`
	Name       string          `json:"name"`
	Code       string          `json:"code"`
	BasePrice  decimal.Decimal `json:"base_price"`
	StockTotal int64           `json:"stock_total"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Entry is one row of the product-unit ledger.
type Entry struct {
	ID          EntryID         `json:"id"`
	ProductID   ProductID       `json:"product_id"`
	UnitID      UnitID          `json:"unit_id"`
	UnitName    string          `json:"unit_name"`
	Factor      decimal.Decimal `json:"conversion_factor"`
	IsPrincipal bool            `json:"is_principal"`
	Stock       int64           `json:"stock"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Active      bool            `json:"active"`
}

// BaseQuantity converts qty of this entry's unit into base units.
func (e Entry) BaseQuantity(qty int64) decimal.Decimal {
	return decimal.NewFromInt(qty).Mul(e.Factor)
}

// UnitRef is the registry data the ledger needs about a unit.
type UnitRef struct {
	ID           UnitID
	Name         string
	Abbreviation string
}

// Sale is the header of a recorded sale.
type Sale struct {
	ID        SaleID     `json:"id"`
	Ref       uuid.UUID  `json:"ref"`
	Note      string     `json:"note,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	Lines     []SaleLine `json:"lines"`
}

// SaleLine freezes the unit name and conversion factor used at sale time so
// later ledger edits never rewrite history.
type SaleLine struct {
	ID               SaleLineID      `json:"id"`
	SaleID           SaleID          `json:"sale_id"`
	ProductID        ProductID       `json:"product_id"`
	Quantity         int64           `json:"quantity"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	Subtotal         decimal.Decimal `json:"subtotal"`
	EntryID          EntryID         `json:"unit_entry_id"`
	UnitNameSnapshot string          `json:"unit_name"`
	FactorSnapshot   decimal.Decimal `json:"conversion_factor"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Return is the header of a return against one sale.
type Return struct {
	ID        ReturnID     `json:"id"`
	Ref       uuid.UUID    `json:"ref"`
	SaleID    SaleID       `json:"sale_id"`
	Reason    string       `json:"reason,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	Lines     []ReturnLine `json:"lines"`
}

// ReturnLine records one returned product with the resolved ledger entry.
type ReturnLine struct {
	ID               int64           `json:"id"`
	ReturnID         ReturnID        `json:"return_id"`
	SaleID           SaleID          `json:"sale_id"`
	ProductID        ProductID       `json:"product_id"`
	Quantity         int64           `json:"quantity"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	Subtotal         decimal.Decimal `json:"subtotal"`
	EntryID          EntryID         `json:"unit_entry_id"`
	UnitNameSnapshot string          `json:"unit_name"`
	FactorSnapshot   decimal.Decimal `json:"conversion_factor"`
	CreatedAt        time.Time       `json:"created_at"`
}

// SaleLineInput is one requested sale line. A nil EntryID selects the
// principal entry.
type SaleLineInput struct {
	ProductID ProductID
	Quantity  int64
	EntryID   *EntryID
	UnitPrice decimal.Decimal
}

// SaleInput describes a sale request.
type SaleInput struct {
	IdempotencyKey string
	Note           string
	ActorID        int64
	Lines          []SaleLineInput
}

// ReturnItemInput is one requested return item. ClientEntryID is a hint from
// the caller; the entry frozen on the sale line always wins.
type ReturnItemInput struct {
	ProductID     ProductID
	Quantity      int64
	UnitPrice     decimal.Decimal
	ClientEntryID *EntryID
}

// ReturnInput describes a return request.
type ReturnInput struct {
	IdempotencyKey string
	SaleID         SaleID
	Reason         string
	ActorID        int64
	Items          []ReturnItemInput
}

// StockView is the read model served by GET /products/{id}/stock.
type StockView struct {
	Product Product `json:"product"`
	Entries []Entry `json:"entries"`
}

// ProductInput creates a product.
type ProductInput struct {
	Name      string
	Code      string
	BasePrice decimal.Decimal
	ActorID   int64
}

// EntryInput configures a new selling unit for a product.
type EntryInput struct {
	ProductID    ProductID
	UnitID       UnitID
	Factor       decimal.Decimal
	UnitPrice    decimal.Decimal
	InitialStock int64
	Principal    bool
	ActorID      int64
}

// EntryUpdate changes the factor and/or price of an entry. Nil fields are kept.
type EntryUpdate struct {
	Factor    *decimal.Decimal
	UnitPrice *decimal.Decimal
	ActorID   int64
}

// RepairResult reports one product repair.
type RepairResult struct {
	ProductID ProductID `json:"product_id"`
	Previous  int64     `json:"previous"`
	Current   int64     `json:"current"`
}

// Changed reports whether the repair corrected a drifted total.
func (r RepairResult) Changed() bool {
	return r.Previous != r.Current
}

// RepairSummary reports a full sweep.
type RepairSummary struct {
	Products  int            `json:"products"`
	Corrected []RepairResult `json:"corrected"`
	Failed    []ProductID    `json:"failed,omitempty"`
}
