package units

import "time"

// Unit represents a unit of measure. It only names a unit; stock lives on the
// product-unit ledger.
type Unit struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Abbreviation string    `json:"abbreviation"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
