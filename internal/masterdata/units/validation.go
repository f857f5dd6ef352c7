package units

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/ventas-erp/ventas-erp/internal/masterdata/shared"
)

const (
	maxNameLen         = 60
	maxAbbreviationLen = 12
)

var folder = cases.Fold()

// Clean trims and NFC-normalises the display text of a unit.
func Clean(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}

// Key folds s for uniqueness checks, so "Caja", "CAJA" and "caja" collide.
func Key(s string) string {
	return folder.String(Clean(s))
}

func (s *Service) validate(u Unit) (Unit, error) {
	u.Name = Clean(u.Name)
	u.Abbreviation = Clean(u.Abbreviation)
	if u.Name == "" {
		return Unit{}, fmt.Errorf("unit name: %w", shared.ErrRequiredField)
	}
	if u.Abbreviation == "" {
		return Unit{}, fmt.Errorf("unit abbreviation: %w", shared.ErrRequiredField)
	}
	if utf8.RuneCountInString(u.Name) > maxNameLen {
		return Unit{}, fmt.Errorf("unit name longer than %d characters: %w", maxNameLen, shared.ErrValidation)
	}
	if utf8.RuneCountInString(u.Abbreviation) > maxAbbreviationLen {
		return Unit{}, fmt.Errorf("unit abbreviation longer than %d characters: %w", maxAbbreviationLen, shared.ErrValidation)
	}
	return u, nil
}
