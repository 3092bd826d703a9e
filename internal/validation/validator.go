// Package validation rejects malformed delivery orders before any external call.
package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/jnst/asset-delivery-engine/internal/model"
)

const (
	// MinInvoiceLength is the shortest accepted recipient invoice.
	MinInvoiceLength = 20
	// MaxInvoiceLength is the longest accepted recipient invoice.
	MaxInvoiceLength = 500

	minSegments = 3
)

// Rules configures the structural markers and unit ceilings.
type Rules struct {
	Prefix                 string
	Infix                  string
	UnitsPerOrder          int64
	MaxUnitsPerTransaction int64
}

// DefaultRules matches the RGB invoice format: a "rgb:" prefix and a "utxob:" seal marker.
func DefaultRules() Rules {
	return Rules{
		Prefix:                 "rgb:",
		Infix:                  "utxob:",
		UnitsPerOrder:          700,
		MaxUnitsPerTransaction: 7000,
	}
}

// Validator checks orders against Rules. It is pure and safe for concurrent use.
type Validator struct {
	rules Rules
}

// NewValidator creates a Validator. Non-positive unit settings take the DefaultRules values.
func NewValidator(rules Rules) *Validator {
	defaults := DefaultRules()
	if rules.UnitsPerOrder <= 0 {
		rules.UnitsPerOrder = defaults.UnitsPerOrder
	}
	if rules.MaxUnitsPerTransaction <= 0 {
		rules.MaxUnitsPerTransaction = defaults.MaxUnitsPerTransaction
	}

	return &Validator{rules: rules}
}

// UnitAmount converts an order's unit count into backend units.
func (v *Validator) UnitAmount(order *model.DeliveryOrder) int64 {
	return order.UnitCount * v.rules.UnitsPerOrder
}

// Validate applies the rules in order; the first failure wins.
func (v *Validator) Validate(order *model.DeliveryOrder) error {
	if err := v.validateInvoice(order.RecipientInvoice); err != nil {
		return err
	}

	return v.validateUnitCount(order.UnitCount)
}

func (v *Validator) validateInvoice(invoice string) error {
	n := utf8.RuneCountInString(invoice)
	switch {
	case n == 0:
		return fmt.Errorf("%w: invoice is required", model.ErrInvalidInvoiceFormat)
	case n < MinInvoiceLength:
		return fmt.Errorf("%w: invoice shorter than %d characters", model.ErrInvalidInvoiceFormat, MinInvoiceLength)
	case n > MaxInvoiceLength:
		return fmt.Errorf("%w: invoice longer than %d characters", model.ErrInvoiceTooLong, MaxInvoiceLength)
	}

	if !strings.HasPrefix(invoice, v.rules.Prefix) || !strings.Contains(invoice, v.rules.Infix) {
		return fmt.Errorf("%w: must start with %q and contain %q",
			model.ErrInvalidInvoiceFormat, v.rules.Prefix, v.rules.Infix)
	}

	if len(strings.Split(invoice, ":")) < minSegments {
		return fmt.Errorf("%w: expected at least %d colon-delimited segments", model.ErrInvalidInvoiceFormat, minSegments)
	}

	return nil
}

func (v *Validator) validateUnitCount(count int64) error {
	if count < 1 {
		return fmt.Errorf("%w: unit count must be positive", model.ErrInvalidUnitCount)
	}

	if count > v.rules.MaxUnitsPerTransaction/v.rules.UnitsPerOrder {
		return fmt.Errorf("%w: %d units exceeds the per-transaction ceiling of %d",
			model.ErrInvalidUnitCount, count*v.rules.UnitsPerOrder, v.rules.MaxUnitsPerTransaction)
	}

	return nil
}
