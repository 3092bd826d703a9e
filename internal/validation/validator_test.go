package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jnst/asset-delivery-engine/internal/model"
)

const validInvoice = "rgb:2wHxKf3-utxob:vTm8Zq9-qwuL4Nd-7RaP1cE"

func TestValidate(t *testing.T) {
	v := NewValidator(DefaultRules())

	tests := []struct {
		name    string
		invoice string
		count   int64
		wantErr error
	}{
		{name: "valid", invoice: validInvoice, count: 5},
		{name: "max units", invoice: validInvoice, count: 10},
		{name: "empty", invoice: "", count: 1, wantErr: model.ErrInvalidInvoiceFormat},
		{name: "garbage", invoice: "garbage", count: 1, wantErr: model.ErrInvalidInvoiceFormat},
		{name: "too long", invoice: "rgb:utxob:" + strings.Repeat("a", 491), count: 1, wantErr: model.ErrInvoiceTooLong},
		{name: "missing prefix", invoice: "lnbc:utxob:aaaaaaaaaaaaaaaaaaaa", count: 1, wantErr: model.ErrInvalidInvoiceFormat},
		{name: "missing infix", invoice: "rgb:seal:aaaaaaaaaaaaaaaaaaaaaa", count: 1, wantErr: model.ErrInvalidInvoiceFormat},
		{name: "zero units", invoice: validInvoice, count: 0, wantErr: model.ErrInvalidUnitCount},
		{name: "negative units", invoice: validInvoice, count: -2, wantErr: model.ErrInvalidUnitCount},
		{name: "over ceiling", invoice: validInvoice, count: 11, wantErr: model.ErrInvalidUnitCount},
		// invoice errors win over unit errors
		{name: "both invalid", invoice: "garbage", count: 0, wantErr: model.ErrInvalidInvoiceFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(&model.DeliveryOrder{OrderID: "O1", RecipientInvoice: tt.invoice, UnitCount: tt.count})
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestValidate_BoundaryLengths(t *testing.T) {
	v := NewValidator(DefaultRules())

	exact500 := "rgb:utxob:" + strings.Repeat("a", 490)
	assert.NoError(t, v.Validate(&model.DeliveryOrder{RecipientInvoice: exact500, UnitCount: 1}))

	exact20 := "rgb:utxob:" + strings.Repeat("a", 10)
	assert.NoError(t, v.Validate(&model.DeliveryOrder{RecipientInvoice: exact20, UnitCount: 1}))

	assert.ErrorIs(t, v.Validate(&model.DeliveryOrder{RecipientInvoice: exact20[:19], UnitCount: 1}),
		model.ErrInvalidInvoiceFormat)
}

func TestValidate_Deterministic(t *testing.T) {
	v := NewValidator(DefaultRules())
	order := &model.DeliveryOrder{OrderID: "O1", RecipientInvoice: "garbage", UnitCount: 5}
	before := *order

	first := v.Validate(order)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first.Error(), v.Validate(order).Error())
	}
	assert.Equal(t, before, *order)
}

func TestValidate_CustomMarkers(t *testing.T) {
	v := NewValidator(Rules{Prefix: "proto:", Infix: "utxob:", UnitsPerOrder: 700, MaxUnitsPerTransaction: 7000})

	assert.NoError(t, v.Validate(&model.DeliveryOrder{
		RecipientInvoice: "proto:marker-utxob:abcdefghijklmnop",
		UnitCount:        5,
	}))
	assert.Equal(t, int64(3500), v.UnitAmount(&model.DeliveryOrder{UnitCount: 5}))
}

func TestValidate_SegmentRule(t *testing.T) {
	v := NewValidator(Rules{Prefix: "rgb", Infix: "utxob", UnitsPerOrder: 700, MaxUnitsPerTransaction: 7000})

	err := v.Validate(&model.DeliveryOrder{RecipientInvoice: "rgbutxob:" + strings.Repeat("x", 20), UnitCount: 1})
	assert.ErrorIs(t, err, model.ErrInvalidInvoiceFormat)
	assert.ErrorContains(t, err, "segments")

	assert.NoError(t, v.Validate(&model.DeliveryOrder{RecipientInvoice: "rgb:utxob:" + strings.Repeat("x", 20), UnitCount: 1}))
}

func TestNewValidator_ZeroUnitRulesTakeDefaults(t *testing.T) {
	v := NewValidator(Rules{Prefix: "rgb:", Infix: "utxob:"})

	assert.NotPanics(t, func() {
		assert.NoError(t, v.Validate(&model.DeliveryOrder{RecipientInvoice: "rgb:utxob:" + strings.Repeat("x", 20), UnitCount: 10}))
	})
	assert.ErrorIs(t, v.Validate(&model.DeliveryOrder{RecipientInvoice: "rgb:utxob:" + strings.Repeat("x", 20), UnitCount: 11}),
		model.ErrInvalidUnitCount)
	assert.Equal(t, int64(700), v.UnitAmount(&model.DeliveryOrder{UnitCount: 1}))
}
