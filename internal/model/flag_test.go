package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlagSet(t *testing.T) {
	t.Run("deduplicates and preserves order", func(t *testing.T) {
		fs := NewFlagSet(FlagQtyDrift, FlagPriceDrift, FlagQtyDrift)
		assert.Equal(t, 2, fs.Len())
		assert.Equal(t, []Flag{FlagQtyDrift, FlagPriceDrift}, fs.Flags())
	})

	t.Run("unknown flags are dropped", func(t *testing.T) {
		fs := NewFlagSet(Flag("NOT_A_FLAG"), FlagTotalMismatch)
		assert.Equal(t, 1, fs.Len())
		assert.True(t, fs.Has(FlagTotalMismatch))
	})

	t.Run("empty set", func(t *testing.T) {
		var fs FlagSet
		assert.Zero(t, fs.Len())
		assert.False(t, fs.Has(FlagQtyDrift))
		assert.Empty(t, fs.Encode())
	})
}

func TestDecodeFlagSet(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    []Flag
	}{
		{
			name:    "round trip",
			payload: NewFlagSet(FlagQtyDrift, FlagDiscountApplied).Encode(),
			want:    []Flag{FlagQtyDrift, FlagDiscountApplied},
		},
		{
			name:    "empty payload",
			payload: "",
			want:    []Flag{},
		},
		{
			name:    "malformed json yields the corrupt marker",
			payload: `{"not`,
			want:    []Flag{FlagLineFlagsCorrupt},
		},
		{
			name:    "unknown flag yields the corrupt marker",
			payload: `["QTY_DRIFT","SOMETHING_ELSE"]`,
			want:    []Flag{FlagLineFlagsCorrupt},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := DecodeFlagSet(tt.payload)
			require.Equal(t, len(tt.want), fs.Len())
			assert.Equal(t, tt.want, fs.Flags())
		})
	}
}

func TestGenerateHash(t *testing.T) {
	doc := Document{
		Kind:         KindInvoice,
		SupplierName: "Wildhorse",
		Reference:    "INV-1",
		TotalPennies: 4400,
	}
	same := doc
	assert.Equal(t, doc.GenerateHash(), same.GenerateHash())

	other := doc
	other.TotalPennies = 4500
	assert.NotEqual(t, doc.GenerateHash(), other.GenerateHash())
}

func TestNaivePennies(t *testing.T) {
	tests := []struct {
		name string
		line LineItem
		want int64
	}{
		{name: "whole", line: LineItem{Quantity: 3, UnitPricePennies: 2200}, want: 6600},
		{name: "fractional rounds", line: LineItem{Quantity: 2.5, UnitPricePennies: 333}, want: 833},
		{name: "zero quantity", line: LineItem{Quantity: 0, UnitPricePennies: 100}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.line.NaivePennies())
		})
	}
}
