package model

import "encoding/json"

// Flag is a closed-vocabulary discrepancy marker attached to a document or
// line after evaluation. Flags are recomputed each run, never accumulated.
type Flag string

// Flag constants.
const (
	FlagQtyDrift         Flag = "QTY_DRIFT"
	FlagPriceDrift       Flag = "PRICE_DRIFT"
	FlagTotalMismatch    Flag = "TOTAL_MISMATCH"
	FlagSubtotalFallback Flag = "SUBTOTAL_FALLBACK"
	FlagMissingOnDN      Flag = "MISSING_ON_DN"
	FlagMissingOnInv     Flag = "MISSING_ON_INV"
	FlagDiscountApplied  Flag = "DISCOUNT_APPLIED"

	// FlagLineFlagsCorrupt is substituted when a persisted flag payload
	// cannot be decoded, so one bad row never blocks a rebuild.
	FlagLineFlagsCorrupt Flag = "LINE_FLAGS_CORRUPT"
)

// Valid reports whether the flag is part of the closed vocabulary.
func (f Flag) Valid() bool {
	switch f {
	case FlagQtyDrift, FlagPriceDrift, FlagTotalMismatch, FlagSubtotalFallback,
		FlagMissingOnDN, FlagMissingOnInv, FlagDiscountApplied, FlagLineFlagsCorrupt:
		return true
	}
	return false
}

// FlagSet is an ordered, duplicate-free set of flags. Core logic works on
// FlagSet values; the encoded form exists only at the persistence edge.
type FlagSet struct {
	flags []Flag
}

// NewFlagSet builds a set from the given flags, dropping duplicates and
// anything outside the closed vocabulary while preserving order.
func NewFlagSet(flags ...Flag) FlagSet {
	var fs FlagSet
	for _, f := range flags {
		fs.Add(f)
	}
	return fs
}

// Add appends a flag if it is valid and not already present.
func (fs *FlagSet) Add(f Flag) {
	if !f.Valid() || fs.Has(f) {
		return
	}
	fs.flags = append(fs.flags, f)
}

// Has reports whether the flag is present.
func (fs FlagSet) Has(f Flag) bool {
	for _, have := range fs.flags {
		if have == f {
			return true
		}
	}
	return false
}

// Len returns the number of flags in the set.
func (fs FlagSet) Len() int {
	return len(fs.flags)
}

// Flags returns the flags in insertion order.
func (fs *FlagSet) Flags() []Flag {
	out := make([]Flag, len(fs.flags))
	copy(out, fs.flags)
	return out
}

// MarshalJSON writes the set as a plain flag array.
func (fs FlagSet) MarshalJSON() ([]byte, error) {
	if len(fs.flags) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(fs.flags)
}

// UnmarshalJSON reads a flag array, degrading undecodable payloads to
// LINE_FLAGS_CORRUPT the same way DecodeFlagSet does.
func (fs *FlagSet) UnmarshalJSON(data []byte) error {
	*fs = DecodeFlagSet(string(data))
	return nil
}

// Encode serializes the set for storage. An empty set encodes as "".
func (fs FlagSet) Encode() string {
	if len(fs.flags) == 0 {
		return ""
	}
	data, err := json.Marshal(fs.flags)
	if err != nil {
		return ""
	}
	return string(data)
}

// DecodeFlagSet parses a persisted payload. A payload that cannot be decoded
// or contains unknown flags yields a set holding only LINE_FLAGS_CORRUPT;
// decoding never fails.
func DecodeFlagSet(payload string) FlagSet {
	if payload == "" {
		return FlagSet{}
	}
	var raw []Flag
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return NewFlagSet(FlagLineFlagsCorrupt)
	}
	var fs FlagSet
	for _, f := range raw {
		if !f.Valid() {
			return NewFlagSet(FlagLineFlagsCorrupt)
		}
		fs.Add(f)
	}
	return fs
}
