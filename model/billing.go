package model

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Party is the tax identity of a supplier or customer.
type Party struct {
	NIT    string `json:"nit"`
	Nombre string `json:"nombre"`
}

// Billing is the canonical record extracted from a billing document.
type Billing struct {
	ID        string          `json:"id"`
	CUFE      string          `json:"cufe"`
	Date      string          `json:"date"`
	Value     decimal.Decimal `json:"value"`
	Proveedor Party           `json:"proveedor"`
	Cliente   Party           `json:"cliente"`
}

// MarshalJSON writes Value as a JSON number instead of decimal's quoted form.
func (b Billing) MarshalJSON() ([]byte, error) {
	type plain Billing
	return json.Marshal(struct {
		plain
		Value json.Number `json:"value"`
	}{
		plain: plain(b),
		Value: json.Number(b.Value.String()),
	})
}
