package fxModel

// RawRates is the Frankfurter response shape: rates are quoted per 1 EUR.
type RawRates struct {
	Base  string             `json:"base"`
	Date  string             `json:"date"`
	Rates map[string]float64 `json:"rates"`
}
