package marketModel

import "github.com/shopspring/decimal"

// RawQuotes is the quote endpoint response: one entry per requested symbol,
// symbols without data are simply absent from the result list.
type RawQuotes struct {
	QuoteResponse struct {
		Result []RawQuote `json:"result"`
		Error  any        `json:"error"`
	} `json:"quoteResponse"`
}

type RawQuote struct {
	Symbol             string  `json:"symbol"`
	RegularMarketPrice float64 `json:"regularMarketPrice"`
}

// RawChart is the per-symbol chart endpoint used on the fallback path.
type RawChart struct {
	Chart struct {
		Result []struct {
			Meta struct {
				RegularMarketPrice float64 `json:"regularMarketPrice"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close []float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error any `json:"error"`
	} `json:"chart"`
}

// Quote is the parsed latest price for a ticker.
type Quote struct {
	Ticker string          `json:"ticker"`
	Price  decimal.Decimal `json:"price"`
}
