package binance

// Wire types for the subset of the exchange REST API this client uses.

type accountResponse struct {
	Balances []rawBalance `json:"balances"`
}

type rawBalance struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

type tickerPriceResponse struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

type exchangeInfoResponse struct {
	Symbols []symbolInfo `json:"symbols"`
}

type symbolInfo struct {
	Symbol  string         `json:"symbol"`
	Status  string         `json:"status"`
	Filters []symbolFilter `json:"filters"`
}

// symbolFilter is a union of the filter fields this client cares about.
// Newer API versions report the minimum order value under NOTIONAL
// instead of MIN_NOTIONAL; both carry minNotional.
type symbolFilter struct {
	FilterType  string `json:"filterType"`
	MinQty      string `json:"minQty"`
	MaxQty      string `json:"maxQty"`
	StepSize    string `json:"stepSize"`
	MinNotional string `json:"minNotional"`
}

type orderResponse struct {
	OrderID             int64  `json:"orderId"`
	Status              string `json:"status"`
	ExecutedQty         string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
}

type convertQuoteResponse struct {
	QuoteID string `json:"quoteId"`
}

type convertAcceptResponse struct {
	OrderID     string `json:"orderId"`
	OrderStatus string `json:"orderStatus"`
}

type convertTradeResponse struct {
	OrderID    string `json:"orderId"`
	Status     string `json:"orderStatus"`
	FromAmount string `json:"fromAmount"`
	ToAmount   string `json:"toAmount"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
}
