package ibrest

// DTO types for the brokerage gateway's REST API. Prices are dollars per
// contract unit; expirations are "YYYYMMDD" strings.

type indexSnapshotDTO struct {
	Symbol string  `json:"symbol"`
	Last   float64 `json:"last"`
}

type chainDTO struct {
	Underlying  string               `json:"underlying"`
	Expirations []chainExpirationDTO `json:"expirations"`
}

type chainExpirationDTO struct {
	Expiration string    `json:"expiration"`
	Strikes    []float64 `json:"strikes"`
}

type quoteDTO struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Delta  float64 `json:"delta"`
	Gamma  float64 `json:"gamma"`
	Vega   float64 `json:"vega"`
	Theta  float64 `json:"theta"`
}

type submitOrderRequest struct {
	Account  string  `json:"account"`
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Quantity int     `json:"quantity"`
	Type     string  `json:"type"`
	Limit    float64 `json:"limit_price"`
	Duration string  `json:"duration"`
}

type submitOrderResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

type fillDTO struct {
	Price      float64 `json:"price"`
	Quantity   int     `json:"quantity"`
	Commission float64 `json:"commission"`
}

type fillsResponse struct {
	OrderID string    `json:"order_id"`
	Fills   []fillDTO `json:"fills"`
}

type openOrderDTO struct {
	OrderID string `json:"order_id"`
	Symbol  string `json:"symbol"`
	Side    string `json:"side"`
	Status  string `json:"status"`
}

type openOrdersResponse struct {
	Orders []openOrderDTO `json:"orders"`
}

type positionDTO struct {
	Symbol   string  `json:"symbol"`
	Quantity float64 `json:"quantity"`
}

type positionsResponse struct {
	Positions []positionDTO `json:"positions"`
}
