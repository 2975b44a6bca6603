package extraction

// Merchant contains store information extracted from a receipt. Fields the
// model could not find stay nil and serialize as null, never as "".
type Merchant struct {
	Name    *string `json:"name"`
	Address *string `json:"address"`
	Phone   *string `json:"phone"`
}

// Transaction contains the receipt's transaction details
type Transaction struct {
	Date          *string  `json:"date"`
	Time          *string  `json:"time"`
	Subtotal      *float64 `json:"subtotal"`
	Tax           *float64 `json:"tax"`
	Total         *float64 `json:"total"`
	PaymentMethod *string  `json:"payment_method"`
}

// LineItem is one purchased item on the receipt
type LineItem struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	TotalPrice  float64 `json:"total_price"`
}

// ParsedReceipt is the validated result of structured extraction.
// Items is never nil; an itemless receipt yields an empty slice.
type ParsedReceipt struct {
	Merchant    Merchant    `json:"merchant"`
	Transaction Transaction `json:"transaction"`
	Items       []LineItem  `json:"items"`
}
