package extraction

// parsePrompt is the fixed instruction for structured extraction. The raw
// OCR text is appended verbatim, so identical text yields identical prompts.
const parsePrompt = `You are an expert at parsing receipt data. Analyze the following raw OCR text from a receipt and extract structured information.

Return ONLY a valid JSON object with exactly this structure. Do not include any other text or formatting:

{
  "merchant": {
    "name": "Store name",
    "address": "Store address if available",
    "phone": "Phone number if available"
  },
  "transaction": {
    "date": "Transaction date if available (YYYY-MM-DD format)",
    "time": "Transaction time if available (HH:MM format)",
    "subtotal": 0.00,
    "tax": 0.00,
    "total": 0.00,
    "payment_method": "Payment method if available"
  },
  "items": [
    {
      "description": "Item description",
      "quantity": 1,
      "unit_price": 0.00,
      "total_price": 0.00
    }
  ]
}

Important guidelines:
- Extract all line items with their descriptions and prices
- Use null for missing information rather than empty strings
- Dates must be in YYYY-MM-DD format
- All prices must be plain decimal numbers (not strings), with no currency symbols
- Prices are never negative
- If quantity is not specified, assume 1
- Total should match the final amount paid
- Your response must be valid JSON only, no markdown code blocks, no other text

Raw OCR text:
`

// BuildPrompt constructs the extraction prompt for the given OCR text.
// Pure function: no failure path, no side effects.
func BuildPrompt(rawText string) string {
	return parsePrompt + rawText
}
