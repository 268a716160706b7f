package receipt

// SalesReceipt is the destination record created in QuickBooks. Amounts are
// decimal major units; all arithmetic happens in minor units upstream and is
// divided down only when these fields are populated.
type SalesReceipt struct {
	ID           string  `json:"Id,omitempty"`
	DocNumber    string  `json:"DocNumber,omitempty"`
	TxnDate      string  `json:"TxnDate,omitempty"`
	CustomerRef  Ref     `json:"CustomerRef"`
	PrivateNote  string  `json:"PrivateNote,omitempty"`
	Lines        []Line  `json:"Line"`
	TotalAmt     float64 `json:"TotalAmt,omitempty"`
	CurrencyCode string  `json:"CurrencyRef,omitempty"`
}

type Ref struct {
	Value string `json:"value"`
	Name  string `json:"name,omitempty"`
}

type Line struct {
	Description string          `json:"Description,omitempty"`
	Amount      float64         `json:"Amount"`
	DetailType  string          `json:"DetailType"`
	Detail      SalesItemDetail `json:"SalesItemLineDetail"`
}

type SalesItemDetail struct {
	ItemRef   Ref     `json:"ItemRef"`
	Quantity  float64 `json:"Qty,omitempty"`
	UnitPrice float64 `json:"UnitPrice,omitempty"`
}
