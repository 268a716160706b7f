package order

import "time"

// Order states reported by Square. Only completed orders are synced.
const (
	StateOpen      = "OPEN"
	StateCompleted = "COMPLETED"
	StateCanceled  = "CANCELED"
)

// Service charge types. AutoGratuity marks an automatic tip.
const (
	ChargeAutoGratuity = "AUTO_GRATUITY"
	ChargeCustom       = "CUSTOM"
)

// Money is an amount in minor units (cents) as Square reports it.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// Order is the source record fetched from the Square Orders API.
type Order struct {
	ID             string          `json:"id"`
	LocationID     string          `json:"location_id"`
	State          string          `json:"state"`
	TotalMoney     Money           `json:"total_money"`
	LineItems      []LineItem      `json:"line_items,omitempty"`
	Discounts      []Discount      `json:"discounts,omitempty"`
	ServiceCharges []ServiceCharge `json:"service_charges,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	ClosedAt       time.Time       `json:"closed_at,omitempty"`
}

type LineItem struct {
	UID        string `json:"uid"`
	Name       string `json:"name"`
	Quantity   int64  `json:"quantity,string"`
	TotalMoney Money  `json:"total_money"`
}

type Discount struct {
	UID          string `json:"uid"`
	Name         string `json:"name"`
	AppliedMoney Money  `json:"applied_money"`
}

type ServiceCharge struct {
	UID        string `json:"uid"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	TotalMoney Money  `json:"total_money"`
}
