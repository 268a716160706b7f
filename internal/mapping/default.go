package mapping

import (
	"fmt"
	"math"
	"strings"

	"github.com/Jativax/sq-qb-integration-sub000/internal/domain/order"
	"github.com/Jativax/sq-qb-integration-sub000/internal/domain/receipt"
)

// tipKeywords classify a service charge as a tip by name when its type does
// not already say so.
var tipKeywords = []string{"tip", "gratuity"}

// DefaultStrategy converts a Square order into a QuickBooks sales receipt
// line by line. Square reports minor units (cents); QuickBooks takes
// decimal major units.
type DefaultStrategy struct{}

func (s *DefaultStrategy) Name() string { return DefaultStrategyName }

func (s *DefaultStrategy) Description() string {
	return "Maps Square order line items, discounts and service charges to sales receipt lines"
}

func (s *DefaultStrategy) ConfigSchema() map[string]string {
	return map[string]string{
		"customer_id":            "QuickBooks customer the receipt is booked against",
		"default_item_id":        "Item for regular line items and the fallback line",
		"tip_item_id":            "Item for tips and automatic gratuities",
		"service_charge_item_id": "Item for non-tip service charges",
		"discount_item_id":       "Item for discount lines (negative amounts)",
	}
}

func (s *DefaultStrategy) CanHandle(o *order.Order, mctx Context) bool {
	return o != nil && o.ID != "" && o.TotalMoney.Amount >= 0
}

func (s *DefaultStrategy) Transform(o *order.Order, mctx Context) (*receipt.SalesReceipt, error) {
	cfg := mctx.Mapping

	var lines []receipt.Line

	if len(o.LineItems) == 0 {
		// No line items at all: synthesize a single line from the order
		// total so the receipt still balances.
		amount := major(o.TotalMoney.Amount)
		lines = append(lines, receipt.Line{
			Description: fmt.Sprintf("Square order %s", o.ID),
			Amount:      amount,
			DetailType:  "SalesItemLineDetail",
			Detail: receipt.SalesItemDetail{
				ItemRef:   receipt.Ref{Value: cfg.DefaultItemID},
				Quantity:  1,
				UnitPrice: amount,
			},
		})
	} else {
		for _, li := range o.LineItems {
			if li.TotalMoney.Amount == 0 {
				continue
			}
			qty := li.Quantity
			if qty <= 0 {
				// Zero or absent quantity: report the full amount as the
				// unit price instead of dividing by zero.
				qty = 1
			}
			amount := major(li.TotalMoney.Amount)
			lines = append(lines, receipt.Line{
				Description: li.Name,
				Amount:      amount,
				DetailType:  "SalesItemLineDetail",
				Detail: receipt.SalesItemDetail{
					ItemRef:   receipt.Ref{Value: cfg.DefaultItemID},
					Quantity:  float64(qty),
					UnitPrice: round2(amount / float64(qty)),
				},
			})
		}

		for _, d := range o.Discounts {
			if d.AppliedMoney.Amount == 0 {
				continue
			}
			amount := -major(d.AppliedMoney.Amount)
			lines = append(lines, receipt.Line{
				Description: d.Name,
				Amount:      amount,
				DetailType:  "SalesItemLineDetail",
				Detail: receipt.SalesItemDetail{
					ItemRef:   receipt.Ref{Value: cfg.DiscountItemID},
					Quantity:  1,
					UnitPrice: amount,
				},
			})
		}

		for _, sc := range o.ServiceCharges {
			if sc.TotalMoney.Amount == 0 {
				continue
			}
			itemID := cfg.ServiceChargeItemID
			if isTip(sc) {
				itemID = cfg.TipItemID
			}
			amount := major(sc.TotalMoney.Amount)
			lines = append(lines, receipt.Line{
				Description: sc.Name,
				Amount:      amount,
				DetailType:  "SalesItemLineDetail",
				Detail: receipt.SalesItemDetail{
					ItemRef:   receipt.Ref{Value: itemID},
					Quantity:  1,
					UnitPrice: amount,
				},
			})
		}
	}

	r := &receipt.SalesReceipt{
		CustomerRef: receipt.Ref{Value: cfg.CustomerID},
		PrivateNote: fmt.Sprintf("Imported from Square order %s", o.ID),
		Lines:       lines,
		TotalAmt:    major(o.TotalMoney.Amount),
	}
	if !o.ClosedAt.IsZero() {
		r.TxnDate = o.ClosedAt.Format("2006-01-02")
	} else if !o.CreatedAt.IsZero() {
		r.TxnDate = o.CreatedAt.Format("2006-01-02")
	}

	return r, nil
}

// isTip reports whether a service charge represents a gratuity, either by
// its type marker or a tip-related keyword in its name.
func isTip(sc order.ServiceCharge) bool {
	if sc.Type == order.ChargeAutoGratuity {
		return true
	}
	name := strings.ToLower(sc.Name)
	for _, kw := range tipKeywords {
		if strings.Contains(name, kw) {
			return true
		}
	}
	return false
}

// major converts minor units (cents) to decimal major units.
func major(minor int64) float64 {
	return float64(minor) / 100
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
