package services

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

func newOrderID() string   { return "ord_" + ulid.Make().String() }
func newItemID() string    { return "itm_" + ulid.Make().String() }
func newPaymentID() string { return "pay_" + ulid.Make().String() }
func newOutboxID() string  { return "obx_" + ulid.Make().String() }
func newLogID() string     { return "ivl_" + ulid.Make().String() }

// newOrderNumber derives the human-facing order number from the order id.
// ULIDs are lexicographically sortable, so numbers stay roughly chronological.
func newOrderNumber(orderID string) string {
	raw := strings.TrimPrefix(orderID, "ord_")
	if len(raw) > 10 {
		raw = raw[len(raw)-10:]
	}
	return "CO-" + strings.ToUpper(raw)
}
