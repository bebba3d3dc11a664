// Package orders holds the local-reference ↔ remote-id order book and the
// callback surface into the order-owning strategy runtime.
package orders

// Notifier is implemented by the external order owner. The gateway and the
// reconciliation engine report order lifecycle transitions through it;
// implementations must be safe for concurrent use, since callbacks fire from
// the worker and stream goroutines.
type Notifier interface {
	// Submitted fires when an order has been queued for the terminal,
	// before any network I/O.
	Submitted(ref string)
	// Accepted fires when the terminal acknowledged order creation.
	Accepted(ref string)
	// Rejected fires on a terminal NACK or a transport failure during creation.
	Rejected(ref string)
	// Cancelled fires when the terminal acknowledged a cancel or close.
	Cancelled(ref string)
	// Filled reports an execution applied to a locally-issued order. Size is
	// signed: negative for sell-side fills. Reason echoes the terminal
	// order-type tag that caused the fill.
	Filled(ref string, size, price float64, reason string)
	// ExternalFill reports an execution on a tracked instrument that no
	// locally-issued order explains.
	ExternalFill(symbol string, size, price float64)
}
