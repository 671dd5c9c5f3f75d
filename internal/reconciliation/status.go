// Package reconciliation repairs local payment state from the provider: a
// sweep over payments stuck in processing, and a backfill of provider events
// the webhook inbox never received. Runs keep no state between them.
package reconciliation

import (
	"github.com/tickettoken/settlement/pkg/enums"
	"github.com/tickettoken/settlement/pkg/provider"
)

// MapStatus maps a provider payment intent status onto a transaction status.
// Unknown and empty values map to failed.
func MapStatus(providerStatus string) enums.TransactionStatus {
	return provider.MapPaymentStatus(providerStatus)
}
