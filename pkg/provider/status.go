package provider

import "github.com/tickettoken/settlement/pkg/enums"

// MapPaymentStatus maps a provider payment status onto the local status enum.
// Unknown and empty values map to failed.
func MapPaymentStatus(status string) enums.TransactionStatus {
	switch status {
	case "requires_payment_method", "requires_confirmation", "requires_action":
		return enums.TransactionStatusPending
	case "processing", "requires_capture":
		return enums.TransactionStatusProcessing
	case "succeeded":
		return enums.TransactionStatusCompleted
	case "canceled":
		return enums.TransactionStatusCancelled
	default:
		return enums.TransactionStatusFailed
	}
}

// MapRefundStatus maps a provider refund status onto the local refund enum.
func MapRefundStatus(status string) enums.RefundStatus {
	switch status {
	case "pending", "requires_action":
		return enums.RefundStatusProcessing
	case "succeeded":
		return enums.RefundStatusCompleted
	default:
		return enums.RefundStatusFailed
	}
}
