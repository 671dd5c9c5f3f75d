package provider

import (
	"testing"

	"github.com/tickettoken/settlement/pkg/enums"
)

func TestMapPaymentStatus(t *testing.T) {
	cases := map[string]enums.TransactionStatus{
		"requires_payment_method": enums.TransactionStatusPending,
		"requires_confirmation":   enums.TransactionStatusPending,
		"requires_action":         enums.TransactionStatusPending,
		"processing":              enums.TransactionStatusProcessing,
		"requires_capture":        enums.TransactionStatusProcessing,
		"succeeded":               enums.TransactionStatusCompleted,
		"canceled":                enums.TransactionStatusCancelled,
		"":                        enums.TransactionStatusFailed,
		"unknown_value":           enums.TransactionStatusFailed,
	}
	for in, want := range cases {
		if got := MapPaymentStatus(in); got != want {
			t.Errorf("MapPaymentStatus(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestMapRefundStatus(t *testing.T) {
	cases := map[string]enums.RefundStatus{
		"pending":   enums.RefundStatusProcessing,
		"succeeded": enums.RefundStatusCompleted,
		"failed":    enums.RefundStatusFailed,
		"canceled":  enums.RefundStatusFailed,
		"":          enums.RefundStatusFailed,
	}
	for in, want := range cases {
		if got := MapRefundStatus(in); got != want {
			t.Errorf("MapRefundStatus(%q) = %s, want %s", in, got, want)
		}
	}
}
