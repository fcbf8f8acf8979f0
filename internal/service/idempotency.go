package service

import (
	"strings"

	"github.com/google/uuid"
)

// Keys for repeatable triggers are derived from the event's identity so that
// every retry computes the same key.

func PaymentKey(paymentID string) string {
	return "payment_" + paymentID
}

func PayoutTransferKey(submissionID string) string {
	return "submission_" + submissionID + "_payout"
}

func PayoutDebitKey(submissionID string) string {
	return PayoutTransferKey(submissionID) + "_debit"
}

// RandomKey is only for one-shot entries with no natural external id.
func RandomKey() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
