package billing

import (
	"time"

	"github.com/google/uuid"
)

// Namespaces for identities that must be stable across retries.
var (
	invoiceNamespace    = uuid.MustParse("6f1d9a52-4d1c-4c47-9a0e-5b8f3d1e7a10")
	settlementNamespace = uuid.MustParse("0b7c3e8e-2f55-4b8a-8f5e-1d2a9c6b4e21")
	refundNamespace     = uuid.MustParse("c4a8e1f0-9d37-4e6b-b2a5-7e3f0d8c5a32")
	externalNamespace   = uuid.MustParse("8e2b5f47-1c93-4d0a-a6f8-3b9d2e7c1f54")
)

// PeriodInvoiceID is the identity of the invoice for a subscription period
func PeriodInvoiceID(subscriptionID string, periodStart time.Time) string {
	return uuid.NewSHA1(invoiceNamespace, []byte(subscriptionID+"/"+DateOf(periodStart).Format(time.DateOnly))).String()
}

// SettlementPaymentID is the identity of the ledger entry mark_paid records for an invoice
func SettlementPaymentID(invoiceID string) string {
	return uuid.NewSHA1(settlementNamespace, []byte(invoiceID)).String()
}

// RefundPaymentID is the identity of the refund entry for a payment
func RefundPaymentID(paymentID string) string {
	return uuid.NewSHA1(refundNamespace, []byte(paymentID)).String()
}

// ExternalPaymentID is the identity of a payment reported by a payment provider
func ExternalPaymentID(externalID string) string {
	return uuid.NewSHA1(externalNamespace, []byte(externalID)).String()
}
