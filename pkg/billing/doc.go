// Package billing implements the subscription billing lifecycle: plans,
// subscriptions, invoices and the payment ledger.
//
// # Overview
//
// The package is organized as four components sharing one Store:
//
//   - Catalog: plans, visibility and eligibility
//   - Lifecycle: enrollment and the Trial/Active/Cancelled/Expired state machine
//   - InvoiceGenerator: Draft/Sent/Paid/Overdue/Cancelled invoices derived from subscription periods
//   - Ledger: payments and refunds, settling invoices when they are covered
//
// Every transition loads one entity, checks its status and writes it back
// under the entity's version. A concurrent writer makes the loser fail with
// ErrConcurrentModification.
//
// Cross-entity effects run after the triggering entity has committed. The
// period invoice and the settlement and refund entries have identities derived
// from their source (PeriodInvoiceID, SettlementPaymentID, RefundPaymentID), so
// retrying them never creates duplicates. Notification, rendering and archive
// failures are returned as Warnings on the result.
//
// # Usage Example
//
//	svc := billing.NewService(store, billing.WithLogger(logger), billing.WithInvoiceDueDays(14))
//
//	res, err := svc.Subscriptions.Enroll(ctx, billing.EnrollRequest{
//		CustomerID: customerID,
//		PlanID:     planID,
//		StartDate:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
//	})
//
//	sent, err := svc.Invoices.Send(ctx, res.Invoice.ID)
//	paid, err := svc.Invoices.MarkPaid(ctx, sent.Invoice.ID, "Bank Transfer", "TX-1001")
//
// # Related Packages
//
//   - pkg/storage/sqlstore: PostgreSQL and SQLite Store
//   - pkg/scheduler: cron-driven sweeps
//   - pkg/notify: webhook Notifier
//   - pkg/render: PDF DocumentRenderer
package billing
