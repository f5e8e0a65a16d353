// Package api exposes the billing service over a JSON REST API.
//
// All routes live under /api/v1:
//
//	/plans                                    plan catalog
//	/customers/{id}/plans?view=list|pricing   plans a customer may enroll in
//	/subscriptions                            enrollment and lifecycle transitions
//	/invoices                                 invoice generation, sending and payment
//	/payments                                 payment lookup and refunds
//	/webhooks                                 notification endpoints (when configured)
//
// Transition responses embed the warnings produced by best-effort side
// effects that failed after the transition committed. Errors are mapped to
// statuses by httputil.WriteServiceError.
package api
