package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/bms/pkg/billing"
)

const paymentColumns = `id, invoice_id, subscription_id, customer_id, payment_type, amount, currency,
	status, payment_method, reference, payment_date, refund_of, refund_reason, refunded_at,
	version, created_at, updated_at`

func (s *Store) CreatePayment(ctx context.Context, p *billing.Payment) error {
	created, now := s.stamps(p.CreatedAt)
	err := s.insert(ctx, "payment", p.ID, `INSERT INTO payments (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.InvoiceID, p.SubscriptionID, p.CustomerID, string(p.Type), p.Amount, p.Currency,
		string(p.Status), p.Method, p.Reference, p.PaymentDate.UTC(), p.RefundOf, p.RefundReason, nullTime(p.RefundedAt),
		int64(1), created, now,
	)
	if err != nil {
		return err
	}
	p.Version, p.CreatedAt, p.UpdatedAt = 1, created, now
	return nil
}

func (s *Store) GetPayment(ctx context.Context, id string) (p *billing.Payment, err error) {
	ctx, span := s.span(ctx, "select", "payments")
	defer func() { endSpan(span, err) }()

	row := s.db.QueryRowContext(ctx, s.dialect.rebind(`SELECT `+paymentColumns+` FROM payments WHERE id = ?`), id)
	p, err = scanPayment(row)
	if err == sql.ErrNoRows {
		return nil, billing.NotFound("payment", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return p, nil
}

// UpdatePayment writes status and refund bookkeeping. Amount and type are
// fixed once recorded.
func (s *Store) UpdatePayment(ctx context.Context, p *billing.Payment) error {
	now := s.now()
	err := s.update(ctx, "payment", "payments", p.ID, `UPDATE payments SET
		status = ?, refund_reason = ?, refunded_at = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		string(p.Status), p.RefundReason, nullTime(p.RefundedAt), p.Version+1, now,
		p.ID, p.Version,
	)
	if err != nil {
		return err
	}
	p.Version++
	p.UpdatedAt = now
	return nil
}

func (s *Store) ListPayments(ctx context.Context, filter billing.PaymentFilter) (payments []*billing.Payment, err error) {
	ctx, span := s.span(ctx, "select", "payments")
	defer func() { endSpan(span, err) }()

	var w where
	w.eq("customer_id", filter.CustomerID)
	w.eq("invoice_id", filter.InvoiceID)
	whereIn(&w, "payment_type", filter.Types)
	whereIn(&w, "status", filter.Statuses)

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`SELECT `+paymentColumns+` FROM payments`+w.String()+` ORDER BY created_at, id`), w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	payments = make([]*billing.Payment, 0)
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	return payments, nil
}

func scanPayment(row scanner) (*billing.Payment, error) {
	var (
		p           billing.Payment
		typ, status string
		refundedAt  sql.NullTime
	)
	err := row.Scan(
		&p.ID, &p.InvoiceID, &p.SubscriptionID, &p.CustomerID, &typ, &p.Amount, &p.Currency,
		&status, &p.Method, &p.Reference, &p.PaymentDate, &p.RefundOf, &p.RefundReason, &refundedAt,
		&p.Version, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Type = billing.PaymentType(typ)
	p.Status = billing.PaymentStatus(status)
	p.PaymentDate = p.PaymentDate.UTC()
	p.RefundedAt = timePtr(refundedAt)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}
