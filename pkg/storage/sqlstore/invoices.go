package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/bms/pkg/billing"
)

const invoiceColumns = `id, subscription_id, customer_id, plan_id, plan_name, description,
	amount, tax_amount, total_amount, currency, status, invoice_date, due_date,
	period_start, period_end, paid_at, document_key, version, created_at, updated_at`

func (s *Store) CreateInvoice(ctx context.Context, inv *billing.Invoice) error {
	created, now := s.stamps(inv.CreatedAt)
	err := s.insert(ctx, "invoice", inv.ID, `INSERT INTO invoices (`+invoiceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.SubscriptionID, inv.CustomerID, inv.PlanID, inv.PlanName, inv.Description,
		inv.Amount, inv.TaxAmount, inv.TotalAmount, inv.Currency, string(inv.Status),
		inv.InvoiceDate.UTC(), inv.DueDate.UTC(),
		nullTime(inv.PeriodStart), nullTime(inv.PeriodEnd), nullTime(inv.PaidAt), inv.DocumentKey,
		int64(1), created, now,
	)
	if err != nil {
		return err
	}
	inv.Version, inv.CreatedAt, inv.UpdatedAt = 1, created, now
	return nil
}

func (s *Store) GetInvoice(ctx context.Context, id string) (inv *billing.Invoice, err error) {
	ctx, span := s.span(ctx, "select", "invoices")
	defer func() { endSpan(span, err) }()

	row := s.db.QueryRowContext(ctx, s.dialect.rebind(`SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`), id)
	inv, err = scanInvoice(row)
	if err == sql.ErrNoRows {
		return nil, billing.NotFound("invoice", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	return inv, nil
}

func (s *Store) UpdateInvoice(ctx context.Context, inv *billing.Invoice) error {
	now := s.now()
	err := s.update(ctx, "invoice", "invoices", inv.ID, `UPDATE invoices SET
		description = ?, amount = ?, tax_amount = ?, total_amount = ?, status = ?,
		due_date = ?, paid_at = ?, document_key = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		inv.Description, inv.Amount, inv.TaxAmount, inv.TotalAmount, string(inv.Status),
		inv.DueDate.UTC(), nullTime(inv.PaidAt), inv.DocumentKey, inv.Version+1, now,
		inv.ID, inv.Version,
	)
	if err != nil {
		return err
	}
	inv.Version++
	inv.UpdatedAt = now
	return nil
}

func (s *Store) ListInvoices(ctx context.Context, filter billing.InvoiceFilter) (invoices []*billing.Invoice, err error) {
	ctx, span := s.span(ctx, "select", "invoices")
	defer func() { endSpan(span, err) }()

	var w where
	w.eq("customer_id", filter.CustomerID)
	w.eq("subscription_id", filter.SubscriptionID)
	whereIn(&w, "status", filter.Statuses)
	w.before("due_date", filter.DueBefore)

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`SELECT `+invoiceColumns+` FROM invoices`+w.String()+` ORDER BY created_at, id`), w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	defer rows.Close()

	invoices = make([]*billing.Invoice, 0)
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	return invoices, nil
}

func scanInvoice(row scanner) (*billing.Invoice, error) {
	var (
		inv                          billing.Invoice
		status                       string
		periodStart, periodEnd, paid sql.NullTime
	)
	err := row.Scan(
		&inv.ID, &inv.SubscriptionID, &inv.CustomerID, &inv.PlanID, &inv.PlanName, &inv.Description,
		&inv.Amount, &inv.TaxAmount, &inv.TotalAmount, &inv.Currency, &status, &inv.InvoiceDate, &inv.DueDate,
		&periodStart, &periodEnd, &paid, &inv.DocumentKey, &inv.Version, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	inv.Status = billing.InvoiceStatus(status)
	inv.InvoiceDate = inv.InvoiceDate.UTC()
	inv.DueDate = inv.DueDate.UTC()
	inv.PeriodStart = timePtr(periodStart)
	inv.PeriodEnd = timePtr(periodEnd)
	inv.PaidAt = timePtr(paid)
	inv.CreatedAt = inv.CreatedAt.UTC()
	inv.UpdatedAt = inv.UpdatedAt.UTC()
	return &inv, nil
}
