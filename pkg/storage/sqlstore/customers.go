package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/bms/pkg/billing"
)

const customerColumns = `id, name, email, phone, customer_type, company_name, contact_person,
	status, version, created_at, updated_at`

func (s *Store) CreateCustomer(ctx context.Context, c *billing.Customer) error {
	created, now := s.stamps(c.CreatedAt)
	err := s.insert(ctx, "customer", c.ID, `INSERT INTO customers (`+customerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Email, c.Phone, string(c.Type), c.CompanyName, c.ContactPerson,
		string(c.Status), int64(1), created, now,
	)
	if err != nil {
		return err
	}
	c.Version, c.CreatedAt, c.UpdatedAt = 1, created, now
	return nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (c *billing.Customer, err error) {
	ctx, span := s.span(ctx, "select", "customers")
	defer func() { endSpan(span, err) }()

	row := s.db.QueryRowContext(ctx, s.dialect.rebind(`SELECT `+customerColumns+` FROM customers WHERE id = ?`), id)
	c, err = scanCustomer(row)
	if err == sql.ErrNoRows {
		return nil, billing.NotFound("customer", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}
	return c, nil
}

func (s *Store) ListCustomers(ctx context.Context) (customers []*billing.Customer, err error) {
	ctx, span := s.span(ctx, "select", "customers")
	defer func() { endSpan(span, err) }()

	rows, err := s.db.QueryContext(ctx, `SELECT `+customerColumns+` FROM customers ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}
	defer rows.Close()

	customers = make([]*billing.Customer, 0)
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan customer: %w", err)
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}
	return customers, nil
}

func scanCustomer(row scanner) (*billing.Customer, error) {
	var (
		c           billing.Customer
		typ, status string
	)
	err := row.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &typ, &c.CompanyName, &c.ContactPerson,
		&status, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Type = billing.CustomerType(typ)
	c.Status = billing.CustomerStatus(status)
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}
