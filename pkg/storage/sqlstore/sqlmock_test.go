package sqlstore

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/bms/pkg/billing"
)

func setupMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, Postgres, quietLogger()), mock
}

func TestDialect_Rebind(t *testing.T) {
	assert.Equal(t, "a = $1 AND b IN ($2, $3)", Postgres.rebind("a = ? AND b IN (?, ?)"))
	assert.Equal(t, "a = ? AND b = ?", SQLite.rebind("a = ? AND b = ?"))
}

func TestDialectFor(t *testing.T) {
	d, err := DialectFor("postgresql")
	require.NoError(t, err)
	assert.Equal(t, Postgres, d)

	d, err = DialectFor("sqlite")
	require.NoError(t, err)
	assert.Equal(t, SQLite, d)

	_, err = DialectFor("mysql")
	assert.Error(t, err)
}

func TestDialect_UniqueViolation(t *testing.T) {
	assert.True(t, Postgres.uniqueViolation(&pq.Error{Code: "23505"}))
	assert.False(t, Postgres.uniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, Postgres.uniqueViolation(errors.New("boom")))
}

func TestStore_CreateCustomer_UniqueViolation(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectExec("INSERT INTO customers").
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	c := &billing.Customer{ID: "cust-1", Name: "One", Email: "one@example.com"}
	err := store.CreateCustomer(context.Background(), c)
	assert.ErrorIs(t, err, billing.ErrAlreadyExists)
	assert.Zero(t, c.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CreatePayment_DriverError(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectExec("INSERT INTO payments").WillReturnError(errors.New("connection reset"))

	p := &billing.Payment{ID: "pay-1", Amount: decimal.NewFromInt(10), Currency: "USD"}
	err := store.CreatePayment(context.Background(), p)
	require.Error(t, err)
	assert.NotErrorIs(t, err, billing.ErrAlreadyExists)
	assert.Contains(t, err.Error(), "failed to insert payment")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpdateInvoice_VersionMismatch(t *testing.T) {
	tests := []struct {
		name    string
		rows    *sqlmock.Rows
		wantErr error
	}{
		{
			name:    "row exists",
			rows:    sqlmock.NewRows([]string{"?column?"}).AddRow(1),
			wantErr: billing.ErrConcurrentModification,
		},
		{
			name:    "row missing",
			rows:    sqlmock.NewRows([]string{"?column?"}),
			wantErr: billing.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := setupMockStore(t)

			mock.ExpectExec(regexp.QuoteMeta("UPDATE invoices SET")).
				WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM invoices WHERE id = $1")).
				WithArgs("inv-1").
				WillReturnRows(tt.rows)

			inv := &billing.Invoice{ID: "inv-1", Version: 3, DueDate: time.Now()}
			err := store.UpdateInvoice(context.Background(), inv)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, int64(3), inv.Version)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStore_UpdateSubscription_BumpsVersion(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE subscriptions SET")).
		WithArgs("active", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), true,
			"", sqlmock.AnyArg(), int64(5), sqlmock.AnyArg(), "sub-1", int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	sub := &billing.Subscription{ID: "sub-1", Status: billing.SubscriptionStatusActive, AutoRenewal: true, Version: 4}
	require.NoError(t, store.UpdateSubscription(context.Background(), sub))
	assert.Equal(t, int64(5), sub.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetCustomer_NotFound(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM customers WHERE id = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.GetCustomer(context.Background(), "missing")
	assert.ErrorIs(t, err, billing.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ListInvoices_Filters(t *testing.T) {
	store, mock := setupMockStore(t)
	due := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM invoices WHERE customer_id = $1 AND status IN ($2, $3) AND due_date < $4 ORDER BY created_at, id")).
		WithArgs("cust-1", "sent", "overdue", due).
		WillReturnRows(sqlmock.NewRows(nil))

	invoices, err := store.ListInvoices(context.Background(), billing.InvoiceFilter{
		CustomerID: "cust-1",
		Statuses:   []billing.InvoiceStatus{billing.InvoiceStatusSent, billing.InvoiceStatusOverdue},
		DueBefore:  &due,
	})
	require.NoError(t, err)
	assert.Empty(t, invoices)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_HealthCheck(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	store := New(db, Postgres, quietLogger())

	mock.ExpectPing()
	assert.NoError(t, store.HealthCheck(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("down"))
	assert.Error(t, store.HealthCheck(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
