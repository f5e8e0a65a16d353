package billing

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// CustomerSpec describes a customer to create
type CustomerSpec struct {
	ID            string       `json:"id,omitempty"`
	Name          string       `json:"name" validate:"required,max=140"`
	Email         string       `json:"email" validate:"required,email"`
	Phone         string       `json:"phone,omitempty"`
	Type          CustomerType `json:"customer_type,omitempty" validate:"omitempty,oneof=individual company"`
	CompanyName   string       `json:"company_name,omitempty" validate:"required_if=Type company"`
	ContactPerson string       `json:"contact_person,omitempty" validate:"required_if=Type company"`
}

// Customers is the directory of billable customers
type Customers struct {
	env *env
}

// CreateCustomer validates spec and stores a new active customer
func (c *Customers) CreateCustomer(ctx context.Context, spec CustomerSpec) (customer *Customer, err error) {
	ctx, done := c.env.begin(ctx, "customer", "create", spec.ID)
	defer done(&err)

	spec.Email = strings.TrimSpace(spec.Email)
	if err := checkStruct(spec); err != nil {
		return nil, err
	}

	customer = &Customer{
		ID:            spec.ID,
		Name:          strings.TrimSpace(spec.Name),
		Email:         strings.ToLower(spec.Email),
		Phone:         spec.Phone,
		Type:          spec.Type,
		CompanyName:   spec.CompanyName,
		ContactPerson: spec.ContactPerson,
		Status:        CustomerStatusActive,
	}
	if customer.ID == "" {
		customer.ID = uuid.NewString()
	}
	if customer.Type == "" {
		customer.Type = CustomerTypeIndividual
	}

	if err := c.env.store.CreateCustomer(ctx, customer); err != nil {
		return nil, fmt.Errorf("failed to create customer: %w", err)
	}
	c.env.logger.WithField("customer_id", customer.ID).Info("Customer created")
	return customer, nil
}

// GetCustomer retrieves a customer by ID
func (c *Customers) GetCustomer(ctx context.Context, id string) (*Customer, error) {
	customer, err := c.env.store.GetCustomer(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}
	return customer, nil
}

// ListCustomers returns every customer
func (c *Customers) ListCustomers(ctx context.Context) ([]*Customer, error) {
	customers, err := c.env.store.ListCustomers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}
	return customers, nil
}
