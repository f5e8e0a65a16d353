package billing

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. Entities are copied on the way in and
// out so callers never share memory with the store.
type MemoryStore struct {
	mu            sync.RWMutex
	plans         map[string]Plan
	customers     map[string]Customer
	subscriptions map[string]Subscription
	invoices      map[string]Invoice
	payments      map[string]Payment
	now           func() time.Time
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		plans:         make(map[string]Plan),
		customers:     make(map[string]Customer),
		subscriptions: make(map[string]Subscription),
		invoices:      make(map[string]Invoice),
		payments:      make(map[string]Payment),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) stamp(created, updated *time.Time, version *int64) {
	now := m.now()
	if created.IsZero() {
		*created = now
	}
	*updated = now
	*version = 1
}

func (m *MemoryStore) CreatePlan(ctx context.Context, p *Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.plans[p.ID]; ok {
		return AlreadyExists("plan", p.ID)
	}
	m.stamp(&p.CreatedAt, &p.UpdatedAt, &p.Version)
	m.plans[p.ID] = clonePlan(*p)
	return nil
}

func (m *MemoryStore) GetPlan(ctx context.Context, id string) (*Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plans[id]
	if !ok {
		return nil, NotFound("plan", id)
	}
	out := clonePlan(p)
	return &out, nil
}

func (m *MemoryStore) UpdatePlan(ctx context.Context, p *Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.plans[p.ID]
	if !ok {
		return NotFound("plan", p.ID)
	}
	if cur.Version != p.Version {
		return Conflict("plan", p.ID)
	}
	p.Version++
	p.UpdatedAt = m.now()
	m.plans[p.ID] = clonePlan(*p)
	return nil
}

func (m *MemoryStore) ListPlans(ctx context.Context, filter PlanFilter) ([]*Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Plan, 0, len(m.plans))
	for _, p := range m.plans {
		if filter.ActiveOnly && !p.Active {
			continue
		}
		c := clonePlan(p)
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return byCreation(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return out, nil
}

func (m *MemoryStore) CreateCustomer(ctx context.Context, c *Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.customers[c.ID]; ok {
		return AlreadyExists("customer", c.ID)
	}
	m.stamp(&c.CreatedAt, &c.UpdatedAt, &c.Version)
	m.customers[c.ID] = *c
	return nil
}

func (m *MemoryStore) GetCustomer(ctx context.Context, id string) (*Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.customers[id]
	if !ok {
		return nil, NotFound("customer", id)
	}
	return &c, nil
}

func (m *MemoryStore) ListCustomers(ctx context.Context) ([]*Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Customer, 0, len(m.customers))
	for _, c := range m.customers {
		c := c
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return byCreation(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return out, nil
}

func (m *MemoryStore) CreateSubscription(ctx context.Context, s *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subscriptions[s.ID]; ok {
		return AlreadyExists("subscription", s.ID)
	}
	m.stamp(&s.CreatedAt, &s.UpdatedAt, &s.Version)
	m.subscriptions[s.ID] = *s
	return nil
}

func (m *MemoryStore) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.subscriptions[id]
	if !ok {
		return nil, NotFound("subscription", id)
	}
	return &s, nil
}

func (m *MemoryStore) UpdateSubscription(ctx context.Context, s *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.subscriptions[s.ID]
	if !ok {
		return NotFound("subscription", s.ID)
	}
	if cur.Version != s.Version {
		return Conflict("subscription", s.ID)
	}
	s.Version++
	s.UpdatedAt = m.now()
	m.subscriptions[s.ID] = *s
	return nil
}

func (m *MemoryStore) ListSubscriptions(ctx context.Context, filter SubscriptionFilter) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Subscription, 0)
	for _, s := range m.subscriptions {
		if !filter.Matches(&s) {
			continue
		}
		s := s
		out = append(out, &s)
	}
	sort.Slice(out, func(i, j int) bool { return byCreation(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryStore) CreateInvoice(ctx context.Context, inv *Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.invoices[inv.ID]; ok {
		return AlreadyExists("invoice", inv.ID)
	}
	m.stamp(&inv.CreatedAt, &inv.UpdatedAt, &inv.Version)
	m.invoices[inv.ID] = *inv
	return nil
}

func (m *MemoryStore) GetInvoice(ctx context.Context, id string) (*Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inv, ok := m.invoices[id]
	if !ok {
		return nil, NotFound("invoice", id)
	}
	return &inv, nil
}

func (m *MemoryStore) UpdateInvoice(ctx context.Context, inv *Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.invoices[inv.ID]
	if !ok {
		return NotFound("invoice", inv.ID)
	}
	if cur.Version != inv.Version {
		return Conflict("invoice", inv.ID)
	}
	inv.Version++
	inv.UpdatedAt = m.now()
	m.invoices[inv.ID] = *inv
	return nil
}

func (m *MemoryStore) ListInvoices(ctx context.Context, filter InvoiceFilter) ([]*Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Invoice, 0)
	for _, inv := range m.invoices {
		if !filter.Matches(&inv) {
			continue
		}
		inv := inv
		out = append(out, &inv)
	}
	sort.Slice(out, func(i, j int) bool { return byCreation(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return out, nil
}

func (m *MemoryStore) CreatePayment(ctx context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.payments[p.ID]; ok {
		return AlreadyExists("payment", p.ID)
	}
	m.stamp(&p.CreatedAt, &p.UpdatedAt, &p.Version)
	m.payments[p.ID] = *p
	return nil
}

func (m *MemoryStore) GetPayment(ctx context.Context, id string) (*Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, NotFound("payment", id)
	}
	return &p, nil
}

func (m *MemoryStore) UpdatePayment(ctx context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.payments[p.ID]
	if !ok {
		return NotFound("payment", p.ID)
	}
	if cur.Version != p.Version {
		return Conflict("payment", p.ID)
	}
	p.Version++
	p.UpdatedAt = m.now()
	m.payments[p.ID] = *p
	return nil
}

func (m *MemoryStore) ListPayments(ctx context.Context, filter PaymentFilter) ([]*Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Payment, 0)
	for _, p := range m.payments {
		if !filter.Matches(&p) {
			continue
		}
		p := p
		out = append(out, &p)
	}
	sort.Slice(out, func(i, j int) bool { return byCreation(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return out, nil
}

func clonePlan(p Plan) Plan {
	p.AllowedCustomers = append([]string(nil), p.AllowedCustomers...)
	p.Features = append([]PlanFeature(nil), p.Features...)
	return p
}

func byCreation(a, b time.Time, aID, bID string) bool {
	if a.Equal(b) {
		return aID < bID
	}
	return a.Before(b)
}
