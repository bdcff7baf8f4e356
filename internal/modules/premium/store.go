package premium

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
)

var (
	ErrPlanNotFound         = errors.New("plan not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
)

// Subscription states.
const (
	StatusPending   = "pending"
	StatusActive    = "active"
	StatusExpired   = "expired"
	StatusCancelled = "cancelled"
)

// transitions lists the states each state may move to.
var transitions = map[string][]string{
	StatusPending: {StatusActive, StatusCancelled},
	StatusActive:  {StatusExpired, StatusCancelled},
}

func canTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Plan is a purchasable premium offer.
type Plan struct {
	ID           string `db:"id" json:"id" yaml:"id"`
	Name         string `db:"name" json:"name" yaml:"name"`
	Price        int64  `db:"price" json:"price" yaml:"price"`
	Currency     string `db:"currency" json:"currency" yaml:"currency"`
	DurationDays int    `db:"duration_days" json:"duration_days" yaml:"duration_days"`
	Active       bool   `db:"active" json:"active" yaml:"active"`
}

func (p Plan) Duration() time.Duration {
	return time.Duration(p.DurationDays) * 24 * time.Hour
}

// Subscription ties a user to a plan.
type Subscription struct {
	ID        string     `db:"id" json:"id"`
	UserID    string     `db:"user_id" json:"user_id"`
	PlanID    string     `db:"plan_id" json:"plan_id"`
	Status    string     `db:"status" json:"status"`
	Gateway   string     `db:"gateway" json:"gateway"`
	Reference string     `db:"reference" json:"reference,omitempty"`
	StartsAt  *time.Time `db:"starts_at" json:"starts_at,omitempty"`
	ExpiresAt *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

// ActiveAt reports whether s grants premium access at t.
func (s Subscription) ActiveAt(t time.Time) bool {
	return s.Status == StatusActive && s.ExpiresAt != nil && s.ExpiresAt.After(t)
}

// Store persists plans and subscriptions.
type Store interface {
	UpsertPlan(ctx context.Context, p Plan) error
	ListPlans(ctx context.Context) ([]Plan, error)
	GetPlan(ctx context.Context, id string) (Plan, error)

	CreateSubscription(ctx context.Context, s Subscription) error
	UpdateSubscription(ctx context.Context, s Subscription) error
	GetSubscription(ctx context.Context, id string) (Subscription, error)
	FindByReference(ctx context.Context, gateway, reference string) (Subscription, error)
	// ListSubscriptions filters by status unless it is empty. Newest first.
	ListSubscriptions(ctx context.Context, status string) ([]Subscription, error)
	// UserSubscriptions returns the user's subscriptions, newest first.
	UserSubscriptions(ctx context.Context, userID string) ([]Subscription, error)
	// DueForExpiry returns active subscriptions whose expiry is not after now.
	DueForExpiry(ctx context.Context, now time.Time) ([]Subscription, error)
}

type memoryStore struct {
	mu    sync.RWMutex
	plans map[string]Plan
	subs  map[string]Subscription
}

func newMemoryStore() *memoryStore {
	return &memoryStore{plans: make(map[string]Plan), subs: make(map[string]Subscription)}
}

func (m *memoryStore) UpsertPlan(_ context.Context, p Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[p.ID] = p
	return nil
}

func (m *memoryStore) ListPlans(context.Context) ([]Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Plan, 0, len(m.plans))
	for _, p := range m.plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Price != out[j].Price {
			return out[i].Price < out[j].Price
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *memoryStore) GetPlan(_ context.Context, id string) (Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plans[id]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %s", ErrPlanNotFound, id)
	}
	return p, nil
}

func (m *memoryStore) CreateSubscription(_ context.Context, s Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.subs[s.ID]; exists {
		return fmt.Errorf("subscription %s already exists", s.ID)
	}
	m.subs[s.ID] = s
	return nil
}

func (m *memoryStore) UpdateSubscription(_ context.Context, s Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[s.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrSubscriptionNotFound, s.ID)
	}
	m.subs[s.ID] = s
	return nil
}

func (m *memoryStore) GetSubscription(_ context.Context, id string) (Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.subs[id]
	if !ok {
		return Subscription{}, fmt.Errorf("%w: %s", ErrSubscriptionNotFound, id)
	}
	return s, nil
}

func (m *memoryStore) FindByReference(_ context.Context, gateway, reference string) (Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.subs {
		if s.Gateway == gateway && s.Reference == reference {
			return s, nil
		}
	}
	return Subscription{}, fmt.Errorf("%w: %s/%s", ErrSubscriptionNotFound, gateway, reference)
}

func (m *memoryStore) ListSubscriptions(_ context.Context, status string) ([]Subscription, error) {
	return m.collect(func(s Subscription) bool { return status == "" || s.Status == status }), nil
}

func (m *memoryStore) UserSubscriptions(_ context.Context, userID string) ([]Subscription, error) {
	return m.collect(func(s Subscription) bool { return s.UserID == userID }), nil
}

func (m *memoryStore) DueForExpiry(_ context.Context, now time.Time) ([]Subscription, error) {
	return m.collect(func(s Subscription) bool {
		return s.Status == StatusActive && s.ExpiresAt != nil && !s.ExpiresAt.After(now)
	}), nil
}

func (m *memoryStore) collect(keep func(Subscription) bool) []Subscription {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Subscription
	for _, s := range m.subs {
		if keep(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

type postgresStore struct {
	db *sqlx.DB
}

const (
	planColumns         = `id, name, price, currency, duration_days, active`
	subscriptionColumns = `id, user_id, plan_id, status, gateway, reference, starts_at, expires_at, created_at, updated_at`
)

func (p *postgresStore) UpsertPlan(ctx context.Context, plan Plan) error {
	_, err := p.db.NamedExecContext(ctx, `
		INSERT INTO premium_plans (`+planColumns+`)
		VALUES (:id, :name, :price, :currency, :duration_days, :active)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			price = EXCLUDED.price,
			currency = EXCLUDED.currency,
			duration_days = EXCLUDED.duration_days,
			active = EXCLUDED.active`, plan)
	if err != nil {
		return fmt.Errorf("upsert plan %s: %w", plan.ID, err)
	}
	return nil
}

func (p *postgresStore) ListPlans(ctx context.Context) ([]Plan, error) {
	var out []Plan
	if err := p.db.SelectContext(ctx, &out, `SELECT `+planColumns+` FROM premium_plans ORDER BY price, id`); err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	return out, nil
}

func (p *postgresStore) GetPlan(ctx context.Context, id string) (Plan, error) {
	var plan Plan
	err := p.db.GetContext(ctx, &plan, `SELECT `+planColumns+` FROM premium_plans WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Plan{}, fmt.Errorf("%w: %s", ErrPlanNotFound, id)
	}
	if err != nil {
		return Plan{}, fmt.Errorf("get plan: %w", err)
	}
	return plan, nil
}

func (p *postgresStore) CreateSubscription(ctx context.Context, s Subscription) error {
	_, err := p.db.NamedExecContext(ctx, `
		INSERT INTO premium_subscriptions (`+subscriptionColumns+`)
		VALUES (:id, :user_id, :plan_id, :status, :gateway, :reference, :starts_at, :expires_at, :created_at, :updated_at)`, s)
	if err != nil {
		return fmt.Errorf("create subscription: %w", err)
	}
	return nil
}

func (p *postgresStore) UpdateSubscription(ctx context.Context, s Subscription) error {
	res, err := p.db.NamedExecContext(ctx, `
		UPDATE premium_subscriptions SET
			status = :status,
			reference = :reference,
			starts_at = :starts_at,
			expires_at = :expires_at,
			updated_at = :updated_at
		WHERE id = :id`, s)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrSubscriptionNotFound, s.ID)
	}
	return nil
}

func (p *postgresStore) GetSubscription(ctx context.Context, id string) (Subscription, error) {
	return p.one(ctx, `SELECT `+subscriptionColumns+` FROM premium_subscriptions WHERE id = $1`, id)
}

func (p *postgresStore) FindByReference(ctx context.Context, gateway, reference string) (Subscription, error) {
	return p.one(ctx, `SELECT `+subscriptionColumns+` FROM premium_subscriptions
		WHERE gateway = $1 AND reference = $2 ORDER BY created_at DESC LIMIT 1`, gateway, reference)
}

func (p *postgresStore) one(ctx context.Context, query string, args ...interface{}) (Subscription, error) {
	var s Subscription
	err := p.db.GetContext(ctx, &s, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return Subscription{}, ErrSubscriptionNotFound
	}
	if err != nil {
		return Subscription{}, fmt.Errorf("get subscription: %w", err)
	}
	return s, nil
}

func (p *postgresStore) ListSubscriptions(ctx context.Context, status string) ([]Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM premium_subscriptions`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	return p.many(ctx, query+` ORDER BY created_at DESC, id DESC`, args...)
}

func (p *postgresStore) UserSubscriptions(ctx context.Context, userID string) ([]Subscription, error) {
	return p.many(ctx, `SELECT `+subscriptionColumns+` FROM premium_subscriptions
		WHERE user_id = $1 ORDER BY created_at DESC, id DESC`, userID)
}

func (p *postgresStore) DueForExpiry(ctx context.Context, now time.Time) ([]Subscription, error) {
	return p.many(ctx, `SELECT `+subscriptionColumns+` FROM premium_subscriptions
		WHERE status = 'active' AND expires_at <= $1`, now)
}

func (p *postgresStore) many(ctx context.Context, query string, args ...interface{}) ([]Subscription, error) {
	var out []Subscription
	if err := p.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return out, nil
}
