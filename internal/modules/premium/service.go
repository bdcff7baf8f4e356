package premium

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	gocache "github.com/patrickmn/go-cache"

	"github.com/Guillaume29200/esport-cms/internal/hook"
	"github.com/Guillaume29200/esport-cms/internal/logging"
)

var (
	ErrAlreadyPremium    = errors.New("user already has an active subscription")
	ErrPlanInactive      = errors.New("plan is not available")
	ErrUnknownGateway    = errors.New("unknown payment gateway")
	ErrInvalidTransition = errors.New("invalid subscription transition")
)

// Status is a user's premium standing.
type Status struct {
	Premium      bool          `json:"premium"`
	PlanID       string        `json:"plan_id,omitempty"`
	ExpiresAt    *time.Time    `json:"expires_at,omitempty"`
	Subscription *Subscription `json:"subscription,omitempty"`
}

// Service implements plans and subscriptions.
type Service struct {
	store          Store
	gateways       map[string]Gateway
	defaultGateway string
	hooks          hook.Dispatcher
	cache          *gocache.Cache
	cacheTTL       time.Duration
	log            *logging.Logger
	now            func() time.Time
}

// NewService returns a service whose status cache keeps entries for
// cacheTTL. The first gateway is the default unless defaultGateway names
// another.
func NewService(store Store, gateways []Gateway, defaultGateway string, hooks hook.Dispatcher, cacheTTL time.Duration, log *logging.Logger) *Service {
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	s := &Service{
		store:    store,
		gateways: make(map[string]Gateway, len(gateways)),
		hooks:    hooks,
		cache:    gocache.New(cacheTTL, 2*cacheTTL),
		cacheTTL: cacheTTL,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, g := range gateways {
		s.gateways[g.Name()] = g
		if s.defaultGateway == "" {
			s.defaultGateway = g.Name()
		}
	}
	if _, ok := s.gateways[defaultGateway]; ok {
		s.defaultGateway = defaultGateway
	}
	return s
}

// SeedPlans stores plans, replacing existing ones with the same ID.
func (s *Service) SeedPlans(ctx context.Context, plans []Plan) error {
	var errs *multierror.Error
	for _, p := range plans {
		if err := s.store.UpsertPlan(ctx, p); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// Plans lists the plans on sale.
func (s *Service) Plans(ctx context.Context) ([]Plan, error) {
	all, err := s.store.ListPlans(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Plan, 0, len(all))
	for _, p := range all {
		if p.Active {
			out = append(out, p)
		}
	}
	return out, nil
}

// Subscribe opens a pending subscription and starts the gateway checkout.
func (s *Service) Subscribe(ctx context.Context, userID, planID, gateway string) (Subscription, Checkout, error) {
	plan, err := s.store.GetPlan(ctx, planID)
	if err != nil {
		return Subscription{}, Checkout{}, err
	}
	if !plan.Active {
		return Subscription{}, Checkout{}, fmt.Errorf("%w: %s", ErrPlanInactive, planID)
	}
	if gateway == "" {
		gateway = s.defaultGateway
	}
	gw, ok := s.gateways[gateway]
	if !ok {
		return Subscription{}, Checkout{}, fmt.Errorf("%w: %s", ErrUnknownGateway, gateway)
	}

	st, err := s.Status(ctx, userID)
	if err != nil {
		return Subscription{}, Checkout{}, err
	}
	if st.Premium {
		return Subscription{}, Checkout{}, ErrAlreadyPremium
	}

	now := s.now()
	sub := Subscription{
		ID:        uuid.NewString(),
		UserID:    userID,
		PlanID:    plan.ID,
		Status:    StatusPending,
		Gateway:   gw.Name(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateSubscription(ctx, sub); err != nil {
		return Subscription{}, Checkout{}, err
	}

	checkout, err := gw.Checkout(ctx, CheckoutRequest{Subscription: sub, Plan: plan})
	if err != nil {
		sub.Status = StatusCancelled
		sub.UpdatedAt = s.now()
		if uerr := s.store.UpdateSubscription(ctx, sub); uerr != nil {
			s.log.WithContext(ctx).WithError(uerr).Warn("could not cancel subscription after failed checkout")
		}
		return Subscription{}, Checkout{}, fmt.Errorf("checkout with %s: %w", gw.Name(), err)
	}
	sub.Reference = checkout.Reference
	sub.UpdatedAt = s.now()
	if err := s.store.UpdateSubscription(ctx, sub); err != nil {
		return Subscription{}, Checkout{}, err
	}
	s.cache.Delete(userID)

	s.log.WithContext(ctx).WithField("subscription_id", sub.ID).WithField("plan_id", plan.ID).Info("subscription opened")
	return sub, checkout, nil
}

// Status returns the user's standing, cached until the cache TTL or the
// subscription's expiry, whichever comes first.
func (s *Service) Status(ctx context.Context, userID string) (Status, error) {
	if v, ok := s.cache.Get(userID); ok {
		if st, ok := v.(Status); ok {
			return st, nil
		}
	}

	subs, err := s.store.UserSubscriptions(ctx, userID)
	if err != nil {
		return Status{}, err
	}
	now := s.now()
	var st Status
	for i := range subs {
		if subs[i].ActiveAt(now) {
			sub := subs[i]
			st = Status{Premium: true, PlanID: sub.PlanID, ExpiresAt: sub.ExpiresAt, Subscription: &sub}
			break
		}
	}
	if !st.Premium && len(subs) > 0 {
		latest := subs[0]
		st.Subscription = &latest
	}

	ttl := gocache.DefaultExpiration
	if st.ExpiresAt != nil {
		if until := st.ExpiresAt.Sub(now); until < s.cacheTTL {
			ttl = until
		}
	}
	s.cache.Set(userID, st, ttl)
	return st, nil
}

// IsPremium reports whether the user holds an active subscription.
func (s *Service) IsPremium(ctx context.Context, userID string) bool {
	if userID == "" {
		return false
	}
	st, err := s.Status(ctx, userID)
	if err != nil {
		s.log.WithContext(ctx).WithError(err).Warn("premium status lookup failed")
		return false
	}
	return st.Premium
}

// Subscriptions lists subscriptions, filtered by status unless empty.
func (s *Service) Subscriptions(ctx context.Context, status string) ([]Subscription, error) {
	return s.store.ListSubscriptions(ctx, status)
}

// Activate starts the subscription's period. Activating an active
// subscription is a no-op so gateways may retry notifications.
func (s *Service) Activate(ctx context.Context, id string) (Subscription, error) {
	sub, err := s.store.GetSubscription(ctx, id)
	if err != nil {
		return Subscription{}, err
	}
	if sub.Status == StatusActive {
		return sub, nil
	}
	if !canTransition(sub.Status, StatusActive) {
		return Subscription{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, sub.Status, StatusActive)
	}
	plan, err := s.store.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return Subscription{}, err
	}

	now := s.now()
	expires := now.Add(plan.Duration())
	sub.Status = StatusActive
	sub.StartsAt = &now
	sub.ExpiresAt = &expires
	sub.UpdatedAt = now
	if err := s.store.UpdateSubscription(ctx, sub); err != nil {
		return Subscription{}, err
	}
	s.cache.Delete(sub.UserID)

	s.log.WithContext(ctx).WithField("subscription_id", sub.ID).WithField("user_id", sub.UserID).Info("subscription activated")
	s.fire(ctx, hook.PremiumActivated, sub)
	return sub, nil
}

// Cancel ends a pending or active subscription. Cancelling twice is a no-op.
func (s *Service) Cancel(ctx context.Context, id string) (Subscription, error) {
	sub, err := s.store.GetSubscription(ctx, id)
	if err != nil {
		return Subscription{}, err
	}
	if sub.Status == StatusCancelled {
		return sub, nil
	}
	if !canTransition(sub.Status, StatusCancelled) {
		return Subscription{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, sub.Status, StatusCancelled)
	}
	sub.Status = StatusCancelled
	sub.UpdatedAt = s.now()
	if err := s.store.UpdateSubscription(ctx, sub); err != nil {
		return Subscription{}, err
	}
	s.cache.Delete(sub.UserID)

	s.log.WithContext(ctx).WithField("subscription_id", sub.ID).Info("subscription cancelled")
	return sub, nil
}

// ExpireDue moves every active subscription past its expiry to expired and
// fires premium.expired for each.
func (s *Service) ExpireDue(ctx context.Context) (int, error) {
	due, err := s.store.DueForExpiry(ctx, s.now())
	if err != nil {
		return 0, err
	}
	var (
		expired int
		errs    *multierror.Error
	)
	for _, sub := range due {
		sub.Status = StatusExpired
		sub.UpdatedAt = s.now()
		if err := s.store.UpdateSubscription(ctx, sub); err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		s.cache.Delete(sub.UserID)
		expired++
		s.fire(ctx, hook.PremiumExpired, sub)
	}
	return expired, errs.ErrorOrNil()
}

// HandleWebhook applies a gateway notification.
func (s *Service) HandleWebhook(ctx context.Context, parser WebhookParser, body []byte) (WebhookNotice, error) {
	notice, err := parser.Parse(body)
	if err != nil {
		return WebhookNotice{}, err
	}
	sub, err := s.store.FindByReference(ctx, notice.Gateway, notice.Reference)
	if err != nil {
		return notice, err
	}
	switch notice.Outcome {
	case WebhookActivate:
		_, err = s.Activate(ctx, sub.ID)
	case WebhookCancel:
		_, err = s.Cancel(ctx, sub.ID)
	}
	return notice, err
}

func (s *Service) fire(ctx context.Context, name string, sub Subscription) {
	ev := &hook.PremiumEvent{UserID: sub.UserID, SubscriptionID: sub.ID, PlanID: sub.PlanID}
	if err := s.hooks.Do(ctx, name, ev); err != nil {
		s.log.WithContext(ctx).WithField("hook", name).WithError(err).Warn("hook failed")
	}
}
