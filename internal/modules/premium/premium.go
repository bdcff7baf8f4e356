// Package premium sells time-limited premium memberships. Plans come from
// the module settings, payments go through a Gateway, and premium members
// are granted access to content marked premium through content.access.
package premium

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Guillaume29200/esport-cms/internal/hook"
	"github.com/Guillaume29200/esport-cms/internal/logging"
	"github.com/Guillaume29200/esport-cms/internal/middleware"
	"github.com/Guillaume29200/esport-cms/internal/module"
	"github.com/Guillaume29200/esport-cms/internal/router"
)

//go:embed module.yaml migrations/*.sql
var files embed.FS

// Descriptor returns the premium module descriptor.
func Descriptor() module.Descriptor {
	data, err := files.ReadFile("module.yaml")
	if err != nil {
		panic(err)
	}
	return module.MustParseDescriptor(data, "module.yaml")
}

// planSetting is one entry of the plans setting. Plans are on sale unless
// disabled.
type planSetting struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	Price        int64  `yaml:"price"`
	Currency     string `yaml:"currency"`
	DurationDays int    `yaml:"duration_days"`
	Disabled     bool   `yaml:"disabled"`
}

// Module is the premium module instance.
type Module struct {
	desc   module.Descriptor
	svc    *Service
	plans  []Plan
	parser WebhookParser

	webhookHeader string
	webhookSecret string
	schedule      string

	log *logging.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

var (
	_ module.RouteProvider  = (*Module)(nil)
	_ module.HookProvider   = (*Module)(nil)
	_ module.SchemaProvider = (*Module)(nil)
	_ module.Installer      = (*Module)(nil)
	_ module.Starter        = (*Module)(nil)
)

// New is the module factory.
func New(deps module.Dependencies) (module.Module, error) {
	plans, err := decodePlans(deps.Settings)
	if err != nil {
		return nil, err
	}

	var store Store = newMemoryStore()
	if deps.DB != nil {
		store = &postgresStore{db: deps.DB}
	}

	defaultGateway := deps.Settings.String("default_gateway", "manual")
	svc := NewService(store, []Gateway{ManualGateway{}}, defaultGateway, deps.Hooks,
		deps.Settings.Duration("status_cache_ttl", 5*time.Minute), deps.Logger)

	return &Module{
		desc:  Descriptor(),
		svc:   svc,
		plans: plans,
		parser: WebhookParser{
			Gateway:       deps.Settings.String("webhook_gateway", defaultGateway),
			ReferencePath: deps.Settings.String("webhook_reference_path", "reference"),
			StatusPath:    deps.Settings.String("webhook_status_path", "status"),
		},
		webhookHeader: deps.Settings.String("webhook_header", "X-Webhook-Secret"),
		webhookSecret: deps.Settings.String("webhook_secret", ""),
		schedule:      deps.Settings.String("expiry_schedule", "@every 1m"),
		log:           deps.Logger,
	}, nil
}

func decodePlans(settings module.Settings) ([]Plan, error) {
	var cfg struct {
		Plans []planSetting `yaml:"plans"`
	}
	if err := settings.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("premium: plans setting: %w", err)
	}
	plans := make([]Plan, 0, len(cfg.Plans))
	for _, p := range cfg.Plans {
		if p.ID == "" || p.DurationDays <= 0 {
			return nil, fmt.Errorf("premium: plan %q needs an id and a positive duration_days", p.ID)
		}
		if p.Name == "" {
			p.Name = p.ID
		}
		if p.Currency == "" {
			p.Currency = "EUR"
		}
		plans = append(plans, Plan{
			ID:           p.ID,
			Name:         p.Name,
			Price:        p.Price,
			Currency:     p.Currency,
			DurationDays: p.DurationDays,
			Active:       !p.Disabled,
		})
	}
	return plans, nil
}

func (m *Module) Descriptor() module.Descriptor { return m.desc }

// Service exposes the subscription service.
func (m *Module) Service() *Service { return m.svc }

func (m *Module) Migrations() fs.FS {
	sub, err := fs.Sub(files, "migrations")
	if err != nil {
		panic(fmt.Sprintf("premium migrations: %v", err))
	}
	return sub
}

// Install seeds the configured plans.
func (m *Module) Install(ctx context.Context) error {
	if err := m.svc.SeedPlans(ctx, m.plans); err != nil {
		return fmt.Errorf("seed plans: %w", err)
	}
	m.log.WithContext(ctx).WithField("plans", len(m.plans)).Info("premium plans seeded")
	return nil
}

// Uninstall has nothing to undo beyond the migrations.
func (m *Module) Uninstall(context.Context) error {
	m.svc.cache.Flush()
	return nil
}

// Start schedules the expiry sweep.
func (m *Module) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cron != nil {
		return nil
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(m.schedule, func() { m.sweep(ctx) }); err != nil {
		return fmt.Errorf("expiry schedule %q: %w", m.schedule, err)
	}
	c.Start()
	m.cron = c
	return nil
}

// Stop waits for a running sweep to finish or ctx to end.
func (m *Module) Stop(ctx context.Context) error {
	m.mu.Lock()
	c := m.cron
	m.cron = nil
	m.mu.Unlock()
	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Module) sweep(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	n, err := m.svc.ExpireDue(ctx)
	log := m.log.WithContext(ctx)
	if err != nil {
		log.WithError(err).Warn("expiry sweep failed")
	}
	if n > 0 {
		log.WithField("expired", n).Info("subscriptions expired")
	}
}

func (m *Module) Routes(r *router.Scoped) {
	h := &handlers{svc: m.svc, parser: m.parser, log: m.log}
	r.HandleFunc(http.MethodGet, "/premium/plans", h.plans)
	r.HandleFunc(http.MethodPost, "/premium/subscribe", h.subscribe, middleware.RequireAuthenticated)
	r.HandleFunc(http.MethodGet, "/premium/status", h.status, middleware.RequireAuthenticated)
	r.HandleFunc(http.MethodPost, "/premium/webhook", h.webhook,
		middleware.RequireSharedSecret(m.webhookHeader, m.webhookSecret, m.log))

	r.HandleFunc(http.MethodGet, "/admin/premium/subscriptions", h.listSubscriptions, middleware.RequireAdmin)
	r.HandleFunc(http.MethodPost, "/admin/premium/subscriptions/{id}/activate", h.activate, middleware.RequireAdmin)
	r.HandleFunc(http.MethodPost, "/admin/premium/subscriptions/{id}/cancel", h.cancel, middleware.RequireAdmin)
}

func (m *Module) Hooks(h *hook.Registrar) {
	h.Filter(hook.UserProfile, m.decorateProfile)
	h.Filter(hook.AuthLoginResponse, m.decorateLogin)
	h.Filter(hook.ContentAccess, m.grantAccess)
	h.Filter(hook.AdminMenu, func(_ context.Context, v interface{}) (interface{}, error) {
		menu, _ := v.(hook.Menu)
		return append(menu, hook.MenuItem{
			ID:     "premium",
			Label:  "Premium",
			Path:   "/admin/premium/subscriptions",
			Icon:   "star",
			Weight: 30,
			Module: "premium",
		}), nil
	})
	h.On(hook.UserLogin, m.warmStatus)
}

func (m *Module) decorateProfile(ctx context.Context, v interface{}) (interface{}, error) {
	profile, ok := v.(map[string]interface{})
	if !ok {
		return v, nil
	}
	userID, _ := profile["id"].(string)
	if userID == "" {
		return v, nil
	}
	st, err := m.svc.Status(ctx, userID)
	if err != nil {
		return nil, err
	}
	profile["premium"] = st.Premium
	if st.ExpiresAt != nil {
		profile["premium_expires_at"] = st.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return profile, nil
}

func (m *Module) decorateLogin(ctx context.Context, v interface{}) (interface{}, error) {
	body, ok := v.(map[string]interface{})
	if !ok {
		return v, nil
	}
	user, _ := body["user"].(map[string]interface{})
	userID, _ := user["id"].(string)
	if userID == "" {
		return v, nil
	}
	body["premium"] = m.svc.IsPremium(ctx, userID)
	return body, nil
}

// grantAccess opens premium content to premium members. It never revokes
// access another filter granted.
func (m *Module) grantAccess(ctx context.Context, v interface{}) (interface{}, error) {
	req, ok := v.(hook.AccessRequest)
	if !ok || req.Allowed || !req.Premium {
		return v, nil
	}
	if m.svc.IsPremium(ctx, req.UserID) {
		req.Allowed = true
	}
	return req, nil
}

func (m *Module) warmStatus(ctx context.Context, payload interface{}) error {
	ev, ok := payload.(*hook.UserEvent)
	if !ok || ev.UserID == "" {
		return nil
	}
	m.svc.cache.Delete(ev.UserID)
	_, err := m.svc.Status(ctx, ev.UserID)
	return err
}
