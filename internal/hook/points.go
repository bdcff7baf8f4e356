package hook

import (
	"net/http"
	"sort"
)

// Extension points fired by the kernel and the built-in modules.
const (
	AppBoot     = "app.boot"
	AppShutdown = "app.shutdown"

	RequestBefore = "request.before"
	RequestAfter  = "request.after"

	UserRegister = "user.register"
	UserLogin    = "user.login"
	UserLogout   = "user.logout"

	ModuleInstalled   = "module.installed"
	ModuleUninstalled = "module.uninstalled"
	ModuleEnabled     = "module.enabled"
	ModuleDisabled    = "module.disabled"

	PremiumActivated = "premium.activated"
	PremiumExpired   = "premium.expired"
)

// Filters.
const (
	UserProfile       = "user.profile"
	AuthLoginResponse = "auth.login.response"
	AdminMenu         = "admin.menu"
	ContentAccess     = "content.access"
	NewsArticle       = "news.article"
)

// RequestEvent is the payload of request.before and request.after. A
// request.before action may replace Request, or write to Writer and set
// Handled to short-circuit routing. Status is filled before request.after.
type RequestEvent struct {
	Writer  http.ResponseWriter
	Request *http.Request
	Handled bool
	Status  int
}

// UserEvent is the payload of user.register, user.login and user.logout.
type UserEvent struct {
	UserID    string
	Username  string
	Role      string
	SessionID string
}

// ModuleEvent is the payload of the module.* lifecycle actions.
type ModuleEvent struct {
	ID      string
	Version string
}

// PremiumEvent is the payload of premium.activated and premium.expired.
type PremiumEvent struct {
	UserID         string
	SubscriptionID string
	PlanID         string
}

// MenuItem is one entry of the admin menu.
type MenuItem struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Path   string `json:"path"`
	Icon   string `json:"icon,omitempty"`
	Weight int    `json:"weight"`
	Module string `json:"module"`
}

// Menu is the value threaded through the admin.menu filter.
type Menu []MenuItem

// Sorted returns the menu ordered by weight then label.
func (m Menu) Sorted() Menu {
	out := make(Menu, len(m))
	copy(out, m)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight < out[j].Weight
		}
		return out[i].Label < out[j].Label
	})
	return out
}

// AccessRequest is the value threaded through content.access. Filters flip
// Allowed; Premium marks content reserved to premium members.
type AccessRequest struct {
	Resource string
	UserID   string
	Role     string
	Premium  bool
	Allowed  bool
}
