package premium

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// CheckoutRequest is what a gateway needs to collect a payment.
type CheckoutRequest struct {
	Subscription Subscription
	Plan         Plan
}

// Checkout tells the client how to pay. Reference is the gateway's own
// identifier, matched again when its webhook arrives.
type Checkout struct {
	Gateway      string `json:"gateway"`
	Reference    string `json:"reference"`
	RedirectURL  string `json:"redirect_url,omitempty"`
	Instructions string `json:"instructions,omitempty"`
}

// Gateway starts payments. Completion arrives later through the webhook or
// an admin activation.
type Gateway interface {
	Name() string
	Checkout(ctx context.Context, req CheckoutRequest) (Checkout, error)
}

// ManualGateway leaves subscriptions pending until an admin activates them.
type ManualGateway struct{}

func (ManualGateway) Name() string { return "manual" }

func (ManualGateway) Checkout(_ context.Context, req CheckoutRequest) (Checkout, error) {
	return Checkout{
		Gateway:   "manual",
		Reference: "manual-" + req.Subscription.ID,
		Instructions: fmt.Sprintf("Pay %s %s quoting reference manual-%s; an administrator will activate the subscription.",
			formatAmount(req.Plan.Price), req.Plan.Currency, req.Subscription.ID),
	}, nil
}

func formatAmount(minor int64) string {
	return fmt.Sprintf("%d.%02d", minor/100, minor%100)
}

// WebhookOutcome is what a notification asks for.
type WebhookOutcome int

const (
	WebhookIgnore WebhookOutcome = iota
	WebhookActivate
	WebhookCancel
)

var errWebhookPayload = errors.New("invalid webhook payload")

// WebhookParser extracts the payment reference and status from a gateway
// notification using gjson paths, so any JSON shape can be mapped from
// settings.
type WebhookParser struct {
	Gateway       string
	ReferencePath string
	StatusPath    string
}

// WebhookNotice is a parsed notification.
type WebhookNotice struct {
	Gateway   string
	Reference string
	Status    string
	Outcome   WebhookOutcome
}

func (p WebhookParser) Parse(body []byte) (WebhookNotice, error) {
	if !gjson.ValidBytes(body) {
		return WebhookNotice{}, fmt.Errorf("%w: malformed JSON", errWebhookPayload)
	}
	ref := gjson.GetBytes(body, p.ReferencePath)
	if !ref.Exists() || ref.String() == "" {
		return WebhookNotice{}, fmt.Errorf("%w: no reference at %q", errWebhookPayload, p.ReferencePath)
	}
	status := strings.ToLower(gjson.GetBytes(body, p.StatusPath).String())

	notice := WebhookNotice{Gateway: p.Gateway, Reference: ref.String(), Status: status}
	switch status {
	case "paid", "succeeded", "success", "completed", "active", "approved":
		notice.Outcome = WebhookActivate
	case "cancelled", "canceled", "failed", "refunded", "chargeback", "voided":
		notice.Outcome = WebhookCancel
	default:
		notice.Outcome = WebhookIgnore
	}
	return notice, nil
}
