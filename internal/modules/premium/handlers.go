package premium

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	apperrors "github.com/Guillaume29200/esport-cms/internal/errors"
	"github.com/Guillaume29200/esport-cms/internal/httputil"
	"github.com/Guillaume29200/esport-cms/internal/identity"
	"github.com/Guillaume29200/esport-cms/internal/logging"
)

type handlers struct {
	svc    *Service
	parser WebhookParser
	log    *logging.Logger
}

func (h *handlers) plans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.svc.Plans(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"plans": plans})
}

type subscribeRequest struct {
	PlanID  string `json:"plan_id"`
	Gateway string `json:"gateway,omitempty"`
}

func (h *handlers) subscribe(w http.ResponseWriter, r *http.Request) {
	caller, _ := identity.From(r.Context())
	var in subscribeRequest
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if in.PlanID == "" {
		httputil.WriteError(w, r, apperrors.Validation("plan_id", "is required"))
		return
	}
	sub, checkout, err := h.svc.Subscribe(r.Context(), caller.UserID, in.PlanID, in.Gateway)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"subscription": sub,
		"checkout":     checkout,
	})
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	caller, _ := identity.From(r.Context())
	st, err := h.svc.Status(r.Context(), caller.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, st)
}

func (h *handlers) webhook(w http.ResponseWriter, r *http.Request) {
	body, err := httputil.ReadAllStrict(r.Body, httputil.MaxBodyBytes)
	if err != nil {
		httputil.WriteError(w, r, apperrors.BadRequest("request body too large"))
		return
	}
	notice, err := h.svc.HandleWebhook(r.Context(), h.parser, body)
	log := h.log.WithContext(r.Context()).
		WithField("gateway", notice.Gateway).
		WithField("reference", notice.Reference).
		WithField("status", notice.Status)
	if err != nil {
		log.WithError(err).Warn("webhook rejected")
		writeError(w, r, err)
		return
	}
	log.Info("webhook applied")
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"reference": notice.Reference,
		"applied":   notice.Outcome != WebhookIgnore,
	})
}

func (h *handlers) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	switch status {
	case "", StatusPending, StatusActive, StatusExpired, StatusCancelled:
	default:
		httputil.WriteError(w, r, apperrors.Validation("status", "unknown subscription status"))
		return
	}
	subs, err := h.svc.Subscriptions(r.Context(), status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if subs == nil {
		subs = []Subscription{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"subscriptions": subs})
}

func (h *handlers) activate(w http.ResponseWriter, r *http.Request) {
	sub, err := h.svc.Activate(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"subscription": sub})
}

func (h *handlers) cancel(w http.ResponseWriter, r *http.Request) {
	sub, err := h.svc.Cancel(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"subscription": sub})
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrPlanNotFound):
		err = apperrors.NotFound("plan", "")
	case errors.Is(err, ErrSubscriptionNotFound):
		err = apperrors.NotFound("subscription", "")
	case errors.Is(err, ErrUnknownGateway), errors.Is(err, errWebhookPayload):
		err = apperrors.BadRequest(err.Error())
	case errors.Is(err, ErrAlreadyPremium), errors.Is(err, ErrPlanInactive), errors.Is(err, ErrInvalidTransition):
		err = apperrors.Conflict(err.Error(), err)
	}
	httputil.WriteError(w, r, err)
}
