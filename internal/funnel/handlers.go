package funnel

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/funnel-api/internal/common"
	"github.com/noah-isme/funnel-api/internal/payment"
)

// Completer confirms the initial checkout payment.
type Completer interface {
	CompleteCheckout(ctx context.Context, paymentIntentID string) (payment.Completion, error)
}

// Handler serves the funnel step routes and the checkout completion endpoint.
type Handler struct {
	Seq      *Sequencer
	Complete Completer
	Logger   zerolog.Logger
	// ChargeMiddleware wraps the accept routes, e.g. idempotency and rate limits.
	ChargeMiddleware []func(http.Handler) http.Handler
}

type completeRequest struct {
	PaymentIntentID string `json:"paymentIntentId" validate:"required,max=255"`
}

type completeResponse struct {
	NextURL         string   `json:"nextUrl"`
	CustomerID      string   `json:"customerId"`
	PaymentMethodID string   `json:"paymentMethodId"`
	Purchases       []string `json:"purchases"`
	FunnelSession   string   `json:"funnelSession,omitempty"`
}

type acceptResponse struct {
	Success         bool     `json:"success"`
	PaymentIntentID string   `json:"paymentIntentId,omitempty"`
	NextURL         string   `json:"nextUrl"`
	Purchases       []string `json:"purchases"`
}

type acceptFailure struct {
	Success        bool   `json:"success"`
	Error          string `json:"error"`
	RequiresAction bool   `json:"requiresAction"`
	SkipURL        string `json:"skipUrl"`
}

// Routes mounts the step routes. They are expected under the funnel base path.
func (h Handler) Routes(r chi.Router) {
	r.Get("/{slug}/checkout", h.Checkout)
	r.Get("/{slug}/upsell/{n}", h.Offer(StepUpsell))
	r.With(h.ChargeMiddleware...).Post("/{slug}/upsell/{n}/accept", h.Accept(StepUpsell))
	r.Post("/{slug}/upsell/{n}/decline", h.Decline(StepUpsell))
	r.Get("/{slug}/downsell", h.Offer(StepDownsell))
	r.With(h.ChargeMiddleware...).Post("/{slug}/downsell/accept", h.Accept(StepDownsell))
	r.Post("/{slug}/downsell/decline", h.Decline(StepDownsell))
	r.Get("/{slug}/thank-you", h.ThankYou)
}

// Checkout handles GET {base}/{slug}/checkout.
func (h Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	out, err := h.Seq.Enter(r.Context(), chi.URLParam(r, "slug"), StepRef{Kind: StepCheckout}, StateFromQuery(r.URL.Query()))
	h.writeOutcome(w, r, out, err)
}

// Offer handles GET for upsell and downsell pages.
func (h Handler) Offer(kind StepKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref, err := stepRef(r, kind)
		if err != nil {
			common.WriteError(w, err)
			return
		}
		out, err := h.Seq.Enter(r.Context(), chi.URLParam(r, "slug"), ref, StateFromQuery(r.URL.Query()))
		h.writeOutcome(w, r, out, err)
	}
}

// Accept handles the one-click accept action.
func (h Handler) Accept(kind StepKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref, err := stepRef(r, kind)
		if err != nil {
			common.WriteError(w, err)
			return
		}
		res, err := h.Seq.Accept(r.Context(), chi.URLParam(r, "slug"), ref, StateFromQuery(r.URL.Query()), common.IdempotencyKey(r, ""))
		if err != nil {
			h.logUnexpected(err, "offer accept failed")
			payment.WriteChargeError(w, err)
			return
		}
		if res.Redirect != "" {
			http.Redirect(w, r, res.Redirect, http.StatusFound)
			return
		}
		if !res.Charge.Success {
			common.JSON(w, http.StatusBadRequest, acceptFailure{
				Error:          res.Charge.Error,
				RequiresAction: res.Charge.RequiresAction,
				SkipURL:        res.SkipURL,
			})
			return
		}
		common.JSON(w, http.StatusOK, acceptResponse{
			Success:         true,
			PaymentIntentID: res.Charge.PaymentIntentID,
			NextURL:         res.NextURL,
			Purchases:       res.Purchases,
		})
	}
}

// Decline handles the skip action and redirects to the next step.
func (h Handler) Decline(kind StepKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref, err := stepRef(r, kind)
		if err != nil {
			common.WriteError(w, err)
			return
		}
		next, err := h.Seq.Decline(r.Context(), chi.URLParam(r, "slug"), ref, StateFromQuery(r.URL.Query()))
		if err != nil {
			h.logUnexpected(err, "offer decline failed")
			common.WriteError(w, err)
			return
		}
		http.Redirect(w, r, next, http.StatusFound)
	}
}

// ThankYou handles GET {base}/{slug}/thank-you.
func (h Handler) ThankYou(w http.ResponseWriter, r *http.Request) {
	view, err := h.Seq.ThankYou(r.Context(), chi.URLParam(r, "slug"), StateFromQuery(r.URL.Query()))
	if err != nil {
		h.logUnexpected(err, "thank-you failed")
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, view)
}

// CompleteCheckout handles POST /api/checkout-complete.
func (h Handler) CompleteCheckout(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	req.PaymentIntentID = strings.TrimSpace(req.PaymentIntentID)
	if err := common.ValidateStruct(req); err != nil {
		common.WriteError(w, err)
		return
	}
	c, err := h.Complete.CompleteCheckout(r.Context(), req.PaymentIntentID)
	if err != nil {
		h.logUnexpected(err, "checkout completion failed")
		common.WriteError(w, err)
		return
	}
	next, purchases, err := h.Seq.AfterCheckout(r.Context(), c)
	if err != nil {
		h.logUnexpected(err, "checkout completion failed")
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, completeResponse{
		NextURL:         next,
		CustomerID:      c.CustomerID,
		PaymentMethodID: c.PaymentMethodID,
		Purchases:       purchases,
		FunnelSession:   c.FunnelSession,
	})
}

func (h Handler) writeOutcome(w http.ResponseWriter, r *http.Request, out Outcome, err error) {
	if err != nil {
		h.logUnexpected(err, "funnel step failed")
		common.WriteError(w, err)
		return
	}
	if out.Redirect != "" {
		http.Redirect(w, r, out.Redirect, http.StatusFound)
		return
	}
	common.Data(w, http.StatusOK, out.View)
}

func (h Handler) logUnexpected(err error, msg string) {
	if common.IsAppError(err) {
		return
	}
	h.Logger.Error().Err(err).Msg(msg)
}

func stepRef(r *http.Request, kind StepKind) (StepRef, error) {
	if kind != StepUpsell {
		return StepRef{Kind: kind}, nil
	}
	n, err := strconv.Atoi(chi.URLParam(r, "n"))
	if err != nil || n < 1 {
		return StepRef{}, common.InvalidField("n", "min", "upsell number must be a positive integer")
	}
	return StepRef{Kind: StepUpsell, Index: n}, nil
}
