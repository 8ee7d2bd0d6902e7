package payment

import (
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/funnel-api/internal/catalog"
	"github.com/noah-isme/funnel-api/internal/common"
)

// Handler exposes the checkout payment endpoints.
type Handler struct {
	Svc    *Service
	Logger zerolog.Logger
}

type createIntentRequest struct {
	ProductSlug      string `json:"productSlug" validate:"required,max=120"`
	PlanID           string `json:"planId" validate:"omitempty,max=64"`
	Email            string `json:"email" validate:"required,email"`
	FirstName        string `json:"firstName" validate:"omitempty,max=100"`
	LastName         string `json:"lastName" validate:"omitempty,max=100"`
	Country          string `json:"country" validate:"required,iso3166_1_alpha2"`
	VATNumber        string `json:"vatNumber" validate:"omitempty,max=20"`
	CouponCode       string `json:"couponCode" validate:"omitempty,max=64"`
	IncludeOrderBump bool   `json:"includeOrderBump"`
}

type validateCouponRequest struct {
	Code        string `json:"code" validate:"required,max=64"`
	ProductSlug string `json:"productSlug" validate:"required,max=120"`
}

type chargeRequest struct {
	CustomerID      string `json:"customerId" validate:"required"`
	PaymentMethodID string `json:"paymentMethodId" validate:"required"`
	ProductSlug     string `json:"productSlug" validate:"required,max=120"`
	UpsellID        string `json:"upsellId" validate:"required,max=120"`
	FunnelSession   string `json:"funnelSession"`
	IdempotencyKey  string `json:"idempotencyKey" validate:"omitempty,max=255"`
}

// CreatePaymentIntent handles POST /api/create-payment-intent.
func (h Handler) CreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	var req createIntentRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	req.Country = strings.ToUpper(strings.TrimSpace(req.Country))
	req.Email = strings.TrimSpace(req.Email)
	if err := common.ValidateStruct(req); err != nil {
		common.WriteError(w, err)
		return
	}
	out, err := h.Svc.CreateInitialIntent(r.Context(), InitialIntentRequest{
		ProductSlug:      req.ProductSlug,
		PlanID:           req.PlanID,
		Email:            req.Email,
		FirstName:        req.FirstName,
		LastName:         req.LastName,
		Country:          req.Country,
		VATNumber:        req.VATNumber,
		CouponCode:       req.CouponCode,
		IncludeOrderBump: req.IncludeOrderBump,
		IdempotencyKey:   common.IdempotencyKey(r, ""),
	})
	if err != nil {
		h.logUnexpected(err, "create payment intent failed", req.ProductSlug)
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, out)
}

// ValidateCoupon handles POST /api/validate-coupon. Invalid coupons are a 200
// with valid:false.
func (h Handler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	var req validateCouponRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.JSON(w, http.StatusBadRequest, map[string]any{"valid": false, "error": "Invalid request body"})
		return
	}
	if err := common.Validator().Struct(req); err != nil {
		common.JSON(w, http.StatusBadRequest, map[string]any{"valid": false, "error": "Coupon code and product are required", "details": common.Issues(err)})
		return
	}
	res, err := h.Svc.Coupons.Validate(r.Context(), req.Code, req.ProductSlug)
	if err != nil {
		if errors.Is(err, catalog.ErrProductNotFound) {
			common.JSON(w, http.StatusNotFound, map[string]any{"valid": false, "error": "Product not found"})
			return
		}
		h.Logger.Error().Err(err).Str("product", req.ProductSlug).Msg("coupon validation failed")
		common.JSON(w, http.StatusInternalServerError, map[string]any{"valid": false, "error": "Unable to validate coupon"})
		return
	}
	common.JSON(w, http.StatusOK, res)
}

// ChargeUpsell handles POST /api/charge-upsell.
func (h Handler) ChargeUpsell(w http.ResponseWriter, r *http.Request) {
	var req chargeRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.JSON(w, http.StatusBadRequest, ChargeResult{Error: "Invalid request body"})
		return
	}
	if err := common.Validator().Struct(req); err != nil {
		common.JSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "Missing required fields", "details": common.Issues(err)})
		return
	}
	clientKey := strings.TrimSpace(req.IdempotencyKey)
	if clientKey == "" {
		clientKey = common.IdempotencyKey(r, "")
	}
	res, err := h.Svc.ChargeOffer(r.Context(), ChargeRequest{
		CustomerID:      req.CustomerID,
		PaymentMethodID: req.PaymentMethodID,
		ProductSlug:     req.ProductSlug,
		OfferID:         req.UpsellID,
		FunnelSession:   req.FunnelSession,
		ClientKey:       clientKey,
	})
	if err != nil {
		h.logUnexpected(err, "charge upsell failed", req.ProductSlug)
		WriteChargeError(w, err)
		return
	}
	status := http.StatusOK
	if !res.Success {
		status = http.StatusBadRequest
	}
	common.JSON(w, status, res)
}

// WriteChargeError renders err in the charge response shape.
func WriteChargeError(w http.ResponseWriter, err error) {
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		status := common.HTTPStatusOf(err)
		body := map[string]any{"success": false, "error": appErr.Message, "code": appErr.Code}
		if appErr.Details != nil {
			body["details"] = appErr.Details
		}
		common.JSON(w, status, body)
		return
	}
	common.JSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "something went wrong, please try again"})
}

func (h Handler) logUnexpected(err error, msg, slug string) {
	if common.IsAppError(err) {
		return
	}
	h.Logger.Error().Err(err).Str("product", slug).Msg(msg)
}
