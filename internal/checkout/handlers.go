package checkout

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/funnel-api/internal/common"
)

type Handler struct {
	Svc    *Service
	Logger zerolog.Logger
}

type quoteRequest struct {
	ProductSlug  string   `json:"productSlug" validate:"required,max=120"`
	PlanID       string   `json:"planId" validate:"omitempty,max=64"`
	OrderBumpIDs []string `json:"orderBumpIds" validate:"max=10,dive,max=120"`
	CouponCode   string   `json:"couponCode" validate:"omitempty,max=64"`
	Country      string   `json:"country" validate:"required,iso3166_1_alpha2"`
	Email        string   `json:"email" validate:"omitempty,email"`
	VATNumber    string   `json:"vatNumber" validate:"omitempty,max=20"`
	Locale       string   `json:"locale" validate:"omitempty,max=16"`
}

// PriceBreakdown handles POST /api/price-breakdown.
func (h *Handler) PriceBreakdown(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	req.Country = strings.ToUpper(strings.TrimSpace(req.Country))
	if err := common.ValidateStruct(req); err != nil {
		common.WriteError(w, err)
		return
	}
	locale := req.Locale
	if locale == "" {
		locale = r.Header.Get("Accept-Language")
	}
	q, err := h.Svc.Quote(r.Context(), QuoteRequest{
		ProductSlug:  req.ProductSlug,
		PlanID:       req.PlanID,
		OrderBumpIDs: req.OrderBumpIDs,
		CouponCode:   req.CouponCode,
		Country:      req.Country,
		Email:        req.Email,
		VATNumber:    req.VATNumber,
		Locale:       locale,
	})
	if err != nil {
		if !common.IsAppError(err) {
			h.Logger.Error().Err(err).Str("product", req.ProductSlug).Msg("price quote failed")
		}
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, q)
}
