package payment

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/funnel-api/internal/coupon"
)

func paymentRouter(svc *Service) http.Handler {
	h := Handler{Svc: svc, Logger: zerolog.Nop()}
	r := chi.NewRouter()
	r.Post("/api/create-payment-intent", h.CreatePaymentIntent)
	r.Post("/api/validate-coupon", h.ValidateCoupon)
	r.Post("/api/charge-upsell", h.ChargeUpsell)
	return r
}

func post(router http.Handler, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreatePaymentIntentHandler(t *testing.T) {
	svc, _, _ := newTestService()
	router := paymentRouter(svc)

	rec := post(router, "/api/create-payment-intent", `{"productSlug":"course","email":"buyer@example.com","country":"de","planId":"pro"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out InitialIntent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.NotEmpty(t, out.ClientSecret)
	assert.Equal(t, int64(14900), out.Breakdown.Subtotal)
	assert.Equal(t, int64(2831), out.Breakdown.Tax)
	assert.Equal(t, "VAT (19%)", out.Breakdown.TaxLabel)
}

func TestCreatePaymentIntentHandlerValidation(t *testing.T) {
	svc, _, _ := newTestService()
	router := paymentRouter(svc)

	rec := post(router, "/api/create-payment-intent", `{"productSlug":"course","email":"nope","country":"US"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "VALIDATION_FAILED")

	rec = post(router, "/api/create-payment-intent", `{"productSlug":"ghost","email":"buyer@example.com","country":"US"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), CodeProductNotFound)
}

func TestValidateCouponHandler(t *testing.T) {
	svc, _, _ := newTestService(
		coupon.Record{ID: "SAVE10", Name: "Ten off", Valid: true, PercentOff: 10},
		coupon.Record{ID: "EUROS", Valid: true, AmountOff: 500, Currency: "EUR"},
	)
	router := paymentRouter(svc)

	rec := post(router, "/api/validate-coupon", `{"code":" save10 ","productSlug":"course"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var res coupon.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Valid)
	assert.Equal(t, coupon.Percent, res.DiscountType)
	assert.Equal(t, 10.0, res.DiscountAmount)

	rec = post(router, "/api/validate-coupon", `{"code":"EUROS","productSlug":"course"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.False(t, res.Valid)
	assert.NotEmpty(t, res.Error)

	rec = post(router, "/api/validate-coupon", `{"code":"SAVE10","productSlug":"ghost"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = post(router, "/api/validate-coupon", `{"productSlug":"course"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"valid":false`)
}

func TestChargeUpsellHandler(t *testing.T) {
	svc, sandbox, _ := newTestService()
	cust := checkedOutCustomer(t, svc, sandbox)
	router := paymentRouter(svc)

	rec := post(router, "/api/charge-upsell", `{"customerId":"`+cust+`","paymentMethodId":"pm_card_visa","productSlug":"course","upsellId":"up-1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res ChargeResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.PaymentIntentID)

	rec = post(router, "/api/charge-upsell", `{"customerId":"`+cust+`","paymentMethodId":"pm_card_chargeDeclined","productSlug":"course","upsellId":"up-1"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)

	rec = post(router, "/api/charge-upsell", `{"customerId":"`+cust+`","productSlug":"course"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":false`)

	rec = post(router, "/api/charge-upsell", `{"customerId":"`+cust+`","paymentMethodId":"pm_card_visa","productSlug":"course","upsellId":"nope"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), CodeOfferNotFound)
}
