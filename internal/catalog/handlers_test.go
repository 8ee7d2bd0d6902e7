package catalog

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
)

func adminRouter(store Store) http.Handler {
	h := AdminHandler{Store: store, Logger: zerolog.Nop()}
	r := chi.NewRouter()
	r.Get("/api/admin/products/{slug}", h.Get)
	r.Put("/api/admin/products/{slug}", h.Put)
	return r
}

func TestAdminPutAndGet(t *testing.T) {
	store := NewMemoryStore()
	router := adminRouter(store)

	body, err := json.Marshal(sampleProduct())
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/admin/products/course", strings.NewReader(string(body))))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/admin/products/course", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data Product `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "course", resp.Data.Slug)
	assert.NotEmpty(t, resp.Data.ID)
	assert.Len(t, resp.Data.Upsells, 3)
}

func TestAdminPutRejectsInvalid(t *testing.T) {
	router := adminRouter(NewMemoryStore())
	p := sampleProduct()
	p.Downsell.Pricing.Currency = "GBP"
	body, _ := json.Marshal(p)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/admin/products/course", strings.NewReader(string(body))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "VALIDATION_FAILED")
}

func TestAdminPutSlugMismatch(t *testing.T) {
	router := adminRouter(NewMemoryStore())
	body, _ := json.Marshal(sampleProduct())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/admin/products/other", strings.NewReader(string(body))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminGetMissing(t *testing.T) {
	router := adminRouter(NewMemoryStore())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/admin/products/none", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "PRODUCT_NOT_FOUND")
}
