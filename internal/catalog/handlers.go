package catalog

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/funnel-api/internal/common"
)

// AdminHandler exposes product configuration maintenance.
type AdminHandler struct {
	Store  Store
	Logger zerolog.Logger
}

// Get returns the stored configuration for a slug.
func (h AdminHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.Store.GetBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		if errors.Is(err, ErrProductNotFound) {
			common.JSONError(w, http.StatusNotFound, "PRODUCT_NOT_FOUND", "product not found", nil)
			return
		}
		h.Logger.Error().Err(err).Msg("load product failed")
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, p)
}

// Put creates or replaces the configuration for a slug.
func (h AdminHandler) Put(w http.ResponseWriter, r *http.Request) {
	var p Product
	if err := common.DecodeJSON(r, &p); err != nil {
		common.WriteError(w, err)
		return
	}
	slug := strings.TrimSpace(chi.URLParam(r, "slug"))
	if p.Slug != "" && !strings.EqualFold(strings.TrimSpace(p.Slug), slug) {
		common.WriteError(w, common.InvalidField("slug", "eqfield", "slug must match the URL"))
		return
	}
	p.Slug = slug
	p.Normalize()
	if err := p.Validate(); err != nil {
		common.WriteError(w, err)
		return
	}
	saved, err := h.Store.Upsert(r.Context(), p)
	if err != nil {
		h.Logger.Error().Err(err).Str("slug", slug).Msg("save product failed")
		common.WriteError(w, err)
		return
	}
	h.Logger.Info().Str("slug", saved.Slug).Msg("product configuration saved")
	common.Data(w, http.StatusOK, saved)
}
