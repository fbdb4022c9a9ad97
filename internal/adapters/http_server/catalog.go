package httpserver

import (
	"net/http"

	"acomody/internal/domain"
)

// Catalog bodies decode straight into the domain types. The entity always
// comes from the path.

func (h *Handlers) savePriceableItem(w http.ResponseWriter, r *http.Request) {
	ref, actor, ok := h.requireHost(w, r)
	if !ok {
		return
	}
	var it domain.PriceableItem
	if err := decode(w, r, &it); err != nil {
		writeError(w, err)
		return
	}
	it.Entity = ref
	out, err := h.Catalog.SavePriceableItem(r.Context(), it, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) savePricingPeriod(w http.ResponseWriter, r *http.Request) {
	ref, actor, ok := h.requireHost(w, r)
	if !ok {
		return
	}
	var p domain.PricingPeriod
	if err := decode(w, r, &p); err != nil {
		writeError(w, err)
		return
	}
	p.Entity = ref
	out, err := h.Catalog.SavePricingPeriod(r.Context(), p, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) saveFee(w http.ResponseWriter, r *http.Request) {
	ref, actor, ok := h.requireHost(w, r)
	if !ok {
		return
	}
	var f domain.Fee
	if err := decode(w, r, &f); err != nil {
		writeError(w, err)
		return
	}
	f.Entity = ref
	out, err := h.Catalog.SaveFee(r.Context(), f, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) assignTax(w http.ResponseWriter, r *http.Request) {
	ref, actor, ok := h.requireHost(w, r)
	if !ok {
		return
	}
	var t domain.EntityTax
	if err := decode(w, r, &t); err != nil {
		writeError(w, err)
		return
	}
	t.Entity = ref
	out, err := h.Catalog.AssignTax(r.Context(), t, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) assignJurisdictionTaxes(w http.ResponseWriter, r *http.Request) {
	ref, actor, ok := h.requireHost(w, r)
	if !ok {
		return
	}
	added, err := h.Catalog.AssignJurisdictionTaxes(r.Context(), ref, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": added})
}

func (h *Handlers) listTaxRates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rates, err := h.Catalog.ListTaxRates(r.Context(), domain.TaxRateFilter{
		Country: q.Get("country"), Region: q.Get("region"), City: q.Get("city"), Active: q.Get("active") != "false",
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": rates})
}

// saveTaxRate maintains the shared rate catalog; any authenticated caller may write it.
// TODO: restrict to an operator role once X-User-ID carries roles.
func (h *Handlers) saveTaxRate(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}
	var t domain.TaxRate
	if err := decode(w, r, &t); err != nil {
		writeError(w, err)
		return
	}
	out, err := h.Catalog.SaveTaxRate(r.Context(), t)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
