package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/jx"

	"github.com/xenking/pos-checkout/internal/domain/product"
)

// ListProducts returns the catalog, or the products whose name contains q.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	var (
		products []product.Product
		err      error
	)
	if q := strings.TrimSpace(r.URL.Query().Get("q")); q != "" {
		products, err = h.catalog.Search(r.Context(), q)
	} else {
		products, err = h.catalog.List(r.Context())
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for _, p := range products {
				encodeProduct(e, p)
			}
		})
	})
}
