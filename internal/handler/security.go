package handler

import (
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/pos-checkout/internal/domain/auth"
	"github.com/xenking/pos-checkout/internal/domain/sale"
	"github.com/xenking/pos-checkout/pkg/httpmiddleware"
)

// authenticate resolves the X-API-Key header to a seller and stores it in
// the request context.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seller, err := h.auth.Authenticate(r.Context(), r.Header.Get(httpmiddleware.APIKeyHeader))
		if err != nil {
			httpmiddleware.WriteError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		ctx := auth.WithSeller(r.Context(), seller)
		ctx = zctx.With(ctx, zap.String("seller_id", seller.ID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sellerOf(r *http.Request) sale.Seller {
	s, _ := auth.SellerFrom(r.Context())
	return s
}
