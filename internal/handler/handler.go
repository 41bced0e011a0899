// Package handler serves the terminal-facing JSON API.
package handler

import (
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/xenking/pos-checkout/internal/domain/auth"
	"github.com/xenking/pos-checkout/internal/domain/checkout"
	"github.com/xenking/pos-checkout/internal/domain/product"
	"github.com/xenking/pos-checkout/internal/domain/sale"
	"github.com/xenking/pos-checkout/internal/session"
)

// HandlerConfig holds non-dependency configuration for the Handler.
type HandlerConfig struct {
	// Location is the time zone of the from/to dates in sales queries.
	// Defaults to UTC.
	Location *time.Location
}

// Deps are the domain services the API is built on.
type Deps struct {
	Catalog    product.Catalog
	Sessions   *session.Registry
	Checkout   *checkout.Service
	Reconciler *checkout.Reconciler
	Ledger     sale.Ledger
	Auth       *auth.Authenticator
}

// Handler routes API requests to the domain services.
type Handler struct {
	catalog    product.Catalog
	sessions   *session.Registry
	checkout   *checkout.Service
	reconciler *checkout.Reconciler
	ledger     sale.Ledger
	auth       *auth.Authenticator

	validate *validator.Validate
	loc      *time.Location
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig, deps Deps) *Handler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	v := validator.New()
	// Report fields by their JSON names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})

	return &Handler{
		catalog:    deps.Catalog,
		sessions:   deps.Sessions,
		checkout:   deps.Checkout,
		reconciler: deps.Reconciler,
		ledger:     deps.Ledger,
		auth:       deps.Auth,
		validate:   v,
		loc:        cfg.Location,
	}
}

// Routes returns the /api mux. Every route requires a terminal key.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/products", h.ListProducts)

	mux.HandleFunc("POST /api/carts", h.OpenCart)
	mux.HandleFunc("GET /api/carts/{id}", h.GetCart)
	mux.HandleFunc("DELETE /api/carts/{id}", h.CloseCart)
	mux.HandleFunc("POST /api/carts/{id}/items", h.AddItem)
	mux.HandleFunc("DELETE /api/carts/{id}/items/{productId}", h.RemoveItem)
	mux.HandleFunc("POST /api/carts/{id}/checkout", h.Checkout)

	mux.HandleFunc("GET /api/sales", h.ListSales)
	mux.HandleFunc("GET /api/sales/summary", h.SalesSummary)
	mux.HandleFunc("GET /api/sales/{id}", h.GetSale)
	mux.HandleFunc("POST /api/sales/{id}/reconcile", h.ReconcileSale)

	return h.authenticate(mux)
}
