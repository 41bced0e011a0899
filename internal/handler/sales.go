package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-faster/jx"

	"github.com/xenking/pos-checkout/internal/domain/sale"
)

const dateLayout = "2006-01-02"

type salesQuery struct {
	From   string `json:"from" validate:"omitempty,datetime=2006-01-02"`
	To     string `json:"to" validate:"omitempty,datetime=2006-01-02"`
	Seller string `json:"seller" validate:"omitempty,max=64"`
}

// rng converts the inclusive from/to dates into a half-open range.
func (q salesQuery) rng(loc *time.Location) (sale.Range, error) {
	var r sale.Range
	if q.From != "" {
		from, err := time.ParseInLocation(dateLayout, q.From, loc)
		if err != nil {
			return sale.Range{}, invalid("invalid from", err)
		}
		r.From = from
	}
	if q.To != "" {
		to, err := time.ParseInLocation(dateLayout, q.To, loc)
		if err != nil {
			return sale.Range{}, invalid("invalid to", err)
		}
		r.To = to.AddDate(0, 0, 1)
	}
	if !r.From.IsZero() && !r.To.IsZero() && !r.From.Before(r.To) {
		return sale.Range{}, invalid("from must not be after to", nil)
	}
	return r, nil
}

func (h *Handler) querySales(ctx context.Context, r *http.Request) ([]sale.Sale, error) {
	params := r.URL.Query()
	q := salesQuery{
		From:   params.Get("from"),
		To:     params.Get("to"),
		Seller: params.Get("seller"),
	}
	if err := h.validate.Struct(q); err != nil {
		return nil, err
	}
	rng, err := q.rng(h.loc)
	if err != nil {
		return nil, err
	}
	if q.Seller != "" {
		return h.ledger.ListBySeller(ctx, q.Seller, rng)
	}
	return h.ledger.ListByDateRange(ctx, rng)
}

// ListSales returns recorded sales, oldest first.
func (h *Handler) ListSales(w http.ResponseWriter, r *http.Request) {
	sales, err := h.querySales(r.Context(), r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for i := range sales {
				encodeSale(e, &sales[i])
			}
		})
	})
}

// SalesSummary returns revenue, cost of goods and gross margin.
func (h *Handler) SalesSummary(w http.ResponseWriter, r *http.Request) {
	sales, err := h.querySales(r.Context(), r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	sum := sale.Summarize(sales)

	methods := make([]string, 0, len(sum.ByMethod))
	for m := range sum.ByMethod {
		methods = append(methods, m)
	}
	sort.Strings(methods)

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			integer(e, "sales", sum.Sales)
			integer(e, "units", sum.Units)
			money(e, "revenue", sum.Revenue)
			money(e, "cost", sum.Cost)
			money(e, "margin", sum.Margin())
			e.Field("byMethod", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					for _, m := range methods {
						money(e, m, sum.ByMethod[m])
					}
				})
			})
		})
	})
}

// GetSale returns one recorded sale.
func (h *Handler) GetSale(w http.ResponseWriter, r *http.Request) {
	s, err := h.ledger.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeSale(e, s) })
}

// ReconcileSale replays the stock adjustments of one sale. Repeating it
// never decrements twice.
func (h *Handler) ReconcileSale(w http.ResponseWriter, r *http.Request) {
	res, err := h.reconciler.Replay(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			str(e, "saleId", res.SaleID)
			integer(e, "applied", res.Applied)
			integer(e, "skipped", res.Skipped)
		})
	})
}
