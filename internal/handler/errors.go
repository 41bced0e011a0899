package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/xenking/pos-checkout/internal/domain/cart"
	"github.com/xenking/pos-checkout/internal/domain/checkout"
	"github.com/xenking/pos-checkout/internal/domain/product"
	"github.com/xenking/pos-checkout/internal/domain/sale"
	"github.com/xenking/pos-checkout/internal/domain/tender"
	"github.com/xenking/pos-checkout/internal/session"
	"github.com/xenking/pos-checkout/pkg/httpmiddleware"
)

// badRequest marks client input the handler itself rejected.
type badRequest struct {
	msg string
	err error
}

func (e *badRequest) Error() string {
	if e.err == nil {
		return e.msg
	}
	return e.msg + ": " + e.err.Error()
}

func (e *badRequest) Unwrap() error { return e.err }

func invalid(msg string, err error) error {
	return &badRequest{msg: msg, err: err}
}

// writeError maps domain errors to status codes and detail fields.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		fields       validator.ValidationErrors
		bad          *badRequest
		outOfStock   *cart.OutOfStockError
		conflict     *checkout.StockConflictError
		changeDue    *checkout.ChangeDueError
		insufficient *tender.InsufficientPaymentError
	)
	switch {
	case errors.As(err, &fields):
		httpmiddleware.WriteErrorWith(w, http.StatusBadRequest, "validation failed", func(e *jx.Encoder) {
			e.Field("fields", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					for _, f := range fields {
						str(e, f.Field(), f.Tag())
					}
				})
			})
		})
	case errors.As(err, &bad):
		httpmiddleware.WriteError(w, http.StatusBadRequest, bad.Error())
	case errors.Is(err, tender.ErrInvalidTender), errors.Is(err, checkout.ErrEmptyCart):
		httpmiddleware.WriteError(w, http.StatusBadRequest, err.Error())

	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, product.ErrNotFound),
		errors.Is(err, sale.ErrNotFound):
		httpmiddleware.WriteError(w, http.StatusNotFound, err.Error())

	case errors.As(err, &outOfStock):
		httpmiddleware.WriteErrorWith(w, http.StatusConflict, "out of stock", func(e *jx.Encoder) {
			str(e, "productId", outOfStock.ProductID)
			integer(e, "stock", outOfStock.Stock)
			integer(e, "inCart", outOfStock.InCart)
		})
	case errors.As(err, &conflict):
		httpmiddleware.WriteErrorWith(w, http.StatusConflict, "stock changed since items were added", func(e *jx.Encoder) {
			e.Field("conflicts", func(e *jx.Encoder) {
				e.Arr(func(e *jx.Encoder) {
					for _, c := range conflict.Conflicts {
						e.Obj(func(e *jx.Encoder) {
							str(e, "productId", c.ProductID)
							integer(e, "requested", c.Requested)
							integer(e, "available", c.Available)
						})
					}
				})
			})
		})
	case errors.As(err, &changeDue):
		httpmiddleware.WriteErrorWith(w, http.StatusConflict, "change due must be acknowledged", func(e *jx.Encoder) {
			money(e, "changeDue", changeDue.ChangeDue)
		})
	case errors.Is(err, checkout.ErrIdempotencyKeyReused):
		httpmiddleware.WriteError(w, http.StatusUnprocessableEntity, "idempotency key already used for a different sale")
	case errors.As(err, &insufficient):
		httpmiddleware.WriteErrorWith(w, http.StatusUnprocessableEntity, "insufficient payment", func(e *jx.Encoder) {
			money(e, "total", insufficient.Total)
			money(e, "received", insufficient.Received)
			money(e, "shortfall", insufficient.Shortfall)
		})

	default:
		zctx.From(r.Context()).Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		httpmiddleware.WriteErrorWith(w, http.StatusInternalServerError, "internal error", func(e *jx.Encoder) {
			boolean(e, "retryable", checkout.Retryable(err))
		})
	}
}
