package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/pos-checkout/internal/domain/cart"
	"github.com/xenking/pos-checkout/internal/domain/checkout"
	"github.com/xenking/pos-checkout/internal/domain/tender"
)

// IdempotencyKeyHeader carries the client-chosen sale ID.
const IdempotencyKeyHeader = "Idempotency-Key"

type checkoutRequest struct {
	IdempotencyKey    string `json:"Idempotency-Key" validate:"omitempty,max=64,printascii"`
	Method            string `json:"method" validate:"required,oneof=cash pix credit debit"`
	Installments      int    `json:"installments" validate:"gte=0,lte=12"`
	AmountReceived    string `json:"amountReceived" validate:"omitempty,numeric"`
	KeepChange        bool   `json:"keepChange"`
	AcknowledgeChange bool   `json:"acknowledgeChange"`
}

func (req *checkoutRequest) decode(d *jx.Decoder, key string) error {
	var err error
	switch key {
	case "method":
		req.Method, err = d.Str()
	case "installments":
		req.Installments, err = d.Int()
	case "amountReceived":
		req.AmountReceived, err = decodeAmount(d)
	case "keepChange":
		req.KeepChange, err = d.Bool()
	case "acknowledgeChange":
		req.AcknowledgeChange, err = d.Bool()
	default:
		err = d.Skip()
	}
	return err
}

func (req *checkoutRequest) tender() (tender.Info, error) {
	method, err := tender.ParseMethod(req.Method)
	if err != nil {
		return tender.Info{}, err
	}
	info := tender.Info{
		Method:       method,
		Installments: req.Installments,
		KeepChange:   req.KeepChange,
	}
	if req.AmountReceived != "" {
		info.AmountReceived, err = decimal.NewFromString(req.AmountReceived)
		if err != nil {
			return tender.Info{}, invalid("invalid amountReceived", err)
		}
	}
	return info, nil
}

// Checkout finalizes the session cart.
//
//	201 completed, 200 replay of a recorded sale, 202 recorded with stock
//	adjustments pending reconciliation (also on replay of such a sale).
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	req := checkoutRequest{IdempotencyKey: r.Header.Get(IdempotencyKeyHeader)}
	if err := decodeBody(r, req.decode); err != nil {
		writeError(w, r, invalid("invalid request body", err))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, r, err)
		return
	}
	info, err := req.tender()
	if err != nil {
		writeError(w, r, err)
		return
	}

	seller := sellerOf(r)
	s, err := h.sessions.Get(r.PathValue("id"), seller.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var res *checkout.Result
	err = s.Do(func(c *cart.Cart) error {
		var err error
		res, err = h.checkout.Finalize(r.Context(), checkout.Request{
			Cart:              c,
			Tender:            info,
			Seller:            seller,
			SaleID:            req.IdempotencyKey,
			AcknowledgeChange: req.AcknowledgeChange,
		})
		return err
	})

	var partial *checkout.PartiallyCommittedError
	switch {
	case errors.As(err, &partial):
		writeJSON(w, http.StatusAccepted, func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				str(e, "state", checkout.StatePartiallyCommitted.String())
				e.Field("sale", func(e *jx.Encoder) { encodeSale(e, partial.Sale) })
				e.Field("pending", func(e *jx.Encoder) {
					e.Arr(func(e *jx.Encoder) {
						for _, adj := range partial.Pending {
							e.Obj(func(e *jx.Encoder) {
								str(e, "productId", adj.ProductID)
								integer(e, "quantity", adj.Quantity)
							})
						}
					})
				})
			})
		})
	case err != nil:
		writeError(w, r, err)
	default:
		status := http.StatusCreated
		switch {
		case res.State == checkout.StatePartiallyCommitted:
			status = http.StatusAccepted
		case res.Replayed:
			status = http.StatusOK
		}
		writeJSON(w, status, func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				str(e, "state", res.State.String())
				boolean(e, "replayed", res.Replayed)
				e.Field("sale", func(e *jx.Encoder) { encodeSale(e, res.Sale) })
				e.Field("tender", func(e *jx.Encoder) { encodeTender(e, res.Tender) })
			})
		})
	}
}
