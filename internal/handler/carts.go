package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/pos-checkout/internal/domain/cart"
	"github.com/xenking/pos-checkout/internal/session"
)

type addItemRequest struct {
	ProductID string `json:"productId" validate:"required,max=64"`
}

// OpenCart starts a session cart for the authenticated seller.
func (h *Handler) OpenCart(w http.ResponseWriter, r *http.Request) {
	s := h.sessions.Open(sellerOf(r).ID)
	h.renderCart(w, r, http.StatusCreated, s)
}

// GetCart returns the lines and total of a session cart.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Get(r.PathValue("id"), sellerOf(r).ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.renderCart(w, r, http.StatusOK, s)
}

// CloseCart discards the cart and ends the session.
func (h *Handler) CloseCart(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Close(r.PathValue("id"), sellerOf(r).ID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddItem adds one unit of a product, checked against catalog stock minus
// what this cart already holds.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	err := decodeBody(r, func(d *jx.Decoder, key string) error {
		if key != "productId" {
			return d.Skip()
		}
		v, err := d.Str()
		req.ProductID = v
		return err
	})
	if err != nil {
		writeError(w, r, invalid("invalid request body", err))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, r, err)
		return
	}

	s, err := h.sessions.Get(r.PathValue("id"), sellerOf(r).ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	err = s.Do(func(c *cart.Cart) error {
		p, err := h.catalog.GetByID(r.Context(), req.ProductID)
		if err != nil {
			return err
		}
		return c.Add(*p)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.renderCart(w, r, http.StatusOK, s)
}

// RemoveItem drops the whole line of a product.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Get(r.PathValue("id"), sellerOf(r).ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	_ = s.Do(func(c *cart.Cart) error {
		c.Remove(r.PathValue("productId"))
		return nil
	})
	h.renderCart(w, r, http.StatusOK, s)
}

func (h *Handler) renderCart(w http.ResponseWriter, _ *http.Request, status int, s *session.Session) {
	var e jx.Encoder
	_ = s.Do(func(c *cart.Cart) error {
		encodeCart(&e, s.ID, c)
		return nil
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
