package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/pos-checkout/internal/domain/cart"
	"github.com/xenking/pos-checkout/internal/domain/product"
	"github.com/xenking/pos-checkout/internal/domain/sale"
	"github.com/xenking/pos-checkout/internal/domain/tender"
)

const maxBodySize = 64 << 10

func writeJSON(w http.ResponseWriter, status int, fn func(e *jx.Encoder)) {
	var e jx.Encoder
	fn(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// decodeBody decodes a JSON object body field by field. An empty body is
// treated as {}.
func decodeBody(r *http.Request, field func(d *jx.Decoder, key string) error) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		return errors.Wrap(err, "read body")
	}
	if len(data) > maxBodySize {
		return errors.New("body too large")
	}
	if len(data) == 0 {
		return nil
	}
	return jx.DecodeBytes(data).Obj(field)
}

// decodeAmount accepts a money amount as a JSON string or number.
func decodeAmount(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Number:
		n, err := d.Num()
		return string(n), err
	case jx.Null:
		return "", d.Null()
	default:
		return "", errors.New("amount must be a string or a number")
	}
}

func money(e *jx.Encoder, name string, v decimal.Decimal) {
	e.Field(name, func(e *jx.Encoder) { e.Str(v.StringFixed(2)) })
}

func str(e *jx.Encoder, name, v string) {
	e.Field(name, func(e *jx.Encoder) { e.Str(v) })
}

func integer(e *jx.Encoder, name string, v int) {
	e.Field(name, func(e *jx.Encoder) { e.Int(v) })
}

func boolean(e *jx.Encoder, name string, v bool) {
	e.Field(name, func(e *jx.Encoder) { e.Bool(v) })
}

func encodeProduct(e *jx.Encoder, p product.Product) {
	e.Obj(func(e *jx.Encoder) {
		str(e, "id", p.ID)
		str(e, "name", p.Name)
		money(e, "price", p.Price)
		integer(e, "stock", p.Stock)
	})
}

func encodeCart(e *jx.Encoder, id string, c *cart.Cart) {
	var units int
	e.Obj(func(e *jx.Encoder) {
		str(e, "id", id)
		e.Field("lines", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, l := range c.Lines() {
					units += l.Quantity
					e.Obj(func(e *jx.Encoder) {
						str(e, "productId", l.ProductID)
						str(e, "name", l.Name)
						integer(e, "quantity", l.Quantity)
						money(e, "price", l.Price)
						money(e, "subtotal", l.Subtotal())
					})
				}
			})
		})
		integer(e, "units", units)
		money(e, "total", c.Total())
	})
}

func encodeSale(e *jx.Encoder, s *sale.Sale) {
	e.Obj(func(e *jx.Encoder) {
		str(e, "id", s.ID)
		str(e, "createdAt", s.CreatedAt.UTC().Format(time.RFC3339))
		str(e, "sellerId", s.Seller.ID)
		str(e, "sellerName", s.Seller.Name)
		e.Field("lines", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, l := range s.Lines {
					e.Obj(func(e *jx.Encoder) {
						str(e, "productId", l.ProductID)
						str(e, "name", l.Name)
						integer(e, "quantity", l.Quantity)
						money(e, "unitPrice", l.UnitPrice)
						money(e, "unitCost", l.UnitCost)
					})
				}
			})
		})
		money(e, "total", s.Total)
		str(e, "method", s.Method.String())
		integer(e, "installments", s.Installments)
		if s.Note != "" {
			str(e, "note", s.Note)
		}
	})
}

func encodeTender(e *jx.Encoder, r tender.Result) {
	e.Obj(func(e *jx.Encoder) {
		str(e, "method", r.Method.String())
		integer(e, "installments", r.Installments)
		money(e, "charged", r.Charged)
		money(e, "change", r.Change)
		money(e, "retainedChange", r.RetainedChange)
		money(e, "installmentAmount", r.InstallmentAmount)
	})
}
