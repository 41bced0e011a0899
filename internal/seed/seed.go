// Package seed reads the catalog and terminal seed file shared by seed-db
// and the in-memory backend.
//
// The file is a JSON object:
//
//	{
//	  "products":  [{"id":"p1","name":"Coffee","price":"4.50","cost":"1.20","stock":10}],
//	  "terminals": [{"id":"till-1","key":"...","sellerId":"s1","sellerName":"Ana"}]
//	}
//
// Prices and costs may be JSON strings or numbers.
package seed

import (
	"os"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/pos-checkout/internal/domain/auth"
	"github.com/xenking/pos-checkout/internal/domain/product"
)

// Terminal is a terminal credential in clear text, as distributed to the
// till. Only its hash is ever stored.
type Terminal struct {
	ID         string
	Key        string
	SellerID   string
	SellerName string
}

// File is a parsed seed file.
type File struct {
	Products  []product.Product
	Terminals []Terminal
}

// TerminalKeys hashes every terminal key with pepper.
func (f *File) TerminalKeys(pepper []byte) []auth.TerminalKey {
	out := make([]auth.TerminalKey, len(f.Terminals))
	for i, t := range f.Terminals {
		out[i] = auth.TerminalKey{
			ID:         t.ID,
			KeyHash:    auth.HashKey(pepper, t.Key),
			SellerID:   t.SellerID,
			SellerName: t.SellerName,
		}
	}
	return out
}

// ReadFile parses the seed file at path.
func ReadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read seed file")
	}
	f, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	return f, nil
}

// Parse decodes and validates a seed document.
func Parse(data []byte) (*File, error) {
	var f File
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "products":
			return d.Arr(func(d *jx.Decoder) error {
				p, err := decodeProduct(d)
				if err != nil {
					return errors.Wrapf(err, "product %d", len(f.Products))
				}
				f.Products = append(f.Products, p)
				return nil
			})
		case "terminals":
			return d.Arr(func(d *jx.Decoder) error {
				t, err := decodeTerminal(d)
				if err != nil {
					return errors.Wrapf(err, "terminal %d", len(f.Terminals))
				}
				f.Terminals = append(f.Terminals, t)
				return nil
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, err
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) validate() error {
	ids := make(map[string]struct{}, len(f.Products))
	for _, p := range f.Products {
		switch {
		case p.ID == "" || p.Name == "":
			return errors.Errorf("product %q: id and name are required", p.ID)
		case p.Price.IsNegative() || p.Cost.IsNegative():
			return errors.Errorf("product %s: negative price or cost", p.ID)
		case p.Stock < 0:
			return errors.Errorf("product %s: negative stock", p.ID)
		}
		if _, dup := ids[p.ID]; dup {
			return errors.Errorf("product %s: duplicate id", p.ID)
		}
		ids[p.ID] = struct{}{}
	}
	for _, t := range f.Terminals {
		if t.ID == "" || t.Key == "" || t.SellerID == "" {
			return errors.Errorf("terminal %q: id, key and sellerId are required", t.ID)
		}
	}
	return nil
}

func decodeProduct(d *jx.Decoder) (product.Product, error) {
	p := product.Product{Price: decimal.Zero, Cost: decimal.Zero}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			p.ID, err = d.Str()
		case "name":
			p.Name, err = d.Str()
		case "price":
			p.Price, err = decodeDecimal(d)
		case "cost":
			p.Cost, err = decodeDecimal(d)
		case "stock":
			p.Stock, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	})
	return p, err
}

func decodeTerminal(d *jx.Decoder) (Terminal, error) {
	var t Terminal
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			t.ID, err = d.Str()
		case "key":
			t.Key, err = d.Str()
		case "sellerId":
			t.SellerID, err = d.Str()
		case "sellerName":
			t.SellerName, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	return t, err
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	var raw string
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		raw = s
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, err
		}
		raw = string(n)
	default:
		return decimal.Decimal{}, errors.New("expected decimal string or number")
	}
	return decimal.NewFromString(raw)
}
