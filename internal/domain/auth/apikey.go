package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"github.com/go-faster/errors"

	"github.com/xenking/pos-checkout/internal/domain/sale"
)

// ErrUnauthorized is returned when a terminal key does not resolve to an
// active seller.
var ErrUnauthorized = errors.New("unauthorized")

// TerminalKey is a stored terminal credential bound to a seller.
type TerminalKey struct {
	ID         string
	KeyHash    string
	SellerID   string
	SellerName string
}

// Repository provides lookup of terminal keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*TerminalKey, error)
}

// HashKey returns the hex HMAC-SHA256 of key under pepper.
func HashKey(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// Authenticator resolves raw terminal keys to sellers.
type Authenticator struct {
	keys   Repository
	pepper []byte
}

// NewAuthenticator creates an Authenticator using the given repository and
// HMAC pepper.
func NewAuthenticator(keys Repository, pepper []byte) *Authenticator {
	return &Authenticator{keys: keys, pepper: pepper}
}

// Authenticate returns the seller bound to key.
func (a *Authenticator) Authenticate(ctx context.Context, key string) (sale.Seller, error) {
	if key == "" {
		return sale.Seller{}, ErrUnauthorized
	}
	hash := HashKey(a.pepper, key)

	info, err := a.keys.FindByHash(ctx, hash)
	if err != nil {
		return sale.Seller{}, ErrUnauthorized
	}

	// The repository matched on the hash; compare again in constant time in
	// case it returned a different row.
	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil {
		return sale.Seller{}, ErrUnauthorized
	}
	computed, _ := hex.DecodeString(hash)
	if subtle.ConstantTimeCompare(computed, stored) != 1 {
		return sale.Seller{}, ErrUnauthorized
	}

	return sale.Seller{ID: info.SellerID, Name: info.SellerName}, nil
}

type sellerKey struct{}

// WithSeller stores the authenticated seller in ctx.
func WithSeller(ctx context.Context, s sale.Seller) context.Context {
	return context.WithValue(ctx, sellerKey{}, s)
}

// SellerFrom returns the seller stored by WithSeller.
func SellerFrom(ctx context.Context) (sale.Seller, bool) {
	s, ok := ctx.Value(sellerKey{}).(sale.Seller)
	return s, ok
}
