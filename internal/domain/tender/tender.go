// Package tender computes what a sale charges and what change is owed for a
// given payment method. Everything here is pure and never blocks.
package tender

import (
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Method is the closed set of payment methods accepted by a terminal.
type Method int

const (
	Cash Method = iota + 1
	Pix
	Credit
	Debit
)

// MaxInstallments is the largest installment count a terminal may offer.
const MaxInstallments = 12

var methodNames = map[Method]string{
	Cash:   "cash",
	Pix:    "pix",
	Credit: "credit",
	Debit:  "debit",
}

func (m Method) String() string {
	if name, ok := methodNames[m]; ok {
		return name
	}
	return fmt.Sprintf("method(%d)", int(m))
}

// Valid reports whether m is one of the defined methods.
func (m Method) Valid() bool {
	_, ok := methodNames[m]
	return ok
}

// AllowsInstallments reports whether the method can be split into more than
// one installment.
func (m Method) AllowsInstallments() bool {
	return m == Credit || m == Pix
}

// ParseMethod converts a method name (case-insensitive) into a Method.
func ParseMethod(s string) (Method, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for m, name := range methodNames {
		if name == s {
			return m, nil
		}
	}
	return 0, &InvalidTenderError{Reason: fmt.Sprintf("unknown payment method %q", s)}
}

// Sentinel errors matched by the typed errors below.
var (
	ErrInsufficientPayment = errors.New("insufficient payment")
	ErrInvalidTender       = errors.New("invalid tender")
)

// InsufficientPaymentError is returned when cash received does not cover the
// cart total.
type InsufficientPaymentError struct {
	Total     decimal.Decimal
	Received  decimal.Decimal
	Shortfall decimal.Decimal
}

func (e *InsufficientPaymentError) Error() string {
	return fmt.Sprintf("insufficient payment: total %s, received %s, short by %s",
		e.Total.StringFixed(2), e.Received.StringFixed(2), e.Shortfall.StringFixed(2))
}

// Is makes errors.Is(err, ErrInsufficientPayment) succeed.
func (e *InsufficientPaymentError) Is(target error) bool {
	return target == ErrInsufficientPayment
}

// InvalidTenderError describes malformed payment details.
type InvalidTenderError struct {
	Reason string
}

func (e *InvalidTenderError) Error() string {
	return "invalid tender: " + e.Reason
}

// Is makes errors.Is(err, ErrInvalidTender) succeed.
func (e *InvalidTenderError) Is(target error) bool {
	return target == ErrInvalidTender
}

// Info holds the payment details entered at the terminal.
type Info struct {
	Method Method
	// Installments is only meaningful for Credit and Pix.
	Installments int
	// AmountReceived and KeepChange are only meaningful for Cash.
	AmountReceived decimal.Decimal
	KeepChange     bool
}

// Normalize forces fields that do not apply to the method to their neutral
// values: one installment for Cash and Debit, no cash fields for card and Pix.
func (i Info) Normalize() Info {
	if !i.Method.AllowsInstallments() || i.Installments < 1 {
		i.Installments = 1
	}
	if i.Method != Cash {
		i.AmountReceived = decimal.Zero
		i.KeepChange = false
	}
	return i
}

// Result is the outcome of tendering a cart total.
type Result struct {
	Method       Method
	Installments int
	CartTotal    decimal.Decimal
	// Charged is what the sale records as its total.
	Charged decimal.Decimal
	// Change is owed back to the customer.
	Change decimal.Decimal
	// RetainedChange is cash overpayment booked as revenue instead of being
	// returned.
	RetainedChange decimal.Decimal
	// InstallmentAmount is Charged split across installments, for display.
	// Equal to Charged for a single installment.
	InstallmentAmount decimal.Decimal
}

// ChangeRetained reports whether overpayment was kept as revenue.
func (r Result) ChangeRetained() bool {
	return r.RetainedChange.IsPositive()
}

// Calculate derives the charged amount and change for cartTotal.
func Calculate(cartTotal decimal.Decimal, info Info) (Result, error) {
	if !info.Method.Valid() {
		return Result{}, &InvalidTenderError{Reason: fmt.Sprintf("unknown payment method %s", info.Method)}
	}
	if cartTotal.IsNegative() {
		return Result{}, &InvalidTenderError{Reason: "cart total is negative"}
	}
	if info.Installments < 0 || info.Installments > MaxInstallments {
		return Result{}, &InvalidTenderError{
			Reason: fmt.Sprintf("installments must be between 1 and %d", MaxInstallments),
		}
	}
	info = info.Normalize()

	res := Result{
		Method:       info.Method,
		Installments: info.Installments,
		CartTotal:    cartTotal,
		Charged:      cartTotal,
		Change:       decimal.Zero,
	}

	switch info.Method {
	case Cash:
		received := info.AmountReceived
		if received.IsNegative() {
			return Result{}, &InvalidTenderError{Reason: "amount received is negative"}
		}
		if received.LessThan(cartTotal) {
			return Result{}, &InsufficientPaymentError{
				Total:     cartTotal,
				Received:  received,
				Shortfall: cartTotal.Sub(received),
			}
		}
		change := received.Sub(cartTotal)
		if info.KeepChange && change.IsPositive() {
			res.Charged = received
			res.RetainedChange = change
		} else {
			res.Change = change
		}
	case Pix, Credit, Debit:
	}

	res.InstallmentAmount = res.Charged
	if res.Installments > 1 {
		res.InstallmentAmount = res.Charged.Div(decimal.NewFromInt(int64(res.Installments))).Round(2)
	}
	return res, nil
}
