package sale

import "github.com/shopspring/decimal"

// Summary aggregates a set of sales for reporting.
type Summary struct {
	Sales   int
	Units   int
	Revenue decimal.Decimal
	// Cost is the cost of goods sold, from snapshotted unit costs.
	Cost decimal.Decimal
	// ByMethod holds revenue per payment method name.
	ByMethod map[string]decimal.Decimal
}

// Margin returns Revenue - Cost.
func (s Summary) Margin() decimal.Decimal {
	return s.Revenue.Sub(s.Cost)
}

// Summarize folds sales into a Summary.
func Summarize(sales []Sale) Summary {
	sum := Summary{
		Revenue:  decimal.Zero,
		Cost:     decimal.Zero,
		ByMethod: make(map[string]decimal.Decimal),
	}
	for i := range sales {
		s := &sales[i]
		sum.Sales++
		sum.Units += s.Units()
		sum.Revenue = sum.Revenue.Add(s.Total)
		sum.Cost = sum.Cost.Add(s.Cost())

		m := s.Method.String()
		sum.ByMethod[m] = sum.ByMethod[m].Add(s.Total)
	}
	return sum
}
