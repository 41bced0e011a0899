package sale

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/pos-checkout/internal/domain/tender"
)

func TestSummarize(t *testing.T) {
	d := decimal.RequireFromString
	sales := []Sale{
		{
			ID:     "s1",
			Total:  d("20.00"),
			Method: tender.Cash,
			Lines: []Line{
				{ProductID: "p1", Quantity: 2, UnitPrice: d("9.00"), UnitCost: d("4.00")},
			},
		},
		{
			ID:     "s2",
			Total:  d("4.50"),
			Method: tender.Pix,
			Lines: []Line{
				{ProductID: "p2", Quantity: 1, UnitPrice: d("4.50"), UnitCost: d("1.20")},
			},
		},
		{
			ID:     "s3",
			Total:  d("9.00"),
			Method: tender.Cash,
			Lines: []Line{
				{ProductID: "p1", Quantity: 1, UnitPrice: d("9.00"), UnitCost: d("4.00")},
			},
		},
	}

	sum := Summarize(sales)
	assert.Equal(t, 3, sum.Sales)
	assert.Equal(t, 4, sum.Units)
	assert.True(t, d("33.50").Equal(sum.Revenue))
	assert.True(t, d("13.20").Equal(sum.Cost))
	assert.True(t, d("20.30").Equal(sum.Margin()))
	require.Len(t, sum.ByMethod, 2)
	assert.True(t, d("29.00").Equal(sum.ByMethod["cash"]))
	assert.True(t, d("4.50").Equal(sum.ByMethod["pix"]))
}

func TestSummarize_Empty(t *testing.T) {
	sum := Summarize(nil)
	assert.Zero(t, sum.Sales)
	assert.True(t, sum.Revenue.IsZero())
	assert.True(t, sum.Margin().IsZero())
}

func TestRange_Contains(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)
	r := Range{From: from, To: to}

	assert.True(t, r.Contains(from))
	assert.True(t, r.Contains(to.Add(-time.Nanosecond)))
	assert.False(t, r.Contains(to))
	assert.False(t, r.Contains(from.Add(-time.Second)))
	assert.True(t, Range{}.Contains(from), "zero range is unbounded")
	assert.True(t, Range{From: from}.Contains(to.Add(1000*time.Hour)))
}

func TestRetainedChangeNote(t *testing.T) {
	assert.Equal(t, "change of 2.00 retained as profit", RetainedChangeNote(decimal.NewFromInt(2)))
}
