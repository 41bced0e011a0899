package checkout

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	finalizations metric.Int64Counter
	unitsSold     metric.Int64Counter
	replayed      metric.Int64Counter
}

func newMetrics(m metric.Meter) (*metrics, error) {
	finalizations, err := m.Int64Counter("pos.checkout.finalizations",
		metric.WithDescription("Sale finalizations by terminal state"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "finalizations counter")
	}
	unitsSold, err := m.Int64Counter("pos.checkout.units_sold",
		metric.WithDescription("Units decremented from stock by completed sales"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "units sold counter")
	}
	replayed, err := m.Int64Counter("pos.reconcile.adjustments",
		metric.WithDescription("Stock adjustments applied by reconciliation"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "reconcile counter")
	}
	return &metrics{
		finalizations: finalizations,
		unitsSold:     unitsSold,
		replayed:      replayed,
	}, nil
}

func (m *metrics) finalized(ctx context.Context, state State) {
	m.finalizations.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state.String())))
}

func (m *metrics) sold(ctx context.Context, units int) {
	m.unitsSold.Add(ctx, int64(units))
}

func (m *metrics) reconciled(ctx context.Context, applied int) {
	m.replayed.Add(ctx, int64(applied))
}
