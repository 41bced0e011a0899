// Package checkout turns a cart into a recorded sale and applies the stock
// decrements it implies.
//
// Finalization re-validates every line against live stock while holding the
// per-product locks, appends the sale to the ledger and then decrements stock
// line by line. The ledger write comes first so that the sale record is the
// source of truth when a later decrement fails: such sales stay unreconciled
// until the Reconciler replays their adjustments.
package checkout

import (
	"context"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/pos-checkout/internal/domain/cart"
	"github.com/xenking/pos-checkout/internal/domain/inventory"
	"github.com/xenking/pos-checkout/internal/domain/sale"
	"github.com/xenking/pos-checkout/internal/domain/tender"
)

const (
	recentSalesCapacity = 1_000_000
	recentSalesFPR      = 0.001
	defaultOpTimeout    = 10 * time.Second
)

// Request holds the input for finalizing a sale.
type Request struct {
	Cart   *cart.Cart
	Tender tender.Info
	Seller sale.Seller
	// SaleID is an optional client-chosen sale identifier. Submitting the
	// same SaleID again returns the recorded sale instead of selling twice.
	SaleID string
	// AcknowledgeChange confirms that cash change was handed back.
	AcknowledgeChange bool
}

// Result holds the output of a successful finalization.
type Result struct {
	Sale   *sale.Sale
	Tender tender.Result
	State  State
	// Replayed is true when SaleID matched an already recorded sale and
	// nothing was written.
	Replayed bool
}

// Options configures a Service.
type Options struct {
	// RequireChangeAck makes Finalize refuse cash sales with change due
	// unless Request.AcknowledgeChange is set.
	RequireChangeAck bool
	// OpTimeout bounds each ledger and stock call during commit.
	OpTimeout      time.Duration
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
	Now            func() time.Time
}

func (o *Options) setDefaults() {
	if o.OpTimeout <= 0 {
		o.OpTimeout = defaultOpTimeout
	}
	if o.MeterProvider == nil {
		o.MeterProvider = metricnoop.NewMeterProvider()
	}
	if o.TracerProvider == nil {
		o.TracerProvider = tracenoop.NewTracerProvider()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Service is the sale finalizer.
type Service struct {
	ledger sale.Ledger
	stock  inventory.Store
	locks  inventory.Locker

	requireAck bool
	opTimeout  time.Duration
	now        func() time.Time
	tracer     trace.Tracer
	metrics    *metrics

	recentMu sync.Mutex
	recent   *bloom.BloomFilter
}

// NewService creates a finalizer over the given ledger, stock store and
// per-product locker.
func NewService(
	ledger sale.Ledger,
	stock inventory.Store,
	locks inventory.Locker,
	opts Options,
) (*Service, error) {
	opts.setDefaults()

	m, err := newMetrics(opts.MeterProvider.Meter("github.com/xenking/pos-checkout/checkout"))
	if err != nil {
		return nil, errors.Wrap(err, "create metrics")
	}

	return &Service{
		ledger:     ledger,
		stock:      stock,
		locks:      locks,
		requireAck: opts.RequireChangeAck,
		opTimeout:  opts.OpTimeout,
		now:        opts.Now,
		tracer:     opts.TracerProvider.Tracer("github.com/xenking/pos-checkout/checkout"),
		metrics:    m,
		recent:     bloom.NewWithEstimates(recentSalesCapacity, recentSalesFPR),
	}, nil
}

// Finalize validates the cart against live stock, records the sale and
// decrements stock. On success, and when the sale was recorded with pending
// adjustments, the cart is cleared; on any rejection it is left untouched.
//
// A SaleID that is already recorded is answered with that sale only when the
// seller and the cart lines match; otherwise IdempotencyKeyReusedError.
func (s *Service) Finalize(ctx context.Context, req Request) (res *Result, rerr error) {
	ctx, span := s.tracer.Start(ctx, "checkout.Finalize")
	defer func() {
		state := StateOf(rerr)
		if res != nil {
			state = res.State
		}
		span.SetAttributes(attribute.String("checkout.state", state.String()))
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
		s.metrics.finalized(ctx, state)
	}()

	if req.Seller.ID == "" {
		return nil, ErrMissingSeller
	}
	empty := req.Cart == nil || req.Cart.IsEmpty()

	// A retry may arrive after the first attempt already cleared the cart,
	// so a known SaleID wins over the empty-cart check.
	if req.SaleID != "" {
		existing, err := s.lookup(ctx, req.SaleID, empty)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			var lines []cart.Line
			if !empty {
				lines = req.Cart.Lines()
			}
			if err := sameSale(existing, req.Seller, lines); err != nil {
				return nil, err
			}
			if !empty {
				req.Cart.Clear()
			}
			return replayed(existing), nil
		}
	}
	if empty {
		return nil, ErrEmptyCart
	}

	tr, err := tender.Calculate(req.Cart.Total(), req.Tender)
	if err != nil {
		return nil, err
	}
	if s.requireAck && tr.Change.IsPositive() && !req.AcknowledgeChange {
		return nil, &ChangeDueError{ChangeDue: tr.Change}
	}

	lines := req.Cart.Lines()
	ids := make([]string, len(lines))
	for i, l := range lines {
		ids[i] = l.ProductID
	}

	unlock, err := s.locks.Lock(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "lock products")
	}
	defer unlock()

	if err := s.validate(ctx, lines, ids); err != nil {
		return nil, err
	}

	sl := s.newSale(req, tr, lines)
	res, err = s.commit(ctx, sl, lines)
	if res != nil || errors.Is(err, ErrPartiallyCommitted) {
		req.Cart.Clear()
	}
	if res != nil && !res.Replayed {
		res.Tender = tr
	}
	return res, err
}

// sameSale reports whether a request may be answered with the recorded sale
// existing: the seller must match and, when the request still has a cart,
// so must every product and quantity.
func sameSale(existing *sale.Sale, seller sale.Seller, lines []cart.Line) error {
	if existing.Seller.ID != seller.ID {
		return &IdempotencyKeyReusedError{SaleID: existing.ID, Reason: "recorded by another seller"}
	}
	if len(lines) == 0 {
		return nil
	}
	recorded := make(map[string]int, len(existing.Lines))
	for _, l := range existing.Lines {
		recorded[l.ProductID] += l.Quantity
	}
	if len(recorded) != len(lines) {
		return &IdempotencyKeyReusedError{SaleID: existing.ID, Reason: "recorded with different lines"}
	}
	for _, l := range lines {
		if recorded[l.ProductID] != l.Quantity {
			return &IdempotencyKeyReusedError{SaleID: existing.ID, Reason: "recorded with different lines"}
		}
	}
	return nil
}

// replayed describes an already recorded sale. The tender is rebuilt from
// the record since the original payment details are not stored. A sale whose
// adjustments are still pending is reported as partially committed.
func replayed(sl *sale.Sale) *Result {
	tr := tender.Result{
		Method:            sl.Method,
		Installments:      sl.Installments,
		CartTotal:         sl.Total,
		Charged:           sl.Total,
		InstallmentAmount: sl.Total,
	}
	if sl.Installments > 1 {
		tr.InstallmentAmount = sl.Total.Div(decimal.NewFromInt(int64(sl.Installments))).Round(2)
	}
	state := StateCompleted
	if !sl.Reconciled {
		state = StatePartiallyCommitted
	}
	return &Result{Sale: sl, Tender: tr, State: state, Replayed: true}
}

// validate checks every line against live stock. No writes happen here.
func (s *Service) validate(ctx context.Context, lines []cart.Line, ids []string) error {
	ctx, span := s.tracer.Start(ctx, "checkout.validate")
	defer span.End()

	levels, err := s.stock.Levels(ctx, ids)
	if err != nil {
		return errors.Wrap(err, "read stock levels")
	}

	var conflicts []Conflict
	for _, l := range lines {
		available := levels[l.ProductID]
		if l.Quantity > available {
			conflicts = append(conflicts, Conflict{
				ProductID: l.ProductID,
				Requested: l.Quantity,
				Available: available,
			})
		}
	}
	if len(conflicts) > 0 {
		return &StockConflictError{Conflicts: conflicts}
	}
	return nil
}

func (s *Service) newSale(req Request, tr tender.Result, lines []cart.Line) *sale.Sale {
	id := req.SaleID
	if id == "" {
		id = uuid.New().String()
	}

	sold := make([]sale.Line, len(lines))
	for i, l := range lines {
		sold[i] = sale.Line{
			ProductID: l.ProductID,
			Name:      l.Name,
			Quantity:  l.Quantity,
			UnitPrice: l.Price,
			UnitCost:  l.Cost,
		}
	}

	var note string
	if tr.ChangeRetained() {
		note = sale.RetainedChangeNote(tr.RetainedChange)
	}

	return &sale.Sale{
		ID:           id,
		CreatedAt:    s.now().UTC(),
		Seller:       req.Seller,
		Lines:        sold,
		Total:        tr.Charged.Round(2),
		Method:       tr.Method,
		Installments: tr.Installments,
		Note:         note,
	}
}

// commit appends the sale and applies its stock adjustments. It ignores
// cancellation of ctx: once the ledger write starts the sale is carried
// through.
func (s *Service) commit(ctx context.Context, sl *sale.Sale, lines []cart.Line) (*Result, error) {
	ctx = context.WithoutCancel(ctx)
	ctx, span := s.tracer.Start(ctx, "checkout.commit", trace.WithAttributes(
		attribute.String("sale.id", sl.ID),
	))
	defer span.End()

	lg := zctx.From(ctx).With(zap.String("sale_id", sl.ID))

	appendCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	_, err := s.ledger.Append(appendCtx, sl)
	cancel()
	if errors.Is(err, sale.ErrDuplicate) {
		existing, getErr := s.ledger.Get(ctx, sl.ID)
		if getErr != nil {
			return nil, errors.Wrap(getErr, "get duplicate sale")
		}
		s.remember(sl.ID)
		if err := sameSale(existing, sl.Seller, lines); err != nil {
			return nil, err
		}
		return replayed(existing), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "append sale")
	}
	s.remember(sl.ID)

	var (
		pending []inventory.Adjustment
		lastErr error
	)
	for _, l := range sl.Lines {
		adj := inventory.Adjustment{SaleID: sl.ID, ProductID: l.ProductID, Quantity: l.Quantity}

		decCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
		_, err := s.stock.Decrement(decCtx, adj, inventory.ModeClamp)
		cancel()
		if err != nil {
			lg.Warn("Stock decrement not confirmed",
				zap.String("product_id", l.ProductID),
				zap.Int("quantity", l.Quantity),
				zap.Error(err),
			)
			pending = append(pending, adj)
			lastErr = err
			continue
		}
		s.metrics.sold(ctx, l.Quantity)
	}

	if len(pending) > 0 {
		lg.Error("Sale partially committed", zap.Int("pending", len(pending)), zap.Error(lastErr))
		return nil, &PartiallyCommittedError{Sale: sl, Pending: pending, Err: lastErr}
	}

	if err := s.ledger.MarkReconciled(ctx, sl.ID); err != nil {
		// Replaying a fully applied sale is a no-op, so leaving it
		// unreconciled only costs the reconciler a pass.
		lg.Warn("Mark sale reconciled", zap.Error(err))
	}

	lg.Info("Sale completed",
		zap.String("total", sl.Total.StringFixed(2)),
		zap.Stringer("method", sl.Method),
		zap.Int("units", sl.Units()),
	)
	return &Result{Sale: sl, State: StateCompleted}, nil
}

// lookup returns the recorded sale for id when one exists. Unless exact is
// set, the bloom filter lets fresh IDs skip the ledger lookup.
func (s *Service) lookup(ctx context.Context, id string, exact bool) (*sale.Sale, error) {
	if !exact {
		s.recentMu.Lock()
		maybe := s.recent.TestString(id)
		s.recentMu.Unlock()
		if !maybe {
			return nil, nil
		}
	}

	existing, err := s.ledger.Get(ctx, id)
	if errors.Is(err, sale.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get sale")
	}
	return existing, nil
}

func (s *Service) remember(id string) {
	s.recentMu.Lock()
	s.recent.AddString(id)
	s.recentMu.Unlock()
}
