package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-fulfillment/internal/events"
	"github.com/mmeshcher/storefront-fulfillment/internal/model"
)

type memStore struct {
	mu       sync.Mutex
	products map[string]*model.Product
	history  map[string][]model.StockMovement
}

func newMemStore(products ...model.Product) *memStore {
	s := &memStore{
		products: make(map[string]*model.Product),
		history:  make(map[string][]model.StockMovement),
	}
	for _, p := range products {
		p := p
		p.InitialQuantity = p.Quantity
		p.Status = model.DeriveStatus(p.Status, p.Quantity)
		s.products[p.ID] = &p
	}
	return s
}

func (s *memStore) MutateStock(ctx context.Context, productID string, fn model.StockMutation) (*model.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.products[productID]
	if !ok {
		return nil, fmt.Errorf("%w: product %s", model.ErrNotFound, productID)
	}
	working := *stored
	working.NotifyList = append([]string(nil), stored.NotifyList...)

	m, err := fn(&working)
	if err != nil {
		return nil, err
	}
	*stored = working
	s.history[productID] = append(s.history[productID], *m)

	out := working
	return &out, nil
}

func (s *memStore) MutateOrderStock(ctx context.Context, productID, orderID string, fn model.OrderStockMutation) (*model.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.products[productID]
	if !ok {
		return nil, fmt.Errorf("%w: product %s", model.ErrNotFound, productID)
	}

	var outstanding int64
	for _, m := range s.history[productID] {
		if m.OrderID == orderID && (m.Reason == model.ReasonSale || m.Reason == model.ReasonCancelledOrder) {
			outstanding -= m.Delta
		}
	}

	working := *stored
	working.NotifyList = append([]string(nil), stored.NotifyList...)
	m, err := fn(&working, outstanding)
	if err != nil {
		return nil, err
	}
	if m != nil {
		*stored = working
		s.history[productID] = append(s.history[productID], *m)
	}

	out := *stored
	return &out, nil
}

func (s *memStore) GetProduct(ctx context.Context, productID string) (*model.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return nil, model.ErrNotFound
	}
	out := *p
	return &out, nil
}

func (s *memStore) ListLowStock(ctx context.Context) ([]model.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Product
	for _, p := range s.products {
		if p.IsLow() && p.Status != model.ProductDiscontinued {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *memStore) StockHistory(ctx context.Context, productID string) ([]model.StockMovement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.StockMovement(nil), s.history[productID]...), nil
}

func (s *memStore) RecentMovements(ctx context.Context, limit int) ([]model.StockMovement, error) {
	return nil, nil
}

func (s *memStore) AddToNotifyList(ctx context.Context, productID, email string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.products[productID]
	for _, e := range p.NotifyList {
		if e == email {
			return false, nil
		}
	}
	p.NotifyList = append(p.NotifyList, email)
	return true, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingPublisher) Publish(ctx context.Context, e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingPublisher) kinds() []model.NotificationType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.NotificationType
	for _, e := range r.events {
		if tc, ok := e.(events.ThresholdCrossed); ok {
			out = append(out, tc.Kind)
		}
	}
	return out
}

func widget(qty, threshold int64) model.Product {
	return model.Product{ID: "p1", Title: "Widget", Price: 1500, Quantity: qty, LowStockThreshold: threshold}
}

func TestReserve_LowStockThenOutOfStock(t *testing.T) {
	store := newMemStore(widget(10, 5))
	pub := &recordingPublisher{}
	l := New(store, pub, zap.NewNop())
	ctx := context.Background()

	p, err := l.Reserve(ctx, "p1", 6, "order-x")
	require.NoError(t, err)
	assert.Equal(t, int64(4), p.Quantity)
	assert.Equal(t, model.ProductInStock, p.Status)
	assert.Equal(t, []model.NotificationType{model.NotifyLowStock}, pub.kinds())

	p, err = l.Reserve(ctx, "p1", 4, "order-y")
	require.NoError(t, err)
	assert.Equal(t, int64(0), p.Quantity)
	assert.Equal(t, model.ProductOutOfStock, p.Status)
	assert.Equal(t, []model.NotificationType{model.NotifyLowStock, model.NotifyOutOfStock}, pub.kinds())

	history, err := store.StockHistory(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, model.ReasonSale, history[0].Reason)
	assert.Equal(t, "order-x", history[0].OrderID)
	assert.Equal(t, int64(-6), history[0].Delta)
}

func TestReserve_Boundary(t *testing.T) {
	t.Run("exact quantity empties stock", func(t *testing.T) {
		l := New(newMemStore(widget(3, 1)), nil, zap.NewNop())
		p, err := l.Reserve(context.Background(), "p1", 3, "o1")
		require.NoError(t, err)
		assert.Equal(t, int64(0), p.Quantity)
		assert.Equal(t, model.ProductOutOfStock, p.Status)
	})

	t.Run("one more than quantity fails", func(t *testing.T) {
		store := newMemStore(widget(3, 1))
		l := New(store, nil, zap.NewNop())
		_, err := l.Reserve(context.Background(), "p1", 4, "o1")
		require.ErrorIs(t, err, model.ErrInsufficientStock)
		assert.Contains(t, err.Error(), "Widget")

		p, err := store.GetProduct(context.Background(), "p1")
		require.NoError(t, err)
		assert.Equal(t, int64(3), p.Quantity)
		history, _ := store.StockHistory(context.Background(), "p1")
		assert.Empty(t, history)
	})

	t.Run("missing product", func(t *testing.T) {
		l := New(newMemStore(), nil, zap.NewNop())
		_, err := l.Reserve(context.Background(), "nope", 1, "o1")
		require.ErrorIs(t, err, model.ErrNotFound)
	})
}

func TestRelease_RestocksAndDrainsNotifyList(t *testing.T) {
	p := widget(0, 2)
	p.NotifyList = []string{"a@example.com", "b@example.com"}
	store := newMemStore(p)
	pub := &recordingPublisher{}
	l := New(store, pub, zap.NewNop())

	updated, err := l.Release(context.Background(), "p1", 2, "order-z")
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Quantity)
	assert.Equal(t, model.ProductInStock, updated.Status)
	assert.Empty(t, updated.NotifyList)

	require.Len(t, pub.events, 1)
	restocked, ok := pub.events[0].(events.Restocked)
	require.True(t, ok)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, restocked.Emails)

	history, _ := store.StockHistory(context.Background(), "p1")
	require.Len(t, history, 1)
	assert.Equal(t, model.ReasonCancelledOrder, history[0].Reason)
	assert.Equal(t, int64(2), history[0].Delta)
}

func TestAdjust(t *testing.T) {
	tests := []struct {
		name    string
		start   int64
		delta   int64
		reason  model.MovementReason
		wantErr error
		wantQty int64
	}{
		{name: "restock", start: 1, delta: 5, reason: model.ReasonRestock, wantQty: 6},
		{name: "restock must be positive", start: 1, delta: 0, reason: model.ReasonRestock, wantErr: model.ErrInvalidAdjustment, wantQty: 1},
		{name: "negative restock", start: 1, delta: -1, reason: model.ReasonRestock, wantErr: model.ErrInvalidAdjustment, wantQty: 1},
		{name: "shrinkage", start: 5, delta: -2, reason: model.ReasonAdjustment, wantQty: 3},
		{name: "cannot go negative", start: 5, delta: -6, reason: model.ReasonAdjustment, wantErr: model.ErrInvalidAdjustment, wantQty: 5},
		{name: "sale is not an adjustment", start: 5, delta: -1, reason: model.ReasonSale, wantErr: model.ErrInvalidAdjustment, wantQty: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore(widget(tt.start, 0))
			l := New(store, nil, zap.NewNop())

			p, err := l.Adjust(context.Background(), "p1", tt.delta, tt.reason, "admin-1", "count")
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantQty, p.Quantity)
				if tt.reason == model.ReasonRestock {
					assert.NotNil(t, p.LastRestocked)
				}
			}

			current, _ := store.GetProduct(context.Background(), "p1")
			assert.Equal(t, tt.wantQty, current.Quantity)
		})
	}
}

func TestAdjust_DiscontinuedStaysDiscontinued(t *testing.T) {
	p := widget(2, 0)
	p.Status = model.ProductDiscontinued
	l := New(newMemStore(p), nil, zap.NewNop())

	updated, err := l.Adjust(context.Background(), "p1", -2, model.ReasonAdjustment, "admin-1", "")
	require.NoError(t, err)
	assert.Equal(t, model.ProductDiscontinued, updated.Status)

	low, err := l.CheckLow(context.Background())
	require.NoError(t, err)
	assert.Empty(t, low)
}

func TestReleaseReserved_CapsAtOutstandingReservation(t *testing.T) {
	store := newMemStore(widget(10, 2))
	l := New(store, nil, zap.NewNop())
	ctx := context.Background()

	_, err := l.Reserve(ctx, "p1", 3, "o1")
	require.NoError(t, err)
	_, err = l.Reserve(ctx, "p1", 2, "o2")
	require.NoError(t, err)

	updated, released, err := l.ReleaseReserved(ctx, "p1", 5, "o1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), released)
	assert.Equal(t, int64(8), updated.Quantity)

	// Повторный возврат по тому же заказу ничего не меняет.
	updated, released, err = l.ReleaseReserved(ctx, "p1", 3, "o1")
	require.NoError(t, err)
	assert.Zero(t, released)
	assert.Equal(t, int64(8), updated.Quantity)

	// Заказ без резерва.
	_, released, err = l.ReleaseReserved(ctx, "p1", 1, "o3")
	require.NoError(t, err)
	assert.Zero(t, released)

	history, _ := store.StockHistory(ctx, "p1")
	require.Len(t, history, 3)
	assert.Equal(t, model.ReasonCancelledOrder, history[2].Reason)
	assert.Equal(t, "o1", history[2].OrderID)

	report, err := l.Audit(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, report.Consistent)

	_, _, err = l.ReleaseReserved(ctx, "p1", 0, "o2")
	require.ErrorIs(t, err, model.ErrInvalidQuantity)
	_, _, err = l.ReleaseReserved(ctx, "p1", 1, "")
	require.ErrorIs(t, err, model.ErrInvalidRequest)
}

func TestReleaseReserved_ConcurrentReleasesDoNotDoubleCount(t *testing.T) {
	store := newMemStore(widget(10, 0))
	l := New(store, nil, zap.NewNop())
	ctx := context.Background()

	_, err := l.Reserve(ctx, "p1", 4, "o1")
	require.NoError(t, err)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int64
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, n, err := l.ReleaseReserved(ctx, "p1", 4, "o1")
			if err == nil {
				mu.Lock()
				total += n
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(4), total)
	p, err := l.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), p.Quantity)
}

func TestReserve_ConcurrentNoLostUpdates(t *testing.T) {
	store := newMemStore(widget(50, 0))
	l := New(store, nil, zap.NewNop())

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 80; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := l.Reserve(context.Background(), "p1", 1, fmt.Sprintf("o%d", i)); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, succeeded)
	report, err := l.Audit(context.Background(), "p1")
	require.NoError(t, err)
	assert.True(t, report.Consistent)
	assert.Equal(t, int64(0), report.Quantity)
}

func TestNotifyWhenAvailable(t *testing.T) {
	store := newMemStore(widget(0, 0), model.Product{ID: "p2", Title: "Gadget", Quantity: 3})
	l := New(store, nil, zap.NewNop())
	ctx := context.Background()

	added, err := l.NotifyWhenAvailable(ctx, "p1", "a@example.com")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = l.NotifyWhenAvailable(ctx, "p1", "a@example.com")
	require.NoError(t, err)
	assert.False(t, added)

	_, err = l.NotifyWhenAvailable(ctx, "p2", "a@example.com")
	require.ErrorIs(t, err, model.ErrInvalidRequest)
}

func TestCrossings(t *testing.T) {
	tests := []struct {
		name   string
		before int64
		after  int64
		want   []model.NotificationType
	}{
		{name: "stays above threshold", before: 20, after: 10, want: nil},
		{name: "enters low band", before: 6, after: 5, want: []model.NotificationType{model.NotifyLowStock}},
		{name: "moves within low band", before: 4, after: 3, want: nil},
		{name: "hits zero from low band", before: 2, after: 0, want: []model.NotificationType{model.NotifyOutOfStock}},
		{name: "hits zero from above", before: 9, after: 0, want: []model.NotificationType{model.NotifyOutOfStock}},
		{name: "increase", before: 0, after: 3, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := widget(tt.before, 5)
			a := widget(tt.after, 5)
			var got []model.NotificationType
			for _, e := range crossings(b, a) {
				if tc, ok := e.(events.ThresholdCrossed); ok {
					got = append(got, tc.Kind)
				}
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
