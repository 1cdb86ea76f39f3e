package events

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-fulfillment/internal/model"
)

func TestBus_DeliversToSubscribers(t *testing.T) {
	bus := NewBus(zap.NewNop(), 4)

	got := make(chan ThresholdCrossed, 2)
	bus.Subscribe(NameThresholdCrossed, func(ctx context.Context, e Event) error {
		got <- e.(ThresholdCrossed)
		return nil
	})
	bus.Subscribe(NameThresholdCrossed, func(ctx context.Context, e Event) error {
		got <- e.(ThresholdCrossed)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bus.Run(ctx) }()

	bus.Publish(context.Background(), ThresholdCrossed{
		Product: model.Product{ID: "p1", Quantity: 2},
		Kind:    model.NotifyLowStock,
	})

	for range 2 {
		select {
		case e := <-got:
			assert.Equal(t, "p1", e.Product.ID)
			assert.Equal(t, model.NotifyLowStock, e.Kind)
		case <-time.After(2 * time.Second):
			t.Fatal("event was not delivered")
		}
	}

	cancel()
	require.NoError(t, <-done)
}

func TestBus_PanicInHandlerDoesNotStopOthers(t *testing.T) {
	bus := NewBus(zap.NewNop(), 4)

	var delivered atomic.Int32
	bus.Subscribe(NameRestocked, func(ctx context.Context, e Event) error {
		panic("boom")
	})
	bus.Subscribe(NameRestocked, func(ctx context.Context, e Event) error {
		delivered.Add(1)
		return nil
	})

	bus.Publish(context.Background(), Restocked{Product: model.Product{ID: "p1"}, Emails: []string{"a@example.com"}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, bus.Run(ctx))

	assert.Equal(t, int32(1), delivered.Load())
}

func TestBus_DrainsQueueOnShutdown(t *testing.T) {
	bus := NewBus(zap.NewNop(), 8)

	var (
		mu  sync.Mutex
		ids []string
	)
	bus.Subscribe(NameThresholdCrossed, func(ctx context.Context, e Event) error {
		mu.Lock()
		defer mu.Unlock()
		ids = append(ids, e.(ThresholdCrossed).Product.ID)
		return nil
	})

	for _, id := range []string{"a", "b", "c"} {
		bus.Publish(context.Background(), ThresholdCrossed{Product: model.Product{ID: id}, Kind: model.NotifyOutOfStock})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, bus.Run(ctx))

	assert.ElementsMatch(t, []string{"a", "b", "c"}, ids)
}

func TestBus_DropsWhenQueueFull(t *testing.T) {
	bus := NewBus(zap.NewNop(), 1)

	var delivered atomic.Int32
	bus.Subscribe(NameThresholdCrossed, func(ctx context.Context, e Event) error {
		delivered.Add(1)
		return nil
	})

	bus.Publish(context.Background(), ThresholdCrossed{Product: model.Product{ID: "a"}})
	bus.Publish(context.Background(), ThresholdCrossed{Product: model.Product{ID: "b"}})
	bus.Publish(context.Background(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, bus.Run(ctx))

	assert.Equal(t, int32(1), delivered.Load())
}

func TestBus_RunOnlyOnce(t *testing.T) {
	bus := NewBus(zap.NewNop(), 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, bus.Run(ctx))
	require.NoError(t, bus.Run(ctx))
}
