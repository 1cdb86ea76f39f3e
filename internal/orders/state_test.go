package orders

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/storefront-fulfillment/internal/model"
)

func TestCanTransitionPayment(t *testing.T) {
	tests := []struct {
		from, to model.PaymentStatus
		want     bool
	}{
		{model.PaymentPending, model.PaymentVerifying, true},
		{model.PaymentPending, model.PaymentPaid, true},
		{model.PaymentPending, model.PaymentFailed, true},
		{model.PaymentPending, model.PaymentRejected, false},
		{model.PaymentVerifying, model.PaymentPaid, true},
		{model.PaymentVerifying, model.PaymentRejected, true},
		{model.PaymentVerifying, model.PaymentFailed, true},
		{model.PaymentVerifying, model.PaymentPending, false},
		{model.PaymentFailed, model.PaymentVerifying, true},
		{model.PaymentFailed, model.PaymentPaid, false},
		{model.PaymentPaid, model.PaymentRejected, false},
		{model.PaymentPaid, model.PaymentFailed, false},
		{model.PaymentRejected, model.PaymentPaid, false},
		{model.PaymentRejected, model.PaymentVerifying, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransitionPayment(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestCanTransitionStatus(t *testing.T) {
	tests := []struct {
		from, to model.OrderStatus
		want     bool
	}{
		{model.OrderPending, model.OrderProcessing, true},
		{model.OrderPending, model.OrderCancel, true},
		{model.OrderPending, model.OrderDelivered, false},
		{model.OrderProcessing, model.OrderDelivered, true},
		{model.OrderProcessing, model.OrderCancel, true},
		{model.OrderDelivered, model.OrderCancel, false},
		{model.OrderCancel, model.OrderProcessing, false},
		{model.OrderCancel, model.OrderDelivered, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransitionStatus(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestIsPaymentTerminal(t *testing.T) {
	assert.True(t, IsPaymentTerminal(model.PaymentPaid))
	assert.True(t, IsPaymentTerminal(model.PaymentRejected))
	assert.False(t, IsPaymentTerminal(model.PaymentPending))
	assert.False(t, IsPaymentTerminal(model.PaymentVerifying))
	assert.False(t, IsPaymentTerminal(model.PaymentFailed))
}

func TestMarkPaid(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("pending order moves to processing", func(t *testing.T) {
		o := &model.Order{Status: model.OrderPending, PaymentStatus: model.PaymentPending}
		require.NoError(t, MarkPaid(o, at))
		assert.Equal(t, model.PaymentPaid, o.PaymentStatus)
		assert.Equal(t, model.OrderProcessing, o.Status)
		require.NotNil(t, o.PaymentVerifiedAt)
		assert.Equal(t, at, *o.PaymentVerifiedAt)
	})

	t.Run("cancelled order stays cancelled", func(t *testing.T) {
		o := &model.Order{Status: model.OrderCancel, PaymentStatus: model.PaymentVerifying}
		require.NoError(t, MarkPaid(o, at))
		assert.Equal(t, model.PaymentPaid, o.PaymentStatus)
		assert.Equal(t, model.OrderCancel, o.Status)
	})

	t.Run("rejected payment cannot become paid", func(t *testing.T) {
		o := &model.Order{Status: model.OrderPending, PaymentStatus: model.PaymentRejected}
		err := MarkPaid(o, at)
		require.ErrorIs(t, err, model.ErrIllegalTransition)
		assert.Equal(t, model.PaymentRejected, o.PaymentStatus)
		assert.Nil(t, o.PaymentVerifiedAt)
	})
}

func TestSetStatus_RejectsTerminal(t *testing.T) {
	o := &model.Order{Status: model.OrderDelivered}
	require.ErrorIs(t, SetStatus(o, model.OrderCancel), model.ErrIllegalTransition)
	assert.Equal(t, model.OrderDelivered, o.Status)
}
