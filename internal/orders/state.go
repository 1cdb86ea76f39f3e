package orders

import (
	"fmt"
	"time"

	"github.com/mmeshcher/storefront-fulfillment/internal/model"
)

// paymentTransitions перечисляет допустимые переходы статуса оплаты.
// paid и rejected терминальны.
var paymentTransitions = map[model.PaymentStatus][]model.PaymentStatus{
	model.PaymentPending:   {model.PaymentVerifying, model.PaymentPaid, model.PaymentFailed},
	model.PaymentVerifying: {model.PaymentPaid, model.PaymentRejected, model.PaymentFailed},
	model.PaymentFailed:    {model.PaymentVerifying},
}

// statusTransitions перечисляет допустимые переходы статуса исполнения.
// delivered и cancel терминальны.
var statusTransitions = map[model.OrderStatus][]model.OrderStatus{
	model.OrderPending:    {model.OrderProcessing, model.OrderCancel},
	model.OrderProcessing: {model.OrderDelivered, model.OrderCancel},
}

// CanTransitionPayment сообщает, допустим ли переход статуса оплаты.
func CanTransitionPayment(from, to model.PaymentStatus) bool {
	for _, s := range paymentTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CanTransitionStatus сообщает, допустим ли переход статуса исполнения.
func CanTransitionStatus(from, to model.OrderStatus) bool {
	for _, s := range statusTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsPaymentTerminal сообщает, что статус оплаты больше не меняется.
func IsPaymentTerminal(s model.PaymentStatus) bool {
	return len(paymentTransitions[s]) == 0
}

// SetPaymentStatus переводит оплату заказа в статус to.
func SetPaymentStatus(o *model.Order, to model.PaymentStatus) error {
	if !CanTransitionPayment(o.PaymentStatus, to) {
		return fmt.Errorf("%w: payment %s -> %s", model.ErrIllegalTransition, o.PaymentStatus, to)
	}
	o.PaymentStatus = to
	return nil
}

// SetStatus переводит исполнение заказа в статус to.
func SetStatus(o *model.Order, to model.OrderStatus) error {
	if !CanTransitionStatus(o.Status, to) {
		return fmt.Errorf("%w: order %s -> %s", model.ErrIllegalTransition, o.Status, to)
	}
	o.Status = to
	return nil
}

// MarkPaid выполняет терминальный переход успешной оплаты: paymentStatus=paid, отметка времени
// подтверждения и перевод pending -> processing. Отменённый заказ остаётся отменённым.
func MarkPaid(o *model.Order, at time.Time) error {
	if err := SetPaymentStatus(o, model.PaymentPaid); err != nil {
		return err
	}
	o.PaymentVerifiedAt = &at
	if o.Status == model.OrderPending {
		o.Status = model.OrderProcessing
	}
	return nil
}
