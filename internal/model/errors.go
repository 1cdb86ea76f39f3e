package model

import "errors"

var (
	// ErrNotFound возвращается, если товар или заказ не найден.
	ErrNotFound = errors.New("not found")
	// ErrInsufficientStock возвращается, если остатка недостаточно для резерва.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInvalidQuantity возвращается при неположительном количестве в позиции заказа.
	ErrInvalidQuantity = errors.New("invalid order quantity")
	// ErrInvalidAdjustment возвращается при недопустимой ручной корректировке остатка.
	ErrInvalidAdjustment = errors.New("invalid stock adjustment")
	// ErrIllegalTransition возвращается при недопустимом переходе состояния заказа.
	ErrIllegalTransition = errors.New("illegal transition")
	// ErrDuplicatePaymentReference возвращается, если платёжная ссылка уже занята.
	ErrDuplicatePaymentReference = errors.New("duplicate payment reference")
	// ErrVerificationMismatch возвращается, если сумма или валюта платежа не совпали с заказом.
	ErrVerificationMismatch = errors.New("payment verification mismatch")
	// ErrExternalGateway возвращается при ошибке платёжного шлюза.
	ErrExternalGateway = errors.New("payment gateway error")
	// ErrUnsupportedGateway возвращается для неизвестного платёжного шлюза.
	ErrUnsupportedGateway = errors.New("unsupported payment gateway")
	// ErrInvalidRequest возвращается при некорректных входных данных.
	ErrInvalidRequest = errors.New("invalid request")
)
