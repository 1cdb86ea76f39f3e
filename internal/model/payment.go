package model

// CheckoutRequest содержит данные заказа, передаваемые платёжному шлюзу при инициализации.
type CheckoutRequest struct {
	Reference   string
	OrderID     string
	Invoice     int64
	AmountMinor int64
	Currency    string
	Email       string
	Name        string
	Phone       string
	CallbackURL string
}

// Checkout описывает ответ шлюза: адрес страницы оплаты и ссылку платежа.
type Checkout struct {
	RedirectURL string `json:"redirectUrl"`
	AccessCode  string `json:"accessCode,omitempty"`
	Reference   string `json:"reference"`
}

// Verification описывает результат проверки транзакции, приведённый к минимальным единицам валюты.
type Verification struct {
	Reference     string
	TransactionID string
	AmountMinor   int64
	Currency      string
	Success       bool
	Status        string
}
