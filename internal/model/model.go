// Package model содержит доменные сущности сервиса исполнения заказов.
package model

import "time"

// ProductStatus описывает хранимый статус товара.
type ProductStatus string

const (
	ProductInStock      ProductStatus = "in-stock"
	ProductOutOfStock   ProductStatus = "out-of-stock"
	ProductDiscontinued ProductStatus = "discontinued"
)

// MovementReason описывает причину изменения остатка.
type MovementReason string

const (
	ReasonSale           MovementReason = "sale"
	ReasonRestock        MovementReason = "restock"
	ReasonAdjustment     MovementReason = "adjustment"
	ReasonReturn         MovementReason = "return"
	ReasonCancelledOrder MovementReason = "cancelled-order"
)

// Product описывает товар с учётом складского остатка.
type Product struct {
	ID                string        `json:"id"`
	Title             string        `json:"title"`
	Price             int64         `json:"price"`
	Quantity          int64         `json:"quantity"`
	InitialQuantity   int64         `json:"initialQuantity"`
	Status            ProductStatus `json:"status"`
	LowStockThreshold int64         `json:"lowStockThreshold"`
	ReorderPoint      int64         `json:"reorderPoint"`
	LastRestocked     *time.Time    `json:"lastRestocked,omitempty"`
	NotifyList        []string      `json:"notifyList,omitempty"`
	UpdatedAt         time.Time     `json:"updatedAt"`
}

// IsLow сообщает, что остаток товара на уровне порога или ниже.
func (p *Product) IsLow() bool {
	return p.Quantity <= p.LowStockThreshold
}

// DeriveStatus вычисляет статус товара по количеству. Снятый с продажи товар остаётся снятым.
func DeriveStatus(current ProductStatus, quantity int64) ProductStatus {
	if current == ProductDiscontinued {
		return ProductDiscontinued
	}
	if quantity == 0 {
		return ProductOutOfStock
	}
	return ProductInStock
}

// StockMovement описывает одну запись истории остатков.
type StockMovement struct {
	ID         string         `json:"id"`
	ProductID  string         `json:"productId"`
	Delta      int64          `json:"delta"`
	Reason     MovementReason `json:"reason"`
	OrderID    string         `json:"orderId,omitempty"`
	Actor      string         `json:"actor,omitempty"`
	Note       string         `json:"note,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
}

// Admin описывает администратора, получающего уведомления.
type Admin struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// StockMutation изменяет заблокированный снимок товара и возвращает запись истории движения.
// Ошибка отменяет изменение целиком.
type StockMutation func(p *Product) (*StockMovement, error)

// OrderStockMutation получает заблокированный снимок товара и число единиц, которые заказ
// зарезервировал и ещё не вернул. nil вместо записи истории означает, что менять нечего.
type OrderStockMutation func(p *Product, outstanding int64) (*StockMovement, error)
