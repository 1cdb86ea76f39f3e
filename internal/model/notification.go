package model

import "time"

// NotificationType описывает вид уведомления администраторам.
type NotificationType string

const (
	NotifyLowStock            NotificationType = "low-stock"
	NotifyOutOfStock          NotificationType = "out-of-stock"
	NotifyRestockReminder     NotificationType = "restock-reminder"
	NotifyPaymentVerification NotificationType = "payment-verification"
)

// Priority описывает важность уведомления.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ReadMark фиксирует прочтение уведомления администратором.
type ReadMark struct {
	AdminID string    `json:"adminId"`
	ReadAt  time.Time `json:"readAt"`
}

// NotificationMetadata содержит снимок данных на момент создания уведомления.
type NotificationMetadata struct {
	CurrentQuantity int64  `json:"currentQuantity,omitempty"`
	Threshold       int64  `json:"threshold,omitempty"`
	ProductName     string `json:"productName,omitempty"`
	OrderInvoice    int64  `json:"orderInvoice,omitempty"`
}

// Notification описывает уведомление для администраторов.
type Notification struct {
	ID         string               `json:"id"`
	Type       NotificationType     `json:"type"`
	ProductID  string               `json:"productId,omitempty"`
	OrderID    string               `json:"orderId,omitempty"`
	Message    string               `json:"message"`
	Priority   Priority             `json:"priority"`
	Recipients []string             `json:"recipients"`
	ReadBy     []ReadMark           `json:"readBy"`
	Metadata   NotificationMetadata `json:"metadata"`
	CreatedAt  time.Time            `json:"createdAt"`
}

// Read сообщает, что уведомление прочитано всеми получателями.
func (n *Notification) Read() bool {
	for _, r := range n.Recipients {
		if !n.ReadByAdmin(r) {
			return false
		}
	}
	return true
}

// ReadByAdmin сообщает, прочитал ли уведомление указанный администратор.
func (n *Notification) ReadByAdmin(adminID string) bool {
	for _, m := range n.ReadBy {
		if m.AdminID == adminID {
			return true
		}
	}
	return false
}
