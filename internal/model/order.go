package model

import "time"

// OrderStatus описывает этап исполнения заказа.
type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderProcessing OrderStatus = "processing"
	OrderDelivered  OrderStatus = "delivered"
	OrderCancel     OrderStatus = "cancel"
)

// PaymentStatus описывает этап оплаты заказа.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentVerifying PaymentStatus = "verifying"
	PaymentPaid      PaymentStatus = "paid"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRejected  PaymentStatus = "rejected"
)

// PaymentMethod описывает канал оплаты.
type PaymentMethod string

const (
	MethodPaystack       PaymentMethod = "paystack"
	MethodFlutterwave    PaymentMethod = "flutterwave"
	MethodBankTransfer   PaymentMethod = "bank-transfer"
	MethodCashOnDelivery PaymentMethod = "cash-on-delivery"
)

// IsGateway сообщает, что оплата проходит через внешний платёжный шлюз.
func (m PaymentMethod) IsGateway() bool {
	return m == MethodPaystack || m == MethodFlutterwave
}

// Valid сообщает, что способ оплаты известен.
func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodPaystack, MethodFlutterwave, MethodBankTransfer, MethodCashOnDelivery:
		return true
	}
	return false
}

// LineItem описывает позицию корзины, зафиксированную в момент оформления.
type LineItem struct {
	ProductID     string `json:"productId"`
	Title         string `json:"title"`
	UnitPrice     int64  `json:"unitPrice"`
	OrderQuantity int64  `json:"orderQuantity"`
	Reserved      bool   `json:"reserved"`
}

// CustomerInfo содержит контактные данные покупателя.
type CustomerInfo struct {
	UserID  string `json:"userId"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Contact string `json:"contact"`
	Address string `json:"address"`
	City    string `json:"city"`
	Country string `json:"country"`
	ZipCode string `json:"zipCode"`
}

// PaymentProof описывает подтверждение банковского перевода.
type PaymentProof struct {
	ImageURL        string     `json:"imageUrl"`
	UploadedAt      time.Time  `json:"uploadedAt"`
	VerifiedBy      string     `json:"verifiedBy,omitempty"`
	VerifiedAt      *time.Time `json:"verifiedAt,omitempty"`
	RejectionReason string     `json:"rejectionReason,omitempty"`
}

// BankTransferDetails описывает реквизиты перевода, указанные покупателем.
type BankTransferDetails struct {
	AccountName   string     `json:"accountName,omitempty"`
	AccountNumber string     `json:"accountNumber,omitempty"`
	BankName      string     `json:"bankName,omitempty"`
	TransferDate  *time.Time `json:"transferDate,omitempty"`
	Amount        int64      `json:"amount,omitempty"`
}

// Order описывает заказ вместе с состоянием исполнения и оплаты.
type Order struct {
	ID                string               `json:"id"`
	Invoice           int64                `json:"invoice"`
	Customer          CustomerInfo         `json:"customer"`
	Cart              []LineItem           `json:"cart"`
	SubTotal          int64                `json:"subTotal"`
	ShippingCost      int64                `json:"shippingCost"`
	Discount          int64                `json:"discount"`
	TotalAmount       int64                `json:"totalAmount"`
	Currency          string               `json:"currency"`
	Status            OrderStatus          `json:"status"`
	PaymentMethod     PaymentMethod        `json:"paymentMethod"`
	PaymentStatus     PaymentStatus        `json:"paymentStatus"`
	PaymentReference  *string              `json:"paymentReference,omitempty"`
	PaymentVerifiedAt *time.Time           `json:"paymentVerifiedAt,omitempty"`
	PaymentProof      *PaymentProof        `json:"paymentProof,omitempty"`
	BankTransfer      *BankTransferDetails `json:"bankTransferDetails,omitempty"`
	Note              string               `json:"note,omitempty"`
	CreatedAt         time.Time            `json:"createdAt"`
	UpdatedAt         time.Time            `json:"updatedAt"`
}

// Reference возвращает платёжную ссылку заказа или пустую строку.
func (o *Order) Reference() string {
	if o.PaymentReference == nil {
		return ""
	}
	return *o.PaymentReference
}

// OrderMutation изменяет заблокированный снимок заказа. false означает, что сохранять нечего.
type OrderMutation func(o *Order) (bool, error)
