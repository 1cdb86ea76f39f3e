package alert

import (
	"fmt"
	"strings"

	"github.com/mmeshcher/storefront-fulfillment/internal/model"
)

func stockMessage(p *model.Product, kind model.NotificationType) string {
	if kind == model.NotifyOutOfStock {
		return fmt.Sprintf("%s is out of stock", p.Title)
	}
	return fmt.Sprintf("%s is running low: %d left (threshold %d)", p.Title, p.Quantity, p.LowStockThreshold)
}

func stockSubject(p *model.Product, kind model.NotificationType) string {
	if kind == model.NotifyOutOfStock {
		return "Out of stock: " + p.Title
	}
	return "Low stock: " + p.Title
}

func stockBody(p *model.Product, kind model.NotificationType, clientURL string) string {
	var b strings.Builder
	b.WriteString(stockMessage(p, kind))
	b.WriteString(".\n\n")
	fmt.Fprintf(&b, "Current quantity: %d\n", p.Quantity)
	fmt.Fprintf(&b, "Low stock threshold: %d\n", p.LowStockThreshold)
	if p.ReorderPoint > 0 {
		fmt.Fprintf(&b, "Reorder point: %d\n", p.ReorderPoint)
	}
	if clientURL != "" {
		fmt.Fprintf(&b, "\nManage inventory: %s/admin/products/%s\n", clientURL, p.ID)
	}
	return b.String()
}

func restockBody(p model.Product, clientURL string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Good news! %s is back in stock.\n", p.Title)
	if clientURL != "" {
		fmt.Fprintf(&b, "\nOrder now: %s/product/%s\n", clientURL, p.ID)
	}
	return b.String()
}

func paymentBody(o *model.Order, clientURL string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Customer %s uploaded a bank transfer proof for order #%d.\n", o.Customer.Name, o.Invoice)
	if o.PaymentProof != nil && o.PaymentProof.ImageURL != "" {
		fmt.Fprintf(&b, "Proof: %s\n", o.PaymentProof.ImageURL)
	}
	if clientURL != "" {
		fmt.Fprintf(&b, "\nReview: %s/admin/orders/%s\n", clientURL, o.ID)
	}
	return b.String()
}
