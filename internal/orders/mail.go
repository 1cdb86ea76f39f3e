package orders

import (
	"fmt"
	"strings"
	"time"

	"github.com/mmeshcher/storefront-fulfillment/internal/mailqueue"
	"github.com/mmeshcher/storefront-fulfillment/internal/model"
)

// FormatAmount форматирует сумму в минимальных единицах как основную единицу с двумя знаками.
func FormatAmount(minor int64, currency string) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%s %d.%02d", sign, currency, minor/100, minor%100)
}

func confirmationMessage(o *model.Order, bank BankAccount, clientURL string, now time.Time) mailqueue.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", o.Customer.Name)
	fmt.Fprintf(&b, "Thank you for your order #%d.\n\n", o.Invoice)
	for _, item := range o.Cart {
		fmt.Fprintf(&b, "  %s x%d  %s\n", item.Title, item.OrderQuantity, FormatAmount(item.UnitPrice, o.Currency))
	}
	fmt.Fprintf(&b, "\nTotal: %s\n\n", FormatAmount(o.TotalAmount, o.Currency))
	fmt.Fprintf(&b, "Please transfer the total to:\n  Bank: %s\n  Account name: %s\n  Account number: %s\n\n",
		bank.BankName, bank.AccountName, bank.AccountNumber)
	fmt.Fprintf(&b, "Upload your proof of payment before %s:\n  %s/order/%s\n",
		now.Add(24*time.Hour).Format(time.RFC1123), strings.TrimRight(clientURL, "/"), o.ID)

	return mailqueue.Message{
		To:      []string{o.Customer.Email},
		Subject: fmt.Sprintf("Order #%d received: awaiting bank transfer", o.Invoice),
		Body:    b.String(),
	}
}
