package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/storefront-fulfillment/internal/model"
)

const paymentReferenceConstraint = "orders_payment_reference_key"

const orderColumns = `id, invoice, customer, cart, sub_total, shipping_cost, discount, total_amount, currency,
	status, payment_method, payment_status, payment_reference, payment_verified_at, payment_proof,
	bank_transfer, note, created_at, updated_at`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o                             model.Order
		customer, cart                []byte
		proof, bank                   []byte
		status, method, paymentStatus string
	)
	err := row.Scan(&o.ID, &o.Invoice, &customer, &cart, &o.SubTotal, &o.ShippingCost, &o.Discount,
		&o.TotalAmount, &o.Currency, &status, &method, &paymentStatus, &o.PaymentReference,
		&o.PaymentVerifiedAt, &proof, &bank, &o.Note, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}

	o.Status = model.OrderStatus(status)
	o.PaymentMethod = model.PaymentMethod(method)
	o.PaymentStatus = model.PaymentStatus(paymentStatus)

	if err := json.Unmarshal(customer, &o.Customer); err != nil {
		return nil, fmt.Errorf("decode customer: %w", err)
	}
	if err := json.Unmarshal(cart, &o.Cart); err != nil {
		return nil, fmt.Errorf("decode cart: %w", err)
	}
	if len(proof) > 0 {
		o.PaymentProof = &model.PaymentProof{}
		if err := json.Unmarshal(proof, o.PaymentProof); err != nil {
			return nil, fmt.Errorf("decode payment proof: %w", err)
		}
	}
	if len(bank) > 0 {
		o.BankTransfer = &model.BankTransferDetails{}
		if err := json.Unmarshal(bank, o.BankTransfer); err != nil {
			return nil, fmt.Errorf("decode bank transfer: %w", err)
		}
	}
	return &o, nil
}

// nullableJSON кодирует v в JSON или возвращает nil для пустого указателя.
func nullableJSON[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// NextInvoice выдаёт следующий номер счёта из последовательности. Номера могут идти с пропусками,
// но никогда не повторяются.
func (r *PostgresRepository) NextInvoice(ctx context.Context) (int64, error) {
	var invoice int64
	if err := r.pool.QueryRow(ctx, `SELECT nextval('order_invoice_seq')`).Scan(&invoice); err != nil {
		return 0, fmt.Errorf("next invoice: %w", err)
	}
	return invoice, nil
}

// CreateOrder сохраняет новый заказ.
func (r *PostgresRepository) CreateOrder(ctx context.Context, o *model.Order) error {
	customer, err := json.Marshal(o.Customer)
	if err != nil {
		return fmt.Errorf("encode customer: %w", err)
	}
	cart, err := json.Marshal(o.Cart)
	if err != nil {
		return fmt.Errorf("encode cart: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO orders (id, invoice, customer, cart, sub_total, shipping_cost, discount, total_amount,
		                     currency, status, payment_method, payment_status, note, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		o.ID, o.Invoice, customer, cart, o.SubTotal, o.ShippingCost, o.Discount, o.TotalAmount,
		o.Currency, string(o.Status), string(o.PaymentMethod), string(o.PaymentStatus), o.Note,
		o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// GetOrder возвращает заказ по идентификатору.
func (r *PostgresRepository) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: order %s", model.ErrNotFound, id)
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

// GetOrderByReference возвращает заказ по платёжной ссылке.
func (r *PostgresRepository) GetOrderByReference(ctx context.Context, reference string) (*model.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE payment_reference = $1`, reference))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: payment reference %s", model.ErrNotFound, reference)
		}
		return nil, fmt.Errorf("get order by reference: %w", err)
	}
	return o, nil
}

// UpdateOrder блокирует заказ по идентификатору и применяет fn в одной транзакции.
func (r *PostgresRepository) UpdateOrder(ctx context.Context, id string, fn model.OrderMutation) (*model.Order, error) {
	return r.mutateOrder(ctx, `id = $1`, id, fmt.Sprintf("order %s", id), fn)
}

// UpdateOrderByReference блокирует заказ по платёжной ссылке и применяет fn в одной транзакции.
// Параллельные сообщения об одной оплате выполняются строго друг за другом.
func (r *PostgresRepository) UpdateOrderByReference(ctx context.Context, reference string, fn model.OrderMutation) (*model.Order, error) {
	return r.mutateOrder(ctx, `payment_reference = $1`, reference, fmt.Sprintf("payment reference %s", reference), fn)
}

func (r *PostgresRepository) mutateOrder(ctx context.Context, where, key, label string, fn model.OrderMutation) (*model.Order, error) {
	var result *model.Order

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		o, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+where+` FOR UPDATE`, key))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: %s", model.ErrNotFound, label)
			}
			return fmt.Errorf("lock order: %w", err)
		}

		changed, err := fn(o)
		if err != nil {
			return err
		}
		result = o
		if !changed {
			return nil
		}

		cart, err := json.Marshal(o.Cart)
		if err != nil {
			return fmt.Errorf("encode cart: %w", err)
		}
		proof, err := nullableJSON(o.PaymentProof)
		if err != nil {
			return fmt.Errorf("encode payment proof: %w", err)
		}
		bank, err := nullableJSON(o.BankTransfer)
		if err != nil {
			return fmt.Errorf("encode bank transfer: %w", err)
		}

		_, err = tx.Exec(ctx,
			`UPDATE orders
			 SET cart = $2, status = $3, payment_method = $4, payment_status = $5, payment_reference = $6,
			     payment_verified_at = $7, payment_proof = $8, bank_transfer = $9, updated_at = $10
			 WHERE id = $1`,
			o.ID, cart, string(o.Status), string(o.PaymentMethod), string(o.PaymentStatus), o.PaymentReference,
			o.PaymentVerifiedAt, proof, bank, o.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err, paymentReferenceConstraint) {
				return fmt.Errorf("%w: %s", model.ErrDuplicatePaymentReference, o.Reference())
			}
			return fmt.Errorf("update order: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListOrdersByPaymentStatus возвращает заказы с указанным статусом оплаты, начиная с самых свежих
// подтверждений.
func (r *PostgresRepository) ListOrdersByPaymentStatus(ctx context.Context, status model.PaymentStatus) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE payment_status = $1
		 ORDER BY (payment_proof->>'uploadedAt')::timestamptz DESC NULLS LAST, created_at DESC`,
		string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var res []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		res = append(res, *o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
