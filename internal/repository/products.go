package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/storefront-fulfillment/internal/model"
)

const productColumns = `id, title, price, quantity, initial_quantity, status, low_stock_threshold,
	reorder_point, last_restocked, notify_list, updated_at`

func scanProduct(row pgx.Row) (*model.Product, error) {
	var (
		p      model.Product
		status string
	)
	err := row.Scan(&p.ID, &p.Title, &p.Price, &p.Quantity, &p.InitialQuantity, &status,
		&p.LowStockThreshold, &p.ReorderPoint, &p.LastRestocked, &p.NotifyList, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Status = model.ProductStatus(status)
	return &p, nil
}

// MutateStock блокирует строку товара, применяет fn и в той же транзакции сохраняет
// новое количество и запись истории. Изменения разных товаров не блокируют друг друга.
func (r *PostgresRepository) MutateStock(ctx context.Context, productID string, fn model.StockMutation) (*model.Product, error) {
	return r.mutateStock(ctx, productID, func(tx pgx.Tx, p *model.Product) (*model.StockMovement, error) {
		return fn(p)
	})
}

// MutateOrderStock блокирует строку товара, считает по истории невозвращённый резерв заказа
// orderID и передаёт его fn. Резерв считается под блокировкой строки, поэтому параллельные
// возвраты по одному заказу не могут вернуть одни и те же единицы дважды.
func (r *PostgresRepository) MutateOrderStock(ctx context.Context, productID, orderID string, fn model.OrderStockMutation) (*model.Product, error) {
	return r.mutateStock(ctx, productID, func(tx pgx.Tx, p *model.Product) (*model.StockMovement, error) {
		var outstanding int64
		err := tx.QueryRow(ctx,
			`SELECT COALESCE(-SUM(delta), 0)::bigint
			 FROM stock_history
			 WHERE product_id = $1 AND order_id = $2 AND reason IN ($3, $4)`,
			p.ID, orderID, string(model.ReasonSale), string(model.ReasonCancelledOrder),
		).Scan(&outstanding)
		if err != nil {
			return nil, fmt.Errorf("sum order reservation: %w", err)
		}
		return fn(p, outstanding)
	})
}

// mutateStock выполняет fn над заблокированной строкой товара. Если fn не вернула запись
// истории, транзакция завершается без изменений.
func (r *PostgresRepository) mutateStock(ctx context.Context, productID string, fn func(tx pgx.Tx, p *model.Product) (*model.StockMovement, error)) (*model.Product, error) {
	var result *model.Product

	err := r.inTx(ctx, func(tx pgx.Tx) error {
		p, err := scanProduct(tx.QueryRow(ctx,
			`SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`,
			productID,
		))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: product %s", model.ErrNotFound, productID)
			}
			return fmt.Errorf("lock product: %w", err)
		}

		m, err := fn(tx, p)
		if err != nil {
			return err
		}
		if m == nil {
			result = p
			return nil
		}
		if p.NotifyList == nil {
			p.NotifyList = []string{}
		}

		err = tx.QueryRow(ctx,
			`UPDATE products
			 SET quantity = $2, status = $3, last_restocked = $4, notify_list = $5, updated_at = now()
			 WHERE id = $1
			 RETURNING updated_at`,
			p.ID, p.Quantity, string(p.Status), p.LastRestocked, p.NotifyList,
		).Scan(&p.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update product: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO stock_history (id, product_id, delta, reason, order_id, actor, note, occurred_at)
			 VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), $8)`,
			m.ID, p.ID, m.Delta, string(m.Reason), m.OrderID, m.Actor, m.Note, m.OccurredAt,
		)
		if err != nil {
			return fmt.Errorf("insert stock history: %w", err)
		}

		result = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetProduct возвращает товар по идентификатору.
func (r *PostgresRepository) GetProduct(ctx context.Context, productID string) (*model.Product, error) {
	p, err := scanProduct(r.pool.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`,
		productID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: product %s", model.ErrNotFound, productID)
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

// ListLowStock возвращает товары с остатком на уровне порога или ниже, кроме снятых с продажи.
func (r *PostgresRepository) ListLowStock(ctx context.Context) ([]model.Product, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+productColumns+`
		 FROM products
		 WHERE quantity <= low_stock_threshold AND status <> $1
		 ORDER BY quantity, title`,
		string(model.ProductDiscontinued),
	)
	if err != nil {
		return nil, fmt.Errorf("select low stock: %w", err)
	}
	defer rows.Close()

	var res []model.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		res = append(res, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

const movementColumns = `id, product_id, delta, reason, COALESCE(order_id, ''), COALESCE(actor, ''),
	COALESCE(note, ''), occurred_at`

func scanMovements(rows pgx.Rows) ([]model.StockMovement, error) {
	defer rows.Close()

	var res []model.StockMovement
	for rows.Next() {
		var (
			m      model.StockMovement
			reason string
		)
		if err := rows.Scan(&m.ID, &m.ProductID, &m.Delta, &reason, &m.OrderID, &m.Actor, &m.Note, &m.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan movement: %w", err)
		}
		m.Reason = model.MovementReason(reason)
		res = append(res, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// StockHistory возвращает историю движений товара в хронологическом порядке.
func (r *PostgresRepository) StockHistory(ctx context.Context, productID string) ([]model.StockMovement, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+movementColumns+`
		 FROM stock_history
		 WHERE product_id = $1
		 ORDER BY occurred_at, id`,
		productID,
	)
	if err != nil {
		return nil, fmt.Errorf("select stock history: %w", err)
	}
	return scanMovements(rows)
}

// RecentMovements возвращает последние движения по всем товарам, новые первыми.
func (r *PostgresRepository) RecentMovements(ctx context.Context, limit int) ([]model.StockMovement, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+movementColumns+`
		 FROM stock_history
		 ORDER BY occurred_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select recent movements: %w", err)
	}
	return scanMovements(rows)
}

// AddToNotifyList добавляет адрес в список ожидания товара. Возвращает false, если адрес уже есть.
func (r *PostgresRepository) AddToNotifyList(ctx context.Context, productID, email string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE products
		 SET notify_list = array_append(notify_list, $2)
		 WHERE id = $1 AND NOT ($2 = ANY(notify_list))`,
		productID, email,
	)
	if err != nil {
		return false, fmt.Errorf("update notify list: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	if _, err := r.GetProduct(ctx, productID); err != nil {
		return false, err
	}
	return false, nil
}
