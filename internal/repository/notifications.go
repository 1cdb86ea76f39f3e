package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mmeshcher/storefront-fulfillment/internal/model"
)

// NotificationStore хранит уведомления администраторов. Работает через database/sql,
// поверх того же пула соединений, что и основной репозиторий.
type NotificationStore struct {
	db *sql.DB
}

// NewNotificationStore создаёт хранилище уведомлений.
func NewNotificationStore(db *sql.DB) *NotificationStore {
	return &NotificationStore{db: db}
}

const notificationColumns = `id, type, COALESCE(product_id, ''), COALESCE(order_id, ''), message, priority,
	recipients, read_by, metadata, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNotification(row rowScanner) (*model.Notification, error) {
	var (
		n                           model.Notification
		kind, priority              string
		recipients, readBy, metaRaw []byte
	)
	if err := row.Scan(&n.ID, &kind, &n.ProductID, &n.OrderID, &n.Message, &priority,
		&recipients, &readBy, &metaRaw, &n.CreatedAt); err != nil {
		return nil, err
	}
	n.Type = model.NotificationType(kind)
	n.Priority = model.Priority(priority)

	if err := json.Unmarshal(recipients, &n.Recipients); err != nil {
		return nil, fmt.Errorf("decode recipients: %w", err)
	}
	if err := json.Unmarshal(readBy, &n.ReadBy); err != nil {
		return nil, fmt.Errorf("decode read marks: %w", err)
	}
	if err := json.Unmarshal(metaRaw, &n.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return &n, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertNotification(ctx context.Context, ex execer, n *model.Notification) error {
	recipients, err := json.Marshal(orEmpty(n.Recipients))
	if err != nil {
		return fmt.Errorf("encode recipients: %w", err)
	}
	readBy, err := json.Marshal(orEmpty(n.ReadBy))
	if err != nil {
		return fmt.Errorf("encode read marks: %w", err)
	}
	meta, err := json.Marshal(n.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	_, err = ex.ExecContext(ctx,
		`INSERT INTO notifications (id, type, product_id, order_id, message, priority, recipients, read_by, metadata, created_at)
		 VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, $8, $9, $10)`,
		n.ID, string(n.Type), n.ProductID, n.OrderID, n.Message, string(n.Priority),
		recipients, readBy, meta, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// CreateUnlessRecent создаёт уведомление, если после since не было уведомления того же типа по товару.
// Проверка и вставка выполняются под транзакционной advisory-блокировкой пары (товар, тип),
// поэтому параллельные вызовы создают не более одного уведомления.
func (s *NotificationStore) CreateUnlessRecent(ctx context.Context, n *model.Notification, since time.Time) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1))`,
		n.ProductID+":"+string(n.Type),
	); err != nil {
		return false, fmt.Errorf("acquire dedup lock: %w", err)
	}

	var exists bool
	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM notifications WHERE product_id = $1 AND type = $2 AND created_at > $3)`,
		n.ProductID, string(n.Type), since,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check recent notification: %w", err)
	}
	if exists {
		return false, nil
	}

	if err := insertNotification(ctx, tx, n); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit tx: %w", err)
	}
	return true, nil
}

// Create сохраняет уведомление без проверки повторов.
func (s *NotificationStore) Create(ctx context.Context, n *model.Notification) error {
	return insertNotification(ctx, s.db, n)
}

// ListForAdmin возвращает уведомления, адресованные администратору, новые первыми.
func (s *NotificationStore) ListForAdmin(ctx context.Context, adminID string, limit int) ([]model.Notification, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+notificationColumns+`
		 FROM notifications
		 WHERE recipients @> jsonb_build_array($1::text)
		 ORDER BY created_at DESC
		 LIMIT $2`,
		adminID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select notifications: %w", err)
	}
	defer rows.Close()

	var res []model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		res = append(res, *n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// MarkRead добавляет отметку о прочтении. Повторная отметка того же администратора ничего не меняет.
func (s *NotificationStore) MarkRead(ctx context.Context, id, adminID string, at time.Time) (*model.Notification, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	n, err := scanNotification(tx.QueryRowContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE id = $1 FOR UPDATE`,
		id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: notification %s", model.ErrNotFound, id)
		}
		return nil, fmt.Errorf("lock notification: %w", err)
	}

	if n.ReadByAdmin(adminID) {
		return n, nil
	}

	n.ReadBy = append(n.ReadBy, model.ReadMark{AdminID: adminID, ReadAt: at})
	readBy, err := json.Marshal(n.ReadBy)
	if err != nil {
		return nil, fmt.Errorf("encode read marks: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE notifications SET read_by = $2 WHERE id = $1`, id, readBy); err != nil {
		return nil, fmt.Errorf("update notification: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return n, nil
}

// ListActiveAdmins возвращает активных администраторов.
func (s *NotificationStore) ListActiveAdmins(ctx context.Context) ([]model.Admin, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, email, name, active FROM admins WHERE active ORDER BY email`)
	if err != nil {
		return nil, fmt.Errorf("select admins: %w", err)
	}
	defer rows.Close()

	var res []model.Admin
	for rows.Next() {
		var a model.Admin
		if err := rows.Scan(&a.ID, &a.Email, &a.Name, &a.Active); err != nil {
			return nil, fmt.Errorf("scan admin: %w", err)
		}
		res = append(res, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}
