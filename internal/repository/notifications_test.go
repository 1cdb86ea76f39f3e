package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/storefront-fulfillment/internal/model"
)

var notificationRowColumns = []string{
	"id", "type", "product_id", "order_id", "message", "priority",
	"recipients", "read_by", "metadata", "created_at",
}

func newMockStore(t *testing.T) (*NotificationStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewNotificationStore(db), mock
}

func lowStockNotification(at time.Time) *model.Notification {
	return &model.Notification{
		ID:         "n-1",
		Type:       model.NotifyLowStock,
		ProductID:  "p-1",
		Message:    "Low stock: Ankara Dress (3 left)",
		Priority:   model.PriorityHigh,
		Recipients: []string{"a-1", "a-2"},
		Metadata:   model.NotificationMetadata{CurrentQuantity: 3, Threshold: 5, ProductName: "Ankara Dress"},
		CreatedAt:  at,
	}
}

func TestNotificationStore_CreateUnlessRecent(t *testing.T) {
	now := time.Date(2026, 4, 10, 9, 30, 0, 0, time.UTC)
	since := now.Add(-24 * time.Hour)

	t.Run("inserts when nothing recent", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock(hashtext($1))")).
			WithArgs("p-1:low-stock").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS (SELECT 1 FROM notifications")).
			WithArgs("p-1", "low-stock", since).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notifications")).
			WithArgs("n-1", "low-stock", "p-1", "", sqlmock.AnyArg(), "high",
				[]byte(`["a-1","a-2"]`), []byte(`[]`), sqlmock.AnyArg(), now).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		created, err := store.CreateUnlessRecent(context.Background(), lowStockNotification(now), since)
		require.NoError(t, err)
		assert.True(t, created)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("skips when a recent one exists", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock")).
			WithArgs("p-1:low-stock").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
			WithArgs("p-1", "low-stock", since).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectRollback()

		created, err := store.CreateUnlessRecent(context.Background(), lowStockNotification(now), since)
		require.NoError(t, err)
		assert.False(t, created)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("lock failure", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock")).
			WillReturnError(assert.AnError)
		mock.ExpectRollback()

		_, err := store.CreateUnlessRecent(context.Background(), lowStockNotification(now), since)
		assert.ErrorIs(t, err, assert.AnError)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestNotificationStore_ListForAdmin(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 4, 10, 9, 30, 0, 0, time.UTC)

	rows := sqlmock.NewRows(notificationRowColumns).
		AddRow("n-2", "out-of-stock", "p-2", "", "Out of stock: Kaftan", "urgent",
			[]byte(`["a-1"]`), []byte(`[]`), []byte(`{"productName":"Kaftan"}`), now).
		AddRow("n-1", "low-stock", "p-1", "", "Low stock: Ankara Dress (3 left)", "high",
			[]byte(`["a-1","a-2"]`), []byte(`[{"adminId":"a-1","readAt":"2026-04-10T08:00:00Z"}]`),
			[]byte(`{"currentQuantity":3,"threshold":5}`), now.Add(-time.Hour))

	mock.ExpectQuery(regexp.QuoteMeta("WHERE recipients @> jsonb_build_array($1::text)")).
		WithArgs("a-1", 50).
		WillReturnRows(rows)

	list, err := store.ListForAdmin(context.Background(), "a-1", 50)
	require.NoError(t, err)
	require.Len(t, list, 2)

	assert.Equal(t, model.NotifyOutOfStock, list[0].Type)
	assert.Equal(t, model.PriorityUrgent, list[0].Priority)
	assert.Equal(t, "Kaftan", list[0].Metadata.ProductName)
	assert.False(t, list[0].ReadByAdmin("a-1"))

	assert.True(t, list[1].ReadByAdmin("a-1"))
	assert.False(t, list[1].Read())
	assert.Equal(t, int64(3), list[1].Metadata.CurrentQuantity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationStore_MarkRead(t *testing.T) {
	now := time.Date(2026, 4, 10, 9, 30, 0, 0, time.UTC)
	query := regexp.QuoteMeta("FROM notifications WHERE id = $1 FOR UPDATE")

	t.Run("appends read mark", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(query).
			WithArgs("n-1").
			WillReturnRows(sqlmock.NewRows(notificationRowColumns).
				AddRow("n-1", "low-stock", "p-1", "", "msg", "high",
					[]byte(`["a-1","a-2"]`), []byte(`[]`), []byte(`{}`), now.Add(-time.Hour)))

		marks, err := json.Marshal([]model.ReadMark{{AdminID: "a-2", ReadAt: now}})
		require.NoError(t, err)
		mock.ExpectExec(regexp.QuoteMeta("UPDATE notifications SET read_by = $2 WHERE id = $1")).
			WithArgs("n-1", marks).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		n, err := store.MarkRead(context.Background(), "n-1", "a-2", now)
		require.NoError(t, err)
		assert.True(t, n.ReadByAdmin("a-2"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already read is unchanged", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(query).
			WithArgs("n-1").
			WillReturnRows(sqlmock.NewRows(notificationRowColumns).
				AddRow("n-1", "low-stock", "p-1", "", "msg", "high",
					[]byte(`["a-1"]`), []byte(`[{"adminId":"a-1","readAt":"2026-04-10T08:00:00Z"}]`), []byte(`{}`), now))
		mock.ExpectRollback()

		n, err := store.MarkRead(context.Background(), "n-1", "a-1", now)
		require.NoError(t, err)
		require.Len(t, n.ReadBy, 1)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(query).
			WithArgs("missing").
			WillReturnRows(sqlmock.NewRows(notificationRowColumns))
		mock.ExpectRollback()

		_, err := store.MarkRead(context.Background(), "missing", "a-1", now)
		assert.ErrorIs(t, err, model.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestNotificationStore_ListActiveAdmins(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, email, name, active FROM admins WHERE active")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "name", "active"}).
			AddRow("a-1", "ada@shop.test", "Ada", true).
			AddRow("a-2", "bola@shop.test", "Bola", true))

	admins, err := store.ListActiveAdmins(context.Background())
	require.NoError(t, err)
	require.Len(t, admins, 2)
	assert.Equal(t, "ada@shop.test", admins[0].Email)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestErrorClassification(t *testing.T) {
	dup := fmt.Errorf("update order: %w", &pgconn.PgError{
		Code:           pgerrcode.UniqueViolation,
		ConstraintName: paymentReferenceConstraint,
	})
	assert.True(t, isUniqueViolation(dup, paymentReferenceConstraint))
	assert.False(t, isUniqueViolation(dup, "products_pkey"))
	assert.False(t, isUniqueViolation(assert.AnError, ""))

	assert.True(t, isRetryable(&pgconn.PgError{Code: pgerrcode.SerializationFailure}))
	assert.True(t, isRetryable(errConnRefused{}))
	assert.False(t, isRetryable(assert.AnError))
}

type errConnRefused struct{}

func (errConnRefused) Error() string { return "dial tcp: connection refused" }

func TestWithRetry_StopsOnPermanentError(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), func() error {
		calls++
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := withRetry(ctx, func() error {
		calls++
		return errConnRefused{}
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}
