// Package mailqueue реализует долговременную очередь исходящих писем на Redis с повторами.
package mailqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Message описывает исходящее письмо.
type Message struct {
	ID         string    `json:"id"`
	To         []string  `json:"to"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	Attempts   int       `json:"attempts"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
	LastError  string    `json:"lastError,omitempty"`
}

// promoteDueScript переносит созревшие отложенные задачи в основную очередь.
// KEYS[1] = отложенные задачи (zset), KEYS[2] = основная очередь (list)
// ARGV[1] = текущее время в миллисекундах, ARGV[2] = размер пачки
var promoteDueScript = redis.NewScript(`
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, tonumber(ARGV[2]))
for _, job in ipairs(due) do
    redis.call("ZREM", KEYS[1], job)
    redis.call("LPUSH", KEYS[2], job)
end
return #due
`)

// Queue хранит задачи в Redis: список готовых, zset отложенных и список отказавших.
type Queue struct {
	client  redis.UniversalClient
	ready   string
	delayed string
	dead    string
}

// NewQueue создаёт очередь с префиксом ключей name.
func NewQueue(client redis.UniversalClient, name string) *Queue {
	return &Queue{
		client:  client,
		ready:   name,
		delayed: name + ":delayed",
		dead:    name + ":dead",
	}
}

// Connect создаёт клиента Redis по URL и проверяет соединение.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Enqueue ставит письмо в очередь.
func (q *Queue) Enqueue(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return errors.New("mail message has no recipients")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode mail job: %w", err)
	}
	if err := q.client.LPush(ctx, q.ready, payload).Err(); err != nil {
		return fmt.Errorf("enqueue mail job: %w", err)
	}
	return nil
}

// Next ожидает следующую задачу не дольше wait. При таймауте возвращает nil без ошибки.
func (q *Queue) Next(ctx context.Context, wait time.Duration) (*Message, error) {
	res, err := q.client.BRPop(ctx, wait, q.ready).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("dequeue mail job: %w", err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected brpop reply of %d elements", len(res))
	}

	var msg Message
	if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
		return nil, fmt.Errorf("decode mail job: %w", err)
	}
	return &msg, nil
}

// Retry откладывает задачу до момента at.
func (q *Queue) Retry(ctx context.Context, msg *Message, at time.Time) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode mail job: %w", err)
	}
	err = q.client.ZAdd(ctx, q.delayed, redis.Z{Score: float64(at.UnixMilli()), Member: payload}).Err()
	if err != nil {
		return fmt.Errorf("schedule mail retry: %w", err)
	}
	return nil
}

// Bury переносит задачу в список отказавших для разбора оператором.
func (q *Queue) Bury(ctx context.Context, msg *Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode mail job: %w", err)
	}
	if err := q.client.LPush(ctx, q.dead, payload).Err(); err != nil {
		return fmt.Errorf("bury mail job: %w", err)
	}
	return nil
}

// PromoteDue переносит созревшие отложенные задачи в основную очередь.
func (q *Queue) PromoteDue(ctx context.Context, now time.Time) (int, error) {
	n, err := promoteDueScript.Run(ctx, q.client,
		[]string{q.delayed, q.ready},
		strconv.FormatInt(now.UnixMilli(), 10), 100,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("promote due mail jobs: %w", err)
	}
	return n, nil
}
