package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// DefaultLogPath is where the consumer appends notification records.
var DefaultLogPath = filepath.Join("logs", "notifications.log")

const maxBackoff = 30 * time.Second

// Consumer reads both booking queues and appends one line per event to a
// log file.  A message that cannot be decoded or written is rejected
// without requeue so a poison message cannot spin the loop.
type Consumer struct {
	url  string
	path string
	log  *zap.Logger

	mu sync.Mutex
}

// NewConsumer returns a consumer writing to path (DefaultLogPath when empty).
func NewConsumer(url, path string, log *zap.Logger) *Consumer {
	if url == "" {
		url = DefaultURL
	}
	if path == "" {
		path = DefaultLogPath
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{url: url, path: path, log: log}
}

// Run connects, consumes and reconnects with exponential backoff until ctx
// is cancelled, then returns ctx.Err().
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.log.Warn("notification consumer: dial failed", zap.Error(err), zap.Duration("retry_in", backoff))
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < maxBackoff {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn("notification consumer: reconnecting", zap.Error(err))
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.log.Warn("notification consumer: set QoS failed", zap.Error(err))
	}

	var streams []<-chan amqp.Delivery
	for _, q := range Queues {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			return fmt.Errorf("queue declare %s: %w", q, err)
		}
		msgs, err := ch.Consume(q, "", false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("queue consume %s: %w", q, err)
		}
		streams = append(streams, msgs)
	}
	c.log.Info("notification consumer started", zap.Strings("queues", Queues))

	created, cancelled := streams[0], streams[1]
	for {
		var d amqp.Delivery
		var ok bool
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok = <-created:
		case d, ok = <-cancelled:
		}
		if !ok {
			return errors.New("deliveries channel closed")
		}
		if err := c.Handle(d.Body); err != nil {
			c.log.Error("notification consumer: handle message failed",
				zap.String("queue", d.RoutingKey), zap.Error(err))
			_ = d.Nack(false, false)
			continue
		}
		_ = d.Ack(false)
	}
}

// Handle decodes one message body and appends its record to the log file.
func (c *Consumer) Handle(body []byte) error {
	var ev BookingEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.Reference == "" {
		return errors.New("event without reference")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	f, err := os.OpenFile(c.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(FormatLine(ev)); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

// FormatLine renders ev as a single newline-terminated record.  The
// guest contact is masked.
func FormatLine(ev BookingEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s | reference=%s | room_category_id=%d | stay=%s..%s | status=%s | guest=%s",
		ev.OccurredAt, ev.Event, ev.Reference, ev.RoomCategoryID, ev.CheckIn, ev.CheckOut, ev.Status, MaskContact(ev.GuestContact))
	if ev.ExpiresAt != "" {
		fmt.Fprintf(&b, " | expires_at=%s", ev.ExpiresAt)
	}
	if ev.Reason != "" {
		fmt.Fprintf(&b, " | reason=%q", ev.Reason)
	}
	b.WriteByte('\n')
	return b.String()
}

// MaskContact keeps the first character and the domain of an email, or
// the last two characters of anything else.
func MaskContact(contact string) string {
	contact = strings.TrimSpace(contact)
	if contact == "" {
		return "-"
	}
	if at := strings.LastIndex(contact, "@"); at > 0 {
		return contact[:1] + "***" + contact[at:]
	}
	if len(contact) <= 2 {
		return "***"
	}
	return "***" + contact[len(contact)-2:]
}
