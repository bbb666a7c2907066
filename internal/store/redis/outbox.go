package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/emperorhan/bsc-payment-watcher/internal/domain/event"
	"github.com/emperorhan/bsc-payment-watcher/internal/domain/model"
)

const (
	DefaultStreamName   = "paywatch:invoices"
	defaultStreamMaxLen = 100_000
)

// Message is one outbound notification as stored in the stream.
type Message struct {
	ID        string          `json:"id"`
	Kind      event.Kind      `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

type paymentPayload struct {
	InvoiceID     string               `json:"invoice_id"`
	PaymentID     string               `json:"payment_id"`
	ChainID       int64                `json:"chain_id"`
	CryptoCode    string               `json:"crypto_code"`
	Destination   string               `json:"destination"`
	Value         string               `json:"value"`
	Amount        string               `json:"amount,omitempty"`
	Block         model.BlockReference `json:"block"`
	Confirmations int64                `json:"confirmations"`
	TxHash        string               `json:"tx_hash,omitempty"`
	LogIndex      uint64               `json:"log_index"`
	KeyPath       string               `json:"key_path,omitempty"`
	ReceivedAt    time.Time            `json:"received_at"`
}

type invoiceUpdatePayload struct {
	InvoiceID        string `json:"invoice_id"`
	PaymentConfirmed bool   `json:"payment_confirmed"`
	PaymentCompleted bool   `json:"payment_completed"`
}

// Encode turns an outbound event into a stream message. Only payment and
// invoice notifications leave the process.
func Encode(e event.Event, id string, now time.Time) (Message, error) {
	var payload any
	switch ev := e.(type) {
	case event.PaymentReceived:
		p := ev.Payment
		out := paymentPayload{
			InvoiceID:     ev.InvoiceID,
			PaymentID:     p.ID.String(),
			ChainID:       int64(p.ChainID),
			CryptoCode:    p.Coin.String(),
			Destination:   p.Destination,
			Block:         p.Block,
			Confirmations: p.Confirmations,
			TxHash:        p.TxHash,
			LogIndex:      p.LogIndex,
			KeyPath:       p.KeyPath,
			ReceivedAt:    p.ReceivedAt.UTC(),
		}
		if p.Value != nil {
			out.Value = p.Value.String()
			if coin, ok := model.LookupCoin(p.ChainID, p.Coin); ok {
				out.Amount = coin.FormatAmount(p.Value)
			}
		}
		payload = out
	case event.InvoiceNeedsUpdate:
		payload = invoiceUpdatePayload{
			InvoiceID:        ev.InvoiceID,
			PaymentConfirmed: ev.PaymentConfirmed,
			PaymentCompleted: ev.PaymentCompleted,
		}
	default:
		return Message{}, fmt.Errorf("event kind %s is not outbound", e.Kind())
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s payload: %w", e.Kind(), err)
	}
	return Message{ID: id, Kind: e.Kind(), Payload: raw, CreatedAt: now.UTC()}, nil
}

// Outbox appends outbound events to a capped Redis stream for the invoice
// system to consume.
type Outbox struct {
	client *redis.Client
	stream string
	maxLen int64
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

type OutboxOption func(*Outbox)

func WithStreamName(name string) OutboxOption {
	return func(o *Outbox) {
		if name != "" {
			o.stream = name
		}
	}
}

// WithMaxLen caps the stream approximately at n entries.
func WithMaxLen(n int64) OutboxOption {
	return func(o *Outbox) {
		if n > 0 {
			o.maxLen = n
		}
	}
}

func NewOutbox(client *redis.Client, logger *slog.Logger, opts ...OutboxOption) *Outbox {
	o := &Outbox{
		client: client,
		stream: DefaultStreamName,
		maxLen: defaultStreamMaxLen,
		logger: logger.With("component", "outbox"),
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Outbox) Publish(ctx context.Context, e event.Event) error {
	msg, err := Encode(e, o.newID(), o.now())
	if err != nil {
		return err
	}
	entryID, err := o.client.XAdd(ctx, &redis.XAddArgs{
		Stream: o.stream,
		MaxLen: o.maxLen,
		Approx: true,
		Values: map[string]any{
			"id":         msg.ID,
			"kind":       string(msg.Kind),
			"payload":    string(msg.Payload),
			"created_at": msg.CreatedAt.Format(time.RFC3339Nano),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", o.stream, err)
	}
	o.logger.Debug("outbound event appended", "kind", msg.Kind, "message_id", msg.ID, "entry_id", entryID)
	return nil
}

// InMemoryOutbox keeps outbound messages in process. Used when no Redis
// URL is configured and in tests.
type InMemoryOutbox struct {
	mu       sync.Mutex
	messages []Message
	now      func() time.Time
}

func NewInMemoryOutbox() *InMemoryOutbox {
	return &InMemoryOutbox{now: time.Now}
}

func (o *InMemoryOutbox) Publish(_ context.Context, e event.Event) error {
	msg, err := Encode(e, uuid.NewString(), o.now())
	if err != nil {
		return err
	}
	o.mu.Lock()
	o.messages = append(o.messages, msg)
	o.mu.Unlock()
	return nil
}

// Messages returns a copy of everything published so far, oldest first.
func (o *InMemoryOutbox) Messages() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Message, len(o.messages))
	copy(out, o.messages)
	return out
}
