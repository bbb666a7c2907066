package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/emperorhan/bsc-payment-watcher/internal/domain/event"
)

const (
	DefaultInboxStream = "paywatch:invoice-events"
	inboxReadCount     = 100
	inboxBlock         = 5 * time.Second
	inboxRetryDelay    = time.Second
)

// Publisher is the slice of the event bus the inbox writes to.
type Publisher interface {
	Publish(ctx context.Context, e event.Event) error
}

// lifecycleMessage is what the invoice system appends to the inbox stream.
// Stop set means the invoice must no longer be watched.
type lifecycleMessage struct {
	InvoiceID string `json:"invoice_id"`
	Code      string `json:"code"`
	Stop      bool   `json:"stop"`
}

// Decode turns one inbox entry into a bus event.
func Decode(payload string) (event.Event, error) {
	var m lifecycleMessage
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return nil, fmt.Errorf("decode lifecycle message: %w", err)
	}
	if m.InvoiceID == "" {
		return nil, fmt.Errorf("decode lifecycle message: invoice_id is empty")
	}
	if m.Stop {
		return event.InvoiceStopWatched{InvoiceID: m.InvoiceID}, nil
	}
	if m.Code == "" {
		return nil, fmt.Errorf("decode lifecycle message: code is empty")
	}
	return event.InvoiceLifecycle{InvoiceID: m.InvoiceID, Code: event.InvoiceEventCode(m.Code)}, nil
}

// Inbox consumes invoice lifecycle notifications from a Redis stream and
// republishes them on the bus. The last handled entry id is checkpointed
// under a key so a restart resumes where it stopped.
type Inbox struct {
	client        *redis.Client
	bus           Publisher
	stream        string
	checkpointKey string
	logger        *slog.Logger
}

func NewInbox(client *redis.Client, bus Publisher, stream string, logger *slog.Logger) *Inbox {
	if stream == "" {
		stream = DefaultInboxStream
	}
	return &Inbox{
		client:        client,
		bus:           bus,
		stream:        stream,
		checkpointKey: stream + ":checkpoint",
		logger:        logger.With("component", "inbox", "stream", stream),
	}
}

func (in *Inbox) Run(ctx context.Context) error {
	lastID, err := in.loadCheckpoint(ctx)
	if err != nil {
		return err
	}
	in.logger.Info("inbox started", "from", lastID)

	for {
		next, err := in.readOnce(ctx, lastID)
		if err != nil {
			if ctx.Err() != nil {
				in.logger.Info("inbox stopping")
				return ctx.Err()
			}
			in.logger.Warn("inbox read failed", "error", err)
			select {
			case <-ctx.Done():
				in.logger.Info("inbox stopping")
				return ctx.Err()
			case <-time.After(inboxRetryDelay):
			}
			continue
		}
		lastID = next
	}
}

func (in *Inbox) loadCheckpoint(ctx context.Context) (string, error) {
	id, err := in.client.Get(ctx, in.checkpointKey).Result()
	if errors.Is(err, redis.Nil) {
		return "$", nil
	}
	if err != nil {
		return "", fmt.Errorf("load inbox checkpoint: %w", err)
	}
	return id, nil
}

// readOnce handles one batch and returns the id to continue from.
func (in *Inbox) readOnce(ctx context.Context, lastID string) (string, error) {
	res, err := in.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{in.stream, lastID},
		Count:   inboxReadCount,
		Block:   inboxBlock,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return lastID, nil
	}
	if err != nil {
		return lastID, fmt.Errorf("xread %s: %w", in.stream, err)
	}

	for _, s := range res {
		for _, msg := range s.Messages {
			in.handle(ctx, msg)
			lastID = msg.ID
		}
	}
	if err := in.client.Set(ctx, in.checkpointKey, lastID, 0).Err(); err != nil {
		return lastID, fmt.Errorf("persist inbox checkpoint: %w", err)
	}
	return lastID, nil
}

// handle publishes one entry. Malformed entries are logged and skipped.
func (in *Inbox) handle(ctx context.Context, msg redis.XMessage) {
	payload, _ := msg.Values["payload"].(string)
	e, err := Decode(payload)
	if err != nil {
		in.logger.Warn("skipping malformed inbox entry", "entry_id", msg.ID, "error", err)
		return
	}
	if err := in.bus.Publish(ctx, e); err != nil {
		in.logger.Warn("publish inbox entry failed", "entry_id", msg.ID, "error", err)
	}
}
