package eventbus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/emperorhan/bsc-payment-watcher/internal/domain/event"
	"github.com/emperorhan/bsc-payment-watcher/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T, opts ...Option) *Bus {
	t.Helper()
	b := New(slog.Default(), opts...)
	t.Cleanup(b.Close)
	return b
}

func TestBus_DeliversInPublishOrderPerKind(t *testing.T) {
	t.Parallel()
	b := newTestBus(t)

	var (
		mu   sync.Mutex
		got  []uint64
		done = make(chan struct{})
	)
	Subscribe(b, "collector", func(_ context.Context, e event.NewBlock) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e.Height)
		if len(got) == 100 {
			close(done)
		}
		return nil
	})

	ctx := context.Background()
	for h := uint64(1); h <= 100; h++ {
		require.NoError(t, b.Publish(ctx, event.NewBlock{ChainID: model.ChainBSCMainnet, Height: h}))
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("events not delivered")
	}
	mu.Lock()
	defer mu.Unlock()
	for i, h := range got {
		assert.Equal(t, uint64(i+1), h)
	}
}

func TestBus_SlowKindDoesNotBlockOtherKinds(t *testing.T) {
	t.Parallel()
	b := newTestBus(t)

	release := make(chan struct{})
	Subscribe(b, "slow", func(_ context.Context, _ event.NewBlock) error {
		<-release
		return nil
	})
	delivered := make(chan string, 1)
	Subscribe(b, "fast", func(_ context.Context, e event.InvoiceStopWatched) error {
		delivered <- e.InvoiceID
		return nil
	})

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, event.NewBlock{Height: 1}))
	require.NoError(t, b.Publish(ctx, event.InvoiceStopWatched{InvoiceID: "inv-1"}))

	select {
	case id := <-delivered:
		assert.Equal(t, "inv-1", id)
	case <-time.After(5 * time.Second):
		t.Fatal("fast kind blocked behind slow kind")
	}
	close(release)
}

func TestBus_HandlerFailuresAreIsolated(t *testing.T) {
	t.Parallel()
	b := newTestBus(t)

	Subscribe(b, "fails", func(_ context.Context, _ event.ChainSettingsChanged) error {
		return errors.New("boom")
	})
	Subscribe(b, "panics", func(_ context.Context, _ event.ChainSettingsChanged) error {
		panic("bad handler")
	})
	got := make(chan model.ChainID, 2)
	Subscribe(b, "ok", func(_ context.Context, e event.ChainSettingsChanged) error {
		got <- e.ChainID
		return nil
	})

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, event.ChainSettingsChanged{ChainID: 56}))
	require.NoError(t, b.Publish(ctx, event.ChainSettingsChanged{ChainID: 97}))

	for _, want := range []model.ChainID{56, 97} {
		select {
		case id := <-got:
			assert.Equal(t, want, id)
		case <-time.After(5 * time.Second):
			t.Fatal("healthy handler not reached")
		}
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	t.Parallel()
	b := New(slog.Default())

	var (
		mu    sync.Mutex
		calls int
	)
	unsubscribe := Subscribe(b, "counter", func(_ context.Context, _ event.NewBlock) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	})
	unsubscribe()
	unsubscribe()

	require.NoError(t, b.Publish(context.Background(), event.NewBlock{Height: 1}))
	b.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, calls)
}

func TestBus_CloseDrainsQueuedEvents(t *testing.T) {
	t.Parallel()
	b := New(slog.Default())

	var (
		mu  sync.Mutex
		got int
	)
	Subscribe(b, "counter", func(_ context.Context, _ event.NewBlock) error {
		time.Sleep(time.Millisecond)
		mu.Lock()
		got++
		mu.Unlock()
		return nil
	})
	for i := 0; i < 20; i++ {
		require.NoError(t, b.Publish(context.Background(), event.NewBlock{Height: uint64(i)}))
	}
	b.Close()

	mu.Lock()
	assert.Equal(t, 20, got)
	mu.Unlock()

	err := b.Publish(context.Background(), event.NewBlock{Height: 21})
	assert.ErrorIs(t, err, ErrClosed)
	b.Close()
}

func TestBus_PublishHonoursContextWhenMailboxFull(t *testing.T) {
	t.Parallel()
	b := newTestBus(t, WithMailboxSize(1))

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	Subscribe(b, "blocker", func(_ context.Context, _ event.NewBlock) error {
		once.Do(func() { close(started) })
		<-release
		return nil
	})
	defer close(release)

	bg := context.Background()
	require.NoError(t, b.Publish(bg, event.NewBlock{Height: 1}))
	<-started
	require.NoError(t, b.Publish(bg, event.NewBlock{Height: 2}))

	ctx, cancel := context.WithTimeout(bg, 50*time.Millisecond)
	defer cancel()
	err := b.Publish(ctx, event.NewBlock{Height: 3})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type recordingOutbox struct {
	mu     sync.Mutex
	events []event.Event
}

func (o *recordingOutbox) Publish(_ context.Context, e event.Event) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, e)
	return nil
}

func TestBus_ForwardsOutboundKinds(t *testing.T) {
	t.Parallel()

	outbox := &recordingOutbox{}
	b := New(slog.Default(), WithOutbox(outbox, event.KindPaymentReceived))

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, event.PaymentReceived{InvoiceID: "inv-1"}))
	require.NoError(t, b.Publish(ctx, event.NewBlock{Height: 1}))
	b.Close()

	outbox.mu.Lock()
	defer outbox.mu.Unlock()
	require.Len(t, outbox.events, 1)
	assert.Equal(t, event.KindPaymentReceived, outbox.events[0].Kind())
}

func TestBus_PublishNil(t *testing.T) {
	t.Parallel()
	b := newTestBus(t)
	assert.Error(t, b.Publish(context.Background(), nil))
}
