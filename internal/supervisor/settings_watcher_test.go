package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emperorhan/bsc-payment-watcher/internal/domain/event"
	"github.com/emperorhan/bsc-payment-watcher/internal/domain/model"
)

type recordingBus struct {
	mu     sync.Mutex
	events []event.Event
	err    error
}

func (b *recordingBus) Publish(_ context.Context, e event.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.events = append(b.events, e)
	return nil
}

func (b *recordingBus) changed() []model.ChainID {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []model.ChainID
	for _, e := range b.events {
		out = append(out, e.(event.ChainSettingsChanged).ChainID)
	}
	return out
}

func (b *recordingBus) reset() {
	b.mu.Lock()
	b.events = nil
	b.mu.Unlock()
}

func TestSettingsWatcher_FirstPollIsBaseline(t *testing.T) {
	repo := newMemSettings(configured(model.ChainBSCMainnet))
	bus := &recordingBus{}
	w := NewSettingsWatcher(repo, bus, testLogger(), time.Minute)

	w.Poll(context.Background())
	assert.Empty(t, bus.changed())
}

func TestSettingsWatcher_DetectsChanges(t *testing.T) {
	ctx := context.Background()
	repo := newMemSettings(configured(model.ChainBSCMainnet))
	bus := &recordingBus{}
	w := NewSettingsWatcher(repo, bus, testLogger(), time.Minute)
	w.Poll(ctx)

	t.Run("poller cursors are ignored", func(t *testing.T) {
		require.NoError(t, repo.AdvanceLastSeen(ctx, model.ChainBSCMainnet, 500))
		require.NoError(t, repo.SetNextScan(ctx, model.ChainBSCMainnet, 490))
		w.Poll(ctx)
		assert.Empty(t, bus.changed())
	})

	t.Run("operator field change", func(t *testing.T) {
		bus.reset()
		s := configured(model.ChainBSCMainnet)
		s.TransferWindow = 250
		require.NoError(t, repo.Save(ctx, s))
		w.Poll(ctx)
		assert.Equal(t, []model.ChainID{model.ChainBSCMainnet}, bus.changed())

		w.Poll(ctx)
		assert.Len(t, bus.changed(), 1, "reported once")
	})

	t.Run("new chain", func(t *testing.T) {
		bus.reset()
		require.NoError(t, repo.Save(ctx, configured(model.ChainBSCTestnet)))
		w.Poll(ctx)
		assert.Equal(t, []model.ChainID{model.ChainBSCTestnet}, bus.changed())
	})

	t.Run("removed chain", func(t *testing.T) {
		bus.reset()
		repo.remove(model.ChainBSCTestnet)
		w.Poll(ctx)
		assert.Equal(t, []model.ChainID{model.ChainBSCTestnet}, bus.changed())
	})
}

func TestSettingsWatcher_RetriesFailedPublish(t *testing.T) {
	ctx := context.Background()
	repo := newMemSettings(configured(model.ChainBSCMainnet))
	bus := &recordingBus{}
	w := NewSettingsWatcher(repo, bus, testLogger(), time.Minute)
	w.Poll(ctx)

	s := configured(model.ChainBSCMainnet)
	s.Password = "rotated"
	require.NoError(t, repo.Save(ctx, s))

	bus.err = errors.New("bus closed")
	w.Poll(ctx)
	assert.Empty(t, bus.changed())

	bus.err = nil
	w.Poll(ctx)
	assert.Equal(t, []model.ChainID{model.ChainBSCMainnet}, bus.changed())
}

func TestSettingsWatcher_ListFailureKeepsBaseline(t *testing.T) {
	ctx := context.Background()
	repo := newMemSettings(configured(model.ChainBSCMainnet))
	bus := &recordingBus{}
	w := NewSettingsWatcher(repo, bus, testLogger(), time.Minute)
	w.Poll(ctx)

	repo.listErr = errors.New("db down")
	w.Poll(ctx)
	repo.listErr = nil
	w.Poll(ctx)
	assert.Empty(t, bus.changed())
}
