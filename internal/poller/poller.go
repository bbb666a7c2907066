// Package poller holds what the block, transfer and balance pollers share.
package poller

import (
	"context"
	"sync/atomic"

	"github.com/emperorhan/bsc-payment-watcher/internal/domain/event"
	"github.com/emperorhan/bsc-payment-watcher/internal/domain/model"
)

// Publisher is the slice of the event bus a poller writes to.
type Publisher interface {
	Publish(ctx context.Context, e event.Event) error
}

// SettingsSource hands out the chain's current settings. Pollers take one
// snapshot per cycle.
type SettingsSource interface {
	Snapshot() model.ChainSettings
}

// Settings is an atomically swappable SettingsSource.
type Settings struct {
	v atomic.Pointer[model.ChainSettings]
}

func NewSettings(s model.ChainSettings) *Settings {
	out := &Settings{}
	out.Store(s)
	return out
}

func (s *Settings) Snapshot() model.ChainSettings {
	return *s.v.Load()
}

func (s *Settings) Store(v model.ChainSettings) {
	v = v.WithDefaults()
	s.v.Store(&v)
}
