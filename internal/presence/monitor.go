// Package presence tracks whether the host can reach the network and turns
// connectivity changes into edge-triggered signals.
package presence

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/sitewatch/monitor/internal/broadcast"
	"github.com/sitewatch/monitor/internal/log"
)

// Signal is a connectivity transition.
type Signal int

const (
	// Restored is emitted when the host goes from offline to online.
	Restored Signal = iota + 1
	// Lost is emitted when the host goes from online to offline.
	Lost
)

func (s Signal) String() string {
	switch s {
	case Restored:
		return "restored"
	case Lost:
		return "lost"
	default:
		return "unknown"
	}
}

// Source is the read side of a Monitor that connection managers depend on.
type Source interface {
	Online() bool
	Subscribe(fn func(Signal)) (unsubscribe func())
}

// Monitor holds the current presence and notifies subscribers on each edge.
// A fresh Monitor assumes the host is online.
type Monitor struct {
	setMu   sync.Mutex // orders edges and their publication
	mu      sync.Mutex
	online  bool
	signals *broadcast.Broadcaster[Signal]
	logger  zerolog.Logger
}

// NewMonitor creates a Monitor in the online state.
func NewMonitor() *Monitor {
	return &Monitor{
		online:  true,
		signals: broadcast.New[Signal](),
		logger:  log.WithComponent("presence"),
	}
}

// Online reports the last known presence.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers fn for future signals.
func (m *Monitor) Subscribe(fn func(Signal)) (unsubscribe func()) {
	return m.signals.Subscribe(fn)
}

// Set records the observed presence. Subscribers are called only when the
// value changes; repeated reports of the same state are ignored. Concurrent
// calls publish their edges in the order the state changed, so the last
// signal delivered always matches Online.
func (m *Monitor) Set(online bool) {
	m.setMu.Lock()
	defer m.setMu.Unlock()

	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	m.mu.Unlock()

	sig := Lost
	if online {
		sig = Restored
	}
	m.logger.Info().Stringer("signal", sig).Msg("presence changed")
	m.signals.Publish(sig)
}
