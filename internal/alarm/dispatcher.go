// Package alarm keeps the dashboard's alarm feed current from stream events.
package alarm

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/sitewatch/monitor/internal/log"
	"github.com/sitewatch/monitor/internal/protocol"
)

// Handler is the callback signature for one decoded stream event.
type Handler func(e protocol.Event)

// Dispatcher routes stream events to registered handlers by event type.
// Events with no registered handler are logged and dropped.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   zerolog.Logger
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string][]Handler),
		logger:   log.WithComponent("alarm"),
	}
}

// Register adds handler for eventType. Handlers for the same type run in
// registration order.
func (d *Dispatcher) Register(eventType string, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[eventType] = append(d.handlers[eventType], handler)
}

// Dispatch is suitable as a stream.Manager event subscriber.
func (d *Dispatcher) Dispatch(e protocol.Event) {
	d.mu.RLock()
	hs := d.handlers[e.Event]
	d.mu.RUnlock()

	if len(hs) == 0 {
		d.logger.Debug().Str("event", e.Event).Msg("no handler for stream event")
		return
	}
	for _, h := range hs {
		h(e)
	}
}
