package alarm

import (
	"sync"
	"time"

	"github.com/sitewatch/monitor/internal/protocol"
)

// MaxFeedAlarms is the number of recent alarms retained.
const MaxFeedAlarms = 50

// Feed stores the most recent alarms in memory, newest first.
// It is goroutine-safe and uses a ring buffer internally.
type Feed struct {
	mu    sync.RWMutex
	items []protocol.Alarm
	pos   int // next write slot
	count int
	now   func() time.Time
}

// NewFeed creates an empty Feed.
func NewFeed() *Feed {
	return &Feed{
		items: make([]protocol.Alarm, MaxFeedAlarms),
		now:   time.Now,
	}
}

// Add records a newly raised alarm. It is stamped active with the receive
// time; once the feed is full the oldest alarm is overwritten. The stored
// alarm is returned.
func (f *Feed) Add(a protocol.Alarm) protocol.Alarm {
	a.Status = protocol.StatusActive
	a.Timestamp = f.now().UTC()

	f.mu.Lock()
	defer f.mu.Unlock()

	f.items[f.pos] = a
	f.pos = (f.pos + 1) % MaxFeedAlarms
	if f.count < MaxFeedAlarms {
		f.count++
	}
	return a
}

// Restore replaces the feed contents with alarms, given newest first, as
// returned by Store.Recent. Alarms are kept as stored, without restamping.
func (f *Feed) Restore(alarms []protocol.Alarm) {
	if len(alarms) > MaxFeedAlarms {
		alarms = alarms[:MaxFeedAlarms]
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.items = make([]protocol.Alarm, MaxFeedAlarms)
	f.count = len(alarms)
	f.pos = f.count % MaxFeedAlarms
	for i, a := range alarms {
		f.items[f.count-1-i] = a
	}
}

// Update replaces the retained alarm with the same ID. It reports false when
// the alarm is not in the feed.
func (f *Feed) Update(a protocol.Alarm) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	i, ok := f.indexLocked(a.ID)
	if !ok {
		return false
	}
	f.items[i] = a
	return true
}

// Acknowledge marks the alarm acknowledged at the current time.
func (f *Feed) Acknowledge(id string) (protocol.Alarm, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	i, ok := f.indexLocked(id)
	if !ok {
		return protocol.Alarm{}, false
	}
	at := f.now().UTC()
	f.items[i].Status = protocol.StatusAcknowledged
	f.items[i].AcknowledgedAt = &at
	return f.items[i], true
}

// List returns the retained alarms, newest first.
func (f *Feed) List() []protocol.Alarm {
	f.mu.RLock()
	defer f.mu.RUnlock()

	result := make([]protocol.Alarm, f.count)
	for i := 0; i < f.count; i++ {
		result[i] = f.items[f.slot(i)]
	}
	return result
}

// Len returns the number of retained alarms.
func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.count
}

// slot maps a newest-first index to a ring position.
func (f *Feed) slot(i int) int {
	return (f.pos - 1 - i + 2*MaxFeedAlarms) % MaxFeedAlarms
}

// indexLocked finds the newest entry for id.
func (f *Feed) indexLocked(id string) (int, bool) {
	for i := 0; i < f.count; i++ {
		if s := f.slot(i); f.items[s].ID == id {
			return s, true
		}
	}
	return 0, false
}
