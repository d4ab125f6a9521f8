package alarm

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitewatch/monitor/internal/metrics"
	"github.com/sitewatch/monitor/internal/protocol"
)

// silentRedis accepts connections and never answers.
func silentRedis(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var mu sync.Mutex
	var conns []net.Conn
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			_ = c.Close()
		}
	})
	return ln.Addr().String()
}

func createdEvent(id string) protocol.Event {
	return protocol.Event{
		Event: protocol.EventAlarmCreated,
		Data:  json.RawMessage(fmt.Sprintf(`{"id":%q,"siteId":"s1","severity":"high","message":"m"}`, id)),
	}
}

func TestWriter_PushThenUpdate(t *testing.T) {
	_, store := setupMiniRedis(t)
	w := NewWriter(store, 0)

	a := sampleAlarm("a1")
	assert.True(t, w.Push(a))
	a.Status = protocol.StatusResolved
	assert.True(t, w.Update(a))
	w.Close()

	alarms, err := store.Recent(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, alarms, 1)
	assert.Equal(t, protocol.StatusResolved, alarms[0].Status)
}

func TestWriter_RejectsAfterClose(t *testing.T) {
	_, store := setupMiniRedis(t)
	w := NewWriter(store, 1)
	w.Close()
	w.Close()

	assert.False(t, w.Push(sampleAlarm("a1")))
	assert.False(t, w.Update(sampleAlarm("a1")))
}

func TestWriter_DispatchDoesNotWaitOnRedis(t *testing.T) {
	store := NewStore(redis.NewClient(&redis.Options{
		Addr:                  silentRedis(t),
		ContextTimeoutEnabled: true,
		MaxRetries:            -1,
	}))
	defer store.Close()

	w := NewWriter(store, 1)
	w.timeout = 50 * time.Millisecond

	d := NewDispatcher()
	feed := NewFeed()
	Route(d, feed, w)

	droppedBefore := testutil.ToFloat64(metrics.AlarmWrites.WithLabelValues("dropped"))

	start := time.Now()
	for i := 0; i < 5; i++ {
		d.Dispatch(createdEvent(fmt.Sprintf("a%d", i)))
	}
	assert.Less(t, time.Since(start), 500*time.Millisecond, "dispatch waited on the store")
	assert.Equal(t, 5, feed.Len())
	assert.Greater(t, testutil.ToFloat64(metrics.AlarmWrites.WithLabelValues("dropped")), droppedBefore)

	start = time.Now()
	w.Close()
	assert.Less(t, time.Since(start), 2*time.Second, "queued writes ignored the write timeout")
}
