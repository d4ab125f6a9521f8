package messaging

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitewatch/monitor/internal/api"
	"github.com/sitewatch/monitor/internal/broadcast"
	"github.com/sitewatch/monitor/internal/metrics"
	"github.com/sitewatch/monitor/internal/protocol"
)

type published struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{subject, data})
	return p.err
}

func (p *fakePublisher) all() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.msgs...)
}

func TestRelay_FailureSubjectAndBody(t *testing.T) {
	pub := &fakePublisher{}
	r := NewRelay(pub, RelayConfig{})
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return at }

	failures := broadcast.New[api.Failure]()
	unsub := r.Attach(failures)
	failures.Publish(api.Failure{Message: api.MsgNetwork, Category: api.CategoryNetwork})
	unsub()
	failures.Publish(api.Failure{Message: api.MsgServer, Category: api.CategoryServer})

	msgs := pub.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, "sitewatch.failures.network", msgs[0].subject)

	var body FailureMessage
	require.NoError(t, json.Unmarshal(msgs[0].data, &body))
	assert.Equal(t, FailureMessage{Message: api.MsgNetwork, Category: api.CategoryNetwork, At: at}, body)
}

func TestRelay_AlarmEventsOnly(t *testing.T) {
	pub := &fakePublisher{}
	r := NewRelay(pub, RelayConfig{})

	r.RelayEvent(protocol.Event{Event: protocol.EventAlarmCreated, Data: json.RawMessage(`{"id":"a1"}`)})
	r.RelayEvent(protocol.Event{Event: protocol.EventConnectionStatus})
	r.RelayEvent(protocol.Event{Event: protocol.EventAlarmUpdated, Data: json.RawMessage(`{"id":"a1"}`)})

	msgs := pub.all()
	require.Len(t, msgs, 2)
	assert.Equal(t, "sitewatch.alarms.alarm.created", msgs[0].subject)
	assert.Equal(t, "sitewatch.alarms.alarm.updated", msgs[1].subject)
	assert.JSONEq(t, `{"event":"alarm.created","data":{"id":"a1"}}`, string(msgs[0].data))
}

func TestRelay_RateLimitDropsAndCounts(t *testing.T) {
	pub := &fakePublisher{}
	// One token and a refill far slower than the test.
	r := NewRelay(pub, RelayConfig{Rate: 0.001, Burst: 1})
	before := testutil.ToFloat64(metrics.RelayDropped.WithLabelValues("failure"))

	for i := 0; i < 5; i++ {
		r.RelayFailure(api.Failure{Message: api.MsgServer, Category: api.CategoryServer})
	}

	assert.Len(t, pub.all(), 1)
	assert.Equal(t, before+4, testutil.ToFloat64(metrics.RelayDropped.WithLabelValues("failure")))
}

func TestRelay_PublishErrorIsSwallowed(t *testing.T) {
	pub := &fakePublisher{err: errors.New("nats: connection closed")}
	r := NewRelay(pub, DefaultRelayConfig())

	assert.NotPanics(t, func() {
		r.RelayFailure(api.Failure{Message: api.MsgNotFound, Category: api.CategoryClient})
	})
	assert.Len(t, pub.all(), 1)
}
