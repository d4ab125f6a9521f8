package cmd

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitewatch/monitor/internal/alarm"
	"github.com/sitewatch/monitor/internal/protocol"
	"github.com/sitewatch/monitor/internal/stream"
)

func TestStatusRouter_Healthz(t *testing.T) {
	status := stream.Reconnecting
	router := newStatusRouter(statusSource{
		stream: func() stream.Status { return status },
		online: func() bool { return true },
		alarms: func() []protocol.Alarm { return []protocol.Alarm{{ID: "a1"}} },
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"stream":"reconnecting","online":true,"alarms":1}`, rec.Body.String())

	status = stream.Connected
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusRouter_AlarmsAndMetrics(t *testing.T) {
	router := newStatusRouter(statusSource{
		stream: func() stream.Status { return stream.Connected },
		online: func() bool { return true },
		alarms: func() []protocol.Alarm {
			return []protocol.Alarm{{ID: "a2", Severity: protocol.SeverityHigh}, {ID: "a1"}}
		},
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/alarms", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var alarms []protocol.Alarm
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &alarms))
	require.Len(t, alarms, 2)
	assert.Equal(t, "a2", alarms[0].ID)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sitewatch_stream_reconnects_total")
}

func TestStatusRouter_AcknowledgePersists(t *testing.T) {
	mr := miniredis.RunT(t)
	store := alarm.NewStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	defer store.Close()
	w := alarm.NewWriter(store, 4)

	feed := alarm.NewFeed()
	w.Push(feed.Add(protocol.Alarm{ID: "a1", SiteID: "s1", Severity: protocol.SeverityCritical, Message: "Smoke"}))

	router := newStatusRouter(statusSource{
		stream:      func() stream.Status { return stream.Connected },
		online:      func() bool { return true },
		alarms:      feed.List,
		acknowledge: acknowledger(feed, w),
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/alarms/a1/ack", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var acked protocol.Alarm
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &acked))
	assert.Equal(t, "a1", acked.ID)
	assert.Equal(t, protocol.StatusAcknowledged, acked.Status)
	assert.NotNil(t, acked.AcknowledgedAt)
	assert.Equal(t, protocol.StatusAcknowledged, feed.List()[0].Status)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/alarms/missing/ack", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	w.Close()
	stored, err := store.Recent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, protocol.StatusAcknowledged, stored[0].Status)
	require.NotNil(t, stored[0].AcknowledgedAt)
}

func TestStatusRouter_NoAckRouteWithoutHandler(t *testing.T) {
	router := newStatusRouter(statusSource{
		stream: func() stream.Status { return stream.Connected },
		online: func() bool { return true },
		alarms: func() []protocol.Alarm { return nil },
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/alarms/a1/ack", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
