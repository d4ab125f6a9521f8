package cmd

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sitewatch/monitor/internal/alarm"
	"github.com/sitewatch/monitor/internal/metrics"
	"github.com/sitewatch/monitor/internal/protocol"
	"github.com/sitewatch/monitor/internal/stream"
)

// statusSource exposes the live state the status server reports.
type statusSource struct {
	stream func() stream.Status
	online func() bool
	alarms func() []protocol.Alarm

	// acknowledge marks an alarm acknowledged; nil disables the ack route.
	acknowledge func(id string) (protocol.Alarm, bool)
}

// acknowledger acknowledges alarms in feed and queues the change on w when
// the feed is backed by a store.
func acknowledger(feed *alarm.Feed, w *alarm.Writer) func(string) (protocol.Alarm, bool) {
	return func(id string) (protocol.Alarm, bool) {
		a, ok := feed.Acknowledge(id)
		if ok && w != nil {
			w.Update(a)
		}
		return a, ok
	}
}

type healthResponse struct {
	Stream stream.Status `json:"stream"`
	Online bool          `json:"online"`
	Alarms int           `json:"alarms"`
}

// newStatusRouter serves /metrics, /healthz, /alarms and
// POST /alarms/{id}/ack. /healthz answers 503 while the stream is not
// connected.
func newStatusRouter(src statusSource) http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", metrics.Handler())

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		alarms := src.alarms()
		resp := healthResponse{Stream: src.stream(), Online: src.online(), Alarms: len(alarms)}
		code := http.StatusOK
		if resp.Stream != stream.Connected {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, resp)
	})

	r.Get("/alarms", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, src.alarms())
	})

	if src.acknowledge != nil {
		r.Post("/alarms/{id}/ack", func(w http.ResponseWriter, r *http.Request) {
			a, ok := src.acknowledge(chi.URLParam(r, "id"))
			if !ok {
				writeJSON(w, http.StatusNotFound, map[string]string{"message": "alarm not found"})
				return
			}
			writeJSON(w, http.StatusOK, a)
		})
	}
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
