package messaging

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/sitewatch/monitor/internal/api"
	"github.com/sitewatch/monitor/internal/broadcast"
	"github.com/sitewatch/monitor/internal/log"
	"github.com/sitewatch/monitor/internal/metrics"
	"github.com/sitewatch/monitor/internal/protocol"
)

// RelayConfig bounds relay volume. A Rate of zero or less disables limiting.
type RelayConfig struct {
	Rate  float64 // messages per second
	Burst int
}

// DefaultRelayConfig allows short failure storms through and then throttles.
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{Rate: 10, Burst: 20}
}

// FailureMessage is the JSON body published for a classified failure.
type FailureMessage struct {
	Message  string       `json:"message"`
	Category api.Category `json:"category"`
	At       time.Time    `json:"at"`
}

// Relay forwards failures and alarm events to a Publisher. Publishing is
// synchronous; every message passes one shared token bucket and messages
// that find it empty are dropped and counted.
type Relay struct {
	pub     Publisher
	limiter *rate.Limiter
	logger  zerolog.Logger
	now     func() time.Time
}

// NewRelay creates a Relay publishing to pub.
func NewRelay(pub Publisher, cfg RelayConfig) *Relay {
	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &Relay{
		pub:     pub,
		limiter: rate.NewLimiter(limit, burst),
		logger:  log.WithComponent("relay"),
		now:     time.Now,
	}
}

// Attach subscribes the relay to failures and returns the unsubscribe func.
func (r *Relay) Attach(failures *broadcast.Broadcaster[api.Failure]) (unsubscribe func()) {
	return failures.Subscribe(r.RelayFailure)
}

// RelayFailure publishes f on sitewatch.failures.<category>.
func (r *Relay) RelayFailure(f api.Failure) {
	msg := FailureMessage{Message: f.Message, Category: f.Category, At: r.now().UTC()}
	r.publish("failure", SubjectFailures+"."+string(f.Category), msg)
}

// RelayEvent publishes alarm events on sitewatch.alarms.<event>. Other event
// types are ignored.
func (r *Relay) RelayEvent(e protocol.Event) {
	if e.Event != protocol.EventAlarmCreated && e.Event != protocol.EventAlarmUpdated {
		return
	}
	r.publish("alarm", SubjectAlarms+"."+e.Event, e)
}

func (r *Relay) publish(kind, subject string, v any) {
	if !r.limiter.Allow() {
		metrics.RelayDropped.WithLabelValues(kind).Inc()
		r.logger.Debug().Str("subject", subject).Msg("relay rate limited, message dropped")
		return
	}

	data, err := json.Marshal(v)
	if err != nil {
		r.logger.Error().Err(err).Str("subject", subject).Msg("failed to encode relay message")
		return
	}
	if err := r.pub.Publish(subject, data); err != nil {
		r.logger.Warn().Err(err).Str("subject", subject).Msg("relay publish failed")
	}
}
