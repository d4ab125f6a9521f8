package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sitewatch/monitor/internal/alarm"
	"github.com/sitewatch/monitor/internal/api"
	"github.com/sitewatch/monitor/internal/broadcast"
	"github.com/sitewatch/monitor/internal/config"
	"github.com/sitewatch/monitor/internal/log"
	"github.com/sitewatch/monitor/internal/messaging"
	"github.com/sitewatch/monitor/internal/presence"
	"github.com/sitewatch/monitor/internal/protocol"
	"github.com/sitewatch/monitor/internal/sites"
	"github.com/sitewatch/monitor/internal/stream"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the alarm stream and serve status until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Stream.URL == "" {
			return errors.New("config: stream.url is required for watch")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runWatch(ctx, cfg)
	},
}

// runWatch builds every component, wires them together and blocks until ctx
// is cancelled.
func runWatch(ctx context.Context, cfg *config.Config) error {
	logger := log.WithComponent("watch")
	logger.Info().
		Str("api", cfg.API.BaseURL).
		Str("stream", cfg.Stream.URL).
		Str("redis", cfg.Redis.Addr).
		Str("nats", cfg.NATS.URL).
		Str("metrics", cfg.Metrics.Addr).
		Msg("sitewatch starting")

	// --- Request client ---
	failures := broadcast.New[api.Failure]()
	defer failures.Subscribe(func(f api.Failure) {
		logger.Warn().Str("category", string(f.Category)).Msg(f.Message)
	})()

	var client *api.Client
	client = api.New(
		api.Config{BaseURL: cfg.API.BaseURL, Timeout: cfg.API.Timeout},
		api.WithFailures(failures),
		api.WithToken(cfg.API.Token),
		api.OnSessionExpired(func() {
			client.SetToken("")
			logger.Warn().Msg("session expired, credentials cleared")
		}),
	)

	// --- Presence ---
	monitor := presence.NewMonitor()
	if addr := cfg.PresenceAddress(); addr != "" {
		prober := presence.NewProber(presence.ProberConfig{
			Address:  addr,
			Interval: cfg.Presence.Interval,
			Timeout:  cfg.Presence.Timeout,
		}, monitor, nil)
		go prober.Run(ctx)
	}

	// --- Alarm feed ---
	feed := alarm.NewFeed()
	var writer *alarm.Writer
	if cfg.Redis.Addr != "" {
		store, err := alarm.Dial(ctx, cfg.Redis.Addr)
		if err != nil {
			return err
		}
		defer store.Close()

		recent, err := store.Recent(ctx, alarm.MaxFeedAlarms)
		if err != nil {
			logger.Warn().Err(err).Msg("could not load stored alarms")
		} else {
			feed.Restore(recent)
			logger.Info().Int("alarms", len(recent)).Msg("alarm feed restored")
		}

		writer = alarm.NewWriter(store, alarm.DefaultWriteQueue)
		defer writer.Close()
	}
	dispatcher := alarm.NewDispatcher()
	alarm.Route(dispatcher, feed, writer)

	// --- Stream ---
	streamCfg := stream.DefaultConfig(cfg.Stream.URL)
	streamCfg.PingInterval = cfg.Stream.PingInterval
	mgr := stream.New[protocol.Event](streamCfg, stream.WithPresence(monitor))
	defer mgr.Close()

	mgr.OnEvent(dispatcher.Dispatch)
	mgr.OnStatus(func(s stream.Status) {
		logger.Info().Stringer("status", s).Msg("stream status changed")
	})

	// --- NATS relay ---
	if cfg.NATS.URL != "" {
		natsCfg := messaging.DefaultNATSConfig()
		natsCfg.URL = cfg.NATS.URL
		nc, err := messaging.NewNATSClient(natsCfg)
		if err != nil {
			return err
		}
		defer nc.Close()

		relay := messaging.NewRelay(nc, messaging.RelayConfig{Rate: cfg.Relay.Rate, Burst: cfg.Relay.Burst})
		defer relay.Attach(failures)()
		mgr.OnEvent(relay.RelayEvent)
	}

	// --- Sites ---
	go sites.NewService(client).Poll(ctx, 1, sites.DefaultPollInterval, func(resp protocol.SitesResponse) {
		logger.Info().
			Int("sites", len(resp.Sites)).
			Int("total", resp.Pagination.Total).
			Msg("site listing refreshed")
	})

	// --- Status server ---
	srv := &http.Server{
		Addr: cfg.Metrics.Addr,
		Handler: newStatusRouter(statusSource{
			stream:      mgr.Status,
			online:      monitor.Online,
			alarms:      feed.List,
			acknowledge: acknowledger(feed, writer),
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("status server failed")
		}
	}()

	if err := mgr.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	_ = mgr.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("status server shutdown")
	}
	return nil
}
