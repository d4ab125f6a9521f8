// Package sites lists the monitored sites through the request client.
package sites

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/sitewatch/monitor/internal/api"
	"github.com/sitewatch/monitor/internal/log"
	"github.com/sitewatch/monitor/internal/protocol"
)

// DefaultPollInterval matches the dashboard's refetch period.
const DefaultPollInterval = 5 * time.Minute

// Service fetches site listings.
type Service struct {
	client *api.Client
	logger zerolog.Logger
}

// NewService creates a Service backed by client.
func NewService(client *api.Client) *Service {
	return &Service{client: client, logger: log.WithComponent("sites")}
}

// List fetches one page of sites. Pages start at 1.
func (s *Service) List(ctx context.Context, page int) (protocol.SitesResponse, error) {
	if page < 1 {
		page = 1
	}
	var resp protocol.SitesResponse
	err := s.client.Get(ctx, "/api/sites", &resp, api.WithQuery("page", strconv.Itoa(page)))
	return resp, err
}

// Poll fetches page immediately and then every interval until ctx is
// cancelled, handing each successful listing to fn. Failures have already
// been classified and broadcast by the client, so they are only logged here.
func (s *Service) Poll(ctx context.Context, page int, interval time.Duration, fn func(protocol.SitesResponse)) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		resp, err := s.List(ctx, page)
		switch {
		case err == nil:
			fn(resp)
		case ctx.Err() != nil:
			return
		default:
			s.logger.Warn().Err(err).Int("page", page).Msg("site listing failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
