// Package commands implements the liveroom command line client.
package commands

import (
	"net/http"
	"time"

	"github.com/nagpalvipin/slido-clone-sub000/internal/adapter/rest"
	"github.com/nagpalvipin/slido-clone-sub000/internal/adapter/websocket"
	"github.com/nagpalvipin/slido-clone-sub000/internal/client"
	"github.com/nagpalvipin/slido-clone-sub000/internal/domain"
	"github.com/nagpalvipin/slido-clone-sub000/internal/platform/version"
)

type Flags struct {
	Server    string
	API       string
	Token     string
	LogLevel  string
	LogFormat string
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// controller builds a reconnecting client for eventID. Resync is enabled
// only when an API base URL is set.
func (f *Flags) controller(eventID domain.EventID, handler client.Handler) *client.Controller {
	header := http.Header{}
	header.Set("User-Agent", version.UserAgent("liveroom"))

	cfg := client.ControllerConfig{
		EventID:   eventID,
		Dialer:    websocket.NewDialer(f.Server, f.Token, header),
		Handler:   handler,
		BaseDelay: f.BaseDelay,
		MaxDelay:  f.MaxDelay,
	}
	if f.API != "" {
		cfg.Resyncer = rest.NewFetcher(f.API, f.Token)
	}
	return client.NewController(cfg)
}
