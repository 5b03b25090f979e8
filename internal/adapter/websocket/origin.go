package websocket

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// OriginPolicy decides which browser origins may open a live connection.
// Requests without an Origin header come from non-browser clients and are
// always accepted.
type OriginPolicy struct {
	AppURL      string
	Extra       []string
	Development bool
}

// CheckOrigin builds the upgrader callback for p.
func (p OriginPolicy) CheckOrigin() func(r *http.Request) bool {
	allowed := make(map[string]struct{}, len(p.Extra)+1)
	for _, raw := range append([]string{p.AppURL}, p.Extra...) {
		if origin := normalizeOrigin(raw); origin != "" {
			allowed[origin] = struct{}{}
		}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := allowed[normalizeOrigin(origin)]; ok {
			return true
		}
		if p.Development && isLoopback(origin) {
			return true
		}
		slog.Warn("Live connection origin rejected",
			"origin", origin, "event_id", eventFromPath(r.URL.Path), "remote_addr", r.RemoteAddr)
		return false
	}
}

// normalizeOrigin reduces a URL to scheme://host[:port] in lower case.
func normalizeOrigin(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme + "://" + u.Host)
}

func isLoopback(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}

func eventFromPath(path string) string {
	_, id, _ := strings.Cut(path, "/ws/events/")
	return id
}
