// Package server normalizes and validates HTTP origins for WebSocket
// upgrade requests against the configured allow list.
package server

import (
	"log"
	"net/http"
	"net/url"
	"strings"
)

// normalizeOrigins canonicalizes the configured origin list and reports
// whether a wildcard entry was present. Invalid entries are dropped with a
// log line rather than failing startup.
func normalizeOrigins(origins []string) ([]string, bool) {
	if len(origins) == 0 {
		return nil, false
	}

	normalized := make([]string, 0, len(origins))
	allowAll := false

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		switch {
		case trimmed == "":
			continue
		case trimmed == "*":
			allowAll = true
		default:
			canonical, ok := normalizeOrigin(trimmed)
			if !ok {
				log.Printf("Ignoring invalid origin in configuration: %q", origin)
				continue
			}
			normalized = append(normalized, canonical)
		}
	}

	return normalized, allowAll
}

// normalizeOrigin reduces an origin to lowercase scheme://host form.
func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

// checkOrigin is the upgrader's origin policy: requests without a valid,
// allow-listed Origin header are rejected before the upgrade.
func checkOrigin(r *http.Request) bool {
	originHeader := r.Header.Get("Origin")

	canonical, ok := normalizeOrigin(originHeader)
	if ok {
		configMu.RLock()
		if allowAllOrigins {
			configMu.RUnlock()
			return true
		}
		_, allowed := allowedOrigins[canonical]
		configMu.RUnlock()
		if allowed {
			return true
		}
	}

	log.Printf("Blocked WebSocket connection from disallowed origin: %q", originHeader)
	return false
}
