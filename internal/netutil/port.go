// Package netutil picks the address the HTTP API listens on.
package netutil

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
)

// ErrNoAddress is returned when neither the preferred address nor any
// candidate can be bound.
var ErrNoAddress = errors.New("netutil: no available bind address")

// Listen binds the preferred address, falling back to the first free
// candidate when autoFallback is set. The listener is returned open so the
// address cannot be taken between selection and serving.
func Listen(preferred string, candidates []string, autoFallback bool) (net.Listener, error) {
	if preferred != "" {
		ln, err := net.Listen("tcp", preferred)
		if err == nil {
			return ln, nil
		}
		if !autoFallback {
			return nil, fmt.Errorf("netutil: preferred bind address %s: %w", preferred, err)
		}
		slog.Warn("preferred bind address unavailable, trying candidates", "addr", preferred, "error", err)
	}

	for _, addr := range candidates {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			slog.Debug("bind candidate unavailable", "addr", addr, "error", err)
			continue
		}
		return ln, nil
	}
	return nil, ErrNoAddress
}
