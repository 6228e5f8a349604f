package domain

import (
	"fmt"
	"time"
)

// Status is a point-in-time health snapshot of the running bot.
type Status struct {
	GatewayLatency time.Duration
	Uptime         time.Duration
	Version        string
}

// NewStatus builds a Status from the process start time and the current
// gateway heartbeat latency.
func NewStatus(started time.Time, latency time.Duration, version string) *Status {
	return &Status{
		GatewayLatency: latency,
		Uptime:         time.Since(started),
		Version:        version,
	}
}

// Summary renders the status as a single human-readable line.
func (s *Status) Summary() string {
	return fmt.Sprintf("Pong! Gateway latency %dms, up %s (version %s)",
		s.GatewayLatency.Milliseconds(), FormatUptime(s.Uptime), s.Version)
}

// FormatUptime renders a duration as a compact "2d 3h 4m" style string,
// dropping leading zero components.
func FormatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	days := int(d / (24 * time.Hour))
	hours := int(d/time.Hour) % 24
	minutes := int(d/time.Minute) % 60
	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	default:
		return fmt.Sprintf("%dm", minutes)
	}
}
