package application

import (
	"time"

	"github.com/felkor/tempobot/internal/modules/diagnostics/domain"
)

// StatusInteractor handles the status use case.
type StatusInteractor struct {
	started time.Time
	version string
}

// NewStatusInteractor creates a StatusInteractor anchored at the current time.
func NewStatusInteractor(version string) *StatusInteractor {
	return &StatusInteractor{
		started: time.Now(),
		version: version,
	}
}

// Execute builds a status snapshot from the given gateway latency.
func (s *StatusInteractor) Execute(latency time.Duration) *domain.Status {
	return domain.NewStatus(s.started, latency, s.version)
}
