package domain

// RepeatMode controls what the queue hands out once a track finishes.
type RepeatMode int

const (
	RepeatOff    RepeatMode = iota // Default: play through the queue once
	RepeatSingle                   // Replay the last played track indefinitely
	RepeatAll                      // Re-enqueue finished tracks at the back
)

// String returns a human-readable representation of the repeat mode.
func (m RepeatMode) String() string {
	switch m {
	case RepeatSingle:
		return "single"
	case RepeatAll:
		return "all"
	default:
		return "off"
	}
}

// ParseRepeatMode converts a string to a RepeatMode.
func ParseRepeatMode(s string) RepeatMode {
	switch s {
	case "single":
		return RepeatSingle
	case "all":
		return RepeatAll
	default:
		return RepeatOff
	}
}
