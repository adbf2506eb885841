package domain

import "time"

// Timing holds every duration the session's timers are armed with.
type Timing struct {
	RampDuration         time.Duration
	RevealDuration       time.Duration
	BlurDuration         time.Duration
	TypingInactivity     time.Duration
	TypingStaleness      time.Duration
	ReadReceiptCap       int
	RefreshInterval      time.Duration
	RefreshTimeout       time.Duration
	HandleDrawAttempts   int
	ObserverPollInterval time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		RampDuration:         600 * time.Millisecond,
		RevealDuration:       7 * time.Second,
		BlurDuration:         300 * time.Millisecond,
		TypingInactivity:     3 * time.Second,
		TypingStaleness:      5 * time.Second,
		ReadReceiptCap:       100,
		RefreshInterval:      24 * time.Hour,
		RefreshTimeout:       10 * time.Second,
		HandleDrawAttempts:   50,
		ObserverPollInterval: time.Second,
	}
}

// Config describes the directory node as seen by its clients.
type Config struct {
	FQDN    string `yaml:"fqdn"`
	Version string `yaml:"version"`
}
