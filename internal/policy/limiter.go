package policy

import (
	"fmt"
	"time"
)

// LimiterSettings bounds how often the voice may speak in a session
type LimiterSettings struct {
	MaxInterventions  int
	Window            time.Duration
	MinSpacing        time.Duration
	EngagementCeiling int
}

// DefaultLimiterSettings returns the compiled defaults
func DefaultLimiterSettings() LimiterSettings {
	return LimiterSettings{
		MaxInterventions:  3,
		Window:            5 * time.Minute,
		MinSpacing:        20 * time.Second,
		EngagementCeiling: 80,
	}
}

// Limiter decides whether another intervention is allowed. It keeps no
// state: the caller passes the session's past intervention times.
type Limiter struct {
	settings LimiterSettings
}

// NewLimiter creates a limiter
func NewLimiter(settings LimiterSettings) *Limiter {
	return &Limiter{settings: settings}
}

// Allow reports whether an intervention at now is permitted, and why not
func (l *Limiter) Allow(interventions []time.Time, now time.Time, engagement int) (bool, string) {
	s := l.settings
	if engagement > s.EngagementCeiling {
		return false, fmt.Sprintf("engagement %d above %d", engagement, s.EngagementCeiling)
	}

	var inWindow int
	var latest time.Time
	for _, at := range interventions {
		if at.After(now) {
			continue
		}
		if now.Sub(at) < s.Window {
			inWindow++
		}
		if at.After(latest) {
			latest = at
		}
	}

	if s.MaxInterventions > 0 && inWindow >= s.MaxInterventions {
		return false, fmt.Sprintf("%d interventions in the last %s", inWindow, s.Window)
	}
	if !latest.IsZero() && now.Sub(latest) < s.MinSpacing {
		return false, fmt.Sprintf("last intervention %s ago", now.Sub(latest).Round(time.Second))
	}
	return true, ""
}

// Since returns the earliest time whose interventions can still matter at now
func (l *Limiter) Since(now time.Time) time.Time {
	lookback := l.settings.Window
	if l.settings.MinSpacing > lookback {
		lookback = l.settings.MinSpacing
	}
	return now.Add(-lookback)
}
