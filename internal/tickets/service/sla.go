package service

import (
	"time"

	"crm_saas_backend/internal/tickets/transport"
)

// SLATarget is the first-response and resolution window for a priority.
type SLATarget struct {
	FirstResponse time.Duration
	Resolution    time.Duration
}

var slaTargets = map[string]SLATarget{
	transport.PriorityCritical: {FirstResponse: time.Hour, Resolution: 4 * time.Hour},
	transport.PriorityHigh:     {FirstResponse: 4 * time.Hour, Resolution: 24 * time.Hour},
	transport.PriorityMedium:   {FirstResponse: 8 * time.Hour, Resolution: 48 * time.Hour},
	transport.PriorityLow:      {FirstResponse: 24 * time.Hour, Resolution: 120 * time.Hour},
}

// TargetFor falls back to Medium for unknown priorities.
func TargetFor(priority string) SLATarget {
	if t, ok := slaTargets[priority]; ok {
		return t
	}
	return slaTargets[transport.PriorityMedium]
}

var priorityLadder = []string{
	transport.PriorityLow,
	transport.PriorityMedium,
	transport.PriorityHigh,
	transport.PriorityCritical,
}

// RaisePriority returns the next priority up, capped at Critical.
func RaisePriority(p string) string {
	for i, v := range priorityLadder {
		if v == p && i+1 < len(priorityLadder) {
			return priorityLadder[i+1]
		}
	}
	return transport.PriorityCritical
}

// CanTransition reports whether status may move from one value to another.
func CanTransition(from, to string) bool {
	if from == to {
		return true
	}
	if from == transport.StatusClosed {
		return to == transport.StatusReopened
	}
	return true
}
