package progress

import (
	"time"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
	StatusExited    Status = "exited"
)

// StepHit is one matched step with the activity timestamp that matched it.
type StepHit struct {
	Step int       `json:"step"`
	At   time.Time `json:"at"`
}

// Branch is a step that would also have matched a record but lost the
// tie-break to an earlier-declared step. The path analyzer reads these.
type Branch struct {
	Step int       `json:"step"`
	At   time.Time `json:"at"`
}

// Progression tracks how far one identity has advanced through one
// funnel version. At most one non-terminal progression exists per
// (version, identity); terminal records are retained for analytics.
type Progression struct {
	FunnelID  string `json:"funnelId"`
	VersionID string `json:"versionId"`
	Identity  string `json:"identity"`
	Seq       int    `json:"seq"` // ordinal for re-entries after a terminal state

	CurrentStep    int        `json:"currentStep"`
	EnteredAt      time.Time  `json:"enteredAt"`
	LastActivityAt time.Time  `json:"lastActivityAt"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	ExitedAt       *time.Time `json:"exitedAt,omitempty"`
	ExpiredAt      *time.Time `json:"expiredAt,omitempty"`
	ExitStep       *int       `json:"exitStep,omitempty"`
	Status         Status     `json:"status"`

	Path     []StepHit `json:"path"`
	Rejected []Branch  `json:"rejected,omitempty"`
}

// Terminal reports whether the progression can no longer advance.
func (p *Progression) Terminal() bool {
	return p.Status != StatusActive
}

// TerminalAt returns when the progression left the active state, or nil.
func (p *Progression) TerminalAt() *time.Time {
	switch p.Status {
	case StatusCompleted:
		return p.CompletedAt
	case StatusExited:
		return p.ExitedAt
	case StatusExpired:
		return p.ExpiredAt
	default:
		return nil
	}
}

// ReachedStep reports whether the progression ever matched step index i.
func (p *Progression) ReachedStep(i int) bool {
	for _, h := range p.Path {
		if h.Step == i {
			return true
		}
	}
	return false
}

// ExpireIfIdle marks an active progression expired once its window has
// elapsed with no qualifying activity. Returns true if the status changed.
func (p *Progression) ExpireIfIdle(window time.Duration, now time.Time) bool {
	if p.Status != StatusActive {
		return false
	}
	deadline := p.LastActivityAt.Add(window)
	if !deadline.Before(now) {
		return false
	}
	p.Status = StatusExpired
	p.ExpiredAt = &deadline
	return true
}
