package detection

import (
	"context"
	"fmt"
	"time"

	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// OverlayKind tells the dashboard what to draw for a tick.
type OverlayKind string

// OverlayKind values.
const (
	OverlayCleared    OverlayKind = "cleared"
	OverlayRejected   OverlayKind = "rejected"
	OverlayIdentified OverlayKind = "identified"
	OverlayUnknown    OverlayKind = "unknown"
)

// Overlay box colors.
const (
	ColorRejected   = "#ff0000"
	ColorIdentified = "#00ff00"
	ColorUnknown    = "#ffff00"
)

// UnknownPersonLabel is drawn over faces that match nobody.
const UnknownPersonLabel = "Unknown Person"

// Overlay is the per-tick drawing instruction.
type Overlay struct {
	Kind       OverlayKind    `json:"kind"`
	Box        *facematch.Box `json:"box,omitempty"`
	Label      string         `json:"label,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	Confidence float64        `json:"confidence,omitempty"`
	Color      string         `json:"color,omitempty"`
	At         time.Time      `json:"at"`
}

func clearedOverlay(at time.Time) Overlay {
	return Overlay{Kind: OverlayCleared, At: at}
}

func rejectedOverlay(box facematch.Box, reason string, at time.Time) Overlay {
	return Overlay{Kind: OverlayRejected, Box: &box, Label: reason, Reason: reason, Color: ColorRejected, At: at}
}

func identifiedOverlay(box facematch.Box, match facematch.MatchResult, at time.Time) Overlay {
	return Overlay{
		Kind:       OverlayIdentified,
		Box:        &box,
		Label:      fmt.Sprintf("%s (%.1f%%)", match.Label, match.Confidence*100),
		Confidence: match.Confidence,
		Color:      ColorIdentified,
		At:         at,
	}
}

func unknownOverlay(box facematch.Box, match facematch.MatchResult, at time.Time) Overlay {
	return Overlay{
		Kind:       OverlayUnknown,
		Box:        &box,
		Label:      UnknownPersonLabel,
		Confidence: match.Confidence,
		Color:      ColorUnknown,
		At:         at,
	}
}

// CheckIn is one confirmed identification, appended to the session log.
type CheckIn struct {
	SessionID       string    `json:"session_id"`
	EmployeeID      int64     `json:"employee_id"`
	Name            string    `json:"name"`
	Confidence      float64   `json:"confidence"`
	Distance        float64   `json:"distance"`
	Recorded        bool      `json:"recorded"`
	Status          string    `json:"status,omitempty"`
	Lateness        string    `json:"lateness,omitempty"`
	LatenessMinutes int       `json:"lateness_minutes,omitempty"`
	At              time.Time `json:"at"`
}

// Event types sent to subscribers.
const (
	EventState    = "state"
	EventOverlay  = "overlay"
	EventCheckIn  = "checkin"
	EventDegraded = "degraded"
)

// Event is what subscribers receive.
type Event struct {
	Type     string   `json:"type"`
	State    State    `json:"state,omitempty"`
	Overlay  *Overlay `json:"overlay,omitempty"`
	CheckIn  *CheckIn `json:"checkin,omitempty"`
	Degraded *bool    `json:"degraded,omitempty"`
	Message  string   `json:"message,omitempty"`
}

// Sink receives check-ins and degraded-mode changes outside the process,
// e.g. MQTT door displays or chat notifications. Errors are logged only.
type Sink interface {
	Name() string
	CheckIn(ctx context.Context, ev CheckIn) error
	Degraded(ctx context.Context, degraded bool, cause error) error
}
