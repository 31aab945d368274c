package model

import "fmt"

// ApplyStatus says what applying one event did to the destination.
type ApplyStatus int

const (
	StatusApplied ApplyStatus = iota
	StatusSkipped
	StatusTerminal
)

func (s ApplyStatus) String() string {
	switch s {
	case StatusApplied:
		return "applied"
	case StatusSkipped:
		return "skipped"
	case StatusTerminal:
		return "terminal"
	}

	return fmt.Sprintf("ApplyStatus(%d)", int(s))
}

// Reason explains a skipped or terminal outcome.
type Reason string

const (
	ReasonAlreadyApplied  Reason = "already-applied"
	ReasonNoPostImage     Reason = "no-post-image"
	ReasonUnhandledKind   Reason = "unhandled-kind"
	ReasonGapDetected     Reason = "gap-detected"
	ReasonFeedInvalidated Reason = "feed-invalidated"
)

// ApplyOutcome is the per-event result of applying a ChangeEvent.
type ApplyOutcome struct {
	Status ApplyStatus
	Reason Reason
}

func Applied() ApplyOutcome {
	return ApplyOutcome{Status: StatusApplied}
}

func Skipped(reason Reason) ApplyOutcome {
	return ApplyOutcome{Status: StatusSkipped, Reason: reason}
}

func Terminal(reason Reason) ApplyOutcome {
	return ApplyOutcome{Status: StatusTerminal, Reason: reason}
}

func (o ApplyOutcome) String() string {
	if o.Reason == "" {
		return o.Status.String()
	}

	return o.Status.String() + " (" + string(o.Reason) + ")"
}
