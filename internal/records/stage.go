package records

import "strings"

// Stage is the persisted lifecycle status of a call.
type Stage string

const (
	StageInitiated Stage = "initiated"
	StageRinging   Stage = "ringing"
	StageAnswered  Stage = "answered"
	StageCompleted Stage = "completed"
	StageBusy      Stage = "busy"
	StageNoAnswer  Stage = "no_answer"
	StageFailed    Stage = "failed"
	StageCanceled  Stage = "canceled"
)

// AllStages lists every stage in graph order.
var AllStages = []Stage{
	StageInitiated, StageRinging, StageAnswered,
	StageCompleted, StageBusy, StageNoAnswer, StageFailed, StageCanceled,
}

func (s Stage) rank() int {
	switch s {
	case StageInitiated:
		return 0
	case StageRinging:
		return 1
	case StageAnswered:
		return 2
	case StageCompleted, StageBusy, StageNoAnswer, StageFailed, StageCanceled:
		return 3
	}
	return -1
}

func (s Stage) Valid() bool {
	return s.rank() >= 0
}

// Terminal stages are sinks.
func (s Stage) Terminal() bool {
	return s.rank() == 3
}

// CanTransition reports whether a record in from may move to to.
// Moves are strictly forward; nothing leaves a terminal stage.
func CanTransition(from, to Stage) bool {
	if !from.Valid() || !to.Valid() || from.Terminal() {
		return false
	}
	return to.rank() > from.rank()
}

// Predecessors returns the stages a record may be in for a move to to succeed.
func Predecessors(to Stage) []Stage {
	var out []Stage
	for _, s := range AllStages {
		if CanTransition(s, to) {
			out = append(out, s)
		}
	}
	return out
}

// ParseCarrierStatus maps a carrier CallStatus value to a stage.
func ParseCarrierStatus(status string) (Stage, bool) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "queued", "initiated":
		return StageInitiated, true
	case "ringing":
		return StageRinging, true
	case "in-progress", "answered":
		return StageAnswered, true
	case "completed":
		return StageCompleted, true
	case "busy":
		return StageBusy, true
	case "no-answer", "no_answer":
		return StageNoAnswer, true
	case "failed":
		return StageFailed, true
	case "canceled", "cancelled":
		return StageCanceled, true
	}
	return "", false
}
