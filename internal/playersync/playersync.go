// Package playersync reconstructs a player's view of a running session from
// persisted state alone. Remaining time is computed against the host-stamped
// question start, never the local receipt time, so clock and latency skew do
// not desynchronize countdowns across players. The local timer is advisory
// only: answer ingestion on the host is the sole authority on acceptance.
package playersync

import (
	"time"

	"trivia-live-service/internal/domain"
)

// View is the derived player-facing state for one instant.
type View struct {
	Phase         domain.Phase
	QuestionIndex int
	Remaining     time.Duration // zero unless Phase is question_active
}

// Remaining computes time left in the answer window from the host-stamped
// start. Never negative.
func Remaining(startedAt time.Time, timeLimit time.Duration, now time.Time) time.Duration {
	left := timeLimit - now.Sub(startedAt)
	if left < 0 {
		return 0
	}
	return left
}

// Derive rebuilds the current phase and remaining time from a session row,
// for reconnects and late joins that never saw a broadcast. A session that is
// active with an expired window is reported as results: the host has either
// already revealed or is about to, and the store row is what players trust.
func Derive(s domain.Session, questions []domain.Question, now time.Time) View {
	v := View{QuestionIndex: s.CurrentQuestionIndex}

	switch s.Status {
	case domain.StatusFinished:
		v.Phase = domain.PhaseFinished
		return v
	case domain.StatusLobby:
		v.Phase = domain.PhaseLobby
		return v
	}

	if s.CurrentQuestionIndex < 0 || s.CurrentQuestionIndex >= len(questions) {
		v.Phase = domain.PhaseCountdown
		return v
	}
	if s.QuestionStartedAt.IsZero() {
		v.Phase = domain.PhaseCountdown
		return v
	}

	limit := time.Duration(questions[s.CurrentQuestionIndex].TimeLimit) * time.Second
	left := Remaining(s.QuestionStartedAt, limit, now)
	if left > 0 {
		v.Phase = domain.PhaseQuestionActive
		v.Remaining = left
		return v
	}
	v.Phase = domain.PhaseResults
	return v
}
