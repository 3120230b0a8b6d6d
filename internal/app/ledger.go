package app

import "trivia-live-service/internal/domain"

// Ledger is the host-authoritative mapping of participant to cumulative
// score. It is owned by a single session runner and mutated only as answer
// events arrive from the change feed, one at a time, so it needs no locking.
// It is a derived cache: the persisted answers are the system of record and
// the ledger can be rebuilt from them at any time.
type Ledger struct {
	scores  map[string]int
	applied map[ledgerKey]struct{}
}

type ledgerKey struct {
	participantID string
	questionID    string
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		scores:  make(map[string]int),
		applied: make(map[ledgerKey]struct{}),
	}
}

// RebuildLedger derives a ledger by re-summing persisted answers, used after
// a host restart.
func RebuildLedger(answers []domain.Answer) *Ledger {
	l := NewLedger()
	for _, a := range answers {
		l.Apply(a.ParticipantID, a.QuestionID, a.Points)
	}
	return l
}

// Apply adds a delta for one (participant, question) pair. It reports
// whether the delta was applied; a pair already summed (for example a feed
// event replayed for an answer the rebuild already counted) is ignored.
func (l *Ledger) Apply(participantID, questionID string, delta int) bool {
	key := ledgerKey{participantID: participantID, questionID: questionID}
	if _, ok := l.applied[key]; ok {
		return false
	}
	l.applied[key] = struct{}{}
	l.scores[participantID] += delta
	return true
}

// Score returns a participant's cumulative total.
func (l *Ledger) Score(participantID string) int {
	return l.scores[participantID]
}

// Snapshot copies the current participant totals.
func (l *Ledger) Snapshot() map[string]int {
	out := make(map[string]int, len(l.scores))
	for id, score := range l.scores {
		out[id] = score
	}
	return out
}
