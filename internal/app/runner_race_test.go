package app

import (
	"context"
	"testing"
	"time"

	"trivia-live-service/internal/broadcast"
	"trivia-live-service/internal/domain"
)

// recordingCaster captures published messages for inspection.
type recordingCaster struct {
	msgs []broadcast.Message
}

func (c *recordingCaster) Publish(_ context.Context, _ string, msg broadcast.Message) error {
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *recordingCaster) Subscribe(string) (<-chan broadcast.Message, func()) {
	ch := make(chan broadcast.Message)
	return ch, func() {}
}

func (c *recordingCaster) count(msgType string) int {
	n := 0
	for _, m := range c.msgs {
		if m.Type == msgType {
			n++
		}
	}
	return n
}

// noopStore accepts every write so transition plumbing can run without a
// backing store.
type noopStore struct{}

func (noopStore) CreateSession(context.Context, domain.Session) error { return nil }
func (noopStore) GetSession(context.Context, string) (domain.Session, error) {
	return domain.Session{}, domain.ErrSessionNotFound
}
func (noopStore) GetSessionByCode(context.Context, string) (domain.Session, error) {
	return domain.Session{}, domain.ErrSessionNotFound
}
func (noopStore) UpdateSession(context.Context, domain.Session) error       { return nil }
func (noopStore) CreateParticipant(context.Context, domain.Participant) error { return nil }
func (noopStore) GetParticipant(context.Context, string) (domain.Participant, error) {
	return domain.Participant{}, domain.ErrParticipantNotFound
}
func (noopStore) ListParticipants(context.Context, string) ([]domain.Participant, error) {
	return nil, nil
}
func (noopStore) AddScore(context.Context, string, int) error        { return nil }
func (noopStore) CreateAnswer(context.Context, domain.Answer) error  { return nil }
func (noopStore) ListAnswers(context.Context, string) ([]domain.Answer, error) {
	return nil, nil
}
func (noopStore) Feed(string) (<-chan FeedEvent, func()) {
	return make(chan FeedEvent), func() {}
}

// activeQuestionRunner builds a runner frozen mid-question with one of two
// participants already answered. The run loop is not started, so transitions
// execute synchronously in the test goroutine and interleavings can be
// replayed exactly.
func activeQuestionRunner(caster broadcast.Broadcaster) *Runner {
	now := time.Now()
	r := &Runner{
		sessionID: "s1",
		quiz: domain.Quiz{
			ID:    "quiz-1",
			Title: "One",
			Questions: []domain.Question{
				{ID: "q1", Text: "One?", Options: []string{"a", "b"}, CorrectOption: 0, TimeLimit: 30},
			},
		},
		store:  noopStore{},
		caster: caster,
		timings: Timings{
			Countdown:        time.Minute,
			ResultsPause:     time.Minute,
			FastResultsPause: time.Minute,
			AnswerGrace:      time.Minute,
			AutoAdvance:      true,
		},
		clock:  time.Now,
		events: make(chan runnerEvent, 16),
		done:   make(chan struct{}),
		sess: domain.Session{
			ID:                   "s1",
			QuizID:               "quiz-1",
			Status:               domain.StatusActive,
			Phase:                domain.PhaseQuestionActive,
			CurrentQuestionIndex: 0,
			QuestionStartedAt:    now,
			CreatedAt:            now,
		},
		ledger:       NewLedger(),
		participants: map[string]struct{}{"p1": {}, "p2": {}},
		answered:     map[string]struct{}{"p1": {}},
	}
	r.schedule(timerQuestionDeadline, time.Minute)
	return r
}

// The final answer and the question deadline can land in the same tick. When
// the answer is drained first, the fast-path reveal bumps the timer
// generation, so the already-queued deadline fire must be a no-op.
func TestFinalAnswerBeatsDeadlineToTheReveal(t *testing.T) {
	caster := &recordingCaster{}
	r := activeQuestionRunner(caster)
	defer r.cancelTimer()

	staleGen := r.timerGen
	r.applyAnswer(domain.Answer{
		ID:            "a2",
		SessionID:     "s1",
		ParticipantID: "p2",
		QuestionID:    "q1",
		QuestionIndex: 0,
		Points:        500,
	})
	if r.sess.Phase != domain.PhaseResults {
		t.Fatalf("all-answered must reveal, phase = %s", r.sess.Phase)
	}
	if caster.count(broadcast.TypeShowResults) != 1 {
		t.Fatalf("expected one reveal, got %d", caster.count(broadcast.TypeShowResults))
	}

	// The deadline fire that was already in flight carries the old generation.
	r.handleTimer(runnerEvent{timerFired: true, action: timerQuestionDeadline, gen: staleGen})
	if caster.count(broadcast.TypeShowResults) != 1 {
		t.Fatalf("stale deadline must not reveal again, got %d", caster.count(broadcast.TypeShowResults))
	}
	if r.sess.Phase != domain.PhaseResults {
		t.Fatalf("stale deadline changed phase to %s", r.sess.Phase)
	}
}

// Reverse interleaving: the deadline drains first and reveals; the answer
// arriving a tick later still scores but must not reveal a second time.
func TestDeadlineBeatsFinalAnswerToTheReveal(t *testing.T) {
	caster := &recordingCaster{}
	r := activeQuestionRunner(caster)
	defer r.cancelTimer()

	r.handleTimer(runnerEvent{timerFired: true, action: timerQuestionDeadline, gen: r.timerGen})
	if r.sess.Phase != domain.PhaseResults {
		t.Fatalf("deadline must reveal, phase = %s", r.sess.Phase)
	}
	if caster.count(broadcast.TypeShowResults) != 1 {
		t.Fatalf("expected one reveal, got %d", caster.count(broadcast.TypeShowResults))
	}

	r.applyAnswer(domain.Answer{
		ID:            "a2",
		SessionID:     "s1",
		ParticipantID: "p2",
		QuestionID:    "q1",
		QuestionIndex: 0,
		Points:        500,
	})
	if caster.count(broadcast.TypeShowResults) != 1 {
		t.Fatalf("late answer must not reveal again, got %d", caster.count(broadcast.TypeShowResults))
	}
	if got := r.ledger.Score("p2"); got != 500 {
		t.Fatalf("late answer must still score, got %d", got)
	}
}
