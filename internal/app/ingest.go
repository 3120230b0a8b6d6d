package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"trivia-live-service/internal/domain"
)

// Rejection reasons reported to players. Late and duplicate submissions are
// absorbed here, never surfaced as errors.
const (
	RejectWindowClosed    = "window_closed"
	RejectAlreadyAnswered = "already_answered"
)

// SubmitResult is the outcome of one answer submission. When Accepted is
// false, Reason says why; Points and Correct are only meaningful when
// Accepted is true.
type SubmitResult struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
	Correct  bool   `json:"correct"`
	Points   int    `json:"points"`
}

// SubmitAnswer validates and records one scored answer. The client's local
// timer is advisory only: this is the sole authority on acceptance. The
// window runs from the host-stamped question start to the time limit plus
// the configured grace, with the limit boundary itself inclusive. The answer
// row is persisted first; the score delta reaches the ledger through the
// store's change feed.
func (s *Service) SubmitAnswer(ctx context.Context, sessionID, participantID, questionID string, selectedOption int, submittedAt time.Time) (SubmitResult, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return SubmitResult{}, err
	}
	if _, err := s.store.GetParticipant(ctx, participantID); err != nil {
		return SubmitResult{}, err
	}
	quiz, err := s.quizzes.GetQuiz(ctx, sess.QuizID)
	if err != nil {
		return SubmitResult{}, err
	}

	if sess.Phase != domain.PhaseQuestionActive {
		return SubmitResult{Reason: RejectWindowClosed}, nil
	}
	idx := sess.CurrentQuestionIndex
	if idx < 0 || idx >= len(quiz.Questions) {
		return SubmitResult{}, fmt.Errorf("session %s: question index %d out of range", sessionID, idx)
	}
	q := quiz.Questions[idx]
	if q.ID != questionID {
		// Submission for a question that is no longer (or not yet) active.
		return SubmitResult{Reason: RejectWindowClosed}, nil
	}

	limit := time.Duration(q.TimeLimit) * time.Second
	elapsed := submittedAt.Sub(sess.QuestionStartedAt)
	if elapsed < 0 || elapsed > limit+s.timings.AnswerGrace {
		return SubmitResult{Reason: RejectWindowClosed}, nil
	}

	timeTaken := elapsed
	if timeTaken > limit {
		timeTaken = limit
	}
	correct := selectedOption == q.CorrectOption
	points := domain.Score(timeTaken, limit, correct)

	answer := domain.Answer{
		ID:             uuid.NewString(),
		SessionID:      sessionID,
		ParticipantID:  participantID,
		QuestionID:     questionID,
		QuestionIndex:  idx,
		SelectedOption: selectedOption,
		Correct:        correct,
		TimeTaken:      timeTaken,
		Points:         points,
		SubmittedAt:    submittedAt,
	}
	if err := s.store.CreateAnswer(ctx, answer); err != nil {
		if errors.Is(err, domain.ErrAnswerExists) {
			// Network retries land here; the first accepted answer stands.
			return SubmitResult{Reason: RejectAlreadyAnswered}, nil
		}
		return SubmitResult{}, fmt.Errorf("record answer: %w", err)
	}
	return SubmitResult{Accepted: true, Correct: correct, Points: points}, nil
}
