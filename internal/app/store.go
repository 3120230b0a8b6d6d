package app

import (
	"context"

	"trivia-live-service/internal/domain"
)

// FeedKind discriminates change-feed events.
type FeedKind int

const (
	// FeedParticipantJoined signals a new participant row.
	FeedParticipantJoined FeedKind = iota + 1
	// FeedAnswerRecorded signals a new answer row.
	FeedAnswerRecorded
)

// FeedEvent is one change-feed notification. Exactly one of Participant or
// Answer is populated, matching Kind.
type FeedEvent struct {
	Kind        FeedKind
	Participant domain.Participant
	Answer      domain.Answer
}

// GameStore is the durable record store the engine runs against. Writes are
// atomic per row; CreateSession reports room-code collisions as
// domain.ErrRoomCodeTaken and CreateAnswer reports (participant, question)
// duplicates as domain.ErrAnswerExists, both distinguishable from other
// failures. Feed delivers new participant/answer rows to the host without
// polling; ordering across different participants is not guaranteed, which
// is fine because score deltas commute.
type GameStore interface {
	CreateSession(ctx context.Context, s domain.Session) error
	GetSession(ctx context.Context, id string) (domain.Session, error)
	GetSessionByCode(ctx context.Context, code string) (domain.Session, error)
	UpdateSession(ctx context.Context, s domain.Session) error

	CreateParticipant(ctx context.Context, p domain.Participant) error
	GetParticipant(ctx context.Context, id string) (domain.Participant, error)
	ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error)
	// AddScore increments the participant row's mirrored cumulative score.
	AddScore(ctx context.Context, participantID string, delta int) error

	CreateAnswer(ctx context.Context, a domain.Answer) error
	ListAnswers(ctx context.Context, sessionID string) ([]domain.Answer, error)

	// Feed subscribes to new participant/answer rows for one session. The
	// caller must invoke the cancel function to release the subscription.
	Feed(sessionID string) (<-chan FeedEvent, func())
}

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// QuizLoader fetches quiz content from a backing store on cache miss.
type QuizLoader interface {
	LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}
