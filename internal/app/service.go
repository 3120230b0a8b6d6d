// Package app contains the live session orchestration engine: session
// creation and join, answer ingestion, the per-session phase state machine,
// the host-side score ledger, and leaderboard/statistics aggregation.
package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"trivia-live-service/internal/broadcast"
	"trivia-live-service/internal/domain"
)

// roomCodeAttempts bounds code allocation; exhaustion is a user-visible
// failure, never an endless loop.
const roomCodeAttempts = 3

// Service exposes the engine's host- and player-facing use cases over a
// durable store, a quiz repository, and a broadcast channel.
type Service struct {
	store   GameStore
	quizzes QuizRepository
	caster  broadcast.Broadcaster
	timings Timings
	clock   func() time.Time

	mu      sync.Mutex
	runners map[string]*Runner
}

// NewService wires the engine together. A zero Timings falls back to the
// defaults.
func NewService(store GameStore, quizzes QuizRepository, caster broadcast.Broadcaster, timings Timings) *Service {
	if timings.Countdown == 0 {
		timings = DefaultTimings()
	}
	return &Service{
		store:   store,
		quizzes: quizzes,
		caster:  caster,
		timings: timings,
		clock:   time.Now,
		runners: make(map[string]*Runner),
	}
}

// WithClock is test-only for deterministic timestamps.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.clock = now
	return s
}

// CreateSession allocates a room and persists a lobby session for the quiz.
// Room-code collisions are retried up to three times; any other insertion
// failure is surfaced immediately, and exhaustion returns
// domain.ErrRoomCodeExhausted rather than reusing a colliding code.
func (s *Service) CreateSession(ctx context.Context, quizID string) (domain.Session, error) {
	if _, err := s.quizzes.GetQuiz(ctx, quizID); err != nil {
		return domain.Session{}, err
	}

	for attempt := 0; attempt < roomCodeAttempts; attempt++ {
		sess := domain.Session{
			ID:                   uuid.NewString(),
			QuizID:               quizID,
			RoomCode:             domain.NewRoomCode(),
			Phase:                domain.PhaseLobby,
			Status:               domain.StatusLobby,
			CurrentQuestionIndex: -1,
			CreatedAt:            s.clock(),
		}
		err := s.store.CreateSession(ctx, sess)
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, domain.ErrRoomCodeTaken) {
			return domain.Session{}, err
		}
	}
	return domain.Session{}, domain.ErrRoomCodeExhausted
}

// Join resolves a room code to a session and registers a participant.
// Joining a finished session is rejected. A caller presenting its cached
// participant ID re-enters under the same row instead of joining twice.
func (s *Service) Join(ctx context.Context, roomCode, nickname, participantID string) (domain.Session, domain.Participant, error) {
	sess, err := s.store.GetSessionByCode(ctx, strings.ToUpper(strings.TrimSpace(roomCode)))
	if err != nil {
		return domain.Session{}, domain.Participant{}, err
	}
	if sess.Finished() {
		return domain.Session{}, domain.Participant{}, domain.ErrSessionFinished
	}

	if participantID != "" {
		p, err := s.store.GetParticipant(ctx, participantID)
		if err == nil && p.SessionID == sess.ID {
			return sess, p, nil
		}
		if err != nil && !errors.Is(err, domain.ErrParticipantNotFound) {
			return domain.Session{}, domain.Participant{}, err
		}
	}

	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		nickname = "Player"
	}
	if runes := []rune(nickname); len(runes) > domain.MaxNicknameLen {
		nickname = string(runes[:domain.MaxNicknameLen])
	}
	p := domain.Participant{
		ID:        uuid.NewString(),
		SessionID: sess.ID,
		Nickname:  nickname,
		JoinedAt:  s.clock(),
	}
	if err := s.store.CreateParticipant(ctx, p); err != nil {
		return domain.Session{}, domain.Participant{}, err
	}
	return sess, p, nil
}

// Start spins up the session's runner and moves it out of the lobby.
func (s *Service) Start(ctx context.Context, sessionID string, allowEmpty bool) error {
	runner, err := s.runnerFor(ctx, sessionID)
	if err != nil {
		return err
	}
	return runner.Start(allowEmpty)
}

// Reveal forces an early results reveal for the active question.
func (s *Service) Reveal(ctx context.Context, sessionID string) error {
	runner, err := s.activeRunner(sessionID)
	if err != nil {
		return err
	}
	return runner.Reveal()
}

// Next advances past results in host-paced mode.
func (s *Service) Next(ctx context.Context, sessionID string) error {
	runner, err := s.activeRunner(sessionID)
	if err != nil {
		return err
	}
	return runner.Next()
}

// End force-finishes the session; all pending timers are cancelled and
// game_end is broadcast.
func (s *Service) End(ctx context.Context, sessionID string) error {
	runner, err := s.activeRunner(sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			// No live runner (e.g. host restart): mark terminal directly.
			return s.endCold(ctx, sessionID)
		}
		return err
	}
	err = runner.End()
	s.dropRunner(sessionID)
	return err
}

// SubscribeBroadcast attaches a player to the session's broadcast topic.
func (s *Service) SubscribeBroadcast(sessionID string) (<-chan broadcast.Message, func()) {
	return s.caster.Subscribe(sessionID)
}

// Session returns the persisted session row, the players' resync source of
// truth.
func (s *Service) Session(ctx context.Context, sessionID string) (domain.Session, error) {
	return s.store.GetSession(ctx, sessionID)
}

// Quiz returns the session's immutable question sequence.
func (s *Service) Quiz(ctx context.Context, sessionID string) (domain.Quiz, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Quiz{}, err
	}
	return s.quizzes.GetQuiz(ctx, sess.QuizID)
}

// LiveLeaderboard ranks participants by their store-mirrored scores.
func (s *Service) LiveLeaderboard(ctx context.Context, sessionID string) ([]LeaderboardEntry, error) {
	participants, err := s.store.ListParticipants(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return Leaderboard(participants), nil
}

// Results builds the full session report, live or retrospective.
func (s *Service) Results(ctx context.Context, sessionID string) (SessionReport, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return SessionReport{}, err
	}
	quiz, err := s.quizzes.GetQuiz(ctx, sess.QuizID)
	if err != nil {
		return SessionReport{}, err
	}
	participants, err := s.store.ListParticipants(ctx, sessionID)
	if err != nil {
		return SessionReport{}, err
	}
	answers, err := s.store.ListAnswers(ctx, sessionID)
	if err != nil {
		return SessionReport{}, err
	}
	return BuildReport(sessionID, quiz, participants, answers), nil
}

// runnerFor returns the session's runner, creating it on first use.
func (s *Service) runnerFor(ctx context.Context, sessionID string) (*Runner, error) {
	s.mu.Lock()
	if runner, ok := s.runners[sessionID]; ok {
		s.mu.Unlock()
		return runner, nil
	}
	s.mu.Unlock()

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Finished() {
		return nil, domain.ErrSessionFinished
	}
	quiz, err := s.quizzes.GetQuiz(ctx, sess.QuizID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if runner, ok := s.runners[sessionID]; ok {
		return runner, nil
	}
	runner, err := NewRunner(ctx, sessionID, quiz, s.store, s.caster, s.timings, s.clock)
	if err != nil {
		return nil, err
	}
	s.runners[sessionID] = runner
	go func() {
		<-runner.Done()
		s.dropRunner(sessionID)
	}()
	return runner, nil
}

func (s *Service) activeRunner(sessionID string) (*Runner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	runner, ok := s.runners[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return runner, nil
}

func (s *Service) dropRunner(sessionID string) {
	s.mu.Lock()
	delete(s.runners, sessionID)
	s.mu.Unlock()
}

// endCold terminates a session that has no live runner.
func (s *Service) endCold(ctx context.Context, sessionID string) error {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Finished() {
		return nil
	}
	sess.Phase = domain.PhaseFinished
	sess.Status = domain.StatusFinished
	sess.EndedAt = s.clock()
	if err := s.store.UpdateSession(ctx, sess); err != nil {
		return err
	}
	return s.caster.Publish(ctx, sessionID, broadcast.NewGameEnd())
}

// RunnerScores exposes the live ledger totals for a session, primarily for
// host dashboards and tests; zero-value map when no runner is live.
func (s *Service) RunnerScores(sessionID string) map[string]int {
	runner, err := s.activeRunner(sessionID)
	if err != nil {
		return map[string]int{}
	}
	return runner.Scores()
}
