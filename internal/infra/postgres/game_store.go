package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"trivia-live-service/internal/app"
	"trivia-live-service/internal/domain"
)

const (
	uniqueViolation = "23505"
	feedBuffer      = 256
)

// GameStore is a Postgres-backed app.GameStore. Row writes are atomic
// single statements; uniqueness violations on room codes and on
// (participant, question) pairs map to the domain sentinels so callers can
// tell them from other failures.
//
// The change feed is emitted in process after each successful insert. That
// covers a single-host deployment; a multi-host setup would put
// LISTEN/NOTIFY or logical decoding behind the same Feed contract.
type GameStore struct {
	pool *pgxpool.Pool

	mu    sync.RWMutex
	feeds map[string]map[chan app.FeedEvent]struct{}
}

func NewGameStore(pool *pgxpool.Pool) *GameStore {
	return &GameStore{
		pool:  pool,
		feeds: make(map[string]map[chan app.FeedEvent]struct{}),
	}
}

func (s *GameStore) CreateSession(ctx context.Context, sess domain.Session) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (id, quiz_id, room_code, phase, status, current_question_index, question_started_at, created_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		sess.ID, sess.QuizID, sess.RoomCode, string(sess.Phase), string(sess.Status),
		sess.CurrentQuestionIndex, nullTime(sess.QuestionStartedAt), sess.CreatedAt, nullTime(sess.EndedAt))
	if isUniqueViolation(err) {
		return domain.ErrRoomCodeTaken
	}
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *GameStore) GetSession(ctx context.Context, id string) (domain.Session, error) {
	return s.scanSession(s.pool.QueryRow(ctx, `
		SELECT id, quiz_id, room_code, phase, status, current_question_index, question_started_at, created_at, ended_at
		FROM sessions WHERE id=$1`, id))
}

func (s *GameStore) GetSessionByCode(ctx context.Context, code string) (domain.Session, error) {
	return s.scanSession(s.pool.QueryRow(ctx, `
		SELECT id, quiz_id, room_code, phase, status, current_question_index, question_started_at, created_at, ended_at
		FROM sessions WHERE room_code=$1`, code))
}

func (s *GameStore) scanSession(row pgx.Row) (domain.Session, error) {
	var sess domain.Session
	var phase, status string
	var startedAt, endedAt sql.NullTime
	err := row.Scan(&sess.ID, &sess.QuizID, &sess.RoomCode, &phase, &status,
		&sess.CurrentQuestionIndex, &startedAt, &sess.CreatedAt, &endedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("scan session: %w", err)
	}
	sess.Phase = domain.Phase(phase)
	sess.Status = domain.Status(status)
	sess.QuestionStartedAt = startedAt.Time
	sess.EndedAt = endedAt.Time
	return sess, nil
}

func (s *GameStore) UpdateSession(ctx context.Context, sess domain.Session) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions
		SET phase=$2, status=$3, current_question_index=$4, question_started_at=$5, ended_at=$6
		WHERE id=$1`,
		sess.ID, string(sess.Phase), string(sess.Status), sess.CurrentQuestionIndex,
		nullTime(sess.QuestionStartedAt), nullTime(sess.EndedAt))
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (s *GameStore) CreateParticipant(ctx context.Context, p domain.Participant) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO participants (id, session_id, nickname, score, joined_at)
		VALUES ($1, $2, $3, $4, $5)`,
		p.ID, p.SessionID, p.Nickname, p.Score, p.JoinedAt)
	if err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}
	s.emit(p.SessionID, app.FeedEvent{Kind: app.FeedParticipantJoined, Participant: p})
	return nil
}

func (s *GameStore) GetParticipant(ctx context.Context, id string) (domain.Participant, error) {
	var p domain.Participant
	err := s.pool.QueryRow(ctx, `
		SELECT id, session_id, nickname, score, joined_at FROM participants WHERE id=$1`, id).
		Scan(&p.ID, &p.SessionID, &p.Nickname, &p.Score, &p.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	if err != nil {
		return domain.Participant{}, fmt.Errorf("scan participant: %w", err)
	}
	return p, nil
}

func (s *GameStore) ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, nickname, score, joined_at
		FROM participants WHERE session_id=$1 ORDER BY joined_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var out []domain.Participant
	for rows.Next() {
		var p domain.Participant
		if err := rows.Scan(&p.ID, &p.SessionID, &p.Nickname, &p.Score, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *GameStore) AddScore(ctx context.Context, participantID string, delta int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE participants SET score = score + $2 WHERE id=$1`, participantID, delta)
	if err != nil {
		return fmt.Errorf("add score: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrParticipantNotFound
	}
	return nil
}

func (s *GameStore) CreateAnswer(ctx context.Context, a domain.Answer) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO answers (id, session_id, participant_id, question_id, question_index, selected_option, is_correct, time_taken_ms, points, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.SessionID, a.ParticipantID, a.QuestionID, a.QuestionIndex,
		a.SelectedOption, a.Correct, a.TimeTaken.Milliseconds(), a.Points, a.SubmittedAt)
	if isUniqueViolation(err) {
		return domain.ErrAnswerExists
	}
	if err != nil {
		return fmt.Errorf("insert answer: %w", err)
	}
	s.emit(a.SessionID, app.FeedEvent{Kind: app.FeedAnswerRecorded, Answer: a})
	return nil
}

func (s *GameStore) ListAnswers(ctx context.Context, sessionID string) ([]domain.Answer, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, participant_id, question_id, question_index, selected_option, is_correct, time_taken_ms, points, submitted_at
		FROM answers WHERE session_id=$1 ORDER BY submitted_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	defer rows.Close()

	var out []domain.Answer
	for rows.Next() {
		var a domain.Answer
		var takenMS int64
		if err := rows.Scan(&a.ID, &a.SessionID, &a.ParticipantID, &a.QuestionID, &a.QuestionIndex,
			&a.SelectedOption, &a.Correct, &takenMS, &a.Points, &a.SubmittedAt); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		a.TimeTaken = time.Duration(takenMS) * time.Millisecond
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *GameStore) Feed(sessionID string) (<-chan app.FeedEvent, func()) {
	ch := make(chan app.FeedEvent, feedBuffer)
	s.mu.Lock()
	if s.feeds[sessionID] == nil {
		s.feeds[sessionID] = make(map[chan app.FeedEvent]struct{})
	}
	s.feeds[sessionID][ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.feeds[sessionID][ch]; ok {
			delete(s.feeds[sessionID], ch)
			close(ch)
		}
		if len(s.feeds[sessionID]) == 0 {
			delete(s.feeds, sessionID)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

func (s *GameStore) emit(sessionID string, ev app.FeedEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for ch := range s.feeds[sessionID] {
		select {
		case ch <- ev:
		default:
			log.Printf("feed for session %s full, dropping event", sessionID)
		}
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
