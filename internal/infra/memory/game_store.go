// Package memory provides in-process implementations of the engine's
// external collaborators: the durable game store with its change feed, the
// broadcast broker, and the quiz cache. They serve tests, demos, and
// single-binary deployments.
package memory

import (
	"context"
	"log"
	"sync"

	"trivia-live-service/internal/app"
	"trivia-live-service/internal/domain"
)

const feedBuffer = 256

// GameStore is an in-memory app.GameStore. Rows are append-only for
// participants and answers; sessions are updated in place by the host.
type GameStore struct {
	mu           sync.RWMutex
	sessions     map[string]domain.Session
	byCode       map[string]string // room code -> session ID
	participants map[string]domain.Participant
	answers      map[string]domain.Answer
	answerKeys   map[string]struct{} // participantID|questionID
	feeds        map[string]map[chan app.FeedEvent]struct{}
}

func NewGameStore() *GameStore {
	return &GameStore{
		sessions:     make(map[string]domain.Session),
		byCode:       make(map[string]string),
		participants: make(map[string]domain.Participant),
		answers:      make(map[string]domain.Answer),
		answerKeys:   make(map[string]struct{}),
		feeds:        make(map[string]map[chan app.FeedEvent]struct{}),
	}
}

func (s *GameStore) CreateSession(_ context.Context, sess domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byCode[sess.RoomCode]; taken {
		return domain.ErrRoomCodeTaken
	}
	s.sessions[sess.ID] = sess
	s.byCode[sess.RoomCode] = sess.ID
	return nil
}

func (s *GameStore) GetSession(_ context.Context, id string) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return sess, nil
}

func (s *GameStore) GetSessionByCode(_ context.Context, code string) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byCode[code]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return s.sessions[id], nil
}

func (s *GameStore) UpdateSession(_ context.Context, sess domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; !ok {
		return domain.ErrSessionNotFound
	}
	s.sessions[sess.ID] = sess
	return nil
}

func (s *GameStore) CreateParticipant(_ context.Context, p domain.Participant) error {
	s.mu.Lock()
	s.participants[p.ID] = p
	s.mu.Unlock()
	s.emit(p.SessionID, app.FeedEvent{Kind: app.FeedParticipantJoined, Participant: p})
	return nil
}

func (s *GameStore) GetParticipant(_ context.Context, id string) (domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[id]
	if !ok {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	return p, nil
}

func (s *GameStore) ListParticipants(_ context.Context, sessionID string) ([]domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Participant
	for _, p := range s.participants {
		if p.SessionID == sessionID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *GameStore) AddScore(_ context.Context, participantID string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[participantID]
	if !ok {
		return domain.ErrParticipantNotFound
	}
	p.Score += delta
	s.participants[participantID] = p
	return nil
}

func (s *GameStore) CreateAnswer(_ context.Context, a domain.Answer) error {
	key := a.ParticipantID + "|" + a.QuestionID
	s.mu.Lock()
	if _, dup := s.answerKeys[key]; dup {
		s.mu.Unlock()
		return domain.ErrAnswerExists
	}
	s.answerKeys[key] = struct{}{}
	s.answers[a.ID] = a
	s.mu.Unlock()
	s.emit(a.SessionID, app.FeedEvent{Kind: app.FeedAnswerRecorded, Answer: a})
	return nil
}

func (s *GameStore) ListAnswers(_ context.Context, sessionID string) ([]domain.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Answer
	for _, a := range s.answers {
		if a.SessionID == sessionID {
			out = append(out, a)
		}
	}
	return out, nil
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
			// The host can always rebuild from rows; dropping beats blocking
			// a writer on a stalled subscriber.
			log.Printf("feed for session %s full, dropping event", sessionID)
		}
	}
}
