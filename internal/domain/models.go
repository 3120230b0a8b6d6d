package domain

import "time"

// Phase is the session's position in the live game lifecycle.
type Phase string

const (
	PhaseLobby          Phase = "lobby"
	PhaseCountdown      Phase = "countdown"
	PhaseQuestionActive Phase = "question_active"
	PhaseResults        Phase = "results"
	PhaseFinished       Phase = "finished"
)

// Status is the coarse session state persisted alongside the phase.
type Status string

const (
	StatusLobby    Status = "lobby"
	StatusActive   Status = "active"
	StatusFinished Status = "finished"
)

// Session is one live run of a quiz, identified by its room code.
// Mutated only by the host-side state machine; the room code never changes.
type Session struct {
	ID                   string
	QuizID               string
	RoomCode             string
	Phase                Phase
	Status               Status
	CurrentQuestionIndex int // -1 before the first question
	QuestionStartedAt    time.Time
	CreatedAt            time.Time
	EndedAt              time.Time
}

// Finished reports whether the session reached its terminal state.
func (s Session) Finished() bool {
	return s.Status == StatusFinished
}

// Question is read-only quiz content: an ordered MCQ with a per-question
// time limit and an optional media reference.
type Question struct {
	ID            string   `json:"id"`
	Text          string   `json:"text"`
	Options       []string `json:"options"`
	CorrectOption int      `json:"correctOption"`
	TimeLimit     int      `json:"timeLimit"` // seconds
	MediaURL      string   `json:"mediaUrl,omitempty"`
}

// Quiz is the immutable ordered question sequence a session runs through.
type Quiz struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
}

// Participant is one player inside one session. Score is the host-confirmed
// cumulative total; JoinedAt breaks leaderboard ties deterministically.
type Participant struct {
	ID        string
	SessionID string
	Nickname  string
	Score     int
	JoinedAt  time.Time
}

// Answer is one scored response. At most one exists per
// (participant, question) pair and it is immutable once written.
type Answer struct {
	ID             string
	SessionID      string
	ParticipantID  string
	QuestionID     string
	QuestionIndex  int
	SelectedOption int
	Correct        bool
	TimeTaken      time.Duration // clamped to [0, time limit]
	Points         int
	SubmittedAt    time.Time
}

// MaxNicknameLen caps display names at join time, counted in runes.
const MaxNicknameLen = 20
