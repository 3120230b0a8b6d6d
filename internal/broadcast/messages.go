// Package broadcast defines the host-to-players message protocol: a closed
// set of typed payloads wrapped in a {type, payload} envelope, published on a
// best-effort per-session channel. The persisted session row remains the
// source of truth; a missed message must always be recoverable from the store.
package broadcast

import (
	"encoding/json"
	"fmt"
	"time"

	"trivia-live-service/internal/domain"
)

// Message types, emitted strictly in phase order by the host.
const (
	TypeCountdown   = "countdown"
	TypeQuestion    = "question"
	TypeShowResults = "show_results"
	TypeGameEnd     = "game_end"
)

// Message is the wire envelope. Exactly one payload field matching Type is
// set; the others are nil.
type Message struct {
	Type        string              `json:"type"`
	Countdown   *CountdownPayload   `json:"countdown,omitempty"`
	Question    *QuestionPayload    `json:"question,omitempty"`
	ShowResults *ShowResultsPayload `json:"showResults,omitempty"`
	GameEnd     *GameEndPayload     `json:"gameEnd,omitempty"`
}

// CountdownPayload announces the upcoming question; players reset
// per-question UI state on receipt.
type CountdownPayload struct {
	QuestionIndex int `json:"questionIndex"`
}

// QuestionPayload carries the question content and the host-stamped start
// time. The correct-option index is deliberately absent.
type QuestionPayload struct {
	QuestionIndex int           `json:"questionIndex"`
	StartedAt     time.Time     `json:"startedAt"`
	Question      PlayerQuestion `json:"question"`
}

// PlayerQuestion is the player-visible projection of a question.
type PlayerQuestion struct {
	ID        string   `json:"id"`
	Text      string   `json:"text"`
	Options   []string `json:"options"`
	TimeLimit int      `json:"timeLimit"`
	MediaURL  string   `json:"mediaUrl,omitempty"`
}

// ShowResultsPayload tells players to reveal correctness locally and fetch
// updated standings.
type ShowResultsPayload struct {
	QuestionIndex int `json:"questionIndex"`
}

// GameEndPayload is the terminal signal; no further messages follow.
type GameEndPayload struct{}

// NewCountdown builds a countdown message for the given question index.
func NewCountdown(questionIndex int) Message {
	return Message{Type: TypeCountdown, Countdown: &CountdownPayload{QuestionIndex: questionIndex}}
}

// NewQuestion builds a question message, stripping the correct-option index
// from the domain question.
func NewQuestion(questionIndex int, startedAt time.Time, q domain.Question) Message {
	return Message{Type: TypeQuestion, Question: &QuestionPayload{
		QuestionIndex: questionIndex,
		StartedAt:     startedAt,
		Question: PlayerQuestion{
			ID:        q.ID,
			Text:      q.Text,
			Options:   q.Options,
			TimeLimit: q.TimeLimit,
			MediaURL:  q.MediaURL,
		},
	}}
}

// NewShowResults builds a show_results message.
func NewShowResults(questionIndex int) Message {
	return Message{Type: TypeShowResults, ShowResults: &ShowResultsPayload{QuestionIndex: questionIndex}}
}

// NewGameEnd builds the terminal message.
func NewGameEnd() Message {
	return Message{Type: TypeGameEnd, GameEnd: &GameEndPayload{}}
}

// Encode serializes a message for the wire.
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses a wire message and rejects envelopes whose type is outside
// the closed set or whose payload does not match the type.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decode broadcast message: %w", err)
	}
	switch m.Type {
	case TypeCountdown:
		if m.Countdown == nil {
			return Message{}, fmt.Errorf("countdown message missing payload")
		}
	case TypeQuestion:
		if m.Question == nil {
			return Message{}, fmt.Errorf("question message missing payload")
		}
	case TypeShowResults:
		if m.ShowResults == nil {
			return Message{}, fmt.Errorf("show_results message missing payload")
		}
	case TypeGameEnd:
		if m.GameEnd == nil {
			m.GameEnd = &GameEndPayload{}
		}
	default:
		return Message{}, fmt.Errorf("unknown broadcast message type %q", m.Type)
	}
	return m, nil
}
