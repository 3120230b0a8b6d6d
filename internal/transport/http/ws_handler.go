// Package http exposes the engine over HTTP: a websocket endpoint for
// players and a JSON control API for hosts.
package http

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"trivia-live-service/internal/app"
	"trivia-live-service/internal/playersync"
)

// WSHandler upgrades player connections and bridges them to the engine: it
// joins the participant, relays session broadcasts, accepts answer
// submissions, and serves store-based resync requests.
type WSHandler struct {
	service  *app.Service
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.Service) *WSHandler {
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionID string `json:"questionId"`
	Option     int    `json:"option"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type joinedPayload struct {
	SessionID     string       `json:"sessionId"`
	ParticipantID string       `json:"participantId"`
	Nickname      string       `json:"nickname"`
	State         statePayload `json:"state"`
}

type statePayload struct {
	Phase         string  `json:"phase"`
	QuestionIndex int     `json:"questionIndex"`
	RemainingSec  float64 `json:"remainingSec"`
}

// ServeWS handles a player connection for its whole lifetime. Players
// identify with a room code and nickname; presenting a previously issued
// participantId re-enters the same participant row instead of joining twice.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	roomCode := r.URL.Query().Get("code")
	nickname := r.URL.Query().Get("name")
	participantID := r.URL.Query().Get("participantId")
	if roomCode == "" || (nickname == "" && participantID == "") {
		http.Error(w, "missing code or name", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sess, participant, err := h.service.Join(r.Context(), roomCode, nickname, participantID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}

	quiz, err := h.service.Quiz(r.Context(), sess.ID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}

	updates, cancel := h.service.SubscribeBroadcast(sess.ID)
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: update.Type, Payload: update}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	view := playersync.Derive(sess, quiz.Questions, time.Now())
	send <- outboundMessage[any]{Type: "joined", Payload: joinedPayload{
		SessionID:     sess.ID,
		ParticipantID: participant.ID,
		Nickname:      participant.Nickname,
		State:         stateFromView(view),
	}}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid answer payload"}}
				continue
			}
			result, err := h.service.SubmitAnswer(r.Context(), sess.ID, participant.ID, payload.QuestionID, payload.Option, time.Now())
			if err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
				continue
			}
			send <- outboundMessage[any]{Type: "answer_result", Payload: result}
		case "sync":
			// Store-based resync for players who suspect a missed broadcast.
			current, err := h.service.Session(r.Context(), sess.ID)
			if err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
				continue
			}
			view := playersync.Derive(current, quiz.Questions, time.Now())
			send <- outboundMessage[any]{Type: "state", Payload: stateFromView(view)}
		case "leaderboard":
			entries, err := h.service.LiveLeaderboard(r.Context(), sess.ID)
			if err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
				continue
			}
			send <- outboundMessage[any]{Type: "leaderboard", Payload: entries}
		default:
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}}
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

func stateFromView(v playersync.View) statePayload {
	return statePayload{
		Phase:         string(v.Phase),
		QuestionIndex: v.QuestionIndex,
		RemainingSec:  v.Remaining.Seconds(),
	}
}
