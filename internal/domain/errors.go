package domain

import "errors"

var (
	// ErrSessionNotFound is returned when no session matches an ID or room code.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionFinished is returned when joining or driving a terminal session.
	ErrSessionFinished = errors.New("session already finished")
	// ErrParticipantNotFound is returned when a user acts before joining.
	ErrParticipantNotFound = errors.New("participant not found in session")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrNoQuestions makes a start attempt fail when the quiz is empty.
	ErrNoQuestions = errors.New("quiz has no questions")
	// ErrNoParticipants is returned on start when the lobby is empty and the
	// host did not confirm the override.
	ErrNoParticipants = errors.New("no participants have joined")
	// ErrRoomCodeTaken is the store's uniqueness violation on room codes,
	// distinguishable from other write failures so allocation can retry.
	ErrRoomCodeTaken = errors.New("room code already taken")
	// ErrRoomCodeExhausted is returned after allocation retries run out.
	ErrRoomCodeExhausted = errors.New("could not allocate room code")
	// ErrAnswerExists is the store's uniqueness violation on
	// (participant, question); duplicates are dropped, not surfaced.
	ErrAnswerExists = errors.New("answer already recorded")
	// ErrInvalidPhase rejects an action the current phase does not allow.
	ErrInvalidPhase = errors.New("action not allowed in current phase")
)
