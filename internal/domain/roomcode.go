package domain

import "math/rand"

// roomCodeAlphabet excludes visually ambiguous glyphs (0/O, 1/I/L).
const roomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// RoomCodeLen is the fixed length of generated room codes.
const RoomCodeLen = 6

// NewRoomCode produces a short human-typeable code. Uniqueness is the
// store's job; callers retry on ErrRoomCodeTaken.
func NewRoomCode() string {
	code := make([]byte, RoomCodeLen)
	for i := range code {
		code[i] = roomCodeAlphabet[rand.Intn(len(roomCodeAlphabet))]
	}
	return string(code)
}
