package types

import (
	"strings"
	"unicode/utf8"
)

// Field limits enforced before a room or membership record is created
const (
	MaxRoomNameLength    = 100
	MaxAccessCodeBytes   = 72 // bcrypt input limit
	MaxDisplayNameLength = 64
)

// Validate checks a creation request against the given capacity ceiling.
// FUNCTIONAL DISCOVERY: Every failure is reported as ErrInvalidRequest; the
// caller only needs to know the request was malformed
func (r *CreateRoomRequest) Validate(maxCapacity int) error {
	r.RoomName = strings.TrimSpace(r.RoomName)
	if r.RoomName == "" || utf8.RuneCountInString(r.RoomName) > MaxRoomNameLength {
		return ErrInvalidRequest
	}
	if r.RoomCode == "" || len(r.RoomCode) > MaxAccessCodeBytes {
		return ErrInvalidRequest
	}
	if !r.MaxStudents.Set || r.MaxStudents.Value <= 0 {
		return ErrInvalidRequest
	}
	if maxCapacity > 0 && r.MaxStudents.Value > maxCapacity {
		return ErrInvalidRequest
	}
	return nil
}

// NormalizeDisplayName trims a student name and cuts it to MaxDisplayNameLength runes.
// An empty result is ErrInvalidRequest.
func NormalizeDisplayName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrInvalidRequest
	}
	if utf8.RuneCountInString(name) > MaxDisplayNameLength {
		runes := []rune(name)
		name = strings.TrimSpace(string(runes[:MaxDisplayNameLength]))
	}
	return name, nil
}
