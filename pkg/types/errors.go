package types

import "errors"

// Error taxonomy shared by the room, session and API layers.
// FUNCTIONAL DISCOVERY: NotFound covers both an unknown room and a wrong code
// so a failed join never reveals whether a room exists
var (
	ErrInvalidRequest  = errors.New("invalid request: room name, code and capacity are required")
	ErrRoomExists      = errors.New("room already exists")
	ErrNotFound        = errors.New("room not found or access code mismatch")
	ErrRoomFull        = errors.New("room is full")
	ErrAlreadyJoined   = errors.New("connection already joined a room")
	ErrRateLimited     = errors.New("too many attempts")
	ErrInvalidEnvelope = errors.New("invalid event envelope")
)

// UserMessage returns the text sent to a client in an error-msg event.
// Unknown errors collapse to a generic message.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrInvalidEnvelope):
		return "Missing or invalid room information"
	case errors.Is(err, ErrRoomExists):
		return "Room name already exists"
	case errors.Is(err, ErrNotFound):
		return "Room does not exist or the code is wrong"
	case errors.Is(err, ErrRoomFull):
		return "Room is full"
	case errors.Is(err, ErrAlreadyJoined):
		return "This connection has already joined a room"
	case errors.Is(err, ErrRateLimited):
		return "Too many attempts, please wait and try again"
	default:
		return "Request could not be processed"
	}
}

// RoomClosedMessage is the payload of room-closed
const RoomClosedMessage = "Room was closed because no students remain"
