package types

import (
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Event names carried in the "event" field of every real-time frame
// FUNCTIONAL DISCOVERY: Names are shared with the browser clients and must not change
const (
	EventTeacherJoin  = "teacher-join"
	EventStudentJoin  = "student-join"
	EventScreenData   = "screen-data"
	EventStudentsList = "students-list"
	EventScreenUpdate = "screen-update"
	EventErrorMsg     = "error-msg"
	EventRoomClosed   = "room-closed"
)

// Envelope is the JSON frame exchanged over a WebSocket in both directions
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// DecodeEnvelope parses one inbound text frame
func DecodeEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, ErrInvalidEnvelope
	}
	if env.Event == "" {
		return nil, ErrInvalidEnvelope
	}
	return &env, nil
}

// Outbound is a message queued for one or more connections.
// ARCHITECTURAL DISCOVERY: A frame fanned out to a whole room is encoded once
// and the bytes are shared by every recipient's send buffer
type Outbound struct {
	Event   string
	Payload interface{}

	once    sync.Once
	encoded []byte
	err     error
}

// NewOutbound wraps an event and its payload
func NewOutbound(event string, payload interface{}) *Outbound {
	return &Outbound{Event: event, Payload: payload}
}

// Bytes returns the JSON envelope, encoding it on first use
func (o *Outbound) Bytes() ([]byte, error) {
	o.once.Do(func() {
		o.encoded, o.err = json.Marshal(struct {
			Event string      `json:"event"`
			Data  interface{} `json:"data"`
		}{o.Event, o.Payload})
	})
	return o.encoded, o.err
}

// TeacherJoin is the teacher-join payload
type TeacherJoin struct {
	RoomName string `json:"roomName"`
	RoomCode string `json:"roomCode"`
}

// StudentJoin is the student-join payload
type StudentJoin struct {
	RoomName    string `json:"roomName"`
	RoomCode    string `json:"roomCode"`
	StudentName string `json:"studentName"`
}

// ScreenData is the screen-data payload; Image is an opaque encoded frame
type ScreenData struct {
	Image string `json:"image"`
}

// StudentInfo is one entry of students-list; screen data is never included
type StudentInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ScreenUpdate is broadcast to a whole room for every relayed frame
type ScreenUpdate struct {
	ID    string `json:"id"`
	Image string `json:"image"`
	Name  string `json:"name"`
}

// CreateRoomRequest is the body of the room creation call
type CreateRoomRequest struct {
	RoomName    string  `json:"roomName"`
	RoomCode    string  `json:"roomCode"`
	MaxStudents FlexInt `json:"maxStudents"`
}

// FlexInt accepts a JSON number or a numeric string.
// FUNCTIONAL DISCOVERY: Browser forms post maxStudents as "30" as often as 30
type FlexInt struct {
	Value int
	Set   bool
}

// UnmarshalJSON implements json.Unmarshaler
func (f *FlexInt) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*f = FlexInt{}
		return nil
	}
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unquoted)
		if s == "" {
			*f = FlexInt{}
			return nil
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return ErrInvalidRequest
	}
	*f = FlexInt{Value: n, Set: true}
	return nil
}

// MarshalJSON implements json.Marshaler
func (f FlexInt) MarshalJSON() ([]byte, error) {
	if !f.Set {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(f.Value)), nil
}

// Activity kinds recorded by the room journal
const (
	ActivityRoomCreated       = "room_created"
	ActivityTeacherJoined     = "teacher_joined"
	ActivityStudentJoined     = "student_joined"
	ActivityStudentLeft       = "student_left"
	ActivityJoinRejected      = "join_rejected"
	ActivityTeardownArmed     = "teardown_armed"
	ActivityTeardownCancelled = "teardown_cancelled"
	ActivityRoomClosed        = "room_closed"
)

// ActivityEvent is one lifecycle record of a room
type ActivityEvent struct {
	ID           int64     `json:"id"`
	Room         string    `json:"room"`
	Kind         string    `json:"kind"`
	ConnectionID string    `json:"connection_id,omitempty"`
	Detail       string    `json:"detail,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}
