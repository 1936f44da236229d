package session

import (
	"log/slog"
	"sync/atomic"

	"github.com/HoangQuocKhanh0504/khanhpclass/internal/room"
	"github.com/HoangQuocKhanh0504/khanhpclass/pkg/interfaces"
	"github.com/HoangQuocKhanh0504/khanhpclass/pkg/types"
)

// Role of a connection; set once by a successful join
type Role int

const (
	RoleUnbound Role = iota
	RoleTeacher
	RoleStudent
)

func (r Role) String() string {
	switch r {
	case RoleTeacher:
		return "teacher"
	case RoleStudent:
		return "student"
	default:
		return "unbound"
	}
}

// Binding is the immutable role/room/name triple of a joined connection.
// The zero value is the unbound state.
type Binding struct {
	Role Role
	Room *room.Room
	Name string // student display name; empty for teachers
}

// Session is the per-connection state machine: Unbound until the first
// successful join, then Teacher or Student for the rest of its life.
// ARCHITECTURAL DISCOVERY: All room state lives in room.Manager; a session
// only remembers which room it is bound to
type Session struct {
	conn    interfaces.Connection
	rooms   *room.Manager
	binding atomic.Pointer[Binding]
	closed  atomic.Bool
}

// New creates an unbound session for conn
func New(conn interfaces.Connection, rooms *room.Manager) *Session {
	return &Session{conn: conn, rooms: rooms}
}

// ID returns the connection id
func (s *Session) ID() string {
	return s.conn.ID()
}

// Binding returns the current binding; Role is RoleUnbound before a join
func (s *Session) Binding() Binding {
	if b := s.binding.Load(); b != nil {
		return *b
	}
	return Binding{}
}

// Closed reports whether Leave has run
func (s *Session) Closed() bool {
	return s.closed.Load()
}

// JoinTeacher validates the room and binds this connection as an observer
func (s *Session) JoinTeacher(req types.TeacherJoin) error {
	if s.binding.Load() != nil {
		return types.ErrAlreadyJoined
	}
	r, err := s.rooms.LookupRoom(req.RoomName, req.RoomCode)
	if err != nil {
		return err
	}
	if err := s.rooms.JoinTeacher(r, s.conn); err != nil {
		return err
	}
	if !s.binding.CompareAndSwap(nil, &Binding{Role: RoleTeacher, Room: r}) {
		s.rooms.Unsubscribe(r, s.ID())
		return types.ErrAlreadyJoined
	}
	return nil
}

// JoinStudent validates the room and binds this connection as a member
func (s *Session) JoinStudent(req types.StudentJoin) error {
	if s.binding.Load() != nil {
		return types.ErrAlreadyJoined
	}
	r, err := s.rooms.LookupRoom(req.RoomName, req.RoomCode)
	if err != nil {
		return err
	}
	if err := s.rooms.JoinStudent(r, s.conn, req.StudentName); err != nil {
		return err
	}

	record, _ := r.Student(s.ID())
	if !s.binding.CompareAndSwap(nil, &Binding{Role: RoleStudent, Room: r, Name: record.DisplayName}) {
		s.rooms.LeaveStudent(r, s.ID())
		return types.ErrAlreadyJoined
	}
	return nil
}

// PublishFrame relays a frame when this connection is a bound student.
// Frames from teachers and unbound connections are dropped silently.
func (s *Session) PublishFrame(image string) bool {
	b := s.binding.Load()
	if b == nil || b.Role != RoleStudent || s.closed.Load() {
		return false
	}
	return s.rooms.PublishFrame(b.Room, s.ID(), image)
}

// Leave detaches the connection from its room. Only the first call has an effect.
func (s *Session) Leave() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	b := s.binding.Load()
	if b == nil {
		return
	}
	switch b.Role {
	case RoleStudent:
		s.rooms.LeaveStudent(b.Room, s.ID())
	case RoleTeacher:
		s.rooms.Unsubscribe(b.Room, s.ID())
	}
}

// Fail reports err to this connection only as an error-msg event
func (s *Session) Fail(err error) {
	if sendErr := s.conn.Send(types.NewOutbound(types.EventErrorMsg, types.UserMessage(err))); sendErr != nil {
		slog.Debug("error-msg not delivered", "connection", s.ID(), "error", sendErr)
	}
}
