package room

import (
	"sync"
	"time"

	"github.com/HoangQuocKhanh0504/khanhpclass/pkg/interfaces"
	"github.com/HoangQuocKhanh0504/khanhpclass/pkg/types"
)

// State is the lifecycle position of a room
type State int

const (
	// StateIdle: created and never joined by a student, no timer
	StateIdle State = iota
	// StateActive: at least one student, no timer
	StateActive
	// StateDraining: no students, teardown timer armed
	StateDraining
	// StateDeleted: removed from the registry
	StateDeleted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Student is the membership record of one student connection
type Student struct {
	ConnectionID string
	DisplayName  string
	LastFrame    string // empty until the first frame arrives
}

// teardown identifies one armed deletion timer; expire compares handles so a
// timer that fired after being replaced or cancelled does nothing
type teardown struct {
	timer *time.Timer
}

// Room is one named, access-coded observation group.
// Name, code hash and capacity are immutable; everything below mu is guarded by it.
type Room struct {
	name      string
	codeHash  []byte
	capacity  int
	createdAt time.Time

	mu          sync.Mutex
	members     []*Student                       // join order
	subscribers map[string]interfaces.Connection // every bound connection, teachers included
	teardown    *teardown
	state       State
}

func newRoom(name string, codeHash []byte, capacity int) *Room {
	return &Room{
		name:        name,
		codeHash:    codeHash,
		capacity:    capacity,
		createdAt:   time.Now(),
		subscribers: make(map[string]interfaces.Connection),
		state:       StateIdle,
	}
}

func (r *Room) Name() string         { return r.name }
func (r *Room) Capacity() int        { return r.capacity }
func (r *Room) CreatedAt() time.Time { return r.createdAt }

// State returns the current lifecycle state
func (r *Room) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// TeardownArmed reports whether a deletion timer is pending
func (r *Room) TeardownArmed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.teardown != nil
}

// Members returns the member list in join order without screen data
func (r *Room) Members() []types.StudentInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.studentInfos()
}

// MemberCount returns the number of student members
func (r *Room) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// SubscriberCount returns the number of bound connections
func (r *Room) SubscriberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subscribers)
}

// Student returns a copy of the member record for a connection
func (r *Room) Student(connectionID string) (Student, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s := r.findStudent(connectionID); s != nil {
		return *s, true
	}
	return Student{}, false
}

// studentInfos requires r.mu
func (r *Room) studentInfos() []types.StudentInfo {
	list := make([]types.StudentInfo, len(r.members))
	for i, s := range r.members {
		list[i] = types.StudentInfo{ID: s.ConnectionID, Name: s.DisplayName}
	}
	return list
}

// findStudent requires r.mu
func (r *Room) findStudent(connectionID string) *Student {
	for _, s := range r.members {
		if s.ConnectionID == connectionID {
			return s
		}
	}
	return nil
}
