package room

import (
	"log/slog"

	"github.com/HoangQuocKhanh0504/khanhpclass/internal/metrics"
	"github.com/HoangQuocKhanh0504/khanhpclass/pkg/interfaces"
	"github.com/HoangQuocKhanh0504/khanhpclass/pkg/types"
)

// JoinTeacher subscribes conn to the room's broadcasts. Teachers are not
// members and are not counted against capacity. The current member list is
// sent to conn only, followed by the last frame of every student that has one
// when frame replay is enabled.
func (m *Manager) JoinTeacher(r *Room, conn interfaces.Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateDeleted {
		m.opts.Metrics.JoinRejected("teacher", metrics.ResultNotFound)
		return types.ErrNotFound
	}

	r.subscribers[conn.ID()] = conn
	m.deliver(conn, types.NewOutbound(types.EventStudentsList, r.studentInfos()))

	if m.opts.ReplayLastFrames {
		for _, s := range r.members {
			if s.LastFrame == "" {
				continue
			}
			m.deliver(conn, types.NewOutbound(types.EventScreenUpdate, types.ScreenUpdate{
				ID:    s.ConnectionID,
				Image: s.LastFrame,
				Name:  s.DisplayName,
			}))
		}
	}

	m.opts.Metrics.TeacherJoined()
	m.record(r.name, types.ActivityTeacherJoined, conn.ID(), "")
	slog.Info("teacher joined", "room", r.name, "connection", conn.ID())
	return nil
}

// JoinStudent adds conn as a member under displayName.
// Fails with ErrRoomFull at capacity and ErrNotFound if the room was deleted
// after it was looked up. A pending teardown is cancelled.
func (m *Manager) JoinStudent(r *Room, conn interfaces.Connection, displayName string) error {
	name, err := types.NormalizeDisplayName(displayName)
	if err != nil {
		m.opts.Metrics.JoinRejected("student", metrics.ResultInvalid)
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateDeleted {
		m.opts.Metrics.JoinRejected("student", metrics.ResultNotFound)
		return types.ErrNotFound
	}
	if r.findStudent(conn.ID()) != nil {
		return types.ErrAlreadyJoined
	}
	if len(r.members) >= r.capacity {
		m.opts.Metrics.JoinRejected("student", metrics.ResultFull)
		m.record(r.name, types.ActivityJoinRejected, conn.ID(), "room full")
		return types.ErrRoomFull
	}

	m.cancelTeardown(r)

	r.members = append(r.members, &Student{ConnectionID: conn.ID(), DisplayName: name})
	r.subscribers[conn.ID()] = conn
	r.state = StateActive

	m.broadcast(r, types.NewOutbound(types.EventStudentsList, r.studentInfos()))

	m.opts.Metrics.StudentJoined()
	m.record(r.name, types.ActivityStudentJoined, conn.ID(), name)
	slog.Info("student joined", "room", r.name, "connection", conn.ID(),
		"name", name, "members", len(r.members), "capacity", r.capacity)
	return nil
}

// LeaveStudent removes the member record of connectionID, broadcasts the new
// list and arms teardown when the room becomes empty. Removing an absent id
// only drops its subscription.
func (m *Manager) LeaveStudent(r *Room, connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.subscribers, connectionID)

	idx := -1
	for i, s := range r.members {
		if s.ConnectionID == connectionID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}

	name := r.members[idx].DisplayName
	r.members = append(r.members[:idx], r.members[idx+1:]...)

	m.opts.Metrics.StudentLeft()
	m.record(r.name, types.ActivityStudentLeft, connectionID, name)
	slog.Info("student left", "room", r.name, "connection", connectionID, "members", len(r.members))

	m.broadcast(r, types.NewOutbound(types.EventStudentsList, r.studentInfos()))

	if len(r.members) == 0 {
		m.armTeardown(r)
	}
}

// Unsubscribe stops broadcasts to a teacher connection; membership is untouched
func (m *Manager) Unsubscribe(r *Room, connectionID string) {
	r.mu.Lock()
	delete(r.subscribers, connectionID)
	r.mu.Unlock()
}
