package room

import (
	"log/slog"
	"time"

	"github.com/HoangQuocKhanh0504/khanhpclass/pkg/interfaces"
	"github.com/HoangQuocKhanh0504/khanhpclass/pkg/types"
)

// armTeardown requires r.mu. Any pending timer is replaced, never stacked.
func (m *Manager) armTeardown(r *Room) {
	if r.teardown != nil {
		r.teardown.timer.Stop()
	}

	h := &teardown{}
	h.timer = time.AfterFunc(m.opts.GracePeriod, func() { m.expire(r, h) })
	r.teardown = h
	r.state = StateDraining

	m.opts.Metrics.Teardown("armed")
	m.record(r.name, types.ActivityTeardownArmed, "", m.opts.GracePeriod.String())
	slog.Info("room teardown armed", "room", r.name, "grace", m.opts.GracePeriod)
}

// cancelTeardown requires r.mu. Cancelling without a pending timer is a no-op.
func (m *Manager) cancelTeardown(r *Room) bool {
	if r.teardown == nil {
		return false
	}
	r.teardown.timer.Stop()
	r.teardown = nil

	m.opts.Metrics.Teardown("cancelled")
	m.record(r.name, types.ActivityTeardownCancelled, "", "")
	slog.Info("room teardown cancelled", "room", r.name)
	return true
}

// expire runs on the timer goroutine. It deletes the room only if h is still
// the armed handle and the room is still empty.
func (m *Manager) expire(r *Room, h *teardown) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.teardown != h || len(r.members) > 0 || r.state == StateDeleted {
		return
	}

	r.teardown = nil
	r.state = StateDeleted
	if current, ok := m.rooms[r.name]; ok && current == r {
		delete(m.rooms, r.name)
	}

	m.broadcast(r, types.NewOutbound(types.EventRoomClosed, types.RoomClosedMessage))
	r.subscribers = make(map[string]interfaces.Connection)

	m.opts.Metrics.Teardown("fired")
	m.opts.Metrics.RoomDeleted()
	m.record(r.name, types.ActivityRoomClosed, "", "")
	slog.Info("room closed after grace period", "room", r.name)
}
