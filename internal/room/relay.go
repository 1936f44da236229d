package room

import (
	"log/slog"

	"github.com/HoangQuocKhanh0504/khanhpclass/pkg/interfaces"
	"github.com/HoangQuocKhanh0504/khanhpclass/pkg/types"
)

// PublishFrame stores image as the student's last frame and sends one
// screen-update to every connection bound to the room, sender included.
// It reports false and changes nothing when connectionID is not a member,
// e.g. when the frame raced a disconnect.
func (m *Manager) PublishFrame(r *Room, connectionID, image string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateDeleted {
		return false
	}
	s := r.findStudent(connectionID)
	if s == nil {
		return false
	}

	s.LastFrame = image
	m.broadcast(r, types.NewOutbound(types.EventScreenUpdate, types.ScreenUpdate{
		ID:    s.ConnectionID,
		Image: image,
		Name:  s.DisplayName,
	}))
	m.opts.Metrics.FrameRelayed()
	return true
}

// broadcast requires r.mu. Sends never block; each recipient's transport
// buffer decides whether the message is kept.
func (m *Manager) broadcast(r *Room, msg *types.Outbound) {
	for _, conn := range r.subscribers {
		m.deliver(conn, msg)
	}
}

func (m *Manager) deliver(conn interfaces.Connection, msg *types.Outbound) {
	if err := conn.Send(msg); err != nil {
		m.opts.Metrics.DeliveryDropped()
		slog.Debug("delivery dropped", "connection", conn.ID(), "event", msg.Event, "error", err)
	}
}
