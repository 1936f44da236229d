package interfaces

import "github.com/HoangQuocKhanh0504/khanhpclass/pkg/types"

// Connection is one live client channel as seen by the room layer
// ARCHITECTURAL DISCOVERY: Pure abstraction without transport details
// keeps room state testable without sockets
type Connection interface {
	// ID returns the identifier assigned when the connection was accepted
	ID() string

	// Send queues a message for delivery without blocking
	// FUNCTIONAL DISCOVERY: Broadcasts run while a room is locked, so an
	// implementation must return immediately and drop when its buffer is full
	Send(msg *types.Outbound) error
}

// ActivityRecorder receives room lifecycle events
type ActivityRecorder interface {
	// Record must not block; implementations drop events they cannot queue
	Record(event types.ActivityEvent)
}
