package room

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/HoangQuocKhanh0504/khanhpclass/internal/metrics"
	"github.com/HoangQuocKhanh0504/khanhpclass/pkg/interfaces"
	"github.com/HoangQuocKhanh0504/khanhpclass/pkg/types"
)

// DefaultGracePeriod is how long an emptied room survives before deletion
const DefaultGracePeriod = 5 * time.Minute

// Options configures a Manager
type Options struct {
	GracePeriod      time.Duration
	AccessCodeCost   int  // bcrypt cost; 0 means bcrypt.DefaultCost
	MaxCapacity      int  // upper bound for capacity; 0 means unbounded
	TeardownUnjoined bool // arm teardown when a room is created
	ReplayLastFrames bool // send stored frames to a joining teacher

	Recorder interfaces.ActivityRecorder
	Metrics  *metrics.Collector
}

// Manager owns the room table and implements registry, membership, relay and
// lifecycle operations on it.
// ARCHITECTURAL DISCOVERY: Lock order is registry (m.mu) before room (r.mu);
// no path takes the registry lock while holding a room lock
type Manager struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	opts Options

	dummyOnce sync.Once
	dummyHash []byte
}

// NewManager creates an empty registry
func NewManager(opts Options) *Manager {
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	if opts.AccessCodeCost == 0 {
		opts.AccessCodeCost = bcrypt.DefaultCost
	}
	return &Manager{
		rooms: make(map[string]*Room),
		opts:  opts,
	}
}

// GracePeriod returns the configured teardown delay
func (m *Manager) GracePeriod() time.Duration {
	return m.opts.GracePeriod
}

// CreateRoom registers a new empty room.
// Fails with ErrInvalidRequest for missing or malformed fields and
// ErrRoomExists when the name is taken.
func (m *Manager) CreateRoom(name, accessCode string, capacity int) error {
	req := types.CreateRoomRequest{
		RoomName:    name,
		RoomCode:    accessCode,
		MaxStudents: types.FlexInt{Value: capacity, Set: true},
	}
	if err := req.Validate(m.opts.MaxCapacity); err != nil {
		return err
	}
	name = req.RoomName

	// Hashing is slow; reject obvious duplicates before paying for it
	m.mu.RLock()
	_, exists := m.rooms[name]
	m.mu.RUnlock()
	if exists {
		return types.ErrRoomExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(accessCode), m.opts.AccessCodeCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return types.ErrInvalidRequest
		}
		return fmt.Errorf("hash access code: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.rooms[name]; exists {
		return types.ErrRoomExists
	}
	r := newRoom(name, hash, capacity)
	m.rooms[name] = r

	m.opts.Metrics.RoomCreated()
	m.record(name, types.ActivityRoomCreated, "", fmt.Sprintf("capacity=%d", capacity))
	slog.Info("room created", "room", name, "capacity", capacity)

	if m.opts.TeardownUnjoined {
		r.mu.Lock()
		m.armTeardown(r)
		r.mu.Unlock()
	}
	return nil
}

// LookupRoom resolves a room by name and access code.
// An unknown name and a wrong code both return ErrNotFound.
func (m *Manager) LookupRoom(name, accessCode string) (*Room, error) {
	name = strings.TrimSpace(name)

	m.mu.RLock()
	r, exists := m.rooms[name]
	m.mu.RUnlock()

	if !exists {
		// Spend the same comparison cost so timing does not reveal existence
		_ = bcrypt.CompareHashAndPassword(m.dummy(), []byte(accessCode))
		return nil, types.ErrNotFound
	}
	if err := bcrypt.CompareHashAndPassword(r.codeHash, []byte(accessCode)); err != nil {
		return nil, types.ErrNotFound
	}
	return r, nil
}

// Count returns the number of registered rooms
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

// Stats returns registry-wide counters for health reporting
func (m *Manager) Stats() map[string]int {
	m.mu.RLock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.RUnlock()

	stats := map[string]int{"rooms": len(rooms), "students": 0, "draining": 0}
	for _, r := range rooms {
		r.mu.Lock()
		stats["students"] += len(r.members)
		if r.teardown != nil {
			stats["draining"]++
		}
		r.mu.Unlock()
	}
	return stats
}

// Shutdown stops every pending teardown timer; rooms stay registered
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rooms {
		r.mu.Lock()
		if r.teardown != nil {
			r.teardown.timer.Stop()
			r.teardown = nil
		}
		r.mu.Unlock()
	}
}

func (m *Manager) dummy() []byte {
	m.dummyOnce.Do(func() {
		hash, err := bcrypt.GenerateFromPassword([]byte("no-such-room"), m.opts.AccessCodeCost)
		if err != nil {
			slog.Error("dummy hash generation failed", "error", err)
			return
		}
		m.dummyHash = hash
	})
	return m.dummyHash
}

func (m *Manager) record(room, kind, connectionID, detail string) {
	if m.opts.Recorder == nil {
		return
	}
	m.opts.Recorder.Record(types.ActivityEvent{
		Room:         room,
		Kind:         kind,
		ConnectionID: connectionID,
		Detail:       detail,
		OccurredAt:   time.Now(),
	})
}
