package room

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/HoangQuocKhanh0504/khanhpclass/pkg/types"
)

type fakeConn struct {
	id   string
	mu   sync.Mutex
	msgs []*types.Outbound
	full bool
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(msg *types.Outbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return errors.New("send buffer full")
	}
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *fakeConn) events(event string) []*types.Outbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*types.Outbound
	for _, m := range c.msgs {
		if m.Event == event {
			out = append(out, m)
		}
	}
	return out
}

func (c *fakeConn) lastList(t *testing.T) []types.StudentInfo {
	t.Helper()
	lists := c.events(types.EventStudentsList)
	if len(lists) == 0 {
		t.Fatalf("connection %s received no students-list", c.id)
	}
	return lists[len(lists)-1].Payload.([]types.StudentInfo)
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []types.ActivityEvent
}

func (r *fakeRecorder) Record(e types.ActivityEvent) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *fakeRecorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

func newTestManager(grace time.Duration) (*Manager, *fakeRecorder) {
	rec := &fakeRecorder{}
	return NewManager(Options{
		GracePeriod:    grace,
		AccessCodeCost: bcrypt.MinCost,
		MaxCapacity:    50,
		Recorder:       rec,
	}), rec
}

func mustCreate(t *testing.T, m *Manager, name, code string, capacity int) *Room {
	t.Helper()
	if err := m.CreateRoom(name, code, capacity); err != nil {
		t.Fatalf("CreateRoom(%s) failed: %v", name, err)
	}
	r, err := m.LookupRoom(name, code)
	if err != nil {
		t.Fatalf("LookupRoom(%s) failed: %v", name, err)
	}
	return r
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

// Room Registry

func TestManager_CreateThenLookup(t *testing.T) {
	m, _ := newTestManager(time.Minute)

	for i, tc := range []struct {
		name, code string
		capacity   int
	}{
		{"A", "1234", 2},
		{"Physics 101", "secret code", 30},
		{"Lab", "x", 1},
	} {
		if err := m.CreateRoom(tc.name, tc.code, tc.capacity); err != nil {
			t.Fatalf("case %d: CreateRoom failed: %v", i, err)
		}
		r, err := m.LookupRoom(tc.name, tc.code)
		if err != nil {
			t.Fatalf("case %d: LookupRoom failed: %v", i, err)
		}
		if r.MemberCount() != 0 {
			t.Errorf("case %d: new room has %d members", i, r.MemberCount())
		}
		if r.Capacity() != tc.capacity || r.State() != StateIdle || r.TeardownArmed() {
			t.Errorf("case %d: unexpected room %s cap=%d state=%s", i, r.Name(), r.Capacity(), r.State())
		}
	}

	if m.Count() != 3 {
		t.Errorf("expected 3 rooms, got %d", m.Count())
	}
}

func TestManager_CreateValidation(t *testing.T) {
	m, _ := newTestManager(time.Minute)

	tests := []struct {
		name     string
		room     string
		code     string
		capacity int
	}{
		{"empty name", "", "1234", 2},
		{"empty code", "A", "", 2},
		{"zero capacity", "A", "1234", 0},
		{"negative capacity", "A", "1234", -1},
		{"above max capacity", "A", "1234", 51},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := m.CreateRoom(tt.room, tt.code, tt.capacity); !errors.Is(err, types.ErrInvalidRequest) {
				t.Errorf("expected ErrInvalidRequest, got %v", err)
			}
		})
	}
	if m.Count() != 0 {
		t.Errorf("invalid requests must not create rooms, got %d", m.Count())
	}
}

func TestManager_CreateDuplicate(t *testing.T) {
	m, _ := newTestManager(time.Minute)
	mustCreate(t, m, "A", "1234", 2)

	for _, args := range []struct {
		code     string
		capacity int
	}{{"1234", 2}, {"other", 10}, {"x", 1}} {
		if err := m.CreateRoom("A", args.code, args.capacity); !errors.Is(err, types.ErrRoomExists) {
			t.Errorf("duplicate create with %+v: expected ErrRoomExists, got %v", args, err)
		}
	}

	// The first room keeps its access code
	if _, err := m.LookupRoom("A", "1234"); err != nil {
		t.Errorf("first room damaged by duplicate create: %v", err)
	}
}

func TestManager_LookupMergesFailures(t *testing.T) {
	m, _ := newTestManager(time.Minute)
	mustCreate(t, m, "A", "1234", 2)

	_, errWrongCode := m.LookupRoom("A", "9999")
	_, errWrongName := m.LookupRoom("B", "1234")

	if !errors.Is(errWrongCode, types.ErrNotFound) || !errors.Is(errWrongName, types.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for both, got %v and %v", errWrongCode, errWrongName)
	}
	if errWrongCode.Error() != errWrongName.Error() {
		t.Error("wrong name and wrong code must be indistinguishable")
	}
}

func TestManager_ConcurrentCreateSameName(t *testing.T) {
	m, _ := newTestManager(time.Minute)

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := m.CreateRoom("race", fmt.Sprintf("code%d", i), 5); err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if created != 1 {
		t.Errorf("exactly one concurrent create should win, got %d", created)
	}
}

// Membership Manager

func TestManager_CapacityEnforced(t *testing.T) {
	for _, capacity := range []int{1, 2, 5} {
		m, _ := newTestManager(time.Minute)
		r := mustCreate(t, m, "A", "1234", capacity)

		for i := 0; i < capacity; i++ {
			if err := m.JoinStudent(r, newFakeConn(fmt.Sprintf("s%d", i)), fmt.Sprintf("Student %d", i)); err != nil {
				t.Fatalf("capacity %d: join %d failed: %v", capacity, i, err)
			}
		}
		if err := m.JoinStudent(r, newFakeConn("extra"), "Extra"); !errors.Is(err, types.ErrRoomFull) {
			t.Errorf("capacity %d: expected ErrRoomFull, got %v", capacity, err)
		}
		if r.MemberCount() != capacity {
			t.Errorf("capacity %d: member count %d", capacity, r.MemberCount())
		}
	}
}

func TestManager_TeachersNotCounted(t *testing.T) {
	m, _ := newTestManager(time.Minute)
	r := mustCreate(t, m, "A", "1234", 1)

	for i := 0; i < 3; i++ {
		if err := m.JoinTeacher(r, newFakeConn(fmt.Sprintf("t%d", i))); err != nil {
			t.Fatalf("teacher join failed: %v", err)
		}
	}
	if err := m.JoinStudent(r, newFakeConn("s1"), "Alice"); err != nil {
		t.Fatalf("student join after teachers failed: %v", err)
	}
	if r.SubscriberCount() != 4 || r.MemberCount() != 1 {
		t.Errorf("subscribers=%d members=%d", r.SubscriberCount(), r.MemberCount())
	}
}

func TestManager_TeacherJoinReceivesListOnly(t *testing.T) {
	m, _ := newTestManager(time.Minute)
	r := mustCreate(t, m, "A", "1234", 3)

	alice := newFakeConn("a")
	if err := m.JoinStudent(r, alice, "Alice"); err != nil {
		t.Fatal(err)
	}
	before := len(alice.events(types.EventStudentsList))

	teacher := newFakeConn("t")
	if err := m.JoinTeacher(r, teacher); err != nil {
		t.Fatal(err)
	}

	list := teacher.lastList(t)
	if len(list) != 1 || list[0].ID != "a" || list[0].Name != "Alice" {
		t.Errorf("teacher list = %+v", list)
	}
	if after := len(alice.events(types.EventStudentsList)); after != before {
		t.Error("teacher join must not broadcast to the room")
	}
}

func TestManager_StudentNameRequired(t *testing.T) {
	m, _ := newTestManager(time.Minute)
	r := mustCreate(t, m, "A", "1234", 3)

	if err := m.JoinStudent(r, newFakeConn("s"), "   "); !errors.Is(err, types.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got %v", err)
	}
	if err := m.JoinStudent(r, newFakeConn("s"), "  Bob "); err != nil {
		t.Fatal(err)
	}
	if s, ok := r.Student("s"); !ok || s.DisplayName != "Bob" || s.LastFrame != "" {
		t.Errorf("unexpected record %+v", s)
	}
}

func TestManager_DuplicateNamesAllowed(t *testing.T) {
	m, _ := newTestManager(time.Minute)
	r := mustCreate(t, m, "A", "1234", 3)

	if err := m.JoinStudent(r, newFakeConn("1"), "Sam"); err != nil {
		t.Fatal(err)
	}
	if err := m.JoinStudent(r, newFakeConn("2"), "Sam"); err != nil {
		t.Fatalf("display names need not be unique: %v", err)
	}
	if err := m.JoinStudent(r, newFakeConn("2"), "Sam"); !errors.Is(err, types.ErrAlreadyJoined) {
		t.Errorf("same connection joining twice: got %v", err)
	}
}

func TestManager_LeaveIsIdempotent(t *testing.T) {
	m, _ := newTestManager(time.Minute)
	r := mustCreate(t, m, "A", "1234", 3)
	a, b := newFakeConn("a"), newFakeConn("b")
	_ = m.JoinStudent(r, a, "Alice")
	_ = m.JoinStudent(r, b, "Bob")

	m.LeaveStudent(r, "a")
	listsAfterFirst := len(b.events(types.EventStudentsList))
	m.LeaveStudent(r, "a")
	m.LeaveStudent(r, "nobody")

	if r.MemberCount() != 1 {
		t.Errorf("expected 1 member, got %d", r.MemberCount())
	}
	if len(b.events(types.EventStudentsList)) != listsAfterFirst {
		t.Error("removing an absent id must not broadcast")
	}
}

// Broadcast Relay

func TestManager_PublishFrameFanOut(t *testing.T) {
	m, _ := newTestManager(time.Minute)
	r := mustCreate(t, m, "A", "1234", 3)

	teacher, alice, bob := newFakeConn("t"), newFakeConn("a"), newFakeConn("b")
	_ = m.JoinTeacher(r, teacher)
	_ = m.JoinStudent(r, alice, "Alice")
	_ = m.JoinStudent(r, bob, "Bob")

	if !m.PublishFrame(r, "a", "data:image/jpeg;base64,AAAA") {
		t.Fatal("frame from member should be relayed")
	}

	for _, c := range []*fakeConn{teacher, alice, bob} {
		updates := c.events(types.EventScreenUpdate)
		if len(updates) != 1 {
			t.Fatalf("%s received %d screen-updates, want 1", c.id, len(updates))
		}
		u := updates[0].Payload.(types.ScreenUpdate)
		if u.ID != "a" || u.Name != "Alice" || u.Image != "data:image/jpeg;base64,AAAA" {
			t.Errorf("%s got %+v", c.id, u)
		}
	}

	if s, _ := r.Student("a"); s.LastFrame != "data:image/jpeg;base64,AAAA" {
		t.Errorf("lastFrame not stored: %q", s.LastFrame)
	}
}

func TestManager_PublishFrameFromNonMember(t *testing.T) {
	m, _ := newTestManager(time.Minute)
	r := mustCreate(t, m, "A", "1234", 3)
	teacher := newFakeConn("t")
	_ = m.JoinTeacher(r, teacher)

	if m.PublishFrame(r, "t", "img") {
		t.Error("teacher connection is not a member; frame must be dropped")
	}
	if m.PublishFrame(r, "ghost", "img") {
		t.Error("unknown connection frame must be dropped")
	}
	if n := len(teacher.events(types.EventScreenUpdate)); n != 0 {
		t.Errorf("expected no screen-update, got %d", n)
	}
}

func TestManager_FrameOrderPerSender(t *testing.T) {
	m, _ := newTestManager(time.Minute)
	r := mustCreate(t, m, "A", "1234", 2)
	teacher, alice := newFakeConn("t"), newFakeConn("a")
	_ = m.JoinTeacher(r, teacher)
	_ = m.JoinStudent(r, alice, "Alice")

	for i := 0; i < 20; i++ {
		m.PublishFrame(r, "a", fmt.Sprintf("frame-%02d", i))
	}

	updates := teacher.events(types.EventScreenUpdate)
	for i, u := range updates {
		if got := u.Payload.(types.ScreenUpdate).Image; got != fmt.Sprintf("frame-%02d", i) {
			t.Fatalf("update %d out of order: %s", i, got)
		}
	}
}

func TestManager_SlowRecipientDoesNotBlock(t *testing.T) {
	m, _ := newTestManager(time.Minute)
	r := mustCreate(t, m, "A", "1234", 2)
	slow, alice := newFakeConn("slow"), newFakeConn("a")
	slow.full = true
	_ = m.JoinTeacher(r, slow)
	_ = m.JoinStudent(r, alice, "Alice")

	if !m.PublishFrame(r, "a", "img") {
		t.Fatal("frame should be relayed even when one recipient drops it")
	}
	if len(alice.events(types.EventScreenUpdate)) != 1 {
		t.Error("healthy recipient should still get the frame")
	}
}

func TestManager_ReplayLastFramesToTeacher(t *testing.T) {
	m := NewManager(Options{GracePeriod: time.Minute, AccessCodeCost: bcrypt.MinCost, ReplayLastFrames: true})
	r := mustCreate(t, m, "A", "1234", 3)
	_ = m.JoinStudent(r, newFakeConn("a"), "Alice")
	_ = m.JoinStudent(r, newFakeConn("b"), "Bob")
	m.PublishFrame(r, "b", "bob-frame")

	teacher := newFakeConn("t")
	_ = m.JoinTeacher(r, teacher)

	updates := teacher.events(types.EventScreenUpdate)
	if len(updates) != 1 {
		t.Fatalf("expected 1 replayed frame, got %d", len(updates))
	}
	if u := updates[0].Payload.(types.ScreenUpdate); u.ID != "b" || u.Image != "bob-frame" {
		t.Errorf("replayed %+v", u)
	}
}

// Lifecycle Controller

func TestManager_TeardownAfterLastLeave(t *testing.T) {
	m, rec := newTestManager(30 * time.Millisecond)
	r := mustCreate(t, m, "A", "1234", 2)
	teacher, alice := newFakeConn("t"), newFakeConn("a")
	_ = m.JoinTeacher(r, teacher)
	_ = m.JoinStudent(r, alice, "Alice")

	m.LeaveStudent(r, "a")
	if !r.TeardownArmed() || r.State() != StateDraining {
		t.Fatalf("expected draining room, state=%s", r.State())
	}

	if !waitFor(t, time.Second, func() bool { return r.State() == StateDeleted }) {
		t.Fatal("room was not deleted after grace period")
	}
	if _, err := m.LookupRoom("A", "1234"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("deleted room still resolves: %v", err)
	}
	if n := len(teacher.events(types.EventRoomClosed)); n != 1 {
		t.Errorf("teacher should receive one room-closed, got %d", n)
	}

	kinds := rec.kinds()
	if kinds[len(kinds)-1] != types.ActivityRoomClosed {
		t.Errorf("last activity = %s, want room_closed", kinds[len(kinds)-1])
	}
}

func TestManager_RejoinCancelsTeardown(t *testing.T) {
	m, _ := newTestManager(60 * time.Millisecond)
	r := mustCreate(t, m, "A", "1234", 2)

	_ = m.JoinStudent(r, newFakeConn("a"), "Alice")
	m.LeaveStudent(r, "a")
	if !r.TeardownArmed() {
		t.Fatal("teardown should be armed")
	}

	if err := m.JoinStudent(r, newFakeConn("a2"), "Alice"); err != nil {
		t.Fatalf("rejoin failed: %v", err)
	}
	if r.TeardownArmed() || r.State() != StateActive {
		t.Fatalf("rejoin should cancel teardown, state=%s", r.State())
	}

	time.Sleep(150 * time.Millisecond)
	if _, err := m.LookupRoom("A", "1234"); err != nil {
		t.Errorf("room deleted despite rejoin: %v", err)
	}
	if r.MemberCount() != 1 {
		t.Errorf("member count = %d, want 1", r.MemberCount())
	}
}

func TestManager_RearmReplacesTimer(t *testing.T) {
	grace := 80 * time.Millisecond
	m, rec := newTestManager(grace)
	r := mustCreate(t, m, "A", "1234", 2)

	_ = m.JoinStudent(r, newFakeConn("a"), "Alice")
	m.LeaveStudent(r, "a")
	time.Sleep(grace / 2)
	_ = m.JoinStudent(r, newFakeConn("b"), "Bob")
	m.LeaveStudent(r, "b")
	rearmed := time.Now()

	if !waitFor(t, 2*time.Second, func() bool { return r.State() == StateDeleted }) {
		t.Fatal("second timer never fired")
	}
	if elapsed := time.Since(rearmed); elapsed < grace-5*time.Millisecond {
		t.Errorf("room deleted %v after re-arm; the replaced timer must not delete it", elapsed)
	}

	closed := 0
	for _, k := range rec.kinds() {
		if k == types.ActivityRoomClosed {
			closed++
		}
	}
	if closed != 1 {
		t.Errorf("room closed %d times", closed)
	}
}

func TestManager_UnjoinedRoomPersists(t *testing.T) {
	m, _ := newTestManager(20 * time.Millisecond)
	r := mustCreate(t, m, "A", "1234", 2)
	_ = m.JoinTeacher(r, newFakeConn("t"))

	time.Sleep(80 * time.Millisecond)
	if r.State() != StateIdle {
		t.Errorf("never-joined room should stay idle, got %s", r.State())
	}
}

func TestManager_TeardownUnjoinedOption(t *testing.T) {
	m := NewManager(Options{GracePeriod: 20 * time.Millisecond, AccessCodeCost: bcrypt.MinCost, TeardownUnjoined: true})
	r := mustCreate(t, m, "A", "1234", 2)

	if !waitFor(t, time.Second, func() bool { return r.State() == StateDeleted }) {
		t.Fatal("unjoined room should be torn down when the option is set")
	}
	if m.Count() != 0 {
		t.Errorf("registry still holds %d rooms", m.Count())
	}
}

func TestManager_JoinDeletedRoom(t *testing.T) {
	m, _ := newTestManager(10 * time.Millisecond)
	r := mustCreate(t, m, "A", "1234", 2)
	_ = m.JoinStudent(r, newFakeConn("a"), "Alice")
	m.LeaveStudent(r, "a")
	waitFor(t, time.Second, func() bool { return r.State() == StateDeleted })

	// A handle obtained before deletion must not resurrect the room
	if err := m.JoinStudent(r, newFakeConn("b"), "Bob"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("join on deleted room: got %v", err)
	}
	if err := m.JoinTeacher(r, newFakeConn("t")); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("teacher join on deleted room: got %v", err)
	}

	// The name is free again
	if err := m.CreateRoom("A", "new", 3); err != nil {
		t.Errorf("name should be reusable after deletion: %v", err)
	}
}

func TestManager_ShutdownStopsTimers(t *testing.T) {
	m, _ := newTestManager(30 * time.Millisecond)
	r := mustCreate(t, m, "A", "1234", 2)
	_ = m.JoinStudent(r, newFakeConn("a"), "Alice")
	m.LeaveStudent(r, "a")

	m.Shutdown()
	time.Sleep(80 * time.Millisecond)
	if m.Count() != 1 {
		t.Error("shutdown should stop pending teardowns")
	}
}

// Concrete classroom scenario

func TestManager_ClassroomScenario(t *testing.T) {
	m, _ := newTestManager(40 * time.Millisecond)
	if err := m.CreateRoom("A", "1234", 2); err != nil {
		t.Fatal(err)
	}

	alice, bob, carol := newFakeConn("a"), newFakeConn("b"), newFakeConn("c")

	r, err := m.LookupRoom("A", "1234")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.JoinStudent(r, alice, "Alice"); err != nil {
		t.Fatal(err)
	}
	if got := alice.lastList(t); len(got) != 1 || got[0] != (types.StudentInfo{ID: "a", Name: "Alice"}) {
		t.Errorf("after Alice: %+v", got)
	}

	if err := m.JoinStudent(r, bob, "Bob"); err != nil {
		t.Fatal(err)
	}
	want := []types.StudentInfo{{ID: "a", Name: "Alice"}, {ID: "b", Name: "Bob"}}
	for _, c := range []*fakeConn{alice, bob} {
		got := c.lastList(t)
		if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
			t.Errorf("%s list after Bob: %+v", c.id, got)
		}
	}

	if err := m.JoinStudent(r, carol, "Carol"); !errors.Is(err, types.ErrRoomFull) {
		t.Errorf("third student: expected ErrRoomFull, got %v", err)
	}

	m.LeaveStudent(r, "a")
	if got := bob.lastList(t); len(got) != 1 || got[0].ID != "b" {
		t.Errorf("after Alice left: %+v", got)
	}

	m.LeaveStudent(r, "b")
	if !r.TeardownArmed() {
		t.Fatal("teardown should arm when Bob leaves")
	}

	if !waitFor(t, time.Second, func() bool { return m.Count() == 0 }) {
		t.Fatal("room A should be deleted after grace period")
	}
	if _, err := m.LookupRoom("A", "1234"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("room A still resolves: %v", err)
	}
}

func TestManager_ConcurrentJoinLeave(t *testing.T) {
	m, _ := newTestManager(time.Minute)
	r := mustCreate(t, m, "A", "1234", 10)

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("s%d", i)
			if err := m.JoinStudent(r, newFakeConn(id), id); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
				m.PublishFrame(r, id, "img")
			}
		}(i)
	}
	wg.Wait()

	if accepted != 10 || r.MemberCount() != 10 {
		t.Fatalf("accepted=%d members=%d, want 10", accepted, r.MemberCount())
	}

	for _, s := range r.Members() {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			m.LeaveStudent(r, id)
		}(s.ID)
	}
	wg.Wait()

	if r.MemberCount() != 0 || !r.TeardownArmed() {
		t.Errorf("members=%d armed=%v", r.MemberCount(), r.TeardownArmed())
	}

	stats := m.Stats()
	if stats["rooms"] != 1 || stats["draining"] != 1 || stats["students"] != 0 {
		t.Errorf("stats = %v", stats)
	}
	m.Shutdown()
}
