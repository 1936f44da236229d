package router

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/HoangQuocKhanh0504/khanhpclass/internal/metrics"
	"github.com/HoangQuocKhanh0504/khanhpclass/internal/session"
	"github.com/HoangQuocKhanh0504/khanhpclass/pkg/ratelimit"
	"github.com/HoangQuocKhanh0504/khanhpclass/pkg/types"
)

// Router maps inbound named events onto session operations
// ARCHITECTURAL DISCOVERY: Pure dispatch logic; room state and delivery stay
// in the room package, transport stays in the websocket package
type Router struct {
	joinLimiter *ratelimit.Limiter
	metrics     *metrics.Collector
}

// NewRouter creates a router that allows joinsPerMinute join attempts per
// connection; a non-positive value disables the limit
func NewRouter(joinsPerMinute int, collector *metrics.Collector) *Router {
	return &Router{
		joinLimiter: ratelimit.New(joinsPerMinute, time.Minute),
		metrics:     collector,
	}
}

// Route handles one inbound event for sess.
// FUNCTIONAL DISCOVERY: Join failures are answered with error-msg to the
// sender only; frames and unknown events that do not fit the connection's
// state are dropped without a reply. The returned error is for logging.
func (r *Router) Route(sess *session.Session, env *types.Envelope) error {
	if sess.Closed() {
		return nil
	}

	switch env.Event {
	case types.EventTeacherJoin:
		var req types.TeacherJoin
		if err := decode(env, &req); err != nil {
			r.metrics.JoinRejected("teacher", metrics.ResultInvalid)
			sess.Fail(types.ErrInvalidRequest)
			return err
		}
		if !r.joinLimiter.Allow(sess.ID()) {
			r.metrics.JoinRejected("teacher", metrics.ResultRateLimited)
			sess.Fail(types.ErrRateLimited)
			return types.ErrRateLimited
		}
		if err := sess.JoinTeacher(req); err != nil {
			sess.Fail(err)
			return fmt.Errorf("teacher-join %q: %w", req.RoomName, err)
		}
		return nil

	case types.EventStudentJoin:
		var req types.StudentJoin
		if err := decode(env, &req); err != nil {
			r.metrics.JoinRejected("student", metrics.ResultInvalid)
			sess.Fail(types.ErrInvalidRequest)
			return err
		}
		if !r.joinLimiter.Allow(sess.ID()) {
			r.metrics.JoinRejected("student", metrics.ResultRateLimited)
			sess.Fail(types.ErrRateLimited)
			return types.ErrRateLimited
		}
		if err := sess.JoinStudent(req); err != nil {
			sess.Fail(err)
			return fmt.Errorf("student-join %q: %w", req.RoomName, err)
		}
		return nil

	case types.EventScreenData:
		var frame types.ScreenData
		if err := decode(env, &frame); err != nil || frame.Image == "" {
			slog.Debug("malformed screen-data dropped", "connection", sess.ID())
			return nil
		}
		sess.PublishFrame(frame.Image)
		return nil

	default:
		slog.Debug("unknown event dropped", "connection", sess.ID(), "event", env.Event)
		return nil
	}
}

// Disconnect detaches sess from its room and forgets its join attempts
func (r *Router) Disconnect(sess *session.Session) {
	sess.Leave()
	r.joinLimiter.Forget(sess.ID())
}

// Cleanup drops stale limiter state; call periodically
func (r *Router) Cleanup() {
	r.joinLimiter.Cleanup()
}

func decode(env *types.Envelope, v interface{}) error {
	if len(env.Data) == 0 {
		return ErrInvalidPayload
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
