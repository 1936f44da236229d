package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"github.com/HoangQuocKhanh0504/khanhpclass/internal/app"
	"github.com/HoangQuocKhanh0504/khanhpclass/internal/config"
	"github.com/HoangQuocKhanh0504/khanhpclass/pkg/types"
)

// startApp runs a full application on an ephemeral port
func startApp(t *testing.T, mutate func(*config.Config)) *app.Application {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = 0
	cfg.HTTP.StaticDir = t.TempDir()
	cfg.Rooms.AccessCodeCost = bcrypt.MinCost
	cfg.Rooms.GracePeriod = config.Duration(200 * time.Millisecond)
	cfg.Log.Level = "error"
	if mutate != nil {
		mutate(cfg)
	}

	application, err := app.NewApplication(cfg)
	if err != nil {
		t.Fatalf("NewApplication failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := application.Start(ctx); err != nil {
		cancel()
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		if err := application.Stop(stopCtx); err != nil {
			t.Logf("Stop: %v", err)
		}
		cancel()
	})
	return application
}

func createRoom(t *testing.T, application *app.Application, body string) int {
	t.Helper()
	resp, err := http.Post("http://"+application.Addr()+"/create-room", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("create-room request failed: %v", err)
	}
	defer resp.Body.Close()
	return resp.StatusCode
}

// client is a test WebSocket peer that decodes inbound envelopes
type client struct {
	t    *testing.T
	conn *websocket.Conn
}

type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func dial(t *testing.T, application *app.Application) *client {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+application.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &client{t: t, conn: conn}
}

func (c *client) emit(event string, data interface{}) {
	c.t.Helper()
	if err := c.conn.WriteJSON(map[string]interface{}{"event": event, "data": data}); err != nil {
		c.t.Fatalf("emit %s failed: %v", event, err)
	}
}

// expect reads until an event with the given name arrives, skipping others
func (c *client) expect(event string) json.RawMessage {
	c.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		_ = c.conn.SetReadDeadline(deadline)
		var msg inbound
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.t.Fatalf("waiting for %s: %v", event, err)
		}
		if msg.Event == event {
			return msg.Data
		}
	}
}

func (c *client) expectStudents(want ...string) []types.StudentInfo {
	c.t.Helper()
	for {
		var list []types.StudentInfo
		if err := json.Unmarshal(c.expect(types.EventStudentsList), &list); err != nil {
			c.t.Fatalf("bad students-list: %v", err)
		}
		if namesEqual(list, want) {
			return list
		}
		// an intermediate list from an earlier join; keep reading
	}
}

func (c *client) expectError() string {
	c.t.Helper()
	var msg string
	if err := json.Unmarshal(c.expect(types.EventErrorMsg), &msg); err != nil {
		c.t.Fatalf("bad error-msg: %v", err)
	}
	return msg
}

// silent asserts that no event named event arrives within d
func (c *client) silent(event string, d time.Duration) {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(d))
	for {
		var msg inbound
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Event == event {
			c.t.Fatalf("unexpected %s: %s", event, msg.Data)
		}
	}
}

func namesEqual(list []types.StudentInfo, want []string) bool {
	if len(list) != len(want) {
		return false
	}
	for i := range list {
		if list[i].Name != want[i] {
			return false
		}
	}
	return true
}
