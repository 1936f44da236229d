package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

// EnvPrefix is prepended to every environment variable name
const EnvPrefix = "KHANHPCLASS_"

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Rooms     *RoomsConfig     `json:"rooms"`
	Hub       *HubConfig       `json:"hub"`
	Journal   *JournalConfig   `json:"journal"`
	Log       *LogConfig       `json:"log"`
}

type HTTPConfig struct {
	Host                string   `json:"host"`
	Port                int      `json:"port"`
	ReadTimeout         Duration `json:"read_timeout"`
	WriteTimeout        Duration `json:"write_timeout"`
	IdleTimeout         Duration `json:"idle_timeout"`
	ShutdownTimeout     Duration `json:"shutdown_timeout"`
	StaticDir           string   `json:"static_dir"`
	AllowedOrigins      []string `json:"allowed_origins"`
	CreateRoomPerMinute int      `json:"create_room_per_minute"`
}

// FUNCTIONAL DISCOVERY: WebSocket configuration sized for screen frames
type WebSocketConfig struct {
	PingInterval   Duration `json:"ping_interval"`
	ReadTimeout    Duration `json:"read_timeout"`
	WriteTimeout   Duration `json:"write_timeout"`
	BufferSize     int      `json:"buffer_size"`
	MaxMessageSize int64    `json:"max_message_size"`
}

type RoomsConfig struct {
	GracePeriod           Duration `json:"grace_period"`
	AccessCodeCost        int      `json:"access_code_cost"`
	MaxCapacity           int      `json:"max_capacity"`
	TeardownUnjoined      bool     `json:"teardown_unjoined"`
	ReplayLastFrames      bool     `json:"replay_last_frames"`
	JoinAttemptsPerMinute int      `json:"join_attempts_per_minute"`
}

type HubConfig struct {
	Workers   int `json:"workers"`
	QueueSize int `json:"queue_size"`
}

type JournalConfig struct {
	Enabled   bool     `json:"enabled"`
	Retention Duration `json:"retention"`
	QueueSize int      `json:"queue_size"`
}

type LogConfig struct {
	Format string `json:"format"` // text or json
	Level  string `json:"level"`  // debug, info, warn, error
}

// Duration reads JSON duration strings such as "5m" or "30s"
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// FUNCTIONAL DISCOVERY: Production-ready defaults based on classroom requirements
func DefaultConfig() *Config {
	return &Config{
		HTTP: &HTTPConfig{
			Host:                "0.0.0.0",
			Port:                3000,
			ReadTimeout:         Duration(30 * time.Second),
			WriteTimeout:        Duration(30 * time.Second),
			IdleTimeout:         Duration(120 * time.Second),
			ShutdownTimeout:     Duration(10 * time.Second),
			StaticDir:           "./public",
			AllowedOrigins:      []string{"*"},
			CreateRoomPerMinute: 30,
		},
		WebSocket: &WebSocketConfig{
			PingInterval:   Duration(30 * time.Second),
			ReadTimeout:    Duration(60 * time.Second),
			WriteTimeout:   Duration(10 * time.Second),
			BufferSize:     64,
			MaxMessageSize: 4 << 20,
		},
		Rooms: &RoomsConfig{
			GracePeriod:           Duration(5 * time.Minute),
			AccessCodeCost:        bcrypt.DefaultCost,
			MaxCapacity:           200,
			JoinAttemptsPerMinute: 20,
		},
		Hub: &HubConfig{
			Workers:   8,
			QueueSize: 256,
		},
		Journal: &JournalConfig{
			Enabled:   true,
			Retention: Duration(time.Hour),
			QueueSize: 1024,
		},
		Log: &LogConfig{
			Format: "text",
			Level:  "info",
		},
	}
}

// FUNCTIONAL DISCOVERY: Comprehensive validation prevents invalid system configurations
func (c *Config) Validate() error {
	if c.HTTP == nil || c.WebSocket == nil || c.Rooms == nil || c.Hub == nil || c.Journal == nil || c.Log == nil {
		return errors.New("all configuration sections are required")
	}

	// Port 0 binds an ephemeral port
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 0 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		return fmt.Errorf("HTTP shutdown timeout must be positive")
	}
	if c.HTTP.CreateRoomPerMinute < 0 {
		return fmt.Errorf("HTTP create_room_per_minute cannot be negative")
	}

	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must be longer than the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		return fmt.Errorf("WebSocket max message size must be positive")
	}

	if c.Rooms.GracePeriod <= 0 {
		return fmt.Errorf("room grace period must be positive")
	}
	if c.Rooms.AccessCodeCost < bcrypt.MinCost || c.Rooms.AccessCodeCost > bcrypt.MaxCost {
		return fmt.Errorf("room access code cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if c.Rooms.MaxCapacity < 0 {
		return fmt.Errorf("room max capacity cannot be negative")
	}
	if c.Rooms.JoinAttemptsPerMinute < 0 {
		return fmt.Errorf("room join attempts per minute cannot be negative")
	}

	if c.Hub.Workers <= 0 || c.Hub.QueueSize <= 0 {
		return fmt.Errorf("hub workers and queue size must be positive")
	}

	if c.Journal.Enabled && (c.Journal.Retention <= 0 || c.Journal.QueueSize <= 0) {
		return fmt.Errorf("journal retention and queue size must be positive")
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log format must be text or json, got %q", c.Log.Format)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	return nil
}

// Load builds the configuration: defaults, then the JSON file at path (if
// any), then KHANHPCLASS_* environment variables. The result is validated.
func Load(path string) (*Config, error) {
	config := DefaultConfig()
	if path != "" {
		if err := config.mergeFile(path); err != nil {
			return nil, err
		}
	}
	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// LoadFromFile reads a JSON file over the defaults. Omitted keys keep their
// default values.
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	if err := config.mergeFile(path); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

// FUNCTIONAL DISCOVERY: Environment variable configuration enables deployment flexibility
func LoadFromEnv() *Config {
	config := DefaultConfig()
	config.applyEnv()
	return config
}

// LoadDotEnv loads variables from the given .env files (default ".env")
// without overriding ones already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return nil
}

// mergeFile decodes into the existing sections so absent keys stay untouched
func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	// A section given as null must not leave a nil pointer behind
	defaults := DefaultConfig()
	if c.HTTP == nil {
		c.HTTP = defaults.HTTP
	}
	if c.WebSocket == nil {
		c.WebSocket = defaults.WebSocket
	}
	if c.Rooms == nil {
		c.Rooms = defaults.Rooms
	}
	if c.Hub == nil {
		c.Hub = defaults.Hub
	}
	if c.Journal == nil {
		c.Journal = defaults.Journal
	}
	if c.Log == nil {
		c.Log = defaults.Log
	}
	return nil
}

// FUNCTIONAL DISCOVERY: Environment variables override with fallback; a
// malformed value is logged and the previous value kept
func (c *Config) applyEnv() {
	envString("HTTP_HOST", &c.HTTP.Host)
	envInt("HTTP_PORT", &c.HTTP.Port)
	if port := os.Getenv("PORT"); port != "" && os.Getenv(EnvPrefix+"HTTP_PORT") == "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.HTTP.Port = p
		}
	}
	envDuration("HTTP_READ_TIMEOUT", &c.HTTP.ReadTimeout)
	envDuration("HTTP_WRITE_TIMEOUT", &c.HTTP.WriteTimeout)
	envDuration("HTTP_IDLE_TIMEOUT", &c.HTTP.IdleTimeout)
	envDuration("HTTP_SHUTDOWN_TIMEOUT", &c.HTTP.ShutdownTimeout)
	envString("HTTP_STATIC_DIR", &c.HTTP.StaticDir)
	envList("HTTP_ALLOWED_ORIGINS", &c.HTTP.AllowedOrigins)
	envInt("HTTP_CREATE_ROOM_PER_MINUTE", &c.HTTP.CreateRoomPerMinute)

	envDuration("WEBSOCKET_PING_INTERVAL", &c.WebSocket.PingInterval)
	envDuration("WEBSOCKET_READ_TIMEOUT", &c.WebSocket.ReadTimeout)
	envDuration("WEBSOCKET_WRITE_TIMEOUT", &c.WebSocket.WriteTimeout)
	envInt("WEBSOCKET_BUFFER_SIZE", &c.WebSocket.BufferSize)
	var maxMessage int
	if envInt("WEBSOCKET_MAX_MESSAGE_SIZE", &maxMessage) {
		c.WebSocket.MaxMessageSize = int64(maxMessage)
	}

	envDuration("ROOMS_GRACE_PERIOD", &c.Rooms.GracePeriod)
	envInt("ROOMS_ACCESS_CODE_COST", &c.Rooms.AccessCodeCost)
	envInt("ROOMS_MAX_CAPACITY", &c.Rooms.MaxCapacity)
	envBool("ROOMS_TEARDOWN_UNJOINED", &c.Rooms.TeardownUnjoined)
	envBool("ROOMS_REPLAY_LAST_FRAMES", &c.Rooms.ReplayLastFrames)
	envInt("ROOMS_JOIN_ATTEMPTS_PER_MINUTE", &c.Rooms.JoinAttemptsPerMinute)

	envInt("HUB_WORKERS", &c.Hub.Workers)
	envInt("HUB_QUEUE_SIZE", &c.Hub.QueueSize)

	envBool("JOURNAL_ENABLED", &c.Journal.Enabled)
	envDuration("JOURNAL_RETENTION", &c.Journal.Retention)
	envInt("JOURNAL_QUEUE_SIZE", &c.Journal.QueueSize)

	envString("LOG_FORMAT", &c.Log.Format)
	envString("LOG_LEVEL", &c.Log.Level)
}

func envString(key string, dst *string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) bool {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("ignoring malformed environment value", "key", EnvPrefix+key, "value", v)
		return false
	}
	*dst = n
	return true
}

func envBool(key string, dst *bool) {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("ignoring malformed environment value", "key", EnvPrefix+key, "value", v)
		return
	}
	*dst = b
}

func envDuration(key string, dst *Duration) {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("ignoring malformed environment value", "key", EnvPrefix+key, "value", v)
		return
	}
	*dst = Duration(d)
}

func envList(key string, dst *[]string) {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return
	}
	var list []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	*dst = list
}
