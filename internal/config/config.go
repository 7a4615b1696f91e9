// internal/config/config.go
// Client configuration: defaults, an optional JSON file, a .env file and WHISPER_* environment
// overrides, applied in that order. CLI flags are applied on top by main.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/erilali/whisper/internal/chat"
	"github.com/erilali/whisper/internal/logger"
	"github.com/joho/godotenv"
)

const DefaultEnvFile = ".env"

var ErrInvalid = errors.New("invalid config")

// Duration is a time.Duration that reads "1.5s" style strings or a number of seconds from JSON.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}
	var secs float64
	if err := json.Unmarshal(b, &secs); err != nil {
		return fmt.Errorf("duration must be a string or a number of seconds: %s", b)
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

type ReconnectConfig struct {
	InitialDelay Duration `json:"initial_delay"`
	MaxDelay     Duration `json:"max_delay"`
	MaxRetries   int      `json:"max_retries"` // 0 retries forever
}

type Config struct {
	RelayURL string `json:"url"`
	Username string `json:"username"`

	// Rooms is the room catalog. When empty it is fetched from RoomsURL.
	Rooms    []chat.RoomInfo `json:"rooms"`
	RoomsURL string          `json:"rooms_url"`
	EmojiURL string          `json:"emoji_url"`

	// NatsURL enables the desktop notification bridge.
	NatsURL string `json:"nats_url"`

	MultiRoom bool `json:"multi_room"`
	// RoomHint is the 0-based catalog position opened on first connect, "#2" or "2".
	RoomHint string `json:"room"`

	Reconnect        ReconnectConfig  `json:"reconnect"`
	EchoWindow       Duration         `json:"echo_window"`
	FetchTimeout     Duration         `json:"fetch_timeout"`
	NotifyPermission string           `json:"notify_permission"` // default, granted, denied
	Log              logger.LogConfig `json:"log"`
}

func Default() Config {
	return Config{
		Reconnect: ReconnectConfig{
			InitialDelay: Duration(time.Second),
			MaxDelay:     Duration(30 * time.Second),
		},
		EchoWindow:       Duration(10 * time.Second),
		FetchTimeout:     Duration(10 * time.Second),
		NotifyPermission: "default",
		Log:              logger.DefaultLogConfig(),
	}
}

// Load reads the JSON file at path (a missing file leaves the defaults) and applies the
// environment, including a .env file in the working directory.
func Load(path string) (Config, error) {
	return LoadWithEnv(path, DefaultEnvFile)
}

// LoadWithEnv is Load with an explicit .env file. Variables already set in the process
// environment win over the file.
func LoadWithEnv(path, envFile string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := readFile(path, &cfg); err != nil {
			return cfg, err
		}
	}

	dotenv := map[string]string{}
	if envFile != "" {
		m, err := godotenv.Read(envFile)
		switch {
		case err == nil:
			dotenv = m
		case errors.Is(err, fs.ErrNotExist):
		default:
			return cfg, fmt.Errorf("read %s: %w", envFile, err)
		}
	}
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func readFile(path string, cfg *Config) error {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()
	decoder := json.NewDecoder(file)
	if err := decoder.Decode(cfg); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"WHISPER_URL":               &c.RelayURL,
		"WHISPER_USERNAME":          &c.Username,
		"WHISPER_ROOMS_URL":         &c.RoomsURL,
		"WHISPER_EMOJI_URL":         &c.EmojiURL,
		"WHISPER_ROOM":              &c.RoomHint,
		"WHISPER_NOTIFY_PERMISSION": &c.NotifyPermission,
		"WHISPER_LOG_LEVEL":         &c.Log.Level,
		"NATS_URL":                  &c.NatsURL,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := lookup("WHISPER_MULTI_ROOM"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: WHISPER_MULTI_ROOM=%q", ErrInvalid, v)
		}
		c.MultiRoom = b
	}
	if v, ok := lookup("WHISPER_MAX_RETRIES"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: WHISPER_MAX_RETRIES=%q", ErrInvalid, v)
		}
		c.Reconnect.MaxRetries = n
	}
	return nil
}

// Validate reports the first problem that would keep a session from starting.
func (c Config) Validate() error {
	if c.RelayURL == "" {
		return fmt.Errorf("%w: relay url is required", ErrInvalid)
	}
	u, err := url.Parse(c.RelayURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("%w: relay url %q must be ws:// or wss://", ErrInvalid, c.RelayURL)
	}
	if strings.TrimSpace(c.Username) == "" {
		return fmt.Errorf("%w: username is required", ErrInvalid)
	}
	if len(c.Rooms) == 0 && c.RoomsURL == "" {
		return fmt.Errorf("%w: either rooms or rooms_url must be set", ErrInvalid)
	}
	if c.Reconnect.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries cannot be negative", ErrInvalid)
	}
	if c.Reconnect.InitialDelay <= 0 || c.Reconnect.MaxDelay < c.Reconnect.InitialDelay {
		return fmt.Errorf("%w: reconnect delays must satisfy 0 < initial_delay <= max_delay", ErrInvalid)
	}
	switch c.NotifyPermission {
	case "", "default", "granted", "denied":
	default:
		return fmt.Errorf("%w: notify_permission %q", ErrInvalid, c.NotifyPermission)
	}
	return nil
}
