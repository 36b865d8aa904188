package live

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "INTERVIEW_LIVE_"

// DefaultRealtimeInputMIME is declared on every outbound audio chunk.
const DefaultRealtimeInputMIME = "audio/pcm;rate=16000"

const issueNoEndpoint = "either token_endpoint or ws_endpoint must be set"

type ClientConfig struct {
	TokenEndpoint string            `yaml:"token_endpoint"`
	WsEndpoint    string            `yaml:"ws_endpoint"`
	Headers       map[string]string `yaml:"headers"`

	Model              string   `yaml:"model"`
	Voice              string   `yaml:"voice"`
	ResponseModalities []string `yaml:"response_modalities"`
	Transcription      bool     `yaml:"transcription"`

	ReconnectEnabled     bool          `yaml:"reconnect_enabled"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	ConnectTimeout       time.Duration `yaml:"connect_timeout"`
	TokenRefreshBuffer   time.Duration `yaml:"token_refresh_buffer"`

	CaptureStartDelay  time.Duration `yaml:"capture_start_delay"`
	ChunkDuration      time.Duration `yaml:"chunk_duration"`
	UserSpeechDebounce time.Duration `yaml:"user_speech_debounce"`
	CaptureSampleRate  int           `yaml:"capture_sample_rate"`
	CaptureEncoding    string        `yaml:"capture_encoding"`

	// RealtimeInputMIME is declared on outbound chunks regardless of the
	// encoder unless DeclareEncoderMIME is set.
	RealtimeInputMIME  string `yaml:"realtime_input_mime"`
	DeclareEncoderMIME bool   `yaml:"declare_encoder_mime"`

	OutboundQueueSize int `yaml:"outbound_queue_size"`

	DebugLevel     string `yaml:"debug_level"`
	DebugWebsocket bool   `yaml:"debug_websocket"`
	DebugAudio     bool   `yaml:"debug_audio"`
	PrettyLogs     bool   `yaml:"pretty_logs"`

	Logger *Logger `yaml:"-"`
}

// NewClientConfig returns defaults only; see LoadFromEnv and LoadConfigFile.
func NewClientConfig() *ClientConfig {
	return &ClientConfig{
		Headers:              make(map[string]string),
		Model:                "models/gemini-2.0-flash-live-001",
		Voice:                "Puck",
		ResponseModalities:   []string{"AUDIO"},
		Transcription:        true,
		ReconnectEnabled:     true,
		MaxReconnectAttempts: 5,
		ReconnectBaseDelay:   time.Second,
		ReconnectMaxDelay:    10 * time.Second,
		ConnectTimeout:       30 * time.Second,
		TokenRefreshBuffer:   60 * time.Second,
		CaptureStartDelay:    500 * time.Millisecond,
		ChunkDuration:        250 * time.Millisecond,
		UserSpeechDebounce:   1500 * time.Millisecond,
		CaptureSampleRate:    16000,
		CaptureEncoding:      "auto",
		RealtimeInputMIME:    DefaultRealtimeInputMIME,
		OutboundQueueSize:    64,
		DebugLevel:           "INFO",
		PrettyLogs:           true,
	}
}

// LoadClientConfig layers defaults, an optional YAML file and the environment.
func LoadClientConfig(path string) (*ClientConfig, error) {
	c := NewClientConfig()
	if path != "" {
		if err := c.LoadConfigFile(path); err != nil {
			return nil, err
		}
	}
	c.LoadFromEnv()
	return c, nil
}

// LoadConfigFile overlays values from a YAML file. Durations use Go syntax ("250ms").
func (c *ClientConfig) LoadConfigFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config %s: %w", path, err)
	}
	defer f.Close()
	return c.loadYAML(f)
}

func (c *ClientConfig) loadYAML(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && err != io.EOF {
		return WrapError(err, ErrCodeConfigInvalid, "parse config")
	}
	return nil
}

// LoadFromEnv loads .env if present, then applies INTERVIEW_LIVE_* variables.
func (c *ClientConfig) LoadFromEnv() {
	_ = godotenv.Load()
	c.applyEnv(os.Getenv)
}

func (c *ClientConfig) applyEnv(getenv func(string) string) {
	env := func(key string) string { return strings.TrimSpace(getenv(envPrefix + key)) }

	str := func(key string, dst *string) {
		if v := env(key); v != "" {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) {
		if v := env(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
	integer := func(key string, dst *int) {
		if v := env(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v := env(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}

	str("TOKEN_ENDPOINT", &c.TokenEndpoint)
	str("WS_ENDPOINT", &c.WsEndpoint)
	str("MODEL", &c.Model)
	str("VOICE", &c.Voice)
	if v := env("RESPONSE_MODALITIES"); v != "" {
		c.ResponseModalities = splitList(v)
	}
	boolean("TRANSCRIPTION", &c.Transcription)
	boolean("RECONNECT_ENABLED", &c.ReconnectEnabled)
	integer("MAX_RECONNECT_ATTEMPTS", &c.MaxReconnectAttempts)
	duration("RECONNECT_BASE_DELAY", &c.ReconnectBaseDelay)
	duration("RECONNECT_MAX_DELAY", &c.ReconnectMaxDelay)
	duration("CONNECT_TIMEOUT", &c.ConnectTimeout)
	duration("TOKEN_REFRESH_BUFFER", &c.TokenRefreshBuffer)
	duration("CAPTURE_START_DELAY", &c.CaptureStartDelay)
	duration("CHUNK_DURATION", &c.ChunkDuration)
	duration("USER_SPEECH_DEBOUNCE", &c.UserSpeechDebounce)
	integer("CAPTURE_SAMPLE_RATE", &c.CaptureSampleRate)
	str("CAPTURE_ENCODING", &c.CaptureEncoding)
	str("REALTIME_INPUT_MIME", &c.RealtimeInputMIME)
	boolean("DECLARE_ENCODER_MIME", &c.DeclareEncoderMIME)
	integer("OUTBOUND_QUEUE_SIZE", &c.OutboundQueueSize)
	str("DEBUG_LEVEL", &c.DebugLevel)
	boolean("DEBUG_WEBSOCKET", &c.DebugWebsocket)
	boolean("DEBUG_AUDIO", &c.DebugAudio)
	boolean("PRETTY_LOGS", &c.PrettyLogs)

	if v := env("AUTH_HEADER"); v != "" {
		if c.Headers == nil {
			c.Headers = make(map[string]string)
		}
		c.Headers["Authorization"] = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, strings.ToUpper(part))
		}
	}
	return out
}

// Validate returns list of issues
func (c *ClientConfig) Validate() []string {
	issues := []string{}

	if c.TokenEndpoint == "" && c.WsEndpoint == "" {
		issues = append(issues, issueNoEndpoint)
	}
	if c.TokenEndpoint != "" {
		if u, err := url.Parse(c.TokenEndpoint); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			issues = append(issues, fmt.Sprintf("invalid token endpoint: %s", c.TokenEndpoint))
		}
	}
	if c.WsEndpoint != "" && !strings.HasPrefix(c.WsEndpoint, "ws") {
		issues = append(issues, "Invalid WebSocket endpoint format")
	}
	if c.Model == "" {
		issues = append(issues, "model must be set")
	}
	if len(c.ResponseModalities) == 0 {
		issues = append(issues, "at least one response modality is required")
	}
	for _, m := range c.ResponseModalities {
		if m != "AUDIO" && m != "TEXT" {
			issues = append(issues, fmt.Sprintf("unknown response modality: %s", m))
		}
	}
	if c.MaxReconnectAttempts < 0 {
		issues = append(issues, "max_reconnect_attempts must not be negative")
	}
	if c.ReconnectBaseDelay <= 0 || c.ReconnectMaxDelay < c.ReconnectBaseDelay {
		issues = append(issues, "reconnect delays must satisfy 0 < base <= max")
	}
	if c.ConnectTimeout <= 0 {
		issues = append(issues, "connect_timeout must be positive")
	}
	if c.ChunkDuration <= 0 {
		issues = append(issues, "chunk_duration must be positive")
	}
	if c.UserSpeechDebounce <= 0 {
		issues = append(issues, "user_speech_debounce must be positive")
	}
	if c.CaptureStartDelay < 0 {
		issues = append(issues, "capture_start_delay must not be negative")
	}
	if err := CaptureFormat(c.CaptureSampleRate).Validate(); err != nil {
		issues = append(issues, fmt.Sprintf("invalid capture sample rate: %d", c.CaptureSampleRate))
	}
	switch c.CaptureEncoding {
	case "auto", "opus", "wav", "pcm":
	default:
		issues = append(issues, fmt.Sprintf("invalid capture encoding: %s", c.CaptureEncoding))
	}
	if c.RealtimeInputMIME == "" {
		issues = append(issues, "realtime_input_mime must be set")
	}
	if c.OutboundQueueSize <= 0 {
		issues = append(issues, "outbound_queue_size must be positive")
	}

	validLevels := []string{"TRACE", "DEBUG", "INFO", "WARN", "WARNING", "ERROR", "OFF"}
	found := false
	for _, level := range validLevels {
		if strings.EqualFold(level, c.DebugLevel) {
			found = true
			break
		}
	}
	if !found {
		issues = append(issues, fmt.Sprintf("Invalid debug level: %s", c.DebugLevel))
	}

	return issues
}

// Backoff derived from the reconnect settings.
func (c *ClientConfig) Backoff() Backoff {
	return Backoff{Base: c.ReconnectBaseDelay, Max: c.ReconnectMaxDelay}
}

// logger returns the injected logger or builds one from DebugLevel.
func (c *ClientConfig) logger() *Logger {
	if c.Logger != nil {
		return c.Logger
	}
	cfg := DefaultLogConfig()
	cfg.Level = ParseLogLevel(c.DebugLevel)
	cfg.Pretty = c.PrettyLogs
	c.Logger = NewLogger(cfg)
	return c.Logger
}

// Print writes a human-readable summary to w.
func (c *ClientConfig) Print(w io.Writer) {
	fmt.Fprintln(w, "Interview Live Configuration")
	fmt.Fprintln(w, "==================================================")
	fmt.Fprintf(w, "Token Endpoint: %s\n", orUnset(c.TokenEndpoint))
	fmt.Fprintf(w, "WebSocket Endpoint: %s\n", orUnset(redactQuery(c.WsEndpoint)))
	fmt.Fprintf(w, "Model: %s\n", c.Model)
	fmt.Fprintf(w, "Voice: %s\n", c.Voice)
	fmt.Fprintf(w, "Response Modalities: %s\n", strings.Join(c.ResponseModalities, ","))
	fmt.Fprintf(w, "Transcription: %t\n", c.Transcription)
	fmt.Fprintf(w, "Reconnect: %t (max %d, %s..%s)\n", c.ReconnectEnabled, c.MaxReconnectAttempts, c.ReconnectBaseDelay, c.ReconnectMaxDelay)
	fmt.Fprintf(w, "Connect Timeout: %s\n", c.ConnectTimeout)
	fmt.Fprintf(w, "Token Refresh Buffer: %s\n", c.TokenRefreshBuffer)
	fmt.Fprintf(w, "Capture: %d Hz, %s chunks, encoding %s, start delay %s\n", c.CaptureSampleRate, c.ChunkDuration, c.CaptureEncoding, c.CaptureStartDelay)
	fmt.Fprintf(w, "User Speech Debounce: %s\n", c.UserSpeechDebounce)
	fmt.Fprintf(w, "Realtime Input MIME: %s (declare encoder mime: %t)\n", c.RealtimeInputMIME, c.DeclareEncoderMIME)
	fmt.Fprintf(w, "Debug Level: %s\n", c.DebugLevel)
	fmt.Fprintf(w, "Debug WebSocket: %t\n", c.DebugWebsocket)
	fmt.Fprintf(w, "Debug Audio: %t\n", c.DebugAudio)
}

func orUnset(s string) string {
	if s == "" {
		return "NOT SET"
	}
	return s
}

func redactQuery(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.RawQuery == "" {
		return raw
	}
	u.RawQuery = "redacted"
	return u.String()
}
