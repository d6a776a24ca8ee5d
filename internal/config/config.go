package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type LibraryConfig struct {
	Dir        string `yaml:"dir"`
	Background string `yaml:"background"`
}

type VoicesConfig struct {
	Path          string `yaml:"path"`
	EngineDefault string `yaml:"engine_default"`
}

type SpeechConfig struct {
	Dir      string `yaml:"dir"`
	MaxFiles int    `yaml:"max_files"`
}

type SynthesisConfig struct {
	Mode       string `yaml:"mode"` // mock, exec
	Command    string `yaml:"command"`
	TimeoutMS  int    `yaml:"timeout_ms"`
	WaitMS     int    `yaml:"wait_ms"`
	QueueDepth int    `yaml:"queue_depth"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
}

type TranscoderConfig struct {
	Command     string `yaml:"command"`
	Bitrate     string `yaml:"bitrate"`
	SampleRate  int    `yaml:"sample_rate"`
	Channels    int    `yaml:"channels"`
	ChunkBytes  int    `yaml:"chunk_bytes"`
	BackoffMS   int    `yaml:"restart_backoff_ms"`
	KillGraceMS int    `yaml:"kill_grace_ms"`
}

type BroadcastConfig struct {
	RingChunks    int `yaml:"ring_chunks"`
	ReadTimeoutMS int `yaml:"read_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxJobs       int    `yaml:"max_jobs"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type Config struct {
	StationName string           `yaml:"station_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Library     LibraryConfig    `yaml:"library"`
	Voices      VoicesConfig     `yaml:"voices"`
	Speech      SpeechConfig     `yaml:"speech"`
	Synthesis   SynthesisConfig  `yaml:"synthesis"`
	Transcoder  TranscoderConfig `yaml:"transcoder"`
	Broadcast   BroadcastConfig  `yaml:"broadcast"`
	EventStore  EventStoreConfig `yaml:"event_store"`
}

func Default() Config {
	return Config{
		StationName: "wavecast-station",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 5002,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Library: LibraryConfig{
			Dir:        "./music",
			Background: "background.mp3",
		},
		Voices: VoicesConfig{
			Path:          "./data/voices.json",
			EngineDefault: "en-IN-PrabhatNeural",
		},
		Speech: SpeechConfig{
			Dir:      "./data/speech",
			MaxFiles: 5,
		},
		Synthesis: SynthesisConfig{
			Mode:       "mock",
			TimeoutMS:  45000,
			WaitMS:     500,
			QueueDepth: 32,
			SampleRate: 22050,
			Channels:   1,
		},
		Transcoder: TranscoderConfig{
			Command:     "ffmpeg",
			Bitrate:     "128k",
			SampleRate:  44100,
			Channels:    2,
			ChunkBytes:  4096,
			BackoffMS:   1000,
			KillGraceMS: 3000,
		},
		Broadcast: BroadcastConfig{
			RingChunks:    256,
			ReadTimeoutMS: 5000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/wavecast-events.db",
			RetentionMode: "session",
			RetentionDays: 7,
			MaxJobs:       10000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.StationName, "WAVECAST_STATION_NAME")
	overrideString(&cfg.Environment, "WAVECAST_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "WAVECAST_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "WAVECAST_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "WAVECAST_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "WAVECAST_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "WAVECAST_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "WAVECAST_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "WAVECAST_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "WAVECAST_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "WAVECAST_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "WAVECAST_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "WAVECAST_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "WAVECAST_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "WAVECAST_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "WAVECAST_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "WAVECAST_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Library.Dir, "WAVECAST_LIBRARY_DIR")
	overrideString(&cfg.Library.Background, "WAVECAST_LIBRARY_BACKGROUND")
	overrideString(&cfg.Voices.Path, "WAVECAST_VOICES_PATH")
	overrideString(&cfg.Voices.EngineDefault, "WAVECAST_VOICES_ENGINE_DEFAULT")
	overrideString(&cfg.Speech.Dir, "WAVECAST_SPEECH_DIR")
	overrideInt(&cfg.Speech.MaxFiles, "WAVECAST_SPEECH_MAX_FILES")
	overrideString(&cfg.Synthesis.Mode, "WAVECAST_SYNTHESIS_MODE")
	overrideString(&cfg.Synthesis.Command, "WAVECAST_SYNTHESIS_COMMAND")
	overrideInt(&cfg.Synthesis.TimeoutMS, "WAVECAST_SYNTHESIS_TIMEOUT_MS")
	overrideInt(&cfg.Synthesis.WaitMS, "WAVECAST_SYNTHESIS_WAIT_MS")
	overrideInt(&cfg.Synthesis.QueueDepth, "WAVECAST_SYNTHESIS_QUEUE_DEPTH")
	overrideInt(&cfg.Synthesis.SampleRate, "WAVECAST_SYNTHESIS_SAMPLE_RATE")
	overrideInt(&cfg.Synthesis.Channels, "WAVECAST_SYNTHESIS_CHANNELS")
	overrideString(&cfg.Transcoder.Command, "WAVECAST_TRANSCODER_COMMAND")
	overrideString(&cfg.Transcoder.Bitrate, "WAVECAST_TRANSCODER_BITRATE")
	overrideInt(&cfg.Transcoder.SampleRate, "WAVECAST_TRANSCODER_SAMPLE_RATE")
	overrideInt(&cfg.Transcoder.Channels, "WAVECAST_TRANSCODER_CHANNELS")
	overrideInt(&cfg.Transcoder.ChunkBytes, "WAVECAST_TRANSCODER_CHUNK_BYTES")
	overrideInt(&cfg.Transcoder.BackoffMS, "WAVECAST_TRANSCODER_RESTART_BACKOFF_MS")
	overrideInt(&cfg.Transcoder.KillGraceMS, "WAVECAST_TRANSCODER_KILL_GRACE_MS")
	overrideInt(&cfg.Broadcast.RingChunks, "WAVECAST_BROADCAST_RING_CHUNKS")
	overrideInt(&cfg.Broadcast.ReadTimeoutMS, "WAVECAST_BROADCAST_READ_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "WAVECAST_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "WAVECAST_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "WAVECAST_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxJobs, "WAVECAST_EVENT_STORE_MAX_JOBS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "WAVECAST_EVENT_STORE_VACUUM_ON_START")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.StationName == "" {
		return errors.New("station_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Library.Dir == "" {
		return errors.New("library.dir must not be empty")
	}
	if cfg.Library.Background == "" {
		return errors.New("library.background must not be empty")
	}
	if cfg.Voices.Path == "" {
		return errors.New("voices.path must not be empty")
	}
	if cfg.Voices.EngineDefault == "" {
		return errors.New("voices.engine_default must not be empty")
	}
	if cfg.Speech.Dir == "" {
		return errors.New("speech.dir must not be empty")
	}
	if cfg.Speech.MaxFiles <= 0 {
		return errors.New("speech.max_files must be >= 1")
	}
	switch cfg.Synthesis.Mode {
	case "mock", "exec":
	default:
		return errors.New("synthesis.mode must be one of mock|exec")
	}
	if cfg.Synthesis.Mode == "exec" && cfg.Synthesis.Command == "" {
		return errors.New("synthesis.command must be set when mode=exec")
	}
	if cfg.Synthesis.TimeoutMS <= 0 {
		return errors.New("synthesis.timeout_ms must be positive")
	}
	if cfg.Synthesis.WaitMS < 0 {
		return errors.New("synthesis.wait_ms must be >= 0")
	}
	if cfg.Synthesis.QueueDepth <= 0 {
		return errors.New("synthesis.queue_depth must be >= 1")
	}
	if cfg.Synthesis.SampleRate <= 0 {
		return errors.New("synthesis.sample_rate must be positive")
	}
	if cfg.Synthesis.Channels <= 0 {
		return errors.New("synthesis.channels must be positive")
	}
	if cfg.Transcoder.Command == "" {
		return errors.New("transcoder.command must not be empty")
	}
	if cfg.Transcoder.Bitrate == "" {
		return errors.New("transcoder.bitrate must not be empty")
	}
	if cfg.Transcoder.SampleRate <= 0 {
		return errors.New("transcoder.sample_rate must be positive")
	}
	if cfg.Transcoder.Channels <= 0 {
		return errors.New("transcoder.channels must be positive")
	}
	if cfg.Transcoder.ChunkBytes <= 0 {
		return errors.New("transcoder.chunk_bytes must be positive")
	}
	if cfg.Transcoder.BackoffMS <= 0 {
		return errors.New("transcoder.restart_backoff_ms must be positive")
	}
	if cfg.Transcoder.KillGraceMS <= 0 {
		return errors.New("transcoder.kill_grace_ms must be positive")
	}
	if cfg.Broadcast.RingChunks <= 1 {
		return errors.New("broadcast.ring_chunks must be >= 2")
	}
	if cfg.Broadcast.ReadTimeoutMS <= 0 {
		return errors.New("broadcast.read_timeout_ms must be positive")
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	return nil
}
