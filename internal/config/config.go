// Package config loads the rover settings: built-in defaults, then an
// optional YAML file, then .env and environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Serial  SerialConfig  `yaml:"serial"`
	IPC     IPCConfig     `yaml:"ipc"`
	Loop    LoopConfig    `yaml:"loop"`
	Motion  MotionConfig  `yaml:"motion"`
	Planner PlannerConfig `yaml:"planner"`
	Speech  SpeechConfig  `yaml:"speech"`
	Camera  CameraConfig  `yaml:"camera"`
	Ears    EarsConfig    `yaml:"ears"`
	Log     LogConfig     `yaml:"log"`

	BusURL     string `yaml:"busUrl"`
	ProxyAddr  string `yaml:"proxy"`
	Autonomous bool   `yaml:"autonomous"`

	OpenAIKey string `yaml:"-"`
}

type SerialConfig struct {
	Port        string        `yaml:"port"`
	Baud        int           `yaml:"baud"`
	ReadTimeout time.Duration `yaml:"readTimeout"`
	Settle      time.Duration `yaml:"settle"`
	Backoff     time.Duration `yaml:"backoff"`
}

// IPCConfig locates the flag files shared with the listener.
type IPCConfig struct {
	Dir    string        `yaml:"dir"`
	Poll   time.Duration `yaml:"poll"`
	Socket string        `yaml:"socket"`
}

type LoopConfig struct {
	Tick          time.Duration `yaml:"tick"`
	StatusEvery   time.Duration `yaml:"statusEvery"`
	SpeechTimeout time.Duration `yaml:"speechTimeout"`
	SpeakPause    time.Duration `yaml:"speakPause"`
	ViewPause     time.Duration `yaml:"viewPause"`
	FaultPause    time.Duration `yaml:"faultPause"`
}

type MotionConfig struct {
	Backup     time.Duration `yaml:"backup"`
	SurveyTurn time.Duration `yaml:"surveyTurn"`
	Turn       time.Duration `yaml:"turn"`
}

type PlannerConfig struct {
	Backend      string        `yaml:"backend"` // ollama | openai
	Model        string        `yaml:"model"`
	VisionModel  string        `yaml:"visionModel"`
	OllamaURL    string        `yaml:"ollamaUrl"`
	Directive    string        `yaml:"directive"`
	Persona      string        `yaml:"persona"`
	HistoryPairs int           `yaml:"historyPairs"`
	Timeout      time.Duration `yaml:"timeout"`
}

type SpeechConfig struct {
	Backend string `yaml:"backend"` // espeak | silent
	Voice   string `yaml:"voice"`
	Rate    int    `yaml:"rate"`
}

type CameraConfig struct {
	Command string        `yaml:"command"`
	Timeout time.Duration `yaml:"timeout"`
}

// EarsConfig is read by the listener daemon only.
type EarsConfig struct {
	Model     string        `yaml:"model"`
	Language  string        `yaml:"language"`
	Cue       string        `yaml:"cue"`
	KeepDir   string        `yaml:"keepDir"`
	Silence   float64       `yaml:"silence"` // frame RMS that counts as speech
	Hold      time.Duration `yaml:"hold"`
	MaxLength time.Duration `yaml:"maxLength"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Port:        "/dev/ttyUSB0",
			Baud:        115200,
			ReadTimeout: 50 * time.Millisecond,
			Settle:      2 * time.Second,
			Backoff:     3 * time.Second,
		},
		IPC: IPCConfig{
			Dir:    ".",
			Poll:   250 * time.Millisecond,
			Socket: "/tmp/rover-ears.sock",
		},
		Loop: LoopConfig{
			Tick:          50 * time.Millisecond,
			StatusEvery:   2 * time.Second,
			SpeechTimeout: 20 * time.Second,
			SpeakPause:    200 * time.Millisecond,
			ViewPause:     500 * time.Millisecond,
			FaultPause:    time.Second,
		},
		Motion: MotionConfig{
			Backup:     1500 * time.Millisecond,
			SurveyTurn: 2 * time.Second,
			Turn:       time.Second,
		},
		Planner: PlannerConfig{
			Backend:      "ollama",
			OllamaURL:    "http://127.0.0.1:11434",
			HistoryPairs: 20,
			Timeout:      2 * time.Minute,
		},
		Speech: SpeechConfig{
			Backend: "espeak",
			Voice:   "en-us",
			Rate:    160,
		},
		Camera: CameraConfig{
			Command: "fswebcam --no-banner -r 640x480 --jpeg 85 -",
			Timeout: 10 * time.Second,
		},
		Ears: EarsConfig{
			Model:     "models/ggml-base.en.bin",
			Language:  "en",
			Cue:       "beep.mp3",
			Silence:   0.015,
			Hold:      600 * time.Millisecond,
			MaxLength: 10 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration. path may be empty; envFile is optional and
// a missing one is not an error.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("ROVER_CONFIG")
	}
	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func applyEnvOverrides(cfg *Config) {
	cfg.Serial.Port = getEnv("ROVER_SERIAL_PORT", cfg.Serial.Port)
	cfg.Serial.Baud = getEnvInt("ROVER_SERIAL_BAUD", cfg.Serial.Baud)
	cfg.IPC.Dir = getEnv("ROVER_IPC_DIR", cfg.IPC.Dir)
	cfg.IPC.Socket = getEnv("ROVER_EARS_SOCKET", cfg.IPC.Socket)
	cfg.Loop.SpeechTimeout = getEnvDuration("ROVER_SPEECH_TIMEOUT", cfg.Loop.SpeechTimeout)

	cfg.Planner.Backend = getEnv("ROVER_PLANNER", cfg.Planner.Backend)
	cfg.Planner.Model = getEnv("ROVER_MODEL", cfg.Planner.Model)
	cfg.Planner.VisionModel = getEnv("ROVER_VISION_MODEL", cfg.Planner.VisionModel)
	cfg.Planner.OllamaURL = getEnv("OLLAMA_HOST", cfg.Planner.OllamaURL)
	cfg.Planner.Directive = getEnv("ROVER_DIRECTIVE", cfg.Planner.Directive)

	cfg.Speech.Backend = getEnv("ROVER_SPEECH", cfg.Speech.Backend)
	cfg.Speech.Voice = getEnv("ROVER_VOICE", cfg.Speech.Voice)
	cfg.Camera.Command = getEnv("ROVER_CAMERA", cfg.Camera.Command)
	cfg.Ears.Model = getEnv("ROVER_WHISPER_MODEL", cfg.Ears.Model)

	cfg.BusURL = getEnv("ROVER_BUS", cfg.BusURL)
	cfg.ProxyAddr = getEnv("SOCKS_PROXY", cfg.ProxyAddr)
	cfg.Autonomous = getEnvBool("ROVER_AUTONOMOUS", cfg.Autonomous)

	cfg.Log.Level = getEnv("ROVER_LOG", cfg.Log.Level)
	cfg.Log.File = getEnv("ROVER_LOG_FILE", cfg.Log.File)

	cfg.OpenAIKey = getEnv("OPENAI_API_KEY", cfg.OpenAIKey)
}

func (c *Config) Validate() error {
	if c.Serial.Port == "" {
		return errors.New("serial port must be set")
	}
	if c.Serial.Baud <= 0 {
		return fmt.Errorf("invalid baud rate %d", c.Serial.Baud)
	}
	if c.Serial.ReadTimeout <= 0 || c.Serial.ReadTimeout > 5*time.Second {
		return fmt.Errorf("serial read timeout %s is outside reasonable range (0, 5s]", c.Serial.ReadTimeout)
	}
	if c.Loop.Tick <= 0 || c.IPC.Poll <= 0 {
		return errors.New("tick and poll intervals must be positive")
	}
	if c.Loop.SpeechTimeout <= 0 {
		return errors.New("speech timeout must be positive")
	}
	if c.Planner.HistoryPairs <= 0 {
		return fmt.Errorf("history pairs must be positive, got %d", c.Planner.HistoryPairs)
	}

	switch strings.ToLower(c.Planner.Backend) {
	case "ollama":
		if c.Planner.OllamaURL == "" {
			return errors.New("ollama backend needs an url")
		}
	case "openai":
		if c.OpenAIKey == "" {
			return errors.New("openai backend needs OPENAI_API_KEY")
		}
	default:
		return fmt.Errorf("invalid planner backend %q, must be one of: ollama, openai", c.Planner.Backend)
	}

	switch c.Speech.Backend {
	case "espeak", "silent", "none":
	default:
		return fmt.Errorf("invalid speech backend %q, must be one of: espeak, silent", c.Speech.Backend)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
