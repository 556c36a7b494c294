package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the namespace prefix for all Voxturn environment variables.
const EnvPrefix = "VOXTURN_"

// Config holds all application configuration. Secrets (API keys) are loaded
// exclusively from environment variables and never appear in the config file.
type Config struct {
	DBPath        string `yaml:"db_path"`
	AudioDir      string `yaml:"audio_dir"`
	TranscriptDir string `yaml:"transcript_dir"`
	ListenAddr    string `yaml:"listen_addr"`
	LogLevel      string `yaml:"log_level"`
	LogFormat     string `yaml:"log_format"`

	MicSampleRate  int   `yaml:"mic_sample_rate"`
	MicSampleRates []int `yaml:"mic_sample_rates"`

	// Phrase and session tuning. Thresholds are seconds unless the
	// field says otherwise.
	PauseThreshold  float64 `yaml:"pause_threshold"`
	RestartInterval string  `yaml:"restart_interval"`
	ResetThreshold  float64 `yaml:"reset_threshold"`

	// Speaker detection tuning.
	EnergyThresholdDB float64 `yaml:"energy_threshold_db"`
	MinSpeech         float64 `yaml:"min_speech"`
	MinPause          float64 `yaml:"min_pause"`
	SpeakerDeltaDB    float64 `yaml:"speaker_delta_db"`

	OpenAIModel           string `yaml:"openai_model"`
	GDriveFolderID        string `yaml:"gdrive_folder_id"`
	GoogleCredentialsFile string `yaml:"google_credentials_file"`

	// Secrets — env vars only, never serialized to YAML.
	DeepgramAPIKey string `yaml:"-"`
	OpenAIAPIKey   string `yaml:"-"`
}

func defaults() Config {
	return Config{
		DBPath:                "data/voxturn.db",
		AudioDir:              "data/audio",
		TranscriptDir:         "data/transcripts",
		ListenAddr:            ":8080",
		LogLevel:              "info",
		LogFormat:             "console",
		MicSampleRate:         16000,
		MicSampleRates:        []int{48000, 44100, 32000, 24000},
		PauseThreshold:        0.8,
		RestartInterval:       "55s",
		ResetThreshold:        1.0,
		EnergyThresholdDB:     -40,
		MinSpeech:             0.5,
		MinPause:              0.8,
		SpeakerDeltaDB:        10,
		OpenAIModel:           "gpt-4o-mini",
		GoogleCredentialsFile: "./service-account.json",
	}
}

// Load reads configuration from a YAML file (if it exists), applies
// environment variable overrides, loads secrets, and validates the result.
// It returns the config, any validation warnings, and an error if the file
// exists but cannot be read or parsed.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	loadSecrets(&cfg)

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

// ParsedRestartInterval returns RestartInterval as a time.Duration,
// falling back to 55s if the value is invalid.
func (c *Config) ParsedRestartInterval() time.Duration {
	d, err := time.ParseDuration(c.RestartInterval)
	if err != nil || d <= 0 {
		return 55 * time.Second
	}
	return d
}

// SampleRateCandidates returns a deduplicated ordered list of sample rates
// to try: preferred rate first, then configured alternatives, then defaults.
func (c *Config) SampleRateCandidates() []int {
	hardcoded := []int{16000, 48000, 44100, 32000, 24000}

	combined := make([]int, 0, 1+len(c.MicSampleRates)+len(hardcoded))
	combined = append(combined, c.MicSampleRate)
	combined = append(combined, c.MicSampleRates...)
	combined = append(combined, hardcoded...)

	seen := make(map[int]struct{}, len(combined))
	result := make([]int, 0, len(combined))
	for _, rate := range combined {
		if rate <= 0 {
			continue
		}
		if _, ok := seen[rate]; ok {
			continue
		}
		seen[rate] = struct{}{}
		result = append(result, rate)
	}
	return result
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvPrefix + "DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(EnvPrefix + "AUDIO_DIR"); v != "" {
		cfg.AudioDir = v
	}
	if v := os.Getenv(EnvPrefix + "TRANSCRIPT_DIR"); v != "" {
		cfg.TranscriptDir = v
	}
	if v := os.Getenv(EnvPrefix + "LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv(EnvPrefix + "MIC_SAMPLE_RATE"); v != "" {
		if rate, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && rate > 0 {
			cfg.MicSampleRate = rate
		}
	}
	if v := os.Getenv(EnvPrefix + "MIC_SAMPLE_RATES"); v != "" {
		cfg.MicSampleRates = parseSampleRates(v)
	}
	if v := os.Getenv(EnvPrefix + "PAUSE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && f > 0 {
			cfg.PauseThreshold = f
		}
	}
	if v := os.Getenv(EnvPrefix + "RESTART_INTERVAL"); v != "" {
		cfg.RestartInterval = v
	}
	if v := os.Getenv(EnvPrefix + "RESET_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && f > 0 {
			cfg.ResetThreshold = f
		}
	}
	if v := os.Getenv(EnvPrefix + "ENERGY_THRESHOLD_DB"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			cfg.EnergyThresholdDB = f
		}
	}
	if v := os.Getenv(EnvPrefix + "MIN_SPEECH"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && f > 0 {
			cfg.MinSpeech = f
		}
	}
	if v := os.Getenv(EnvPrefix + "MIN_PAUSE"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && f > 0 {
			cfg.MinPause = f
		}
	}
	if v := os.Getenv(EnvPrefix + "SPEAKER_DELTA_DB"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && f > 0 {
			cfg.SpeakerDeltaDB = f
		}
	}
	if v := os.Getenv(EnvPrefix + "OPENAI_MODEL"); v != "" {
		cfg.OpenAIModel = v
	}
	if v := os.Getenv(EnvPrefix + "GDRIVE_FOLDER_ID"); v != "" {
		cfg.GDriveFolderID = v
	}
	if v := os.Getenv(EnvPrefix + "GOOGLE_CREDENTIALS_FILE"); v != "" {
		cfg.GoogleCredentialsFile = v
	}
}

func loadSecrets(cfg *Config) {
	cfg.DeepgramAPIKey = os.Getenv(EnvPrefix + "DEEPGRAM_API_KEY")
	cfg.OpenAIAPIKey = os.Getenv(EnvPrefix + "OPENAI_API_KEY")
}

func validate(cfg *Config) []string {
	var warnings []string

	if cfg.DeepgramAPIKey == "" {
		warnings = append(warnings, "Deepgram API key not configured — live transcription is disabled. Set "+EnvPrefix+"DEEPGRAM_API_KEY.")
	}
	if cfg.OpenAIAPIKey == "" {
		warnings = append(warnings, "OpenAI API key not configured — recording summaries are disabled. Set "+EnvPrefix+"OPENAI_API_KEY.")
	}
	if _, err := time.ParseDuration(cfg.RestartInterval); err != nil {
		warnings = append(warnings, fmt.Sprintf("Invalid restart_interval %q — using default 55s.", cfg.RestartInterval))
	}
	if cfg.EnergyThresholdDB >= 0 {
		warnings = append(warnings, fmt.Sprintf("energy_threshold_db %v is not negative — speaker detection will treat everything as speech.", cfg.EnergyThresholdDB))
	}

	return warnings
}

func parseSampleRates(raw string) []int {
	parts := strings.Split(raw, ",")
	seen := make(map[int]struct{}, len(parts))
	result := make([]int, 0, len(parts))

	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		rate, err := strconv.Atoi(trimmed)
		if err != nil || rate <= 0 {
			continue
		}
		if _, ok := seen[rate]; ok {
			continue
		}
		seen[rate] = struct{}{}
		result = append(result, rate)
	}

	return result
}
