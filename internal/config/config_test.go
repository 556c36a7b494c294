package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DB_PATH", "AUDIO_DIR", "TRANSCRIPT_DIR", "LISTEN_ADDR",
		"LOG_LEVEL", "LOG_FORMAT",
		"MIC_SAMPLE_RATE", "MIC_SAMPLE_RATES",
		"PAUSE_THRESHOLD", "RESTART_INTERVAL", "RESET_THRESHOLD",
		"ENERGY_THRESHOLD_DB", "MIN_SPEECH", "MIN_PAUSE", "SPEAKER_DELTA_DB",
		"OPENAI_MODEL", "GDRIVE_FOLDER_ID", "GOOGLE_CREDENTIALS_FILE",
		"DEEPGRAM_API_KEY", "OPENAI_API_KEY", "CONFIG",
	} {
		t.Setenv(EnvPrefix+key, "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, _, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DBPath != "data/voxturn.db" {
		t.Fatalf("expected default db_path, got %q", cfg.DBPath)
	}
	if cfg.AudioDir != "data/audio" {
		t.Fatalf("expected default audio_dir, got %q", cfg.AudioDir)
	}
	if cfg.PauseThreshold != 0.8 {
		t.Fatalf("expected default pause_threshold 0.8, got %v", cfg.PauseThreshold)
	}
	if cfg.RestartInterval != "55s" {
		t.Fatalf("expected default restart_interval, got %q", cfg.RestartInterval)
	}
	if cfg.ResetThreshold != 1.0 {
		t.Fatalf("expected default reset_threshold 1.0, got %v", cfg.ResetThreshold)
	}
	if cfg.EnergyThresholdDB != -40 {
		t.Fatalf("expected default energy_threshold_db -40, got %v", cfg.EnergyThresholdDB)
	}
	if cfg.MinSpeech != 0.5 || cfg.MinPause != 0.8 {
		t.Fatalf("expected default speech/pause gates, got %v/%v", cfg.MinSpeech, cfg.MinPause)
	}
	if cfg.SpeakerDeltaDB != 10 {
		t.Fatalf("expected default speaker_delta_db 10, got %v", cfg.SpeakerDeltaDB)
	}
	if cfg.MicSampleRate != 16000 {
		t.Fatalf("expected default mic_sample_rate 16000, got %d", cfg.MicSampleRate)
	}
}

func TestYAMLLoading(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	yamlContent := `
db_path: /custom/db.sqlite
audio_dir: /custom/audio
listen_addr: ":9090"
pause_threshold: 1.2
restart_interval: 45s
reset_threshold: 2.0
energy_threshold_db: -35
speaker_delta_db: 8
mic_sample_rate: 48000
mic_sample_rates: [44100, 32000]
openai_model: gpt-4o
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DBPath != "/custom/db.sqlite" {
		t.Fatalf("expected yaml db_path, got %q", cfg.DBPath)
	}
	if cfg.ListenAddr != ":9090" {
		t.Fatalf("expected yaml listen_addr, got %q", cfg.ListenAddr)
	}
	if cfg.PauseThreshold != 1.2 {
		t.Fatalf("expected yaml pause_threshold, got %v", cfg.PauseThreshold)
	}
	if cfg.RestartInterval != "45s" {
		t.Fatalf("expected yaml restart_interval, got %q", cfg.RestartInterval)
	}
	if cfg.EnergyThresholdDB != -35 {
		t.Fatalf("expected yaml energy_threshold_db, got %v", cfg.EnergyThresholdDB)
	}
	if !reflect.DeepEqual(cfg.MicSampleRates, []int{44100, 32000}) {
		t.Fatalf("expected yaml mic_sample_rates, got %v", cfg.MicSampleRates)
	}
	if cfg.OpenAIModel != "gpt-4o" {
		t.Fatalf("expected yaml openai_model, got %q", cfg.OpenAIModel)
	}
}

func TestEnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	yamlContent := `
db_path: /from/yaml
pause_threshold: 0.5
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	clearEnv(t)
	t.Setenv(EnvPrefix+"DB_PATH", "/from/env")
	t.Setenv(EnvPrefix+"PAUSE_THRESHOLD", "1.5")
	t.Setenv(EnvPrefix+"SPEAKER_DELTA_DB", "12")

	cfg, _, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DBPath != "/from/env" {
		t.Fatalf("expected env db_path, got %q", cfg.DBPath)
	}
	if cfg.PauseThreshold != 1.5 {
		t.Fatalf("expected env pause_threshold, got %v", cfg.PauseThreshold)
	}
	if cfg.SpeakerDeltaDB != 12 {
		t.Fatalf("expected env speaker_delta_db, got %v", cfg.SpeakerDeltaDB)
	}
}

func TestSecretsFromEnvOnly(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPrefix+"DEEPGRAM_API_KEY", "dg-secret")
	t.Setenv(EnvPrefix+"OPENAI_API_KEY", "oa-secret")

	cfg, warnings, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DeepgramAPIKey != "dg-secret" || cfg.OpenAIAPIKey != "oa-secret" {
		t.Fatal("expected secrets from environment")
	}
	for _, w := range warnings {
		if strings.Contains(w, "API key") {
			t.Errorf("unexpected key warning: %q", w)
		}
	}
}

func TestValidationWarnings(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPrefix+"RESTART_INTERVAL", "not-a-duration")
	t.Setenv(EnvPrefix+"ENERGY_THRESHOLD_DB", "5")

	cfg, warnings, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	var sawInterval, sawEnergy, sawDeepgram bool
	for _, w := range warnings {
		if strings.Contains(w, "restart_interval") {
			sawInterval = true
		}
		if strings.Contains(w, "energy_threshold_db") {
			sawEnergy = true
		}
		if strings.Contains(w, "DEEPGRAM_API_KEY") {
			sawDeepgram = true
		}
	}
	if !sawInterval || !sawEnergy || !sawDeepgram {
		t.Fatalf("missing expected warnings: %v", warnings)
	}

	if got := cfg.ParsedRestartInterval(); got != 55*time.Second {
		t.Fatalf("expected fallback restart interval 55s, got %v", got)
	}
}

func TestSampleRateCandidates(t *testing.T) {
	clearEnv(t)

	cfg, _, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	candidates := cfg.SampleRateCandidates()
	if len(candidates) == 0 || candidates[0] != 16000 {
		t.Fatalf("expected preferred rate first, got %v", candidates)
	}

	seen := make(map[int]bool)
	for _, rate := range candidates {
		if seen[rate] {
			t.Fatalf("duplicate rate %d in %v", rate, candidates)
		}
		seen[rate] = true
	}
}

func TestMissingConfigFileUsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, _, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DBPath != "data/voxturn.db" {
		t.Fatalf("expected defaults when file missing, got %q", cfg.DBPath)
	}
}

func TestMalformedConfigFile(t *testing.T) {
	clearEnv(t)

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("db_path: [unclosed"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, _, err := Load(configPath); err == nil {
		t.Fatal("expected parse error for malformed yaml")
	}
}
