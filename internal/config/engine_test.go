package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestDefaultEngineConfig(t *testing.T) {
	cfg := DefaultEngineConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config does not validate: %v", err)
	}
	if cfg.GetSmallBufferSize() != 10*1024 {
		t.Errorf("GetSmallBufferSize() = %d, want 10240", cfg.GetSmallBufferSize())
	}
	if cfg.GetLargeBufferCount() != 50 {
		t.Errorf("GetLargeBufferCount() = %d, want 50", cfg.GetLargeBufferCount())
	}
	if cfg.GetTrackerCacheDepth() != 10 {
		t.Errorf("GetTrackerCacheDepth() = %d, want 10", cfg.GetTrackerCacheDepth())
	}
	if cfg.GetPollTimeout() != 200*time.Millisecond {
		t.Errorf("GetPollTimeout() = %v, want 200ms", cfg.GetPollTimeout())
	}
	if !cfg.GetNetworkTimeSync() {
		t.Error("GetNetworkTimeSync() = false, want true")
	}
}

func TestEmptyConfigUsesDefaults(t *testing.T) {
	empty := &EngineConfig{}
	def := DefaultEngineConfig()

	got := []interface{}{
		empty.GetSmallBufferSize(), empty.GetSmallBufferCount(),
		empty.GetLargeBufferSize(), empty.GetLargeBufferCount(),
		empty.GetTrackerCacheDepth(), empty.GetMetaCacheDepth(),
		empty.GetPollTimeout(), empty.GetReplyTimeout(),
		empty.GetMaxDatagramSize(), empty.GetNetworkTimeSync(),
		empty.GetImageQueueDepth(), empty.GetLidarQueueDepth(),
		empty.GetPpsQueueDepth(), empty.GetImuQueueDepth(),
		empty.GetStatsLogInterval(), empty.GetTelemetryFlushInterval(),
	}
	want := []interface{}{
		def.GetSmallBufferSize(), def.GetSmallBufferCount(),
		def.GetLargeBufferSize(), def.GetLargeBufferCount(),
		def.GetTrackerCacheDepth(), def.GetMetaCacheDepth(),
		def.GetPollTimeout(), def.GetReplyTimeout(),
		def.GetMaxDatagramSize(), def.GetNetworkTimeSync(),
		def.GetImageQueueDepth(), def.GetLidarQueueDepth(),
		def.GetPpsQueueDepth(), def.GetImuQueueDepth(),
		def.GetStatsLogInterval(), def.GetTelemetryFlushInterval(),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("empty config accessors differ from defaults (-want +got):\n%s", diff)
	}
}

func TestLoadEngineConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "engine.json")

	testJSON := `{
  "small_buffer_count": 8,
  "tracker_cache_depth": 4,
  "poll_timeout": "50ms",
  "network_time_sync": false
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadEngineConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.GetSmallBufferCount() != 8 {
		t.Errorf("GetSmallBufferCount() = %d, want 8", cfg.GetSmallBufferCount())
	}
	if cfg.GetTrackerCacheDepth() != 4 {
		t.Errorf("GetTrackerCacheDepth() = %d, want 4", cfg.GetTrackerCacheDepth())
	}
	if cfg.GetPollTimeout() != 50*time.Millisecond {
		t.Errorf("GetPollTimeout() = %v, want 50ms", cfg.GetPollTimeout())
	}
	if cfg.GetNetworkTimeSync() {
		t.Error("GetNetworkTimeSync() = true, want false")
	}
	// Omitted fields keep defaults
	if cfg.GetLargeBufferSize() != 10*1024*1024 {
		t.Errorf("GetLargeBufferSize() = %d, want default", cfg.GetLargeBufferSize())
	}
}

func TestLoadEngineConfig_Errors(t *testing.T) {
	tmpDir := t.TempDir()

	write := func(name, body string) string {
		p := filepath.Join(tmpDir, name)
		if err := os.WriteFile(p, []byte(body), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		return p
	}

	tests := []struct {
		name    string
		path    string
		wantErr string
	}{
		{"wrong extension", write("engine.yaml", "{}"), ".json extension"},
		{"missing file", filepath.Join(tmpDir, "absent.json"), "failed to stat"},
		{"bad json", write("bad.json", "{"), "failed to parse"},
		{"zero count", write("zero.json", `{"small_buffer_count": 0}`), "small_buffer_count must be positive"},
		{"bad duration", write("dur.json", `{"poll_timeout": "soon"}`), "invalid poll_timeout"},
		{"negative duration", write("neg.json", `{"reply_timeout": "-1s"}`), "reply_timeout must be positive"},
		{"inverted tiers", write("tiers.json", `{"small_buffer_size": 4096, "large_buffer_size": 1024}`), "must not be smaller"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadEngineConfig(tt.path)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultsFileMatchesDefaults(t *testing.T) {
	cfg, err := LoadEngineConfig(filepath.Join("..", "..", DefaultConfigPath))
	if err != nil {
		t.Fatalf("failed to load %s: %v", DefaultConfigPath, err)
	}
	if diff := cmp.Diff(DefaultEngineConfig(), cfg); diff != "" {
		t.Errorf("%s differs from DefaultEngineConfig (-want +got):\n%s", DefaultConfigPath, diff)
	}
}
