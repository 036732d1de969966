package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical engine defaults file.
const DefaultConfigPath = "config/engine.defaults.json"

// EngineConfig is the on-disk configuration of the receive engine. Every
// field is optional; the Get* accessors supply the defaults, so partial files
// are safe.
type EngineConfig struct {
	// Buffer pool tiers
	SmallBufferSize  *int `json:"small_buffer_size,omitempty"`
	SmallBufferCount *int `json:"small_buffer_count,omitempty"`
	LargeBufferSize  *int `json:"large_buffer_size,omitempty"`
	LargeBufferCount *int `json:"large_buffer_count,omitempty"`

	// Reassembly and metadata caches
	TrackerCacheDepth *int `json:"tracker_cache_depth,omitempty"`
	MetaCacheDepth    *int `json:"meta_cache_depth,omitempty"`

	// Receive loop
	PollTimeout     *string `json:"poll_timeout,omitempty"` // duration string like "200ms"
	RecvBufferBytes *int    `json:"recv_buffer_bytes,omitempty"`
	MaxDatagramSize *int    `json:"max_datagram_size,omitempty"`
	NetworkTimeSync *bool   `json:"network_time_sync,omitempty"`

	// Request/response
	ReplyTimeout *string `json:"reply_timeout,omitempty"`

	// Per-listener queue depths for isolated listeners
	ImageQueueDepth *int `json:"image_queue_depth,omitempty"`
	LidarQueueDepth *int `json:"lidar_queue_depth,omitempty"`
	PpsQueueDepth   *int `json:"pps_queue_depth,omitempty"`
	ImuQueueDepth   *int `json:"imu_queue_depth,omitempty"`

	// Reporting
	StatsLogInterval       *string `json:"stats_log_interval,omitempty"`
	TelemetryFlushInterval *string `json:"telemetry_flush_interval,omitempty"`
}

func ptrInt(v int) *int          { return &v }
func ptrBool(v bool) *bool       { return &v }
func ptrString(v string) *string { return &v }

// DefaultEngineConfig returns a config with every field populated with its
// default value.
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		SmallBufferSize:        ptrInt(defaultSmallBufferSize),
		SmallBufferCount:       ptrInt(defaultSmallBufferCount),
		LargeBufferSize:        ptrInt(defaultLargeBufferSize),
		LargeBufferCount:       ptrInt(defaultLargeBufferCount),
		TrackerCacheDepth:      ptrInt(defaultTrackerCacheDepth),
		MetaCacheDepth:         ptrInt(defaultMetaCacheDepth),
		PollTimeout:            ptrString("200ms"),
		RecvBufferBytes:        ptrInt(defaultRecvBufferBytes),
		MaxDatagramSize:        ptrInt(defaultMaxDatagramSize),
		NetworkTimeSync:        ptrBool(true),
		ReplyTimeout:           ptrString("200ms"),
		ImageQueueDepth:        ptrInt(5),
		LidarQueueDepth:        ptrInt(20),
		PpsQueueDepth:          ptrInt(2),
		ImuQueueDepth:          ptrInt(50),
		StatsLogInterval:       ptrString("60s"),
		TelemetryFlushInterval: ptrString("30s"),
	}
}

const (
	defaultSmallBufferSize   = 10 * 1024
	defaultSmallBufferCount  = 100
	defaultLargeBufferSize   = 10 * 1024 * 1024
	defaultLargeBufferCount  = 50
	defaultTrackerCacheDepth = 10
	defaultMetaCacheDepth    = 20
	defaultRecvBufferBytes   = 4 << 20
	defaultMaxDatagramSize   = 9000 // jumbo frame MTU
)

// LoadEngineConfig loads an EngineConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadEngineConfig(path string) (*EngineConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &EngineConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are usable.
func (c *EngineConfig) Validate() error {
	positive := []struct {
		name string
		v    *int
	}{
		{"small_buffer_size", c.SmallBufferSize},
		{"small_buffer_count", c.SmallBufferCount},
		{"large_buffer_size", c.LargeBufferSize},
		{"large_buffer_count", c.LargeBufferCount},
		{"tracker_cache_depth", c.TrackerCacheDepth},
		{"meta_cache_depth", c.MetaCacheDepth},
		{"max_datagram_size", c.MaxDatagramSize},
		{"image_queue_depth", c.ImageQueueDepth},
		{"lidar_queue_depth", c.LidarQueueDepth},
		{"pps_queue_depth", c.PpsQueueDepth},
		{"imu_queue_depth", c.ImuQueueDepth},
	}
	for _, p := range positive {
		if p.v != nil && *p.v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", p.name, *p.v)
		}
	}

	if c.RecvBufferBytes != nil && *c.RecvBufferBytes < 0 {
		return fmt.Errorf("recv_buffer_bytes must be non-negative, got %d", *c.RecvBufferBytes)
	}

	if c.GetLargeBufferSize() < c.GetSmallBufferSize() {
		return fmt.Errorf("large_buffer_size (%d) must not be smaller than small_buffer_size (%d)",
			c.GetLargeBufferSize(), c.GetSmallBufferSize())
	}

	durations := []struct {
		name string
		v    *string
	}{
		{"poll_timeout", c.PollTimeout},
		{"reply_timeout", c.ReplyTimeout},
		{"stats_log_interval", c.StatsLogInterval},
		{"telemetry_flush_interval", c.TelemetryFlushInterval},
	}
	for _, d := range durations {
		if d.v == nil || *d.v == "" {
			continue
		}
		parsed, err := time.ParseDuration(*d.v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.name, *d.v, err)
		}
		if parsed <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, *d.v)
		}
	}

	return nil
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func durationOr(p *string, def time.Duration) time.Duration {
	if p == nil || *p == "" {
		return def
	}
	d, err := time.ParseDuration(*p)
	if err != nil {
		return def // default on parse error
	}
	return d
}

// GetSmallBufferSize returns the per-buffer capacity of the small tier.
func (c *EngineConfig) GetSmallBufferSize() int {
	return intOr(c.SmallBufferSize, defaultSmallBufferSize)
}

// GetSmallBufferCount returns the number of buffers in the small tier.
func (c *EngineConfig) GetSmallBufferCount() int {
	return intOr(c.SmallBufferCount, defaultSmallBufferCount)
}

// GetLargeBufferSize returns the per-buffer capacity of the large tier.
func (c *EngineConfig) GetLargeBufferSize() int {
	return intOr(c.LargeBufferSize, defaultLargeBufferSize)
}

// GetLargeBufferCount returns the number of buffers in the large tier.
func (c *EngineConfig) GetLargeBufferCount() int {
	return intOr(c.LargeBufferCount, defaultLargeBufferCount)
}

// GetTrackerCacheDepth returns how many partially assembled messages are kept.
func (c *EngineConfig) GetTrackerCacheDepth() int {
	return intOr(c.TrackerCacheDepth, defaultTrackerCacheDepth)
}

// GetMetaCacheDepth returns how many image metadata records are kept.
func (c *EngineConfig) GetMetaCacheDepth() int {
	return intOr(c.MetaCacheDepth, defaultMetaCacheDepth)
}

// GetPollTimeout returns the socket poll interval of the receive loop.
func (c *EngineConfig) GetPollTimeout() time.Duration {
	return durationOr(c.PollTimeout, 200*time.Millisecond)
}

// GetRecvBufferBytes returns the requested kernel receive buffer size.
func (c *EngineConfig) GetRecvBufferBytes() int {
	return intOr(c.RecvBufferBytes, defaultRecvBufferBytes)
}

// GetMaxDatagramSize returns the size of the datagram read buffer.
func (c *EngineConfig) GetMaxDatagramSize() int {
	return intOr(c.MaxDatagramSize, defaultMaxDatagramSize)
}

// GetNetworkTimeSync reports whether device timestamps are translated to host time.
func (c *EngineConfig) GetNetworkTimeSync() bool {
	if c.NetworkTimeSync == nil {
		return true
	}
	return *c.NetworkTimeSync
}

// GetReplyTimeout returns the default wait for a command reply.
func (c *EngineConfig) GetReplyTimeout() time.Duration {
	return durationOr(c.ReplyTimeout, 200*time.Millisecond)
}

// GetImageQueueDepth returns the queue depth of isolated image listeners.
func (c *EngineConfig) GetImageQueueDepth() int { return intOr(c.ImageQueueDepth, 5) }

// GetLidarQueueDepth returns the queue depth of isolated lidar listeners.
func (c *EngineConfig) GetLidarQueueDepth() int { return intOr(c.LidarQueueDepth, 20) }

// GetPpsQueueDepth returns the queue depth of isolated PPS listeners.
func (c *EngineConfig) GetPpsQueueDepth() int { return intOr(c.PpsQueueDepth, 2) }

// GetImuQueueDepth returns the queue depth of isolated IMU listeners.
func (c *EngineConfig) GetImuQueueDepth() int { return intOr(c.ImuQueueDepth, 50) }

// GetStatsLogInterval returns how often receive statistics are logged.
func (c *EngineConfig) GetStatsLogInterval() time.Duration {
	return durationOr(c.StatsLogInterval, time.Minute)
}

// GetTelemetryFlushInterval returns how often statistics are persisted.
func (c *EngineConfig) GetTelemetryFlushInterval() time.Duration {
	return durationOr(c.TelemetryFlushInterval, 30*time.Second)
}
