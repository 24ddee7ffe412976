package kiln

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the .kiln.yaml configuration file. Zero values are
// replaced by defaults; out-of-range values are clamped, not rejected,
// so a bad config file degrades instead of failing startup.
type Config struct {
	// Scheduler tunables.
	Scheduler SchedulerConfig `yaml:"scheduler,omitempty"`

	// Cache tunables.
	Cache CacheConfig `yaml:"cache,omitempty"`

	// Oracle tunables.
	Oracle OracleConfig `yaml:"oracle,omitempty"`
}

// SchedulerConfig holds request scheduling settings.
type SchedulerConfig struct {
	// DebounceMS is the quiescence window for coalescing
	// mutation-triggered requests on the same (uri, feature) stream.
	// Default 250, clamped to [50, 2000].
	DebounceMS int `yaml:"debounce_ms,omitempty"`

	// QueueDepth bounds each class queue. Admission past this depth
	// waits up to AdmitWaitMS and then fails with ENGINE_BUSY.
	QueueDepth int `yaml:"queue_depth,omitempty"`

	// AdmitWaitMS is the bounded admission wait before ENGINE_BUSY.
	AdmitWaitMS int `yaml:"admit_wait_ms,omitempty"`

	// BackgroundSlice is the number of work units a background query
	// executes between yields to higher-priority work.
	BackgroundSlice int `yaml:"background_slice,omitempty"`
}

// CacheConfig holds artifact cache settings.
type CacheConfig struct {
	// MaxEntries is the LRU entry budget for analyzed artifacts.
	MaxEntries int `yaml:"max_entries,omitempty"`

	// ContentBytes is the budget for the closed-file content cache.
	ContentBytes int64 `yaml:"content_bytes,omitempty"`
}

// OracleConfig holds analysis oracle settings.
type OracleConfig struct {
	// TimeoutMS bounds one oracle round-trip. Exceeding it fails the
	// request with INTERNAL_ERROR and discards partial cache writes.
	TimeoutMS int `yaml:"timeout_ms,omitempty"`

	// CheckpointEvery is the work-unit cadence (top-level declarations
	// scanned) between cancellation polls.
	CheckpointEvery int `yaml:"checkpoint_every,omitempty"`
}

// Default configuration values.
const (
	DefaultDebounce        = 250 * time.Millisecond
	MinDebounce            = 50 * time.Millisecond
	MaxDebounce            = 2000 * time.Millisecond
	DefaultQueueDepth      = 64
	DefaultAdmitWait       = 500 * time.Millisecond
	DefaultBackgroundSlice = 16
	DefaultMaxEntries      = 1024
	DefaultContentBytes    = 32 << 20
	DefaultOracleTimeout   = 30 * time.Second
	DefaultCheckpointEvery = 8
)

// Debounce returns the effective debounce window.
func (c SchedulerConfig) Debounce() time.Duration {
	if c.DebounceMS == 0 {
		return DefaultDebounce
	}

	d := time.Duration(c.DebounceMS) * time.Millisecond
	if d < MinDebounce {
		return MinDebounce
	}
	if d > MaxDebounce {
		return MaxDebounce
	}

	return d
}

// Depth returns the effective per-class queue depth.
func (c SchedulerConfig) Depth() int {
	if c.QueueDepth <= 0 {
		return DefaultQueueDepth
	}

	return c.QueueDepth
}

// AdmitWait returns the bounded admission wait.
func (c SchedulerConfig) AdmitWait() time.Duration {
	if c.AdmitWaitMS <= 0 {
		return DefaultAdmitWait
	}

	return time.Duration(c.AdmitWaitMS) * time.Millisecond
}

// Slice returns the background work-slice size.
func (c SchedulerConfig) Slice() int {
	if c.BackgroundSlice <= 0 {
		return DefaultBackgroundSlice
	}

	return c.BackgroundSlice
}

// Budget returns the effective artifact entry budget.
func (c CacheConfig) Budget() int {
	if c.MaxEntries <= 0 {
		return DefaultMaxEntries
	}

	return c.MaxEntries
}

// ContentBudget returns the closed-file content cache budget in bytes.
func (c CacheConfig) ContentBudget() int64 {
	if c.ContentBytes <= 0 {
		return DefaultContentBytes
	}

	return c.ContentBytes
}

// Timeout returns the effective oracle timeout.
func (c OracleConfig) Timeout() time.Duration {
	if c.TimeoutMS <= 0 {
		return DefaultOracleTimeout
	}

	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// Checkpoint returns the cancellation poll cadence in work units.
func (c OracleConfig) Checkpoint() int {
	if c.CheckpointEvery <= 0 {
		return DefaultCheckpointEvery
	}

	return c.CheckpointEvery
}

// DefaultConfigNames are the filenames we search for.
var DefaultConfigNames = []string{".kiln.yaml", ".kiln.yml", "kiln.yaml", "kiln.yml"}

// LoadConfig finds and loads the nearest .kiln.yaml walking up from dir.
func LoadConfig(dir string) (*Config, error) {
	path, err := FindConfig(dir)
	if err != nil {
		return nil, err
	}

	return LoadConfigFile(path)
}

// FindConfig searches for a config file starting from dir and walking up.
func FindConfig(dir string) (string, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}

	for dir := absDir; ; {
		for _, name := range DefaultConfigNames {
			path := filepath.Join(dir, name)

			_, err := os.Stat(path)
			if err == nil {
				return path, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrConfigNotFound
		}

		dir = parent
	}
}

// LoadConfigFile loads a config from a specific path.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}

	var cfg Config

	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
