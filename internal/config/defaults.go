package config

// Pass-3 batch size bounds; batches outside this range are clamped.
const (
	MinBatchSize = 1
	MaxBatchSize = 4
)

// Config is the full voxcast configuration.
type Config struct {
	Engine   EngineConfig   `mapstructure:"engine" yaml:"engine"`
	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

// EngineConfig configures the inference backend.
type EngineConfig struct {
	BaseURL        string  `mapstructure:"base_url" yaml:"base_url"`
	Model          string  `mapstructure:"model" yaml:"model"`
	APIKey         string  `mapstructure:"api_key" yaml:"api_key"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	MaxRetries     int     `mapstructure:"max_retries" yaml:"max_retries"`
	Temperature    float64 `mapstructure:"temperature" yaml:"temperature"`
}

// PipelineConfig tunes document analysis.
type PipelineConfig struct {
	UnitSizeChars            int    `mapstructure:"unit_size_chars" yaml:"unit_size_chars"`
	MaxContextCharsPerEntity int    `mapstructure:"max_context_chars_per_entity" yaml:"max_context_chars_per_entity"`
	Pass3BatchSize           int    `mapstructure:"pass3_batch_size" yaml:"pass3_batch_size"`
	CheckpointDir            string `mapstructure:"checkpoint_dir" yaml:"checkpoint_dir"`
	CheckpointTTLHours       int    `mapstructure:"checkpoint_ttl_hours" yaml:"checkpoint_ttl_hours"`
	// MemoryBudgetMB bounds non-inference parallelism. Concurrency is
	// derived from it in tiers rather than set directly.
	MemoryBudgetMB int `mapstructure:"memory_budget_mb" yaml:"memory_budget_mb"`
}

// StoreConfig configures the persistence layer.
type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			BaseURL:        "http://localhost:8080/v1",
			Model:          "qwen2.5-3b-instruct",
			APIKey:         "${VOXCAST_API_KEY}",
			TimeoutSeconds: 120,
			MaxRetries:     3,
			Temperature:    0.1,
		},
		Pipeline: PipelineConfig{
			UnitSizeChars:            10000,
			MaxContextCharsPerEntity: 12000,
			Pass3BatchSize:           2,
			CheckpointDir:            "$HOME/.voxcast/checkpoints",
			CheckpointTTLHours:       24,
			MemoryBudgetMB:           4096,
		},
		Store: StoreConfig{
			Path: "$HOME/.voxcast/voxcast.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Normalize clamps out-of-range values to usable ones.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if c.Pipeline.UnitSizeChars <= 0 {
		c.Pipeline.UnitSizeChars = def.Pipeline.UnitSizeChars
	}
	if c.Pipeline.MaxContextCharsPerEntity <= 0 {
		c.Pipeline.MaxContextCharsPerEntity = def.Pipeline.MaxContextCharsPerEntity
	}
	if c.Pipeline.Pass3BatchSize < MinBatchSize {
		c.Pipeline.Pass3BatchSize = MinBatchSize
	}
	if c.Pipeline.Pass3BatchSize > MaxBatchSize {
		c.Pipeline.Pass3BatchSize = MaxBatchSize
	}
	if c.Pipeline.CheckpointTTLHours <= 0 {
		c.Pipeline.CheckpointTTLHours = def.Pipeline.CheckpointTTLHours
	}
	if c.Pipeline.MemoryBudgetMB <= 0 {
		c.Pipeline.MemoryBudgetMB = def.Pipeline.MemoryBudgetMB
	}
	if c.Engine.TimeoutSeconds <= 0 {
		c.Engine.TimeoutSeconds = def.Engine.TimeoutSeconds
	}
	if c.Engine.MaxRetries < 0 {
		c.Engine.MaxRetries = 0
	}
}

// PreprocessConcurrency maps the memory budget onto a parallelism tier for
// non-inference work. Inference is always serialized separately.
func (c *Config) PreprocessConcurrency() int {
	switch {
	case c.Pipeline.MemoryBudgetMB < 3072:
		return 1
	case c.Pipeline.MemoryBudgetMB < 6144:
		return 2
	default:
		return 4
	}
}
