package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Engine.BaseURL == "" {
		t.Error("expected default engine base URL")
	}
	if cfg.Engine.APIKey != "${VOXCAST_API_KEY}" {
		t.Error("expected API key placeholder")
	}
	if cfg.Pipeline.Pass3BatchSize < MinBatchSize || cfg.Pipeline.Pass3BatchSize > MaxBatchSize {
		t.Errorf("default batch size %d out of range", cfg.Pipeline.Pass3BatchSize)
	}
}

func TestNormalize(t *testing.T) {
	t.Run("clamps batch size", func(t *testing.T) {
		cfg := &Config{Pipeline: PipelineConfig{Pass3BatchSize: 99}}
		cfg.Normalize()
		if cfg.Pipeline.Pass3BatchSize != MaxBatchSize {
			t.Errorf("batch size = %d, want %d", cfg.Pipeline.Pass3BatchSize, MaxBatchSize)
		}

		cfg = &Config{Pipeline: PipelineConfig{Pass3BatchSize: 0}}
		cfg.Normalize()
		if cfg.Pipeline.Pass3BatchSize != MinBatchSize {
			t.Errorf("batch size = %d, want %d", cfg.Pipeline.Pass3BatchSize, MinBatchSize)
		}
	})

	t.Run("fills zero values with defaults", func(t *testing.T) {
		cfg := &Config{}
		cfg.Normalize()
		if cfg.Pipeline.UnitSizeChars != DefaultConfig().Pipeline.UnitSizeChars {
			t.Errorf("unit size = %d, want default", cfg.Pipeline.UnitSizeChars)
		}
		if cfg.Engine.TimeoutSeconds != DefaultConfig().Engine.TimeoutSeconds {
			t.Errorf("timeout = %d, want default", cfg.Engine.TimeoutSeconds)
		}
	})
}

func TestPreprocessConcurrency(t *testing.T) {
	tests := []struct {
		budgetMB int
		want     int
	}{
		{1024, 1},
		{3071, 1},
		{3072, 2},
		{6143, 2},
		{6144, 4},
		{16384, 4},
	}
	for _, tt := range tests {
		cfg := &Config{Pipeline: PipelineConfig{MemoryBudgetMB: tt.budgetMB}}
		if got := cfg.PreprocessConcurrency(); got != tt.want {
			t.Errorf("budget %d MB: concurrency = %d, want %d", tt.budgetMB, got, tt.want)
		}
	}
}

func TestResolveEnvVars(t *testing.T) {
	t.Run("resolves environment variable", func(t *testing.T) {
		os.Setenv("TEST_API_KEY", "secret123")
		defer os.Unsetenv("TEST_API_KEY")

		result := ResolveEnvVars("${TEST_API_KEY}")
		if result != "secret123" {
			t.Errorf("expected secret123, got %s", result)
		}
	})

	t.Run("returns empty for missing env var", func(t *testing.T) {
		result := ResolveEnvVars("${DEFINITELY_NOT_SET_12345}")
		if result != "" {
			t.Errorf("expected empty string, got %s", result)
		}
	})

	t.Run("leaves literal values unchanged", func(t *testing.T) {
		result := ResolveEnvVars("literal-value")
		if result != "literal-value" {
			t.Errorf("expected literal-value, got %s", result)
		}
	})
}

func TestNewManager(t *testing.T) {
	t.Run("loads from config file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configFile := filepath.Join(tmpDir, "config.yaml")

		configContent := `
engine:
  model: "test-model"
`
		if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
			t.Fatalf("failed to write config file: %v", err)
		}

		mgr, err := NewManager(configFile)
		if err != nil {
			t.Fatalf("failed to create manager: %v", err)
		}

		cfg := mgr.Get()
		if cfg.Engine.Model != "test-model" {
			t.Errorf("expected test-model, got %s", cfg.Engine.Model)
		}
	})
}

func TestManager_OnChange_Multiple(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")

	configContent := `
log:
  level: "debug"
`
	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	mgr, err := NewManager(configFile)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	mgr.OnChange(func(cfg *Config) {})
	mgr.OnChange(func(cfg *Config) {})
	mgr.OnChange(func(cfg *Config) {})

	mgr.mu.RLock()
	if len(mgr.callbacks) != 3 {
		t.Errorf("expected 3 callbacks, got %d", len(mgr.callbacks))
	}
	mgr.mu.RUnlock()
}

func TestManager_Get_ThreadSafe(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")

	configContent := `
log:
  level: "info"
`
	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	mgr, err := NewManager(configFile)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				cfg := mgr.Get()
				_ = cfg.Log.Level
			}
			done <- struct{}{}
		}()
	}

	for i := 0; i < 10; i++ {
		<-done
	}
}

func TestManager_WatchConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")

	configContent := `
engine:
  model: "initial-model"
`
	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	mgr, err := NewManager(configFile)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	cfg := mgr.Get()
	if cfg.Engine.Model != "initial-model" {
		t.Errorf("initial value mismatch: expected initial-model, got %s", cfg.Engine.Model)
	}

	var callbackCount atomic.Int32
	var lastValue atomic.Value

	mgr.OnChange(func(cfg *Config) {
		callbackCount.Add(1)
		lastValue.Store(cfg.Engine.Model)
	})

	mgr.WatchConfig()

	// Give fsnotify time to set up the watcher
	time.Sleep(100 * time.Millisecond)

	newContent := `
engine:
  model: "updated-model"
`
	if err := os.WriteFile(configFile, []byte(newContent), 0644); err != nil {
		t.Fatalf("failed to write updated config file: %v", err)
	}

	// Wait for the watcher to detect the change (fsnotify is async)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if callbackCount.Load() > 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	if callbackCount.Load() == 0 {
		t.Error("callback was not invoked after config file change")
	}

	newCfg := mgr.Get()
	if newCfg.Engine.Model != "updated-model" {
		t.Errorf("config not updated: expected updated-model, got %s", newCfg.Engine.Model)
	}

	if v := lastValue.Load(); v != "updated-model" {
		t.Errorf("callback received wrong value: expected updated-model, got %v", v)
	}
}
