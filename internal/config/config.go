// Package config loads agent configuration from file and environment.
// Every key can be overridden with a HULY_AGENT_ environment variable,
// e.g. HULY_AGENT_LEDGER_DAILY_ALLOCATION=500.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/hcengineering/huly-ai-agent/internal/errs"
)

// Mode selects how the agent participates in the workspace.
type Mode string

const (
	// ModeAssistant answers direct messages and mentions.
	ModeAssistant Mode = "assistant"
	// ModeEmployee additionally follows channel activity.
	ModeEmployee Mode = "employee"
)

// Config is the full agent configuration.
type Config struct {
	Mode     Mode   `mapstructure:"mode"`
	LogLevel string `mapstructure:"log_level"`

	Database struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`

	Ledger struct {
		DailyAllocation int64 `mapstructure:"daily_allocation"`
		ReservedFloor   int64 `mapstructure:"reserved_floor"`
	} `mapstructure:"ledger"`

	Scheduler struct {
		MaxRetries int `mapstructure:"max_retries"`
		// RetryBaseDelay is the delay before the first retry; later
		// retries back off exponentially from it.
		RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
		Workers        int           `mapstructure:"workers"`
		TaskTimeout    time.Duration `mapstructure:"task_timeout"`
		PollInterval   time.Duration `mapstructure:"poll_interval"`
		// CostCurve maps complexity to coins as "complexity:cost" pairs.
		CostCurve []string `mapstructure:"cost_curve"`
		// TaskRetention is how long terminal task history is kept.
		TaskRetention time.Duration `mapstructure:"task_retention"`
	} `mapstructure:"scheduler"`

	Memory struct {
		Embedding struct {
			BaseURL    string `mapstructure:"base_url"`
			Model      string `mapstructure:"model"`
			APIKey     string `mapstructure:"api_key"`
			Dimensions int    `mapstructure:"dimensions"`
			CacheSize  int    `mapstructure:"cache_size"`
		} `mapstructure:"embedding"`
		Consolidation struct {
			ImportanceThreshold float64 `mapstructure:"importance_threshold"`
			PageSize            int     `mapstructure:"page_size"`
			MaxObservations     int     `mapstructure:"max_observations"`
			PruneEpisodic       bool    `mapstructure:"prune_episodic"`
			// ReportDir, when set, receives one markdown audit file per
			// consolidation pass.
			ReportDir string `mapstructure:"report_dir"`
		} `mapstructure:"consolidation"`
	} `mapstructure:"memory"`

	Trigger struct {
		Enabled           bool          `mapstructure:"enabled"`
		ConcurrencyPolicy string        `mapstructure:"concurrency_policy"`
		Spread            time.Duration `mapstructure:"spread"`
		// SleepSchedule fires the nightly consolidation task.
		SleepSchedule string `mapstructure:"sleep_schedule"`
		// MaintenanceSchedule fires the importance maintenance task.
		MaintenanceSchedule string `mapstructure:"maintenance_schedule"`
	} `mapstructure:"trigger"`

	Executor struct {
		BaseURL string        `mapstructure:"base_url"`
		APIKey  string        `mapstructure:"api_key"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"executor"`

	Metrics struct {
		Enabled bool   `mapstructure:"enabled"`
		Addr    string `mapstructure:"addr"`
	} `mapstructure:"metrics"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", string(ModeAssistant))
	v.SetDefault("log_level", "info")
	v.SetDefault("database.path", "huly-agent.db")
	v.SetDefault("ledger.daily_allocation", 500)
	v.SetDefault("ledger.reserved_floor", 50)
	v.SetDefault("scheduler.max_retries", 3)
	v.SetDefault("scheduler.retry_base_delay", "2s")
	v.SetDefault("scheduler.workers", 4)
	v.SetDefault("scheduler.task_timeout", "10m")
	v.SetDefault("scheduler.poll_interval", "1s")
	v.SetDefault("scheduler.cost_curve", []string{"0:10", "50:50", "100:120"})
	v.SetDefault("scheduler.task_retention", "168h")
	v.SetDefault("memory.embedding.base_url", "https://api.openai.com/v1")
	v.SetDefault("memory.embedding.model", "text-embedding-3-small")
	v.SetDefault("memory.embedding.dimensions", 256)
	v.SetDefault("memory.embedding.cache_size", 10000)
	v.SetDefault("memory.consolidation.importance_threshold", 0.5)
	v.SetDefault("memory.consolidation.page_size", 20)
	v.SetDefault("memory.consolidation.max_observations", 20)
	v.SetDefault("memory.consolidation.report_dir", "")
	v.SetDefault("trigger.enabled", true)
	v.SetDefault("trigger.concurrency_policy", "skip")
	v.SetDefault("trigger.spread", "0s")
	v.SetDefault("trigger.sleep_schedule", "0 0 3 * * *")
	v.SetDefault("trigger.maintenance_schedule", "0 30 3 * * *")
	v.SetDefault("executor.timeout", "10m")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")
}

// Load reads configuration from the given file (optional, yaml) with
// environment overrides applied on top.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("HULY_AGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeAssistant, ModeEmployee:
	default:
		return errs.NewValidation("mode", "must be %q or %q, got %q", ModeAssistant, ModeEmployee, c.Mode)
	}
	if c.Ledger.DailyAllocation <= 0 {
		return errs.NewValidation("ledger.daily_allocation", "must be positive")
	}
	if c.Ledger.ReservedFloor < 0 || c.Ledger.ReservedFloor >= c.Ledger.DailyAllocation {
		return errs.NewValidation("ledger.reserved_floor", "must be in [0, daily_allocation)")
	}
	if len(c.Scheduler.CostCurve) < 2 {
		return errs.NewValidation("scheduler.cost_curve", "need at least two points")
	}
	if _, err := c.ParseCostCurve(); err != nil {
		return err
	}
	if c.Memory.Consolidation.ImportanceThreshold < 0 || c.Memory.Consolidation.ImportanceThreshold > 1 {
		return errs.NewValidation("memory.consolidation.importance_threshold", "must be in [0, 1]")
	}
	return nil
}

// CostPoint mirrors the scheduler's curve point without importing it.
type CostPoint struct {
	Complexity int
	Cost       int64
}

// ParseCostCurve decodes the "complexity:cost" pairs.
func (c *Config) ParseCostCurve() ([]CostPoint, error) {
	out := make([]CostPoint, 0, len(c.Scheduler.CostCurve))
	for _, pair := range c.Scheduler.CostCurve {
		var p CostPoint
		if _, err := fmt.Sscanf(pair, "%d:%d", &p.Complexity, &p.Cost); err != nil {
			return nil, errs.NewValidation("scheduler.cost_curve", "bad point %q, want complexity:cost", pair)
		}
		out = append(out, p)
	}
	return out, nil
}
