package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hcengineering/huly-ai-agent/internal/errs"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ModeAssistant, cfg.Mode)
	assert.Equal(t, int64(500), cfg.Ledger.DailyAllocation)
	assert.Equal(t, int64(50), cfg.Ledger.ReservedFloor)
	assert.Equal(t, 4, cfg.Scheduler.Workers)
	assert.Equal(t, 10*time.Minute, cfg.Scheduler.TaskTimeout)
	assert.Equal(t, 2*time.Second, cfg.Scheduler.RetryBaseDelay)
	assert.Equal(t, 256, cfg.Memory.Embedding.Dimensions)
	assert.True(t, cfg.Trigger.Enabled)
	assert.Equal(t, "0 0 3 * * *", cfg.Trigger.SleepSchedule)

	curve, err := cfg.ParseCostCurve()
	require.NoError(t, err)
	require.Len(t, curve, 3)
	assert.Equal(t, CostPoint{Complexity: 50, Cost: 50}, curve[1])
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode: employee
ledger:
  daily_allocation: 800
scheduler:
  workers: 2
`), 0o600))

	t.Setenv("HULY_AGENT_LEDGER_RESERVED_FLOOR", "120")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ModeEmployee, cfg.Mode)
	assert.Equal(t, int64(800), cfg.Ledger.DailyAllocation)
	assert.Equal(t, int64(120), cfg.Ledger.ReservedFloor, "env wins over file and default")
	assert.Equal(t, 2, cfg.Scheduler.Workers)
}

func TestValidate(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Mode = "overlord"
	assert.True(t, errs.IsValidation(cfg.Validate()))
	cfg.Mode = ModeAssistant

	cfg.Ledger.ReservedFloor = cfg.Ledger.DailyAllocation
	assert.True(t, errs.IsValidation(cfg.Validate()))
	cfg.Ledger.ReservedFloor = 0

	cfg.Scheduler.CostCurve = []string{"0:10"}
	assert.True(t, errs.IsValidation(cfg.Validate()))
	cfg.Scheduler.CostCurve = []string{"0:10", "nonsense"}
	assert.True(t, errs.IsValidation(cfg.Validate()))
}
