package ops

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/eventstore"
)

const jsonConfig = `{
  "startingEquity": 25000,
  "store": {"dir": "%s"},
  "decision": {
    "tick_size": 0.25,
    "tick_value": 12.5,
    "equity_risk_fraction": 0.01,
    "session": {"open_minute": 810, "close_minute": 1200, "exit_window_min": 10},
    "tiers": [
      {"tier": "S", "min_equity": 1000, "templates": ["K1"], "max_stop_ticks": 16, "max_risk_per_trade": 200}
    ],
    "templates": [
      {"template": "K1", "constraint_id": "c-breakout", "side": "LONG", "stop_ticks": 8, "target_ticks": 16, "move_ticks": 16, "quality": 1}
    ],
    "features": {"volatility": 0, "trend": 1, "spread_ticks": 2}
  }
}`

// same resolved parameters, different format and key order
const yamlConfig = `
decision:
  features:
    spread_ticks: 2
    trend: 1
    volatility: 0
  templates:
    - template: K1
      constraint_id: c-breakout
      side: LONG
      stop_ticks: 8
      target_ticks: 16
      move_ticks: 16
      quality: 1
  tiers:
    - tier: S
      min_equity: 1000
      templates: [K1]
      max_stop_ticks: 16
      max_risk_per_trade: 200
  session:
    exit_window_min: 10
    close_minute: 1200
    open_minute: 810
  equity_risk_fraction: 0.01
  tick_value: 12.5
  tick_size: 0.25
store:
  dir: %s
startingEquity: 25000
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadJSON(t *testing.T) {
	storeDir := "/var/lib/trader/events"
	path := writeConfig(t, "config.json", fmt.Sprintf(jsonConfig, storeDir))

	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 25000.0, loaded.StartingEquity)
	assert.Equal(t, storeDir, loaded.Store.Dir)
	assert.Equal(t, 0.25, loaded.Decision.TickSize)
	assert.NotEmpty(t, loaded.Hash)

	// sections absent from the file keep their defaults
	assert.Equal(t, "default", loaded.Execution.Account)
	assert.Equal(t, 0.2, loaded.Reliability.Alpha)
	assert.Equal(t, 0.9, loaded.Attribution.LuckShockScore)

	// store tuning the file omits resolves to the baseline before validation
	assert.Equal(t, eventstore.DefaultConfig(storeDir), loaded.Store)
}

func TestLoadHashFormatIndependent(t *testing.T) {
	storeDir := "/var/lib/trader/events"
	jsonPath := writeConfig(t, "config.json", fmt.Sprintf(jsonConfig, storeDir))
	yamlPath := writeConfig(t, "config.yaml", fmt.Sprintf(yamlConfig, storeDir))

	fromJSON, err := Load(jsonPath)
	require.NoError(t, err)
	fromYAML, err := Load(yamlPath)
	require.NoError(t, err)

	assert.Equal(t, fromJSON.Hash, fromYAML.Hash,
		"equal resolved parameters must hash equal regardless of file format")
}

func TestLoadHashChangesWithParameters(t *testing.T) {
	a, err := Load(writeConfig(t, "a.json", fmt.Sprintf(jsonConfig, "/tmp/a")))
	require.NoError(t, err)
	b, err := Load(writeConfig(t, "b.json", fmt.Sprintf(jsonConfig, "/tmp/b")))
	require.NoError(t, err)
	assert.NotEqual(t, a.Hash, b.Hash)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing file content", `{"store": {"dir": ""}}`},
		{"no decision tiers", `{"store": {"dir": "/tmp/x"}, "decision": {"tick_size": 0.25, "tick_value": 12.5, "equity_risk_fraction": 0.01}}`},
		{"malformed json", `{"store":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "bad.json", tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}
