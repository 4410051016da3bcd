package control

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_Defaults(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

func TestValidate_RejectsNonFiniteValues(t *testing.T) {
	nan, inf := math.NaN(), math.Inf(1)
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"centre", func(c *Config) { c.Track.CentreX = nan }},
		{"inner radius", func(c *Config) { c.Track.InnerRadius = nan }},
		{"width", func(c *Config) { c.Track.Width = inf }},
		{"average pace", func(c *Config) { c.Telemetry.AveragePace = nan }},
		{"blue flag window", func(c *Config) { c.Telemetry.BlueFlagWindow = nan }},
		{"wear rate", func(c *Config) { c.Tyres[0].WearRate = nan }},
		{"drive-through", func(c *Config) { c.Penalty.DriveThroughDuration = nan }},
		{"stop-go hold", func(c *Config) { c.Penalty.StopGoHold = inf }},
		{"pit lane factor", func(c *Config) { c.Penalty.PitLaneFactor = nan }},
		{"track limit seconds", func(c *Config) { c.Penalty.TrackLimitSeconds = nan }},
		{"probability", func(c *Config) { c.Incident.Probability = nan }},
		{"yellow hold", func(c *Config) { c.Incident.YellowHold = nan }},
		{"auto safety car", func(c *Config) { c.Incident.AutoSafetyCarDuration = inf }},
		{"table weight", func(c *Config) { c.Incident.Table[0].Weight = nan }},
		{"sc speed limit", func(c *Config) { c.SafetyCar.PhysicalSpeedLimit = nan }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Tyres = append([]CompoundConfig(nil), cfg.Tyres...)
			cfg.Incident.Table = append([]IncidentWeight(nil), cfg.Incident.Table...)
			tt.mutate(&cfg)

			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadConfig_RejectsNaNPace(t *testing.T) {
	// GIVEN a config file that sets the average pace to .nan
	path := filepath.Join(t.TempDir(), "race.yaml")
	require.NoError(t, os.WriteFile(path, []byte("telemetry:\n  average_pace: .nan\n"), 0o644))

	// WHEN it is loaded
	_, err := LoadConfig(path)

	// THEN validation refuses it
	require.Error(t, err)
	assert.Contains(t, err.Error(), "average_pace")
}
