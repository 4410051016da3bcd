package control

import (
	"bytes"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// TrackConfig describes the circular track model the telemetry tracker
// projects positions onto.
type TrackConfig struct {
	Name        string  `yaml:"name"`
	CentreX     float64 `yaml:"centre_x"`
	CentreY     float64 `yaml:"centre_y"`
	Radius      float64 `yaml:"radius"`       // racing-line radius in metres (must be > 0)
	InnerRadius float64 `yaml:"inner_radius"` // inner track edge in metres
	Width       float64 `yaml:"width"`        // track width in metres
	Turns       int     `yaml:"turns"`        // numbered turns used for incident locations
}

// SessionConfig holds the planned race distance and opening conditions.
type SessionConfig struct {
	TotalLaps    int      `yaml:"total_laps"` // 0 = open-ended
	Weather      string   `yaml:"weather"`
	WeatherCycle []string `yaml:"weather_cycle"` // labels a weather-shift incident moves through
}

// TelemetryConfig groups the derived-telemetry constants.
type TelemetryConfig struct {
	AveragePace    float64 `yaml:"average_pace"`     // m/s used to turn distance gaps into seconds
	BlueFlagWindow float64 `yaml:"blue_flag_window"` // metres behind a lapped car at which blue is shown
	BlueFlagHold   float64 `yaml:"blue_flag_hold"`   // seconds a manually shown blue flag stays out
}

// CompoundConfig is one tyre compound and its wear rate (wear per metre travelled).
type CompoundConfig struct {
	Name     string  `yaml:"name"`
	WearRate float64 `yaml:"wear_rate"`
}

// PenaltyConfig holds penalty durations and directive factors.
type PenaltyConfig struct {
	DriveThroughDuration  float64 `yaml:"drive_through_duration"` // seconds in the pit lane
	StopGoTransit         float64 `yaml:"stop_go_transit"`        // seconds of pit-lane transit
	StopGoHold            float64 `yaml:"stop_go_hold"`           // seconds held in the box
	PitLaneFactor         float64 `yaml:"pit_lane_factor"`
	HoldFactor            float64 `yaml:"hold_factor"`
	SpeedLimitFactor      float64 `yaml:"speed_limit_factor"`      // default factor for speed-limit penalties
	TyreWearFactor        float64 `yaml:"tyre_wear_factor"`        // wear-rate multiplier for tyre-degradation
	TyrePerformanceFactor float64 `yaml:"tyre_performance_factor"` // speed factor for tyre-degradation
	TrackLimitStrikes     int     `yaml:"track_limit_strikes"`     // violations per automatic time penalty (0 = never)
	TrackLimitSeconds     float64 `yaml:"track_limit_seconds"`
}

// IncidentWeight is one row of the stochastic incident table.
type IncidentWeight struct {
	Type     IncidentType `yaml:"type"`
	Weight   float64      `yaml:"weight"`
	Severity Severity     `yaml:"severity"`
}

// IncidentConfig drives rule-based detection and the stochastic generator.
type IncidentConfig struct {
	Probability           float64          `yaml:"probability"` // per running tick, after cooldown
	Cooldown              float64          `yaml:"cooldown"`    // seconds between generated incidents
	CollisionCooldown     float64          `yaml:"collision_cooldown"`
	TrackLimitCooldown    float64          `yaml:"track_limit_cooldown"`
	CrashSpeed            float64          `yaml:"crash_speed"` // combined m/s above which contact is High severity
	YellowHold            float64          `yaml:"yellow_hold"` // seconds a raised yellow blocks a return to green
	AutoSafetyCarDuration float64          `yaml:"auto_safety_car_duration"`
	Table                 []IncidentWeight `yaml:"table"`
}

// SafetyCarConfig holds the global speed regime for each caution level.
type SafetyCarConfig struct {
	PhysicalMultiplier float64 `yaml:"physical_multiplier"`
	VirtualMultiplier  float64 `yaml:"virtual_multiplier"`
	YellowMultiplier   float64 `yaml:"yellow_multiplier"`
	PhysicalSpeedLimit float64 `yaml:"physical_speed_limit"` // absolute cap in m/s while the SC is out
	VirtualSpeedLimit  float64 `yaml:"virtual_speed_limit"`
}

// HistoryConfig caps the retained logs.
type HistoryConfig struct {
	Incidents int `yaml:"incidents"`
	Protests  int `yaml:"protests"`
	Decisions int `yaml:"decisions"`
	Radio     int `yaml:"radio"`
}

// Config is the complete engine configuration, loadable from YAML.
type Config struct {
	Seed      int64            `yaml:"seed"`
	Track     TrackConfig      `yaml:"track"`
	Session   SessionConfig    `yaml:"session"`
	Telemetry TelemetryConfig  `yaml:"telemetry"`
	Tyres     []CompoundConfig `yaml:"tyres"`
	Penalty   PenaltyConfig    `yaml:"penalty"`
	Incident  IncidentConfig   `yaml:"incident"`
	SafetyCar SafetyCarConfig  `yaml:"safety_car"`
	History   HistoryConfig    `yaml:"history"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Seed: 42,
		Track: TrackConfig{
			Name:        "Oval Ring",
			Radius:      165,
			InnerRadius: 150,
			Width:       30,
			Turns:       12,
		},
		Session: SessionConfig{
			TotalLaps:    58,
			Weather:      "Clear",
			WeatherCycle: []string{"Clear", "Overcast", "Light Rain", "Heavy Rain"},
		},
		Telemetry: TelemetryConfig{
			AveragePace:    85,
			BlueFlagWindow: 60,
			BlueFlagHold:   5,
		},
		Tyres: []CompoundConfig{
			{Name: "soft", WearRate: 1.6e-5},
			{Name: "medium", WearRate: 1.0e-5},
			{Name: "hard", WearRate: 0.6e-5},
		},
		Penalty: PenaltyConfig{
			DriveThroughDuration:  12,
			StopGoTransit:         12,
			StopGoHold:            10,
			PitLaneFactor:         0.55,
			HoldFactor:            0.08,
			SpeedLimitFactor:      0.7,
			TyreWearFactor:        2.0,
			TyrePerformanceFactor: 0.9,
			TrackLimitStrikes:     3,
			TrackLimitSeconds:     5,
		},
		Incident: IncidentConfig{
			Probability:           0.0025,
			Cooldown:              8,
			CollisionCooldown:     3,
			TrackLimitCooldown:    2,
			CrashSpeed:            140,
			YellowHold:            8,
			AutoSafetyCarDuration: 25,
			Table: []IncidentWeight{
				{Type: IncidentSpin, Weight: 0.25, Severity: SeverityMedium},
				{Type: IncidentTrackLimits, Weight: 0.2, Severity: SeverityLow},
				{Type: IncidentMechanical, Weight: 0.15, Severity: SeverityMedium},
				{Type: IncidentWeatherShift, Weight: 0.1, Severity: SeverityInfo},
				{Type: IncidentCrash, Weight: 0.05, Severity: SeverityHigh},
				{Type: IncidentOvertake, Weight: 0.2, Severity: SeverityInfo},
				{Type: IncidentDebris, Weight: 0.05, Severity: SeverityMedium},
			},
		},
		SafetyCar: SafetyCarConfig{
			PhysicalMultiplier: 0.6,
			VirtualMultiplier:  0.7,
			YellowMultiplier:   0.85,
			PhysicalSpeedLimit: 80,
			VirtualSpeedLimit:  100,
		},
		History: HistoryConfig{
			Incidents: 100,
			Protests:  100,
			Decisions: 100,
			Radio:     20,
		},
	}
}

// LoadConfig reads a YAML configuration file on top of DefaultConfig.
// Unknown keys are rejected so typos surface as errors.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading race config: %w", err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parsing race config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Circumference returns the racing-line length of one lap in metres.
func (t TrackConfig) Circumference() float64 {
	return 2 * math.Pi * t.Radius
}

// Validate checks ranges and names across every section.
func (c Config) Validate() error {
	t := c.Track
	if !finite(t.CentreX) || !finite(t.CentreY) {
		return fmt.Errorf("track centre must be finite, got (%v, %v)", t.CentreX, t.CentreY)
	}
	if !positive(t.Radius) {
		return fmt.Errorf("track radius must be a finite positive number, got %v", t.Radius)
	}
	if !nonNegative(t.InnerRadius) || !positive(t.Width) {
		return fmt.Errorf("track inner_radius must be >= 0 and width > 0, got %v/%v", t.InnerRadius, t.Width)
	}
	if t.Radius < t.InnerRadius || t.Radius > t.InnerRadius+t.Width {
		return fmt.Errorf("track radius %v must lie between inner edge %v and outer edge %v",
			t.Radius, t.InnerRadius, t.InnerRadius+t.Width)
	}
	if t.Turns <= 0 {
		return fmt.Errorf("track turns must be > 0, got %d", t.Turns)
	}
	if c.Session.TotalLaps < 0 {
		return fmt.Errorf("session total_laps must be >= 0, got %d", c.Session.TotalLaps)
	}
	if !positive(c.Telemetry.AveragePace) {
		return fmt.Errorf("telemetry average_pace must be > 0, got %v", c.Telemetry.AveragePace)
	}
	if !nonNegative(c.Telemetry.BlueFlagWindow) || !nonNegative(c.Telemetry.BlueFlagHold) {
		return fmt.Errorf("telemetry blue flag window/hold must be >= 0")
	}
	if len(c.Tyres) == 0 {
		return fmt.Errorf("at least one tyre compound is required")
	}
	for _, tc := range c.Tyres {
		if tc.Name == "" || !nonNegative(tc.WearRate) {
			return fmt.Errorf("tyre compound %q: name required and wear_rate must be >= 0", tc.Name)
		}
	}
	p := c.Penalty
	if !positive(p.DriveThroughDuration) || !positive(p.StopGoTransit) || !positive(p.StopGoHold) {
		return fmt.Errorf("penalty durations must be > 0")
	}
	for name, f := range map[string]float64{
		"pit_lane_factor":         p.PitLaneFactor,
		"hold_factor":             p.HoldFactor,
		"speed_limit_factor":      p.SpeedLimitFactor,
		"tyre_performance_factor": p.TyrePerformanceFactor,
	} {
		if !unitInterval(f) {
			return fmt.Errorf("penalty %s must be in [0,1], got %v", name, f)
		}
	}
	if !nonNegative(p.TyreWearFactor) || p.TrackLimitStrikes < 0 || !nonNegative(p.TrackLimitSeconds) {
		return fmt.Errorf("penalty tyre_wear_factor, track_limit_strikes and track_limit_seconds must be >= 0")
	}
	in := c.Incident
	if !unitInterval(in.Probability) {
		return fmt.Errorf("incident probability must be in [0,1], got %v", in.Probability)
	}
	for _, v := range []float64{in.Cooldown, in.CollisionCooldown, in.TrackLimitCooldown,
		in.YellowHold, in.AutoSafetyCarDuration, in.CrashSpeed} {
		if !nonNegative(v) {
			return fmt.Errorf("incident timings and crash_speed must be finite and >= 0, got %v", v)
		}
	}
	total := 0.0
	for _, row := range in.Table {
		if !IsValidIncidentType(string(row.Type)) {
			return fmt.Errorf("unknown incident type %q in table", row.Type)
		}
		if !IsValidSeverity(string(row.Severity)) {
			return fmt.Errorf("unknown severity %q for incident type %q", row.Severity, row.Type)
		}
		if !nonNegative(row.Weight) {
			return fmt.Errorf("incident weight for %q must be >= 0", row.Type)
		}
		total += row.Weight
	}
	if in.Probability > 0 && total <= 0 {
		return fmt.Errorf("incident table needs a positive total weight when probability > 0")
	}
	sc := c.SafetyCar
	if !unitInterval(sc.PhysicalMultiplier) || !unitInterval(sc.VirtualMultiplier) || !unitInterval(sc.YellowMultiplier) {
		return fmt.Errorf("safety_car multipliers must be in [0,1]")
	}
	if !nonNegative(sc.PhysicalSpeedLimit) || !nonNegative(sc.VirtualSpeedLimit) {
		return fmt.Errorf("safety_car speed limits must be >= 0")
	}
	h := c.History
	if h.Incidents <= 0 || h.Protests <= 0 || h.Decisions <= 0 || h.Radio <= 0 {
		return fmt.Errorf("history limits must be > 0")
	}
	return nil
}

func unitInterval(f float64) bool {
	return f >= 0 && f <= 1
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// positive and nonNegative reject NaN and infinities.
func positive(f float64) bool {
	return f > 0 && finite(f)
}

func nonNegative(f float64) bool {
	return f >= 0 && finite(f)
}
