// Package config holds the machine profile, motion dialect and runtime
// settings, loaded from YAML (or JSON) with defaults applied.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"kerf/geometry"
)

// Origin corners
const (
	OriginBottomLeft  = "bottom-left"
	OriginTopLeft     = "top-left"
	OriginTopRight    = "top-right"
	OriginBottomRight = "bottom-right"
)

// SRange is the controller's spindle/power value range
type SRange struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// MachineProfile describes the physical laser cutter
type MachineProfile struct {
	Name        string   `json:"name,omitempty" yaml:"name"`
	BedWidth    float64  `json:"bedWidth" yaml:"bedWidth"`
	BedHeight   float64  `json:"bedHeight" yaml:"bedHeight"`
	Origin      string   `json:"origin" yaml:"origin"`
	SRange      SRange   `json:"sRange" yaml:"sRange"`
	LaserMode   string   `json:"laserMode" yaml:"laserMode"` // M3 or M4
	Preamble    []string `json:"preamble,omitempty" yaml:"preamble"`
	Postamble   []string `json:"postamble,omitempty" yaml:"postamble"`
	TravelSpeed float64  `json:"travelSpeed,omitempty" yaml:"travelSpeed"` // mm/min, 0 = use cut speed
}

// MachineTransform maps design coordinates (origin bottom-left, Y up) to
// machine coordinates for the configured origin corner.
func (p MachineProfile) MachineTransform() geometry.Transform {
	switch p.Origin {
	case OriginTopLeft:
		return geometry.Transform{1, 0, 0, -1, 0, p.BedHeight}
	case OriginTopRight:
		return geometry.Transform{-1, 0, 0, -1, p.BedWidth, p.BedHeight}
	case OriginBottomRight:
		return geometry.Transform{-1, 0, 0, 1, p.BedWidth, 0}
	}
	return geometry.Identity
}

// Dialect controls how motion code is written
type Dialect struct {
	Newline        string `json:"newline" yaml:"newline"`
	UseG0ForTravel bool   `json:"useG0ForTravel" yaml:"useG0ForTravel"`
	PowerLetter    string `json:"powerLetter" yaml:"powerLetter"`
	EnableLaser    string `json:"enableLaser" yaml:"enableLaser"`
	DisableLaser   string `json:"disableLaser" yaml:"disableLaser"`
}

// SerialConfig configures the controller link
type SerialConfig struct {
	Device        string `yaml:"device"`
	Baud          int    `yaml:"baud"`
	ReadTimeoutMs int    `yaml:"readTimeoutMs"`
}

// ServerConfig configures the HTTP surface
type ServerConfig struct {
	Addr           string `yaml:"addr"`
	RequestLogging bool   `yaml:"requestLogging"`
}

// SimulatorConfig configures the virtual controller
type SimulatorConfig struct {
	Enabled        bool    `yaml:"enabled"`
	DwellScale     float64 `yaml:"dwellScale"`
	PollIntervalMs int     `yaml:"pollIntervalMs"`
}

// Config is the complete runtime configuration
type Config struct {
	Profile   MachineProfile  `yaml:"profile"`
	Dialect   *Dialect        `yaml:"dialect"`
	Serial    SerialConfig    `yaml:"serial"`
	Server    ServerConfig    `yaml:"server"`
	Simulator SimulatorConfig `yaml:"simulator"`
	LogLevel  string          `yaml:"logLevel"`
}

// Load parses YAML (or JSON) configuration data and applies defaults
func Load(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile reads and parses a configuration file
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Load(data)
}

// Validate checks values defaults cannot repair
func (c *Config) Validate() error {
	switch c.Profile.LaserMode {
	case "M3", "M4":
	default:
		return fmt.Errorf("invalid laserMode %q (want M3 or M4)", c.Profile.LaserMode)
	}
	switch c.Profile.Origin {
	case OriginBottomLeft, OriginTopLeft, OriginTopRight, OriginBottomRight:
	default:
		return fmt.Errorf("invalid origin %q", c.Profile.Origin)
	}
	if c.Profile.SRange.Max < c.Profile.SRange.Min {
		return fmt.Errorf("invalid sRange: max %g < min %g", c.Profile.SRange.Max, c.Profile.SRange.Min)
	}
	return nil
}

// applyDefaults fills in missing configuration values
func applyDefaults(cfg *Config) {
	applyProfileDefaults(&cfg.Profile)

	if cfg.Dialect == nil {
		d := DialectFor(cfg.Profile)
		cfg.Dialect = &d
	} else {
		applyDialectDefaults(cfg.Dialect, cfg.Profile)
	}

	if cfg.Serial.Baud == 0 {
		cfg.Serial.Baud = 115200 // GRBL default
	}
	if cfg.Serial.ReadTimeoutMs == 0 {
		cfg.Serial.ReadTimeoutMs = 100
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = "127.0.0.1:8765"
	}

	if cfg.Simulator.DwellScale == 0 {
		cfg.Simulator.DwellScale = 1.0
	}
	if cfg.Simulator.PollIntervalMs == 0 {
		cfg.Simulator.PollIntervalMs = 20
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

// ApplyProfileDefaults fills in a partially specified profile, e.g. one
// received with a request.
func ApplyProfileDefaults(p *MachineProfile) {
	applyProfileDefaults(p)
}

func applyProfileDefaults(p *MachineProfile) {
	if p.BedWidth == 0 {
		p.BedWidth = 400
	}
	if p.BedHeight == 0 {
		p.BedHeight = 400
	}
	if p.Origin == "" {
		p.Origin = OriginBottomLeft
	}
	if p.SRange.Max == 0 && p.SRange.Min == 0 {
		p.SRange.Max = 1000 // GRBL $30 default
	}
	if p.LaserMode == "" {
		p.LaserMode = "M4"
	}
}

// ApplyDialectDefaults fills the empty fields of a dialect from the GRBL
// dialect for p
func ApplyDialectDefaults(d *Dialect, p MachineProfile) {
	applyDialectDefaults(d, p)
}

func applyDialectDefaults(d *Dialect, p MachineProfile) {
	def := DialectFor(p)
	if d.Newline == "" {
		d.Newline = def.Newline
	}
	if d.PowerLetter == "" {
		d.PowerLetter = def.PowerLetter
	}
	if d.EnableLaser == "" {
		d.EnableLaser = def.EnableLaser
	}
	if d.DisableLaser == "" {
		d.DisableLaser = def.DisableLaser
	}
}

// DialectFor returns the GRBL dialect matching a profile's laser mode
func DialectFor(p MachineProfile) Dialect {
	enable := p.LaserMode
	if enable == "" {
		enable = "M4"
	}
	return Dialect{
		Newline:        "\n",
		UseG0ForTravel: true,
		PowerLetter:    "S",
		EnableLaser:    enable,
		DisableLaser:   "M5",
	}
}

// DefaultProfile returns a 400x400 mm GRBL laser with S0-1000 power
func DefaultProfile() MachineProfile {
	p := MachineProfile{
		Name:      "grbl-laser",
		Preamble:  []string{"G21", "G90"},
		Postamble: []string{"M5"},
	}
	applyProfileDefaults(&p)
	return p
}

// DefaultConfig returns the configuration used when no file is given
func DefaultConfig() *Config {
	cfg := &Config{Profile: DefaultProfile()}
	applyDefaults(cfg)
	return cfg
}
