package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	SensorHart1560   = "hart1560"
	SensorADS1115    = "ads1115"
	SensorSimulation = "simulation"

	LogModeAppend    = "append"
	LogModeOverwrite = "overwrite"
	LogModeCreate    = "create"
	LogModePrompt    = "prompt"

	// LogFileExtension is appended to every log file name that lacks it.
	LogFileExtension = ".env.csv"
)

type SerialConfig struct {
	Port        string   `json:"port" yaml:"port"`
	BaudRate    int      `json:"baud_rate" yaml:"baud_rate"`
	Timeout     Duration `json:"timeout" yaml:"timeout"`
	SettleDelay Duration `json:"settle_delay" yaml:"settle_delay"`
	RetryDelay  Duration `json:"retry_delay" yaml:"retry_delay"`
}

type I2CConfig struct {
	Bus        string `json:"bus" yaml:"bus"`
	Address    int    `json:"address" yaml:"address"`
	SampleRate int    `json:"sample_rate" yaml:"sample_rate"`
}

type ChannelConfig struct {
	Channel           int     `json:"channel" yaml:"channel"`
	Enabled           bool    `json:"enabled" yaml:"enabled"`
	CalibrationScale  float64 `json:"calibration_scale" yaml:"calibration_scale"`
	CalibrationOffset float64 `json:"calibration_offset" yaml:"calibration_offset"`
}

type LogFileConfig struct {
	Dir  string `json:"dir" yaml:"dir"`
	Name string `json:"name" yaml:"name"`
	Mode string `json:"mode" yaml:"mode"`
}

type MQTTConfig struct {
	Server            string `json:"server" yaml:"server"`
	Username          string `json:"username" yaml:"username"`
	Password          string `json:"password" yaml:"password"`
	ClientID          string `json:"client_id" yaml:"client_id"`
	StateTopic        string `json:"state_topic" yaml:"state_topic"`
	DiscoveryTopic    string `json:"discovery_topic" yaml:"discovery_topic"`
	DiscoveryName     string `json:"discovery_name" yaml:"discovery_name"`
	DiscoveryUniqueID string `json:"discovery_unique_id" yaml:"discovery_unique_id"`
}

type OutputConfig struct {
	Type string      `json:"type" yaml:"type"`
	MQTT *MQTTConfig `json:"mqtt,omitempty" yaml:"mqtt,omitempty"`
}

type Config struct {
	SensorType           string          `json:"sensor_type" yaml:"sensor_type"`
	Serial               SerialConfig    `json:"serial" yaml:"serial"`
	I2C                  I2CConfig       `json:"i2c" yaml:"i2c"`
	Channels             []ChannelConfig `json:"channels" yaml:"channels"`
	SamplePeriod         Duration        `json:"sample_period" yaml:"sample_period"`
	HistoryWindow        Duration        `json:"history_window" yaml:"history_window"`
	HistoryLength        int             `json:"history_length" yaml:"history_length"`
	MaxConsecutiveMisses int             `json:"max_consecutive_misses" yaml:"max_consecutive_misses"`
	LogFile              LogFileConfig   `json:"log_file" yaml:"log_file"`
	Outputs              []OutputConfig  `json:"outputs" yaml:"outputs"`
	Render               bool            `json:"render" yaml:"render"`
	LogLevel             string          `json:"log_level" yaml:"log_level"`
}

// DefaultConfig mirrors the bench setup: a Hart 1560 scanner on probes 1-8,
// two points per minute and a two hour live window.
func DefaultConfig() Config {
	channels := make([]ChannelConfig, 0, 8)
	for ch := 1; ch <= 8; ch++ {
		channels = append(channels, ChannelConfig{Channel: ch, Enabled: true, CalibrationScale: 1.0})
	}
	return Config{
		SensorType: SensorHart1560,
		Serial: SerialConfig{
			Port:        "/dev/ttyUSB0",
			BaudRate:    9600,
			Timeout:     Duration(3 * time.Second),
			SettleDelay: Duration(750 * time.Millisecond),
			RetryDelay:  Duration(250 * time.Millisecond),
		},
		I2C:                  I2CConfig{Bus: "1", Address: 0x48, SampleRate: 128},
		Channels:             channels,
		SamplePeriod:         Duration(30 * time.Second),
		HistoryWindow:        Duration(2 * time.Hour),
		MaxConsecutiveMisses: 3,
		LogFile:              LogFileConfig{Dir: ".", Mode: LogModePrompt},
		Outputs:              []OutputConfig{{Type: "console"}},
		Render:               true,
		LogLevel:             "info",
	}
}

// LoadFile merges a JSON or YAML file over cfg. The format is chosen by
// extension; anything that is not .yaml/.yml is treated as JSON.
func LoadFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return fmt.Errorf("parse config: %w", err)
		}
	default:
		if err := json.Unmarshal(b, cfg); err != nil {
			return fmt.Errorf("parse config: %w", err)
		}
	}
	return nil
}

// EnabledChannels returns the enabled channel ids in configured order. This
// order is the column order of every downstream consumer.
func (c Config) EnabledChannels() []int {
	out := make([]int, 0, len(c.Channels))
	for _, ch := range c.Channels {
		if ch.Enabled {
			out = append(out, ch.Channel)
		}
	}
	return out
}

// HistoryCapacity is the number of rounds kept in memory per channel.
func (c Config) HistoryCapacity() int {
	if c.HistoryLength > 0 {
		return c.HistoryLength
	}
	if c.SamplePeriod <= 0 {
		return 1
	}
	n := int(math.Round(float64(c.HistoryWindow) / float64(c.SamplePeriod)))
	if n < 1 {
		n = 1
	}
	return n
}

// LogFilePath joins dir and name and appends the log extension when missing.
func (c Config) LogFilePath() string {
	name := c.LogFile.Name
	if !strings.HasSuffix(name, LogFileExtension) {
		name += LogFileExtension
	}
	return filepath.Join(c.LogFile.Dir, name)
}

func (c Config) Validate() error {
	switch c.SensorType {
	case SensorHart1560:
		if c.Serial.Port == "" {
			return errors.New("serial port must be set")
		}
		if c.Serial.BaudRate <= 0 {
			return errors.New("baud-rate must be > 0")
		}
	case SensorADS1115:
		if c.I2C.SampleRate <= 0 {
			return errors.New("i2c sample-rate must be > 0")
		}
		for _, ch := range c.EnabledChannels() {
			if ch < 0 || ch > 3 {
				return fmt.Errorf("ads1115 channel %d out of range 0-3", ch)
			}
		}
	case SensorSimulation:
	default:
		return fmt.Errorf("unknown sensor type %q", c.SensorType)
	}

	seen := map[int]bool{}
	for _, ch := range c.Channels {
		if seen[ch.Channel] {
			return fmt.Errorf("duplicate channel %d", ch.Channel)
		}
		seen[ch.Channel] = true
	}
	if len(c.EnabledChannels()) == 0 {
		return errors.New("at least one channel must be enabled")
	}
	if c.SamplePeriod <= 0 {
		return errors.New("sample-period must be > 0")
	}
	if c.MaxConsecutiveMisses < 0 {
		return errors.New("max-consecutive-misses must be >= 0")
	}

	switch c.LogFile.Mode {
	case LogModeAppend, LogModeOverwrite, LogModeCreate:
		if c.LogFile.Name == "" {
			return fmt.Errorf("log file name required for mode %q", c.LogFile.Mode)
		}
	case LogModePrompt:
	default:
		return fmt.Errorf("unknown log file mode %q", c.LogFile.Mode)
	}

	for _, o := range c.Outputs {
		switch strings.ToLower(o.Type) {
		case "console", "mqtt":
		default:
			return fmt.Errorf("unknown output type %q", o.Type)
		}
	}
	return nil
}

func parseIntOrHex(s string) (int, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseInt(s[2:], 16, 0)
		return int(v), err
	}
	v, err := strconv.Atoi(s)
	return v, err
}

func parseCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func parseChannels(s string) ([]int, error) {
	parts := parseCSV(s)
	out := make([]int, 0, len(parts))
	for _, t := range parts {
		v, err := strconv.Atoi(t)
		if err != nil {
			return nil, fmt.Errorf("invalid channel '%s': %w", t, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// parseKeyFloatMap parses "1=1.002,2=0.998" style per-channel values.
func parseKeyFloatMap(s string) (map[int]float64, error) {
	out := map[int]float64{}
	for _, p := range parseCSV(s) {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid entry '%s', want channel=value", p)
		}
		k, err := strconv.Atoi(strings.TrimSpace(kv[0]))
		if err != nil {
			return nil, fmt.Errorf("invalid channel '%s': %w", kv[0], err)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(kv[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value '%s': %w", kv[1], err)
		}
		out[k] = v
	}
	return out, nil
}
