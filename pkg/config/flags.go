package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
)

const (
	FlagConfig               = "config"
	FlagSensorType           = "sensor-type"
	FlagSerialPort           = "serial-port"
	FlagBaudRate             = "baud-rate"
	FlagReadTimeout          = "read-timeout"
	FlagI2CBus               = "i2c-bus"
	FlagI2CAddress           = "i2c-address"
	FlagChannels             = "channels"
	FlagCalibrationScale     = "calibration-scale"
	FlagCalibrationOffset    = "calibration-offset"
	FlagSamplePeriod         = "sample-period"
	FlagHistoryWindow        = "history-window"
	FlagHistoryLength        = "history-length"
	FlagMaxConsecutiveMisses = "max-consecutive-misses"
	FlagLogDir               = "log-dir"
	FlagLogName              = "log-name"
	FlagLogMode              = "log-mode"
	FlagOutputs              = "outputs"
	FlagMQTTServer           = "mqtt-server"
	FlagMQTTUser             = "mqtt-user"
	FlagMQTTPass             = "mqtt-pass"
	FlagMQTTClientID         = "mqtt-client-id"
	FlagMQTTTopic            = "mqtt-topic"
	FlagRender               = "render"
	FlagLogLevel             = "log-level"
)

// Flags holds the raw command-line values. A flag only overrides the
// configuration when it was explicitly set.
type Flags struct {
	ConfigPath           string
	SensorType           string
	SerialPort           string
	BaudRate             int
	ReadTimeout          string
	I2CBus               string
	I2CAddress           string
	Channels             string
	CalibrationScale     string
	CalibrationOffset    string
	SamplePeriod         string
	HistoryWindow        string
	HistoryLength        int
	MaxConsecutiveMisses int
	LogDir               string
	LogName              string
	LogMode              string
	Outputs              string
	MQTTServer           string
	MQTTUser             string
	MQTTPass             string
	MQTTClientID         string
	MQTTTopic            string
	Render               bool
	LogLevel             string
}

// Register binds every configuration flag to fs.
func (f *Flags) Register(fs *pflag.FlagSet) {
	fs.StringVarP(&f.ConfigPath, FlagConfig, "c", "", "Path to JSON or YAML config file")
	fs.StringVar(&f.SensorType, FlagSensorType, "", "instrument type: hart1560|ads1115|simulation")
	fs.StringVarP(&f.SerialPort, FlagSerialPort, "p", "", "serial device of the thermometer (e.g. /dev/ttyUSB0, COM5)")
	fs.IntVar(&f.BaudRate, FlagBaudRate, 0, "serial baud rate")
	fs.StringVar(&f.ReadTimeout, FlagReadTimeout, "", "serial read timeout (e.g. 3s or PT3S)")
	fs.StringVar(&f.I2CBus, FlagI2CBus, "", "I2C bus for the ads1115 instrument (e.g. '1' -> /dev/i2c-1)")
	fs.StringVar(&f.I2CAddress, FlagI2CAddress, "", "I2C address (decimal or 0x hex)")
	fs.StringVar(&f.Channels, FlagChannels, "", "Comma-separated channels e.g. 1,2,3,4")
	fs.StringVar(&f.CalibrationScale, FlagCalibrationScale, "", "per-channel scale e.g. 1=1.002,2=0.998")
	fs.StringVar(&f.CalibrationOffset, FlagCalibrationOffset, "", "per-channel offset e.g. 1=-0.02")
	fs.StringVarP(&f.SamplePeriod, FlagSamplePeriod, "i", "", "time between sampling rounds (e.g. 30s or PT30S)")
	fs.StringVar(&f.HistoryWindow, FlagHistoryWindow, "", "look-back window kept in memory (e.g. 2h or PT2H)")
	fs.IntVar(&f.HistoryLength, FlagHistoryLength, 0, "explicit number of rounds kept in memory, overrides history-window")
	fs.IntVar(&f.MaxConsecutiveMisses, FlagMaxConsecutiveMisses, 0, "consecutive missing rounds a channel may have before aborting (0 aborts on the first)")
	fs.StringVar(&f.LogDir, FlagLogDir, "", "directory of the data log")
	fs.StringVarP(&f.LogName, FlagLogName, "o", "", "data log name, "+LogFileExtension+" is appended")
	fs.StringVar(&f.LogMode, FlagLogMode, "", "data log mode: append|overwrite|create|prompt")
	fs.StringVar(&f.Outputs, FlagOutputs, "", "Comma-separated outputs (console,mqtt)")
	fs.StringVar(&f.MQTTServer, FlagMQTTServer, "", "MQTT server (tcp://host:port)")
	fs.StringVar(&f.MQTTUser, FlagMQTTUser, "", "MQTT username")
	fs.StringVar(&f.MQTTPass, FlagMQTTPass, "", "MQTT password")
	fs.StringVar(&f.MQTTClientID, FlagMQTTClientID, "", "MQTT client id")
	fs.StringVar(&f.MQTTTopic, FlagMQTTTopic, "", "MQTT state topic, %d is replaced by the channel")
	fs.BoolVar(&f.Render, FlagRender, true, "draw the live chart of the history window")
	fs.StringVar(&f.LogLevel, FlagLogLevel, "", "log level: debug|info|warn|error")
}

// Load builds the configuration: defaults, then the config file, then the
// flags that were set on fs.
func (f *Flags) Load(fs *pflag.FlagSet) (Config, error) {
	cfg := DefaultConfig()
	if f.ConfigPath != "" {
		if err := LoadFile(f.ConfigPath, &cfg); err != nil {
			return cfg, err
		}
	}
	if err := f.apply(fs, &cfg); err != nil {
		return cfg, err
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (f *Flags) apply(fs *pflag.FlagSet, cfg *Config) error {
	set := fs.Changed

	if set(FlagSensorType) {
		cfg.SensorType = strings.ToLower(f.SensorType)
	}
	if set(FlagSerialPort) {
		cfg.Serial.Port = f.SerialPort
	}
	if set(FlagBaudRate) {
		cfg.Serial.BaudRate = f.BaudRate
	}
	if set(FlagReadTimeout) {
		d, err := ParseDuration(f.ReadTimeout)
		if err != nil {
			return fmt.Errorf("%s: %w", FlagReadTimeout, err)
		}
		cfg.Serial.Timeout = Duration(d)
	}
	if set(FlagI2CBus) {
		cfg.I2C.Bus = f.I2CBus
	}
	if set(FlagI2CAddress) {
		v, err := parseIntOrHex(f.I2CAddress)
		if err != nil {
			return fmt.Errorf("%s: %w", FlagI2CAddress, err)
		}
		cfg.I2C.Address = v
	}
	if set(FlagChannels) {
		chs, err := parseChannels(f.Channels)
		if err != nil {
			return err
		}
		cfg.Channels = mergeChannels(cfg.Channels, chs)
	}
	if set(FlagCalibrationScale) {
		m, err := parseKeyFloatMap(f.CalibrationScale)
		if err != nil {
			return fmt.Errorf("%s: %w", FlagCalibrationScale, err)
		}
		for i := range cfg.Channels {
			if v, ok := m[cfg.Channels[i].Channel]; ok {
				cfg.Channels[i].CalibrationScale = v
			}
		}
	}
	if set(FlagCalibrationOffset) {
		m, err := parseKeyFloatMap(f.CalibrationOffset)
		if err != nil {
			return fmt.Errorf("%s: %w", FlagCalibrationOffset, err)
		}
		for i := range cfg.Channels {
			if v, ok := m[cfg.Channels[i].Channel]; ok {
				cfg.Channels[i].CalibrationOffset = v
			}
		}
	}
	if set(FlagSamplePeriod) {
		d, err := ParseDuration(f.SamplePeriod)
		if err != nil {
			return fmt.Errorf("%s: %w", FlagSamplePeriod, err)
		}
		cfg.SamplePeriod = Duration(d)
	}
	if set(FlagHistoryWindow) {
		d, err := ParseDuration(f.HistoryWindow)
		if err != nil {
			return fmt.Errorf("%s: %w", FlagHistoryWindow, err)
		}
		cfg.HistoryWindow = Duration(d)
	}
	if set(FlagHistoryLength) {
		cfg.HistoryLength = f.HistoryLength
	}
	if set(FlagMaxConsecutiveMisses) {
		cfg.MaxConsecutiveMisses = f.MaxConsecutiveMisses
	}
	if set(FlagLogDir) {
		cfg.LogFile.Dir = f.LogDir
	}
	if set(FlagLogName) {
		cfg.LogFile.Name = f.LogName
		// a name given on the command line without a mode means a fresh file
		if !set(FlagLogMode) && cfg.LogFile.Mode == LogModePrompt {
			cfg.LogFile.Mode = LogModeCreate
		}
	}
	if set(FlagLogMode) {
		cfg.LogFile.Mode = strings.ToLower(f.LogMode)
	}
	if set(FlagOutputs) {
		parts := parseCSV(f.Outputs)
		outs := make([]OutputConfig, 0, len(parts))
		for _, p := range parts {
			outs = append(outs, OutputConfig{Type: strings.ToLower(p)})
		}
		cfg.Outputs = outs
	}
	if set(FlagMQTTServer) || set(FlagMQTTUser) || set(FlagMQTTPass) || set(FlagMQTTClientID) || set(FlagMQTTTopic) {
		// Apply MQTT flags to all mqtt outputs; if none exist, create one.
		applied := false
		for i := range cfg.Outputs {
			if strings.EqualFold(cfg.Outputs[i].Type, "mqtt") {
				f.applyMQTT(fs, &cfg.Outputs[i])
				applied = true
			}
		}
		if !applied {
			out := OutputConfig{Type: "mqtt"}
			f.applyMQTT(fs, &out)
			cfg.Outputs = append(cfg.Outputs, out)
		}
	}
	if set(FlagRender) {
		cfg.Render = f.Render
	}
	if set(FlagLogLevel) {
		cfg.LogLevel = strings.ToLower(f.LogLevel)
	}
	return nil
}

func (f *Flags) applyMQTT(fs *pflag.FlagSet, out *OutputConfig) {
	if out.MQTT == nil {
		out.MQTT = &MQTTConfig{}
	}
	if fs.Changed(FlagMQTTServer) {
		out.MQTT.Server = f.MQTTServer
	}
	if fs.Changed(FlagMQTTUser) {
		out.MQTT.Username = f.MQTTUser
	}
	if fs.Changed(FlagMQTTPass) {
		out.MQTT.Password = f.MQTTPass
	}
	if fs.Changed(FlagMQTTClientID) {
		out.MQTT.ClientID = f.MQTTClientID
	}
	if fs.Changed(FlagMQTTTopic) {
		out.MQTT.StateTopic = f.MQTTTopic
	}
}

// mergeChannels enables exactly the listed channels, in the listed order,
// keeping calibration of channels already configured.
func mergeChannels(existing []ChannelConfig, ids []int) []ChannelConfig {
	byID := make(map[int]ChannelConfig, len(existing))
	for _, c := range existing {
		byID[c.Channel] = c
	}
	out := make([]ChannelConfig, 0, len(ids))
	for _, id := range ids {
		c, ok := byID[id]
		if !ok {
			c = ChannelConfig{Channel: id, CalibrationScale: 1.0}
		}
		c.Enabled = true
		out = append(out, c)
	}
	return out
}

// normalize fills zero values a config file may leave behind.
func (c *Config) normalize() {
	for i := range c.Channels {
		if c.Channels[i].CalibrationScale == 0 {
			c.Channels[i].CalibrationScale = 1.0
		}
	}
	if c.LogFile.Dir == "" {
		c.LogFile.Dir = "."
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	c.SensorType = strings.ToLower(c.SensorType)
	c.LogFile.Mode = strings.ToLower(c.LogFile.Mode)
	for i := range c.Outputs {
		c.Outputs[i].Type = strings.ToLower(c.Outputs[i].Type)
	}
}
