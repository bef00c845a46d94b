package config

import (
	"reflect"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKeyFloatMap(t *testing.T) {
	tests := []struct {
		in   string
		want map[int]float64
		ok   bool
	}{
		{"", map[int]float64{}, true},
		{"1=1.002,2=0.998", map[int]float64{1: 1.002, 2: 0.998}, true},
		{" 1 = 1 , 3 = -0.5", map[int]float64{1: 1.0, 3: -0.5}, true},
		{"bad", nil, false},
		{"x=1", nil, false},
		{"1=warm", nil, false},
	}
	for _, tt := range tests {
		got, err := parseKeyFloatMap(tt.in)
		if (err == nil) != tt.ok {
			t.Fatalf("parseKeyFloatMap(%q) ok=%v err=%v", tt.in, tt.ok, err)
		}
		if tt.ok && !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("parseKeyFloatMap(%q) = %v; want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseChannels(t *testing.T) {
	got, err := parseChannels("5, 9,,10")
	require.NoError(t, err)
	assert.Equal(t, []int{5, 9, 10}, got)

	_, err = parseChannels("5,nine")
	assert.Error(t, err)
}

func TestParseIntOrHex(t *testing.T) {
	v, err := parseIntOrHex("0x48")
	require.NoError(t, err)
	assert.Equal(t, 72, v)

	v, err = parseIntOrHex("73")
	require.NoError(t, err)
	assert.Equal(t, 73, v)

	_, err = parseIntOrHex("0xZZ")
	assert.Error(t, err)
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"30s", 30 * time.Second, true},
		{"1m30s", 90 * time.Second, true},
		{"PT30S", 30 * time.Second, true},
		{"pt2h", 2 * time.Hour, true},
		{"PT1M30S", 90 * time.Second, true},
		{"", 0, false},
		{"soon", 0, false},
	}
	for _, tt := range tests {
		got, err := ParseDuration(tt.in)
		if !tt.ok {
			assert.Error(t, err, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got, "input %q", tt.in)
	}
}

func TestHistoryCapacity(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 240, cfg.HistoryCapacity())

	cfg.HistoryLength = 3
	assert.Equal(t, 3, cfg.HistoryCapacity())

	cfg.HistoryLength = 0
	cfg.HistoryWindow = Duration(10 * time.Second)
	assert.Equal(t, 1, cfg.HistoryCapacity())
}

func TestLogFilePath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogFile = LogFileConfig{Dir: "/data", Name: "bath"}
	assert.Equal(t, "/data/bath.env.csv", cfg.LogFilePath())

	cfg.LogFile.Name = "bath.env.csv"
	assert.Equal(t, "/data/bath.env.csv", cfg.LogFilePath())
}

func TestEnabledChannelsKeepsOrder(t *testing.T) {
	cfg := Config{Channels: []ChannelConfig{
		{Channel: 9, Enabled: true},
		{Channel: 5, Enabled: true},
		{Channel: 7, Enabled: false},
		{Channel: 10, Enabled: true},
	}}
	assert.Equal(t, []int{9, 5, 10}, cfg.EnabledChannels())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown sensor", func(c *Config) { c.SensorType = "thermocouple" }},
		{"missing port", func(c *Config) { c.Serial.Port = "" }},
		{"ads1115 channel range", func(c *Config) { c.SensorType = SensorADS1115 }},
		{"no channels", func(c *Config) {
			for i := range c.Channels {
				c.Channels[i].Enabled = false
			}
		}},
		{"duplicate channel", func(c *Config) { c.Channels[1].Channel = c.Channels[0].Channel }},
		{"zero period", func(c *Config) { c.SamplePeriod = 0 }},
		{"negative misses", func(c *Config) { c.MaxConsecutiveMisses = -1 }},
		{"create without name", func(c *Config) { c.LogFile.Mode = LogModeCreate }},
		{"unknown mode", func(c *Config) { c.LogFile.Mode = "rotate" }},
		{"unknown output", func(c *Config) { c.Outputs = []OutputConfig{{Type: "pigeon"}} }},
	}
	require.NoError(t, DefaultConfig().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func loadFlags(t *testing.T, args ...string) (Config, error) {
	t.Helper()
	var f Flags
	fs := pflag.NewFlagSet("templog", pflag.ContinueOnError)
	f.Register(fs)
	require.NoError(t, fs.Parse(args))
	return f.Load(fs)
}

func TestFlagsDefaults(t *testing.T) {
	cfg, err := loadFlags(t)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestFlagsOverride(t *testing.T) {
	cfg, err := loadFlags(t,
		"-p", "COM5",
		"--channels", "9,5,10",
		"--calibration-offset", "5=-0.25",
		"-i", "PT10S",
		"--history-length", "3",
		"--max-consecutive-misses", "0",
		"-o", "bath",
		"--render=false",
		"--log-level", "DEBUG",
	)
	require.NoError(t, err)

	assert.Equal(t, "COM5", cfg.Serial.Port)
	assert.Equal(t, []int{9, 5, 10}, cfg.EnabledChannels())
	assert.Equal(t, -0.25, cfg.Channels[1].CalibrationOffset)
	assert.Equal(t, 1.0, cfg.Channels[1].CalibrationScale)
	assert.Equal(t, 10*time.Second, cfg.SamplePeriod.D())
	assert.Equal(t, 3, cfg.HistoryCapacity())
	assert.Zero(t, cfg.MaxConsecutiveMisses)
	assert.Equal(t, LogModeCreate, cfg.LogFile.Mode)
	assert.Equal(t, "bath", cfg.LogFile.Name)
	assert.False(t, cfg.Render)
	assert.Equal(t, "debug", cfg.LogLevel)
	// untouched flags keep the defaults
	assert.Equal(t, 9600, cfg.Serial.BaudRate)
}

func TestFlagsExplicitModeWins(t *testing.T) {
	cfg, err := loadFlags(t, "-o", "bath", "--log-mode", "Append")
	require.NoError(t, err)
	assert.Equal(t, LogModeAppend, cfg.LogFile.Mode)
}

func TestFlagsMQTTCreatesOutput(t *testing.T) {
	cfg, err := loadFlags(t, "--mqtt-server", "tcp://broker:1883", "--mqtt-topic", "lab/bath/%d")
	require.NoError(t, err)
	require.Len(t, cfg.Outputs, 2)
	assert.Equal(t, "mqtt", cfg.Outputs[1].Type)
	require.NotNil(t, cfg.Outputs[1].MQTT)
	assert.Equal(t, "tcp://broker:1883", cfg.Outputs[1].MQTT.Server)
	assert.Equal(t, "lab/bath/%d", cfg.Outputs[1].MQTT.StateTopic)
}

func TestFlagsRejectBadValues(t *testing.T) {
	_, err := loadFlags(t, "-i", "soon")
	assert.Error(t, err)

	_, err = loadFlags(t, "--channels", "1,x")
	assert.Error(t, err)

	_, err = loadFlags(t, "--sensor-type", "thermocouple")
	assert.Error(t, err)
}
