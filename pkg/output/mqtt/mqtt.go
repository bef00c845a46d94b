package mqtt

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/ericogr/templog/pkg/config"
	"github.com/ericogr/templog/pkg/output"
	"github.com/ericogr/templog/pkg/sensor"
)

const (
	DefaultServer   = "tcp://localhost:1883"
	DefaultClientID = "templog-client"

	defaultStateTopic = "templog/channel/%d"
	connectTimeout    = 10 * time.Second
	quiesceMillis     = 250
)

// discovery is the Home Assistant MQTT discovery document for one channel.
type discovery struct {
	Name            string `json:"name"`
	StateTopic      string `json:"state_topic"`
	Unit            string `json:"unit_of_measurement"`
	DeviceClass     string `json:"device_class"`
	StateClass      string `json:"state_class"`
	ValueTemplate   string `json:"value_template"`
	AttributesTopic string `json:"json_attributes_topic"`
	UniqueID        string `json:"unique_id,omitempty"`
}

// statePayload is published once per channel and round.
type statePayload struct {
	Temperature float64 `json:"temperature"`
	Timestamp   string  `json:"timestamp"`
}

type MQTTOutput struct {
	client mqtt.Client
	topic  string
	log    *slog.Logger
}

// NewMQTT connects to the broker and, when a discovery topic is configured,
// announces every channel as a temperature sensor.
func NewMQTT(cfg config.MQTTConfig, channels []int, log *slog.Logger) (output.Output, error) {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Server == "" {
		cfg.Server = DefaultServer
	}
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID
	}

	client := mqtt.NewClient(clientOptions(cfg))
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Server, token.Error())
	}
	log.Info("mqtt connected", "server", cfg.Server, "client_id", cfg.ClientID)

	m := &MQTTOutput{client: client, topic: cfg.StateTopic, log: log}
	if cfg.DiscoveryTopic != "" {
		m.announce(cfg, channels)
	}
	return m, nil
}

func clientOptions(cfg config.MQTTConfig) *mqtt.ClientOptions {
	return mqtt.NewClientOptions().
		AddBroker(cfg.Server).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(true)
}

// announce publishes one retained discovery document per channel. A topic
// without %d can only describe the first channel.
func (m *MQTTOutput) announce(cfg config.MQTTConfig, channels []int) {
	perChannel := strings.Contains(cfg.DiscoveryTopic, "%d")
	for _, ch := range channels {
		topic := cfg.DiscoveryTopic
		if perChannel {
			topic = fmt.Sprintf(topic, ch)
		}
		if err := m.publish(topic, true, newDiscovery(cfg, ch)); err != nil {
			m.log.Warn("mqtt discovery publish failed", "topic", topic, "error", err)
		}
		if !perChannel {
			return
		}
	}
}

func newDiscovery(cfg config.MQTTConfig, ch int) discovery {
	name := cfg.DiscoveryName
	if name == "" {
		name = "Temperature " + cfg.ClientID
	}
	uid := cfg.DiscoveryUniqueID
	if uid == "" {
		uid = cfg.ClientID
	}
	state := formatStateTopic(cfg.StateTopic, ch)
	return discovery{
		Name:            fmt.Sprintf("%s ch%d", name, ch),
		StateTopic:      state,
		Unit:            "°C",
		DeviceClass:     "temperature",
		StateClass:      "measurement",
		ValueTemplate:   "{{ value_json.temperature }}",
		AttributesTopic: state,
		UniqueID:        fmt.Sprintf("%s_%d", uid, ch),
	}
}

// Publish sends every answered channel of the round. Missing channels are
// skipped so subscribers keep their last known value.
func (m *MQTTOutput) Publish(r sensor.Round) error {
	ts := r.Timestamp.Format(sensor.TimestampLayout)
	for _, rd := range r.Readings {
		if rd.Missing {
			continue
		}
		topic := formatStateTopic(m.topic, rd.Channel)
		if err := m.publish(topic, false, statePayload{Temperature: rd.Value, Timestamp: ts}); err != nil {
			return err
		}
	}
	return nil
}

func (m *MQTTOutput) publish(topic string, retained bool, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	token := m.client.Publish(topic, 0, retained, b)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	return nil
}

func (m *MQTTOutput) Close() error {
	if m.client != nil {
		m.client.Disconnect(quiesceMillis)
	}
	return nil
}

// formatStateTopic expands %d to the channel. A fixed topic is shared by all
// channels; an empty one falls back to the per-channel default.
func formatStateTopic(base string, ch int) string {
	switch {
	case base == "":
		return fmt.Sprintf(defaultStateTopic, ch)
	case strings.Contains(base, "%d"):
		return fmt.Sprintf(base, ch)
	}
	return base
}
