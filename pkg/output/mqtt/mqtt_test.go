package mqtt

import (
	"encoding/json"
	"fmt"
	"math"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/ericogr/templog/pkg/config"
	"github.com/ericogr/templog/pkg/sensor"
	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const brokerAddr = "127.0.0.1:18830"

func startBroker(t *testing.T) string {
	t.Helper()
	server := mochi.New(nil)
	require.NoError(t, server.AddHook(new(auth.AllowHook), nil))
	require.NoError(t, server.AddListener(listeners.NewTCP(listeners.Config{
		Type:    "tcp",
		ID:      "t1",
		Address: brokerAddr,
	})))
	require.NoError(t, server.Serve())
	t.Cleanup(func() { _ = server.Close() })
	return "tcp://" + brokerAddr
}

type message struct {
	topic   string
	payload []byte
}

func subscribe(t *testing.T, server, filter string) <-chan message {
	t.Helper()
	msgs := make(chan message, 16)
	opts := paho.NewClientOptions().AddBroker(server).SetClientID("test-subscriber")
	client := paho.NewClient(opts)
	token := client.Connect()
	require.True(t, token.WaitTimeout(5*time.Second))
	require.NoError(t, token.Error())
	t.Cleanup(func() { client.Disconnect(100) })

	token = client.Subscribe(filter, 1, func(_ paho.Client, m paho.Message) {
		msgs <- message{topic: m.Topic(), payload: m.Payload()}
	})
	require.True(t, token.WaitTimeout(5*time.Second))
	require.NoError(t, token.Error())
	return msgs
}

func receive(t *testing.T, msgs <-chan message) message {
	t.Helper()
	select {
	case m := <-msgs:
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}
	return message{}
}

func TestPublishRound(t *testing.T) {
	server := startBroker(t)
	msgs := subscribe(t, server, "templog/#")

	out, err := NewMQTT(config.MQTTConfig{Server: server, ClientID: "templog-test"}, []int{1, 2}, nil)
	require.NoError(t, err)
	defer out.Close()

	ts := time.Date(2017, 11, 9, 14, 0, 0, 0, time.UTC)
	require.NoError(t, out.Publish(sensor.Round{Timestamp: ts, Readings: []sensor.Reading{
		{Channel: 1, Value: 21.5, Timestamp: ts},
		{Channel: 2, Value: math.NaN(), Missing: true, Timestamp: ts},
	}}))

	m := receive(t, msgs)
	assert.Equal(t, "templog/channel/1", m.topic)
	var got statePayload
	require.NoError(t, json.Unmarshal(m.payload, &got))
	assert.Equal(t, statePayload{Temperature: 21.5, Timestamp: "2017-11-09 14:00:00"}, got)

	select {
	case extra := <-msgs:
		t.Fatalf("missing channel was published: %s", extra.topic)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestDiscoveryPerChannel(t *testing.T) {
	server := startBroker(t)
	msgs := subscribe(t, server, "homeassistant/#")

	out, err := NewMQTT(config.MQTTConfig{
		Server:         server,
		ClientID:       "bench",
		StateTopic:     "lab/temp/%d",
		DiscoveryTopic: "homeassistant/sensor/bench_%d/config",
	}, []int{3, 4}, nil)
	require.NoError(t, err)
	defer out.Close()

	seen := map[string]discovery{}
	for i := 0; i < 2; i++ {
		m := receive(t, msgs)
		var doc discovery
		require.NoError(t, json.Unmarshal(m.payload, &doc))
		seen[m.topic] = doc
	}
	for _, ch := range []int{3, 4} {
		doc, ok := seen[fmt.Sprintf("homeassistant/sensor/bench_%d/config", ch)]
		require.True(t, ok, "channel %d discovery", ch)
		assert.Equal(t, fmt.Sprintf("lab/temp/%d", ch), doc.StateTopic)
		assert.Equal(t, "°C", doc.Unit)
		assert.Equal(t, "temperature", doc.DeviceClass)
		assert.Equal(t, fmt.Sprintf("bench_%d", ch), doc.UniqueID)
		assert.Equal(t, fmt.Sprintf("Temperature bench ch%d", ch), doc.Name)
	}
}

func TestConnectFailure(t *testing.T) {
	_, err := NewMQTT(config.MQTTConfig{Server: "tcp://127.0.0.1:1", ClientID: "nobody"}, []int{1}, nil)
	assert.Error(t, err)
}

func TestFormatStateTopic(t *testing.T) {
	assert.Equal(t, "templog/channel/7", formatStateTopic("", 7))
	assert.Equal(t, "lab/7/state", formatStateTopic("lab/%d/state", 7))
	assert.Equal(t, "lab/all", formatStateTopic("lab/all", 7))
}
